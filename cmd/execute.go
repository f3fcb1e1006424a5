// Package cmd contains the application entry points: command routing, server
// wiring, and lifecycle management. main.go stays a minimal shim.
package cmd

import (
	"fmt"
	"os"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

// Execute routes the command line to the right entry point. With no
// arguments the HTTP API server starts; that is the only mode deployments
// use.
func Execute() error {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			printVersion()
			return nil
		case "help", "--help", "-h":
			printHelp()
			return nil
		case "serve":
			return runServe()
		default:
			printHelp()
			return fmt.Errorf("unknown command %q", os.Args[1])
		}
	}

	return runServe()
}

func printHelp() {
	fmt.Print(`mangoo - conversational AI backend

Usage:
  mangoo [command]

Commands:
  serve      Start the HTTP API server (default)
  version    Show version information
  help       Show this help

Environment:
  DATABASE_URL      PostgreSQL connection URL (overrides MANGOO_POSTGRES_*)
  GEMINI_API_KEY    API key for the hosted model provider
  MANGOO_*          See internal/config for the full list
`)
}
