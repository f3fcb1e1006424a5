package cmd

import (
	"fmt"
	"os"
)

// printVersion prints build information and a masked view of the provider
// credential so operators can confirm the environment without leaking it.
func printVersion() {
	fmt.Printf("mangoo %s\n", AppVersion)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)

	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		fmt.Println("GEMINI_API_KEY: (not set)")
		return
	}
	if len(key) < 8 {
		fmt.Println("GEMINI_API_KEY: (configured)")
		return
	}
	fmt.Printf("GEMINI_API_KEY: %s...%s (configured)\n", key[:4], key[len(key)-4:])
}
