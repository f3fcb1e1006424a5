// Package llm wraps the Genkit runtime behind a small completion surface.
//
// The rest of the service never touches Genkit directly: the chat
// orchestrator streams completions through Client, and the knowledge engine
// receives the embedder as a plain ai.Embedder. Both are produced here at
// startup from a single Genkit instance.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"google.golang.org/genai"

	"github.com/mangoo-ai/mangoo/internal/config"
	"github.com/mangoo-ai/mangoo/internal/log"
)

// Message roles accepted in a completion history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prior conversation turn handed to the model.
type Message struct {
	Role    string
	Content string
}

// CompletionRequest describes a single streamed generation.
type CompletionRequest struct {
	// Model is the bare model name (e.g. "gemini-2.5-flash"); the provider
	// prefix is added here.
	Model string

	// System carries the bot persona plus any retrieved context block.
	System string

	// History is the prior turns, oldest first. The final user prompt goes
	// in Prompt, not History.
	History []Message

	Prompt string

	// Temperature in [0.0, 1.0].
	Temperature float32

	// MaxTokens caps the response length. Zero means provider default.
	MaxTokens int
}

// Client is the Genkit-backed completion provider.
//
// Client is safe for concurrent use.
type Client struct {
	g        *genkit.Genkit
	embedder ai.Embedder
	logger   log.Logger
}

// Config configures the provider.
type Config struct {
	// EmbedderModel names the embedding model (e.g. "gemini-embedding-001").
	EmbedderModel string

	Logger log.Logger
}

// New initializes Genkit with the Google AI plugin and resolves the
// embedder. Requires GEMINI_API_KEY in the environment.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.EmbedderModel == "" {
		return nil, errors.New("embedder model is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("resolving embedder %q", cfg.EmbedderModel)
	}

	logger.Info("llm provider ready", "embedder", cfg.EmbedderModel)
	return &Client{g: g, embedder: embedder, logger: logger}, nil
}

// Embedder returns the configured embedding model.
func (c *Client) Embedder() ai.Embedder { return c.embedder }

// Genkit exposes the underlying runtime for test helpers.
func (c *Client) Genkit() *genkit.Genkit { return c.g }

// StreamCompletion runs one generation, invoking onDelta for every text
// chunk as it arrives, and returns the full response text. An error from
// onDelta aborts the generation and is returned unchanged. A context
// cancellation surfaces as the context error.
func (c *Client) StreamCompletion(ctx context.Context, req CompletionRequest, onDelta func(string) error) (string, error) {
	if req.Prompt == "" {
		return "", errors.New("empty prompt")
	}

	messages := make([]*ai.Message, 0, len(req.History)+1)
	for _, m := range req.History {
		switch m.Role {
		case RoleUser:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(m.Content)))
		case RoleAssistant:
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(m.Content)))
		default:
			return "", fmt.Errorf("unknown history role %q", m.Role)
		}
	}
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(req.Prompt)))

	temperature := req.Temperature
	genCfg := &genai.GenerateContentConfig{
		Temperature: &temperature,
	}
	if req.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(config.FullModelName(req.Model)),
		ai.WithMessagesFn(func(_ context.Context, _ any) ([]*ai.Message, error) {
			return messages, nil
		}),
		ai.WithConfig(genCfg),
	}
	if req.System != "" {
		opts = append(opts, ai.WithSystem(req.System))
	}
	if onDelta != nil {
		opts = append(opts, ai.WithStreaming(func(_ context.Context, chunk *ai.ModelResponseChunk) error {
			text := chunk.Text()
			if text == "" {
				return nil
			}
			return onDelta(text)
		}))
	}

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("generating completion: %w", err)
	}

	return resp.Text(), nil
}
