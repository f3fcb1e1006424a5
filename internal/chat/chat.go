// Package chat orchestrates streamed conversations between a user, a bot
// configuration, and the completion provider.
//
// A conversation request moves through a fixed sequence: resolve the bot,
// persist the user turn, optionally augment the system instructions with
// retrieved knowledge, stream the completion, and persist the assistant turn
// once the stream ends cleanly. Failures after streaming begins surface as a
// single terminal error event; the user turn is never rolled back.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mangoo-ai/mangoo/internal/auth"
	"github.com/mangoo-ai/mangoo/internal/bot"
	"github.com/mangoo-ai/mangoo/internal/conversation"
	"github.com/mangoo-ai/mangoo/internal/knowledge"
	"github.com/mangoo-ai/mangoo/internal/llm"
	"github.com/mangoo-ai/mangoo/internal/log"
)

var (
	// ErrEmptyMessage indicates a request with no user message.
	ErrEmptyMessage = errors.New("empty message")

	// ErrMissingBot indicates a request without a bot id.
	ErrMissingBot = errors.New("bot id is required")
)

// EventType discriminates stream events.
type EventType string

// Stream event types. Exactly one terminal event (done or error) ends every
// stream.
const (
	EventStart   EventType = "start"
	EventContent EventType = "content"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Event is one item on a conversation stream.
type Event struct {
	Type    EventType
	ChatID  string // set on start and done
	Content string // set on content
	Err     error  // set on error
}

// Request asks for one streamed bot response.
type Request struct {
	BotID   uuid.UUID
	Message string

	// ChatID continues an existing conversation; empty starts a new one.
	ChatID string

	// UseRAG requests augmentation. It only narrows: retrieval also requires
	// the bot to have RAG enabled with a knowledge base configured.
	UseRAG bool
}

// BotGetter resolves bot configurations visible to the caller.
type BotGetter interface {
	GetVisible(ctx context.Context, id uuid.UUID, callerID string) (bot.Bot, error)
}

// TurnStore persists and reads conversation turns.
type TurnStore interface {
	Append(ctx context.Context, turn conversation.Turn) (conversation.Turn, error)
	List(ctx context.Context, chatID string) ([]conversation.Turn, error)
	ListRecent(ctx context.Context, chatID string, limit int) ([]conversation.Turn, error)
	Purge(ctx context.Context, chatID string) (int64, error)
}

// Searcher retrieves knowledge chunks for augmentation.
type Searcher interface {
	Search(ctx context.Context, kbID, query string, topK int, threshold float64) ([]knowledge.Result, error)
}

// Completer streams a model completion. Implemented by llm.Client.
type Completer interface {
	StreamCompletion(ctx context.Context, req llm.CompletionRequest, onDelta func(string) error) (string, error)
}

// Config assembles an Orchestrator.
type Config struct {
	Bots      BotGetter
	Turns     TurnStore
	Search    Searcher // nil disables augmentation entirely
	Completer Completer

	// Retrieval parameters applied when augmentation runs.
	TopK      int
	Threshold float64

	// HistoryLimit caps the prior turns handed to the model.
	HistoryLimit int

	Logger log.Logger
}

func (c Config) validate() error {
	if c.Bots == nil {
		return errors.New("bot getter is required")
	}
	if c.Turns == nil {
		return errors.New("turn store is required")
	}
	if c.Completer == nil {
		return errors.New("completer is required")
	}
	if c.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", c.TopK)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be in [0,1], got %g", c.Threshold)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("history limit must be positive, got %d", c.HistoryLimit)
	}
	return nil
}

// Orchestrator runs the conversation state machine.
//
// Safe for concurrent use; each Stream call is independent.
type Orchestrator struct {
	bots      BotGetter
	turns     TurnStore
	search    Searcher
	completer Completer

	topK         int
	threshold    float64
	historyLimit int

	logger log.Logger
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("chat orchestrator config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Orchestrator{
		bots:         cfg.Bots,
		turns:        cfg.Turns,
		search:       cfg.Search,
		completer:    cfg.Completer,
		topK:         cfg.TopK,
		threshold:    cfg.Threshold,
		historyLimit: cfg.HistoryLimit,
		logger:       logger,
	}, nil
}

// Stream validates the request, resolves the bot, and starts producing
// events. Pre-flight failures (unknown bot, bad input) return an error with
// no channel so the transport can map them to a status code. Once a channel
// is returned, every outcome arrives as events and the channel is closed
// after the single terminal event.
//
// The channel is unbuffered: the producer blocks until each event is
// consumed, so deltas reach the client in order and a cancelled context
// aborts the upstream call.
func (o *Orchestrator) Stream(ctx context.Context, req Request, id auth.Identity) (<-chan Event, error) {
	if req.BotID == uuid.Nil {
		return nil, ErrMissingBot
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	b, err := o.bots.GetVisible(ctx, req.BotID, id.Subject)
	if err != nil {
		return nil, fmt.Errorf("resolving bot %s: %w", req.BotID, err)
	}

	chatID := req.ChatID
	if chatID == "" {
		chatID = uuid.NewString()
	}

	events := make(chan Event)
	go o.run(ctx, events, b, req, id, chatID)
	return events, nil
}

// run produces the event stream. It owns the channel and always closes it.
func (o *Orchestrator) run(ctx context.Context, events chan<- Event, b bot.Bot, req Request, id auth.Identity, chatID string) {
	defer close(events)

	if !o.emit(ctx, events, Event{Type: EventStart, ChatID: chatID}) {
		return
	}

	// History is loaded before the user turn is appended so the prompt is
	// not duplicated in the model's context.
	history, err := o.turns.ListRecent(ctx, chatID, o.historyLimit)
	if err != nil {
		o.fail(ctx, events, chatID, fmt.Errorf("loading history: %w", err))
		return
	}

	if _, err := o.turns.Append(ctx, conversation.Turn{
		ChatID:  chatID,
		BotID:   b.ID,
		UserID:  id.Subject,
		Role:    conversation.RoleUser,
		Content: req.Message,
		ModelID: b.ModelID,
	}); err != nil {
		o.fail(ctx, events, chatID, fmt.Errorf("persisting user turn: %w", err))
		return
	}

	system, contextUsed := o.augment(ctx, b, req)

	var assembled strings.Builder
	onDelta := func(delta string) error {
		if !o.emit(ctx, events, Event{Type: EventContent, Content: delta}) {
			return ctx.Err()
		}
		assembled.WriteString(delta)
		return nil
	}

	final, err := o.completer.StreamCompletion(ctx, llm.CompletionRequest{
		Model:       b.ModelID,
		System:      system,
		History:     toMessages(history),
		Prompt:      req.Message,
		Temperature: b.TemperatureScaled(),
		MaxTokens:   b.MaxTokens,
	}, onDelta)
	if err != nil {
		// A cancelled client gets nothing; accumulated text is discarded.
		if ctx.Err() != nil {
			o.logger.Debug("stream aborted by client", "chat_id", chatID)
			return
		}
		o.fail(ctx, events, chatID, fmt.Errorf("completion failed: %w", err))
		return
	}
	if final == "" {
		final = assembled.String()
	}

	if _, err := o.turns.Append(ctx, conversation.Turn{
		ChatID:      chatID,
		BotID:       b.ID,
		UserID:      id.Subject,
		Role:        conversation.RoleAssistant,
		Content:     final,
		ModelID:     b.ModelID,
		ContextUsed: contextUsed,
	}); err != nil {
		o.fail(ctx, events, chatID, fmt.Errorf("persisting assistant turn: %w", err))
		return
	}

	o.emit(ctx, events, Event{Type: EventDone, ChatID: chatID})
}

// augment returns the system instructions for the request, extended with
// retrieved context when the bot, the request, and the retrieval engine all
// allow it. Retrieval failures degrade to the plain instructions; the user
// still gets an answer.
func (o *Orchestrator) augment(ctx context.Context, b bot.Bot, req Request) (system string, contextUsed bool) {
	system = b.Instructions

	if o.search == nil || !b.RAGEnabled || !req.UseRAG || b.KnowledgeBaseID == "" {
		return system, false
	}

	results, err := o.search.Search(ctx, b.KnowledgeBaseID, req.Message, o.topK, o.threshold)
	if err != nil {
		o.logger.Warn("retrieval unavailable, continuing without context",
			"knowledge_base", b.KnowledgeBaseID, "error", err)
		return system, false
	}
	if len(results) == 0 {
		return system, false
	}

	var sb strings.Builder
	sb.WriteString(system)
	sb.WriteString("\n\nUse the following retrieved context when it is relevant to the user's question:\n")
	for i, r := range results {
		fmt.Fprintf(&sb, "\n[%d] %s\n", i+1, r.Chunk.Content)
	}
	return sb.String(), true
}

// History returns all turns of a conversation, oldest first.
func (o *Orchestrator) History(ctx context.Context, chatID string) ([]conversation.Turn, error) {
	return o.turns.List(ctx, chatID)
}

// Purge deletes a conversation and reports how many turns were removed.
// Purging an unknown chat id removes nothing and is not an error.
func (o *Orchestrator) Purge(ctx context.Context, chatID string) (int64, error) {
	return o.turns.Purge(ctx, chatID)
}

// emit sends one event, honoring cancellation. Reports whether the event was
// delivered.
func (o *Orchestrator) emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// fail delivers the terminal error event unless the client is already gone.
func (o *Orchestrator) fail(ctx context.Context, events chan<- Event, chatID string, err error) {
	o.logger.Error("chat stream failed", "chat_id", chatID, "error", err)
	o.emit(ctx, events, Event{Type: EventError, ChatID: chatID, Err: err})
}

// toMessages converts stored turns to provider messages.
func toMessages(turns []conversation.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		role := llm.RoleUser
		if t.Role == conversation.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Content})
	}
	return msgs
}
