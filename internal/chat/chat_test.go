package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/mangoo-ai/mangoo/internal/auth"
	"github.com/mangoo-ai/mangoo/internal/bot"
	"github.com/mangoo-ai/mangoo/internal/conversation"
	"github.com/mangoo-ai/mangoo/internal/knowledge"
	"github.com/mangoo-ai/mangoo/internal/llm"
	"github.com/mangoo-ai/mangoo/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeBots struct {
	bots map[uuid.UUID]bot.Bot
}

func (f *fakeBots) GetVisible(_ context.Context, id uuid.UUID, _ string) (bot.Bot, error) {
	b, ok := f.bots[id]
	if !ok {
		return bot.Bot{}, bot.ErrNotFound
	}
	return b, nil
}

type fakeTurns struct {
	mu        sync.Mutex
	appended  []conversation.Turn
	appendErr error
	recent    []conversation.Turn
	recentErr error
	purged    int64
}

func (f *fakeTurns) Append(_ context.Context, t conversation.Turn) (conversation.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return conversation.Turn{}, f.appendErr
	}
	t.ID = uuid.New()
	f.appended = append(f.appended, t)
	return t, nil
}

func (f *fakeTurns) List(_ context.Context, chatID string) ([]conversation.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []conversation.Turn
	for _, t := range f.appended {
		if t.ChatID == chatID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTurns) ListRecent(_ context.Context, _ string, _ int) ([]conversation.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recent, f.recentErr
}

func (f *fakeTurns) Purge(_ context.Context, _ string) (int64, error) {
	return f.purged, nil
}

func (f *fakeTurns) turns() []conversation.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]conversation.Turn(nil), f.appended...)
}

type fakeSearch struct {
	mu      sync.Mutex
	results []knowledge.Result
	err     error
	calls   int

	gotKB        string
	gotQuery     string
	gotTopK      int
	gotThreshold float64
}

func (f *fakeSearch) Search(_ context.Context, kbID, query string, topK int, threshold float64) ([]knowledge.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gotKB, f.gotQuery, f.gotTopK, f.gotThreshold = kbID, query, topK, threshold
	return f.results, f.err
}

func (f *fakeSearch) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// scriptedCompleter replays deltas through onDelta, optionally failing
// midway, and records the request it received.
type scriptedCompleter struct {
	mu        sync.Mutex
	deltas    []string
	failAfter int // fail after this many deltas; -1 never fails
	err       error
	gotReq    llm.CompletionRequest

	// onCall observes the request at call time, before any delta.
	onCall func()
}

func (f *scriptedCompleter) StreamCompletion(ctx context.Context, req llm.CompletionRequest, onDelta func(string) error) (string, error) {
	f.mu.Lock()
	f.gotReq = req
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall()
	}

	var sent strings.Builder
	for i, d := range f.deltas {
		if f.failAfter >= 0 && i == f.failAfter {
			return "", f.err
		}
		if err := onDelta(d); err != nil {
			return "", err
		}
		sent.WriteString(d)
	}
	if f.failAfter >= 0 && f.failAfter >= len(f.deltas) {
		return "", f.err
	}
	return sent.String(), nil
}

func (f *scriptedCompleter) request() llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gotReq
}

func testBot(ragEnabled bool, kb string) bot.Bot {
	return bot.Bot{
		ID:              uuid.New(),
		Name:            "helper",
		Instructions:    "You are a helpful assistant.",
		ModelID:         "gemini-2.5-flash",
		Temperature:     70,
		MaxTokens:       1024,
		RAGEnabled:      ragEnabled,
		KnowledgeBaseID: kb,
		IsActive:        true,
	}
}

func newTestOrchestrator(t *testing.T, b bot.Bot, turns *fakeTurns, search *fakeSearch, comp Completer) *Orchestrator {
	t.Helper()
	var s Searcher
	if search != nil {
		s = search
	}
	o, err := New(Config{
		Bots:         &fakeBots{bots: map[uuid.UUID]bot.Bot{b.ID: b}},
		Turns:        turns,
		Search:       s,
		Completer:    comp,
		TopK:         5,
		Threshold:    0.7,
		HistoryLimit: 20,
		Logger:       log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return o
}

// collect drains the stream into a slice.
func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func terminals(events []Event) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == EventDone || ev.Type == EventError {
			out = append(out, ev)
		}
	}
	return out
}

func TestStreamHappyPath(t *testing.T) {
	b := testBot(false, "")
	turns := &fakeTurns{}
	comp := &scriptedCompleter{deltas: []string{"Hello", ", ", "world"}, failAfter: -1}
	o := newTestOrchestrator(t, b, turns, nil, comp)

	events, err := o.Stream(context.Background(), Request{BotID: b.ID, Message: "hi"}, auth.Identity{Subject: "user-1"})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	got := collect(t, events)

	if got[0].Type != EventStart || got[0].ChatID == "" {
		t.Fatalf("first event = %+v, want start with chat id", got[0])
	}
	var content strings.Builder
	for _, ev := range got[1 : len(got)-1] {
		if ev.Type != EventContent {
			t.Fatalf("mid-stream event type %q, want content", ev.Type)
		}
		content.WriteString(ev.Content)
	}
	if content.String() != "Hello, world" {
		t.Errorf("streamed content = %q", content.String())
	}
	last := got[len(got)-1]
	if last.Type != EventDone || last.ChatID != got[0].ChatID {
		t.Fatalf("last event = %+v, want done with same chat id", last)
	}
	if n := len(terminals(got)); n != 1 {
		t.Errorf("got %d terminal events, want exactly 1", n)
	}

	stored := turns.turns()
	if len(stored) != 2 {
		t.Fatalf("persisted %d turns, want 2", len(stored))
	}
	if stored[0].Role != conversation.RoleUser || stored[0].Content != "hi" {
		t.Errorf("first turn = %+v, want the user message", stored[0])
	}
	if stored[1].Role != conversation.RoleAssistant || stored[1].Content != "Hello, world" {
		t.Errorf("second turn = %+v, want the full assistant reply", stored[1])
	}
	if stored[1].ContextUsed {
		t.Error("ContextUsed set without retrieval")
	}

	req := comp.request()
	if req.Model != b.ModelID || req.System != b.Instructions || req.Prompt != "hi" {
		t.Errorf("completion request = %+v", req)
	}
	if req.Temperature != 0.7 || req.MaxTokens != 1024 {
		t.Errorf("temperature/max_tokens = %g/%d, want 0.7/1024", req.Temperature, req.MaxTokens)
	}
}

func TestStreamUserTurnPersistedBeforeProviderCall(t *testing.T) {
	b := testBot(false, "")
	turns := &fakeTurns{}
	comp := &scriptedCompleter{deltas: []string{"ok"}, failAfter: -1}
	comp.onCall = func() {
		if len(turns.turns()) != 1 {
			t.Errorf("provider called with %d turns persisted, want the user turn first", len(turns.turns()))
		}
	}
	o := newTestOrchestrator(t, b, turns, nil, comp)

	events, err := o.Stream(context.Background(), Request{BotID: b.ID, Message: "hi"}, auth.Identity{Subject: "u"})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	collect(t, events)
}

func TestStreamWithRetrieval(t *testing.T) {
	b := testBot(true, "kb-1")
	turns := &fakeTurns{}
	search := &fakeSearch{results: []knowledge.Result{
		{Chunk: knowledge.Chunk{Content: "the sky is blue"}, Similarity: 0.93},
		{Chunk: knowledge.Chunk{Content: "grass is green"}, Similarity: 0.81},
	}}
	comp := &scriptedCompleter{deltas: []string{"Blue."}, failAfter: -1}
	o := newTestOrchestrator(t, b, turns, search, comp)

	events, err := o.Stream(context.Background(), Request{BotID: b.ID, Message: "sky color?", UseRAG: true}, auth.Identity{Subject: "u"})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	got := collect(t, events)

	if got[len(got)-1].Type != EventDone {
		t.Fatalf("terminal event = %+v, want done", got[len(got)-1])
	}
	if search.gotKB != "kb-1" || search.gotQuery != "sky color?" || search.gotTopK != 5 || search.gotThreshold != 0.7 {
		t.Errorf("search called with kb=%q query=%q topK=%d threshold=%g",
			search.gotKB, search.gotQuery, search.gotTopK, search.gotThreshold)
	}

	req := comp.request()
	if !strings.Contains(req.System, "the sky is blue") || !strings.Contains(req.System, "grass is green") {
		t.Errorf("system instructions missing retrieved context: %q", req.System)
	}
	if !strings.HasPrefix(req.System, b.Instructions) {
		t.Errorf("system instructions lost the bot persona: %q", req.System)
	}

	stored := turns.turns()
	if len(stored) != 2 || !stored[1].ContextUsed {
		t.Fatalf("assistant turn = %+v, want ContextUsed", stored)
	}
}

func TestStreamRetrievalGate(t *testing.T) {
	tests := []struct {
		name   string
		bot    bot.Bot
		useRAG bool
	}{
		{"bot has rag disabled", testBot(false, "kb-1"), true},
		{"request opts out", testBot(true, "kb-1"), false},
		{"no knowledge base", testBot(false, ""), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turns := &fakeTurns{}
			search := &fakeSearch{results: []knowledge.Result{{Chunk: knowledge.Chunk{Content: "ctx"}}}}
			comp := &scriptedCompleter{deltas: []string{"ok"}, failAfter: -1}
			o := newTestOrchestrator(t, tt.bot, turns, search, comp)

			events, err := o.Stream(context.Background(),
				Request{BotID: tt.bot.ID, Message: "q", UseRAG: tt.useRAG}, auth.Identity{Subject: "u"})
			if err != nil {
				t.Fatalf("Stream() error: %v", err)
			}
			collect(t, events)

			if search.callCount() != 0 {
				t.Errorf("search called %d times, want 0", search.callCount())
			}
			if comp.request().System != tt.bot.Instructions {
				t.Errorf("system instructions changed: %q", comp.request().System)
			}
		})
	}
}

func TestStreamDegradesWhenRetrievalUnavailable(t *testing.T) {
	b := testBot(true, "kb-1")
	turns := &fakeTurns{}
	search := &fakeSearch{err: knowledge.ErrRetrievalUnavailable}
	comp := &scriptedCompleter{deltas: []string{"answer"}, failAfter: -1}
	o := newTestOrchestrator(t, b, turns, search, comp)

	events, err := o.Stream(context.Background(), Request{BotID: b.ID, Message: "q", UseRAG: true}, auth.Identity{Subject: "u"})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	got := collect(t, events)

	if got[len(got)-1].Type != EventDone {
		t.Fatalf("terminal event = %+v, want done despite retrieval failure", got[len(got)-1])
	}
	stored := turns.turns()
	if len(stored) != 2 || stored[1].ContextUsed {
		t.Fatalf("turns = %+v, want assistant turn without ContextUsed", stored)
	}
	if comp.request().System != b.Instructions {
		t.Errorf("system instructions changed on degraded path: %q", comp.request().System)
	}
}

func TestStreamEmptyRetrievalResults(t *testing.T) {
	b := testBot(true, "kb-1")
	turns := &fakeTurns{}
	search := &fakeSearch{}
	comp := &scriptedCompleter{deltas: []string{"answer"}, failAfter: -1}
	o := newTestOrchestrator(t, b, turns, search, comp)

	events, err := o.Stream(context.Background(), Request{BotID: b.ID, Message: "q", UseRAG: true}, auth.Identity{Subject: "u"})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	collect(t, events)

	if search.callCount() != 1 {
		t.Fatalf("search called %d times, want 1", search.callCount())
	}
	if comp.request().System != b.Instructions {
		t.Errorf("empty results must not alter instructions: %q", comp.request().System)
	}
	if turns.turns()[1].ContextUsed {
		t.Error("ContextUsed set with no retrieved chunks")
	}
}

func TestStreamProviderFailureMidStream(t *testing.T) {
	b := testBot(false, "")
	turns := &fakeTurns{}
	comp := &scriptedCompleter{
		deltas:    []string{"partial ", "text ", "never sent"},
		failAfter: 2,
		err:       errors.New("upstream hiccup"),
	}
	o := newTestOrchestrator(t, b, turns, nil, comp)

	events, err := o.Stream(context.Background(), Request{BotID: b.ID, Message: "q"}, auth.Identity{Subject: "u"})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	got := collect(t, events)

	term := terminals(got)
	if len(term) != 1 || term[0].Type != EventError {
		t.Fatalf("terminals = %+v, want exactly one error event", term)
	}
	if term[0].Err == nil || !strings.Contains(term[0].Err.Error(), "upstream hiccup") {
		t.Errorf("error event = %v", term[0].Err)
	}

	stored := turns.turns()
	if len(stored) != 1 || stored[0].Role != conversation.RoleUser {
		t.Fatalf("turns = %+v, want only the user turn retained", stored)
	}
}

func TestStreamClientCancelDiscardsReply(t *testing.T) {
	b := testBot(false, "")
	turns := &fakeTurns{}

	firstDelta := make(chan struct{})
	comp := completerFunc(func(ctx context.Context, _ llm.CompletionRequest, onDelta func(string) error) (string, error) {
		if err := onDelta("partial"); err != nil {
			return "", err
		}
		close(firstDelta)
		<-ctx.Done()
		return "", ctx.Err()
	})
	o := newTestOrchestrator(t, b, turns, nil, comp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := o.Stream(ctx, Request{BotID: b.ID, Message: "q"}, auth.Identity{Subject: "u"})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}

	var got []Event
	for ev := range events {
		got = append(got, ev)
		if ev.Type == EventContent {
			<-firstDelta
			cancel()
		}
	}

	if len(terminals(got)) != 0 {
		t.Errorf("events after cancel = %+v, want no terminal event", got)
	}
	stored := turns.turns()
	if len(stored) != 1 || stored[0].Role != conversation.RoleUser {
		t.Fatalf("turns = %+v, want the user turn only, assistant discarded", stored)
	}
}

type completerFunc func(ctx context.Context, req llm.CompletionRequest, onDelta func(string) error) (string, error)

func (f completerFunc) StreamCompletion(ctx context.Context, req llm.CompletionRequest, onDelta func(string) error) (string, error) {
	return f(ctx, req, onDelta)
}

func TestStreamHistoryHandedToProvider(t *testing.T) {
	b := testBot(false, "")
	turns := &fakeTurns{recent: []conversation.Turn{
		{Role: conversation.RoleUser, Content: "earlier question"},
		{Role: conversation.RoleAssistant, Content: "earlier answer"},
	}}
	comp := &scriptedCompleter{deltas: []string{"ok"}, failAfter: -1}
	o := newTestOrchestrator(t, b, turns, nil, comp)

	events, err := o.Stream(context.Background(),
		Request{BotID: b.ID, Message: "followup", ChatID: "chat-1"}, auth.Identity{Subject: "u"})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	collect(t, events)

	req := comp.request()
	want := []llm.Message{
		{Role: llm.RoleUser, Content: "earlier question"},
		{Role: llm.RoleAssistant, Content: "earlier answer"},
	}
	if len(req.History) != len(want) {
		t.Fatalf("history length = %d, want %d", len(req.History), len(want))
	}
	for i := range want {
		if req.History[i] != want[i] {
			t.Errorf("history[%d] = %+v, want %+v", i, req.History[i], want[i])
		}
	}
	if req.Prompt != "followup" {
		t.Errorf("prompt = %q, the current message must not ride in history", req.Prompt)
	}
}

func TestStreamPreflightErrors(t *testing.T) {
	b := testBot(false, "")
	o := newTestOrchestrator(t, b, &fakeTurns{}, nil, &scriptedCompleter{failAfter: -1})

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"missing bot id", Request{Message: "q"}, ErrMissingBot},
		{"empty message", Request{BotID: b.ID, Message: "   "}, ErrEmptyMessage},
		{"unknown bot", Request{BotID: uuid.New(), Message: "q"}, bot.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := o.Stream(context.Background(), tt.req, auth.Identity{Subject: "u"})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Stream() error = %v, want %v", err, tt.wantErr)
			}
			if events != nil {
				t.Error("got a channel alongside a pre-flight error")
			}
		})
	}
}

func TestStreamGeneratesChatID(t *testing.T) {
	b := testBot(false, "")
	turns := &fakeTurns{}
	comp := &scriptedCompleter{deltas: []string{"ok"}, failAfter: -1}
	o := newTestOrchestrator(t, b, turns, nil, comp)

	events, err := o.Stream(context.Background(), Request{BotID: b.ID, Message: "q"}, auth.Identity{Subject: "u"})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	got := collect(t, events)

	chatID := got[0].ChatID
	if chatID == "" {
		t.Fatal("start event missing generated chat id")
	}
	for _, turn := range turns.turns() {
		if turn.ChatID != chatID {
			t.Errorf("turn chat id = %q, want %q", turn.ChatID, chatID)
		}
	}
}

func TestNewValidatesConfig(t *testing.T) {
	base := func() Config {
		return Config{
			Bots:         &fakeBots{},
			Turns:        &fakeTurns{},
			Completer:    &scriptedCompleter{failAfter: -1},
			TopK:         5,
			Threshold:    0.7,
			HistoryLimit: 20,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"nil bots", func(c *Config) { c.Bots = nil }},
		{"nil turns", func(c *Config) { c.Turns = nil }},
		{"nil completer", func(c *Config) { c.Completer = nil }},
		{"zero top_k", func(c *Config) { c.TopK = 0 }},
		{"threshold above 1", func(c *Config) { c.Threshold = 1.5 }},
		{"zero history limit", func(c *Config) { c.HistoryLimit = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Error("New() accepted an invalid config")
			}
		})
	}

	if _, err := New(base()); err != nil {
		t.Errorf("New() rejected a valid config: %v", err)
	}

	// A nil searcher is allowed; augmentation is simply off.
	cfg := base()
	cfg.Search = nil
	if _, err := New(cfg); err != nil {
		t.Errorf("New() rejected nil searcher: %v", err)
	}
}

func TestPurgeDelegates(t *testing.T) {
	b := testBot(false, "")
	turns := &fakeTurns{purged: 4}
	o := newTestOrchestrator(t, b, turns, nil, &scriptedCompleter{failAfter: -1})

	n, err := o.Purge(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("Purge() error: %v", err)
	}
	if n != 4 {
		t.Errorf("Purge() = %d, want 4", n)
	}
}

// Guards against the producer leaking when the consumer walks away without
// cancelling; draining with a timeout catches a stuck goroutine.
func TestStreamProducerExitsOnContextTimeout(t *testing.T) {
	b := testBot(false, "")
	turns := &fakeTurns{}
	comp := &scriptedCompleter{deltas: []string{"a", "b"}, failAfter: -1}
	o := newTestOrchestrator(t, b, turns, nil, comp)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	events, err := o.Stream(ctx, Request{BotID: b.ID, Message: "q"}, auth.Identity{Subject: "u"})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}

	// Consume nothing until the context has expired; the producer must give
	// up on its blocked send and close the channel.
	time.Sleep(100 * time.Millisecond)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("producer did not exit after context timeout")
		}
	}
}
