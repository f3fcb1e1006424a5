package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// MockEmbedder implements ai.Embedder with deterministic output: the same
// text always embeds to the same unit vector, different texts almost surely
// to different ones. Tests that need exact vectors set Fn.
type MockEmbedder struct {
	Dimension int                                  // embedding size (required)
	Err       error                                // when set, every Embed call fails with it
	Fn        func(text string) ([]float32, error) // optional override per text

	mu        sync.Mutex
	calls     int
	lastInput string
}

// Name implements ai.Embedder.
func (m *MockEmbedder) Name() string {
	return "testutil/mock-embedder"
}

// Register implements ai.Embedder. No-op for testing.
func (m *MockEmbedder) Register(api.Registry) {}

// Embed implements ai.Embedder.
func (m *MockEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var text string
	if len(req.Input) > 0 && len(req.Input[0].Content) > 0 {
		text = req.Input[0].Content[0].Text
	}

	m.mu.Lock()
	m.calls++
	m.lastInput = text
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}

	var embedding []float32
	if m.Fn != nil {
		var err error
		embedding, err = m.Fn(text)
		if err != nil {
			return nil, err
		}
	} else {
		embedding = deterministicVector(text, m.Dimension)
	}

	return &ai.EmbedResponse{
		Embeddings: []*ai.Embedding{{Embedding: embedding}},
	}, nil
}

// Calls returns how many times Embed was invoked.
func (m *MockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastInput returns the text of the most recent Embed call.
func (m *MockEmbedder) LastInput() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastInput
}

// deterministicVector maps text to a normalized pseudo-random vector seeded
// by the text's hash.
func deterministicVector(text string, dim int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	state := h.Sum64() | 1

	v := make([]float32, dim)
	var norm float64
	for i := range v {
		// xorshift64
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		f := float64(int64(state%2000)-1000) / 1000
		v[i] = float32(f)
		norm += f * f
	}

	norm = math.Sqrt(norm)
	if norm == 0 {
		v[0] = 1
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// UnitVector returns a dim-length unit vector pointing along the given axis.
// Handy for handcrafting known similarities in search tests.
func UnitVector(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}
