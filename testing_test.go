package llmrelay

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/llmrelay/llmrelay/pkg/provider"
	"github.com/llmrelay/llmrelay/pkg/types"
)

// mockProvider is an in-memory provider for router tests. Each Chat call
// consumes the next entry of script; a nil entry (or running past the end)
// succeeds.
type mockProvider struct {
	name string

	mu    sync.Mutex
	calls int

	script []error

	chatFn    func(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error)
	streamFn  func(ctx context.Context, req *types.ChatRequest) (provider.StreamHandler, error)
	healthErr error
}

func newMock(name string) *mockProvider {
	return &mockProvider{name: name}
}

func failingMock(name string, err error) *mockProvider {
	return &mockProvider{name: name, chatFn: func(context.Context, *types.ChatRequest) (*types.ChatResponse, error) {
		return nil, err
	}}
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) chatCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockProvider) Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	var scripted error
	if n <= len(m.script) {
		scripted = m.script[n-1]
	}
	m.mu.Unlock()

	if m.chatFn != nil {
		return m.chatFn(ctx, req)
	}
	if scripted != nil {
		return nil, scripted
	}
	return okResponse(m.name, req.Model), nil
}

func (m *mockProvider) ChatStream(ctx context.Context, req *types.ChatRequest) (provider.StreamHandler, error) {
	if m.streamFn != nil {
		return m.streamFn(ctx, req)
	}
	return &sliceStream{chunks: []*types.StreamChunk{
		{ID: "s1", Choices: []types.StreamChoice{{Delta: types.StreamDelta{Role: "assistant"}}}},
		{ID: "s1", Choices: []types.StreamChoice{{Delta: types.StreamDelta{Content: "hello"}}}},
	}}, nil
}

func (m *mockProvider) Models(ctx context.Context) ([]types.Model, error) {
	return []types.Model{{ID: m.name + "-model", Object: "model", Provider: m.name}}, nil
}

func (m *mockProvider) Health(ctx context.Context) (*types.Health, error) {
	if m.healthErr != nil {
		return &types.Health{Status: types.HealthError, Error: m.healthErr.Error()}, nil
	}
	return &types.Health{Status: types.HealthActive, Latency: time.Millisecond}, nil
}

// sliceStream yields a fixed chunk sequence, then errAfter (or io.EOF).
type sliceStream struct {
	chunks   []*types.StreamChunk
	errAfter error

	i      int
	closed bool
}

func (s *sliceStream) Next() (*types.StreamChunk, error) {
	if s.closed {
		return nil, io.EOF
	}
	if s.i < len(s.chunks) {
		c := s.chunks[s.i]
		s.i++
		return c, nil
	}
	if s.errAfter != nil {
		return nil, s.errAfter
	}
	return nil, io.EOF
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

func okResponse(servedBy, model string) *types.ChatResponse {
	return &types.ChatResponse{
		ID:      "chatcmpl-" + servedBy,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []types.Choice{{
			Message:      types.ChatMessage{Role: "assistant", Content: "ok"},
			FinishReason: "stop",
		}},
		Usage: &types.Usage{PromptTokens: 2, CompletionTokens: 1, TotalTokens: 3},
	}
}

func userRequest() *types.ChatRequest {
	return &types.ChatRequest{
		Model:    "gpt-4o",
		Messages: []types.ChatMessage{{Role: "user", Content: "hi"}},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRouter builds an initialized router with quiet defaults: one
// attempt, millisecond backoff, fallback off, isolated metrics registry.
// Later opts override the defaults.
func newTestRouter(t *testing.T, opts ...Option) *Router {
	t.Helper()

	base := []Option{
		WithLogger(discardLogger()),
		WithMetricsRegisterer(prometheus.NewRegistry()),
		WithRetryPolicy(RetryPolicy{
			MaxAttempts: 1,
			BaseDelay:   time.Millisecond,
			Multiplier:  2.0,
			MaxDelay:    5 * time.Millisecond,
		}),
		WithFallbackDisabled(),
	}

	r, err := New(append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, r.Initialize(context.Background()))
	t.Cleanup(r.Shutdown)
	return r
}
