package llmrelay

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// recordingTracerProvider captures started span names without pulling in an
// SDK; spans themselves stay no-ops.
type recordingTracerProvider struct {
	noop.TracerProvider

	mu    sync.Mutex
	spans []string
}

func (p *recordingTracerProvider) Tracer(string, ...trace.TracerOption) trace.Tracer {
	return &recordingTracer{provider: p}
}

func (p *recordingTracerProvider) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.spans...)
}

type recordingTracer struct {
	noop.Tracer
	provider *recordingTracerProvider
}

func (t *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	t.provider.mu.Lock()
	t.provider.spans = append(t.provider.spans, name)
	t.provider.mu.Unlock()
	return t.Tracer.Start(ctx, name, opts...)
}

func TestRouter_SpansCoverChatAndStream(t *testing.T) {
	tp := &recordingTracerProvider{}
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	r := newTestRouter(t, WithProviderInstance("openai", newMock("openai")))

	_, err := r.Chat(context.Background(), userRequest())
	require.NoError(t, err)

	stream, err := r.ChatStream(context.Background(), userRequest())
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	assert.Contains(t, tp.names(), "llmrelay.chat")
	assert.Contains(t, tp.names(), "llmrelay.chat_stream")
}
