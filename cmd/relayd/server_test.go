package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmrelay/llmrelay"
	"github.com/llmrelay/llmrelay/pkg/provider"
	"github.com/llmrelay/llmrelay/pkg/types"
)

type stubProvider struct {
	name string
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Chat(_ context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	return &types.ChatResponse{
		ID:    "chatcmpl-1",
		Model: req.Model,
		Choices: []types.Choice{{
			Message:      types.ChatMessage{Role: "assistant", Content: "hi"},
			FinishReason: "stop",
		}},
	}, nil
}

func (s *stubProvider) ChatStream(context.Context, *types.ChatRequest) (provider.StreamHandler, error) {
	return &stubStream{chunks: []*types.StreamChunk{
		{ID: "s1", Choices: []types.StreamChoice{{Delta: types.StreamDelta{Content: "hel"}}}},
		{ID: "s1", Choices: []types.StreamChoice{{Delta: types.StreamDelta{Content: "lo"}}}},
	}}, nil
}

func (s *stubProvider) Models(context.Context) ([]types.Model, error) {
	return []types.Model{{ID: "stub-model", Object: "model", Provider: s.name}}, nil
}

func (s *stubProvider) Health(context.Context) (*types.Health, error) {
	return &types.Health{Status: types.HealthActive, Latency: time.Millisecond}, nil
}

type stubStream struct {
	chunks []*types.StreamChunk
	i      int
}

func (s *stubStream) Next() (*types.StreamChunk, error) {
	if s.i >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func (s *stubStream) Close() error { return nil }

func newTestServer(t *testing.T) (*Server, *prometheus.Registry) {
	t.Helper()

	reg := prometheus.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	router, err := llmrelay.New(
		llmrelay.WithProviderInstance("stub", &stubProvider{name: "stub"}),
		llmrelay.WithLogger(logger),
		llmrelay.WithMetricsRegisterer(reg),
	)
	require.NoError(t, err)
	require.NoError(t, router.Initialize(context.Background()))
	t.Cleanup(router.Shutdown)

	return NewServer(router, logger), reg
}

func TestServer_ChatCompletions(t *testing.T) {
	srv, reg := newTestServer(t)
	mux := srv.Routes("/metrics", reg)

	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hi", resp.Choices[0].Message.Content)
	assert.Equal(t, "stub", resp.ServedBy)
}

func TestServer_ChatCompletions_InvalidBody(t *testing.T) {
	srv, reg := newTestServer(t)
	mux := srv.Routes("", reg)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "validation", envelope.Error.Type)
}

func TestServer_ChatCompletions_MissingModel(t *testing.T) {
	srv, reg := newTestServer(t)
	mux := srv.Routes("", reg)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ChatCompletions_Streaming(t *testing.T) {
	srv, reg := newTestServer(t)
	mux := srv.Routes("", reg)

	body := `{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "stub", rec.Header().Get("X-Llmrelay-Provider"))

	payload := rec.Body.String()
	assert.Contains(t, payload, `"content":"hel"`)
	assert.Contains(t, payload, `"content":"lo"`)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(payload), "data: [DONE]"))
}

func TestServer_Models(t *testing.T) {
	srv, reg := newTestServer(t)
	mux := srv.Routes("", reg)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Object string        `json:"object"`
		Data   []types.Model `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "stub-model", list.Data[0].ID)
}

func TestServer_Healthz(t *testing.T) {
	srv, reg := newTestServer(t)
	mux := srv.Routes("", reg)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestServer_ProvidersAndBreakerReset(t *testing.T) {
	srv, reg := newTestServer(t)
	mux := srv.Routes("", reg)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/providers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"stub"`)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/providers/stub/breaker/reset", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/providers/ghost/breaker/reset", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	srv, reg := newTestServer(t)
	mux := srv.Routes("/metrics", reg)

	// Generate one request so a counter exists.
	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "llmrelay_requests_total")
}
