package anthropic

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmerrors "github.com/llmrelay/llmrelay/pkg/errors"
	"github.com/llmrelay/llmrelay/pkg/provider"
	"github.com/llmrelay/llmrelay/pkg/types"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(provider.Config{
		Name:    "claude",
		Type:    "anthropic",
		APIKey:  "sk-ant-test",
		BaseURL: srv.URL,
	})
	require.NoError(t, err)
	return p
}

func TestProvider_Chat_RequestShape(t *testing.T) {
	var got messagesRequest
	var gotHeaders http.Header

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		gotHeaders = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		io.WriteString(w, `{
			"id":"msg_1","model":"claude-sonnet-4-5","role":"assistant",
			"content":[{"type":"text","text":"hello "},{"type":"text","text":"there"}],
			"stop_reason":"end_turn",
			"usage":{"input_tokens":12,"output_tokens":5}
		}`) //nolint:errcheck
	})

	resp, err := p.Chat(context.Background(), &types.ChatRequest{
		Model: "claude-sonnet-4-5",
		Messages: []types.ChatMessage{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "sk-ant-test", gotHeaders.Get("x-api-key"))
	assert.Equal(t, apiVersion, gotHeaders.Get("anthropic-version"))

	// System turns are lifted into the top-level system field.
	assert.Equal(t, "be brief", got.System)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, defaultMaxTokens, got.MaxTokens, "max_tokens defaulted")

	// Content blocks are concatenated; usage and finish reason mapped.
	assert.Equal(t, "hello there", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 17, resp.Usage.TotalTokens)
}

func TestProvider_Chat_MapsErrors(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("retry-after", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"type":"rate_limit_error","message":"slow down"}}`) //nolint:errcheck
	})

	_, err := p.Chat(context.Background(), &types.ChatRequest{Model: "claude-sonnet-4-5"})
	require.Error(t, err)

	var ce *llmerrors.ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, llmerrors.KindRateLimit, ce.Kind)
	assert.Equal(t, "claude", ce.Provider)
	assert.Equal(t, "slow down", ce.Message)
	assert.NotZero(t, ce.RetryAfter)
}

func TestProvider_ChatStream(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		lines := []string{
			`event: message_start`,
			`data: {"type":"message_start","message":{"id":"msg_1","model":"claude-sonnet-4-5","role":"assistant"}}`,
			``,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"hel"}}`,
			``,
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}`,
			``,
			`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`,
			``,
			`data: {"type":"message_stop"}`,
			``,
		}
		for _, l := range lines {
			io.WriteString(w, l+"\n") //nolint:errcheck
		}
	})

	stream, err := p.ChatStream(context.Background(), &types.ChatRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []types.ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	defer stream.Close()

	var content, finish string
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.NotEmpty(t, chunk.Choices)
		assert.Equal(t, "msg_1", chunk.ID)
		content += chunk.Choices[0].Delta.Content
		if fr := chunk.Choices[0].FinishReason; fr != "" {
			finish = fr
		}
	}

	assert.Equal(t, "hello", content)
	assert.Equal(t, "stop", finish)
}

func TestProvider_Models_ConfiguredList(t *testing.T) {
	p, err := New(provider.Config{
		Name:   "claude",
		APIKey: "k",
		Models: []string{"claude-sonnet-4-5", "claude-haiku-4-5"},
	})
	require.NoError(t, err)

	models, err := p.Models(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "claude", models[0].Provider)
}

func TestProvider_Health(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		io.WriteString(w, `{"data":[{"id":"claude-sonnet-4-5"}]}`) //nolint:errcheck
	})

	h, err := p.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, h.OK())
}

func TestMapStopReason(t *testing.T) {
	assert.Equal(t, "stop", mapStopReason("end_turn"))
	assert.Equal(t, "stop", mapStopReason("stop_sequence"))
	assert.Equal(t, "length", mapStopReason("max_tokens"))
	assert.Equal(t, "tool_calls", mapStopReason("tool_use"))
	assert.Equal(t, "weird", mapStopReason("weird"))
}
