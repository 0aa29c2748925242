// Package types defines core data structures for chat completion requests and
// responses. The shapes are OpenAI-compatible so that any OpenAI-style backend
// can consume them without translation.
package types

import "github.com/goccy/go-json"

// ChatRequest represents a chat completion request.
// It serves as the unified input format for all providers.
type ChatRequest struct {
	// Provider pins the request to a specific provider by name.
	// When empty, the router selects a provider from the model table
	// or the configured default.
	Provider string `json:"provider,omitempty"`

	Model            string          `json:"model"`
	Messages         []ChatMessage   `json:"messages"`
	Stream           bool            `json:"stream,omitempty"`
	MaxTokens        int             `json:"max_tokens,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	N                int             `json:"n,omitempty"`
	Stop             []string        `json:"stop,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	User             string          `json:"user,omitempty"`
	ResponseFormat   *ResponseFormat `json:"response_format,omitempty"`
}

// Clone returns a shallow copy of the request. The fallback chain rewrites
// the Provider field per candidate and must not mutate the caller's request.
func (r *ChatRequest) Clone() *ChatRequest {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// ChatMessage represents a single message in the conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// ResponseFormat specifies the output format for the model.
type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatResponse represents a chat completion response.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`

	// ServedBy is the name of the provider that produced the response.
	// Populated by the router, never sent on the wire to providers.
	ServedBy string `json:"served_by,omitempty"`
}

// Choice represents a single completion choice.
type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// Usage contains token usage statistics for the request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Marshal serializes v with the shared JSON codec.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal deserializes data with the shared JSON codec.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
