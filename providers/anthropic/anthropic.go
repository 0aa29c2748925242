// Package anthropic provides the Anthropic Messages API adapter.
// It translates between the unified OpenAI-compatible request shape and
// Anthropic's native wire format.
package anthropic

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/llmrelay/llmrelay/pkg/errors"
	"github.com/llmrelay/llmrelay/pkg/provider"
	"github.com/llmrelay/llmrelay/pkg/types"
)

const (
	// ProviderName is the default identifier for this provider.
	ProviderName = "anthropic"

	// DefaultBaseURL is the default Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	apiVersion = "2023-06-01"

	// defaultMaxTokens applies when the request omits max_tokens, which
	// Anthropic requires.
	defaultMaxTokens = 4096

	defaultTimeout = 30 * time.Second
)

// Provider implements the Anthropic API adapter.
type Provider struct {
	name    string
	apiKey  string
	baseURL string
	models  []string
	headers map[string]string

	client       *http.Client
	streamClient *http.Client
}

// New creates an Anthropic adapter from configuration.
func New(cfg provider.Config) (*Provider, error) {
	name := cfg.Name
	if name == "" {
		name = ProviderName
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Provider{
		name:         name,
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		models:       cfg.Models,
		headers:      cfg.Headers,
		client:       &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
	}, nil
}

// NewFromConfig is the provider.Factory for this adapter.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	return New(cfg)
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// messagesRequest is Anthropic's native request shape.
type messagesRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []messagesTurn     `json:"messages"`
	Stream      bool               `json:"stream,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	Stop        []string           `json:"stop_sequences,omitempty"`
	Metadata    *messagesRequestMD `json:"metadata,omitempty"`
}

type messagesTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequestMD struct {
	UserID string `json:"user_id,omitempty"`
}

// messagesResponse is Anthropic's native response shape.
type messagesResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Chat implements provider.Provider.
func (p *Provider) Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	httpReq, err := p.buildRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errors.Classify(p.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Classify(p.name, err)
	}
	if resp.StatusCode >= 400 {
		return nil, p.mapError(resp, body)
	}

	var msgResp messagesResponse
	if err := json.Unmarshal(body, &msgResp); err != nil {
		return nil, errors.NewParsingError(p.name, fmt.Sprintf("unmarshal response: %v", err))
	}
	return p.toChatResponse(&msgResp), nil
}

// ChatStream implements provider.Provider.
func (p *Provider) ChatStream(ctx context.Context, req *types.ChatRequest) (provider.StreamHandler, error) {
	httpReq, err := p.buildRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}

	resp, err := p.streamClient.Do(httpReq)
	if err != nil {
		return nil, errors.Classify(p.name, err)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, p.mapError(resp, body)
	}

	return newEventStream(p.name, resp.Body), nil
}

// Models implements provider.Provider.
func (p *Provider) Models(ctx context.Context) ([]types.Model, error) {
	if len(p.models) > 0 {
		models := make([]types.Model, 0, len(p.models))
		for _, id := range p.models {
			models = append(models, types.Model{ID: id, Object: "model", Provider: p.name})
		}
		return models, nil
	}

	resp, err := p.get(ctx, "/v1/models")
	if err != nil {
		return nil, errors.Classify(p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, p.mapError(resp, body)
	}

	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, errors.NewParsingError(p.name, fmt.Sprintf("unmarshal models: %v", err))
	}

	models := make([]types.Model, 0, len(list.Data))
	for _, m := range list.Data {
		models = append(models, types.Model{ID: m.ID, Object: "model", Provider: p.name})
	}
	return models, nil
}

// Health implements provider.Provider by probing the models endpoint.
func (p *Provider) Health(ctx context.Context) (*types.Health, error) {
	start := time.Now()
	resp, err := p.get(ctx, "/v1/models")
	latency := time.Since(start)
	if err != nil {
		return &types.Health{Status: types.HealthError, Latency: latency, Error: err.Error()}, nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode >= 400 {
		return &types.Health{
			Status:  types.HealthError,
			Latency: latency,
			Error:   fmt.Sprintf("health probe returned %d", resp.StatusCode),
		}, nil
	}
	return &types.Health{Status: types.HealthActive, Latency: latency}, nil
}

func (p *Provider) buildRequest(ctx context.Context, req *types.ChatRequest, stream bool) (*http.Request, error) {
	native := messagesRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}
	if native.MaxTokens <= 0 {
		native.MaxTokens = defaultMaxTokens
	}
	if req.User != "" {
		native.Metadata = &messagesRequestMD{UserID: req.User}
	}

	// Anthropic takes the system prompt as a top-level field, not a turn.
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			if native.System != "" {
				native.System += "\n"
			}
			native.System += msg.Content
			continue
		}
		native.Messages = append(native.Messages, messagesTurn{Role: msg.Role, Content: msg.Content})
	}

	body, err := json.Marshal(native)
	if err != nil {
		return nil, errors.NewParsingError(p.name, fmt.Sprintf("marshal request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Classify(p.name, err)
	}
	p.setHeaders(httpReq)
	return httpReq, nil
}

func (p *Provider) get(ctx context.Context, path string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	p.setHeaders(httpReq)
	return p.client.Do(httpReq)
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
}

func (p *Provider) toChatResponse(msg *messagesResponse) *types.ChatResponse {
	var content strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &types.ChatResponse{
		ID:      msg.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   msg.Model,
		Choices: []types.Choice{{
			Index:        0,
			Message:      types.ChatMessage{Role: "assistant", Content: content.String()},
			FinishReason: mapStopReason(msg.StopReason),
		}},
		Usage: &types.Usage{
			PromptTokens:     msg.Usage.InputTokens,
			CompletionTokens: msg.Usage.OutputTokens,
			TotalTokens:      msg.Usage.InputTokens + msg.Usage.OutputTokens,
		},
	}
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

func (p *Provider) mapError(resp *http.Response, body []byte) error {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	message := fmt.Sprintf("request failed with status %d", resp.StatusCode)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	return errors.FromStatusCode(p.name, resp.StatusCode, message, parseRetryAfter(resp.Header))
}

func parseRetryAfter(h http.Header) time.Duration {
	raw := h.Get("retry-after")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(raw); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
