// Package openailike implements a generic adapter for OpenAI-compatible
// backends. Many hosted providers (Groq, DeepSeek, Together, Mistral, local
// vLLM/Ollama gateways) expose this wire format, so a single adapter with a
// configurable base URL covers them all.
package openailike

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"context"

	"github.com/goccy/go-json"

	"github.com/llmrelay/llmrelay/pkg/errors"
	"github.com/llmrelay/llmrelay/pkg/provider"
	"github.com/llmrelay/llmrelay/pkg/types"
)

const defaultTimeout = 30 * time.Second

// Provider is a chat adapter for any OpenAI-compatible API.
type Provider struct {
	name    string
	apiKey  string
	baseURL string
	models  []string
	headers map[string]string

	// client enforces a request timeout; streamClient must not, since a
	// stream legitimately outlives any fixed deadline. Both honor ctx.
	client       *http.Client
	streamClient *http.Client
}

// New creates an adapter from configuration. BaseURL is required.
func New(cfg provider.Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider %s: base_url is required", cfg.Name)
	}
	name := cfg.Name
	if name == "" {
		name = "openailike"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Provider{
		name:         name,
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
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

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, p.mapError(resp, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Classify(p.name, err)
	}

	var chatResp types.ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, errors.NewParsingError(p.name, fmt.Sprintf("unmarshal response: %v", err))
	}
	return &chatResp, nil
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

	return newSSEStream(p.name, resp.Body), nil
}

// Models implements provider.Provider. The configured model list takes
// precedence; without one the provider's /models endpoint is queried.
func (p *Provider) Models(ctx context.Context) ([]types.Model, error) {
	if len(p.models) > 0 {
		models := make([]types.Model, 0, len(p.models))
		for _, id := range p.models {
			models = append(models, types.Model{ID: id, Object: "model", Provider: p.name})
		}
		return models, nil
	}

	resp, err := p.get(ctx, "/models")
	if err != nil {
		return nil, errors.Classify(p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, p.mapError(resp, body)
	}

	var list struct {
		Data []types.Model `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, errors.NewParsingError(p.name, fmt.Sprintf("unmarshal models: %v", err))
	}
	for i := range list.Data {
		list.Data[i].Provider = p.name
	}
	return list.Data, nil
}

// Health implements provider.Provider by probing the models endpoint.
func (p *Provider) Health(ctx context.Context) (*types.Health, error) {
	start := time.Now()
	resp, err := p.get(ctx, "/models")
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
	// The routing fields must not reach the wire.
	wire := req.Clone()
	wire.Provider = ""
	wire.Stream = stream

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, errors.NewParsingError(p.name, fmt.Sprintf("marshal request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
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
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
}

// mapError converts an error response into a classified error, preserving
// the provider's message and Retry-After hint when present.
func (p *Provider) mapError(resp *http.Response, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	message := fmt.Sprintf("request failed with status %d", resp.StatusCode)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	return errors.FromStatusCode(p.name, resp.StatusCode, message, parseRetryAfter(resp.Header))
}

func parseRetryAfter(h http.Header) time.Duration {
	raw := h.Get("Retry-After")
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
