// Package provider defines the capability interface that all backend
// adapters implement. The router never inspects concrete provider types;
// it only sees this interface.
package provider

import (
	"context"
	"time"

	"github.com/llmrelay/llmrelay/pkg/types"
)

// Provider is the contract every backend adapter fulfills.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// Chat sends a chat completion request and returns the full response.
	Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error)

	// ChatStream sends a streaming chat completion request. The returned
	// handler yields chunks until io.EOF. Canceling ctx terminates the
	// underlying call and the stream.
	ChatStream(ctx context.Context, req *types.ChatRequest) (StreamHandler, error)

	// Models returns the models this provider advertises.
	Models(ctx context.Context) ([]types.Model, error)

	// Health probes the provider and reports its availability.
	Health(ctx context.Context) (*types.Health, error)
}

// StreamHandler is a pull-based stream of response chunks.
type StreamHandler interface {
	// Next returns the next chunk, or io.EOF when the stream is complete.
	Next() (*types.StreamChunk, error)

	// Close releases resources associated with the stream. Safe to call
	// multiple times.
	Close() error
}

// Config contains provider-specific configuration.
type Config struct {
	// Name is the registry key for this provider instance.
	Name string `yaml:"name" json:"name"`
	// Type selects the adapter implementation ("openai", "anthropic", ...).
	Type string `yaml:"type" json:"type"`

	APIKey  string            `yaml:"api_key" json:"api_key"`
	BaseURL string            `yaml:"base_url" json:"base_url"`
	Models  []string          `yaml:"models" json:"models"`
	Timeout time.Duration     `yaml:"timeout" json:"timeout"`
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// Factory creates provider instances from configuration.
type Factory func(cfg Config) (Provider, error)
