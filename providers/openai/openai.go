// Package openai provides the OpenAI provider adapter. OpenAI defines the
// wire format the generic adapter speaks, so this package only pins the
// default endpoint and name.
package openai

import (
	"github.com/llmrelay/llmrelay/pkg/provider"
	"github.com/llmrelay/llmrelay/providers/openailike"
)

const (
	// ProviderName is the default identifier for this provider.
	ProviderName = "openai"

	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"
)

// NewFromConfig creates an OpenAI provider from configuration.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	if cfg.Name == "" {
		cfg.Name = ProviderName
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return openailike.New(cfg)
}
