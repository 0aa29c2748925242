// Package llmrelay routes chat completion requests across multiple LLM
// providers with per-provider circuit breaking, bounded retry with
// exponential backoff, ordered fallback, and usage metrics.
//
// Basic usage:
//
//	router, err := llmrelay.New(
//		llmrelay.WithProvider(llmrelay.ProviderConfig{
//			Name: "openai", Type: "openai", APIKey: os.Getenv("OPENAI_API_KEY"),
//		}),
//		llmrelay.WithProvider(llmrelay.ProviderConfig{
//			Name: "claude", Type: "anthropic", APIKey: os.Getenv("ANTHROPIC_API_KEY"),
//		}),
//		llmrelay.WithDefaultProvider("openai"),
//		llmrelay.WithFallback("claude"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := router.Initialize(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer router.Shutdown()
//
//	resp, err := router.Chat(ctx, &llmrelay.ChatRequest{
//		Model:    "gpt-4o",
//		Messages: []llmrelay.ChatMessage{{Role: "user", Content: "hello"}},
//	})
package llmrelay

import (
	"github.com/llmrelay/llmrelay/internal/breaker"
	"github.com/llmrelay/llmrelay/pkg/errors"
	"github.com/llmrelay/llmrelay/pkg/provider"
	"github.com/llmrelay/llmrelay/pkg/types"
)

// Version is the library version.
const Version = "0.3.0"

// Core request/response types, re-exported so callers only import llmrelay.
type (
	ChatRequest  = types.ChatRequest
	ChatResponse = types.ChatResponse
	ChatMessage  = types.ChatMessage
	StreamChunk  = types.StreamChunk
	StreamChoice = types.StreamChoice
	StreamDelta  = types.StreamDelta
	Choice       = types.Choice
	Usage        = types.Usage
	Model        = types.Model
	Health       = types.Health

	Provider       = provider.Provider
	ProviderConfig = provider.Config
	StreamHandler  = provider.StreamHandler

	ClassifiedError = errors.ClassifiedError

	// ProviderMetrics is the per-provider usage and circuit snapshot
	// returned by Router.Metrics.
	ProviderMetrics = breaker.State
)

// Error kinds, re-exported for callers switching on ClassifiedError.Kind.
const (
	KindAuthentication = errors.KindAuthentication
	KindAuthorization  = errors.KindAuthorization
	KindRateLimit      = errors.KindRateLimit
	KindValidation     = errors.KindValidation
	KindNetwork        = errors.KindNetwork
	KindServerError    = errors.KindServerError
	KindParsing        = errors.KindParsing
	KindUnknown        = errors.KindUnknown
	KindRouter         = errors.KindRouter
)

// Router error codes.
const (
	CodeNoProvidersAvailable = errors.CodeNoProvidersAvailable
	CodeNoProviderAvailable  = errors.CodeNoProviderAvailable
	CodeAllFallbacksFailed   = errors.CodeAllFallbacksFailed
	CodeFallbackDisabled     = errors.CodeFallbackDisabled
	CodeNotInitialized       = errors.CodeNotInitialized
)

// IsRetryable reports whether err is a retryable classified error.
func IsRetryable(err error) bool {
	return errors.IsRetryable(err)
}
