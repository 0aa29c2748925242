// Package errors defines the unified error type that crosses the router
// boundary. Every provider-originated failure is normalized into a
// ClassifiedError before any routing logic inspects it.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Kind is the error taxonomy used for retry and fallback decisions.
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindRateLimit      Kind = "rate_limit"
	KindValidation     Kind = "validation"
	KindNetwork        Kind = "network"
	KindServerError    Kind = "server_error"
	KindParsing        Kind = "parsing"
	KindUnknown        Kind = "unknown"
	// KindRouter marks router-internal failures (no provider attached).
	KindRouter Kind = "router"
)

// Router-internal error codes. These are terminal from the caller's
// perspective: the caller must reconfigure or wait for a breaker reset.
const (
	CodeNoProvidersAvailable = "NO_PROVIDERS_AVAILABLE"
	CodeNoProviderAvailable  = "NO_PROVIDER_AVAILABLE"
	CodeAllFallbacksFailed   = "ALL_FALLBACKS_FAILED"
	CodeFallbackDisabled     = "FALLBACK_DISABLED"
	CodeNotInitialized       = "NOT_INITIALIZED"
)

// ClassifiedError is the only error type returned by the router.
// It carries enough structure for callers to distinguish "fix your request"
// from "wait and retry" from "try a different provider".
type ClassifiedError struct {
	Kind       Kind          `json:"kind"`
	Code       string        `json:"code,omitempty"`
	Message    string        `json:"message"`
	Provider   string        `json:"provider,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Retryable  bool          `json:"retryable"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`

	cause error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s (provider=%s)", e.Kind, e.Message, e.Provider)
	}
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s (%s)", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *ClassifiedError) Unwrap() error {
	return e.cause
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *ClassifiedError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	switch e.Kind {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindValidation:
		return http.StatusBadRequest
	case KindRouter:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind Kind, provider, message string, retryable bool) *ClassifiedError {
	return &ClassifiedError{
		Kind:      kind,
		Message:   message,
		Provider:  provider,
		Retryable: retryable,
		Timestamp: time.Now(),
	}
}

// NewAuthenticationError creates a non-retryable authentication error.
func NewAuthenticationError(provider, message string) *ClassifiedError {
	e := newError(KindAuthentication, provider, message, false)
	e.StatusCode = http.StatusUnauthorized
	return e
}

// NewAuthorizationError creates a non-retryable authorization error.
func NewAuthorizationError(provider, message string) *ClassifiedError {
	e := newError(KindAuthorization, provider, message, false)
	e.StatusCode = http.StatusForbidden
	return e
}

// NewRateLimitError creates a retryable rate limit error.
// retryAfter carries the provider's Retry-After hint when available.
func NewRateLimitError(provider, message string, retryAfter time.Duration) *ClassifiedError {
	e := newError(KindRateLimit, provider, message, true)
	e.StatusCode = http.StatusTooManyRequests
	e.RetryAfter = retryAfter
	return e
}

// NewValidationError creates a non-retryable validation error.
func NewValidationError(provider, message string) *ClassifiedError {
	e := newError(KindValidation, provider, message, false)
	e.StatusCode = http.StatusBadRequest
	return e
}

// NewNetworkError creates a retryable network error.
func NewNetworkError(provider, message string) *ClassifiedError {
	return newError(KindNetwork, provider, message, true)
}

// NewServerError creates a retryable upstream server error.
func NewServerError(provider, message string, statusCode int) *ClassifiedError {
	e := newError(KindServerError, provider, message, true)
	e.StatusCode = statusCode
	return e
}

// NewParsingError creates a non-retryable parsing error.
func NewParsingError(provider, message string) *ClassifiedError {
	return newError(KindParsing, provider, message, false)
}

// NewRouterError creates a router-internal error with the given code.
// Router-internal errors are never retryable.
func NewRouterError(code, message string) *ClassifiedError {
	e := newError(KindRouter, "", message, false)
	e.Code = code
	return e
}

// FromStatusCode maps an HTTP status code from a provider response to a
// classified error. Unrecognized codes become unknown and non-retryable.
func FromStatusCode(provider string, statusCode int, message string, retryAfter time.Duration) *ClassifiedError {
	switch {
	case statusCode == http.StatusUnauthorized:
		return NewAuthenticationError(provider, message)
	case statusCode == http.StatusForbidden:
		return NewAuthorizationError(provider, message)
	case statusCode == http.StatusTooManyRequests:
		return NewRateLimitError(provider, message, retryAfter)
	case statusCode == http.StatusBadRequest ||
		statusCode == http.StatusNotFound ||
		statusCode == http.StatusUnprocessableEntity:
		return NewValidationError(provider, message)
	case statusCode == http.StatusRequestTimeout:
		return NewNetworkError(provider, message)
	case statusCode >= 500:
		return NewServerError(provider, message, statusCode)
	default:
		e := newError(KindUnknown, provider, message, false)
		e.StatusCode = statusCode
		return e
	}
}

// Classify normalizes an arbitrary error from a provider call into a
// ClassifiedError. Already-classified errors pass through with the provider
// filled in; context and transport errors map to the network kind; anything
// unrecognized becomes unknown and non-retryable.
func Classify(provider string, err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		if ce.Provider == "" && provider != "" {
			// Copy before filling in the provider: the error may be a
			// shared sentinel used across concurrent requests.
			cp := *ce
			cp.Provider = provider
			return &cp
		}
		return ce
	}

	if errors.Is(err, context.DeadlineExceeded) {
		e := NewNetworkError(provider, "request deadline exceeded")
		e.cause = err
		return e
	}
	if errors.Is(err, context.Canceled) {
		e := newError(KindNetwork, provider, "request canceled", false)
		e.cause = err
		return e
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		e := NewNetworkError(provider, netErr.Error())
		e.cause = err
		return e
	}

	e := newError(KindUnknown, provider, err.Error(), false)
	e.cause = err
	return e
}

// IsRetryable reports whether err may succeed if attempted again.
// Transient kinds are retryable; an error may also mark itself retryable
// explicitly regardless of kind.
func IsRetryable(err error) bool {
	var ce *ClassifiedError
	if !errors.As(err, &ce) {
		return false
	}
	if ce.Retryable {
		return true
	}
	switch ce.Kind {
	case KindRateLimit, KindServerError, KindNetwork:
		return true
	default:
		return false
	}
}
