package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/llmrelay/llmrelay"
	"github.com/llmrelay/llmrelay/internal/httputil"
	llmerrors "github.com/llmrelay/llmrelay/pkg/errors"
)

// Server exposes the router over an OpenAI-compatible HTTP surface.
type Server struct {
	router *llmrelay.Router
	logger *slog.Logger

	maxBodyBytes int64
}

// NewServer wraps a router with HTTP handlers.
func NewServer(router *llmrelay.Router, logger *slog.Logger) *Server {
	return &Server{
		router:       router,
		logger:       logger,
		maxBodyBytes: httputil.DefaultMaxBodyBytes,
	}
}

// Routes registers all endpoints on a new mux.
func (s *Server) Routes(metricsPath string, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /admin/providers", s.handleProviders)
	mux.HandleFunc("POST /admin/providers/{name}/breaker/reset", s.handleBreakerReset)

	if metricsPath != "" && reg != nil {
		mux.Handle("GET "+metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.ReadLimitedBody(r.Body, s.maxBodyBytes)
	if err != nil {
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			s.writeError(w, llmerrors.NewValidationError("", "request body too large"))
			return
		}
		s.writeError(w, llmerrors.NewValidationError("", "failed to read request body"))
		return
	}

	var req llmrelay.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, llmerrors.NewValidationError("", "invalid request body: "+err.Error()))
		return
	}

	if req.Stream {
		s.streamChatCompletion(w, r, &req)
		return
	}

	resp, err := s.router.Chat(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) streamChatCompletion(w http.ResponseWriter, r *http.Request, req *llmrelay.ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, llmerrors.NewValidationError("", "streaming not supported by this connection"))
		return
	}

	stream, err := s.router.ChatStream(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer stream.Close() //nolint:errcheck

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Llmrelay-Provider", stream.Provider())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			io.WriteString(w, "data: [DONE]\n\n") //nolint:errcheck
			flusher.Flush()
			return
		}
		if err != nil {
			// Headers are already sent; surface the failure as a final
			// SSE event instead of a status code.
			s.writeStreamError(w, err)
			flusher.Flush()
			return
		}

		data, err := json.Marshal(chunk)
		if err != nil {
			s.logger.Error("chunk marshal failed", "error", err)
			return
		}
		io.WriteString(w, "data: ") //nolint:errcheck
		w.Write(data)               //nolint:errcheck
		io.WriteString(w, "\n\n")   //nolint:errcheck
		flusher.Flush()
	}
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.router.Models(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   models,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	health := s.router.Health(ctx)
	available := s.router.AvailableProviders()

	status := http.StatusOK
	if len(available) == 0 {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]any{
		"status":    httpStatusText(status),
		"available": available,
		"providers": health,
	})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.router.Metrics())
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.router.IsProviderAvailable(name) {
		if _, registered := s.router.Metrics()[name]; !registered {
			s.writeError(w, llmerrors.NewValidationError("", "unknown provider: "+name))
			return
		}
	}
	s.router.ResetCircuitBreaker(name)
	s.writeJSON(w, http.StatusOK, map[string]string{"provider": name, "circuit": "closed"})
}

// errorEnvelope is the OpenAI-style error response body.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message  string `json:"message"`
	Type     string `json:"type"`
	Code     string `json:"code,omitempty"`
	Provider string `json:"provider,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	ce := llmerrors.Classify("", err)
	s.logger.Warn("request failed", "kind", ce.Kind, "code", ce.Code, "provider", ce.Provider, "error", ce.Message)

	s.writeJSON(w, ce.HTTPStatusCode(), errorEnvelope{Error: errorBody{
		Message:  ce.Message,
		Type:     string(ce.Kind),
		Code:     ce.Code,
		Provider: ce.Provider,
	}})
}

func (s *Server) writeStreamError(w http.ResponseWriter, err error) {
	ce := llmerrors.Classify("", err)
	data, mErr := json.Marshal(errorEnvelope{Error: errorBody{
		Message:  ce.Message,
		Type:     string(ce.Kind),
		Provider: ce.Provider,
	}})
	if mErr != nil {
		return
	}
	io.WriteString(w, "data: ") //nolint:errcheck
	w.Write(data)               //nolint:errcheck
	io.WriteString(w, "\n\n")   //nolint:errcheck
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func httpStatusText(status int) string {
	if status == http.StatusOK {
		return "ok"
	}
	return "degraded"
}
