package llmrelay

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/llmrelay/llmrelay/pkg/errors"
	"github.com/llmrelay/llmrelay/pkg/provider"
	"github.com/llmrelay/llmrelay/pkg/types"
)

// StreamReader is a pull-based handle over a streaming chat completion.
// Recv returns chunks until io.EOF; Close cancels the upstream call and
// releases the connection. A mid-stream failure is surfaced directly, never
// retried, because already-delivered chunks cannot be unsent.
//
// StreamReader is not safe for concurrent Recv calls from multiple
// goroutines; Close may be called concurrently with Recv.
type StreamReader struct {
	router  *Router
	name    string
	handler provider.StreamHandler
	cancel  context.CancelFunc
	start   time.Time

	mu     sync.Mutex
	closed bool
	done   bool // terminal outcome recorded
}

// openStream performs a single stream-open attempt against the provider and
// records an open failure in circuit state and metrics. Success is recorded
// only when the stream later completes cleanly.
func (r *Router) openStream(ctx context.Context, prov provider.Provider, req *types.ChatRequest) (*StreamReader, error) {
	name := prov.Name()

	if err := r.admit(ctx, name); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	start := time.Now()

	handler, err := prov.ChatStream(ctx, req)
	if err != nil {
		cancel()
		ce := errors.Classify(name, err)
		r.recordFailure(name, ce)
		return nil, ce
	}

	return &StreamReader{
		router:  r,
		name:    name,
		handler: handler,
		cancel:  cancel,
		start:   start,
	}, nil
}

// Provider returns the name of the provider serving the stream.
func (s *StreamReader) Provider() string {
	return s.name
}

// Recv returns the next chunk. io.EOF marks clean completion; any other
// error is classified and terminal. The provider's metrics are updated once,
// at the terminal outcome.
func (s *StreamReader) Recv() (*types.StreamChunk, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, io.EOF
	}
	s.mu.Unlock()

	// Next is called outside the mutex so a concurrent Close can cancel a
	// blocked read.
	chunk, err := s.handler.Next()
	if err == nil {
		return chunk, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == io.EOF {
		if !s.done {
			s.done = true
			s.router.recordSuccess(s.name, time.Since(s.start))
		}
		return nil, io.EOF
	}

	ce := errors.Classify(s.name, err)
	if !s.done {
		s.done = true
		s.router.recordFailure(s.name, ce)
	}
	return nil, ce
}

// Close cancels the upstream request and releases the stream. Idempotent.
// Closing before io.EOF records neither success nor failure.
func (s *StreamReader) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	return s.handler.Close()
}
