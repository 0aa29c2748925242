package openailike

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/goccy/go-json"

	"github.com/llmrelay/llmrelay/pkg/errors"
	"github.com/llmrelay/llmrelay/pkg/types"
)

// sseStream parses an OpenAI-style SSE response body into stream chunks.
type sseStream struct {
	provider string
	body     io.ReadCloser
	scanner  *bufio.Scanner

	mu     sync.Mutex
	closed bool
}

func newSSEStream(provider string, body io.ReadCloser) *sseStream {
	scanner := bufio.NewScanner(body)
	// Large chunks (tool calls, long deltas) exceed the default token size.
	scanner.Buffer(make([]byte, 4096), 1<<20)

	return &sseStream{
		provider: provider,
		body:     body,
		scanner:  scanner,
	}
}

// Next returns the next chunk, or io.EOF when the stream is complete.
func (s *sseStream) Next() (*types.StreamChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, io.EOF
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 || bytes.HasPrefix(line, []byte(":")) {
			continue
		}

		data, ok := bytes.CutPrefix(line, []byte("data: "))
		if !ok {
			continue
		}
		if bytes.Equal(data, []byte("[DONE]")) {
			s.closeLocked()
			return nil, io.EOF
		}

		var chunk types.StreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			s.closeLocked()
			return nil, errors.NewParsingError(s.provider, fmt.Sprintf("unmarshal chunk: %v", err))
		}
		return &chunk, nil
	}

	if err := s.scanner.Err(); err != nil {
		s.closeLocked()
		return nil, errors.Classify(s.provider, err)
	}

	s.closeLocked()
	return nil, io.EOF
}

// Close releases the underlying connection. Safe to call multiple times.
func (s *sseStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *sseStream) closeLocked() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
