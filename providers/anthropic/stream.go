package anthropic

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

// eventStream parses Anthropic's SSE event stream into unified chunks.
// Only content deltas and the final usage carry information the unified
// shape can express; other event types are skipped.
type eventStream struct {
	provider string
	body     io.ReadCloser
	scanner  *bufio.Scanner

	mu     sync.Mutex
	closed bool

	id    string
	model string
}

func newEventStream(provider string, body io.ReadCloser) *eventStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 4096), 1<<20)

	return &eventStream{
		provider: provider,
		body:     body,
		scanner:  scanner,
	}
}

type streamEvent struct {
	Type    string `json:"type"`
	Message struct {
		ID    string `json:"id"`
		Model string `json:"model"`
		Role  string `json:"role"`
	} `json:"message"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Next returns the next chunk, or io.EOF when the stream is complete.
func (s *eventStream) Next() (*types.StreamChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, io.EOF
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		data, ok := bytes.CutPrefix(line, []byte("data: "))
		if !ok {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal(data, &event); err != nil {
			s.closeLocked()
			return nil, errors.NewParsingError(s.provider, fmt.Sprintf("unmarshal event: %v", err))
		}

		switch event.Type {
		case "message_start":
			s.id = event.Message.ID
			s.model = event.Message.Model
			return &types.StreamChunk{
				ID:      s.id,
				Object:  "chat.completion.chunk",
				Model:   s.model,
				Choices: []types.StreamChoice{{Delta: types.StreamDelta{Role: "assistant"}}},
			}, nil

		case "content_block_delta":
			if event.Delta.Type != "text_delta" || event.Delta.Text == "" {
				continue
			}
			return &types.StreamChunk{
				ID:      s.id,
				Object:  "chat.completion.chunk",
				Model:   s.model,
				Choices: []types.StreamChoice{{Delta: types.StreamDelta{Content: event.Delta.Text}}},
			}, nil

		case "message_delta":
			if event.Delta.StopReason == "" {
				continue
			}
			return &types.StreamChunk{
				ID:      s.id,
				Object:  "chat.completion.chunk",
				Model:   s.model,
				Choices: []types.StreamChoice{{FinishReason: mapStopReason(event.Delta.StopReason)}},
			}, nil

		case "message_stop":
			s.closeLocked()
			return nil, io.EOF

		case "error":
			s.closeLocked()
			return nil, errors.NewServerError(s.provider, "stream error event", 500)
		}
	}

	if err := s.scanner.Err(); err != nil {
		s.closeLocked()
		return nil, errors.Classify(s.provider, err)
	}

	s.closeLocked()
	return nil, io.EOF
}

// Close releases the underlying connection. Safe to call multiple times.
func (s *eventStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *eventStream) closeLocked() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
