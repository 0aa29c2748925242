// Package httputil provides helpers for handling HTTP payloads safely.
package httputil

import (
	"errors"
	"io"
)

// DefaultMaxBodyBytes caps inbound request bodies to 10MB.
const DefaultMaxBodyBytes int64 = 10 * 1024 * 1024

var ErrBodyTooLarge = errors.New("request body too large")

// ReadLimitedBody reads up to maxBytes from reader and returns
// ErrBodyTooLarge when the payload exceeds the limit. A non-positive limit
// reads the whole body.
func ReadLimitedBody(reader io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(reader)
	}

	limited := io.LimitReader(reader, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return body, err
	}
	if int64(len(body)) > maxBytes {
		return body[:int(maxBytes)], ErrBodyTooLarge
	}
	return body, nil
}
