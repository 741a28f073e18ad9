package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/upb/rag-gateway/services/events"
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush
var ErrStreamingUnsupported = errors.New("streaming unsupported")

// SSEWriter streams events as text/event-stream, one data line per event
type SSEWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	err     error
}

// NewSSEWriter writes the stream headers and returns a writer that
// satisfies events.Emitter
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Emit writes event and flushes. After the first write failure (usually a
// disconnected client) later events are dropped.
func (s *SSEWriter) Emit(ctx context.Context, event events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return
	}
	if err := ctx.Err(); err != nil {
		s.err = err
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.err = fmt.Errorf("failed to encode event: %w", err)
		return
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		s.err = err
		return
	}
	s.flusher.Flush()
}

// Err returns the first write failure, if any
func (s *SSEWriter) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

var _ events.Emitter = (*SSEWriter)(nil)
