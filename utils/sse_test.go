package utils

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/rag-gateway/services/events"
)

// nonFlusher hides httptest.ResponseRecorder's Flush method
type nonFlusher struct {
	http.ResponseWriter
}

func TestNewSSEWriter(t *testing.T) {
	t.Run("sets stream headers", func(t *testing.T) {
		w := httptest.NewRecorder()

		_, err := NewSSEWriter(w)
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
		assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
		assert.True(t, w.Flushed)
	})

	t.Run("requires a flusher", func(t *testing.T) {
		_, err := NewSSEWriter(nonFlusher{httptest.NewRecorder()})
		assert.ErrorIs(t, err, ErrStreamingUnsupported)
	})
}

func TestSSEWriter_Emit(t *testing.T) {
	w := httptest.NewRecorder()
	sse, err := NewSSEWriter(w)
	require.NoError(t, err)

	ctx := context.Background()
	sse.Emit(ctx, events.New(events.TypeThinking, "status", events.StatusStarted))
	sse.Emit(ctx, events.New(events.TypeSearch, "status", events.StatusComplete, "count", 2))
	require.NoError(t, sse.Err())

	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(w.Body.String()))
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	require.Len(t, lines, 2)

	var first events.Event
	require.True(t, strings.HasPrefix(lines[0], "data: "))
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[0], "data: ")), &first))
	assert.Equal(t, events.TypeThinking, first.Type)
	assert.Equal(t, "started", first.Data["status"])

	var second events.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &second))
	assert.Equal(t, events.TypeSearch, second.Type)
	assert.Equal(t, float64(2), second.Data["count"])
}

func TestSSEWriter_StopsAfterCancel(t *testing.T) {
	w := httptest.NewRecorder()
	sse, err := NewSSEWriter(w)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sse.Emit(ctx, events.New(events.TypeThinking))
	sse.Emit(context.Background(), events.New(events.TypeComplete))

	assert.ErrorIs(t, sse.Err(), context.Canceled)
	assert.Empty(t, w.Body.String())
}
