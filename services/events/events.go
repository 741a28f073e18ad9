// Package events carries progress notifications from the query pipeline
// to whatever transport the caller uses.
package events

import (
	"context"
	"sync"
)

// Event types
const (
	TypeThinking     = "thinking"
	TypeSearch       = "search"
	TypeVisualSearch = "visual_search"
	TypeAnswer       = "answer"
	TypeComplete     = "complete"
	TypeError        = "error"
)

// Status values carried in Data["status"]
const (
	StatusStarted  = "started"
	StatusComplete = "complete"
)

// Event is a single progress notification
type Event struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// IsTerminal reports whether the event ends a stream
func (e Event) IsTerminal() bool {
	return e.Type == TypeComplete || e.Type == TypeError
}

// Emitter receives pipeline events in order
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(ctx context.Context, event Event)

// Emit calls f
func (f EmitterFunc) Emit(ctx context.Context, event Event) {
	f(ctx, event)
}

// Discard drops every event
var Discard Emitter = EmitterFunc(func(context.Context, Event) {})

// Recorder keeps every emitted event
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit appends event
func (r *Recorder) Emit(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// Last returns the most recent event
func (r *Recorder) Last() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}, false
	}
	return r.events[len(r.events)-1], true
}

// New builds an event from key/value pairs
func New(eventType string, kv ...interface{}) Event {
	data := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		data[key] = kv[i+1]
	}
	return Event{Type: eventType, Data: data}
}
