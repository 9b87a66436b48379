package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ErrStreamClosed is returned by writes to an EventWriter after Close.
var ErrStreamClosed = errors.New("event stream closed")

// EventWriter serializes Server-Sent Event frames onto a response. Writes
// after ctx ends fail with the context error.
type EventWriter struct {
	w      io.Writer
	f      http.Flusher
	mu     sync.Mutex
	ctx    context.Context
	closed bool
}

// NewEventWriter prepares w for streaming. It reports false if w cannot
// flush.
func NewEventWriter(ctx context.Context, w http.ResponseWriter) (*EventWriter, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &EventWriter{w: w, f: f, ctx: ctx}, true
}

// StartStream writes the event-stream headers and status.
func StartStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// Close stops all further writes. The handler that owns the response must
// call it before returning, since the ResponseWriter is invalid afterwards.
func (e *EventWriter) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// WriteEvent writes one frame and flushes it. Empty event and id fields are
// omitted.
func (e *EventWriter) WriteEvent(event, id string, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrStreamClosed
	}
	if err := e.ctx.Err(); err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(e.w, "event: %s\n", event); err != nil {
			return fmt.Errorf("failed to write SSE event type: %w", err)
		}
	}
	if id != "" {
		if _, err := fmt.Fprintf(e.w, "id: %s\n", id); err != nil {
			return fmt.Errorf("failed to write SSE event ID: %w", err)
		}
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write SSE payload: %w", err)
	}
	e.f.Flush()
	return nil
}

// WriteMessage encodes msg as JSON and writes it as one frame.
func (e *EventWriter) WriteMessage(event string, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode SSE message: %w", err)
	}
	return e.WriteEvent(event, "", b)
}

// Forward copies conn's notifications onto e until ctx ends, conn closes or
// a write fails.
func Forward(ctx context.Context, conn *Conn, e *EventWriter, event string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.Done():
			return nil
		case n := <-conn.Notifications():
			if err := e.WriteMessage(event, n); err != nil {
				return err
			}
		}
	}
}

// WriteJSONError emits a minimal transport-level error body:
// {"error":{"code":<status>,"message":"<reason>"}}.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	if ct := w.Header().Get("Content-Type"); ct == "" || ct == "application/json" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// WriteJSON writes v with status as an application/json body.
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
