// ABOUTME: Server-Sent Events encoder that writes one "message" frame per call
// ABOUTME: Frames whose data is an empty string are dropped without touching the wire

package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// EventName is the SSE event field every frame carries.
const EventName = "message"

// Frame is a step frame: the engine event name and its payload.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Encoder serializes frames onto an open stream.
type Encoder struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

// NewEncoder returns an encoder writing to w. If w is an http.Flusher every
// frame is flushed after it is written.
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{w: w}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

// PrepareHeaders sets the response headers for an event stream.
func PrepareHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// SendEvent writes a step frame. It is a no-op when the frame's data is the
// empty string.
func (e *Encoder) SendEvent(frame Frame) error {
	if s, ok := frame.Data.(string); ok && len(s) == 0 {
		return nil
	}
	return e.Send(frame)
}

// Send writes any JSON-encodable value as a single frame.
func (e *Encoder) Send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling frame: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(payload) + 32)
	buf.WriteString("event: ")
	buf.WriteString(EventName)
	buf.WriteString("\ndata: ")
	buf.Write(payload)
	buf.WriteString("\n\n")

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
