// Package sse implements the Server-Sent-Events framing the proxy speaks:
// "data: <payload>\n\n" frames, flushed one at a time, with the "[DONE]"
// sentinel terminating chat and legacy completion streams. One Writer serves
// exactly one request; Writers are never shared or reused.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Sentinel terminating chat/legacy completion streams.
const Done = "[DONE]"

// Writer frames and flushes SSE data events onto an http.ResponseWriter.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter sets the event-stream headers on w and returns a per-request
// Writer. Any propagated upstream headers must be set on w before the first
// Send, which commits the response status.
func NewWriter(w http.ResponseWriter) *Writer {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher}
}

// Send marshals v into one data frame and flushes it.
func (s *Writer) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	return s.SendRaw(data)
}

// SendRaw writes one pre-serialized data frame and flushes it.
func (s *Writer) SendRaw(data []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flush()
	return nil
}

// SendDone writes the [DONE] sentinel frame.
func (s *Writer) SendDone() error {
	return s.SendRaw([]byte(Done))
}

func (s *Writer) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
