package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter sends Server-Sent Events to an http.ResponseWriter.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter prepares the response for event streaming. Returns nil if the
// ResponseWriter does not support http.Flusher.
func newSSEWriter(w http.ResponseWriter) *sseWriter {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher}
}

// SendData writes one event as a data: JSON line.
func (s *sseWriter) SendData(data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal SSE data: %w", err)
	}
	fmt.Fprintf(s.w, "data: %s\n\n", jsonData)
	s.flusher.Flush()
	return nil
}

// SendComment writes an SSE comment, used as a keep-alive heartbeat.
func (s *sseWriter) SendComment(text string) {
	fmt.Fprintf(s.w, ": %s\n\n", text)
	s.flusher.Flush()
}
