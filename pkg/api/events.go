package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type statusEvent struct {
	Status    string    `json:"status"`
	LastError string    `json:"last_error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// handleEvents streams status changes as server-sent events, starting with
// the current status.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	updates := s.session.Watch(r.Context())

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case st, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(statusEvent{
				Status:    st.String(),
				LastError: s.session.LastError(),
				Timestamp: time.Now().UTC(),
			})
			if err != nil {
				s.logger.Errorf("Failed to encode status event: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return

		case <-s.ctx.Done():
			return
		}
	}
}
