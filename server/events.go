package main

import (
	"bytes"
	"net/http"
	"time"
)

const sseHeartbeat = 25 * time.Second

// ServeSSE streams the relay frames of one board as Server-Sent Events. The
// stream is a listen-only room member.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, boardID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "stream unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// the server write timeout would cut long-lived streams
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	s := h.newSubscriber()
	h.Join(s, boardID)
	defer h.Drop(s)

	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg := <-s.send:
			_, _ = w.Write(sseFrame(msg))
			flusher.Flush()
		}
	}
}

// sseFrame encodes msg as one event, a data field per line, so clients
// rejoin it with newlines.
func sseFrame(msg []byte) []byte {
	var buf bytes.Buffer
	for _, line := range bytes.Split(msg, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(bytes.TrimSuffix(line, []byte("\r")))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}
