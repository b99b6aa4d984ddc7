package notify

import (
	"fmt"
	"net/http"
)

// ServeSSE handles GET /events: a long-lived server-sent-events stream of
// broadcast messages. The connection is held open with no timeout until
// the remote side disconnects.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	sub := h.Subscribe()
	defer h.Unsubscribe(sub)

	for {
		select {
		case payload, ok := <-sub.Events():
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
