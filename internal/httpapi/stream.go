package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"crewdesk.org/internal/authz"
)

// streamThread handles Server-Sent Events for one chat thread. The same view
// policy that guards the message list guards the live stream.
func (a *API) streamThread(w http.ResponseWriter, r *http.Request, key string) {
	if a.stream == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	if _, ok := a.authorize(w, r, authz.Thread(key), authz.ActionView); !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.stream.Subscribe(ctx, key)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}
