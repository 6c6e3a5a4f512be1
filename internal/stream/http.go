package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// HTTPHandler serves the event stream as newline-delimited JSON.
// `?types=tick,state` limits the stream to the listed event types.
type HTTPHandler struct {
	broadcaster *Broadcaster[Event]
}

// NewHTTPHandler creates an HTTP event stream handler.
func NewHTTPHandler(b *Broadcaster[Event]) *HTTPHandler {
	return &HTTPHandler{broadcaster: b}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET required", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	filter := parseTypes(r.URL.Query().Get("types"))

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	slog.Info("event listener connected", "id", listener.ID, "total", h.broadcaster.ListenerCount())
	defer slog.Info("event listener disconnected", "id", listener.ID)

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-listener.Done():
			return
		case ev := <-listener.C:
			if filter != nil && !filter[ev.Type] {
				continue
			}
			if err := enc.Encode(ev); err != nil {
				slog.Debug("event write failed", "id", listener.ID, "err", err)
				return
			}
			flusher.Flush()
		}
	}
}

func parseTypes(s string) map[string]bool {
	if s == "" {
		return nil
	}
	out := make(map[string]bool)
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out[t] = true
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
