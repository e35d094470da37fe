package httpx

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/ariefcatur/resto-pos/internal/realtime"
	"github.com/go-chi/chi/v5"
	"net/http"
	"strings"
	"time"
)

// StreamHandler serves realtime topics as server-sent events. A client too
// slow to keep up is disconnected and is expected to reconnect and refetch.
type StreamHandler struct {
	Hub       *realtime.Hub
	Token     string // optional bearer token
	Heartbeat time.Duration
	Buffer    int
}

func (h *StreamHandler) Register(r chi.Router) {
	r.Get("/stream/{topic}", h.stream)
}

func (h *StreamHandler) authorized(r *http.Request) bool {
	if h.Token == "" {
		return true
	}
	got := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		got = strings.TrimPrefix(auth, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.Token)) == 1
}

func (h *StreamHandler) stream(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	if !pos.ValidTopic(topic) {
		writeError(w, http.StatusNotFound, codeUnknownTopic, "unknown topic "+topic)
		return
	}
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing or invalid token")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, codeStreamUnsupported, "streaming unsupported")
		return
	}

	sub := h.Hub.Subscribe(topic, h.Buffer)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, ": subscribed to %s\n\n", topic)
	flusher.Flush()

	beat := h.Heartbeat
	if beat <= 0 {
		beat = 15 * time.Second
	}
	ticker := time.NewTicker(beat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeEvent(w, msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, msg realtime.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", msg.EventID, msg.Kind, data)
	return err
}
