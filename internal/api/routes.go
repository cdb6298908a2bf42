package api

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Routes builds the pod's HTTP handler: the websocket endpoint and a health
// probe, behind the IP rate limiter.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/ws", h.HandleWebSocket)
	return RateLimitMiddleware(h.cfg.Server.RateLimit, h.cfg.Server.RateLimitWindow)(mux)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"pod":      h.cfg.World.PodID,
		"sessions": h.registry.Len(),
	})
	if err != nil {
		logrus.WithError(err).Debug("Failed to write health response")
	}
}
