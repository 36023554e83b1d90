package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// QueueStats reports background queue depth.
type QueueStats interface {
	Stats() map[string]interface{}
}

// HealthHandler handles liveness and readiness endpoints.
type HealthHandler struct {
	*Handler
	queue QueueStats
}

// NewHealthHandler creates a health handler. queue may be nil.
func NewHealthHandler(base *Handler, queue QueueStats) *HealthHandler {
	return &HealthHandler{Handler: base, queue: queue}
}

// RegisterHealth registers public status routes.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/", h.Root)
	r.Get("/ready", h.Ready)
}

// Root reports that the service is up.
func (h *HealthHandler) Root(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"message": "AI Agent Backend is Running"})
}

// Ready reports whether the database is reachable.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	resp := map[string]interface{}{"status": "ok"}
	if h.queue != nil {
		resp["memory_queue"] = h.queue.Stats()
	}
	JSON(w, http.StatusOK, resp)
}
