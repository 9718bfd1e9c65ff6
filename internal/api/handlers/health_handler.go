package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// StoreCounter is used as a cheap reachability probe.
type StoreCounter interface {
	Count(ctx context.Context) (int64, error)
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	store StoreCounter
}

// NewHealthHandler creates a new health handler. store may be nil.
func NewHealthHandler(store StoreCounter) *HealthHandler {
	return &HealthHandler{store: store}
}

const healthPingTimeout = 2 * time.Second

// Check handles GET /health.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()

		if _, err := h.store.Count(ctx); err != nil {
			slog.WarnContext(r.Context(), "health check: store unreachable", "error", err)
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)

			return
		}
	}

	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health check response", "error", err)
	}
}
