// Package api provides the JSON response helpers and health endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionCounter reports the number of open WebSocket connections.
type ConnectionCounter interface {
	Count() int
}

// Handler serves the health endpoints.
type Handler struct {
	db      Pinger
	conns   ConnectionCounter
	started time.Time
}

// NewHandler creates a health handler.
func NewHandler(db Pinger, conns ConnectionCounter) *Handler {
	return &Handler{db: db, conns: conns, started: time.Now()}
}

// RegisterRoutes mounts the health endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleRoot)
	r.Get("/health", h.HandleHealth)
	r.Get("/ws-health", h.HandleWSHealth)
}

// HandleRoot is a liveness probe.
func (h *Handler) HandleRoot(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "agentdesk"})
}

// HandleHealth checks the session store.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			JSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  "database unreachable",
			})
			return
		}
	}
	JSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// HandleWSHealth reports WebSocket connection counts.
func (h *Handler) HandleWSHealth(w http.ResponseWriter, _ *http.Request) {
	n := 0
	if h.conns != nil {
		n = h.conns.Count()
	}
	JSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"active_connections": n,
	})
}
