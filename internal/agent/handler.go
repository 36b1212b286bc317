package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/agentdesk/internal/api"
	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/identity"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const maxBodySize = 1 << 20 // 1MB

// Handler serves the chat REST endpoints.
type Handler struct {
	svc     *Service
	emitter domain.Emitter
	limiter *RateLimiter
}

// NewHandler creates a chat REST handler.
func NewHandler(svc *Service, emitter domain.Emitter, limiter *RateLimiter) *Handler {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &Handler{svc: svc, emitter: emitter, limiter: limiter}
}

// RegisterRoutes mounts the chat endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.HandleChat)
	r.Get("/chat-history", h.HandleHistory)
	r.Get("/chat-status/{request_id}", h.HandleStatus)
	r.Post("/cancel-chat/{request_id}", h.HandleCancel)
	r.Post("/agent-progress-webhook", h.HandleProgressWebhook)
}

type chatRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// HandleChat runs one chat turn synchronously.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		api.Error(w, http.StatusBadRequest, "message is required")
		return
	}

	userID, sessionID := identity.FromRequest(r)
	if req.UserID != "" {
		userID = req.UserID
	}
	if req.SessionID != "" {
		sessionID = req.SessionID
	}
	if !identity.Valid(userID) || !identity.Valid(sessionID) {
		api.Error(w, http.StatusBadRequest, "invalid user_id or session_id")
		return
	}

	if !h.limiter.Allow(userID) {
		api.Error(w, http.StatusTooManyRequests, domain.ErrRateLimited.Error())
		return
	}

	slog.Info("Chat request",
		"user_id", userID,
		"session_id", sessionID,
		"request_id", req.RequestID,
		"http_request_id", chiMiddleware.GetReqID(r.Context()))

	out, err := h.svc.Chat(r.Context(), ChatInput{
		UserID:    userID,
		SessionID: sessionID,
		Message:   req.Message,
		RequestID: req.RequestID,
		Channel:   ChannelHTTP,
	})
	switch {
	case err == nil:
		api.JSON(w, http.StatusOK, out)
	case errors.Is(err, domain.ErrInvalidRequest):
		api.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrDuplicateRequest):
		api.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled):
		api.Error(w, http.StatusConflict, "request cancelled")
	default:
		slog.Error("Chat failed", "user_id", userID, "session_id", sessionID, "error", err)
		api.Error(w, http.StatusInternalServerError, "An error occurred: "+err.Error())
	}
}

// HandleHistory returns a session transcript.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID, sessionID := identity.FromRequest(r)
	view, err := h.svc.History(r.Context(), userID, sessionID)
	if err != nil {
		slog.Error("Failed to load history", "user_id", userID, "session_id", sessionID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	api.JSON(w, http.StatusOK, view)
}

// HandleStatus reports the state of a chat request.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "request_id")
	st, ok := h.svc.Status(id)
	if !ok {
		api.Error(w, http.StatusNotFound, "request not found")
		return
	}
	api.JSON(w, http.StatusOK, st)
}

// HandleCancel cancels a running chat request.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "request_id")
	st, ok := h.svc.Cancel(id)
	if !ok {
		api.Error(w, http.StatusNotFound, "request not found")
		return
	}
	api.JSON(w, http.StatusOK, st)
}

type progressRequest struct {
	Agent     string `json:"agent"`
	Message   string `json:"message"`
	Status    string `json:"status,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// HandleProgressWebhook relays an external progress update to every open
// connection.
func (h *Handler) HandleProgressWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var req progressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		api.Error(w, http.StatusBadRequest, "message is required")
		return
	}

	ev := domain.NewEvent(domain.EventAgentUpdate)
	ev.Agent = req.Agent
	ev.Message = req.Message
	ev.Status = req.Status
	ev.RequestID = req.RequestID
	n := h.emitter.Broadcast(ev)

	api.JSON(w, http.StatusOK, map[string]any{"status": "ok", "delivered": n})
}
