package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/agentdesk/internal/agent"
	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/identity"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxMessageSize = 1 << 20 // 1MB

// ChatService is what the endpoint needs from agent.Service.
type ChatService interface {
	Greeting(ctx context.Context, userID, sessionID, connectionID string) (bool, error)
	Dispatch(ctx context.Context, in agent.ChatInput)
	Disconnected(connectionID string)
}

// Handler serves /ws/{user_id}/{session_id}.
type Handler struct {
	baseCtx       context.Context
	mgr           *Manager
	svc           ChatService
	limiter       *agent.RateLimiter
	allowedOrigin string
	isDev         bool
}

// NewHandler creates the endpoint. Dispatched requests run on baseCtx so a
// disconnect does not abort them; cancelling baseCtx does.
func NewHandler(baseCtx context.Context, mgr *Manager, svc ChatService, limiter *agent.RateLimiter, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		baseCtx:       baseCtx,
		mgr:           mgr,
		svc:           svc,
		limiter:       limiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// RegisterRoutes mounts the endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{user_id}/{session_id}", h.ServeHTTP)
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	sessionID := chi.URLParam(r, "session_id")
	if !identity.Valid(userID) || !identity.Valid(sessionID) {
		http.Error(w, "invalid user or session id", http.StatusBadRequest)
		return
	}
	key := identity.ConnectionKey(userID, sessionID)
	slog.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	conn.SetReadLimit(maxMessageSize)
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "connection_id", key)
		}
	}()

	h.mgr.Register(key, conn)
	defer func() {
		if h.mgr.Unregister(key, conn) {
			h.svc.Disconnected(key)
		}
	}()

	ctx := r.Context()
	status := domain.NewEvent(domain.EventConnectionStatus)
	status.Status = "connected"
	status.Message = "Connected"
	h.reply(conn, key, status)

	if _, err := h.svc.Greeting(ctx, userID, sessionID, key); err != nil {
		slog.Error("Failed to greet session", "connection_id", key, "error", err)
	}

	h.readLoop(ctx, conn, userID, sessionID, key)
	slog.Info("WebSocket session ended", "connection_id", key)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, userID, sessionID, key string) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed by client", "connection_id", key)
				return
			}
			slog.Warn("WebSocket read error", "error", err, "connection_id", key)
			h.replyError(conn, key, "", "connection error")
			return
		}
		if typ != websocket.MessageText {
			h.replyError(conn, key, "", "only text frames are supported")
			continue
		}

		var msg domain.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.replyError(conn, key, "", "Invalid message format")
			continue
		}
		if strings.TrimSpace(msg.Message) == "" {
			h.replyError(conn, key, msg.RequestID, "message is required")
			continue
		}
		if msg.RequestID == "" {
			msg.RequestID = uuid.NewString()
		}
		if !h.limiter.Allow(userID) {
			slog.Warn("WebSocket rate limit exceeded", "user_id", userID)
			h.replyError(conn, key, msg.RequestID, "Rate limit exceeded. Please slow down.")
			continue
		}

		ack := domain.NewEvent(domain.EventAck)
		ack.RequestID = msg.RequestID
		ack.Message = "Message received"
		h.reply(conn, key, ack)

		go h.svc.Dispatch(h.baseCtx, agent.ChatInput{
			UserID:       userID,
			SessionID:    sessionID,
			Message:      msg.Message,
			RequestID:    msg.RequestID,
			ConnectionID: key,
			Channel:      agent.ChannelWS,
		})
	}
}

// reply writes to this socket even if a newer one replaced it in the manager.
func (h *Handler) reply(conn *websocket.Conn, key string, ev domain.Event) {
	if err := writeEvent(conn, ev, h.mgr.writeTimeout); err != nil {
		slog.Debug("WebSocket write failed", "connection_id", key, "type", ev.Type, "error", err)
	}
}

func (h *Handler) replyError(conn *websocket.Conn, key, requestID, message string) {
	ev := domain.NewEvent(domain.EventError)
	ev.RequestID = requestID
	ev.Message = message
	h.reply(conn, key, ev)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
