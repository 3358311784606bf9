package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/rolecall/internal/dispatch"
	"github.com/ashureev/rolecall/internal/identity"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// EventHandler consumes inbound chat events.
type EventHandler interface {
	Handle(ctx context.Context, ev dispatch.Event) error
}

// inboundFrame is what a client sends.
type inboundFrame struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Caption   string `json:"caption,omitempty"`
	MessageID int64  `json:"message_id,omitempty"`
}

// WebSocketHandler serves /ws/chats/{chatID}. The chat user must already be
// in the request context (see identity.Middleware).
type WebSocketHandler struct {
	hub           *Hub
	events        EventHandler
	allowedOrigin string
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(hub *Hub, events EventHandler, allowedOrigin string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		events:        events,
		allowedOrigin: allowedOrigin,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	chatID, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
	if err != nil || chatID == 0 {
		http.Error(w, "invalid chat id", http.StatusBadRequest)
		return
	}
	user, ok := identity.FromContext(r.Context())
	if !ok {
		http.Error(w, "missing chat user", http.StatusUnauthorized)
		return
	}
	slog.Info("WebSocket connection request", "chat_id", chatID, "user_id", user.ID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", user.ID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "connection ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", user.ID)
		}
	}()

	client := h.hub.Register(chatID, user.ID, ws)
	defer h.hub.Unregister(chatID, client)

	chat := chatInfo{
		id:    chatID,
		kind:  r.URL.Query().Get("chat_type"),
		title: r.URL.Query().Get("chat_title"),
	}
	h.readLoop(r.Context(), ws, chat, user)
	slog.Info("Chat connection ended", "chat_id", chatID, "user_id", user.ID)
}

type chatInfo struct {
	id    int64
	kind  string
	title string
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, chat chatInfo, user identity.User) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed by client", "chat_id", chat.id, "user_id", user.ID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "chat_id", chat.id, "user_id", user.ID)
			}
			return
		}

		var in inboundFrame
		if err := json.Unmarshal(message, &in); err != nil {
			h.writeJSON(ctx, ws, Frame{Type: FrameError, ChatID: chat.id, Text: "invalid frame"})
			continue
		}

		if in.Type == "ping" {
			h.writeJSON(ctx, ws, Frame{Type: FramePong, ChatID: chat.id})
			continue
		}

		kind := dispatch.Kind(in.Type)
		switch kind {
		case dispatch.KindCommand, dispatch.KindCallback, dispatch.KindMessage:
		default:
			h.writeJSON(ctx, ws, Frame{Type: FrameError, ChatID: chat.id, Text: "unknown frame type"})
			continue
		}

		ev := dispatch.Event{
			Kind:      kind,
			ChatID:    chat.id,
			ChatType:  chat.kind,
			ChatTitle: chat.title,
			UserID:    user.ID,
			Profile:   user.Profile,
			Text:      in.Text,
			Caption:   in.Caption,
			MessageID: in.MessageID,
		}
		if err := h.events.Handle(ctx, ev); err != nil {
			h.writeJSON(ctx, ws, Frame{Type: FrameError, ChatID: chat.id, Text: "request failed"})
		}
	}
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("Failed to write frame", "error", err, "type", f.Type)
	}
}
