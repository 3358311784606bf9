// Package transport delivers chat traffic over WebSocket connections.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/rolecall/internal/dispatch"
	"github.com/coder/websocket"
)

// Frame types sent to clients.
const (
	FrameMessage = "message"
	FrameEdit    = "edit"
	FramePin     = "pin"
	FrameUnpin   = "unpin"
	FrameAnswer  = "answer"
	FrameLeave   = "leave"
	FramePong    = "pong"
	FrameError   = "error"
)

const defaultWriteTimeout = 5 * time.Second

// Frame is one outbound event.
type Frame struct {
	Type      string            `json:"type"`
	ChatID    int64             `json:"chat_id,omitempty"`
	MessageID int64             `json:"message_id,omitempty"`
	UserID    int64             `json:"user_id,omitempty"`
	Text      string            `json:"text,omitempty"`
	Buttons   []dispatch.Button `json:"buttons,omitempty"`
}

// Conn is the part of *websocket.Conn the hub writes to.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Client is one registered connection.
type Client struct {
	userID int64
	conn   Conn
}

// Hub tracks the connections of every chat and fans bot output out to them.
// It implements dispatch.Transport.
type Hub struct {
	mu    sync.RWMutex
	chats map[int64]map[*Client]struct{}

	lastID       atomic.Int64
	writeTimeout time.Duration
	log          *slog.Logger
}

var _ dispatch.Transport = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		chats:        make(map[int64]map[*Client]struct{}),
		writeTimeout: defaultWriteTimeout,
		log:          logger,
	}
}

// Register adds a connection for a user in a chat. The returned handle is
// passed to Unregister.
func (h *Hub) Register(chatID, userID int64, conn Conn) *Client {
	c := &Client{userID: userID, conn: conn}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.chats[chatID]; !ok {
		h.chats[chatID] = make(map[*Client]struct{})
	}
	h.chats[chatID][c] = struct{}{}
	h.log.Info("Chat connection registered", "chat_id", chatID, "user_id", userID)
	return c
}

// Unregister removes a connection previously returned by Register.
func (h *Hub) Unregister(chatID int64, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.chats[chatID]
	if !ok {
		return
	}
	if _, exists := clients[c]; exists {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.chats, chatID)
		}
		h.log.Info("Chat connection unregistered", "chat_id", chatID, "user_id", c.userID)
	}
}

// Connections returns the number of live connections in a chat.
func (h *Hub) Connections(chatID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.chats[chatID])
}

func (h *Hub) targets(chatID int64, userID int64) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0, len(h.chats[chatID]))
	for c := range h.chats[chatID] {
		if userID == 0 || c.userID == userID {
			out = append(out, c)
		}
	}
	return out
}

// deliver writes f to every matching connection. A failed write only drops
// that connection's copy.
func (h *Hub) deliver(ctx context.Context, f Frame, userID int64) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	for _, c := range h.targets(f.ChatID, userID) {
		writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
		if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
			h.log.Debug("WebSocket write error", "error", err, "chat_id", f.ChatID, "user_id", c.userID)
		}
		cancel()
	}
	return nil
}

// SendText posts a plain message.
func (h *Hub) SendText(ctx context.Context, chatID int64, text string) (int64, error) {
	id := h.lastID.Add(1)
	return id, h.deliver(ctx, Frame{Type: FrameMessage, ChatID: chatID, MessageID: id, Text: text}, 0)
}

// SendSelector posts a message carrying role buttons.
func (h *Hub) SendSelector(ctx context.Context, chatID int64, text string, buttons []dispatch.Button) (int64, error) {
	id := h.lastID.Add(1)
	return id, h.deliver(ctx, Frame{Type: FrameMessage, ChatID: chatID, MessageID: id, Text: text, Buttons: buttons}, 0)
}

// EditSelector replaces the text and buttons of an earlier message.
func (h *Hub) EditSelector(ctx context.Context, chatID, messageID int64, text string, buttons []dispatch.Button) error {
	return h.deliver(ctx, Frame{Type: FrameEdit, ChatID: chatID, MessageID: messageID, Text: text, Buttons: buttons}, 0)
}

// Pin marks a message as pinned.
func (h *Hub) Pin(ctx context.Context, chatID, messageID int64) error {
	return h.deliver(ctx, Frame{Type: FramePin, ChatID: chatID, MessageID: messageID}, 0)
}

// Unpin clears a pin.
func (h *Hub) Unpin(ctx context.Context, chatID, messageID int64) error {
	return h.deliver(ctx, Frame{Type: FrameUnpin, ChatID: chatID, MessageID: messageID}, 0)
}

// Answer sends a callback reply to the connections of one user only.
func (h *Hub) Answer(ctx context.Context, chatID, userID int64, text string) error {
	return h.deliver(ctx, Frame{Type: FrameAnswer, ChatID: chatID, UserID: userID, Text: text}, userID)
}

// Leave notifies a chat and closes all of its connections.
func (h *Hub) Leave(ctx context.Context, chatID int64) error {
	if err := h.deliver(ctx, Frame{Type: FrameLeave, ChatID: chatID}, 0); err != nil {
		return err
	}

	h.mu.Lock()
	clients := h.chats[chatID]
	delete(h.chats, chatID)
	h.mu.Unlock()

	for c := range clients {
		_ = c.conn.Close(websocket.StatusNormalClosure, "bot left chat")
	}
	h.log.Info("Left chat", "chat_id", chatID, "connections", len(clients))
	return nil
}

// CloseAll terminates every connection.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	chats := h.chats
	h.chats = make(map[int64]map[*Client]struct{})
	h.mu.Unlock()

	for _, clients := range chats {
		for c := range clients {
			_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
	}
}
