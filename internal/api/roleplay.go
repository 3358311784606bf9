package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/rolecall/internal/dispatch"
	"github.com/go-chi/chi/v5"
)

const (
	defaultTopLimit = 10
	maxTopLimit     = 100
	maxEventBytes   = 64 << 10
)

// RoleplayHandler serves the event intake and read-only roleplay views.
type RoleplayHandler struct {
	*Handler
}

// NewRoleplayHandler creates a new roleplay handler.
func NewRoleplayHandler(base *Handler) *RoleplayHandler {
	return &RoleplayHandler{Handler: base}
}

// RegisterRoutes registers the read-only routes. The events route is
// registered separately so it can sit behind token auth.
func (h *RoleplayHandler) RegisterRoutes(r chi.Router) {
	r.Get("/chats/{chatID}/session", h.GetChatSession)
	r.Get("/users/{userID}/stats", h.GetUserStats)
	r.Get("/users/{userID}/achievements", h.GetUserAchievements)
	r.Get("/top", h.GetTop)
}

// PostEvent accepts one chat event from a bot gateway.
func (h *RoleplayHandler) PostEvent(w http.ResponseWriter, r *http.Request) {
	var ev dispatch.Event
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.validate.Struct(ev); err != nil {
		JSON(w, http.StatusBadRequest, map[string]string{"error": "validation failed", "details": err.Error()})
		return
	}

	if err := h.events.Handle(r.Context(), ev); err != nil {
		status := StatusFor(err)
		slog.Error("Event handling failed", "error", err, "kind", ev.Kind, "chat_id", ev.ChatID, "status", status)
		Error(w, status, http.StatusText(status))
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// GetChatSession returns the live session of a chat.
func (h *RoleplayHandler) GetChatSession(w http.ResponseWriter, r *http.Request) {
	chatID, ok := idParam(w, r, "chatID")
	if !ok {
		return
	}
	s, found := h.sessions.GetSessionByChat(chatID)
	if !found {
		Error(w, http.StatusNotFound, "no session in this chat")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"session":       s,
		"current_scene": s.CurrentScene(),
	})
}

// GetUserStats returns a user's durable counters.
func (h *RoleplayHandler) GetUserStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := idParam(w, r, "userID")
	if !ok {
		return
	}
	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to load user", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	if user == nil {
		Error(w, http.StatusNotFound, "user not found")
		return
	}
	unlocked, err := h.repo.ListAchievements(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to load achievements", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load achievements")
		return
	}

	character, _ := h.catalog.AssignedCharacter(user.Profile)
	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":            user.UserID,
		"profile":            user.Profile,
		"character":          character,
		"total_responses":    user.TotalResponses,
		"sessions_played":    user.SessionsPlayed,
		"total_messages":     user.TotalMessages,
		"achievements_count": len(unlocked),
		"joined_at":          user.JoinedAt,
	})
}

type achievementView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	UnlockedAt  int64  `json:"unlocked_at"`
}

// GetUserAchievements lists a user's unlocks, newest first.
func (h *RoleplayHandler) GetUserAchievements(w http.ResponseWriter, r *http.Request) {
	userID, ok := idParam(w, r, "userID")
	if !ok {
		return
	}
	unlocked, err := h.repo.ListAchievements(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to load achievements", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load achievements")
		return
	}

	out := make([]achievementView, 0, len(unlocked))
	for _, u := range unlocked {
		v := achievementView{ID: u.AchievementID, UnlockedAt: u.UnlockedAt.Unix()}
		if a, ok := h.catalog.Achievement(u.AchievementID); ok {
			v.Name, v.Description = a.Name, a.Description
		}
		out = append(out, v)
	}
	JSON(w, http.StatusOK, map[string]interface{}{"achievements": out})
}

// GetTop returns the leaderboard.
func (h *RoleplayHandler) GetTop(w http.ResponseWriter, r *http.Request) {
	limit := defaultTopLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxTopLimit {
			Error(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}
	players, err := h.repo.TopPlayers(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to load top players", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load top players")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"players": players})
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}
