// Package api provides HTTP handlers for the rolecall API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ashureev/rolecall/internal/catalog"
	"github.com/ashureev/rolecall/internal/dispatch"
	"github.com/ashureev/rolecall/internal/roleplay"
	"github.com/ashureev/rolecall/internal/store"
	"github.com/go-playground/validator/v10"
)

// EventHandler consumes inbound chat events.
type EventHandler interface {
	Handle(ctx context.Context, ev dispatch.Event) error
}

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	sessions *roleplay.Manager
	catalog  *catalog.Catalog
	events   EventHandler
	validate *validator.Validate
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, sessions *roleplay.Manager, cat *catalog.Catalog, events EventHandler) *Handler {
	return &Handler{
		repo:     repo,
		sessions: sessions,
		catalog:  cat,
		events:   events,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
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

// StatusFor maps core errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, roleplay.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, roleplay.ErrChatBusy),
		errors.Is(err, roleplay.ErrCharacterTaken),
		errors.Is(err, roleplay.ErrAlreadyJoined),
		errors.Is(err, roleplay.ErrNotWaiting):
		return http.StatusConflict
	case errors.Is(err, roleplay.ErrInsufficientPlayers):
		return http.StatusUnprocessableEntity
	case errors.Is(err, dispatch.ErrUnknownKind), errors.Is(err, store.ErrNegativeDelta):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
