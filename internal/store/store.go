// Package store provides the persistence gateway and its implementations.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/rolecall/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrNegativeDelta is returned when a counter increment would decrease a counter.
var ErrNegativeDelta = errors.New("counter deltas must not be negative")

// Gateway is the durable state the roleplay core reads and increments.
type Gateway interface {
	// UpsertUser creates the user record or refreshes its profile fields.
	UpsertUser(ctx context.Context, userID int64, profile domain.Profile) error

	// IncrementUserCounters adds delta to the user's counters, creating the
	// record when it is missing.
	IncrementUserCounters(ctx context.Context, userID int64, delta domain.Counters) error

	// GetUserCounters returns ErrNotFound for unknown users.
	GetUserCounters(ctx context.Context, userID int64) (domain.Counters, error)

	// HasAchievement reports whether the achievement is already unlocked.
	HasAchievement(ctx context.Context, userID int64, achievementID string) (bool, error)

	// UnlockAchievement records the unlock and reports whether it was new.
	// Repeated calls for the same pair return false.
	UnlockAchievement(ctx context.Context, userID int64, achievementID string) (bool, error)
}

// Repository is the full persistence surface used by the dispatch layer,
// the HTTP API and the admin CLI.
type Repository interface {
	Gateway

	// GetUser returns nil without error when the user does not exist.
	GetUser(ctx context.Context, userID int64) (*domain.User, error)

	// FindUserByUsername matches with or without a leading "@", case-insensitively.
	FindUserByUsername(ctx context.Context, username string) (*domain.User, error)

	// ListAchievements returns unlocks newest first.
	ListAchievements(ctx context.Context, userID int64) ([]domain.UnlockedAchievement, error)

	// TopPlayers ranks users by responses, then sessions played.
	TopPlayers(ctx context.Context, limit int) ([]domain.RankedUser, error)

	AddModerator(ctx context.Context, m domain.Moderator) error
	RemoveModerator(ctx context.Context, userID int64) (bool, error)
	IsModerator(ctx context.Context, userID int64) (bool, error)
	ListModerators(ctx context.Context) ([]domain.Moderator, error)

	UpsertChat(ctx context.Context, chat domain.Chat) error
	ListChats(ctx context.Context) ([]domain.Chat, error)
	RemoveChat(ctx context.Context, chatID int64) (bool, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}

func validateDelta(delta domain.Counters) error {
	if delta.TotalResponses < 0 || delta.SessionsPlayed < 0 || delta.TotalMessages < 0 {
		return ErrNegativeDelta
	}
	return nil
}
