// Package domain contains the durable record types shared by the roleplay
// core, the persistence gateway and the dispatch layer.
package domain

import (
	"strings"
	"time"
)

// Counter names usable in achievement predicates.
const (
	CounterTotalResponses = "total_responses"
	CounterSessionsPlayed = "sessions_played"
	CounterTotalMessages  = "total_messages"
)

// Profile holds the display fields a chat transport reports for a user.
type Profile struct {
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// DisplayName returns the friendliest available name for the profile.
func (p Profile) DisplayName() string {
	if p.FirstName != "" {
		return p.FirstName
	}
	if p.Username != "" {
		return "@" + strings.TrimPrefix(p.Username, "@")
	}
	return "player"
}

// Counters are the durable per-user tallies achievements are evaluated against.
type Counters struct {
	TotalResponses int64 `json:"total_responses"`
	SessionsPlayed int64 `json:"sessions_played"`
	TotalMessages  int64 `json:"total_messages"`
}

// Value returns the counter with the given name.
func (c Counters) Value(name string) (int64, bool) {
	switch name {
	case CounterTotalResponses:
		return c.TotalResponses, true
	case CounterSessionsPlayed:
		return c.SessionsPlayed, true
	case CounterTotalMessages:
		return c.TotalMessages, true
	default:
		return 0, false
	}
}

// IsValidCounter reports whether name refers to a known counter.
func IsValidCounter(name string) bool {
	_, ok := Counters{}.Value(name)
	return ok
}

// User is the durable record of a chat participant.
type User struct {
	UserID int64 `json:"user_id"`
	Profile
	Counters
	JoinedAt time.Time `json:"joined_at"`
}

// HasPlayed reports whether the user ever took part in a session or sent a response.
func (u *User) HasPlayed() bool {
	return u.TotalResponses > 0 || u.SessionsPlayed > 0
}

// RankedUser is a leaderboard row.
type RankedUser struct {
	User
	AchievementCount int `json:"achievements_count"`
}

// UnlockedAchievement records when a user earned an achievement.
type UnlockedAchievement struct {
	AchievementID string    `json:"achievement_id"`
	UnlockedAt    time.Time `json:"unlocked_at"`
}
