// Package roleplay owns the in-memory table of chat roleplay sessions and
// their Waiting -> Active -> removed lifecycle.
package roleplay

import (
	"time"

	"github.com/ashureev/rolecall/internal/domain"
)

// Status is the lifecycle state of a live session. Ended sessions are
// removed from the manager rather than kept with a third status.
type Status int

const (
	// StatusWaiting accepts joins until the join window closes or a moderator force-starts.
	StatusWaiting Status = iota + 1
	// StatusActive tallies in-character messages.
	StatusActive
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusActive:
		return "active"
	default:
		return "unknown"
	}
}

// MarshalText renders the status as its name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Participant is one user seated as one character.
type Participant struct {
	UserID       int64          `json:"user_id"`
	Character    string         `json:"character"`
	Profile      domain.Profile `json:"profile"`
	JoinedAt     time.Time      `json:"joined_at"`
	MessageCount int            `json:"message_count"`
}

// Session is a point-in-time copy of a live session. Mutating it has no
// effect on the manager.
type Session struct {
	ID             string        `json:"id"`
	ChatID         int64         `json:"chat_id"`
	CreatorID      int64         `json:"creator_id"`
	Theme          string        `json:"theme"`
	Mode           string        `json:"mode"`
	Status         Status        `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	Scenes         []string      `json:"scenes,omitempty"`
	SceneIndex     int           `json:"scene_index"`
	AnnouncementID int64         `json:"announcement_id,omitempty"`
	Participants   []Participant `json:"participants"`
}

// CurrentScene returns the scene at SceneIndex, or "" before the session starts.
func (s Session) CurrentScene() string {
	if s.SceneIndex < 0 || s.SceneIndex >= len(s.Scenes) {
		return ""
	}
	return s.Scenes[s.SceneIndex]
}

// Participant returns the participant for userID.
func (s Session) Participant(userID int64) (Participant, bool) {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// TakenCharacters returns the set of claimed characters.
func (s Session) TakenCharacters() map[string]bool {
	taken := make(map[string]bool, len(s.Participants))
	for _, p := range s.Participants {
		taken[p.Character] = true
	}
	return taken
}

// Summary is materialized when a session ends.
type Summary struct {
	SessionID     string        `json:"session_id"`
	ChatID        int64         `json:"chat_id"`
	Theme         string        `json:"theme"`
	Mode          string        `json:"mode"`
	WasActive     bool          `json:"was_active"`
	TotalPlayers  int           `json:"total_players"`
	TotalMessages int           `json:"total_messages"`
	TopPlayers    []Participant `json:"top_players"`
	Duration      time.Duration `json:"duration"`
}

// session is the mutable record guarded by Manager.mu.
type session struct {
	id             string
	chatID         int64
	creatorID      int64
	theme          string
	mode           string
	status         Status
	createdAt      time.Time
	scenes         []string
	sceneIndex     int
	announcementID int64
	participants   map[int64]*Participant
	order          []int64
}

func (s *session) holder(character string) (int64, bool) {
	for _, id := range s.order {
		if s.participants[id].Character == character {
			return id, true
		}
	}
	return 0, false
}

func (s *session) characters() []string {
	out := make([]string, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.participants[id].Character)
	}
	return out
}

func (s *session) inJoinOrder() []Participant {
	out := make([]Participant, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.participants[id])
	}
	return out
}

func (s *session) snapshot() Session {
	return Session{
		ID:             s.id,
		ChatID:         s.chatID,
		CreatorID:      s.creatorID,
		Theme:          s.theme,
		Mode:           s.mode,
		Status:         s.status,
		CreatedAt:      s.createdAt,
		Scenes:         append([]string(nil), s.scenes...),
		SceneIndex:     s.sceneIndex,
		AnnouncementID: s.announcementID,
		Participants:   s.inJoinOrder(),
	}
}
