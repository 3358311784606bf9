package domain

import "time"

// Moderator is a user allowed to open, force-start and stop sessions.
type Moderator struct {
	UserID          int64     `json:"user_id"`
	Username        string    `json:"username,omitempty"`
	FirstName       string    `json:"first_name,omitempty"`
	AddedBy         int64     `json:"added_by"`
	AddedByUsername string    `json:"added_by_username,omitempty"`
	AddedAt         time.Time `json:"added_at"`
}

// Chat is a group chat the bot has been activated in.
type Chat struct {
	ChatID  int64     `json:"chat_id"`
	Title   string    `json:"title"`
	Type    string    `json:"type"`
	AddedBy int64     `json:"added_by"`
	AddedAt time.Time `json:"added_at"`
}
