package roleplay

import (
	"errors"
	"fmt"
)

// Expected, recoverable outcomes reported back to the caller.
var (
	ErrChatBusy            = errors.New("a roleplay session is already open in this chat")
	ErrSessionNotFound     = errors.New("session not found")
	ErrAlreadyJoined       = errors.New("user already joined this session")
	ErrCharacterTaken      = errors.New("character is already taken")
	ErrInsufficientPlayers = errors.New("not enough players")
	ErrNotWaiting          = errors.New("session is no longer waiting for players")
)

// InsufficientPlayersError carries the counts behind ErrInsufficientPlayers.
type InsufficientPlayersError struct {
	Have int
	Need int
}

func (e *InsufficientPlayersError) Error() string {
	return fmt.Sprintf("not enough players: have %d, need %d", e.Have, e.Need)
}

// Is makes errors.Is(err, ErrInsufficientPlayers) hold.
func (e *InsufficientPlayersError) Is(target error) bool {
	return target == ErrInsufficientPlayers
}
