package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/rolecall/internal/domain"
	"github.com/ashureev/rolecall/internal/roleplay"
)

const (
	joinPrefix       = "join_"
	dataRoleTaken    = "role_taken"
	dataAllRoleTaken = "all_roles_taken"
	defaultMode      = "free"
)

func (d *Dispatcher) startRoleplay(ctx context.Context, ev Event, args string) error {
	if ev.IsPrivate() {
		d.reply(ctx, ev.ChatID, "Roleplay sessions can only run in group chats. Add me to a group first.")
		return nil
	}
	mod, err := d.isModerator(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if !mod {
		d.reply(ctx, ev.ChatID, "Only moderators can start a roleplay.")
		return nil
	}
	if _, busy := d.manager.GetSessionByChat(ev.ChatID); busy {
		d.reply(ctx, ev.ChatID, "A roleplay is already running in this chat. Finish it with /stop_rp first.")
		return nil
	}

	modeID := strings.ToLower(strings.TrimSpace(args))
	if modeID == "" {
		modeID = defaultMode
	}
	mode, ok := d.catalog.Mode(modeID)
	if !ok {
		d.reply(ctx, ev.ChatID, renderUnknownMode(d.catalog.Modes))
		return nil
	}

	d.rememberChat(ctx, ev)

	sessionID, err := d.manager.CreateSession(ev.UserID, ev.ChatID, mode.Name, mode.ID)
	if errors.Is(err, roleplay.ErrChatBusy) {
		d.reply(ctx, ev.ChatID, "A roleplay is already running in this chat. Finish it with /stop_rp first.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	character := d.catalog.CreatorCharacter(ev.Profile)
	if _, err := d.manager.AddParticipant(ctx, sessionID, ev.UserID, character, ev.Profile); err != nil {
		if _, endErr := d.manager.EndSession(sessionID); endErr != nil {
			d.log.Warn("Failed to discard session", "error", endErr, "session_id", sessionID)
		}
		return fmt.Errorf("seat creator: %w", err)
	}

	session, _ := d.manager.GetSession(sessionID)
	text := renderSelectorIntro(session, d.joinWindow)
	messageID, err := d.transport.SendSelector(ctx, ev.ChatID, text, d.selectorButtons(session))
	if err != nil {
		d.log.Warn("Failed to post role selector", "error", err, "session_id", sessionID)
	} else {
		if err := d.manager.SetAnnouncement(sessionID, messageID); err != nil {
			d.log.Warn("Failed to record role selector", "error", err, "session_id", sessionID)
		}
		d.pin(ctx, ev.ChatID, messageID)
	}

	d.timer.Schedule(sessionID, d.joinWindow, d.joinWindowElapsed)
	d.reply(ctx, ev.ChatID, fmt.Sprintf("Roleplay created! You joined as %s.", character))
	return nil
}

// joinWindowElapsed runs on the join timer. The session may have been
// force-started or stopped in the meantime; CloseJoinWindow decides and, on a
// shortfall, removes the session before anything is announced.
func (d *Dispatcher) joinWindowElapsed(ctx context.Context, sessionID string) {
	session, ok := d.manager.GetSession(sessionID)
	if !ok {
		return
	}

	narration, _, err := d.manager.CloseJoinWindow(ctx, sessionID)
	var short *roleplay.InsufficientPlayersError
	switch {
	case err == nil:
		started, ok := d.manager.GetSession(sessionID)
		if !ok {
			started = session
		}
		d.reply(ctx, session.ChatID, renderStarted("The roleplay has begun!", started, narration))
		d.unpin(ctx, session.ChatID, session.AnnouncementID)
	case errors.As(err, &short):
		d.reply(ctx, session.ChatID, fmt.Sprintf("Not enough players joined (%d of %d needed). The roleplay is cancelled.", short.Have, short.Need))
		d.unpin(ctx, session.ChatID, session.AnnouncementID)
	case errors.Is(err, roleplay.ErrNotWaiting), errors.Is(err, roleplay.ErrSessionNotFound):
		d.log.Debug("Join window closed on a session that moved on", "session_id", sessionID)
	default:
		d.log.Error("Failed to start session", "error", err, "session_id", sessionID)
	}
}

func (d *Dispatcher) forceStart(ctx context.Context, ev Event, _ string) error {
	mod, err := d.isModerator(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if !mod {
		d.reply(ctx, ev.ChatID, "Only moderators can force a start.")
		return nil
	}

	session, ok := d.manager.GetSessionByChat(ev.ChatID)
	if !ok || session.Status != roleplay.StatusWaiting {
		d.reply(ctx, ev.ChatID, "There is no roleplay waiting for players.")
		return nil
	}

	d.timer.Cancel(session.ID)
	narration, err := d.manager.ForceStart(ctx, session.ID)
	if errors.Is(err, roleplay.ErrNotWaiting) || errors.Is(err, roleplay.ErrSessionNotFound) {
		d.reply(ctx, ev.ChatID, "There is no roleplay waiting for players.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("force start: %w", err)
	}

	started, ok := d.manager.GetSession(session.ID)
	if !ok {
		started = session
	}
	d.reply(ctx, ev.ChatID, renderStarted("The roleplay was force-started!", started, narration))
	d.unpin(ctx, ev.ChatID, session.AnnouncementID)
	return nil
}

func (d *Dispatcher) stopRoleplay(ctx context.Context, ev Event, _ string) error {
	mod, err := d.isModerator(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if !mod {
		d.reply(ctx, ev.ChatID, "Only moderators can stop a roleplay.")
		return nil
	}

	session, ok := d.manager.GetSessionByChat(ev.ChatID)
	if !ok {
		d.reply(ctx, ev.ChatID, "There is no roleplay to stop.")
		return nil
	}

	d.timer.Cancel(session.ID)
	summary, err := d.manager.EndSession(session.ID)
	if errors.Is(err, roleplay.ErrSessionNotFound) {
		d.reply(ctx, ev.ChatID, "There is no roleplay to stop.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}

	d.reply(ctx, ev.ChatID, renderSummary(session, summary))
	d.unpin(ctx, ev.ChatID, session.AnnouncementID)
	return nil
}

func (d *Dispatcher) handleCallback(ctx context.Context, ev Event) error {
	switch data := strings.TrimSpace(ev.Text); {
	case data == dataRoleTaken:
		d.answer(ctx, ev, "That character is already taken!")
	case data == dataAllRoleTaken:
		d.answer(ctx, ev, "All characters are taken!")
	case strings.HasPrefix(data, joinPrefix):
		return d.join(ctx, ev, strings.TrimPrefix(data, joinPrefix))
	default:
		d.log.Debug("Ignoring unknown callback", "data", data, "chat_id", ev.ChatID)
	}
	return nil
}

func (d *Dispatcher) join(ctx context.Context, ev Event, character string) error {
	session, ok := d.manager.GetSessionByChat(ev.ChatID)
	if !ok {
		d.answer(ctx, ev, "There is no roleplay to join!")
		return nil
	}
	if _, known := d.catalog.Character(character); !known {
		d.answer(ctx, ev, "Unknown character.")
		return nil
	}

	_, err := d.manager.AddParticipant(ctx, session.ID, ev.UserID, character, ev.Profile)
	switch {
	case err == nil:
	case errors.Is(err, roleplay.ErrAlreadyJoined):
		d.answer(ctx, ev, "You are already in this roleplay!")
		return nil
	case errors.Is(err, roleplay.ErrCharacterTaken):
		d.answer(ctx, ev, "That character is already taken!")
		return nil
	case errors.Is(err, roleplay.ErrNotWaiting), errors.Is(err, roleplay.ErrSessionNotFound):
		d.answer(ctx, ev, "Joining is closed for this roleplay.")
		return nil
	default:
		return fmt.Errorf("join session: %w", err)
	}

	d.answer(ctx, ev, fmt.Sprintf("You joined as %s!", character))

	updated, ok := d.manager.GetSession(session.ID)
	if !ok || updated.AnnouncementID == 0 {
		return nil
	}
	left := d.joinWindow - d.now().Sub(updated.CreatedAt)
	if left < 0 {
		left = 0
	}
	text := renderSelectorProgress(updated, left)
	if err := d.transport.EditSelector(ctx, ev.ChatID, updated.AnnouncementID, text, d.selectorButtons(updated)); err != nil {
		d.log.Warn("Failed to refresh role selector", "error", err, "session_id", updated.ID)
	}
	return nil
}

func (d *Dispatcher) handleMessage(ctx context.Context, ev Event) error {
	if strings.HasPrefix(strings.TrimSpace(ev.Text), "/") {
		return nil
	}
	hasContent := strings.TrimSpace(ev.Text) != "" || strings.TrimSpace(ev.Caption) != ""

	unlocked, err := d.manager.RecordMessage(ctx, ev.ChatID, ev.UserID, hasContent)
	for _, id := range unlocked {
		a, ok := d.catalog.Achievement(id)
		if !ok {
			continue
		}
		d.reply(ctx, ev.ChatID, fmt.Sprintf("New achievement!\n\n%s\n%s\n\nCongratulations, %s!", a.Name, a.Description, ev.Profile.DisplayName()))
	}
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	return nil
}

// selectorButtons lists every catalog character in catalog order; taken ones
// are shown but disabled.
func (d *Dispatcher) selectorButtons(s roleplay.Session) []Button {
	taken := s.TakenCharacters()
	buttons := make([]Button, 0, len(d.catalog.Characters))
	free := 0
	for _, c := range d.catalog.Characters {
		if taken[c.ID] {
			buttons = append(buttons, Button{Label: fmt.Sprintf("%s - taken", c.ID), Data: dataRoleTaken})
			continue
		}
		free++
		buttons = append(buttons, Button{Label: fmt.Sprintf("%s - %s", c.ID, c.Role), Data: joinPrefix + c.ID})
	}
	if free == 0 {
		buttons = append(buttons, Button{Label: "All characters are taken", Data: dataAllRoleTaken})
	}
	return buttons
}

func (d *Dispatcher) rememberChat(ctx context.Context, ev Event) {
	if ev.IsPrivate() {
		return
	}
	chat := domain.Chat{ChatID: ev.ChatID, Title: ev.ChatTitle, Type: ev.ChatType, AddedBy: ev.UserID, AddedAt: d.now()}
	if err := d.repo.UpsertChat(ctx, chat); err != nil {
		d.log.Warn("Failed to record chat", "error", err, "chat_id", ev.ChatID)
	}
}

func remaining(d time.Duration) int {
	return int(d.Round(time.Second) / time.Second)
}
