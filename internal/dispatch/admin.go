package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ashureev/rolecall/internal/domain"
)

const moderatorWelcome = "You are now a moderator of the roleplay bot!\n\n" +
	"You can:\n- open roleplays (/start_rp)\n- stop roleplays (/stop_rp)\n- use /force_start"

func (d *Dispatcher) requireAdmin(ctx context.Context, ev Event, denial string) bool {
	if d.isAdmin(ev.UserID) {
		return true
	}
	d.reply(ctx, ev.ChatID, denial)
	return false
}

func (d *Dispatcher) moderators(ctx context.Context, ev Event, _ string) error {
	if !d.requireAdmin(ctx, ev, "Only the administrator can list moderators!") {
		return nil
	}
	mods, err := d.repo.ListModerators(ctx)
	if err != nil {
		return fmt.Errorf("list moderators: %w", err)
	}

	lines := []string{"- you (administrator)"}
	for _, m := range mods {
		line := "- " + nonEmpty(m.FirstName, "user")
		if m.Username != "" {
			line += " (@" + m.Username + ")"
		}
		line += fmt.Sprintf(" - ID: %d", m.UserID)
		if m.AddedByUsername != "" {
			line += " (added by @" + m.AddedByUsername + ")"
		}
		lines = append(lines, line)
	}
	d.reply(ctx, ev.ChatID, "Moderators:\n\n"+strings.Join(lines, "\n"))
	return nil
}

func (d *Dispatcher) addModerator(ctx context.Context, ev Event, args string) error {
	if !d.requireAdmin(ctx, ev, "Only the administrator can add moderators!") {
		return nil
	}
	if args == "" {
		d.reply(ctx, ev.ChatID, "Give a username: /add_moderator @username")
		return nil
	}
	username := "@" + strings.TrimPrefix(args, "@")

	user, err := d.repo.FindUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		d.reply(ctx, ev.ChatID, fmt.Sprintf("Could not find %s. Ask them to send /start in a chat with the bot first.", username))
		return nil
	}
	return d.promote(ctx, ev, user)
}

func (d *Dispatcher) addModeratorByID(ctx context.Context, ev Event, args string) error {
	if !d.requireAdmin(ctx, ev, "Only the administrator can add moderators!") {
		return nil
	}
	if args == "" {
		d.reply(ctx, ev.ChatID, "Give an id: /add_moderator_id 123456789")
		return nil
	}
	userID, err := strconv.ParseInt(args, 10, 64)
	if err != nil {
		d.reply(ctx, ev.ChatID, "Invalid id! The id must be a number.")
		return nil
	}

	user, err := d.repo.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		d.reply(ctx, ev.ChatID, fmt.Sprintf("Could not find a user with id %d. Make sure they have talked to the bot.", userID))
		return nil
	}
	return d.promote(ctx, ev, user)
}

func (d *Dispatcher) promote(ctx context.Context, ev Event, user *domain.User) error {
	if user.UserID == d.adminID {
		d.reply(ctx, ev.ChatID, "That user is already the administrator!")
		return nil
	}
	err := d.repo.AddModerator(ctx, domain.Moderator{
		UserID:    user.UserID,
		Username:  user.Username,
		FirstName: nonEmpty(user.FirstName, "user"),
		AddedBy:   ev.UserID,
		AddedAt:   d.now(),
	})
	if err != nil {
		return fmt.Errorf("add moderator: %w", err)
	}

	username := "none"
	if user.Username != "" {
		username = "@" + user.Username
	}
	d.reply(ctx, ev.ChatID, fmt.Sprintf("Moderator added!\n\nName: %s\nUsername: %s\nID: %d",
		nonEmpty(user.FirstName, "not set"), username, user.UserID))

	if _, err := d.transport.SendText(ctx, user.UserID, moderatorWelcome); err != nil {
		d.log.Warn("Failed to notify new moderator", "error", err, "user_id", user.UserID)
		d.reply(ctx, ev.ChatID, "Could not send a message to the new moderator.")
	}
	d.log.Info("Moderator added", "user_id", user.UserID, "added_by", ev.UserID)
	return nil
}

func (d *Dispatcher) removeModerator(ctx context.Context, ev Event, args string) error {
	if !d.requireAdmin(ctx, ev, "Only the administrator can remove moderators!") {
		return nil
	}
	if args == "" {
		d.reply(ctx, ev.ChatID, "Give a username: /remove_moderator @username")
		return nil
	}
	username := strings.TrimPrefix(args, "@")

	mods, err := d.repo.ListModerators(ctx)
	if err != nil {
		return fmt.Errorf("list moderators: %w", err)
	}
	var target *domain.Moderator
	for i := range mods {
		if mods[i].Username != "" && strings.EqualFold(mods[i].Username, username) {
			target = &mods[i]
			break
		}
	}
	if target == nil {
		d.reply(ctx, ev.ChatID, fmt.Sprintf("No moderator with username @%s!", username))
		return nil
	}

	removed, err := d.repo.RemoveModerator(ctx, target.UserID)
	if err != nil {
		return fmt.Errorf("remove moderator: %w", err)
	}
	if !removed {
		d.reply(ctx, ev.ChatID, fmt.Sprintf("No moderator with username @%s!", username))
		return nil
	}
	d.reply(ctx, ev.ChatID, fmt.Sprintf("Moderator @%s removed!", username))
	d.log.Info("Moderator removed", "user_id", target.UserID, "removed_by", ev.UserID)
	return nil
}

func (d *Dispatcher) chats(ctx context.Context, ev Event, _ string) error {
	if !d.requireAdmin(ctx, ev, "Only the administrator can list chats!") {
		return nil
	}
	chats, err := d.repo.ListChats(ctx)
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}
	if len(chats) == 0 {
		d.reply(ctx, ev.ChatID, "The bot has not been added to any chat yet.")
		return nil
	}

	entries := make([]string, 0, len(chats))
	for i, c := range chats {
		entries = append(entries, fmt.Sprintf("%d. %s (%s)\n   ID: %d", i+1, c.Title, c.Type, c.ChatID))
	}
	d.reply(ctx, ev.ChatID, "Chats:\n\n"+strings.Join(entries, "\n\n")+"\n\nUse /leave ID to leave a chat.")
	return nil
}

func (d *Dispatcher) leave(ctx context.Context, ev Event, args string) error {
	if !d.requireAdmin(ctx, ev, "Only the administrator can leave chats!") {
		return nil
	}
	if args == "" {
		d.reply(ctx, ev.ChatID, "Give a chat id: /leave 123456789")
		return nil
	}
	chatID, err := strconv.ParseInt(args, 10, 64)
	if err != nil {
		d.reply(ctx, ev.ChatID, "Invalid chat id! The id must be a number.")
		return nil
	}

	if err := d.transport.Leave(ctx, chatID); err != nil {
		d.reply(ctx, ev.ChatID, fmt.Sprintf("Could not leave chat %d: %v", chatID, err))
		return nil
	}
	if s, ok := d.manager.GetSessionByChat(chatID); ok {
		d.timer.Cancel(s.ID)
		if _, err := d.manager.EndSession(s.ID); err != nil {
			d.log.Warn("Failed to end session of left chat", "error", err, "session_id", s.ID)
		}
	}
	if _, err := d.repo.RemoveChat(ctx, chatID); err != nil {
		return fmt.Errorf("remove chat: %w", err)
	}
	d.reply(ctx, ev.ChatID, fmt.Sprintf("Left chat %d.", chatID))
	return nil
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
