package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ashureev/rolecall/internal/domain"
)

const topLimit = 10

func (d *Dispatcher) help(ctx context.Context, ev Event, _ string) error {
	if ev.IsPrivate() {
		d.reply(ctx, ev.ChatID, "I only work in group chats. Add me to a group to play.")
		return nil
	}
	status, err := d.statusLabel(ctx, ev.UserID)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Roleplay bot help\n\nYour status: %s\n\n", status)
	if d.isAdmin(ev.UserID) {
		b.WriteString("Administrator commands:\n" +
			"/moderators - list moderators\n" +
			"/add_moderator @username - add a moderator\n" +
			"/add_moderator_id ID - add a moderator by id\n" +
			"/remove_moderator @username - remove a moderator\n" +
			"/chats - list chats\n" +
			"/leave ID - leave a chat\n\n")
	}
	if status != "Player" {
		b.WriteString("Moderator commands:\n" +
			"/start_rp [mode] - open a roleplay\n" +
			"/force_start - start without waiting\n" +
			"/stop_rp - finish the roleplay\n\n")
	}
	b.WriteString("Commands:\n" +
		"/role - your character\n" +
		"/stats - your stats\n" +
		"/achievements - your achievements\n" +
		"/top - top players\n" +
		"/roles - all characters\n\n" +
		"How to play:\n" +
		"1. A moderator runs /start_rp\n" +
		"2. Players pick their characters\n" +
		"3. The bot opens the story\n" +
		"4. Players write in character\n" +
		"5. A moderator ends it with /stop_rp")
	d.reply(ctx, ev.ChatID, b.String())
	return nil
}

func (d *Dispatcher) start(ctx context.Context, ev Event, _ string) error {
	if ev.IsPrivate() {
		d.reply(ctx, ev.ChatID, "Roleplay bot\n\nI only work in group chats:\n1. Create a group\n2. Add me to it\n3. Use /start_rp to begin!")
		return nil
	}
	if err := d.repo.UpsertUser(ctx, ev.UserID, ev.Profile); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	d.rememberChat(ctx, ev)

	status, err := d.statusLabel(ctx, ev.UserID)
	if err != nil {
		return err
	}
	role := "You have no assigned character"
	if c, ok := d.catalog.AssignedCharacter(ev.Profile); ok {
		role = "Your character: " + c
	}
	d.reply(ctx, ev.ChatID, fmt.Sprintf("Roleplay bot is active in this chat!\nYour status: %s\n%s\n\n/help lists commands, /role shows your character, /stats shows your stats.", status, role))
	return nil
}

func (d *Dispatcher) role(ctx context.Context, ev Event, _ string) error {
	id, ok := d.catalog.AssignedCharacter(ev.Profile)
	if !ok {
		d.reply(ctx, ev.ChatID, "You have no assigned character. Your username or name is not in the assignment list.")
		return nil
	}
	c, _ := d.catalog.Character(id)
	d.reply(ctx, ev.ChatID, fmt.Sprintf("Your character: %s\nRole: %s\nAbout: %s", c.ID, c.Role, c.Description))
	return nil
}

func (d *Dispatcher) stats(ctx context.Context, ev Event, _ string) error {
	if err := d.repo.UpsertUser(ctx, ev.UserID, ev.Profile); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	user, err := d.repo.GetUser(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		d.reply(ctx, ev.ChatID, "No stats yet. Join a roleplay to start collecting them!")
		return nil
	}
	unlocked, err := d.repo.ListAchievements(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("list achievements: %w", err)
	}

	role := "none"
	if c, ok := d.catalog.AssignedCharacter(ev.Profile); ok {
		role = c
	}
	username := "none"
	if user.Username != "" {
		username = "@" + user.Username
	}
	d.reply(ctx, ev.ChatID, fmt.Sprintf("Your stats\n\nName: %s\nUsername: %s\nCharacter: %s\n\nResponses: %d\nSessions played: %d\nMessages: %d\nAchievements: %d",
		user.DisplayName(), username, role,
		user.TotalResponses, user.SessionsPlayed, user.TotalMessages, len(unlocked)))
	return nil
}

func (d *Dispatcher) achievements(ctx context.Context, ev Event, _ string) error {
	unlocked, err := d.repo.ListAchievements(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("list achievements: %w", err)
	}

	var lines []string
	for _, u := range unlocked {
		a, ok := d.catalog.Achievement(u.AchievementID)
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s (%s)\n  %s", a.Name, u.UnlockedAt.Format("02.01.2006"), a.Description))
	}
	if len(lines) == 0 {
		d.reply(ctx, ev.ChatID, "You have no achievements yet. Take part in roleplays and write in character to earn them!")
		return nil
	}
	d.reply(ctx, ev.ChatID, fmt.Sprintf("Your achievements (%d):\n\n%s", len(lines), strings.Join(lines, "\n\n")))
	return nil
}

func (d *Dispatcher) top(ctx context.Context, ev Event, _ string) error {
	players, err := d.repo.TopPlayers(ctx, topLimit)
	if err != nil {
		return fmt.Errorf("top players: %w", err)
	}
	if len(players) == 0 {
		d.reply(ctx, ev.ChatID, "No player stats yet. Be the first on the board!")
		return nil
	}

	var b strings.Builder
	b.WriteString("Top players\n")
	for i, p := range players {
		place := fmt.Sprintf("%d.", i+1)
		if i < len(medals) {
			place = medals[i]
		}
		fmt.Fprintf(&b, "\n%s %s - %d responses, %d sessions", place, rankedName(p), p.TotalResponses, p.SessionsPlayed)
	}
	d.reply(ctx, ev.ChatID, b.String())
	return nil
}

func rankedName(p domain.RankedUser) string {
	if p.FirstName == "" && p.Username == "" {
		return fmt.Sprintf("Player %d", p.UserID)
	}
	return p.DisplayName()
}

func (d *Dispatcher) roles(ctx context.Context, ev Event, _ string) error {
	owners := make(map[string]string)
	keys := make([]string, 0, len(d.catalog.Assignments))
	for k := range d.catalog.Assignments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c := d.catalog.Assignments[k]
		if _, seen := owners[c]; !seen {
			owners[c] = k
		}
	}

	var b strings.Builder
	b.WriteString("All characters\n")
	for _, c := range d.catalog.Characters {
		if owner, ok := owners[c.ID]; ok {
			fmt.Fprintf(&b, "\n%s - %s\n  owner: %s\n", c.ID, c.Role, owner)
		} else {
			fmt.Fprintf(&b, "\n%s - %s\n  free\n", c.ID, c.Role)
		}
	}
	d.reply(ctx, ev.ChatID, strings.TrimRight(b.String(), "\n"))
	return nil
}
