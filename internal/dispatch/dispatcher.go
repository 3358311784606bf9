package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/rolecall/internal/catalog"
	"github.com/ashureev/rolecall/internal/roleplay"
	"github.com/ashureev/rolecall/internal/store"
)

// ErrUnknownKind is returned for events whose kind is not recognised.
var ErrUnknownKind = errors.New("unknown event kind")

// Options configures a Dispatcher.
type Options struct {
	AdminID    int64
	JoinWindow time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

// Dispatcher routes chat events to the roleplay manager and the repository.
type Dispatcher struct {
	manager   *roleplay.Manager
	repo      store.Repository
	catalog   *catalog.Catalog
	transport Transport
	timer     *roleplay.JoinTimer

	adminID    int64
	joinWindow time.Duration
	now        func() time.Time
	log        *slog.Logger
}

// New creates a Dispatcher.
func New(manager *roleplay.Manager, repo store.Repository, cat *catalog.Catalog, transport Transport, timer *roleplay.JoinTimer, opts Options) *Dispatcher {
	d := &Dispatcher{
		manager:    manager,
		repo:       repo,
		catalog:    cat,
		transport:  transport,
		timer:      timer,
		adminID:    opts.AdminID,
		joinWindow: opts.JoinWindow,
		now:        opts.Now,
		log:        opts.Logger,
	}
	if d.joinWindow <= 0 {
		d.joinWindow = time.Minute
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	return d
}

type commandFunc func(d *Dispatcher, ctx context.Context, ev Event, args string) error

var commands = map[string]commandFunc{
	"help":             (*Dispatcher).help,
	"start":            (*Dispatcher).start,
	"role":             (*Dispatcher).role,
	"stats":            (*Dispatcher).stats,
	"achievements":     (*Dispatcher).achievements,
	"top":              (*Dispatcher).top,
	"roles":            (*Dispatcher).roles,
	"start_rp":         (*Dispatcher).startRoleplay,
	"force_start":      (*Dispatcher).forceStart,
	"stop_rp":          (*Dispatcher).stopRoleplay,
	"moderators":       (*Dispatcher).moderators,
	"add_moderator":    (*Dispatcher).addModerator,
	"add_moderator_id": (*Dispatcher).addModeratorByID,
	"remove_moderator": (*Dispatcher).removeModerator,
	"chats":            (*Dispatcher).chats,
	"leave":            (*Dispatcher).leave,
}

// Handle processes one inbound event. Expected user mistakes are answered in
// chat and return nil; a non-nil error means a backend call failed.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) error {
	var err error
	switch ev.Kind {
	case KindCommand:
		err = d.handleCommand(ctx, ev)
	case KindCallback:
		err = d.handleCallback(ctx, ev)
	case KindMessage:
		err = d.handleMessage(ctx, ev)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, ev.Kind)
	}
	if err != nil {
		d.log.Error("Failed to handle event", "error", err, "kind", ev.Kind, "chat_id", ev.ChatID, "user_id", ev.UserID)
	}
	return err
}

func (d *Dispatcher) handleCommand(ctx context.Context, ev Event) error {
	name, args := ev.Command()
	cmd, ok := commands[name]
	if !ok {
		d.log.Debug("Ignoring unknown command", "command", name, "chat_id", ev.ChatID)
		return nil
	}
	d.log.Info("Command received", "command", name, "chat_id", ev.ChatID, "user_id", ev.UserID)
	if err := cmd(d, ctx, ev, args); err != nil {
		d.reply(ctx, ev.ChatID, "Something went wrong, please try again.")
		return fmt.Errorf("command %s: %w", name, err)
	}
	return nil
}

// reply sends text and logs delivery failures; chat output is best effort.
func (d *Dispatcher) reply(ctx context.Context, chatID int64, text string) {
	if _, err := d.transport.SendText(ctx, chatID, text); err != nil {
		d.log.Warn("Failed to send reply", "error", err, "chat_id", chatID)
	}
}

func (d *Dispatcher) answer(ctx context.Context, ev Event, text string) {
	if err := d.transport.Answer(ctx, ev.ChatID, ev.UserID, text); err != nil {
		d.log.Warn("Failed to answer callback", "error", err, "chat_id", ev.ChatID, "user_id", ev.UserID)
	}
}

func (d *Dispatcher) pin(ctx context.Context, chatID, messageID int64) {
	if err := d.transport.Pin(ctx, chatID, messageID); err != nil {
		d.log.Warn("Failed to pin message", "error", err, "chat_id", chatID, "message_id", messageID)
	}
}

func (d *Dispatcher) unpin(ctx context.Context, chatID, messageID int64) {
	if messageID == 0 {
		return
	}
	if err := d.transport.Unpin(ctx, chatID, messageID); err != nil {
		d.log.Warn("Failed to unpin message", "error", err, "chat_id", chatID, "message_id", messageID)
	}
}

func (d *Dispatcher) isAdmin(userID int64) bool {
	return d.adminID != 0 && userID == d.adminID
}

func (d *Dispatcher) isModerator(ctx context.Context, userID int64) (bool, error) {
	if d.isAdmin(userID) {
		return true, nil
	}
	ok, err := d.repo.IsModerator(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("check moderator: %w", err)
	}
	return ok, nil
}

func (d *Dispatcher) statusLabel(ctx context.Context, userID int64) (string, error) {
	if d.isAdmin(userID) {
		return "Administrator", nil
	}
	mod, err := d.isModerator(ctx, userID)
	if err != nil {
		return "", err
	}
	if mod {
		return "Moderator", nil
	}
	return "Player", nil
}
