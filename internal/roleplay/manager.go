package roleplay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/rolecall/internal/catalog"
	"github.com/ashureev/rolecall/internal/domain"
	"github.com/ashureev/rolecall/internal/store"
	"github.com/google/uuid"
)

// DefaultMinPlayers is the automatic-start threshold when none is configured.
const DefaultMinPlayers = 2

// topPlayersInSummary bounds Summary.TopPlayers.
const topPlayersInSummary = 3

// SceneGenerator narrates the opening of a session.
type SceneGenerator interface {
	Generate(characters []string, mode string) string
}

// Options tunes a Manager. Zero values fall back to defaults.
type Options struct {
	MinPlayers int
	Now        func() time.Time
	NewID      func(now time.Time) string
	Logger     *slog.Logger
}

// Manager is the session store and lifecycle state machine. Every mutation
// of the session table runs under mu; gateway calls happen after mu is
// released.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	byChat   map[int64]string

	gateway      store.Gateway
	scenes       SceneGenerator
	achievements []catalog.Achievement

	// userLocks serializes message recording and achievement evaluation per
	// user. Entries live only while someone holds or waits for them.
	locksMu   sync.Mutex
	userLocks map[int64]*userLock

	minPlayers int
	now        func() time.Time
	newID      func(now time.Time) string
	log        *slog.Logger
}

// NewManager creates a Manager. achievements are evaluated in slice order.
func NewManager(gateway store.Gateway, scenes SceneGenerator, achievements []catalog.Achievement, opts Options) *Manager {
	m := &Manager{
		sessions:     make(map[string]*session),
		byChat:       make(map[int64]string),
		userLocks:    make(map[int64]*userLock),
		gateway:      gateway,
		scenes:       scenes,
		achievements: append([]catalog.Achievement(nil), achievements...),
		minPlayers:   opts.MinPlayers,
		now:          opts.Now,
		newID:        opts.NewID,
		log:          opts.Logger,
	}
	if m.minPlayers <= 0 {
		m.minPlayers = DefaultMinPlayers
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = NewSessionID
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m
}

// NewSessionID derives an id from the creation time plus a random suffix so
// sessions opened in the same second in different chats never collide.
func NewSessionID(now time.Time) string {
	return fmt.Sprintf("session_%s_%s", now.UTC().Format("20060102_150405"), uuid.NewString()[:8])
}

// MinPlayers returns the automatic-start threshold.
func (m *Manager) MinPlayers() int {
	return m.minPlayers
}

// CreateSession opens a Waiting session in chatID.
func (m *Manager) CreateSession(creatorID, chatID int64, theme, mode string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.byChat[chatID]; busy {
		return "", ErrChatBusy
	}

	now := m.now()
	id := m.newID(now)
	for m.sessions[id] != nil {
		id = NewSessionID(now)
	}

	m.sessions[id] = &session{
		id:           id,
		chatID:       chatID,
		creatorID:    creatorID,
		theme:        theme,
		mode:         mode,
		status:       StatusWaiting,
		createdAt:    now,
		participants: make(map[int64]*Participant),
	}
	m.byChat[chatID] = id

	m.log.Info("Roleplay session created", "session_id", id, "chat_id", chatID, "creator_id", creatorID, "mode", mode)
	return id, nil
}

// AddParticipant seats userID as character. The first claimant of a
// character wins; a user holding any slot gets ErrAlreadyJoined.
func (m *Manager) AddParticipant(ctx context.Context, sessionID string, userID int64, character string, profile domain.Profile) (string, error) {
	if err := m.seat(sessionID, userID, character, profile); err != nil {
		return "", err
	}

	if err := m.gateway.UpsertUser(ctx, userID, profile); err != nil {
		m.log.Error("Failed to ensure user record", "error", err, "session_id", sessionID, "user_id", userID)
	}

	m.log.Info("Participant joined", "session_id", sessionID, "user_id", userID, "character", character)
	return character, nil
}

func (m *Manager) seat(sessionID string, userID int64, character string, profile domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.status != StatusWaiting {
		return ErrNotWaiting
	}
	if _, joined := s.participants[userID]; joined {
		return ErrAlreadyJoined
	}
	if _, taken := s.holder(character); taken {
		return ErrCharacterTaken
	}

	s.participants[userID] = &Participant{
		UserID:    userID,
		Character: character,
		Profile:   profile,
		JoinedAt:  m.now(),
	}
	s.order = append(s.order, userID)
	return nil
}

// GetSession returns a snapshot of the session with the given id.
func (m *Manager) GetSession(sessionID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return s.snapshot(), true
}

// GetSessionByChat returns the Waiting or Active session of a chat.
func (m *Manager) GetSessionByChat(chatID int64) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byChat[chatID]
	if !ok {
		return Session{}, false
	}
	return m.sessions[id].snapshot(), true
}

// SetAnnouncement remembers the transport message id of the role selector.
func (m *Manager) SetAnnouncement(sessionID string, messageID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.announcementID = messageID
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartSession is the automatic path run when the join window elapses. With
// too few participants it fails and leaves the session Waiting; the caller
// decides whether to abandon it.
func (m *Manager) StartSession(ctx context.Context, sessionID string) (string, error) {
	return m.start(ctx, sessionID, true)
}

// ForceStart activates the session regardless of participant count.
func (m *Manager) ForceStart(ctx context.Context, sessionID string) (string, error) {
	return m.start(ctx, sessionID, false)
}

func (m *Manager) start(ctx context.Context, sessionID string, enforceMinimum bool) (string, error) {
	narration, players, err := m.activate(sessionID, enforceMinimum)
	if err != nil {
		return "", err
	}
	m.recordPlayed(ctx, sessionID, players, !enforceMinimum)
	return narration, nil
}

// CloseJoinWindow is the join-timer path. With enough participants the
// session starts and the narration is returned. With too few it is removed
// in the same critical section, and its summary comes back alongside an
// *InsufficientPlayersError. Sessions that already left Waiting are not
// touched (ErrNotWaiting).
func (m *Manager) CloseJoinWindow(ctx context.Context, sessionID string) (string, Summary, error) {
	narration, players, abandoned, err := m.closeWindow(sessionID)
	if err != nil {
		return "", abandoned, err
	}
	m.recordPlayed(ctx, sessionID, players, false)
	return narration, Summary{}, nil
}

func (m *Manager) closeWindow(sessionID string) (string, []int64, Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return "", nil, Summary{}, ErrSessionNotFound
	}
	if s.status != StatusWaiting {
		return "", nil, Summary{}, ErrNotWaiting
	}
	if have := len(s.participants); have < m.minPlayers {
		summary := m.removeLocked(s)
		m.log.Info("Roleplay session abandoned", "session_id", sessionID, "chat_id", s.chatID, "players", have, "needed", m.minPlayers)
		return "", nil, summary, &InsufficientPlayersError{Have: have, Need: m.minPlayers}
	}
	narration, players := m.activateLocked(s)
	return narration, players, Summary{}, nil
}

func (m *Manager) recordPlayed(ctx context.Context, sessionID string, players []int64, forced bool) {
	for _, userID := range players {
		if err := m.gateway.IncrementUserCounters(ctx, userID, domain.Counters{SessionsPlayed: 1}); err != nil {
			m.log.Error("Failed to record session played", "error", err, "session_id", sessionID, "user_id", userID)
		}
	}
	m.log.Info("Roleplay session started", "session_id", sessionID, "players", len(players), "forced", forced)
}

func (m *Manager) activate(sessionID string, enforceMinimum bool) (string, []int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return "", nil, ErrSessionNotFound
	}
	if s.status != StatusWaiting {
		return "", nil, ErrNotWaiting
	}
	if have := len(s.participants); enforceMinimum && have < m.minPlayers {
		return "", nil, &InsufficientPlayersError{Have: have, Need: m.minPlayers}
	}
	narration, players := m.activateLocked(s)
	return narration, players, nil
}

func (m *Manager) activateLocked(s *session) (string, []int64) {
	narration := m.scenes.Generate(s.characters(), s.mode)
	s.status = StatusActive
	s.scenes = []string{narration}
	s.sceneIndex = 0
	return narration, append([]int64(nil), s.order...)
}

// RecordMessage tallies an in-character message and returns the achievements
// it newly unlocked, in catalog order. It is a no-op outside Active sessions,
// for non-participants and for empty messages. The durable counters are
// written before the in-session tally, so a failed write leaves both
// untouched.
func (m *Manager) RecordMessage(ctx context.Context, chatID, userID int64, hasContent bool) ([]string, error) {
	if !hasContent {
		return nil, nil
	}

	unlock := m.lockUser(userID)
	defer unlock()

	if !m.isActiveParticipant(chatID, userID) {
		return nil, nil
	}
	if err := m.gateway.IncrementUserCounters(ctx, userID, domain.Counters{TotalResponses: 1, TotalMessages: 1}); err != nil {
		return nil, fmt.Errorf("increment message counters: %w", err)
	}
	m.tally(chatID, userID)
	return m.evaluate(ctx, userID)
}

// isActiveParticipant reports whether userID plays in the Active session of chatID.
func (m *Manager) isActiveParticipant(chatID, userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.activeParticipantLocked(chatID, userID)
	return ok
}

func (m *Manager) activeParticipantLocked(chatID, userID int64) (*Participant, bool) {
	id, ok := m.byChat[chatID]
	if !ok {
		return nil, false
	}
	s := m.sessions[id]
	if s.status != StatusActive {
		return nil, false
	}
	p, ok := s.participants[userID]
	return p, ok
}

// tally counts the message in the session if it is still running.
func (m *Manager) tally(chatID, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.activeParticipantLocked(chatID, userID); ok {
		p.MessageCount++
	}
}

// EvaluateAchievements unlocks every achievement whose predicate the user's
// durable counters satisfy and returns the newly unlocked ones.
func (m *Manager) EvaluateAchievements(ctx context.Context, userID int64) ([]string, error) {
	unlock := m.lockUser(userID)
	defer unlock()
	return m.evaluate(ctx, userID)
}

func (m *Manager) evaluate(ctx context.Context, userID int64) ([]string, error) {
	counters, err := m.gateway.GetUserCounters(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load counters: %w", err)
	}

	var unlocked []string
	for _, a := range m.achievements {
		if !a.Satisfied(counters) {
			continue
		}
		has, err := m.gateway.HasAchievement(ctx, userID, a.ID)
		if err != nil {
			return unlocked, fmt.Errorf("check achievement %s: %w", a.ID, err)
		}
		if has {
			continue
		}
		isNew, err := m.gateway.UnlockAchievement(ctx, userID, a.ID)
		if err != nil {
			return unlocked, fmt.Errorf("unlock achievement %s: %w", a.ID, err)
		}
		if isNew {
			unlocked = append(unlocked, a.ID)
		}
	}
	if len(unlocked) > 0 {
		m.log.Info("Achievements unlocked", "user_id", userID, "achievements", unlocked)
	}
	return unlocked, nil
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func (m *Manager) lockUser(userID int64) func() {
	m.locksMu.Lock()
	l, ok := m.userLocks[userID]
	if !ok {
		l = &userLock{}
		m.userLocks[userID] = l
	}
	l.refs++
	m.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.userLocks, userID)
		}
		m.locksMu.Unlock()
	}
}

func (m *Manager) heldUserLocks() int {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	return len(m.userLocks)
}

// EndSession removes the session and returns its summary. Durable message
// totals are already counted per message, so nothing is written here.
func (m *Manager) EndSession(sessionID string) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Summary{}, ErrSessionNotFound
	}
	summary := m.removeLocked(s)

	m.log.Info("Roleplay session ended", "session_id", sessionID, "chat_id", s.chatID,
		"players", summary.TotalPlayers, "messages", summary.TotalMessages, "duration", summary.Duration)
	return summary, nil
}

// removeLocked drops s from the table and summarizes it. m.mu must be held.
func (m *Manager) removeLocked(s *session) Summary {
	players := s.inJoinOrder()
	total := 0
	for _, p := range players {
		total += p.MessageCount
	}
	sort.SliceStable(players, func(i, j int) bool {
		return players[i].MessageCount > players[j].MessageCount
	})
	if len(players) > topPlayersInSummary {
		players = players[:topPlayersInSummary]
	}

	summary := Summary{
		SessionID:     s.id,
		ChatID:        s.chatID,
		Theme:         s.theme,
		Mode:          s.mode,
		WasActive:     s.status == StatusActive,
		TotalPlayers:  len(s.participants),
		TotalMessages: total,
		TopPlayers:    players,
		Duration:      m.now().Sub(s.createdAt),
	}

	delete(m.sessions, s.id)
	if m.byChat[s.chatID] == s.id {
		delete(m.byChat, s.chatID)
	}
	return summary
}
