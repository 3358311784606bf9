package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/rolecall/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry RetryPolicy
	now   func() time.Time
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite opens (and migrates) the database at dbPath.
func NewSQLite(dbPath string, retry RetryPolicy) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, retry: retry, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id INTEGER PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		joined_at INTEGER NOT NULL,
		total_responses INTEGER NOT NULL DEFAULT 0,
		sessions_played INTEGER NOT NULL DEFAULT 0,
		total_messages INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_users_username ON users(lower(username));

	CREATE TABLE IF NOT EXISTS moderators (
		user_id INTEGER PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		added_by INTEGER NOT NULL,
		added_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chats (
		chat_id INTEGER PRIMARY KEY,
		chat_title TEXT NOT NULL DEFAULT '',
		chat_type TEXT NOT NULL DEFAULT '',
		added_by INTEGER NOT NULL,
		added_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_achievements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		achievement_id TEXT NOT NULL,
		unlocked_at INTEGER NOT NULL,
		UNIQUE(user_id, achievement_id)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// UpsertUser creates or updates a user's profile fields.
func (s *SQLiteStore) UpsertUser(ctx context.Context, userID int64, p domain.Profile) error {
	query := `
	INSERT INTO users (user_id, username, first_name, last_name, joined_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		first_name = excluded.first_name,
		last_name = excluded.last_name`

	return withRetry(ctx, s.retry, "upsert user", func() error {
		_, err := s.db.ExecContext(ctx, query,
			userID, strings.TrimPrefix(p.Username, "@"), p.FirstName, p.LastName, s.now().Unix())
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		return nil
	})
}

// IncrementUserCounters adds delta to the user's counters.
func (s *SQLiteStore) IncrementUserCounters(ctx context.Context, userID int64, delta domain.Counters) error {
	if err := validateDelta(delta); err != nil {
		return err
	}

	query := `
	INSERT INTO users (user_id, joined_at, total_responses, sessions_played, total_messages)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		total_responses = total_responses + excluded.total_responses,
		sessions_played = sessions_played + excluded.sessions_played,
		total_messages = total_messages + excluded.total_messages`

	return withRetry(ctx, s.retry, "increment user counters", func() error {
		_, err := s.db.ExecContext(ctx, query,
			userID, s.now().Unix(), delta.TotalResponses, delta.SessionsPlayed, delta.TotalMessages)
		if err != nil {
			return fmt.Errorf("increment user counters: %w", err)
		}
		return nil
	})
}

// GetUserCounters returns the durable counters for a user.
func (s *SQLiteStore) GetUserCounters(ctx context.Context, userID int64) (domain.Counters, error) {
	var c domain.Counters
	err := s.db.QueryRowContext(ctx,
		`SELECT total_responses, sessions_played, total_messages FROM users WHERE user_id = ?`, userID,
	).Scan(&c.TotalResponses, &c.SessionsPlayed, &c.TotalMessages)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Counters{}, ErrNotFound
	}
	if err != nil {
		return domain.Counters{}, fmt.Errorf("scan user counters: %w", err)
	}
	return c, nil
}

// HasAchievement reports whether the user already unlocked achievementID.
func (s *SQLiteStore) HasAchievement(ctx context.Context, userID int64, achievementID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM user_achievements WHERE user_id = ? AND achievement_id = ?`, userID, achievementID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check achievement: %w", err)
	}
	return true, nil
}

// UnlockAchievement inserts the unlock unless it already exists.
func (s *SQLiteStore) UnlockAchievement(ctx context.Context, userID int64, achievementID string) (bool, error) {
	query := `
	INSERT INTO user_achievements (user_id, achievement_id, unlocked_at)
	VALUES (?, ?, ?)
	ON CONFLICT(user_id, achievement_id) DO NOTHING`

	var unlocked bool
	err := withRetry(ctx, s.retry, "unlock achievement", func() error {
		res, err := s.db.ExecContext(ctx, query, userID, achievementID, s.now().Unix())
		if err != nil {
			return fmt.Errorf("unlock achievement: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		unlocked = rows > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	if unlocked {
		slog.Info("Achievement unlocked", "user_id", userID, "achievement_id", achievementID)
	}
	return unlocked, nil
}

const userColumns = `user_id, username, first_name, last_name, joined_at, total_responses, sessions_played, total_messages`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner, extra ...any) (*domain.User, error) {
	var u domain.User
	var joinedAt int64
	dest := []any{
		&u.UserID, &u.Username, &u.FirstName, &u.LastName, &joinedAt,
		&u.TotalResponses, &u.SessionsPlayed, &u.TotalMessages,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	u.JoinedAt = time.Unix(joinedAt, 0)
	return &u, nil
}

// GetUser retrieves a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return u, nil
}

// FindUserByUsername retrieves a user by username.
func (s *SQLiteStore) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
	if name == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(username) = ?`, name)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return u, nil
}

// ListAchievements returns a user's unlocks, newest first.
func (s *SQLiteStore) ListAchievements(ctx context.Context, userID int64) ([]domain.UnlockedAchievement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT achievement_id, unlocked_at FROM user_achievements
		WHERE user_id = ? ORDER BY unlocked_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query achievements: %w", err)
	}
	defer closeRows(rows, "achievements")

	var out []domain.UnlockedAchievement
	for rows.Next() {
		var a domain.UnlockedAchievement
		var at int64
		if err := rows.Scan(&a.AchievementID, &at); err != nil {
			return nil, fmt.Errorf("scan achievement row: %w", err)
		}
		a.UnlockedAt = time.Unix(at, 0)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate achievements: %w", err)
	}
	return out, nil
}

// TopPlayers ranks users who have played at least once.
func (s *SQLiteStore) TopPlayers(ctx context.Context, limit int) ([]domain.RankedUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`,
		       (SELECT COUNT(*) FROM user_achievements ua WHERE ua.user_id = users.user_id)
		FROM users
		WHERE total_responses > 0 OR sessions_played > 0
		ORDER BY total_responses DESC, sessions_played DESC, user_id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top players: %w", err)
	}
	defer closeRows(rows, "top players")

	var out []domain.RankedUser
	for rows.Next() {
		var count int
		u, err := scanUser(rows, &count)
		if err != nil {
			return nil, fmt.Errorf("scan top player row: %w", err)
		}
		out = append(out, domain.RankedUser{User: *u, AchievementCount: count})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top players: %w", err)
	}
	return out, nil
}

// AddModerator inserts or replaces a moderator.
func (s *SQLiteStore) AddModerator(ctx context.Context, m domain.Moderator) error {
	addedAt := m.AddedAt
	if addedAt.IsZero() {
		addedAt = s.now()
	}
	query := `
	INSERT INTO moderators (user_id, username, first_name, added_by, added_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		first_name = excluded.first_name,
		added_by = excluded.added_by`

	return withRetry(ctx, s.retry, "add moderator", func() error {
		_, err := s.db.ExecContext(ctx, query,
			m.UserID, strings.TrimPrefix(m.Username, "@"), m.FirstName, m.AddedBy, addedAt.Unix())
		if err != nil {
			return fmt.Errorf("add moderator: %w", err)
		}
		return nil
	})
}

// RemoveModerator deletes a moderator, reporting whether one existed.
func (s *SQLiteStore) RemoveModerator(ctx context.Context, userID int64) (bool, error) {
	return s.deleteByID(ctx, "remove moderator", `DELETE FROM moderators WHERE user_id = ?`, userID)
}

// IsModerator reports whether the user is on the moderator roster.
func (s *SQLiteStore) IsModerator(ctx context.Context, userID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM moderators WHERE user_id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check moderator: %w", err)
	}
	return true, nil
}

// ListModerators returns the roster in the order moderators were added.
func (s *SQLiteStore) ListModerators(ctx context.Context) ([]domain.Moderator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.user_id, m.username, m.first_name, m.added_by, m.added_at, COALESCE(u.username, '')
		FROM moderators m
		LEFT JOIN users u ON m.added_by = u.user_id
		ORDER BY m.added_at, m.user_id`)
	if err != nil {
		return nil, fmt.Errorf("query moderators: %w", err)
	}
	defer closeRows(rows, "moderators")

	var out []domain.Moderator
	for rows.Next() {
		var m domain.Moderator
		var addedAt int64
		if err := rows.Scan(&m.UserID, &m.Username, &m.FirstName, &m.AddedBy, &addedAt, &m.AddedByUsername); err != nil {
			return nil, fmt.Errorf("scan moderator row: %w", err)
		}
		m.AddedAt = time.Unix(addedAt, 0)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate moderators: %w", err)
	}
	return out, nil
}

// UpsertChat records a chat the bot was activated in.
func (s *SQLiteStore) UpsertChat(ctx context.Context, c domain.Chat) error {
	query := `
	INSERT INTO chats (chat_id, chat_title, chat_type, added_by, added_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(chat_id) DO UPDATE SET
		chat_title = excluded.chat_title,
		chat_type = excluded.chat_type`

	return withRetry(ctx, s.retry, "upsert chat", func() error {
		_, err := s.db.ExecContext(ctx, query, c.ChatID, c.Title, c.Type, c.AddedBy, s.now().Unix())
		if err != nil {
			return fmt.Errorf("upsert chat: %w", err)
		}
		return nil
	})
}

// ListChats returns known chats, most recently added first.
func (s *SQLiteStore) ListChats(ctx context.Context) ([]domain.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, chat_title, chat_type, added_by, added_at
		FROM chats ORDER BY added_at DESC, chat_id`)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer closeRows(rows, "chats")

	var out []domain.Chat
	for rows.Next() {
		var c domain.Chat
		var addedAt int64
		if err := rows.Scan(&c.ChatID, &c.Title, &c.Type, &c.AddedBy, &addedAt); err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		c.AddedAt = time.Unix(addedAt, 0)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return out, nil
}

// RemoveChat deletes a chat, reporting whether one existed.
func (s *SQLiteStore) RemoveChat(ctx context.Context, chatID int64) (bool, error) {
	return s.deleteByID(ctx, "remove chat", `DELETE FROM chats WHERE chat_id = ?`, chatID)
}

func (s *SQLiteStore) deleteByID(ctx context.Context, op, query string, id int64) (bool, error) {
	var removed bool
	err := withRetry(ctx, s.retry, op, func() error {
		res, err := s.db.ExecContext(ctx, query, id)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		removed = rows > 0
		return nil
	})
	return removed, err
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "query", what, "error", err)
	}
}
