package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/rolecall/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the Redis-backed repository.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore implements Repository on Redis hashes and sets.
//
// Layout under Prefix:
//
//	users                      set of user ids
//	user:<id>                  hash of profile fields and counters
//	user:<id>:achievements     set of unlocked achievement ids
//	user:<id>:unlocked_at      hash achievement id -> unix seconds
//	moderators                 hash user id -> JSON moderator
//	chats                      hash chat id -> JSON chat
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var _ Repository = (*RedisStore)(nil)

// NewRedis connects to Redis and verifies the connection.
func NewRedis(opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	prefix := opts.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}, nil
}

func (r *RedisStore) key(parts ...string) string {
	return r.prefix + strings.Join(parts, ":")
}

func (r *RedisStore) userKey(userID int64, suffix ...string) string {
	return r.key(append([]string{"user", strconv.FormatInt(userID, 10)}, suffix...)...)
}

// Ping verifies Redis connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client.
func (r *RedisStore) Close() error {
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

// UpsertUser creates the user hash or refreshes its profile fields.
func (r *RedisStore) UpsertUser(ctx context.Context, userID int64, p domain.Profile) error {
	key := r.userKey(userID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"username", strings.TrimPrefix(p.Username, "@"),
			"first_name", p.FirstName,
			"last_name", p.LastName,
		)
		pipe.HSetNX(ctx, key, "joined_at", r.now().Unix())
		pipe.SAdd(ctx, r.key("users"), userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// IncrementUserCounters adds delta with HINCRBY, creating the user when missing.
func (r *RedisStore) IncrementUserCounters(ctx context.Context, userID int64, delta domain.Counters) error {
	if err := validateDelta(delta); err != nil {
		return err
	}
	key := r.userKey(userID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, domain.CounterTotalResponses, delta.TotalResponses)
		pipe.HIncrBy(ctx, key, domain.CounterSessionsPlayed, delta.SessionsPlayed)
		pipe.HIncrBy(ctx, key, domain.CounterTotalMessages, delta.TotalMessages)
		pipe.HSetNX(ctx, key, "joined_at", r.now().Unix())
		pipe.SAdd(ctx, r.key("users"), userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("increment user counters: %w", err)
	}
	return nil
}

// GetUserCounters reads the counter fields of the user hash.
func (r *RedisStore) GetUserCounters(ctx context.Context, userID int64) (domain.Counters, error) {
	u, err := r.GetUser(ctx, userID)
	if err != nil {
		return domain.Counters{}, err
	}
	if u == nil {
		return domain.Counters{}, ErrNotFound
	}
	return u.Counters, nil
}

// HasAchievement checks set membership.
func (r *RedisStore) HasAchievement(ctx context.Context, userID int64, achievementID string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.userKey(userID, "achievements"), achievementID).Result()
	if err != nil {
		return false, fmt.Errorf("check achievement: %w", err)
	}
	return ok, nil
}

// UnlockAchievement relies on SADD returning 1 only for a new member.
func (r *RedisStore) UnlockAchievement(ctx context.Context, userID int64, achievementID string) (bool, error) {
	var added *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.SAdd(ctx, r.userKey(userID, "achievements"), achievementID)
		pipe.HSetNX(ctx, r.userKey(userID, "unlocked_at"), achievementID, r.now().Unix())
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("unlock achievement: %w", err)
	}
	return added.Val() == 1, nil
}

// GetUser returns nil when the user hash does not exist.
func (r *RedisStore) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	fields, err := r.client.HGetAll(ctx, r.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return userFromHash(userID, fields), nil
}

func userFromHash(userID int64, fields map[string]string) *domain.User {
	num := func(name string) int64 {
		n, _ := strconv.ParseInt(fields[name], 10, 64)
		return n
	}
	return &domain.User{
		UserID: userID,
		Profile: domain.Profile{
			Username:  fields["username"],
			FirstName: fields["first_name"],
			LastName:  fields["last_name"],
		},
		Counters: domain.Counters{
			TotalResponses: num(domain.CounterTotalResponses),
			SessionsPlayed: num(domain.CounterSessionsPlayed),
			TotalMessages:  num(domain.CounterTotalMessages),
		},
		JoinedAt: time.Unix(num("joined_at"), 0),
	}
}

func (r *RedisStore) allUsers(ctx context.Context) ([]*domain.User, error) {
	ids, err := r.client.SMembers(ctx, r.key("users")).Result()
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users := make([]*domain.User, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		u, err := r.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if u != nil {
			users = append(users, u)
		}
	}
	return users, nil
}

// FindUserByUsername scans the user set; the roster is small.
func (r *RedisStore) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
	if name == "" {
		return nil, nil
	}
	users, err := r.allUsers(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if strings.ToLower(u.Username) == name {
			return u, nil
		}
	}
	return nil, nil
}

// ListAchievements returns unlocks newest first.
func (r *RedisStore) ListAchievements(ctx context.Context, userID int64) ([]domain.UnlockedAchievement, error) {
	fields, err := r.client.HGetAll(ctx, r.userKey(userID, "unlocked_at")).Result()
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	out := make([]domain.UnlockedAchievement, 0, len(fields))
	for id, raw := range fields {
		at, _ := strconv.ParseInt(raw, 10, 64)
		out = append(out, domain.UnlockedAchievement{AchievementID: id, UnlockedAt: time.Unix(at, 0)})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UnlockedAt.Equal(out[j].UnlockedAt) {
			return out[i].UnlockedAt.After(out[j].UnlockedAt)
		}
		return out[i].AchievementID < out[j].AchievementID
	})
	return out, nil
}

// TopPlayers ranks users in memory.
func (r *RedisStore) TopPlayers(ctx context.Context, limit int) ([]domain.RankedUser, error) {
	users, err := r.allUsers(ctx)
	if err != nil {
		return nil, err
	}
	ranked := make([]domain.RankedUser, 0, len(users))
	for _, u := range users {
		if !u.HasPlayed() {
			continue
		}
		n, err := r.client.SCard(ctx, r.userKey(u.UserID, "achievements")).Result()
		if err != nil {
			return nil, fmt.Errorf("count achievements: %w", err)
		}
		ranked = append(ranked, domain.RankedUser{User: *u, AchievementCount: int(n)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.TotalResponses != b.TotalResponses {
			return a.TotalResponses > b.TotalResponses
		}
		if a.SessionsPlayed != b.SessionsPlayed {
			return a.SessionsPlayed > b.SessionsPlayed
		}
		return a.UserID < b.UserID
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// AddModerator stores the moderator as JSON.
func (r *RedisStore) AddModerator(ctx context.Context, m domain.Moderator) error {
	if m.AddedAt.IsZero() {
		m.AddedAt = r.now()
	}
	m.Username = strings.TrimPrefix(m.Username, "@")
	m.AddedByUsername = ""
	return r.putJSON(ctx, "moderators", m.UserID, m)
}

// RemoveModerator deletes a moderator.
func (r *RedisStore) RemoveModerator(ctx context.Context, userID int64) (bool, error) {
	return r.deleteField(ctx, "moderators", userID)
}

// IsModerator checks the roster hash.
func (r *RedisStore) IsModerator(ctx context.Context, userID int64) (bool, error) {
	ok, err := r.client.HExists(ctx, r.key("moderators"), strconv.FormatInt(userID, 10)).Result()
	if err != nil {
		return false, fmt.Errorf("check moderator: %w", err)
	}
	return ok, nil
}

// ListModerators returns the roster in the order moderators were added.
func (r *RedisStore) ListModerators(ctx context.Context) ([]domain.Moderator, error) {
	var out []domain.Moderator
	if err := r.listJSON(ctx, "moderators", func(raw string) error {
		var m domain.Moderator
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	}); err != nil {
		return nil, err
	}
	for i := range out {
		if u, err := r.GetUser(ctx, out[i].AddedBy); err == nil && u != nil {
			out[i].AddedByUsername = u.Username
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.Before(out[j].AddedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// UpsertChat stores the chat, keeping the original activation time.
func (r *RedisStore) UpsertChat(ctx context.Context, c domain.Chat) error {
	c.AddedAt = r.now()
	raw, err := r.client.HGet(ctx, r.key("chats"), strconv.FormatInt(c.ChatID, 10)).Result()
	switch {
	case err == nil:
		var prev domain.Chat
		if json.Unmarshal([]byte(raw), &prev) == nil {
			c.AddedAt = prev.AddedAt
			c.AddedBy = prev.AddedBy
		}
	case !errors.Is(err, redis.Nil):
		return fmt.Errorf("get chat: %w", err)
	}
	return r.putJSON(ctx, "chats", c.ChatID, c)
}

// ListChats returns known chats, most recently added first.
func (r *RedisStore) ListChats(ctx context.Context) ([]domain.Chat, error) {
	var out []domain.Chat
	if err := r.listJSON(ctx, "chats", func(raw string) error {
		var c domain.Chat
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	}); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.After(out[j].AddedAt)
		}
		return out[i].ChatID < out[j].ChatID
	})
	return out, nil
}

// RemoveChat deletes a chat.
func (r *RedisStore) RemoveChat(ctx context.Context, chatID int64) (bool, error) {
	return r.deleteField(ctx, "chats", chatID)
}

func (r *RedisStore) putJSON(ctx context.Context, hash string, id int64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s entry: %w", hash, err)
	}
	if err := r.client.HSet(ctx, r.key(hash), strconv.FormatInt(id, 10), data).Err(); err != nil {
		return fmt.Errorf("store %s entry: %w", hash, err)
	}
	return nil
}

func (r *RedisStore) listJSON(ctx context.Context, hash string, each func(raw string) error) error {
	values, err := r.client.HVals(ctx, r.key(hash)).Result()
	if err != nil {
		return fmt.Errorf("list %s: %w", hash, err)
	}
	for _, raw := range values {
		if err := each(raw); err != nil {
			return fmt.Errorf("decode %s entry: %w", hash, err)
		}
	}
	return nil
}

func (r *RedisStore) deleteField(ctx context.Context, hash string, id int64) (bool, error) {
	n, err := r.client.HDel(ctx, r.key(hash), strconv.FormatInt(id, 10)).Result()
	if err != nil {
		return false, fmt.Errorf("delete %s entry: %w", hash, err)
	}
	return n > 0, nil
}
