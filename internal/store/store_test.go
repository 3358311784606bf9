package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ashureev/rolecall/internal/domain"
)

type backend struct {
	name string
	open func(t *testing.T, now func() time.Time) Repository
}

func backends() []backend {
	return []backend{
		{"sqlite", func(t *testing.T, now func() time.Time) Repository {
			t.Helper()
			s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "test.db"), DefaultRetryPolicy())
			if err != nil {
				t.Fatalf("NewSQLite failed: %v", err)
			}
			s.now = now
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
		{"redis", func(t *testing.T, now func() time.Time) Repository {
			t.Helper()
			mr := miniredis.RunT(t)
			s, err := NewRedis(RedisOptions{Addr: mr.Addr(), Prefix: "test"})
			if err != nil {
				t.Fatalf("NewRedis failed: %v", err)
			}
			s.now = now
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
	}
}

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Unix(1_700_000_000, 0)}
}

// Now advances one second per call so ordering by timestamp is stable.
func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func TestGatewayCounters(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			repo := b.open(t, newStepClock().Now)

			if _, err := repo.GetUserCounters(ctx, 1); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
			}

			if err := repo.UpsertUser(ctx, 1, domain.Profile{Username: "@alice", FirstName: "Alice"}); err != nil {
				t.Fatalf("UpsertUser failed: %v", err)
			}
			if err := repo.UpsertUser(ctx, 1, domain.Profile{Username: "alice", FirstName: "Alicia"}); err != nil {
				t.Fatalf("second UpsertUser failed: %v", err)
			}

			for i := 0; i < 3; i++ {
				if err := repo.IncrementUserCounters(ctx, 1, domain.Counters{TotalResponses: 1, TotalMessages: 1}); err != nil {
					t.Fatalf("IncrementUserCounters failed: %v", err)
				}
			}
			if err := repo.IncrementUserCounters(ctx, 1, domain.Counters{SessionsPlayed: 1}); err != nil {
				t.Fatalf("IncrementUserCounters failed: %v", err)
			}

			got, err := repo.GetUserCounters(ctx, 1)
			if err != nil {
				t.Fatalf("GetUserCounters failed: %v", err)
			}
			want := domain.Counters{TotalResponses: 3, SessionsPlayed: 1, TotalMessages: 3}
			if got != want {
				t.Fatalf("expected %+v, got %+v", want, got)
			}

			u, err := repo.GetUser(ctx, 1)
			if err != nil || u == nil {
				t.Fatalf("GetUser failed: %v", err)
			}
			if u.Username != "alice" || u.FirstName != "Alicia" {
				t.Fatalf("expected refreshed profile, got %+v", u.Profile)
			}

			found, err := repo.FindUserByUsername(ctx, "@ALICE")
			if err != nil || found == nil || found.UserID != 1 {
				t.Fatalf("FindUserByUsername failed: %v %+v", err, found)
			}
		})
	}
}

func TestGatewayIncrementCreatesMissingUser(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			repo := b.open(t, time.Now)

			if err := repo.IncrementUserCounters(ctx, 42, domain.Counters{SessionsPlayed: 1}); err != nil {
				t.Fatalf("IncrementUserCounters failed: %v", err)
			}
			got, err := repo.GetUserCounters(ctx, 42)
			if err != nil {
				t.Fatalf("GetUserCounters failed: %v", err)
			}
			if got.SessionsPlayed != 1 {
				t.Fatalf("expected sessions_played=1, got %d", got.SessionsPlayed)
			}
		})
	}
}

func TestGatewayRejectsNegativeDelta(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			repo := b.open(t, time.Now)
			err := repo.IncrementUserCounters(context.Background(), 1, domain.Counters{TotalMessages: -1})
			if !errors.Is(err, ErrNegativeDelta) {
				t.Fatalf("expected ErrNegativeDelta, got %v", err)
			}
		})
	}
}

func TestGatewayUnlockIsIdempotent(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			repo := b.open(t, newStepClock().Now)

			has, err := repo.HasAchievement(ctx, 7, "veteran")
			if err != nil || has {
				t.Fatalf("expected no achievement yet, got %v %v", has, err)
			}

			first, err := repo.UnlockAchievement(ctx, 7, "veteran")
			if err != nil || !first {
				t.Fatalf("first unlock: expected true, got %v %v", first, err)
			}
			second, err := repo.UnlockAchievement(ctx, 7, "veteran")
			if err != nil || second {
				t.Fatalf("second unlock: expected false, got %v %v", second, err)
			}
			if _, err := repo.UnlockAchievement(ctx, 7, "word_master"); err != nil {
				t.Fatalf("unlock word_master: %v", err)
			}

			has, err = repo.HasAchievement(ctx, 7, "veteran")
			if err != nil || !has {
				t.Fatalf("expected achievement recorded, got %v %v", has, err)
			}

			list, err := repo.ListAchievements(ctx, 7)
			if err != nil {
				t.Fatalf("ListAchievements failed: %v", err)
			}
			if len(list) != 2 {
				t.Fatalf("expected 2 unlocks without duplicates, got %d", len(list))
			}
			if list[0].AchievementID != "word_master" {
				t.Fatalf("expected newest first, got %s", list[0].AchievementID)
			}
		})
	}
}

func TestGatewayConcurrentUnlockReportsOnce(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			repo := b.open(t, time.Now)

			const workers = 8
			var wg sync.WaitGroup
			var mu sync.Mutex
			newCount := 0
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := repo.UnlockAchievement(ctx, 9, "first_roleplay")
					if err != nil {
						t.Errorf("UnlockAchievement failed: %v", err)
						return
					}
					if ok {
						mu.Lock()
						newCount++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			if newCount != 1 {
				t.Fatalf("expected exactly one new unlock, got %d", newCount)
			}
		})
	}
}

func TestTopPlayers(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			repo := b.open(t, time.Now)

			must := func(err error) {
				t.Helper()
				if err != nil {
					t.Fatal(err)
				}
			}
			must(repo.UpsertUser(ctx, 1, domain.Profile{Username: "idle"}))
			must(repo.IncrementUserCounters(ctx, 2, domain.Counters{TotalResponses: 5, SessionsPlayed: 1}))
			must(repo.IncrementUserCounters(ctx, 3, domain.Counters{TotalResponses: 5, SessionsPlayed: 3}))
			must(repo.IncrementUserCounters(ctx, 4, domain.Counters{TotalResponses: 9}))
			if _, err := repo.UnlockAchievement(ctx, 3, "veteran"); err != nil {
				t.Fatal(err)
			}

			top, err := repo.TopPlayers(ctx, 10)
			if err != nil {
				t.Fatalf("TopPlayers failed: %v", err)
			}
			var ids []int64
			for _, p := range top {
				ids = append(ids, p.UserID)
			}
			want := []int64{4, 3, 2}
			if len(ids) != len(want) {
				t.Fatalf("expected %v, got %v", want, ids)
			}
			for i := range want {
				if ids[i] != want[i] {
					t.Fatalf("expected %v, got %v", want, ids)
				}
			}
			if top[1].AchievementCount != 1 {
				t.Fatalf("expected achievement count 1 for user 3, got %d", top[1].AchievementCount)
			}

			limited, err := repo.TopPlayers(ctx, 1)
			if err != nil || len(limited) != 1 {
				t.Fatalf("expected a single row, got %d (%v)", len(limited), err)
			}
		})
	}
}

func TestModeratorsAndChats(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			clock := newStepClock()
			repo := b.open(t, clock.Now)

			if err := repo.UpsertUser(ctx, 100, domain.Profile{Username: "admin"}); err != nil {
				t.Fatal(err)
			}
			if err := repo.AddModerator(ctx, domain.Moderator{UserID: 5, Username: "@mod", AddedBy: 100}); err != nil {
				t.Fatalf("AddModerator failed: %v", err)
			}
			if err := repo.AddModerator(ctx, domain.Moderator{UserID: 6, Username: "mod2", AddedBy: 100}); err != nil {
				t.Fatalf("AddModerator failed: %v", err)
			}

			ok, err := repo.IsModerator(ctx, 5)
			if err != nil || !ok {
				t.Fatalf("expected moderator, got %v %v", ok, err)
			}
			mods, err := repo.ListModerators(ctx)
			if err != nil || len(mods) != 2 {
				t.Fatalf("expected 2 moderators, got %d (%v)", len(mods), err)
			}
			if mods[0].UserID != 5 || mods[0].Username != "mod" || mods[0].AddedByUsername != "admin" {
				t.Fatalf("unexpected first moderator %+v", mods[0])
			}

			removed, err := repo.RemoveModerator(ctx, 5)
			if err != nil || !removed {
				t.Fatalf("expected removal, got %v %v", removed, err)
			}
			removed, err = repo.RemoveModerator(ctx, 5)
			if err != nil || removed {
				t.Fatalf("expected second removal to report false, got %v %v", removed, err)
			}

			if err := repo.UpsertChat(ctx, domain.Chat{ChatID: -1001, Title: "Band", Type: "supergroup", AddedBy: 100}); err != nil {
				t.Fatalf("UpsertChat failed: %v", err)
			}
			if err := repo.UpsertChat(ctx, domain.Chat{ChatID: -1002, Title: "Crew", Type: "group", AddedBy: 100}); err != nil {
				t.Fatalf("UpsertChat failed: %v", err)
			}
			chats, err := repo.ListChats(ctx)
			if err != nil || len(chats) != 2 {
				t.Fatalf("expected 2 chats, got %d (%v)", len(chats), err)
			}
			if chats[0].ChatID != -1002 {
				t.Fatalf("expected most recent chat first, got %d", chats[0].ChatID)
			}
			if removed, err := repo.RemoveChat(ctx, -1001); err != nil || !removed {
				t.Fatalf("expected chat removal, got %v %v", removed, err)
			}
		})
	}
}

func TestIsConflictError(t *testing.T) {
	if IsConflictError(nil) {
		t.Error("nil is not a conflict")
	}
	if !IsConflictError(errors.New("database is locked")) {
		t.Error("expected locked error to be a conflict")
	}
	if IsConflictError(errors.New("no such table")) {
		t.Error("expected schema error not to be a conflict")
	}
}

func TestWithRetryStopsOnNonConflict(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}, "op", func() error {
		calls++
		return errors.New("boom")
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected one call and an error, got %d calls (%v)", calls, err)
	}

	calls = 0
	err = withRetry(context.Background(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, "op", func() error {
		calls++
		if calls < 3 {
			return errors.New("SQLITE_BUSY")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third attempt, got %d calls (%v)", calls, err)
	}
}
