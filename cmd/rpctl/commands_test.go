package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashureev/rolecall/internal/domain"
	"github.com/ashureev/rolecall/internal/store"
)

const testAdminID = 1

func testOpener(t *testing.T) (opener, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rpctl.db")
	return func(o storeFlags) (store.Repository, int64, error) {
		p := path
		if o.dbPath != "" {
			p = o.dbPath
		}
		repo, err := store.NewSQLite(p, store.DefaultRetryPolicy())
		return repo, testAdminID, err
	}, path
}

func run(t *testing.T, open opener, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out, open)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func seed(t *testing.T, path string) {
	t.Helper()
	repo, err := store.NewSQLite(path, store.DefaultRetryPolicy())
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()
	ctx := context.Background()
	if err := repo.UpsertUser(ctx, 7, domain.Profile{Username: "pico", FirstName: "Bea"}); err != nil {
		t.Fatal(err)
	}
	if err := repo.IncrementUserCounters(ctx, 7, domain.Counters{TotalResponses: 4, SessionsPlayed: 1, TotalMessages: 4}); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.UnlockAchievement(ctx, 7, "first_roleplay"); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpsertChat(ctx, domain.Chat{ChatID: -100, Title: "Stage", Type: "supergroup"}); err != nil {
		t.Fatal(err)
	}
}

func TestModeratorCommands(t *testing.T) {
	open, path := testOpener(t)
	seed(t, path)

	out, err := run(t, open, "moderators", "list")
	if err != nil || !strings.Contains(out, "No moderators.") {
		t.Fatalf("expected empty list, got %q %v", out, err)
	}

	if _, err := run(t, open, "moderators", "add", "1"); err == nil {
		t.Fatal("expected error promoting the administrator")
	}
	if _, err := run(t, open, "moderators", "add", "seven"); err == nil {
		t.Fatal("expected error for a non-numeric id")
	}

	if out, err := run(t, open, "moderators", "add", "7"); err != nil || !strings.Contains(out, "Moderator 7 added.") {
		t.Fatalf("add failed: %q %v", out, err)
	}
	out, err = run(t, open, "moderators", "list")
	if err != nil || !strings.Contains(out, "pico") || !strings.Contains(out, "Bea") {
		t.Fatalf("expected moderator row, got %q %v", out, err)
	}

	if _, err := run(t, open, "moderators", "remove", "7"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := run(t, open, "moderators", "remove", "7"); err == nil {
		t.Fatal("expected error removing a non-moderator")
	}
}

func TestChatCommands(t *testing.T) {
	open, path := testOpener(t)
	seed(t, path)

	out, err := run(t, open, "chats", "list")
	if err != nil || !strings.Contains(out, "-100") || !strings.Contains(out, "Stage") {
		t.Fatalf("expected chat row, got %q %v", out, err)
	}
	if out, err := run(t, open, "chats", "remove", "--", "-100"); err != nil || !strings.Contains(out, "Chat -100 removed.") {
		t.Fatalf("remove failed: %q %v", out, err)
	}
	if out, _ := run(t, open, "chats", "list"); !strings.Contains(out, "No chats.") {
		t.Fatalf("expected no chats, got %q", out)
	}
}

func TestTopAndStats(t *testing.T) {
	open, path := testOpener(t)
	seed(t, path)

	out, err := run(t, open, "top", "--limit", "5")
	if err != nil || !strings.Contains(out, "Bea") {
		t.Fatalf("expected leaderboard row, got %q %v", out, err)
	}
	if _, err := run(t, open, "top", "--limit", "0"); err == nil {
		t.Fatal("expected error for zero limit")
	}

	for _, ref := range []string{"7", "@pico"} {
		out, err := run(t, open, "stats", ref)
		if err != nil {
			t.Fatalf("stats %s: %v", ref, err)
		}
		if !strings.Contains(out, "Responses: 4") || !strings.Contains(out, "first_roleplay") {
			t.Fatalf("stats %s: unexpected output %q", ref, out)
		}
	}
	if _, err := run(t, open, "stats", "@nobody"); err == nil {
		t.Fatal("expected error for unknown user")
	}
}

func TestDBFlagOverridesPath(t *testing.T) {
	open, _ := testOpener(t)
	other := filepath.Join(t.TempDir(), "other.db")
	seed(t, other)

	out, err := run(t, open, "--db", other, "chats", "list")
	if err != nil || !strings.Contains(out, "Stage") {
		t.Fatalf("expected chats from --db path, got %q %v", out, err)
	}
}
