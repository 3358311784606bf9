package roleplay

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestJoinTimerFires(t *testing.T) {
	jt := NewJoinTimer(nil)
	defer jt.Stop()

	fired := make(chan string, 1)
	jt.Schedule("s1", 10*time.Millisecond, func(_ context.Context, id string) {
		fired <- id
	})

	select {
	case id := <-fired:
		if id != "s1" {
			t.Fatalf("expected s1, got %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}

	deadline := time.Now().Add(time.Second)
	for jt.Pending() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if jt.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", jt.Pending())
	}
}

func TestJoinTimerCancel(t *testing.T) {
	jt := NewJoinTimer(nil)
	defer jt.Stop()

	var calls atomic.Int32
	jt.Schedule("s1", 50*time.Millisecond, func(context.Context, string) { calls.Add(1) })

	if !jt.Cancel("s1") {
		t.Fatal("expected pending timer to be cancelled")
	}
	if jt.Cancel("s1") {
		t.Fatal("second cancel should report nothing stopped")
	}

	time.Sleep(100 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatal("cancelled timer fired")
	}
}

func TestJoinTimerRescheduleReplaces(t *testing.T) {
	jt := NewJoinTimer(nil)
	defer jt.Stop()

	var first, second atomic.Int32
	jt.Schedule("s1", 30*time.Millisecond, func(context.Context, string) { first.Add(1) })
	jt.Schedule("s1", 30*time.Millisecond, func(context.Context, string) { second.Add(1) })

	if jt.Pending() != 1 {
		t.Fatalf("expected one pending timer, got %d", jt.Pending())
	}
	time.Sleep(150 * time.Millisecond)
	if first.Load() != 0 || second.Load() != 1 {
		t.Fatalf("expected only replacement to fire, got first=%d second=%d", first.Load(), second.Load())
	}
}

func TestJoinTimerStop(t *testing.T) {
	jt := NewJoinTimer(nil)

	var calls atomic.Int32
	jt.Schedule("s1", time.Hour, func(context.Context, string) { calls.Add(1) })
	jt.Schedule("s2", time.Hour, func(context.Context, string) { calls.Add(1) })
	jt.Stop()

	if jt.Pending() != 0 {
		t.Fatalf("expected no pending timers after stop, got %d", jt.Pending())
	}

	jt.Schedule("s3", time.Millisecond, func(context.Context, string) { calls.Add(1) })
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatal("no callback may run after stop")
	}
}

// A fired timer whose session has already started must not disturb it.
func TestElapsedAfterForceStartIsHarmless(t *testing.T) {
	m, _, _ := newTestManager(t)
	id := mustCreate(t, m, 100, "free")
	mustJoin(t, m, id, 10, "A")

	if _, err := m.ForceStart(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	jt := NewJoinTimer(nil)
	defer jt.Stop()
	done := make(chan error, 1)
	jt.Schedule(id, time.Millisecond, func(ctx context.Context, sessionID string) {
		_, err := m.StartSession(ctx, sessionID)
		done <- err
	})

	select {
	case err := <-done:
		if err != ErrNotWaiting {
			t.Fatalf("expected ErrNotWaiting, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	if s, _ := m.GetSession(id); s.Status != StatusActive {
		t.Fatalf("session status changed to %s", s.Status)
	}
}
