package roleplay

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ElapsedFunc runs when a join window closes.
type ElapsedFunc func(ctx context.Context, sessionID string)

// JoinTimer schedules one-shot join-window callbacks per session.
// Cancellation only saves work: callbacks must still re-check the session
// state when they fire.
type JoinTimer struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup
	log    *slog.Logger
}

// NewJoinTimer creates a timer set whose callbacks receive a context that is
// cancelled by Stop.
func NewJoinTimer(logger *slog.Logger) *JoinTimer {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JoinTimer{
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[string]*time.Timer),
		log:    logger,
	}
}

// Schedule runs fn for sessionID after d. Scheduling again for the same
// session replaces the previous timer.
func (j *JoinTimer) Schedule(sessionID string, d time.Duration, fn ElapsedFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.ctx.Err() != nil {
		return
	}
	if prev, ok := j.timers[sessionID]; ok && prev.Stop() {
		j.wg.Done()
	}

	j.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		defer j.wg.Done()

		j.mu.Lock()
		if j.timers[sessionID] == t {
			delete(j.timers, sessionID)
		}
		j.mu.Unlock()

		if j.ctx.Err() != nil {
			return
		}
		j.log.Debug("Join window elapsed", "session_id", sessionID)
		fn(j.ctx, sessionID)
	})
	j.timers[sessionID] = t
}

// Cancel stops the pending timer for sessionID and reports whether one was stopped.
func (j *JoinTimer) Cancel(sessionID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	t, ok := j.timers[sessionID]
	if !ok {
		return false
	}
	delete(j.timers, sessionID)
	if t.Stop() {
		j.wg.Done()
		return true
	}
	return false
}

// Pending returns the number of timers that have not fired yet.
func (j *JoinTimer) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.timers)
}

// Stop cancels every pending timer and waits for running callbacks to return.
func (j *JoinTimer) Stop() {
	j.mu.Lock()
	j.cancel()
	for id, t := range j.timers {
		if t.Stop() {
			j.wg.Done()
		}
		delete(j.timers, id)
	}
	j.mu.Unlock()

	j.wg.Wait()
	j.log.Info("Join timers stopped")
}
