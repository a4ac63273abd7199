// Package timeout tracks per-request countdown timers with early warnings.
package timeout

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JokerTrickster/unity-dice-sub000/internal/metrics"
)

// NotTracked is returned by RemainingTime for unknown request ids.
const NotTracked = time.Duration(-1)

// Callbacks receive timeout lifecycle notifications. Nil fields are skipped.
// Callbacks run on timer goroutines; they must not call back into the tracker
// synchronously while holding their own locks.
type Callbacks struct {
	OnTimeout   func(requestID, playerID string)
	OnWarning   func(requestID, playerID string, remaining time.Duration)
	OnCancelled func(requestID, playerID string)
}

type entry struct {
	requestID string
	playerID  string
	startedAt time.Time
	deadline  time.Time
	timer     *time.Timer
	warnTimer *time.Timer
}

// Tracker owns the live timeout table. One independent timer pair per entry;
// firing one entry never blocks another.
type Tracker struct {
	mu            sync.Mutex
	entries       map[string]*entry
	warningWindow time.Duration
	callbacks     Callbacks
	expiredCount  int64
	closed        bool
	log           *zap.Logger
}

// NewTracker builds a tracker that warns warningWindow before each deadline.
func NewTracker(warningWindow time.Duration, cb Callbacks, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	if warningWindow < 0 {
		warningWindow = 0
	}
	return &Tracker{
		entries:       make(map[string]*entry),
		warningWindow: warningWindow,
		callbacks:     cb,
		log:           log.With(zap.String("comp", "timeout")),
	}
}

// StartRequestTimeout begins a countdown for requestID. Starting a timeout
// for an already-tracked id replaces the old entry without a cancelled
// notification.
func (t *Tracker) StartRequestTimeout(requestID, playerID string, d time.Duration) bool {
	if requestID == "" || playerID == "" {
		t.log.Warn("rejecting timeout with empty id",
			zap.String("request_id", requestID), zap.String("player_id", playerID))
		return false
	}
	if d <= 0 {
		t.log.Warn("rejecting non-positive timeout duration",
			zap.String("request_id", requestID), zap.Duration("duration", d))
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}

	if old, exists := t.entries[requestID]; exists {
		t.log.Warn("replacing existing timeout", zap.String("request_id", requestID))
		stopEntry(old)
	}

	now := time.Now()
	e := &entry{
		requestID: requestID,
		playerID:  playerID,
		startedAt: now,
		deadline:  now.Add(d),
	}
	t.entries[requestID] = e
	t.arm(e, d)
	return true
}

// arm schedules the deadline and warning timers. Caller holds t.mu.
func (t *Tracker) arm(e *entry, remaining time.Duration) {
	e.timer = time.AfterFunc(remaining, func() { t.fire(e) })
	if t.warningWindow > 0 && remaining > t.warningWindow {
		e.warnTimer = time.AfterFunc(remaining-t.warningWindow, func() { t.warn(e) })
	}
}

// fire delivers the timed-out notification unless the entry was cancelled or
// replaced first. Cancel wins: whoever removes the entry from the table under
// the lock owns the notification.
func (t *Tracker) fire(e *entry) {
	t.mu.Lock()
	current, exists := t.entries[e.requestID]
	if !exists || current != e {
		t.mu.Unlock()
		return
	}
	delete(t.entries, e.requestID)
	stopEntry(e)
	t.expiredCount++
	t.mu.Unlock()

	metrics.TimeoutsFired.Inc()
	t.log.Info("request timed out",
		zap.String("request_id", e.requestID), zap.String("player_id", e.playerID))
	if t.callbacks.OnTimeout != nil {
		t.callbacks.OnTimeout(e.requestID, e.playerID)
	}
}

// warn fires the early warning without removing the entry.
func (t *Tracker) warn(e *entry) {
	t.mu.Lock()
	current, exists := t.entries[e.requestID]
	if !exists || current != e {
		t.mu.Unlock()
		return
	}
	remaining := time.Until(e.deadline)
	t.mu.Unlock()

	if t.callbacks.OnWarning != nil {
		t.callbacks.OnWarning(e.requestID, e.playerID, remaining)
	}
}

// CancelTimeout removes a tracked timeout and raises the cancelled
// notification. Returns false for unknown ids.
func (t *Tracker) CancelTimeout(requestID string) bool {
	t.mu.Lock()
	e, exists := t.entries[requestID]
	if !exists {
		t.mu.Unlock()
		t.log.Warn("cancel for unknown request", zap.String("request_id", requestID))
		return false
	}
	delete(t.entries, requestID)
	stopEntry(e)
	t.mu.Unlock()

	metrics.TimeoutsCancelled.Inc()
	if t.callbacks.OnCancelled != nil {
		t.callbacks.OnCancelled(e.requestID, e.playerID)
	}
	return true
}

// CancelPlayerTimeouts cancels every entry belonging to playerID and returns
// how many were cancelled.
func (t *Tracker) CancelPlayerTimeouts(playerID string) int {
	t.mu.Lock()
	var cancelled []*entry
	for id, e := range t.entries {
		if e.playerID == playerID {
			delete(t.entries, id)
			stopEntry(e)
			cancelled = append(cancelled, e)
		}
	}
	t.mu.Unlock()

	for _, e := range cancelled {
		metrics.TimeoutsCancelled.Inc()
		if t.callbacks.OnCancelled != nil {
			t.callbacks.OnCancelled(e.requestID, e.playerID)
		}
	}
	return len(cancelled)
}

// CancelAllTimeouts cancels every live entry and returns the count.
func (t *Tracker) CancelAllTimeouts() int {
	t.mu.Lock()
	cancelled := make([]*entry, 0, len(t.entries))
	for id, e := range t.entries {
		delete(t.entries, id)
		stopEntry(e)
		cancelled = append(cancelled, e)
	}
	t.mu.Unlock()

	for _, e := range cancelled {
		metrics.TimeoutsCancelled.Inc()
		if t.callbacks.OnCancelled != nil {
			t.callbacks.OnCancelled(e.requestID, e.playerID)
		}
	}
	return len(cancelled)
}

// ExtendTimeout adds extra time to a live deadline. Fails on unknown ids and
// non-positive extensions. The warning is re-armed against the new deadline.
func (t *Tracker) ExtendTimeout(requestID string, extra time.Duration) bool {
	if extra <= 0 {
		t.log.Warn("rejecting non-positive extension",
			zap.String("request_id", requestID), zap.Duration("extra", extra))
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, exists := t.entries[requestID]
	if !exists {
		return false
	}
	stopEntry(e)
	e.deadline = e.deadline.Add(extra)
	remaining := time.Until(e.deadline)
	if remaining <= 0 {
		// Deadline already passed before the extension landed; fire on the
		// next tick rather than synchronously under the lock.
		remaining = time.Nanosecond
	}
	t.arm(e, remaining)
	return true
}

// RemainingTime returns the time left before requestID fires, or NotTracked.
func (t *Tracker) RemainingTime(requestID string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, exists := t.entries[requestID]
	if !exists {
		return NotTracked
	}
	remaining := time.Until(e.deadline)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// ActiveTimeoutCount returns the number of live entries.
func (t *Tracker) ActiveTimeoutCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Stats is a snapshot over the live entry set.
type Stats struct {
	ActiveCount          int
	UniquePlayersWaiting int
	AverageWaitTime      time.Duration
	MaxWaitTime          time.Duration
	ExpiredCount         int64
}

// GetTimeoutStats computes aggregate wait statistics for the live entries.
func (t *Tracker) GetTimeoutStats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := Stats{ActiveCount: len(t.entries), ExpiredCount: t.expiredCount}
	if len(t.entries) == 0 {
		return stats
	}

	now := time.Now()
	players := make(map[string]struct{}, len(t.entries))
	var total time.Duration
	for _, e := range t.entries {
		players[e.playerID] = struct{}{}
		wait := now.Sub(e.startedAt)
		total += wait
		if wait > stats.MaxWaitTime {
			stats.MaxWaitTime = wait
		}
	}
	stats.UniquePlayersWaiting = len(players)
	stats.AverageWaitTime = total / time.Duration(len(t.entries))
	return stats
}

// Close stops every live timer. No callback fires after Close returns the
// table empty; subsequent starts are rejected.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, e := range t.entries {
		delete(t.entries, id)
		stopEntry(e)
	}
}

func stopEntry(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.warnTimer != nil {
		e.warnTimer.Stop()
	}
}
