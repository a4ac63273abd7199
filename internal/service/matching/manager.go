// Package matching drives the client-side matching lifecycle: the state
// machine, the intents submitted by the host application and the routing of
// inbound server messages.
package matching

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JokerTrickster/unity-dice-sub000/internal/domain"
	"github.com/JokerTrickster/unity-dice-sub000/internal/metrics"
	"github.com/JokerTrickster/unity-dice-sub000/internal/repository/kvstore"
	"github.com/JokerTrickster/unity-dice-sub000/internal/timeout"
)

// selectionKey is the durable-subset storage key.
const selectionKey = "matching:selection"

// adjacency is the authoritative legal-transition table. A same-state request
// is always legal and treated as a no-op signal.
var adjacency = map[domain.MatchingState][]domain.MatchingState{
	domain.MatchingIdle:      {domain.MatchingSearching},
	domain.MatchingSearching: {domain.MatchingFound, domain.MatchingCancelled, domain.MatchingFailed},
	domain.MatchingFound:     {domain.MatchingStarting, domain.MatchingCancelled},
	domain.MatchingStarting:  {domain.MatchingIdle, domain.MatchingError},
	domain.MatchingCancelled: {domain.MatchingIdle},
	domain.MatchingFailed:    {domain.MatchingIdle},
	domain.MatchingError:     {domain.MatchingIdle},
}

// StateCallbacks receive matching lifecycle notifications. Nil fields are
// skipped. OnStateTimeout is distinct from a failed-match response: it means
// the configured per-state deadline expired locally.
type StateCallbacks struct {
	OnStateChanged     func(from, to domain.MatchingState, reason string)
	OnTransitionFailed func(from, to domain.MatchingState, reason string)
	OnStateTimeout     func(state domain.MatchingState)
}

// StateConfig tunes the state machine.
type StateConfig struct {
	// StateTimeouts maps states to the deadline after which the machine
	// force-transitions to Failed. Typically just Searching.
	StateTimeouts map[domain.MatchingState]time.Duration
	// WarningWindow is forwarded to the internal timeout tracker.
	WarningWindow time.Duration
}

// durableSelection is the persisted subset of MatchingStateInfo.
type durableSelection struct {
	GameMode    string `json:"gameMode"`
	MatchType   string `json:"matchType"`
	PlayerCount int    `json:"playerCount"`
}

// StateManager enforces the legal matching lifecycle and carries the state's
// associated data.
type StateManager struct {
	mu        sync.Mutex
	state     domain.MatchingState
	info      *domain.MatchingStateInfo
	canChange bool
	playerID  string

	cfg       StateConfig
	callbacks StateCallbacks
	tracker   *timeout.Tracker
	store     kvstore.Store
	log       *zap.Logger
}

// NewStateManager builds a manager in Idle. The durable selection subset is
// restored from the store, but the logical state always starts at Idle:
// matches are never resumed across process restarts.
func NewStateManager(cfg StateConfig, cb StateCallbacks, store kvstore.Store, log *zap.Logger) *StateManager {
	if log == nil {
		log = zap.NewNop()
	}
	if store == nil {
		store = kvstore.NewMemoryStore()
	}
	m := &StateManager{
		state:     domain.MatchingIdle,
		info:      domain.NewMatchingStateInfo(),
		canChange: true,
		playerID:  "local",
		cfg:       cfg,
		callbacks: cb,
		store:     store,
		log:       log.With(zap.String("comp", "matching")),
	}
	m.tracker = timeout.NewTracker(cfg.WarningWindow, timeout.Callbacks{
		OnTimeout: m.handleStateTimeout,
	}, log)
	m.restoreSelection()
	return m
}

// SetPlayerID records the identity used for state timeout tracking.
func (m *StateManager) SetPlayerID(id string) {
	if id == "" {
		return
	}
	m.mu.Lock()
	m.playerID = id
	m.mu.Unlock()
}

// CurrentState returns the current matching state.
func (m *StateManager) CurrentState() domain.MatchingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StateInfo returns the mutable metadata attached to the state machine.
func (m *StateManager) StateInfo() *domain.MatchingStateInfo {
	return m.info
}

// SetCanChangeState is a global gate: while false every ChangeState call
// fails regardless of adjacency. Used to freeze the machine during teardown.
func (m *StateManager) SetCanChangeState(allowed bool) {
	m.mu.Lock()
	m.canChange = allowed
	m.mu.Unlock()
}

// GetPossibleNextStates returns a copy of the adjacency row for the current
// state, for UI action gating.
func (m *StateManager) GetPossibleNextStates() []domain.MatchingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.MatchingState(nil), adjacency[m.state]...)
}

// ChangeState requests a transition. A same-state request always succeeds as
// a no-op signal. Invalid transitions leave state untouched and raise the
// transition-failed notification.
func (m *StateManager) ChangeState(next domain.MatchingState, reason string) bool {
	m.mu.Lock()
	from := m.state

	if !m.canChange {
		m.mu.Unlock()
		m.log.Warn("state change rejected by gate",
			zap.String("from", from.String()), zap.String("to", next.String()),
			zap.String("reason", reason))
		metrics.StateTransitions.WithLabelValues(from.String(), next.String(), "gated").Inc()
		if m.callbacks.OnTransitionFailed != nil {
			m.callbacks.OnTransitionFailed(from, next, reason)
		}
		return false
	}

	if next == from {
		m.mu.Unlock()
		m.log.Debug("same-state signal",
			zap.String("state", from.String()), zap.String("reason", reason))
		if m.callbacks.OnStateChanged != nil {
			m.callbacks.OnStateChanged(from, next, reason)
		}
		return true
	}

	if !isLegal(from, next) {
		m.mu.Unlock()
		m.log.Warn("invalid state transition",
			zap.String("from", from.String()), zap.String("to", next.String()),
			zap.String("reason", reason))
		metrics.StateTransitions.WithLabelValues(from.String(), next.String(), "rejected").Inc()
		if m.callbacks.OnTransitionFailed != nil {
			m.callbacks.OnTransitionFailed(from, next, reason)
		}
		return false
	}

	m.applyLocked(from, next)
	m.mu.Unlock()

	m.persistSelection()
	metrics.StateTransitions.WithLabelValues(from.String(), next.String(), "ok").Inc()
	m.log.Info("matching state changed",
		zap.String("from", from.String()), zap.String("to", next.String()),
		zap.String("reason", reason))
	if m.callbacks.OnStateChanged != nil {
		m.callbacks.OnStateChanged(from, next, reason)
	}
	return true
}

// applyLocked mutates the state and manages the per-state timeout entries.
// Caller holds m.mu.
func (m *StateManager) applyLocked(from, next domain.MatchingState) {
	m.state = next
	m.info.MarkStateEntered(time.Now())
	if next == domain.MatchingIdle {
		m.info.ClearTransient()
	}

	m.tracker.CancelTimeout(stateTimeoutID(from))
	if d, ok := m.cfg.StateTimeouts[next]; ok && d > 0 {
		m.tracker.StartRequestTimeout(stateTimeoutID(next), m.playerID, d)
	}
}

// ForceReset unconditionally returns to Idle, bypassing adjacency and the
// gate. Used for error recovery and teardown.
func (m *StateManager) ForceReset() {
	m.mu.Lock()
	from := m.state
	m.state = domain.MatchingIdle
	m.info.MarkStateEntered(time.Now())
	m.info.ClearTransient()
	m.mu.Unlock()

	m.tracker.CancelAllTimeouts()
	m.log.Info("matching state force reset", zap.String("from", from.String()))
	if from != domain.MatchingIdle && m.callbacks.OnStateChanged != nil {
		m.callbacks.OnStateChanged(from, domain.MatchingIdle, "force_reset")
	}
}

// handleStateTimeout fires when a configured per-state deadline expires: the
// machine force-transitions to Failed.
func (m *StateManager) handleStateTimeout(requestID, _ string) {
	m.mu.Lock()
	from := m.state
	if requestID != stateTimeoutID(from) {
		// A transition already left the timed-out state.
		m.mu.Unlock()
		return
	}
	m.applyLocked(from, domain.MatchingFailed)
	m.mu.Unlock()

	m.persistSelection()
	metrics.StateTransitions.WithLabelValues(from.String(), domain.MatchingFailed.String(), "timeout").Inc()
	m.log.Warn("matching state timed out", zap.String("state", from.String()))
	if m.callbacks.OnStateTimeout != nil {
		m.callbacks.OnStateTimeout(from)
	}
	if m.callbacks.OnStateChanged != nil {
		m.callbacks.OnStateChanged(from, domain.MatchingFailed, "state_timeout")
	}
}

// Close freezes the machine and stops its timers.
func (m *StateManager) Close() {
	m.SetCanChangeState(false)
	m.tracker.Close()
}

func isLegal(from, to domain.MatchingState) bool {
	for _, s := range adjacency[from] {
		if s == to {
			return true
		}
	}
	return false
}

func stateTimeoutID(s domain.MatchingState) string {
	return "state:" + s.String()
}

// persistSelection saves the durable subset on every successful transition.
func (m *StateManager) persistSelection() {
	sel := durableSelection{
		GameMode:    m.info.GameMode(),
		MatchType:   m.info.MatchType(),
		PlayerCount: m.info.PlayerCount(),
	}
	data, err := json.Marshal(sel)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.store.Set(ctx, selectionKey, string(data)); err != nil {
		m.log.Warn("failed to persist matching selection", zap.Error(err))
	}
}

// restoreSelection loads the durable subset at construction time.
func (m *StateManager) restoreSelection() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := m.store.Get(ctx, selectionKey)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			m.log.Warn("failed to restore matching selection", zap.Error(err))
		}
		return
	}
	var sel durableSelection
	if err := json.Unmarshal([]byte(data), &sel); err != nil {
		m.log.Warn("stored matching selection is corrupt", zap.Error(err))
		return
	}
	if sel.GameMode != "" {
		m.info.SetGameMode(sel.GameMode)
	}
	if sel.MatchType != "" {
		m.info.SetMatchType(sel.MatchType)
	}
	if sel.PlayerCount != 0 {
		m.info.SetPlayerCount(sel.PlayerCount)
	}
}
