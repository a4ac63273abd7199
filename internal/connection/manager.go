// Package connection owns the connection state machine and the reconnection
// policy, abstracting the transport behind injected primitives.
package connection

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JokerTrickster/unity-dice-sub000/internal/domain"
	"github.com/JokerTrickster/unity-dice-sub000/internal/metrics"
)

// Funcs are the four transport primitives the manager drives.
type Funcs struct {
	Connect     func(ctx context.Context) error
	Disconnect  func(ctx context.Context) error
	Send        func(ctx context.Context, payload string) error
	IsConnected func() bool
}

// Callbacks receive connection lifecycle notifications. Nil fields are
// skipped. Attempt-failed and max-attempts-reached are distinct: the former
// fires per attempt, the latter exactly once when the schedule is exhausted.
type Callbacks struct {
	OnStateChanged       func(old, new domain.ConnectionState)
	OnReconnectProgress  func(attempt, maxAttempts int)
	OnReconnectFailed    func(attempt int, err error)
	OnMaxAttemptsReached func(attempts int)
}

// Config is the reconnection policy.
type Config struct {
	// MaxReconnectAttempts bounds the loop; zero disables auto-reconnect.
	MaxReconnectAttempts int
	// ReconnectSchedule is the explicit per-attempt delay table. The last
	// value is reused once the table is exhausted.
	ReconnectSchedule []time.Duration
}

// Manager is the connection state machine. All transitions happen under its
// lock; callbacks are dispatched outside it.
type Manager struct {
	mu    sync.Mutex
	state domain.ConnectionState

	funcs     Funcs
	callbacks Callbacks
	cfg       Config

	attempt           int
	disconnectedSince time.Time

	loopCancel context.CancelFunc
	loopDone   chan struct{}

	log *zap.Logger
}

// NewManager builds a manager in the Disconnected state.
func NewManager(cfg Config, funcs Funcs, cb Callbacks, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if len(cfg.ReconnectSchedule) == 0 {
		cfg.ReconnectSchedule = []time.Duration{time.Second}
	}
	return &Manager{
		state:     domain.ConnDisconnected,
		funcs:     funcs,
		callbacks: cb,
		cfg:       cfg,
		log:       log.With(zap.String("comp", "connection")),
	}
}

// CurrentState returns the connection state.
func (m *Manager) CurrentState() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the manager considers itself connected.
func (m *Manager) IsConnected() bool {
	return m.CurrentState() == domain.ConnConnected
}

// IsReconnecting reports whether the reconnection loop is live.
func (m *Manager) IsReconnecting() bool {
	return m.CurrentState() == domain.ConnReconnecting
}

// CurrentReconnectAttempt returns the attempt counter. It resets on every
// successful connect and on every fresh StartReconnection call.
func (m *Manager) CurrentReconnectAttempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

func (m *Manager) setState(next domain.ConnectionState) {
	m.mu.Lock()
	old := m.state
	if old == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	if next == domain.ConnDisconnected || next == domain.ConnFailed {
		m.disconnectedSince = time.Now()
	}
	m.mu.Unlock()

	metrics.ConnectionState.Set(float64(next))
	m.log.Info("connection state changed",
		zap.String("from", old.String()), zap.String("to", next.String()))
	if m.callbacks.OnStateChanged != nil {
		m.callbacks.OnStateChanged(old, next)
	}
}

// ConnectAsync attempts a single connect. Legal from Disconnected and Failed;
// on failure the manager moves toward Reconnecting per policy, or back to
// Disconnected when auto-reconnect is off.
func (m *Manager) ConnectAsync(ctx context.Context) error {
	m.mu.Lock()
	if m.state != domain.ConnDisconnected && m.state != domain.ConnFailed {
		state := m.state
		m.mu.Unlock()
		m.log.Warn("connect ignored in current state", zap.String("state", state.String()))
		return domain.ErrInvalidTransition
	}
	m.mu.Unlock()

	m.setState(domain.ConnConnecting)
	err := m.funcs.Connect(ctx)
	if err == nil {
		m.mu.Lock()
		m.attempt = 0
		m.mu.Unlock()
		m.setState(domain.ConnConnected)
		return nil
	}

	m.log.Warn("connect attempt failed", zap.Error(err))
	if m.cfg.MaxReconnectAttempts > 0 {
		m.StartReconnection()
	} else {
		m.setState(domain.ConnDisconnected)
	}
	return err
}

// DisconnectAsync is always legal: it cancels any in-flight reconnection
// loop, invokes the transport disconnect and forces Disconnected.
func (m *Manager) DisconnectAsync(ctx context.Context) error {
	m.stopLoop()
	var err error
	if m.funcs.Disconnect != nil {
		err = m.funcs.Disconnect(ctx)
	}
	m.setState(domain.ConnDisconnected)
	return err
}

// HandleConnectionLost is called by the transport when an established
// connection drops. It triggers the reconnection policy.
func (m *Manager) HandleConnectionLost(err error) {
	if m.CurrentState() != domain.ConnConnected {
		return
	}
	m.log.Warn("connection lost", zap.Error(err))
	if m.cfg.MaxReconnectAttempts > 0 {
		m.StartReconnection()
	} else {
		m.setState(domain.ConnDisconnected)
	}
}

// StartReconnection begins a fresh reconnection loop, resetting the attempt
// counter. A loop already in flight is restarted.
func (m *Manager) StartReconnection() {
	m.stopLoop()

	m.mu.Lock()
	m.attempt = 0
	ctx, cancel := context.WithCancel(context.Background())
	m.loopCancel = cancel
	done := make(chan struct{})
	m.loopDone = done
	m.mu.Unlock()

	m.setState(domain.ConnReconnecting)
	go m.reconnectLoop(ctx, done)
}

// StopReconnection cancels the loop before its next scheduled attempt.
func (m *Manager) StopReconnection() {
	stopped := m.stopLoop()
	if stopped && m.CurrentState() == domain.ConnReconnecting {
		m.setState(domain.ConnDisconnected)
	}
}

// stopLoop cancels the running loop and waits for it to exit, so no attempt
// or notification lands after the caller proceeds.
func (m *Manager) stopLoop() bool {
	m.mu.Lock()
	cancel := m.loopCancel
	done := m.loopDone
	m.loopCancel = nil
	m.loopDone = nil
	m.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	if done != nil {
		<-done
	}
	return true
}

// delayFor returns the schedule entry for a 1-based attempt, reusing the last
// value once the table is exhausted.
func (m *Manager) delayFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx >= len(m.cfg.ReconnectSchedule) {
		idx = len(m.cfg.ReconnectSchedule) - 1
	}
	return m.cfg.ReconnectSchedule[idx]
}

func (m *Manager) reconnectLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		m.mu.Lock()
		if m.attempt >= m.cfg.MaxReconnectAttempts {
			attempts := m.attempt
			m.mu.Unlock()
			m.setState(domain.ConnFailed)
			metrics.ReconnectExhausted.Inc()
			m.log.Error("reconnection attempts exhausted", zap.Int("attempts", attempts))
			if m.callbacks.OnMaxAttemptsReached != nil {
				m.callbacks.OnMaxAttemptsReached(attempts)
			}
			return
		}
		m.attempt++
		attempt := m.attempt
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.delayFor(attempt)):
		}

		metrics.ReconnectAttempts.Inc()
		m.log.Info("reconnection attempt",
			zap.Int("attempt", attempt), zap.Int("max", m.cfg.MaxReconnectAttempts))
		if m.callbacks.OnReconnectProgress != nil {
			m.callbacks.OnReconnectProgress(attempt, m.cfg.MaxReconnectAttempts)
		}

		err := m.funcs.Connect(ctx)
		if err == nil {
			m.mu.Lock()
			m.attempt = 0
			m.loopCancel = nil
			m.loopDone = nil
			m.mu.Unlock()
			m.setState(domain.ConnConnected)
			return
		}
		if ctx.Err() != nil {
			return
		}
		m.log.Warn("reconnection attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if m.callbacks.OnReconnectFailed != nil {
			m.callbacks.OnReconnectFailed(attempt, err)
		}
	}
}

// Send forwards a payload through the injected send primitive.
func (m *Manager) Send(ctx context.Context, payload string) error {
	if !m.IsConnected() {
		return domain.ErrNotConnected
	}
	return m.funcs.Send(ctx, payload)
}

// Close stops any background activity. The manager is not usable afterwards.
func (m *Manager) Close() {
	m.stopLoop()
}
