// Package queue buffers outbound messages in priority order and drives a
// single send pump against a pluggable transport function.
package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JokerTrickster/unity-dice-sub000/internal/domain"
	"github.com/JokerTrickster/unity-dice-sub000/internal/metrics"
)

// SendFunc hands one payload to the transport. The context is cancelled when
// the queue is disposed.
type SendFunc func(ctx context.Context, payload string) error

type queuedMessage struct {
	payload    string
	priority   domain.MessagePriority
	enqueuedAt time.Time
	attempts   int
}

// Config tunes the queue pump.
type Config struct {
	RetryLimit int           // sends attempted per message before dropping it
	RetryDelay time.Duration // pause after a failed send
}

// Queue is a priority-ordered outbound buffer. Enqueue is safe for concurrent
// producers; a single pump goroutine is the only consumer.
type Queue struct {
	mu       sync.Mutex
	tiers    [3][]*queuedMessage // indexed by MessagePriority, FIFO within a tier
	send     SendFunc
	disposed bool
	started  bool

	retryLimit int
	retryDelay time.Duration

	signal   chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	pumpDone chan struct{}

	log *zap.Logger
}

// NewQueue builds a stopped queue; call StartProcessing to begin draining.
func NewQueue(cfg Config, log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RetryLimit < 1 {
		cfg.RetryLimit = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		retryLimit: cfg.RetryLimit,
		retryDelay: cfg.RetryDelay,
		signal:     make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		pumpDone:   make(chan struct{}),
		log:        log.With(zap.String("comp", "queue")),
	}
}

// SetSendMessageFunction installs the transport delegate. The queue holds
// messages until one is installed.
func (q *Queue) SetSendMessageFunction(fn SendFunc) {
	q.mu.Lock()
	q.send = fn
	q.mu.Unlock()
	q.wake()
}

// EnqueueMessage adds payload to its priority tier. Duplicate payloads are
// accepted; there is no identity dedup. Fails only after Dispose.
func (q *Queue) EnqueueMessage(payload string, priority domain.MessagePriority) bool {
	if priority < domain.PriorityHigh || priority > domain.PriorityLow {
		priority = domain.PriorityNormal
	}
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		q.log.Warn("enqueue on disposed queue rejected")
		return false
	}
	q.tiers[priority] = append(q.tiers[priority], &queuedMessage{
		payload:    payload,
		priority:   priority,
		enqueuedAt: time.Now(),
	})
	total := q.countLocked()
	q.mu.Unlock()

	metrics.QueuedMessages.Set(float64(total))
	q.wake()
	return true
}

// QueuedCount reports messages not yet successfully sent.
func (q *Queue) QueuedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.countLocked()
}

func (q *Queue) countLocked() int {
	return len(q.tiers[0]) + len(q.tiers[1]) + len(q.tiers[2])
}

// StartProcessing launches the pump goroutine. Safe to call once.
func (q *Queue) StartProcessing() {
	q.mu.Lock()
	if q.started || q.disposed {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()
	go q.pump()
}

func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// pump drains the highest-priority, oldest-enqueued message. A send either
// fully succeeds or the whole message is retried; partial sends never
// interleave.
func (q *Queue) pump() {
	defer close(q.pumpDone)
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.signal:
		}
		q.drain()
	}
}

func (q *Queue) drain() {
	for {
		if q.ctx.Err() != nil {
			return
		}

		q.mu.Lock()
		send := q.send
		msg := q.peekLocked()
		if msg == nil || send == nil {
			q.mu.Unlock()
			return
		}
		q.popLocked(msg.priority)
		q.mu.Unlock()

		err := send(q.ctx, msg.payload)
		if err == nil {
			metrics.MessagesSent.WithLabelValues(msg.priority.String()).Inc()
			q.updateGauge()
			continue
		}

		msg.attempts++
		if msg.attempts >= q.retryLimit {
			metrics.MessagesDropped.WithLabelValues(msg.priority.String()).Inc()
			q.log.Error("dropping message after send retries exhausted",
				zap.Int("attempts", msg.attempts),
				zap.String("priority", msg.priority.String()),
				zap.Error(err))
			q.updateGauge()
			continue
		}

		// Requeue at the front of its tier so ordering within the tier holds.
		q.mu.Lock()
		if !q.disposed {
			q.tiers[msg.priority] = append([]*queuedMessage{msg}, q.tiers[msg.priority]...)
		}
		q.mu.Unlock()
		q.log.Warn("send failed, will retry",
			zap.Int("attempt", msg.attempts), zap.Error(err))

		select {
		case <-q.ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
}

// peekLocked returns the next message without removing it. Caller holds q.mu.
func (q *Queue) peekLocked() *queuedMessage {
	for p := range q.tiers {
		if len(q.tiers[p]) > 0 {
			return q.tiers[p][0]
		}
	}
	return nil
}

func (q *Queue) popLocked(p domain.MessagePriority) {
	q.tiers[p] = q.tiers[p][1:]
}

func (q *Queue) updateGauge() {
	q.mu.Lock()
	total := q.countLocked()
	q.mu.Unlock()
	metrics.QueuedMessages.Set(float64(total))
}

// Dispose stops the pump, drops all queued messages and rejects further
// enqueues. No send runs after Dispose returns.
func (q *Queue) Dispose() {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return
	}
	q.disposed = true
	started := q.started
	for p := range q.tiers {
		q.tiers[p] = nil
	}
	q.mu.Unlock()

	q.cancel()
	if started {
		<-q.pumpDone
	}
	metrics.QueuedMessages.Set(0)
	q.log.Info("queue disposed")
}
