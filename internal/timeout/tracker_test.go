package timeout_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JokerTrickster/unity-dice-sub000/internal/timeout"
)

// recorder collects notifications for assertions.
type recorder struct {
	mu        sync.Mutex
	timeouts  []string
	warnings  []string
	cancelled []string
}

func (r *recorder) callbacks() timeout.Callbacks {
	return timeout.Callbacks{
		OnTimeout: func(requestID, playerID string) {
			r.mu.Lock()
			r.timeouts = append(r.timeouts, requestID+"/"+playerID)
			r.mu.Unlock()
		},
		OnWarning: func(requestID, playerID string, _ time.Duration) {
			r.mu.Lock()
			r.warnings = append(r.warnings, requestID)
			r.mu.Unlock()
		},
		OnCancelled: func(requestID, playerID string) {
			r.mu.Lock()
			r.cancelled = append(r.cancelled, requestID)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) timedOut() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.timeouts...)
}

func (r *recorder) warned() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.warnings...)
}

func (r *recorder) cancels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.cancelled...)
}

func TestStartRequestTimeoutValidation(t *testing.T) {
	tr := timeout.NewTracker(0, timeout.Callbacks{}, nil)
	defer tr.Close()

	assert.False(t, tr.StartRequestTimeout("", "p1", time.Second))
	assert.False(t, tr.StartRequestTimeout("r1", "", time.Second))
	assert.False(t, tr.StartRequestTimeout("r1", "p1", 0))
	assert.False(t, tr.StartRequestTimeout("r1", "p1", -time.Second))
	assert.Equal(t, 0, tr.ActiveTimeoutCount())

	assert.True(t, tr.StartRequestTimeout("r1", "p1", time.Second))
	assert.Equal(t, 1, tr.ActiveTimeoutCount())
}

func TestTimeoutFiresOnceWithIdentity(t *testing.T) {
	rec := &recorder{}
	tr := timeout.NewTracker(0, rec.callbacks(), nil)
	defer tr.Close()

	require.True(t, tr.StartRequestTimeout("r1", "p1", 100*time.Millisecond))
	time.Sleep(250 * time.Millisecond)

	assert.Equal(t, []string{"r1/p1"}, rec.timedOut())
	assert.Equal(t, 0, tr.ActiveTimeoutCount())
}

func TestCancelBeforeDeadlineSuppressesTimeout(t *testing.T) {
	rec := &recorder{}
	tr := timeout.NewTracker(0, rec.callbacks(), nil)
	defer tr.Close()

	require.True(t, tr.StartRequestTimeout("r1", "p1", 150*time.Millisecond))
	require.True(t, tr.CancelTimeout("r1"))

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, rec.timedOut())
	assert.Equal(t, []string{"r1"}, rec.cancels())

	// Unknown id fails without a notification.
	assert.False(t, tr.CancelTimeout("r1"))
}

func TestWarningFiresBeforeDeadline(t *testing.T) {
	rec := &recorder{}
	tr := timeout.NewTracker(100*time.Millisecond, rec.callbacks(), nil)
	defer tr.Close()

	require.True(t, tr.StartRequestTimeout("r1", "p1", 300*time.Millisecond))

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, []string{"r1"}, rec.warned())
	assert.Empty(t, rec.timedOut(), "warning must not remove the entry")
	assert.Equal(t, 1, tr.ActiveTimeoutCount())

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, []string{"r1/p1"}, rec.timedOut())
}

func TestReplaceExistingTimeout(t *testing.T) {
	rec := &recorder{}
	tr := timeout.NewTracker(0, rec.callbacks(), nil)
	defer tr.Close()

	require.True(t, tr.StartRequestTimeout("r1", "p1", 100*time.Millisecond))
	// Replacing cancels the first countdown silently.
	require.True(t, tr.StartRequestTimeout("r1", "p1", 400*time.Millisecond))

	time.Sleep(250 * time.Millisecond)
	assert.Empty(t, rec.timedOut(), "old countdown must not fire")
	assert.Empty(t, rec.cancels(), "replace is not a cancel notification")
	assert.Equal(t, 1, tr.ActiveTimeoutCount())

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, []string{"r1/p1"}, rec.timedOut())
}

func TestExtendTimeout(t *testing.T) {
	rec := &recorder{}
	tr := timeout.NewTracker(0, rec.callbacks(), nil)
	defer tr.Close()

	assert.False(t, tr.ExtendTimeout("missing", time.Second))

	require.True(t, tr.StartRequestTimeout("r1", "p1", 150*time.Millisecond))
	assert.False(t, tr.ExtendTimeout("r1", 0))
	require.True(t, tr.ExtendTimeout("r1", 300*time.Millisecond))

	time.Sleep(250 * time.Millisecond)
	assert.Empty(t, rec.timedOut(), "extended deadline must not fire early")

	time.Sleep(350 * time.Millisecond)
	assert.Equal(t, []string{"r1/p1"}, rec.timedOut())
}

func TestRemainingTime(t *testing.T) {
	tr := timeout.NewTracker(0, timeout.Callbacks{}, nil)
	defer tr.Close()

	assert.Equal(t, timeout.NotTracked, tr.RemainingTime("missing"))

	require.True(t, tr.StartRequestTimeout("r1", "p1", time.Minute))
	remaining := tr.RemainingTime("r1")
	assert.Greater(t, remaining, 50*time.Second)
	assert.LessOrEqual(t, remaining, time.Minute)
}

func TestBulkCancellation(t *testing.T) {
	rec := &recorder{}
	tr := timeout.NewTracker(0, rec.callbacks(), nil)
	defer tr.Close()

	require.True(t, tr.StartRequestTimeout("r1", "p1", time.Minute))
	require.True(t, tr.StartRequestTimeout("r2", "p1", time.Minute))
	require.True(t, tr.StartRequestTimeout("r3", "p2", time.Minute))

	assert.Equal(t, 2, tr.CancelPlayerTimeouts("p1"))
	assert.Equal(t, 1, tr.ActiveTimeoutCount())
	assert.Equal(t, 0, tr.CancelPlayerTimeouts("p1"))

	assert.Equal(t, 1, tr.CancelAllTimeouts())
	assert.Equal(t, 0, tr.ActiveTimeoutCount())
	assert.Len(t, rec.cancels(), 3)
}

func TestGetTimeoutStats(t *testing.T) {
	rec := &recorder{}
	tr := timeout.NewTracker(0, rec.callbacks(), nil)
	defer tr.Close()

	stats := tr.GetTimeoutStats()
	assert.Equal(t, 0, stats.ActiveCount)

	require.True(t, tr.StartRequestTimeout("r1", "p1", time.Minute))
	require.True(t, tr.StartRequestTimeout("r2", "p1", time.Minute))
	require.True(t, tr.StartRequestTimeout("r3", "p2", time.Minute))
	require.True(t, tr.StartRequestTimeout("expired", "p3", 50*time.Millisecond))
	time.Sleep(150 * time.Millisecond)

	stats = tr.GetTimeoutStats()
	assert.Equal(t, 3, stats.ActiveCount)
	assert.Equal(t, 2, stats.UniquePlayersWaiting)
	assert.Equal(t, int64(1), stats.ExpiredCount)
	assert.GreaterOrEqual(t, stats.MaxWaitTime, stats.AverageWaitTime)
}

func TestCloseStopsEverything(t *testing.T) {
	var fired atomic.Int32
	tr := timeout.NewTracker(0, timeout.Callbacks{
		OnTimeout: func(string, string) { fired.Add(1) },
	}, nil)

	require.True(t, tr.StartRequestTimeout("r1", "p1", 100*time.Millisecond))
	tr.Close()

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
	assert.False(t, tr.StartRequestTimeout("r2", "p1", time.Second))
}

func TestConcurrentStartAndCancel(t *testing.T) {
	rec := &recorder{}
	tr := timeout.NewTracker(0, rec.callbacks(), nil)
	defer tr.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			tr.StartRequestTimeout(id, "p1", time.Minute)
			tr.CancelTimeout(id)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, tr.ActiveTimeoutCount())
	assert.Empty(t, rec.timedOut())
}
