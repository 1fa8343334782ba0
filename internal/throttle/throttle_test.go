package throttle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TeacherLi07/essayhelper/internal/clock/system"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestWaitForIntervalSpacing(t *testing.T) {
	t.Parallel()

	const interval = 50 * time.Millisecond
	th := New(system.New(), Config{Interval: interval})

	var (
		mu     sync.Mutex
		stamps []time.Time
		wg     sync.WaitGroup
	)
	errs := make(chan error, 6)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 2; j++ {
				if err := th.WaitForInterval(context.Background()); err != nil {
					errs <- err
					return
				}
				mu.Lock()
				stamps = append(stamps, time.Now())
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Len(t, stamps, 6)
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		require.GreaterOrEqual(t, gap, interval-10*time.Millisecond,
			"calls %d and %d departed only %v apart", i-1, i, gap)
	}
}

func TestWaitForIntervalFirstCallImmediate(t *testing.T) {
	t.Parallel()

	th := New(system.New(), Config{Interval: 500 * time.Millisecond})

	start := time.Now()
	require.NoError(t, th.WaitForInterval(context.Background()))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitForIntervalCancelled(t *testing.T) {
	t.Parallel()

	th := New(system.New(), Config{Interval: time.Hour})
	require.NoError(t, th.WaitForInterval(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, th.WaitForInterval(ctx), context.Canceled)
}

func TestLeaderElection(t *testing.T) {
	t.Parallel()

	th := New(newFakeClock(), Config{})

	require.False(t, th.IsOverloaded())
	require.Empty(t, th.CurrentLeader())
	require.False(t, th.TryBecomeLeader(""))

	require.True(t, th.TryBecomeLeader("w1"))
	require.True(t, th.IsOverloaded())
	require.Equal(t, "w1", th.CurrentLeader())

	require.False(t, th.TryBecomeLeader("w2"))
	require.True(t, th.TryBecomeLeader("w1"), "incumbent re-claim must be idempotent")

	require.False(t, th.ReleaseLeader("w2"))
	require.True(t, th.IsOverloaded())

	require.True(t, th.ReleaseLeader("w1"))
	require.False(t, th.IsOverloaded())
	require.Empty(t, th.CurrentLeader())
	require.False(t, th.ReleaseLeader("w1"))
}

func TestWaitForReleaseImmediateWhenIdle(t *testing.T) {
	t.Parallel()

	th := New(system.New(), Config{})

	start := time.Now()
	cleared, err := th.WaitForRelease(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, cleared)
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitForReleaseWakesAllWaiters(t *testing.T) {
	t.Parallel()

	th := New(system.New(), Config{})
	require.True(t, th.TryBecomeLeader("leader"))

	const waiters = 4
	type wake struct {
		cleared bool
		err     error
	}
	results := make(chan wake, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			cleared, err := th.WaitForRelease(context.Background(), 10*time.Second)
			results <- wake{cleared: cleared, err: err}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	require.True(t, th.ReleaseLeader("leader"))

	for i := 0; i < waiters; i++ {
		select {
		case w := <-results:
			require.NoError(t, w.err)
			require.True(t, w.cleared)
		case <-time.After(time.Second):
			t.Fatal("waiter did not wake after release")
		}
	}
}

func TestWaitForReleaseTimeout(t *testing.T) {
	t.Parallel()

	th := New(system.New(), Config{})
	require.True(t, th.TryBecomeLeader("leader"))

	start := time.Now()
	cleared, err := th.WaitForRelease(context.Background(), 30*time.Millisecond)
	require.NoError(t, err)
	require.False(t, cleared)
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWaitForReleaseCancelled(t *testing.T) {
	t.Parallel()

	th := New(system.New(), Config{})
	require.True(t, th.TryBecomeLeader("leader"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	cleared, err := th.WaitForRelease(ctx, 10*time.Second)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, cleared)
}

func TestLeaseSeizure(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	th := New(clk, Config{Lease: time.Minute})

	require.True(t, th.TryBecomeLeader("w1"))
	require.False(t, th.TryBecomeLeader("w2"))

	woke := make(chan bool, 1)
	go func() {
		cleared, _ := th.WaitForRelease(context.Background(), 0)
		woke <- cleared
	}()
	time.Sleep(10 * time.Millisecond)

	clk.Advance(time.Minute)
	require.True(t, th.TryBecomeLeader("w2"), "expired claim must be seizable")
	require.Equal(t, "w2", th.CurrentLeader())
	require.True(t, th.IsOverloaded())

	select {
	case <-woke:
		t.Fatal("seizure must not wake waiters; the episode is still open")
	case <-time.After(30 * time.Millisecond):
	}

	require.False(t, th.ReleaseLeader("w1"), "stale owner must not release the new claim")
	require.True(t, th.IsOverloaded())

	require.True(t, th.ReleaseLeader("w2"))
	select {
	case cleared := <-woke:
		require.True(t, cleared)
	case <-time.After(time.Second):
		t.Fatal("waiter did not wake after the seizing leader released")
	}
}

func TestLeaseRefreshOnReclaim(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	th := New(clk, Config{Lease: time.Minute})

	require.True(t, th.TryBecomeLeader("w1"))
	clk.Advance(30 * time.Second)
	require.True(t, th.TryBecomeLeader("w1"))

	clk.Advance(45 * time.Second)
	require.False(t, th.TryBecomeLeader("w2"), "refreshed lease must still be held")

	clk.Advance(15 * time.Second)
	require.True(t, th.TryBecomeLeader("w2"))
}

func TestZeroLeaseNeverExpires(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	th := New(clk, Config{})

	require.True(t, th.TryBecomeLeader("w1"))
	clk.Advance(365 * 24 * time.Hour)
	require.False(t, th.TryBecomeLeader("w2"))
}

func TestSingleLeaderInvariant(t *testing.T) {
	t.Parallel()

	th := New(system.New(), Config{})

	var (
		holders  atomic.Int32
		violated atomic.Bool
		wg       sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		token := fmt.Sprintf("w%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if !th.TryBecomeLeader(token) {
					continue
				}
				if holders.Add(1) != 1 {
					violated.Store(true)
				}
				holders.Add(-1)
				th.ReleaseLeader(token)
			}
		}()
	}
	wg.Wait()

	require.False(t, violated.Load(), "two workers held leadership at the same instant")
	require.False(t, th.IsOverloaded())
}
