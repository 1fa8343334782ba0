// Package throttle paces calls to a shared remote endpoint and
// arbitrates recovery when that endpoint signals overload. One
// Throttle is built per run and handed to every worker; it holds the
// only mutable state the workers share.
package throttle

import (
	"context"
	"sync"
	"time"
)

// Clock yields wall time. Injected so lease arithmetic is testable.
type Clock interface {
	Now() time.Time
}

// Config tunes a Throttle.
type Config struct {
	// Interval is the minimum gap between consecutive calls across all
	// workers. Zero disables pacing.
	Interval time.Duration
	// Lease bounds how long a silent leader keeps its claim before
	// another worker may seize it. Zero means claims never expire.
	Lease time.Duration
}

// Throttle enforces a minimum inter-call interval and tracks a single
// backoff leader during an overload episode. All methods are safe for
// concurrent use.
type Throttle struct {
	clock    Clock
	interval time.Duration
	lease    time.Duration

	// gateMu is held across the pacing sleep so two callers can never
	// proceed from the same last-call snapshot.
	gateMu   sync.Mutex
	lastCall time.Time

	mu       sync.Mutex
	leader   string
	claimed  time.Time
	released chan struct{} // non-nil while an episode is open; closed on release
}

// New builds a Throttle.
func New(clock Clock, cfg Config) *Throttle {
	return &Throttle{
		clock:    clock,
		interval: cfg.Interval,
		lease:    cfg.Lease,
	}
}

// WaitForInterval blocks until at least the configured interval has
// elapsed since the previous call, then records now as the new
// last-call time. On cancellation the last-call time is left alone so
// the aborted slot is not consumed.
func (t *Throttle) WaitForInterval(ctx context.Context) error {
	t.gateMu.Lock()
	defer t.gateMu.Unlock()

	if t.interval > 0 && !t.lastCall.IsZero() {
		wait := t.interval - t.clock.Now().Sub(t.lastCall)
		if wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	t.lastCall = t.clock.Now()
	return nil
}

// IsOverloaded reports whether an overload episode is open, which is
// exactly when a leader is assigned.
func (t *Throttle) IsOverloaded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leader != ""
}

// CurrentLeader returns the token of the current backoff leader, or ""
// when no episode is open.
func (t *Throttle) CurrentLeader() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leader
}

// TryBecomeLeader installs token as the backoff leader and opens an
// overload episode. It returns true when the caller holds leadership
// afterwards: a fresh claim, an idempotent re-claim by the incumbent
// (which refreshes the lease), or a seizure of a claim whose lease ran
// out. Any other caller gets false and should wait for release.
func (t *Throttle) TryBecomeLeader(token string) bool {
	if token == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	switch {
	case t.leader == "":
	case t.leader == token:
	case t.lease > 0 && now.Sub(t.claimed) >= t.lease:
		// Incumbent went silent past its lease; treat it as gone.
	default:
		return false
	}

	t.leader = token
	t.claimed = now
	if t.released == nil {
		t.released = make(chan struct{})
	}
	return true
}

// ReleaseLeader ends the overload episode if token is the current
// leader, waking every waiter at once. Calls by anyone else are no-ops
// returning false, so a worker that lost its claim to seizure cannot
// release on behalf of the new leader.
func (t *Throttle) ReleaseLeader(token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if token == "" || t.leader != token {
		return false
	}

	t.leader = ""
	t.claimed = time.Time{}
	if t.released != nil {
		close(t.released)
		t.released = nil
	}
	return true
}

// WaitForRelease blocks until the open overload episode ends, timeout
// elapses, or ctx is cancelled. It returns true when the episode ended
// (or none was open) and false on timeout, in which case the caller
// proceeds without confirmation. A timeout <= 0 waits indefinitely.
func (t *Throttle) WaitForRelease(ctx context.Context, timeout time.Duration) (bool, error) {
	t.mu.Lock()
	ch := t.released
	t.mu.Unlock()

	if ch == nil {
		return true, nil
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-expired:
		return false, nil
	case <-ch:
		return true, nil
	}
}
