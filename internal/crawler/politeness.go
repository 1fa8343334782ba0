package crawler

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"
)

const defaultForbiddenAttempts = 3

// VisitTracker provides thread-safe seen-URL tracking so references that
// reappear on later listing pages are crawled once per run.
type VisitTracker struct {
	seen sync.Map
}

// NewVisitTracker creates an empty tracker.
func NewVisitTracker() *VisitTracker {
	return &VisitTracker{}
}

// MarkIfNew stores the key if it has not been seen before and returns true.
func (t *VisitTracker) MarkIfNew(key string) bool {
	if key == "" {
		return false
	}
	_, loaded := t.seen.LoadOrStore(key, struct{}{})
	return !loaded
}

// ThresholdBlocker tracks repeated forbidden responses and blocks hosts
// once they exceed the threshold.
type ThresholdBlocker struct {
	mu        sync.Mutex
	threshold int
	counts    map[string]int
	blocked   map[string]struct{}
}

// NewThresholdBlocker builds a HostBlocker that trips after threshold
// forbidden responses from the same host.
func NewThresholdBlocker(threshold int) *ThresholdBlocker {
	if threshold <= 0 {
		threshold = defaultForbiddenAttempts
	}
	return &ThresholdBlocker{
		threshold: threshold,
		counts:    make(map[string]int),
		blocked:   make(map[string]struct{}),
	}
}

// IsBlocked reports whether the host has been blocked this run.
func (b *ThresholdBlocker) IsBlocked(host string) bool {
	if host == "" {
		return false
	}
	key := strings.ToLower(host)
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blocked[key]
	return ok
}

// MarkForbidden increments the counter for host and returns true once blocked.
func (b *ThresholdBlocker) MarkForbidden(host string) bool {
	if host == "" {
		return false
	}
	key := strings.ToLower(host)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, blocked := b.blocked[key]; blocked {
		return true
	}
	b.counts[key]++
	if b.counts[key] >= b.threshold {
		b.blocked[key] = struct{}{}
		return true
	}
	return false
}

// TimerPauser sleeps for the given delay, waking early on cancellation.
type TimerPauser struct{}

// Pause implements Pauser.
func (p *TimerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Jitter returns base plus a random duration in [0, spread). Sources use it
// to avoid fetching on a fixed cadence.
func Jitter(base, spread time.Duration) time.Duration {
	if spread <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(int64(spread)))
}
