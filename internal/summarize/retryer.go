package summarize

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TeacherLi07/essayhelper/internal/config"
	"github.com/TeacherLi07/essayhelper/internal/metrics"
)

// Gate is the shared pacing and overload-arbitration surface the retry
// loop drives. *throttle.Throttle satisfies it.
type Gate interface {
	WaitForInterval(ctx context.Context) error
	IsOverloaded() bool
	TryBecomeLeader(token string) bool
	ReleaseLeader(token string) bool
	WaitForRelease(ctx context.Context, timeout time.Duration) (bool, error)
}

// TokenSource mints the opaque worker identities used for leader
// election.
type TokenSource interface {
	NewID() (string, error)
}

// Retryer drives one summarization call to completion or permanent
// failure. Rate limiting is absorbed by electing a single backoff
// leader on the gate while everyone else holds back; transient errors
// retry up to a ceiling; permanent errors return immediately.
type Retryer struct {
	caller      Caller
	gate        Gate
	tokens      TokenSource
	maxAttempts int
	backoff     time.Duration
	releaseWait time.Duration
	log         *zap.Logger
}

// NewRetryer wires a Retryer over the shared gate.
func NewRetryer(caller Caller, gate Gate, tokens TokenSource, cfg config.SummarizerConfig, log *zap.Logger) *Retryer {
	return &Retryer{
		caller:      caller,
		gate:        gate,
		tokens:      tokens,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff(),
		releaseWait: cfg.ReleaseWait(),
		log:         log.Named("retryer"),
	}
}

// Summarize produces a summary for content, looping through the gate
// until success, permanent failure, retry exhaustion, or cancellation.
// Whatever the exit path, leadership held by this call is released.
func (r *Retryer) Summarize(ctx context.Context, content string) (string, error) {
	token, err := r.tokens.NewID()
	if err != nil {
		return "", fmt.Errorf("mint worker token: %w", err)
	}

	leading := false
	defer func() {
		if leading {
			r.gate.ReleaseLeader(token)
		}
	}()

	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		if err := r.gate.WaitForInterval(ctx); err != nil {
			return "", err
		}

		if !leading && r.gate.IsOverloaded() {
			released, err := r.gate.WaitForRelease(ctx, r.releaseWait)
			if err != nil {
				return "", err
			}
			if released {
				continue
			}
			// The leader went quiet past the wait ceiling. Proceed with
			// a fresh attempt rather than blocking forever.
			r.log.Warn("overload release wait timed out, proceeding",
				zap.String("token", token),
				zap.Duration("waited", r.releaseWait))
		}

		text, outcome, callErr := r.caller.Complete(ctx, content)
		metrics.ObserveSummarizeCall(outcome.String())
		switch outcome {
		case OutcomeSuccess:
			if leading {
				r.gate.ReleaseLeader(token)
				leading = false
				r.log.Info("provider recovered, released backoff leadership",
					zap.String("token", token))
			}
			return text, nil

		case OutcomeRateLimited:
			if r.gate.TryBecomeLeader(token) {
				if !leading {
					leading = true
					metrics.ObserveBackoffElection()
					r.log.Warn("provider rate limited, elected backoff leader",
						zap.String("token", token))
				}
				r.sleep(ctx, r.backoff)
			}
			// Rate limiting never consumes the attempt budget; the gate
			// paces how often the leader probes for recovery.

		case OutcomeTransient:
			attempts++
			if attempts >= r.maxAttempts {
				return "", fmt.Errorf("summarize failed after %d attempts: %w", attempts, callErr)
			}
			r.log.Warn("transient summarize failure, will retry",
				zap.Int("attempt", attempts),
				zap.Int("max_attempts", r.maxAttempts),
				zap.Error(callErr))
			r.sleep(ctx, r.backoff)

		default:
			return "", fmt.Errorf("summarize rejected: %w", callErr)
		}
	}
}

func (r *Retryer) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
