package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TeacherLi07/essayhelper/internal/article"
	"github.com/TeacherLi07/essayhelper/internal/crawler"
	"github.com/TeacherLi07/essayhelper/internal/progress"
)

const defaultHeartbeat = 30 * time.Second

// Reporter receives progress events from a run. *progress.Hub
// satisfies it.
type Reporter interface {
	Emit(progress.Event)
}

// RunIDSource mints run identifiers.
type RunIDSource interface {
	NewRawID() (uuid.UUID, error)
}

type nopReporter struct{}

func (nopReporter) Emit(progress.Event) {}

// Counters aggregates item results across the worker pool.
type Counters struct {
	Listed    atomic.Int64
	Succeeded atomic.Int64
	Skipped   atomic.Int64
	Failed    atomic.Int64
}

// Snapshot returns a point-in-time copy of the counters.
func (c *Counters) Snapshot() Stats {
	return Stats{
		Listed:    int(c.Listed.Load()),
		Succeeded: int(c.Succeeded.Load()),
		Skipped:   int(c.Skipped.Load()),
		Failed:    int(c.Failed.Load()),
	}
}

// Stats aggregates what one crawl run did. Skipped items were already
// stored, so a run is healthy whenever Failed stays zero.
type Stats struct {
	Listed    int
	Succeeded int
	Skipped   int
	Failed    int
}

// Queue is the runner's view of the job queue. Closing it after the
// listings are walked lets drained workers exit.
type Queue interface {
	crawler.Queue
	Close()
}

// Pool runs the worker set and returns once every worker has stopped.
// *dispatcher.Dispatcher satisfies it.
type Pool interface {
	Run(ctx context.Context)
}

// Runner walks each source's listing window, enqueues unseen references,
// and waits for the pool to drain the queue.
type Runner struct {
	queue     Queue
	pool      Pool
	sources   []crawler.Source
	store     *article.Store
	visits    *crawler.VisitTracker
	pauser    crawler.Pauser
	reporter  Reporter
	ids       RunIDSource
	counters  *Counters
	heartbeat time.Duration
	log       *zap.Logger
}

// NewRunner builds a Runner. A nil reporter discards progress events. The
// counters must be the same instance the workers were built with.
func NewRunner(queue Queue, pool Pool, sources []crawler.Source, store *article.Store, reporter Reporter, ids RunIDSource, counters *Counters, log *zap.Logger) *Runner {
	if reporter == nil {
		reporter = nopReporter{}
	}
	if counters == nil {
		counters = &Counters{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		queue:     queue,
		pool:      pool,
		sources:   sources,
		store:     store,
		visits:    crawler.NewVisitTracker(),
		pauser:    &crawler.TimerPauser{},
		reporter:  reporter,
		ids:       ids,
		counters:  counters,
		heartbeat: defaultHeartbeat,
		log:       log.Named("runner"),
	}
}

// Run executes one crawl and reports aggregate stats. Cancelling the
// context stops feeding the queue, waits for in-flight items, and returns
// the partial stats with the context error.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	rawID, err := r.ids.NewRawID()
	if err != nil {
		return Stats{}, fmt.Errorf("mint run id: %w", err)
	}
	runID := progress.UUIDToBytes(rawID)

	start := time.Now()
	r.reporter.Emit(progress.Event{
		RunID:  runID,
		TS:     start.UTC(),
		Stage:  progress.StageRunStart,
		Source: pipeline,
	})
	r.log.Info("crawl run started",
		zap.String("run_id", rawID.String()),
		zap.Int("sources", len(r.sources)))

	stopHeartbeat := r.startHeartbeat(runID)
	defer stopHeartbeat()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.pool.Run(ctx)
	}()

	for _, src := range r.sources {
		if ctx.Err() != nil {
			break
		}
		r.feedSource(ctx, rawID, runID, src)
	}

	r.queue.Close()
	<-done

	stats := r.counters.Snapshot()
	took := time.Since(start)

	if err := ctx.Err(); err != nil {
		r.reporter.Emit(progress.Event{
			RunID:  runID,
			TS:     time.Now().UTC(),
			Stage:  progress.StageRunError,
			Source: pipeline,
			Dur:    took,
			Note:   err.Error(),
		})
		r.log.Warn("crawl run aborted",
			zap.String("run_id", rawID.String()),
			zap.Int("succeeded", stats.Succeeded),
			zap.Int("failed", stats.Failed),
			zap.Error(err))
		return stats, err
	}

	r.reporter.Emit(progress.Event{
		RunID:  runID,
		TS:     time.Now().UTC(),
		Stage:  progress.StageRunDone,
		Source: pipeline,
		Dur:    took,
	})
	r.log.Info("crawl run complete",
		zap.String("run_id", rawID.String()),
		zap.Int("listed", stats.Listed),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Duration("took", took))
	return stats, nil
}

// feedSource walks one source's listing window. An empty page ends the
// walk early since later pages only hold older entries.
func (r *Runner) feedSource(ctx context.Context, rawID uuid.UUID, runID [16]byte, src crawler.Source) {
	name := src.Name()
	first, last := src.Pages()
	for page := first; page <= last; page++ {
		if ctx.Err() != nil {
			return
		}
		if page > first {
			r.pauser.Pause(ctx, src.ListDelay())
		}
		refs, err := src.ListPage(ctx, page)
		if err != nil {
			r.log.Warn("listing page failed",
				zap.String("source", name),
				zap.Int("page", page),
				zap.Error(err))
			continue
		}
		if len(refs) == 0 {
			r.log.Info("listing exhausted",
				zap.String("source", name),
				zap.Int("page", page))
			return
		}
		r.log.Debug("listing page walked",
			zap.String("source", name),
			zap.Int("page", page),
			zap.Int("refs", len(refs)))
		for _, ref := range refs {
			if !r.enqueueRef(ctx, rawID, runID, ref) {
				return
			}
		}
	}
}

// enqueueRef queues one reference, skipping duplicates and already stored
// articles. It returns false when feeding should stop.
func (r *Runner) enqueueRef(ctx context.Context, rawID uuid.UUID, runID [16]byte, ref crawler.PageRef) bool {
	key := ref.ArticleID
	if norm, err := crawler.NormalizeURL(ref.URL); err == nil && norm != "" {
		key = norm
	}
	if !r.visits.MarkIfNew(key) {
		return true
	}

	if r.store.Exists(ref.ArticleID) {
		now := time.Now().UTC()
		r.reporter.Emit(progress.Event{
			RunID:  runID,
			TS:     now,
			Stage:  progress.StageItemStart,
			Source: ref.Source,
			URL:    ref.URL,
		})
		r.reporter.Emit(progress.Event{
			RunID:   runID,
			TS:      now,
			Stage:   progress.StageItemDone,
			Source:  ref.Source,
			URL:     ref.URL,
			Outcome: progress.ItemSkipped,
			Note:    "already stored",
		})
		r.counters.Skipped.Add(1)
		return true
	}

	if err := r.queue.Enqueue(ctx, crawler.PageJob{RunID: rawID, Ref: ref}); err != nil {
		r.log.Warn("enqueue failed",
			zap.String("article_id", ref.ArticleID),
			zap.Error(err))
		return false
	}
	r.counters.Listed.Add(1)
	return true
}

// startHeartbeat emits RUN_HEARTBEAT events until the returned stop
// function is called.
func (r *Runner) startHeartbeat(runID [16]byte) func() {
	if r.heartbeat <= 0 {
		return func() {}
	}
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(r.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.reporter.Emit(progress.Event{
					RunID:  runID,
					TS:     time.Now().UTC(),
					Stage:  progress.StageRunHB,
					Source: pipeline,
				})
			}
		}
	}()
	return func() { close(stop) }
}
