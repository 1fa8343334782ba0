package enrich

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TeacherLi07/essayhelper/internal/article"
	"github.com/TeacherLi07/essayhelper/internal/metrics"
	"github.com/TeacherLi07/essayhelper/internal/progress"
)

// pipeline labels the progress events this package emits; run
// lifecycle events persist it as the run kind.
const pipeline = "summarize"

const defaultHeartbeat = 30 * time.Second

// Stats aggregates what one enrichment run did. Skipped items count as
// already done, so a run is healthy whenever Failed stays zero.
type Stats struct {
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
}

// Reporter receives progress events from a run. *progress.Hub
// satisfies it.
type Reporter interface {
	Emit(progress.Event)
}

// RunIDSource mints run identifiers.
type RunIDSource interface {
	NewRawID() (uuid.UUID, error)
}

// Orchestrator fans a batch of stored articles across a bounded worker
// pool. Item failures are absorbed into Stats; only infrastructure
// failures (listing, id minting, cancellation) abort the run.
type Orchestrator struct {
	store     *article.Store
	proc      *Processor
	reporter  Reporter
	ids       RunIDSource
	workers   int
	heartbeat time.Duration
	log       *zap.Logger
}

// NewOrchestrator builds an Orchestrator with the given pool width. A
// nil reporter discards progress events.
func NewOrchestrator(store *article.Store, proc *Processor, reporter Reporter, ids RunIDSource, workers int, log *zap.Logger) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &Orchestrator{
		store:     store,
		proc:      proc,
		reporter:  reporter,
		ids:       ids,
		workers:   workers,
		heartbeat: defaultHeartbeat,
		log:       log.Named("orchestrator"),
	}
}

type nopReporter struct{}

func (nopReporter) Emit(progress.Event) {}

// Run enriches every article in the corpus and reports aggregate
// stats. Cancelling the context stops feeding the pool, waits for
// in-flight items, and returns the partial stats with the context
// error.
func (o *Orchestrator) Run(ctx context.Context) (Stats, error) {
	paths, err := o.store.List()
	if err != nil {
		return Stats{}, err
	}
	rawID, err := o.ids.NewRawID()
	if err != nil {
		return Stats{}, fmt.Errorf("mint run id: %w", err)
	}
	runID := progress.UUIDToBytes(rawID)

	start := time.Now()
	o.reporter.Emit(progress.Event{
		RunID:  runID,
		TS:     start.UTC(),
		Stage:  progress.StageRunStart,
		Source: pipeline,
	})
	o.log.Info("enrichment run started",
		zap.String("run_id", rawID.String()),
		zap.Int("articles", len(paths)),
		zap.Int("workers", o.workers))

	stopHeartbeat := o.startHeartbeat(runID)
	defer stopHeartbeat()

	var succeeded, skipped, failed atomic.Int64

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				o.processOne(ctx, runID, path, &succeeded, &skipped, &failed)
			}
		}()
	}

feed:
	for _, path := range paths {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- path:
		}
	}
	close(jobs)
	wg.Wait()

	stats := Stats{
		Total:     len(paths),
		Succeeded: int(succeeded.Load()),
		Skipped:   int(skipped.Load()),
		Failed:    int(failed.Load()),
	}
	took := time.Since(start)

	if err := ctx.Err(); err != nil {
		o.reporter.Emit(progress.Event{
			RunID:  runID,
			TS:     time.Now().UTC(),
			Stage:  progress.StageRunError,
			Source: pipeline,
			Dur:    took,
			Note:   err.Error(),
		})
		o.log.Warn("enrichment run aborted",
			zap.String("run_id", rawID.String()),
			zap.Int("succeeded", stats.Succeeded),
			zap.Int("failed", stats.Failed),
			zap.Error(err))
		return stats, err
	}

	o.reporter.Emit(progress.Event{
		RunID:  runID,
		TS:     time.Now().UTC(),
		Stage:  progress.StageRunDone,
		Source: pipeline,
		Dur:    took,
	})
	o.log.Info("enrichment run complete",
		zap.String("run_id", rawID.String()),
		zap.Int("total", stats.Total),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Duration("took", took))
	return stats, nil
}

func (o *Orchestrator) processOne(ctx context.Context, runID [16]byte, path string, succeeded, skipped, failed *atomic.Int64) {
	metrics.IncActiveWorkers(pipeline)
	defer metrics.DecActiveWorkers(pipeline)

	start := time.Now()
	o.reporter.Emit(progress.Event{
		RunID:  runID,
		TS:     start.UTC(),
		Stage:  progress.StageItemStart,
		Source: pipeline,
		URL:    path,
	})

	res, err := o.proc.Process(ctx, path)
	var outcome progress.ItemOutcome
	switch res {
	case ResultSucceeded:
		succeeded.Add(1)
		outcome = progress.ItemSucceeded
	case ResultSkipped:
		skipped.Add(1)
		outcome = progress.ItemSkipped
	default:
		failed.Add(1)
		outcome = progress.ItemFailed
		o.log.Warn("article enrichment failed",
			zap.String("path", path),
			zap.Error(err))
	}

	evt := progress.Event{
		RunID:   runID,
		TS:      time.Now().UTC(),
		Stage:   progress.StageItemDone,
		Source:  pipeline,
		URL:     path,
		Outcome: outcome,
		Dur:     time.Since(start),
	}
	if err != nil {
		evt.Note = err.Error()
	}
	o.reporter.Emit(evt)
}

// startHeartbeat emits RUN_HEARTBEAT events until the returned stop
// function is called.
func (o *Orchestrator) startHeartbeat(runID [16]byte) func() {
	if o.heartbeat <= 0 {
		return func() {}
	}
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(o.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				o.reporter.Emit(progress.Event{
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
