package index

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TeacherLi07/essayhelper/internal/article"
	"github.com/TeacherLi07/essayhelper/internal/embed"
	"github.com/TeacherLi07/essayhelper/internal/metrics"
	"github.com/TeacherLi07/essayhelper/internal/progress"
)

// pipeline labels the progress events this package emits.
const pipeline = "index"

// Stats aggregates what one index build did.
type Stats struct {
	Total   int
	Indexed int
	Skipped int
	Failed  int
}

// ArticleSink receives every indexed article for search-time
// hydration. *redis.ArticleStore satisfies it.
type ArticleSink interface {
	Upsert(ctx context.Context, a article.Article) error
}

// Reporter receives progress events from a build.
type Reporter interface {
	Emit(progress.Event)
}

// RunIDSource mints run identifiers.
type RunIDSource interface {
	NewRawID() (uuid.UUID, error)
}

type nopReporter struct{}

func (nopReporter) Emit(progress.Event) {}

// Builder embeds the whole corpus into a fresh Flat index and persists
// it, pushing each indexed article to the hydration sink along the
// way. Builds run serially: the embedding endpoint is the bottleneck
// and enforces its own pacing.
type Builder struct {
	store    *article.Store
	embedder embed.Embedder
	articles ArticleSink
	reporter Reporter
	ids      RunIDSource
	path     string
	log      *zap.Logger
}

// NewBuilder wires a Builder that writes the index to path. A nil
// reporter discards progress events.
func NewBuilder(store *article.Store, embedder embed.Embedder, articles ArticleSink, reporter Reporter, ids RunIDSource, path string, log *zap.Logger) *Builder {
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &Builder{
		store:    store,
		embedder: embedder,
		articles: articles,
		reporter: reporter,
		ids:      ids,
		path:     path,
		log:      log.Named("index"),
	}
}

// Run rebuilds the index from every stored article. Per-item failures
// are counted and skipped over; cancellation and persistence failures
// abort the build.
func (b *Builder) Run(ctx context.Context) (Stats, error) {
	paths, err := b.store.List()
	if err != nil {
		return Stats{}, err
	}
	rawID, err := b.ids.NewRawID()
	if err != nil {
		return Stats{}, fmt.Errorf("mint run id: %w", err)
	}
	runID := progress.UUIDToBytes(rawID)

	start := time.Now()
	b.reporter.Emit(progress.Event{
		RunID:  runID,
		TS:     start.UTC(),
		Stage:  progress.StageRunStart,
		Source: pipeline,
	})
	b.log.Info("index build started",
		zap.String("run_id", rawID.String()),
		zap.Int("articles", len(paths)),
		zap.String("path", b.path))

	idx := NewFlat()
	stats := Stats{Total: len(paths)}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return stats, b.abort(runID, start, stats, err)
		}
		b.indexOne(ctx, runID, idx, path, &stats)
	}

	if err := idx.Save(b.path); err != nil {
		return stats, b.abort(runID, start, stats, err)
	}
	metrics.SetIndexVectors(idx.Len())

	b.reporter.Emit(progress.Event{
		RunID:  runID,
		TS:     time.Now().UTC(),
		Stage:  progress.StageRunDone,
		Source: pipeline,
		Dur:    time.Since(start),
	})
	b.log.Info("index build complete",
		zap.Int("total", stats.Total),
		zap.Int("indexed", stats.Indexed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Duration("took", time.Since(start)))
	return stats, nil
}

func (b *Builder) indexOne(ctx context.Context, runID [16]byte, idx *Flat, path string, stats *Stats) {
	start := time.Now()
	b.reporter.Emit(progress.Event{
		RunID:  runID,
		TS:     start.UTC(),
		Stage:  progress.StageItemStart,
		Source: pipeline,
		URL:    path,
	})

	outcome, err := b.process(ctx, idx, path)
	switch outcome {
	case progress.ItemSucceeded:
		stats.Indexed++
	case progress.ItemSkipped:
		stats.Skipped++
	default:
		stats.Failed++
		b.log.Warn("article indexing failed",
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
	b.reporter.Emit(evt)
}

func (b *Builder) process(ctx context.Context, idx *Flat, path string) (progress.ItemOutcome, error) {
	art, err := b.store.Load(path)
	if err != nil {
		return progress.ItemFailed, err
	}
	if strings.TrimSpace(art.Content) == "" {
		return progress.ItemSkipped, nil
	}

	vec, err := b.embedder.Embed(ctx, art.Content)
	if err != nil {
		return progress.ItemFailed, err
	}
	if err := idx.Add(art.ID, vec); err != nil {
		return progress.ItemFailed, err
	}
	if err := b.articles.Upsert(ctx, art); err != nil {
		return progress.ItemFailed, err
	}
	return progress.ItemSucceeded, nil
}

func (b *Builder) abort(runID [16]byte, start time.Time, stats Stats, err error) error {
	b.reporter.Emit(progress.Event{
		RunID:  runID,
		TS:     time.Now().UTC(),
		Stage:  progress.StageRunError,
		Source: pipeline,
		Dur:    time.Since(start),
		Note:   err.Error(),
	})
	b.log.Warn("index build aborted",
		zap.Int("indexed", stats.Indexed),
		zap.Error(err))
	return err
}
