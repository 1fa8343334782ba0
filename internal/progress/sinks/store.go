package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TeacherLi07/essayhelper/internal/progress"
	"github.com/TeacherLi07/essayhelper/internal/store"
)

// StoreSink persists progress deltas via a store.RunRepository. It collapses
// item and source counters per batch to reduce write amplification. Run
// lifecycle events carry the pipeline label in Source, which becomes the
// persisted run kind.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume collapses deltas and forwards them to the repository. It respects
// ctx deadlines and returns any repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	sources := make(map[sourceKey]*sourceDelta)
	items := make(map[uuid.UUID]*itemDelta)

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
			if err := s.handleRunEvent(ctx, runID, evt); err != nil {
				return err
			}
		case progress.StageFetchDone:
			s.recordSourceStats(sources, runID, evt)
		case progress.StageItemDone:
			s.recordItemStats(items, runID, evt)
		}
	}

	for key, delta := range sources {
		if delta.pages == 0 && delta.bytes == 0 {
			continue
		}
		if err := s.repo.UpsertSourceStats(
			ctx,
			key.runID,
			key.source,
			delta.pages,
			delta.bytes,
			key.statusClass,
			delta.at,
		); err != nil {
			return fmt.Errorf("upsert source stats: %w", err)
		}
	}
	for runID, delta := range items {
		if err := s.repo.AddItemCounts(
			ctx,
			runID,
			delta.succeeded,
			delta.skipped,
			delta.failed,
			delta.at,
		); err != nil {
			return fmt.Errorf("add item counts: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) handleRunEvent(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.repo.StartRun(ctx, runID, store.RunKind(evt.Source), evt.TS); err != nil {
			return fmt.Errorf("start run: %w", err)
		}
	case progress.StageRunDone:
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunSuccess, nil); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StageRunError:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunError, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) recordSourceStats(stats map[sourceKey]*sourceDelta, runID uuid.UUID, evt progress.Event) {
	if evt.Source == "" {
		return
	}
	key := sourceKey{
		runID:       runID,
		source:      evt.Source,
		statusClass: string(evt.StatusClass),
	}
	stat := stats[key]
	if stat == nil {
		stat = &sourceDelta{}
		stats[key] = stat
	}
	stat.pages += evt.Pages
	stat.bytes += evt.Bytes
	if evt.TS.After(stat.at) || stat.at.IsZero() {
		stat.at = evt.TS
	}
}

func (s *StoreSink) recordItemStats(stats map[uuid.UUID]*itemDelta, runID uuid.UUID, evt progress.Event) {
	stat := stats[runID]
	if stat == nil {
		stat = &itemDelta{}
		stats[runID] = stat
	}
	switch evt.Outcome {
	case progress.ItemSucceeded:
		stat.succeeded++
	case progress.ItemSkipped:
		stat.skipped++
	case progress.ItemFailed:
		stat.failed++
	}
	if evt.TS.After(stat.at) || stat.at.IsZero() {
		stat.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type sourceKey struct {
	runID       uuid.UUID
	source      string
	statusClass string
}

type sourceDelta struct {
	pages int64
	bytes int64
	at    time.Time
}

type itemDelta struct {
	succeeded int64
	skipped   int64
	failed    int64
	at        time.Time
}
