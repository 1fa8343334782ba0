package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TeacherLi07/essayhelper/internal/store"
)

// RunStore keeps run history in memory. It is the default repository when no
// database DSN is configured and mirrors the Postgres implementation's
// update semantics so the two stay interchangeable in tests.
type RunStore struct {
	mu      sync.RWMutex
	runs    map[uuid.UUID]store.Run
	sources map[uuid.UUID]map[string]store.SourceStats
}

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:    make(map[uuid.UUID]store.Run),
		sources: make(map[uuid.UUID]map[string]store.SourceStats),
	}
}

// StartRun inserts the run or refreshes started_at while it is still running.
func (s *RunStore) StartRun(_ context.Context, runID uuid.UUID, kind store.RunKind, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		s.runs[runID] = store.Run{
			ID:        runID,
			Kind:      kind,
			StartedAt: startedAt,
			Status:    store.RunRunning,
		}
		return nil
	}
	if run.Status == store.RunRunning {
		run.StartedAt = startedAt
		s.runs[runID] = run
	}
	return nil
}

// CompleteRun marks the run finished. Unknown runs are ignored, matching the
// Postgres UPDATE.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil
	}
	ts := finishedAt
	run.FinishedAt = &ts
	run.Status = status
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	} else {
		run.ErrorMessage = nil
	}
	s.runs[runID] = run
	return nil
}

// AddItemCounts applies per-outcome item deltas to a known run.
func (s *RunStore) AddItemCounts(
	_ context.Context,
	runID uuid.UUID,
	succeeded, skipped, failed int64,
	_ time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil
	}
	run.Succeeded += succeeded
	run.Skipped += skipped
	run.Failed += failed
	s.runs[runID] = run
	return nil
}

// UpsertSourceStats applies page and byte deltas per (run, source).
func (s *RunStore) UpsertSourceStats(
	_ context.Context,
	runID uuid.UUID,
	source string,
	deltaPages,
	deltaBytes int64,
	statusClass string,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bySource, ok := s.sources[runID]
	if !ok {
		bySource = make(map[string]store.SourceStats)
		s.sources[runID] = bySource
	}
	stat, ok := bySource[source]
	if !ok {
		stat = store.SourceStats{RunID: runID, Source: source}
	}
	stat.Pages += deltaPages
	stat.BytesTotal += deltaBytes
	stat.LastUpdate = at
	switch statusClass {
	case "2xx":
		stat.Fetch2xx += deltaPages
	case "3xx":
		stat.Fetch3xx += deltaPages
	case "4xx":
		stat.Fetch4xx += deltaPages
	case "5xx":
		stat.Fetch5xx += deltaPages
	case "other":
	default:
		return fmt.Errorf("unknown status class: %s", statusClass)
	}
	bySource[source] = stat
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return cloneRun(run), nil
}

// ListRuns returns runs newest first, optionally filtered by kind and status.
func (s *RunStore) ListRuns(
	_ context.Context,
	kind *store.RunKind,
	status *store.RunStatus,
	limit,
	offset int,
) ([]store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if kind != nil && run.Kind != *kind {
			continue
		}
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, cloneRun(run))
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID.String() < runs[j].ID.String()
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return paginate(runs, limit, offset), nil
}

// ListRunSources returns aggregated source stats for one run, most recently
// updated first.
func (s *RunStore) ListRunSources(
	_ context.Context,
	runID uuid.UUID,
	limit,
	offset int,
) ([]store.SourceStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bySource := s.sources[runID]
	stats := make([]store.SourceStats, 0, len(bySource))
	for _, stat := range bySource {
		stats = append(stats, stat)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].LastUpdate.Equal(stats[j].LastUpdate) {
			return stats[i].Source < stats[j].Source
		}
		return stats[i].LastUpdate.After(stats[j].LastUpdate)
	})
	return paginate(stats, limit, offset), nil
}

func cloneRun(run store.Run) store.Run {
	if run.FinishedAt != nil {
		ts := *run.FinishedAt
		run.FinishedAt = &ts
	}
	if run.ErrorMessage != nil {
		msg := *run.ErrorMessage
		run.ErrorMessage = &msg
	}
	return run
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit >= 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
