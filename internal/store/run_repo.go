package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunKind identifies which pipeline produced a run.
type RunKind string

// Pipeline kinds persisted in runs.kind.
const (
	RunCrawl     RunKind = "crawl"
	RunSummarize RunKind = "summarize"
	RunIndex     RunKind = "index"
)

// RunStatus mirrors the runs status column.
type RunStatus string

// Run statuses persisted in runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run models one pipeline execution for history and API responses.
type Run struct {
	// ID uniquely identifies the run; workers share it for the run's lifetime.
	ID uuid.UUID
	// Kind is the pipeline that produced the run.
	Kind RunKind
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time
	// Status is running/success/error.
	Status RunStatus
	// Succeeded/Skipped/Failed count processed items; their sum is the
	// number of items the run has touched so far.
	Succeeded int64
	Skipped   int64
	Failed    int64
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// SourceStats aggregates crawl fetches per (run, source).
type SourceStats struct {
	// RunID is the owning run.
	RunID uuid.UUID
	// Source is the crawl source label (e.g. bjnews, wechat).
	Source string
	// LastUpdate captures the timestamp of the most recent aggregate.
	LastUpdate time.Time
	// Pages counts completed fetches for the source.
	Pages int64
	// BytesTotal accumulates response bytes.
	BytesTotal int64
	// Fetch2xx-5xx hold per-status counts for diagnostics.
	Fetch2xx int64
	Fetch3xx int64
	Fetch4xx int64
	Fetch5xx int64
}

// RunRepository persists incremental run progress.
type RunRepository interface {
	// StartRun inserts (or idempotently updates) the run's started_at.
	StartRun(ctx context.Context, runID uuid.UUID, kind RunKind, startedAt time.Time) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// AddItemCounts applies per-outcome item deltas to a running run.
	AddItemCounts(ctx context.Context, runID uuid.UUID, succeeded, skipped, failed int64, at time.Time) error
	// UpsertSourceStats applies page/byte deltas per (run, source, statusClass).
	UpsertSourceStats(
		ctx context.Context,
		runID uuid.UUID,
		source string,
		deltaPages int64,
		deltaBytes int64,
		statusClass string,
		at time.Time,
	) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional kind/status plus limit/offset.
	ListRuns(ctx context.Context, kind *RunKind, status *RunStatus, limit, offset int) ([]Run, error)
	// ListRunSources returns aggregated source stats for one run.
	ListRunSources(ctx context.Context, runID uuid.UUID, limit, offset int) ([]SourceStats, error)
}
