// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TeacherLi07/essayhelper/internal/config"
	"github.com/TeacherLi07/essayhelper/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository on a pgx connection pool.
type RunStore struct {
	pool         querier
	runsTable    string
	sourcesTable string
}

// NewRunStore connects a pool using the provided config and returns a RunStore.
func NewRunStore(ctx context.Context, cfg config.DatabaseConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	runsTable, sourcesTable, err := tableNames(cfg.RunsTable, cfg.SourcesTable)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if lifetime := cfg.MaxConnLifetime(); lifetime > 0 {
		poolCfg.MaxConnLifetime = lifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{
		pool:         pool,
		runsTable:    runsTable,
		sourcesTable: sourcesTable,
	}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool querier, runsTable, sourcesTable string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	runs, sources, err := tableNames(runsTable, sourcesTable)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, runsTable: runs, sourcesTable: sources}, nil
}

func tableNames(runs, sources string) (string, string, error) {
	if runs == "" {
		runs = "runs"
	}
	if sources == "" {
		sources = "run_sources"
	}
	if !validTableName.MatchString(runs) {
		return "", "", fmt.Errorf("invalid table name %q", runs)
	}
	if !validTableName.MatchString(sources) {
		return "", "", fmt.Errorf("invalid table name %q", sources)
	}
	return runs, sources, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StartRun inserts the run row or refreshes started_at while the run is still
// running. Duplicate starts after completion are no-ops.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, kind store.RunKind, startedAt time.Time) error {
	query := fmt.Sprintf(`
		INSERT INTO %s AS r (id, kind, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET started_at = EXCLUDED.started_at
		WHERE r.status = EXCLUDED.status;
	`, s.runsTable)
	if _, err := s.pool.Exec(ctx, query, runID, kind, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run as finished with a status and optional error message.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`, s.runsTable)
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// AddItemCounts applies per-outcome item deltas to a run.
func (s *RunStore) AddItemCounts(
	ctx context.Context,
	runID uuid.UUID,
	succeeded, skipped, failed int64,
	at time.Time,
) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET succeeded = succeeded + $1,
			skipped = skipped + $2,
			failed = failed + $3,
			last_update = $4
		WHERE id = $5;
	`, s.runsTable)
	if _, err := s.pool.Exec(ctx, query, succeeded, skipped, failed, at, runID); err != nil {
		return fmt.Errorf("add item counts: %w", err)
	}
	return nil
}

// UpsertSourceStats updates the fetch statistics for a given source within a run.
func (s *RunStore) UpsertSourceStats(
	ctx context.Context,
	runID uuid.UUID,
	source string,
	deltaPages,
	deltaBytes int64,
	statusClass string,
	at time.Time,
) error {
	var query string
	switch statusClass {
	case "2xx":
		query = `UPDATE %s SET pages = pages + $1,
			bytes_total = bytes_total + $2,
			fetch_2xx = fetch_2xx + $1,
			last_update = $3
			WHERE run_id = $4 AND source = $5;`
	case "3xx":
		query = `UPDATE %s SET pages = pages + $1,
			bytes_total = bytes_total + $2,
			fetch_3xx = fetch_3xx + $1,
			last_update = $3
			WHERE run_id = $4 AND source = $5;`
	case "4xx":
		query = `UPDATE %s SET pages = pages + $1,
			bytes_total = bytes_total + $2,
			fetch_4xx = fetch_4xx + $1,
			last_update = $3
			WHERE run_id = $4 AND source = $5;`
	case "5xx":
		query = `UPDATE %s SET pages = pages + $1,
			bytes_total = bytes_total + $2,
			fetch_5xx = fetch_5xx + $1,
			last_update = $3
			WHERE run_id = $4 AND source = $5;`
	case "other":
		// Network failures and odd statuses count pages and bytes only.
		query = `UPDATE %s SET pages = pages + $1,
			bytes_total = bytes_total + $2,
			last_update = $3
			WHERE run_id = $4 AND source = $5;`
	default:
		return fmt.Errorf("unknown status class: %s", statusClass)
	}

	res, err := s.pool.Exec(ctx, fmt.Sprintf(query, s.sourcesTable), deltaPages, deltaBytes, at, runID, source)
	if err != nil {
		return fmt.Errorf("update source stats: %w", err)
	}
	if res.RowsAffected() == 0 {
		var fetch2xx, fetch3xx, fetch4xx, fetch5xx int64
		switch statusClass {
		case "2xx":
			fetch2xx = deltaPages
		case "3xx":
			fetch3xx = deltaPages
		case "4xx":
			fetch4xx = deltaPages
		case "5xx":
			fetch5xx = deltaPages
		}

		query = fmt.Sprintf(`
			INSERT INTO %s (run_id, source, last_update, pages, bytes_total, fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (run_id, source) DO NOTHING;
		`, s.sourcesTable)
		_, err = s.pool.Exec(
			ctx,
			query,
			runID,
			source,
			at,
			deltaPages,
			deltaBytes,
			fetch2xx,
			fetch3xx,
			fetch4xx,
			fetch5xx,
		)
		if err != nil {
			return fmt.Errorf("insert source stats: %w", err)
		}
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := fmt.Sprintf(`
		SELECT id, kind, started_at, finished_at, status, succeeded, skipped, failed, error_message
		FROM %s
		WHERE id = $1;
	`, s.runsTable)
	var run store.Run
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.Kind,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.Succeeded,
		&run.Skipped,
		&run.Failed,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs ordered newest first, with optional kind and status filters.
func (s *RunStore) ListRuns(
	ctx context.Context,
	kind *store.RunKind,
	status *store.RunStatus,
	limit,
	offset int,
) ([]store.Run, error) {
	query := fmt.Sprintf(`
		SELECT id, kind, started_at, finished_at, status, succeeded, skipped, failed, error_message
		FROM %s
		WHERE ($1::text IS NULL OR kind = $1)
			AND ($2::text IS NULL OR status = $2)
		ORDER BY started_at DESC
		LIMIT $3 OFFSET $4;
	`, s.runsTable)
	rows, err := s.pool.Query(ctx, query, kind, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		var run store.Run
		err := rows.Scan(
			&run.ID,
			&run.Kind,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.Succeeded,
			&run.Skipped,
			&run.Failed,
			&run.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// ListRunSources retrieves aggregated fetch statistics for a given run.
func (s *RunStore) ListRunSources(
	ctx context.Context,
	runID uuid.UUID,
	limit,
	offset int,
) ([]store.SourceStats, error) {
	query := fmt.Sprintf(`
		SELECT run_id, source, last_update, pages, bytes_total, fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx
		FROM %s
		WHERE run_id = $1
		ORDER BY last_update DESC
		LIMIT $2 OFFSET $3;
	`, s.sourcesTable)
	rows, err := s.pool.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list run sources: %w", err)
	}
	defer rows.Close()

	var stats []store.SourceStats
	for rows.Next() {
		var stat store.SourceStats
		err := rows.Scan(
			&stat.RunID,
			&stat.Source,
			&stat.LastUpdate,
			&stat.Pages,
			&stat.BytesTotal,
			&stat.Fetch2xx,
			&stat.Fetch3xx,
			&stat.Fetch4xx,
			&stat.Fetch5xx,
		)
		if err != nil {
			return nil, fmt.Errorf("scan source stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run sources: %w", err)
	}
	return stats, nil
}
