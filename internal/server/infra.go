package server

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/TeacherLi07/essayhelper/internal/config"
	"github.com/TeacherLi07/essayhelper/internal/progress"
	"github.com/TeacherLi07/essayhelper/internal/progress/sinks"
	memorystore "github.com/TeacherLi07/essayhelper/internal/storage/memory"
	pgstore "github.com/TeacherLi07/essayhelper/internal/storage/postgres"
	"github.com/TeacherLi07/essayhelper/internal/store"
)

// openRunRepo opens the run-history repository for a pipeline run:
// postgres when a DSN is configured, otherwise the in-memory store so
// the progress sinks still have somewhere to write. The second return
// is non-nil only for postgres and must be closed by the caller.
func openRunRepo(ctx context.Context, cfg config.Config, log *zap.Logger) (store.RunRepository, *pgstore.RunStore, error) {
	if cfg.Database.DSN == "" {
		log.Info("no database dsn configured, keeping run history in memory")
		return memorystore.NewRunStore(), nil, nil
	}
	pg, err := pgstore.NewRunStore(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("run store init: %w", err)
	}
	log.Info("run store initialized",
		zap.String("runs_table", cfg.Database.RunsTable),
		zap.String("sources_table", cfg.Database.SourcesTable))
	return pg, pg, nil
}

// newHub assembles the progress hub and its sinks for one pipeline run.
// A nil hub means progress tracking is off; callers must keep a nil
// reporter in that case rather than passing the typed nil along.
func newHub(ctx context.Context, cfg config.Config, repo store.RunRepository, log *zap.Logger) (*progress.Hub, error) {
	if !cfg.Progress.Enabled {
		log.Info("progress tracking disabled")
		return nil, nil
	}

	var sinkList []progress.Sink
	if repo != nil {
		sinkList = append(sinkList, sinks.NewStoreSink(repo, log.Named("progress_store")))
	}
	if cfg.Progress.LogEnabled {
		sinkList = append(sinkList, sinks.NewLogSink(log.Named("progress_log")))
	}
	if cfg.Progress.PrometheusEnabled {
		sink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
		if err != nil {
			return nil, fmt.Errorf("prometheus sink init: %w", err)
		}
		sinkList = append(sinkList, sink)
	}
	if len(sinkList) == 0 {
		log.Warn("progress tracking enabled but no sinks configured")
		return nil, nil
	}

	hubCfg := progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    ctx,
		Logger:         log.Named("progress_hub"),
	}
	hub := progress.NewHub(hubCfg, sinkList...)
	log.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize))
	return hub, nil
}
