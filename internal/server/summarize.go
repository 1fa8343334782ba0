package server

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/TeacherLi07/essayhelper/internal/article"
	"github.com/TeacherLi07/essayhelper/internal/clock/system"
	"github.com/TeacherLi07/essayhelper/internal/config"
	"github.com/TeacherLi07/essayhelper/internal/enrich"
	idgen "github.com/TeacherLi07/essayhelper/internal/id/uuid"
	"github.com/TeacherLi07/essayhelper/internal/metrics"
	"github.com/TeacherLi07/essayhelper/internal/progress"
	pgstore "github.com/TeacherLi07/essayhelper/internal/storage/postgres"
	"github.com/TeacherLi07/essayhelper/internal/summarize"
	"github.com/TeacherLi07/essayhelper/internal/throttle"
)

// SummarizeApp wires one summarization pass over the article store.
type SummarizeApp struct {
	cfg  config.Config
	log  *zap.Logger
	orch *enrich.Orchestrator
	hub  *progress.Hub
	runs *pgstore.RunStore
}

// BuildSummarize assembles the summarize dependency graph: the remote
// model client behind its shared throttle, the processor, and the
// orchestrator's worker pool.
func BuildSummarize(ctx context.Context, cfg config.Config, log *zap.Logger) (*SummarizeApp, error) {
	metrics.Init()

	app := &SummarizeApp{cfg: cfg, log: log}
	built := false
	defer func() {
		if !built {
			app.Close(ctx)
		}
	}()

	articles := article.NewStore(cfg.Data.Path)

	gate := throttle.New(system.New(), throttle.Config{
		Interval: cfg.Summarizer.Interval(),
		Lease:    cfg.Summarizer.LeaderLease(),
	})
	client := summarize.NewClient(cfg.Summarizer, log)
	retryer := summarize.NewRetryer(client, gate, idgen.New(), cfg.Summarizer, log)
	proc := enrich.NewProcessor(articles, retryer, log)

	repo, pg, err := openRunRepo(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	app.runs = pg
	app.hub, err = newHub(ctx, cfg, repo, log)
	if err != nil {
		return nil, err
	}
	var reporter enrich.Reporter
	if app.hub != nil {
		reporter = app.hub
	}

	app.orch = enrich.NewOrchestrator(articles, proc, reporter, idgen.New(), cfg.Summarizer.Workers, log)
	built = true
	return app, nil
}

// Run executes one summarization pass, stopping early on SIGINT or
// SIGTERM.
func (a *SummarizeApp) Run(ctx context.Context) (enrich.Stats, error) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.orch.Run(ctx)
}

// Close flushes progress and releases the run store.
func (a *SummarizeApp) Close(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.log.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.runs != nil {
		a.runs.Close()
	}
}
