package server

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/TeacherLi07/essayhelper/internal/article"
	"github.com/TeacherLi07/essayhelper/internal/config"
	"github.com/TeacherLi07/essayhelper/internal/embed"
	idgen "github.com/TeacherLi07/essayhelper/internal/id/uuid"
	"github.com/TeacherLi07/essayhelper/internal/index"
	"github.com/TeacherLi07/essayhelper/internal/metrics"
	"github.com/TeacherLi07/essayhelper/internal/progress"
	pgstore "github.com/TeacherLi07/essayhelper/internal/storage/postgres"
	redisstore "github.com/TeacherLi07/essayhelper/internal/store/redis"
)

// IndexApp wires one index build over the article store.
type IndexApp struct {
	cfg     config.Config
	log     *zap.Logger
	builder *index.Builder
	redis   *goredis.Client
	hub     *progress.Hub
	runs    *pgstore.RunStore
}

// BuildIndex assembles the index dependency graph. Redis is required:
// the build hydrates article hashes into it as the search serving set.
func BuildIndex(ctx context.Context, cfg config.Config, log *zap.Logger) (*IndexApp, error) {
	metrics.Init()

	app := &IndexApp{cfg: cfg, log: log}
	built := false
	defer func() {
		if !built {
			app.Close(ctx)
		}
	}()

	articles := article.NewStore(cfg.Data.Path)
	embedder := embed.NewClient(cfg.Embeddings, log)

	rdb, err := redisstore.Connect(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	app.redis = rdb

	repo, pg, err := openRunRepo(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	app.runs = pg
	app.hub, err = newHub(ctx, cfg, repo, log)
	if err != nil {
		return nil, err
	}
	var reporter index.Reporter
	if app.hub != nil {
		reporter = app.hub
	}

	app.builder = index.NewBuilder(articles, embedder, redisstore.NewArticleStore(rdb), reporter, idgen.New(), cfg.Index.Path, log)
	built = true
	return app, nil
}

// Run executes one index build, stopping early on SIGINT or SIGTERM.
func (a *IndexApp) Run(ctx context.Context) (index.Stats, error) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.builder.Run(ctx)
}

// Close flushes progress and releases the clients.
func (a *IndexApp) Close(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.log.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("redis close failed", zap.Error(err))
		}
	}
	if a.runs != nil {
		a.runs.Close()
	}
}
