// Package server assembles the dependency graph behind each essayhelper
// subcommand and owns the process lifecycle: signal handling, startup
// logging, and orderly shutdown. One Build* function per pipeline keeps
// every command's footprint limited to what it actually touches.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/TeacherLi07/essayhelper/internal/api"
	"github.com/TeacherLi07/essayhelper/internal/clock/system"
	"github.com/TeacherLi07/essayhelper/internal/config"
	"github.com/TeacherLi07/essayhelper/internal/embed"
	"github.com/TeacherLi07/essayhelper/internal/feedback"
	"github.com/TeacherLi07/essayhelper/internal/hash/sha256"
	"github.com/TeacherLi07/essayhelper/internal/index"
	"github.com/TeacherLi07/essayhelper/internal/metrics"
	"github.com/TeacherLi07/essayhelper/internal/search"
	"github.com/TeacherLi07/essayhelper/internal/store"
	redisstore "github.com/TeacherLi07/essayhelper/internal/store/redis"
	pgstore "github.com/TeacherLi07/essayhelper/internal/storage/postgres"
)

const shutdownTimeout = 10 * time.Second

// App is the serve-mode application: the HTTP API plus the stores and
// index it reads from.
type App struct {
	cfg   config.Config
	log   *zap.Logger
	api   *api.Server
	redis *goredis.Client
	runs  *pgstore.RunStore
}

// Build assembles the serve dependency graph. Redis and a built index
// are required; the run-history endpoints additionally need a database
// DSN and answer 503 without one.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	metrics.Init()

	app := &App{cfg: cfg, log: log}
	built := false
	defer func() {
		if !built {
			app.Close(ctx)
		}
	}()

	var err error
	app.redis, err = redisstore.Connect(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	idx, err := index.Load(cfg.Index.Path)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	metrics.SetIndexVectors(idx.Len())
	log.Info("index loaded",
		zap.String("path", cfg.Index.Path),
		zap.Int("vectors", idx.Len()),
		zap.Int("dim", idx.Dim()))

	embedder := embed.NewClient(cfg.Embeddings, log)
	articles := redisstore.NewArticleStore(app.redis)
	cache := redisstore.NewQueryCache(app.redis, cfg.Search.CacheTTL())
	searcher := search.NewService(embedder, idx, articles, cache, sha256.New(), cfg.Search, log)

	var mailer feedback.Mailer
	if cfg.Feedback.SMTPHost != "" {
		mailer = feedback.NewSMTPMailer(cfg.Feedback)
	} else {
		log.Info("smtp not configured, feedback email notifications disabled")
	}
	fb := feedback.NewService(redisstore.NewFeedbackQueue(app.redis), mailer, system.New(), log)

	var runRepo store.RunRepository
	if cfg.Database.DSN != "" {
		app.runs, err = pgstore.NewRunStore(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("run store init: %w", err)
		}
		runRepo = app.runs
		log.Info("run store initialized", zap.String("runs_table", cfg.Database.RunsTable))
	} else {
		log.Warn("no database dsn configured, run history endpoints disabled")
	}

	checks := []api.ReadyCheck{
		{Name: "redis", Check: func(ctx context.Context) error {
			return app.redis.Ping(ctx).Err()
		}},
		{Name: "index", Check: func(context.Context) error {
			if idx.Len() == 0 {
				return errors.New("no vectors loaded")
			}
			return nil
		}},
	}

	app.api = api.NewServer(searcher, articles, fb, runRepo, checks, cfg, log)
	built = true
	return app, nil
}

// Run serves HTTP until the context is canceled or a termination signal
// arrives, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.log.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server shutdown error", zap.Error(err))
	}
	return nil
}

// Close releases the stores behind the API.
func (a *App) Close(context.Context) {
	if a.runs != nil {
		a.runs.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("redis close failed", zap.Error(err))
		}
	}
	a.log.Info("shutdown complete")
}
