package server

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	pubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/TeacherLi07/essayhelper/internal/article"
	"github.com/TeacherLi07/essayhelper/internal/config"
	"github.com/TeacherLi07/essayhelper/internal/crawler"
	"github.com/TeacherLi07/essayhelper/internal/dispatcher"
	collyfetcher "github.com/TeacherLi07/essayhelper/internal/fetcher/colly"
	headlessfetcher "github.com/TeacherLi07/essayhelper/internal/fetcher/headless"
	"github.com/TeacherLi07/essayhelper/internal/hash/sha256"
	"github.com/TeacherLi07/essayhelper/internal/headless/detector"
	idgen "github.com/TeacherLi07/essayhelper/internal/id/uuid"
	"github.com/TeacherLi07/essayhelper/internal/metrics"
	"github.com/TeacherLi07/essayhelper/internal/policy/ratelimit"
	"github.com/TeacherLi07/essayhelper/internal/policy/simple"
	"github.com/TeacherLi07/essayhelper/internal/progress"
	memorypublisher "github.com/TeacherLi07/essayhelper/internal/publisher/memory"
	gcppublisher "github.com/TeacherLi07/essayhelper/internal/publisher/pubsub"
	queuememory "github.com/TeacherLi07/essayhelper/internal/queue/memory"
	gcsstorage "github.com/TeacherLi07/essayhelper/internal/storage/gcs"
	localstorage "github.com/TeacherLi07/essayhelper/internal/storage/local"
	memorystorage "github.com/TeacherLi07/essayhelper/internal/storage/memory"
	pgstore "github.com/TeacherLi07/essayhelper/internal/storage/postgres"
	redisstore "github.com/TeacherLi07/essayhelper/internal/store/redis"
	"github.com/TeacherLi07/essayhelper/internal/worker"
)

// CrawlApp wires one crawl run: the enabled sources, the fetch stack,
// the worker pool, and every store a worker may write to.
type CrawlApp struct {
	cfg    config.Config
	log    *zap.Logger
	runner *worker.Runner
	queue  *queuememory.Queue

	hub      *progress.Hub
	headless *headlessfetcher.Fetcher
	redis    *goredis.Client
	gcs      *storage.Client
	pubsub   *pubsub.Client
	pub      *gcppublisher.Publisher
	runs     *pgstore.RunStore
}

// BuildCrawl assembles the crawl dependency graph. At least one source
// must be enabled in configuration.
func BuildCrawl(ctx context.Context, cfg config.Config, log *zap.Logger) (*CrawlApp, error) {
	metrics.Init()

	app := &CrawlApp{cfg: cfg, log: log}
	built := false
	defer func() {
		if !built {
			app.Close(ctx)
		}
	}()

	articles := article.NewStore(cfg.Data.Path)
	if err := articles.EnsureRoot(); err != nil {
		return nil, fmt.Errorf("article store init: %w", err)
	}

	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: !cfg.Crawler.IgnoreRobots,
		Timeout:       cfg.HTTP.Timeout(),
	})
	log.Info("probe fetcher ready", zap.String("user_agent", cfg.Crawler.UserAgent))

	sources := enabledSources(probe, cfg, log)
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources enabled in configuration")
	}
	byName := make(map[string]crawler.Source, len(sources))
	for _, src := range sources {
		byName[src.Name()] = src
	}

	var headless crawler.Fetcher
	var detect crawler.HeadlessDetector
	if cfg.Headless.Enabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: cfg.Headless.NavTimeout(),
		})
		if err != nil {
			// Crawling continues on the probe body alone.
			log.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			app.headless = hf
			headless = hf
			detect = detector.NewHeuristic(cfg.Headless.PromotionThresh)
			log.Info("headless fetcher ready", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
	}

	var rate crawler.RatePolicy
	if cfg.RateLimit.Enabled {
		rate = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.DefaultRPS,
			DefaultBurst: cfg.RateLimit.DefaultBurst,
		})
		log.Info("rate limiter enabled",
			zap.Float64("default_rps", cfg.RateLimit.DefaultRPS),
			zap.Int("default_burst", cfg.RateLimit.DefaultBurst))
	} else {
		rate = simple.New()
	}

	blobs, err := app.openBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	pub, err := app.openPublisher(ctx)
	if err != nil {
		return nil, err
	}

	var mirror crawler.ArticleMirror
	if cfg.Redis.URL != "" {
		rdb, err := redisstore.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		app.redis = rdb
		mirror = redisstore.NewArticleStore(rdb)
	} else {
		log.Info("redis not configured, articles will not be mirrored")
	}

	repo, pg, err := openRunRepo(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	app.runs = pg
	app.hub, err = newHub(ctx, cfg, repo, log)
	if err != nil {
		return nil, err
	}
	var reporter worker.Reporter
	if app.hub != nil {
		reporter = app.hub
	}

	app.queue = queuememory.NewQueue(cfg.Crawler.QueueDepth)
	counters := &worker.Counters{}
	deps := worker.Deps{
		Queue:     app.queue,
		Sources:   byName,
		Store:     articles,
		Probe:     probe,
		Headless:  headless,
		Detector:  detect,
		Rate:      rate,
		Robots:    crawler.NewRobotsEnforcer(!cfg.Crawler.IgnoreRobots, cfg.Crawler.UserAgent, log),
		Blocklist: crawler.NewBlocklist(cfg.Crawler.DenyDomains),
		Blocker:   crawler.NewThresholdBlocker(0),
		Retry:     crawler.NewExponentialRetryPolicy(cfg.HTTP.MaxRetries, cfg.HTTP.BackoffInitial(), cfg.HTTP.BackoffMax()),
		Hasher:    sha256.New(),
		Blobs:     blobs,
		Publisher: pub,
		Mirror:    mirror,
		Reporter:  reporter,
		Counters:  counters,
		Logger:    log,
	}
	workerCfg := worker.Config{
		ContentType: cfg.Storage.ContentType,
		Topic:       cfg.PubSub.TopicName,
		Snapshots:   cfg.Crawler.Snapshots,
	}

	pool := make([]dispatcher.Worker, 0, cfg.Crawler.Concurrency)
	for i := 0; i < cfg.Crawler.Concurrency; i++ {
		pool = append(pool, worker.New(deps, workerCfg))
	}
	app.runner = worker.NewRunner(app.queue, dispatcher.New(pool...), sources, articles, reporter, idgen.New(), counters, log)
	built = true
	return app, nil
}

// Run executes one crawl, stopping early on SIGINT or SIGTERM.
func (a *CrawlApp) Run(ctx context.Context) (worker.Stats, error) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.runner.Run(ctx)
}

// Close flushes progress and releases every acquired client. Safe to
// call on a partially built app.
func (a *CrawlApp) Close(ctx context.Context) {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.log.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pub != nil {
		a.pub.Close()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.log.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.log.Warn("gcs client close failed", zap.Error(err))
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

// enabledSources builds the configured sources in a stable order.
func enabledSources(fetcher crawler.Fetcher, cfg config.Config, log *zap.Logger) []crawler.Source {
	var sources []crawler.Source
	if cfg.Crawler.BjNews.Enabled {
		sources = append(sources, crawler.NewBjNews(fetcher, cfg.Crawler.BjNews, log))
	}
	if cfg.Crawler.Wechat.Enabled {
		sources = append(sources, crawler.NewWechat(fetcher, cfg.Crawler.Wechat, log))
	}
	for _, src := range sources {
		log.Info("source enabled", zap.String("source", src.Name()))
	}
	return sources
}

// openBlobStore picks the snapshot backend. The default is in-memory,
// which effectively discards snapshots on exit.
func (a *CrawlApp) openBlobStore(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init: %w", err)
		}
		a.gcs = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Storage.Bucket,
			Prefix: a.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init: %w", err)
		}
		a.log.Info("snapshots to gcs", zap.String("bucket", a.cfg.Storage.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init: %w", err)
		}
		a.log.Info("snapshots to local disk", zap.String("dir", a.cfg.Storage.LocalDir))
		return blobs, nil
	default:
		a.log.Info("snapshots to memory")
		return memorystorage.NewBlobStore(), nil
	}
}

// openPublisher connects to Pub/Sub when a project and topic are
// configured, falling back to the in-memory publisher.
func (a *CrawlApp) openPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicName == "" {
		a.log.Info("pub/sub not configured, article events stay in memory")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init: %w", err)
	}
	a.pubsub = client
	pub, err := gcppublisher.New(client)
	if err != nil {
		return nil, err
	}
	a.pub = pub
	a.log.Info("pub/sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName))
	return pub, nil
}
