// Package config loads and validates essayhelper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Data       DataConfig       `mapstructure:"data"`
	Summarizer SummarizerConfig `mapstructure:"summarizer"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Index      IndexConfig      `mapstructure:"index"`
	Search     SearchConfig     `mapstructure:"search"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Feedback   FeedbackConfig   `mapstructure:"feedback"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DataConfig locates the article corpus on disk.
type DataConfig struct {
	Path string `mapstructure:"path"`
}

// SummarizerConfig governs the batch enrichment pipeline: the remote
// chat-completion endpoint plus the shared throttle numerics.
type SummarizerConfig struct {
	BaseURL            string  `mapstructure:"base_url"`
	APIKey             string  `mapstructure:"api_key"`
	Model              string  `mapstructure:"model"`
	Prompt             string  `mapstructure:"prompt"`
	Temperature        float64 `mapstructure:"temperature"`
	Workers            int     `mapstructure:"workers"`
	IntervalMs         int     `mapstructure:"interval_ms"`
	BackoffMs          int     `mapstructure:"backoff_ms"`
	MaxAttempts        int     `mapstructure:"max_attempts"`
	ReleaseWaitSeconds int     `mapstructure:"release_wait_seconds"`
	LeaderLeaseSeconds int     `mapstructure:"leader_lease_seconds"`
	TimeoutSeconds     int     `mapstructure:"timeout_seconds"`
}

// EmbeddingsConfig configures the remote embedding endpoint.
type EmbeddingsConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model"`
	MaxRetries        int    `mapstructure:"max_retries"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
}

// IndexConfig locates the persisted vector index.
type IndexConfig struct {
	Path string `mapstructure:"path"`
}

// SearchConfig governs the query path.
type SearchConfig struct {
	MaxK            int `mapstructure:"max_k"`
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`
	SummaryTruncate int `mapstructure:"summary_truncate"`
}

// RedisConfig points at the article/query store.
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
}

// DatabaseConfig controls the optional Postgres run-history store.
type DatabaseConfig struct {
	DSN                string `mapstructure:"dsn"`
	RunsTable          string `mapstructure:"runs_table"`
	SourcesTable       string `mapstructure:"sources_table"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMin int    `mapstructure:"max_conn_lifetime_minutes"`
}

// StorageConfig selects the raw-page snapshot backend.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
	LocalDir    string `mapstructure:"local_dir"`
}

// PubSubConfig holds metadata for article event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// CrawlerConfig governs the crawl worker pool and its sources.
type CrawlerConfig struct {
	Concurrency  int          `mapstructure:"concurrency"`
	QueueDepth   int          `mapstructure:"queue_depth"`
	UserAgent    string       `mapstructure:"user_agent"`
	IgnoreRobots bool         `mapstructure:"ignore_robots"`
	Snapshots    bool         `mapstructure:"snapshots"`
	// DenyDomains lists hosts never fetched; "*.example.com" and
	// ".example.com" match subdomains.
	DenyDomains []string     `mapstructure:"deny_domains"`
	BjNews      BjNewsConfig `mapstructure:"bjnews"`
	Wechat      WechatConfig `mapstructure:"wechat"`
}

// BjNewsConfig configures the bjnews column source.
type BjNewsConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	ColumnID           int  `mapstructure:"column_id"`
	StartPage          int  `mapstructure:"start_page"`
	EndPage            int  `mapstructure:"end_page"`
	ListDelaySeconds   int  `mapstructure:"list_delay_seconds"`
	DetailDelaySeconds int  `mapstructure:"detail_delay_seconds"`
}

// WechatConfig configures the WeChat official-account source. Cookie and
// token come from an authenticated MP platform session.
type WechatConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Cookie       string `mapstructure:"cookie"`
	Token        string `mapstructure:"token"`
	FakeID       string `mapstructure:"fakeid"`
	Account      string `mapstructure:"account"`
	StartPage    int    `mapstructure:"start_page"`
	EndPage      int    `mapstructure:"end_page"`
	DelaySeconds int    `mapstructure:"delay_seconds"`
}

// HTTPConfig configures fetch timeout/retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	// PromotionThresh is the body size in bytes under which a page is
	// suspected of rendering client-side.
	PromotionThresh int `mapstructure:"promotion_threshold"`
}

// RateLimitConfig controls the per-host crawl limiter.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// ProgressConfig tunes the progress hub and its sinks.
type ProgressConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	LogEnabled        bool          `mapstructure:"log_enabled"`
	PrometheusEnabled bool          `mapstructure:"prometheus_enabled"`
	BufferSize        int           `mapstructure:"buffer_size"`
	SinkTimeoutMs     int           `mapstructure:"sink_timeout_ms"`
	Batch             ProgressBatch `mapstructure:"batch"`
}

// ProgressBatch bounds event batching inside the hub.
type ProgressBatch struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// FeedbackConfig wires feedback intake to SMTP.
type FeedbackConfig struct {
	SMTPHost       string `mapstructure:"smtp_host"`
	SMTPPort       int    `mapstructure:"smtp_port"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	SenderNickname string `mapstructure:"sender_nickname"`
	AdminEmail     string `mapstructure:"admin_email"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ESSAYHELPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("data.path", "./data")

	v.SetDefault("summarizer.base_url", "https://api.deepseek.com")
	v.SetDefault("summarizer.model", "deepseek-chat")
	v.SetDefault("summarizer.prompt", "从当下的时代背景出发，为此文章生成一个清晰、全面的摘要。")
	v.SetDefault("summarizer.temperature", 1.0)
	v.SetDefault("summarizer.workers", 8)
	v.SetDefault("summarizer.interval_ms", 1000)
	v.SetDefault("summarizer.backoff_ms", 2000)
	v.SetDefault("summarizer.max_attempts", 10)
	v.SetDefault("summarizer.release_wait_seconds", 300)
	v.SetDefault("summarizer.leader_lease_seconds", 300)
	v.SetDefault("summarizer.timeout_seconds", 120)

	v.SetDefault("embeddings.base_url", "https://api.siliconflow.cn")
	v.SetDefault("embeddings.model", "BAAI/bge-m3")
	v.SetDefault("embeddings.max_retries", 3)
	v.SetDefault("embeddings.retry_delay_seconds", 5)
	v.SetDefault("embeddings.timeout_seconds", 30)

	v.SetDefault("index.path", "./essay_index.idx")
	v.SetDefault("search.max_k", 30)
	v.SetDefault("search.cache_ttl_seconds", 0)
	v.SetDefault("search.summary_truncate", 300)

	v.SetDefault("redis.url", "redis://localhost:6379/0")

	v.SetDefault("database.runs_table", "runs")
	v.SetDefault("database.sources_table", "run_sources")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime_minutes", 30)

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("storage.local_dir", "./snapshots")

	v.SetDefault("crawler.concurrency", 3)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.user_agent",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 13_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/13.1.1 Mobile/15E148 Safari/604.1")
	v.SetDefault("crawler.ignore_robots", false)
	v.SetDefault("crawler.snapshots", false)
	v.SetDefault("crawler.bjnews.enabled", true)
	v.SetDefault("crawler.bjnews.column_id", 9025)
	v.SetDefault("crawler.bjnews.start_page", 1)
	v.SetDefault("crawler.bjnews.end_page", 1)
	v.SetDefault("crawler.bjnews.list_delay_seconds", 2)
	v.SetDefault("crawler.bjnews.detail_delay_seconds", 5)
	v.SetDefault("crawler.wechat.enabled", false)
	v.SetDefault("crawler.wechat.account", "新京报书评周刊")
	v.SetDefault("crawler.wechat.start_page", 1)
	v.SetDefault("crawler.wechat.end_page", 1)
	v.SetDefault("crawler.wechat.delay_seconds", 5)

	v.SetDefault("http.timeout_seconds", 20)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)

	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.default_rps", 0.5)
	v.SetDefault("rate_limit.default_burst", 1)

	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.prometheus_enabled", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.sink_timeout_ms", 10000)
	v.SetDefault("progress.batch.max_events", 1000)
	v.SetDefault("progress.batch.max_wait_ms", 500)

	v.SetDefault("feedback.smtp_host", "smtpdm.aliyun.com")
	v.SetDefault("feedback.smtp_port", 80)
	v.SetDefault("feedback.sender_nickname", "EssayHelper Feedback")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Data.Path == "" {
		return fmt.Errorf("data.path must be set")
	}
	if c.Summarizer.Workers <= 0 {
		return fmt.Errorf("summarizer.workers must be > 0")
	}
	if c.Summarizer.MaxAttempts <= 0 {
		return fmt.Errorf("summarizer.max_attempts must be > 0")
	}
	if c.Summarizer.IntervalMs < 0 {
		return fmt.Errorf("summarizer.interval_ms must be >= 0")
	}
	if c.Summarizer.ReleaseWaitSeconds <= 0 {
		return fmt.Errorf("summarizer.release_wait_seconds must be > 0")
	}
	if c.Embeddings.MaxRetries <= 0 {
		return fmt.Errorf("embeddings.max_retries must be > 0")
	}
	if c.Search.MaxK <= 0 {
		return fmt.Errorf("search.max_k must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.Wechat.Enabled && (c.Crawler.Wechat.Cookie == "" || c.Crawler.Wechat.Token == "") {
		return fmt.Errorf("crawler.wechat.cookie and crawler.wechat.token must be set when the wechat source is enabled")
	}
	return nil
}

// Interval returns the minimum delay between remote summarization calls.
func (c SummarizerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// Backoff returns the fixed sleep applied after a rate-limit or transient error.
func (c SummarizerConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMs) * time.Millisecond
}

// ReleaseWait bounds how long a follower blocks on an overloaded throttle.
func (c SummarizerConfig) ReleaseWait() time.Duration {
	return time.Duration(c.ReleaseWaitSeconds) * time.Second
}

// LeaderLease bounds how long a silent leader keeps its claim.
func (c SummarizerConfig) LeaderLease() time.Duration {
	return time.Duration(c.LeaderLeaseSeconds) * time.Second
}

// Timeout bounds a single remote summarization request.
func (c SummarizerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MaxConnLifetime converts the configured lifetime to a duration.
func (c DatabaseConfig) MaxConnLifetime() time.Duration {
	return time.Duration(c.MaxConnLifetimeMin) * time.Minute
}

// Timeout bounds a single page fetch.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BackoffInitial is the first retry delay.
func (c HTTPConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond
}

// BackoffMax caps the exponential retry delay.
func (c HTTPConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}

// NavTimeout bounds one headless page navigation.
func (c HeadlessConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// Timeout bounds a single embedding request.
func (c EmbeddingsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryDelay is the pause between embedding retries.
func (c EmbeddingsConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// CacheTTL converts the query-cache TTL to a duration; zero means no expiry.
func (c SearchConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}
