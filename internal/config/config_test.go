package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
data:
  path: /srv/essays
summarizer:
  api_key: sk-test
  workers: 4
  interval_ms: 500
  backoff_ms: 1500
  max_attempts: 6
  release_wait_seconds: 120
embeddings:
  api_key: sf-test
  max_retries: 2
search:
  max_k: 10
  summary_truncate: 200
redis:
  url: redis://cache:6379/1
crawler:
  concurrency: 2
  bjnews:
    column_id: 9025
    end_page: 3
http:
  timeout_seconds: 45
headless:
  enabled: true
  max_parallel: 2
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Data.Path != "/srv/essays" {
		t.Fatalf("expected data path override, got %q", cfg.Data.Path)
	}
	if cfg.Summarizer.Workers != 4 || cfg.Summarizer.MaxAttempts != 6 {
		t.Fatalf("expected summarizer overrides to apply: %+v", cfg.Summarizer)
	}
	if got := cfg.Summarizer.Interval(); got != 500*time.Millisecond {
		t.Fatalf("expected 500ms interval, got %v", got)
	}
	if got := cfg.Summarizer.Backoff(); got != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s backoff, got %v", got)
	}
	if got := cfg.Summarizer.ReleaseWait(); got != 2*time.Minute {
		t.Fatalf("expected 120s release wait, got %v", got)
	}
	if cfg.Summarizer.Model != "deepseek-chat" {
		t.Fatalf("expected default model to survive, got %q", cfg.Summarizer.Model)
	}
	if cfg.Search.MaxK != 10 || cfg.Search.SummaryTruncate != 200 {
		t.Fatalf("expected search overrides to apply: %+v", cfg.Search)
	}
	if cfg.Redis.URL != "redis://cache:6379/1" {
		t.Fatalf("expected redis url override, got %q", cfg.Redis.URL)
	}
	if cfg.Crawler.BjNews.EndPage != 3 || cfg.Crawler.BjNews.ColumnID != 9025 {
		t.Fatalf("expected bjnews overrides to apply: %+v", cfg.Crawler.BjNews)
	}
	if cfg.Crawler.BjNews.DetailDelaySeconds != 5 {
		t.Fatalf("expected bjnews detail delay default, got %d", cfg.Crawler.BjNews.DetailDelaySeconds)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Data:   DataConfig{Path: "./data"},
		Summarizer: SummarizerConfig{
			Workers:            5,
			MaxAttempts:        10,
			ReleaseWaitSeconds: 300,
		},
		Embeddings: EmbeddingsConfig{MaxRetries: 3},
		Search:     SearchConfig{MaxK: 30},
		Crawler:    CrawlerConfig{Concurrency: 1},
		HTTP:       HTTPConfig{TimeoutSeconds: 10},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "missing data path",
			cfg: func() Config {
				c := base
				c.Data.Path = ""
				return c
			}(),
			want: "data.path",
		},
		{
			name: "invalid workers",
			cfg: func() Config {
				c := base
				c.Summarizer.Workers = 0
				return c
			}(),
			want: "summarizer.workers",
		},
		{
			name: "invalid attempt ceiling",
			cfg: func() Config {
				c := base
				c.Summarizer.MaxAttempts = 0
				return c
			}(),
			want: "summarizer.max_attempts",
		},
		{
			name: "invalid release wait",
			cfg: func() Config {
				c := base
				c.Summarizer.ReleaseWaitSeconds = 0
				return c
			}(),
			want: "summarizer.release_wait_seconds",
		},
		{
			name: "invalid concurrency",
			cfg: func() Config {
				c := base
				c.Crawler.Concurrency = 0
				return c
			}(),
			want: "crawler.concurrency",
		},
		{
			name: "headless missing max parallel",
			cfg: func() Config {
				c := base
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
				return c
			}(),
			want: "headless.max_parallel",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "wechat missing credentials",
			cfg: func() Config {
				c := base
				c.Crawler.Wechat.Enabled = true
				return c
			}(),
			want: "crawler.wechat",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
