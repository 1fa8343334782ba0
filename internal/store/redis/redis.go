// Package redis backs the hot read path: article hashes hydrated
// during search, the query result cache, and the feedback intake list.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/TeacherLi07/essayhelper/internal/config"
)

// Key layout shared with the index builder and the search service.
const (
	articleKeyPrefix = "article:"
	feedbackKey      = "essayhelper:feedback"
)

// Cmdable is the slice of go-redis the stores use; *goredis.Client
// satisfies it, tests substitute fakes.
type Cmdable interface {
	HSet(ctx context.Context, key string, values ...interface{}) *goredis.IntCmd
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
	RPush(ctx context.Context, key string, values ...interface{}) *goredis.IntCmd
	LLen(ctx context.Context, key string) *goredis.IntCmd
	Ping(ctx context.Context) *goredis.StatusCmd
}

// Connect parses the configured URL and verifies the server responds.
func Connect(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// ArticleKey returns the hash key for an article id.
func ArticleKey(id string) string {
	return articleKeyPrefix + id
}

// QueryKey returns the cache key for a normalized query hash at a
// given candidate width.
func QueryKey(hash string, k int) string {
	return fmt.Sprintf("cache:query:%s:k%d", hash, k)
}
