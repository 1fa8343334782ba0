package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// QueryCache memoizes search responses keyed by query hash and
// candidate width.
type QueryCache struct {
	r   Cmdable
	ttl time.Duration
}

// NewQueryCache wraps a redis connection. A zero ttl keeps entries
// until evicted.
func NewQueryCache(r Cmdable, ttl time.Duration) *QueryCache {
	return &QueryCache{r: r, ttl: ttl}
}

// Get returns the cached payload for key; the bool reports a hit.
func (c *QueryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.r.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read query cache: %w", err)
	}
	return data, true, nil
}

// Put stores payload under key.
func (c *QueryCache) Put(ctx context.Context, key string, payload []byte) error {
	if err := c.r.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("write query cache: %w", err)
	}
	return nil
}
