// Package search answers essay-reference queries: embed the query,
// scan the vector index, hydrate the matched articles, and memoize the
// result.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TeacherLi07/essayhelper/internal/article"
	"github.com/TeacherLi07/essayhelper/internal/config"
	"github.com/TeacherLi07/essayhelper/internal/embed"
	"github.com/TeacherLi07/essayhelper/internal/index"
	"github.com/TeacherLi07/essayhelper/internal/metrics"
	redisstore "github.com/TeacherLi07/essayhelper/internal/store/redis"
)

// ErrEmptyQuery rejects blank queries before any remote work.
var ErrEmptyQuery = errors.New("query is empty")

// Result is one search hit returned to clients.
type Result struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Summary     string  `json:"summary"`
	URL         string  `json:"url"`
	Source      string  `json:"source"`
	PublishDate string  `json:"publish_date"`
	Distance    float32 `json:"distance"`
}

// Index is the vector lookup the service scans.
type Index interface {
	Search(vec []float32, k int) ([]index.Hit, error)
}

// Articles hydrates matched ids into article records.
type Articles interface {
	GetMany(ctx context.Context, ids []string) ([]article.Article, error)
}

// Cache memoizes serialized result lists.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, payload []byte) error
}

// Hasher fingerprints normalized queries for cache keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Service executes the search flow.
type Service struct {
	embedder embed.Embedder
	index    Index
	articles Articles
	cache    Cache
	hasher   Hasher
	maxK     int
	truncate int
	log      *zap.Logger
}

// NewService wires the search flow from configuration.
func NewService(embedder embed.Embedder, idx Index, articles Articles, cache Cache, hasher Hasher, cfg config.SearchConfig, log *zap.Logger) *Service {
	maxK := cfg.MaxK
	if maxK < 1 {
		maxK = 1
	}
	return &Service{
		embedder: embedder,
		index:    idx,
		articles: articles,
		cache:    cache,
		hasher:   hasher,
		maxK:     maxK,
		truncate: cfg.SummaryTruncate,
		log:      log.Named("search"),
	}
}

// Search returns the top k references for query. k is clamped to
// [1, max_k]; the cache always holds the full max_k candidate list so
// every k under the ceiling is served by the same entry.
func (s *Service) Search(ctx context.Context, query string, k int) ([]Result, error) {
	normalized := strings.Join(strings.Fields(query), " ")
	if normalized == "" {
		return nil, ErrEmptyQuery
	}
	if k < 1 {
		k = 1
	}
	if k > s.maxK {
		k = s.maxK
	}

	start := time.Now()
	hash, err := s.hasher.Hash([]byte(normalized))
	if err != nil {
		return nil, fmt.Errorf("hash query: %w", err)
	}
	key := redisstore.QueryKey(hash, s.maxK)

	// Cache failures degrade to a live search rather than failing the
	// request.
	if payload, hit, err := s.cache.Get(ctx, key); err != nil {
		s.log.Warn("query cache read failed", zap.Error(err))
	} else if hit {
		var cached []Result
		if err := json.Unmarshal(payload, &cached); err != nil {
			s.log.Warn("query cache entry unreadable, recomputing", zap.Error(err))
		} else {
			metrics.ObserveSearch("hit", time.Since(start))
			return clamp(cached, k), nil
		}
	}

	results, err := s.compute(ctx, normalized)
	if err != nil {
		metrics.ObserveSearch("error", time.Since(start))
		return nil, err
	}

	if payload, err := json.Marshal(results); err != nil {
		s.log.Warn("encode query cache entry failed", zap.Error(err))
	} else if err := s.cache.Put(ctx, key, payload); err != nil {
		s.log.Warn("query cache write failed", zap.Error(err))
	}

	metrics.ObserveSearch("miss", time.Since(start))
	return clamp(results, k), nil
}

// compute runs the uncached flow at full max_k width.
func (s *Service) compute(ctx context.Context, query string) ([]Result, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.index.Search(vec, s.maxK)
	if err != nil {
		return nil, fmt.Errorf("scan index: %w", err)
	}
	if len(hits) == 0 {
		return []Result{}, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	loaded, err := s.articles.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate results: %w", err)
	}
	byID := make(map[string]article.Article, len(loaded))
	for _, a := range loaded {
		byID[a.ID] = a
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		a, ok := byID[h.ID]
		if !ok {
			s.log.Debug("index hit missing from article store", zap.String("id", h.ID))
			continue
		}
		results = append(results, Result{
			ID:          a.ID,
			Title:       a.Title,
			Summary:     truncateRunes(a.Summary, s.truncate),
			URL:         a.URL,
			Source:      a.Source,
			PublishDate: a.PublishDate,
			Distance:    h.Distance,
		})
	}
	return results, nil
}

func clamp(results []Result, k int) []Result {
	if k < len(results) {
		return results[:k]
	}
	return results
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
