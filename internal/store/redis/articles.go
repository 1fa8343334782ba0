package redis

import (
	"context"
	"fmt"

	"github.com/TeacherLi07/essayhelper/internal/article"
)

// ArticleStore keeps one hash per article for fast hydration of search
// results.
type ArticleStore struct {
	r Cmdable
}

// NewArticleStore wraps a redis connection.
func NewArticleStore(r Cmdable) *ArticleStore {
	return &ArticleStore{r: r}
}

// Upsert writes the article's hash. Extension fields stay in the JSON
// corpus only; the hash carries what search responses need.
func (s *ArticleStore) Upsert(ctx context.Context, a article.Article) error {
	if err := a.Validate(); err != nil {
		return err
	}
	fields := map[string]interface{}{
		"id":           a.ID,
		"title":        a.Title,
		"content":      a.Content,
		"summary":      a.Summary,
		"publish_date": a.PublishDate,
		"url":          a.URL,
		"source":       a.Source,
		"author":       a.Author,
	}
	if err := s.r.HSet(ctx, ArticleKey(a.ID), fields).Err(); err != nil {
		return fmt.Errorf("upsert article %s: %w", a.ID, err)
	}
	return nil
}

// Get loads one article hash; the bool reports whether it exists.
func (s *ArticleStore) Get(ctx context.Context, id string) (article.Article, bool, error) {
	m, err := s.r.HGetAll(ctx, ArticleKey(id)).Result()
	if err != nil {
		return article.Article{}, false, fmt.Errorf("load article %s: %w", id, err)
	}
	if len(m) == 0 {
		return article.Article{}, false, nil
	}
	return article.Article{
		ID:          m["id"],
		Title:       m["title"],
		Content:     m["content"],
		Summary:     m["summary"],
		PublishDate: m["publish_date"],
		URL:         m["url"],
		Source:      m["source"],
		Author:      m["author"],
	}, true, nil
}

// GetMany hydrates ids in order, silently dropping ids that have no
// hash (the index can briefly be ahead of the article store).
func (s *ArticleStore) GetMany(ctx context.Context, ids []string) ([]article.Article, error) {
	out := make([]article.Article, 0, len(ids))
	for _, id := range ids {
		a, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, a)
		}
	}
	return out, nil
}
