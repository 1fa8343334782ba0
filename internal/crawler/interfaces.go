package crawler

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/TeacherLi07/essayhelper/internal/article"
)

// ErrQueueClosed is returned by Dequeue once the queue is closed and drained.
var ErrQueueClosed = errors.New("queue closed")

// Source lists article references from one upstream site and parses its
// detail pages into articles.
type Source interface {
	// Name returns the source label stored on every article, e.g. "bjnews".
	Name() string
	// Pages returns the inclusive listing page window to walk.
	Pages() (start, end int)
	// ListDelay is the politeness pause between listing page fetches.
	ListDelay() time.Duration
	// DetailDelay is the politeness pause before each detail page fetch.
	DetailDelay() time.Duration
	// ListPage fetches one listing page and returns the references found.
	ListPage(ctx context.Context, page int) ([]PageRef, error)
	// DetailRequest builds the fetch request for one reference.
	DetailRequest(ref PageRef) FetchRequest
	// ParseDetail extracts the article from a fetched detail page body.
	ParseDetail(ref PageRef, body []byte) (article.Article, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless refetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Queue provides enqueue/dequeue semantics for page jobs.
type Queue interface {
	Enqueue(ctx context.Context, job PageJob) error
	Dequeue(ctx context.Context) (PageJob, error)
}

// RatePolicy paces fetches per host.
type RatePolicy interface {
	Wait(ctx context.Context, rawURL string) error
}

// RobotsPolicy reports whether a URL may be fetched.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// HostBlocker tracks hosts that keep refusing us.
type HostBlocker interface {
	IsBlocked(host string) bool
	MarkForbidden(host string) bool
}

// Pauser sleeps between fetches, honoring cancellation.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// RetryPolicy decides whether a failed fetch is retried and how long to wait.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// BlobStore writes raw page snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes article events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ArticleMirror receives stored articles for serving, typically Redis.
type ArticleMirror interface {
	Upsert(ctx context.Context, art article.Article) error
}

// Hasher computes digests for snapshot naming and integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}
