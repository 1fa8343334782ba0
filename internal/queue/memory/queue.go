// Package memory provides the bounded in-process page queue the crawl
// worker pool consumes from.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/TeacherLi07/essayhelper/internal/crawler"
)

// Queue is a bounded in-memory queue with context-aware operations.
// The feeder closes it once every listing page has been walked; workers
// drain the remainder and stop on crawler.ErrQueueClosed.
type Queue struct {
	ch      chan crawler.PageJob
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch: make(chan crawler.PageJob, capacity),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends.
// Enqueueing after Close returns crawler.ErrQueueClosed.
func (q *Queue) Enqueue(ctx context.Context, job crawler.PageJob) error {
	q.closeMu.Lock()
	if q.closed {
		q.closeMu.Unlock()
		return crawler.ErrQueueClosed
	}
	q.closeMu.Unlock()
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- job:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawler.PageJob, error) {
	select {
	case <-ctx.Done():
		return crawler.PageJob{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.ch:
		if !ok {
			return crawler.PageJob{}, crawler.ErrQueueClosed
		}
		return job, nil
	}
}

// Close closes the underlying channel so workers drain and exit.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
