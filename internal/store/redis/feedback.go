package redis

import (
	"context"
	"fmt"
)

// FeedbackQueue appends feedback records to a redis list so nothing is
// lost when email delivery fails.
type FeedbackQueue struct {
	r Cmdable
}

// NewFeedbackQueue wraps a redis connection.
func NewFeedbackQueue(r Cmdable) *FeedbackQueue {
	return &FeedbackQueue{r: r}
}

// Push appends one serialized feedback record.
func (q *FeedbackQueue) Push(ctx context.Context, payload []byte) error {
	if err := q.r.RPush(ctx, feedbackKey, payload).Err(); err != nil {
		return fmt.Errorf("push feedback: %w", err)
	}
	return nil
}

// Len reports how many records are queued.
func (q *FeedbackQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.r.LLen(ctx, feedbackKey).Result()
	if err != nil {
		return 0, fmt.Errorf("count feedback: %w", err)
	}
	return n, nil
}
