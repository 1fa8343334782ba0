// Package feedback captures user feedback: every record lands in the
// redis intake queue, then an email notification goes out to the
// admin. The queue is the source of truth; a failed email never fails
// the submission.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrEmptyContent rejects feedback without any content.
var ErrEmptyContent = errors.New("feedback content is empty")

// Record is the serialized form pushed to the intake queue.
type Record struct {
	Content    string    `json:"content"`
	Contact    string    `json:"contact,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Queue persists feedback records. *redis.FeedbackQueue satisfies it.
type Queue interface {
	Push(ctx context.Context, payload []byte) error
}

// Mailer delivers one notification email.
type Mailer interface {
	Send(subject, htmlBody string) error
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// Service handles feedback submissions.
type Service struct {
	queue  Queue
	mailer Mailer
	clock  Clock
	log    *zap.Logger
}

// NewService wires the feedback flow. A nil mailer skips the email
// notification, for deployments without SMTP credentials.
func NewService(queue Queue, mailer Mailer, clock Clock, log *zap.Logger) *Service {
	return &Service{
		queue:  queue,
		mailer: mailer,
		clock:  clock,
		log:    log.Named("feedback"),
	}
}

// Submit stores the feedback and notifies the admin.
func (s *Service) Submit(ctx context.Context, content, contact string) error {
	rec := Record{
		Content:    strings.TrimSpace(content),
		Contact:    strings.TrimSpace(contact),
		ReceivedAt: s.clock.Now(),
	}
	if rec.Content == "" {
		return ErrEmptyContent
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode feedback: %w", err)
	}
	if err := s.queue.Push(ctx, payload); err != nil {
		return err
	}

	if s.mailer == nil {
		return nil
	}
	body, err := renderEmail(rec)
	if err != nil {
		s.log.Warn("render feedback email failed", zap.Error(err))
		return nil
	}
	if err := s.mailer.Send("EssayHelper 收到新反馈", body); err != nil {
		s.log.Warn("feedback email delivery failed", zap.Error(err))
	}
	return nil
}
