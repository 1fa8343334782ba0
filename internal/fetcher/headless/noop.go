package headless

import (
	"context"
	"errors"

	"github.com/TeacherLi07/essayhelper/internal/crawler"
)

// Noop implements crawler.Fetcher but always returns an error, for builds
// where headless Chrome is disabled. Promotion then degrades to keeping the
// probe response.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch returns an error since this is a stub implementation.
func (Noop) Fetch(_ context.Context, _ crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{}, errors.New("headless fetcher not configured")
}
