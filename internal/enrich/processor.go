// Package enrich runs the batch summarization pipeline: it walks the
// article corpus, fills in missing summaries through the shared rate
// gate, and reports per-item outcomes.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/TeacherLi07/essayhelper/internal/article"
)

// ErrNoContent marks an article that cannot be summarized because its
// content field is empty.
var ErrNoContent = errors.New("article has no content")

// Result classifies what Process did with one stored article.
type Result int

// Possible per-item results.
const (
	ResultSucceeded Result = iota
	ResultSkipped
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultSucceeded:
		return "succeeded"
	case ResultSkipped:
		return "skipped"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Summarizer produces a summary for raw article content.
type Summarizer interface {
	Summarize(ctx context.Context, content string) (string, error)
}

// Processor enriches a single stored article with a summary.
type Processor struct {
	store      *article.Store
	summarizer Summarizer
	log        *zap.Logger
}

// NewProcessor wires a Processor over the corpus store.
func NewProcessor(store *article.Store, summarizer Summarizer, log *zap.Logger) *Processor {
	return &Processor{
		store:      store,
		summarizer: summarizer,
		log:        log.Named("enrich"),
	}
}

// Process loads the article at path and fills in its summary. Articles
// that already carry one are skipped; articles without content fail
// without touching the remote provider. A whitespace-only summary
// counts as missing. The write replaces the file atomically, so every
// other field of the record survives unchanged.
func (p *Processor) Process(ctx context.Context, path string) (Result, error) {
	art, err := p.store.Load(path)
	if err != nil {
		return ResultFailed, err
	}
	if strings.TrimSpace(art.Summary) != "" {
		p.log.Debug("summary already present", zap.String("id", art.ID))
		return ResultSkipped, nil
	}
	if strings.TrimSpace(art.Content) == "" {
		return ResultFailed, fmt.Errorf("%w: %s", ErrNoContent, art.ID)
	}

	summary, err := p.summarizer.Summarize(ctx, art.Content)
	if err != nil {
		return ResultFailed, err
	}
	art.Summary = summary

	if err := p.store.Write(path, art); err != nil {
		return ResultFailed, err
	}
	p.log.Debug("article enriched", zap.String("id", art.ID))
	return ResultSucceeded, nil
}
