// Package worker implements the crawl pipeline: a Runner walks source
// listings and feeds the page queue, and a pool of Workers drains it,
// fetching, parsing, and persisting one article per job.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/TeacherLi07/essayhelper/internal/article"
	"github.com/TeacherLi07/essayhelper/internal/crawler"
	"github.com/TeacherLi07/essayhelper/internal/metrics"
	"github.com/TeacherLi07/essayhelper/internal/progress"
)

// pipeline labels the progress events this package emits; run
// lifecycle events persist it as the run kind.
const pipeline = "crawl"

// Config controls worker persistence behavior.
type Config struct {
	// ContentType is stamped on snapshot blobs.
	ContentType string
	// Topic receives article events after a successful save; empty
	// disables publishing.
	Topic string
	// Snapshots enables raw HTML uploads to the blob store.
	Snapshots bool
}

// Deps carries the worker's collaborators. Queue, Sources, Store, Probe,
// Rate, and Retry must be set; everything else degrades to a no-op when nil.
type Deps struct {
	Queue     crawler.Queue
	Sources   map[string]crawler.Source
	Store     *article.Store
	Probe     crawler.Fetcher
	Headless  crawler.Fetcher
	Detector  crawler.HeadlessDetector
	Rate      crawler.RatePolicy
	Robots    crawler.RobotsPolicy
	Blocklist *crawler.Blocklist
	Blocker   crawler.HostBlocker
	Pauser    crawler.Pauser
	Retry     crawler.RetryPolicy
	Hasher    crawler.Hasher
	Blobs     crawler.BlobStore
	Publisher crawler.Publisher
	Mirror    crawler.ArticleMirror
	Reporter  Reporter
	Counters  *Counters
	Logger    *zap.Logger
}

// Worker consumes page jobs until the queue closes.
type Worker struct {
	deps Deps
	cfg  Config
	log  *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config) *Worker {
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if deps.Reporter == nil {
		deps.Reporter = nopReporter{}
	}
	if deps.Counters == nil {
		deps.Counters = &Counters{}
	}
	if deps.Pauser == nil {
		deps.Pauser = &crawler.TimerPauser{}
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{deps: deps, cfg: cfg, log: log.Named("worker")}
}

// Run consumes jobs until the queue closes and drains or the context ends.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, crawler.ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			w.log.Error("dequeue failed", zap.Error(err))
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job crawler.PageJob) {
	metrics.IncActiveWorkers(pipeline)
	defer metrics.DecActiveWorkers(pipeline)

	ref := job.Ref
	runID := progress.UUIDToBytes(job.RunID)
	start := time.Now()
	w.deps.Reporter.Emit(progress.Event{
		RunID:  runID,
		TS:     start.UTC(),
		Stage:  progress.StageItemStart,
		Source: ref.Source,
		URL:    ref.URL,
	})

	outcome, note := w.processRef(ctx, runID, ref)
	switch outcome {
	case progress.ItemSucceeded:
		w.deps.Counters.Succeeded.Add(1)
	case progress.ItemSkipped:
		w.deps.Counters.Skipped.Add(1)
	default:
		w.deps.Counters.Failed.Add(1)
	}

	w.deps.Reporter.Emit(progress.Event{
		RunID:   runID,
		TS:      time.Now().UTC(),
		Stage:   progress.StageItemDone,
		Source:  ref.Source,
		URL:     ref.URL,
		Outcome: outcome,
		Dur:     time.Since(start),
		Note:    note,
	})
}

func (w *Worker) processRef(ctx context.Context, runID [16]byte, ref crawler.PageRef) (progress.ItemOutcome, string) {
	src, ok := w.deps.Sources[ref.Source]
	if !ok {
		w.log.Error("job names an unknown source",
			zap.String("source", ref.Source),
			zap.String("article_id", ref.ArticleID))
		return progress.ItemFailed, "unknown source " + ref.Source
	}

	req := src.DetailRequest(ref)
	host := crawler.Host(req.URL)
	if w.deps.Blocklist.IsBlocked(host) {
		w.log.Debug("host denied by config", zap.String("host", host))
		return progress.ItemSkipped, "host denied"
	}
	if w.deps.Blocker != nil && w.deps.Blocker.IsBlocked(host) {
		w.log.Debug("host blocked after repeated 403s", zap.String("host", host))
		return progress.ItemSkipped, "host blocked"
	}

	if err := w.deps.Rate.Wait(ctx, req.URL); err != nil {
		return progress.ItemFailed, err.Error()
	}
	w.deps.Pauser.Pause(ctx, src.DetailDelay())
	if err := ctx.Err(); err != nil {
		return progress.ItemFailed, err.Error()
	}

	resp, err := w.fetch(ctx, runID, ref.Source, w.deps.Probe, req)
	if err != nil {
		w.log.Warn("detail fetch failed",
			zap.String("url", req.URL),
			zap.Error(err))
		return progress.ItemFailed, err.Error()
	}

	if resp.StatusCode == http.StatusForbidden && w.deps.Blocker != nil {
		if w.deps.Blocker.MarkForbidden(host) {
			w.log.Warn("host blocked for the rest of the run", zap.String("host", host))
		}
	}
	if resp.StatusCode != http.StatusOK {
		return progress.ItemFailed, fmt.Sprintf("status %d", resp.StatusCode)
	}

	resp = w.maybePromote(ctx, runID, ref.Source, req, resp)

	art, err := src.ParseDetail(ref, resp.Body)
	if err != nil {
		return progress.ItemFailed, err.Error()
	}
	if art.Content == "" {
		w.log.Warn("article has no extractable content",
			zap.String("article_id", art.ID),
			zap.String("url", req.URL))
	}

	if _, err := w.deps.Store.Save(art); err != nil {
		return progress.ItemFailed, err.Error()
	}

	w.mirror(ctx, art)
	w.snapshot(ctx, art, resp)
	w.publish(ctx, art, resp)
	return progress.ItemSucceeded, ""
}

// fetch runs one fetch with retries and emits the fetch events around it.
func (w *Worker) fetch(ctx context.Context, runID [16]byte, source string, fetcher crawler.Fetcher, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	w.deps.Reporter.Emit(progress.Event{
		RunID:  runID,
		TS:     time.Now().UTC(),
		Stage:  progress.StageFetchStart,
		Source: source,
		URL:    req.URL,
	})

	var (
		resp crawler.FetchResponse
		err  error
	)
	for attempt := 1; ; attempt++ {
		resp, err = fetcher.Fetch(ctx, req)
		if err == nil {
			break
		}
		if !w.deps.Retry.ShouldRetry(err, attempt) {
			return crawler.FetchResponse{}, err
		}
		backoff := w.deps.Retry.Backoff(attempt)
		w.log.Debug("retrying fetch",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		w.deps.Pauser.Pause(ctx, backoff)
	}

	class := progress.ClassifyStatus(resp.StatusCode)
	w.deps.Reporter.Emit(progress.Event{
		RunID:       runID,
		TS:          time.Now().UTC(),
		Stage:       progress.StageFetchDone,
		Source:      source,
		URL:         req.URL,
		Bytes:       int64(len(resp.Body)),
		Pages:       1,
		StatusClass: class,
		Dur:         resp.Duration,
	})
	metrics.ObserveCrawl(source, string(class), len(resp.Body))
	return resp, nil
}

// maybePromote refetches through the headless browser when the probe body
// looks script-rendered. Promotion failures keep the probe response.
func (w *Worker) maybePromote(ctx context.Context, runID [16]byte, source string, req crawler.FetchRequest, probe crawler.FetchResponse) crawler.FetchResponse {
	if w.deps.Detector == nil || w.deps.Headless == nil {
		return probe
	}
	if !w.deps.Detector.ShouldPromote(probe) {
		return probe
	}
	// The browser bypasses the HTTP fetcher's robots handling, so check here.
	if w.deps.Robots != nil && !w.deps.Robots.Allowed(ctx, req.URL) {
		w.log.Debug("robots.txt forbids the headless refetch", zap.String("url", req.URL))
		return probe
	}

	req.UseHeadless = true
	rendered, err := w.fetch(ctx, runID, source, w.deps.Headless, req)
	if err != nil {
		w.log.Warn("headless refetch failed, keeping probe body",
			zap.String("url", req.URL),
			zap.Error(err))
		return probe
	}
	if rendered.StatusCode != http.StatusOK {
		w.log.Warn("headless refetch returned an error status, keeping probe body",
			zap.String("url", req.URL),
			zap.Int("status", rendered.StatusCode))
		return probe
	}
	metrics.ObserveHeadlessPromotion()
	w.log.Info("promoted to headless fetch", zap.String("url", req.URL))
	return rendered
}

func (w *Worker) mirror(ctx context.Context, art article.Article) {
	if w.deps.Mirror == nil {
		return
	}
	if err := w.deps.Mirror.Upsert(ctx, art); err != nil {
		w.log.Warn("article mirror upsert failed",
			zap.String("article_id", art.ID),
			zap.Error(err))
	}
}

func (w *Worker) snapshot(ctx context.Context, art article.Article, resp crawler.FetchResponse) {
	if !w.cfg.Snapshots || w.deps.Blobs == nil || w.deps.Hasher == nil {
		return
	}
	digest, err := w.deps.Hasher.Hash(resp.Body)
	if err != nil {
		w.log.Warn("hash snapshot body failed", zap.Error(err))
		return
	}
	if len(digest) > 16 {
		digest = digest[:16]
	}
	path := fmt.Sprintf("%s/%s_%s.html", art.Source, art.ID, digest)
	uri, err := w.deps.Blobs.PutObject(ctx, path, w.cfg.ContentType, bytes.NewReader(resp.Body))
	if err != nil {
		w.log.Warn("snapshot upload failed",
			zap.String("article_id", art.ID),
			zap.Error(err))
		return
	}
	w.log.Debug("snapshot stored",
		zap.String("article_id", art.ID),
		zap.String("uri", uri))
}

func (w *Worker) publish(ctx context.Context, art article.Article, resp crawler.FetchResponse) {
	if w.deps.Publisher == nil || w.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"article_id":   art.ID,
		"source":       art.Source,
		"url":          art.URL,
		"title":        art.Title,
		"publish_date": art.PublishDate,
		"fetched_at":   resp.FetchedAt.Format(time.RFC3339),
		"headless":     resp.UsedHeadless,
	}
	if _, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.log.Warn("article event publish failed",
			zap.String("article_id", art.ID),
			zap.Error(err))
	}
}
