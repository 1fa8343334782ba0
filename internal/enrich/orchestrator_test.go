package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TeacherLi07/essayhelper/internal/article"
	"github.com/TeacherLi07/essayhelper/internal/clock/system"
	"github.com/TeacherLi07/essayhelper/internal/config"
	"github.com/TeacherLi07/essayhelper/internal/id/uuid"
	"github.com/TeacherLi07/essayhelper/internal/metrics"
	"github.com/TeacherLi07/essayhelper/internal/progress"
	"github.com/TeacherLi07/essayhelper/internal/summarize"
	"github.com/TeacherLi07/essayhelper/internal/throttle"
)

// fakeProvider stands in for the chat completion endpoint. The first
// limitFirst calls overall are rate limited; after that, contents
// listed in failWith keep failing with their outcome and everything
// else succeeds.
type fakeProvider struct {
	mu         sync.Mutex
	limitFirst int
	failWith   map[string]summarize.Outcome
	delay      time.Duration
	total      int
	byContent  map[string]int
}

func (f *fakeProvider) Complete(_ context.Context, content string) (string, summarize.Outcome, error) {
	f.mu.Lock()
	f.total++
	if f.byContent == nil {
		f.byContent = make(map[string]int)
	}
	f.byContent[content]++
	call := f.total
	delay := f.delay
	outcome, scripted := f.failWith[content]
	limited := call <= f.limitFirst
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if limited {
		return "", summarize.OutcomeRateLimited, errors.New("status 429")
	}
	if scripted {
		return "", outcome, fmt.Errorf("scripted %s", outcome)
	}
	return "摘要：" + content, summarize.OutcomeSuccess, nil
}

func (f *fakeProvider) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

func (f *fakeProvider) callsFor(content string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byContent[content]
}

// recordingReporter captures emitted events for assertions.
type recordingReporter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingReporter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingReporter) byStage(stage progress.Stage) []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []progress.Event
	for _, evt := range r.events {
		if evt.Stage == stage {
			out = append(out, evt)
		}
	}
	return out
}

func (r *recordingReporter) outcomes() map[progress.ItemOutcome]int {
	counts := make(map[progress.ItemOutcome]int)
	for _, evt := range r.byStage(progress.StageItemDone) {
		counts[evt.Outcome]++
	}
	return counts
}

func newTestOrchestrator(store *article.Store, provider *fakeProvider, rep Reporter, workers, maxAttempts int) *Orchestrator {
	metrics.Init()
	gate := throttle.New(system.New(), throttle.Config{Interval: time.Millisecond})
	retryer := summarize.NewRetryer(provider, gate, uuid.New(), config.SummarizerConfig{
		MaxAttempts:        maxAttempts,
		BackoffMs:          2,
		ReleaseWaitSeconds: 1,
	}, zap.NewNop())
	proc := NewProcessor(store, retryer, zap.NewNop())
	o := NewOrchestrator(store, proc, rep, uuid.New(), workers, zap.NewNop())
	o.heartbeat = 0
	return o
}

func TestRunMixedBatch(t *testing.T) {
	t.Parallel()

	store := article.NewStore(t.TempDir())
	saveArticle(t, store, article.Article{ID: "a1", Title: "一", Content: "第一篇正文"})
	saveArticle(t, store, article.Article{ID: "a2", Title: "二", Content: "第二篇正文"})
	saveArticle(t, store, article.Article{ID: "a3", Title: "三", Content: "第三篇正文", Summary: "早就有的摘要"})
	saveArticle(t, store, article.Article{ID: "a4", Title: "四"})
	saveArticle(t, store, article.Article{ID: "a5", Title: "五", Content: "第五篇正文", Summary: " \n"})

	provider := &fakeProvider{}
	rep := &recordingReporter{}
	stats, err := newTestOrchestrator(store, provider, rep, 3, 5).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Stats{Total: 5, Succeeded: 3, Skipped: 1, Failed: 1}, stats)
	require.Equal(t, 3, provider.totalCalls(), "skips and content-less items must not call the provider")

	// Succeeded records now carry summaries, the skip kept its own, the
	// failure stayed untouched.
	for id, want := range map[string]string{
		"a1": "摘要：第一篇正文",
		"a2": "摘要：第二篇正文",
		"a3": "早就有的摘要",
		"a4": "",
		"a5": "摘要：第五篇正文",
	} {
		got, err := store.Load(store.PathFor(id))
		require.NoError(t, err)
		require.Equal(t, want, got.Summary, "article %s", id)
	}

	require.Len(t, rep.byStage(progress.StageRunStart), 1)
	require.Len(t, rep.byStage(progress.StageRunDone), 1)
	require.Len(t, rep.byStage(progress.StageItemStart), 5)
	require.Equal(t, map[progress.ItemOutcome]int{
		progress.ItemSucceeded: 3,
		progress.ItemSkipped:   1,
		progress.ItemFailed:    1,
	}, rep.outcomes())
}

func TestRunRateLimitedBatchRecovers(t *testing.T) {
	t.Parallel()

	store := article.NewStore(t.TempDir())
	for i := 1; i <= 6; i++ {
		saveArticle(t, store, article.Article{
			ID:      fmt.Sprintf("b%d", i),
			Title:   fmt.Sprintf("限流 %d", i),
			Content: fmt.Sprintf("限流批次正文 %d", i),
		})
	}

	// The first four calls are rate limited. maxAttempts of 1 proves the
	// whole episode never consumed any retry budget: one transient
	// failure anywhere would sink an item.
	provider := &fakeProvider{limitFirst: 4}
	rep := &recordingReporter{}
	stats, err := newTestOrchestrator(store, provider, rep, 3, 1).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Stats{Total: 6, Succeeded: 6}, stats)

	// Four rejected probes plus exactly one successful call per item.
	require.Equal(t, 10, provider.totalCalls())
}

func TestRunTransientExhaustion(t *testing.T) {
	t.Parallel()

	store := article.NewStore(t.TempDir())
	saveArticle(t, store, article.Article{ID: "c1", Title: "好", Content: "正常正文一"})
	saveArticle(t, store, article.Article{ID: "c2", Title: "坏", Content: "总是超时的正文"})
	saveArticle(t, store, article.Article{ID: "c3", Title: "好", Content: "正常正文二"})

	provider := &fakeProvider{failWith: map[string]summarize.Outcome{
		"总是超时的正文": summarize.OutcomeTransient,
	}}
	rep := &recordingReporter{}
	stats, err := newTestOrchestrator(store, provider, rep, 2, 3).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Stats{Total: 3, Succeeded: 2, Failed: 1}, stats)

	require.Equal(t, 3, provider.callsFor("总是超时的正文"), "transient retries stop at the attempt ceiling")
	require.Equal(t, 1, provider.callsFor("正常正文一"))
	require.Equal(t, 1, provider.callsFor("正常正文二"))

	got, err := store.Load(store.PathFor("c2"))
	require.NoError(t, err)
	require.Empty(t, got.Summary, "failed items must keep their record unchanged")
}

func TestRunPermanentFailureNoRetry(t *testing.T) {
	t.Parallel()

	store := article.NewStore(t.TempDir())
	saveArticle(t, store, article.Article{ID: "d1", Title: "被拒", Content: "被拒绝的正文"})

	provider := &fakeProvider{failWith: map[string]summarize.Outcome{
		"被拒绝的正文": summarize.OutcomePermanent,
	}}
	rep := &recordingReporter{}
	stats, err := newTestOrchestrator(store, provider, rep, 2, 10).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Stats{Total: 1, Failed: 1}, stats)
	require.Equal(t, 1, provider.totalCalls(), "permanent rejections must not retry")

	done := rep.byStage(progress.StageItemDone)
	require.Len(t, done, 1)
	require.Equal(t, progress.ItemFailed, done[0].Outcome)
	require.NotEmpty(t, done[0].Note)
}

func TestRunSecondPassIsIdempotent(t *testing.T) {
	t.Parallel()

	store := article.NewStore(t.TempDir())
	for i := 1; i <= 4; i++ {
		saveArticle(t, store, article.Article{
			ID:      fmt.Sprintf("e%d", i),
			Title:   fmt.Sprintf("幂等 %d", i),
			Content: fmt.Sprintf("幂等批次正文 %d", i),
		})
	}

	provider := &fakeProvider{}
	first, err := newTestOrchestrator(store, provider, &recordingReporter{}, 2, 5).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Stats{Total: 4, Succeeded: 4}, first)
	callsAfterFirst := provider.totalCalls()

	second, err := newTestOrchestrator(store, provider, &recordingReporter{}, 2, 5).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Stats{Total: 4, Skipped: 4}, second)
	require.Equal(t, callsAfterFirst, provider.totalCalls(), "a second pass must not call the provider")
}

func TestRunEmptyCorpus(t *testing.T) {
	t.Parallel()

	store := article.NewStore(t.TempDir())
	require.NoError(t, store.EnsureRoot())

	rep := &recordingReporter{}
	stats, err := newTestOrchestrator(store, &fakeProvider{}, rep, 2, 5).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Stats{}, stats)
	require.Len(t, rep.byStage(progress.StageRunStart), 1)
	require.Len(t, rep.byStage(progress.StageRunDone), 1)
	require.Empty(t, rep.byStage(progress.StageItemDone))
}

func TestRunCancellation(t *testing.T) {
	t.Parallel()

	store := article.NewStore(t.TempDir())
	for i := 1; i <= 20; i++ {
		saveArticle(t, store, article.Article{
			ID:      fmt.Sprintf("f%02d", i),
			Title:   fmt.Sprintf("取消 %d", i),
			Content: fmt.Sprintf("取消批次正文 %d", i),
		})
	}

	provider := &fakeProvider{delay: 20 * time.Millisecond}
	rep := &recordingReporter{}
	orch := newTestOrchestrator(store, provider, rep, 2, 5)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	stats, err := orch.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 20, stats.Total)
	require.Less(t, stats.Succeeded, 20, "cancellation must stop the batch early")
	require.Len(t, rep.byStage(progress.StageRunError), 1)
	require.Empty(t, rep.byStage(progress.StageRunDone))
}
