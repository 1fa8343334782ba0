package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	hub.Emit(Event{
		RunID: UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001")),
		TS:    time.Unix(0, 0),
		Stage: StageRunStart,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleSink implements a custom Sink that tallies article outcomes.
func ExampleSink() {
	counts := map[ItemOutcome]int{}
	capture := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage == StageItemDone {
				counts[evt.Outcome]++
			}
		}
		return nil
	})
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Second,
	}, capture)

	runID := UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000002"))
	hub.Emit(Event{
		RunID:   runID,
		TS:      time.Unix(0, 0),
		Stage:   StageItemDone,
		Source:  "bjnews",
		URL:     "https://m.bjnews.com.cn/detail/1.html",
		Outcome: ItemSucceeded,
	})
	hub.Emit(Event{
		RunID:   runID,
		TS:      time.Unix(1, 0),
		Stage:   StageItemDone,
		Source:  "wechat",
		URL:     "https://mp.weixin.qq.com/s/1",
		Outcome: ItemFailed,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("succeeded: %d failed: %d\n", counts[ItemSucceeded], counts[ItemFailed])
	// Output:
	// succeeded: 1 failed: 1
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
