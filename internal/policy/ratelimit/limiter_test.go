package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/TeacherLi07/essayhelper/internal/metrics"
)

func TestLimiterWaitPacesSameHost(t *testing.T) {
	metrics.Init()

	// 10 RPS means one token every 100ms after the initial burst.
	l := New(Config{
		DefaultRPS:   10,
		DefaultBurst: 1,
	})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://example.com/1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start := time.Now()
	if err := l.Wait(ctx, "https://example.com/2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected second wait near 100ms, got %v", dur)
	}
}

func TestLimiterIsolatesHosts(t *testing.T) {
	metrics.Init()

	l := New(Config{
		DefaultRPS:   1,
		DefaultBurst: 1,
	})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://a.example.com/1"); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := l.Wait(ctx, "https://b.example.com/1"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("second host blocked by first host's bucket")
	}
}

func TestLimiterZeroRPSNeverBlocks(t *testing.T) {
	metrics.Init()

	l := New(Config{DefaultRPS: 0})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := l.Wait(ctx, "https://example.com/"); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("unlimited limiter should not block")
	}
}

func TestLimiterHonorsContext(t *testing.T) {
	metrics.Init()

	l := New(Config{
		DefaultRPS:   0.1,
		DefaultBurst: 1,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx, "https://example.com/1"); err != nil {
		t.Fatal(err)
	}
	if err := l.Wait(ctx, "https://example.com/2"); err == nil {
		t.Fatal("expected context deadline error on exhausted bucket")
	}
}
