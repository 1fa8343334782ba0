package simple

import (
	"context"
	"testing"
)

func TestPolicyWaitNeverBlocks(t *testing.T) {
	t.Parallel()

	p := New()
	if err := p.Wait(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Wait(ctx, "https://example.com"); err != nil {
		t.Fatalf("pass-through policy should ignore context state: %v", err)
	}
}
