package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

func TestRobotsEnforcer(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	allowAll := NewRobotsEnforcer(false, "test-agent", logger)
	if !allowAll.Allowed(ctx, "https://example.com/whatever") {
		t.Fatal("allow-all policy should permit URLs")
	}

	var robotsFetches atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsFetches.Add(1)
			fmt.Fprintln(w, "User-agent: *\nDisallow: /blocked")
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	enforcer := NewRobotsEnforcer(true, "test-agent", logger)
	if !enforcer.Allowed(ctx, srv.URL+"/allowed") {
		t.Fatal("expected allowed path to pass robots")
	}
	if enforcer.Allowed(ctx, srv.URL+"/blocked") {
		t.Fatal("expected blocked path to be denied")
	}
	if got := robotsFetches.Load(); got != 1 {
		t.Fatalf("expected robots.txt to be fetched once, got %d", got)
	}
}

func TestRobotsEnforcerFailsOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	// Point at a closed listener so the robots fetch errors out.
	srv.Close()

	enforcer := NewRobotsEnforcer(true, "test-agent", nil)
	if !enforcer.Allowed(context.Background(), srv.URL+"/page") {
		t.Fatal("unreachable robots.txt should not block fetching")
	}
}
