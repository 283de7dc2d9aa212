package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupThrottle(t *testing.T, limits Limits) *Throttle {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, limits)
}

func TestAllow_UnderMinuteLimit(t *testing.T) {
	tr := setupThrottle(t, Limits{PerSecond: 1000, PerMinute: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := tr.Allow(ctx, "acct-1")
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		if !allowed {
			t.Fatalf("call %d denied, want allowed", i+1)
		}
	}
}

func TestAllow_MinuteLimitDenies(t *testing.T) {
	tr := setupThrottle(t, Limits{PerSecond: 1000, PerMinute: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if allowed, _, err := tr.Allow(ctx, "acct-1"); err != nil || !allowed {
			t.Fatalf("call %d: allowed=%v err=%v", i+1, allowed, err)
		}
	}

	allowed, wait, err := tr.Allow(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if allowed {
		t.Fatal("third call allowed, want denied")
	}
	if wait <= 0 || wait > time.Minute {
		t.Errorf("wait = %v, want a positive sub-minute hint", wait)
	}
}

func TestAllow_AccountsAreIndependent(t *testing.T) {
	tr := setupThrottle(t, Limits{PerSecond: 1000, PerMinute: 1})
	ctx := context.Background()

	if allowed, _, err := tr.Allow(ctx, "acct-1"); err != nil || !allowed {
		t.Fatalf("acct-1: allowed=%v err=%v", allowed, err)
	}
	if allowed, _, _ := tr.Allow(ctx, "acct-1"); allowed {
		t.Fatal("acct-1 second call allowed, want denied")
	}
	if allowed, _, err := tr.Allow(ctx, "acct-2"); err != nil || !allowed {
		t.Fatalf("acct-2: allowed=%v err=%v", allowed, err)
	}
}

func TestNewFromURL_InvalidURL(t *testing.T) {
	if _, err := NewFromURL("not-a-url", DefaultSESLimits); err == nil {
		t.Fatal("expected error for malformed URL")
	}
}
