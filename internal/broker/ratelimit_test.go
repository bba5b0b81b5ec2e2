package broker

import (
	"testing"
	"time"
)

func TestFixedWindowStoreAllowsUpToMax(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	now := base
	store := newFixedWindowStore(1000, 3, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if !store.Allow("1.2.3.4") {
			t.Fatalf("expected request %d to be allowed", i)
		}
	}
	if store.Allow("1.2.3.4") {
		t.Fatal("expected 4th request within the window to be rejected")
	}

	now = base.Add(1100 * time.Millisecond)
	if !store.Allow("1.2.3.4") {
		t.Fatal("expected a new window to reset the counter")
	}
}

func TestFixedWindowStorePruneRemovesOldWindows(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	store := newFixedWindowStore(1000, 3, func() time.Time { return base })
	store.Allow("1.2.3.4")

	store.Prune(base.Add(1500 * time.Millisecond))
	if _, ok := store.counters["1.2.3.4"]; !ok {
		t.Fatal("expected window to survive a prune before 2x the window elapses")
	}

	store.Prune(base.Add(2001 * time.Millisecond))
	if _, ok := store.counters["1.2.3.4"]; ok {
		t.Fatal("expected window to be pruned once 2x the window has elapsed")
	}
}

func TestLimiterStoreIsPerKey(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := newLimiterStore(1, 1, func() time.Time { return now })
	if !store.Allow("a") {
		t.Fatal("expected first request from key a to be allowed")
	}
	if store.Allow("a") {
		t.Fatal("expected second immediate request from key a to be throttled")
	}
	if !store.Allow("b") {
		t.Fatal("expected key b to have its own independent bucket")
	}
}

func TestLimiterStorePruneRemovesIdleKeys(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	now := base
	store := newLimiterStore(1, 1, func() time.Time { return now })
	store.Allow("1.2.3.4")

	store.Prune(base.Add(1*time.Minute), 2*time.Minute)
	if _, ok := store.limiters["1.2.3.4"]; !ok {
		t.Fatal("expected limiter to survive a prune before maxIdle elapses")
	}

	store.Prune(base.Add(3*time.Minute), 2*time.Minute)
	if _, ok := store.limiters["1.2.3.4"]; ok {
		t.Fatal("expected limiter to be pruned once idle beyond maxIdle")
	}
	if _, ok := store.lastSeen["1.2.3.4"]; ok {
		t.Fatal("expected lastSeen entry to be cleared alongside the limiter")
	}
}
