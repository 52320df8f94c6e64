package throttle

import (
	"context"
	"testing"
)

func TestTokenBucketBurstAndRefusal(t *testing.T) {
	tb := NewTokenBucket(0, 3) // no refill, burst of 3

	for i := 0; i < 3; i++ {
		if !tb.Allow(1) {
			t.Fatalf("burst request %d refused", i)
		}
	}
	if tb.Allow(1) {
		t.Fatal("request beyond burst allowed")
	}
}

func TestTokenBucketCost(t *testing.T) {
	tb := NewTokenBucket(0, 10)
	if !tb.Allow(10) {
		t.Fatal("full-capacity cost refused")
	}
	if tb.Allow(1) {
		t.Fatal("empty bucket allowed a request")
	}
}

func TestMemoryStoreIsolatesActors(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	policy := Policy{RPM: 60, Burst: 2}

	for i := 0; i < 2; i++ {
		allowed, err := store.Allow(ctx, "alice", policy, 1)
		if err != nil || !allowed {
			t.Fatalf("alice request %d: allowed=%v err=%v", i, allowed, err)
		}
	}
	if allowed, _ := store.Allow(ctx, "alice", policy, 1); allowed {
		t.Fatal("alice exceeded burst but was allowed")
	}

	// A different actor has its own bucket.
	if allowed, _ := store.Allow(ctx, "bob", policy, 1); !allowed {
		t.Fatal("bob blocked by alice's bucket")
	}
}
