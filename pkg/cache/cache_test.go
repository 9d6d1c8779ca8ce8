package cache

import (
	"context"
	"testing"
	"time"
)

type payload struct {
	Value string `json:"value"`
}

func TestStore_HitThenExpiry(t *testing.T) {
	s := New(nil, time.Minute)
	ctx := context.Background()

	s.Set(ctx, "quote:AAPL", payload{Value: "v1"}, 40*time.Millisecond)

	var got payload
	if !s.Get(ctx, "quote:AAPL", &got) {
		t.Fatal("expected hit before expiry")
	}
	if got.Value != "v1" {
		t.Errorf("got %q; want v1", got.Value)
	}

	time.Sleep(60 * time.Millisecond)
	if s.Get(ctx, "quote:AAPL", &got) {
		t.Error("expected miss after expiry")
	}
	// Lazy eviction removed the expired entry
	if s.Len() != 0 {
		t.Errorf("Len = %d; want 0 after lazy eviction", s.Len())
	}
}

func TestStore_LastWriteWins(t *testing.T) {
	s := New(nil, time.Minute)
	ctx := context.Background()

	s.Set(ctx, "quote:MSFT", payload{Value: "old"}, time.Minute)
	s.Set(ctx, "quote:MSFT", payload{Value: "new"}, time.Minute)

	var got payload
	if !s.Get(ctx, "quote:MSFT", &got) {
		t.Fatal("expected hit")
	}
	if got.Value != "new" {
		t.Errorf("got %q; want new", got.Value)
	}
}

func TestStore_MissOnAbsentKey(t *testing.T) {
	s := New(nil, time.Minute)
	var got payload
	if s.Get(context.Background(), "quote:NOPE", &got) {
		t.Error("expected miss for absent key")
	}
	hits, misses := s.Counters()
	if hits != 0 || misses != 1 {
		t.Errorf("counters = %d/%d; want 0/1", hits, misses)
	}
}

func TestStore_InvalidatePattern(t *testing.T) {
	s := New(nil, time.Minute)
	ctx := context.Background()

	s.Set(ctx, "quote:AAPL", payload{Value: "a"}, time.Minute)
	s.Set(ctx, "quote:MSFT", payload{Value: "b"}, time.Minute)
	s.Set(ctx, "search:apple", payload{Value: "c"}, time.Minute)

	if n := s.Invalidate(ctx, "quote:"); n != 2 {
		t.Errorf("Invalidate = %d; want 2", n)
	}
	var got payload
	if s.Get(ctx, "quote:AAPL", &got) {
		t.Error("quote:AAPL survived invalidation")
	}
	if !s.Get(ctx, "search:apple", &got) {
		t.Error("search:apple should survive")
	}

	if n := s.Invalidate(ctx, ""); n != 1 {
		t.Errorf("full Invalidate = %d; want 1", n)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d; want 0", s.Len())
	}
}

func TestStore_SweepEvictsExpired(t *testing.T) {
	s := New(nil, 20*time.Millisecond)
	ctx := context.Background()

	s.Set(ctx, "quote:OLD", payload{Value: "x"}, 10*time.Millisecond)
	s.Set(ctx, "quote:NEW", payload{Value: "y"}, time.Minute)

	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(time.Second)
	for s.Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d; want 1 after sweep", s.Len())
	}
}
