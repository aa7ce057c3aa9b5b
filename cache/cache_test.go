package cache

import (
	"testing"
	"time"
)

func TestSetGet(t *testing.T) {
	c := New[string](0)
	defer c.Stop()

	c.Set("k", "v", time.Minute)

	got, ok := c.Get("k")
	if !ok {
		t.Fatalf("expected hit")
	}
	if got != "v" {
		t.Errorf("Get = %q, want v", got)
	}
}

func TestGetMissing(t *testing.T) {
	c := New[int](0)
	defer c.Stop()

	if _, ok := c.Get("nope"); ok {
		t.Fatalf("expected miss")
	}
}

func TestLazyEvictionOnRead(t *testing.T) {
	c := New[int](0)
	defer c.Stop()

	c.Set("k", 42, 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Fatalf("expired entry must not be returned")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be evicted on read, len = %d", c.Len())
	}
}

func TestJanitorSweep(t *testing.T) {
	c := New[int](20 * time.Millisecond)
	defer c.Stop()

	c.Set("a", 1, 5*time.Millisecond)
	c.Set("b", 2, time.Minute)

	time.Sleep(60 * time.Millisecond)

	if c.Len() != 1 {
		t.Errorf("janitor should have swept the expired entry, len = %d", c.Len())
	}
	if _, ok := c.Get("b"); !ok {
		t.Errorf("live entry must survive the sweep")
	}
}

func TestOverwriteRefreshesExpiry(t *testing.T) {
	c := New[int](0)
	defer c.Stop()

	c.Set("k", 1, 10*time.Millisecond)
	c.Set("k", 2, time.Minute)
	time.Sleep(25 * time.Millisecond)

	got, ok := c.Get("k")
	if !ok {
		t.Fatalf("rewritten entry should still be live")
	}
	if got != 2 {
		t.Errorf("Get = %d, want 2", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	c := New[int](time.Millisecond)
	c.Stop()
	c.Stop()
}
