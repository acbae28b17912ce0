package cache

import (
	"fmt"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func newTestCache(maxSize int, ttl time.Duration) (*Cache[string], *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)}
	return New(maxSize, ttl, WithClock[string](clock.Now)), clock
}

func TestGetReturnsStoredValue(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(4, time.Minute)
	c.Set("a", "one")

	got, ok := c.Get("a")
	if !ok || got != "one" {
		t.Fatalf("unexpected get: got=%q ok=%v", got, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected absent key to miss")
	}
}

func TestExpiredEntryIsAbsentAndPurged(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache(4, time.Minute)
	c.Set("a", "one")
	clock.Advance(time.Minute + time.Second)

	if _, ok := c.Get("a"); ok {
		t.Fatal("expected expired entry to be absent")
	}
	if c.Len() != 0 {
		t.Fatalf("expected expired entry purged, len=%d", c.Len())
	}
}

func TestEvictsLeastRecentlyTouchedAtCapacity(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(3, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("c", "3")

	// Touch "a" so "b" becomes the oldest.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a present")
	}

	c.Set("d", "4")

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected least-recently-touched key b to be evicted")
	}
	for _, key := range []string{"a", "c", "d"} {
		if _, ok := c.Get(key); !ok {
			t.Fatalf("expected key %q to survive eviction", key)
		}
	}
	if c.Len() != 3 {
		t.Fatalf("size exceeded bound: len=%d", c.Len())
	}
}

func TestReinsertResetsRecency(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(2, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("a", "1b") // re-insert moves a to most recent
	c.Set("c", "3")  // should evict b, not a

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b evicted")
	}
	if got, ok := c.Get("a"); !ok || got != "1b" {
		t.Fatalf("expected refreshed a, got=%q ok=%v", got, ok)
	}
}

func TestHasDoesNotTouchRecency(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(2, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")

	if !c.Has("a") {
		t.Fatal("expected a present")
	}
	// "a" is still the oldest because Has must not touch it.
	c.Set("c", "3")
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected a evicted despite Has")
	}
}

func TestDeleteAndClear(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(4, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")

	if !c.Delete("a") {
		t.Fatal("expected delete to report presence")
	}
	if c.Delete("a") {
		t.Fatal("expected second delete to report absence")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after clear, len=%d", c.Len())
	}
}

func TestCleanupSweepsOnlyExpired(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache(8, time.Minute)
	for i := 0; i < 3; i++ {
		c.SetTTL(fmt.Sprintf("short-%d", i), "v", 10*time.Second)
	}
	c.SetTTL("long", "v", time.Hour)

	clock.Advance(30 * time.Second)

	if removed := c.Cleanup(); removed != 3 {
		t.Fatalf("unexpected sweep count: got=%d want=3", removed)
	}
	if !c.Has("long") {
		t.Fatal("expected unexpired entry to survive cleanup")
	}
}
