package refcache

import (
	"testing"

	"github.com/marfs-core/marfs/internal/tagging"
)

func TestGetPutRoundTrip(t *testing.T) {
	c := New(2)
	ft := &tagging.FTAG{FileNo: 3}
	c.Put("a/b/0000", ft)

	got, ok := c.Get("a/b/0000")
	if !ok {
		t.Fatalf("expected a/b/0000 to be cached")
	}
	if got.FileNo != 3 {
		t.Fatalf("got fileno=%d, want 3", got.FileNo)
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2)
	c.Put("x", &tagging.FTAG{FileNo: 1})
	c.Put("y", &tagging.FTAG{FileNo: 2})
	c.Get("x") // x is now most-recently-used, y is least
	c.Put("z", &tagging.FTAG{FileNo: 3})

	if _, ok := c.Get("y"); ok {
		t.Fatalf("expected y to have been evicted")
	}
	if _, ok := c.Get("x"); !ok {
		t.Fatalf("expected x to survive eviction")
	}
	if _, ok := c.Get("z"); !ok {
		t.Fatalf("expected z to be present")
	}
}

func TestZeroCapacityDisablesCaching(t *testing.T) {
	c := New(0)
	c.Put("a", &tagging.FTAG{FileNo: 1})
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected zero-capacity cache to never hit")
	}
	if n := c.Len(); n != 0 {
		t.Fatalf("expected zero-capacity cache to stay empty, got %d entries", n)
	}
}

func TestInvalidateRemovesEntry(t *testing.T) {
	c := New(4)
	c.Put("a", &tagging.FTAG{FileNo: 1})
	c.Invalidate("a")
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected a to be invalidated")
	}
}
