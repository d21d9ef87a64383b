package audio

import (
	"testing"
	"time"
)

func newTestClip(path string) (*clipHandle, *fakeClip) {
	c := &fakeClip{path: path}
	return newClipHandle(path, c), c
}

func newFixedCache(limit int64) *Cache {
	c := NewCache(limit)
	now := time.Unix(0, 0)
	c.now = func() time.Time { return now }
	return c
}

func TestCacheEvictsOldest(t *testing.T) {
	c := newFixedCache(300)
	a, aClip := newTestClip("a")
	b, bClip := newTestClip("b")
	d, _ := newTestClip("d")
	e, _ := newTestClip("e")

	c.Put("a", a, 100)
	c.Put("b", b, 100)
	c.Put("d", d, 100)
	if c.Usage() != 300 {
		t.Fatalf("usage = %d", c.Usage())
	}

	// 超限后淘汰到 80%
	c.Put("e", e, 100)
	if c.Contains("a") || c.Contains("b") {
		t.Errorf("oldest entries not evicted: %v", c.Paths())
	}
	if !c.Contains("d") || !c.Contains("e") {
		t.Errorf("recent entries evicted: %v", c.Paths())
	}
	if c.Usage() != 200 {
		t.Errorf("usage = %d, want 200", c.Usage())
	}
	if aClip.released.Load() != 1 || bClip.released.Load() != 1 {
		t.Error("evicted clips not released")
	}
}

func TestCacheGetRefreshesOrder(t *testing.T) {
	c := newFixedCache(300)
	for _, p := range []string{"a", "b", "d"} {
		h, _ := newTestClip(p)
		c.Put(p, h, 100)
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a missing")
	}
	h, _ := newTestClip("e")
	c.Put("e", h, 100)

	if !c.Contains("a") {
		t.Error("recently used entry evicted")
	}
	if c.Contains("b") {
		t.Error("least recently used entry kept")
	}
}

func TestCacheSkipsInUse(t *testing.T) {
	c := newFixedCache(300)
	for _, p := range []string{"a", "b", "d"} {
		h, _ := newTestClip(p)
		c.Put(p, h, 100)
	}
	playing, ok := c.acquire("a")
	if !ok {
		t.Fatal("a missing")
	}
	// acquire 也刷新了 a，先把它变回最旧
	c.Get("b")
	c.Get("d")

	h, _ := newTestClip("e")
	c.Put("e", h, 100)
	if !c.Contains("a") {
		t.Error("in-use entry evicted")
	}
	if c.Contains("b") || c.Contains("d") {
		t.Errorf("paths = %v", c.Paths())
	}

	playing.release()
	if c.EvictIfNeeded() != 0 {
		t.Error("usage under limit, nothing to evict")
	}
}

func TestCacheEnsureCapacity(t *testing.T) {
	c := newFixedCache(300)
	for _, p := range []string{"a", "b"} {
		h, _ := newTestClip(p)
		c.Put(p, h, 100)
	}
	c.EnsureCapacity(200)
	if c.Usage() > 100 {
		t.Errorf("usage = %d, want room for 200", c.Usage())
	}
	if c.Contains("a") {
		t.Error("oldest entry should go first")
	}
}

func TestCacheReplaceAndClear(t *testing.T) {
	c := newFixedCache(1000)
	old, oldClip := newTestClip("a")
	c.Put("a", old, 100)
	fresh, freshClip := newTestClip("a")
	c.Put("a", fresh, 150)

	if c.Usage() != 150 {
		t.Errorf("usage = %d, want 150", c.Usage())
	}
	if oldClip.released.Load() != 1 {
		t.Error("replaced clip not released")
	}
	if got, _ := c.Get("a"); got != fresh {
		t.Error("later Put should win")
	}

	st := c.Stats()
	if st.Entries != 1 || st.Limit != 1000 || st.UsageHuman == "" {
		t.Errorf("stats = %+v", st)
	}

	c.Clear()
	if c.Usage() != 0 || c.Contains("a") || freshClip.released.Load() != 1 {
		t.Error("Clear did not empty the cache")
	}
}

func TestEstimateSize(t *testing.T) {
	if got := EstimateSize(time.Second); got != 16000 {
		t.Errorf("1s = %d, want 16000", got)
	}
	if got := EstimateSize(0); got != 160000 {
		t.Errorf("unknown duration = %d, want 160000", got)
	}
}
