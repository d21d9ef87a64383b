package audio

import (
	"sort"
	"sync"
	"time"

	"PhuzzyAudio/logger"

	"github.com/dustin/go-humanize"
)

// evictTarget 超限后淘汰到上限的 80%
const evictTarget = 0.8

type cacheEntry struct {
	path       string
	clip       *clipHandle
	lastAccess time.Time
	seq        uint64
	size       int64
}

// Cache 已加载音频的内存缓存，按最近访问时间淘汰
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	limit   int64
	usage   int64
	seq     uint64
	now     func() time.Time
}

// CacheStats 缓存快照
type CacheStats struct {
	Entries    int     `json:"entries"`
	Usage      int64   `json:"usage"`
	Limit      int64   `json:"limit"`
	UsageHuman string  `json:"usageHuman"`
	LimitHuman string  `json:"limitHuman"`
	UsageRatio float64 `json:"usageRatio"`
}

// NewCache limit 单位字节
func NewCache(limit int64) *Cache {
	return &Cache{
		entries: make(map[string]*cacheEntry),
		limit:   limit,
		now:     time.Now,
	}
}

func (c *Cache) touch(e *cacheEntry) {
	c.seq++
	e.seq = c.seq
	e.lastAccess = c.now()
}

// Get 命中时刷新访问时间
func (c *Cache) Get(path string) (*clipHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok {
		return nil, false
	}
	c.touch(e)
	return e.clip, true
}

// acquire 命中时在锁内加引用，避免返回前被淘汰
func (c *Cache) acquire(path string) (*clipHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok {
		return nil, false
	}
	c.touch(e)
	e.clip.acquire()
	return e.clip, true
}

// Contains 不刷新访问时间
func (c *Cache) Contains(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[path]
	return ok
}

// Put 同一路径后写覆盖先写，写入后立即检查上限
func (c *Cache) Put(path string, clip *clipHandle, size int64) {
	c.mu.Lock()
	var released []*clipHandle
	if old, ok := c.entries[path]; ok {
		c.usage -= old.size
		if old.clip != clip && !old.clip.inUse() {
			released = append(released, old.clip)
		}
	}
	e := &cacheEntry{path: path, clip: clip, size: size}
	c.touch(e)
	c.entries[path] = e
	c.usage += size
	released = append(released, c.evictLocked(c.limit)...)
	c.mu.Unlock()

	for _, h := range released {
		h.Release()
	}
}

// EnsureCapacity 加载前调用，为 size 字节腾出空间
func (c *Cache) EnsureCapacity(size int64) {
	c.mu.Lock()
	released := c.evictLocked(c.limit - size)
	c.mu.Unlock()
	for _, h := range released {
		h.Release()
	}
}

// EvictIfNeeded 用量超过上限时淘汰最久未访问的条目
func (c *Cache) EvictIfNeeded() int {
	c.mu.Lock()
	released := c.evictLocked(c.limit)
	c.mu.Unlock()
	for _, h := range released {
		h.Release()
	}
	return len(released)
}

// evictLocked 正在播放的条目跳过
func (c *Cache) evictLocked(threshold int64) []*clipHandle {
	if c.usage <= threshold {
		return nil
	}

	ordered := make([]*cacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].lastAccess.Equal(ordered[j].lastAccess) {
			return ordered[i].seq < ordered[j].seq
		}
		return ordered[i].lastAccess.Before(ordered[j].lastAccess)
	})

	target := int64(float64(c.limit) * evictTarget)
	if threshold < c.limit {
		target = min(target, threshold)
	}

	var released []*clipHandle
	freed := int64(0)
	for _, e := range ordered {
		if c.usage <= target {
			break
		}
		if e.clip.inUse() {
			continue
		}
		delete(c.entries, e.path)
		c.usage -= e.size
		freed += e.size
		released = append(released, e.clip)
	}

	if len(released) > 0 {
		logger.Info("音频缓存淘汰",
			logger.Int("evicted", len(released)),
			logger.String("freed", humanize.Bytes(uint64(freed))),
			logger.String("usage", humanize.Bytes(uint64(max(c.usage, 0)))))
	}
	return released
}

// Clear 清空并释放所有未在播放的条目
func (c *Cache) Clear() {
	c.mu.Lock()
	var released []*clipHandle
	for path, e := range c.entries {
		if !e.clip.inUse() {
			released = append(released, e.clip)
		}
		delete(c.entries, path)
	}
	c.usage = 0
	c.mu.Unlock()

	for _, h := range released {
		h.Release()
	}
}

// Usage 当前估算占用
func (c *Cache) Usage() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// Ratio 占用比例
func (c *Cache) Ratio() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limit <= 0 {
		return 0
	}
	return float64(c.usage) / float64(c.limit)
}

// Paths 按访问时间从旧到新
func (c *Cache) Paths() []string {
	c.mu.Lock()
	ordered := make([]*cacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })
	out := make([]string, len(ordered))
	for i, e := range ordered {
		out[i] = e.path
	}
	c.mu.Unlock()
	return out
}

func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	ratio := 0.0
	if c.limit > 0 {
		ratio = float64(c.usage) / float64(c.limit)
	}
	return CacheStats{
		Entries:    len(c.entries),
		Usage:      c.usage,
		Limit:      c.limit,
		UsageHuman: humanize.Bytes(uint64(max(c.usage, 0))),
		LimitHuman: humanize.Bytes(uint64(max(c.limit, 0))),
		UsageRatio: ratio,
	}
}
