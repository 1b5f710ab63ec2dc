package lazy

import "sync"

type cacheEntry struct {
	key        string
	data       []byte
	w, h       int
	prev, next *cacheEntry
}

// Cache is the process-wide warm cache: encoded image bytes plus intrinsic
// dimensions, keyed by URL, bounded by total byte size with LRU eviction.
// The Scheduler fills it during idle time; hosts consult it when serving or
// sizing images. An optional disk tier persists entries across processes.
// Safe for concurrent use; a nil *Cache is inert.
type Cache struct {
	mu   sync.Mutex
	max  int64
	size int64
	m    map[string]*cacheEntry
	head *cacheEntry
	tail *cacheEntry

	disk    *diskCache
	metrics *Metrics
}

// NewCache builds a warm cache from cfg. A negative CacheMaxBytes disables
// the memory tier; an empty DiskCacheDir disables the disk tier.
func NewCache(cfg Config, m *Metrics) *Cache {
	cfg = cfg.withDefaults()
	c := &Cache{
		m:       map[string]*cacheEntry{},
		metrics: m,
	}
	if cfg.CacheMaxBytes > 0 {
		c.max = cfg.CacheMaxBytes
	}
	if cfg.DiskCacheDir != "" {
		c.disk = newDiskCache(cfg.DiskCacheDir, cfg.DiskCacheMaxBytes)
	}
	return c
}

func (c *Cache) moveFront(e *cacheEntry) {
	if c.head == e {
		return
	}
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if c.tail == e {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

// Get returns the cached bytes and dimensions for url. A memory miss falls
// through to the disk tier and promotes the entry back into memory.
func (c *Cache) Get(url string) ([]byte, int, int, bool) {
	if c == nil {
		return nil, 0, 0, false
	}
	c.mu.Lock()
	if e, ok := c.m[url]; ok {
		c.moveFront(e)
		data := append([]byte(nil), e.data...)
		w, h := e.w, e.h
		c.mu.Unlock()
		c.metrics.observeCacheHit()
		return data, w, h, true
	}
	c.mu.Unlock()
	if data, w, h, ok := c.disk.get(url); ok {
		c.putMem(url, data, w, h)
		c.metrics.observeCacheHit()
		return data, w, h, true
	}
	c.metrics.observeCacheMiss()
	return nil, 0, 0, false
}

// Put stores data in the memory tier and, when enabled, the disk tier.
func (c *Cache) Put(url string, data []byte, w, h int) {
	if c == nil {
		return
	}
	c.putMem(url, data, w, h)
	c.disk.put(url, data, w, h)
}

func (c *Cache) putMem(url string, data []byte, w, h int) {
	if c.max <= 0 {
		return
	}
	c.mu.Lock()
	if e, ok := c.m[url]; ok {
		c.size -= int64(len(e.data))
		e.data = append([]byte(nil), data...)
		e.w, e.h = w, h
		c.size += int64(len(e.data))
		c.moveFront(e)
	} else {
		e := &cacheEntry{key: url, data: append([]byte(nil), data...), w: w, h: h}
		e.next = c.head
		if c.head != nil {
			c.head.prev = e
		}
		c.head = e
		if c.tail == nil {
			c.tail = e
		}
		c.m[url] = e
		c.size += int64(len(e.data))
	}
	for c.size > c.max && c.tail != nil {
		old := c.tail
		delete(c.m, old.key)
		c.size -= int64(len(old.data))
		c.tail = old.prev
		if c.tail != nil {
			c.tail.next = nil
		} else {
			c.head = nil
		}
	}
	size := c.size
	c.mu.Unlock()
	c.metrics.setCacheBytes(size)
}

// Warmed reports whether url is resident in either tier, without moving it.
func (c *Cache) Warmed(url string) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	_, ok := c.m[url]
	c.mu.Unlock()
	if ok {
		return true
	}
	return c.disk.has(url)
}

// Dimensions returns the intrinsic size recorded for url.
func (c *Cache) Dimensions(url string) (int, int, bool) {
	if c == nil {
		return 0, 0, false
	}
	c.mu.Lock()
	if e, ok := c.m[url]; ok {
		w, h := e.w, e.h
		c.mu.Unlock()
		return w, h, true
	}
	c.mu.Unlock()
	return c.disk.dims(url)
}

// Bytes reports the memory tier's current size.
func (c *Cache) Bytes() int64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len reports the number of memory-tier entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
