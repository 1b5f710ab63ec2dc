package lazy

import (
	"crypto/sha1"
	"encoding/hex"
	"sync"
	"time"
)

type memoEntry struct {
	markup  string
	created time.Time
}

// RewriteCache memoizes Rewrite for hosts that re-render the same content
// repeatedly. Rewrite is pure, so entries are valid until their TTL lapses;
// expired entries are swept opportunistically on writes. Safe for
// concurrent use.
type RewriteCache struct {
	mu   sync.RWMutex
	ttl  time.Duration
	now  func() time.Time
	data map[string]memoEntry
}

// NewRewriteCache builds a memo with the given TTL. A nil clock uses
// time.Now.
func NewRewriteCache(ttl time.Duration, now func() time.Time) *RewriteCache {
	if now == nil {
		now = time.Now
	}
	if ttl <= 0 {
		ttl = DefaultConfig().RewriteTTL
	}
	return &RewriteCache{
		ttl:  ttl,
		now:  now,
		data: make(map[string]memoEntry),
	}
}

func memoKey(markup string) string {
	h := sha1.Sum([]byte(markup))
	return hex.EncodeToString(h[:])
}

// Rewrite returns the memoized rewrite of markup, rewriting on a miss or an
// expired entry.
func (c *RewriteCache) Rewrite(markup string) string {
	if c == nil {
		return Rewrite(markup)
	}
	key := memoKey(markup)
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.created) < c.ttl {
		return e.markup
	}

	out := Rewrite(markup)
	c.mu.Lock()
	c.data[key] = memoEntry{markup: out, created: c.now()}
	for k, e := range c.data {
		if c.now().Sub(e.created) >= c.ttl {
			delete(c.data, k)
		}
	}
	c.mu.Unlock()
	return out
}

// Len reports the number of live entries.
func (c *RewriteCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
