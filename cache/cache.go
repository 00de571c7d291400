// Package cache stores encoded removal results keyed by the content of the
// upload that produced them.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	DefaultSize = 100
	DefaultTTL  = time.Hour
)

// Fingerprint is the SHA-256 digest of an upload.
type Fingerprint [sha256.Size]byte

func FingerprintOf(data []byte) Fingerprint {
	return sha256.Sum256(data)
}

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Cache is the store the pipeline consults before doing any removal work.
type Cache interface {
	Lookup(key Fingerprint) ([]byte, bool)
	Store(key Fingerprint, value []byte)
}

// Observer receives cache outcomes. Implementations must be cheap; they are
// called with the cache lock held.
type Observer interface {
	CacheHit()
	CacheMiss(expired bool)
	CacheEvict()
	CacheSize(n int)
}

type Options struct {
	Size     int
	TTL      time.Duration
	Now      func() time.Time
	Observer Observer
}

type entry struct {
	value    []byte
	storedAt time.Time
}

// LRU is a bounded, time-aware Cache. A single mutex guards the whole
// structure; callers never hold it while processing images.
type LRU struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[Fingerprint, entry]
	ttl      time.Duration
	now      func() time.Time
	observer Observer
	evicting bool
}

func NewLRU(opts Options) (*LRU, error) {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &LRU{
		ttl:      opts.TTL,
		now:      opts.Now,
		observer: opts.Observer,
	}
	l, err := simplelru.NewLRU[Fingerprint, entry](opts.Size, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// onEvict runs for capacity evictions and explicit removals alike; only
// the former are reported.
func (c *LRU) onEvict(_ Fingerprint, _ entry) {
	if c.evicting && c.observer != nil {
		c.observer.CacheEvict()
	}
}

func (c *LRU) Lookup(key Fingerprint) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		c.miss(false)
		return nil, false
	}
	if c.expired(e) {
		c.lru.Remove(key)
		c.miss(true)
		return nil, false
	}
	if c.observer != nil {
		c.observer.CacheHit()
	}
	return clone(e.value), true
}

func (c *LRU) Store(key Fingerprint, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evicting = true
	c.lru.Add(key, entry{value: clone(value), storedAt: c.now()})
	c.evicting = false

	if c.observer != nil {
		c.observer.CacheSize(c.lru.Len())
	}
}

// PurgeExpired drops every entry older than the TTL and returns how many
// were removed.
func (c *LRU) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if ok && c.expired(e) {
			c.lru.Remove(key)
			removed++
		}
	}
	if c.observer != nil {
		c.observer.CacheSize(c.lru.Len())
	}
	return removed
}

func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *LRU) expired(e entry) bool {
	return c.now().Sub(e.storedAt) >= c.ttl
}

func (c *LRU) miss(expired bool) {
	if c.observer == nil {
		return
	}
	c.observer.CacheMiss(expired)
	if expired {
		c.observer.CacheSize(c.lru.Len())
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var _ Cache = (*LRU)(nil)
