// Package cache memoizes scoring results in memory. Entries expire after a
// fixed TTL and the store is capped by entry count, evicting in insertion
// order. Concurrent misses on one key share a single computation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"

	"github.com/eapache/queue/v2"
	"golang.org/x/sync/singleflight"

	"github.com/teilomillet/promptscore/server/metrics"
)

// Key derives a cache key from its parts. Each part is length-prefixed
// before hashing so ("ab","c") and ("a","bc") never collide.
func Key(parts ...string) string {
	h := sha256.New()
	var n [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

type entry[V any] struct {
	value      V
	insertedAt time.Time
	seq        uint64
}

// slot records an insertion. A slot whose seq no longer matches the live
// entry for its key is stale and skipped.
type slot struct {
	key string
	seq uint64
}

// Options configures a Cache.
type Options struct {
	TTL        time.Duration
	MaxEntries int
	Metrics    *metrics.Metrics // optional
	Now        func() time.Time // defaults to time.Now

	// ComputeTimeout bounds a shared computation in GetOrCompute.
	// Zero leaves it unbounded.
	ComputeTimeout time.Duration
}

// Cache is a TTL and size bounded map with insertion-order eviction.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	order   *queue.Queue[slot]
	seq     uint64

	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	metrics    *metrics.Metrics
	timeout    time.Duration

	group singleflight.Group
}

// New creates an empty cache.
func New[V any](opts Options) *Cache[V] {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Cache[V]{
		entries:    make(map[string]entry[V]),
		order:      queue.New[slot](),
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		now:        now,
		metrics:    opts.Metrics,
		timeout:    opts.ComputeTimeout,
	}
}

// Get returns the live value for key.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneExpired()
	e, ok := c.entries[key]
	c.countLookup(ok)
	return e.value, ok
}

// Set stores v under key, replacing any previous value, then evicts the
// oldest insertions while the cache holds more than MaxEntries.
func (c *Cache[V]) Set(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneExpired()
	c.seq++
	c.entries[key] = entry[V]{value: v, insertedAt: c.now(), seq: c.seq}
	c.order.Add(slot{key: key, seq: c.seq})

	for c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		if !c.popOldest("capacity") {
			break
		}
	}
	c.compact()
	c.updateGauge()
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneExpired()
	return len(c.entries)
}

// GetOrCompute returns the cached value for key or computes and stores it.
// hit is true when the value was not computed by this call, either because
// it was cached or because a concurrent caller computed it. Errors are not
// cached. fn keeps the values of the triggering caller's ctx but not its
// cancellation, so one caller leaving does not fail the others. Each caller
// stops waiting when its own ctx is done.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, fn func(context.Context) (V, error)) (V, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}

	leader := false
	ch := c.group.DoChan(key, func() (any, error) {
		leader = true
		cctx := context.WithoutCancel(ctx)
		if c.timeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(cctx, c.timeout)
			defer cancel()
		}
		v, err := fn(cctx)
		if err != nil {
			return v, err
		}
		c.Set(key, v)
		return v, nil
	})

	select {
	case res := <-ch:
		v, _ := res.Val.(V)
		if res.Err != nil {
			return v, false, res.Err
		}
		if !leader && c.metrics != nil {
			c.metrics.CacheDeduped.Inc()
		}
		return v, !leader, nil
	case <-ctx.Done():
		var zero V
		return zero, false, ctx.Err()
	}
}

// pruneExpired drops entries older than the TTL. Insertions share one TTL,
// so expired entries are always at the front of the queue.
func (c *Cache[V]) pruneExpired() {
	if c.ttl <= 0 {
		return
	}
	cutoff := c.now().Add(-c.ttl)
	for c.order.Length() > 0 {
		s := c.order.Peek()
		e, ok := c.entries[s.key]
		if ok && e.seq == s.seq && e.insertedAt.After(cutoff) {
			break
		}
		c.order.Remove()
		if ok && e.seq == s.seq {
			delete(c.entries, s.key)
			c.countEviction("expired")
		}
	}
	c.updateGauge()
}

// popOldest evicts the earliest live insertion.
func (c *Cache[V]) popOldest(reason string) bool {
	for c.order.Length() > 0 {
		s := c.order.Remove()
		if e, ok := c.entries[s.key]; ok && e.seq == s.seq {
			delete(c.entries, s.key)
			c.countEviction(reason)
			return true
		}
	}
	return false
}

// compact rebuilds the queue once stale slots from overwritten keys
// outnumber live entries.
func (c *Cache[V]) compact() {
	if c.order.Length() <= 2*len(c.entries)+16 {
		return
	}
	fresh := queue.New[slot]()
	for c.order.Length() > 0 {
		s := c.order.Remove()
		if e, ok := c.entries[s.key]; ok && e.seq == s.seq {
			fresh.Add(s)
		}
	}
	c.order = fresh
}

func (c *Cache[V]) countLookup(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheLookups.WithLabelValues("hit").Inc()
	} else {
		c.metrics.CacheLookups.WithLabelValues("miss").Inc()
	}
}

func (c *Cache[V]) countEviction(reason string) {
	if c.metrics != nil {
		c.metrics.CacheEvictions.WithLabelValues(reason).Inc()
	}
}

func (c *Cache[V]) updateGauge() {
	if c.metrics != nil {
		c.metrics.CacheEntries.Set(float64(len(c.entries)))
	}
}
