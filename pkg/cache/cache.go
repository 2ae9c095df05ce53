// Package cache stores classification results keyed by content
// fingerprint, so re-identifying the same recording skips decode and
// inference entirely.
//
// Entries carry a TTL (default 24 hours) and are evicted in batches
// when the cache grows past its capacity. Persistence goes through a
// [kv.Store]; corrupt persisted state is discarded and treated as a
// cache miss, never surfaced to the caller.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/perchlabs/birdsense/pkg/kv"
	"github.com/perchlabs/birdsense/pkg/predict"
)

// keyPrefix namespaces cache entries inside the shared kv store.
const keyPrefix = "cache/"

// evictTarget is the fill fraction eviction shrinks to. Evicting in a
// batch avoids a purge pass on every insert under sustained pressure.
const evictTarget = 0.8

// Entry is one cached classification result.
type Entry struct {
	Fingerprint string        `msgpack:"fingerprint"`
	Predictions predict.Set   `msgpack:"predictions"`
	CreatedAt   time.Time     `msgpack:"created_at"`
	ExpiresAt   time.Time     `msgpack:"expires_at"`
}

// expired reports whether the entry is past its TTL at the given time.
func (e *Entry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Config controls cache behavior. Zero fields take defaults.
type Config struct {
	// TTL is how long an entry stays valid (default 24h).
	TTL time.Duration `yaml:"ttl"`

	// MaxEntries bounds the cache size (default 500).
	MaxEntries int `yaml:"max_entries"`

	// SweepInterval is how often the background sweeper purges expired
	// entries. Zero disables the sweeper; expired entries are then only
	// removed lazily on lookup and insert.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

func (c Config) fill() Config {
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 500
	}
	return c
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// Cache is the result cache. It is safe for concurrent use; writes are
// serialized so an insert for one fingerprint can never interleave with
// another write of the same entry.
type Cache struct {
	store kv.Store
	cfg   Config
	now   func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64

	mu sync.Mutex // serializes Put/Clear/sweep

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// Option configures a Cache.
type Option func(*Cache)

// withClock overrides the time source; tests use it to force expiry.
func withClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a Cache over the given store. If cfg.SweepInterval is
// positive, a background sweeper runs until Close.
func New(store kv.Store, cfg Config, opts ...Option) *Cache {
	c := &Cache{
		store: store,
		cfg:   cfg.fill(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.SweepInterval > 0 {
		c.sweepStop = make(chan struct{})
		c.sweepDone = make(chan struct{})
		go c.sweepLoop()
	}
	return c
}

// Get returns the cached predictions for a fingerprint, or false on
// miss. Expired and corrupt entries read as misses and are deleted.
func (c *Cache) Get(ctx context.Context, fingerprint string) (predict.Set, bool) {
	raw, err := c.store.Get(ctx, keyPrefix+fingerprint)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			log.Printf("cache: read %s: %v", fingerprint, err)
		}
		c.misses.Add(1)
		return nil, false
	}

	var e Entry
	if err := msgpack.Unmarshal(raw, &e); err != nil {
		// Corrupt persisted state: drop it and report a miss.
		log.Printf("cache: discarding corrupt entry %s: %v", fingerprint, err)
		_ = c.store.Delete(ctx, keyPrefix+fingerprint)
		c.misses.Add(1)
		return nil, false
	}
	if e.expired(c.now()) {
		_ = c.store.Delete(ctx, keyPrefix+fingerprint)
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return e.Predictions, true
}

// Put stores predictions under a fingerprint. If the insert would push
// the cache past capacity, expired entries are purged first and then
// the oldest entries are evicted down to 80% of capacity.
func (c *Cache) Put(ctx context.Context, fingerprint string, predictions predict.Set) error {
	now := c.now()
	e := Entry{
		Fingerprint: fingerprint,
		Predictions: predictions,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.cfg.TTL),
	}
	raw, err := msgpack.Marshal(&e)
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.makeRoom(ctx, fingerprint); err != nil {
		return err
	}
	if err := c.store.Set(ctx, keyPrefix+fingerprint, raw); err != nil {
		return fmt.Errorf("cache: write entry: %w", err)
	}
	return nil
}

// makeRoom enforces the capacity bound before an insert. Caller holds mu.
func (c *Cache) makeRoom(ctx context.Context, fingerprint string) error {
	entries, err := c.scan(ctx)
	if err != nil {
		return err
	}

	count := len(entries)
	replacing := false
	for _, e := range entries {
		if e.Fingerprint == fingerprint {
			replacing = true
		}
	}
	if replacing || count < c.cfg.MaxEntries {
		return nil
	}

	now := c.now()
	var stale []string
	live := entries[:0]
	for _, e := range entries {
		if e.expired(now) {
			stale = append(stale, keyPrefix+e.Fingerprint)
		} else {
			live = append(live, e)
		}
	}
	if len(stale) > 0 {
		if err := c.store.BatchDelete(ctx, stale); err != nil {
			return fmt.Errorf("cache: purge expired: %w", err)
		}
	}

	// Still over capacity: evict oldest-inserted entries in one batch.
	target := int(float64(c.cfg.MaxEntries) * evictTarget)
	if len(live)+1 > c.cfg.MaxEntries {
		sort.Slice(live, func(i, j int) bool {
			return live[i].CreatedAt.Before(live[j].CreatedAt)
		})
		n := len(live) - target + 1
		if n > len(live) {
			n = len(live)
		}
		victims := make([]string, 0, n)
		for _, e := range live[:n] {
			victims = append(victims, keyPrefix+e.Fingerprint)
		}
		if err := c.store.BatchDelete(ctx, victims); err != nil {
			return fmt.Errorf("cache: evict: %w", err)
		}
	}
	return nil
}

// scan decodes every persisted entry, dropping corrupt ones.
func (c *Cache) scan(ctx context.Context) ([]Entry, error) {
	var out []Entry
	var corrupt []string
	for kve, err := range c.store.List(ctx, keyPrefix) {
		if err != nil {
			return nil, fmt.Errorf("cache: scan: %w", err)
		}
		var e Entry
		if err := msgpack.Unmarshal(kve.Value, &e); err != nil {
			log.Printf("cache: discarding corrupt entry %s: %v", kve.Key, err)
			corrupt = append(corrupt, kve.Key)
			continue
		}
		out = append(out, e)
	}
	if len(corrupt) > 0 {
		_ = c.store.BatchDelete(ctx, corrupt)
	}
	return out, nil
}

// Clear removes every cache entry.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for e, err := range c.store.List(ctx, keyPrefix) {
		if err != nil {
			return fmt.Errorf("cache: clear: %w", err)
		}
		keys = append(keys, e.Key)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.store.BatchDelete(ctx, keys)
}

// Stats returns entry count and hit/miss counters.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	n := 0
	for _, err := range c.store.List(ctx, keyPrefix) {
		if err != nil {
			return Stats{}, fmt.Errorf("cache: stats: %w", err)
		}
		n++
	}
	return Stats{
		Entries: n,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Close stops the background sweeper. It does not close the underlying
// store, which the caller owns.
func (c *Cache) Close() {
	if c.sweepStop != nil {
		close(c.sweepStop)
		<-c.sweepDone
	}
}

// sweepLoop periodically purges expired entries until Close.
func (c *Cache) sweepLoop() {
	defer close(c.sweepDone)
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.sweepStop:
			return
		case <-ticker.C:
			c.sweep(context.Background())
		}
	}
}

// sweep deletes expired entries in one batch.
func (c *Cache) sweep(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, err := c.scan(ctx)
	if err != nil {
		log.Printf("cache: sweep: %v", err)
		return
	}
	now := c.now()
	var stale []string
	for _, e := range entries {
		if e.expired(now) {
			stale = append(stale, keyPrefix+e.Fingerprint)
		}
	}
	if len(stale) == 0 {
		return
	}
	if err := c.store.BatchDelete(ctx, stale); err != nil {
		log.Printf("cache: sweep: %v", err)
	}
}
