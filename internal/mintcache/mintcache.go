// Package mintcache tracks recently detected token mints so the pipeline
// can dedupe repeat sightings without round-tripping to the persistent
// store on every log event (spec 4.C), grounded on the teacher's
// mutex-guarded map idiom (internal/health.Checker) generalized to a
// first-write-wins TTL cache.
package mintcache

import (
	"sync"
	"time"
)

// Entry is a single cached mint sighting.
type Entry struct {
	Mint       string
	Source     string
	Signature  string
	DetectedAt time.Time
}

// Stats holds cumulative insert/lookup counters.
type Stats struct {
	InsertsBySource map[string]int
	Hits            int
	Misses          int
}

// HitRate returns hits / (hits + misses), or 0 when nothing has been
// looked up yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is a first-write-wins, TTL-expiring mint sighting table. Safe for
// concurrent use.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]Entry

	insertsBySource map[string]int
	hits            int
	misses          int

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a mint cache with the given TTL and starts its background
// 60s sweeper.
func New(ttl time.Duration) *Cache {
	c := &Cache{
		ttl:             ttl,
		entries:         make(map[string]Entry),
		insertsBySource: make(map[string]int),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Add inserts a mint sighting. First-write-wins: a mint already present is
// left untouched and the call is a no-op.
func (c *Cache) Add(mint, source, signature string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[mint]; exists {
		return
	}

	c.entries[mint] = Entry{
		Mint:       mint,
		Source:     source,
		Signature:  signature,
		DetectedAt: time.Now(),
	}
	c.insertsBySource[source]++
}

// Get returns the cached entry for mint if present and not yet expired.
func (c *Cache) Get(mint string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[mint]
	if !ok || time.Since(entry.DetectedAt) >= c.ttl {
		c.misses++
		return Entry{}, false
	}
	c.hits++
	return entry, true
}

// Stats returns a snapshot of cumulative counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	bySource := make(map[string]int, len(c.insertsBySource))
	for k, v := range c.insertsBySource {
		bySource[k] = v
	}
	return Stats{
		InsertsBySource: bySource,
		Hits:            c.hits,
		Misses:          c.misses,
	}
}

// Size returns the number of entries currently held, expired or not.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) sweepLoop() {
	defer close(c.doneCh)
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *Cache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for mint, entry := range c.entries {
		if now.Sub(entry.DetectedAt) >= c.ttl {
			delete(c.entries, mint)
		}
	}
}

// Stop halts the background sweeper for graceful shutdown.
func (c *Cache) Stop() {
	close(c.stopCh)
	<-c.doneCh
}
