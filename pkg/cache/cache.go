// Package cache maps normalized context fingerprints to previously
// collapsed decisions. Lookups try an exact match first, then a
// similarity-bucket match; TTLs stretch with the bucket's historical
// stability and the feedback loop invalidates buckets on quality
// regression. Cache trouble never blocks routing: every failure mode is a
// miss.
package cache

import (
	"container/list"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/zen-systems/quantumroute/pkg/quantum"
)

// Defaults for cache configuration.
const (
	DefaultCapacity  = 1024
	DefaultMinTTL    = 30 * time.Second
	DefaultMaxTTL    = 10 * time.Minute
	DefaultTolerance = 0.1
)

// stabilityAlpha is the EWMA weight of new quality observations.
const stabilityAlpha = 0.2

// Key identifies a cacheable routing context.
type Key struct {
	Exact      string
	Bucket     string
	TaskType   string
	Complexity float64
}

// Fingerprint builds the deterministic cache key for a normalized context.
// The exact fingerprint covers task type, complexity bucket, and the
// availability snapshot; the bucket key drops the complexity bucket so
// near-miss lookups within the similarity tolerance can still land.
func Fingerprint(taskType string, complexity float64, availability map[string]bool) Key {
	avail := make([]string, 0, len(availability))
	for provider, up := range availability {
		if up {
			avail = append(avail, provider)
		}
	}
	sort.Strings(avail)

	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%v", taskType, avail)
	bucket := fmt.Sprintf("%s-%x", taskType, h.Sum64())

	he := fnv.New64a()
	fmt.Fprintf(he, "%s|%.1f|%v", taskType, complexityBucket(complexity), avail)

	return Key{
		Exact:      fmt.Sprintf("%x", he.Sum64()),
		Bucket:     bucket,
		TaskType:   taskType,
		Complexity: complexity,
	}
}

func complexityBucket(c float64) float64 {
	return math.Floor(c*10) / 10
}

// Entry is one cached decision with its lifecycle metadata.
type Entry struct {
	Fingerprint    string
	Bucket         string
	Complexity     float64
	Decision       *quantum.Decision
	CreatedAt      time.Time
	TTL            time.Duration
	HitCount       int64
	StabilityScore float64
}

func (e *Entry) expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(e.TTL))
}

// Config holds cache tuning parameters.
type Config struct {
	Capacity  int
	MinTTL    time.Duration
	MaxTTL    time.Duration
	Tolerance float64
}

func (c *Config) applyDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.MinTTL <= 0 {
		c.MinTTL = DefaultMinTTL
	}
	if c.MaxTTL < c.MinTTL {
		c.MaxTTL = DefaultMaxTTL
	}
	if c.MaxTTL < c.MinTTL {
		c.MaxTTL = c.MinTTL
	}
	if c.Tolerance <= 0 {
		c.Tolerance = DefaultTolerance
	}
}

// Cache is the in-process decision cache. Read-mostly: many concurrent
// lookups against occasional inserts and invalidations.
type Cache struct {
	mu        sync.Mutex
	cfg       Config
	entries   map[string]*list.Element // exact fingerprint -> LRU element
	order     *list.List               // front = most recently used
	buckets   map[string]map[string]struct{}
	stability map[string]float64
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a cache.
func New(cfg Config, logger *slog.Logger) *Cache {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		cfg:       cfg,
		entries:   make(map[string]*list.Element),
		order:     list.New(),
		buckets:   make(map[string]map[string]struct{}),
		stability: make(map[string]float64),
		logger:    logger,
		now:       time.Now,
	}
}

// Lookup returns the cached decision for a key: exact match first, then the
// closest same-bucket entry within the similarity tolerance. Expired
// entries are dropped and never returned.
func (c *Cache) Lookup(key Key) (*quantum.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if el, ok := c.entries[key.Exact]; ok {
		entry := el.Value.(*Entry)
		if entry.expired(now) {
			c.removeLocked(el)
		} else {
			entry.HitCount++
			c.order.MoveToFront(el)
			return entry.Decision, true
		}
	}

	// Similarity match within the bucket.
	var bestEl *list.Element
	bestDist := c.cfg.Tolerance
	for fp := range c.buckets[key.Bucket] {
		el, ok := c.entries[fp]
		if !ok {
			continue
		}
		entry := el.Value.(*Entry)
		if entry.expired(now) {
			c.removeLocked(el)
			continue
		}
		dist := math.Abs(entry.Complexity - key.Complexity)
		if dist <= bestDist {
			bestDist = dist
			bestEl = el
		}
	}
	if bestEl != nil {
		entry := bestEl.Value.(*Entry)
		entry.HitCount++
		c.order.MoveToFront(bestEl)
		return entry.Decision, true
	}

	return nil, false
}

// Insert stores a decision under the key. TTL scales with the bucket's
// stability score; entries beyond capacity evict in LRU order.
func (c *Cache) Insert(key Key, decision *quantum.Decision) {
	if decision == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key.Exact]; ok {
		c.removeLocked(el)
	}

	stability := c.stability[key.Bucket]
	entry := &Entry{
		Fingerprint:    key.Exact,
		Bucket:         key.Bucket,
		Complexity:     key.Complexity,
		Decision:       decision,
		CreatedAt:      c.now(),
		TTL:            c.ttlFor(stability),
		StabilityScore: stability,
	}

	el := c.order.PushFront(entry)
	c.entries[key.Exact] = el
	if c.buckets[key.Bucket] == nil {
		c.buckets[key.Bucket] = make(map[string]struct{})
	}
	c.buckets[key.Bucket][key.Exact] = struct{}{}

	for len(c.entries) > c.cfg.Capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}
}

// Invalidate drops every entry in a similarity bucket and resets its
// stability. Invoked by the feedback loop on quality regression;
// last-invalidate-wins is acceptable since decisions are idempotent to
// recompute.
func (c *Cache) Invalidate(bucket string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for fp := range c.buckets[bucket] {
		if el, ok := c.entries[fp]; ok {
			c.removeLocked(el)
		}
	}
	delete(c.buckets, bucket)
	c.stability[bucket] = 0
	c.logger.Debug("cache bucket invalidated", "bucket", bucket)
}

// RecordQuality folds a post-hoc quality observation into the bucket's
// stability score, which drives the TTL of future inserts.
func (c *Cache) RecordQuality(bucket string, quality float64) {
	if quality < 0 {
		quality = 0
	}
	if quality > 1 {
		quality = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.stability[bucket]
	c.stability[bucket] = (1-stabilityAlpha)*prev + stabilityAlpha*quality
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) ttlFor(stability float64) time.Duration {
	span := float64(c.cfg.MaxTTL - c.cfg.MinTTL)
	return c.cfg.MinTTL + time.Duration(stability*span)
}

func (c *Cache) removeLocked(el *list.Element) {
	entry := el.Value.(*Entry)
	c.order.Remove(el)
	delete(c.entries, entry.Fingerprint)
	if set, ok := c.buckets[entry.Bucket]; ok {
		delete(set, entry.Fingerprint)
		if len(set) == 0 {
			delete(c.buckets, entry.Bucket)
		}
	}
}
