package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/zen-systems/quantumroute/pkg/quantum"
	"github.com/zen-systems/quantumroute/pkg/strategy"
)

func testAvailability() map[string]bool {
	return map[string]bool{"anthropic": true, "openai": true, "google": true, "deepseek": true}
}

func testDecision(provider string) *quantum.Decision {
	return &quantum.Decision{
		Provider:     provider,
		Model:        "model-x",
		Confidence:   0.85,
		StrategyUsed: strategy.Balanced,
		Phase:        quantum.PhaseCollapsed,
	}
}

// fakeClock lets tests advance cache time without sleeping.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time { return f.t }

func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(cfg Config) (*Cache, *fakeClock) {
	c := New(cfg, nil)
	clock := &fakeClock{t: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
	c.now = clock.now
	return c, clock
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("code", 0.42, testAvailability())
	b := Fingerprint("code", 0.42, testAvailability())
	if a.Exact != b.Exact || a.Bucket != b.Bucket {
		t.Fatalf("fingerprint not deterministic: %+v vs %+v", a, b)
	}

	down := testAvailability()
	down["anthropic"] = false
	c := Fingerprint("code", 0.42, down)
	if c.Exact == a.Exact {
		t.Fatalf("availability change must alter the fingerprint")
	}
}

func TestLookupHitUntilTTLExpires(t *testing.T) {
	c, clock := newTestCache(Config{MinTTL: time.Minute, MaxTTL: time.Minute})
	key := Fingerprint("code", 0.42, testAvailability())
	c.Insert(key, testDecision("anthropic"))

	got, ok := c.Lookup(key)
	if !ok || got.Provider != "anthropic" {
		t.Fatalf("expected exact hit, got ok=%v decision=%+v", ok, got)
	}

	clock.advance(2 * time.Minute)
	if _, ok := c.Lookup(key); ok {
		t.Fatalf("expected miss after TTL expiry")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be pruned, len=%d", c.Len())
	}
}

func TestSimilarityBucketHit(t *testing.T) {
	c, _ := newTestCache(Config{})
	stored := Fingerprint("code", 0.48, testAvailability())
	c.Insert(stored, testDecision("openai"))

	// Different complexity bucket, within the similarity tolerance.
	probe := Fingerprint("code", 0.52, testAvailability())
	if probe.Exact == stored.Exact {
		t.Fatalf("test setup: probe must not match exactly")
	}
	got, ok := c.Lookup(probe)
	if !ok || got.Provider != "openai" {
		t.Fatalf("expected similarity hit, got ok=%v", ok)
	}

	// Outside tolerance: miss.
	far := Fingerprint("code", 0.9, testAvailability())
	if _, ok := c.Lookup(far); ok {
		t.Fatalf("expected miss outside similarity tolerance")
	}
}

func TestLRUEvictionAtCapacity(t *testing.T) {
	c, _ := newTestCache(Config{Capacity: 2})

	keys := make([]Key, 3)
	for i := range keys {
		keys[i] = Fingerprint(fmt.Sprintf("task-%d", i), 0.5, testAvailability())
		c.Insert(keys[i], testDecision("anthropic"))
	}

	if c.Len() != 2 {
		t.Fatalf("expected capacity cap at 2, len=%d", c.Len())
	}
	if _, ok := c.Lookup(keys[0]); ok {
		t.Fatalf("oldest entry should have been evicted")
	}
	if _, ok := c.Lookup(keys[2]); !ok {
		t.Fatalf("newest entry should survive")
	}
}

func TestInvalidateDropsBucket(t *testing.T) {
	// Scenario: low-quality feedback invalidates the similarity bucket.
	c, _ := newTestCache(Config{})
	key := Fingerprint("code", 0.42, testAvailability())
	c.Insert(key, testDecision("anthropic"))

	other := Fingerprint("reasoning", 0.42, testAvailability())
	c.Insert(other, testDecision("openai"))

	c.RecordQuality(key.Bucket, 0.1)
	c.Invalidate(key.Bucket)

	if _, ok := c.Lookup(key); ok {
		t.Fatalf("invalidated bucket must miss")
	}
	if _, ok := c.Lookup(other); !ok {
		t.Fatalf("unrelated bucket must survive invalidation")
	}
}

func TestStabilityStretchesTTL(t *testing.T) {
	c, clock := newTestCache(Config{MinTTL: time.Minute, MaxTTL: 11 * time.Minute})
	key := Fingerprint("code", 0.42, testAvailability())

	// Drive the bucket's stability up with consistent good outcomes.
	for i := 0; i < 50; i++ {
		c.RecordQuality(key.Bucket, 1.0)
	}
	c.Insert(key, testDecision("anthropic"))

	clock.advance(5 * time.Minute)
	if _, ok := c.Lookup(key); !ok {
		t.Fatalf("stable bucket should outlive the minimum TTL")
	}

	fresh, _ := newTestCache(Config{MinTTL: time.Minute, MaxTTL: 11 * time.Minute})
	fresh.Insert(key, testDecision("anthropic"))
	el, ok := fresh.entries[key.Exact]
	if !ok {
		t.Fatalf("entry missing after insert")
	}
	if ttl := el.Value.(*Entry).TTL; ttl != time.Minute {
		t.Fatalf("zero-stability bucket should get the minimum TTL, got %v", ttl)
	}
}

func TestNilDecisionIgnored(t *testing.T) {
	c, _ := newTestCache(Config{})
	c.Insert(Fingerprint("code", 0.5, testAvailability()), nil)
	if c.Len() != 0 {
		t.Fatalf("nil decision must not be cached")
	}
}
