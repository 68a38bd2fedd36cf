// Package experience implements the bounded transition buffer the learning
// agent trains from.
package experience

import (
	"math/rand"
	"sync"
)

// DefaultCapacity is the buffer capacity used when none is configured.
const DefaultCapacity = 2000

// Experience is one reinforcement-learning transition.
type Experience struct {
	State     []float64
	Action    int
	Reward    float64
	NextState []float64
	Terminal  bool
}

// Store is a fixed-capacity FIFO buffer of experiences. Appends from many
// in-flight request completions and sampling by a single training step may
// run concurrently; each operation holds the lock only for a bounded copy.
type Store struct {
	mu       sync.Mutex
	buf      []Experience
	start    int // index of the oldest entry
	size     int
	capacity int
}

// NewStore creates a store with the given capacity. Non-positive capacities
// fall back to DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		buf:      make([]Experience, capacity),
		capacity: capacity,
	}
}

// Append adds an experience, evicting the oldest entry once full.
func (s *Store) Append(exp Experience) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.size < s.capacity {
		s.buf[(s.start+s.size)%s.capacity] = exp
		s.size++
		return
	}
	s.buf[s.start] = exp
	s.start = (s.start + 1) % s.capacity
}

// Len returns the number of stored experiences.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Capacity returns the configured capacity.
func (s *Store) Capacity() int { return s.capacity }

// Sample returns n experiences drawn uniformly at random with replacement.
// It returns nil when the store holds fewer than n entries.
func (s *Store) Sample(n int, rng *rand.Rand) []Experience {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || s.size < n {
		return nil
	}
	out := make([]Experience, n)
	for i := 0; i < n; i++ {
		out[i] = s.buf[(s.start+rng.Intn(s.size))%s.capacity]
	}
	return out
}

// Oldest returns up to n experiences starting from the oldest entry, in
// insertion order. Used by tests and diagnostics.
func (s *Store) Oldest(n int) []Experience {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.size {
		n = s.size
	}
	out := make([]Experience, n)
	for i := 0; i < n; i++ {
		out[i] = s.buf[(s.start+i)%s.capacity]
	}
	return out
}
