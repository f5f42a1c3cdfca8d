// Package entropy provides the single seeded random sequence consumed by every
// stochastic draw in the simulation, plus deterministic id minting.
// All draws happen in a fixed engine order, so a pinned seed replays exactly.
package entropy

import (
	"math/rand"
)

// Source is the simulation's random sequence. It is not safe for concurrent
// use; the simulation core is single-threaded within a tick.
type Source struct {
	seed  int64
	rng   *rand.Rand
	draws uint64
}

// NewSource creates a sequence seeded with seed.
func NewSource(seed int64) *Source {
	return &Source{
		seed: seed,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// Seed returns the seed the sequence was created with.
func (s *Source) Seed() int64 {
	return s.seed
}

// Draws returns how many values have been consumed since construction or Reset.
func (s *Source) Draws() uint64 {
	return s.draws
}

// Reset rewinds the sequence to its seed.
func (s *Source) Reset() {
	s.rng = rand.New(rand.NewSource(s.seed))
	s.draws = 0
}

// Float returns a random float64 in [0, 1).
func (s *Source) Float() float64 {
	s.draws++
	return s.rng.Float64()
}

// Bernoulli returns true with probability p. p <= 0 never succeeds and
// consumes no value; p >= 1 always succeeds but still consumes one.
func (s *Source) Bernoulli(p float64) bool {
	if p <= 0 {
		return false
	}
	return s.Float() < p
}

// Range returns a uniform float in [lo, hi).
func (s *Source) Range(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + s.Float()*(hi-lo)
}

// Intn returns a uniform int in [0, n). n <= 0 returns 0.
func (s *Source) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	s.draws++
	return s.rng.Intn(n)
}

// IntRange returns a uniform int in [lo, hi].
func (s *Source) IntRange(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + s.Intn(hi-lo+1)
}

// Pick returns a uniformly chosen index weighted by weights. Non-positive
// weights are never chosen; -1 when no weight is positive.
func (s *Source) Pick(weights []float64) int {
	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return -1
	}
	target := s.Float() * total
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		target -= w
		if target < 0 {
			return i
		}
	}
	for i := len(weights) - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return i
		}
	}
	return -1
}
