// Package seeded provides the only randomness a captured target may see: a
// linear-congruential generator with a fixed seed, available both as a Go
// value (for in-process targets) and as a JavaScript init script that
// replaces Math.random in a page before any application code runs.
package seeded

import (
	"fmt"
	"sync"
)

// DefaultSeed is used on every run so captures are bit-reproducible.
const DefaultSeed uint32 = 123456789

const (
	multiplier uint32 = 1664525
	increment  uint32 = 1013904223
)

// Source is a seeded LCG. Each pipeline constructs its own Source; there is
// no package-level generator.
type Source struct {
	mu    sync.Mutex
	seed  uint32
	state uint32
}

// New returns a Source starting at seed.
func New(seed uint32) *Source {
	return &Source{seed: seed, state: seed}
}

// Uint32 advances the generator and returns the new state.
// Arithmetic wraps mod 2^32, matching `(seed * a + c) >>> 0` in JavaScript.
func (s *Source) Uint32() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.state*multiplier + increment
	return s.state
}

// Float64 returns a value in [0, 1), state / 2^32.
func (s *Source) Float64() float64 {
	return float64(s.Uint32()) / 4294967296
}

// Range returns a value in [min, max).
func (s *Source) Range(min, max float64) float64 {
	return s.Float64()*(max-min) + min
}

// Reset rewinds the Source to its seed.
func (s *Source) Reset() {
	s.mu.Lock()
	s.state = s.seed
	s.mu.Unlock()
}

// Script returns JavaScript that installs this generator as Math.random.
// The script captures the seed, not the current state, so every document
// load starts the same sequence.
func (s *Source) Script() string {
	return fmt.Sprintf(`(() => {
  let seed = %d;
  Math.random = () => {
    seed = (seed * %d + %d) >>> 0;
    return seed / 4294967296;
  };
})();`, s.seed, multiplier, increment)
}
