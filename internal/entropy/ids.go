package entropy

import (
	"fmt"

	"github.com/google/uuid"
)

// Namespace roots every id minted by a simulation run.
var Namespace = uuid.MustParse("6f1c9a52-3b0e-4d8e-9c21-5a7f0e4b2d13")

// IDMinter produces deterministic UUIDs from a seed and per-kind counters.
// Ids never consume the random sequence, so adding an id does not shift draws.
type IDMinter struct {
	root     uuid.UUID
	counters map[string]uint64
}

// NewIDMinter creates a minter whose ids are unique per seed.
func NewIDMinter(seed int64) *IDMinter {
	return &IDMinter{
		root:     uuid.NewSHA1(Namespace, []byte(fmt.Sprintf("seed:%d", seed))),
		counters: make(map[string]uint64),
	}
}

// Next returns the next id for kind, e.g. "evt", "crisis", "alert".
func (m *IDMinter) Next(kind string) string {
	m.counters[kind]++
	name := fmt.Sprintf("%s:%d", kind, m.counters[kind])
	return uuid.NewSHA1(m.root, []byte(name)).String()
}

// Count returns how many ids of kind have been minted.
func (m *IDMinter) Count(kind string) uint64 {
	return m.counters[kind]
}

// Reset clears all counters.
func (m *IDMinter) Reset() {
	m.counters = make(map[string]uint64)
}
