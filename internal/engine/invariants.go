package engine

import (
	"math"

	"github.com/talgya/crisis-world/internal/numeric"
)

// repairInvariants clamps every level back into range after a tick and
// surfaces repairs as an invariant_clamped event and alert.
func (s *Simulation) repairInvariants() {
	fixed := s.world.Repair()
	fixed = append(fixed, s.repairCrises()...)
	if len(fixed) == 0 {
		return
	}
	s.emit(Event{
		Kind:        EventInvariantClamped,
		Category:    "core",
		Description: "values clamped back into range",
		Meta:        map[string]any{"count": len(fixed), "entities": fixed},
	})
	s.log.Warn("invariants repaired", "tick", s.tick, "count", len(fixed))
	if s.indicators != nil {
		s.indicators.invariantAlert(fixed)
	}
}

func (s *Simulation) repairCrises() []string {
	var fixed []string
	repair := func(c *Crisis) {
		x := c.Intensity
		if math.IsNaN(x) {
			x = 0
		}
		if y := numeric.Clamp01(x); y != c.Intensity {
			c.Intensity = y
			fixed = append(fixed, c.ID)
		}
	}
	if s.bankRun != nil {
		for _, id := range sortedKeys(s.bankRun.runs) {
			repair(s.bankRun.runs[id])
		}
	}
	if s.bubble != nil {
		for _, id := range sortedKeys(s.bubble.bubbles) {
			repair(&s.bubble.bubbles[id].Crisis)
		}
	}
	if s.supply != nil {
		for _, id := range sortedKeys(s.supply.shocks) {
			repair(&s.supply.shocks[id].Crisis)
		}
	}
	if s.currency != nil {
		for _, id := range sortedKeys(s.currency.crises) {
			repair(s.currency.crises[id])
		}
	}
	if s.debt != nil {
		for _, id := range sortedKeys(s.debt.crises) {
			repair(&s.debt.crises[id].Crisis)
		}
	}
	if s.warfare != nil {
		for _, id := range sortedKeys(s.warfare.wars) {
			repair(&s.warfare.wars[id].Crisis)
		}
	}
	return fixed
}
