package engine

import (
	"github.com/talgya/crisis-world/internal/numeric"
)

// CrisisKind tags an active crisis.
type CrisisKind string

const (
	CrisisBubble      CrisisKind = "bubble"
	CrisisBankRun     CrisisKind = "bank_run"
	CrisisSupplyShock CrisisKind = "supply_shock"
	CrisisCurrency    CrisisKind = "currency"
	CrisisDebt        CrisisKind = "debt"
	CrisisWarfare     CrisisKind = "warfare"
)

// Phase orders per crisis kind. Phases only move forward.
var phaseOrder = map[CrisisKind][]string{
	CrisisBubble:      {"formation", "expansion", "euphoria", "instability"},
	CrisisBankRun:     {"initial", "acceleration", "peak", "resolution"},
	CrisisSupplyShock: {"initial", "escalation", "peak", "recovery"},
	CrisisCurrency:    {"initial", "escalation", "peak", "recovery"},
	CrisisDebt:        {"initial", "escalation", "peak", "recovery"},
	CrisisWarfare:     {"initial", "escalation", "peak", "recovery"},
}

// phaseMultipliers scale per-tick effects for the four-phase shape shared
// by supply, currency, debt and warfare crises.
var phaseMultipliers = map[string]float64{
	"initial":    0.5,
	"escalation": 1.0,
	"peak":       1.2,
	"recovery":   0.3,
}

// Crisis is the common record of an active crisis event.
type Crisis struct {
	ID              string     `json:"id"`
	Kind            CrisisKind `json:"kind"`
	Subtype         string     `json:"subtype,omitempty"`
	Target          string     `json:"target"`
	Intensity       float64    `json:"intensity"`
	Phase           string     `json:"phase"`
	Duration        int        `json:"duration"`
	PlannedDuration int        `json:"planned_duration,omitempty"`
	StartTick       uint64     `json:"start_tick"`
}

func newCrisis(id string, kind CrisisKind, subtype, target string, intensity float64, planned int, tick uint64) Crisis {
	return Crisis{
		ID:              id,
		Kind:            kind,
		Subtype:         subtype,
		Target:          target,
		Intensity:       numeric.Clamp01(intensity),
		Phase:           phaseOrder[kind][0],
		PlannedDuration: planned,
		StartTick:       tick,
	}
}

func phaseRank(kind CrisisKind, phase string) int {
	for i, p := range phaseOrder[kind] {
		if p == phase {
			return i
		}
	}
	return -1
}

// advance moves to phase if it is later than the current one and reports
// whether the phase changed.
func (c *Crisis) advance(phase string) bool {
	if phaseRank(c.Kind, phase) <= phaseRank(c.Kind, c.Phase) {
		return false
	}
	c.Phase = phase
	return true
}

// fractionPhase maps progress through the planned duration onto the
// four-phase shape.
func fractionPhase(kind CrisisKind, ticks, planned int) string {
	order := phaseOrder[kind]
	if planned <= 0 {
		return order[len(order)-1]
	}
	f := float64(ticks) / float64(planned)
	switch {
	case f < 0.2:
		return order[0]
	case f < 0.5:
		return order[1]
	case f < 0.8:
		return order[2]
	default:
		return order[3]
	}
}

// setIntensity clamps intensity into [0,1].
func (c *Crisis) setIntensity(x float64) {
	c.Intensity = numeric.Clamp01(x)
}
