package social

import (
	"github.com/shopspring/decimal"

	"github.com/talgya/crisis-world/internal/numeric"
)

// GovernmentType categorizes a policy-making body.
type GovernmentType string

const (
	GovCentralBank   GovernmentType = "central_bank"
	GovTreasury      GovernmentType = "treasury"
	GovRegulator     GovernmentType = "regulator"
	GovInternational GovernmentType = "international"
)

// Government is an institution able to launch interventions.
type Government struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Type              GovernmentType  `json:"type"`
	Capacity          decimal.Decimal `json:"capacity"`
	AvailableCapacity decimal.Decimal `json:"available_capacity"`
	PoliticalWill     float64         `json:"political_will"`
	Credibility       float64         `json:"credibility"`
	Fatigue           float64         `json:"fatigue"`
	Speed             float64         `json:"speed"`

	// Policy tools (tool name → effectiveness).
	Tools map[string]float64 `json:"tools"`
}

// CapacityRatio is available over total capacity.
func (g *Government) CapacityRatio() float64 {
	return numeric.Clamp01(numeric.Ratio(g.AvailableCapacity, g.Capacity))
}

// Tool returns the tool's effectiveness and whether the government has it.
func (g *Government) Tool(name string) (float64, bool) {
	eff, ok := g.Tools[name]
	return eff, ok
}

// Spend debits cost from available capacity, flooring at zero.
func (g *Government) Spend(cost decimal.Decimal) {
	g.AvailableCapacity = numeric.NonNegative(g.AvailableCapacity.Sub(cost))
}

// Repair clamps the government's levels.
func (g *Government) Repair() bool {
	changed := false
	for _, v := range []*float64{&g.PoliticalWill, &g.Credibility, &g.Fatigue, &g.Speed} {
		if x := numeric.Clamp01(*v); x != *v {
			*v = x
			changed = true
		}
	}
	if g.AvailableCapacity.IsNegative() {
		g.AvailableCapacity = decimal.Zero
		changed = true
	}
	return changed
}
