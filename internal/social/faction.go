// Factions are economic blocs whose trade relationships the warfare engine strains.
package social

import (
	"sort"

	"github.com/talgya/crisis-world/internal/numeric"
)

// Relationship is one faction's view of another.
type Relationship struct {
	Trust           float64 `json:"trust"`
	TradeVolume     float64 `json:"trade_volume"`
	BaseTradeVolume float64 `json:"base_trade_volume"`
	Tension         float64 `json:"tension"`
}

// Faction represents an economic bloc.
type Faction struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Resources        float64 `json:"resources"`
	Reputation       float64 `json:"reputation"`
	PoliticalWill    float64 `json:"political_will"`
	PublicSupport    float64 `json:"public_support"`
	WarExhaustion    float64 `json:"war_exhaustion"`
	EconomicStrength float64 `json:"economic_strength"`

	// Relationships with other factions (faction ID → relationship).
	Relationships map[string]*Relationship `json:"relationships"`
}

// NewFaction creates a faction with neutral standing.
func NewFaction(id, name string, resources, strength float64) *Faction {
	return &Faction{
		ID:               id,
		Name:             name,
		Resources:        numeric.Clamp01(resources),
		Reputation:       0.5,
		PoliticalWill:    0.6,
		PublicSupport:    0.6,
		EconomicStrength: numeric.Clamp01(strength),
		Relationships:    make(map[string]*Relationship),
	}
}

// Relate records a symmetric starting relationship between a and b.
func Relate(a, b *Faction, trust, trade float64) {
	a.Relationships[b.ID] = &Relationship{Trust: trust, TradeVolume: trade, BaseTradeVolume: trade}
	b.Relationships[a.ID] = &Relationship{Trust: trust, TradeVolume: trade, BaseTradeVolume: trade}
}

// Relation returns the relationship toward other, or nil.
func (f *Faction) Relation(other string) *Relationship {
	return f.Relationships[other]
}

// Partners returns the ids of related factions in ascending order.
func (f *Faction) Partners() []string {
	ids := make([]string, 0, len(f.Relationships))
	for id := range f.Relationships {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Repair clamps the faction's levels.
func (f *Faction) Repair() bool {
	changed := false
	fix := func(v *float64) {
		if x := numeric.Clamp01(*v); x != *v {
			*v = x
			changed = true
		}
	}
	fix(&f.Resources)
	fix(&f.Reputation)
	fix(&f.PoliticalWill)
	fix(&f.PublicSupport)
	fix(&f.WarExhaustion)
	fix(&f.EconomicStrength)
	for _, id := range f.Partners() {
		r := f.Relationships[id]
		fix(&r.Trust)
		fix(&r.Tension)
		if r.TradeVolume < 0 {
			r.TradeVolume = 0
			changed = true
		}
	}
	return changed
}
