package economy

import "github.com/talgya/crisis-world/internal/numeric"

// SupplyChain converts input markets into output markets. InputChains are
// upstream chains whose efficiency gates this one.
type SupplyChain struct {
	ID             string   `json:"id"`
	Inputs         []string `json:"inputs"`
	InputChains    []string `json:"input_chains,omitempty"`
	Outputs        []string `json:"outputs"`
	BaseEfficiency float64  `json:"base_efficiency"`
	Efficiency     float64  `json:"efficiency"`
	Disruption     float64  `json:"disruption"`
}

// Consumes reports whether the chain takes market as an input.
func (c *SupplyChain) Consumes(market string) bool {
	return contains(c.Inputs, market)
}

// Produces reports whether the chain outputs market.
func (c *SupplyChain) Produces(market string) bool {
	return contains(c.Outputs, market)
}

// Repair clamps efficiency and disruption.
func (c *SupplyChain) Repair() bool {
	changed := false
	for _, v := range []*float64{&c.Efficiency, &c.Disruption} {
		if x := numeric.Clamp01(*v); x != *v {
			*v = x
			changed = true
		}
	}
	return changed
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
