// Package agents provides the economic agent model and its psychology vector.
package agents

import (
	"github.com/shopspring/decimal"

	"github.com/talgya/crisis-world/internal/numeric"
)

// AgentID is a unique identifier for an agent.
type AgentID uint64

// Agent is an economic actor: a depositor, a trader, a potential hoarder.
type Agent struct {
	ID     AgentID `json:"id"`
	Active bool    `json:"active"`

	// Economic
	Wealth        decimal.Decimal `json:"wealth"`
	Leverage      float64         `json:"leverage"` // >= 1
	PreferredBank string          `json:"preferred_bank,omitempty"`

	// Markets the agent currently trades in.
	PendingActions []string `json:"pending_actions,omitempty"`

	Psychology Psychology `json:"psychology"`
}

// Psychology is the per-agent behavioral state. Every field is in [0,1]
// except RiskTolerance, which is on a 0–100 scale.
type Psychology struct {
	Fear                float64 `json:"fear"`
	Greed               float64 `json:"greed"`
	Confidence          float64 `json:"confidence"`
	RiskTolerance       float64 `json:"risk_tolerance"` // 0–100
	PanicSusceptibility float64 `json:"panic_susceptibility"`
	MemoryRetention     float64 `json:"memory_retention"`
	Experience          float64 `json:"experience"`
	HerdingSensitivity  float64 `json:"herding_sensitivity"`
	Sentiment           float64 `json:"sentiment"`
}

// RiskAversion is the complement of risk tolerance on a [0,1] scale.
func (p Psychology) RiskAversion() float64 {
	return 1 - numeric.Clamp(p.RiskTolerance, 0, 100)/100
}

// TradesIn reports whether the agent acts in the given market.
func (a *Agent) TradesIn(marketID string) bool {
	for _, m := range a.PendingActions {
		if m == marketID {
			return true
		}
	}
	return false
}

// Credit adds a non-negative amount to the agent's wealth.
func (a *Agent) Credit(amount decimal.Decimal) {
	if amount.IsPositive() {
		a.Wealth = a.Wealth.Add(amount)
	}
}

// Debit removes up to amount from wealth and returns what was actually taken.
func (a *Agent) Debit(amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	taken := numeric.MinMoney(amount, a.Wealth)
	a.Wealth = a.Wealth.Sub(taken)
	return taken
}

// ScaleWealth multiplies wealth by f, flooring at zero.
func (a *Agent) ScaleWealth(f float64) {
	a.Wealth = numeric.NonNegative(numeric.Scale(a.Wealth, f))
}

// Repair clamps every field into its declared range and reports whether
// anything had to change.
func (a *Agent) Repair() bool {
	changed := false
	fix := func(v *float64, lo, hi float64) {
		c := numeric.Clamp(*v, lo, hi)
		if c != *v {
			*v = c
			changed = true
		}
	}
	p := &a.Psychology
	fix(&p.Fear, 0, 1)
	fix(&p.Greed, 0, 1)
	fix(&p.Confidence, 0, 1)
	fix(&p.RiskTolerance, 0, 100)
	fix(&p.PanicSusceptibility, 0, 1)
	fix(&p.MemoryRetention, 0, 1)
	fix(&p.Experience, 0, 1)
	fix(&p.HerdingSensitivity, 0, 1)
	fix(&p.Sentiment, 0, 1)
	if a.Leverage < 1 || a.Leverage != a.Leverage {
		a.Leverage = 1
		changed = true
	}
	if a.Wealth.IsNegative() {
		a.Wealth = decimal.Zero
		changed = true
	}
	return changed
}
