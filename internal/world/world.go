// Package world holds the id-keyed tables of every simulated entity.
// Slices are kept sorted by id; all iteration goes through them.
package world

import (
	"sort"

	"github.com/talgya/crisis-world/internal/agents"
	"github.com/talgya/crisis-world/internal/economy"
	"github.com/talgya/crisis-world/internal/numeric"
	"github.com/talgya/crisis-world/internal/social"
)

// World is the single owner of agents, markets, banks, currencies, debt
// profiles, supply chains, factions and governments. Cross references
// between entities are id keys resolved through the lookup methods.
type World struct {
	Agents      []*agents.Agent
	Markets     []*economy.Market
	Banks       []*economy.Bank
	Currencies  []*economy.Currency
	Debts       []*economy.DebtProfile
	Chains      []*economy.SupplyChain
	Factions    []*social.Faction
	Governments []*social.Government

	PublicSupport float64
	Uncertainty   float64

	Conditions *Conditions

	agentIdx      map[agents.AgentID]*agents.Agent
	marketIdx     map[string]*economy.Market
	bankIdx       map[string]*economy.Bank
	currencyIdx   map[string]*economy.Currency
	debtIdx       map[string]*economy.DebtProfile
	chainIdx      map[string]*economy.SupplyChain
	factionIdx    map[string]*social.Faction
	governmentIdx map[string]*social.Government
}

// Index sorts every table by id and rebuilds the lookup maps.
// Call it after adding entities.
func (w *World) Index() {
	sort.Slice(w.Agents, func(i, j int) bool { return w.Agents[i].ID < w.Agents[j].ID })
	sort.Slice(w.Markets, func(i, j int) bool { return w.Markets[i].ID < w.Markets[j].ID })
	sort.Slice(w.Banks, func(i, j int) bool { return w.Banks[i].ID < w.Banks[j].ID })
	sort.Slice(w.Currencies, func(i, j int) bool { return w.Currencies[i].ID < w.Currencies[j].ID })
	sort.Slice(w.Debts, func(i, j int) bool { return w.Debts[i].ID < w.Debts[j].ID })
	sort.Slice(w.Chains, func(i, j int) bool { return w.Chains[i].ID < w.Chains[j].ID })
	sort.Slice(w.Factions, func(i, j int) bool { return w.Factions[i].ID < w.Factions[j].ID })
	sort.Slice(w.Governments, func(i, j int) bool { return w.Governments[i].ID < w.Governments[j].ID })

	w.agentIdx = make(map[agents.AgentID]*agents.Agent, len(w.Agents))
	for _, a := range w.Agents {
		w.agentIdx[a.ID] = a
	}
	w.marketIdx = make(map[string]*economy.Market, len(w.Markets))
	for _, m := range w.Markets {
		w.marketIdx[m.ID] = m
	}
	w.bankIdx = make(map[string]*economy.Bank, len(w.Banks))
	for _, b := range w.Banks {
		w.bankIdx[b.ID] = b
	}
	w.currencyIdx = make(map[string]*economy.Currency, len(w.Currencies))
	for _, c := range w.Currencies {
		w.currencyIdx[c.ID] = c
	}
	w.debtIdx = make(map[string]*economy.DebtProfile, len(w.Debts))
	for _, d := range w.Debts {
		w.debtIdx[d.ID] = d
	}
	w.chainIdx = make(map[string]*economy.SupplyChain, len(w.Chains))
	for _, c := range w.Chains {
		w.chainIdx[c.ID] = c
	}
	w.factionIdx = make(map[string]*social.Faction, len(w.Factions))
	for _, f := range w.Factions {
		w.factionIdx[f.ID] = f
	}
	w.governmentIdx = make(map[string]*social.Government, len(w.Governments))
	for _, g := range w.Governments {
		w.governmentIdx[g.ID] = g
	}
}

// Agent returns the agent with id, or nil.
func (w *World) Agent(id agents.AgentID) *agents.Agent { return w.agentIdx[id] }

// Market returns the market with id, or nil.
func (w *World) Market(id string) *economy.Market { return w.marketIdx[id] }

// Bank returns the bank with id, or nil.
func (w *World) Bank(id string) *economy.Bank { return w.bankIdx[id] }

// Currency returns the currency with id, or nil.
func (w *World) Currency(id string) *economy.Currency { return w.currencyIdx[id] }

// Debt returns the debt profile with id, or nil.
func (w *World) Debt(id string) *economy.DebtProfile { return w.debtIdx[id] }

// Chain returns the supply chain with id, or nil.
func (w *World) Chain(id string) *economy.SupplyChain { return w.chainIdx[id] }

// Faction returns the faction with id, or nil.
func (w *World) Faction(id string) *social.Faction { return w.factionIdx[id] }

// Government returns the government with id, or nil.
func (w *World) Government(id string) *social.Government { return w.governmentIdx[id] }

// ChainsConsuming returns the chains taking market as input, in id order.
func (w *World) ChainsConsuming(market string) []*economy.SupplyChain {
	var out []*economy.SupplyChain
	for _, c := range w.Chains {
		if c.Consumes(market) {
			out = append(out, c)
		}
	}
	return out
}

// ChainsProducing returns the chains outputting market, in id order.
func (w *World) ChainsProducing(market string) []*economy.SupplyChain {
	var out []*economy.SupplyChain
	for _, c := range w.Chains {
		if c.Produces(market) {
			out = append(out, c)
		}
	}
	return out
}

// MarketsOfKind returns the markets of kind, in id order.
func (w *World) MarketsOfKind(kind economy.MarketKind) []*economy.Market {
	var out []*economy.Market
	for _, m := range w.Markets {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// ActiveAgents returns the number of active agents.
func (w *World) ActiveAgents() int {
	n := 0
	for _, a := range w.Agents {
		if a.Active {
			n++
		}
	}
	return n
}

// MeanScarcity is the average scarcity across markets.
func (w *World) MeanScarcity() float64 {
	xs := make([]float64, len(w.Markets))
	for i, m := range w.Markets {
		xs[i] = m.Scarcity
	}
	return numeric.Mean(xs)
}

// MeanBankLiquidity is the average liquidity across banks that have not failed.
func (w *World) MeanBankLiquidity() float64 {
	var xs []float64
	for _, b := range w.Banks {
		if !b.Failed {
			xs = append(xs, b.Liquidity)
		}
	}
	if len(xs) == 0 {
		return 0
	}
	return numeric.Mean(xs)
}

// Repair restores every entity's invariants and returns the ids of the
// entities that needed it.
func (w *World) Repair() []string {
	var fixed []string
	for _, a := range w.Agents {
		if a.Repair() {
			fixed = append(fixed, "agent")
		}
	}
	for _, m := range w.Markets {
		if m.Repair() {
			fixed = append(fixed, m.ID)
		}
	}
	for _, b := range w.Banks {
		if b.Repair() {
			fixed = append(fixed, b.ID)
		}
	}
	for _, c := range w.Currencies {
		if c.Repair() {
			fixed = append(fixed, c.ID)
		}
	}
	for _, d := range w.Debts {
		if d.Repair() {
			fixed = append(fixed, d.ID)
		}
	}
	for _, c := range w.Chains {
		if c.Repair() {
			fixed = append(fixed, c.ID)
		}
	}
	for _, f := range w.Factions {
		if f.Repair() {
			fixed = append(fixed, f.ID)
		}
	}
	for _, g := range w.Governments {
		if g.Repair() {
			fixed = append(fixed, g.ID)
		}
	}
	for _, v := range []*float64{&w.PublicSupport, &w.Uncertainty} {
		if c := numeric.Clamp01(*v); c != *v {
			*v = c
			fixed = append(fixed, "world")
		}
	}
	return fixed
}
