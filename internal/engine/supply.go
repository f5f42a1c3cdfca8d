package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/talgya/crisis-world/internal/agents"
	"github.com/talgya/crisis-world/internal/economy"
	"github.com/talgya/crisis-world/internal/numeric"
)

// Supply-shock kinds.
const (
	ShockResourceShortage    = "resource_shortage"
	ShockProductionHalt      = "production_halt"
	ShockLogisticsDisruption = "logistics_disruption"
	ShockTradeEmbargo        = "trade_embargo"
	ShockNaturalDisaster     = "natural_disaster"
)

type shockType struct {
	minIntensity, maxIntensity float64
	minDuration, maxDuration   int
	recovery                   float64
	cascadeChance              float64
}

var shockTypes = map[string]shockType{
	ShockResourceShortage:    {0.3, 0.7, 20, 40, 0.05, 0.3},
	ShockProductionHalt:      {0.4, 0.8, 10, 25, 0.08, 0.4},
	ShockLogisticsDisruption: {0.2, 0.6, 15, 30, 0.10, 0.35},
	ShockTradeEmbargo:        {0.5, 0.9, 30, 60, 0.03, 0.5},
	ShockNaturalDisaster:     {0.6, 1.0, 5, 20, 0.04, 0.6},
}

// shockKinds lists the kinds in sorted order for uniform draws.
var shockKinds = []string{
	ShockLogisticsDisruption,
	ShockNaturalDisaster,
	ShockProductionHalt,
	ShockResourceShortage,
	ShockTradeEmbargo,
}

type shock struct {
	Crisis
	level    int
	parent   string
	cascaded bool
}

type hoard struct {
	stock map[agents.AgentID]float64
	total float64
}

func (h *hoard) hoarders() []agents.AgentID {
	ids := make([]agents.AgentID, 0, len(h.stock))
	for id := range h.stock {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ShockStatus describes one active supply shock.
type ShockStatus struct {
	Market       string  `json:"market"`
	Kind         string  `json:"kind"`
	Phase        string  `json:"phase"`
	Intensity    float64 `json:"intensity"`
	CascadeLevel int     `json:"cascade_level"`
}

// SupplySummary is the supply-shock engine's snapshot summary.
type SupplySummary struct {
	Active     []ShockStatus      `json:"active"`
	Hoarded    map[string]float64 `json:"hoarded"`
	Efficiency map[string]float64 `json:"chain_efficiency"`
	Triggered  int                `json:"triggered"`
	Secondary  int                `json:"secondary"`
}

type supplyEngine struct {
	s          *Simulation
	p          SupplyParams
	shocks     map[string]*shock
	hoards     map[string]*hoard
	trend      map[string]float64
	recovering map[string]float64
	triggered  int
	secondary  int
}

func newSupplyEngine(s *Simulation) *supplyEngine {
	e := &supplyEngine{
		s:          s,
		p:          s.params.Supply,
		shocks:     make(map[string]*shock),
		hoards:     make(map[string]*hoard),
		trend:      make(map[string]float64),
		recovering: make(map[string]float64),
	}
	s.register(CommandForceSupplyShock, e.forceShock)
	s.cascadeHandlers[CascadeSupplyShock] = e.cascade
	return e
}

func (e *supplyEngine) step() {
	e.propagateChains()
	g := e.s.psych.State()
	for _, m := range e.s.world.Markets {
		gap := numeric.Clamp01((m.Demand - m.Supply) / m.Demand)
		old := m.Scarcity
		m.Scarcity = numeric.Clamp01(m.Scarcity + e.p.ScarcityRate*(gap-m.Scarcity))
		e.trend[m.ID] = m.Scarcity - old
		e.hoarding(m, g)
		if e.shocks[m.ID] == nil {
			e.recover(m)
			e.detect(m)
		}
	}
	e.progress()
}

// propagateChains recomputes every chain's efficiency from the previous
// tick's upstream efficiencies.
func (e *supplyEngine) propagateChains() {
	w := e.s.world
	prev := make(map[string]float64, len(w.Chains))
	for _, c := range w.Chains {
		prev[c.ID] = c.Efficiency
	}
	for _, c := range w.Chains {
		target := c.BaseEfficiency
		for _, id := range c.InputChains {
			eff, ok := prev[id]
			if !ok {
				e.s.lookupMiss(SubsystemSupplyShock, "chain", id)
				continue
			}
			target *= eff
		}
		for _, id := range c.Inputs {
			m := w.Market(id)
			if m == nil {
				e.s.lookupMiss(SubsystemSupplyShock, "market", id)
				continue
			}
			target *= min(1, m.SupplyRatio())
		}
		c.Efficiency = numeric.Clamp01(target * (1 - c.Disruption))
		c.Disruption = max(0, c.Disruption-e.p.DisruptionRecover)
	}
}

func (e *supplyEngine) hoarding(m *economy.Market, g PsychologyState) {
	h := e.hoards[m.ID]
	if m.Scarcity > 0.4 || g.Fear > e.p.HoardFearLevel || m.Volatility > 0.5 {
		if h == nil {
			h = &hoard{stock: make(map[agents.AgentID]float64)}
			e.hoards[m.ID] = h
		}
		started := len(h.stock) == 0
		for _, a := range e.s.world.Agents {
			if !a.Active || !a.TradesIn(m.ID) {
				continue
			}
			if _, ok := h.stock[a.ID]; ok {
				continue
			}
			p := a.Psychology
			chance := 0.02 * (p.Fear + p.RiskAversion()) / 2 * (m.Scarcity + 0.5)
			if !e.s.rng.Bernoulli(chance) {
				continue
			}
			amt := 0.001 * m.Supply
			m.Supply -= amt
			m.Demand += amt / 2
			m.ScalePrice(1.001)
			h.stock[a.ID] = amt
			h.total += amt
		}
		if started && len(h.stock) > 0 {
			e.s.emit(Event{
				Kind:        EventHoarding,
				Category:    SubsystemSupplyShock,
				Target:      m.ID,
				Description: fmt.Sprintf("hoarding started in %s", m.ID),
				Meta:        map[string]any{"hoarders": len(h.stock), "scarcity": m.Scarcity},
			})
		}
		return
	}
	if h == nil || m.Scarcity >= 0.2 || g.Fear >= 0.4 {
		return
	}
	for _, id := range h.hoarders() {
		back := h.stock[id] * 0.1
		h.stock[id] -= back
		h.total -= back
		m.Supply += back
	}
	if h.total < 1e-6 {
		delete(e.hoards, m.ID)
	}
}

// recoveredWithin is the distance from baseline, as a share of it, at which
// a market stops using its shock's recovery rate.
const recoveredWithin = 0.01

// recover moves supply toward its chain-adjusted base and demand toward base.
func (e *supplyEngine) recover(m *economy.Market) {
	factor := 1.0
	if chains := e.s.world.ChainsProducing(m.ID); len(chains) > 0 {
		xs := make([]float64, len(chains))
		for i, c := range chains {
			if c.BaseEfficiency > 0 {
				xs[i] = c.Efficiency / c.BaseEfficiency
			}
		}
		factor = numeric.Mean(xs)
	}
	rate, ok := e.recovering[m.ID]
	if !ok {
		rate = e.p.DefaultRecovery
	}
	target := m.BaseSupply * factor
	m.Supply = max(0, m.Supply+(target-m.Supply)*rate)
	m.Demand = max(0.01, m.Demand+(m.BaseSupply-m.Demand)*0.01)
	if ok && math.Abs(target-m.Supply) <= recoveredWithin*target {
		delete(e.recovering, m.ID)
	}
}

func (e *supplyEngine) detect(m *economy.Market) {
	stress := 0.4*m.Scarcity + 0.2*numeric.Clamp01(20*e.trend[m.ID]) + 0.2*m.Volatility +
		0.2*numeric.Clamp01(1-m.SupplyRatio())
	if stress <= e.p.StressThreshold || !e.s.rng.Bernoulli(0.05*stress) {
		return
	}
	kind := shockKinds[e.s.rng.Intn(len(shockKinds))]
	t := shockTypes[kind]
	intensity := e.s.rng.Range(t.minIntensity, t.maxIntensity)
	duration := e.s.rng.IntRange(t.minDuration, t.maxDuration)
	e.start(m, kind, intensity, duration, 0, "", false)
}

func (e *supplyEngine) start(m *economy.Market, kind string, intensity float64, duration, level int, parent string, forced bool) Event {
	sh := &shock{
		Crisis: newCrisis(e.s.ids.Next("crisis"), CrisisSupplyShock, kind, m.ID, intensity, duration, e.s.tick),
		level:  level,
		parent: parent,
	}
	e.shocks[m.ID] = sh
	delete(e.recovering, m.ID)
	if level == 0 {
		e.triggered++
	} else {
		e.secondary++
	}
	ev := e.s.emit(Event{
		Kind:        EventSupplyShock,
		Category:    SubsystemSupplyShock,
		Target:      m.ID,
		Description: fmt.Sprintf("%s in %s (intensity %.2f, %d ticks)", kind, m.ID, sh.Intensity, duration),
		Meta: map[string]any{
			"crisis_id":     sh.ID,
			"kind":          kind,
			"intensity":     sh.Intensity,
			"duration":      duration,
			"cascade_level": level,
			"parent":        parent,
			"forced":        forced,
		},
	})
	if level == 0 {
		e.s.scheduleCascades(CascadeSupplyShock, sh.Intensity, ev)
	}
	return ev
}

type secondaryShock struct {
	market *economy.Market
	parent *shock
}

func (e *supplyEngine) progress() {
	var spawn []secondaryShock
	queued := make(map[string]bool)
	for _, id := range e.shockIDs() {
		sh := e.shocks[id]
		m := e.s.world.Market(id)
		if m == nil {
			delete(e.shocks, id)
			e.s.lookupMiss(SubsystemSupplyShock, "market", id)
			continue
		}
		sh.Duration++
		if sh.advance(fractionPhase(CrisisSupplyShock, sh.Duration, sh.PlannedDuration)) {
			e.s.emit(Event{
				Kind:        EventSupplyShockPhase,
				Category:    SubsystemSupplyShock,
				Target:      id,
				Description: fmt.Sprintf("%s in %s entered %s", sh.Subtype, id, sh.Phase),
				Meta:        map[string]any{"crisis_id": sh.ID, "phase": sh.Phase},
			})
		}
		k := sh.Intensity * phaseMultipliers[sh.Phase]
		m.ScaleSupply(1 - 0.03*k)
		m.ScalePrice(1 + 0.02*k)
		m.Volatility = numeric.Compose(m.Volatility, 0.02*k)
		m.Scarcity = numeric.Compose(m.Scarcity, 0.03*k)
		consumers := e.s.world.ChainsConsuming(id)
		for _, c := range consumers {
			c.Disruption = numeric.Compose(c.Disruption, 0.05*k)
		}

		if !sh.cascaded && sh.level < e.p.MaxCascadeLevel &&
			e.s.rng.Bernoulli(shockTypes[sh.Subtype].cascadeChance*sh.Intensity) {
			sh.cascaded = true
			for _, c := range consumers {
				for _, out := range c.Outputs {
					om := e.s.world.Market(out)
					if om == nil || e.shocks[out] != nil || queued[out] {
						continue
					}
					queued[out] = true
					spawn = append(spawn, secondaryShock{market: om, parent: sh})
				}
			}
		}

		if sh.Duration >= sh.PlannedDuration {
			delete(e.shocks, id)
			e.recovering[id] = shockTypes[sh.Subtype].recovery
			e.s.emit(Event{
				Kind:        EventSupplyShockEnded,
				Category:    SubsystemSupplyShock,
				Target:      id,
				Description: fmt.Sprintf("%s in %s ended, supply recovering", sh.Subtype, id),
				Meta:        map[string]any{"crisis_id": sh.ID, "duration": sh.Duration},
			})
		}
	}
	for _, sp := range spawn {
		if e.shocks[sp.market.ID] != nil {
			continue
		}
		duration := max(1, int(math.Round(e.p.CascadeDuration*float64(sp.parent.PlannedDuration))))
		e.start(sp.market, sp.parent.Subtype, e.p.CascadeIntensity*sp.parent.Intensity, duration,
			sp.parent.level+1, sp.parent.ID, false)
	}
}

func (e *supplyEngine) shockIDs() []string {
	ids := make([]string, 0, len(e.shocks))
	for id := range e.shocks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *supplyEngine) forceShock(cmd Command) (AdminResult, error) {
	c := cmd.(ForceSupplyShock)
	m := e.s.world.Market(c.MarketID)
	if m == nil {
		return AdminResult{}, fmt.Errorf("%w: market %q", ErrUnknownTarget, c.MarketID)
	}
	t, ok := shockTypes[c.Kind]
	if !ok {
		return AdminResult{}, fmt.Errorf("%w: shock kind %q", ErrInvalidArgument, c.Kind)
	}
	if err := checkUnit("intensity", c.Intensity); err != nil {
		return AdminResult{}, err
	}
	if e.shocks[m.ID] != nil {
		return AdminResult{}, fmt.Errorf("%w: %q already shocked", ErrAlreadyActive, m.ID)
	}
	duration := e.s.rng.IntRange(t.minDuration, t.maxDuration)
	ev := e.start(m, c.Kind, c.Intensity, duration, 0, "", true)
	return AdminResult{EventID: ev.ID, Message: fmt.Sprintf("%s forced on %s", c.Kind, m.ID)}, nil
}

// cascade starts a resource shortage on the scarcest unshocked commodity.
func (e *supplyEngine) cascade(intensity float64) (string, bool) {
	var best *economy.Market
	for _, m := range e.s.world.MarketsOfKind(economy.KindCommodity) {
		if e.shocks[m.ID] != nil {
			continue
		}
		if best == nil || m.Scarcity > best.Scarcity {
			best = m
		}
	}
	if best == nil {
		return "", false
	}
	t := shockTypes[ShockResourceShortage]
	duration := e.s.rng.IntRange(t.minDuration, t.maxDuration)
	e.start(best, ShockResourceShortage, intensity, duration, 0, "", false)
	return best.ID, true
}

func (e *supplyEngine) active() []Crisis {
	out := make([]Crisis, 0, len(e.shocks))
	for _, id := range e.shockIDs() {
		out = append(out, e.shocks[id].Crisis)
	}
	return out
}

func (e *supplyEngine) summary() SupplySummary {
	sum := SupplySummary{
		Active:     []ShockStatus{},
		Hoarded:    make(map[string]float64),
		Efficiency: make(map[string]float64, len(e.s.world.Chains)),
		Triggered:  e.triggered,
		Secondary:  e.secondary,
	}
	for _, id := range e.shockIDs() {
		sh := e.shocks[id]
		sum.Active = append(sum.Active, ShockStatus{
			Market:       id,
			Kind:         sh.Subtype,
			Phase:        sh.Phase,
			Intensity:    sh.Intensity,
			CascadeLevel: sh.level,
		})
	}
	for _, m := range e.s.world.Markets {
		if h := e.hoards[m.ID]; h != nil && h.total > 0 {
			sum.Hoarded[m.ID] = h.total
		}
	}
	for _, c := range e.s.world.Chains {
		sum.Efficiency[c.ID] = c.Efficiency
	}
	return sum
}
