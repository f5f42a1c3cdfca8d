package engine

import (
	"fmt"
	"sort"

	"github.com/talgya/crisis-world/internal/economy"
	"github.com/talgya/crisis-world/internal/numeric"
)

// Currency-crisis kinds.
const (
	CurrencySpeculativeAttack = "speculative_attack"
	CurrencyCapitalFlight     = "capital_flight"
	CurrencyDevaluation       = "devaluation"
	CurrencyContagion         = "contagion"
)

var currencyKinds = map[string]bool{
	CurrencySpeculativeAttack: true,
	CurrencyCapitalFlight:     true,
	CurrencyDevaluation:       true,
	CurrencyContagion:         true,
}

// CurrencySummary is the currency engine's snapshot summary.
type CurrencySummary struct {
	Active    int                `json:"active"`
	Rates     map[string]float64 `json:"exchange_rates"`
	Stress    map[string]float64 `json:"stress"`
	Resolved  int                `json:"resolved"`
	Collapses int                `json:"collapses"`
}

type currencyEngine struct {
	s         *Simulation
	p         CurrencyParams
	crises    map[string]*Crisis
	stress    map[string]float64
	resolved  int
	collapses int
}

func newCurrencyEngine(s *Simulation) *currencyEngine {
	e := &currencyEngine{
		s:      s,
		p:      s.params.Currency,
		crises: make(map[string]*Crisis),
		stress: make(map[string]float64),
	}
	s.register(CommandForceCurrencyCrisis, e.forceCrisis)
	s.cascadeHandlers[CascadeCurrency] = e.cascade
	return e
}

func reserveStrain(c *economy.Currency) float64 {
	return numeric.Clamp01(1 - c.ReserveRatio())
}

func (e *currencyEngine) step() {
	g := e.s.psych.State()
	for _, c := range e.s.world.Currencies {
		stress := 0.3*(1-c.Confidence) + 0.2*c.Pressure + 0.2*c.CapitalFlight +
			0.15*reserveStrain(c) + 0.15*g.Fear
		e.stress[c.ID] = numeric.Clamp01(stress)
		if e.crises[c.ID] != nil {
			continue
		}
		e.recover(c, g)
		if stress > e.p.StressThreshold && e.s.rng.Bernoulli(0.1*stress) {
			e.start(c, e.kindFor(c), stress, false)
		}
	}
	for _, id := range e.crisisIDs() {
		e.evolve(id)
	}
}

// recover pulls a calm currency back toward its resting state.
func (e *currencyEngine) recover(c *economy.Currency, g PsychologyState) {
	target := numeric.Clamp01(0.5*g.Fear + 0.3*e.s.world.Uncertainty + 0.2*c.Depreciation())
	c.Pressure = max(target, c.Pressure-0.02)
	c.CapitalFlight = max(0, c.CapitalFlight-0.01)
	switch {
	case c.Confidence < 0.7:
		c.Confidence = min(0.7, c.Confidence+0.01)
	case c.Confidence > 0.7:
		c.Confidence = max(0.7, c.Confidence-0.01)
	}
	c.ExchangeRate += (c.BaseRate - c.ExchangeRate) * 0.01
	c.Reserves = c.Reserves.Add(numeric.Scale(c.InitialReserves.Sub(c.Reserves), 0.005))
}

func (e *currencyEngine) kindFor(c *economy.Currency) string {
	switch {
	case c.CapitalFlight > 0.5:
		return CurrencyCapitalFlight
	case c.Pressure > 0.5:
		return CurrencySpeculativeAttack
	case reserveStrain(c) > 0.5:
		return CurrencyDevaluation
	default:
		return CurrencyContagion
	}
}

func (e *currencyEngine) start(c *economy.Currency, kind string, intensity float64, forced bool) Event {
	duration := e.s.rng.IntRange(e.p.MinDuration, e.p.MaxDuration)
	cr := newCrisis(e.s.ids.Next("crisis"), CrisisCurrency, kind, c.ID, intensity, duration, e.s.tick)
	e.crises[c.ID] = &cr
	e.s.psych.Trigger(TriggerUncertainty, cr.Intensity*0.5)
	ev := e.s.emit(Event{
		Kind:        EventCurrencyCrisis,
		Category:    SubsystemCurrency,
		Target:      c.ID,
		Description: fmt.Sprintf("%s against %s (intensity %.2f)", kind, c.ID, cr.Intensity),
		Meta: map[string]any{
			"crisis_id": cr.ID,
			"kind":      kind,
			"intensity": cr.Intensity,
			"duration":  duration,
			"forced":    forced,
		},
	})
	e.s.scheduleCascades(CascadeCurrency, cr.Intensity, ev)
	return ev
}

func (e *currencyEngine) evolve(id string) {
	cr := e.crises[id]
	c := e.s.world.Currency(id)
	if c == nil {
		delete(e.crises, id)
		e.s.lookupMiss(SubsystemCurrency, "currency", id)
		return
	}
	cr.Duration++
	cr.advance(fractionPhase(CrisisCurrency, cr.Duration, cr.PlannedDuration))
	i := cr.Intensity
	k := i * phaseMultipliers[cr.Phase]

	c.ExchangeRate *= 1 + 0.02*k
	c.CapitalFlight = numeric.Compose(c.CapitalFlight, 0.03*k)
	c.Confidence = numeric.Clamp01(c.Confidence - 0.02*k)
	c.Reserves = numeric.NonNegative(numeric.Scale(c.Reserves, 1-0.01*i))
	for _, cp := range c.Counterparties {
		other := e.s.world.Currency(cp)
		if other == nil {
			e.s.lookupMiss(SubsystemCurrency, "currency", cp)
			continue
		}
		other.Pressure = numeric.Compose(other.Pressure, 0.01*i)
	}
	for _, m := range e.s.world.MarketsOfKind(economy.KindCurrency) {
		m.Volatility = numeric.Compose(m.Volatility, 0.02*k)
	}

	switch {
	case c.ReserveRatio() < e.p.CollapseReserve:
		e.end(c, cr, "collapse")
	case cr.Duration >= cr.PlannedDuration:
		e.end(c, cr, "resolved")
	}
}

func (e *currencyEngine) end(c *economy.Currency, cr *Crisis, resolution string) {
	delete(e.crises, c.ID)
	if resolution == "collapse" {
		e.collapses++
		e.s.log.Warn("currency collapse", "currency", c.ID, "tick", e.s.tick)
	} else {
		e.resolved++
	}
	e.s.emit(Event{
		Kind:        EventCurrencyResolved,
		Category:    SubsystemCurrency,
		Target:      c.ID,
		Description: fmt.Sprintf("%s on %s ended: %s", cr.Subtype, c.ID, resolution),
		Meta: map[string]any{
			"crisis_id":  cr.ID,
			"resolution": resolution,
			"rate":       c.ExchangeRate,
			"duration":   cr.Duration,
		},
	})
}

func (e *currencyEngine) crisisIDs() []string {
	ids := make([]string, 0, len(e.crises))
	for id := range e.crises {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *currencyEngine) forceCrisis(cmd Command) (AdminResult, error) {
	c := cmd.(ForceCurrencyCrisis)
	cur := e.s.world.Currency(c.CurrencyID)
	if cur == nil {
		return AdminResult{}, fmt.Errorf("%w: currency %q", ErrUnknownTarget, c.CurrencyID)
	}
	if !currencyKinds[c.Kind] {
		return AdminResult{}, fmt.Errorf("%w: currency crisis kind %q", ErrInvalidArgument, c.Kind)
	}
	if err := checkUnit("intensity", c.Intensity); err != nil {
		return AdminResult{}, err
	}
	if e.crises[cur.ID] != nil {
		return AdminResult{}, fmt.Errorf("%w: crisis on %q", ErrAlreadyActive, cur.ID)
	}
	ev := e.start(cur, c.Kind, c.Intensity, true)
	return AdminResult{EventID: ev.ID, Message: fmt.Sprintf("%s forced on %s", c.Kind, cur.ID)}, nil
}

// cascade starts contagion on the most pressured calm currency.
func (e *currencyEngine) cascade(intensity float64) (string, bool) {
	var best *economy.Currency
	for _, c := range e.s.world.Currencies {
		if e.crises[c.ID] != nil {
			continue
		}
		if best == nil || c.Pressure > best.Pressure {
			best = c
		}
	}
	if best == nil {
		return "", false
	}
	e.start(best, CurrencyContagion, intensity, false)
	return best.ID, true
}

func (e *currencyEngine) active() []Crisis {
	out := make([]Crisis, 0, len(e.crises))
	for _, id := range e.crisisIDs() {
		out = append(out, *e.crises[id])
	}
	return out
}

func (e *currencyEngine) summary() CurrencySummary {
	sum := CurrencySummary{
		Active:    len(e.crises),
		Rates:     make(map[string]float64, len(e.s.world.Currencies)),
		Stress:    make(map[string]float64, len(e.s.world.Currencies)),
		Resolved:  e.resolved,
		Collapses: e.collapses,
	}
	for _, c := range e.s.world.Currencies {
		sum.Rates[c.ID] = c.ExchangeRate
		sum.Stress[c.ID] = e.stress[c.ID]
	}
	return sum
}
