package engine

import (
	"fmt"
	"sort"

	"github.com/talgya/crisis-world/internal/economy"
	"github.com/talgya/crisis-world/internal/numeric"
)

// Debt-cascade kinds.
const (
	DebtSovereignDefault = "sovereign_default"
	DebtCorporateDefault = "corporate_default"
	DebtCreditFreeze     = "credit_freeze"
	DebtContagion        = "contagion"
)

// DebtSummary is the debt engine's snapshot summary.
type DebtSummary struct {
	Active   int                `json:"active"`
	Defaults int                `json:"defaults"`
	Resolved int                `json:"resolved"`
	Stress   map[string]float64 `json:"stress"`
}

type debtCrisis struct {
	Crisis
	defaulted bool
}

type debtEngine struct {
	s        *Simulation
	p        DebtParams
	crises   map[string]*debtCrisis
	stress   map[string]float64
	defaults int
	resolved int
}

func newDebtEngine(s *Simulation) *debtEngine {
	e := &debtEngine{
		s:      s,
		p:      s.params.Debt,
		crises: make(map[string]*debtCrisis),
		stress: make(map[string]float64),
	}
	s.register(CommandForceDebtCascade, e.forceCascade)
	s.cascadeHandlers[CascadeDebt] = e.cascade
	return e
}

func sectorKind(sector economy.Sector) string {
	switch sector {
	case economy.SectorSovereign:
		return DebtSovereignDefault
	case economy.SectorCorporate:
		return DebtCorporateDefault
	default:
		return DebtCreditFreeze
	}
}

func (e *debtEngine) step() {
	g := e.s.psych.State()
	illiquidity := 1 - e.s.world.MeanBankLiquidity()
	for _, d := range e.s.world.Debts {
		stress := numeric.Clamp01(0.3*numeric.Clamp01(d.DebtRatio()/3) + 0.2*(1-d.CreditAvailability) +
			0.2*illiquidity + 0.15*g.Fear + 0.15*numeric.Clamp01(d.DefaultProbability*2))
		e.stress[d.ID] = stress
		d.DefaultProbability = numeric.Clamp01(numeric.EMA(d.DefaultProbability, 0.5*stress, e.p.DefaultRate))
		d.Health = 1 - stress
		if e.crises[d.ID] == nil && stress > e.p.StressThreshold && e.s.rng.Bernoulli(0.1*stress) {
			e.start(d, sectorKind(d.Sector), stress, false)
		}
	}
	for _, id := range e.crisisIDs() {
		e.evolve(id)
	}
}

func (e *debtEngine) start(d *economy.DebtProfile, kind string, intensity float64, forced bool) Event {
	duration := e.s.rng.IntRange(e.p.MinDuration, e.p.MaxDuration)
	dc := &debtCrisis{Crisis: newCrisis(e.s.ids.Next("crisis"), CrisisDebt, kind, d.ID, intensity, duration, e.s.tick)}
	e.crises[d.ID] = dc
	ev := e.s.emit(Event{
		Kind:        EventDebtCascade,
		Category:    SubsystemDebt,
		Target:      d.ID,
		Description: fmt.Sprintf("%s in %s (intensity %.2f)", kind, d.ID, dc.Intensity),
		Meta: map[string]any{
			"crisis_id": dc.ID,
			"kind":      kind,
			"sector":    string(d.Sector),
			"intensity": dc.Intensity,
			"duration":  duration,
			"forced":    forced,
		},
	})
	e.s.scheduleCascades(CascadeDebt, dc.Intensity, ev)
	return ev
}

func (e *debtEngine) evolve(id string) {
	dc := e.crises[id]
	d := e.s.world.Debt(id)
	if d == nil {
		delete(e.crises, id)
		e.s.lookupMiss(SubsystemDebt, "debt profile", id)
		return
	}
	dc.Duration++
	dc.advance(fractionPhase(CrisisDebt, dc.Duration, dc.PlannedDuration))
	k := dc.Intensity * phaseMultipliers[dc.Phase]

	d.DefaultProbability = numeric.Compose(d.DefaultProbability, 0.02*k)
	d.CreditAvailability = numeric.Clamp01(d.CreditAvailability * (1 - 0.03*k))
	for _, cp := range d.Counterparties {
		other := e.s.world.Debt(cp)
		if other == nil {
			e.s.lookupMiss(SubsystemDebt, "debt profile", cp)
			continue
		}
		other.DefaultProbability = numeric.Compose(other.DefaultProbability, 0.01*k)
	}

	if !dc.defaulted && e.s.rng.Bernoulli(0.1*d.DefaultProbability) {
		dc.defaulted = true
		e.defaultOn(d, dc)
	}
	if dc.Duration >= dc.PlannedDuration {
		delete(e.crises, id)
		e.resolved++
		e.s.emit(Event{
			Kind:        EventDebtResolved,
			Category:    SubsystemDebt,
			Target:      id,
			Description: fmt.Sprintf("%s in %s resolved", dc.Subtype, id),
			Meta:        map[string]any{"crisis_id": dc.ID, "defaulted": dc.defaulted, "duration": dc.Duration},
		})
	}
}

// defaultOn records a default and hits every surviving bank's balance sheet.
func (e *debtEngine) defaultOn(d *economy.DebtProfile, dc *debtCrisis) {
	d.Defaulted = true
	e.defaults++
	for _, b := range e.s.world.Banks {
		if b.Failed {
			continue
		}
		b.Liquidity = numeric.Clamp01(b.Liquidity - 0.05)
		b.Loans = numeric.Scale(b.Loans, 0.95)
	}
	e.s.psych.Trigger(TriggerUncertainty, dc.Intensity)
	e.s.log.Warn("debt default", "profile", d.ID, "sector", d.Sector, "tick", e.s.tick)
	e.s.emit(Event{
		Kind:        EventDebtDefault,
		Category:    SubsystemDebt,
		Target:      d.ID,
		Description: fmt.Sprintf("%s defaulted", d.ID),
		Meta: map[string]any{
			"crisis_id":           dc.ID,
			"default_probability": d.DefaultProbability,
			"total_debt":          d.TotalDebt.String(),
		},
	})
}

func (e *debtEngine) crisisIDs() []string {
	ids := make([]string, 0, len(e.crises))
	for id := range e.crises {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// pick returns the profile a forced cascade of kind should hit.
func (e *debtEngine) pick(kind string) *economy.DebtProfile {
	var best *economy.DebtProfile
	for _, d := range e.s.world.Debts {
		if e.crises[d.ID] != nil {
			continue
		}
		switch kind {
		case DebtContagion:
			if best == nil || d.DefaultProbability > best.DefaultProbability {
				best = d
			}
		default:
			if sectorKind(d.Sector) != kind {
				continue
			}
			if best == nil || d.DebtRatio() > best.DebtRatio() {
				best = d
			}
		}
	}
	return best
}

func (e *debtEngine) forceCascade(cmd Command) (AdminResult, error) {
	c := cmd.(ForceDebtCascade)
	switch c.Kind {
	case DebtSovereignDefault, DebtCorporateDefault, DebtCreditFreeze, DebtContagion:
	default:
		return AdminResult{}, fmt.Errorf("%w: debt cascade kind %q", ErrInvalidArgument, c.Kind)
	}
	if err := checkUnit("intensity", c.Intensity); err != nil {
		return AdminResult{}, err
	}
	d := e.pick(c.Kind)
	if d == nil {
		return AdminResult{}, fmt.Errorf("%w: every %s profile is in crisis", ErrAlreadyActive, c.Kind)
	}
	ev := e.start(d, c.Kind, c.Intensity, true)
	return AdminResult{EventID: ev.ID, Message: fmt.Sprintf("%s forced on %s", c.Kind, d.ID)}, nil
}

// cascade starts contagion on the profile most likely to default.
func (e *debtEngine) cascade(intensity float64) (string, bool) {
	d := e.pick(DebtContagion)
	if d == nil {
		return "", false
	}
	e.start(d, DebtContagion, intensity, false)
	return d.ID, true
}

func (e *debtEngine) active() []Crisis {
	out := make([]Crisis, 0, len(e.crises))
	for _, id := range e.crisisIDs() {
		out = append(out, e.crises[id].Crisis)
	}
	return out
}

func (e *debtEngine) summary() DebtSummary {
	sum := DebtSummary{
		Active:   len(e.crises),
		Defaults: e.defaults,
		Resolved: e.resolved,
		Stress:   make(map[string]float64, len(e.s.world.Debts)),
	}
	for _, d := range e.s.world.Debts {
		sum.Stress[d.ID] = e.stress[d.ID]
	}
	return sum
}
