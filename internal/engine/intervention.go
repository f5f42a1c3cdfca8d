package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/talgya/crisis-world/internal/economy"
	"github.com/talgya/crisis-world/internal/numeric"
	"github.com/talgya/crisis-world/internal/social"
)

// Intervention kinds.
const (
	InterventionLiquidityInjection = "liquidity_injection"
	InterventionRateCut            = "interest_rate_cut"
	InterventionFiscalStimulus     = "fiscal_stimulus"
	InterventionBankBailout        = "bank_bailout"
	InterventionTradingHalt        = "trading_halt"
	InterventionRegulatoryAction   = "regulatory_action"
	InterventionCurrencySupport    = "currency_support"
	InterventionDebtRelief         = "debt_relief"
)

// Side effects.
const (
	SideMoralHazard        = "moral_hazard"
	SideInflationRisk      = "inflation_risk"
	SideDebtIncrease       = "debt_increase"
	SidePublicAnger        = "public_anger"
	SideCurrencyWeakness   = "currency_weakness"
	SideAssetBubbles       = "asset_bubbles"
	SideLiquidityReduction = "liquidity_reduction"
	SideConfidenceLoss     = "confidence_loss"
	SideReserveDepletion   = "reserve_depletion"
)

type interventionKind struct {
	target        string
	baseEff       float64
	costMult      float64
	duration      int
	tool          string
	politicalCost float64
	govTypes      []social.GovernmentType
	sideEffects   []string
}

var interventionCatalog = map[string]interventionKind{
	InterventionLiquidityInjection: {"bank_run", 0.7, 1.0, 20, "open_market_operations", 0.02,
		[]social.GovernmentType{social.GovCentralBank}, []string{SideMoralHazard, SideInflationRisk}},
	InterventionRateCut: {"general", 0.5, 0.5, 30, "policy_rate", 0.01,
		[]social.GovernmentType{social.GovCentralBank}, []string{SideInflationRisk, SideAssetBubbles, SideCurrencyWeakness}},
	InterventionFiscalStimulus: {"supply_shock", 0.6, 1.5, 40, "budget", 0.03,
		[]social.GovernmentType{social.GovTreasury}, []string{SideDebtIncrease, SideInflationRisk}},
	InterventionBankBailout: {"bank_run", 0.8, 2.0, 25, "bailout_fund", 0.08,
		[]social.GovernmentType{social.GovTreasury}, []string{SideMoralHazard, SidePublicAnger, SideDebtIncrease}},
	InterventionTradingHalt: {"bubble", 0.6, 0.2, 5, "circuit_breaker", 0.02,
		[]social.GovernmentType{social.GovRegulator}, []string{SideLiquidityReduction, SideConfidenceLoss}},
	InterventionRegulatoryAction: {"general", 0.4, 0.3, 30, "regulation", 0.01,
		[]social.GovernmentType{social.GovRegulator}, []string{SideConfidenceLoss}},
	InterventionCurrencySupport: {"currency", 0.6, 1.2, 20, "fx_reserves", 0.02,
		[]social.GovernmentType{social.GovCentralBank, social.GovInternational}, []string{SideReserveDepletion}},
	InterventionDebtRelief: {"debt", 0.5, 1.8, 50, "debt_facility", 0.05,
		[]social.GovernmentType{social.GovInternational, social.GovTreasury}, []string{SideMoralHazard, SideDebtIncrease, SidePublicAnger}},
}

// crisisResponse maps the dominant crisis kind to its canonical intervention.
var crisisResponse = map[CrisisKind]string{
	CrisisBankRun:     InterventionLiquidityInjection,
	CrisisBubble:      InterventionTradingHalt,
	CrisisCurrency:    InterventionCurrencySupport,
	CrisisDebt:        InterventionDebtRelief,
	CrisisSupplyShock: InterventionFiscalStimulus,
}

// sideEffectOwner names the subsystem a side effect needs, if any.
var sideEffectOwner = map[string]string{
	SideDebtIncrease:     SubsystemDebt,
	SidePublicAnger:      SubsystemWarfare,
	SideCurrencyWeakness: SubsystemCurrency,
	SideAssetBubbles:     SubsystemBubble,
	SideReserveDepletion: SubsystemCurrency,
}

// Intervention is an active policy response.
type Intervention struct {
	ID                   string          `json:"id"`
	Kind                 string          `json:"kind"`
	Government           string          `json:"government"`
	Intensity            float64         `json:"intensity"`
	Effectiveness        float64         `json:"effectiveness"`
	CurrentEffectiveness float64         `json:"current_effectiveness"`
	Impact               float64         `json:"impact"`
	Cost                 decimal.Decimal `json:"cost"`
	Duration             int             `json:"duration"`
	Ticks                int             `json:"ticks_active"`
	Phase                string          `json:"phase"`
	SideEffects          []string        `json:"side_effects"`
	StartTick            uint64          `json:"start_tick"`
	Forced               bool            `json:"forced,omitempty"`

	startRisk    float64
	startCrisis  float64
	startSupport float64
}

// InterventionSummary is the intervention engine's snapshot summary.
type InterventionSummary struct {
	Active      int               `json:"active"`
	Launched    int               `json:"launched"`
	Completed   int               `json:"completed"`
	Rejected    int               `json:"rejected"`
	MeanSuccess float64           `json:"mean_success"`
	Capacity    map[string]string `json:"available_capacity"`
}

type interventionEngine struct {
	s         *Simulation
	p         InterventionParams
	active    []*Intervention
	launched  int
	completed int
	rejected  int
	successes []float64
}

func newInterventionEngine(s *Simulation) *interventionEngine {
	e := &interventionEngine{s: s, p: s.params.Intervention}
	s.register(CommandForceIntervention, e.force)
	return e
}

func (e *interventionEngine) step() {
	kept := e.active[:0]
	for _, iv := range e.active {
		if e.progress(iv) {
			kept = append(kept, iv)
		}
	}
	e.active = kept

	for _, g := range e.s.world.Governments {
		g.Fatigue = max(0, g.Fatigue-0.005)
		g.PoliticalWill = numeric.EMA(g.PoliticalWill, 0.6, 0.01)
		if g.AvailableCapacity.LessThan(g.Capacity) {
			refill := numeric.Scale(g.Capacity, 0.001)
			g.AvailableCapacity = numeric.MinMoney(g.Capacity, g.AvailableCapacity.Add(refill))
		}
	}

	systemic := e.s.systemicRisk()
	if systemic <= e.p.Threshold {
		return
	}
	kind := e.responseKind()
	if e.isActive(kind) {
		return
	}
	g := e.chooseGovernment(kind)
	if g == nil {
		e.reject(kind, "no government with capacity")
		return
	}
	e.launch(kind, g, systemic, false)
}

// responseKind maps the most intense live crisis to an intervention.
func (e *interventionEngine) responseKind() string {
	return ResponseFor(e.s.activeCrises())
}

// ResponseFor names the intervention answering the most intense of crises,
// or regulatory action when none has a dedicated response.
func ResponseFor(crises []Crisis) string {
	var dominant *Crisis
	for i := range crises {
		if dominant == nil || crises[i].Intensity > dominant.Intensity {
			dominant = &crises[i]
		}
	}
	if dominant != nil {
		if kind, ok := crisisResponse[dominant.Kind]; ok {
			return kind
		}
	}
	return InterventionRegulatoryAction
}

func (e *interventionEngine) isActive(kind string) bool {
	for _, iv := range e.active {
		if iv.Kind == kind {
			return true
		}
	}
	return false
}

func (e *interventionEngine) suitability(kind string, g *social.Government) float64 {
	match := 0.0
	for _, t := range interventionCatalog[kind].govTypes {
		if g.Type == t {
			match = 1
			break
		}
	}
	return match + g.PoliticalWill + g.Credibility + (1 - g.Fatigue) + g.Speed + g.CapacityRatio()
}

func (e *interventionEngine) hasCapacity(g *social.Government) bool {
	return !g.AvailableCapacity.LessThan(numeric.Money(e.p.MinCapacity))
}

func (e *interventionEngine) chooseGovernment(kind string) *social.Government {
	var best *social.Government
	bestScore := 0.0
	for _, g := range e.s.world.Governments {
		if !e.hasCapacity(g) {
			continue
		}
		if score := e.suitability(kind, g); best == nil || score > bestScore {
			best, bestScore = g, score
		}
	}
	return best
}

func (e *interventionEngine) reject(kind, reason string) {
	e.rejected++
	e.s.emit(Event{
		Kind:        EventInterventionNoop,
		Category:    SubsystemIntervention,
		Description: fmt.Sprintf("%s not launched: %s", kind, reason),
		Meta:        map[string]any{"kind": kind, "reason": reason},
	})
}

// launchCost is available·0.1·(0.5+intensity)·costMult, rounded to cents.
func launchCost(available decimal.Decimal, intensity, costMult float64) decimal.Decimal {
	return available.
		Mul(decimal.NewFromFloat(0.1)).
		Mul(decimal.NewFromFloat(0.5 + intensity)).
		Mul(decimal.NewFromFloat(costMult)).
		Round(2)
}

// LaunchCost returns what launching kind at intensity would spend out of
// the available capacity, and the public support it costs.
func LaunchCost(kind string, available decimal.Decimal, intensity float64) (decimal.Decimal, float64, error) {
	spec, ok := interventionCatalog[kind]
	if !ok {
		return decimal.Zero, 0, fmt.Errorf("%w: intervention %q", ErrInvalidArgument, kind)
	}
	return launchCost(available, numeric.Clamp01(intensity), spec.costMult), spec.politicalCost, nil
}

func (e *interventionEngine) launch(kind string, g *social.Government, intensity float64, forced bool) (*Intervention, Event) {
	spec := interventionCatalog[kind]
	intensity = numeric.Clamp01(intensity)
	cost := launchCost(g.AvailableCapacity, intensity, spec.costMult)

	toolEff, ok := g.Tool(spec.tool)
	if !ok {
		toolEff = 0.7
	}
	eff := numeric.Clamp01(spec.baseEff * g.Credibility * (1 - 0.3*g.Fatigue) * g.Speed * toolEff * e.p.GlobalMultiplier)

	iv := &Intervention{
		ID:                   e.s.ids.Next("intv"),
		Kind:                 kind,
		Government:           g.ID,
		Intensity:            intensity,
		Effectiveness:        eff,
		CurrentEffectiveness: eff,
		Impact:               eff * intensity,
		Cost:                 cost,
		Duration:             spec.duration,
		Phase:                "initiation",
		SideEffects:          append([]string(nil), spec.sideEffects...),
		StartTick:            e.s.tick,
		Forced:               forced,
		startRisk:            e.s.systemicRisk(),
		startCrisis:          e.crisisLoad(),
		startSupport:         e.s.world.PublicSupport,
	}

	g.Spend(cost)
	g.Fatigue = numeric.Clamp01(g.Fatigue + 0.05)
	g.PoliticalWill = numeric.Clamp01(g.PoliticalWill - spec.politicalCost/2)
	e.s.world.PublicSupport = numeric.Clamp01(e.s.world.PublicSupport - spec.politicalCost)

	e.apply(iv, iv.Impact, false)
	e.active = append(e.active, iv)
	e.launched++

	ev := e.s.emit(Event{
		Kind:        EventInterventionStart,
		Category:    SubsystemIntervention,
		Target:      g.ID,
		Description: fmt.Sprintf("%s launched %s (cost %s)", g.Name, kind, cost.StringFixed(2)),
		Meta: map[string]any{
			"intervention_id": iv.ID,
			"kind":            kind,
			"government":      g.ID,
			"cost":            cost.StringFixed(2),
			"intensity":       intensity,
			"effectiveness":   eff,
			"impact":          iv.Impact,
			"forced":          forced,
		},
	})
	e.s.log.Info("intervention launched", "kind", kind, "government", g.ID, "cost", cost.StringFixed(2), "event", ev.ID)
	return iv, ev
}

// apply runs a kind's effects at impact x. Ongoing applications spend no
// new money.
func (e *interventionEngine) apply(iv *Intervention, x float64, ongoing bool) {
	w := e.s.world
	switch iv.Kind {
	case InterventionLiquidityInjection:
		for _, m := range w.Markets {
			m.Liquidity = numeric.Clamp01(m.Liquidity + 0.3*x)
		}
		for _, b := range w.Banks {
			if b.Failed {
				continue
			}
			b.Liquidity = numeric.Clamp01(b.Liquidity + 0.4*x)
			b.Confidence = numeric.Clamp01(b.Confidence + 0.2*x)
		}
	case InterventionRateCut:
		for _, a := range w.Agents {
			if !a.Active {
				continue
			}
			a.Psychology.Confidence = numeric.Clamp01(a.Psychology.Confidence + 0.1*x)
			a.Psychology.RiskTolerance = numeric.Clamp(a.Psychology.RiskTolerance+10*x, 0, 100)
		}
		for _, m := range w.Markets {
			m.ScaleDemand(1 + 0.1*x)
		}
	case InterventionFiscalStimulus:
		if !ongoing && len(w.Agents) > 0 {
			share := iv.Cost.Div(decimal.NewFromInt(int64(len(w.Agents))))
			grant := numeric.Scale(share, x)
			for _, a := range w.Agents {
				if a.Active {
					a.Credit(grant)
				}
			}
		}
		for _, m := range w.Markets {
			m.ScaleDemand(1 + 0.15*x)
		}
	case InterventionBankBailout:
		for _, b := range w.Banks {
			if b.Failed || (b.Liquidity >= 0.3 && b.Confidence >= 0.3) {
				continue
			}
			b.Liquidity = numeric.Clamp01(b.Liquidity + 0.6*x)
			b.Confidence = numeric.Clamp01(b.Confidence + 0.7*x)
			if !ongoing && b.Deposits.IsPositive() {
				credit := numeric.Ratio(numeric.Scale(iv.Cost, 0.1), b.Deposits)
				b.Reserves = numeric.Clamp01(b.Reserves + credit)
			}
		}
		if !ongoing {
			for _, a := range w.Agents {
				a.Leverage *= 1 + e.p.MoralHazardRate
			}
		}
	case InterventionTradingHalt:
		for _, m := range w.Markets {
			m.Volatility = max(0.01, m.Volatility*(1-0.8*x))
			m.Liquidity = numeric.Clamp01(m.Liquidity * (1 - 0.3*x))
		}
	case InterventionRegulatoryAction:
		if e.s.warfare != nil {
			e.s.warfare.dampManipulations(1 - 0.8*x)
		}
		w.Uncertainty = numeric.Clamp01(w.Uncertainty - 0.3*x)
	case InterventionCurrencySupport:
		for _, c := range w.Currencies {
			c.Confidence = numeric.Clamp01(c.Confidence + 0.4*x)
			if !ongoing {
				c.Reserves = c.Reserves.Add(numeric.Scale(iv.Cost, 0.2))
			}
		}
	case InterventionDebtRelief:
		for _, d := range w.Debts {
			d.TotalDebt = numeric.NonNegative(numeric.Scale(d.TotalDebt, 1-0.3*x))
			d.DefaultProbability = numeric.Clamp01(d.DefaultProbability - 0.4*x)
		}
		for _, a := range w.Agents {
			if !a.Active {
				continue
			}
			a.Psychology.Fear = numeric.Clamp01(a.Psychology.Fear - 0.2*x)
			a.Psychology.Confidence = numeric.Clamp01(a.Psychology.Confidence + 0.3*x)
		}
	}
}

func interventionPhase(ticks, duration int) string {
	f := float64(ticks) / float64(max(1, duration))
	switch {
	case f < 0.2:
		return "initiation"
	case f < 0.8:
		return "implementation"
	default:
		return "evaluation"
	}
}

// progress advances one active intervention and reports whether it is
// still running.
func (e *interventionEngine) progress(iv *Intervention) bool {
	iv.Ticks++
	if phase := interventionPhase(iv.Ticks, iv.Duration); phase != iv.Phase {
		iv.Phase = phase
		e.s.emit(Event{
			Kind:        EventInterventionPhase,
			Category:    SubsystemIntervention,
			Target:      iv.Government,
			Description: fmt.Sprintf("%s entered %s", iv.Kind, phase),
			Meta:        map[string]any{"intervention_id": iv.ID, "phase": phase},
		})
	}
	e.apply(iv, 0.1*iv.Impact, true)
	for _, side := range iv.SideEffects {
		e.sideEffect(iv, side, 0.1*iv.Intensity)
	}
	iv.CurrentEffectiveness *= e.p.EffectDecay

	if iv.Ticks < iv.Duration && iv.CurrentEffectiveness >= 0.1 {
		return true
	}
	e.finalize(iv)
	return false
}

func (e *interventionEngine) sideEffect(iv *Intervention, side string, s float64) {
	if owner, ok := sideEffectOwner[side]; ok && e.s.params.disabled(owner) {
		return
	}
	w := e.s.world
	switch side {
	case SideMoralHazard:
		for _, a := range w.Agents {
			a.Leverage *= 1 + e.p.MoralHazardRate*s
		}
	case SideInflationRisk:
		for _, m := range w.Markets {
			m.ScalePrice(1 + 0.01*s)
		}
	case SideDebtIncrease:
		for _, d := range w.Debts {
			if d.Sector == economy.SectorSovereign {
				d.TotalDebt = numeric.Scale(d.TotalDebt, 1+0.01*s)
			}
		}
	case SidePublicAnger:
		w.PublicSupport = numeric.Clamp01(w.PublicSupport - 0.01*s)
		if g := w.Government(iv.Government); g != nil {
			g.PoliticalWill = numeric.Clamp01(g.PoliticalWill - 0.005*s)
		}
		for _, f := range w.Factions {
			f.PublicSupport = numeric.Clamp01(f.PublicSupport - 0.01*s)
		}
	case SideCurrencyWeakness:
		for _, c := range w.Currencies {
			c.Pressure = numeric.Compose(c.Pressure, 0.02*s)
		}
	case SideAssetBubbles:
		for _, m := range w.MarketsOfKind(economy.KindAsset) {
			m.ScaleDemand(1 + 0.01*s)
		}
	case SideLiquidityReduction:
		for _, m := range w.Markets {
			m.Liquidity = numeric.Clamp01(m.Liquidity * (1 - 0.02*s))
		}
	case SideConfidenceLoss:
		for _, b := range w.Banks {
			if !b.Failed {
				b.Confidence = numeric.Clamp01(b.Confidence - 0.01*s)
			}
		}
		for _, a := range w.Agents {
			if a.Active {
				a.Psychology.Confidence = numeric.Clamp01(a.Psychology.Confidence - 0.005*s)
			}
		}
	case SideReserveDepletion:
		for _, c := range w.Currencies {
			c.Reserves = numeric.NonNegative(numeric.Scale(c.Reserves, 1-0.01*s))
		}
	}
}

// crisisLoad is the mean intensity of the live crises, 0 when there are none.
func (e *interventionEngine) crisisLoad() float64 {
	crises := e.s.activeCrises()
	xs := make([]float64, len(crises))
	for i, c := range crises {
		xs[i] = c.Intensity
	}
	return numeric.Mean(xs)
}

func (e *interventionEngine) finalize(iv *Intervention) {
	spec := interventionCatalog[iv.Kind]
	costRatio := 0.0
	if g := e.s.world.Government(iv.Government); g != nil {
		costRatio = numeric.Ratio(iv.Cost, g.Capacity)
	}
	success := numeric.Clamp01(0.5 +
		(iv.startRisk - e.s.systemicRisk()) +
		(iv.startCrisis - e.crisisLoad()) +
		(e.s.world.PublicSupport - iv.startSupport) -
		0.5*costRatio -
		0.05*float64(len(spec.sideEffects)))
	e.completed++
	e.successes = append(e.successes, success)
	e.s.emit(Event{
		Kind:        EventInterventionEnd,
		Category:    SubsystemIntervention,
		Target:      iv.Government,
		Description: fmt.Sprintf("%s completed after %d ticks (success %.2f)", iv.Kind, iv.Ticks, success),
		Meta: map[string]any{
			"intervention_id": iv.ID,
			"kind":            iv.Kind,
			"success_rating":  success,
			"ticks":           iv.Ticks,
		},
	})
}

func (e *interventionEngine) force(cmd Command) (AdminResult, error) {
	c := cmd.(ForceIntervention)
	if _, ok := interventionCatalog[c.Kind]; !ok {
		return AdminResult{}, fmt.Errorf("%w: intervention kind %q", ErrInvalidArgument, c.Kind)
	}
	var g *social.Government
	if c.GovernmentID != "" {
		g = e.s.world.Government(c.GovernmentID)
		if g == nil {
			return AdminResult{}, fmt.Errorf("%w: government %q", ErrUnknownTarget, c.GovernmentID)
		}
	}
	if e.isActive(c.Kind) {
		return AdminResult{}, fmt.Errorf("%w: %s already running", ErrAlreadyActive, c.Kind)
	}
	if g == nil {
		g = e.chooseGovernment(c.Kind)
	}
	if g == nil || !e.hasCapacity(g) {
		return AdminResult{}, fmt.Errorf("%w for %s", ErrNoCapacity, c.Kind)
	}
	iv, ev := e.launch(c.Kind, g, max(e.s.systemicRisk(), 0.5), true)
	return AdminResult{EventID: ev.ID, Message: fmt.Sprintf("%s launched by %s", iv.Kind, g.ID)}, nil
}

func (e *interventionEngine) snapshot() []Intervention {
	out := make([]Intervention, 0, len(e.active))
	for _, iv := range e.active {
		cp := *iv
		cp.SideEffects = append([]string(nil), iv.SideEffects...)
		out = append(out, cp)
	}
	return out
}

func (e *interventionEngine) summary() InterventionSummary {
	sum := InterventionSummary{
		Active:      len(e.active),
		Launched:    e.launched,
		Completed:   e.completed,
		Rejected:    e.rejected,
		MeanSuccess: numeric.Mean(e.successes),
		Capacity:    make(map[string]string, len(e.s.world.Governments)),
	}
	for _, g := range e.s.world.Governments {
		sum.Capacity[g.ID] = g.AvailableCapacity.StringFixed(2)
	}
	return sum
}
