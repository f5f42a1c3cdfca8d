package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/talgya/crisis-world/internal/numeric"
)

// Indicator names.
const (
	IndicatorSystemicRisk       = "systemic_risk"
	IndicatorLiquidityStress    = "liquidity_stress"
	IndicatorMarketSentiment    = "market_sentiment"
	IndicatorCurrencyPressure   = "currency_pressure"
	IndicatorDebtSustainability = "debt_sustainability"
	IndicatorSupplyChainHealth  = "supply_chain_health"
	IndicatorPoliticalStability = "political_stability"
)

// Alert types.
const (
	AlertIndicatorWarning = "indicator_warning"
	AlertIndicator        = "indicator_alert"
	AlertPrediction       = "prediction_warning"
	AlertComposite        = "composite_risk_alert"
	AlertInvariant        = "invariant_clamped"
)

// Risk levels.
const (
	RiskGreen    = "green"
	RiskYellow   = "yellow"
	RiskOrange   = "orange"
	RiskRed      = "red"
	RiskCritical = "critical"
)

// indicatorOrder fixes the evaluation order; systemic_risk comes first so
// the others can be coupled to it.
var indicatorOrder = []string{
	IndicatorSystemicRisk,
	IndicatorLiquidityStress,
	IndicatorMarketSentiment,
	IndicatorCurrencyPressure,
	IndicatorDebtSustainability,
	IndicatorSupplyChainHealth,
	IndicatorPoliticalStability,
}

var indicatorWeights = map[string]float64{
	IndicatorSystemicRisk:       0.25,
	IndicatorLiquidityStress:    0.15,
	IndicatorMarketSentiment:    0.15,
	IndicatorCurrencyPressure:   0.10,
	IndicatorDebtSustainability: 0.15,
	IndicatorSupplyChainHealth:  0.10,
	IndicatorPoliticalStability: 0.10,
}

var recommendedActions = map[string][]string{
	AlertIndicatorWarning: {"increase_monitoring"},
	AlertIndicator:        {"investigate_source", "increase_monitoring", "prepare_contingency_plan"},
	AlertPrediction:       {"stress_test_exposed_institutions", "prepare_targeted_intervention", "increase_monitoring"},
	AlertComposite:        {"activate_crisis_committee", "liquidity_injection", "coordinate_central_banks", "public_communication"},
	AlertInvariant:        {"audit_model_state"},
}

// IndicatorNames lists the indicators in composition order.
func IndicatorNames() []string { return append([]string(nil), indicatorOrder...) }

// RecommendedActions returns the actions attached to early warnings of an
// alert type.
func RecommendedActions(alertType string) []string {
	return append([]string(nil), recommendedActions[alertType]...)
}

// RiskLevel maps a composite risk onto its band.
func RiskLevel(composite float64) string {
	switch {
	case composite <= 0.3:
		return RiskGreen
	case composite <= 0.5:
		return RiskYellow
	case composite <= 0.7:
		return RiskOrange
	case composite <= 0.85:
		return RiskRed
	default:
		return RiskCritical
	}
}

// Indicator is one named risk measure.
type Indicator struct {
	Name       string        `json:"name"`
	Weight     float64       `json:"weight"`
	Value      float64       `json:"value"`
	Trend      float64       `json:"trend"`
	Volatility float64       `json:"volatility"`
	Pinned     int           `json:"pinned_ticks,omitempty"`
	History    *numeric.Ring `json:"-"`
}

// Alert is a raised risk notice.
type Alert struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Source       string  `json:"source"`
	Severity     int     `json:"severity"`
	Value        float64 `json:"value"`
	Message      string  `json:"message"`
	Tick         uint64  `json:"tick"`
	ExpiresAt    uint64  `json:"expires_at"`
	Acknowledged bool    `json:"acknowledged"`
}

// EarlyWarning accompanies an alert of severity 3 or more.
type EarlyWarning struct {
	ID           string   `json:"id"`
	AlertID      string   `json:"alert_id"`
	Type         string   `json:"type"`
	Source       string   `json:"source"`
	Severity     int      `json:"severity"`
	TimeToCrisis int      `json:"time_to_crisis"`
	Actions      []string `json:"recommended_actions"`
	Confidence   float64  `json:"confidence"`
	Tick         uint64   `json:"tick"`
}

type modelInput struct {
	indicator string
	weight    float64
}

type model struct {
	name   string
	crisis CrisisKind
	inputs []modelInput
	// adjust applies the model-specific correction to the weighted average.
	adjust func(e *indicatorsEngine, p float64) float64

	probability    float64
	tp, fp, fn, tn int
}

func (m *model) accuracy() float64 {
	n := m.tp + m.fp + m.fn + m.tn
	return float64(m.tp+m.tn+1) / float64(n+1)
}

// ModelStatus is a prediction model's published state.
type ModelStatus struct {
	Probability float64 `json:"probability"`
	Accuracy    float64 `json:"accuracy"`
	Evaluated   int     `json:"evaluated"`
}

type prediction struct {
	model     int
	tick      uint64
	predicted bool
}

// IndicatorSummary is the indicators engine's snapshot summary.
type IndicatorSummary struct {
	Models      map[string]ModelStatus `json:"models"`
	Raised      int                    `json:"alerts_raised"`
	Expired     int                    `json:"alerts_expired"`
	Pending     int                    `json:"pending_predictions"`
	LastUpdated uint64                 `json:"last_updated"`
}

type indicatorsEngine struct {
	s          *Simulation
	p          IndicatorParams
	indicators map[string]*Indicator
	composite  float64
	level      string

	models      []*model
	predictions []prediction

	alerts   []*Alert
	warnings []EarlyWarning
	raised   int
	expired  int
	updated  uint64

	// live tracks crisis ids seen last step; starts records crisis start ticks.
	live   map[string]bool
	starts map[CrisisKind][]uint64
}

func newIndicatorsEngine(s *Simulation) *indicatorsEngine {
	e := &indicatorsEngine{
		s:          s,
		p:          s.params.Indicators,
		indicators: make(map[string]*Indicator, len(indicatorOrder)),
		live:       make(map[string]bool),
		starts:     make(map[CrisisKind][]uint64),
	}
	for _, name := range indicatorOrder {
		e.indicators[name] = &Indicator{
			Name:    name,
			Weight:  indicatorWeights[name],
			History: numeric.NewRing(e.p.HistorySize),
		}
	}
	e.models = []*model{
		{name: "bank_run", crisis: CrisisBankRun,
			inputs: []modelInput{{IndicatorLiquidityStress, 0.5}, {IndicatorMarketSentiment, 0.3}, {IndicatorSystemicRisk, 0.2}},
			adjust: func(e *indicatorsEngine, p float64) float64 {
				return p * (1 + 2*e.indicators[IndicatorMarketSentiment].Volatility)
			}},
		{name: "bubble", crisis: CrisisBubble,
			inputs: []modelInput{{IndicatorMarketSentiment, 0.5}, {IndicatorLiquidityStress, 0.2}, {IndicatorSystemicRisk, 0.3}},
			adjust: func(e *indicatorsEngine, p float64) float64 {
				if vol := e.indicators[IndicatorSystemicRisk].Volatility; vol < 0.1 {
					return p * (1 + 2*(0.1-vol))
				}
				return p
			}},
		{name: "currency", crisis: CrisisCurrency,
			inputs: []modelInput{{IndicatorCurrencyPressure, 0.6}, {IndicatorPoliticalStability, 0.2}, {IndicatorDebtSustainability, 0.2}},
			adjust: func(e *indicatorsEngine, p float64) float64 {
				return p + 2*max(0, e.indicators[IndicatorCurrencyPressure].Trend)
			}},
		{name: "debt", crisis: CrisisDebt,
			inputs: []modelInput{{IndicatorDebtSustainability, 0.6}, {IndicatorLiquidityStress, 0.2}, {IndicatorCurrencyPressure, 0.2}}},
		{name: "supply_shock", crisis: CrisisSupplyShock,
			inputs: []modelInput{{IndicatorSupplyChainHealth, 0.6}, {IndicatorPoliticalStability, 0.2}, {IndicatorCurrencyPressure, 0.2}}},
	}
	s.register(CommandSetIndicator, e.setIndicator)
	s.register(CommandAcknowledgeAlert, e.acknowledge)
	return e
}

// value returns an indicator's current value, 0 for unknown names.
func (e *indicatorsEngine) value(name string) float64 {
	if ind, ok := e.indicators[name]; ok {
		return ind.Value
	}
	return 0
}

// raw computes an indicator from the live world.
func (e *indicatorsEngine) raw(name string) float64 {
	w := e.s.world
	mood := e.s.psych.State()
	switch name {
	case IndicatorSystemicRisk:
		failed := 0
		for _, b := range w.Banks {
			if b.Failed {
				failed++
			}
		}
		load := 0.0
		for _, c := range e.s.activeCrises() {
			load += c.Intensity
		}
		return numeric.Clamp01(0.3*(1-w.MeanBankLiquidity()) +
			0.3*numeric.Clamp01(load/3) +
			0.2*safeShare(failed, len(w.Banks)) +
			0.1*mood.Fear +
			0.1*w.Uncertainty)
	case IndicatorLiquidityStress:
		mkt := make([]float64, len(w.Markets))
		for i, m := range w.Markets {
			mkt[i] = m.Liquidity
		}
		drain := make([]float64, len(w.Banks))
		for i, b := range w.Banks {
			drain[i] = min(1, 10*b.WithdrawalRate)
		}
		return numeric.Clamp01(0.5*(1-w.MeanBankLiquidity()) + 0.3*(1-meanOr(mkt, 1)) + 0.2*numeric.Mean(drain))
	case IndicatorMarketSentiment:
		vol := make([]float64, len(w.Markets))
		for i, m := range w.Markets {
			vol[i] = m.Volatility
		}
		return numeric.Clamp01(0.4*mood.Fear + 0.3*(1-mood.Sentiment) + 0.3*numeric.Mean(vol))
	case IndicatorCurrencyPressure:
		pressure := make([]float64, len(w.Currencies))
		dep := make([]float64, len(w.Currencies))
		for i, c := range w.Currencies {
			pressure[i] = c.Pressure
			dep[i] = c.Depreciation()
		}
		return numeric.Clamp01(0.6*numeric.Mean(pressure) + 0.4*numeric.Mean(dep))
	case IndicatorDebtSustainability:
		dp := make([]float64, len(w.Debts))
		health := make([]float64, len(w.Debts))
		credit := make([]float64, len(w.Debts))
		for i, d := range w.Debts {
			dp[i] = d.DefaultProbability
			health[i] = d.Health
			credit[i] = d.CreditAvailability
		}
		return numeric.Clamp01(0.5*numeric.Mean(dp) + 0.3*(1-meanOr(health, 1)) + 0.2*(1-meanOr(credit, 1)))
	case IndicatorSupplyChainHealth:
		disruption := make([]float64, len(w.Chains))
		for i, c := range w.Chains {
			disruption[i] = c.Disruption
		}
		return numeric.Clamp01(0.5*w.MeanScarcity() + 0.5*numeric.Mean(disruption))
	case IndicatorPoliticalStability:
		var tension []float64
		for _, f := range w.Factions {
			for _, id := range f.Partners() {
				if f.ID < id {
					tension = append(tension, f.Relation(id).Tension)
				}
			}
		}
		return numeric.Clamp01(0.4*(1-w.PublicSupport) + 0.3*w.Uncertainty + 0.3*numeric.Mean(tension))
	}
	return 0
}

func safeShare(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func meanOr(xs []float64, fallback float64) float64 {
	if len(xs) == 0 {
		return fallback
	}
	return numeric.Mean(xs)
}

// refresh recomputes unpinned indicators, couples them to systemic risk
// and updates the composite.
func (e *indicatorsEngine) refresh() {
	for _, name := range indicatorOrder {
		ind := e.indicators[name]
		if ind.Pinned == 0 {
			ind.Value = e.raw(name)
		}
	}
	e.couple()
	e.recompose()
}

// couple floors every other indicator at a fraction of systemic risk.
func (e *indicatorsEngine) couple() {
	floor := e.p.SystemicCoupling * e.indicators[IndicatorSystemicRisk].Value
	for _, name := range indicatorOrder[1:] {
		ind := e.indicators[name]
		ind.Value = numeric.Clamp01(max(ind.Value, floor))
	}
}

func (e *indicatorsEngine) recompose() {
	var sum, weights float64
	for _, name := range indicatorOrder {
		ind := e.indicators[name]
		sum += ind.Weight * ind.Value
		weights += ind.Weight
	}
	e.composite = 0
	if weights > 0 {
		e.composite = numeric.Clamp01(sum / weights)
	}
	e.level = RiskLevel(e.composite)
}

func (e *indicatorsEngine) due() bool {
	t := e.s.tick
	return t == 1 || (e.p.UpdateEvery > 0 && t%uint64(e.p.UpdateEvery) == 0)
}

func (e *indicatorsEngine) step() {
	e.trackStarts()
	if e.due() {
		e.update()
	}
	for _, name := range indicatorOrder {
		if ind := e.indicators[name]; ind.Pinned > 0 {
			ind.Pinned--
		}
	}
}

// trackStarts records the start tick of every crisis first seen this step.
func (e *indicatorsEngine) trackStarts() {
	live := make(map[string]bool)
	for _, c := range e.s.activeCrises() {
		live[c.ID] = true
		if !e.live[c.ID] {
			e.starts[c.Kind] = append(e.starts[c.Kind], c.StartTick)
		}
	}
	e.live = live

	keep := uint64(2 * e.p.PredictionHorizon)
	for kind, ticks := range e.starts {
		i := 0
		for i < len(ticks) && ticks[i]+keep < e.s.tick {
			i++
		}
		e.starts[kind] = ticks[i:]
	}
}

func (e *indicatorsEngine) update() {
	for _, name := range indicatorOrder {
		if ind := e.indicators[name]; ind.Pinned == 0 {
			ind.Value = e.raw(name)
		}
	}
	e.couple()
	for _, name := range indicatorOrder {
		ind := e.indicators[name]
		ind.Trend = ind.Value - ind.History.Last(ind.Value)
		ind.History.Push(ind.Value)
		ind.Volatility = numeric.Stdev(ind.History.Tail(e.p.VolatilityWindow))
	}
	e.recompose()
	e.updated = e.s.tick

	e.evaluatePredictions()
	e.runModels()
	e.raiseAlerts()
}

func (e *indicatorsEngine) runModels() {
	for i, m := range e.models {
		var sum, weights float64
		for _, in := range m.inputs {
			sum += in.weight * e.indicators[in.indicator].Value
			weights += in.weight
		}
		p := sum / weights
		if m.adjust != nil {
			p = m.adjust(e, p)
		}
		m.probability = numeric.Clamp01(p * m.accuracy())
		e.predictions = append(e.predictions, prediction{
			model:     i,
			tick:      e.s.tick,
			predicted: m.probability > e.p.WarningLevel,
		})
	}
}

// evaluatePredictions scores predictions whose horizon has elapsed.
func (e *indicatorsEngine) evaluatePredictions() {
	horizon := uint64(e.p.PredictionHorizon)
	kept := e.predictions[:0]
	for _, pr := range e.predictions {
		if pr.tick+horizon > e.s.tick {
			kept = append(kept, pr)
			continue
		}
		m := e.models[pr.model]
		happened := false
		for _, t := range e.starts[m.crisis] {
			if t > pr.tick && t <= pr.tick+horizon {
				happened = true
				break
			}
		}
		switch {
		case pr.predicted && happened:
			m.tp++
		case pr.predicted:
			m.fp++
		case happened:
			m.fn++
		default:
			m.tn++
		}
	}
	e.predictions = kept
}

func (e *indicatorsEngine) raiseAlerts() {
	for _, name := range indicatorOrder {
		v := e.indicators[name].Value
		switch {
		case v > e.p.AlertLevel:
			sev := 3
			if name == IndicatorSystemicRisk {
				sev = 4
			}
			e.raise(AlertIndicator, name, sev, v, fmt.Sprintf("%s at %.2f above alert level", name, v))
		case v > e.p.WarningLevel:
			e.raise(AlertIndicatorWarning, name, 2, v, fmt.Sprintf("%s at %.2f above warning level", name, v))
		}
	}
	for _, m := range e.models {
		if m.probability > e.p.WarningLevel {
			sev := 3
			if m.probability > 0.8 {
				sev = 4
			}
			e.raise(AlertPrediction, m.name, sev, m.probability,
				fmt.Sprintf("%s crisis probability %.2f", m.name, m.probability))
		}
	}
	if e.composite > e.p.CompositeAlert {
		sev := 4
		if e.level == RiskCritical {
			sev = 5
		}
		e.raise(AlertComposite, "composite", sev, e.composite,
			fmt.Sprintf("composite risk %.2f (%s)", e.composite, e.level))
	}
}

// raise records an alert unless one of the same type and source is live.
func (e *indicatorsEngine) raise(typ, source string, severity int, value float64, msg string) *Alert {
	for _, a := range e.alerts {
		if a.Type == typ && a.Source == source {
			return nil
		}
	}
	a := &Alert{
		ID:        e.s.ids.Next("alert"),
		Type:      typ,
		Source:    source,
		Severity:  severity,
		Value:     value,
		Message:   msg,
		Tick:      e.s.tick,
		ExpiresAt: e.s.tick + uint64(e.p.AlertTTL),
	}
	e.alerts = append(e.alerts, a)
	e.raised++
	e.s.emit(Event{
		Kind:        EventAlert,
		Category:    SubsystemIndicators,
		Target:      source,
		Description: msg,
		Meta:        map[string]any{"alert_id": a.ID, "type": typ, "severity": severity, "value": value},
	})
	if severity >= 3 {
		e.warn(a)
	}
	return a
}

func (e *indicatorsEngine) warn(a *Alert) {
	ttc := int(40 / math.Pow(2, float64(a.Severity-3)))
	w := EarlyWarning{
		ID:           e.s.ids.Next("warn"),
		AlertID:      a.ID,
		Type:         a.Type,
		Source:       a.Source,
		Severity:     a.Severity,
		TimeToCrisis: ttc,
		Actions:      append([]string(nil), recommendedActions[a.Type]...),
		Confidence:   numeric.Clamp01(a.Value),
		Tick:         e.s.tick,
	}
	for _, m := range e.models {
		if m.name == a.Source {
			w.Confidence = numeric.Clamp01(a.Value * m.accuracy())
		}
	}
	e.warnings = append(e.warnings, w)
	e.s.emit(Event{
		Kind:        EventEarlyWarning,
		Category:    SubsystemIndicators,
		Target:      a.Source,
		Description: fmt.Sprintf("%s: crisis expected in ~%d ticks", a.Type, ttc),
		Meta: map[string]any{
			"warning_id":          w.ID,
			"alert_id":            a.ID,
			"time_to_crisis":      ttc,
			"recommended_actions": w.Actions,
		},
	})
}

// expireAlerts drops stale and acknowledged alerts along with their
// early warnings.
func (e *indicatorsEngine) expireAlerts() {
	kept := e.alerts[:0]
	gone := make(map[string]bool)
	for _, a := range e.alerts {
		if a.ExpiresAt > e.s.tick {
			kept = append(kept, a)
			continue
		}
		gone[a.ID] = true
		e.expired++
		e.s.emit(Event{
			Kind:        EventAlertExpired,
			Category:    SubsystemIndicators,
			Target:      a.Source,
			Description: fmt.Sprintf("alert %s expired", a.ID),
			Meta:        map[string]any{"alert_id": a.ID, "acknowledged": a.Acknowledged},
		})
	}
	e.alerts = kept
	if len(gone) == 0 {
		return
	}
	warnings := e.warnings[:0]
	for _, w := range e.warnings {
		if !gone[w.AlertID] {
			warnings = append(warnings, w)
		}
	}
	e.warnings = warnings
}

func (e *indicatorsEngine) setIndicator(cmd Command) (AdminResult, error) {
	c := cmd.(SetIndicator)
	ind, ok := e.indicators[c.Indicator]
	if !ok {
		return AdminResult{}, fmt.Errorf("%w: indicator %q", ErrUnknownTarget, c.Indicator)
	}
	if err := checkUnit("value", c.Value); err != nil {
		return AdminResult{}, err
	}
	ind.Value = c.Value
	ind.Pinned = e.p.PinTicks
	e.couple()
	e.recompose()
	ev := e.s.emit(Event{
		Kind:        EventIndicatorSet,
		Category:    SubsystemIndicators,
		Target:      c.Indicator,
		Description: fmt.Sprintf("%s pinned at %.2f for %d ticks", c.Indicator, c.Value, e.p.PinTicks),
		Meta:        map[string]any{"value": c.Value, "composite": e.composite, "risk_level": e.level},
	})
	e.s.last.CompositeRisk = e.composite
	e.s.last.RiskLevel = e.level
	return AdminResult{EventID: ev.ID, Message: fmt.Sprintf("composite risk now %.3f", e.composite)}, nil
}

func (e *indicatorsEngine) acknowledge(cmd Command) (AdminResult, error) {
	c := cmd.(AcknowledgeAlert)
	for _, a := range e.alerts {
		if a.ID != c.AlertID {
			continue
		}
		if a.Acknowledged {
			return AdminResult{}, fmt.Errorf("%w: alert %s already acknowledged", ErrAlreadyActive, a.ID)
		}
		a.Acknowledged = true
		a.ExpiresAt = min(a.ExpiresAt, e.s.tick+uint64(e.p.AckTTL))
		ev := e.s.emit(Event{
			Kind:        EventAlertAcknowledged,
			Category:    SubsystemIndicators,
			Target:      a.Source,
			Description: fmt.Sprintf("alert %s acknowledged", a.ID),
			Meta:        map[string]any{"alert_id": a.ID, "expires_at": a.ExpiresAt},
		})
		return AdminResult{EventID: ev.ID, Message: "acknowledged"}, nil
	}
	return AdminResult{}, fmt.Errorf("%w: alert %q", ErrUnknownTarget, c.AlertID)
}

// invariantAlert raises a severity-2 alert for a repaired invariant.
func (e *indicatorsEngine) invariantAlert(fixed []string) {
	e.raise(AlertInvariant, "world", 2, 0, fmt.Sprintf("clamped %d values (%v)", len(fixed), fixed))
}

func (e *indicatorsEngine) values() map[string]Indicator {
	out := make(map[string]Indicator, len(e.indicators))
	for name, ind := range e.indicators {
		v := *ind
		v.History = ind.History.Clone()
		out[name] = v
	}
	return out
}

func (e *indicatorsEngine) activeAlerts() []Alert {
	out := make([]Alert, 0, len(e.alerts))
	for _, a := range e.alerts {
		out = append(out, *a)
	}
	return out
}

func (e *indicatorsEngine) earlyWarnings() []EarlyWarning {
	out := make([]EarlyWarning, 0, len(e.warnings))
	for _, w := range e.warnings {
		w.Actions = append([]string(nil), w.Actions...)
		out = append(out, w)
	}
	return out
}

func (e *indicatorsEngine) summary() IndicatorSummary {
	sum := IndicatorSummary{
		Models:      make(map[string]ModelStatus, len(e.models)),
		Raised:      e.raised,
		Expired:     e.expired,
		Pending:     len(e.predictions),
		LastUpdated: e.updated,
	}
	for _, m := range e.models {
		sum.Models[m.name] = ModelStatus{
			Probability: m.probability,
			Accuracy:    m.accuracy(),
			Evaluated:   m.tp + m.fp + m.fn + m.tn,
		}
	}
	return sum
}

// Alerts returns the live alerts ordered by severity, most severe first.
func (s *Simulation) Alerts() []Alert {
	if s.indicators == nil {
		return nil
	}
	out := s.indicators.activeAlerts()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Severity > out[j].Severity })
	return out
}
