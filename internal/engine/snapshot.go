package engine

import (
	"time"

	"github.com/talgya/crisis-world/internal/numeric"
)

// Summaries holds each engine's published summary. Disabled engines are
// omitted.
type Summaries struct {
	BankRun      *BankRunSummary      `json:"bank_run,omitempty"`
	Bubble       *BubbleSummary       `json:"bubble,omitempty"`
	SupplyShock  *SupplySummary       `json:"supply_shock,omitempty"`
	Currency     *CurrencySummary     `json:"currency,omitempty"`
	Debt         *DebtSummary         `json:"debt,omitempty"`
	Warfare      *WarfareSummary      `json:"warfare,omitempty"`
	Intervention *InterventionSummary `json:"intervention,omitempty"`
	Indicators   *IndicatorSummary    `json:"indicators,omitempty"`
	Cascade      CascadeSummary       `json:"cascade"`
}

// Snapshot is the value published after every tick. It holds copies only.
type Snapshot struct {
	Tick                uint64               `json:"tick"`
	DT                  float64              `json:"dt"`
	Timestamp           time.Time            `json:"timestamp"`
	CompositeRisk       float64              `json:"composite_risk"`
	RiskLevel           string               `json:"risk_level"`
	Indicators          map[string]Indicator `json:"indicators"`
	ActiveCrises        []Crisis             `json:"active_crises"`
	ActiveInterventions []Intervention       `json:"active_interventions"`
	ActiveAlerts        []Alert              `json:"active_alerts"`
	EarlyWarnings       []EarlyWarning       `json:"early_warnings"`
	SystemStress        float64              `json:"system_stress"`
	Psychology          PsychologyState      `json:"psychology"`
	Summaries           Summaries            `json:"summaries"`
}

func ptr[T any](v T) *T { return &v }

func (s *Simulation) buildSnapshot() Snapshot {
	snap := Snapshot{
		Tick:                s.tick,
		DT:                  s.dt,
		Timestamp:           s.clock().UTC(),
		RiskLevel:           RiskLevel(0),
		ActiveCrises:        s.activeCrises(),
		ActiveInterventions: []Intervention{},
		ActiveAlerts:        []Alert{},
		EarlyWarnings:       []EarlyWarning{},
		Psychology:          s.psych.State(),
		Summaries:           Summaries{Cascade: s.cascade.summary()},
	}
	if snap.ActiveCrises == nil {
		snap.ActiveCrises = []Crisis{}
	}
	if s.indicators != nil {
		snap.CompositeRisk = s.indicators.composite
		snap.RiskLevel = s.indicators.level
		snap.Indicators = s.indicators.values()
		snap.ActiveAlerts = s.indicators.activeAlerts()
		snap.EarlyWarnings = s.indicators.earlyWarnings()
		snap.Summaries.Indicators = ptr(s.indicators.summary())
	}
	if s.intervention != nil {
		snap.ActiveInterventions = s.intervention.snapshot()
		snap.Summaries.Intervention = ptr(s.intervention.summary())
	}
	if s.bankRun != nil {
		snap.Summaries.BankRun = ptr(s.bankRun.summary())
	}
	if s.bubble != nil {
		snap.Summaries.Bubble = ptr(s.bubble.summary())
	}
	if s.supply != nil {
		snap.Summaries.SupplyShock = ptr(s.supply.summary())
	}
	if s.currency != nil {
		snap.Summaries.Currency = ptr(s.currency.summary())
	}
	if s.debt != nil {
		snap.Summaries.Debt = ptr(s.debt.summary())
	}
	if s.warfare != nil {
		snap.Summaries.Warfare = ptr(s.warfare.summary())
	}

	xs := make([]float64, len(snap.ActiveCrises))
	for i, c := range snap.ActiveCrises {
		xs[i] = c.Intensity
	}
	snap.SystemStress = numeric.Clamp01(0.5*snap.CompositeRisk + 0.5*numeric.Mean(xs))
	return snap
}
