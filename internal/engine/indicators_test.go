package engine

import (
	"errors"
	"testing"
)

func TestRiskLevel(t *testing.T) {
	tests := []struct {
		composite float64
		want      string
	}{
		{0, RiskGreen},
		{0.3, RiskGreen},
		{0.31, RiskYellow},
		{0.5, RiskYellow},
		{0.7, RiskOrange},
		{0.85, RiskRed},
		{0.86, RiskCritical},
		{1, RiskCritical},
	}
	for _, tt := range tests {
		if got := RiskLevel(tt.composite); got != tt.want {
			t.Errorf("RiskLevel(%v) = %s, want %s", tt.composite, got, tt.want)
		}
	}
}

func TestSetIndicatorCouplesAndPins(t *testing.T) {
	s := newTestSim(t, 3, 150, nil)
	res, err := s.Admin(SetIndicator{Indicator: IndicatorSystemicRisk, Value: 0.95})
	if err != nil {
		t.Fatal(err)
	}
	if res.EventID == "" {
		t.Error("no event id")
	}
	ind := s.indicators
	floor := 0.85 * 0.95
	for _, name := range indicatorOrder[1:] {
		if v := ind.value(name); v < floor-1e-12 {
			t.Errorf("%s = %v below coupled floor %v", name, v, floor)
		}
	}
	if s.Snapshot().CompositeRisk < 0.84 {
		t.Errorf("composite after pin = %v", s.Snapshot().CompositeRisk)
	}

	for i := 0; i < 10; i++ {
		s.Tick(1)
		if got := ind.value(IndicatorSystemicRisk); got != 0.95 {
			t.Fatalf("tick %d: pinned value drifted to %v", i+1, got)
		}
	}
	for i := 0; i < 5; i++ {
		s.Tick(1)
	}
	if got := ind.value(IndicatorSystemicRisk); got == 0.95 {
		t.Error("pin never released")
	}
}

func TestAlertsDeduplicateAndExpire(t *testing.T) {
	s := newTestSim(t, 3, 150, nil)
	e := s.indicators
	first := e.raise(AlertIndicator, IndicatorDebtSustainability, 3, 0.8, "debt high")
	if first == nil {
		t.Fatal("alert not raised")
	}
	if dup := e.raise(AlertIndicator, IndicatorDebtSustainability, 3, 0.9, "debt higher"); dup != nil {
		t.Error("duplicate alert raised for same type and source")
	}
	if len(e.earlyWarnings()) != 1 {
		t.Errorf("early warnings = %d, want 1", len(e.earlyWarnings()))
	}

	if _, err := s.Admin(AcknowledgeAlert{AlertID: first.ID}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Admin(AcknowledgeAlert{AlertID: first.ID}); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("second acknowledge err = %v", err)
	}
	for i := 0; i < s.params.Indicators.AckTTL; i++ {
		s.Tick(1)
	}
	for _, a := range e.activeAlerts() {
		if a.ID == first.ID {
			t.Fatal("acknowledged alert still live after its TTL")
		}
	}
	for _, w := range e.earlyWarnings() {
		if w.AlertID == first.ID {
			t.Error("early warning outlived its alert")
		}
	}
}

func TestEarlyWarningTimeToCrisis(t *testing.T) {
	s := newTestSim(t, 3, 150, nil)
	e := s.indicators
	for sev, want := range map[int]int{3: 40, 4: 20, 5: 10} {
		a := e.raise(AlertPrediction, "model_"+string(rune('a'+sev)), sev, 0.9, "test")
		w := e.warnings[len(e.warnings)-1]
		if w.AlertID != a.ID || w.TimeToCrisis != want {
			t.Errorf("severity %d: time to crisis %d, want %d", sev, w.TimeToCrisis, want)
		}
	}
	if a := e.raise(AlertIndicatorWarning, IndicatorCurrencyPressure, 2, 0.65, "low"); a == nil {
		t.Fatal("warning not raised")
	}
	if last := e.warnings[len(e.warnings)-1]; last.Type == AlertIndicatorWarning {
		t.Error("severity 2 alert spawned an early warning")
	}
}

func TestModelAccuracyStartsNeutral(t *testing.T) {
	m := &model{}
	if m.accuracy() != 1 {
		t.Errorf("fresh accuracy = %v", m.accuracy())
	}
	m.tp, m.fp = 1, 1
	if got := m.accuracy(); got != 2.0/3.0 {
		t.Errorf("accuracy = %v, want 2/3", got)
	}
}
