package engine

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/talgya/crisis-world/internal/world"
)

func TestForceInterventionErrors(t *testing.T) {
	s := newTestSim(t, 2, 120, nil)
	if _, err := s.Admin(ForceIntervention{Kind: InterventionTradingHalt}); err != nil {
		t.Fatalf("first trading halt: %v", err)
	}
	if _, err := s.Admin(ForceIntervention{Kind: InterventionTradingHalt}); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("duplicate err = %v", err)
	}

	s.World().Government("treasury").AvailableCapacity = decimal.NewFromInt(10)
	_, err := s.Admin(ForceIntervention{Kind: InterventionBankBailout, GovernmentID: "treasury"})
	if !errors.Is(err, ErrNoCapacity) {
		t.Errorf("drained treasury err = %v, want ErrNoCapacity", err)
	}
}

func TestTradingHaltEffects(t *testing.T) {
	s := newTestSim(t, 2, 120, nil)
	m := s.World().Market("technology")
	vol, liq := m.Volatility, m.Liquidity
	res, err := s.Admin(ForceIntervention{Kind: InterventionTradingHalt, GovernmentID: "financial_regulator"})
	if err != nil {
		t.Fatal(err)
	}
	if res.EventID == "" {
		t.Error("no event id")
	}
	iv := s.intervention.active[0]
	want := max(0.01, vol*(1-0.8*iv.Impact))
	if abs(m.Volatility-want) > 1e-12 {
		t.Errorf("volatility %v, want %v", m.Volatility, want)
	}
	if abs(m.Liquidity-liq*(1-0.3*iv.Impact)) > 1e-12 {
		t.Errorf("liquidity %v", m.Liquidity)
	}
}

func TestInterventionCompletes(t *testing.T) {
	s := newTestSim(t, 2, 120, nil)
	if _, err := s.Admin(ForceIntervention{Kind: InterventionTradingHalt}); err != nil {
		t.Fatal(err)
	}
	var snap Snapshot
	for i := 0; i < 10; i++ {
		snap = s.Tick(1)
	}
	done := eventsOfKind(s, EventInterventionEnd)
	if len(done) != 1 {
		t.Fatalf("completed = %d, want 1", len(done))
	}
	if r := done[0].Meta["success_rating"].(float64); r < 0 || r > 1 {
		t.Errorf("success rating %v", r)
	}
	for _, iv := range snap.ActiveInterventions {
		if iv.Kind == InterventionTradingHalt {
			t.Error("completed intervention still active")
		}
	}
	if snap.Summaries.Intervention.Completed != 1 {
		t.Errorf("summary = %+v", snap.Summaries.Intervention)
	}
}

func TestSideEffectsSkipDisabledSubsystems(t *testing.T) {
	p := DefaultParams()
	p.Disabled = []string{SubsystemCurrency}
	cfg := world.DefaultGenConfig(2, 120)
	s, err := New(Options{Seed: 2, Agents: 120, Params: p, World: &cfg, Logger: discardLogger(), Clock: fixedClock})
	if err != nil {
		t.Fatal(err)
	}
	c := s.World().Currency("dollar")
	reserves := c.Reserves
	iv := &Intervention{Kind: InterventionCurrencySupport, Intensity: 1}
	s.intervention.sideEffect(iv, SideReserveDepletion, 0.1)
	if !c.Reserves.Equal(reserves) {
		t.Error("reserve depletion applied with the currency engine disabled")
	}
	s.intervention.sideEffect(iv, SideLiquidityReduction, 0.1)
}

func TestNoLaunchBelowThreshold(t *testing.T) {
	s := newTestSim(t, 2, 120, nil)
	for i := 0; i < 5; i++ {
		s.Tick(1)
	}
	if s.systemicRisk() > s.params.Intervention.Threshold {
		t.Skipf("default world already at systemic risk %v", s.systemicRisk())
	}
	if n := len(eventsOfKind(s, EventInterventionStart)); n != 0 {
		t.Errorf("%d interventions launched below threshold", n)
	}
}

func TestBankSupportSkipsFailedBanks(t *testing.T) {
	s := newTestSim(t, 2, 120, nil)
	failed := s.World().Bank("commercial_bank_4")
	failed.Liquidity, failed.Confidence = 0, 0
	failed.ClearDeposits()
	failed.Failed = true
	reserves := failed.Reserves

	healthy := s.World().Bank("commercial_bank_2")
	liq := healthy.Liquidity
	weak := s.World().Bank("commercial_bank_3")
	weak.Liquidity = 0.2
	weakReserves := weak.Reserves

	if _, err := s.Admin(ForceIntervention{Kind: InterventionBankBailout, GovernmentID: "treasury"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Admin(ForceIntervention{Kind: InterventionLiquidityInjection, GovernmentID: "central_bank"}); err != nil {
		t.Fatal(err)
	}

	if failed.Liquidity != 0 || failed.Confidence != 0 || failed.Reserves != reserves || !failed.Failed {
		t.Errorf("failed bank revived: liq %v conf %v reserves %v", failed.Liquidity, failed.Confidence, failed.Reserves)
	}
	if healthy.Liquidity <= liq {
		t.Errorf("healthy bank liquidity %v, was %v", healthy.Liquidity, liq)
	}
	if weak.Reserves <= weakReserves {
		t.Errorf("bailout did not credit reserves: %v, was %v", weak.Reserves, weakReserves)
	}
}
