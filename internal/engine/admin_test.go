package engine

import (
	"errors"
	"testing"

	"github.com/talgya/crisis-world/internal/world"
)

func TestAdminErrors(t *testing.T) {
	s := newTestSim(t, 1, 100, nil)
	if _, err := s.Admin(ForceBubble{MarketID: "equities", Intensity: 0.5}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		cmd  Command
		want error
	}{
		{"nil command", nil, ErrInvalidArgument},
		{"unknown bank", ForceBankRun{BankID: "nope"}, ErrUnknownTarget},
		{"bubble intensity", ForceBubble{MarketID: "energy", Intensity: 1.5}, ErrInvalidArgument},
		{"duplicate bubble", ForceBubble{MarketID: "equities", Intensity: 0.5}, ErrAlreadyActive},
		{"burst without bubble", ForceBubbleBurst{MarketID: "energy"}, ErrNotActive},
		{"shock kind", ForceSupplyShock{MarketID: "energy", Kind: "meteor", Intensity: 0.5}, ErrInvalidArgument},
		{"unknown currency", ForceCurrencyCrisis{CurrencyID: "doubloon", Kind: CurrencyDevaluation, Intensity: 0.5}, ErrUnknownTarget},
		{"self war", ForceEconomicWar{FactionA: "eastern_bloc", FactionB: "eastern_bloc", WarKind: WarTrade}, ErrInvalidArgument},
		{"unknown faction", ForceSanction{Imposer: "atlantic_union", Target: "mars", Intensity: 0.5}, ErrUnknownTarget},
		{"intervention kind", ForceIntervention{Kind: "helicopter_money"}, ErrInvalidArgument},
		{"unknown government", ForceIntervention{Kind: InterventionDebtRelief, GovernmentID: "senate"}, ErrUnknownTarget},
		{"unknown indicator", SetIndicator{Indicator: "vibes", Value: 0.5}, ErrUnknownTarget},
		{"indicator range", SetIndicator{Indicator: IndicatorSystemicRisk, Value: -0.1}, ErrInvalidArgument},
		{"unknown alert", AcknowledgeAlert{AlertID: "alert-missing"}, ErrUnknownTarget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.Admin(tt.cmd)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var adminErr *AdminError
			if !errors.As(err, &adminErr) {
				t.Errorf("error %T is not an *AdminError", err)
			}
			if res.OK {
				t.Error("failed command reported OK")
			}
		})
	}
}

func TestAdminAcceptsPointers(t *testing.T) {
	s := newTestSim(t, 1, 100, nil)
	res, err := s.Admin(&ForceBankRun{BankID: "commercial_bank_2"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Command != CommandForceBankRun || res.EventID == "" {
		t.Errorf("result = %+v", res)
	}
}

func TestAdminAfterStop(t *testing.T) {
	s := newTestSim(t, 1, 100, nil)
	s.Stop()
	if _, err := s.Admin(ForceBankRun{BankID: "commercial_bank_2"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
	if _, err := s.Admin(Reset{}); err != nil {
		t.Fatalf("reset after stop: %v", err)
	}
	if s.Stopped() {
		t.Error("reset did not restart the simulation")
	}
}

func TestDisabledSubsystemCommandsAreUnknown(t *testing.T) {
	p := DefaultParams()
	p.Disabled = []string{SubsystemBankRun, SubsystemIndicators}
	cfg := world.DefaultGenConfig(1, 100)
	s, err := New(Options{Seed: 1, Agents: 100, Params: p, World: &cfg, Logger: discardLogger(), Clock: fixedClock})
	if err != nil {
		t.Fatal(err)
	}
	for _, cmd := range []Command{
		ForceBankRun{BankID: "commercial_bank_1"},
		SetIndicator{Indicator: IndicatorSystemicRisk, Value: 0.9},
	} {
		if _, err := s.Admin(cmd); !errors.Is(err, ErrUnknownCommand) {
			t.Errorf("%s: err = %v, want ErrUnknownCommand", cmd.CommandName(), err)
		}
	}
	snap := s.Tick(1)
	if snap.Summaries.BankRun != nil || snap.Summaries.Indicators != nil {
		t.Error("disabled engines published summaries")
	}
	if snap.Summaries.Bubble == nil {
		t.Error("enabled bubble engine missing from summaries")
	}
}

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{`{"type":"force_bank_run","bank_id":"commercial_bank_1"}`, ForceBankRun{BankID: "commercial_bank_1"}},
		{`{"type":"force_bubble","market_id":"technology","intensity":0.9}`, ForceBubble{MarketID: "technology", Intensity: 0.9}},
		{`{"type":"force_intervention","kind":"trading_halt"}`, ForceIntervention{Kind: "trading_halt"}},
		{`{"type":"set_indicator","indicator":"systemic_risk","value":0.95}`, SetIndicator{Indicator: "systemic_risk", Value: 0.95}},
		{`{"type":"reset"}`, Reset{}},
	}
	for _, tt := range tests {
		got, err := DecodeCommand([]byte(tt.in))
		if err != nil {
			t.Errorf("DecodeCommand(%s): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("DecodeCommand(%s) = %#v, want %#v", tt.in, got, tt.want)
		}
	}

	if _, err := DecodeCommand([]byte(`{"type":"launch_missiles"}`)); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("unknown type err = %v", err)
	}
	if _, err := DecodeCommand([]byte(`{"type":`)); err == nil {
		t.Error("malformed JSON decoded")
	}
}
