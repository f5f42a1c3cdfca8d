package engine

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/talgya/crisis-world/internal/world"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return epoch }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSim builds a default world, optionally adjusted by mutate.
func newTestSim(t *testing.T, seed int64, agents int, mutate func(*world.GenConfig)) *Simulation {
	t.Helper()
	cfg := world.DefaultGenConfig(seed, agents)
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(Options{
		Seed:   seed,
		Agents: agents,
		Params: DefaultParams(),
		World:  &cfg,
		Logger: discardLogger(),
		Clock:  fixedClock,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func eventsOfKind(s *Simulation, kind string) []Event {
	var out []Event
	for _, e := range s.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestNewRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"no agents", Options{Seed: 1}},
		{"unknown subsystem", Options{Seed: 1, Agents: 10, Params: func() Params {
			p := DefaultParams()
			p.Disabled = []string{"weather"}
			return p
		}()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Logger = discardLogger()
			if _, err := New(tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestInvariantsHoldEveryTick(t *testing.T) {
	s := newTestSim(t, 3, 300, nil)
	if _, err := s.Admin(ForceBubble{MarketID: "equities", Intensity: 0.8}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Admin(ForceSupplyShock{MarketID: "energy", Kind: ShockResourceShortage, Intensity: 0.9}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 150; i++ {
		snap := s.Tick(1)
		w := s.World()
		for _, a := range w.Agents {
			p := a.Psychology
			if a.Wealth.IsNegative() || a.Leverage < 1 {
				t.Fatalf("tick %d: agent %d wealth %s leverage %v", snap.Tick, a.ID, a.Wealth, a.Leverage)
			}
			for _, x := range []float64{p.Fear, p.Greed, p.Confidence, p.PanicSusceptibility, p.Sentiment, p.HerdingSensitivity} {
				if x < 0 || x > 1 {
					t.Fatalf("tick %d: agent %d psychology out of range: %+v", snap.Tick, a.ID, p)
				}
			}
			if p.RiskTolerance < 0 || p.RiskTolerance > 100 {
				t.Fatalf("tick %d: agent %d risk tolerance %v", snap.Tick, a.ID, p.RiskTolerance)
			}
		}
		for _, m := range w.Markets {
			if m.Supply < 0 || m.Demand <= 0 || !m.Price.IsPositive() {
				t.Fatalf("tick %d: market %s supply %v demand %v price %s", snap.Tick, m.ID, m.Supply, m.Demand, m.Price)
			}
			for _, x := range []float64{m.Volatility, m.Liquidity, m.Scarcity} {
				if x < 0 || x > 1 {
					t.Fatalf("tick %d: market %s level out of range", snap.Tick, m.ID)
				}
			}
		}
		for _, b := range w.Banks {
			for _, x := range []float64{b.Liquidity, b.Reserves, b.Confidence} {
				if x < 0 || x > 1 {
					t.Fatalf("tick %d: bank %s level out of range", snap.Tick, b.ID)
				}
			}
			if !b.Deposits.Equal(b.DepositSum()) {
				t.Fatalf("tick %d: bank %s deposits %s != sum %s", snap.Tick, b.ID, b.Deposits, b.DepositSum())
			}
		}
		for _, c := range snap.ActiveCrises {
			if c.Intensity < 0 || c.Intensity > 1 {
				t.Fatalf("tick %d: crisis %s intensity %v", snap.Tick, c.ID, c.Intensity)
			}
		}
		var sum, weights float64
		for _, ind := range snap.Indicators {
			sum += ind.Weight * ind.Value
			weights += ind.Weight
		}
		if got := sum / weights; abs(got-snap.CompositeRisk) > 1e-9 {
			t.Fatalf("tick %d: composite %v, weighted mean %v", snap.Tick, snap.CompositeRisk, got)
		}
		if snap.RiskLevel != RiskLevel(snap.CompositeRisk) {
			t.Fatalf("tick %d: level %s for composite %v", snap.Tick, snap.RiskLevel, snap.CompositeRisk)
		}
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func TestPhasesNeverMoveBackward(t *testing.T) {
	s := newTestSim(t, 5, 200, nil)
	if _, err := s.Admin(ForceCurrencyCrisis{CurrencyID: "pound", Kind: CurrencySpeculativeAttack, Intensity: 0.7}); err != nil {
		t.Fatal(err)
	}
	last := make(map[string]int)
	for i := 0; i < 80; i++ {
		for _, c := range s.Tick(1).ActiveCrises {
			r := phaseRank(c.Kind, c.Phase)
			if r < last[c.ID] {
				t.Fatalf("crisis %s moved from rank %d back to %s", c.ID, last[c.ID], c.Phase)
			}
			last[c.ID] = r
		}
	}
}

func TestDeterministicRuns(t *testing.T) {
	run := func() ([]byte, []byte) {
		s := newTestSim(t, 99, 250, nil)
		if _, err := s.Admin(ForceBankRun{BankID: "commercial_bank_2"}); err != nil {
			t.Fatal(err)
		}
		var snap Snapshot
		for i := 0; i < 60; i++ {
			snap = s.Tick(1)
		}
		return mustJSON(t, s.Events()), mustJSON(t, snap)
	}
	eventsA, snapA := run()
	eventsB, snapB := run()
	if !bytes.Equal(eventsA, eventsB) {
		t.Error("event logs differ between identical runs")
	}
	if !bytes.Equal(snapA, snapB) {
		t.Error("final snapshots differ between identical runs")
	}
}

func TestResetRestoresInitialSnapshot(t *testing.T) {
	s := newTestSim(t, 11, 200, nil)
	initial := mustJSON(t, s.Snapshot())

	if _, err := s.Admin(ForceBubble{MarketID: "technology", Intensity: 0.9}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 25; i++ {
		s.Tick(1)
	}
	if _, err := s.Admin(Reset{}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := mustJSON(t, s.Snapshot()); !bytes.Equal(got, initial) {
		t.Errorf("snapshot after reset differs from initial\n got: %s\nwant: %s", got, initial)
	}
	if s.CurrentTick() != 0 {
		t.Errorf("tick after reset = %d", s.CurrentTick())
	}
}

func TestSnapshotJSONRoundTrip(t *testing.T) {
	s := newTestSim(t, 21, 200, nil)
	if _, err := s.Admin(SetIndicator{Indicator: IndicatorSystemicRisk, Value: 0.95}); err != nil {
		t.Fatal(err)
	}
	var snap Snapshot
	for i := 0; i < 6; i++ {
		snap = s.Tick(1)
	}
	first := mustJSON(t, snap)
	var decoded Snapshot
	if err := json.Unmarshal(first, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if second := mustJSON(t, decoded); !bytes.Equal(first, second) {
		t.Errorf("re-encoded snapshot differs\nfirst:  %s\nsecond: %s", first, second)
	}
}

func TestSnapshotHistoryIsACopy(t *testing.T) {
	s := newTestSim(t, 21, 200, nil)
	snap := s.Tick(1)
	hist := snap.Indicators[IndicatorSystemicRisk].History
	if hist == nil || hist.Len() == 0 {
		t.Fatal("tick 1 snapshot has no systemic history")
	}
	before := hist.Values()

	for i := 0; i < 5; i++ {
		s.Tick(1)
	}
	live := s.Snapshot().Indicators[IndicatorSystemicRisk].History
	if live.Len() <= len(before) {
		t.Fatalf("live history did not grow: %d values", live.Len())
	}
	if got := hist.Values(); len(got) != len(before) || got[0] != before[0] {
		t.Errorf("older snapshot history changed: %v, was %v", got, before)
	}

	hist.Push(99)
	if last := s.Snapshot().Indicators[IndicatorSystemicRisk].History.Last(0); last == 99 {
		t.Error("writing a snapshot's history reached the live ring")
	}
}

func TestStopFreezesSimulation(t *testing.T) {
	s := newTestSim(t, 2, 100, nil)
	s.Tick(1)
	before := s.Tick(1)
	s.Stop()
	after := s.Tick(1)
	if after.Tick != before.Tick || s.CurrentTick() != 2 {
		t.Errorf("tick advanced after stop: %d -> %d", before.Tick, after.Tick)
	}
	if len(eventsOfKind(s, EventStopped)) != 1 {
		t.Error("expected one simulation_stopped event")
	}
	if s.Status().Running {
		t.Error("status reports running after stop")
	}
}

type panickySink struct{}

func (panickySink) OnEvent(Event)       { panic("event sink broke") }
func (panickySink) OnSnapshot(Snapshot) { panic("snapshot sink broke") }

type recordingSink struct {
	events    []Event
	snapshots []uint64
}

func (r *recordingSink) OnEvent(e Event)       { r.events = append(r.events, e) }
func (r *recordingSink) OnSnapshot(s Snapshot) { r.snapshots = append(r.snapshots, s.Tick) }

func TestSinkFailureDoesNotAbortTick(t *testing.T) {
	s := newTestSim(t, 4, 100, nil)
	s.Subscribe(AllEvents, panickySink{})
	rec := &recordingSink{}
	s.Subscribe(AllEvents, rec)

	if _, err := s.Admin(ForceBankRun{BankID: "commercial_bank_3"}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		s.Tick(1)
	}
	if s.CurrentTick() != 3 {
		t.Fatalf("tick = %d", s.CurrentTick())
	}
	if len(rec.snapshots) != 3 {
		t.Errorf("recording sink saw %d snapshots", len(rec.snapshots))
	}
	if len(rec.events) == 0 || rec.events[0].Kind != EventBankRunTriggered {
		t.Errorf("recording sink missed the admin event: %+v", rec.events)
	}
}

func TestSubscribeFiltersByKind(t *testing.T) {
	s := newTestSim(t, 4, 100, nil)
	rec := &recordingSink{}
	id := s.Subscribe(EventBubbleFormed, rec)
	if _, err := s.Admin(ForceBankRun{BankID: "commercial_bank_3"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Admin(ForceBubble{MarketID: "equities", Intensity: 0.5}); err != nil {
		t.Fatal(err)
	}
	if len(rec.events) != 1 || rec.events[0].Kind != EventBubbleFormed {
		t.Fatalf("filtered sink got %+v", rec.events)
	}
	s.Unsubscribe(id)
	s.Tick(1)
	if len(rec.snapshots) != 0 {
		t.Error("unsubscribed sink still receives snapshots")
	}
}

func TestStatus(t *testing.T) {
	s := newTestSim(t, 8, 120, nil)
	s.Tick(1)
	st := s.Status()
	if st.Tick != 1 || st.Seed != 8 || st.Agents != 120 || !st.Running {
		t.Errorf("unexpected status %+v", st)
	}
	if st.RiskLevel == "" {
		t.Error("status missing risk level")
	}
}
