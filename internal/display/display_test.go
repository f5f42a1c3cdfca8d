package display

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/talgya/crisis-world/internal/engine"
	"github.com/talgya/crisis-world/internal/scenario"
)

func TestBar(t *testing.T) {
	tests := []struct {
		in   float64
		full int
	}{
		{-1, 0},
		{0, 0},
		{0.5, 10},
		{1, 20},
		{3, 20},
	}
	for _, tt := range tests {
		got := bar(tt.in)
		if n := strings.Count(got, "█"); n != tt.full {
			t.Errorf("bar(%v) has %d full cells, want %d", tt.in, n, tt.full)
		}
		if n := strings.Count(got, "█") + strings.Count(got, "░"); n != barWidth {
			t.Errorf("bar(%v) width %d", tt.in, n)
		}
	}
}

func TestSnapshotShowsCrisesAndAlerts(t *testing.T) {
	sim, err := engine.New(engine.Options{
		Seed:   4,
		Agents: 100,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sim.Admin(engine.ForceBankRun{BankID: "commercial_bank_2"}); err != nil {
		t.Fatal(err)
	}
	if _, err := sim.Admin(engine.SetIndicator{Indicator: engine.IndicatorSystemicRisk, Value: 0.95}); err != nil {
		t.Fatal(err)
	}
	out := Snapshot(sim.Tick(1))
	for _, want := range []string{"tick 1", engine.IndicatorSystemicRisk, "pinned", "commercial_bank_2", "Alerts"} {
		if !strings.Contains(out, want) {
			t.Errorf("snapshot output missing %q:\n%s", want, out)
		}
	}

	status := Status(sim.Status())
	if !strings.Contains(status, "running") || !strings.Contains(status, "interventions") {
		t.Errorf("status output:\n%s", status)
	}
}

func TestEventsKeepsTail(t *testing.T) {
	events := []engine.Event{
		{Tick: 1, Description: "first"},
		{Tick: 2, Description: "second"},
		{Tick: 3, Description: "third"},
	}
	out := Events(events, 2)
	if strings.Contains(out, "first") || !strings.Contains(out, "second") || !strings.Contains(out, "third") {
		t.Errorf("Events output:\n%s", out)
	}
}

func TestScenarioReport(t *testing.T) {
	res := scenario.Result{
		Name:        "bubble_burst",
		Description: "forced bubble",
		Seed:        42,
		Ticks:       120,
		Checks: []scenario.Check{
			{Name: "bubble burst", OK: true},
			{Name: "final price below half of peak", OK: false, Detail: "final 80.00, peak 150.00"},
		},
		Events: []engine.Event{{Kind: engine.EventBubbleBurst}, {Kind: engine.EventBubblePhase}, {Kind: engine.EventBubblePhase}},
	}
	out := Scenario(res)
	for _, want := range []string{"bubble_burst", "FAIL", "final 80.00, peak 150.00", engine.EventBubblePhase} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestSnapshotMarksOnlyPinnedIndicators(t *testing.T) {
	snap := engine.Snapshot{
		Tick: 3,
		Indicators: map[string]engine.Indicator{
			engine.IndicatorSystemicRisk:    {Name: engine.IndicatorSystemicRisk, Value: 0.9, Pinned: 7},
			engine.IndicatorLiquidityStress: {Name: engine.IndicatorLiquidityStress, Value: 0.2},
		},
	}
	out := Snapshot(snap)
	if n := strings.Count(out, "pinned"); n != 1 {
		t.Errorf("want one pinned marker, got %d:\n%s", n, out)
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, engine.IndicatorLiquidityStress) && strings.Contains(line, "pinned") {
			t.Errorf("unpinned indicator marked pinned: %q", line)
		}
	}
}
