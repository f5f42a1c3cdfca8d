package agents

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSpawnPopulationDeterministic(t *testing.T) {
	markets := []string{"energy", "equities", "technology"}
	a := NewSpawner(11).SpawnPopulation(50, markets)
	b := NewSpawner(11).SpawnPopulation(50, markets)
	for i := range a {
		if !a[i].Wealth.Equal(b[i].Wealth) || a[i].Psychology != b[i].Psychology {
			t.Fatalf("agent %d differs between identical seeds", i)
		}
	}
}

func TestSpawnedAgentsInRange(t *testing.T) {
	pop := NewSpawner(5).SpawnPopulation(200, []string{"a", "b", "c", "d"})
	seen := make(map[AgentID]bool)
	for _, a := range pop {
		if seen[a.ID] {
			t.Fatalf("duplicate id %d", a.ID)
		}
		seen[a.ID] = true
		if !a.Active {
			t.Errorf("agent %d spawned inactive", a.ID)
		}
		if a.Wealth.IsNegative() {
			t.Errorf("agent %d negative wealth", a.ID)
		}
		if a.Leverage < 1 {
			t.Errorf("agent %d leverage %v < 1", a.ID, a.Leverage)
		}
		if n := len(a.PendingActions); n < 1 || n > 3 {
			t.Errorf("agent %d trades in %d markets", a.ID, n)
		}
		if a.Repair() {
			t.Errorf("agent %d needed repair after spawn", a.ID)
		}
	}
}

func TestRepairClamps(t *testing.T) {
	a := &Agent{
		Wealth:   decimal.NewFromInt(-5),
		Leverage: 0.5,
		Psychology: Psychology{
			Fear:          1.4,
			RiskTolerance: 130,
		},
	}
	if !a.Repair() {
		t.Fatal("Repair reported no change")
	}
	if !a.Wealth.IsZero() || a.Leverage != 1 || a.Psychology.Fear != 1 || a.Psychology.RiskTolerance != 100 {
		t.Errorf("unexpected repaired agent: %+v", a)
	}
}

func TestDebitNeverOverdraws(t *testing.T) {
	a := &Agent{Wealth: decimal.NewFromInt(10)}
	got := a.Debit(decimal.NewFromInt(25))
	if !got.Equal(decimal.NewFromInt(10)) || !a.Wealth.IsZero() {
		t.Errorf("debit took %s leaving %s", got, a.Wealth)
	}
}

func TestRiskAversion(t *testing.T) {
	p := Psychology{RiskTolerance: 25}
	if got := p.RiskAversion(); got != 0.75 {
		t.Errorf("RiskAversion = %v, want 0.75", got)
	}
}
