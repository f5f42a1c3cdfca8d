package social

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRelateIsSymmetric(t *testing.T) {
	a := NewFaction("atlantic_union", "Atlantic Union", 0.8, 0.7)
	b := NewFaction("eastern_bloc", "Eastern Bloc", 0.7, 0.6)
	Relate(a, b, 0.6, 100)

	if a.Relation("eastern_bloc").Trust != 0.6 || b.Relation("atlantic_union").Trust != 0.6 {
		t.Error("trust not recorded on both sides")
	}
	a.Relation("eastern_bloc").Trust = 0.2
	if b.Relation("atlantic_union").Trust != 0.6 {
		t.Error("relationships share state")
	}
	if a.Relation("nobody") != nil {
		t.Error("expected nil for unknown faction")
	}
}

func TestPartnersSorted(t *testing.T) {
	f := NewFaction("x", "X", 0.5, 0.5)
	for _, id := range []string{"zeta", "alpha", "mid"} {
		Relate(f, NewFaction(id, id, 0.5, 0.5), 0.5, 10)
	}
	got := f.Partners()
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Partners() = %v, want %v", got, want)
		}
	}
}

func TestFactionRepair(t *testing.T) {
	f := NewFaction("x", "X", 0.5, 0.5)
	f.WarExhaustion = 1.3
	if !f.Repair() || f.WarExhaustion != 1 {
		t.Errorf("WarExhaustion = %v after repair", f.WarExhaustion)
	}
}

func TestGovernmentSpend(t *testing.T) {
	g := &Government{
		Capacity:          decimal.NewFromInt(1000),
		AvailableCapacity: decimal.NewFromInt(400),
		Tools:             map[string]float64{"policy_rate": 0.9},
	}
	if got := g.CapacityRatio(); got != 0.4 {
		t.Errorf("CapacityRatio = %v", got)
	}
	g.Spend(decimal.NewFromInt(500))
	if !g.AvailableCapacity.IsZero() {
		t.Errorf("available = %s, want 0", g.AvailableCapacity)
	}
	if eff, ok := g.Tool("policy_rate"); !ok || eff != 0.9 {
		t.Errorf("Tool = %v, %v", eff, ok)
	}
	if _, ok := g.Tool("bailout_fund"); ok {
		t.Error("unexpected tool")
	}
}
