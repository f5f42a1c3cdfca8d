package world

import (
	"testing"
)

func TestGenerateDefault(t *testing.T) {
	w := Generate(DefaultGenConfig(42, 200))

	if len(w.Agents) != 200 {
		t.Fatalf("agents = %d", len(w.Agents))
	}
	if w.Market("technology") == nil || w.Bank("commercial_bank_1") == nil {
		t.Fatal("expected default market and bank")
	}
	if w.Faction("atlantic_union").Relation("eastern_bloc") == nil {
		t.Error("faction relationships not seeded")
	}
	if g := w.Government("central_bank"); g == nil || !g.AvailableCapacity.Equal(g.Capacity) {
		t.Error("central bank missing or capacity wrong")
	}
	for i := 1; i < len(w.Markets); i++ {
		if w.Markets[i-1].ID >= w.Markets[i].ID {
			t.Fatalf("markets not sorted: %s before %s", w.Markets[i-1].ID, w.Markets[i].ID)
		}
	}
	if fixed := w.Repair(); len(fixed) != 0 {
		t.Errorf("fresh world needed repair: %v", fixed)
	}
}

func TestDepositorsAssigned(t *testing.T) {
	cfg := DefaultGenConfig(1, 500)
	b := cfg.Bank("commercial_bank_1")
	b.Depositors = 60
	b.Liquidity = 0.3
	b.Confidence = 0.4
	w := Generate(cfg)

	bank := w.Bank("commercial_bank_1")
	if got := len(bank.Depositors()); got != 60 {
		t.Errorf("commercial_bank_1 depositors = %d, want 60", got)
	}
	if bank.Liquidity != 0.3 || bank.Confidence != 0.4 {
		t.Errorf("bank levels = %v/%v", bank.Liquidity, bank.Confidence)
	}

	preferred := 0
	for _, a := range w.Agents {
		if a.PreferredBank == "commercial_bank_1" {
			preferred++
			if !bank.DepositOf(a.ID).IsPositive() {
				t.Errorf("agent %d prefers the bank but has no deposit", a.ID)
			}
		}
		if a.PreferredBank == "" {
			t.Errorf("agent %d has no bank", a.ID)
		}
	}
	if preferred != 60 {
		t.Errorf("preferred = %d, want 60", preferred)
	}
	if !bank.Deposits.Equal(bank.DepositSum()) {
		t.Error("deposits do not match the depositor map")
	}
}

func TestGenerateDeterministic(t *testing.T) {
	a := Generate(DefaultGenConfig(9, 100))
	b := Generate(DefaultGenConfig(9, 100))
	for i := range a.Agents {
		if a.Agents[i].PreferredBank != b.Agents[i].PreferredBank || !a.Agents[i].Wealth.Equal(b.Agents[i].Wealth) {
			t.Fatalf("agent %d differs", i)
		}
	}
	for i := range a.Banks {
		if !a.Banks[i].Deposits.Equal(b.Banks[i].Deposits) {
			t.Fatalf("bank %s deposits differ", a.Banks[i].ID)
		}
	}
}

func TestChainLookups(t *testing.T) {
	w := Generate(DefaultGenConfig(3, 10))
	consuming := w.ChainsConsuming("energy")
	if len(consuming) != 4 {
		t.Fatalf("chains consuming energy = %d, want 4", len(consuming))
	}
	found := false
	for _, c := range consuming {
		if c.Produces("manufacturing") {
			found = true
		}
	}
	if !found {
		t.Error("manufacturing chain does not consume energy")
	}
	if got := w.ChainsProducing("consumer_goods"); len(got) != 1 || got[0].ID != "consumer_chain" {
		t.Errorf("ChainsProducing(consumer_goods) = %v", got)
	}
}

func TestConditionsBounded(t *testing.T) {
	c := NewConditions(5, 0.05)
	for track := 0; track < 9; track++ {
		for tick := uint64(0); tick < 300; tick += 7 {
			v := c.At(track, tick)
			if v < 0.95-1e-9 || v > 1.05+1e-9 {
				t.Fatalf("conditions(%d,%d) = %v out of band", track, tick, v)
			}
		}
	}
	if again := NewConditions(5, 0.05).At(2, 40); again != c.At(2, 40) {
		t.Error("conditions not reproducible")
	}
	var none *Conditions
	if none.At(0, 0) != 1 {
		t.Error("nil conditions should be neutral")
	}
}
