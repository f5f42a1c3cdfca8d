package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEngineStepAndDo(t *testing.T) {
	eng := NewEngine(newTestSim(t, 5, 100, nil))
	var seen []uint64
	eng.OnTick = func(s Snapshot) { seen = append(seen, s.Tick) }

	for i := 0; i < 3; i++ {
		if _, stopped := eng.Step(); stopped {
			t.Fatal("fresh simulation reported stopped")
		}
	}
	if len(seen) != 3 || seen[2] != 3 {
		t.Errorf("OnTick saw %v", seen)
	}

	var tick uint64
	eng.Do(func(s *Simulation) { tick = s.CurrentTick() })
	if tick != 3 {
		t.Errorf("tick inside Do = %d", tick)
	}

	if _, err := eng.Admin(ForceBankRun{BankID: "commercial_bank_1"}); err != nil {
		t.Fatal(err)
	}
	eng.Do(func(s *Simulation) { s.Stop() })
	if _, stopped := eng.Step(); !stopped {
		t.Error("Step after Stop did not report stopped")
	}
}

func TestEngineSpeed(t *testing.T) {
	eng := NewEngine(newTestSim(t, 5, 50, nil))
	for _, bad := range []float64{-1, 101} {
		if err := eng.SetSpeed(bad); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("SetSpeed(%v) err = %v", bad, err)
		}
	}
	if err := eng.SetSpeed(0); err != nil || eng.Speed() != 0 {
		t.Errorf("pause failed: %v, speed %v", err, eng.Speed())
	}
}

func TestEngineRunStopsOnCancel(t *testing.T) {
	eng := NewEngine(newTestSim(t, 5, 50, nil))
	eng.Interval = time.Millisecond
	eng.SaveEvery = 2
	saves := make(chan uint64, 100)
	eng.OnSave = func(s Snapshot) { saves <- s.Tick }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	select {
	case tick := <-saves:
		if tick%2 != 0 {
			t.Errorf("save at tick %d", tick)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("engine never saved")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if eng.Running() {
		t.Error("engine still running")
	}
}
