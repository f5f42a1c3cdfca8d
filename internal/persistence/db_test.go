package persistence

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/talgya/crisis-world/internal/engine"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "crisis.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newSim(t *testing.T, seed int64) *engine.Simulation {
	t.Helper()
	sim, err := engine.New(engine.Options{
		Seed:   seed,
		Agents: 150,
		Params: engine.DefaultParams(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:  func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return sim
}

func TestSnapshotRoundTrip(t *testing.T) {
	db := openTestDB(t)
	sim := newSim(t, 9)
	if _, err := sim.Admin(engine.ForceBankRun{BankID: "commercial_bank_1"}); err != nil {
		t.Fatal(err)
	}
	var snap engine.Snapshot
	for i := 0; i < 5; i++ {
		snap = sim.Tick(1)
	}
	if err := db.SaveSnapshot(snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, err := db.LoadSnapshot(snap.Tick)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	want, _ := json.Marshal(snap)
	have, _ := json.Marshal(got)
	if !bytes.Equal(want, have) {
		t.Errorf("loaded snapshot differs\nwant: %s\nhave: %s", want, have)
	}

	if _, err := db.LoadSnapshot(snap.Tick + 1); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("missing tick error = %v, want ErrNoSnapshot", err)
	}
}

func TestLatestSnapshot(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.LatestSnapshot(); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("empty db error = %v, want ErrNoSnapshot", err)
	}
	sim := newSim(t, 3)
	for i := 0; i < 3; i++ {
		if err := db.SaveSnapshot(sim.Tick(1)); err != nil {
			t.Fatal(err)
		}
	}
	latest, err := db.LatestSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if latest.Tick != 3 {
		t.Errorf("latest tick = %d, want 3", latest.Tick)
	}
	ticks, err := db.SnapshotTicks()
	if err != nil {
		t.Fatal(err)
	}
	if len(ticks) != 3 || ticks[0] != 1 || ticks[2] != 3 {
		t.Errorf("ticks = %v", ticks)
	}
}

func TestSaveStateIsIncremental(t *testing.T) {
	db := openTestDB(t)
	sim := newSim(t, 5)
	cfg := []byte("simulation:\n  seed: 5\n")

	sim.Tick(1)
	if _, err := sim.Admin(engine.ForceBankRun{BankID: "commercial_bank_2"}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveState(sim, cfg); err != nil {
		t.Fatalf("first save: %v", err)
	}
	for i := 0; i < 4; i++ {
		sim.Tick(1)
	}
	if err := db.SaveState(sim, cfg); err != nil {
		t.Fatalf("second save: %v", err)
	}

	stored, err := db.RecentEvents(len(sim.Events()) + 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != len(sim.Events()) {
		t.Fatalf("stored %d events, simulation logged %d", len(stored), len(sim.Events()))
	}
	for i, e := range sim.Events() {
		if stored[i].Seq != e.Seq || stored[i].Kind != e.Kind || stored[i].Target != e.Target {
			t.Errorf("event %d: stored %+v, want %+v", i, stored[i], e)
		}
	}

	runs, err := db.EventsOfKind(engine.EventBankRunTriggered)
	if err != nil {
		t.Fatal(err)
	}
	forced := 0
	for _, e := range runs {
		if e.Target == "commercial_bank_2" {
			forced++
		}
	}
	if forced != 1 {
		t.Errorf("stored %d bank runs on commercial_bank_2, want 1", forced)
	}

	seed, err := db.Seed()
	if err != nil || seed != 5 {
		t.Errorf("Seed() = %d, %v", seed, err)
	}
	if v, err := db.GetMeta(MetaConfig); err != nil || v != string(cfg) {
		t.Errorf("config meta = %q, %v", v, err)
	}
	if v, _ := db.GetMeta(MetaLastTick); v != "5" {
		t.Errorf("last_tick = %q, want 5", v)
	}
}
