// Package persistence provides SQLite-based simulation state storage: the
// seed, the configuration, snapshots keyed by tick and the event log.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/crisis-world/internal/engine"
)

// ErrNoSnapshot is returned when no snapshot is stored for a tick.
var ErrNoSnapshot = errors.New("no snapshot stored")

// Meta keys.
const (
	MetaSeed         = "seed"
	MetaConfig       = "config"
	MetaLastTick     = "last_tick"
	MetaLastEventSeq = "last_event_seq"
)

// DB wraps a SQLite connection for simulation persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		tick INTEGER PRIMARY KEY,
		composite_risk REAL NOT NULL,
		risk_level TEXT NOT NULL,
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY,
		id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		kind TEXT NOT NULL,
		category TEXT NOT NULL,
		target TEXT NOT NULL,
		description TEXT NOT NULL,
		meta_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sim_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// eventRow is the stored form of an engine.Event.
type eventRow struct {
	Seq         uint64 `db:"seq"`
	ID          string `db:"id"`
	Tick        uint64 `db:"tick"`
	Kind        string `db:"kind"`
	Category    string `db:"category"`
	Target      string `db:"target"`
	Description string `db:"description"`
	MetaJSON    string `db:"meta_json"`
}

func (r eventRow) event() (engine.Event, error) {
	e := engine.Event{
		ID:          r.ID,
		Seq:         r.Seq,
		Tick:        r.Tick,
		Kind:        r.Kind,
		Category:    r.Category,
		Target:      r.Target,
		Description: r.Description,
	}
	if r.MetaJSON != "" && r.MetaJSON != "null" {
		if err := json.Unmarshal([]byte(r.MetaJSON), &e.Meta); err != nil {
			return e, fmt.Errorf("decode meta of event %d: %w", r.Seq, err)
		}
	}
	return e, nil
}

// SaveSnapshot stores snap as JSON under its tick, replacing any earlier copy.
func (db *DB) SaveSnapshot(snap engine.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %d: %w", snap.Tick, err)
	}
	_, err = db.conn.Exec(
		"INSERT OR REPLACE INTO snapshots (tick, composite_risk, risk_level, data) VALUES (?, ?, ?, ?)",
		snap.Tick, snap.CompositeRisk, snap.RiskLevel, string(data),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot %d: %w", snap.Tick, err)
	}
	return nil
}

// LoadSnapshot decodes the snapshot stored for tick.
func (db *DB) LoadSnapshot(tick uint64) (engine.Snapshot, error) {
	var data string
	err := db.conn.Get(&data, "SELECT data FROM snapshots WHERE tick = ?", tick)
	return decodeSnapshot(tick, data, err)
}

// LatestSnapshot decodes the snapshot with the highest tick.
func (db *DB) LatestSnapshot() (engine.Snapshot, error) {
	var row struct {
		Tick uint64 `db:"tick"`
		Data string `db:"data"`
	}
	err := db.conn.Get(&row, "SELECT tick, data FROM snapshots ORDER BY tick DESC LIMIT 1")
	return decodeSnapshot(row.Tick, row.Data, err)
}

func decodeSnapshot(tick uint64, data string, err error) (engine.Snapshot, error) {
	var snap engine.Snapshot
	if errors.Is(err, sql.ErrNoRows) {
		return snap, ErrNoSnapshot
	}
	if err != nil {
		return snap, fmt.Errorf("select snapshot %d: %w", tick, err)
	}
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return snap, fmt.Errorf("decode snapshot %d: %w", tick, err)
	}
	return snap, nil
}

// SnapshotTicks lists the stored snapshot ticks in ascending order.
func (db *DB) SnapshotTicks() ([]uint64, error) {
	var ticks []uint64
	err := db.conn.Select(&ticks, "SELECT tick FROM snapshots ORDER BY tick")
	return ticks, err
}

// SaveEvents appends events to the log. Events already stored are skipped.
func (db *DB) SaveEvents(events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT OR IGNORE INTO events
		(seq, id, tick, kind, category, target, description, meta_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		meta, err := json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("encode meta of event %d: %w", e.Seq, err)
		}
		if _, err := stmt.Exec(e.Seq, e.ID, e.Tick, e.Kind, e.Category, e.Target, e.Description, string(meta)); err != nil {
			return fmt.Errorf("insert event %d: %w", e.Seq, err)
		}
	}

	return tx.Commit()
}

// RecentEvents returns the most recent N events, oldest first.
func (db *DB) RecentEvents(limit int) ([]engine.Event, error) {
	var rows []eventRow
	err := db.conn.Select(&rows,
		`SELECT seq, id, tick, kind, category, target, description, meta_json
		 FROM events ORDER BY seq DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	out := make([]engine.Event, len(rows))
	for i, r := range rows {
		e, err := r.event()
		if err != nil {
			return nil, err
		}
		out[len(rows)-1-i] = e
	}
	return out, nil
}

// EventsOfKind returns every stored event of kind, oldest first.
func (db *DB) EventsOfKind(kind string) ([]engine.Event, error) {
	var rows []eventRow
	err := db.conn.Select(&rows,
		`SELECT seq, id, tick, kind, category, target, description, meta_json
		 FROM events WHERE kind = ? ORDER BY seq`,
		kind,
	)
	if err != nil {
		return nil, err
	}
	out := make([]engine.Event, 0, len(rows))
	for _, r := range rows {
		e, err := r.event()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// SaveMeta stores a key-value pair in simulation metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO sim_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM sim_meta WHERE key = ?", key)
	return value, err
}

// Seed returns the stored seed.
func (db *DB) Seed() (int64, error) {
	v, err := db.GetMeta(MetaSeed)
	if err != nil {
		return 0, fmt.Errorf("get seed: %w", err)
	}
	return strconv.ParseInt(v, 10, 64)
}

// SaveState performs a full save: seed, config, the current snapshot and the
// events logged since the previous save. Call it between ticks.
func (db *DB) SaveState(sim *engine.Simulation, config []byte) error {
	snap := sim.Snapshot()
	slog.Info("saving simulation state", "tick", snap.Tick, "risk", snap.RiskLevel)

	if err := db.SaveMeta(MetaSeed, strconv.FormatInt(sim.Seed(), 10)); err != nil {
		return fmt.Errorf("save seed: %w", err)
	}
	if config != nil {
		if err := db.SaveMeta(MetaConfig, string(config)); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
	}
	if err := db.SaveSnapshot(snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	var since uint64
	if v, err := db.GetMeta(MetaLastEventSeq); err == nil {
		since, _ = strconv.ParseUint(v, 10, 64)
	}
	all := sim.Events()
	if n := len(all); since > 0 && (n == 0 || all[n-1].Seq < since) {
		// The simulation was reset; its sequence numbers restarted.
		if _, err := db.conn.Exec("DELETE FROM events"); err != nil {
			return fmt.Errorf("clear events: %w", err)
		}
		since = 0
	}
	events := sim.EventsSince(since)
	if err := db.SaveEvents(events); err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	if n := len(events); n > 0 {
		if err := db.SaveMeta(MetaLastEventSeq, strconv.FormatUint(events[n-1].Seq, 10)); err != nil {
			return fmt.Errorf("save meta: %w", err)
		}
	}
	if err := db.SaveMeta(MetaLastTick, strconv.FormatUint(snap.Tick, 10)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}

	slog.Info("simulation state saved", "events", len(events))
	return nil
}
