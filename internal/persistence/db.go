// Package persistence provides SQLite-based run state storage.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/swim-mobility/internal/engine"
	"github.com/talgya/swim-mobility/internal/geom"
	"github.com/talgya/swim-mobility/internal/locations"
	"github.com/talgya/swim-mobility/internal/mobility"
	"github.com/talgya/swim-mobility/internal/occupancy"
)

// Meta keys.
const (
	MetaRunID   = "run_id"
	MetaSimTime = "sim_time"
	MetaSeed    = "seed"
)

// DB wraps a SQLite connection for run state persistence.
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
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		seed INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		config_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS locations (
		idx INTEGER PRIMARY KEY,
		x REAL NOT NULL,
		y REAL NOT NULL,
		z REAL NOT NULL,
		occupancy INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS nodes (
		id INTEGER PRIMARY KEY,
		home_x REAL NOT NULL,
		home_y REAL NOT NULL,
		home_z REAL NOT NULL,
		pos_x REAL NOT NULL,
		pos_y REAL NOT NULL,
		pos_z REAL NOT NULL,
		target_x REAL NOT NULL,
		target_y REAL NOT NULL,
		target_z REAL NOT NULL,
		anchor_x REAL NOT NULL,
		anchor_y REAL NOT NULL,
		anchor_z REAL NOT NULL,
		state INTEGER NOT NULL,
		first_step INTEGER NOT NULL,
		next_event REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS occupancy_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		time REAL NOT NULL,
		node_id INTEGER NOT NULL,
		x REAL NOT NULL,
		y REAL NOT NULL,
		z REAL NOT NULL,
		direction INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_occupancy_events_time ON occupancy_events(time);
	CREATE INDEX IF NOT EXISTS idx_occupancy_events_node ON occupancy_events(node_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveRun records a new run with a fresh ID and makes it the current run.
func (db *DB) SaveRun(seed int64, cfg any) (string, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	id := uuid.NewString()
	_, err = db.conn.Exec(
		"INSERT INTO runs (id, seed, started_at, config_json) VALUES (?, ?, ?, ?)",
		id, seed, time.Now().UTC().Format(time.RFC3339), string(cfgJSON),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	if err := db.SaveMeta(MetaRunID, id); err != nil {
		return "", err
	}
	if err := db.SaveMeta(MetaSeed, strconv.FormatInt(seed, 10)); err != nil {
		return "", err
	}
	return id, nil
}

// HasRunState reports whether a resumable run is stored.
func (db *DB) HasRunState() bool {
	id, err := db.GetMeta(MetaRunID)
	if err != nil || id == "" {
		return false
	}
	var n int
	if err := db.conn.Get(&n, "SELECT COUNT(*) FROM nodes"); err != nil {
		return false
	}
	return n > 0
}

type locationRow struct {
	Idx       int     `db:"idx"`
	X         float64 `db:"x"`
	Y         float64 `db:"y"`
	Z         float64 `db:"z"`
	Occupancy int     `db:"occupancy"`
}

// SaveLocations writes the registry contents (full replace).
func (db *DB) SaveLocations(locs []locations.Location) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := saveLocations(tx, locs); err != nil {
		return err
	}
	return tx.Commit()
}

func saveLocations(tx *sqlx.Tx, locs []locations.Location) error {
	if _, err := tx.Exec("DELETE FROM locations"); err != nil {
		return err
	}
	stmt, err := tx.Preparex("INSERT INTO locations (idx, x, y, z, occupancy) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, l := range locs {
		if _, err := stmt.Exec(i, l.Position.X, l.Position.Y, l.Position.Z, l.Occupancy); err != nil {
			return fmt.Errorf("insert location %d: %w", i, err)
		}
	}
	return nil
}

// LoadLocations reads the stored registry contents in their original order.
func (db *DB) LoadLocations() ([]locations.Location, error) {
	var rows []locationRow
	if err := db.conn.Select(&rows, "SELECT idx, x, y, z, occupancy FROM locations ORDER BY idx"); err != nil {
		return nil, err
	}
	out := make([]locations.Location, len(rows))
	for i, r := range rows {
		out[i] = locations.Location{
			Position:  geom.Coord{X: r.X, Y: r.Y, Z: r.Z},
			Occupancy: r.Occupancy,
		}
	}
	return out, nil
}

type nodeRow struct {
	ID        int     `db:"id"`
	HomeX     float64 `db:"home_x"`
	HomeY     float64 `db:"home_y"`
	HomeZ     float64 `db:"home_z"`
	PosX      float64 `db:"pos_x"`
	PosY      float64 `db:"pos_y"`
	PosZ      float64 `db:"pos_z"`
	TargetX   float64 `db:"target_x"`
	TargetY   float64 `db:"target_y"`
	TargetZ   float64 `db:"target_z"`
	AnchorX   float64 `db:"anchor_x"`
	AnchorY   float64 `db:"anchor_y"`
	AnchorZ   float64 `db:"anchor_z"`
	State     int     `db:"state"`
	FirstStep bool    `db:"first_step"`
	NextEvent float64 `db:"next_event"`
}

// SaveNodes writes node decision state with each node's next event time
// (full replace). next is indexed like snaps.
func (db *DB) SaveNodes(snaps []mobility.Snapshot, next []float64) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := saveNodes(tx, snaps, next); err != nil {
		return err
	}
	return tx.Commit()
}

func saveNodes(tx *sqlx.Tx, snaps []mobility.Snapshot, next []float64) error {
	if len(next) != len(snaps) {
		return fmt.Errorf("save nodes: %d snapshots but %d event times", len(snaps), len(next))
	}
	if _, err := tx.Exec("DELETE FROM nodes"); err != nil {
		return err
	}

	for i, s := range snaps {
		_, err := tx.NamedExec(`INSERT INTO nodes
			(id, home_x, home_y, home_z, pos_x, pos_y, pos_z, target_x, target_y, target_z,
			 anchor_x, anchor_y, anchor_z, state, first_step, next_event)
			VALUES (:id, :home_x, :home_y, :home_z, :pos_x, :pos_y, :pos_z, :target_x, :target_y, :target_z,
			 :anchor_x, :anchor_y, :anchor_z, :state, :first_step, :next_event)`,
			nodeRow{
				ID:    s.ID,
				HomeX: s.Home.X, HomeY: s.Home.Y, HomeZ: s.Home.Z,
				PosX: s.LastPosition.X, PosY: s.LastPosition.Y, PosZ: s.LastPosition.Z,
				TargetX: s.Target.X, TargetY: s.Target.Y, TargetZ: s.Target.Z,
				AnchorX: s.LastAnchor.X, AnchorY: s.LastAnchor.Y, AnchorZ: s.LastAnchor.Z,
				State:     int(s.State),
				FirstStep: s.FirstStep,
				NextEvent: next[i],
			},
		)
		if err != nil {
			return fmt.Errorf("insert node %d: %w", s.ID, err)
		}
	}
	return nil
}

// LoadNodes reads node snapshots ordered by ID, with their next event times.
func (db *DB) LoadNodes() ([]mobility.Snapshot, []float64, error) {
	var rows []nodeRow
	if err := db.conn.Select(&rows, "SELECT * FROM nodes ORDER BY id"); err != nil {
		return nil, nil, err
	}
	snaps := make([]mobility.Snapshot, len(rows))
	next := make([]float64, len(rows))
	for i, r := range rows {
		snaps[i] = mobility.Snapshot{
			ID:           r.ID,
			Home:         geom.Coord{X: r.HomeX, Y: r.HomeY, Z: r.HomeZ},
			LastPosition: geom.Coord{X: r.PosX, Y: r.PosY, Z: r.PosZ},
			Target:       geom.Coord{X: r.TargetX, Y: r.TargetY, Z: r.TargetZ},
			LastAnchor:   geom.Coord{X: r.AnchorX, Y: r.AnchorY, Z: r.AnchorZ},
			State:        mobility.State(r.State),
			FirstStep:    r.FirstStep,
		}
		next[i] = r.NextEvent
	}
	return snaps, next, nil
}

// AppendDeltas appends occupancy deltas to the event log.
func (db *DB) AppendDeltas(deltas []occupancy.Delta) error {
	if len(deltas) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(
		"INSERT INTO occupancy_events (time, node_id, x, y, z, direction) VALUES (?, ?, ?, ?, ?, ?)",
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range deltas {
		if _, err := stmt.Exec(d.Time, d.NodeID, d.X, d.Y, d.Z, int(d.Direction)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecentDeltas returns the most recent N deltas, newest first.
func (db *DB) RecentDeltas(limit int) ([]occupancy.Delta, error) {
	var deltas []occupancy.Delta
	err := db.conn.Select(&deltas,
		`SELECT time AS "time", node_id AS "nodeid", x AS "x", y AS "y", z AS "z", direction AS "direction"
		 FROM occupancy_events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	return deltas, err
}

// SaveMeta stores a key-value pair in run metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value. A missing key returns "" and no error.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SaveSnapshot performs a full save of registry, node state, and the clock
// in one transaction, from a single consistent capture of sim.
func (db *DB) SaveSnapshot(sim *engine.Simulation) error {
	return db.SaveCapture(sim.Capture())
}

// SaveCapture writes c in one transaction.
func (db *DB) SaveCapture(c engine.Capture) error {
	slog.Info("saving run state", "nodes", len(c.Nodes), "locations", len(c.Locations), "time", engine.SimTime(c.Time))

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := saveLocations(tx, c.Locations); err != nil {
		return fmt.Errorf("save locations: %w", err)
	}
	if err := saveNodes(tx, c.Nodes, c.NextEvents); err != nil {
		return fmt.Errorf("save nodes: %w", err)
	}
	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		MetaSimTime, strconv.FormatFloat(c.Time, 'g', -1, 64),
	); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	slog.Info("run state saved")
	return nil
}

// LoadSimTime returns the saved clock, or 0 when none is stored.
func (db *DB) LoadSimTime() (float64, error) {
	v, err := db.GetMeta(MetaSimTime)
	if err != nil || v == "" {
		return 0, err
	}
	return strconv.ParseFloat(v, 64)
}
