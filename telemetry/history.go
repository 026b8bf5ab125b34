package telemetry

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sanjibansg/general-perceivers/metrics"
	_ "modernc.org/sqlite"
)

// History records every metric into a SQLite database, one row per
// scalar or per-class entry, so runs can be compared and queried
// after the fact.
type History struct {
	db    *sql.DB
	runID string
}

// OpenHistory opens or creates the history database at path and
// registers a new run in it
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs(
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating runs table: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS metrics(
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			key TEXT NOT NULL,
			class INTEGER,
			value REAL NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating metrics table: %w", err)
	}

	runID := uuid.New().String()
	if _, err := db.Exec("INSERT INTO runs(id, started_at) VALUES(?, ?)",
		runID, time.Now().UTC().Format(time.RFC3339)); err != nil {
		db.Close()
		return nil, fmt.Errorf("registering run: %w", err)
	}

	return &History{db: db, runID: runID}, nil
}

// RunID identifies this logging session
func (h *History) RunID() string {
	return h.runID
}

// Log stores one record. The step column comes from the record's
// train/step or val/step entry when present, -1 otherwise.
func (h *History) Log(record metrics.Record) error {
	step := recordStep(record)

	tx, err := h.db.Begin()
	if err != nil {
		return err
	}

	for _, key := range record.Keys() {
		value := record[key]
		if value.IsByClass() {
			classes := make([]int, 0, len(value.ByClass))
			for class := range value.ByClass {
				classes = append(classes, class)
			}
			sort.Ints(classes)
			for _, class := range classes {
				if _, err := tx.Exec(
					"INSERT INTO metrics(run_id, step, key, class, value) VALUES(?,?,?,?,?)",
					h.runID, step, key, class, value.ByClass[class]); err != nil {
					tx.Rollback()
					return err
				}
			}
			continue
		}
		if _, err := tx.Exec(
			"INSERT INTO metrics(run_id, step, key, class, value) VALUES(?,?,?,?,?)",
			h.runID, step, key, nil, value.Scalar); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// Values returns this run's scalar series for one key, in logging order
func (h *History) Values(key string) ([]float64, error) {
	rows, err := h.db.Query(
		"SELECT value FROM metrics WHERE run_id = ? AND key = ? AND class IS NULL ORDER BY rowid",
		h.runID, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var value float64
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, rows.Err()
}

// ClassValues returns this run's series for one key and class, in
// logging order
func (h *History) ClassValues(key string, class int) ([]float64, error) {
	rows, err := h.db.Query(
		"SELECT value FROM metrics WHERE run_id = ? AND key = ? AND class = ? ORDER BY rowid",
		h.runID, key, class)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var value float64
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, rows.Err()
}

// Close closes the database
func (h *History) Close() error {
	return h.db.Close()
}

func recordStep(record metrics.Record) int {
	for _, key := range []string{"train/step", "val/step"} {
		if value, ok := record[key]; ok && !value.IsByClass() {
			return int(value.Scalar)
		}
	}
	return -1
}
