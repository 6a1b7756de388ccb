// Package history persists a summary of each finished counting session in
// SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/zsiec/vehiclecount/internal/counter"
)

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("history: record not found")

const timestampLayout = "2006-01-02 15:04:05"

// Record is one stored session summary.
type Record struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Timestamp     string  `json:"timestamp"`
	ModelUsed     string  `json:"model_used"`
	Source        string  `json:"source"`
	TotalVehicles int     `json:"total_vehicles"`
	Car           int     `json:"car"`
	Van           int     `json:"van"`
	Truck         int     `json:"truck"`
	Bus           int     `json:"bus"`
	AvgFPS        float64 `json:"avg_fps"`
	Slot          int     `json:"slot"`
	Frames        int     `json:"frames"`
}

// Entry is the input for a new record. Breakdown keys other than the
// countable classes are ignored.
type Entry struct {
	Model     string         `json:"model"`
	Source    string         `json:"source"`
	Total     int            `json:"total"`
	Breakdown map[string]int `json:"breakdown"`
	AvgFPS    float64        `json:"avg_fps"`
	Slot      int            `json:"slot,omitempty"`
	Frames    int            `json:"frames,omitempty"`
}

// Store is the SQLite-backed history.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database file if needed, applies pragmas and runs the
// embedded migrations.
func Open(path string, log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	version, err := migrateUp(db, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.WithFields(logrus.Fields{"path": path, "schema_version": version}).Info("History database ready")

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create inserts a record named after its creation time.
func (s *Store) Create(ctx context.Context, e Entry) (Record, error) {
	ts := s.now().Format(timestampLayout)
	r := Record{
		Name:          "Session – " + ts,
		Timestamp:     ts,
		ModelUsed:     e.Model,
		Source:        e.Source,
		TotalVehicles: e.Total,
		Car:           e.Breakdown[counter.Car],
		Van:           e.Breakdown[counter.Van],
		Truck:         e.Breakdown[counter.Truck],
		Bus:           e.Breakdown[counter.Bus],
		AvgFPS:        e.AvgFPS,
		Slot:          e.Slot,
		Frames:        e.Frames,
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions
			(name, timestamp, model_used, source, total_vehicles, car, van, truck, bus, avg_fps, slot, frames)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Name, r.Timestamp, r.ModelUsed, r.Source, r.TotalVehicles,
		r.Car, r.Van, r.Truck, r.Bus, r.AvgFPS, r.Slot, r.Frames,
	)
	if err != nil {
		return Record{}, fmt.Errorf("failed to insert session record: %w", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return Record{}, fmt.Errorf("failed to read record id: %w", err)
	}
	return r, nil
}

// List returns every record, newest first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, timestamp, model_used, source, total_vehicles,
		       car, van, truck, bus, avg_fps, slot, frames
		FROM sessions ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Name, &r.Timestamp, &r.ModelUsed, &r.Source, &r.TotalVehicles,
			&r.Car, &r.Van, &r.Truck, &r.Bus, &r.AvgFPS, &r.Slot, &r.Frames); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Delete removes one record; ErrNotFound when nothing matched.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete session %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
