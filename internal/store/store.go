// Package store persists imported energy history and active overrides in a
// local sqlite database, so both survive restarts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/clambin/intuis-monitor/internal/controller"
	"github.com/clambin/intuis-monitor/internal/energy"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS energy_history (
	room      TEXT NOT NULL,
	day       TEXT NOT NULL,
	kwh       REAL NOT NULL,
	partial   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (room, day)
);
CREATE TABLE IF NOT EXISTS overrides (
	room        TEXT PRIMARY KEY,
	kind        INTEGER NOT NULL,
	temperature REAL NOT NULL,
	created_at  INTEGER NOT NULL,
	expires_at  INTEGER NOT NULL,
	indefinite  INTEGER NOT NULL DEFAULT 0
);
`

const (
	upsertReading = `INSERT INTO energy_history (room, day, kwh, partial) VALUES (?, ?, ?, ?)
ON CONFLICT (room, day) DO UPDATE SET kwh = excluded.kwh, partial = excluded.partial`
	selectReadings = `SELECT room, day, kwh, partial FROM energy_history WHERE room = ? AND day >= ? AND day <= ? ORDER BY day`
	upsertOverride = `INSERT INTO overrides (room, kind, temperature, created_at, expires_at, indefinite) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (room) DO UPDATE SET kind = excluded.kind, temperature = excluded.temperature, created_at = excluded.created_at, expires_at = excluded.expires_at, indefinite = excluded.indefinite`
	deleteOverride  = `DELETE FROM overrides WHERE room = ?`
	selectOverrides = `SELECT room, kind, temperature, created_at, expires_at, indefinite FROM overrides`
)

type Store struct {
	db *sql.DB
}

// Open opens (and creates, if needed) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s := Store{db: db}
	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &s, nil
}

// NewWithDB wraps an existing database handle. The schema must already be in
// place.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveReading upserts one day total.
func (s *Store) SaveReading(ctx context.Context, reading energy.Reading) error {
	_, err := s.db.ExecContext(ctx, upsertReading,
		reading.Room, reading.PeriodStart.Format(time.DateOnly), reading.Consumption, reading.Partial)
	return err
}

// Readings returns a room's stored day totals in [from, to], ordered by day.
func (s *Store) Readings(ctx context.Context, room string, from, to time.Time) ([]energy.Reading, error) {
	rows, err := s.db.QueryContext(ctx, selectReadings,
		room, from.Format(time.DateOnly), to.Format(time.DateOnly))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var readings []energy.Reading
	for rows.Next() {
		var reading energy.Reading
		var day string
		if err = rows.Scan(&reading.Room, &day, &reading.Consumption, &reading.Partial); err != nil {
			return nil, err
		}
		if reading.PeriodStart, err = time.Parse(time.DateOnly, day); err != nil {
			return nil, fmt.Errorf("invalid day %q: %w", day, err)
		}
		readings = append(readings, reading)
	}
	return readings, rows.Err()
}

// SaveOverride upserts a room's active override.
func (s *Store) SaveOverride(ctx context.Context, ov controller.Override) error {
	_, err := s.db.ExecContext(ctx, upsertOverride,
		ov.Room, int(ov.Kind), ov.Temperature, ov.CreatedAt.Unix(), ov.ExpiresAt.Unix(), ov.Indefinite)
	return err
}

// DeleteOverride removes a room's override.
func (s *Store) DeleteOverride(ctx context.Context, room string) error {
	_, err := s.db.ExecContext(ctx, deleteOverride, room)
	return err
}

// Overrides returns all stored overrides.
func (s *Store) Overrides(ctx context.Context) ([]controller.Override, error) {
	rows, err := s.db.QueryContext(ctx, selectOverrides)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var overrides []controller.Override
	for rows.Next() {
		var ov controller.Override
		var kind int
		var createdAt, expiresAt int64
		if err = rows.Scan(&ov.Room, &kind, &ov.Temperature, &createdAt, &expiresAt, &ov.Indefinite); err != nil {
			return nil, err
		}
		ov.Kind = controller.Kind(kind)
		ov.CreatedAt = time.Unix(createdAt, 0)
		ov.ExpiresAt = time.Unix(expiresAt, 0)
		overrides = append(overrides, ov)
	}
	return overrides, rows.Err()
}
