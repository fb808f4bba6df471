// Package eventlog persists connection transitions and transmitted commands
// to an embedded SQLite database so a session can be audited after the
// fact. The store is optional; a nil *Store skips every write.
package eventlog

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies any
// pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Transition is one recorded connection-state change.
type Transition struct {
	ID     int64
	State  string
	Detail string
	At     time.Time
}

// CommandRecord is one transmitted packet.
type CommandRecord struct {
	ID    int64
	Seq   int64
	Kind  string
	Text  string
	Bytes int64
	At    time.Time
}

// RecordTransition appends a state change. Nil-safe.
func (s *Store) RecordTransition(state, detail string) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT INTO transitions (state, detail, at) VALUES (?, ?, ?)`,
		state, detail, time.Now().UTC(),
	)
	return err
}

// RecordCommand appends a transmitted packet. Nil-safe.
func (s *Store) RecordCommand(seq uint16, kind, text string, size int) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT INTO commands (seq, kind, text, bytes, at) VALUES (?, ?, ?, ?, ?)`,
		int64(seq), kind, text, int64(size), time.Now().UTC(),
	)
	return err
}

// RecentTransitions returns up to limit transitions, newest first.
func (s *Store) RecentTransitions(limit int) ([]Transition, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT id, state, detail, at FROM transitions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var tr Transition
		if err := rows.Scan(&tr.ID, &tr.State, &tr.Detail, &tr.At); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// RecentCommands returns up to limit transmitted packets, newest first.
func (s *Store) RecentCommands(limit int) ([]CommandRecord, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT id, seq, kind, text, bytes, at FROM commands ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommandRecord
	for rows.Next() {
		var cr CommandRecord
		if err := rows.Scan(&cr.ID, &cr.Seq, &cr.Kind, &cr.Text, &cr.Bytes, &cr.At); err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, rows.Err()
}
