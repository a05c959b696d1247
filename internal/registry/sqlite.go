package registry

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS label_identities (
		id INTEGER PRIMARY KEY,
		label TEXT NOT NULL UNIQUE
	);
	CREATE TABLE IF NOT EXISTS registry_meta (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
`

// SQLiteStore persists the table in a SQLite database file.
type SQLiteStore struct {
	*Table
	Path string
	db   *sql.DB
}

// NewSQLiteStore returns a store backed by the SQLite database at path.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{Table: NewTable(), Path: path}
}

// Open connects, creates the schema if needed and loads the table.
func (s *SQLiteStore) Open(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.Path)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return err
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize registry schema: %w", err)
	}

	t, err := loadSQLite(ctx, db)
	if err != nil {
		db.Close()
		return err
	}
	s.db = db
	s.Table = t
	return nil
}

func loadSQLite(ctx context.Context, db *sql.DB) (*Table, error) {
	var count int
	err := db.QueryRowContext(ctx, "SELECT value FROM registry_meta WHERE key = 'count'").Scan(&count)
	if err == sql.ErrNoRows {
		count = 0
	} else if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT label, id FROM label_identities")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]int)
	for rows.Next() {
		var label string
		var id int
		if err := rows.Scan(&label, &id); err != nil {
			return nil, err
		}
		ids[label] = id
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	t := NewTable()
	if err := t.Restore(ids, count); err != nil {
		return nil, err
	}
	return t, nil
}

// Persist rewrites both tables inside one transaction.
func (s *SQLiteStore) Persist(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("sqlite registry %s is not open", s.Path)
	}
	if err := s.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM label_identities"); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO label_identities (id, label) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for id, label := range s.Labels() {
		if _, err := stmt.ExecContext(ctx, id, label); err != nil {
			return fmt.Errorf("failed to insert label %q: %w", label, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO registry_meta (key, value) VALUES ('count', ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, s.Count()); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the database handle.
func (s *SQLiteStore) Close(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
