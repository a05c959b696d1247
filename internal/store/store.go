package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/andresmejia3/smartstore/internal/registry"
)

// Store is the PostgreSQL backend of the label identity registry.
type Store struct {
	*registry.Table
	connString string
	conn       *pgx.Conn
}

// New returns an unopened store for the given connection string.
func New(connString string) *Store {
	return &Store{Table: registry.NewTable(), connString: connString}
}

// Open establishes a connection, ensures the schema is initialized and loads the table.
func (s *Store) Open(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, s.connString)
	if err != nil {
		return err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}

	t, err := load(ctx, conn)
	if err != nil {
		conn.Close(ctx)
		return err
	}
	s.conn = conn
	s.Table = t
	return nil
}

// initSchema creates the registry tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS label_identities (
			id INT PRIMARY KEY,
			label TEXT NOT NULL UNIQUE,
			assigned_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS registry_meta (
			key TEXT PRIMARY KEY,
			value INT NOT NULL
		);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

func load(ctx context.Context, conn *pgx.Conn) (*registry.Table, error) {
	var count int
	err := conn.QueryRow(ctx, "SELECT value FROM registry_meta WHERE key = 'count'").Scan(&count)
	if err == pgx.ErrNoRows {
		count = 0 // Fresh database
	} else if err != nil {
		return nil, err
	}

	rows, err := conn.Query(ctx, "SELECT label, id FROM label_identities")
	if err != nil {
		return nil, err
	}
	ids := make(map[string]int)
	var label string
	var id int
	_, err = pgx.ForEachRow(rows, []any{&label, &id}, func() error {
		ids[label] = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	t := registry.NewTable()
	if err := t.Restore(ids, count); err != nil {
		return nil, err
	}
	return t, nil
}

// Persist replaces the stored table in a single transaction.
func (s *Store) Persist(ctx context.Context) error {
	if s.conn == nil {
		return fmt.Errorf("postgres registry is not open")
	}
	if err := s.Validate(); err != nil {
		return err
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// 1. Clear the old table; assigned_at is carried over for labels that survive
	if _, err := tx.Exec(ctx, "CREATE TEMP TABLE prior_identities ON COMMIT DROP AS SELECT label, assigned_at FROM label_identities"); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "DELETE FROM label_identities"); err != nil {
		return err
	}

	// 2. Bulk insert the full table
	labels := s.Labels()
	rows := make([][]any, len(labels))
	for id, label := range labels {
		rows[id] = []any{id, label}
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"label_identities"}, []string{"id", "label"}, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("failed to copy labels: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE label_identities li SET assigned_at = p.assigned_at
		FROM prior_identities p WHERE p.label = li.label
	`); err != nil {
		return err
	}

	// 3. Count
	if _, err := tx.Exec(ctx, `
		INSERT INTO registry_meta (key, value) VALUES ('count', $1)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, len(labels)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close(ctx)
	s.conn = nil
	return err
}
