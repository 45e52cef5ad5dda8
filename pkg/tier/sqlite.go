package tier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Siddhant-K-code/identd/pkg/identity"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Durable using SQLite. Each tier is a namespace of
// the identities table; the record itself is a JSON blob.
// Uses a single connection (SetMaxOpenConns(1)) so SQLite's internal
// serialization handles concurrency.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) a SQLite-backed store.
// Use ":memory:" for in-memory storage or a file path for persistence.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// PRAGMAs are per-connection and in-memory databases are per-connection
	// too, so pin to a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS identities (
		tier       TEXT NOT NULL,
		id         TEXT NOT NULL,
		record     BLOB NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (tier, id)
	);
	CREATE INDEX IF NOT EXISTS idx_identities_id ON identities(id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Read returns a single record.
func (s *SQLiteStore) Read(ctx context.Context, t identity.Tier, id string) (*identity.Identity, error) {
	if err := requireDurable(t); err != nil {
		return nil, err
	}

	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT record FROM identities WHERE tier = ? AND id = ?",
		string(t), id,
	).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", identity.ErrNotFound, t, id)
		}
		return nil, storageFault("read", t, id, err)
	}

	return decodeRecord(t, id, blob)
}

// Write upserts rec under its tier.
func (s *SQLiteStore) Write(ctx context.Context, rec *identity.Identity) error {
	if err := requireDurable(rec.Tier); err != nil {
		return err
	}

	blob, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO identities (tier, id, record, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(tier, id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		string(rec.Tier), rec.ID, blob, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return storageFault("write", rec.Tier, rec.ID, err)
	}
	return nil
}

// Delete removes a record.
func (s *SQLiteStore) Delete(ctx context.Context, t identity.Tier, id string) error {
	if err := requireDurable(t); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM identities WHERE tier = ? AND id = ?", string(t), id)
	if err != nil {
		return storageFault("delete", t, id, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: %s/%s", identity.ErrNotFound, t, id)
	}
	return nil
}

// List returns the ids of a tier in ascending order.
func (s *SQLiteStore) List(ctx context.Context, t identity.Tier) ([]string, error) {
	if err := requireDurable(t); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id FROM identities WHERE tier = ? ORDER BY id", string(t))
	if err != nil {
		return nil, storageFault("list", t, "*", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageFault("list", t, "*", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageFault("list", t, "*", err)
	}
	return ids, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
