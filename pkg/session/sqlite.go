package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Siddhant-K-code/identd/pkg/identity"
	"github.com/Siddhant-K-code/identd/pkg/resolver"
	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
// Single connection (SetMaxOpenConns(1)) - SQLite handles serialization.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
	clock  func() time.Time
}

// NewSQLiteStore creates a new SQLite-backed session store.
func NewSQLiteStore(dsn string, logger *zap.Logger) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger.Named("session"), clock: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_locks (
		id          TEXT PRIMARY KEY,
		identity    TEXT NOT NULL DEFAULT '',
		locked      INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_locks_identity ON session_locks(identity);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SetClock replaces the time source used for timestamps.
func (s *SQLiteStore) SetClock(clock func() time.Time) { s.clock = clock }

// Lock pins a session to an identity, creating the session if needed.
func (s *SQLiteStore) Lock(ctx context.Context, sessionID, identityID string) (*Lock, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := validSessionID(sessionID); err != nil {
		return nil, err
	}
	identityID = identity.NormalizeID(identityID)
	if err := identity.ValidateID(identityID); err != nil {
		return nil, err
	}

	now := s.clock().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_locks (id, identity, locked, created_at, updated_at)
		 VALUES (?, ?, 1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET identity = excluded.identity, locked = 1, updated_at = excluded.updated_at`,
		sessionID, identityID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	s.logger.Debug("session locked", zap.String("session", sessionID), zap.String("identity", identityID))
	return s.load(ctx, sessionID)
}

// Unlock releases a session. The last identity is kept for reference.
func (s *SQLiteStore) Unlock(ctx context.Context, sessionID string) (*Lock, error) {
	sessionID = strings.TrimSpace(sessionID)
	if err := validSessionID(sessionID); err != nil {
		return nil, err
	}

	now := s.clock().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		"UPDATE session_locks SET locked = 0, updated_at = ? WHERE id = ?",
		now, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("unlock session: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ErrSessionNotFound
	}
	s.logger.Debug("session unlocked", zap.String("session", sessionID))
	return s.load(ctx, sessionID)
}

// Get returns the session state, or an unlocked zero state for unknown
// sessions.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*Lock, error) {
	sessionID = strings.TrimSpace(sessionID)
	if err := validSessionID(sessionID); err != nil {
		return nil, err
	}
	l, err := s.load(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return &Lock{SessionID: sessionID}, nil
	}
	return l, err
}

// Context returns the resolver context of a session.
func (s *SQLiteStore) Context(ctx context.Context, sessionID string) (resolver.SessionContext, error) {
	l, err := s.Get(ctx, sessionID)
	if err != nil {
		return resolver.SessionContext{}, err
	}
	return l.Context(), nil
}

// Delete removes a session.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM session_locks WHERE id = ?", strings.TrimSpace(sessionID))
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// List returns every session ordered by id.
func (s *SQLiteStore) List(ctx context.Context) ([]*Lock, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, identity, locked, created_at, updated_at FROM session_locks ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Lock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- internal ---

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) load(ctx context.Context, sessionID string) (*Lock, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, identity, locked, created_at, updated_at FROM session_locks WHERE id = ?",
		sessionID,
	)
	l, err := scanLock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return l, err
}

func scanLock(row scanner) (*Lock, error) {
	var l Lock
	var locked int
	var createdStr, updatedStr string
	if err := row.Scan(&l.SessionID, &l.Identity, &locked, &createdStr, &updatedStr); err != nil {
		return nil, err
	}
	l.Locked = locked != 0
	l.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	l.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	return &l, nil
}

func validSessionID(id string) error {
	if id == "" || len(id) > maxSessionIDLen {
		return fmt.Errorf("%w: %q", ErrInvalidSession, id)
	}
	return nil
}
