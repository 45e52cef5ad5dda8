// Package tier persists identity records across the durable tiers
// (anchor, echo, stub) and keeps foreign visitors in a bounded in-memory
// arena. Store is the tier-aware facade the resolver talks to.
package tier

import (
	"context"
	"fmt"
	"time"

	"github.com/Siddhant-K-code/identd/pkg/identity"
	"github.com/Siddhant-K-code/identd/pkg/jsonx"
)

// Durable is a backend for the persisted tiers. Records are whole-record
// blobs keyed by id inside a tier-scoped namespace; writes replace.
type Durable interface {
	// Read returns the record or an error wrapping identity.ErrNotFound,
	// identity.ErrMalformedRecord or identity.ErrStorageFault.
	Read(ctx context.Context, t identity.Tier, id string) (*identity.Identity, error)

	// Write stores rec under rec.Tier, replacing any previous version.
	Write(ctx context.Context, rec *identity.Identity) error

	// Delete removes the record. Missing records yield ErrNotFound.
	Delete(ctx context.Context, t identity.Tier, id string) error

	// List returns the ids stored in a tier, sorted.
	List(ctx context.Context, t identity.Tier) ([]string, error)

	// Close releases resources held by the backend.
	Close() error
}

// Config holds store configuration.
type Config struct {
	// Backend selects the durable backend: "sqlite" or "file".
	Backend string

	// Path is the SQLite DSN or the root directory of the file backend.
	Path string

	// ForeignCapacity bounds the number of live foreign identities.
	ForeignCapacity int

	// ForeignMaxAge is how long a foreign identity lives after first seen.
	ForeignMaxAge time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:         "sqlite",
		Path:            "identd.db",
		ForeignCapacity: 100,
		ForeignMaxAge:   time.Hour,
	}
}

// OpenDurable opens the backend selected by cfg.
func OpenDurable(cfg Config) (Durable, error) {
	switch cfg.Backend {
	case "", "sqlite":
		s, err := NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "file":
		s, err := NewFileStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func encodeRecord(rec *identity.Identity) ([]byte, error) {
	data, err := jsonx.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s/%s: %w", rec.Tier, rec.ID, err)
	}
	return data, nil
}

func decodeRecord(t identity.Tier, id string, data []byte) (*identity.Identity, error) {
	if !jsonx.Valid(data) {
		return nil, fmt.Errorf("%w: %s/%s: invalid json", identity.ErrMalformedRecord, t, id)
	}
	var rec identity.Identity
	if err := jsonx.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", identity.ErrMalformedRecord, t, id, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%s/%s: %w", t, id, err)
	}
	if rec.ID != id || rec.Tier != t {
		return nil, fmt.Errorf("%w: %s/%s: blob holds %s/%s", identity.ErrMalformedRecord, t, id, rec.Tier, rec.ID)
	}
	return &rec, nil
}

func storageFault(op string, t identity.Tier, id string, err error) error {
	return fmt.Errorf("%w: %s %s/%s: %w", identity.ErrStorageFault, op, t, id, err)
}

func requireDurable(t identity.Tier) error {
	if !t.Durable() {
		return fmt.Errorf("tier %q is not durable", t)
	}
	return nil
}
