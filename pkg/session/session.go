// Package session pins conversation sessions to an identity. A locked
// session resolves to its identity until it is unlocked or an explicit
// correction overrides it.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/Siddhant-K-code/identd/pkg/resolver"
)

// Common errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidSession  = errors.New("invalid session id")
)

// maxSessionIDLen bounds caller supplied session ids.
const maxSessionIDLen = 128

// Lock is the stored state of one session.
type Lock struct {
	SessionID string    `json:"session_id"`
	Identity  string    `json:"identity,omitempty"`
	Locked    bool      `json:"locked"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Context converts the lock into the resolver's session context.
func (l *Lock) Context() resolver.SessionContext {
	if l == nil {
		return resolver.SessionContext{}
	}
	return resolver.SessionContext{
		SessionID: l.SessionID,
		Locked:    l.Locked && l.Identity != "",
		Identity:  l.Identity,
	}
}

// Store is the interface for session lock backends.
type Store interface {
	// Lock pins sessionID to identityID. An empty sessionID is replaced by
	// a generated one.
	Lock(ctx context.Context, sessionID, identityID string) (*Lock, error)

	// Unlock releases the pin but remembers the last identity.
	Unlock(ctx context.Context, sessionID string) (*Lock, error)

	// Get returns the session state. Unknown sessions come back unlocked
	// with a zero CreatedAt instead of an error.
	Get(ctx context.Context, sessionID string) (*Lock, error)

	// Delete forgets a session.
	Delete(ctx context.Context, sessionID string) error

	// List returns every known session ordered by id.
	List(ctx context.Context) ([]*Lock, error)

	// Context returns the resolver context of a session.
	Context(ctx context.Context, sessionID string) (resolver.SessionContext, error)

	Close() error
}
