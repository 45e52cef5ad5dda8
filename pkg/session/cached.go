package session

import (
	"context"
	"strings"

	"github.com/Siddhant-K-code/identd/pkg/cache"
	"github.com/Siddhant-K-code/identd/pkg/resolver"
	"go.uber.org/zap"
)

// CachedStore fronts a Store with the context namespace of the engine
// cache. Resolution reads the session context on every request; writes
// through this store drop the cached context of the session they touch.
type CachedStore struct {
	Store
	cache  *cache.Cache
	logger *zap.Logger
}

// NewCachedStore wraps next. A nil cache disables caching.
func NewCachedStore(next Store, c *cache.Cache, logger *zap.Logger) *CachedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{Store: next, cache: c, logger: logger.Named("session")}
}

// Context returns the cached context of sessionID, loading it on a miss.
func (s *CachedStore) Context(ctx context.Context, sessionID string) (resolver.SessionContext, error) {
	sessionID = strings.TrimSpace(sessionID)
	if s.cache == nil {
		return s.Store.Context(ctx, sessionID)
	}
	key := cache.ContextKey(sessionID)
	if sc, ok := cache.GetAs[resolver.SessionContext](s.cache, key); ok {
		return sc, nil
	}
	sc, err := s.Store.Context(ctx, sessionID)
	if err != nil {
		return sc, err
	}
	s.cache.Set(key, sc)
	return sc, nil
}

func (s *CachedStore) Lock(ctx context.Context, sessionID, identityID string) (*Lock, error) {
	l, err := s.Store.Lock(ctx, sessionID, identityID)
	if err == nil {
		s.forget(l.SessionID)
	}
	return l, err
}

func (s *CachedStore) Unlock(ctx context.Context, sessionID string) (*Lock, error) {
	l, err := s.Store.Unlock(ctx, sessionID)
	s.forget(sessionID)
	return l, err
}

func (s *CachedStore) Delete(ctx context.Context, sessionID string) error {
	err := s.Store.Delete(ctx, sessionID)
	s.forget(sessionID)
	return err
}

func (s *CachedStore) forget(sessionID string) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(cache.ContextKey(strings.TrimSpace(sessionID)))
	s.logger.Debug("session context invalidated", zap.String("session", sessionID))
}
