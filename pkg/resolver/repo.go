package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/Siddhant-K-code/identd/pkg/cache"
	"github.com/Siddhant-K-code/identd/pkg/identity"
	"github.com/Siddhant-K-code/identd/pkg/tier"
	"go.uber.org/zap"
)

// ErrUnchanged is returned by a Mutate callback that left the record as it
// was. Mutate then skips the write and the cache invalidation.
var ErrUnchanged = errors.New("record unchanged")

// Repo is the read-through, write-invalidate view of identities shared by
// the resolver and the engine. Writes to one id and the matching cache
// invalidation happen under that id's lock, and cache fills on a miss take
// the same lock, so a reader never sees a half-applied change.
type Repo struct {
	store  *tier.Store
	cache  *cache.Cache
	locks  *KeyedMutex
	logger *zap.Logger
}

// NewRepo wires a store and a cache together.
func NewRepo(store *tier.Store, c *cache.Cache, logger *zap.Logger) *Repo {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Repo{
		store:  store,
		cache:  c,
		locks:  NewKeyedMutex(),
		logger: logger.Named("repo"),
	}
	store.OnEvict(c.InvalidateIdentity)
	return r
}

// Store returns the underlying tiered store.
func (r *Repo) Store() *tier.Store { return r.store }

// Cache returns the underlying cache.
func (r *Repo) Cache() *cache.Cache { return r.cache }

// Lock takes the per-identity lock.
func (r *Repo) Lock(id string) func() { return r.locks.Lock(id) }

// Get returns a copy of the identity stored under id in any tier.
func (r *Repo) Get(ctx context.Context, id string) (*identity.Identity, error) {
	if rec, ok := cache.GetAs[*identity.Identity](r.cache, cache.ProfileKey(id)); ok {
		return rec.Clone(), nil
	}

	unlock := r.locks.Lock(id)
	defer unlock()
	return r.fill(ctx, id)
}

// fill loads id from the store into the cache. Callers hold id's lock.
func (r *Repo) fill(ctx context.Context, id string) (*identity.Identity, error) {
	if rec, ok := cache.GetAs[*identity.Identity](r.cache, cache.ProfileKey(id)); ok {
		return rec.Clone(), nil
	}
	rec, err := r.store.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	r.remember(rec)
	return rec.Clone(), nil
}

func (r *Repo) remember(rec *identity.Identity) {
	ttl := r.cache.ForeignTTL()
	if rec.Tier != identity.TierForeign {
		ttl = 0
	}
	r.cache.SetTTL(cache.ProfileKey(rec.ID), rec.Clone(), ttl)
}

// Mutate applies fn to the current record of id and persists the result.
// fn may not change the id or the tier. The updated record is returned.
// When fn returns ErrUnchanged the stored record is returned untouched.
func (r *Repo) Mutate(ctx context.Context, id string, fn func(*identity.Identity) error) (*identity.Identity, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	rec, err := r.store.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	orig := rec.Clone()
	t := rec.Tier
	if err := fn(rec); err != nil {
		if errors.Is(err, ErrUnchanged) {
			return orig, nil
		}
		return nil, err
	}
	rec.ID, rec.Tier = id, t

	if err := r.put(ctx, rec); err != nil {
		return nil, err
	}
	r.cache.InvalidateIdentity(id)
	return rec, nil
}

// put persists rec in its own tier. Callers hold rec.ID's lock.
func (r *Repo) put(ctx context.Context, rec *identity.Identity) error {
	if rec.Tier != identity.TierForeign {
		return r.store.Write(ctx, rec)
	}
	updated, err := r.store.Foreign().Update(rec.ID, func(cur *identity.Identity) { *cur = *rec.Clone() })
	if err != nil {
		return err
	}
	*rec = *updated
	return nil
}

// Merge folds source into target under both ids' locks: fn sees the
// current source and target, the target is persisted and the source is
// removed before either lock is released. Locks are taken in id order.
func (r *Repo) Merge(ctx context.Context, source, target string, fn func(src, dst *identity.Identity) error) (*identity.Identity, error) {
	first, second := source, target
	if second < first {
		first, second = second, first
	}
	unlockFirst := r.locks.Lock(first)
	defer unlockFirst()
	unlockSecond := r.locks.Lock(second)
	defer unlockSecond()

	src, err := r.store.Lookup(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("merge source: %w", err)
	}
	dst, err := r.store.Lookup(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("merge target: %w", err)
	}
	t := dst.Tier
	if err := fn(src, dst); err != nil {
		return nil, err
	}
	dst.ID, dst.Tier = target, t

	if err := r.put(ctx, dst); err != nil {
		return nil, fmt.Errorf("merge target: %w", err)
	}
	if err := r.store.Delete(ctx, src.Tier, source); err != nil && !errors.Is(err, identity.ErrNotFound) {
		return nil, fmt.Errorf("remove merged source: %w", err)
	}
	r.cache.InvalidateIdentity(target)
	r.cache.InvalidateIdentity(source)
	return dst, nil
}

// Create stores a new record. It fails with ErrTierConflict if the id is
// already used by another tier.
func (r *Repo) Create(ctx context.Context, rec *identity.Identity) error {
	unlock := r.locks.Lock(rec.ID)
	defer unlock()

	if err := r.store.Write(ctx, rec); err != nil {
		return err
	}
	r.cache.InvalidateIdentity(rec.ID)
	return nil
}

// Delete removes id from whichever tier holds it and returns the removed
// record. The anchor is refused with ErrPermissionDenied.
func (r *Repo) Delete(ctx context.Context, id string) (*identity.Identity, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	rec, err := r.store.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.store.Delete(ctx, rec.Tier, id); err != nil {
		return nil, err
	}
	r.cache.InvalidateIdentity(id)
	return rec, nil
}

// Exists reports whether id is stored in any tier.
func (r *Repo) Exists(ctx context.Context, id string) (bool, error) {
	_, err := r.Get(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, identity.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Invalidate drops every cache entry derived from the given ids.
func (r *Repo) Invalidate(ids ...string) {
	for _, id := range ids {
		r.cache.InvalidateIdentity(id)
	}
}

// CleanID normalizes and validates an id.
func CleanID(id string) (string, error) {
	id = identity.NormalizeID(id)
	if err := identity.ValidateID(id); err != nil {
		return "", err
	}
	return id, nil
}
