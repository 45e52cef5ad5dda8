package profile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Siddhant-K-code/identd/pkg/cache"
	"github.com/Siddhant-K-code/identd/pkg/identity"
	"github.com/Siddhant-K-code/identd/pkg/resolver"
	"go.uber.org/zap"
)

func (e *Engine) linkEnds(ctx context.Context, from, to string) (string, string, error) {
	from, err := resolver.CleanID(from)
	if err != nil {
		return "", "", err
	}
	to, err = resolver.CleanID(to)
	if err != nil {
		return "", "", err
	}
	if from == to {
		return "", "", fmt.Errorf("%w: %s cannot trust itself", identity.ErrInvalidID, from)
	}
	if _, err := e.repo.Get(ctx, to); err != nil {
		return "", "", fmt.Errorf("trust target: %w", err)
	}
	return from, to, nil
}

// AddTrustLink links from to to. Adding an existing link bumps its
// strength instead of duplicating it.
func (e *Engine) AddTrustLink(ctx context.Context, from, to, relationship string, strength float64) (identity.TrustLink, error) {
	from, to, err := e.linkEnds(ctx, from, to)
	if err != nil {
		return identity.TrustLink{}, err
	}
	relationship = strings.TrimSpace(relationship)

	var link identity.TrustLink
	now := e.clock().UTC()
	_, err = e.repo.Mutate(ctx, from, func(rec *identity.Identity) error {
		link = rec.AddLink(to, relationship, strength, now)
		return nil
	})
	if err != nil {
		return identity.TrustLink{}, err
	}
	return link, nil
}

// UpdateTrustStrength adds delta to an existing link.
func (e *Engine) UpdateTrustStrength(ctx context.Context, from, to, relationship string, delta float64) (identity.TrustLink, error) {
	from, to, err := e.linkEnds(ctx, from, to)
	if err != nil {
		return identity.TrustLink{}, err
	}
	relationship = strings.TrimSpace(relationship)

	var link identity.TrustLink
	now := e.clock().UTC()
	_, err = e.repo.Mutate(ctx, from, func(rec *identity.Identity) error {
		var err error
		link, err = rec.UpdateLinkStrength(to, relationship, delta, now)
		return err
	})
	if err != nil {
		return identity.TrustLink{}, err
	}
	return link, nil
}

// GetTrustedIdentities returns the links of id sorted by strength,
// optionally filtered by relationship.
func (e *Engine) GetTrustedIdentities(ctx context.Context, id, relationship string) ([]identity.TrustLink, error) {
	id, err := resolver.CleanID(id)
	if err != nil {
		return nil, err
	}
	relationship = strings.TrimSpace(relationship)
	key := cache.TrustKey(id, relationship)
	if links, ok := cache.GetAs[[]identity.TrustLink](e.cache, key); ok {
		return append([]identity.TrustLink(nil), links...), nil
	}

	unlock := e.repo.Lock(id)
	defer unlock()

	rec, err := e.repo.Store().Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	links := rec.Trusted(relationship)
	e.cache.Set(key, append([]identity.TrustLink(nil), links...))
	return links, nil
}

// DecayTrust weakens links idle for longer than idle on every durable
// identity and returns how many links changed.
func (e *Engine) DecayTrust(ctx context.Context, rate float64, idle time.Duration) (int, error) {
	now := e.clock().UTC()
	total := 0
	for _, t := range identity.DurableTiers {
		ids, err := e.store.List(ctx, t)
		if err != nil {
			return total, err
		}
		for _, id := range ids {
			if rec, err := e.repo.Get(ctx, id); err != nil || len(rec.TrustLinks) == 0 {
				continue
			}
			changed := 0
			_, err := e.repo.Mutate(ctx, id, func(rec *identity.Identity) error {
				if changed = rec.DecayLinks(rate, idle, now); changed == 0 {
					return resolver.ErrUnchanged
				}
				return nil
			})
			if err := notFoundIsNil(err); err != nil {
				return total, err
			}
			total += changed
		}
	}
	if total > 0 {
		e.logger.Debug("trust decayed", zap.Int("links", total))
	}
	return total, nil
}
