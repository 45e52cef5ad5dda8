package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Siddhant-K-code/identd/pkg/identity"
	"github.com/Siddhant-K-code/identd/pkg/resolver"
	"go.uber.org/zap"
)

// StubSeed describes a manually created alias.
type StubSeed struct {
	ID    string             `json:"id" yaml:"id"`
	Notes []string           `json:"notes,omitempty" yaml:"notes"`
	Tone  map[string]float64 `json:"tone,omitempty" yaml:"tone"`
}

// SeedStub creates the stub identity described by seed, or folds the seed
// into an existing stub of the same id.
func (e *Engine) SeedStub(ctx context.Context, seed StubSeed) (*identity.Identity, error) {
	id, err := resolver.CleanID(seed.ID)
	if err != nil {
		return nil, err
	}
	now := e.clock().UTC()

	patch := identity.Patch{ToneMerge: seed.Tone}
	var text []string
	for _, n := range seed.Notes {
		if n = strings.TrimSpace(n); n != "" {
			patch.AppendPatterns = append(patch.AppendPatterns, identity.Pattern{Event: "seed", Note: n, At: now})
			text = append(text, n)
		}
	}
	patch.ToneSample = strings.Join(text, " ")

	existing, err := e.repo.Get(ctx, id)
	switch {
	case err == nil && existing.Tier == identity.TierStub:
		return e.repo.Mutate(ctx, id, func(rec *identity.Identity) error {
			rec.Apply(patch, now)
			return nil
		})
	case err == nil:
		return nil, fmt.Errorf("%w: %s is %s", identity.ErrTierConflict, id, existing.Tier)
	case !errors.Is(err, identity.ErrNotFound):
		return nil, err
	}

	rec := identity.New(id, identity.TierStub, now)
	for _, p := range patch.AppendPatterns {
		rec.AppendPattern(p)
	}
	if patch.ToneSample != "" {
		rec.ToneBaseline = identity.ExtractTone(patch.ToneSample)
	}
	if len(seed.Tone) > 0 {
		rec.ToneBaseline = identity.MergeTone(rec.ToneBaseline, seed.Tone, identity.ToneMergeRate)
	}
	if err := e.repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	e.logger.Info("seeded stub", zap.String("id", id))
	return rec.Clone(), nil
}

// DeleteIdentity removes id from its tier and drops every trust link that
// points at it. The anchor cannot be deleted.
func (e *Engine) DeleteIdentity(ctx context.Context, id string) error {
	id, err := resolver.CleanID(id)
	if err != nil {
		return err
	}
	rec, err := e.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Tier == identity.TierAnchor {
		return fmt.Errorf("%w: delete %s", identity.ErrPermissionDenied, id)
	}
	if _, err := e.repo.Delete(ctx, id); err != nil {
		return err
	}
	if err := e.retargetLinks(ctx, id, ""); err != nil {
		return fmt.Errorf("drop links to %s: %w", id, err)
	}
	e.logger.Info("deleted identity", zap.String("id", id), zap.String("tier", string(rec.Tier)))
	return nil
}

// MergeIdentities folds source into target and deletes source. Links that
// pointed at source now point at target. The anchor can only be a target.
func (e *Engine) MergeIdentities(ctx context.Context, source, target string) (*identity.Identity, error) {
	source, err := resolver.CleanID(source)
	if err != nil {
		return nil, err
	}
	target, err = resolver.CleanID(target)
	if err != nil {
		return nil, err
	}
	if source == target {
		return nil, fmt.Errorf("%w: cannot merge %s into itself", identity.ErrInvalidID, source)
	}

	merged, err := e.repo.Merge(ctx, source, target, func(src, dst *identity.Identity) error {
		if src.Tier == identity.TierAnchor {
			return fmt.Errorf("%w: anchor %s cannot be merged away", identity.ErrPermissionDenied, source)
		}
		dst.Absorb(src)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := e.retargetLinks(ctx, source, target); err != nil {
		return nil, err
	}
	e.logger.Info("merged identities", zap.String("source", source), zap.String("target", target))
	return merged, nil
}

// retargetLinks rewrites links pointing at from to point at to, or drops
// them when to is empty.
func (e *Engine) retargetLinks(ctx context.Context, from, to string) error {
	now := e.clock().UTC()
	for _, t := range identity.DurableTiers {
		recs, err := e.store.ReadAll(ctx, t)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if !linksTo(rec, from) {
				continue
			}
			_, err := e.repo.Mutate(ctx, rec.ID, func(cur *identity.Identity) error {
				moved := cur.Trusted("")
				cur.RemoveLinksTo(from)
				if to == "" || cur.ID == to {
					return nil
				}
				for _, l := range moved {
					if l.TargetID != from {
						continue
					}
					// Keep the stronger of the two when to is already linked.
					existing, ok := linkStrength(cur, to, l.Relationship)
					switch {
					case !ok:
						cur.AddLink(to, l.Relationship, l.Strength, now)
					case l.Strength > existing:
						_, _ = cur.UpdateLinkStrength(to, l.Relationship, l.Strength-existing, now)
					}
				}
				return nil
			})
			if err := notFoundIsNil(err); err != nil {
				return err
			}
		}
	}
	return nil
}

func linkStrength(rec *identity.Identity, target, relationship string) (float64, bool) {
	for _, l := range rec.TrustLinks {
		if l.TargetID == target && l.Relationship == relationship {
			return l.Strength, true
		}
	}
	return 0, false
}

func linksTo(rec *identity.Identity, id string) bool {
	for _, l := range rec.TrustLinks {
		if l.TargetID == id {
			return true
		}
	}
	return false
}
