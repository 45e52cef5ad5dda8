package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Siddhant-K-code/identd/pkg/identity"
	"github.com/Siddhant-K-code/identd/pkg/scoring"
	"go.uber.org/zap"
)

// Clusterer promotes groups of similar foreign visitors into a single
// echo identity.
type Clusterer struct {
	repo      *Repo
	scorer    *scoring.Scorer
	threshold float64
	quorum    int
	logger    *zap.Logger
	metrics   *metrics

	// mu serializes promotions so two checks never absorb the same visitor.
	mu sync.Mutex
}

// Check compares the latest utterance of the foreign entry id against
// every other live foreign entry. When at least quorum peers agree, id
// and its peers are merged into an echo identity and removed from the
// arena. It returns the echo id, or "" when nothing was promoted. A
// target that no longer exists is not an error.
func (c *Clusterer) Check(ctx context.Context, id string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	arena := c.repo.Store().Foreign()
	trigger, ok := arena.Get(id)
	if !ok {
		return "", nil
	}
	latest, ok := trigger.LatestPattern()
	if !ok || latest.Note == "" {
		return "", nil
	}

	members := []*identity.Identity{trigger}
	for _, peer := range arena.Snapshot() {
		if peer.ID == id {
			continue
		}
		if memoScore(c.repo.Cache(), c.scorer, latest.Note, peer) >= c.threshold {
			members = append(members, peer)
		}
	}
	if len(members)-1 < c.quorum {
		return "", nil
	}

	echoID, err := c.targetID(ctx, members)
	if err != nil {
		return "", err
	}
	return c.promote(ctx, echoID, members)
}

func (c *Clusterer) promote(ctx context.Context, echoID string, members []*identity.Identity) (string, error) {
	unlock := c.repo.Lock(echoID)
	defer unlock()

	ids := make([]string, 0, len(members))
	isMember := make(map[string]bool, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
		isMember[m.ID] = true
	}

	var echo *identity.Identity
	existing, err := c.repo.Store().Lookup(ctx, echoID)
	switch {
	case err == nil && existing.Tier == identity.TierEcho:
		echo = existing
	case err == nil && existing.Tier == identity.TierForeign && isMember[echoID]:
		echo = identity.New(echoID, identity.TierEcho, members[0].FirstSeen)
	case err == nil:
		return "", fmt.Errorf("%w: %s is %s", identity.ErrTierConflict, echoID, existing.Tier)
	case errors.Is(err, identity.ErrNotFound):
		echo = identity.New(echoID, identity.TierEcho, members[0].FirstSeen)
	default:
		return "", err
	}

	for _, m := range members {
		echo.Absorb(m)
	}
	if err := c.repo.Store().Promote(ctx, echo, ids); err != nil {
		return "", fmt.Errorf("promote cluster into %s: %w", echoID, err)
	}
	c.repo.Invalidate(append(ids, echoID)...)
	c.metrics.promotions.Inc()

	c.logger.Info("cluster promoted",
		zap.String("echo", echoID),
		zap.Strings("members", ids),
		zap.Int("recurrence", echo.RecurrenceCount),
	)
	return echoID, nil
}

// targetID picks the echo id for a cluster: the name mentioned most often
// in the members' history, if it is free or already an echo (or is one of
// the members themselves), otherwise a generated echo-<hex> id.
func (c *Clusterer) targetID(ctx context.Context, members []*identity.Identity) (string, error) {
	counts := make(map[string]int)
	for _, m := range members {
		for _, p := range m.Patterns {
			for _, name := range c.scorer.Names(p.Note) {
				if id, err := CleanID(name); err == nil {
					counts[id]++
				}
			}
		}
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})

	if len(names) > 0 {
		name := names[0]
		existing, err := c.repo.Store().Lookup(ctx, name)
		switch {
		case errors.Is(err, identity.ErrNotFound):
			return name, nil
		case err != nil:
			return "", err
		case existing.Tier == identity.TierEcho:
			return name, nil
		case existing.Tier == identity.TierForeign && containsID(members, name):
			return name, nil
		}
		c.logger.Debug("inferred cluster name is taken", zap.String("name", name), zap.String("tier", string(existing.Tier)))
	}
	return uniqueID(ctx, c.repo, "echo")
}

func containsID(recs []*identity.Identity, id string) bool {
	for _, r := range recs {
		if r.ID == id {
			return true
		}
	}
	return false
}
