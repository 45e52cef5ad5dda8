package identity

import (
	"fmt"
	"sort"
	"time"
)

// minLinkStrength is the floor below which decayed links are dropped.
const minLinkStrength = 0.01

// AddLink adds a link to target, or bumps the strength of the existing
// (target, relationship) link by TrustBump. The link list is re-sorted and
// pruned to MaxTrustLinks afterwards, so the returned link may already
// have been dropped if it is the weakest.
func (i *Identity) AddLink(target, relationship string, strength float64, now time.Time) TrustLink {
	for idx := range i.TrustLinks {
		l := &i.TrustLinks[idx]
		if l.TargetID == target && l.Relationship == relationship {
			l.Strength = clamp01(l.Strength + TrustBump)
			l.LastInteraction = now
			out := *l
			i.pruneLinks()
			return out
		}
	}
	l := TrustLink{
		TargetID:        target,
		Relationship:    relationship,
		Strength:        clamp01(strength),
		Created:         now,
		LastInteraction: now,
	}
	i.TrustLinks = append(i.TrustLinks, l)
	i.pruneLinks()
	return l
}

// UpdateLinkStrength adds delta (which may be negative) to an existing link.
func (i *Identity) UpdateLinkStrength(target, relationship string, delta float64, now time.Time) (TrustLink, error) {
	for idx := range i.TrustLinks {
		l := &i.TrustLinks[idx]
		if l.TargetID == target && l.Relationship == relationship {
			l.Strength = clamp01(l.Strength + delta)
			l.LastInteraction = now
			out := *l
			i.pruneLinks()
			return out, nil
		}
	}
	return TrustLink{}, fmt.Errorf("%w: %s -[%s]-> %s", ErrLinkNotFound, i.ID, relationship, target)
}

// Trusted returns the links sorted by strength, optionally filtered by
// relationship. The slice is a copy.
func (i *Identity) Trusted(relationship string) []TrustLink {
	out := make([]TrustLink, 0, len(i.TrustLinks))
	for _, l := range i.TrustLinks {
		if relationship == "" || l.Relationship == relationship {
			out = append(out, l)
		}
	}
	sortLinks(out)
	return out
}

// DecayLinks weakens links idle for longer than idle by rate and drops
// the ones that fall under the minimum strength. Returns how many links
// were changed or removed.
func (i *Identity) DecayLinks(rate float64, idle time.Duration, now time.Time) int {
	if rate <= 0 {
		return 0
	}
	changed := 0
	kept := i.TrustLinks[:0]
	for _, l := range i.TrustLinks {
		if now.Sub(l.LastInteraction) > idle {
			l.Strength = clamp01(l.Strength * (1 - rate))
			changed++
			if l.Strength < minLinkStrength {
				continue
			}
		}
		kept = append(kept, l)
	}
	i.TrustLinks = kept
	i.pruneLinks()
	return changed
}

// RemoveLinksTo drops every link pointing at target.
func (i *Identity) RemoveLinksTo(target string) int {
	kept := i.TrustLinks[:0]
	removed := 0
	for _, l := range i.TrustLinks {
		if l.TargetID == target {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	i.TrustLinks = kept
	return removed
}

func (i *Identity) pruneLinks() {
	sortLinks(i.TrustLinks)
	if len(i.TrustLinks) > MaxTrustLinks {
		i.TrustLinks = append([]TrustLink(nil), i.TrustLinks[:MaxTrustLinks]...)
	}
}

// sortLinks orders by strength descending; equal strengths keep the most
// recently used link first.
func sortLinks(links []TrustLink) {
	sort.SliceStable(links, func(a, b int) bool {
		if links[a].Strength != links[b].Strength {
			return links[a].Strength > links[b].Strength
		}
		return links[a].LastInteraction.After(links[b].LastInteraction)
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
