package identity

import "sort"

// Absorb folds other into i: recurrence is summed, the seen window is
// widened, pattern histories are interleaved by time (newest kept), tone
// baselines are blended by recurrence weight and trust links keep the
// strongest edge per (target, relationship). i keeps its id and tier.
func (i *Identity) Absorb(other *Identity) {
	if other == nil {
		return
	}

	weight := 0.5
	if total := i.RecurrenceCount + other.RecurrenceCount; total > 0 {
		weight = float64(other.RecurrenceCount) / float64(total)
	}
	switch {
	case len(i.ToneBaseline) == 0:
		i.ToneBaseline = MergeTone(nil, other.ToneBaseline, 1)
	case len(other.ToneBaseline) > 0 && weight > 0:
		i.ToneBaseline = MergeTone(i.ToneBaseline, other.ToneBaseline, weight)
	}

	i.RecurrenceCount += other.RecurrenceCount
	if i.FirstSeen.IsZero() || (!other.FirstSeen.IsZero() && other.FirstSeen.Before(i.FirstSeen)) {
		i.FirstSeen = other.FirstSeen
	}
	if other.LastSeen.After(i.LastSeen) {
		i.LastSeen = other.LastSeen
	}
	if i.VoiceHash == "" {
		i.VoiceHash = other.VoiceHash
	}

	patterns := append(append([]Pattern(nil), i.Patterns...), other.Patterns...)
	sort.SliceStable(patterns, func(a, b int) bool { return patterns[a].At.Before(patterns[b].At) })
	if over := len(patterns) - MaxPatterns; over > 0 {
		patterns = patterns[over:]
	}
	i.Patterns = patterns

	for _, l := range other.TrustLinks {
		if l.TargetID == i.ID {
			continue
		}
		merged := false
		for idx := range i.TrustLinks {
			cur := &i.TrustLinks[idx]
			if cur.TargetID != l.TargetID || cur.Relationship != l.Relationship {
				continue
			}
			if l.Strength > cur.Strength {
				cur.Strength = l.Strength
			}
			if l.Created.Before(cur.Created) {
				cur.Created = l.Created
			}
			if l.LastInteraction.After(cur.LastInteraction) {
				cur.LastInteraction = l.LastInteraction
			}
			merged = true
			break
		}
		if !merged {
			i.TrustLinks = append(i.TrustLinks, l)
		}
	}
	i.RemoveLinksTo(i.ID)
	i.pruneLinks()
}
