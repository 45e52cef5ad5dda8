package identity

import "time"

// ToneMergeRate is how strongly a new sample moves an existing baseline.
const ToneMergeRate = 0.3

// Patch describes a mutation applied to an identity as one unit.
type Patch struct {
	AppendPatterns []Pattern          `json:"append_patterns,omitempty"`
	BumpRecurrence bool               `json:"bump_recurrence,omitempty"`
	ToneSample     string             `json:"tone_sample,omitempty"`
	ToneMerge      map[string]float64 `json:"tone_merge,omitempty"`
	VoiceSample    string             `json:"voice_sample,omitempty"`
}

// Empty reports whether applying p would change nothing.
func (p Patch) Empty() bool {
	return len(p.AppendPatterns) == 0 && !p.BumpRecurrence &&
		p.ToneSample == "" && len(p.ToneMerge) == 0 && p.VoiceSample == ""
}

// Apply mutates i with p. Patterns without a timestamp are stamped now.
func (i *Identity) Apply(p Patch, now time.Time) {
	for _, pat := range p.AppendPatterns {
		if pat.At.IsZero() {
			pat.At = now
		}
		i.AppendPattern(pat)
	}
	if p.ToneSample != "" {
		i.ToneBaseline = MergeTone(i.ToneBaseline, ExtractTone(p.ToneSample), ToneMergeRate)
	}
	if len(p.ToneMerge) > 0 {
		i.ToneBaseline = MergeTone(i.ToneBaseline, p.ToneMerge, ToneMergeRate)
	}
	if p.VoiceSample != "" {
		if h := VoiceHash(p.VoiceSample); h != "" {
			i.VoiceHash = h
		}
	}
	if p.BumpRecurrence {
		i.Touch(now)
	} else if !p.Empty() && now.After(i.LastSeen) {
		i.LastSeen = now
	}
}
