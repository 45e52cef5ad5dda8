// Package scoring computes the bounded similarity between an utterance and
// an identity fingerprint, and evaluates the declarative rule table that
// drives override, threshold and name detection.
package scoring

import (
	"encoding/binary"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/Siddhant-K-code/identd/pkg/identity"
	"github.com/cespare/xxhash/v2"
)

// Fingerprint is the part of an identity the scorer looks at.
type Fingerprint struct {
	ID    string
	Tier  identity.Tier
	Tone  map[string]float64
	Notes []string
}

// FingerprintOf extracts the scoring fingerprint of a record.
func FingerprintOf(rec *identity.Identity) Fingerprint {
	notes := make([]string, 0, len(rec.Patterns))
	for _, p := range rec.Patterns {
		if p.Note != "" {
			notes = append(notes, p.Note)
		}
	}
	return Fingerprint{ID: rec.ID, Tier: rec.Tier, Tone: rec.ToneBaseline, Notes: notes}
}

// Digest hashes everything Score reads from the fingerprint. Two
// fingerprints with the same digest score every input identically.
func (f Fingerprint) Digest() uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(f.ID)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(string(f.Tier))
	_, _ = h.WriteString("\x00")

	tokens := make([]string, 0, len(f.Tone))
	for tok := range f.Tone {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	var buf [8]byte
	for _, tok := range tokens {
		_, _ = h.WriteString(tok)
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f.Tone[tok]))
		_, _ = h.Write(buf[:])
	}
	_, _ = h.WriteString("\x00")

	for _, n := range f.Notes {
		_, _ = h.WriteString(n)
		_, _ = h.WriteString("\x00")
	}
	return h.Sum64()
}

// Weights controls how the score terms are blended.
type Weights struct {
	Overlap      float64 // token overlap share
	Pattern      float64 // phrase/pattern share
	AnchorFloor  float64 // baseline blended into anchor scores
	SpecialFloor float64 // minimum score on a special phrase hit
}

// DefaultWeights returns the 20/80 blend with a 0.05 anchor floor.
func DefaultWeights() Weights {
	return Weights{
		Overlap:      0.2,
		Pattern:      0.8,
		AnchorFloor:  0.05,
		SpecialFloor: 0.9,
	}
}

// Override is the outcome of the override rules for one utterance.
type Override struct {
	ID      string   // corrected identity, empty if none
	Negated []string // identities explicitly rejected
}

// Fired reports whether a correction was found.
func (o Override) Fired() bool { return o.ID != "" }

// Scorer is safe for concurrent use; it holds no mutable state.
type Scorer struct {
	rules   *RuleTable
	weights Weights
}

// NewScorer creates a scorer. A nil table uses DefaultRules.
func NewScorer(rules *RuleTable, weights Weights) *Scorer {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Scorer{rules: rules, weights: weights}
}

// Rules exposes the compiled rule table.
func (s *Scorer) Rules() *RuleTable { return s.rules }

// Score returns the similarity of input to fp in [0,1]. It is a pure
// function of its arguments, so results may be memoized by (input, id).
func (s *Scorer) Score(input string, fp Fingerprint) float64 {
	tokens := identity.Tokenize(input)
	padded := pad(normalizeText(input))

	overlap := 0.0
	if len(tokens) > 0 && len(fp.Tone) > 0 {
		sum := 0.0
		for _, t := range tokens {
			sum += fp.Tone[t]
		}
		overlap = sum / float64(len(tokens))
	}

	bonus := 0.0
	special := false
	for _, r := range s.rules.Phrases {
		if !targets(r.Target, fp) {
			continue
		}
		for _, p := range r.Phrases {
			if !strings.Contains(padded, pad(p)) {
				continue
			}
			if r.Strength == StrengthSpecial {
				special = true
				continue
			}
			bonus += r.Weight
		}
	}

	history := 0.0
	if len(tokens) > 0 {
		in := toSet(tokens)
		for _, note := range fp.Notes {
			if j := jaccard(in, identity.TokenSet(note)); j > history {
				history = j
			}
		}
	}

	pattern := clamp(bonus + history)
	score := s.weights.Overlap*clamp(overlap) + s.weights.Pattern*pattern
	if fp.Tier == identity.TierAnchor && s.weights.AnchorFloor > 0 {
		score = (1-s.weights.AnchorFloor)*score + s.weights.AnchorFloor
	}
	if special && score < s.weights.SpecialFloor {
		score = s.weights.SpecialFloor
	}
	return clamp(score)
}

// SpecialHit reports whether a special phrase for fp occurs in input.
func (s *Scorer) SpecialHit(input string, fp Fingerprint) bool {
	padded := pad(normalizeText(input))
	for _, r := range s.rules.Phrases {
		if r.Strength != StrengthSpecial || !targets(r.Target, fp) {
			continue
		}
		for _, p := range r.Phrases {
			if strings.Contains(padded, pad(p)) {
				return true
			}
		}
	}
	return false
}

// Threshold returns the effective resolution threshold for fp: the lowest
// of base and every matching ThresholdRule whose phrase occurs in input.
func (s *Scorer) Threshold(input string, fp Fingerprint, base float64) float64 {
	padded := pad(normalizeText(input))
	th := base
	for _, r := range s.rules.Thresholds {
		if !targets(r.Target, fp) || r.Threshold >= th {
			continue
		}
		for _, p := range r.Phrases {
			if strings.Contains(padded, pad(p)) {
				th = r.Threshold
				break
			}
		}
	}
	return th
}

// Override evaluates the override rules. The first matching correction
// wins; negations accumulate.
func (s *Scorer) Override(input string) Override {
	var out Override
	seen := make(map[string]bool)
	addNegated := func(id string) {
		id = identity.NormalizeID(id)
		if id != "" && !seen[id] {
			seen[id] = true
			out.Negated = append(out.Negated, id)
		}
	}
	for _, r := range s.rules.Overrides {
		for _, m := range r.Pattern.FindAllStringSubmatch(input, -1) {
			if idx := r.Pattern.SubexpIndex("negated"); idx >= 0 && m[idx] != "" {
				addNegated(m[idx])
			}
			if r.Type != OverrideCorrection || out.ID != "" {
				continue
			}
			id := identity.NormalizeID(m[r.Pattern.SubexpIndex("id")])
			if identity.ValidateID(id) == nil && !s.rules.IgnoreNames[id] {
				out.ID = id
			}
		}
	}
	return out
}

// Names returns the distinct names mentioned literally in input, in order
// of appearance, skipping the table's ignore list.
func (s *Scorer) Names(input string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, r := range s.rules.Names {
		idx := r.Pattern.SubexpIndex("name")
		for _, m := range r.Pattern.FindAllStringSubmatch(input, -1) {
			n := identity.NormalizeID(m[idx])
			if n == "" || seen[n] || s.rules.IgnoreNames[n] || identity.IsStopWord(n) {
				continue
			}
			if identity.ValidateID(n) != nil {
				continue
			}
			seen[n] = true
			names = append(names, n)
		}
	}
	return names
}

func targets(target string, fp Fingerprint) bool {
	return target == string(fp.Tier) || target == fp.ID
}

// normalizeText lower-cases text and collapses everything but letters,
// digits and apostrophes into single spaces.
func normalizeText(text string) string {
	text = strings.ReplaceAll(strings.ToLower(text), "’", "'")
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	return strings.Join(fields, " ")
}

func pad(s string) string { return " " + s + " " }

func toSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
