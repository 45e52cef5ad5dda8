package identity

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

// stopWords is the set of common English words ignored by tokenization.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"i": true, "i'm": true, "im": true, "i've": true, "i'll": true, "i'd": true,
	"me": true, "my": true, "you": true, "your": true, "we": true, "us": true,
	"is": true, "am": true, "are": true, "was": true, "be": true, "it": true,
	"it's": true, "to": true, "of": true, "in": true, "on": true, "at": true,
	"so": true, "for": true, "as": true, "do": true, "if": true, "by": true,
	"that": true, "this": true, "with": true, "from": true,
	"have": true, "been": true, "were": true, "they": true,
	"their": true, "which": true, "would": true, "there": true,
	"about": true, "could": true, "other": true, "into": true,
	"more": true, "some": true, "than": true, "them": true,
	"very": true, "when": true, "what": true,
	"also": true, "each": true, "does": true, "will": true,
	"just": true, "should": true, "because": true, "these": true,
}

// IsStopWord returns true for common English stop words.
func IsStopWord(w string) bool {
	return stopWords[w]
}

// Tokenize splits text into lower-cased word tokens, dropping stop words.
// Apostrophes inside a word are kept so contractions stay one token.
func Tokenize(text string) []string {
	text = strings.ReplaceAll(strings.ToLower(text), "’", "'")
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f == "" || IsStopWord(f) {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// TokenSet returns the distinct tokens of text.
func TokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range Tokenize(text) {
		set[t] = struct{}{}
	}
	return set
}

// ExtractTone builds a token frequency fingerprint of text, normalized so
// the most frequent token weighs 1.0.
func ExtractTone(text string) map[string]float64 {
	counts := make(map[string]int)
	maxCount := 0
	for _, t := range Tokenize(text) {
		counts[t]++
		if counts[t] > maxCount {
			maxCount = counts[t]
		}
	}
	tone := make(map[string]float64, len(counts))
	for t, c := range counts {
		tone[t] = float64(c) / float64(maxCount)
	}
	return capTone(tone)
}

// MergeTone blends sample into base with the given rate and returns the
// new baseline. Tokens that fade below 0.01 are dropped.
func MergeTone(base, sample map[string]float64, rate float64) map[string]float64 {
	if rate <= 0 || rate > 1 {
		rate = 0.3
	}
	out := make(map[string]float64, len(base)+len(sample))
	for t, w := range base {
		out[t] = (1 - rate) * w
	}
	for t, w := range sample {
		if _, ok := base[t]; !ok {
			out[t] = rate * w
			continue
		}
		out[t] += rate * w
	}
	for t, w := range out {
		if w < 0.01 {
			delete(out, t)
			continue
		}
		out[t] = math.Min(w, 1)
	}
	return capTone(out)
}

// capTone keeps the MaxToneTokens heaviest tokens.
func capTone(tone map[string]float64) map[string]float64 {
	if len(tone) <= MaxToneTokens {
		return tone
	}
	keys := make([]string, 0, len(tone))
	for k := range tone {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if tone[keys[a]] != tone[keys[b]] {
			return tone[keys[a]] > tone[keys[b]]
		}
		return keys[a] < keys[b]
	})
	capped := make(map[string]float64, MaxToneTokens)
	for _, k := range keys[:MaxToneTokens] {
		capped[k] = tone[k]
	}
	return capped
}

// VoiceHash derives a stylistic fingerprint from text: average word length,
// punctuation, question, exclamation and uppercase ratios, each quantized
// to one hex digit. Returns "" for text without words.
func VoiceHash(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	var letters, punct, upper, total, questions, exclaims int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		switch {
		case unicode.IsLetter(r):
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		case unicode.IsPunct(r):
			punct++
			if r == '?' {
				questions++
			}
			if r == '!' {
				exclaims++
			}
		}
	}
	avgWord := float64(letters) / float64(len(words))
	features := []float64{
		avgWord / 12,
		ratio(punct, total) * 4,
		ratio(questions, len(words)) * 4,
		ratio(exclaims, len(words)) * 4,
		ratio(upper, letters) * 2,
	}
	var b strings.Builder
	for _, f := range features {
		fmt.Fprintf(&b, "%x", quantize(f))
	}
	return b.String()
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func quantize(f float64) int {
	q := int(math.Round(f * 15))
	if q < 0 {
		return 0
	}
	if q > 15 {
		return 15
	}
	return q
}
