package scoring

import (
	"testing"
	"time"

	"github.com/Siddhant-K-code/identd/pkg/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func visitor(id, text string) Fingerprint {
	return Fingerprint{
		ID:    id,
		Tier:  identity.TierForeign,
		Tone:  identity.ExtractTone(text),
		Notes: []string{text},
	}
}

func anchor() Fingerprint {
	return Fingerprint{ID: "chris", Tier: identity.TierAnchor, Tone: map[string]float64{}}
}

func TestScoreBlendsOverlapAndHistory(t *testing.T) {
	s := NewScorer(nil, DefaultWeights())

	fp := visitor("v1", "I'm Sam and I love sailing")
	assert.InDelta(t, 0.75, s.Score("I'm Sam and I love sailing boats", fp), 1e-9)
	assert.InDelta(t, 1.0, s.Score("I'm Sam and I love sailing", fp), 1e-9)

	fp2 := visitor("v2", "I'm Sam and I love sailing boats")
	// overlap 3/4, jaccard 3/5
	assert.InDelta(t, 0.63, s.Score("I'm Sam and I love sailing ships", fp2), 1e-9)

	assert.Equal(t, 0.0, s.Score("completely unrelated words", fp))
	assert.Equal(t, 0.0, s.Score("", fp))
}

func TestScoreIsPure(t *testing.T) {
	s := NewScorer(nil, DefaultWeights())
	fp := visitor("v1", "weather forecast rain tomorrow")
	first := s.Score("rain tomorrow maybe", fp)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, s.Score("rain tomorrow maybe", fp))
	}
}

func TestAnchorFloorAndPhraseBonus(t *testing.T) {
	s := NewScorer(nil, DefaultWeights())

	assert.InDelta(t, 0.05, s.Score("hello there", anchor()), 1e-9)
	assert.InDelta(t, 0.43, s.Score("working on my project today", anchor()), 1e-9)

	// phrase rules target the anchor tier only
	assert.Equal(t, 0.0, s.Score("working on my project today", visitor("v", "garden flowers")))
}

func TestSpecialPhraseFloor(t *testing.T) {
	s := NewScorer(nil, DefaultWeights())
	assert.True(t, s.SpecialHit("ok, dev override please", anchor()))
	assert.GreaterOrEqual(t, s.Score("ok, dev override please", anchor()), 0.9)
	assert.False(t, s.SpecialHit("ok, dev override please", visitor("v", "x")))
}

func TestScoreClampedToUnitInterval(t *testing.T) {
	s := NewScorer(nil, DefaultWeights())
	fp := anchor()
	fp.Tone = map[string]float64{"project": 1, "code": 1, "repo": 1}
	fp.Notes = []string{"my project my code my repo"}
	got := s.Score("my project my code my repo", fp)
	assert.LessOrEqual(t, got, 1.0)
	assert.GreaterOrEqual(t, got, 0.0)
}

func TestThresholdRuleLowersAnchorThreshold(t *testing.T) {
	s := NewScorer(nil, DefaultWeights())
	assert.Equal(t, 0.55, s.Threshold("hello", anchor(), 0.55))
	assert.Equal(t, 0.3, s.Threshold("just testing things", anchor(), 0.55))
	assert.Equal(t, 0.3, s.Threshold("quick test run", anchor(), 0.55))
	assert.Equal(t, 0.55, s.Threshold("just testing things", visitor("v", "x"), 0.55))
}

func TestOverrideCorrection(t *testing.T) {
	s := NewScorer(nil, DefaultWeights())

	o := s.Override("I'm not Chris, I'm Dana")
	assert.True(t, o.Fired())
	assert.Equal(t, "dana", o.ID)
	assert.Equal(t, []string{"chris"}, o.Negated)

	o = s.Override("No, I'm Riley")
	assert.Equal(t, "riley", o.ID)

	o = s.Override("Actually I am Morgan")
	assert.Equal(t, "morgan", o.ID)
}

func TestOverrideIgnoresOrdinarySentences(t *testing.T) {
	s := NewScorer(nil, DefaultWeights())

	cases := []struct {
		input   string
		negated []string
	}{
		{"No, this is important", nil},
		{"Actually it's broken again", nil},
		{"I'm not sure. It's complicated", []string{"sure"}},
		{"no, it's tuesday", nil},
		{"I'm not Chris, it's complicated", []string{"chris"}},
		{"Actually I'm pretty sure that works", nil},
		{"no I'm kidding", nil},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			o := s.Override(tc.input)
			assert.False(t, o.Fired(), "fired with id %q", o.ID)
			assert.Equal(t, tc.negated, o.Negated)
		})
	}
}

func TestOverrideNegationOnly(t *testing.T) {
	s := NewScorer(nil, DefaultWeights())
	o := s.Override("this isn't chris at all")
	assert.False(t, o.Fired())
	assert.Equal(t, []string{"chris"}, o.Negated)

	o = s.Override("I'm Sam and I love sailing")
	assert.False(t, o.Fired())
	assert.Empty(t, o.Negated)
}

func TestNames(t *testing.T) {
	s := NewScorer(nil, DefaultWeights())
	assert.Equal(t, []string{"sam"}, s.Names("Hi, I'm Sam and I love sailing"))
	assert.Equal(t, []string{"dana"}, s.Names("I'm not Chris, I'm Dana"))
	assert.Equal(t, []string{"alex", "jo"}, s.Names("My name is Alex. Call me Jo"))
	assert.Empty(t, s.Names("I'm so tired today"))
}

func TestParseRulesValidation(t *testing.T) {
	_, err := ParseRules([]byte("overrides:\n  - kind: correction\n    pattern: '(?i)i am (\\w+)'\n"))
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = ParseRules([]byte("phrases:\n  - target: anchor\n    strength: loud\n    phrases: [x]\n"))
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = ParseRules([]byte("names:\n  - pattern: '(['\n"))
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = ParseRules([]byte("thresholds:\n  - target: anchor\n    threshold: 2\n"))
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestCustomRuleTable(t *testing.T) {
	table, err := ParseRules([]byte(`
phrases:
  - target: dana
    strength: strong
    weight: 0.7
    phrases: ["Fair winds"]
`))
	require.NoError(t, err)
	require.Len(t, table.Rules(), 1)
	assert.Equal(t, KindPhrase, table.Rules()[0].Kind())

	s := NewScorer(table, DefaultWeights())
	fp := Fingerprint{ID: "dana", Tier: identity.TierStub}
	assert.InDelta(t, 0.56, s.Score("fair winds, friend!", fp), 1e-9)
}

func TestFingerprintOf(t *testing.T) {
	rec := identity.New("sam", identity.TierEcho, time.Now())
	rec.AppendPattern(identity.Pattern{Note: "sailing again"})
	rec.AppendPattern(identity.Pattern{Event: "ping"})
	fp := FingerprintOf(rec)
	assert.Equal(t, []string{"sailing again"}, fp.Notes)
	assert.Equal(t, identity.TierEcho, fp.Tier)
}

func TestFingerprintDigestTracksScoredFields(t *testing.T) {
	base := Fingerprint{ID: "sam", Tier: identity.TierEcho, Tone: map[string]float64{"sailing": 0.6, "boats": 0.4}, Notes: []string{"sailing boats"}}
	same := Fingerprint{ID: "sam", Tier: identity.TierEcho, Tone: map[string]float64{"boats": 0.4, "sailing": 0.6}, Notes: []string{"sailing boats"}}
	assert.Equal(t, base.Digest(), same.Digest(), "map order does not matter")

	moreNotes := same
	moreNotes.Notes = []string{"sailing boats", "garden"}
	assert.NotEqual(t, base.Digest(), moreNotes.Digest())

	retoned := same
	retoned.Tone = map[string]float64{"sailing": 0.5, "boats": 0.5}
	assert.NotEqual(t, base.Digest(), retoned.Digest())

	promoted := same
	promoted.Tier = identity.TierStub
	assert.NotEqual(t, base.Digest(), promoted.Digest())
}
