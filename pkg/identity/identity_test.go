package identity

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestAppendPatternKeepsNewestTen(t *testing.T) {
	rec := New("dana", TierStub, t0)
	for n := 0; n < 13; n++ {
		rec.AppendPattern(Pattern{Event: "msg", Note: fmt.Sprintf("note %d", n)})
	}
	require.Len(t, rec.Patterns, MaxPatterns)
	assert.Equal(t, "note 3", rec.Patterns[0].Note)
	latest, ok := rec.LatestPattern()
	require.True(t, ok)
	assert.Equal(t, "note 12", latest.Note)
}

func TestCloneIsDeep(t *testing.T) {
	rec := New("dana", TierStub, t0)
	rec.ToneBaseline["sailing"] = 1
	rec.AppendPattern(Pattern{Note: "hello"})
	rec.AddLink("chris", "friend", 0.5, t0)

	c := rec.Clone()
	c.ToneBaseline["sailing"] = 0.1
	c.Patterns[0].Note = "changed"
	c.TrustLinks[0].Strength = 0.9

	assert.Equal(t, 1.0, rec.ToneBaseline["sailing"])
	assert.Equal(t, "hello", rec.Patterns[0].Note)
	assert.Equal(t, 0.5, rec.TrustLinks[0].Strength)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, New("sam", TierEcho, t0).Validate())
	assert.ErrorIs(t, New("Sam Smith", TierEcho, t0).Validate(), ErrMalformedRecord)
	assert.ErrorIs(t, (&Identity{ID: "sam", Tier: "ghost"}).Validate(), ErrMalformedRecord)

	rec := &Identity{ID: "sam", Tier: TierEcho}
	require.NoError(t, rec.Validate())
	assert.NotNil(t, rec.ToneBaseline)
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier(" Echo ")
	require.NoError(t, err)
	assert.Equal(t, TierEcho, tier)
	assert.True(t, tier.Durable())

	_, err = ParseTier("cold")
	assert.Error(t, err)
	assert.False(t, TierForeign.Durable())
}

func TestAddLinkTwiceBumpsStrength(t *testing.T) {
	rec := New("chris", TierAnchor, t0)
	rec.AddLink("dana", "friend", 0.5, t0)
	l := rec.AddLink("dana", "friend", 0.5, t0.Add(time.Minute))

	require.Len(t, rec.TrustLinks, 1)
	assert.InDelta(t, 0.6, l.Strength, 1e-9)
	assert.Equal(t, t0, rec.TrustLinks[0].Created)
	assert.Equal(t, t0.Add(time.Minute), rec.TrustLinks[0].LastInteraction)

	rec.AddLink("sam", "friend", 0.95, t0)
	l = rec.AddLink("sam", "friend", 0.95, t0)
	assert.Equal(t, 1.0, l.Strength)
}

func TestTrustLinksCappedWeakestDropped(t *testing.T) {
	rec := New("chris", TierAnchor, t0)
	for n := 0; n < MaxTrustLinks; n++ {
		rec.AddLink(fmt.Sprintf("peer-%d", n), "friend", 0.2+float64(n)*0.05, t0)
	}
	require.Len(t, rec.TrustLinks, MaxTrustLinks)

	rec.AddLink("newcomer", "colleague", 0.9, t0)
	require.Len(t, rec.TrustLinks, MaxTrustLinks)
	for _, l := range rec.TrustLinks {
		assert.NotEqual(t, "peer-0", l.TargetID, "weakest link should be dropped")
	}
	assert.Equal(t, "newcomer", rec.TrustLinks[0].TargetID)

	rec.AddLink("faint", "stranger", 0.01, t0)
	require.Len(t, rec.TrustLinks, MaxTrustLinks)
	for _, l := range rec.TrustLinks {
		assert.NotEqual(t, "faint", l.TargetID)
	}
}

func TestUpdateLinkStrength(t *testing.T) {
	rec := New("chris", TierAnchor, t0)
	rec.AddLink("dana", "friend", 0.5, t0)

	l, err := rec.UpdateLinkStrength("dana", "friend", -0.7, t0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, l.Strength)

	_, err = rec.UpdateLinkStrength("dana", "sibling", 0.1, t0)
	assert.ErrorIs(t, err, ErrLinkNotFound)
}

func TestTrustedFiltersAndSorts(t *testing.T) {
	rec := New("chris", TierAnchor, t0)
	rec.AddLink("a", "friend", 0.3, t0)
	rec.AddLink("b", "family", 0.8, t0)
	rec.AddLink("c", "friend", 0.6, t0)

	friends := rec.Trusted("friend")
	require.Len(t, friends, 2)
	assert.Equal(t, "c", friends[0].TargetID)
	assert.Equal(t, "a", friends[1].TargetID)
	assert.Len(t, rec.Trusted(""), 3)
}

func TestDecayLinks(t *testing.T) {
	rec := New("chris", TierAnchor, t0)
	rec.AddLink("stale", "friend", 0.5, t0)
	rec.AddLink("fresh", "friend", 0.5, t0.Add(47*time.Hour))
	rec.AddLink("dust", "friend", 0.011, t0)

	changed := rec.DecayLinks(0.5, 24*time.Hour, t0.Add(48*time.Hour))
	assert.Equal(t, 2, changed)
	require.Len(t, rec.TrustLinks, 2)
	assert.Equal(t, "fresh", rec.TrustLinks[0].TargetID)
	assert.InDelta(t, 0.25, rec.TrustLinks[1].Strength, 1e-9)
}

func TestTokenizeDropsStopWords(t *testing.T) {
	assert.Equal(t, []string{"sam", "love", "sailing"}, Tokenize("I'm Sam and I love sailing!"))
	assert.Equal(t, []string{"don't", "panic"}, Tokenize("Don’t panic"))
	assert.Empty(t, Tokenize("   ...  "))
}

func TestExtractAndMergeTone(t *testing.T) {
	tone := ExtractTone("build build deploy")
	assert.Equal(t, 1.0, tone["build"])
	assert.Equal(t, 0.5, tone["deploy"])

	merged := MergeTone(tone, map[string]float64{"deploy": 1, "ship": 1}, 0.5)
	assert.InDelta(t, 0.5, merged["build"], 1e-9)
	assert.InDelta(t, 0.75, merged["deploy"], 1e-9)
	assert.InDelta(t, 0.5, merged["ship"], 1e-9)
}

func TestToneIsBounded(t *testing.T) {
	text := ""
	for n := 0; n < MaxToneTokens+20; n++ {
		text += fmt.Sprintf("word%d ", n)
	}
	assert.Len(t, ExtractTone(text), MaxToneTokens)
}

func TestVoiceHash(t *testing.T) {
	assert.Empty(t, VoiceHash(""))
	a := VoiceHash("Hey!! What's up?? LOL!!")
	b := VoiceHash("I would like to schedule a meeting regarding the quarterly report.")
	assert.Len(t, a, 5)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, VoiceHash("Hey!! What's up?? LOL!!"))
}

func TestApplyPatch(t *testing.T) {
	rec := New("dana", TierStub, t0)
	now := t0.Add(time.Hour)
	rec.Apply(Patch{
		AppendPatterns: []Pattern{{Event: "chat", Note: "talked about sailing"}},
		BumpRecurrence: true,
		ToneSample:     "sailing sailing boats",
		VoiceSample:    "Sailing is great!",
	}, now)

	assert.Equal(t, 1, rec.RecurrenceCount)
	assert.Equal(t, now, rec.LastSeen)
	require.Len(t, rec.Patterns, 1)
	assert.Equal(t, now, rec.Patterns[0].At)
	assert.InDelta(t, 0.3, rec.ToneBaseline["sailing"], 1e-9)
	assert.NotEmpty(t, rec.VoiceHash)
	assert.True(t, Patch{}.Empty())
}

func TestAbsorb(t *testing.T) {
	a := New("visitor-a", TierForeign, t0.Add(time.Hour))
	a.RecurrenceCount = 1
	a.ToneBaseline = map[string]float64{"sailing": 1}
	a.AppendPattern(Pattern{Note: "second", At: t0.Add(2 * time.Hour)})
	a.AddLink("chris", "friend", 0.3, t0)

	b := New("visitor-b", TierForeign, t0)
	b.RecurrenceCount = 3
	b.LastSeen = t0.Add(3 * time.Hour)
	b.ToneBaseline = map[string]float64{"boats": 1}
	b.AppendPattern(Pattern{Note: "first", At: t0.Add(time.Minute)})
	b.AddLink("chris", "friend", 0.7, t0)
	b.AddLink("visitor-a", "peer", 0.5, t0)

	a.Absorb(b)

	assert.Equal(t, 4, a.RecurrenceCount)
	assert.Equal(t, t0, a.FirstSeen)
	assert.Equal(t, t0.Add(3*time.Hour), a.LastSeen)
	require.Len(t, a.Patterns, 2)
	assert.Equal(t, "first", a.Patterns[0].Note)
	assert.InDelta(t, 0.25, a.ToneBaseline["sailing"], 1e-9)
	assert.InDelta(t, 0.75, a.ToneBaseline["boats"], 1e-9)
	require.Len(t, a.TrustLinks, 1, "self links are dropped")
	assert.Equal(t, 0.7, a.TrustLinks[0].Strength)
}
