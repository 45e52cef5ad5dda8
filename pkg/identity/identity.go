// Package identity defines the identity record shared by the resolver,
// the tiered store and the trust graph, together with the pure helpers
// that mutate it (pattern history, tone baseline, voice hash, trust links).
package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Common errors returned across the engine.
var (
	ErrNotFound         = errors.New("identity not found")
	ErrPermissionDenied = errors.New("operation not permitted on anchor identity")
	ErrStorageFault     = errors.New("storage fault")
	ErrCacheFault       = errors.New("cache fault")
	ErrMalformedRecord  = errors.New("malformed identity record")
	ErrInvalidID        = errors.New("invalid identity id")
	ErrTierConflict     = errors.New("identity exists in another tier")
	ErrLinkNotFound     = errors.New("trust link not found")
)

const (
	// MaxPatterns is the FIFO capacity of an identity's pattern history.
	MaxPatterns = 10
	// MaxTrustLinks is how many links survive each trust mutation.
	MaxTrustLinks = 10
	// MaxToneTokens bounds the tone baseline fingerprint.
	MaxToneTokens = 50
	// TrustBump is added to an existing link when it is added again.
	TrustBump = 0.1
)

// Tier is the storage tier an identity lives in.
type Tier string

const (
	TierAnchor  Tier = "anchor"  // the single permanent primary identity
	TierStub    Tier = "stub"    // manually seeded alias, matched by name only
	TierEcho    Tier = "echo"    // promoted from repeated foreign interactions
	TierForeign Tier = "foreign" // RAM-only visitor
)

// DurableTiers lists the persisted tiers in resolver precedence order.
var DurableTiers = []Tier{TierAnchor, TierEcho, TierStub}

// Durable reports whether records of this tier are persisted.
func (t Tier) Durable() bool {
	return t == TierAnchor || t == TierStub || t == TierEcho
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t.Durable() || t == TierForeign
}

// ParseTier converts a user supplied string into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// Pattern is one summarized interaction.
type Pattern struct {
	Event     string    `json:"event"`
	Note      string    `json:"note"`
	Relation  string    `json:"relation,omitempty"`
	Emotional string    `json:"emotional,omitempty"`
	At        time.Time `json:"at"`
}

// TrustLink is a directed, weighted relationship to another identity.
type TrustLink struct {
	TargetID        string    `json:"target_id"`
	Relationship    string    `json:"relationship"`
	Strength        float64   `json:"strength"`
	Created         time.Time `json:"created"`
	LastInteraction time.Time `json:"last_interaction"`
}

// Identity is the persistent (or, for foreign visitors, volatile) record.
type Identity struct {
	ID              string             `json:"id"`
	Tier            Tier               `json:"tier"`
	FirstSeen       time.Time          `json:"first_seen"`
	LastSeen        time.Time          `json:"last_seen"`
	RecurrenceCount int                `json:"recurrence_count"`
	ToneBaseline    map[string]float64 `json:"tone_baseline"`
	Patterns        []Pattern          `json:"patterns"`
	TrustLinks      []TrustLink        `json:"trust_links"`
	VoiceHash       string             `json:"voice_hash,omitempty"`
}

// New creates an empty record of the given tier stamped with now.
func New(id string, tier Tier, now time.Time) *Identity {
	return &Identity{
		ID:           id,
		Tier:         tier,
		FirstSeen:    now,
		LastSeen:     now,
		ToneBaseline: map[string]float64{},
	}
}

// Clone returns a deep copy so callers never share mutable state with
// the arena or the cache.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	c.ToneBaseline = make(map[string]float64, len(i.ToneBaseline))
	for k, v := range i.ToneBaseline {
		c.ToneBaseline[k] = v
	}
	c.Patterns = append([]Pattern(nil), i.Patterns...)
	c.TrustLinks = append([]TrustLink(nil), i.TrustLinks...)
	return &c
}

// Validate checks the structural invariants of a decoded record.
func (i *Identity) Validate() error {
	if i == nil {
		return fmt.Errorf("%w: nil record", ErrMalformedRecord)
	}
	if err := ValidateID(i.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if !i.Tier.Valid() {
		return fmt.Errorf("%w: unknown tier %q", ErrMalformedRecord, i.Tier)
	}
	if i.RecurrenceCount < 0 {
		return fmt.Errorf("%w: negative recurrence count", ErrMalformedRecord)
	}
	if i.ToneBaseline == nil {
		i.ToneBaseline = map[string]float64{}
	}
	return nil
}

// LatestPattern returns the most recent pattern, if any.
func (i *Identity) LatestPattern() (Pattern, bool) {
	if len(i.Patterns) == 0 {
		return Pattern{}, false
	}
	return i.Patterns[len(i.Patterns)-1], true
}

// AppendPattern pushes p onto the history, dropping the oldest entries
// once MaxPatterns is exceeded.
func (i *Identity) AppendPattern(p Pattern) {
	i.Patterns = append(i.Patterns, p)
	if over := len(i.Patterns) - MaxPatterns; over > 0 {
		i.Patterns = append([]Pattern(nil), i.Patterns[over:]...)
	}
}

// Touch records an interaction at now.
func (i *Identity) Touch(now time.Time) {
	i.RecurrenceCount++
	if now.After(i.LastSeen) {
		i.LastSeen = now
	}
}

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// NormalizeID lower-cases and trims a candidate id.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// ValidateID rejects ids that can't be used as a storage key.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
