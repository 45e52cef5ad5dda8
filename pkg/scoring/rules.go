package scoring

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/Siddhant-K-code/identd/pkg/identity"
	"gopkg.in/yaml.v3"
)

// ErrInvalidRule is returned when a rule table fails validation.
var ErrInvalidRule = errors.New("invalid rule")

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// RuleKind tags the rule variants of a table.
type RuleKind string

const (
	KindOverride  RuleKind = "override"
	KindThreshold RuleKind = "threshold"
	KindPhrase    RuleKind = "phrase"
	KindName      RuleKind = "name"
)

// Rule is one entry of the classification policy.
type Rule interface {
	Kind() RuleKind
}

// OverrideKind distinguishes corrections from pure negations.
type OverrideKind string

const (
	OverrideCorrection OverrideKind = "correction"
	OverrideNegation   OverrideKind = "negation"
)

// OverrideRule short-circuits resolution. Corrections capture the new id
// in group "id"; negations capture the rejected id in group "negated".
type OverrideRule struct {
	Type    OverrideKind
	Pattern *regexp.Regexp
}

func (OverrideRule) Kind() RuleKind { return KindOverride }

// ThresholdRule lowers the resolution threshold of Target when any phrase
// occurs in the input.
type ThresholdRule struct {
	Target    string
	Threshold float64
	Phrases   []string
}

func (ThresholdRule) Kind() RuleKind { return KindThreshold }

// Strength grades phrase rules.
type Strength string

const (
	StrengthStrong  Strength = "strong"
	StrengthMedium  Strength = "medium"
	StrengthContext Strength = "context"
	StrengthSpecial Strength = "special"
)

var defaultStrengthWeights = map[Strength]float64{
	StrengthStrong:  0.5,
	StrengthMedium:  0.3,
	StrengthContext: 0.4,
	StrengthSpecial: 0,
}

// PhraseRule adds Weight to Target's pattern score per phrase hit; special
// phrases instead raise the final score to the special floor.
type PhraseRule struct {
	Target   string
	Strength Strength
	Weight   float64
	Phrases  []string
}

func (PhraseRule) Kind() RuleKind { return KindPhrase }

// NameRule captures a literal name mention in group "name".
type NameRule struct {
	Pattern *regexp.Regexp
}

func (NameRule) Kind() RuleKind { return KindName }

// RuleTable is the compiled classification policy.
type RuleTable struct {
	Overrides   []OverrideRule
	Thresholds  []ThresholdRule
	Phrases     []PhraseRule
	Names       []NameRule
	IgnoreNames map[string]bool
}

// Rules returns every rule as a tagged variant, overrides first.
func (t *RuleTable) Rules() []Rule {
	out := make([]Rule, 0, len(t.Overrides)+len(t.Thresholds)+len(t.Phrases)+len(t.Names))
	for _, r := range t.Overrides {
		out = append(out, r)
	}
	for _, r := range t.Thresholds {
		out = append(out, r)
	}
	for _, r := range t.Phrases {
		out = append(out, r)
	}
	for _, r := range t.Names {
		out = append(out, r)
	}
	return out
}

type rawRules struct {
	Overrides []struct {
		Kind    string `yaml:"kind"`
		Pattern string `yaml:"pattern"`
	} `yaml:"overrides"`
	Thresholds []struct {
		Target    string   `yaml:"target"`
		Threshold float64  `yaml:"threshold"`
		Phrases   []string `yaml:"phrases"`
	} `yaml:"thresholds"`
	Phrases []struct {
		Target   string   `yaml:"target"`
		Strength string   `yaml:"strength"`
		Weight   float64  `yaml:"weight"`
		Phrases  []string `yaml:"phrases"`
	} `yaml:"phrases"`
	Names []struct {
		Pattern string `yaml:"pattern"`
	} `yaml:"names"`
	IgnoreNames []string `yaml:"ignore_names"`
}

// DefaultRules returns the embedded rule table.
func DefaultRules() *RuleTable {
	t, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded rules: %v", err))
	}
	return t
}

// LoadRules reads a YAML rule table from path. An empty path yields the
// embedded defaults.
func LoadRules(path string) (*RuleTable, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules compiles and validates a YAML rule table.
func ParseRules(data []byte) (*RuleTable, error) {
	var raw rawRules
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	t := &RuleTable{IgnoreNames: make(map[string]bool)}

	for i, o := range raw.Overrides {
		re, err := regexp.Compile(o.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: override %d: %v", ErrInvalidRule, i, err)
		}
		kind := OverrideKind(strings.ToLower(o.Kind))
		switch kind {
		case OverrideCorrection:
			if re.SubexpIndex("id") < 0 {
				return nil, fmt.Errorf("%w: override %d: correction needs an (?P<id>) group", ErrInvalidRule, i)
			}
		case OverrideNegation:
			if re.SubexpIndex("negated") < 0 {
				return nil, fmt.Errorf("%w: override %d: negation needs a (?P<negated>) group", ErrInvalidRule, i)
			}
		default:
			return nil, fmt.Errorf("%w: override %d: unknown kind %q", ErrInvalidRule, i, o.Kind)
		}
		t.Overrides = append(t.Overrides, OverrideRule{Type: kind, Pattern: re})
	}

	for i, th := range raw.Thresholds {
		if th.Target == "" || th.Threshold <= 0 || th.Threshold > 1 {
			return nil, fmt.Errorf("%w: threshold %d: needs a target and a threshold in (0,1]", ErrInvalidRule, i)
		}
		t.Thresholds = append(t.Thresholds, ThresholdRule{
			Target:    strings.ToLower(th.Target),
			Threshold: th.Threshold,
			Phrases:   normalizePhrases(th.Phrases),
		})
	}

	for i, p := range raw.Phrases {
		strength := Strength(strings.ToLower(p.Strength))
		def, ok := defaultStrengthWeights[strength]
		if !ok {
			return nil, fmt.Errorf("%w: phrase %d: unknown strength %q", ErrInvalidRule, i, p.Strength)
		}
		if p.Target == "" {
			return nil, fmt.Errorf("%w: phrase %d: missing target", ErrInvalidRule, i)
		}
		weight := p.Weight
		if weight <= 0 {
			weight = def
		}
		t.Phrases = append(t.Phrases, PhraseRule{
			Target:   strings.ToLower(p.Target),
			Strength: strength,
			Weight:   weight,
			Phrases:  normalizePhrases(p.Phrases),
		})
	}

	for i, n := range raw.Names {
		re, err := regexp.Compile(n.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: name %d: %v", ErrInvalidRule, i, err)
		}
		if re.SubexpIndex("name") < 0 {
			return nil, fmt.Errorf("%w: name %d: needs a (?P<name>) group", ErrInvalidRule, i)
		}
		t.Names = append(t.Names, NameRule{Pattern: re})
	}

	for _, n := range raw.IgnoreNames {
		t.IgnoreNames[identity.NormalizeID(n)] = true
	}

	return t, nil
}

func normalizePhrases(phrases []string) []string {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if n := normalizeText(p); n != "" {
			out = append(out, n)
		}
	}
	return out
}
