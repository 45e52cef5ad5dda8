package cmd

import (
	"sort"

	"github.com/Siddhant-K-code/identd/pkg/scoring"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Show the classification rules in effect",
	Long: `Print the compiled rule table: the embedded defaults, or the file named
by rules.file / --file. Loading doubles as validation of a custom table.

Examples:
  identd rules
  identd rules --file ./my_rules.yaml --kind override`,
	RunE: runRules,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.Flags().String("file", "", "rule table to load (default: rules.file or the embedded table)")
	rulesCmd.Flags().String("kind", "", "only show one kind: override, threshold, phrase or name")
}

// ruleView is the printable form of one rule.
type ruleView struct {
	Kind      scoring.RuleKind `json:"kind"`
	Type      string           `json:"type,omitempty"`
	Target    string           `json:"target,omitempty"`
	Pattern   string           `json:"pattern,omitempty"`
	Threshold float64          `json:"threshold,omitempty"`
	Strength  string           `json:"strength,omitempty"`
	Weight    float64          `json:"weight,omitempty"`
	Phrases   []string         `json:"phrases,omitempty"`
}

func runRules(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("file")
	if path == "" {
		path = viper.GetString("rules.file")
	}
	kind, _ := cmd.Flags().GetString("kind")

	table, err := scoring.LoadRules(path)
	if err != nil {
		return err
	}

	ignored := make([]string, 0, len(table.IgnoreNames))
	for n := range table.IgnoreNames {
		ignored = append(ignored, n)
	}
	sort.Strings(ignored)

	views := describeRules(table, scoring.RuleKind(kind))
	return printJSON(map[string]any{"rules": views, "count": len(views), "ignore_names": ignored})
}

// describeRules flattens the table in evaluation order, keeping only kind
// when it is set.
func describeRules(table *scoring.RuleTable, kind scoring.RuleKind) []ruleView {
	var out []ruleView
	for _, r := range table.Rules() {
		if kind != "" && r.Kind() != kind {
			continue
		}
		v := ruleView{Kind: r.Kind()}
		switch r := r.(type) {
		case scoring.OverrideRule:
			v.Type = string(r.Type)
			v.Pattern = r.Pattern.String()
		case scoring.ThresholdRule:
			v.Target = r.Target
			v.Threshold = r.Threshold
			v.Phrases = r.Phrases
		case scoring.PhraseRule:
			v.Target = r.Target
			v.Strength = string(r.Strength)
			v.Weight = r.Weight
			v.Phrases = r.Phrases
		case scoring.NameRule:
			v.Pattern = r.Pattern.String()
		}
		out = append(out, v)
	}
	return out
}
