package cmd

import (
	"context"

	"github.com/Siddhant-K-code/identd/pkg/profile"
	"github.com/spf13/cobra"
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Manage trust links between identities",
	Long: `Trust links are directed, weighted relationships. Each identity keeps
at most ten links, strongest first. Adding an existing link bumps its
strength by 0.1.

Examples:
  identd trust add --from chris --to dana --relationship friend --strength 0.5
  identd trust update --from chris --to dana --relationship friend --delta -0.2
  identd trust list --id chris`,
}

var trustAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or reinforce a trust link",
	RunE:  runTrustAdd,
}

var trustUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Change the strength of an existing link",
	RunE:  runTrustUpdate,
}

var trustListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the links of an identity",
	RunE:  runTrustList,
}

func init() {
	rootCmd.AddCommand(trustCmd)
	trustCmd.AddCommand(trustAddCmd, trustUpdateCmd, trustListCmd)

	for _, c := range []*cobra.Command{trustAddCmd, trustUpdateCmd} {
		c.Flags().String("from", "", "Identity holding the link")
		c.Flags().String("to", "", "Trusted identity")
		c.Flags().String("relationship", "", "Relationship label")
		_ = c.MarkFlagRequired("from")
		_ = c.MarkFlagRequired("to")
	}
	trustAddCmd.Flags().Float64("strength", 0.5, "Initial strength (0-1)")
	trustUpdateCmd.Flags().Float64("delta", 0.1, "Strength change, may be negative")

	trustListCmd.Flags().String("id", "", "Identity ID")
	trustListCmd.Flags().String("relationship", "", "Filter by relationship")
	_ = trustListCmd.MarkFlagRequired("id")
}

func runTrustAdd(cmd *cobra.Command, _ []string) error {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	rel, _ := cmd.Flags().GetString("relationship")
	strength, _ := cmd.Flags().GetFloat64("strength")

	return withEngine(func(ctx context.Context, e *profile.Engine) error {
		link, err := e.AddTrustLink(ctx, from, to, rel, strength)
		if err != nil {
			return err
		}
		return printJSON(link)
	})
}

func runTrustUpdate(cmd *cobra.Command, _ []string) error {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	rel, _ := cmd.Flags().GetString("relationship")
	delta, _ := cmd.Flags().GetFloat64("delta")

	return withEngine(func(ctx context.Context, e *profile.Engine) error {
		link, err := e.UpdateTrustStrength(ctx, from, to, rel, delta)
		if err != nil {
			return err
		}
		return printJSON(link)
	})
}

func runTrustList(cmd *cobra.Command, _ []string) error {
	id, _ := cmd.Flags().GetString("id")
	rel, _ := cmd.Flags().GetString("relationship")

	return withEngine(func(ctx context.Context, e *profile.Engine) error {
		links, err := e.GetTrustedIdentities(ctx, id, rel)
		if err != nil {
			return err
		}
		return printJSON(links)
	})
}
