package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Siddhant-K-code/identd/pkg/identity"
	"github.com/Siddhant-K-code/identd/pkg/jsonx"
	"github.com/Siddhant-K-code/identd/pkg/profile"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Inspect and manage identity records",
	Long: `Read and administer identities across the anchor, echo, stub and
foreign tiers.

Foreign identities only live in memory, so from the CLI they are only
visible to the command that created them; use the server for those.

Examples:
  identd identity get --id dana
  identd identity list --tier stub
  identd identity seed --id dana --note "plays the cello"
  identd identity seed --file stubs.yaml
  identd identity merge --source dana-alt --target dana
  identd identity delete --id dana`,
}

var identityGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show one identity",
	RunE:  runIdentityGet,
}

var identityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List identities",
	RunE:  runIdentityList,
}

var identitySeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create or extend stub identities",
	RunE:  runIdentitySeed,
}

var identityDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete an identity and links pointing at it",
	RunE:  runIdentityDelete,
}

var identityMergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Fold one identity into another",
	RunE:  runIdentityMerge,
}

var identityMutateCmd = &cobra.Command{
	Use:   "mutate",
	Short: "Apply a patch to an identity",
	RunE:  runIdentityMutate,
}

func init() {
	rootCmd.AddCommand(identityCmd)
	identityCmd.AddCommand(identityGetCmd, identityListCmd, identitySeedCmd,
		identityDeleteCmd, identityMergeCmd, identityMutateCmd)

	identityGetCmd.Flags().String("id", "", "Identity ID")
	_ = identityGetCmd.MarkFlagRequired("id")

	identityListCmd.Flags().String("tier", "", "Only list this tier (anchor, echo, stub, foreign)")

	identitySeedCmd.Flags().String("id", "", "Stub ID")
	identitySeedCmd.Flags().StringSlice("note", nil, "Notes describing the stub")
	identitySeedCmd.Flags().String("file", "", "YAML file with a list of stubs (id, notes, tone)")

	identityDeleteCmd.Flags().String("id", "", "Identity ID")
	_ = identityDeleteCmd.MarkFlagRequired("id")

	identityMergeCmd.Flags().String("source", "", "Identity to fold away")
	identityMergeCmd.Flags().String("target", "", "Identity that absorbs the source")
	_ = identityMergeCmd.MarkFlagRequired("source")
	_ = identityMergeCmd.MarkFlagRequired("target")

	identityMutateCmd.Flags().String("id", "", "Identity ID")
	identityMutateCmd.Flags().String("patch", "", "Patch as JSON")
	identityMutateCmd.Flags().String("note", "", "Append a pattern with this note")
	identityMutateCmd.Flags().String("event", "note", "Event name of the appended pattern")
	identityMutateCmd.Flags().Bool("bump", false, "Bump recurrence and last-seen")
	identityMutateCmd.Flags().String("tone-sample", "", "Text to merge into the tone baseline")
	_ = identityMutateCmd.MarkFlagRequired("id")
}

func runIdentityGet(cmd *cobra.Command, _ []string) error {
	id, _ := cmd.Flags().GetString("id")
	return withEngine(func(ctx context.Context, e *profile.Engine) error {
		rec, err := e.GetIdentity(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(rec)
	})
}

func runIdentityList(cmd *cobra.Command, _ []string) error {
	tierFlag, _ := cmd.Flags().GetString("tier")
	var t identity.Tier
	if tierFlag != "" {
		var err error
		if t, err = identity.ParseTier(tierFlag); err != nil {
			return err
		}
	}
	return withEngine(func(ctx context.Context, e *profile.Engine) error {
		recs, err := e.ListAll(ctx, t)
		if err != nil {
			return err
		}
		return printJSON(recs)
	})
}

func runIdentitySeed(cmd *cobra.Command, _ []string) error {
	id, _ := cmd.Flags().GetString("id")
	notes, _ := cmd.Flags().GetStringSlice("note")
	file, _ := cmd.Flags().GetString("file")

	var seeds []profile.StubSeed
	switch {
	case file != "":
		loaded, err := loadSeeds(file)
		if err != nil {
			return err
		}
		seeds = loaded
	case id != "":
		seeds = []profile.StubSeed{{ID: id, Notes: notes}}
	default:
		return fmt.Errorf("one of --id or --file is required")
	}

	return withEngine(func(ctx context.Context, e *profile.Engine) error {
		bar := progressbar.NewOptions(len(seeds),
			progressbar.OptionSetDescription("seeding stubs"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		var (
			seeded []*identity.Identity
			failed []string
		)
		for _, s := range seeds {
			rec, err := e.SeedStub(ctx, s)
			_ = bar.Add(1)
			if err != nil {
				failed = append(failed, fmt.Sprintf("%s: %v", s.ID, err))
				continue
			}
			seeded = append(seeded, rec)
		}
		_ = bar.Finish()

		if err := printJSON(map[string]any{"seeded": seeded, "failed": failed}); err != nil {
			return err
		}
		if len(failed) > 0 {
			return fmt.Errorf("%d of %d stubs failed", len(failed), len(seeds))
		}
		return nil
	})
}

// loadSeeds reads a YAML list of stubs, or a document with a top-level
// "stubs" key.
func loadSeeds(path string) ([]profile.StubSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var list []profile.StubSeed
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc struct {
		Stubs []profile.StubSeed `yaml:"stubs"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return doc.Stubs, nil
}

func runIdentityDelete(cmd *cobra.Command, _ []string) error {
	id, _ := cmd.Flags().GetString("id")
	return withEngine(func(ctx context.Context, e *profile.Engine) error {
		if err := e.DeleteIdentity(ctx, id); err != nil {
			return err
		}
		return printJSON(map[string]any{"id": id, "deleted": true})
	})
}

func runIdentityMerge(cmd *cobra.Command, _ []string) error {
	source, _ := cmd.Flags().GetString("source")
	target, _ := cmd.Flags().GetString("target")
	return withEngine(func(ctx context.Context, e *profile.Engine) error {
		rec, err := e.MergeIdentities(ctx, source, target)
		if err != nil {
			return err
		}
		return printJSON(rec)
	})
}

func runIdentityMutate(cmd *cobra.Command, _ []string) error {
	id, _ := cmd.Flags().GetString("id")
	raw, _ := cmd.Flags().GetString("patch")
	note, _ := cmd.Flags().GetString("note")
	event, _ := cmd.Flags().GetString("event")
	bump, _ := cmd.Flags().GetBool("bump")
	toneSample, _ := cmd.Flags().GetString("tone-sample")

	var patch identity.Patch
	if raw != "" {
		if err := jsonx.Unmarshal([]byte(raw), &patch); err != nil {
			return fmt.Errorf("parse --patch: %w", err)
		}
	}
	if note = strings.TrimSpace(note); note != "" {
		patch.AppendPatterns = append(patch.AppendPatterns, identity.Pattern{Event: event, Note: note})
	}
	patch.BumpRecurrence = patch.BumpRecurrence || bump
	if toneSample != "" {
		patch.ToneSample = toneSample
	}

	return withEngine(func(ctx context.Context, e *profile.Engine) error {
		changed, err := e.MutateIdentity(ctx, id, patch)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"id": id, "changed": changed})
	})
}
