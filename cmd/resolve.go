package cmd

import (
	"context"
	"fmt"

	"github.com/Siddhant-K-code/identd/pkg/profile"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve an utterance to an identity",
	Long: `Run an utterance through the resolver and print which identity it
belongs to and how that was decided.

A session id loads the session's lock from the session store, so a
locked session resolves to its pinned identity.

Examples:
  identd resolve --text "I'm not Chris, I'm Dana"
  identd resolve --text "hello again" --session-id call-42`,
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().String("text", "", "Utterance to resolve")
	resolveCmd.Flags().String("session-id", "", "Session whose lock applies")
	resolveCmd.Flags().String("session-db", "", "Session store path (default: session.db_path)")
	_ = resolveCmd.MarkFlagRequired("text")
}

func runResolve(cmd *cobra.Command, _ []string) error {
	text, _ := cmd.Flags().GetString("text")
	if text == "" {
		return fmt.Errorf("--text is required")
	}
	sessionID, _ := cmd.Flags().GetString("session-id")
	sessionDB, _ := cmd.Flags().GetString("session-db")

	return withEngine(func(ctx context.Context, e *profile.Engine) error {
		var sc profile.SessionContext
		if sessionID != "" {
			store, err := openSessionStore(sessionDB, nil)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if sc, err = store.Context(ctx, sessionID); err != nil {
				return err
			}
		}
		return printJSON(e.ResolveDetailed(ctx, text, sc))
	})
}
