package cmd

import (
	"context"

	"github.com/Siddhant-K-code/identd/pkg/session"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Pin sessions to an identity",
	Long: `A locked session resolves to its identity until it is unlocked, unless
the utterance is an explicit correction ("I'm not X, I'm Y").

Examples:
  identd session lock --session-id call-42 --identity dana
  identd session get --session-id call-42
  identd session unlock --session-id call-42
  identd session delete --session-id call-42`,
}

var sessionLockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Lock a session to an identity",
	RunE:  runSessionLock,
}

var sessionUnlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Release a session lock",
	RunE:  runSessionUnlock,
}

var sessionGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show a session's lock state",
	RunE:  runSessionGet,
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Forget a session",
	RunE:  runSessionDelete,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known sessions",
	RunE:  runSessionList,
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLockCmd, sessionUnlockCmd, sessionGetCmd, sessionDeleteCmd, sessionListCmd)

	// Shared flags
	sessionCmd.PersistentFlags().String("session-db", "", "SQLite database path (default: session.db_path)")

	sessionLockCmd.Flags().String("session-id", "", "Session ID (auto-generated if empty)")
	sessionLockCmd.Flags().String("identity", "", "Identity to pin")
	_ = sessionLockCmd.MarkFlagRequired("identity")

	for _, c := range []*cobra.Command{sessionUnlockCmd, sessionGetCmd, sessionDeleteCmd} {
		c.Flags().String("session-id", "", "Session ID")
		_ = c.MarkFlagRequired("session-id")
	}
}

func withSessionStore(cmd *cobra.Command, fn func(ctx context.Context, s *session.SQLiteStore) error) error {
	dbPath, _ := cmd.Flags().GetString("session-db")
	store, err := openSessionStore(dbPath, nil)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(context.Background(), store)
}

func runSessionLock(cmd *cobra.Command, _ []string) error {
	sessionID, _ := cmd.Flags().GetString("session-id")
	identityID, _ := cmd.Flags().GetString("identity")

	return withSessionStore(cmd, func(ctx context.Context, s *session.SQLiteStore) error {
		lock, err := s.Lock(ctx, sessionID, identityID)
		if err != nil {
			return err
		}
		return printJSON(lock)
	})
}

func runSessionUnlock(cmd *cobra.Command, _ []string) error {
	sessionID, _ := cmd.Flags().GetString("session-id")

	return withSessionStore(cmd, func(ctx context.Context, s *session.SQLiteStore) error {
		lock, err := s.Unlock(ctx, sessionID)
		if err != nil {
			return err
		}
		return printJSON(lock)
	})
}

func runSessionGet(cmd *cobra.Command, _ []string) error {
	sessionID, _ := cmd.Flags().GetString("session-id")

	return withSessionStore(cmd, func(ctx context.Context, s *session.SQLiteStore) error {
		lock, err := s.Get(ctx, sessionID)
		if err != nil {
			return err
		}
		return printJSON(lock)
	})
}

func runSessionDelete(cmd *cobra.Command, _ []string) error {
	sessionID, _ := cmd.Flags().GetString("session-id")

	return withSessionStore(cmd, func(ctx context.Context, s *session.SQLiteStore) error {
		if err := s.Delete(ctx, sessionID); err != nil {
			return err
		}
		return printJSON(map[string]any{"session_id": sessionID, "deleted": true})
	})
}

func runSessionList(cmd *cobra.Command, _ []string) error {
	return withSessionStore(cmd, func(ctx context.Context, s *session.SQLiteStore) error {
		locks, err := s.List(ctx)
		if err != nil {
			return err
		}
		return printJSON(locks)
	})
}
