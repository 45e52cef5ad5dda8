package cmd

import (
	"github.com/Siddhant-K-code/identd/pkg/profile"
	"github.com/Siddhant-K-code/identd/pkg/session"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is set at build time via ldflags.
var version = "dev"

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server on stdio",
	Long: `Expose identity resolution, trust and session locks as MCP tools so
an agent can ask who it is talking to.

Logs go to stderr; stdout carries the protocol.`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().String("session-db", "", "session store path (default: session.db_path)")
}

// MCPServer serves the engine over the Model Context Protocol.
type MCPServer struct {
	engine    *profile.Engine
	sessStore session.Store
	logger    *zap.Logger
	server    *server.MCPServer
}

func newMCPServer(engine *profile.Engine, sessions session.Store, logger *zap.Logger) *MCPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sessions != nil {
		sessions = session.NewCachedStore(sessions, engine.Cache(), logger)
	}
	m := &MCPServer{
		engine:    engine,
		sessStore: sessions,
		logger:    logger.Named("mcp"),
		server: server.NewMCPServer(
			"identd",
			version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
	}
	m.registerTools()
	return m
}

func (m *MCPServer) registerTools() {
	m.server.AddTool(mcp.NewTool("resolve_identity",
		mcp.WithDescription("Resolve an utterance to the identity of its speaker"),
		mcp.WithString("text", mcp.Required(), mcp.Description("The utterance")),
		mcp.WithString("session_id", mcp.Description("Session whose lock applies")),
	), m.handleResolve)

	m.server.AddTool(mcp.NewTool("get_identity",
		mcp.WithDescription("Fetch an identity record"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Identity ID")),
	), m.handleGetIdentity)

	m.server.AddTool(mcp.NewTool("list_identities",
		mcp.WithDescription("List identities, optionally of one tier"),
		mcp.WithString("tier", mcp.Description("anchor, echo, stub or foreign")),
	), m.handleListIdentities)

	m.server.AddTool(mcp.NewTool("add_trust_link",
		mcp.WithDescription("Add or reinforce a trust link between two identities"),
		mcp.WithString("from", mcp.Required(), mcp.Description("Identity holding the link")),
		mcp.WithString("to", mcp.Required(), mcp.Description("Trusted identity")),
		mcp.WithString("relationship", mcp.Description("Relationship label")),
		mcp.WithNumber("strength", mcp.Description("Initial strength between 0 and 1 (default 0.5)")),
	), m.handleAddTrustLink)

	m.server.AddTool(mcp.NewTool("get_trusted_identities",
		mcp.WithDescription("List the trust links of an identity, strongest first"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Identity ID")),
		mcp.WithString("relationship", mcp.Description("Filter by relationship")),
	), m.handleGetTrusted)

	m.server.AddTool(mcp.NewTool("cache_metrics",
		mcp.WithDescription("Show cache hit rates and sizes"),
	), m.handleCacheMetrics)

	m.server.AddTool(mcp.NewTool("lock_session",
		mcp.WithDescription("Pin a session to an identity"),
		mcp.WithString("session_id", mcp.Description("Session ID (generated if empty)")),
		mcp.WithString("identity", mcp.Required(), mcp.Description("Identity to pin")),
	), m.handleLockSession)

	m.server.AddTool(mcp.NewTool("unlock_session",
		mcp.WithDescription("Release a session lock"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	), m.handleUnlockSession)
}

func runMCP(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	engine, err := openEngine(ctx, logger, nil)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	dbPath, _ := cmd.Flags().GetString("session-db")
	sessions, err := openSessionStore(dbPath, logger)
	if err != nil {
		return err
	}
	defer func() { _ = sessions.Close() }()

	m := newMCPServer(engine, sessions, logger)
	logger.Info("mcp server ready", zap.String("version", version))
	return server.ServeStdio(m.server)
}
