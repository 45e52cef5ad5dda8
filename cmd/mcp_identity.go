package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Siddhant-K-code/identd/pkg/identity"
	"github.com/Siddhant-K-code/identd/pkg/profile"
	"github.com/mark3labs/mcp-go/mcp"
)

func (m *MCPServer) handleResolve(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	text, _ := args["text"].(string)
	if text == "" {
		return mcp.NewToolResultError("text is required"), nil
	}

	var sc profile.SessionContext
	if sessionID, _ := args["session_id"].(string); sessionID != "" && m.sessStore != nil {
		var err error
		if sc, err = m.sessStore.Context(ctx, sessionID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("load session: %v", err)), nil
		}
	}

	result := m.engine.ResolveDetailed(ctx, text, sc)

	out, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (m *MCPServer) handleGetIdentity(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	id, _ := args["id"].(string)
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}

	rec, err := m.engine.GetIdentity(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get identity: %v", err)), nil
	}

	out, _ := json.MarshalIndent(rec, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (m *MCPServer) handleListIdentities(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	var t identity.Tier
	if raw, _ := args["tier"].(string); raw != "" {
		var err error
		if t, err = identity.ParseTier(raw); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	recs, err := m.engine.ListAll(ctx, t)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list identities: %v", err)), nil
	}

	out, _ := json.MarshalIndent(recs, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (m *MCPServer) handleAddTrustLink(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	from, _ := args["from"].(string)
	to, _ := args["to"].(string)
	if from == "" || to == "" {
		return mcp.NewToolResultError("from and to are required"), nil
	}
	rel, _ := args["relationship"].(string)

	strength := 0.5
	if v, ok := args["strength"].(float64); ok {
		strength = v
	}

	link, err := m.engine.AddTrustLink(ctx, from, to, rel, strength)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("add trust link: %v", err)), nil
	}

	out, _ := json.MarshalIndent(link, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (m *MCPServer) handleGetTrusted(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	id, _ := args["id"].(string)
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	rel, _ := args["relationship"].(string)

	links, err := m.engine.GetTrustedIdentities(ctx, id, rel)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get trusted identities: %v", err)), nil
	}

	out, _ := json.MarshalIndent(links, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (m *MCPServer) handleCacheMetrics(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, _ := json.MarshalIndent(m.engine.GetCacheMetrics(), "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
