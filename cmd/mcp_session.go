package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (m *MCPServer) handleLockSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	identityID, _ := args["identity"].(string)
	if identityID == "" {
		return mcp.NewToolResultError("identity is required"), nil
	}
	sessionID, _ := args["session_id"].(string)

	if _, err := m.engine.GetIdentity(ctx, identityID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("lock session: %v", err)), nil
	}

	lock, err := m.sessStore.Lock(ctx, sessionID, identityID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("lock session: %v", err)), nil
	}

	data, _ := json.MarshalIndent(lock, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}

func (m *MCPServer) handleUnlockSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	sessionID, _ := args["session_id"].(string)
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	lock, err := m.sessStore.Unlock(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("unlock session: %v", err)), nil
	}

	data, _ := json.MarshalIndent(lock, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}
