package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/tutorgraph/internal/graph"
	"github.com/kalambet/tutorgraph/internal/storage"
	"github.com/kalambet/tutorgraph/internal/tools"
)

const askToolName = "ask"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Turns TurnRunner
	Store *storage.Store
	Tools *tools.Registry
}

// NewMCPServer creates an MCP server that exposes every registered study tool,
// an ask tool that runs a full conversation turn, and read-only resources for
// the correction ledger and recent sessions.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"tutorgraph",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("tutorgraph: study assistant with persistent sessions, corrections and learning tools."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool(askToolName,
			mcp.WithDescription("Ask the tutor a question within a persistent session. Returns the answer and the session id to continue with."),
			mcp.WithString("query", mcp.Description("The question or instruction"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Session to continue; a new session is opened when omitted")),
		),
		mcpAsk(deps),
	)

	for _, def := range deps.Tools.Definitions() {
		schema, err := json.Marshal(toolSchema(def.Parameters))
		if err != nil {
			continue
		}
		s.AddTool(
			mcp.NewToolWithRawSchema(def.Name, def.Description, schema),
			mcpRegistryTool(deps.Tools, def.Name),
		)
	}

	s.AddResource(
		mcp.NewResource(
			"tutorgraph://corrections",
			"Corrections",
			mcp.WithResourceDescription("Every correction the tutor applies, as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCorrections(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"tutorgraph://sessions",
			"Recent Sessions",
			mcp.WithResourceDescription("The 10 most recently active sessions"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSessions(deps),
	)

	return s
}

func toolSchema(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return params
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		sessionID := req.GetString("session_id", "")
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		res, err := deps.Turns.RunTurn(ctx, graph.TurnInput{SessionID: sessionID, Query: query})
		if err != nil {
			return mcpError(fmt.Sprintf("turn failed: %v", err)), nil
		}

		b, err := json.Marshal(turnResponse(res))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRegistryTool(reg *tools.Registry, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcpError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		res := reg.Invoke(ctx, name, raw)
		if res.Failed() {
			return mcpError(res.Error), nil
		}
		return mcpText(res.Payload()), nil
	}
}

func mcpResourceCorrections(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		list, err := deps.Store.ListCorrections(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list corrections: %w", err)
		}

		out := make([]Correction, len(list))
		for i, c := range list {
			out[i] = Correction{Key: c.Key, Text: c.Text, CreatedAt: c.CreatedAt}
		}
		return jsonResource(req.Params.URI, out)
	}
}

func mcpResourceSessions(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sessions, err := deps.Store.ListSessions(ctx, 10)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}

		type sessionSummary struct {
			ID         string `json:"id"`
			LastActive string `json:"last_active"`
			Override   string `json:"override,omitempty"`
		}
		out := make([]sessionSummary, len(sessions))
		for i, s := range sessions {
			out[i] = sessionSummary{
				ID:         s.ID,
				LastActive: s.LastActive.Format(time.RFC3339),
				Override:   s.Metadata[storage.MetaModelOverride],
			}
		}
		return jsonResource(req.Params.URI, out)
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
