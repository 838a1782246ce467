package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/rolechat/internal/auth"
	"github.com/kalambet/rolechat/internal/pipeline"
	"github.com/kalambet/rolechat/internal/retrieval"
	"github.com/kalambet/rolechat/internal/roles"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Directory auth.Directory
	Answerer  Answerer
	Indexes   IndexStatus // optional; backs the roles resource
	TopK      int
}

// NewMCPServer creates an MCP server exposing the ask and search tools.
// Every tool call carries credentials and is authenticated individually.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"rolechat",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("rolechat answers questions from role-restricted company documents. Authenticate every call with the user's credentials and role."),
		server.WithRecovery(),
	)

	credentials := []mcp.ToolOption{
		mcp.WithString("username", mcp.Description("Username"), mcp.Required()),
		mcp.WithString("password", mcp.Description("Password"), mcp.Required()),
		mcp.WithString("role", mcp.Description("Role the user is logging in as"), mcp.Required(),
			mcp.Enum(roleNames()...)),
	}

	s.AddTool(
		mcp.NewTool("ask", append([]mcp.ToolOption{
			mcp.WithDescription("Answer a question from the documents of the user's role. Reuse session_id to keep conversation history."),
			mcp.WithString("query", mcp.Description("The question"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Conversation name, private to the user and role; defaults to a single conversation")),
		}, credentials...)...),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("search", append([]mcp.ToolOption{
			mcp.WithDescription("Return the document chunks of the user's role most similar to a query."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 4)")),
		}, credentials...)...),
		mcpSearch(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"rolechat://roles",
			"Roles",
			mcp.WithResourceDescription("Known roles and whether each has a built index"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRoles(deps),
	)

	return s
}

func roleNames() []string {
	all := roles.All()
	out := make([]string, len(all))
	for i, r := range all {
		out[i] = string(r)
	}
	return out
}

// mcpAuthenticate validates the credential arguments shared by all tools.
func mcpAuthenticate(deps MCPDeps, req mcp.CallToolRequest) (auth.Credential, *mcp.CallToolResult) {
	username, err := req.RequireString("username")
	if err != nil {
		return auth.Credential{}, mcpError("username is required")
	}
	password, err := req.RequireString("password")
	if err != nil {
		return auth.Credential{}, mcpError("password is required")
	}
	roleName, err := req.RequireString("role")
	if err != nil {
		return auth.Credential{}, mcpError("role is required")
	}
	role, err := roles.Parse(roleName)
	if err != nil {
		return auth.Credential{}, mcpError(err.Error())
	}
	cred, err := auth.Authenticate(deps.Directory, username, password, role)
	if err != nil {
		return auth.Credential{}, mcpError(fmt.Sprintf("authentication failed: %v", err))
	}
	return cred, nil
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cred, failed := mcpAuthenticate(deps, req)
		if failed != nil {
			return failed, nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		sessionID := mcpSessionID(cred, req.GetString("session_id", ""))

		res, err := deps.Answerer.Answer(ctx, pipeline.Request{
			Query:     query,
			Role:      cred.Role,
			SessionID: sessionID,
			Username:  cred.Username,
		})
		if err != nil {
			if errors.Is(err, retrieval.ErrIndexNotFound) {
				return mcpError(fmt.Sprintf("no index for role %s; run ingestion first", cred.Role)), nil
			}
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		return mcpText(res.Answer), nil
	}
}

// mcpSessionID scopes a conversation to the authenticated caller so one
// user cannot resume another user's transcript by naming its id.
func mcpSessionID(cred auth.Credential, conversation string) string {
	id := "mcp:" + cred.Username + ":" + string(cred.Role)
	if conversation != "" {
		id += ":" + conversation
	}
	return id
}

func mcpSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cred, failed := mcpAuthenticate(deps, req)
		if failed != nil {
			return failed, nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", deps.TopK)
		if limit <= 0 {
			limit = 4
		}
		if limit > 50 {
			limit = 50
		}

		hits, err := deps.Answerer.Search(ctx, cred.Role, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		type chunkResult struct {
			ID      string  `json:"id"`
			Source  string  `json:"source"`
			Locator string  `json:"locator,omitempty"`
			Text    string  `json:"text"`
			Score   float32 `json:"score"`
		}

		results := make([]chunkResult, len(hits))
		for i, h := range hits {
			results[i] = chunkResult{
				ID:      h.Chunk.ID,
				Source:  h.Chunk.Source,
				Locator: h.Chunk.Locator,
				Text:    h.Chunk.Text,
				Score:   h.Score,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRoles(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		var avail map[roles.Role]bool
		if deps.Indexes != nil {
			avail = deps.Indexes.Available()
		}
		out := make([]roleStatus, 0, len(roles.All()))
		for _, role := range roles.All() {
			out = append(out, roleStatus{Role: role, Indexed: avail[role]})
		}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal roles: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
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
