package collab

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jharju/weft/internal/contextstore"
)

// canWriteDoc enforces the documentOwner policy: when an owner is configured,
// only that agent may write.
func canWriteDoc(deps Deps, agent string) error {
	owner := deps.Store.DocumentOwner()
	if owner != "" && owner != agent {
		return fmt.Errorf("documents are owned by %s; ask them for changes", owner)
	}
	return nil
}

// registerTeamDocRead registers the team_doc_read tool.
func registerTeamDocRead(s *server.MCPServer, deps Deps) {
	s.AddTool(
		mcp.NewTool("team_doc_read",
			mcp.WithDescription("Read a shared team document."),
			mcp.WithString("file", mcp.Description("Document path (default notes.md).")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := caller(ctx); err != nil {
				return errResult(err.Error()), nil
			}
			file := stringArg(req.GetArguments(), "file")
			if file == "" {
				file = contextstore.DefaultDocument
			}
			content, ok, err := deps.Store.ReadDocument(file)
			if err != nil {
				return errResult(err.Error()), nil
			}
			if !ok {
				return errResult(fmt.Sprintf("document %q not found", file)), nil
			}
			return mcp.NewToolResultText(content), nil
		},
	)
}

// registerTeamDocWrite registers the team_doc_write tool.
func registerTeamDocWrite(s *server.MCPServer, deps Deps) {
	s.AddTool(
		mcp.NewTool("team_doc_write",
			mcp.WithDescription("Overwrite a shared team document."),
			mcp.WithString("content", mcp.Required(), mcp.Description("New document content.")),
			mcp.WithString("file", mcp.Description("Document path (default notes.md).")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			agent, err := caller(ctx)
			if err != nil {
				return errResult(err.Error()), nil
			}
			if err := canWriteDoc(deps, agent); err != nil {
				return errResult(err.Error()), nil
			}
			args := req.GetArguments()
			file := stringArg(args, "file")
			if err := deps.Store.WriteDocument(file, stringArg(args, "content")); err != nil {
				return errResult(err.Error()), nil
			}
			deps.Events.ToolCall(agent, "team_doc_write", map[string]any{"file": file}, "mcp")
			return jsonResult(map[string]string{"status": "written", "file": file}), nil
		},
	)
}

// registerTeamDocAppend registers the team_doc_append tool.
func registerTeamDocAppend(s *server.MCPServer, deps Deps) {
	s.AddTool(
		mcp.NewTool("team_doc_append",
			mcp.WithDescription("Append to a shared team document."),
			mcp.WithString("content", mcp.Required(), mcp.Description("Content to append.")),
			mcp.WithString("file", mcp.Description("Document path (default notes.md).")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			agent, err := caller(ctx)
			if err != nil {
				return errResult(err.Error()), nil
			}
			if err := canWriteDoc(deps, agent); err != nil {
				return errResult(err.Error()), nil
			}
			args := req.GetArguments()
			file := stringArg(args, "file")
			if err := deps.Store.AppendDocument(file, stringArg(args, "content")); err != nil {
				return errResult(err.Error()), nil
			}
			return jsonResult(map[string]string{"status": "appended", "file": file}), nil
		},
	)
}

// registerTeamDocList registers the team_doc_list tool.
func registerTeamDocList(s *server.MCPServer, deps Deps) {
	s.AddTool(
		mcp.NewTool("team_doc_list",
			mcp.WithDescription("List the shared team documents."),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := caller(ctx); err != nil {
				return errResult(err.Error()), nil
			}
			docs, err := deps.Store.ListDocuments()
			if err != nil {
				return errResult(err.Error()), nil
			}
			return jsonResult(map[string]any{"documents": docs, "count": len(docs)}), nil
		},
	)
}

// registerTeamDocCreate registers the team_doc_create tool.
func registerTeamDocCreate(s *server.MCPServer, deps Deps) {
	s.AddTool(
		mcp.NewTool("team_doc_create",
			mcp.WithDescription("Create a new shared team document. Fails if the document already exists."),
			mcp.WithString("file", mcp.Required(), mcp.Description("Document path.")),
			mcp.WithString("content", mcp.Description("Initial content.")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			agent, err := caller(ctx)
			if err != nil {
				return errResult(err.Error()), nil
			}
			if err := canWriteDoc(deps, agent); err != nil {
				return errResult(err.Error()), nil
			}
			args := req.GetArguments()
			file := stringArg(args, "file")
			if file == "" {
				return errResult("file is required"), nil
			}
			if err := deps.Store.CreateDocument(file, stringArg(args, "content")); err != nil {
				return errResult(err.Error()), nil
			}
			return jsonResult(map[string]string{"status": "created", "file": file}), nil
		},
	)
}
