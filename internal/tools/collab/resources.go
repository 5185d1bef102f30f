package collab

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerResourceCreate registers the resource_create tool.
func registerResourceCreate(s *server.MCPServer, deps Deps) {
	s.AddTool(
		mcp.NewTool("resource_create",
			mcp.WithDescription("Store content as an immutable resource and get back a resource:<id> reference to share on the channel."),
			mcp.WithString("content", mcp.Required(), mcp.Description("The content to store.")),
			mcp.WithString("type", mcp.Description("Content type: markdown, json, diff, or text (default).")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			agent, err := caller(ctx)
			if err != nil {
				return errResult(err.Error()), nil
			}
			args := req.GetArguments()
			content := stringArg(args, "content")
			if content == "" {
				return errResult("content is required"), nil
			}
			res, err := deps.Store.CreateResource(content, stringArg(args, "type"))
			if err != nil {
				return nil, err
			}
			deps.Events.ToolCall(agent, "resource_create", map[string]any{"id": res.ID, "length": len(content)}, "mcp")
			return jsonResult(map[string]string{
				"id":   res.ID,
				"ref":  res.Ref,
				"hint": fmt.Sprintf("Share it as %s; readers use resource_read(%q).", res.Ref, res.ID),
			}), nil
		},
	)
}

// registerResourceRead registers the resource_read tool.
func registerResourceRead(s *server.MCPServer, deps Deps) {
	s.AddTool(
		mcp.NewTool("resource_read",
			mcp.WithDescription("Read a resource by id."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Resource id (from a resource:<id> reference).")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := caller(ctx); err != nil {
				return errResult(err.Error()), nil
			}
			id := stringArg(req.GetArguments(), "id")
			if id == "" {
				return errResult("id is required"), nil
			}
			content, ok, err := deps.Store.ReadResource(id)
			if err != nil {
				return nil, err
			}
			if !ok {
				return errResult(fmt.Sprintf("resource %q not found", id)), nil
			}
			return mcp.NewToolResultText(content), nil
		},
	)
}
