package collab

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerMyInbox registers the my_inbox tool.
func registerMyInbox(s *server.MCPServer, deps Deps) {
	s.AddTool(
		mcp.NewTool("my_inbox",
			mcp.WithDescription("List the messages addressed to you (mentions and DMs) that you have not acknowledged yet. Acknowledge with my_inbox_ack when done."),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			agent, err := caller(ctx)
			if err != nil {
				return errResult(err.Error()), nil
			}
			inbox, err := deps.Store.GetInbox(agent)
			if err != nil {
				return nil, err
			}
			messages := make([]map[string]any, 0, len(inbox))
			for _, m := range inbox {
				messages = append(messages, map[string]any{
					"id":        m.ID,
					"from":      m.From,
					"content":   m.Content,
					"timestamp": m.Timestamp,
					"priority":  m.Priority,
				})
			}
			return jsonResult(map[string]any{"messages": messages, "count": len(messages)}), nil
		},
	)
}

// registerMyInboxAck registers the my_inbox_ack tool.
func registerMyInboxAck(s *server.MCPServer, deps Deps) {
	s.AddTool(
		mcp.NewTool("my_inbox_ack",
			mcp.WithDescription("Acknowledge your inbox up to and including the given message id. Acknowledged messages do not reappear."),
			mcp.WithString("until", mcp.Required(), mcp.Description("Message id to acknowledge through.")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			agent, err := caller(ctx)
			if err != nil {
				return errResult(err.Error()), nil
			}
			until := stringArg(req.GetArguments(), "until")
			if until == "" {
				return errResult("until is required"), nil
			}
			if err := deps.Store.AckInbox(agent, until); err != nil {
				return errResult(err.Error()), nil
			}
			return jsonResult(map[string]string{"status": "acknowledged", "until": until}), nil
		},
	)
}

// registerMyStatusSet registers the my_status_set tool.
func registerMyStatusSet(s *server.MCPServer, deps Deps) {
	s.AddTool(
		mcp.NewTool("my_status_set",
			mcp.WithDescription("Report what you are working on. Shown to teammates via team_members and on the status API."),
			mcp.WithString("task", mcp.Description("Free-text description of your current task.")),
			mcp.WithString("state", mcp.Description("Either 'idle' or 'running'."), mcp.Enum("idle", "running")),
			mcp.WithObject("metadata", mcp.Description("Optional string key/value details.")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			agent, err := caller(ctx)
			if err != nil {
				return errResult(err.Error()), nil
			}
			args := req.GetArguments()
			task := stringArg(args, "task")
			state := stringArg(args, "state")
			if err := deps.Store.SetAgentStatus(agent, task, state, stringMapArg(args, "metadata")); err != nil {
				return errResult(err.Error()), nil
			}
			return jsonResult(map[string]string{"status": "updated", "agent": agent, "task": task, "state": state}), nil
		},
	)
}
