package collab

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jharju/weft/internal/contextstore"
)

// registerChannelSend registers the channel_send tool.
func registerChannelSend(s *server.MCPServer, deps Deps) {
	s.AddTool(
		mcp.NewTool("channel_send",
			mcp.WithDescription("Post a message to the shared channel. Mention agents with @name to hand them the conversation; use 'to' for a direct message visible only to you and the recipient."),
			mcp.WithString("message", mcp.Required(), mcp.Description("Message content. @mentions of valid agents trigger their wakeup.")),
			mcp.WithString("to", mcp.Description("Optional direct-message recipient (agent name).")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			from, err := caller(ctx)
			if err != nil {
				return errResult(err.Error()), nil
			}
			args := req.GetArguments()
			message := stringArg(args, "message")
			if message == "" {
				return errResult("message is required"), nil
			}
			to := stringArg(args, "to")
			if to != "" && !deps.Store.IsAgent(to) {
				return errResult(fmt.Sprintf("unknown recipient %q", to)), nil
			}

			deps.Events.ToolCall(from, "channel_send", map[string]any{"to": to, "length": len(message)}, "mcp")

			msg, err := deps.Store.SmartSend(from, message, contextstore.AppendOptions{To: to})
			if err != nil {
				return nil, err
			}

			if deps.OnMention != nil {
				notified := make(map[string]bool)
				for _, target := range msg.Mentions {
					notified[target] = true
					deps.OnMention(from, target, msg)
				}
				if to != "" && !notified[to] {
					deps.OnMention(from, to, msg)
				}
			}

			deps.Logger.Printf("channel_send: %s -> mentions=%v to=%q", from, msg.Mentions, to)
			return jsonResult(map[string]any{
				"status":    "sent",
				"timestamp": msg.Timestamp,
				"mentions":  msg.Mentions,
				"to":        to,
			}), nil
		},
	)
}

// registerChannelRead registers the channel_read tool.
func registerChannelRead(s *server.MCPServer, deps Deps) {
	s.AddTool(
		mcp.NewTool("channel_read",
			mcp.WithDescription("Read the shared channel (your visibility: public messages plus your own direct messages)."),
			mcp.WithString("since", mcp.Description("Only messages with a timestamp strictly after this ISO-8601 value.")),
			mcp.WithNumber("limit", mcp.Description("Only the last N matching messages.")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			agent, err := caller(ctx)
			if err != nil {
				return errResult(err.Error()), nil
			}
			args := req.GetArguments()
			entries, err := deps.Store.ReadChannel(contextstore.ReadOptions{
				Since: stringArg(args, "since"),
				Limit: intArg(args, "limit", 0),
				Agent: agent,
			})
			if err != nil {
				return nil, err
			}
			return jsonResult(entries), nil
		},
	)
}
