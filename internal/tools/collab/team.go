package collab

import (
	"context"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerTeamMembers registers the team_members tool.
func registerTeamMembers(s *server.MCPServer, deps Deps) {
	s.AddTool(
		mcp.NewTool("team_members",
			mcp.WithDescription("List the agents in this workflow. Your own name is marked with (you)."),
			mcp.WithBoolean("includeStatus", mcp.Description("Include each agent's self-reported status.")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			agent, err := caller(ctx)
			if err != nil {
				return errResult(err.Error()), nil
			}
			names := deps.Store.Agents()
			sort.Strings(names)

			agents := make([]map[string]any, 0, len(names))
			for _, n := range names {
				entry := map[string]any{"name": n, "self": n == agent}
				agents = append(agents, entry)
			}
			result := map[string]any{"agents": agents, "count": len(agents)}
			if boolArg(req.GetArguments(), "includeStatus", false) {
				result["status"] = deps.Store.AgentStatuses()
			}
			return jsonResult(result), nil
		},
	)
}
