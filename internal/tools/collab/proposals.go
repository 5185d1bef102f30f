package collab

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jharju/weft/internal/contextstore"
	"github.com/jharju/weft/internal/domain"
	"github.com/jharju/weft/internal/proposal"
)

// registerProposalCreate registers the team_proposal_create tool.
func registerProposalCreate(s *server.MCPServer, deps Deps) {
	s.AddTool(
		mcp.NewTool("team_proposal_create",
			mcp.WithDescription("Open a proposal for the team to vote on. The proposal is announced on the channel; the result is announced when it resolves."),
			mcp.WithString("type", mcp.Required(), mcp.Description("Proposal type."), mcp.Enum("election", "decision", "approval", "assignment")),
			mcp.WithString("title", mcp.Required(), mcp.Description("What is being decided.")),
			mcp.WithArray("options", mcp.Required(), mcp.Description("Choices, in declaration order. Ties resolve to the earliest option.")),
			mcp.WithString("resolution", mcp.Description("Counting rule: plurality (default), majority, or unanimous."), mcp.Enum("plurality", "majority", "unanimous")),
			mcp.WithNumber("quorum", mcp.Description("Votes required before a plurality resolution (default: all agents).")),
			mcp.WithBoolean("binding", mcp.Description("Mark the outcome binding on the team.")),
			mcp.WithNumber("ttlSeconds", mcp.Description("Expire the proposal after this many seconds.")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			creator, err := caller(ctx)
			if err != nil {
				return errResult(err.Error()), nil
			}
			args := req.GetArguments()
			prop, err := deps.Proposals.Create(proposal.CreateParams{
				Type:       domain.ProposalType(stringArg(args, "type")),
				Title:      stringArg(args, "title"),
				Options:    stringSliceArg(args, "options"),
				Creator:    creator,
				Binding:    boolArg(args, "binding", false),
				Resolution: domain.Resolution(stringArg(args, "resolution")),
				Quorum:     intArg(args, "quorum", 0),
				TieBreaker: "first",
				TTL:        time.Duration(intArg(args, "ttlSeconds", 0)) * time.Second,
			})
			if err != nil {
				return errResult(err.Error()), nil
			}

			deps.Events.ToolCall(creator, "team_proposal_create", map[string]any{"id": prop.ID, "type": string(prop.Type)}, "mcp")
			announceProposal(deps, creator, prop)

			return jsonResult(map[string]any{
				"status":     "created",
				"id":         prop.ID,
				"type":       prop.Type,
				"title":      prop.Title,
				"options":    prop.Options,
				"resolution": prop.Resolution,
				"quorum":     prop.Quorum,
			}), nil
		},
	)
}

// registerProposalVote registers the team_proposal_vote tool.
func registerProposalVote(s *server.MCPServer, deps Deps) {
	s.AddTool(
		mcp.NewTool("team_proposal_vote",
			mcp.WithDescription("Cast or change your vote on an active proposal."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Proposal id.")),
			mcp.WithString("choice", mcp.Required(), mcp.Description("One of the proposal's options.")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			voter, err := caller(ctx)
			if err != nil {
				return errResult(err.Error()), nil
			}
			args := req.GetArguments()
			id := stringArg(args, "id")
			choice := stringArg(args, "choice")
			prop, resolved, err := deps.Proposals.Vote(id, voter, choice)
			if err != nil {
				return errResult(err.Error()), nil
			}

			deps.Events.ToolCall(voter, "team_proposal_vote", map[string]any{"id": id}, "mcp")
			if resolved {
				announceResult(deps, prop)
			}

			return jsonResult(map[string]any{
				"status":   "voted",
				"id":       prop.ID,
				"choice":   choice,
				"votes":    len(prop.Votes),
				"resolved": resolved,
			}), nil
		},
	)
}

// registerProposalStatus registers the team_proposal_status tool.
func registerProposalStatus(s *server.MCPServer, deps Deps) {
	s.AddTool(
		mcp.NewTool("team_proposal_status",
			mcp.WithDescription("Inspect a proposal, or list all proposals when no id is given."),
			mcp.WithString("id", mcp.Description("Proposal id.")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := caller(ctx); err != nil {
				return errResult(err.Error()), nil
			}
			id := stringArg(req.GetArguments(), "id")
			if id == "" {
				props := deps.Proposals.List()
				return jsonResult(map[string]any{"proposals": props, "count": len(props)}), nil
			}
			prop, err := deps.Proposals.Get(id)
			if err != nil {
				return errResult(err.Error()), nil
			}
			return jsonResult(prop), nil
		},
	)
}

// registerProposalCancel registers the team_proposal_cancel tool.
func registerProposalCancel(s *server.MCPServer, deps Deps) {
	s.AddTool(
		mcp.NewTool("team_proposal_cancel",
			mcp.WithDescription("Cancel an active proposal you created."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Proposal id.")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			agent, err := caller(ctx)
			if err != nil {
				return errResult(err.Error()), nil
			}
			id := stringArg(req.GetArguments(), "id")
			prop, err := deps.Proposals.Cancel(id, agent)
			if err != nil {
				return errResult(err.Error()), nil
			}
			deps.Events.System(domain.SenderSystem, fmt.Sprintf("Proposal %s (%s) was cancelled by %s.", prop.ID, prop.Title, agent))
			return jsonResult(map[string]string{"status": "cancelled", "id": prop.ID}), nil
		},
	)
}

// announceProposal posts the new proposal to the channel so every agent sees
// it in their regular channel reads.
func announceProposal(deps Deps, creator string, prop *domain.Proposal) {
	text := fmt.Sprintf("Proposal %s (%s): %s\nOptions: %s\nVote with team_proposal_vote(id=%q).",
		prop.ID, prop.Type, prop.Title, strings.Join(prop.Options, ", "), prop.ID)
	if _, err := deps.Store.AppendChannel(creator, text, contextstore.AppendOptions{}); err != nil {
		deps.Logger.Printf("proposal announce failed: %v", err)
	}
}

// announceResult posts the resolution as a system-originated message that
// mentions every eligible voter, so each of them gets an inbox entry.
func announceResult(deps Deps, prop *domain.Proposal) {
	mentions := make([]string, 0, len(deps.Proposals.Voters()))
	for _, v := range deps.Proposals.Voters() {
		mentions = append(mentions, "@"+v)
	}
	outcome := "no winner"
	if prop.Result != nil && prop.Result.Winner != "" {
		outcome = fmt.Sprintf("winner: %s", prop.Result.Winner)
	}
	reason := ""
	if prop.Result != nil && prop.Result.Reason != "" {
		reason = " (" + prop.Result.Reason + ")"
	}
	text := fmt.Sprintf("%s Proposal %s (%s) resolved, %s%s.", strings.Join(mentions, " "), prop.ID, prop.Title, outcome, reason)
	msg, err := deps.Store.AppendChannel(domain.SenderSystem, text, contextstore.AppendOptions{})
	if err != nil {
		deps.Logger.Printf("proposal result announce failed: %v", err)
		return
	}
	if deps.OnMention != nil {
		for _, target := range msg.Mentions {
			deps.OnMention(domain.SenderSystem, target, msg)
		}
	}
}
