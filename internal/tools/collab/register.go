// Package collab registers the channel tools agents call over MCP: sending
// and reading messages, inbox queries and acks, resources, shared documents,
// team membership, and proposals. Each tool recovers the calling agent from
// its MCP session id.
package collab

import (
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/jharju/weft/internal/contextstore"
	"github.com/jharju/weft/internal/domain"
	"github.com/jharju/weft/internal/eventlog"
	"github.com/jharju/weft/internal/proposal"
)

// MentionHook is invoked for every mention target of a sent message, plus the
// DM recipient when not already mentioned. The scheduler uses it to wake
// controllers.
type MentionHook func(from, target string, msg domain.Message)

// Deps are the shared dependencies of all tool handlers.
type Deps struct {
	Store     *contextstore.Store
	Proposals *proposal.Manager
	Events    *eventlog.Log
	Logger    *log.Logger
	OnMention MentionHook
}

// Register registers all channel tools with the mcp-go server.
func Register(s *server.MCPServer, deps Deps) {
	// Channel tools (2)
	registerChannelSend(s, deps)
	registerChannelRead(s, deps)

	// Inbox tools (2)
	registerMyInbox(s, deps)
	registerMyInboxAck(s, deps)

	// Status tool (1)
	registerMyStatusSet(s, deps)

	// Team tool (1)
	registerTeamMembers(s, deps)

	// Resource tools (2)
	registerResourceCreate(s, deps)
	registerResourceRead(s, deps)

	// Document tools (5)
	registerTeamDocRead(s, deps)
	registerTeamDocWrite(s, deps)
	registerTeamDocAppend(s, deps)
	registerTeamDocList(s, deps)
	registerTeamDocCreate(s, deps)

	// Proposal tools (4)
	registerProposalCreate(s, deps)
	registerProposalVote(s, deps)
	registerProposalStatus(s, deps)
	registerProposalCancel(s, deps)
}
