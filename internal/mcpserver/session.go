package mcpserver

import (
	"context"
	"regexp"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// sessionSuffixRe matches the "-<8 lowercase hex>" tail of a session id.
var sessionSuffixRe = regexp.MustCompile(`-[0-9a-f]{8}$`)

// NewSessionID generates a session id of the form <agent>-<8 hex>.
func NewSessionID(agent string) string {
	return agent + "-" + uuid.NewString()[:8]
}

// AgentFromSessionID recovers the agent identity encoded in a session id.
// Returns "" when the id does not carry the expected suffix.
func AgentFromSessionID(sessionID string) string {
	loc := sessionSuffixRe.FindStringIndex(sessionID)
	if loc == nil || loc[0] == 0 {
		return ""
	}
	return sessionID[:loc[0]]
}

// CallerAgent returns the agent identity of the MCP session attached to ctx,
// or "" when the request carries no session.
func CallerAgent(ctx context.Context) string {
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return ""
	}
	return AgentFromSessionID(session.SessionID())
}

// agentSession is one MCP client session bound to an agent identity. It
// implements server.ClientSession; notifications pushed by the MCP server are
// drained by the GET stream handler.
type agentSession struct {
	id            string
	agent         string
	notifications chan mcp.JSONRPCNotification
	initialized   atomic.Bool
}

func newAgentSession(agent string) *agentSession {
	return &agentSession{
		id:            NewSessionID(agent),
		agent:         agent,
		notifications: make(chan mcp.JSONRPCNotification, 64),
	}
}

func (s *agentSession) SessionID() string { return s.id }

func (s *agentSession) Initialize() { s.initialized.Store(true) }

func (s *agentSession) Initialized() bool { return s.initialized.Load() }

func (s *agentSession) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return s.notifications
}
