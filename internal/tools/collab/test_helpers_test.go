package collab

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jharju/weft/internal/contextstore"
	"github.com/jharju/weft/internal/domain"
	"github.com/jharju/weft/internal/eventlog"
	"github.com/jharju/weft/internal/mcpserver"
	"github.com/jharju/weft/internal/proposal"
	"github.com/jharju/weft/internal/storage"
)

// testEnv bundles the server and its dependencies for tool tests.
type testEnv struct {
	server *server.MCPServer
	deps   Deps
	store  *contextstore.Store
	// mentioned records OnMention calls as "from->target".
	mentioned []string
}

// newTestEnv creates a server with all tools registered over an in-memory
// store with the given agents.
func newTestEnv(t *testing.T, agents ...string) *testEnv {
	t.Helper()
	if len(agents) == 0 {
		agents = []string{"alice", "bob", "carol"}
	}
	logger := log.New(io.Discard, "", 0)
	store := contextstore.New(storage.NewMemory(), logger, contextstore.Options{Agents: agents})

	env := &testEnv{store: store}
	env.deps = Deps{
		Store:     store,
		Proposals: proposal.NewManager(agents),
		Events:    eventlog.New(store, logger),
		Logger:    logger,
		OnMention: func(from, target string, _ domain.Message) {
			env.mentioned = append(env.mentioned, from+"->"+target)
		},
	}
	env.server = server.NewMCPServer("weft-test", "0.0.0")
	Register(env.server, env.deps)
	return env
}

// fakeSession implements server.ClientSession with an agent-encoded id.
type fakeSession struct {
	id            string
	initialized   bool
	notifications chan mcp.JSONRPCNotification
}

func newFakeSession(agent string) *fakeSession {
	return &fakeSession{
		id:            mcpserver.NewSessionID(agent),
		notifications: make(chan mcp.JSONRPCNotification, 8),
	}
}

func (s *fakeSession) SessionID() string { return s.id }
func (s *fakeSession) Initialize()       { s.initialized = true }
func (s *fakeSession) Initialized() bool { return s.initialized }
func (s *fakeSession) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return s.notifications
}

// callToolAs invokes a tool with the caller identity of agent.
func callToolAs(t *testing.T, env *testEnv, agent, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()

	session := newFakeSession(agent)
	if err := env.server.RegisterSession(context.Background(), session); err != nil {
		t.Fatalf("register session: %v", err)
	}
	defer env.server.UnregisterSession(context.Background(), session.SessionID())
	session.Initialize()
	ctx := env.server.WithContext(context.Background(), session)

	reqJSON, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      name,
			"arguments": args,
		},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	respJSON := env.server.HandleMessage(ctx, reqJSON)
	respBytes, err := json.Marshal(respJSON)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("RPC error %d calling %s: %s", resp.Error.Code, name, resp.Error.Message)
	}

	var result mcp.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	return &result
}

// resultText extracts the first text content from a CallToolResult.
func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil {
		t.Fatal("result is nil")
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in result")
	return ""
}

// resultJSON unmarshals the text content into out.
func resultJSON(t *testing.T, result *mcp.CallToolResult, out any) {
	t.Helper()
	text := resultText(t, result)
	if err := json.Unmarshal([]byte(text), out); err != nil {
		t.Fatalf("unmarshal tool result %q: %v", text, err)
	}
}

// assertToolError fails unless the result is a status=error payload containing
// wantSubstr.
func assertToolError(t *testing.T, result *mcp.CallToolResult, wantSubstr string) {
	t.Helper()
	var payload map[string]string
	resultJSON(t, result, &payload)
	if payload["status"] != "error" {
		t.Fatalf("expected error result, got %v", payload)
	}
	if wantSubstr != "" && !strings.Contains(payload["error"], wantSubstr) {
		t.Fatalf("error %q does not mention %q", payload["error"], wantSubstr)
	}
}
