// Package agent drives one workflow agent: a Backend turns a prompt into a
// response, and a Controller decides when to invoke it based on the agent's
// inbox.
package agent

import "context"

// MCPConfig tells a backend where the orchestrator's MCP endpoint lives.
type MCPConfig struct {
	// URL is the streamable HTTP endpoint, including the agent query
	// parameter used at initialize.
	URL string
	// ServerName is the name the backend should register the server under.
	ServerName string
}

// Usage is optional token accounting reported by a backend.
type Usage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Result is one backend response.
type Result struct {
	Content   string
	Usage     *Usage
	ToolCalls int
}

// SendOptions modify a single Send.
type SendOptions struct {
	// System is the resolved system prompt for this agent.
	System string
}

// Backend produces a response to a prompt. Implementations are opaque to the
// controller; a subprocess backend talks to the MCP server on its own, an
// in-process backend may call the store directly.
type Backend interface {
	Send(ctx context.Context, message string, opts SendOptions) (*Result, error)
	// SetWorkspace rebinds the backend's working directory and MCP endpoint
	// before a run.
	SetWorkspace(dir string, mcp MCPConfig)
}

// Streamer is implemented by backends that can deliver output incrementally.
// The handler receives raw chunks as they are produced.
type Streamer interface {
	Stream(handler func(chunk string))
}
