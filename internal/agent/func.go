package agent

import (
	"context"
	"sync"
)

// SendFunc is an in-process Backend built from a function. The scheduler uses
// it for scripted agents and tests use it to mock backends.
type SendFunc struct {
	fn func(ctx context.Context, message string, opts SendOptions) (*Result, error)

	mu        sync.Mutex
	workspace string
	mcp       MCPConfig
	calls     int
}

// NewSendFunc wraps fn as a Backend.
func NewSendFunc(fn func(ctx context.Context, message string, opts SendOptions) (*Result, error)) *SendFunc {
	return &SendFunc{fn: fn}
}

func (b *SendFunc) Send(ctx context.Context, message string, opts SendOptions) (*Result, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	return b.fn(ctx, message, opts)
}

func (b *SendFunc) SetWorkspace(dir string, mcp MCPConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.workspace = dir
	b.mcp = mcp
}

// Calls returns how many times Send has been invoked.
func (b *SendFunc) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Workspace returns the last workspace binding.
func (b *SendFunc) Workspace() (string, MCPConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.workspace, b.mcp
}
