// Package workspace provisions per-agent working directories under the
// context directory and cleans them up according to the configured strategy.
package workspace

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Cleanup strategies.
const (
	CleanupOnExit = "on_exit"
	CleanupManual = "manual"
)

// Info describes one provisioned workspace.
type Info struct {
	Agent     string    `json:"agent"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager creates isolated directories per agent. Directories live under
// <root>/workspaces/<agent>.
type Manager struct {
	root     string
	strategy string
	logger   *log.Logger

	mu     sync.Mutex
	active map[string]*Info
}

// NewManager creates a manager rooted at root. Strategy defaults to on_exit.
func NewManager(root, strategy string, logger *log.Logger) *Manager {
	if strategy == "" {
		strategy = CleanupOnExit
	}
	return &Manager{
		root:     root,
		strategy: strategy,
		logger:   logger,
		active:   make(map[string]*Info),
	}
}

// CleanupStrategy returns the configured cleanup strategy.
func (m *Manager) CleanupStrategy() string { return m.strategy }

// Ensure creates (or reuses) the workspace directory for agent.
func (m *Manager) Ensure(agent string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if info, ok := m.active[agent]; ok {
		if _, err := os.Stat(info.Path); err == nil {
			return info.Path, nil
		}
		// Removed externally; recreate.
		delete(m.active, agent)
	}

	path := filepath.Join(m.root, "workspaces", agent)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("workspace for %s: %w", agent, err)
	}
	m.active[agent] = &Info{Agent: agent, Path: path, CreatedAt: time.Now()}
	m.logger.Printf("Workspace: provisioned %s for %s", path, agent)
	return path, nil
}

// Path returns the workspace path for agent, or "".
func (m *Manager) Path(agent string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.active[agent]; ok {
		return info.Path
	}
	return ""
}

// List returns the active workspaces.
func (m *Manager) List() map[string]Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Info, len(m.active))
	for k, v := range m.active {
		out[k] = *v
	}
	return out
}

// Cleanup removes the workspace for one agent.
func (m *Manager) Cleanup(agent string) error {
	m.mu.Lock()
	info, ok := m.active[agent]
	if ok {
		delete(m.active, agent)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	m.logger.Printf("Workspace: removing %s", info.Path)
	return os.RemoveAll(info.Path)
}

// CleanupAll removes every managed workspace unless the strategy is manual.
func (m *Manager) CleanupAll() error {
	if m.strategy == CleanupManual {
		return nil
	}
	m.mu.Lock()
	active := m.active
	m.active = make(map[string]*Info)
	m.mu.Unlock()

	var firstErr error
	for _, info := range active {
		if err := os.RemoveAll(info.Path); err != nil {
			m.logger.Printf("Workspace: cleanup error for %s: %v", info.Agent, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
