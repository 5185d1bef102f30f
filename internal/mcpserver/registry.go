package mcpserver

import (
	"sync"
	"time"
)

// Registry tracks connected MCP sessions and their agent identities. One
// session per agent: a reconnect displaces the previous session.
type Registry struct {
	mu           sync.RWMutex
	sessions     map[string]*agentSession // sessionID -> session
	agents       map[string]string        // agentName -> sessionID
	lastActivity map[string]time.Time     // sessionID -> last activity
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:     make(map[string]*agentSession),
		agents:       make(map[string]string),
		lastActivity: make(map[string]time.Time),
	}
}

func (r *Registry) add(s *agentSession) (displaced *agentSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if oldID, ok := r.agents[s.agent]; ok && oldID != s.id {
		displaced = r.sessions[oldID]
		delete(r.sessions, oldID)
		delete(r.lastActivity, oldID)
	}
	r.sessions[s.id] = s
	r.agents[s.agent] = s.id
	r.lastActivity[s.id] = time.Now()
	return displaced
}

func (r *Registry) get(sessionID string) *agentSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

func (r *Registry) remove(sessionID string) *agentSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(r.sessions, sessionID)
	delete(r.lastActivity, sessionID)
	if r.agents[s.agent] == sessionID {
		delete(r.agents, s.agent)
	}
	return s
}

// Touch records activity for a session.
func (r *Registry) Touch(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; ok {
		r.lastActivity[sessionID] = time.Now()
	}
}

// HasActiveSession reports whether the agent has a connected session.
func (r *Registry) HasActiveSession(agent string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[agent]
	return ok
}

// ConnectedAgents returns the currently connected agent names.
func (r *Registry) ConnectedAgents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for a := range r.agents {
		out = append(out, a)
	}
	return out
}

// SessionCount returns the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
