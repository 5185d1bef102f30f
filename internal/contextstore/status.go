package contextstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jharju/weft/internal/domain"
)

// AgentStatus is an agent's self-reported status, surfaced by team_members
// and the status API.
type AgentStatus struct {
	Agent     string            `json:"agent"`
	Task      string            `json:"task,omitempty"`
	State     string            `json:"state"` // idle or running
	Metadata  map[string]string `json:"metadata,omitempty"`
	UpdatedAt string            `json:"updated_at"`
}

// SetAgentStatus records the agent's self-reported task and state and
// persists the status board.
func (s *Store) SetAgentStatus(agent, task, state string, metadata map[string]string) error {
	if state != "" && state != "idle" && state != "running" {
		return fmt.Errorf("contextstore: invalid state %q", state)
	}
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	cur := s.statuses[agent]
	if cur == nil {
		cur = &AgentStatus{Agent: agent, State: "idle"}
		s.statuses[agent] = cur
	}
	if task != "" {
		cur.Task = task
	}
	if state != "" {
		cur.State = state
	}
	if metadata != nil {
		cur.Metadata = metadata
	}
	cur.UpdatedAt = domain.FormatTime(time.Now())

	content, err := json.MarshalIndent(s.statuses, "", "  ")
	if err != nil {
		return fmt.Errorf("contextstore: marshal status: %w", err)
	}
	return s.backend.Write(StatusStateKey, append(content, '\n'))
}

// AgentStatuses returns a snapshot of the status board.
func (s *Store) AgentStatuses() map[string]AgentStatus {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	out := make(map[string]AgentStatus, len(s.statuses))
	for k, v := range s.statuses {
		out[k] = *v
	}
	return out
}
