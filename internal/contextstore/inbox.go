package contextstore

import (
	"encoding/json"
	"fmt"

	"github.com/jharju/weft/internal/domain"
)

// Inbox message priorities, highest first.
const (
	PriorityDirect  = "direct"
	PriorityMention = "mention"
	PrioritySystem  = "system"
)

// InboxMessage is a channel entry annotated for inbox delivery.
type InboxMessage struct {
	domain.Message
	Priority string `json:"priority"`
	Seen     bool   `json:"seen"`
}

// inboxState mirrors _state/inbox.json. Two cursors give the two-phase
// seen-then-acknowledged model: seen marks delivery to the controller, read
// marks the agent having processed up to that message.
type inboxState struct {
	ReadCursors map[string]string `json:"readCursors"`
	SeenCursors map[string]string `json:"seenCursors"`
}

// loadInboxStateLocked loads and caches the cursor state. Caller holds inboxMu.
func (s *Store) loadInboxStateLocked() (*inboxState, error) {
	if s.inboxState != nil {
		return s.inboxState, nil
	}
	state := &inboxState{
		ReadCursors: make(map[string]string),
		SeenCursors: make(map[string]string),
	}
	content, ok, err := s.backend.Read(InboxStateKey)
	if err != nil {
		return nil, fmt.Errorf("contextstore: load inbox state: %w", err)
	}
	if ok {
		if err := json.Unmarshal(content, state); err != nil {
			return nil, fmt.Errorf("contextstore: parse inbox state: %w", err)
		}
		if state.ReadCursors == nil {
			state.ReadCursors = make(map[string]string)
		}
		if state.SeenCursors == nil {
			state.SeenCursors = make(map[string]string)
		}
	}
	s.inboxState = state
	return state, nil
}

// saveInboxStateLocked rewrites the whole state file. Caller holds inboxMu.
func (s *Store) saveInboxStateLocked(state *inboxState) error {
	content, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("contextstore: marshal inbox state: %w", err)
	}
	if err := s.backend.Write(InboxStateKey, append(content, '\n')); err != nil {
		return fmt.Errorf("contextstore: save inbox state: %w", err)
	}
	return nil
}

// indexOfLocked returns the cache index of the entry with the given id, or -1.
// Caller holds mu.
func (s *Store) indexOfLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.entries {
		if s.entries[i].ID == id {
			return i
		}
	}
	return -1
}

// GetInbox returns the unacknowledged mentions and direct messages for agent,
// priority-annotated, oldest first.
func (s *Store) GetInbox(agent string) ([]InboxMessage, error) {
	if err := s.SyncChannel(); err != nil {
		return nil, err
	}

	s.inboxMu.Lock()
	state, err := s.loadInboxStateLocked()
	if err != nil {
		s.inboxMu.Unlock()
		return nil, err
	}
	readCursor := state.ReadCursors[agent]
	seenCursor := state.SeenCursors[agent]
	s.inboxMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	ackIndex := s.indexOfLocked(readCursor)
	if readCursor != "" && ackIndex < 0 {
		// Stale cursor (id not in the cache): reveal everything from the run
		// start rather than silently dropping messages.
		s.logger.Printf("Inbox: stale read cursor %q for %s, showing all since run start", readCursor, agent)
	}
	seenIndex := s.indexOfLocked(seenCursor)

	start := s.runStart
	if ackIndex+1 > start {
		start = ackIndex + 1
	}

	var out []InboxMessage
	for i := start; i < len(s.entries); i++ {
		e := s.entries[i]
		if !e.Visible() {
			continue
		}
		if e.From == agent {
			continue
		}
		mentioned := false
		for _, m := range e.Mentions {
			if m == agent {
				mentioned = true
				break
			}
		}
		if !mentioned && e.To != agent {
			continue
		}
		priority := PriorityMention
		switch {
		case e.To == agent:
			priority = PriorityDirect
		case e.From == domain.SenderSystem:
			priority = PrioritySystem
		}
		out = append(out, InboxMessage{
			Message:  e,
			Priority: priority,
			Seen:     seenIndex >= 0 && i <= seenIndex,
		})
	}
	return out, nil
}

// AckInbox advances agent's read cursor to id and persists the state. Acks
// that would move the cursor backwards are ignored; acks are monotonic
// within a controller.
func (s *Store) AckInbox(agent, id string) error {
	return s.advanceCursor(agent, id, false)
}

// MarkInboxSeen advances agent's seen cursor to id.
func (s *Store) MarkInboxSeen(agent, id string) error {
	return s.advanceCursor(agent, id, true)
}

func (s *Store) advanceCursor(agent, id string, seen bool) error {
	if err := s.SyncChannel(); err != nil {
		return err
	}
	s.inboxMu.Lock()
	defer s.inboxMu.Unlock()

	state, err := s.loadInboxStateLocked()
	if err != nil {
		return err
	}
	cursors := state.ReadCursors
	if seen {
		cursors = state.SeenCursors
	}

	s.mu.Lock()
	newIndex := s.indexOfLocked(id)
	curIndex := s.indexOfLocked(cursors[agent])
	s.mu.Unlock()

	if newIndex < 0 {
		return fmt.Errorf("contextstore: unknown message id %q", id)
	}
	if newIndex < curIndex {
		return nil
	}
	cursors[agent] = id
	return s.saveInboxStateLocked(state)
}
