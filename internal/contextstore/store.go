// Package contextstore implements the shared channel over a storage backend:
// a cached, incrementally tailed JSONL message log with visibility filtering,
// per-agent inbox cursors, resource blobs, and named documents. It is the
// single source of truth for all agent communication.
package contextstore

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jharju/weft/internal/domain"
	"github.com/jharju/weft/internal/storage"
)

const (
	// ChannelKey is the storage key of the append-only message log.
	ChannelKey = "channel.jsonl"
	// InboxStateKey holds per-agent read/seen cursors.
	InboxStateKey = "_state/inbox.json"
	// StatusStateKey holds per-agent self-reported status.
	StatusStateKey = "_state/status.json"

	// DefaultMessageThreshold is the content length above which SmartSend
	// extracts the body into a resource.
	DefaultMessageThreshold = 2000
)

// Options configures a Store.
type Options struct {
	// Agents is the valid-agent set used for mention extraction.
	Agents []string
	// MessageThreshold overrides DefaultMessageThreshold when > 0.
	MessageThreshold int
	// Mode controls Destroy behavior: ephemeral contexts drop inbox state,
	// bind contexts keep everything.
	Mode domain.ContextMode
	// DocumentOwner, when set, is the only agent allowed to write documents.
	// Enforced at the tool surface.
	DocumentOwner string
}

// syncCall is a single in-flight channel sync shared by all waiters.
type syncCall struct {
	done chan struct{}
	err  error
}

// Store is the domain layer over a storage backend. All methods are safe for
// concurrent use; the channel cache is monotonic (entries are never removed
// or reordered).
type Store struct {
	backend   storage.Backend
	logger    *log.Logger
	agents    map[string]bool
	threshold int
	mode      domain.ContextMode
	docOwner  string

	mu           sync.Mutex
	entries      []domain.Message
	syncedOffset int64
	inflight     *syncCall
	runStart     int
	parseErrs    int

	appendMu sync.Mutex
	lastTS   string

	inboxMu    sync.Mutex
	inboxState *inboxState

	statusMu sync.Mutex
	statuses map[string]*AgentStatus
}

// New creates a Store over backend.
func New(backend storage.Backend, logger *log.Logger, opts Options) *Store {
	threshold := opts.MessageThreshold
	if threshold <= 0 {
		threshold = DefaultMessageThreshold
	}
	mode := opts.Mode
	if mode == "" {
		mode = domain.ContextEphemeral
	}
	return &Store{
		backend:   backend,
		logger:    logger,
		agents:    domain.AgentSet(opts.Agents),
		threshold: threshold,
		mode:      mode,
		docOwner:  opts.DocumentOwner,
		statuses:  make(map[string]*AgentStatus),
	}
}

// Agents returns the valid agent names in sorted-insertion-independent order.
func (s *Store) Agents() []string {
	out := make([]string, 0, len(s.agents))
	for a := range s.agents {
		out = append(out, a)
	}
	return out
}

// IsAgent reports whether name is in the valid-agent set.
func (s *Store) IsAgent(name string) bool { return s.agents[name] }

// DocumentOwner returns the configured document owner, or "".
func (s *Store) DocumentOwner() string { return s.docOwner }

// Mode returns the context persistence mode.
func (s *Store) Mode() domain.ContextMode { return s.mode }

// SyncChannel reads any new bytes from the channel log into the cache. At
// most one sync is in flight; concurrent callers share its result.
func (s *Store) SyncChannel() error {
	s.mu.Lock()
	if s.inflight != nil {
		call := s.inflight
		s.mu.Unlock()
		<-call.done
		return call.err
	}
	call := &syncCall{done: make(chan struct{})}
	s.inflight = call
	offset := s.syncedOffset
	s.mu.Unlock()

	res, err := s.backend.ReadFrom(ChannelKey, offset)

	s.mu.Lock()
	if err == nil {
		consumed := s.ingestLocked(res.Content)
		s.syncedOffset = offset + consumed
	}
	s.inflight = nil
	call.err = err
	s.mu.Unlock()
	close(call.done)
	if err != nil {
		return fmt.Errorf("contextstore: sync channel: %w", err)
	}
	return nil
}

// ingestLocked parses newline-terminated JSON records and appends them to the
// cache. A trailing partial line (no terminator yet) is left unconsumed so
// the next sync picks it up whole. Malformed lines are skipped and counted.
func (s *Store) ingestLocked(content []byte) int64 {
	var consumed int64
	for len(content) > 0 {
		nl := -1
		for i, b := range content {
			if b == '\n' {
				nl = i
				break
			}
		}
		if nl < 0 {
			break
		}
		line := content[:nl]
		content = content[nl+1:]
		consumed += int64(nl + 1)
		trimmed := strings.TrimSpace(string(line))
		if trimmed == "" {
			continue
		}
		var msg domain.Message
		if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
			s.parseErrs++
			s.logger.Printf("Channel: skipping malformed line (%d so far): %v", s.parseErrs, err)
			continue
		}
		s.entries = append(s.entries, msg)
	}
	return consumed
}

// ParseErrors returns the count of malformed channel lines skipped so far.
func (s *Store) ParseErrors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parseErrs
}

// ChannelLength returns the number of cached entries after a sync.
func (s *Store) ChannelLength() (int, error) {
	if err := s.SyncChannel(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

// AppendOptions modify a channel append.
type AppendOptions struct {
	To       string
	Kind     domain.MessageKind
	ToolCall *domain.ToolCall
}

// AppendChannel assigns an id and timestamp, extracts mentions, and appends
// one JSON line to the channel. The returned message is the complete record.
func (s *Store) AppendChannel(from, content string, opts AppendOptions) (domain.Message, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	ts := domain.FormatTime(time.Now())
	if ts < s.lastTS {
		ts = s.lastTS
	}
	s.lastTS = ts

	msg := domain.Message{
		ID:        newID(),
		Timestamp: ts,
		From:      from,
		Content:   content,
		Mentions:  domain.ExtractMentions(content, s.agents),
		To:        opts.To,
		Kind:      opts.Kind,
		ToolCall:  opts.ToolCall,
	}
	line, err := json.Marshal(&msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("contextstore: marshal message: %w", err)
	}
	if err := s.backend.Append(ChannelKey, append(line, '\n')); err != nil {
		return domain.Message{}, fmt.Errorf("contextstore: append channel: %w", err)
	}
	// Append then sync is the release/acquire pair: after this returns, any
	// reader that syncs sees the message.
	if err := s.SyncChannel(); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// SmartSend appends content as a message, extracting over-threshold content
// into a resource. The visible message keeps the mentions of the original
// content and carries a resource reference; a debug entry preserves the full
// text for operators.
func (s *Store) SmartSend(from, content string, opts AppendOptions) (domain.Message, error) {
	if len(content) <= s.threshold {
		return s.AppendChannel(from, content, opts)
	}

	resType := "text"
	if strings.Contains(content, "```") {
		resType = "markdown"
	}
	res, err := s.CreateResource(content, resType)
	if err != nil {
		return domain.Message{}, err
	}
	if _, err := s.AppendChannel(from, content, AppendOptions{To: opts.To, Kind: domain.KindDebug}); err != nil {
		return domain.Message{}, err
	}

	mentions := domain.ExtractMentions(content, s.agents)
	var b strings.Builder
	for _, m := range mentions {
		b.WriteString("@" + m + " ")
	}
	fmt.Fprintf(&b, "[Long content stored as resource]\n\nRead the full content: resource_read(%q)\n\nReference: %s", res.ID, res.Ref)
	return s.AppendChannel(from, b.String(), opts)
}

// ReadOptions filter a channel read.
type ReadOptions struct {
	// Since keeps entries with a strictly later timestamp.
	Since string
	// Limit keeps only the last Limit entries after filtering.
	Limit int
	// Agent applies the agent visibility filter: operator-facing kinds are
	// dropped and direct messages are hidden from third parties.
	Agent string
}

// ReadChannel returns the cached entries after applying the visibility
// filter.
func (s *Store) ReadChannel(opts ReadOptions) ([]domain.Message, error) {
	if err := s.SyncChannel(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	entries := make([]domain.Message, len(s.entries))
	copy(entries, s.entries)
	s.mu.Unlock()

	var out []domain.Message
	for _, e := range entries {
		if opts.Agent != "" {
			if !e.Visible() {
				continue
			}
			if e.IsDirect() && e.To != opts.Agent && e.From != opts.Agent {
				continue
			}
		}
		if opts.Since != "" && !(e.Timestamp > opts.Since) {
			continue
		}
		out = append(out, e)
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[len(out)-opts.Limit:]
	}
	return out, nil
}

// TailChannel returns entries from cursor to the end plus the new cursor.
// The primary path for display watchers.
func (s *Store) TailChannel(cursor int) ([]domain.Message, int, error) {
	if err := s.SyncChannel(); err != nil {
		return nil, cursor, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(s.entries) {
		cursor = len(s.entries)
	}
	out := make([]domain.Message, len(s.entries)-cursor)
	copy(out, s.entries[cursor:])
	return out, len(s.entries), nil
}

// MarkRunStart records the current channel length as the run epoch. Inbox
// queries skip every older entry, giving ephemeral contexts fresh-run
// semantics without deleting history.
func (s *Store) MarkRunStart() error {
	if err := s.SyncChannel(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runStart = len(s.entries)
	return nil
}

// RunStart returns the current run epoch.
func (s *Store) RunStart() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runStart
}

// Destroy removes per-run state for ephemeral contexts. Bind contexts are
// left intact.
func (s *Store) Destroy() error {
	if s.mode == domain.ContextBind {
		return nil
	}
	if err := s.backend.Delete(InboxStateKey); err != nil {
		return err
	}
	return s.backend.Delete(StatusStateKey)
}

// newID returns a short locally-unique token.
func newID() string {
	return uuid.NewString()[:8]
}
