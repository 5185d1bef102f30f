// Package domain holds the channel message model, mention extraction, and
// workflow declarations. It has no dependencies on other packages.
package domain

import (
	"regexp"
	"time"
)

// MessageKind classifies a channel entry. The zero value is a normal
// agent-visible message.
type MessageKind string

const (
	KindMessage  MessageKind = ""
	KindSystem   MessageKind = "system"
	KindOutput   MessageKind = "output"
	KindToolCall MessageKind = "tool_call"
	KindDebug    MessageKind = "debug"
)

// Reserved sender names that are always valid but never agents.
const (
	SenderSystem = "system"
	SenderUser   = "user"
)

// ToolCall records a tool invocation carried on a tool_call-kind entry.
type ToolCall struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Source string         `json:"source,omitempty"`
}

// Message is the sole durable communication unit. Once appended to the
// channel it is immutable; ordering is by append position, the timestamp is
// advisory.
type Message struct {
	ID        string      `json:"id"`
	Timestamp string      `json:"timestamp"`
	From      string      `json:"from"`
	Content   string      `json:"content"`
	Mentions  []string    `json:"mentions,omitempty"`
	To        string      `json:"to,omitempty"`
	Kind      MessageKind `json:"kind,omitempty"`
	ToolCall  *ToolCall   `json:"toolCall,omitempty"`
}

// Visible reports whether the entry is agent-visible (a plain message).
// System, debug, tool_call, and output entries are operator-facing.
func (m *Message) Visible() bool {
	return m.Kind == KindMessage
}

// IsDirect reports whether the message is a direct message.
func (m *Message) IsDirect() bool { return m.To != "" }

// timestampLayout is ISO-8601 UTC with millisecond precision. Lexicographic
// comparison of two formatted timestamps matches chronological order.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in the channel timestamp format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// ParseTime parses a channel timestamp. Returns the zero time on failure.
func ParseTime(s string) time.Time {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

var agentNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// ValidAgentName reports whether name is a legal agent name. Reserved names
// are legal senders but not legal agent names.
func ValidAgentName(name string) bool {
	if name == SenderSystem || name == SenderUser {
		return false
	}
	return agentNameRe.MatchString(name)
}

var mentionRe = regexp.MustCompile(`@([A-Za-z][A-Za-z0-9_-]*)`)

// ExtractMentions scans content for @name tokens whose name is in the valid
// set. Duplicates are removed; source order is preserved. The result is a
// pure function of content and the valid set.
func ExtractMentions(content string, valid map[string]bool) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range mentionRe.FindAllStringSubmatch(content, -1) {
		name := m[1]
		if !valid[name] || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// AgentSet builds the valid-agent lookup from a name list.
func AgentSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
