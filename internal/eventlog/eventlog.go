// Package eventlog is a thin facade over the channel that classifies
// operator-facing events by kind before they are appended. All methods are
// fire-and-forget: logging must never block agent execution or fail a tool
// call.
package eventlog

import (
	"log"

	"github.com/jharju/weft/internal/contextstore"
	"github.com/jharju/weft/internal/domain"
)

// Log writes classified events to the channel.
type Log struct {
	store  *contextstore.Store
	logger *log.Logger
}

// New returns an event log over store.
func New(store *contextstore.Store, logger *log.Logger) *Log {
	return &Log{store: store, logger: logger}
}

// ToolCall records a tool invocation by agent.
func (l *Log) ToolCall(agent, name string, args map[string]any, source string) {
	_, err := l.store.AppendChannel(agent, "tool call: "+name, contextstore.AppendOptions{
		Kind:     domain.KindToolCall,
		ToolCall: &domain.ToolCall{Name: name, Args: args, Source: source},
	})
	if err != nil {
		l.logger.Printf("eventlog: tool_call entry dropped: %v", err)
	}
}

// System records a system event.
func (l *Log) System(from, msg string) {
	if _, err := l.store.AppendChannel(from, msg, contextstore.AppendOptions{Kind: domain.KindSystem}); err != nil {
		l.logger.Printf("eventlog: system entry dropped: %v", err)
	}
}

// Output records backend output from agent.
func (l *Log) Output(agent, text string) {
	if _, err := l.store.AppendChannel(agent, text, contextstore.AppendOptions{Kind: domain.KindOutput}); err != nil {
		l.logger.Printf("eventlog: output entry dropped: %v", err)
	}
}

// Debug records an operator-only diagnostic.
func (l *Log) Debug(from, msg string) {
	if _, err := l.store.AppendChannel(from, msg, contextstore.AppendOptions{Kind: domain.KindDebug}); err != nil {
		l.logger.Printf("eventlog: debug entry dropped: %v", err)
	}
}
