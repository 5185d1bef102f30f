package collab

import (
	"strings"
	"testing"

	"github.com/jharju/weft/internal/domain"
)

func TestResourceCreateAndRead(t *testing.T) {
	env := newTestEnv(t)

	var created struct {
		ID  string `json:"id"`
		Ref string `json:"ref"`
	}
	resultJSON(t, callToolAs(t, env, "alice", "resource_create", map[string]any{
		"content": "big diff body",
		"type":    "diff",
	}), &created)
	if created.ID == "" || created.Ref != "resource:"+created.ID {
		t.Fatalf("created = %+v", created)
	}

	got := resultText(t, callToolAs(t, env, "bob", "resource_read", map[string]any{"id": created.ID}))
	if got != "big diff body" {
		t.Fatalf("content = %q", got)
	}
}

func TestResourceReadMissing(t *testing.T) {
	env := newTestEnv(t)
	assertToolError(t, callToolAs(t, env, "alice", "resource_read", map[string]any{"id": "deadbeef"}), "not found")
}

func TestChannelSendExtractsLongContent(t *testing.T) {
	env := newTestEnv(t)

	long := "@bob " + strings.Repeat("x", 3000)
	callToolAs(t, env, "alice", "channel_send", map[string]any{"message": long})

	var entries []domain.Message
	resultJSON(t, callToolAs(t, env, "bob", "channel_read", nil), &entries)
	if len(entries) != 1 {
		t.Fatalf("got %d visible entries, want 1", len(entries))
	}
	msg := entries[0]
	if len(msg.Content) >= len(long) {
		t.Fatal("long content was not extracted")
	}
	if !strings.HasPrefix(msg.Content, "@bob ") {
		t.Fatalf("mentions not preserved: %q", msg.Content)
	}
	if len(msg.Mentions) != 1 || msg.Mentions[0] != "bob" {
		t.Fatalf("mentions = %v", msg.Mentions)
	}

	// The pointer message names a readable resource holding the full text.
	idx := strings.Index(msg.Content, "resource:")
	if idx < 0 {
		t.Fatalf("no resource reference in %q", msg.Content)
	}
	id := strings.TrimSpace(msg.Content[idx+len("resource:"):])
	got := resultText(t, callToolAs(t, env, "bob", "resource_read", map[string]any{"id": id}))
	if got != long {
		t.Fatal("resource content does not round-trip the original message")
	}
}
