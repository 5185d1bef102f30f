package collab

import (
	"testing"
)

type inboxPayload struct {
	Messages []struct {
		ID       string `json:"id"`
		From     string `json:"from"`
		Content  string `json:"content"`
		Priority string `json:"priority"`
	} `json:"messages"`
	Count int `json:"count"`
}

func TestInboxDeliveryAndAck(t *testing.T) {
	env := newTestEnv(t)

	callToolAs(t, env, "alice", "channel_send", map[string]any{"message": "@bob task for you"})
	callToolAs(t, env, "alice", "channel_send", map[string]any{"message": "just chatter"})
	callToolAs(t, env, "carol", "channel_send", map[string]any{"message": "pst", "to": "bob"})

	var inbox inboxPayload
	resultJSON(t, callToolAs(t, env, "bob", "my_inbox", nil), &inbox)
	if inbox.Count != 2 {
		t.Fatalf("inbox count = %d, want 2", inbox.Count)
	}
	if inbox.Messages[0].Priority != "mention" || inbox.Messages[1].Priority != "direct" {
		t.Fatalf("priorities = %s, %s", inbox.Messages[0].Priority, inbox.Messages[1].Priority)
	}

	callToolAs(t, env, "bob", "my_inbox_ack", map[string]any{"until": inbox.Messages[1].ID})

	inbox = inboxPayload{}
	resultJSON(t, callToolAs(t, env, "bob", "my_inbox", nil), &inbox)
	if inbox.Count != 0 {
		t.Fatalf("inbox count after ack = %d, want 0", inbox.Count)
	}
}

func TestInboxAckUnknownID(t *testing.T) {
	env := newTestEnv(t)
	result := callToolAs(t, env, "bob", "my_inbox_ack", map[string]any{"until": "nope1234"})
	assertToolError(t, result, "unknown message id")
}

func TestInboxAckRequiresUntil(t *testing.T) {
	env := newTestEnv(t)
	result := callToolAs(t, env, "bob", "my_inbox_ack", nil)
	assertToolError(t, result, "until is required")
}

func TestStatusSetAndTeamMembers(t *testing.T) {
	env := newTestEnv(t)

	callToolAs(t, env, "bob", "my_status_set", map[string]any{
		"task":  "refactoring the scheduler",
		"state": "running",
	})

	var team struct {
		Agents []struct {
			Name string `json:"name"`
			Self bool   `json:"self"`
		} `json:"agents"`
		Count  int            `json:"count"`
		Status map[string]any `json:"status"`
	}
	resultJSON(t, callToolAs(t, env, "alice", "team_members", map[string]any{"includeStatus": true}), &team)
	if team.Count != 3 {
		t.Fatalf("count = %d, want 3", team.Count)
	}
	// Sorted: alice, bob, carol. Self flag tracks the caller.
	if team.Agents[0].Name != "alice" || !team.Agents[0].Self {
		t.Fatalf("first agent = %+v", team.Agents[0])
	}
	if team.Agents[1].Name != "bob" || team.Agents[1].Self {
		t.Fatalf("second agent = %+v", team.Agents[1])
	}
	if _, ok := team.Status["bob"]; !ok {
		t.Fatalf("status board missing bob: %v", team.Status)
	}
}

func TestStatusSetRejectsBadState(t *testing.T) {
	env := newTestEnv(t)
	result := callToolAs(t, env, "bob", "my_status_set", map[string]any{"state": "dancing"})
	assertToolError(t, result, "invalid state")
}
