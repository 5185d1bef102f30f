package contextstore

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/jharju/weft/internal/domain"
	"github.com/jharju/weft/internal/storage"
)

func newTestStore(agents ...string) *Store {
	if agents == nil {
		agents = []string{"alice", "bob", "charlie"}
	}
	return New(storage.NewMemory(), log.New(io.Discard, "", 0), Options{Agents: agents})
}

func mustAppend(t *testing.T, s *Store, from, content string, opts AppendOptions) domain.Message {
	t.Helper()
	msg, err := s.AppendChannel(from, content, opts)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return msg
}

func TestAppendChannel_AssignsIDAndMentions(t *testing.T) {
	s := newTestStore()
	msg := mustAppend(t, s, "alice", "hey @bob and @charlie, also @nobody", AppendOptions{})
	if msg.ID == "" || msg.Timestamp == "" {
		t.Errorf("missing id or timestamp: %+v", msg)
	}
	if !reflect.DeepEqual(msg.Mentions, []string{"bob", "charlie"}) {
		t.Errorf("mentions = %v", msg.Mentions)
	}

	entries, err := s.ReadChannel(ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != msg.ID {
		t.Errorf("channel = %+v", entries)
	}
}

func TestChannel_AppendOnlyOrder(t *testing.T) {
	s := newTestStore()
	var ids []string
	for _, c := range []string{"one", "two", "three"} {
		ids = append(ids, mustAppend(t, s, "alice", c, AppendOptions{}).ID)
	}
	entries, _ := s.ReadChannel(ReadOptions{})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.ID != ids[i] {
			t.Errorf("entry %d id = %s, want %s", i, e.ID, ids[i])
		}
	}
}

func TestReadChannel_AgentFilterDropsOperatorKinds(t *testing.T) {
	s := newTestStore()
	mustAppend(t, s, "alice", "public", AppendOptions{})
	mustAppend(t, s, "system", "boot", AppendOptions{Kind: domain.KindSystem})
	mustAppend(t, s, "alice", "dbg", AppendOptions{Kind: domain.KindDebug})
	mustAppend(t, s, "alice", "out", AppendOptions{Kind: domain.KindOutput})
	mustAppend(t, s, "alice", "tc", AppendOptions{
		Kind:     domain.KindToolCall,
		ToolCall: &domain.ToolCall{Name: "channel_send"},
	})

	got, err := s.ReadChannel(ReadOptions{Agent: "bob"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Content != "public" {
		t.Errorf("agent view = %+v", got)
	}

	// tool_call entries are not visible even to the caller's own read.
	got, _ = s.ReadChannel(ReadOptions{Agent: "alice"})
	if len(got) != 1 || got[0].Content != "public" {
		t.Errorf("caller view = %+v", got)
	}

	// Operator view keeps everything.
	all, _ := s.ReadChannel(ReadOptions{})
	if len(all) != 5 {
		t.Errorf("operator view has %d entries, want 5", len(all))
	}
}

func TestReadChannel_DMIsolation(t *testing.T) {
	s := newTestStore("a", "b", "c")
	mustAppend(t, s, "a", "secret", AppendOptions{To: "b"})

	for _, agent := range []string{"a", "b"} {
		got, _ := s.ReadChannel(ReadOptions{Agent: agent})
		if len(got) != 1 {
			t.Errorf("agent %s should see the DM, got %v", agent, got)
		}
	}
	got, _ := s.ReadChannel(ReadOptions{Agent: "c"})
	if len(got) != 0 {
		t.Errorf("third party must not see the DM, got %v", got)
	}
	inbox, _ := s.GetInbox("c")
	if len(inbox) != 0 {
		t.Errorf("third-party inbox unaffected, got %v", inbox)
	}
}

func TestReadChannel_SinceAndLimit(t *testing.T) {
	s := newTestStore()
	m1 := mustAppend(t, s, "alice", "first", AppendOptions{})
	mustAppend(t, s, "alice", "second", AppendOptions{})
	mustAppend(t, s, "alice", "third", AppendOptions{})

	got, _ := s.ReadChannel(ReadOptions{Since: m1.Timestamp})
	for _, e := range got {
		if !(e.Timestamp > m1.Timestamp) {
			t.Errorf("entry %q not after since", e.Content)
		}
	}

	got, _ = s.ReadChannel(ReadOptions{Limit: 2})
	if len(got) != 2 || got[0].Content != "second" || got[1].Content != "third" {
		t.Errorf("limit view = %+v", got)
	}
}

func TestTailChannel(t *testing.T) {
	s := newTestStore()
	mustAppend(t, s, "alice", "one", AppendOptions{})
	entries, cursor, err := s.TailChannel(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || cursor != 1 {
		t.Fatalf("tail = %v cursor = %d", entries, cursor)
	}
	mustAppend(t, s, "alice", "two", AppendOptions{})
	entries, cursor, _ = s.TailChannel(cursor)
	if len(entries) != 1 || entries[0].Content != "two" || cursor != 2 {
		t.Errorf("incremental tail = %v cursor = %d", entries, cursor)
	}
	entries, cursor, _ = s.TailChannel(cursor)
	if len(entries) != 0 || cursor != 2 {
		t.Errorf("empty tail = %v cursor = %d", entries, cursor)
	}
}

func TestGetInbox_CoverageAndPriority(t *testing.T) {
	s := newTestStore()
	mustAppend(t, s, "alice", "hi @bob", AppendOptions{})
	mustAppend(t, s, "alice", "dm", AppendOptions{To: "bob"})
	mustAppend(t, s, "system", "note for @bob", AppendOptions{})
	mustAppend(t, s, "bob", "my own @bob note", AppendOptions{})     // from self: excluded
	mustAppend(t, s, "alice", "@bob ping", AppendOptions{Kind: domain.KindDebug}) // kind: excluded
	mustAppend(t, s, "alice", "no mention", AppendOptions{})

	inbox, err := s.GetInbox("bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(inbox) != 3 {
		t.Fatalf("inbox = %+v", inbox)
	}
	if inbox[0].Priority != PriorityMention || inbox[1].Priority != PriorityDirect || inbox[2].Priority != PrioritySystem {
		t.Errorf("priorities = %s %s %s", inbox[0].Priority, inbox[1].Priority, inbox[2].Priority)
	}
}

func TestAckInbox_AdvancesAndIsMonotonic(t *testing.T) {
	s := newTestStore()
	m1 := mustAppend(t, s, "alice", "@bob one", AppendOptions{})
	m2 := mustAppend(t, s, "alice", "@bob two", AppendOptions{})

	if err := s.AckInbox("bob", m2.ID); err != nil {
		t.Fatal(err)
	}
	inbox, _ := s.GetInbox("bob")
	if len(inbox) != 0 {
		t.Errorf("inbox after ack = %+v", inbox)
	}

	// Backwards ack is a no-op.
	if err := s.AckInbox("bob", m1.ID); err != nil {
		t.Fatal(err)
	}
	inbox, _ = s.GetInbox("bob")
	if len(inbox) != 0 {
		t.Errorf("inbox after backwards ack = %+v", inbox)
	}

	m3 := mustAppend(t, s, "alice", "@bob three", AppendOptions{})
	inbox, _ = s.GetInbox("bob")
	if len(inbox) != 1 || inbox[0].ID != m3.ID {
		t.Errorf("inbox after new mention = %+v", inbox)
	}
}

func TestAckInbox_UnknownID(t *testing.T) {
	s := newTestStore()
	if err := s.AckInbox("bob", "nope"); err == nil {
		t.Error("expected error for unknown id")
	}
}

func TestMarkInboxSeen(t *testing.T) {
	s := newTestStore()
	m1 := mustAppend(t, s, "alice", "@bob one", AppendOptions{})
	m2 := mustAppend(t, s, "alice", "@bob two", AppendOptions{})

	if err := s.MarkInboxSeen("bob", m1.ID); err != nil {
		t.Fatal(err)
	}
	inbox, _ := s.GetInbox("bob")
	if len(inbox) != 2 {
		t.Fatalf("inbox = %+v", inbox)
	}
	if !inbox[0].Seen || inbox[1].Seen {
		t.Errorf("seen flags = %v %v (ids %s %s)", inbox[0].Seen, inbox[1].Seen, m1.ID, m2.ID)
	}
}

func TestRunEpochFloor(t *testing.T) {
	s := newTestStore()
	mustAppend(t, s, "alice", "@bob old", AppendOptions{})
	if err := s.MarkRunStart(); err != nil {
		t.Fatal(err)
	}
	inbox, _ := s.GetInbox("bob")
	if len(inbox) != 0 {
		t.Errorf("inbox after run start = %+v", inbox)
	}
	// History is still readable.
	all, _ := s.ReadChannel(ReadOptions{})
	if len(all) != 1 {
		t.Errorf("channel history = %+v", all)
	}
	// A new mention lands in the inbox.
	m := mustAppend(t, s, "alice", "@bob new", AppendOptions{})
	inbox, _ = s.GetInbox("bob")
	if len(inbox) != 1 || inbox[0].ID != m.ID {
		t.Errorf("inbox = %+v", inbox)
	}
}

func TestRunEpoch_FreshRunOnSharedFile(t *testing.T) {
	backend := storage.NewMemory()
	logger := log.New(io.Discard, "", 0)
	s1 := New(backend, logger, Options{Agents: []string{"a"}})
	m := mustAppend(t, s1, "system", "@a hi", AppendOptions{})
	if err := s1.AckInbox("a", m.ID); err != nil {
		t.Fatal(err)
	}
	if err := s1.Destroy(); err != nil {
		t.Fatal(err)
	}

	s2 := New(backend, logger, Options{Agents: []string{"a"}})
	if err := s2.MarkRunStart(); err != nil {
		t.Fatal(err)
	}
	inbox, _ := s2.GetInbox("a")
	if len(inbox) != 0 {
		t.Errorf("second run inbox = %+v", inbox)
	}
	all, _ := s2.ReadChannel(ReadOptions{})
	if len(all) != 1 {
		t.Errorf("history lost: %+v", all)
	}
}

func TestDestroy_BindKeepsState(t *testing.T) {
	backend := storage.NewMemory()
	s := New(backend, log.New(io.Discard, "", 0), Options{Agents: []string{"a"}, Mode: domain.ContextBind})
	m := mustAppend(t, s, "system", "@a hi", AppendOptions{})
	if err := s.AckInbox("a", m.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Destroy(); err != nil {
		t.Fatal(err)
	}
	if ok, _ := backend.Exists(InboxStateKey); !ok {
		t.Error("bind context must keep inbox state")
	}
}

func TestSmartSend_UnderThresholdPassesThrough(t *testing.T) {
	s := newTestStore()
	msg, err := s.SmartSend("alice", "@bob short", AppendOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(msg.Content, "resource:") {
		t.Errorf("short message should not be extracted: %q", msg.Content)
	}
}

func TestSmartSend_ExtractsLongContent(t *testing.T) {
	s := New(storage.NewMemory(), log.New(io.Discard, "", 0), Options{
		Agents:           []string{"alice", "bob"},
		MessageThreshold: 2000,
	})
	long := "@bob here it is\n```go\n" + strings.Repeat("x", 5000) + "\n```"
	msg, err := s.SmartSend("alice", long, AppendOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(msg.Mentions, []string{"bob"}) {
		t.Errorf("mentions not preserved: %v", msg.Mentions)
	}
	if !strings.HasPrefix(msg.Content, "@bob ") {
		t.Errorf("content should lead with mentions: %q", msg.Content)
	}
	idx := strings.Index(msg.Content, "resource:")
	if idx < 0 {
		t.Fatalf("no resource ref in %q", msg.Content)
	}
	id := strings.TrimSpace(msg.Content[idx+len("resource:"):])

	content, ok, err := s.ReadResource(id)
	if err != nil || !ok {
		t.Fatalf("read resource %q: ok=%v err=%v", id, ok, err)
	}
	if content != long {
		t.Error("resource content differs from original")
	}

	// Fenced code block means the resource is markdown.
	if ok, _ := s.backend.Exists("resources/" + id + ".md"); !ok {
		t.Error("expected markdown resource extension")
	}

	// One debug entry with the full content, one visible short message.
	all, _ := s.ReadChannel(ReadOptions{})
	if len(all) != 2 {
		t.Fatalf("channel = %d entries", len(all))
	}
	if all[0].Kind != domain.KindDebug || all[0].Content != long {
		t.Errorf("first entry should be the debug copy, got kind=%q", all[0].Kind)
	}
	visible, _ := s.ReadChannel(ReadOptions{Agent: "bob"})
	if len(visible) != 1 || visible[0].ID != msg.ID {
		t.Errorf("agent view = %+v", visible)
	}
	inbox, _ := s.GetInbox("bob")
	if len(inbox) != 1 || inbox[0].ID != msg.ID {
		t.Errorf("inbox = %+v", inbox)
	}
}

func TestSyncChannel_SkipsMalformedLines(t *testing.T) {
	backend := storage.NewMemory()
	s := New(backend, log.New(io.Discard, "", 0), Options{Agents: []string{"a"}})
	mustAppend(t, s, "a", "good", AppendOptions{})
	if err := backend.Append(ChannelKey, []byte("{not json\n\n")); err != nil {
		t.Fatal(err)
	}
	mustAppend(t, s, "a", "also good", AppendOptions{})

	entries, err := s.ReadChannel(ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("entries = %+v", entries)
	}
	if s.ParseErrors() != 1 {
		t.Errorf("parse errors = %d", s.ParseErrors())
	}
}

func TestSyncChannel_ExternalAppendVisible(t *testing.T) {
	backend := storage.NewMemory()
	logger := log.New(io.Discard, "", 0)
	writer := New(backend, logger, Options{Agents: []string{"a", "b"}})
	reader := New(backend, logger, Options{Agents: []string{"a", "b"}})

	mustAppend(t, writer, "a", "@b from another store handle", AppendOptions{})
	inbox, err := reader.GetInbox("b")
	if err != nil {
		t.Fatal(err)
	}
	if len(inbox) != 1 {
		t.Errorf("reader inbox = %+v", inbox)
	}
}

func TestDocuments_CRUD(t *testing.T) {
	s := newTestStore()
	if _, ok, _ := s.ReadDocument("plan.md"); ok {
		t.Error("unexpected document")
	}
	if err := s.CreateDocument("plan.md", "# Plan\n"); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateDocument("plan.md", "x"); err == nil {
		t.Error("create of existing document must fail")
	}
	if err := s.AppendDocument("plan.md", "- step\n"); err != nil {
		t.Fatal(err)
	}
	content, ok, _ := s.ReadDocument("plan.md")
	if !ok || content != "# Plan\n- step\n" {
		t.Errorf("content = %q", content)
	}
	if err := s.WriteDocument("plan.md", "rewritten"); err != nil {
		t.Fatal(err)
	}
	content, _, _ = s.ReadDocument("plan.md")
	if content != "rewritten" {
		t.Errorf("content = %q", content)
	}

	if err := s.WriteDocument("scratch.txt", "not markdown"); err != nil {
		t.Fatal(err)
	}
	docs, _ := s.ListDocuments()
	if !reflect.DeepEqual(docs, []string{"plan.md"}) {
		t.Errorf("docs = %v", docs)
	}
}

func TestChannelFileFormat_OnDisk(t *testing.T) {
	dir := t.TempDir()
	backend, err := storage.NewDisk(dir)
	if err != nil {
		t.Fatal(err)
	}
	s := New(backend, log.New(io.Discard, "", 0), Options{Agents: []string{"alice", "bob"}})
	mustAppend(t, s, "alice", "hi @bob", AppendOptions{To: "bob"})
	if err := s.AckInbox("bob", s.entries[0].ID); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "channel.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %d", len(lines))
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &obj); err != nil {
		t.Fatalf("line not JSON: %v", err)
	}
	for _, field := range []string{"id", "timestamp", "from", "content", "mentions", "to"} {
		if _, ok := obj[field]; !ok {
			t.Errorf("field %q missing from %v", field, obj)
		}
	}

	stateRaw, err := os.ReadFile(filepath.Join(dir, "_state", "inbox.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(stateRaw), "\n  \"readCursors\"") && !strings.Contains(string(stateRaw), "  \"readCursors\"") {
		t.Errorf("inbox state not 2-space indented: %q", stateRaw)
	}
	var state map[string]map[string]string
	if err := json.Unmarshal(stateRaw, &state); err != nil {
		t.Fatal(err)
	}
	if state["readCursors"]["bob"] == "" {
		t.Errorf("read cursor missing: %v", state)
	}
}

func TestConcurrentSendsAndReads(t *testing.T) {
	s := newTestStore()
	done := make(chan error, 8)
	for i := 0; i < 4; i++ {
		go func() {
			for j := 0; j < 25; j++ {
				if _, err := s.AppendChannel("alice", "@bob ping", AppendOptions{}); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}()
		go func() {
			for j := 0; j < 25; j++ {
				if _, err := s.GetInbox("bob"); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	}
	entries, _ := s.ReadChannel(ReadOptions{})
	if len(entries) != 100 {
		t.Errorf("entries = %d, want 100", len(entries))
	}
}
