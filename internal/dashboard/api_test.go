package dashboard

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jharju/weft/internal/contextstore"
	"github.com/jharju/weft/internal/storage"
)

func newTestHandler(t *testing.T, states map[string]string) (*Handler, *contextstore.Store) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	store := contextstore.New(storage.NewMemory(), logger, contextstore.Options{
		Agents: []string{"alice", "bob"},
	})
	h := NewHandler(store, func() map[string]string { return states }, "review-loop", logger)
	return h, store
}

func serve(t *testing.T, h *Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	return rec
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	rec := serve(t, h, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["workflow"] != "review-loop" {
		t.Fatalf("body = %v", body)
	}
}

func TestStatusReportsAgents(t *testing.T) {
	h, store := newTestHandler(t, map[string]string{"alice": "idle", "bob": "running"})

	if _, err := store.AppendChannel("alice", "@bob please review", contextstore.AppendOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := store.SetAgentStatus("bob", "reviewing PR 7", "running", nil); err != nil {
		t.Fatal(err)
	}

	rec := serve(t, h, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap StatusSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Workflow != "review-loop" || snap.ChannelLength != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.Agents) != 2 {
		t.Fatalf("agents = %+v", snap.Agents)
	}
	// Sorted by name: alice then bob.
	if snap.Agents[0].Name != "alice" || snap.Agents[0].State != "idle" || snap.Agents[0].InboxDepth != 0 {
		t.Fatalf("alice = %+v", snap.Agents[0])
	}
	bob := snap.Agents[1]
	if bob.State != "running" || bob.InboxDepth != 1 || bob.InboxUnseen != 1 {
		t.Fatalf("bob = %+v", bob)
	}
	if bob.Task != "reviewing PR 7" || bob.Reported != "running" {
		t.Fatalf("bob status = %+v", bob)
	}
}

func TestChannelTailIsUnfiltered(t *testing.T) {
	h, store := newTestHandler(t, nil)
	if _, err := store.AppendChannel("alice", "secret for bob", contextstore.AppendOptions{To: "bob"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AppendChannel("system", "controller retry", contextstore.AppendOptions{Kind: "debug"}); err != nil {
		t.Fatal(err)
	}

	rec := serve(t, h, "/api/channel")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Count    int               `json:"count"`
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 2 || len(body.Messages) != 2 {
		t.Fatalf("count = %d, messages = %d", body.Count, len(body.Messages))
	}
}

func TestChannelLimit(t *testing.T) {
	h, store := newTestHandler(t, nil)
	for i := 0; i < 5; i++ {
		if _, err := store.AppendChannel("alice", "msg", contextstore.AppendOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	rec := serve(t, h, "/api/channel?limit=2")
	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 2 {
		t.Fatalf("count = %d", body.Count)
	}

	if rec := serve(t, h, "/api/channel?limit=bogus"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rec.Code)
	}
}
