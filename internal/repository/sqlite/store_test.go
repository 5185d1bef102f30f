package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jharju/weft/internal/repository"
)

func newTestLedger(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "runs.sqlite"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBeginFinishRecent(t *testing.T) {
	s := newTestLedger(t)

	start := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	if err := s.Begin(repository.Run{
		ID: "run-1", Workflow: "review-loop", Agents: []string{"author", "reviewer"}, StartedAt: start,
	}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.Finish("run-1", start.Add(90*time.Second), 14, "idle"); err != nil {
		t.Fatalf("finish: %v", err)
	}

	runs, err := s.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs", len(runs))
	}
	r := runs[0]
	if r.ID != "run-1" || r.Workflow != "review-loop" {
		t.Fatalf("run = %+v", r)
	}
	if len(r.Agents) != 2 || r.Agents[0] != "author" {
		t.Fatalf("agents = %v", r.Agents)
	}
	if !r.StartedAt.Equal(start) || !r.EndedAt.Equal(start.Add(90*time.Second)) {
		t.Fatalf("times = %s .. %s", r.StartedAt, r.EndedAt)
	}
	if r.Messages != 14 || r.ExitReason != "idle" {
		t.Fatalf("outcome = %d %q", r.Messages, r.ExitReason)
	}
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	s := newTestLedger(t)
	base := time.Now().UTC()
	for i, id := range []string{"old", "mid", "new"} {
		if err := s.Begin(repository.Run{ID: id, Workflow: "w", StartedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatal(err)
		}
	}
	runs, err := s.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "new" || runs[1].ID != "mid" {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestFinishUnknownRun(t *testing.T) {
	s := newTestLedger(t)
	if err := s.Finish("ghost", time.Now(), 0, "idle"); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestUnfinishedRunHasZeroEnd(t *testing.T) {
	s := newTestLedger(t)
	if err := s.Begin(repository.Run{ID: "r", Workflow: "w", StartedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}
	runs, err := s.Recent(1)
	if err != nil {
		t.Fatal(err)
	}
	if !runs[0].EndedAt.IsZero() {
		t.Fatalf("ended_at = %s, want zero", runs[0].EndedAt)
	}
}
