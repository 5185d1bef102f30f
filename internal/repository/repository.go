// Package repository records workflow runs in a persistent ledger so `weft
// runs` can list what has executed on this machine.
package repository

import "time"

// Run is one workflow execution.
type Run struct {
	ID         string
	Workflow   string
	Agents     []string
	StartedAt  time.Time
	EndedAt    time.Time
	Messages   int
	ExitReason string
}

// Ledger persists runs. Begin inserts the row at workflow start; Finish
// updates it at shutdown.
type Ledger interface {
	Begin(run Run) error
	Finish(id string, endedAt time.Time, messages int, exitReason string) error
	Recent(limit int) ([]Run, error)
	Close() error
}

// Nop is a Ledger that records nothing, used when the ledger is disabled.
type Nop struct{}

func (Nop) Begin(Run) error                             { return nil }
func (Nop) Finish(string, time.Time, int, string) error { return nil }
func (Nop) Recent(int) ([]Run, error)                   { return nil, nil }
func (Nop) Close() error                                { return nil }
