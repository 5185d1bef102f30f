package domain

import "time"

// ProposalType is the kind of decision a proposal represents.
type ProposalType string

const (
	ProposalElection   ProposalType = "election"
	ProposalDecision   ProposalType = "decision"
	ProposalApproval   ProposalType = "approval"
	ProposalAssignment ProposalType = "assignment"
)

// Resolution is the vote-counting rule.
type Resolution string

const (
	ResolvePlurality Resolution = "plurality"
	ResolveMajority  Resolution = "majority"
	ResolveUnanimous Resolution = "unanimous"
)

// ProposalStatus is the lifecycle state of a proposal.
type ProposalStatus string

const (
	ProposalActive    ProposalStatus = "active"
	ProposalResolved  ProposalStatus = "resolved"
	ProposalCancelled ProposalStatus = "cancelled"
	ProposalExpired   ProposalStatus = "expired"
)

// ProposalResult holds the outcome of a resolved proposal.
type ProposalResult struct {
	Winner string         `json:"winner"`
	Counts map[string]int `json:"counts"`
	Reason string         `json:"reason,omitempty"`
}

// Proposal is an ephemeral in-memory voting record. Lifecycle:
// create -> (vote)* -> resolve | cancel | expire.
type Proposal struct {
	ID         string            `json:"id"`
	Type       ProposalType      `json:"type"`
	Title      string            `json:"title"`
	Options    []string          `json:"options"`
	Creator    string            `json:"creator"`
	Binding    bool              `json:"binding"`
	Resolution Resolution        `json:"resolution"`
	Quorum     int               `json:"quorum"`
	TieBreaker string            `json:"tie_breaker,omitempty"`
	ExpiresAt  time.Time         `json:"expires_at,omitempty"`
	Status     ProposalStatus    `json:"status"`
	Votes      map[string]string `json:"votes"`
	Result     *ProposalResult   `json:"result,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
