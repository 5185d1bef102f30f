// Package proposal implements ephemeral in-memory voting state. Proposals
// live only for the duration of a workflow run; resolution announcements are
// posted to the channel by the tool layer.
package proposal

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jharju/weft/internal/domain"
)

var (
	ErrUnknownProposal = errors.New("unknown proposal")
	ErrNotActive       = errors.New("proposal is not active")
	ErrNotCreator      = errors.New("only the creator can cancel")
	ErrInvalidChoice   = errors.New("choice is not among the options")
	ErrNotEligible     = errors.New("voter is not eligible")
)

// CreateParams are the inputs to Create.
type CreateParams struct {
	Type       domain.ProposalType
	Title      string
	Options    []string
	Creator    string
	Binding    bool
	Resolution domain.Resolution
	// Quorum is the number of votes required before a plurality resolution
	// is attempted. Zero means all eligible voters.
	Quorum int
	// TieBreaker selects among tied options; only "first" is supported
	// (earliest option in declaration order).
	TieBreaker string
	// TTL expires the proposal after the given duration. Zero means no
	// expiry.
	TTL time.Duration
}

// Manager holds the active proposals for one workflow run. All mutations are
// serialized by the manager's lock.
type Manager struct {
	mu        sync.Mutex
	voters    []string
	proposals map[string]*domain.Proposal
	now       func() time.Time
}

// NewManager creates a manager with the given eligible voter set.
func NewManager(voters []string) *Manager {
	return &Manager{
		voters:    append([]string(nil), voters...),
		proposals: make(map[string]*domain.Proposal),
		now:       time.Now,
	}
}

// Voters returns the eligible voter set.
func (m *Manager) Voters() []string {
	return append([]string(nil), m.voters...)
}

// Create registers a new active proposal and returns a snapshot.
func (m *Manager) Create(p CreateParams) (*domain.Proposal, error) {
	if p.Title == "" {
		return nil, fmt.Errorf("proposal: title is required")
	}
	if len(p.Options) < 1 {
		return nil, fmt.Errorf("proposal: at least one option is required")
	}
	switch p.Type {
	case domain.ProposalElection, domain.ProposalDecision, domain.ProposalApproval, domain.ProposalAssignment:
	default:
		return nil, fmt.Errorf("proposal: invalid type %q", p.Type)
	}
	resolution := p.Resolution
	if resolution == "" {
		resolution = domain.ResolvePlurality
	}
	switch resolution {
	case domain.ResolvePlurality, domain.ResolveMajority, domain.ResolveUnanimous:
	default:
		return nil, fmt.Errorf("proposal: invalid resolution %q", resolution)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	quorum := p.Quorum
	if quorum <= 0 || quorum > len(m.voters) {
		quorum = len(m.voters)
	}
	prop := &domain.Proposal{
		ID:         uuid.NewString()[:8],
		Type:       p.Type,
		Title:      p.Title,
		Options:    append([]string(nil), p.Options...),
		Creator:    p.Creator,
		Binding:    p.Binding,
		Resolution: resolution,
		Quorum:     quorum,
		TieBreaker: p.TieBreaker,
		Status:     domain.ProposalActive,
		Votes:      make(map[string]string),
		CreatedAt:  m.now(),
	}
	if p.TTL > 0 {
		prop.ExpiresAt = prop.CreatedAt.Add(p.TTL)
	}
	m.proposals[prop.ID] = prop
	return snapshot(prop), nil
}

// Vote records voter's choice. Revotes before resolution overwrite the
// previous choice. resolved reports whether this vote resolved the proposal.
func (m *Manager) Vote(id, voter, choice string) (prop *domain.Proposal, resolved bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.proposals[id]
	if !ok {
		return nil, false, ErrUnknownProposal
	}
	m.expireLocked(p)
	if p.Status != domain.ProposalActive {
		return nil, false, fmt.Errorf("%w (status %s)", ErrNotActive, p.Status)
	}
	if !m.eligible(voter) {
		return nil, false, fmt.Errorf("%w: %s", ErrNotEligible, voter)
	}
	valid := false
	for _, o := range p.Options {
		if o == choice {
			valid = true
			break
		}
	}
	if !valid {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidChoice, choice)
	}

	p.Votes[voter] = choice
	resolved = m.tryResolveLocked(p)
	return snapshot(p), resolved, nil
}

// Get returns a snapshot of the proposal, applying expiry first.
func (m *Manager) Get(id string) (*domain.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return nil, ErrUnknownProposal
	}
	m.expireLocked(p)
	return snapshot(p), nil
}

// Cancel marks an active proposal cancelled. Only the creator may cancel.
func (m *Manager) Cancel(id, caller string) (*domain.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return nil, ErrUnknownProposal
	}
	m.expireLocked(p)
	if p.Status != domain.ProposalActive {
		return nil, fmt.Errorf("%w (status %s)", ErrNotActive, p.Status)
	}
	if caller != p.Creator {
		return nil, ErrNotCreator
	}
	p.Status = domain.ProposalCancelled
	return snapshot(p), nil
}

// List returns snapshots of all proposals.
func (m *Manager) List() []*domain.Proposal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Proposal, 0, len(m.proposals))
	for _, p := range m.proposals {
		m.expireLocked(p)
		out = append(out, snapshot(p))
	}
	return out
}

func (m *Manager) eligible(voter string) bool {
	for _, v := range m.voters {
		if v == voter {
			return true
		}
	}
	return false
}

func (m *Manager) expireLocked(p *domain.Proposal) {
	if p.Status == domain.ProposalActive && !p.ExpiresAt.IsZero() && m.now().After(p.ExpiresAt) {
		p.Status = domain.ProposalExpired
	}
}

// tryResolveLocked applies the resolution rule and returns true if the
// proposal transitioned to resolved.
func (m *Manager) tryResolveLocked(p *domain.Proposal) bool {
	counts := make(map[string]int)
	for _, c := range p.Votes {
		counts[c]++
	}
	allVoted := len(p.Votes) >= len(m.voters)

	switch p.Resolution {
	case domain.ResolveMajority:
		need := len(m.voters)/2 + 1
		for _, o := range p.Options {
			if counts[o] >= need {
				m.resolveLocked(p, o, counts, "majority")
				return true
			}
		}
		if allVoted {
			m.resolveLocked(p, "", counts, "no option reached a majority")
			return true
		}
	case domain.ResolveUnanimous:
		if allVoted {
			winner := ""
			for _, o := range p.Options {
				if counts[o] == len(m.voters) {
					winner = o
					break
				}
			}
			reason := "unanimous"
			if winner == "" {
				reason = "no unanimity"
			}
			m.resolveLocked(p, winner, counts, reason)
			return true
		}
	case domain.ResolvePlurality:
		if len(p.Votes) >= p.Quorum {
			best, bestCount := "", -1
			// Declaration order breaks ties: the first tied option wins.
			for _, o := range p.Options {
				if counts[o] > bestCount {
					best, bestCount = o, counts[o]
				}
			}
			m.resolveLocked(p, best, counts, "plurality")
			return true
		}
	}
	return false
}

func (m *Manager) resolveLocked(p *domain.Proposal, winner string, counts map[string]int, reason string) {
	p.Status = domain.ProposalResolved
	p.Result = &domain.ProposalResult{Winner: winner, Counts: counts, Reason: reason}
}

// snapshot deep-copies a proposal so callers never share manager state.
func snapshot(p *domain.Proposal) *domain.Proposal {
	cp := *p
	cp.Options = append([]string(nil), p.Options...)
	cp.Votes = make(map[string]string, len(p.Votes))
	for k, v := range p.Votes {
		cp.Votes[k] = v
	}
	if p.Result != nil {
		r := *p.Result
		r.Counts = make(map[string]int, len(p.Result.Counts))
		for k, v := range p.Result.Counts {
			r.Counts[k] = v
		}
		cp.Result = &r
	}
	return &cp
}
