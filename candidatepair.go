// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package icelite

import "fmt"

// CandidatePairState is the state of a candidate pair.
type CandidatePairState int

const (
	// CandidatePairStateFrozen means the pair will not be checked.
	CandidatePairStateFrozen CandidatePairState = iota

	// CandidatePairStatePending means a check is scheduled or in flight.
	CandidatePairStatePending

	// CandidatePairStateSucceeded means a check produced a success response.
	CandidatePairStateSucceeded

	// CandidatePairStateFailed means the check exhausted its retransmissions.
	CandidatePairStateFailed
)

func (s CandidatePairState) String() string {
	switch s {
	case CandidatePairStateFrozen:
		return "frozen"
	case CandidatePairStatePending:
		return "pending"
	case CandidatePairStateSucceeded:
		return "succeeded"
	case CandidatePairStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CandidatePair is a combination of a local and a remote candidate.
// Local is nil for pairs using the socket base directly; the concrete
// local candidate is only learned from the mapped address of a
// successful check.
type CandidatePair struct {
	Local  *Candidate
	Remote *Candidate

	priority uint64
	state    CandidatePairState

	nominated bool
	// nominationRequested is set when USE-CANDIDATE arrives before the
	// pair's own check has succeeded.
	nominationRequested bool
}

func newCandidatePair(local, remote *Candidate, controlling bool) *CandidatePair {
	pair := &CandidatePair{
		Local:  local,
		Remote: remote,
		state:  CandidatePairStateFrozen,
	}
	pair.updatePriority(controlling)

	return pair
}

// RFC 8445 section 6.1.2.3. Let G be the priority of the controlling
// agent's candidate and D the controlled agent's:
// pair priority = 2^32*MIN(G,D) + 2*MAX(G,D) + (G>D?1:0).
func computePairPriority(local, remote uint32, controlling bool) uint64 {
	g, d := remote, local
	if controlling {
		g, d = local, remote
	}

	minP, maxP, cmp := uint64(d), uint64(g), uint64(0)
	if g < d {
		minP, maxP = uint64(g), uint64(d)
	}
	if g > d {
		cmp = 1
	}

	return minP<<32 + 2*maxP + cmp
}

// updatePriority recomputes the pair priority; called on creation and
// whenever the agent's role flips after a conflict. Pairs with no local
// candidate use the remote priority on both sides so that ties between
// them break on the remote priority alone.
func (p *CandidatePair) updatePriority(controlling bool) {
	localPriority := p.Remote.Priority
	if p.Local != nil {
		localPriority = p.Local.Priority
	}

	p.priority = computePairPriority(localPriority, p.Remote.Priority, controlling)
}

func (p *CandidatePair) String() string {
	if p == nil {
		return ""
	}

	local := "(any)"
	if p.Local != nil {
		local = p.Local.String()
	}

	return fmt.Sprintf("%s <-> %s (prio %d, state %s, nominated %v)",
		local, p.Remote, p.priority, p.state, p.nominated)
}
