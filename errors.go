// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package icelite

import "errors"

var (
	// ErrClosed indicates the agent has been closed.
	ErrClosed = errors.New("the agent is closed")

	// ErrNoSelectedPair indicates Send was called before any candidate
	// pair succeeded.
	ErrNoSelectedPair = errors.New("no candidate pair has been selected yet")

	// ErrGatheringNotStarted indicates an operation that needs a bound
	// socket was called before GatherCandidates.
	ErrGatheringNotStarted = errors.New("candidate gathering has not started")

	// ErrGatheringAlreadyStarted indicates GatherCandidates was called twice.
	ErrGatheringAlreadyStarted = errors.New("candidate gathering has already started")

	// ErrPort indicates PortMax was set below PortMin, or that no port in
	// the configured range could be bound.
	ErrPort = errors.New("invalid port range: PortMax below PortMin or no port in range could be bound")

	// ErrRemoteUfragEmpty indicates a remote description without a ufrag.
	ErrRemoteUfragEmpty = errors.New("remote description has no ice-ufrag")

	// ErrRemotePwdEmpty indicates a remote description without a password.
	ErrRemotePwdEmpty = errors.New("remote description has no ice-pwd")

	// ErrTooManyCandidates indicates the per-description candidate cap
	// was reached.
	ErrTooManyCandidates = errors.New("candidate table is full")

	// ErrTooManyEntries indicates the scheduling entry table is full.
	ErrTooManyEntries = errors.New("entry table is full")

	// ErrTooManyCandidatePairs indicates the pair table is full.
	ErrTooManyCandidatePairs = errors.New("candidate pair table is full")

	// ErrCandidateIgnored is returned by UnmarshalCandidate for well-formed
	// candidate lines the agent does not pair (non-UDP, component != 1).
	ErrCandidateIgnored = errors.New("candidate ignored")

	// ErrInvalidCandidate is returned for candidate lines that cannot be
	// parsed at all.
	ErrInvalidCandidate = errors.New("invalid candidate line")

	// ErrUnknownRole indicates a check was scheduled before the agent
	// adopted a role.
	ErrUnknownRole = errors.New("agent role is not known yet")
)
