// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package icelite

import (
	"net/netip"
	"testing"
	"time"

	"github.com/pion/stun/v3"
	"github.com/stretchr/testify/require"
)

func buildInboundCheck(t *testing.T, agent *Agent, attrs ...stun.Setter) *stun.Message {
	t.Helper()

	setters := []stun.Setter{
		stun.NewTransactionIDSetter(stun.NewTransactionID()),
		stun.BindingRequest,
		stun.NewUsername(agent.local.Ufrag + ":" + agent.remote.Ufrag),
		PriorityAttr(0x6e0001ff),
	}
	setters = append(setters, attrs...)
	setters = append(setters,
		stun.NewShortTermIntegrity(agent.local.Pwd),
		stun.Fingerprint,
	)

	msg, err := stun.Build(setters...)
	require.NoError(t, err)

	return msg
}

func conflictAgent(t *testing.T, role Role, tieBreaker uint64) *Agent {
	t.Helper()

	agent := newTestAgent(t)
	agent.remote.Ufrag = "WXYZ"
	agent.remote.Pwd = "remotepassworddoesnotmatterhere0"
	agent.role = role
	agent.tieBreaker = tieBreaker

	return agent
}

func TestRoleConflictInboundControlling(t *testing.T) {
	src := newAddressRecord(netip.MustParseAddr("198.51.100.5"), 5000)

	t.Run("LargerTiebreakerKeepsRole", func(t *testing.T) {
		agent := conflictAgent(t, RoleControlling, 0x30)
		msg := buildInboundCheck(t, agent, AttrControlling(0x20))

		agent.handleBindingRequest(msg, src, nil, time.Now())

		require.Equal(t, RoleControlling, agent.role)
		// The 487 short-circuits before peer-reflexive discovery.
		require.Empty(t, agent.remote.Candidates)
	})

	t.Run("SmallerTiebreakerSwitches", func(t *testing.T) {
		agent := conflictAgent(t, RoleControlling, 0x10)
		msg := buildInboundCheck(t, agent, AttrControlling(0x20))

		agent.handleBindingRequest(msg, src, nil, time.Now())

		require.Equal(t, RoleControlled, agent.role)
		require.Len(t, agent.remote.Candidates, 1)
		require.Equal(t, CandidateTypePeerReflexive, agent.remote.Candidates[0].Type)
		require.Equal(t, uint32(0x6e0001ff), agent.remote.Candidates[0].Priority)
	})
}

func TestRoleConflictInboundControlled(t *testing.T) {
	src := newAddressRecord(netip.MustParseAddr("198.51.100.5"), 5000)

	t.Run("LargerTiebreakerKeepsRole", func(t *testing.T) {
		agent := conflictAgent(t, RoleControlled, 0x30)
		msg := buildInboundCheck(t, agent, AttrControlled(0x20))

		agent.handleBindingRequest(msg, src, nil, time.Now())
		require.Equal(t, RoleControlled, agent.role)
	})

	t.Run("SmallerTiebreakerSwitches", func(t *testing.T) {
		agent := conflictAgent(t, RoleControlled, 0x10)
		msg := buildInboundCheck(t, agent, AttrControlled(0x20))

		agent.handleBindingRequest(msg, src, nil, time.Now())
		require.Equal(t, RoleControlling, agent.role)
	})
}

func TestBindingRequestRoleAttributeValidation(t *testing.T) {
	src := newAddressRecord(netip.MustParseAddr("198.51.100.5"), 5000)

	t.Run("BothRoles", func(t *testing.T) {
		agent := conflictAgent(t, RoleControlled, 1)
		msg := buildInboundCheck(t, agent, AttrControlling(2), AttrControlled(3))

		agent.handleBindingRequest(msg, src, nil, time.Now())
		require.Empty(t, agent.remote.Candidates)
	})

	t.Run("NeitherRole", func(t *testing.T) {
		agent := conflictAgent(t, RoleControlled, 1)
		msg := buildInboundCheck(t, agent)

		agent.handleBindingRequest(msg, src, nil, time.Now())
		require.Empty(t, agent.remote.Candidates)
	})

	t.Run("UseCandidateWithoutControlling", func(t *testing.T) {
		agent := conflictAgent(t, RoleControlling, 1)
		msg := buildInboundCheck(t, agent, AttrControlled(2), UseCandidate())

		agent.handleBindingRequest(msg, src, nil, time.Now())
		require.Empty(t, agent.remote.Candidates)
	})

	t.Run("BadIntegrityDropped", func(t *testing.T) {
		agent := conflictAgent(t, RoleControlled, 1)
		msg, err := stun.Build(
			stun.NewTransactionIDSetter(stun.NewTransactionID()),
			stun.BindingRequest,
			stun.NewUsername(agent.local.Ufrag+":WXYZ"),
			AttrControlling(2),
			stun.NewShortTermIntegrity("thewrongpassword"),
			stun.Fingerprint,
		)
		require.NoError(t, err)

		agent.handleBindingRequest(msg, src, nil, time.Now())
		require.Empty(t, agent.remote.Candidates)
	})
}

func TestRoleConflictResponse(t *testing.T) {
	agent := conflictAgent(t, RoleControlling, 0x10)
	src := newAddressRecord(netip.MustParseAddr("198.51.100.9"), 7000)

	remote := &Candidate{
		ID:        candidateID(),
		Type:      CandidateTypeHost,
		Component: ComponentRTP,
		Priority:  100,
		Addr:      src,
	}
	require.NoError(t, agent.addRemoteCandidate(remote))

	entry := agent.entries[0]
	require.Equal(t, entryTypeCheck, entry.kind)
	oldTransactionID := entry.transactionID

	resp, err := stun.Build(
		stun.NewTransactionIDSetter(entry.transactionID),
		stun.NewType(stun.MethodBinding, stun.ClassErrorResponse),
		stun.ErrorCodeAttribute{Code: stun.CodeRoleConflict},
		stun.Fingerprint,
	)
	require.NoError(t, err)

	now := time.Now()
	agent.handleCheckResponse(entry, resp, src, now)

	require.Equal(t, RoleControlled, agent.role)
	require.NotEqual(t, uint64(0x10), agent.tieBreaker)
	require.Equal(t, entryStatePending, entry.state)
	require.NotEqual(t, oldTransactionID, entry.transactionID)
	require.False(t, entry.nextTransmission.After(now.Add(stunPacingTime)))
}

func TestSetRoleReordersPairs(t *testing.T) {
	agent := conflictAgent(t, RoleControlling, 1)

	low := &Candidate{ID: candidateID(), Type: CandidateTypeRelay, Component: 1, Priority: 10,
		Addr: newAddressRecord(netip.MustParseAddr("198.51.100.1"), 1000)}
	high := &Candidate{ID: candidateID(), Type: CandidateTypeHost, Component: 1, Priority: 2122317823,
		Addr: newAddressRecord(netip.MustParseAddr("198.51.100.2"), 1000)}
	require.NoError(t, agent.addRemoteCandidate(low))
	require.NoError(t, agent.addRemoteCandidate(high))

	require.Equal(t, high, agent.orderedPairs[0].Remote)

	agent.setRole(RoleControlled)
	for _, pair := range agent.pairs {
		require.Equal(t, computePairPriority(pair.Remote.Priority, pair.Remote.Priority, false), pair.priority)
	}
}
