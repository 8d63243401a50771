// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package icelite

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func remoteCandidateWithPriority(priority uint32, host string) *Candidate {
	return &Candidate{
		ID:        candidateID(),
		Type:      CandidateTypeHost,
		Component: ComponentRTP,
		Priority:  priority,
		Addr:      newAddressRecord(netip.MustParseAddr(host), 4000),
	}
}

func selectionAgent(t *testing.T) *Agent {
	t.Helper()

	agent := newTestAgent(t)
	agent.remote.Ufrag = "WXYZ"
	agent.remote.Pwd = "remotepassword00000000000000000"
	agent.role = RoleControlling
	agent.connectionState = ConnectionStateConnecting

	return agent
}

func TestSelectPairPrefersHigherPriority(t *testing.T) {
	agent := selectionAgent(t)
	now := time.Now()

	require.NoError(t, agent.addRemoteCandidate(remoteCandidateWithPriority(100, "198.51.100.1")))
	require.NoError(t, agent.addRemoteCandidate(remoteCandidateWithPriority(2000, "198.51.100.2")))
	require.NoError(t, agent.addRemoteCandidate(remoteCandidateWithPriority(50, "198.51.100.3")))

	high := agent.orderedPairs[0]
	mid := agent.orderedPairs[1]
	low := agent.orderedPairs[2]
	require.Greater(t, high.priority, mid.priority)
	require.Greater(t, mid.priority, low.priority)

	high.state = CandidatePairStateSucceeded
	agent.entryForPair(high).state = entryStateSucceeded
	mid.state = CandidatePairStateSucceeded
	agent.entryForPair(mid).state = entryStateSucceeded

	agent.selectPair(now)

	require.Equal(t, high, agent.selectedPair)
	require.Equal(t, agent.entryForPair(high), agent.selectedEntry.Load())
	require.Equal(t, ConnectionStateConnected, agent.connectionState)

	// The controlling side starts nominating its tentative selection.
	require.True(t, high.nominationRequested)
	require.Equal(t, entryStatePending, agent.entryForPair(high).state)

	// Lower-priority pending checks are frozen.
	require.Equal(t, CandidatePairStateFrozen, low.state)
	require.Equal(t, entryStateCancelled, agent.entryForPair(low).state)
}

func TestSelectPairCompletesOnNomination(t *testing.T) {
	agent := selectionAgent(t)
	now := time.Now()

	require.NoError(t, agent.addRemoteCandidate(remoteCandidateWithPriority(100, "198.51.100.1")))
	pair := agent.orderedPairs[0]
	pair.state = CandidatePairStateSucceeded
	pair.nominated = true
	agent.entryForPair(pair).state = entryStateSucceeded

	agent.selectPair(now)

	// Passes through connected on the way to completed.
	require.Equal(t, ConnectionStateCompleted, agent.connectionState)
	require.Equal(t, pair, agent.selectedPair)
}

func TestNominationRequestAddsUseCandidate(t *testing.T) {
	agent := selectionAgent(t)

	require.NoError(t, agent.addRemoteCandidate(remoteCandidateWithPriority(100, "198.51.100.1")))
	pair := agent.orderedPairs[0]
	entry := agent.entryForPair(pair)

	msg, err := agent.buildCheckRequest(entry)
	require.NoError(t, err)
	require.False(t, UseCandidate().IsSet(msg))

	pair.nominationRequested = true
	msg, err = agent.buildCheckRequest(entry)
	require.NoError(t, err)
	require.True(t, UseCandidate().IsSet(msg))

	// The controlled side never emits USE-CANDIDATE.
	agent.role = RoleControlled
	msg, err = agent.buildCheckRequest(entry)
	require.NoError(t, err)
	require.False(t, UseCandidate().IsSet(msg))
}

func TestKeepaliveRearmAfterSend(t *testing.T) {
	agent := selectionAgent(t)
	now := time.Now()

	require.NoError(t, agent.addRemoteCandidate(remoteCandidateWithPriority(100, "198.51.100.1")))
	pair := agent.orderedPairs[0]
	entry := agent.entryForPair(pair)
	pair.state = CandidatePairStateSucceeded
	pair.nominated = true
	entry.state = entryStateSucceeded

	agent.selectPair(now)
	require.Equal(t, entryStateSucceededKeepalive, entry.state)
	require.Equal(t, now.Add(agent.keepalivePeriod), entry.nextTransmission)
	require.True(t, entry.armed.Load())

	// Bookkeeping leaves an armed keepalive alone.
	later := now.Add(time.Second)
	agent.bookkeeping(later)
	require.Equal(t, now.Add(agent.keepalivePeriod), entry.nextTransmission)

	// Application traffic clears the armed flag; the next pass restarts
	// the cadence from now.
	entry.armed.Store(false)
	agent.bookkeeping(later)
	require.Equal(t, later.Add(agent.keepalivePeriod), entry.nextTransmission)
}

func TestWatchdogImmediateWhenRemoteFinished(t *testing.T) {
	agent := selectionAgent(t)
	now := time.Now()

	require.NoError(t, agent.addRemoteCandidate(remoteCandidateWithPriority(100, "198.51.100.1")))
	pair := agent.orderedPairs[0]
	pair.state = CandidatePairStateFailed
	agent.entryForPair(pair).fail()
	agent.remote.Finished = true

	agent.selectPair(now)
	require.Equal(t, ConnectionStateFailed, agent.connectionState)
}
