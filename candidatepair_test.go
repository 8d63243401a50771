// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package icelite

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputePairPriority(t *testing.T) {
	// 2^32*MIN(G,D) + 2*MAX(G,D) + (G>D?1:0)
	require.Equal(t, uint64(1)<<32*1+2*2, computePairPriority(1, 2, true))
	require.Equal(t, uint64(1)<<32*1+2*2+1, computePairPriority(2, 1, true))
	require.Equal(t, uint64(1)<<32*1+2*2+1, computePairPriority(1, 2, false))
	require.Equal(t, uint64(1)<<32*5+2*5, computePairPriority(5, 5, true))
}

func TestPairPrioritySymmetry(t *testing.T) {
	// Agreeing agents compute the same value from opposite roles.
	const g, d = 2130706431, 1694498815
	require.Equal(t, computePairPriority(g, d, true), computePairPriority(d, g, false))
}

func TestPairPriorityRoleFlip(t *testing.T) {
	local := newLocalCandidate(CandidateTypeHost, 1, newAddressRecord(netip.MustParseAddr("10.0.0.1"), 1000))
	remote := newLocalCandidate(CandidateTypeRelay, 1, newAddressRecord(netip.MustParseAddr("10.0.0.2"), 2000))

	pair := newCandidatePair(local, remote, true)
	controlling := pair.priority
	pair.updatePriority(false)
	controlled := pair.priority

	require.NotEqual(t, controlling, controlled)
	require.Equal(t, computePairPriority(local.Priority, remote.Priority, false), controlled)
}

func TestNilLocalPairUsesRemotePriority(t *testing.T) {
	lowRemote := newLocalCandidate(CandidateTypeRelay, 1, newAddressRecord(netip.MustParseAddr("10.0.0.2"), 1)) //nolint:dupword
	highRemote := newLocalCandidate(CandidateTypeHost, 1, newAddressRecord(netip.MustParseAddr("10.0.0.3"), 1))

	low := newCandidatePair(nil, lowRemote, true)
	high := newCandidatePair(nil, highRemote, true)

	// Ties between base pairs break on the remote priority alone.
	require.Greater(t, high.priority, low.priority)
}
