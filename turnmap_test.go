// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package icelite

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pion/icelite/internal/proto"
)

func turnMapPeer(i byte) AddressRecord {
	return newAddressRecord(netip.AddrFrom4([4]byte{192, 0, 2, i}), 3478)
}

func TestTurnMapPermissions(t *testing.T) {
	tm := newTurnMap()
	now := time.Now()
	peer := turnMapPeer(1)

	require.False(t, tm.hasPermission(peer, now))

	id := tm.setRandomPermissionTransactionID(peer)
	require.True(t, tm.setPermission(id, nil, permissionLifetime, now))
	require.True(t, tm.hasPermission(peer, now))
	require.False(t, tm.hasPermission(peer, now.Add(permissionLifetime+time.Second)))

	// Needs a refresh once past half the granted lifetime.
	require.False(t, tm.permissionNeedsRefresh(peer, now))
	require.True(t, tm.permissionNeedsRefresh(peer, now.Add(permissionLifetime/2+time.Second)))

	// A response with an unknown transaction does nothing.
	require.False(t, tm.setPermission([12]byte{0xFF}, nil, permissionLifetime, now))
}

func TestTurnMapChannels(t *testing.T) {
	tm := newTurnMap()
	now := time.Now()
	peer := turnMapPeer(1)

	_, ok := tm.getChannel(peer)
	require.False(t, ok)

	number := tm.bindRandomChannel(peer, bindLifetime, now)
	require.True(t, number.Valid())

	// Reserving again returns the same number.
	require.Equal(t, number, tm.bindRandomChannel(peer, bindLifetime, now))

	// Reserved but not confirmed yet.
	got, bound := tm.getBoundChannel(peer)
	require.Equal(t, number, got)
	require.False(t, bound)

	id := tm.setRandomBindTransactionID(peer)
	boundPeer, ok := tm.bindCurrentChannel(id, bindLifetime, now)
	require.True(t, ok)
	require.Equal(t, peer, boundPeer)

	_, bound = tm.getBoundChannel(peer)
	require.True(t, bound)

	found, ok := tm.findChannel(number)
	require.True(t, ok)
	require.Equal(t, peer, found)

	require.False(t, tm.channelNeedsRefresh(peer, now))
	require.True(t, tm.channelNeedsRefresh(peer, now.Add(bindLifetime/2+time.Second)))
}

func TestTurnMapChannelCollision(t *testing.T) {
	tm := newTurnMap()
	now := time.Now()

	seen := map[proto.ChannelNumber]bool{}
	for i := byte(1); i <= 32; i++ {
		number := tm.bindRandomChannel(turnMapPeer(i), bindLifetime, now)
		require.True(t, number.Valid())
		require.False(t, seen[number], "channel number reused")
		seen[number] = true
	}
}

func TestTurnMapClearTransaction(t *testing.T) {
	tm := newTurnMap()
	now := time.Now()
	peer := turnMapPeer(1)

	tm.bindRandomChannel(peer, bindLifetime, now)
	id := tm.setRandomBindTransactionID(peer)

	op, ok := tm.hasPendingTransaction(id)
	require.True(t, ok)
	require.Equal(t, turnOpChannelBind, op)

	tm.clearTransaction(id)
	_, ok = tm.hasPendingTransaction(id)
	require.False(t, ok)

	// An abandoned bind releases the reserved number.
	_, ok = tm.getChannel(peer)
	require.False(t, ok)
}
