// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package icelite

import (
	"time"

	"github.com/pion/stun/v3"

	"github.com/pion/icelite/internal/proto"
)

// turnOp tags an outstanding TURN transaction with the operation it
// belongs to.
type turnOp int

const (
	turnOpPermission turnOp = iota
	turnOpChannelBind
)

// peerEntry is the per-peer TURN state of one allocation: an optional
// channel binding, a permission, and the transaction IDs of in-flight
// CreatePermission/ChannelBind requests.
type peerEntry struct {
	channel      proto.ChannelNumber
	channelBound bool

	channelLifetime time.Duration
	channelExpiry   time.Time

	permissionLifetime time.Duration
	permissionExpiry   time.Time

	permissionTx    [stun.TransactionIDSize]byte
	permissionTxSet bool
	bindTx          [stun.TransactionIDSize]byte
	bindTxSet       bool
}

// turnMap tracks peers reached through one allocation, keyed by their
// resolved transport address.
type turnMap struct {
	peers map[AddressRecord]*peerEntry
}

func newTurnMap() *turnMap {
	return &turnMap{peers: make(map[AddressRecord]*peerEntry)}
}

func (t *turnMap) peer(addr AddressRecord) *peerEntry {
	entry, ok := t.peers[addr]
	if !ok {
		entry = &peerEntry{}
		t.peers[addr] = entry
	}

	return entry
}

// hasPermission reports whether a live permission exists for the peer.
func (t *turnMap) hasPermission(addr AddressRecord, now time.Time) bool {
	entry, ok := t.peers[addr]

	return ok && !entry.permissionExpiry.IsZero() && !now.After(entry.permissionExpiry)
}

// permissionNeedsRefresh reports whether less than half the granted
// lifetime remains.
func (t *turnMap) permissionNeedsRefresh(addr AddressRecord, now time.Time) bool {
	entry, ok := t.peers[addr]
	if !ok || entry.permissionExpiry.IsZero() {
		return false
	}

	return now.After(entry.permissionExpiry.Add(-entry.permissionLifetime / 2))
}

// setPermission records a granted permission. When addr is nil the peer
// is resolved through the transaction ID of the CreatePermission
// request, which is then retired.
func (t *turnMap) setPermission(transactionID [stun.TransactionIDSize]byte, addr *AddressRecord, lifetime time.Duration, now time.Time) bool {
	entry := (*peerEntry)(nil)
	switch {
	case addr != nil:
		entry = t.peer(*addr)
	default:
		for _, candidate := range t.peers {
			if candidate.permissionTxSet && candidate.permissionTx == transactionID {
				entry = candidate

				break
			}
		}
	}
	if entry == nil {
		return false
	}

	entry.permissionTxSet = false
	entry.permissionLifetime = lifetime
	entry.permissionExpiry = now.Add(lifetime)

	return true
}

// getChannel returns the channel associated with the peer, bound or
// not.
func (t *turnMap) getChannel(addr AddressRecord) (proto.ChannelNumber, bool) {
	entry, ok := t.peers[addr]
	if !ok || entry.channel == 0 {
		return 0, false
	}

	return entry.channel, true
}

// getBoundChannel returns the peer's channel and whether the binding
// has been confirmed by the server.
func (t *turnMap) getBoundChannel(addr AddressRecord) (proto.ChannelNumber, bool) {
	entry, ok := t.peers[addr]
	if !ok || entry.channel == 0 {
		return 0, false
	}

	return entry.channel, entry.channelBound
}

func (t *turnMap) channelNeedsRefresh(addr AddressRecord, now time.Time) bool {
	entry, ok := t.peers[addr]
	if !ok || !entry.channelBound {
		return false
	}

	return now.After(entry.channelExpiry.Add(-entry.channelLifetime / 2))
}

// bindRandomChannel reserves an unused channel number for the peer,
// chosen uniformly at random with collision retry. The binding stays
// unconfirmed until bindCurrentChannel promotes it.
func (t *turnMap) bindRandomChannel(addr AddressRecord, lifetime time.Duration, now time.Time) proto.ChannelNumber {
	entry := t.peer(addr)
	if entry.channel != 0 {
		return entry.channel
	}

	span := int(proto.MaxChannelNumber-proto.MinChannelNumber) + 1
	for {
		number := proto.ChannelNumber(proto.MinChannelNumber + uint16(globalMathRandomGenerator.Intn(span))) //nolint:gosec // G115: span fits uint16
		if _, taken := t.findChannel(number); taken {
			continue
		}

		entry.channel = number
		entry.channelBound = false
		entry.channelLifetime = lifetime
		entry.channelExpiry = now.Add(lifetime)

		return number
	}
}

// bindCurrentChannel promotes a pending ChannelBind transaction into an
// active binding, returning the peer it belonged to.
func (t *turnMap) bindCurrentChannel(transactionID [stun.TransactionIDSize]byte, lifetime time.Duration, now time.Time) (AddressRecord, bool) {
	for addr, entry := range t.peers {
		if !entry.bindTxSet || entry.bindTx != transactionID {
			continue
		}

		entry.bindTxSet = false
		entry.channelBound = true
		entry.channelLifetime = lifetime
		entry.channelExpiry = now.Add(lifetime)

		return addr, true
	}

	return AddressRecord{}, false
}

// findChannel resolves a channel number back to its peer, for
// ChannelData ingress.
func (t *turnMap) findChannel(number proto.ChannelNumber) (AddressRecord, bool) {
	for addr, entry := range t.peers {
		if entry.channel == number {
			return addr, true
		}
	}

	return AddressRecord{}, false
}

// setRandomPermissionTransactionID registers a fresh transaction ID for
// a CreatePermission aimed at the peer.
func (t *turnMap) setRandomPermissionTransactionID(addr AddressRecord) [stun.TransactionIDSize]byte {
	entry := t.peer(addr)
	entry.permissionTx = stun.NewTransactionID()
	entry.permissionTxSet = true

	return entry.permissionTx
}

// setRandomBindTransactionID registers a fresh transaction ID for a
// ChannelBind aimed at the peer.
func (t *turnMap) setRandomBindTransactionID(addr AddressRecord) [stun.TransactionIDSize]byte {
	entry := t.peer(addr)
	entry.bindTx = stun.NewTransactionID()
	entry.bindTxSet = true

	return entry.bindTx
}

// clearTransaction abandons whichever pending operation owns the
// transaction ID.
func (t *turnMap) clearTransaction(transactionID [stun.TransactionIDSize]byte) {
	for _, entry := range t.peers {
		if entry.permissionTxSet && entry.permissionTx == transactionID {
			entry.permissionTxSet = false
		}
		if entry.bindTxSet && entry.bindTx == transactionID {
			entry.bindTxSet = false
			entry.channel = 0
			entry.channelBound = false
		}
	}
}

// hasPendingTransaction reports whether the transaction ID belongs to
// an in-flight permission or bind operation, and which.
func (t *turnMap) hasPendingTransaction(transactionID [stun.TransactionIDSize]byte) (turnOp, bool) {
	for _, entry := range t.peers {
		if entry.permissionTxSet && entry.permissionTx == transactionID {
			return turnOpPermission, true
		}
		if entry.bindTxSet && entry.bindTx == transactionID {
			return turnOpChannelBind, true
		}
	}

	return 0, false
}
