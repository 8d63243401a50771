// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package icelite

import (
	"sync/atomic"
	"time"

	"github.com/pion/stun/v3"
)

// entryType classifies what a scheduling entry talks to.
type entryType int

const (
	// entryTypeCheck is a connectivity check towards a remote candidate.
	entryTypeCheck entryType = iota

	// entryTypeServer is a Binding transaction towards a STUN server.
	entryTypeServer

	// entryTypeRelay is an allocation on a TURN server.
	entryTypeRelay
)

func (t entryType) String() string {
	switch t {
	case entryTypeCheck:
		return "check"
	case entryTypeServer:
		return "server"
	case entryTypeRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// entryState is the state of a scheduling entry.
type entryState int

const (
	entryStateIdle entryState = iota
	entryStatePending
	entryStateCancelled
	entryStateFailed
	entryStateSucceeded
	entryStateSucceededKeepalive
)

func (s entryState) String() string {
	switch s {
	case entryStateIdle:
		return "idle"
	case entryStatePending:
		return "pending"
	case entryStateCancelled:
		return "cancelled"
	case entryStateFailed:
		return "failed"
	case entryStateSucceeded:
		return "succeeded"
	case entryStateSucceededKeepalive:
		return "keepalive"
	default:
		return "unknown"
	}
}

// stunEntry is one scheduled STUN transaction context: a connectivity
// check, a STUN server binding, or a TURN allocation. Entries are
// created during gathering and pair addition and live as long as the
// agent; terminal entries are only marked failed or cancelled.
type stunEntry struct {
	kind  entryType
	state entryState

	// pair is set on check entries.
	pair *CandidatePair

	// turn is set on relay entries.
	turn *turnState

	// relay links a check entry to the allocation its local relayed
	// candidate came from. At most one per entry.
	relay *stunEntry

	// record is the transmission destination: the server address, or the
	// remote candidate address.
	record AddressRecord

	// relayed is the allocated relayed address of a relay entry.
	relayed AddressRecord

	// candidate is the local relayed candidate an allocation produced.
	candidate *Candidate

	// mapped is the server-reflexive address a server or relay entry
	// learned.
	mapped AddressRecord

	transactionID [stun.TransactionIDSize]byte

	nextTransmission      time.Time
	retransmissions       int
	retransmissionTimeout time.Duration

	// armed debounces keepalive rearming; cleared by the send fast path
	// without holding the agent lock.
	armed atomic.Bool
}

// schedule moves an idle entry to pending with a full retransmission
// budget.
func (e *stunEntry) schedule() {
	e.state = entryStatePending
	e.retransmissions = maxStunRetransmissionCount
	e.retransmissionTimeout = minStunRetransmissionTimeout
}

// reset re-enters pending with a fresh transaction, for nomination
// re-checks and 487 recovery.
func (e *stunEntry) reset() {
	e.transactionID = stun.NewTransactionID()
	e.armed.Store(false)
	e.schedule()
}

// fail makes the entry terminal. A failed entry never transmits its
// transaction id again.
func (e *stunEntry) fail() {
	e.state = entryStateFailed
	e.nextTransmission = time.Time{}
}

// cancel parks the entry; used when the owning pair is frozen.
func (e *stunEntry) cancel() {
	e.state = entryStateCancelled
	e.nextTransmission = time.Time{}
}

func (e *stunEntry) isTerminal() bool {
	return e.state == entryStateFailed || e.state == entryStateCancelled
}

// addEntry registers a new entry, enforcing the table bound. Must be
// called with the agent lock held.
func (a *Agent) addEntry(entry *stunEntry) (*stunEntry, error) {
	if len(a.entries) >= maxStunEntries {
		return nil, ErrTooManyEntries
	}
	a.entries = append(a.entries, entry)

	return entry, nil
}

// armTransmission schedules the entry's next transmission no earlier
// than now+delay, pushed forward until it sits at least the pacing
// interval away from every other scheduled transmission.
func (a *Agent) armTransmission(entry *stunEntry, now time.Time, delay time.Duration) {
	target := now.Add(delay)

	for changed := true; changed; {
		changed = false
		for _, other := range a.entries {
			if other == entry || other.nextTransmission.IsZero() {
				continue
			}

			diff := target.Sub(other.nextTransmission)
			if diff < 0 {
				diff = -diff
			}
			if diff < stunPacingTime {
				target = other.nextTransmission.Add(stunPacingTime)
				changed = true
			}
		}
	}

	entry.nextTransmission = target
}

// armKeepalive rearms a succeeded entry's keepalive stream, debounced
// by the armed flag: a send on the fast path clears the flag, so the
// next pass restarts the period from then and defers the next
// keepalive.
func (a *Agent) armKeepalive(entry *stunEntry, now time.Time, period time.Duration) {
	if entry.armed.Swap(true) {
		return
	}

	entry.state = entryStateSucceededKeepalive
	a.armTransmission(entry, now, period)
}
