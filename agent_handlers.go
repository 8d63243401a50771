// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package icelite

import "sync/atomic"

// OnConnectionStateChange sets a handler that is fired when the
// connection state changes.
func (a *Agent) OnConnectionStateChange(f func(ConnectionState)) {
	a.onConnectionStateChangeHdlr.Store(f)
}

// OnCandidate sets a handler that is fired for every gathered local
// candidate.
func (a *Agent) OnCandidate(f func(*Candidate)) {
	a.onCandidateHdlr.Store(f)
}

// OnGatheringDone sets a handler that is fired once every server and
// relay entry reached a terminal state.
func (a *Agent) OnGatheringDone(f func()) {
	a.onGatheringDoneHdlr.Store(f)
}

// OnData sets a handler for inbound application datagrams. It is
// invoked from the agent's I/O goroutine; it must not block and must
// not call back into blocking Agent methods.
func (a *Agent) OnData(f func([]byte)) {
	a.onDataHdlr.Store(f)
}

// agentEvent is one queued notification for the notifier goroutine.
// Handlers run off the I/O goroutine so they are free to call back
// into the agent.
type agentEvent struct {
	state         *ConnectionState
	candidate     *Candidate
	gatheringDone bool
}

const eventQueueSize = 32

func (a *Agent) startNotifier() {
	go func() {
		defer close(a.notifierDone)
		for ev := range a.chanEvents {
			switch {
			case ev.state != nil:
				if f, ok := a.onConnectionStateChangeHdlr.Load().(func(ConnectionState)); ok && f != nil {
					f(*ev.state)
				}
			case ev.candidate != nil:
				if f, ok := a.onCandidateHdlr.Load().(func(*Candidate)); ok && f != nil {
					f(ev.candidate)
				}
			case ev.gatheringDone:
				if f, ok := a.onGatheringDoneHdlr.Load().(func()); ok && f != nil {
					f()
				}
			}
		}
	}()
}

// postEvent enqueues a notification without blocking; the queue is
// deep enough that a drop only happens with a stalled handler.
func (a *Agent) postEvent(ev agentEvent) {
	select {
	case a.chanEvents <- ev:
	default:
		a.log.Warn("Notification queue full, dropping event")
	}
}

func (a *Agent) notifyData(data []byte) {
	if f, ok := a.onDataHdlr.Load().(func([]byte)); ok && f != nil {
		f(data)
	}
}

// handler storage lives on the agent as atomic values so handlers can
// be swapped at any time.
type handlerStore struct {
	onConnectionStateChangeHdlr atomic.Value // func(ConnectionState)
	onCandidateHdlr             atomic.Value // func(*Candidate)
	onGatheringDoneHdlr         atomic.Value // func()
	onDataHdlr                  atomic.Value // func([]byte)
}
