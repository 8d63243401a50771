// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package icelite implements a single-socket ICE agent: candidate
// gathering over STUN and TURN, prioritized connectivity checks with
// pacing and retransmission, pair nomination, and relaying of
// application datagrams over the selected path.
package icelite

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"
	"github.com/pion/stun/v3"
	"github.com/pion/transport/v3"
	"github.com/pion/transport/v3/stdnet"

	"github.com/pion/icelite/internal/proto"
	"github.com/pion/icelite/internal/stunx"
)

// Agent represents the ICE agent.
//
// All protocol state is guarded by mu, which the I/O goroutine releases
// around its blocking socket read so public API calls make progress
// while the agent is idle. The send fast path only reads selectedEntry
// through an atomic pointer and serializes on sendMu, so direct
// application sends never queue behind protocol bookkeeping; sends over
// a relayed entry also take mu.
type Agent struct {
	handlerStore

	mu     sync.Mutex
	sendMu sync.Mutex

	loggerFactory logging.LoggerFactory
	log           logging.LeveledLogger

	net  transport.Net
	conn net.PacketConn

	urls                      []*stun.URI
	portMin, portMax          uint16
	interfaceFilter           func(string) bool
	includeLoopback           bool
	enableLoopbackTranslation bool
	failTimeout               time.Duration
	keepalivePeriod           time.Duration

	local  Description
	remote Description

	// localAddrs are the host bases advertised as candidates, consulted
	// by the loopback translation.
	localAddrs []AddressRecord

	pairs []*CandidatePair
	// orderedPairs is a permutation of pairs, sorted by descending
	// priority after every insertion and role change.
	orderedPairs []*CandidatePair

	entries []*stunEntry

	role       Role
	tieBreaker uint64

	selectedPair  *CandidatePair
	selectedEntry atomic.Pointer[stunEntry]

	connectionState ConnectionState
	gatheringState  GatheringState

	// failTime is the watchdog deadline after which the agent fails.
	failTime time.Time

	gatherStarted bool
	closed        bool
	loopDone      chan struct{}
	notifierDone  chan struct{}
	chanEvents    chan agentEvent

	// pendingData queues application payloads decoded during ingress for
	// delivery after the lock is released.
	pendingData [][]byte
}

// NewAgent creates a new Agent from the config. The agent stays idle
// until GatherCandidates.
func NewAgent(config *AgentConfig) (*Agent, error) {
	if config.PortMax < config.PortMin {
		return nil, ErrPort
	}

	loggerFactory := config.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	ufrag := config.LocalUfrag
	pwd := config.LocalPwd
	var err error
	if ufrag == "" {
		if ufrag, err = generateUFrag(); err != nil {
			return nil, err
		}
	}
	if pwd == "" {
		if pwd, err = generatePwd(); err != nil {
			return nil, err
		}
	}

	agent := &Agent{
		loggerFactory:   loggerFactory,
		log:             loggerFactory.NewLogger("ice"),
		net:             config.Net,
		role:            RoleUnknown,
		tieBreaker:      generateTieBreaker(),
		connectionState: ConnectionStateDisconnected,
		gatheringState:  GatheringStateNew,
		local:           Description{Ufrag: ufrag, Pwd: pwd},
		notifierDone:    make(chan struct{}),
		chanEvents:      make(chan agentEvent, eventQueueSize),
	}
	config.initWithDefaults(agent)

	if agent.net == nil {
		if agent.net, err = stdnet.NewNet(); err != nil {
			return nil, err
		}
	}

	agent.startNotifier()

	return agent, nil
}

// Role returns the agent's current negotiation role.
func (a *Agent) Role() Role {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.role
}

// State returns the agent's coarse connection state.
func (a *Agent) State() ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.connectionState
}

// LocalUserCredentials returns the local ufrag and pwd.
func (a *Agent) LocalUserCredentials() (string, string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.local.Ufrag, a.local.Pwd
}

// LocalDescription renders the local credentials and every candidate
// gathered so far as SDP attribute lines.
func (a *Agent) LocalDescription() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.local.Marshal()
}

// SetRemoteDescription ingests the peer's credentials and candidates.
// An agent that learns the remote description before gathering becomes
// the controlled side.
func (a *Agent) SetRemoteDescription(sdp string) error {
	desc, err := unmarshalDescription(sdp)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}

	if a.role == RoleUnknown {
		a.role = RoleControlled
	}

	a.remote.Ufrag = desc.Ufrag
	a.remote.Pwd = desc.Pwd

	for _, cand := range desc.Candidates {
		if err := a.addRemoteCandidate(cand); err != nil {
			a.log.Warnf("Failed to add remote candidate %s: %v", cand, err)
		}
	}

	// Pairs synthesized from early inbound checks were waiting for the
	// credentials; unfreeze them now.
	now := time.Now()
	for _, entry := range a.entries {
		if entry.kind == entryTypeCheck && entry.state == entryStateIdle {
			entry.pair.state = CandidatePairStatePending
			entry.schedule()
			a.armTransmission(entry, now, 0)
		}
	}

	if a.connectionState == ConnectionStateDisconnected || a.connectionState == ConnectionStateGathering {
		a.setConnectionState(ConnectionStateConnecting)
	}
	a.interrupt()

	return nil
}

// AddRemoteCandidate ingests one trickled remote candidate line.
func (a *Agent) AddRemoteCandidate(line string) error {
	cand, err := UnmarshalCandidate(line)
	if errors.Is(err, ErrCandidateIgnored) {
		return nil
	} else if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if a.remote.Ufrag == "" {
		return ErrRemoteUfragEmpty
	}

	if err := a.addRemoteCandidate(cand); err != nil {
		return err
	}
	a.interrupt()

	return nil
}

// SetRemoteGatheringDone marks the remote candidate list complete and
// rearms the fail watchdog with the shorter no-more-candidates
// deadline.
func (a *Agent) SetRemoteGatheringDone() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.remote.Finished = true
	a.failTime = time.Time{}
	a.interrupt()
}

// GetSelectedCandidatePair returns the candidates of the selected pair.
// The local candidate is nil while the pair uses the socket base
// directly.
func (a *Agent) GetSelectedCandidatePair() (local, remote *Candidate, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.selectedPair == nil {
		return nil, nil, false
	}

	return a.selectedPair.Local, a.selectedPair.Remote, true
}

// Send transmits one application datagram over the selected pair,
// directly or framed through the TURN relay. It fails until at least
// one connectivity check has succeeded.
func (a *Agent) Send(data []byte) error {
	entry := a.selectedEntry.Load()
	if entry == nil {
		return ErrNoSelectedPair
	}

	// Application traffic substitutes for a keepalive; the next
	// bookkeeping pass reschedules it.
	entry.armed.Store(false)

	if entry.relay != nil {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.closed {
			return ErrClosed
		}

		return a.relaySend(entry.relay, entry.record, data, time.Now())
	}

	return a.writeTo(data, entry.record)
}

// Close stops the I/O goroutine, closes the socket and releases every
// structure. The agent must not be used afterwards.
func (a *Agent) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()

		return ErrClosed
	}
	a.closed = true
	conn := a.conn
	loopDone := a.loopDone
	a.selectedEntry.Store(nil)
	a.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if loopDone != nil {
		<-loopDone
	}

	close(a.chanEvents)
	<-a.notifierDone

	return nil
}

// writeTo sends one datagram on the shared socket. It takes only the
// send mutex, never the agent lock, so a slow send cannot block
// ingress and a bookkeeping pass cannot block a send.
func (a *Agent) writeTo(buf []byte, dst AddressRecord) error {
	a.sendMu.Lock()
	conn := a.conn
	if conn == nil {
		a.sendMu.Unlock()

		return ErrGatheringNotStarted
	}

	if a.enableLoopbackTranslation {
		dst = loopbackTranslation(dst, a.localAddrs)
	}

	_, err := conn.WriteTo(buf, dst.udpAddr())
	a.sendMu.Unlock()

	if err != nil && isTransientSendError(err) {
		// Transient write pressure: the entry keeps its schedule and the
		// retry budget is not charged.
		return nil
	}

	return err
}

func isTransientSendError(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// interrupt wakes the I/O goroutine out of its blocking read so it
// recomputes its timeout. Deadline pokes are the portable rendition of
// the self-addressed wakeup datagram.
func (a *Agent) interrupt() {
	if a.conn != nil {
		_ = a.conn.SetReadDeadline(time.Now())
	}
}

// loop is the event loop: one timeout-bounded socket read, then one
// bookkeeping pass, repeated until close.
func (a *Agent) loop() {
	defer close(a.loopDone)
	buf := make([]byte, receiveMTU)

	for {
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()

			return
		}
		next := a.bookkeeping(time.Now())
		conn := a.conn
		a.mu.Unlock()

		a.deliverPendingData()

		_ = conn.SetReadDeadline(next)
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			if a.isClosed() {
				return
			}
			// Deadline expiries drive the bookkeeping pass; reads also
			// surface ICMP port unreachable errors on some platforms,
			// which are ignored.
			continue
		}
		if n == 0 {
			continue
		}

		record, ok := addressRecordFromAddr(src)
		if !ok {
			continue
		}

		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()

			return
		}
		a.input(buf[:n], record, nil)
		a.mu.Unlock()

		a.deliverPendingData()
	}
}

func (a *Agent) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.closed
}

// deliverPendingData runs the data handler outside the agent lock.
func (a *Agent) deliverPendingData() {
	a.mu.Lock()
	pending := a.pendingData
	a.pendingData = nil
	a.mu.Unlock()

	for _, payload := range pending {
		a.notifyData(payload)
	}
}

// isStunDatagram reports whether the datagram could be a STUN message:
// minimum size, the two zero top bits, and the magic cookie.
func isStunDatagram(buf []byte) bool {
	return len(buf) >= 20 &&
		buf[0]&0xC0 == 0 &&
		buf[4] == 0x21 && buf[5] == 0x12 && buf[6] == 0xA4 && buf[7] == 0x42
}

// input classifies one inbound datagram and routes it. via is non-nil
// when the payload was carried by a relay entry's allocation.
func (a *Agent) input(data []byte, src AddressRecord, via *stunEntry) {
	if isStunDatagram(data) {
		msg, err := stunx.ReadMessage(data)
		if err != nil {
			a.log.Debugf("Dropping malformed STUN datagram from %s: %v", src, err)

			return
		}
		a.handleStun(msg, src, via)

		return
	}

	if via == nil && proto.IsChannelData(data) {
		if relay := a.findRelayByServer(src); relay != nil {
			number, payload, err := proto.DecodeChannelData(data)
			if err != nil {
				a.log.Debugf("Dropping malformed ChannelData from %s: %v", src, err)

				return
			}
			if peer, ok := relay.turn.peers.findChannel(number); ok {
				a.input(payload, peer, relay)
			}

			return
		}
	}

	if entry := a.findCheckEntry(src, via); entry != nil {
		payload := make([]byte, len(data))
		copy(payload, data)
		a.pendingData = append(a.pendingData, payload)

		return
	}

	a.log.Tracef("Dropping datagram from unknown source %s", src)
}

// handleStun routes a validated STUN message: responses by transaction
// id, requests and indications by source.
func (a *Agent) handleStun(msg *stun.Message, src AddressRecord, via *stunEntry) {
	now := time.Now()

	switch msg.Type.Class {
	case stun.ClassRequest:
		if msg.Type.Method != stun.MethodBinding {
			a.log.Tracef("Unhandled STUN request method %s from %s", msg.Type.Method, src)

			return
		}
		a.handleBindingRequest(msg, src, via, now)

	case stun.ClassIndication:
		if msg.Type.Method == stun.MethodData && via == nil {
			a.handleDataIndication(msg, src)
		}
		// Binding indications are keepalives; nothing to do.

	case stun.ClassSuccessResponse, stun.ClassErrorResponse:
		a.handleResponse(msg, src, now)
	}
}

// handleDataIndication unwraps a TURN Data indication and re-enters
// input as if the payload had arrived from the peer.
func (a *Agent) handleDataIndication(msg *stun.Message, src AddressRecord) {
	relay := a.findRelayByServer(src)
	if relay == nil {
		return
	}

	peer, ok := getXORAddress(msg, stun.AttrXORPeerAddress)
	if !ok {
		return
	}

	var data proto.Data
	if err := data.GetFrom(msg); err != nil {
		return
	}

	a.input(data, peer, relay)
}

// handleResponse matches a response to the entry owning its transaction
// id, falling back to the relay entries' pending per-peer operations.
func (a *Agent) handleResponse(msg *stun.Message, src AddressRecord, now time.Time) {
	for _, entry := range a.entries {
		if entry.transactionID != msg.TransactionID {
			continue
		}

		switch entry.kind {
		case entryTypeCheck:
			a.handleCheckResponse(entry, msg, src, now)
		case entryTypeServer:
			a.handleServerResponse(entry, msg, now)
		case entryTypeRelay:
			if msg.Type.Class == stun.ClassErrorResponse {
				a.handleRelayError(entry, msg, now)
			} else {
				a.handleRelaySuccess(entry, msg, now)
			}
		}

		return
	}

	// TURN per-peer operations carry their own ids, matched through the
	// allocation's transaction table.
	for _, entry := range a.entries {
		if entry.kind != entryTypeRelay || entry.turn == nil {
			continue
		}
		if op, ok := entry.turn.peers.hasPendingTransaction(msg.TransactionID); ok {
			if msg.Type.Class == stun.ClassErrorResponse {
				a.handlePeerOpError(entry, msg, op)
			} else {
				a.handleRelaySuccess(entry, msg, now)
			}

			return
		}
	}

	a.log.Tracef("Dropping response with unknown transaction id from %s", src)
}

// handlePeerOpError handles a 4xx on CreatePermission/ChannelBind:
// logged, the operation abandoned.
func (a *Agent) handlePeerOpError(entry *stunEntry, msg *stun.Message, op turnOp) {
	var code stun.ErrorCodeAttribute
	reason := "no error code"
	if err := code.GetFrom(msg); err == nil {
		reason = fmt.Sprintf("%d %s", code.Code, code.Reason)
	}

	opName := "CreatePermission"
	if op == turnOpChannelBind {
		opName = "ChannelBind"
	}
	a.log.Infof("TURN %s on %s failed: %s", opName, entry.record, reason)

	entry.turn.peers.clearTransaction(msg.TransactionID)
}

// findRelayByServer returns the relay entry allocated on the given
// server address.
func (a *Agent) findRelayByServer(src AddressRecord) *stunEntry {
	for _, entry := range a.entries {
		if entry.kind == entryTypeRelay && entry.record.equal(src, true) {
			return entry
		}
	}

	return nil
}

// findCheckEntry returns the check entry matching a datagram source and
// arrival path.
func (a *Agent) findCheckEntry(src AddressRecord, via *stunEntry) *stunEntry {
	for _, entry := range a.entries {
		if entry.kind == entryTypeCheck && entry.relay == via && entry.record.equal(src, true) {
			return entry
		}
	}

	return nil
}

// entryForPair returns the check entry driving the pair.
func (a *Agent) entryForPair(pair *CandidatePair) *stunEntry {
	for _, entry := range a.entries {
		if entry.kind == entryTypeCheck && entry.pair == pair {
			return entry
		}
	}

	return nil
}

// setConnectionState updates the coarse state and notifies. The jump
// from connecting straight to completed is never taken; callers pass
// through connected first.
func (a *Agent) setConnectionState(state ConnectionState) {
	if a.connectionState == state {
		return
	}

	a.log.Infof("Connection state changed: %s -> %s", a.connectionState, state)
	a.connectionState = state

	s := state
	a.postEvent(agentEvent{state: &s})
}
