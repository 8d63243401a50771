// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package icelite

import (
	"net"
	"time"

	"github.com/pion/stun/v3"

	"github.com/pion/icelite/internal/proto"
	"github.com/pion/icelite/internal/stunx"
)

// turnState is the long-term credential state of one allocation plus
// its per-peer permission/channel map.
type turnState struct {
	username string
	password string

	// realm and nonce are adopted from the server's 401 challenge and
	// rotated on 438 Stale Nonce.
	realm string
	nonce string

	// algorithm is selected from the server's PASSWORD-ALGORITHMS
	// advertisement; SHA-256 when offered, MD5 otherwise.
	algorithm stunx.PasswordAlgorithm

	peers *turnMap
}

func newTurnState(username, password string) *turnState {
	return &turnState{
		username:  username,
		password:  password,
		algorithm: stunx.PasswordAlgorithmMD5,
		peers:     newTurnMap(),
	}
}

// integrity returns the request integrity setter for the selected
// algorithm.
func (t *turnState) integrity() stun.Setter {
	if t.algorithm == stunx.PasswordAlgorithmSHA256 {
		return stunx.NewLongTermIntegritySHA256(t.username, t.realm, t.password)
	}

	return stun.NewLongTermIntegrity(t.username, t.realm, t.password)
}

// checkResponseIntegrity verifies whichever integrity attribute a
// response carries: MESSAGE-INTEGRITY-SHA256 with the SHA-256 long-term
// key, otherwise MESSAGE-INTEGRITY with the MD5 long-term key. A
// response with neither attribute passes.
func (t *turnState) checkResponseIntegrity(msg *stun.Message) error {
	switch {
	case msg.Contains(stun.AttrMessageIntegritySHA256):
		key := stunx.NewLongTermIntegritySHA256(t.username, t.realm, t.password)

		return key.Check(msg)
	case msg.Contains(stun.AttrMessageIntegrity):
		return stunx.CheckSHA1(msg, stunx.LongTermKey(t.username, t.realm, t.password))
	default:
		return nil
	}
}

// adoptChallenge ingests the 401 challenge attributes.
func (t *turnState) adoptChallenge(msg *stun.Message) bool {
	var realm stun.Realm
	var nonce stun.Nonce
	if realm.GetFrom(msg) != nil || nonce.GetFrom(msg) != nil {
		return false
	}

	t.realm = realm.String()
	t.nonce = nonce.String()

	var algorithms stunx.PasswordAlgorithms
	if err := algorithms.GetFrom(msg); err == nil && algorithms.Supports(stunx.PasswordAlgorithmSHA256) {
		t.algorithm = stunx.PasswordAlgorithmSHA256
	}

	return true
}

// adoptNonce ingests a 438 Stale Nonce rotation.
func (t *turnState) adoptNonce(msg *stun.Message) bool {
	var nonce stun.Nonce
	if nonce.GetFrom(msg) != nil {
		return false
	}
	t.nonce = nonce.String()

	return true
}

// xorPeerAddress adds XOR-PEER-ADDRESS reusing the pion/stun XOR
// address codec.
type xorPeerAddress struct {
	addr AddressRecord
}

func (x xorPeerAddress) AddTo(m *stun.Message) error {
	xorAddr := &stun.XORMappedAddress{IP: x.addr.IP.AsSlice(), Port: int(x.addr.Port)}

	return xorAddr.AddToAs(m, stun.AttrXORPeerAddress)
}

func getXORAddress(msg *stun.Message, attrType stun.AttrType) (AddressRecord, bool) {
	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFromAs(msg, attrType); err != nil {
		return AddressRecord{}, false
	}

	return addressRecordFromAddr(&net.UDPAddr{IP: xorAddr.IP, Port: xorAddr.Port})
}

// buildTurnRequest assembles a request with the current credentials,
// integrity and the trailing fingerprint. Requests before the first
// challenge go out without credentials.
func (t *turnState) buildTurnRequest(
	method stun.Method,
	transactionID [stun.TransactionIDSize]byte,
	attrs ...stun.Setter,
) (*stun.Message, error) {
	setters := []stun.Setter{
		stun.NewTransactionIDSetter(transactionID),
		stun.NewType(method, stun.ClassRequest),
		stun.NewSoftware(softwareName),
	}
	setters = append(setters, attrs...)

	if t.realm != "" {
		setters = append(setters,
			stun.NewUsername(t.username),
			stun.NewRealm(t.realm),
			stun.NewNonce(t.nonce),
		)
		if t.algorithm == stunx.PasswordAlgorithmSHA256 {
			setters = append(setters, stunx.PasswordAlgorithmAttr{Algorithm: t.algorithm})
		}
		setters = append(setters, t.integrity())
	}

	setters = append(setters, stun.Fingerprint)

	return stun.Build(setters...)
}

func (t *turnState) buildAllocate(transactionID [stun.TransactionIDSize]byte) (*stun.Message, error) {
	return t.buildTurnRequest(stun.MethodAllocate, transactionID,
		proto.RequestedTransport{Protocol: proto.ProtoUDP},
		proto.DontFragment{},
		proto.Lifetime{Duration: turnLifetime},
	)
}

func (t *turnState) buildRefresh(transactionID [stun.TransactionIDSize]byte) (*stun.Message, error) {
	return t.buildTurnRequest(stun.MethodRefresh, transactionID,
		proto.Lifetime{Duration: turnLifetime},
	)
}

func (t *turnState) buildCreatePermission(peer AddressRecord) (*stun.Message, error) {
	return t.buildTurnRequest(stun.MethodCreatePermission, t.peers.setRandomPermissionTransactionID(peer),
		xorPeerAddress{addr: peer},
	)
}

func (t *turnState) buildChannelBind(peer AddressRecord, number proto.ChannelNumber) (*stun.Message, error) {
	return t.buildTurnRequest(stun.MethodChannelBind, t.peers.setRandomBindTransactionID(peer),
		number,
		xorPeerAddress{addr: peer},
	)
}

func buildSendIndication(peer AddressRecord, data []byte) (*stun.Message, error) {
	return stun.Build(
		stun.NewTransactionIDSetter(stun.NewTransactionID()),
		stun.NewType(stun.MethodSend, stun.ClassIndication),
		xorPeerAddress{addr: peer},
		proto.Data(data),
		stun.Fingerprint,
	)
}

// relaySend forwards one datagram to a peer through the allocation:
// framed as ChannelData once the channel is bound, wrapped in a Send
// indication before that. Permissions and channel bindings are set up
// lazily on first use. Must be called with the agent lock held.
func (a *Agent) relaySend(relay *stunEntry, peer AddressRecord, data []byte, now time.Time) error {
	turn := relay.turn

	if !turn.peers.hasPermission(peer, now) {
		a.requestPermission(relay, peer)
	}

	channel, bound := turn.peers.getBoundChannel(peer)
	if bound {
		return a.writeTo(proto.EncodeChannelData(channel, data), relay.record)
	}

	if channel == 0 {
		a.requestChannelBind(relay, peer, now)
	}

	msg, err := buildSendIndication(peer, data)
	if err != nil {
		return err
	}

	return a.writeTo(msg.Raw, relay.record)
}

// requestPermission fires a CreatePermission for the peer unless one is
// already in flight.
func (a *Agent) requestPermission(relay *stunEntry, peer AddressRecord) {
	turn := relay.turn
	if entry := turn.peers.peer(peer); entry.permissionTxSet {
		return
	}

	msg, err := turn.buildCreatePermission(peer)
	if err != nil {
		a.log.Warnf("Failed to build CreatePermission for %s: %v", peer, err)

		return
	}

	if err := a.writeTo(msg.Raw, relay.record); err != nil {
		a.log.Tracef("Failed to send CreatePermission: %v", err)
	}
}

// requestChannelBind reserves a random channel for the peer and fires
// the ChannelBind request.
func (a *Agent) requestChannelBind(relay *stunEntry, peer AddressRecord, now time.Time) {
	turn := relay.turn
	if entry := turn.peers.peer(peer); entry.bindTxSet {
		return
	}

	number := turn.peers.bindRandomChannel(peer, bindLifetime, now)
	msg, err := turn.buildChannelBind(peer, number)
	if err != nil {
		a.log.Warnf("Failed to build ChannelBind for %s: %v", peer, err)

		return
	}

	if err := a.writeTo(msg.Raw, relay.record); err != nil {
		a.log.Tracef("Failed to send ChannelBind: %v", err)
	}
}

// refreshPeerState re-issues CreatePermission and ChannelBind for
// peers whose grants are past half their lifetime. Runs from the
// bookkeeping pass.
func (a *Agent) refreshPeerState(relay *stunEntry, now time.Time) {
	turn := relay.turn
	for peer := range turn.peers.peers {
		if turn.peers.permissionNeedsRefresh(peer, now) {
			a.requestPermission(relay, peer)
		}
		if turn.peers.channelNeedsRefresh(peer, now) {
			a.requestChannelBind(relay, peer, now)
		}
	}
}

// handleRelayError processes error responses on a relay entry's own
// allocation/refresh transaction.
func (a *Agent) handleRelayError(entry *stunEntry, msg *stun.Message, now time.Time) {
	var code stun.ErrorCodeAttribute
	if err := code.GetFrom(msg); err != nil {
		a.log.Warnf("Relay error response without ERROR-CODE from %s", entry.record)
		entry.fail()
		a.updateGatheringState()

		return
	}

	turn := entry.turn
	switch code.Code {
	case stun.CodeUnauthorized:
		// The first 401 is the credential ceremony: it carries the realm
		// and nonce the second attempt signs with. A 401 on a signed
		// request means the credentials are wrong.
		if turn.realm != "" || !turn.adoptChallenge(msg) {
			a.log.Infof("TURN server %s rejected credentials", entry.record)
			entry.fail()
			a.updateGatheringState()

			return
		}
		entry.transactionID = stun.NewTransactionID()
		a.armTransmission(entry, now, 0)
	case stun.CodeStaleNonce:
		if !turn.adoptNonce(msg) {
			entry.fail()
			a.updateGatheringState()

			return
		}
		entry.transactionID = stun.NewTransactionID()
		a.armTransmission(entry, now, 0)
	default:
		a.log.Infof("TURN allocation on %s failed: %d %s", entry.record, code.Code, code.Reason)
		entry.fail()
		a.updateGatheringState()
	}
}

// handleRelaySuccess processes success responses belonging to a relay
// entry: its own Allocate/Refresh transaction or a pending
// CreatePermission/ChannelBind resolved through the peer map.
func (a *Agent) handleRelaySuccess(entry *stunEntry, msg *stun.Message, now time.Time) {
	if err := entry.turn.checkResponseIntegrity(msg); err != nil {
		// Local validation failure: mark the entry failed without
		// logging a remote protocol error.
		a.log.Debugf("Relay response from %s failed integrity: %v", entry.record, err)
		if msg.TransactionID == entry.transactionID {
			entry.fail()
			a.updateGatheringState()
		}

		return
	}

	switch msg.Type.Method { //nolint:exhaustive // remaining TURN methods are server-side
	case stun.MethodAllocate:
		a.handleAllocateSuccess(entry, msg, now)
	case stun.MethodRefresh:
		var lifetime proto.Lifetime
		if err := lifetime.GetFrom(msg); err == nil {
			a.log.Tracef("Allocation on %s refreshed for %s", entry.record, lifetime.Duration)
		}
	case stun.MethodCreatePermission:
		if entry.turn.peers.setPermission(msg.TransactionID, nil, permissionLifetime, now) {
			a.log.Tracef("Permission installed on %s", entry.record)
		}
	case stun.MethodChannelBind:
		if peer, ok := entry.turn.peers.bindCurrentChannel(msg.TransactionID, bindLifetime, now); ok {
			a.log.Tracef("Channel bound for %s on %s", peer, entry.record)
		}
	}
}

func (a *Agent) handleAllocateSuccess(entry *stunEntry, msg *stun.Message, now time.Time) {
	if entry.state != entryStatePending {
		return
	}

	relayed, ok := getXORAddress(msg, stun.AttrXORRelayedAddress)
	if !ok {
		a.log.Warnf("Allocate success without XOR-RELAYED-ADDRESS from %s", entry.record)
		entry.fail()
		a.updateGatheringState()

		return
	}
	entry.relayed = relayed

	entry.state = entryStateSucceeded
	a.armKeepalive(entry, now, turnRefreshPeriod)

	if cand, err := a.addLocalCandidate(CandidateTypeRelay, relayed); err == nil && cand != nil {
		entry.candidate = cand
		a.pairLocalRelayedCandidate(cand)
	}

	if mapped, ok := getXORAddress(msg, stun.AttrXORMappedAddress); ok {
		entry.mapped = mapped
		if _, err := a.addLocalCandidate(CandidateTypeServerReflexive, mapped); err != nil {
			a.log.Debugf("Ignoring reflexive address from %s: %v", entry.record, err)
		}
	}

	a.updateGatheringState()
}
