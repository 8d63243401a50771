// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package icelite

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/pion/stun/v3"
	"github.com/pion/transport/v3"
)

// GatherCandidates binds the agent's UDP socket, advertises host
// candidates, starts the event loop and kicks off the server and relay
// transactions. An agent that gathers before learning the remote
// description becomes the controlling side.
func (a *Agent) GatherCandidates() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case a.closed:
		return ErrClosed
	case a.gatherStarted:
		return ErrGatheringAlreadyStarted
	}

	conn, err := listenUDPInPortRange(a.net, a.portMax, a.portMin, &net.UDPAddr{})
	if err != nil {
		return err
	}

	a.gatherStarted = true
	a.conn = conn
	a.gatheringState = GatheringStateGathering
	if a.role == RoleUnknown {
		a.role = RoleControlling
	}
	if a.connectionState == ConnectionStateDisconnected {
		a.setConnectionState(ConnectionStateGathering)
	}

	a.gatherCandidatesLocal()

	now := time.Now()
	if err := a.gatherCandidatesRelay(now); err != nil {
		a.log.Warnf("Relay gathering setup failed: %v", err)
	}
	if err := a.gatherCandidatesSrflx(now); err != nil {
		a.log.Warnf("Server reflexive gathering setup failed: %v", err)
	}

	a.loopDone = make(chan struct{})
	go a.loop()

	a.updateGatheringState()

	return nil
}

// listenUDPInPortRange binds an unconnected dual-stack socket, walking
// the configured port range when one is set.
func listenUDPInPortRange(netLayer transport.Net, portMax, portMin uint16, laddr *net.UDPAddr) (net.PacketConn, error) {
	if laddr.Port != 0 || (portMin == 0 && portMax == 0) {
		conn, err := netLayer.ListenUDP("udp", laddr)
		if err != nil {
			return nil, err
		}

		return conn, nil
	}

	low := int(portMin)
	if low == 0 {
		low = 1
	}
	high := int(portMax)
	if high == 0 {
		high = 0xFFFF
	}

	for port := low; port <= high; port++ {
		conn, err := netLayer.ListenUDP("udp", &net.UDPAddr{IP: laddr.IP, Port: port})
		if err == nil {
			return conn, nil
		}
	}

	return nil, ErrPort
}

// gatherCandidatesLocal enumerates the host addresses and advertises
// each with the socket's port.
func (a *Agent) gatherCandidatesLocal() {
	port, ok := a.socketPort()
	if !ok {
		return
	}

	for _, ip := range a.localInterfaces() {
		record := newAddressRecord(ip, port)
		if len(a.localAddrs) >= maxHostCandidates {
			break
		}
		a.localAddrs = append(a.localAddrs, record)

		if _, err := a.addLocalCandidate(CandidateTypeHost, record); err != nil {
			a.log.Warnf("Failed to add host candidate %s: %v", record, err)
		}
	}
}

func (a *Agent) socketPort() (uint16, bool) {
	record, ok := addressRecordFromAddr(a.conn.LocalAddr())
	if !ok {
		return 0, false
	}

	return record.Port, true
}

func (a *Agent) localInterfaces() []netip.Addr {
	ifaces, err := a.net.Interfaces()
	if err != nil {
		a.log.Warnf("Failed to enumerate interfaces: %v", err)

		return nil
	}

	var ips []netip.Addr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 && !a.includeLoopback {
			continue
		}
		if a.interfaceFilter != nil && !a.interfaceFilter(iface.Name) {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ip, ok := ipFromInterfaceAddr(addr)
			if !ok || (ip.IsLoopback() && !a.includeLoopback) || ip.IsLinkLocalUnicast() {
				continue
			}
			ips = append(ips, ip)
		}
	}

	return ips
}

// gatherCandidatesSrflx registers one server entry per STUN URL,
// paced apart from each other and from the relay entries.
func (a *Agent) gatherCandidatesSrflx(now time.Time) error {
	count := 0
	for _, uri := range a.urls {
		if uri.Scheme != stun.SchemeTypeSTUN || count >= maxServerEntries {
			continue
		}

		record, err := a.resolveServer(uri)
		if err != nil {
			a.log.Warnf("Failed to resolve STUN server %s: %v", uri, err)

			continue
		}

		entry := &stunEntry{
			kind:          entryTypeServer,
			record:        record,
			transactionID: stun.NewTransactionID(),
		}
		if _, err := a.addEntry(entry); err != nil {
			return err
		}
		entry.schedule()
		a.armTransmission(entry, now, stunPacingTime*time.Duration(len(a.entries)-1))
		count++
	}

	return nil
}

// gatherCandidatesRelay registers one relay entry per TURN URL. The
// first Allocate goes out with empty credentials; the 401 challenge
// supplies realm and nonce.
func (a *Agent) gatherCandidatesRelay(now time.Time) error {
	count := 0
	for _, uri := range a.urls {
		if uri.Scheme != stun.SchemeTypeTURN || count >= maxRelayEntries {
			continue
		}
		if uri.Proto != stun.ProtoTypeUDP {
			a.log.Warnf("Skipping TURN server %s: only UDP transport is supported", uri)

			continue
		}

		record, err := a.resolveServer(uri)
		if err != nil {
			a.log.Warnf("Failed to resolve TURN server %s: %v", uri, err)

			continue
		}

		entry := &stunEntry{
			kind:          entryTypeRelay,
			record:        record,
			transactionID: stun.NewTransactionID(),
			turn:          newTurnState(uri.Username, uri.Password),
		}
		if _, err := a.addEntry(entry); err != nil {
			return err
		}
		entry.schedule()
		a.armTransmission(entry, now, stunPacingTime*time.Duration(len(a.entries)-1))
		count++
	}

	return nil
}

// resolveServer resolves a server URI, preferring an IPv4 record over
// IPv6.
func (a *Agent) resolveServer(uri *stun.URI) (AddressRecord, error) {
	hostport := fmt.Sprintf("%s:%d", uri.Host, uri.Port)

	addr, err := a.net.ResolveUDPAddr("udp4", hostport)
	if err != nil {
		addr, err = a.net.ResolveUDPAddr("udp", hostport)
	}
	if err != nil {
		return AddressRecord{}, err
	}

	record, ok := addressRecordFromAddr(addr)
	if !ok {
		return AddressRecord{}, ErrInvalidCandidate
	}

	return record, nil
}

// addLocalCandidate inserts a local candidate, notifying the candidate
// handler when it is new.
func (a *Agent) addLocalCandidate(candidateType CandidateType, record AddressRecord) (*Candidate, error) {
	cand := newLocalCandidate(candidateType, ComponentRTP, record)

	inserted, err := a.local.addCandidate(cand)
	if err != nil {
		return nil, err
	}
	if inserted != cand {
		// Duplicate of an already advertised candidate.
		return inserted, nil
	}

	a.postEvent(agentEvent{candidate: cand})

	return cand, nil
}

// updateGatheringState re-checks whether any server or relay entry is
// still pending and completes gathering when none is.
func (a *Agent) updateGatheringState() {
	if a.gatheringState != GatheringStateGathering {
		return
	}

	for _, entry := range a.entries {
		if entry.kind == entryTypeCheck {
			continue
		}
		if entry.state == entryStatePending || entry.state == entryStateIdle {
			return
		}
	}

	a.gatheringState = GatheringStateComplete
	a.local.Finished = true
	a.log.Info("Gathering complete")
	a.postEvent(agentEvent{gatheringDone: true})
}

// handleServerResponse processes a STUN server's Binding response for
// a server entry.
func (a *Agent) handleServerResponse(entry *stunEntry, msg *stun.Message, now time.Time) {
	if msg.Type.Class == stun.ClassErrorResponse {
		a.log.Infof("STUN server %s rejected the binding", entry.record)
		entry.fail()
		a.updateGatheringState()

		return
	}

	mapped, ok := getXORAddress(msg, stun.AttrXORMappedAddress)
	if !ok {
		a.log.Warnf("Binding success without XOR-MAPPED-ADDRESS from %s", entry.record)
		entry.fail()
		a.updateGatheringState()

		return
	}

	if entry.state == entryStatePending {
		entry.mapped = mapped
		entry.state = entryStateSucceeded
		a.armKeepalive(entry, now, a.keepalivePeriod)

		if _, err := a.addLocalCandidate(CandidateTypeServerReflexive, mapped); err != nil {
			a.log.Debugf("Ignoring reflexive address from %s: %v", entry.record, err)
		}

		a.updateGatheringState()
	}
}
