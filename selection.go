// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package icelite

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pion/stun/v3"

	"github.com/pion/icelite/internal/stunx"
)

// addRemoteCandidate inserts a remote candidate and synthesizes its
// pairs: one against the undifferentiated socket base, and one per
// local relayed candidate of the same address family. Must be called
// with the agent lock held.
func (a *Agent) addRemoteCandidate(cand *Candidate) error {
	inserted, err := a.remote.addCandidate(cand)
	if err != nil {
		return err
	}
	if inserted != cand {
		// Already known.
		return nil
	}

	if !cand.Addr.isValid() {
		a.log.Debugf("Remote candidate %s has no numeric address, not pairing", cand)

		return nil
	}

	return a.pairRemoteCandidate(cand)
}

func (a *Agent) pairRemoteCandidate(cand *Candidate) error {
	if _, err := a.createPair(nil, cand, nil); err != nil {
		return err
	}

	for _, entry := range a.entries {
		if entry.kind != entryTypeRelay || entry.candidate == nil {
			continue
		}
		if entry.candidate.Addr.IP.Is4() != cand.Addr.IP.Is4() {
			continue
		}
		if _, err := a.createPair(entry.candidate, cand, entry); err != nil {
			return err
		}
	}

	return nil
}

// pairLocalRelayedCandidate pairs a freshly allocated relayed candidate
// against every known remote candidate.
func (a *Agent) pairLocalRelayedCandidate(cand *Candidate) {
	relay := a.relayEntryForCandidate(cand)
	for _, remote := range a.remote.Candidates {
		if !remote.Addr.isValid() || remote.Addr.IP.Is4() != cand.Addr.IP.Is4() {
			continue
		}
		if _, err := a.createPair(cand, remote, relay); err != nil {
			a.log.Warnf("Failed to pair relayed candidate: %v", err)

			return
		}
	}
}

func (a *Agent) relayEntryForCandidate(cand *Candidate) *stunEntry {
	for _, entry := range a.entries {
		if entry.kind == entryTypeRelay && entry.candidate == cand {
			return entry
		}
	}

	return nil
}

// createPair registers a pair and its check entry. The check starts
// immediately when the remote credentials are known; pacing spreads the
// initial transmissions.
func (a *Agent) createPair(local *Candidate, remote *Candidate, relay *stunEntry) (*CandidatePair, error) {
	for _, entry := range a.entries {
		if entry.kind == entryTypeCheck && entry.relay == relay && entry.pair.Remote == remote {
			return entry.pair, nil
		}
	}

	if len(a.pairs) >= maxCandidatePairs {
		return nil, ErrTooManyCandidatePairs
	}

	pair := newCandidatePair(local, remote, a.role == RoleControlling)
	entry := &stunEntry{
		kind:          entryTypeCheck,
		pair:          pair,
		relay:         relay,
		record:        remote.Addr,
		transactionID: stun.NewTransactionID(),
	}
	if _, err := a.addEntry(entry); err != nil {
		return nil, err
	}

	a.pairs = append(a.pairs, pair)
	a.orderedPairs = append(a.orderedPairs, pair)
	a.sortPairs()

	if a.remote.Ufrag != "" {
		pair.state = CandidatePairStatePending
		entry.schedule()
		a.armTransmission(entry, time.Now(), 0)
	}

	return pair, nil
}

func (a *Agent) sortPairs() {
	sort.SliceStable(a.orderedPairs, func(i, j int) bool {
		return a.orderedPairs[i].priority > a.orderedPairs[j].priority
	})
}

// setRole flips the negotiation role and recomputes every pair
// priority, keeping the ordered view sorted.
func (a *Agent) setRole(role Role) {
	if a.role == role {
		return
	}

	a.log.Debugf("Role change: %s -> %s", a.role, role)
	a.role = role
	for _, pair := range a.pairs {
		pair.updatePriority(role == RoleControlling)
	}
	a.sortPairs()
}

// buildCheckRequest assembles the Binding request of a connectivity
// check: short-term credentials, the role tiebreaker, the
// peer-reflexive priority of the local base, and USE-CANDIDATE when
// this check nominates.
func (a *Agent) buildCheckRequest(entry *stunEntry) (*stun.Message, error) {
	pair := entry.pair

	isIPv6 := pair.Remote.Addr.IP.Is6()
	if pair.Local != nil {
		isIPv6 = pair.Local.Addr.IP.Is6()
	}

	setters := []stun.Setter{
		stun.NewTransactionIDSetter(entry.transactionID),
		stun.BindingRequest,
		stun.NewUsername(a.remote.Ufrag + ":" + a.local.Ufrag),
		PriorityAttr(computePriority(CandidateTypePeerReflexive, ComponentRTP, isIPv6)),
		AttrControl{Role: a.role, Tiebreaker: a.tieBreaker},
	}
	if a.role == RoleControlling && pair.nominationRequested {
		setters = append(setters, UseCandidate())
	}
	setters = append(setters,
		stun.NewShortTermIntegrity(a.remote.Pwd),
		stun.Fingerprint,
	)

	return stun.Build(setters...)
}

// transmit emits one entry's scheduled request.
func (a *Agent) transmit(entry *stunEntry, now time.Time) {
	var msg *stun.Message
	var err error

	switch entry.kind {
	case entryTypeCheck:
		if a.role == RoleUnknown {
			return
		}
		msg, err = a.buildCheckRequest(entry)
	case entryTypeServer:
		msg, err = stun.Build(
			stun.NewTransactionIDSetter(entry.transactionID),
			stun.BindingRequest,
			stun.NewSoftware(softwareName),
			stun.Fingerprint,
		)
	case entryTypeRelay:
		msg, err = entry.turn.buildAllocate(entry.transactionID)
	}
	if err != nil {
		a.log.Warnf("Failed to build request for %s entry to %s: %v", entry.kind, entry.record, err)
		a.failEntry(entry)

		return
	}

	if err := a.sendStunTo(msg, entry.record, entry.relay, now); err != nil {
		a.log.Tracef("Send to %s failed: %v", entry.record, err)
		a.failEntry(entry)
	}
}

// sendStunTo emits a STUN message directly or through a relay entry's
// allocation.
func (a *Agent) sendStunTo(msg *stun.Message, dst AddressRecord, via *stunEntry, now time.Time) error {
	if via != nil {
		return a.relaySend(via, dst, msg.Raw, now)
	}

	return a.writeTo(msg.Raw, dst)
}

func (a *Agent) failEntry(entry *stunEntry) {
	entry.fail()
	if entry.pair != nil && entry.pair.state != CandidatePairStateSucceeded {
		entry.pair.state = CandidatePairStateFailed
	}
	if entry.kind != entryTypeCheck {
		a.updateGatheringState()
	}
}

// keepalive emits the periodic traffic of a succeeded entry: a Binding
// indication towards peers and STUN servers, a Refresh with a fresh
// transaction id towards TURN servers.
func (a *Agent) keepalive(entry *stunEntry, now time.Time) {
	switch entry.kind {
	case entryTypeCheck, entryTypeServer:
		msg, err := stun.Build(
			stun.NewTransactionIDSetter(stun.NewTransactionID()),
			stun.NewType(stun.MethodBinding, stun.ClassIndication),
			stun.Fingerprint,
		)
		if err != nil {
			a.log.Warnf("Failed to build keepalive: %v", err)

			return
		}
		if err := a.sendStunTo(msg, entry.record, entry.relay, now); err != nil {
			a.log.Tracef("Keepalive to %s failed: %v", entry.record, err)
		}
	case entryTypeRelay:
		entry.transactionID = stun.NewTransactionID()
		msg, err := entry.turn.buildRefresh(entry.transactionID)
		if err != nil {
			a.log.Warnf("Failed to build refresh: %v", err)

			return
		}
		if err := a.writeTo(msg.Raw, entry.record); err != nil {
			a.log.Tracef("Refresh to %s failed: %v", entry.record, err)
		}
	}
}

// bookkeeping advances every entry's state machine and returns the
// next wake-up deadline, bounded by the 10 second ceiling.
func (a *Agent) bookkeeping(now time.Time) time.Time { //nolint:cyclop
	next := now.Add(maxBookkeepingInterval)
	selected := a.selectedEntry.Load()

	for _, entry := range a.entries {
		// Succeeded entries with an ongoing reason to transmit are moved
		// onto the keepalive schedule: allocations, server bindings, and
		// the selected check. The armed flag debounces rearming and lets
		// the send fast path restart the cadence.
		if entry.state == entryStateSucceeded || entry.state == entryStateSucceededKeepalive {
			if entry.kind != entryTypeCheck || entry == selected {
				period := a.keepalivePeriod
				if entry.kind == entryTypeRelay {
					period = turnRefreshPeriod
				}
				a.armKeepalive(entry, now, period)
			}
		}

		if entry.nextTransmission.IsZero() {
			continue
		}
		if entry.nextTransmission.After(now) {
			if entry.nextTransmission.Before(next) {
				next = entry.nextTransmission
			}

			continue
		}

		switch entry.state {
		case entryStatePending:
			if entry.retransmissions < 0 {
				a.log.Infof("Transaction to %s timed out (%s entry)", entry.record, entry.kind)
				a.failEntry(entry)

				continue
			}

			a.transmit(entry, now)
			if entry.state != entryStatePending {
				continue
			}
			entry.retransmissions--
			entry.nextTransmission = now.Add(entry.retransmissionTimeout)
			entry.retransmissionTimeout *= 2

		case entryStateSucceededKeepalive:
			a.keepalive(entry, now)
			period := a.keepalivePeriod
			if entry.kind == entryTypeRelay {
				period = turnRefreshPeriod
			}
			entry.nextTransmission = now.Add(period)

		case entryStateIdle, entryStateCancelled, entryStateFailed, entryStateSucceeded:
			entry.nextTransmission = time.Time{}
		}

		if !entry.nextTransmission.IsZero() && entry.nextTransmission.Before(next) {
			next = entry.nextTransmission
		}
	}

	for _, entry := range a.entries {
		if entry.kind == entryTypeRelay && entry.state == entryStateSucceededKeepalive {
			a.refreshPeerState(entry, now)
		}
	}

	a.selectPair(now)

	// The pair scan may have armed new transmissions (nominations,
	// triggered checks); fold them into the deadline.
	for _, entry := range a.entries {
		if !entry.nextTransmission.IsZero() && entry.nextTransmission.Before(next) {
			next = entry.nextTransmission
		}
	}

	if !a.failTime.IsZero() && a.failTime.Before(next) {
		next = a.failTime
	}

	return next
}

// selectPair scans the ordered pairs: the first nominated pair becomes
// the selected pair and completes the session; the best succeeded pair
// is selected tentatively and, on the controlling side, nominated.
// Lower-priority pending checks are frozen by the controlling side
// once a higher-priority pair succeeded.
func (a *Agent) selectPair(now time.Time) { //nolint:cyclop
	if a.connectionState == ConnectionStateFailed {
		return
	}

	var nominated, succeeded *CandidatePair
	for _, pair := range a.orderedPairs {
		if pair.state != CandidatePairStateSucceeded {
			continue
		}
		if succeeded == nil {
			succeeded = pair
		}
		if pair.nominated {
			nominated = pair

			break
		}
	}

	switch {
	case nominated != nil:
		a.adoptSelectedPair(nominated, now)
		if a.connectionState == ConnectionStateConnecting {
			a.setConnectionState(ConnectionStateConnected)
		}
		if a.connectionState == ConnectionStateConnected {
			a.setConnectionState(ConnectionStateCompleted)
		}

	case succeeded != nil:
		a.adoptSelectedPair(succeeded, now)
		if a.connectionState == ConnectionStateConnecting {
			a.setConnectionState(ConnectionStateConnected)
		}

		if a.role == RoleControlling && !succeeded.nominationRequested {
			a.nominatePair(succeeded, now)
		}
	}

	if succeeded != nil && a.role == RoleControlling {
		below := false
		for _, pair := range a.orderedPairs {
			if pair == succeeded {
				below = true

				continue
			}
			if below && pair.state == CandidatePairStatePending {
				pair.state = CandidatePairStateFrozen
				if entry := a.entryForPair(pair); entry != nil {
					entry.cancel()
				}
			}
		}
	}

	a.runFailWatchdog(succeeded != nil, now)
}

func (a *Agent) adoptSelectedPair(pair *CandidatePair, now time.Time) {
	entry := a.entryForPair(pair)
	if entry == nil {
		return
	}

	if a.selectedPair != pair {
		a.log.Infof("Selected pair: %s", pair)
		a.selectedPair = pair
		a.selectedEntry.Store(entry)
	}

	if entry.state == entryStateSucceeded || entry.state == entryStateSucceededKeepalive {
		a.armKeepalive(entry, now, a.keepalivePeriod)
	}
}

// nominatePair re-issues the pair's check with USE-CANDIDATE.
func (a *Agent) nominatePair(pair *CandidatePair, now time.Time) {
	entry := a.entryForPair(pair)
	if entry == nil {
		return
	}

	a.log.Debugf("Requesting nomination of %s", pair)
	pair.nominationRequested = true
	entry.reset()
	a.armTransmission(entry, now, 0)
}

// runFailWatchdog arms the session fail deadline while no pair has
// succeeded and fires it once passed.
func (a *Agent) runFailWatchdog(anySucceeded bool, now time.Time) {
	if anySucceeded || a.remote.Ufrag == "" {
		a.failTime = time.Time{}

		return
	}

	if a.failTime.IsZero() {
		anyPending := false
		for _, pair := range a.pairs {
			if pair.state == CandidatePairStatePending {
				anyPending = true

				break
			}
		}

		if a.remote.Finished && !anyPending {
			a.failTime = now
		} else {
			a.failTime = now.Add(a.failTimeout)
		}
	}

	if !now.Before(a.failTime) {
		a.log.Info("Connectivity checks failed")
		for _, entry := range a.entries {
			if entry.kind == entryTypeCheck && !entry.isTerminal() {
				entry.cancel()
			}
		}
		a.failTime = time.Time{}
		a.setConnectionState(ConnectionStateFailed)
	}
}

// handleBindingRequest processes an inbound connectivity check,
// including role conflicts, peer-reflexive discovery, nomination and
// the triggered re-check.
func (a *Agent) handleBindingRequest(msg *stun.Message, src AddressRecord, via *stunEntry, now time.Time) { //nolint:cyclop
	var username stun.Username
	if err := username.GetFrom(msg); err != nil {
		a.log.Debugf("Dropping Binding request without USERNAME from %s", src)

		return
	}
	if len(username) > maxUsernameLen || !strings.HasPrefix(string(username), a.local.Ufrag+":") {
		a.log.Debugf("Dropping Binding request with unexpected USERNAME from %s", src)

		return
	}

	if !stunx.HasIntegrity(msg) {
		a.log.Debugf("Dropping unauthenticated Binding request from %s", src)

		return
	}
	if err := stunx.CheckSHA1(msg, stunx.ShortTermKey(a.local.Pwd)); err != nil {
		a.log.Debugf("Dropping Binding request from %s: %v", src, err)

		return
	}

	hasControlling := msg.Contains(stun.AttrICEControlling)
	hasControlled := msg.Contains(stun.AttrICEControlled)
	if hasControlling == hasControlled {
		a.sendBindingError(msg, src, via, stun.CodeBadRequest, now)

		return
	}

	useCandidate := UseCandidate().IsSet(msg)
	if useCandidate && !hasControlling {
		a.sendBindingError(msg, src, via, stun.CodeBadRequest, now)

		return
	}

	var control AttrControl
	if err := control.GetFrom(msg); err != nil {
		a.sendBindingError(msg, src, via, stun.CodeBadRequest, now)

		return
	}

	switch {
	case a.role == RoleControlling && hasControlling:
		// Both controlling: the larger tiebreaker keeps the role.
		if a.tieBreaker >= control.Tiebreaker {
			a.sendBindingError(msg, src, via, stun.CodeRoleConflict, now)

			return
		}
		a.setRole(RoleControlled)

	case a.role == RoleControlled && hasControlled:
		if a.tieBreaker >= control.Tiebreaker {
			a.sendBindingError(msg, src, via, stun.CodeRoleConflict, now)

			return
		}
		a.setRole(RoleControlling)

	case a.role == RoleUnknown:
		if hasControlling {
			a.setRole(RoleControlled)
		} else {
			a.setRole(RoleControlling)
		}
	}

	remote := a.remote.findByAddr(src)
	if remote == nil {
		remote = a.synthesizePeerReflexive(msg, src)
		if remote == nil {
			return
		}
	}

	pair := a.pairForRequest(remote, via)
	if pair == nil {
		return
	}

	if useCandidate {
		if pair.state == CandidatePairStateSucceeded {
			pair.nominated = true
		} else {
			pair.nominationRequested = true
		}
	}

	a.sendBindingSuccess(msg, src, via, now)

	// Triggered check: answer an inbound check with our own, promptly.
	if entry := a.entryForPair(pair); entry != nil && entry.state == entryStatePending {
		if entry.nextTransmission.Sub(now) > stunPacingTime {
			a.armTransmission(entry, now, 0)
		}
	}
}

// synthesizePeerReflexive creates a remote peer-reflexive candidate
// from an unsolicited request's source, with the PRIORITY it carried.
func (a *Agent) synthesizePeerReflexive(msg *stun.Message, src AddressRecord) *Candidate {
	var priority PriorityAttr
	if err := priority.GetFrom(msg); err != nil {
		priority = PriorityAttr(computePriority(CandidateTypePeerReflexive, ComponentRTP, src.IP.Is6()))
	}

	cand := &Candidate{
		ID:         candidateID(),
		Type:       CandidateTypePeerReflexive,
		Component:  ComponentRTP,
		Foundation: computeFoundation(CandidateTypePeerReflexive, src.IP.String()),
		Priority:   uint32(priority),
		Addr:       src,
		Host:       src.IP.String(),
		Service:    strconv.Itoa(int(src.Port)),
	}

	a.log.Debugf("Adding peer-reflexive remote candidate %s", cand)
	if err := a.addRemoteCandidate(cand); err != nil {
		a.log.Warnf("Failed to add peer-reflexive candidate: %v", err)

		return nil
	}

	return cand
}

func (a *Agent) pairForRequest(remote *Candidate, via *stunEntry) *CandidatePair {
	for _, entry := range a.entries {
		if entry.kind == entryTypeCheck && entry.relay == via && entry.pair.Remote == remote {
			return entry.pair
		}
	}

	var local *Candidate
	if via != nil {
		local = via.candidate
	}

	pair, err := a.createPair(local, remote, via)
	if err != nil {
		a.log.Warnf("Failed to pair inbound check: %v", err)

		return nil
	}

	return pair
}

// handleCheckResponse processes the response to one of our own checks.
func (a *Agent) handleCheckResponse(entry *stunEntry, msg *stun.Message, src AddressRecord, now time.Time) { //nolint:cyclop
	pair := entry.pair

	if msg.Type.Class == stun.ClassErrorResponse {
		var code stun.ErrorCodeAttribute
		if err := code.GetFrom(msg); err != nil {
			a.failEntry(entry)

			return
		}

		if code.Code == stun.CodeRoleConflict {
			a.handleRoleConflictResponse(entry, msg, now)

			return
		}

		a.log.Infof("Check to %s failed: %d %s", entry.record, code.Code, code.Reason)
		a.failEntry(entry)

		return
	}

	if entry.state != entryStatePending {
		return
	}

	if !stunx.HasIntegrity(msg) {
		a.log.Debugf("Dropping unauthenticated check response from %s", src)

		return
	}
	if err := stunx.CheckSHA1(msg, stunx.ShortTermKey(a.remote.Pwd)); err != nil {
		// Local validation failure: fail the entry without reporting a
		// remote protocol violation.
		a.log.Debugf("Check response from %s failed integrity", src)
		a.failEntry(entry)

		return
	}

	// A response from an address other than the check's destination
	// indicates a symmetric NAT rewriting the path; discard.
	if !src.equal(entry.record, true) {
		a.log.Debugf("Discarding response from %s, expected %s", src, entry.record)

		return
	}

	entry.state = entryStateSucceeded
	pair.state = CandidatePairStateSucceeded
	a.log.Debugf("Check to %s succeeded", entry.record)

	if mapped, ok := getXORAddress(msg, stun.AttrXORMappedAddress); ok {
		a.adoptMappedAddress(pair, mapped)
	}

	if pair.nominationRequested {
		pair.nominated = true
	}
}

// adoptMappedAddress fills the pair's local side from the mapped
// address of a success response, synthesizing a local peer-reflexive
// candidate when the base was previously unknown.
func (a *Agent) adoptMappedAddress(pair *CandidatePair, mapped AddressRecord) {
	if pair.Local != nil {
		return
	}

	local := a.local.findByAddr(mapped)
	if local == nil {
		cand, err := a.addLocalCandidate(CandidateTypePeerReflexive, mapped)
		if err != nil {
			a.log.Debugf("Ignoring mapped address %s: %v", mapped, err)

			return
		}
		local = cand
	}

	pair.Local = local
	pair.updatePriority(a.role == RoleControlling)
	a.sortPairs()
}

// handleRoleConflictResponse reacts to a 487: adopt the role dictated
// by the attribute we sent, regenerate the tiebreaker, and retry the
// check immediately.
func (a *Agent) handleRoleConflictResponse(entry *stunEntry, msg *stun.Message, now time.Time) {
	if stunx.HasIntegrity(msg) {
		if err := stunx.CheckSHA1(msg, stunx.ShortTermKey(a.remote.Pwd)); err != nil {
			a.log.Debugf("Dropping role conflict response failing integrity")

			return
		}
	}

	newRole := RoleControlled
	if a.role == RoleControlled {
		newRole = RoleControlling
	}

	a.log.Infof("Role conflict: switching to %s", newRole)
	a.tieBreaker = generateTieBreaker()
	a.setRole(newRole)

	entry.reset()
	a.armTransmission(entry, now, 0)
}

// sendBindingSuccess answers a valid inbound check with the source's
// reflexive address.
func (a *Agent) sendBindingSuccess(msg *stun.Message, src AddressRecord, via *stunEntry, now time.Time) {
	out, err := stun.Build(
		stun.NewTransactionIDSetter(msg.TransactionID),
		stun.BindingSuccess,
		&stun.XORMappedAddress{IP: src.IP.AsSlice(), Port: int(src.Port)},
		stun.NewShortTermIntegrity(a.local.Pwd),
		stun.Fingerprint,
	)
	if err != nil {
		a.log.Warnf("Failed to build Binding success: %v", err)

		return
	}

	if err := a.sendStunTo(out, src, via, now); err != nil {
		a.log.Tracef("Failed to send Binding success to %s: %v", src, err)
	}
}

func (a *Agent) sendBindingError(msg *stun.Message, src AddressRecord, via *stunEntry, code stun.ErrorCode, now time.Time) {
	setters := []stun.Setter{
		stun.NewTransactionIDSetter(msg.TransactionID),
		stun.BindingError,
		code,
	}
	if code == stun.CodeRoleConflict {
		setters = append(setters, stun.NewShortTermIntegrity(a.local.Pwd))
	}
	setters = append(setters, stun.Fingerprint)

	out, err := stun.Build(setters...)
	if err != nil {
		a.log.Warnf("Failed to build Binding error: %v", err)

		return
	}

	if err := a.sendStunTo(out, src, via, now); err != nil {
		a.log.Tracef("Failed to send Binding error to %s: %v", src, err)
	}
}
