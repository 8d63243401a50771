// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package icelite

import (
	"time"

	"github.com/pion/logging"
	"github.com/pion/stun/v3"
	"github.com/pion/transport/v3"
)

const (
	// stunKeepalivePeriod is the keepalive interval on succeeded
	// entries.
	stunKeepalivePeriod = 15 * time.Second

	// stunPacingTime is the minimum spacing between transmissions of
	// distinct entries.
	stunPacingTime = 50 * time.Millisecond

	// minStunRetransmissionTimeout is the initial retransmission
	// timeout; it doubles on every retransmission, uncapped.
	minStunRetransmissionTimeout = 500 * time.Millisecond

	// maxStunRetransmissionCount is the retransmission budget per
	// transaction.
	maxStunRetransmissionCount = 7

	// permissionLifetime is the TURN permission lifetime; refreshed at
	// half of it.
	permissionLifetime = 300 * time.Second

	// bindLifetime is the TURN channel binding lifetime; refreshed at
	// half of it.
	bindLifetime = 600 * time.Second

	// turnLifetime is the allocation lifetime requested on Allocate and
	// Refresh.
	turnLifetime = 600 * time.Second

	// turnRefreshPeriod is the allocation refresh interval.
	turnRefreshPeriod = turnLifetime / 2

	// iceFailTimeout is how long the agent keeps trying while no pair has
	// succeeded; the deadline is armed even while checks are still
	// pending, and any checks left pending when it passes are cancelled.
	iceFailTimeout = 30 * time.Second

	// maxBookkeepingInterval is the ceiling on the event loop's sleep.
	maxBookkeepingInterval = 10 * time.Second

	maxHostCandidates          = 8
	maxPeerReflexiveCandidates = 8
	maxCandidates              = 32
	maxCandidatePairs          = 64
	maxStunEntries             = 72
	maxServerEntries           = 2
	maxRelayEntries            = 2

	maxUsernameLen = 513

	receiveMTU = 8192

	softwareName = "icelite"
)

// AgentConfig collects the arguments to Agent construction into a
// single structure. It is consumed by NewAgent; the agent never
// retains caller-owned slices.
type AgentConfig struct {
	// Urls is the set of STUN and TURN servers to gather
	// server-reflexive and relayed candidates from. TURN credentials
	// are carried in the URI.
	Urls []*stun.URI

	// PortMin and PortMax are optional. Leave them 0 for the default
	// UDP port allocation strategy.
	PortMin uint16
	PortMax uint16

	// LocalUfrag and LocalPwd override the generated credentials. The
	// values MUST be unguessable, with at least 128 bits of entropy in
	// the password and 24 bits in the fragment.
	LocalUfrag string
	LocalPwd   string

	LoggerFactory logging.LoggerFactory

	// Net is the abstracted network interface; defaults to the standard
	// library backed implementation.
	Net transport.Net

	// InterfaceFilter whitelists interfaces considered for host
	// candidates.
	InterfaceFilter func(string) bool

	// IncludeLoopback adds loopback addresses to the host candidate
	// set.
	IncludeLoopback bool

	// EnableLoopbackTranslation rewrites destinations matching a local
	// host candidate to the loopback address of the same family, so two
	// agents on one machine connect even when the router drops
	// hairpinned traffic.
	EnableLoopbackTranslation bool

	// failTimeout and keepalivePeriod shrink protocol timers in tests.
	failTimeout     time.Duration
	keepalivePeriod time.Duration
}

// initWithDefaults populates an agent and falls back to defaults if
// fields are unset.
func (config *AgentConfig) initWithDefaults(agent *Agent) {
	agent.portMin = config.PortMin
	agent.portMax = config.PortMax
	agent.interfaceFilter = config.InterfaceFilter
	agent.includeLoopback = config.IncludeLoopback
	agent.enableLoopbackTranslation = config.EnableLoopbackTranslation

	agent.urls = make([]*stun.URI, len(config.Urls))
	copy(agent.urls, config.Urls)

	if config.failTimeout == 0 {
		agent.failTimeout = iceFailTimeout
	} else {
		agent.failTimeout = config.failTimeout
	}

	if config.keepalivePeriod == 0 {
		agent.keepalivePeriod = stunKeepalivePeriod
	} else {
		agent.keepalivePeriod = config.keepalivePeriod
	}
}
