// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package icelite

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	localPreferenceIPv6 uint16 = 65535
	localPreferenceIPv4 uint16 = 32767

	// ComponentRTP is the only component this agent negotiates.
	ComponentRTP uint16 = 1

	maxFoundationLen = 32
)

// Candidate is a potential local or remote transport address.
type Candidate struct {
	// ID is a unique identifier, never shared with the peer.
	ID string

	Type       CandidateType
	Component  uint16
	Foundation string
	Priority   uint32

	// Addr is the resolved transport address. It is the zero value for
	// remote candidates whose host did not parse as a numeric address.
	Addr AddressRecord

	// Host and Service carry the textual address as it appeared on the
	// candidate line.
	Host    string
	Service string

	// RelAddr and RelPort are the related address, included on
	// srflx/prflx/relay candidate lines.
	RelAddr string
	RelPort uint16
}

// newLocalCandidate fills foundation, priority and the textual form
// from a resolved address.
func newLocalCandidate(candidateType CandidateType, component uint16, addr AddressRecord) *Candidate {
	cand := &Candidate{
		ID:        candidateID(),
		Type:      candidateType,
		Component: component,
		Addr:      addr,
		Host:      addr.IP.String(),
		Service:   strconv.Itoa(int(addr.Port)),
	}
	cand.Foundation = computeFoundation(candidateType, cand.Host)
	cand.Priority = computePriority(candidateType, component, addr.IP.Is6())

	return cand
}

func candidateID() string {
	return uuid.NewString()
}

// computeFoundation groups candidates sharing a type and base address
// (RFC 8445 section 5.1.1.3), restricted to ice-chars.
func computeFoundation(candidateType CandidateType, base string) string {
	f := candidateType.String() + strings.NewReplacer(":", "", ".", "", "%", "").Replace(base)
	if len(f) > maxFoundationLen {
		f = f[:maxFoundationLen]
	}

	return f
}

// computePriority implements RFC 8445 section 5.1.2.1. IPv6 gets the
// higher local preference.
func computePriority(candidateType CandidateType, component uint16, isIPv6 bool) uint32 {
	localPreference := localPreferenceIPv4
	if isIPv6 {
		localPreference = localPreferenceIPv6
	}

	return uint32(candidateType.Preference())<<24 |
		uint32(localPreference)<<8 |
		uint32(256-component)
}

// Equal reports whether two candidates describe the same transport
// address of the same type.
func (c *Candidate) Equal(other *Candidate) bool {
	if c == nil || other == nil {
		return c == other
	}

	if c.Type != other.Type || c.Component != other.Component {
		return false
	}

	if c.Addr.isValid() && other.Addr.isValid() {
		return c.Addr.equal(other.Addr, true)
	}

	return c.Host == other.Host && c.Service == other.Service
}

// Marshal renders the candidate attribute value, without the "a=" SDP
// prefix.
func (c *Candidate) Marshal() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "candidate:%s %d UDP %d %s %s typ %s",
		c.Foundation, c.Component, c.Priority, c.Host, c.Service, c.Type)

	if c.RelAddr != "" {
		fmt.Fprintf(&sb, " raddr %s rport %d", c.RelAddr, c.RelPort)
	}

	return sb.String()
}

func (c *Candidate) String() string {
	return c.Marshal()
}

// UnmarshalCandidate parses an "a=candidate:" line. It returns
// ErrCandidateIgnored for candidates the agent never pairs: non-UDP
// transports and components other than 1.
func UnmarshalCandidate(raw string) (*Candidate, error) {
	line := strings.TrimSpace(raw)
	line = strings.TrimPrefix(line, "a=")
	if !strings.HasPrefix(line, "candidate:") {
		return nil, ErrInvalidCandidate
	}
	line = strings.TrimPrefix(line, "candidate:")

	fields := strings.Fields(line)
	if len(fields) < 8 || fields[6] != "typ" {
		return nil, ErrInvalidCandidate
	}

	component, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil {
		return nil, ErrInvalidCandidate
	}

	priority, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return nil, ErrInvalidCandidate
	}

	candidateType := candidateTypeFromString(fields[7])
	if candidateType == CandidateTypeUnspecified {
		return nil, ErrInvalidCandidate
	}

	if !strings.EqualFold(fields[2], "udp") {
		return nil, ErrCandidateIgnored
	}
	if uint16(component) != ComponentRTP {
		return nil, ErrCandidateIgnored
	}

	cand := &Candidate{
		ID:         candidateID(),
		Foundation: fields[0],
		Component:  uint16(component),
		Priority:   uint32(priority),
		Host:       fields[4],
		Service:    fields[5],
		Type:       candidateType,
	}

	if addr, ok := parseAddressRecord(cand.Host, cand.Service); ok {
		cand.Addr = addr
	}

	for i := 8; i+1 < len(fields); i += 2 {
		switch fields[i] {
		case "raddr":
			cand.RelAddr = fields[i+1]
		case "rport":
			if rport, err := strconv.ParseUint(fields[i+1], 10, 16); err == nil {
				cand.RelPort = uint16(rport)
			}
		}
	}

	return cand, nil
}
