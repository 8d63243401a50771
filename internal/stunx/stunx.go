// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package stunx extends pion/stun with the RFC 8489 long-term
// credential machinery the base package does not provide:
// MESSAGE-INTEGRITY-SHA256, USERHASH, PASSWORD-ALGORITHM(S) and the
// strict inbound validation used by the agent's ingress path.
package stunx

import (
	"errors"

	"github.com/pion/stun/v3"
)

const (
	messageHeaderSize   = 20
	attributeHeaderSize = 4
)

var (
	// ErrFingerprintBeforeIntegrity means a fingerprint attribute was
	// already appended when an integrity attribute was being added.
	ErrFingerprintBeforeIntegrity = errors.New("FINGERPRINT before MESSAGE-INTEGRITY attribute")

	// ErrIntegrityMismatch means a received integrity attribute did not
	// match the locally computed value. Entries treat this as a quiet
	// local validation failure rather than a remote protocol error.
	ErrIntegrityMismatch = errors.New("integrity check failed")

	// ErrUnknownRequiredAttribute means a comprehension-required
	// attribute outside the implemented set was present.
	ErrUnknownRequiredAttribute = errors.New("unknown comprehension-required attribute")

	// ErrLengthMismatch means the header length field disagrees with the
	// datagram size.
	ErrLengthMismatch = errors.New("message length does not match datagram size")

	// ErrFingerprintNotLast means attributes follow FINGERPRINT.
	ErrFingerprintNotLast = errors.New("FINGERPRINT is not the last attribute")
)

// HasIntegrity reports whether the message carries MESSAGE-INTEGRITY
// or MESSAGE-INTEGRITY-SHA256.
func HasIntegrity(m *stun.Message) bool {
	return m.Contains(stun.AttrMessageIntegrity) || m.Contains(stun.AttrMessageIntegritySHA256)
}

// attrOffset returns the byte offset of the first attribute of type t
// within m.Raw, and whether it was found.
func attrOffset(m *stun.Message, t stun.AttrType) (int, bool) {
	offset := messageHeaderSize
	for _, attr := range m.Attributes {
		if attr.Type == t {
			return offset, true
		}
		offset += attributeHeaderSize + int(attr.Length) + attrPadding(int(attr.Length))
	}

	return 0, false
}

func attrPadding(length int) int {
	return (attributeHeaderSize - length%attributeHeaderSize) % attributeHeaderSize
}
