// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package stunx

import (
	"encoding/binary"
	"fmt"

	"github.com/pion/stun/v3"
)

// knownRequiredAttributes is the implemented comprehension-required
// set (0x0000-0x7FFF). A required attribute outside this set rejects
// the message; attributes in the optional range are skipped.
var knownRequiredAttributes = map[stun.AttrType]struct{}{ //nolint:gochecknoglobals
	stun.AttrMappedAddress:          {},
	stun.AttrUsername:               {},
	stun.AttrMessageIntegrity:       {},
	stun.AttrErrorCode:              {},
	stun.AttrUnknownAttributes:      {},
	stun.AttrChannelNumber:          {},
	stun.AttrLifetime:               {},
	stun.AttrXORPeerAddress:         {},
	stun.AttrData:                   {},
	stun.AttrRealm:                  {},
	stun.AttrNonce:                  {},
	stun.AttrXORRelayedAddress:      {},
	stun.AttrRequestedTransport:     {},
	stun.AttrDontFragment:           {},
	stun.AttrMessageIntegritySHA256: {},
	stun.AttrPasswordAlgorithm:      {},
	stun.AttrUserhash:               {},
	stun.AttrXORMappedAddress:       {},
	stun.AttrPriority:               {},
	stun.AttrUseCandidate:           {},
}

const optionalAttributeRangeStart = 0x8000

// ReadMessage parses and validates one inbound datagram: header
// length consistency, unknown required attributes, FINGERPRINT
// placement and value. Integrity is recorded but verified separately,
// once the credential key is known.
func ReadMessage(raw []byte) (*stun.Message, error) {
	if len(raw) < messageHeaderSize {
		return nil, ErrLengthMismatch
	}
	if length := int(binary.BigEndian.Uint16(raw[2:4])); length+messageHeaderSize != len(raw) {
		return nil, ErrLengthMismatch
	}

	m := &stun.Message{Raw: append([]byte{}, raw...)}
	if err := m.Decode(); err != nil {
		return nil, err
	}
	if err := validate(m); err != nil {
		return nil, err
	}

	return m, nil
}

func validate(m *stun.Message) error {
	for i, attr := range m.Attributes {
		if uint16(attr.Type) < optionalAttributeRangeStart {
			if _, ok := knownRequiredAttributes[attr.Type]; !ok {
				return fmt.Errorf("%w: 0x%04x", ErrUnknownRequiredAttribute, uint16(attr.Type))
			}
		}

		if attr.Type == stun.AttrFingerprint && i != len(m.Attributes)-1 {
			return ErrFingerprintNotLast
		}
	}

	if m.Contains(stun.AttrFingerprint) {
		if err := stun.Fingerprint.Check(m); err != nil {
			return err
		}
	}

	return nil
}
