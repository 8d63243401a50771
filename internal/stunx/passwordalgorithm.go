// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package stunx

import (
	"encoding/binary"
	"errors"

	"github.com/pion/stun/v3"
)

var errBadAlgorithmEncoding = errors.New("malformed password algorithm attribute")

// PasswordAlgorithm is an RFC 8489 password algorithm number.
type PasswordAlgorithm uint16

// Password algorithms from the IANA registry.
const (
	PasswordAlgorithmMD5    PasswordAlgorithm = 0x0001
	PasswordAlgorithmSHA256 PasswordAlgorithm = 0x0002
)

func (a PasswordAlgorithm) String() string {
	switch a {
	case PasswordAlgorithmMD5:
		return "MD5"
	case PasswordAlgorithmSHA256:
		return "SHA-256"
	default:
		return "unknown"
	}
}

// PasswordAlgorithmAttr is the PASSWORD-ALGORITHM attribute: the
// algorithm the client selected for its long-term key.
type PasswordAlgorithmAttr struct {
	Algorithm  PasswordAlgorithm
	Parameters []byte
}

// AddTo adds PASSWORD-ALGORITHM to the message.
func (p PasswordAlgorithmAttr) AddTo(m *stun.Message) error {
	m.Add(stun.AttrPasswordAlgorithm, marshalAlgorithm(p))

	return nil
}

// GetFrom decodes PASSWORD-ALGORITHM from the message.
func (p *PasswordAlgorithmAttr) GetFrom(m *stun.Message) error {
	v, err := m.Get(stun.AttrPasswordAlgorithm)
	if err != nil {
		return err
	}

	attr, _, ok := unmarshalAlgorithm(v)
	if !ok {
		return errBadAlgorithmEncoding
	}
	*p = attr

	return nil
}

// PasswordAlgorithms is the PASSWORD-ALGORITHMS attribute: the ordered
// set of algorithms the server accepts, sent with a 401 challenge.
type PasswordAlgorithms []PasswordAlgorithmAttr

// AddTo adds PASSWORD-ALGORITHMS to the message.
func (p PasswordAlgorithms) AddTo(m *stun.Message) error {
	var v []byte
	for _, alg := range p {
		v = append(v, marshalAlgorithm(alg)...)
	}
	m.Add(stun.AttrPasswordAlgorithms, v)

	return nil
}

// GetFrom decodes PASSWORD-ALGORITHMS from the message.
func (p *PasswordAlgorithms) GetFrom(m *stun.Message) error {
	v, err := m.Get(stun.AttrPasswordAlgorithms)
	if err != nil {
		return err
	}

	*p = (*p)[:0]
	for len(v) > 0 {
		alg, n, ok := unmarshalAlgorithm(v)
		if !ok {
			return errBadAlgorithmEncoding
		}
		*p = append(*p, alg)
		v = v[n:]
	}

	return nil
}

// Supports reports whether the algorithm set contains alg.
func (p PasswordAlgorithms) Supports(alg PasswordAlgorithm) bool {
	for _, a := range p {
		if a.Algorithm == alg {
			return true
		}
	}

	return false
}

// Each algorithm entry is 2 bytes of number, 2 bytes of parameter
// length, then parameters padded to 4 bytes.
func marshalAlgorithm(alg PasswordAlgorithmAttr) []byte {
	v := make([]byte, attributeHeaderSize+len(alg.Parameters)+attrPadding(len(alg.Parameters)))
	binary.BigEndian.PutUint16(v[0:2], uint16(alg.Algorithm))
	binary.BigEndian.PutUint16(v[2:4], uint16(len(alg.Parameters))) //nolint:gosec // G115
	copy(v[attributeHeaderSize:], alg.Parameters)

	return v
}

func unmarshalAlgorithm(v []byte) (PasswordAlgorithmAttr, int, bool) {
	if len(v) < attributeHeaderSize {
		return PasswordAlgorithmAttr{}, 0, false
	}

	paramLen := int(binary.BigEndian.Uint16(v[2:4]))
	total := attributeHeaderSize + paramLen + attrPadding(paramLen)
	if len(v) < total {
		return PasswordAlgorithmAttr{}, 0, false
	}

	attr := PasswordAlgorithmAttr{
		Algorithm: PasswordAlgorithm(binary.BigEndian.Uint16(v[0:2])),
	}
	if paramLen > 0 {
		attr.Parameters = append(attr.Parameters, v[attributeHeaderSize:attributeHeaderSize+paramLen]...)
	}

	return attr, total, true
}
