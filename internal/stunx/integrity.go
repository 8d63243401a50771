// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package stunx

import (
	"crypto/hmac"
	"crypto/md5"  //nolint:gosec // G501: long-term credential key derivation per RFC 8489
	"crypto/sha1" //nolint:gosec // G505: MESSAGE-INTEGRITY per RFC 8489
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/pion/stun/v3"
)

const sha256Size = 32

// ShortTermKey derives the short-term credential key: the password as
// raw bytes.
func ShortTermKey(password string) []byte {
	return []byte(password)
}

// LongTermKey derives the long-term SHA-1 integrity key,
// MD5(username ":" realm ":" password).
func LongTermKey(username, realm, password string) []byte {
	h := md5.New() //nolint:gosec // G401
	fmt.Fprintf(h, "%s:%s:%s", username, realm, password)

	return h.Sum(nil)
}

// LongTermKeySHA256 derives the long-term SHA-256 integrity key,
// SHA-256(username ":" realm ":" password).
func LongTermKeySHA256(username, realm, password string) []byte {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%s:%s", username, realm, password)

	return h.Sum(nil)
}

// MessageIntegritySHA256 is the HMAC key for the
// MESSAGE-INTEGRITY-SHA256 attribute.
type MessageIntegritySHA256 []byte

// NewLongTermIntegritySHA256 returns a MESSAGE-INTEGRITY-SHA256 setter
// for long-term credentials.
func NewLongTermIntegritySHA256(username, realm, password string) MessageIntegritySHA256 {
	return MessageIntegritySHA256(LongTermKeySHA256(username, realm, password))
}

// AddTo appends MESSAGE-INTEGRITY-SHA256 to the message. The HMAC is
// computed with the header length field rewritten to point past the
// integrity attribute, before the attribute itself exists in the
// buffer.
func (i MessageIntegritySHA256) AddTo(m *stun.Message) error {
	for _, attr := range m.Attributes {
		if attr.Type == stun.AttrFingerprint {
			return ErrFingerprintBeforeIntegrity
		}
	}

	length := m.Length
	m.Length += sha256Size + attributeHeaderSize
	m.WriteLength()
	v := hmacSHA256(i, m.Raw)
	m.Length = length
	m.WriteLength()
	m.Add(stun.AttrMessageIntegritySHA256, v)

	return nil
}

// Check verifies MESSAGE-INTEGRITY-SHA256 on a parsed message. The
// received value may be truncated to 16, 20 or 32 bytes; the received
// length picks the comparison width. The comparison is constant time.
func (i MessageIntegritySHA256) Check(m *stun.Message) error {
	v, err := m.Get(stun.AttrMessageIntegritySHA256)
	if err != nil {
		return err
	}

	switch len(v) {
	case 16, 20, sha256Size:
	default:
		return ErrIntegrityMismatch
	}

	offset, ok := attrOffset(m, stun.AttrMessageIntegritySHA256)
	if !ok || offset > len(m.Raw) {
		return stun.ErrAttributeNotFound
	}

	raw := make([]byte, offset)
	copy(raw, m.Raw[:offset])
	binary.BigEndian.PutUint16(raw[2:4],
		uint16(offset-messageHeaderSize+attributeHeaderSize+len(v))) //nolint:gosec // G115: bounded by max datagram size

	expected := hmacSHA256(i, raw)
	if !hmac.Equal(expected[:len(v)], v) {
		return ErrIntegrityMismatch
	}

	return nil
}

// CheckSHA1 verifies a legacy MESSAGE-INTEGRITY attribute with the
// given key, excluding any trailing FINGERPRINT the same way.
func CheckSHA1(m *stun.Message, key []byte) error {
	v, err := m.Get(stun.AttrMessageIntegrity)
	if err != nil {
		return err
	}
	if len(v) != sha1.Size {
		return ErrIntegrityMismatch
	}

	offset, ok := attrOffset(m, stun.AttrMessageIntegrity)
	if !ok || offset > len(m.Raw) {
		return stun.ErrAttributeNotFound
	}

	raw := make([]byte, offset)
	copy(raw, m.Raw[:offset])
	binary.BigEndian.PutUint16(raw[2:4],
		uint16(offset-messageHeaderSize+attributeHeaderSize+sha1.Size)) //nolint:gosec // G115

	mac := hmac.New(sha1.New, key)
	mac.Write(raw)
	if !hmac.Equal(mac.Sum(nil), v) {
		return ErrIntegrityMismatch
	}

	return nil
}

func hmacSHA256(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)

	return mac.Sum(nil)
}
