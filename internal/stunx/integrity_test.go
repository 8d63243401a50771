// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package stunx

import (
	"encoding/binary"
	"encoding/hex"
	"hash/crc32"
	"testing"

	"github.com/pion/stun/v3"
	"github.com/stretchr/testify/require"
)

// sampleRequest is the RFC 5769 section 2.1 sample request: a Binding
// request with SOFTWARE, PRIORITY, ICE-CONTROLLED, USERNAME,
// MESSAGE-INTEGRITY and FINGERPRINT, short-term password
// "VOkJxbRl1RmTxUk/WvJxBt".
const sampleRequestHex = "000100582112a442b7e7a701bc34d686fa87dfae" +
	"802200105354554e207465737420636c69656e74" +
	"00240004" + "6e0001ff" +
	"80290008" + "932ff9b151263b36" +
	"00060009" + "6576746a3a68367659202020" +
	"00080014" + "9aeaa70cbfd8cb56781ef2b5b2d3f249c1b571a2" +
	"80280004" + "e57a3bcf"

const sampleRequestPassword = "VOkJxbRl1RmTxUk/WvJxBt"

func sampleRequest(t *testing.T) []byte {
	t.Helper()
	raw, err := hex.DecodeString(sampleRequestHex)
	require.NoError(t, err)

	return raw
}

func TestShortTermIntegrityVector(t *testing.T) {
	msg, err := ReadMessage(sampleRequest(t))
	require.NoError(t, err)

	require.True(t, HasIntegrity(msg))
	require.NoError(t, CheckSHA1(msg, ShortTermKey(sampleRequestPassword)))

	var username stun.Username
	require.NoError(t, username.GetFrom(msg))
	require.Equal(t, "evtj:h6vY", username.String())

	priority, err := msg.Get(stun.AttrPriority)
	require.NoError(t, err)
	require.Equal(t, uint32(0x6e0001ff), binary.BigEndian.Uint32(priority))

	controlled, err := msg.Get(stun.AttrICEControlled)
	require.NoError(t, err)
	require.Equal(t, uint64(0x932ff9b151263b36), binary.BigEndian.Uint64(controlled))

	require.Equal(t, [stun.TransactionIDSize]byte{
		0xb7, 0xe7, 0xa7, 0x01, 0xbc, 0x34, 0xd6, 0x86, 0xfa, 0x87, 0xdf, 0xae,
	}, msg.TransactionID)
}

// refreshFingerprint rewrites the trailing FINGERPRINT after a byte of
// the message was tampered with, so the parse-time fingerprint check
// still passes and the integrity failure is isolated.
func refreshFingerprint(raw []byte) {
	crc := crc32.ChecksumIEEE(raw[:len(raw)-8]) ^ 0x5354554e
	binary.BigEndian.PutUint32(raw[len(raw)-4:], crc)
}

func TestShortTermIntegrityTampered(t *testing.T) {
	raw := sampleRequest(t)

	// Flip one byte inside USERNAME.
	raw[0x44] ^= 0xff
	refreshFingerprint(raw)

	msg, err := ReadMessage(raw)
	require.NoError(t, err)

	require.True(t, HasIntegrity(msg))
	require.ErrorIs(t, CheckSHA1(msg, ShortTermKey(sampleRequestPassword)), ErrIntegrityMismatch)
}

func TestFingerprintMismatchRejected(t *testing.T) {
	raw := sampleRequest(t)
	raw[0x44] ^= 0xff // tamper without fixing the fingerprint

	_, err := ReadMessage(raw)
	require.Error(t, err)
}

func TestLengthMismatchRejected(t *testing.T) {
	raw := sampleRequest(t)
	_, err := ReadMessage(append(raw, 0x00))
	require.ErrorIs(t, err, ErrLengthMismatch)
}

const (
	longTermUsername = "マトリックス"
	longTermRealm    = "example.org"
	longTermPassword = "TheMatrIX"
	longTermNonce    = "obMatJos2AAACf//499k954d6OL34oL9FSTvy64sA"
)

func buildLongTermRequest(t *testing.T) *stun.Message {
	t.Helper()

	msg, err := stun.Build(
		stun.NewTransactionIDSetter([stun.TransactionIDSize]byte{
			0x78, 0xad, 0x34, 0x33, 0xc6, 0xad, 0x72, 0xc0, 0x29, 0xda, 0x41, 0x2e,
		}),
		stun.BindingRequest,
		NewUserhash(longTermUsername, longTermRealm),
		stun.NewUsername(longTermUsername),
		stun.NewRealm(longTermRealm),
		stun.NewNonce(longTermNonce),
		PasswordAlgorithmAttr{Algorithm: PasswordAlgorithmSHA256},
		NewLongTermIntegritySHA256(longTermUsername, longTermRealm, longTermPassword),
		stun.Fingerprint,
	)
	require.NoError(t, err)

	return msg
}

func TestLongTermIntegritySHA256RoundTrip(t *testing.T) {
	built := buildLongTermRequest(t)

	msg, err := ReadMessage(built.Raw)
	require.NoError(t, err)

	require.True(t, HasIntegrity(msg))
	key := NewLongTermIntegritySHA256(longTermUsername, longTermRealm, longTermPassword)
	require.NoError(t, key.Check(msg))

	var userhash Userhash
	require.NoError(t, userhash.GetFrom(msg))
	require.Equal(t, []byte(NewUserhash(longTermUsername, longTermRealm)), []byte(userhash))

	var algorithm PasswordAlgorithmAttr
	require.NoError(t, algorithm.GetFrom(msg))
	require.Equal(t, PasswordAlgorithmSHA256, algorithm.Algorithm)

	t.Run("WrongPassword", func(t *testing.T) {
		wrong := NewLongTermIntegritySHA256(longTermUsername, longTermRealm, "TheMatrIY")
		require.ErrorIs(t, wrong.Check(msg), ErrIntegrityMismatch)
	})

	t.Run("Tampered", func(t *testing.T) {
		raw := append([]byte{}, built.Raw...)
		raw[30] ^= 0x01
		refreshFingerprint(raw)

		tampered, err := ReadMessage(raw)
		require.NoError(t, err)
		require.True(t, HasIntegrity(tampered))
		require.ErrorIs(t, key.Check(tampered), ErrIntegrityMismatch)
	})
}

func TestAttributeOrdering(t *testing.T) {
	msg := buildLongTermRequest(t)

	last := msg.Attributes[len(msg.Attributes)-1]
	require.Equal(t, stun.AttrFingerprint, last.Type)
	penultimate := msg.Attributes[len(msg.Attributes)-2]
	require.Equal(t, stun.AttrMessageIntegritySHA256, penultimate.Type)

	// Appending integrity after a fingerprint must refuse.
	var integrity MessageIntegritySHA256 = NewLongTermIntegritySHA256("a", "b", "c")
	fingered, err := stun.Build(stun.TransactionID, stun.BindingRequest, stun.Fingerprint)
	require.NoError(t, err)
	require.ErrorIs(t, integrity.AddTo(fingered), ErrFingerprintBeforeIntegrity)
}

func TestUnknownRequiredAttributeRejected(t *testing.T) {
	msg, err := stun.Build(stun.TransactionID, stun.BindingRequest)
	require.NoError(t, err)
	msg.Add(stun.AttrType(0x7777), []byte{1, 2, 3, 4})

	_, err = ReadMessage(msg.Raw)
	require.ErrorIs(t, err, ErrUnknownRequiredAttribute)

	// The same attribute in the comprehension-optional range is skipped.
	msg, err = stun.Build(stun.TransactionID, stun.BindingRequest)
	require.NoError(t, err)
	msg.Add(stun.AttrType(0xF777), []byte{1, 2, 3, 4})

	_, err = ReadMessage(msg.Raw)
	require.NoError(t, err)
}

func TestKeyDerivations(t *testing.T) {
	// RFC 8489 long-term SHA-1 keys are MD5 over user:realm:pass.
	require.Equal(t,
		"8493fbc53ba582fb4c044c456bdc40eb",
		hexString(LongTermKey("user", "realm", "pass")))

	require.Len(t, LongTermKeySHA256("user", "realm", "pass"), 32)
	require.Equal(t, []byte("pwd"), ShortTermKey("pwd"))
}

func hexString(b []byte) string {
	return hex.EncodeToString(b)
}
