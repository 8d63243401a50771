// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package icelite

import (
	crand "crypto/rand"
	"encoding/binary"

	"github.com/pion/randutil"
)

const (
	runesAlpha = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

	lenUFrag = 16
	lenPwd   = 32
)

// Seeding random generators each time limits the number of generated
// sequences and causes collisions on low time accuracy environments.
// Use a global generator seeded once by crypto grade random.
var globalMathRandomGenerator = randutil.NewMathRandomGenerator() //nolint:gochecknoglobals

// generatePwd generates an ICE pwd. At least 128 bits of entropy per
// RFC 8445 section 5.4.
func generatePwd() (string, error) {
	return randutil.GenerateCryptoRandomString(lenPwd, runesAlpha)
}

// generateUFrag generates an ICE user fragment.
func generateUFrag() (string, error) {
	return randutil.GenerateCryptoRandomString(lenUFrag, runesAlpha)
}

// generateTieBreaker draws the 64-bit role tiebreaker from a CSPRNG,
// falling back to the global math generator if crypto/rand fails.
func generateTieBreaker() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return globalMathRandomGenerator.Uint64()
	}

	return binary.BigEndian.Uint64(b[:])
}
