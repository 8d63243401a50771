// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package icelite

import (
	"fmt"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnmarshalDescription(t *testing.T) {
	sdp := "v=0\r\n" +
		"a=ice-ufrag:EsAw\r\n" +
		"a=ice-pwd:P2uYro0UCOQ4zxjKXaWCBui1\r\n" +
		"a=candidate:1 1 UDP 2122317823 192.168.1.18 61087 typ host\r\n" +
		"a=candidate:2 1 TCP 2105524479 192.168.1.18 9 typ host\r\n" +
		"a=candidate:3 1 UDP 1694498815 203.0.113.9 61087 typ srflx raddr 192.168.1.18 rport 61087\r\n"

	desc, err := unmarshalDescription(sdp)
	require.NoError(t, err)
	require.Equal(t, "EsAw", desc.Ufrag)
	require.Equal(t, "P2uYro0UCOQ4zxjKXaWCBui1", desc.Pwd)
	// The TCP candidate is ignored, not an error.
	require.Len(t, desc.Candidates, 2)
	// Candidates stay ordered by decreasing priority.
	require.Equal(t, CandidateTypeHost, desc.Candidates[0].Type)
	require.Equal(t, CandidateTypeServerReflexive, desc.Candidates[1].Type)
}

func TestUnmarshalDescriptionMissingCredentials(t *testing.T) {
	_, err := unmarshalDescription("a=ice-pwd:something\r\n")
	require.ErrorIs(t, err, ErrRemoteUfragEmpty)

	_, err = unmarshalDescription("a=ice-ufrag:EsAw\r\n")
	require.ErrorIs(t, err, ErrRemotePwdEmpty)
}

func TestDescriptionMarshalRoundTrip(t *testing.T) {
	desc := &Description{Ufrag: "frag", Pwd: "password"}
	_, err := desc.addCandidate(newLocalCandidate(CandidateTypeHost, 1,
		newAddressRecord(netip.MustParseAddr("10.0.0.1"), 4000)))
	require.NoError(t, err)

	parsed, err := unmarshalDescription(desc.Marshal())
	require.NoError(t, err)
	require.Equal(t, desc.Ufrag, parsed.Ufrag)
	require.Equal(t, desc.Pwd, parsed.Pwd)
	require.Len(t, parsed.Candidates, 1)
}

func TestDescriptionDeduplicates(t *testing.T) {
	desc := &Description{}
	cand := newLocalCandidate(CandidateTypeHost, 1, newAddressRecord(netip.MustParseAddr("10.0.0.1"), 4000))
	dup := newLocalCandidate(CandidateTypeHost, 1, newAddressRecord(netip.MustParseAddr("10.0.0.1"), 4000))

	first, err := desc.addCandidate(cand)
	require.NoError(t, err)
	second, err := desc.addCandidate(dup)
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Len(t, desc.Candidates, 1)
}

func TestDescriptionCaps(t *testing.T) {
	desc := &Description{}

	for i := 0; i < maxHostCandidates; i++ {
		addr := newAddressRecord(netip.MustParseAddr(fmt.Sprintf("10.0.0.%d", i+1)), 4000)
		_, err := desc.addCandidate(newLocalCandidate(CandidateTypeHost, 1, addr))
		require.NoError(t, err)
	}

	extra := newLocalCandidate(CandidateTypeHost, 1, newAddressRecord(netip.MustParseAddr("10.0.1.1"), 4000))
	_, err := desc.addCandidate(extra)
	require.ErrorIs(t, err, ErrTooManyCandidates)

	// Other types still fit.
	_, err = desc.addCandidate(newLocalCandidate(CandidateTypeRelay, 1,
		newAddressRecord(netip.MustParseAddr("10.0.1.2"), 4000)))
	require.NoError(t, err)
}
