// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package icelite

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressRecordEqual(t *testing.T) {
	a := newAddressRecord(netip.MustParseAddr("10.0.0.1"), 1000)
	b := newAddressRecord(netip.MustParseAddr("10.0.0.1"), 2000)
	c := newAddressRecord(netip.MustParseAddr("10.0.0.2"), 1000)

	require.True(t, a.equal(a, true))
	require.False(t, a.equal(b, true))
	require.True(t, a.equal(b, false))
	require.False(t, a.equal(c, false))
}

func TestAddressRecordUnmapsIPv4(t *testing.T) {
	mapped, ok := addressRecordFromAddr(&net.UDPAddr{
		IP:   net.ParseIP("::ffff:192.0.2.7"),
		Port: 4242,
	})
	require.True(t, ok)

	plain, ok := parseAddressRecord("192.0.2.7", "4242")
	require.True(t, ok)

	require.Equal(t, plain, mapped)
	require.True(t, mapped.IP.Is4())
}

func TestLoopbackTranslation(t *testing.T) {
	local4 := newAddressRecord(netip.MustParseAddr("192.0.2.7"), 1)
	local6 := newAddressRecord(netip.MustParseAddr("2001:db8::1"), 1)
	locals := []AddressRecord{local4, local6}

	dst := newAddressRecord(netip.MustParseAddr("192.0.2.7"), 9000)
	got := loopbackTranslation(dst, locals)
	require.Equal(t, "127.0.0.1:9000", got.String())

	dst6 := newAddressRecord(netip.MustParseAddr("2001:db8::1"), 9000)
	got6 := loopbackTranslation(dst6, locals)
	require.Equal(t, netip.IPv6Loopback(), got6.IP)

	other := newAddressRecord(netip.MustParseAddr("198.51.100.1"), 9000)
	require.Equal(t, other, loopbackTranslation(other, locals))
}
