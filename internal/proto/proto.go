// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package proto implements the TURN wire encodings of RFC 8656 used on
// top of pion/stun: the channel number space, ChannelData framing and
// the Allocate/Refresh attribute values.
package proto

import (
	"encoding/binary"
	"errors"

	"github.com/pion/stun/v3"
)

// Channel number range of RFC 8656 section 12.
const (
	MinChannelNumber uint16 = 0x4000
	MaxChannelNumber uint16 = 0x7FFF
)

var (
	// ErrInvalidChannelNumber means the value is outside 0x4000-0x7FFF.
	ErrInvalidChannelNumber = errors.New("channel number is out of range")

	// ErrBadChannelDataLength means the framed length disagrees with the
	// datagram size.
	ErrBadChannelDataLength = errors.New("invalid ChannelData length")
)

// ChannelNumber is the CHANNEL-NUMBER attribute.
type ChannelNumber uint16

// Valid reports whether the number lies in the allowed channel range.
func (c ChannelNumber) Valid() bool {
	return uint16(c) >= MinChannelNumber && uint16(c) <= MaxChannelNumber
}

const channelNumberSize = 4 // 2 byte number, 2 bytes RFFU

// AddTo adds CHANNEL-NUMBER to the message.
func (c ChannelNumber) AddTo(m *stun.Message) error {
	v := make([]byte, channelNumberSize)
	binary.BigEndian.PutUint16(v[:2], uint16(c))
	m.Add(stun.AttrChannelNumber, v)

	return nil
}

// GetFrom decodes CHANNEL-NUMBER from the message.
func (c *ChannelNumber) GetFrom(m *stun.Message) error {
	v, err := m.Get(stun.AttrChannelNumber)
	if err != nil {
		return err
	}
	if err = stun.CheckSize(stun.AttrChannelNumber, len(v), channelNumberSize); err != nil {
		return err
	}
	*c = ChannelNumber(binary.BigEndian.Uint16(v[:2]))

	return nil
}
