// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package proto

import "encoding/binary"

const channelDataHeaderSize = 4

// IsChannelData reports whether the datagram starts with a channel
// number: the first byte in 0x40-0x7F.
func IsChannelData(buf []byte) bool {
	return len(buf) >= channelDataHeaderSize && buf[0] >= 0x40 && buf[0] <= 0x7F
}

// EncodeChannelData frames payload as ChannelData: a 4-byte header of
// channel number and payload length, then the payload padded to a
// 4-byte boundary.
func EncodeChannelData(number ChannelNumber, payload []byte) []byte {
	padded := (len(payload) + 3) &^ 3
	out := make([]byte, channelDataHeaderSize+padded)
	binary.BigEndian.PutUint16(out[0:2], uint16(number))
	binary.BigEndian.PutUint16(out[2:4], uint16(len(payload))) //nolint:gosec // G115: UDP payload fits uint16
	copy(out[channelDataHeaderSize:], payload)

	return out
}

// DecodeChannelData strips the ChannelData header, returning the
// channel number and the unpadded payload.
func DecodeChannelData(buf []byte) (ChannelNumber, []byte, error) {
	if len(buf) < channelDataHeaderSize {
		return 0, nil, ErrBadChannelDataLength
	}

	number := ChannelNumber(binary.BigEndian.Uint16(buf[0:2]))
	if !number.Valid() {
		return 0, nil, ErrInvalidChannelNumber
	}

	length := int(binary.BigEndian.Uint16(buf[2:4]))
	if channelDataHeaderSize+length > len(buf) {
		return 0, nil, ErrBadChannelDataLength
	}

	return number, buf[channelDataHeaderSize : channelDataHeaderSize+length], nil
}
