// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package proto

import (
	"encoding/binary"
	"time"

	"github.com/pion/stun/v3"
)

// ProtoUDP is the protocol number carried in REQUESTED-TRANSPORT.
const ProtoUDP = 17

// RequestedTransport is the REQUESTED-TRANSPORT attribute.
type RequestedTransport struct {
	Protocol byte
}

const requestedTransportSize = 4 // 1 byte protocol, 3 bytes RFFU

// AddTo adds REQUESTED-TRANSPORT to the message.
func (r RequestedTransport) AddTo(m *stun.Message) error {
	v := make([]byte, requestedTransportSize)
	v[0] = r.Protocol
	m.Add(stun.AttrRequestedTransport, v)

	return nil
}

// GetFrom decodes REQUESTED-TRANSPORT from the message.
func (r *RequestedTransport) GetFrom(m *stun.Message) error {
	v, err := m.Get(stun.AttrRequestedTransport)
	if err != nil {
		return err
	}
	if err = stun.CheckSize(stun.AttrRequestedTransport, len(v), requestedTransportSize); err != nil {
		return err
	}
	r.Protocol = v[0]

	return nil
}

// Lifetime is the LIFETIME attribute, whole seconds on the wire.
type Lifetime struct {
	time.Duration
}

const lifetimeSize = 4

// AddTo adds LIFETIME to the message.
func (l Lifetime) AddTo(m *stun.Message) error {
	v := make([]byte, lifetimeSize)
	binary.BigEndian.PutUint32(v, uint32(l.Seconds())) //nolint:gosec // G115: lifetimes are minutes-scale
	m.Add(stun.AttrLifetime, v)

	return nil
}

// GetFrom decodes LIFETIME from the message.
func (l *Lifetime) GetFrom(m *stun.Message) error {
	v, err := m.Get(stun.AttrLifetime)
	if err != nil {
		return err
	}
	if err = stun.CheckSize(stun.AttrLifetime, len(v), lifetimeSize); err != nil {
		return err
	}
	l.Duration = time.Duration(binary.BigEndian.Uint32(v)) * time.Second

	return nil
}

// DontFragment is the zero-length DONT-FRAGMENT attribute.
type DontFragment struct{}

// AddTo adds DONT-FRAGMENT to the message.
func (DontFragment) AddTo(m *stun.Message) error {
	m.Add(stun.AttrDontFragment, nil)

	return nil
}

// IsSet reports whether the message carries DONT-FRAGMENT.
func (DontFragment) IsSet(m *stun.Message) bool {
	_, err := m.Get(stun.AttrDontFragment)

	return err == nil
}

// Data is the DATA attribute: an opaque datagram payload.
type Data []byte

// AddTo adds DATA to the message.
func (d Data) AddTo(m *stun.Message) error {
	m.Add(stun.AttrData, d)

	return nil
}

// GetFrom decodes DATA from the message.
func (d *Data) GetFrom(m *stun.Message) error {
	v, err := m.Get(stun.AttrData)
	if err != nil {
		return err
	}
	*d = append((*d)[:0], v...)

	return nil
}
