// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package icelite

import (
	"encoding/binary"

	"github.com/pion/stun/v3"
)

// tiebreakerSize is common for both ICE-CONTROLLED and ICE-CONTROLLING.
const tiebreakerSize = 8 // 64 bit

// AttrControlled represents the ICE-CONTROLLED attribute.
type AttrControlled uint64

// AddTo adds ICE-CONTROLLED to the message as the tiebreaker value.
func (c AttrControlled) AddTo(m *stun.Message) error {
	v := make([]byte, tiebreakerSize)
	binary.BigEndian.PutUint64(v, uint64(c))
	m.Add(stun.AttrICEControlled, v)

	return nil
}

// GetFrom decodes ICE-CONTROLLED from the message.
func (c *AttrControlled) GetFrom(m *stun.Message) error {
	v, err := m.Get(stun.AttrICEControlled)
	if err != nil {
		return err
	}
	if err = stun.CheckSize(stun.AttrICEControlled, len(v), tiebreakerSize); err != nil {
		return err
	}
	*c = AttrControlled(binary.BigEndian.Uint64(v))

	return nil
}

// AttrControlling represents the ICE-CONTROLLING attribute.
type AttrControlling uint64

// AddTo adds ICE-CONTROLLING to the message as the tiebreaker value.
func (c AttrControlling) AddTo(m *stun.Message) error {
	v := make([]byte, tiebreakerSize)
	binary.BigEndian.PutUint64(v, uint64(c))
	m.Add(stun.AttrICEControlling, v)

	return nil
}

// GetFrom decodes ICE-CONTROLLING from the message.
func (c *AttrControlling) GetFrom(m *stun.Message) error {
	v, err := m.Get(stun.AttrICEControlling)
	if err != nil {
		return err
	}
	if err = stun.CheckSize(stun.AttrICEControlling, len(v), tiebreakerSize); err != nil {
		return err
	}
	*c = AttrControlling(binary.BigEndian.Uint64(v))

	return nil
}

// AttrControl is a helper that decodes whichever role attribute the
// message carries.
type AttrControl struct {
	Role       Role
	Tiebreaker uint64
}

// AddTo adds the role attribute matching Role to the message.
func (c AttrControl) AddTo(m *stun.Message) error {
	if c.Role == RoleControlling {
		return AttrControlling(c.Tiebreaker).AddTo(m)
	}

	return AttrControlled(c.Tiebreaker).AddTo(m)
}

// GetFrom decodes ICE-CONTROLLING or ICE-CONTROLLED, whichever is
// present.
func (c *AttrControl) GetFrom(m *stun.Message) error {
	if m.Contains(stun.AttrICEControlling) {
		var attr AttrControlling
		if err := attr.GetFrom(m); err != nil {
			return err
		}
		c.Role = RoleControlling
		c.Tiebreaker = uint64(attr)

		return nil
	}
	if m.Contains(stun.AttrICEControlled) {
		var attr AttrControlled
		if err := attr.GetFrom(m); err != nil {
			return err
		}
		c.Role = RoleControlled
		c.Tiebreaker = uint64(attr)

		return nil
	}

	return stun.ErrAttributeNotFound
}
