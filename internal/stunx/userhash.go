// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package stunx

import (
	"crypto/sha256"
	"fmt"

	"github.com/pion/stun/v3"
)

// Userhash is the USERHASH attribute value,
// SHA-256(username ":" realm). This is the attribute codec only; the
// agent's TURN requests carry USERNAME.
type Userhash []byte

// NewUserhash computes the userhash for a username/realm pair.
func NewUserhash(username, realm string) Userhash {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%s", username, realm)

	return Userhash(h.Sum(nil))
}

// AddTo adds USERHASH to the message.
func (u Userhash) AddTo(m *stun.Message) error {
	m.Add(stun.AttrUserhash, u)

	return nil
}

// GetFrom decodes USERHASH from the message.
func (u *Userhash) GetFrom(m *stun.Message) error {
	v, err := m.Get(stun.AttrUserhash)
	if err != nil {
		return err
	}
	if err = stun.CheckSize(stun.AttrUserhash, len(v), sha256Size); err != nil {
		return err
	}
	*u = append((*u)[:0], v...)

	return nil
}
