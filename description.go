// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package icelite

import (
	"errors"
	"fmt"
	"strings"
)

// Description is one side's credentials and candidate list.
type Description struct {
	Ufrag string
	Pwd   string

	// Finished is set once the owning side declared gathering done.
	Finished bool

	// Candidates is kept ordered by decreasing priority.
	Candidates []*Candidate
}

func (d *Description) countOfType(candidateType CandidateType) int {
	n := 0
	for _, c := range d.Candidates {
		if c.Type == candidateType {
			n++
		}
	}

	return n
}

// addCandidate inserts keeping the priority order, deduplicating
// against the resolved address and type, and enforcing the
// per-description caps.
func (d *Description) addCandidate(cand *Candidate) (*Candidate, error) {
	for _, existing := range d.Candidates {
		if existing.Equal(cand) {
			return existing, nil
		}
	}

	switch {
	case len(d.Candidates) >= maxCandidates:
		return nil, ErrTooManyCandidates
	case cand.Type == CandidateTypeHost && d.countOfType(CandidateTypeHost) >= maxHostCandidates:
		return nil, ErrTooManyCandidates
	case cand.Type == CandidateTypePeerReflexive && d.countOfType(CandidateTypePeerReflexive) >= maxPeerReflexiveCandidates:
		return nil, ErrTooManyCandidates
	}

	pos := len(d.Candidates)
	for i, existing := range d.Candidates {
		if cand.Priority > existing.Priority {
			pos = i

			break
		}
	}

	d.Candidates = append(d.Candidates, nil)
	copy(d.Candidates[pos+1:], d.Candidates[pos:])
	d.Candidates[pos] = cand

	return cand, nil
}

func (d *Description) findByAddr(addr AddressRecord) *Candidate {
	for _, c := range d.Candidates {
		if c.Addr.isValid() && c.Addr.equal(addr, true) {
			return c
		}
	}

	return nil
}

// Marshal renders the description as SDP attribute lines.
func (d *Description) Marshal() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "a=ice-ufrag:%s\r\n", d.Ufrag)
	fmt.Fprintf(&sb, "a=ice-pwd:%s\r\n", d.Pwd)
	for _, c := range d.Candidates {
		fmt.Fprintf(&sb, "a=%s\r\n", c.Marshal())
	}

	return sb.String()
}

// unmarshalDescription parses the SDP attribute lines the agent
// consumes: ice-ufrag, ice-pwd and candidate. Other lines are skipped.
func unmarshalDescription(sdp string) (*Description, error) {
	desc := &Description{}

	for _, raw := range strings.Split(sdp, "\n") {
		line := strings.TrimSpace(raw)
		line = strings.TrimPrefix(line, "a=")

		switch {
		case strings.HasPrefix(line, "ice-ufrag:"):
			desc.Ufrag = strings.TrimPrefix(line, "ice-ufrag:")
		case strings.HasPrefix(line, "ice-pwd:"):
			desc.Pwd = strings.TrimPrefix(line, "ice-pwd:")
		case strings.HasPrefix(line, "candidate:"):
			cand, err := UnmarshalCandidate(line)
			if errors.Is(err, ErrCandidateIgnored) {
				continue
			} else if err != nil {
				return nil, err
			}

			if _, err := desc.addCandidate(cand); err != nil {
				return nil, err
			}
		}
	}

	switch {
	case desc.Ufrag == "":
		return nil, ErrRemoteUfragEmpty
	case desc.Pwd == "":
		return nil, ErrRemotePwdEmpty
	}

	return desc, nil
}
