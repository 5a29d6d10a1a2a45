// Package status derives the display-ready view of the relay: link health
// for every external connection and one row per known speaker.
package status

import (
	"fmt"
	"sort"
	"strings"
)

type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnected
	LinkError
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "Disconnected"
	case LinkConnected:
		return "Connected"
	case LinkError:
		return "Error"
	}
	return fmt.Sprintf("LinkState(%d)", int(s))
}

func (s LinkState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *LinkState) UnmarshalText(b []byte) error {
	for _, c := range []LinkState{LinkDisconnected, LinkConnected, LinkError} {
		if strings.EqualFold(c.String(), string(b)) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown link state %q", b)
}

// ChannelState only ever moves forward: Connecting, Forwarding, then
// Finished or Error.
type ChannelState int

const (
	ChannelConnecting ChannelState = iota
	ChannelForwarding
	ChannelFinished
	ChannelError
)

func (s ChannelState) String() string {
	switch s {
	case ChannelConnecting:
		return "Connecting"
	case ChannelForwarding:
		return "Forwarding"
	case ChannelFinished:
		return "Finished"
	case ChannelError:
		return "Error"
	}
	return fmt.Sprintf("ChannelState(%d)", int(s))
}

// Terminal reports whether no further transition is allowed.
func (s ChannelState) Terminal() bool {
	return s == ChannelFinished || s == ChannelError
}

// Advance returns next if the move is forward, otherwise s.
func (s ChannelState) Advance(next ChannelState) ChannelState {
	if s.Terminal() || next <= s {
		return s
	}
	return next
}

func (s ChannelState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ChannelState) UnmarshalText(b []byte) error {
	for _, c := range []ChannelState{ChannelConnecting, ChannelForwarding, ChannelFinished, ChannelError} {
		if strings.EqualFold(c.String(), string(b)) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown channel state %q", b)
}

// Participant is a speaker as the relay knows it. Seen orders participants
// by first appearance within their session.
type Participant struct {
	SpeakerID string
	Name      string
	State     ChannelState
	Seen      uint64
}

type SessionInput struct {
	StreamID     string
	Viewer       LinkState
	Participants []Participant
}

type Input struct {
	Upstream LinkState
	Sessions []SessionInput
}

type Row struct {
	Session   string       `json:"session"`
	SpeakerID string       `json:"speakerId"`
	Name      string       `json:"name"`
	State     ChannelState `json:"state"`
}

type Session struct {
	StreamID string    `json:"streamId"`
	Viewer   LinkState `json:"viewer"`
	Rows     []Row     `json:"rows"`
}

type Snapshot struct {
	Upstream   LinkState `json:"upstream"`
	Sessions   []Session `json:"sessions"`
	Forwarding int       `json:"forwarding"`
}

// Rows flattens every session's rows in display order.
func (s Snapshot) Rows() []Row {
	var rows []Row
	for _, sess := range s.Sessions {
		rows = append(rows, sess.Rows...)
	}
	return rows
}

// Project builds a snapshot from in. It does not retain or modify in.
func Project(in Input) Snapshot {
	snap := Snapshot{
		Upstream: in.Upstream,
		Sessions: make([]Session, 0, len(in.Sessions)),
	}

	for _, si := range in.Sessions {
		ps := make([]Participant, len(si.Participants))
		copy(ps, si.Participants)
		sort.SliceStable(ps, func(i, j int) bool { return ps[i].Seen < ps[j].Seen })

		sess := Session{
			StreamID: si.StreamID,
			Viewer:   si.Viewer,
			Rows:     make([]Row, 0, len(ps)),
		}
		for _, p := range ps {
			name := p.Name
			if strings.TrimSpace(name) == "" {
				name = p.SpeakerID
			}
			sess.Rows = append(sess.Rows, Row{
				Session:   si.StreamID,
				SpeakerID: p.SpeakerID,
				Name:      name,
				State:     p.State,
			})
			if p.State == ChannelForwarding {
				snap.Forwarding++
			}
		}
		snap.Sessions = append(snap.Sessions, sess)
	}

	sort.SliceStable(snap.Sessions, func(i, j int) bool {
		return snap.Sessions[i].StreamID < snap.Sessions[j].StreamID
	})
	return snap
}
