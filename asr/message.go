package asr

import (
	"encoding/json"
	"fmt"

	"node.town/uam/transcript"
)

// Message is one decoded viewer-channel message. Exactly one of the
// concrete types below.
type Message interface {
	isMessage()
}

// FinalizedLines carries segments the backend will not revise.
type FinalizedLines struct {
	UserName string
	Lines    []transcript.Line
}

// BufferUpdate replaces the current speaker's in-progress text.
type BufferUpdate struct {
	UserName string
	Text     string
}

// SegmentBoundary is the backend's explicit end-of-segment marker.
type SegmentBoundary struct {
	UserName string
}

// Unrecognized is any JSON message of unknown shape.
type Unrecognized struct {
	Raw    []byte
	Reason string
}

func (FinalizedLines) isMessage()  {}
func (BufferUpdate) isMessage()    {}
func (SegmentBoundary) isMessage() {}
func (Unrecognized) isMessage()    {}

type wireMessage struct {
	Type                string             `json:"type"`
	UserName            string             `json:"user_name"`
	Lines               *[]transcript.Line `json:"lines"`
	BufferTranscription *string            `json:"buffer_transcription"`
}

// ParseMessage decodes one viewer frame. A frame may carry both finalized
// lines and a buffer, so it yields one or two messages, lines first.
// Malformed or unknown input yields a single Unrecognized so callers can
// log it and move on.
func ParseMessage(data []byte) []Message {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return []Message{Unrecognized{Raw: data, Reason: err.Error()}}
	}

	if wire.Type == "ready_to_stop" {
		return []Message{SegmentBoundary{UserName: wire.UserName}}
	}

	var msgs []Message
	if wire.Lines != nil {
		msgs = append(msgs, FinalizedLines{UserName: wire.UserName, Lines: *wire.Lines})
	}
	if wire.BufferTranscription != nil {
		msgs = append(msgs, BufferUpdate{
			UserName: wire.UserName,
			Text:     *wire.BufferTranscription,
		})
	}
	if len(msgs) > 0 {
		return msgs
	}

	reason := "no known field"
	if wire.Type != "" {
		reason = fmt.Sprintf("unknown type %q", wire.Type)
	}
	return []Message{Unrecognized{Raw: data, Reason: reason}}
}
