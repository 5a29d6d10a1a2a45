package rtms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Platform media message types. Only audio reaches the relay.
const (
	MsgTypeAudio      = 14
	MsgTypeVideo      = 15
	MsgTypeDeskshare  = 16
	MsgTypeTranscript = 17
)

const (
	EventStarted = "meeting.rtms_started"
	EventStopped = "meeting.rtms_stopped"
)

// Signal is one decoded upstream message: Start, Stop, Audio or Ignored.
type Signal interface {
	isSignal()
}

type Start struct {
	StreamID string
}

type Stop struct {
	StreamID string
}

// Audio is one speaker's frame. An empty Payload signals end-of-speech.
// SessionID may be empty, in which case the relay's default stream is used.
type Audio struct {
	SessionID   string
	SpeakerID   string
	SpeakerName string
	Payload     string
	Timestamp   int64
}

// Ignored is a well-formed message the relay deliberately drops, such as
// video or desktop-share media.
type Ignored struct {
	Kind string
}

func (Start) isSignal()   {}
func (Stop) isSignal()    {}
func (Audio) isSignal()   {}
func (Ignored) isSignal() {}

// ProtocolError reports upstream input the relay cannot interpret. It is
// never fatal.
type ProtocolError struct {
	Reason string
	Raw    []byte
}

func (e *ProtocolError) Error() string {
	return "upstream protocol: " + e.Reason
}

// flexID accepts identifiers sent either as JSON strings or numbers.
type flexID string

func (id *flexID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %s", data)
	}
	*id = flexID(n.String())
	return nil
}

type probe struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	MsgType *int   `json:"msg_type"`
}

type relaySignal struct {
	Type        string `json:"type"`
	StreamID    flexID `json:"streamId"`
	SessionID   flexID `json:"sessionId"`
	SpeakerID   flexID `json:"speakerId"`
	SpeakerName string `json:"speakerName"`
	Payload     string `json:"payload"`
	Timestamp   int64  `json:"timestamp"`
}

type mediaSignal struct {
	MsgType int `json:"msg_type"`
	Content *struct {
		UserID    flexID `json:"user_id"`
		UserName  string `json:"user_name"`
		Data      string `json:"data"`
		Timestamp int64  `json:"timestamp"`
		StreamID  flexID `json:"rtms_stream_id"`
	} `json:"content"`
}

// ParseSignal decodes one upstream message. Anything it cannot interpret
// is reported as a *ProtocolError.
func ParseSignal(data []byte) (Signal, error) {
	var p probe
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &ProtocolError{Reason: err.Error(), Raw: data}
	}

	switch {
	case p.Event != "":
		return parseWebhook(data, p.Event)
	case p.MsgType != nil:
		return parseMedia(data)
	}

	var wire relaySignal
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, &ProtocolError{Reason: err.Error(), Raw: data}
	}

	switch strings.ToLower(wire.Type) {
	case "start", "stop":
		if wire.StreamID == "" {
			return nil, &ProtocolError{Reason: wire.Type + " without stream ID", Raw: data}
		}
		if strings.EqualFold(wire.Type, "start") {
			return Start{StreamID: string(wire.StreamID)}, nil
		}
		return Stop{StreamID: string(wire.StreamID)}, nil
	case "audio":
		if wire.SpeakerID == "" {
			return nil, &ProtocolError{Reason: "audio without speaker ID", Raw: data}
		}
		return Audio{
			SessionID:   string(wire.SessionID),
			SpeakerID:   string(wire.SpeakerID),
			SpeakerName: wire.SpeakerName,
			Payload:     wire.Payload,
			Timestamp:   wire.Timestamp,
		}, nil
	case "video", "deskshare":
		return Ignored{Kind: wire.Type}, nil
	case "":
		return nil, &ProtocolError{Reason: "missing type", Raw: data}
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown type %q", wire.Type), Raw: data}
	}
}

func parseMedia(data []byte) (Signal, error) {
	var wire mediaSignal
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, &ProtocolError{Reason: err.Error(), Raw: data}
	}

	switch wire.MsgType {
	case MsgTypeAudio:
	case MsgTypeVideo:
		return Ignored{Kind: "video"}, nil
	case MsgTypeDeskshare:
		return Ignored{Kind: "deskshare"}, nil
	case MsgTypeTranscript:
		return Ignored{Kind: "transcript"}, nil
	default:
		return Ignored{Kind: fmt.Sprintf("msg_type %d", wire.MsgType)}, nil
	}

	if wire.Content == nil || wire.Content.UserID == "" {
		return nil, &ProtocolError{Reason: "audio without user_id", Raw: data}
	}
	return Audio{
		SessionID:   string(wire.Content.StreamID),
		SpeakerID:   string(wire.Content.UserID),
		SpeakerName: wire.Content.UserName,
		Payload:     wire.Content.Data,
		Timestamp:   wire.Content.Timestamp,
	}, nil
}

func parseWebhook(data []byte, event string) (Signal, error) {
	var hook struct {
		Payload struct {
			StreamID flexID `json:"rtms_stream_id"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &hook); err != nil {
		return nil, &ProtocolError{Reason: err.Error(), Raw: data}
	}
	streamID := string(hook.Payload.StreamID)

	switch event {
	case EventStarted, EventStopped:
		if streamID == "" {
			return nil, &ProtocolError{
				Reason: fmt.Sprintf("received %s event without stream ID", event),
				Raw:    data,
			}
		}
		if event == EventStarted {
			return Start{StreamID: streamID}, nil
		}
		return Stop{StreamID: streamID}, nil
	default:
		return Ignored{Kind: event}, nil
	}
}
