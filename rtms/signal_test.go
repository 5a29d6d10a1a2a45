package rtms

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseSignal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Signal
	}{
		{
			name: "start",
			in:   `{"type":"start","streamId":"S1"}`,
			want: Start{StreamID: "S1"},
		},
		{
			name: "stop",
			in:   `{"type":"stop","streamId":"S1"}`,
			want: Stop{StreamID: "S1"},
		},
		{
			name: "audio",
			in:   `{"type":"audio","sessionId":"S1","speakerId":"A","speakerName":"Alice","payload":"AAEC","timestamp":17}`,
			want: Audio{SessionID: "S1", SpeakerID: "A", SpeakerName: "Alice", Payload: "AAEC", Timestamp: 17},
		},
		{
			name: "audio end of speech",
			in:   `{"type":"audio","speakerId":"A","payload":""}`,
			want: Audio{SpeakerID: "A"},
		},
		{
			name: "numeric speaker id",
			in:   `{"type":"audio","speakerId":16778240,"payload":"AA=="}`,
			want: Audio{SpeakerID: "16778240", Payload: "AA=="},
		},
		{
			name: "platform audio",
			in:   `{"msg_type":14,"content":{"user_id":16778240,"user_name":"Bob","data":"AAEC","timestamp":99}}`,
			want: Audio{SpeakerID: "16778240", SpeakerName: "Bob", Payload: "AAEC", Timestamp: 99},
		},
		{
			name: "platform video",
			in:   `{"msg_type":15,"content":{"user_id":1,"data":"xx"}}`,
			want: Ignored{Kind: "video"},
		},
		{
			name: "platform deskshare",
			in:   `{"msg_type":16}`,
			want: Ignored{Kind: "deskshare"},
		},
		{
			name: "platform transcript",
			in:   `{"msg_type":17,"content":{"data":"hello"}}`,
			want: Ignored{Kind: "transcript"},
		},
		{
			name: "webhook started",
			in:   `{"event":"meeting.rtms_started","payload":{"rtms_stream_id":"abc"}}`,
			want: Start{StreamID: "abc"},
		},
		{
			name: "webhook stopped",
			in:   `{"event":"meeting.rtms_stopped","payload":{"rtms_stream_id":"abc"}}`,
			want: Stop{StreamID: "abc"},
		},
		{
			name: "webhook other",
			in:   `{"event":"endpoint.url_validation","payload":{"plainToken":"x"}}`,
			want: Ignored{Kind: "endpoint.url_validation"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSignal([]byte(tt.in))
			if err != nil {
				t.Fatalf("ParseSignal() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseSignal() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParseSignalProtocolErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not json", `hello`},
		{"missing type", `{"streamId":"S1"}`},
		{"unknown type", `{"type":"dance"}`},
		{"start without stream", `{"type":"start"}`},
		{"audio without speaker", `{"type":"audio","payload":"AA=="}`},
		{"platform audio without user", `{"msg_type":14,"content":{"data":"AA=="}}`},
		{"webhook stop without stream", `{"event":"meeting.rtms_stopped","payload":{}}`},
		{"bad id", `{"type":"stop","streamId":{"a":1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSignal([]byte(tt.in))
			if err == nil {
				t.Fatalf("ParseSignal() = %#v, want error", got)
			}
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("error %v is not a *ProtocolError", err)
			}
			if string(perr.Raw) != tt.in {
				t.Errorf("Raw = %q, want %q", perr.Raw, tt.in)
			}
		})
	}
}
