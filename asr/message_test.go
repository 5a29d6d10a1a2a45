package asr

import (
	"testing"
)

func TestParseMessage(t *testing.T) {
	t.Run("Finalized lines", func(t *testing.T) {
		msgs := ParseMessage([]byte(`{"lines":[{"speaker":1,"text":"hello","beg":"0:01"}]}`))
		if len(msgs) != 1 {
			t.Fatalf("ParseMessage() returned %d messages, want 1", len(msgs))
		}
		fl, ok := msgs[0].(FinalizedLines)
		if !ok {
			t.Fatalf("ParseMessage() = %T, want FinalizedLines", msgs[0])
		}
		if len(fl.Lines) != 1 || fl.Lines[0].Text != "hello" || fl.Lines[0].Speaker != 1 {
			t.Errorf("lines = %+v", fl.Lines)
		}
	})

	t.Run("Buffer update", func(t *testing.T) {
		msgs := ParseMessage([]byte(`{"buffer_transcription":"hel","user_name":"Ann"}`))
		bu, ok := msgs[0].(BufferUpdate)
		if len(msgs) != 1 || !ok {
			t.Fatalf("ParseMessage() = %#v, want one BufferUpdate", msgs)
		}
		if bu.Text != "hel" || bu.UserName != "Ann" {
			t.Errorf("BufferUpdate = %+v", bu)
		}
	})

	t.Run("Empty buffer still clears", func(t *testing.T) {
		msgs := ParseMessage([]byte(`{"buffer_transcription":""}`))
		if _, ok := msgs[0].(BufferUpdate); len(msgs) != 1 || !ok {
			t.Fatalf("ParseMessage() = %#v, want one BufferUpdate", msgs)
		}
	})

	t.Run("Lines and buffer together", func(t *testing.T) {
		msgs := ParseMessage([]byte(`{"lines":[{"speaker":0,"text":"a","beg":"0:00"}],"buffer_transcription":"b"}`))
		if len(msgs) != 2 {
			t.Fatalf("ParseMessage() returned %d messages, want 2", len(msgs))
		}
		if _, ok := msgs[0].(FinalizedLines); !ok {
			t.Errorf("first message %T, want FinalizedLines", msgs[0])
		}
		if _, ok := msgs[1].(BufferUpdate); !ok {
			t.Errorf("second message %T, want BufferUpdate", msgs[1])
		}
	})

	t.Run("Segment boundary", func(t *testing.T) {
		msgs := ParseMessage([]byte(`{"type":"ready_to_stop","user_name":"Bo"}`))
		sb, ok := msgs[0].(SegmentBoundary)
		if len(msgs) != 1 || !ok || sb.UserName != "Bo" {
			t.Fatalf("ParseMessage() = %#v, want SegmentBoundary{Bo}", msgs)
		}
	})

	unknown := []struct {
		name  string
		input string
	}{
		{name: "Not JSON", input: `hello`},
		{name: "Unknown type", input: `{"type":"config","x":1}`},
		{name: "No known field", input: `{"status":"active"}`},
		{name: "Bad line shape", input: `{"lines":"nope"}`},
	}
	for _, tt := range unknown {
		t.Run(tt.name, func(t *testing.T) {
			msgs := ParseMessage([]byte(tt.input))
			u, ok := msgs[0].(Unrecognized)
			if len(msgs) != 1 || !ok {
				t.Fatalf("ParseMessage(%q) = %#v, want Unrecognized", tt.input, msgs)
			}
			if string(u.Raw) != tt.input || u.Reason == "" {
				t.Errorf("Unrecognized = %+v", u)
			}
		})
	}
}
