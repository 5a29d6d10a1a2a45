package frame

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecodeRoundTrip(t *testing.T) {
	for _, n := range []int{1, 3, 4096, 4097} {
		raw := make([]byte, n)
		for i := range raw {
			raw[i] = byte(i * 7)
		}

		got, err := Decode(Encode(raw))
		if err != nil {
			t.Fatalf("Decode(%d bytes) error: %v", n, err)
		}
		if len(got) != n {
			t.Errorf("Decode() returned %d bytes, want %d", len(got), n)
		}
		if !bytes.Equal(got, raw) {
			t.Errorf("Decode() of %d bytes does not match input", n)
		}
	}
}

func TestDecodeCorrupted(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "Not base64", payload: "!!!not-audio!!!"},
		{name: "Truncated", payload: "AAEC="},
		{name: "Bad padding", payload: "AA=A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Decode(tt.payload)
			if err == nil {
				t.Fatalf("Decode(%q) = %v, want error", tt.payload, data)
			}
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("Decode(%q) error %T, want *DecodeError", tt.payload, err)
			}
			if decodeErr.Len != len(tt.payload) {
				t.Errorf("DecodeError.Len = %d, want %d", decodeErr.Len, len(tt.payload))
			}
		})
	}
}

func TestDecodeEmpty(t *testing.T) {
	data, err := Decode("")
	if err != nil {
		t.Fatalf("Decode(\"\") error: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("Decode(\"\") = %v, want empty", data)
	}
}
