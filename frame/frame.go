package frame

import (
	"encoding/base64"
	"fmt"
)

// DecodeError reports a malformed audio payload. The frame carrying it is
// dropped; channel state is never affected.
type DecodeError struct {
	Len int
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %d byte payload: %v", e.Len, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode turns a transport-encoded (base64) audio payload into raw bytes.
// An empty payload decodes to an empty slice; callers treat that as
// end-of-speech before ever calling Decode.
func Decode(payload string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &DecodeError{Len: len(payload), Err: err}
	}
	return data, nil
}

// Encode is the inverse of Decode.
func Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
