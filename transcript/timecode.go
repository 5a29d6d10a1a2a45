package transcript

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TimeCode is a begin/end time as sent by the backend: either a
// colon-separated clock string ("0:05", "1:02:03") or a number of seconds.
type TimeCode string

// Seconds converts the time code into total seconds. Fields are
// colon-separated, most significant first.
func (tc TimeCode) Seconds() (float64, error) {
	s := strings.TrimSpace(string(tc))
	if s == "" {
		return 0, fmt.Errorf("empty time code")
	}

	var total float64
	for _, field := range strings.Split(s, ":") {
		if !decimal(field) {
			return 0, fmt.Errorf("invalid time code %q", s)
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid time code %q", s)
		}
		total = total*60 + v
	}
	return total, nil
}

// decimal reports whether field is plain digits with at most one decimal
// point. ParseFloat alone would also take NaN, Inf, exponents and hex.
func decimal(field string) bool {
	digits, dots := 0, 0
	for _, r := range field {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.':
			dots++
		default:
			return false
		}
	}
	return digits > 0 && dots <= 1
}

func (tc *TimeCode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*tc = TimeCode(s)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("time code must be a string or number: %s", data)
	}
	*tc = TimeCode(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}
