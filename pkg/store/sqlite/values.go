package sqlite

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// SampleTimeLayout is the layout of append-anchor values
const SampleTimeLayout = "20060102_150405"

// legacyTimeLayout is accepted on read for resource stores written by older samplers
const legacyTimeLayout = "2006-01-02 15:04:05"

// EncodeValue converts a metric value into the text stored in the table.
// Every write path goes through it; values are then bound as parameters, so
// quotes need no escaping.
func EncodeValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case time.Time:
		return FormatSampleTime(val), nil
	case []string:
		return strings.Join(val, " "), nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("cannot encode %T value: %w", v, err)
	}
	return s, nil
}

func encodeValues(values []any) ([]any, error) {
	encoded := make([]any, len(values))
	for i, v := range values {
		s, err := EncodeValue(v)
		if err != nil {
			return nil, err
		}
		encoded[i] = s
	}
	return encoded, nil
}

// FormatSampleTime renders t as an append-anchor value
func FormatSampleTime(t time.Time) string {
	return t.Format(SampleTimeLayout)
}

// ParseSampleTime parses an append-anchor value in local time
func ParseSampleTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{SampleTimeLayout, legacyTimeLayout} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized sample time %q", s)
}
