package model

import (
	"time"
)

// TimeLayout is the protocol timestamp form: ISO-8601 UTC, second precision,
// trailing Z. Timestamps travel as strings so that canonical bytes are
// exactly what the client signed.
const TimeLayout = "2006-01-02T15:04:05Z"

// FormatTime renders t in the protocol form.
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimeLayout)
}

// Now returns the current time already in protocol form.
func Now() string {
	return FormatTime(time.Now())
}

// ParseTime parses a protocol timestamp. It tolerates RFC 3339 inputs with
// sub-second precision or numeric offsets, normalizing to UTC.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, NewError(KindValidation, "timestamp must be ISO-8601 UTC with trailing Z: "+s)
	}
	return t.UTC(), nil
}
