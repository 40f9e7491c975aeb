package entity

import "time"

// parseTime accepts the wire timestamp formats the table protocol emits:
// RFC3339 with fractional seconds, and plain RFC3339.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}
