package provider

import "time"

// parsePaddleTime parses Paddle's RFC3339 timestamps; the zero time is
// returned for empty or unparseable values rather than an error, since a
// missing billing period is handled downstream.
func parsePaddleTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
