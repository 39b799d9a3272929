package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dayLayout = "2006-01-02"

// parseTimestamp accepts unix milliseconds, a YYYY-MM-DD day (noon in loc)
// or an RFC 3339 time. An empty string returns 0 (now).
func parseTimestamp(s string, loc *time.Location) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms <= 0 {
			return 0, fmt.Errorf("timestamp must be positive, got %d", ms)
		}
		return ms, nil
	}
	if d, err := time.ParseInLocation(dayLayout, s, loc); err == nil {
		return d.Add(12 * time.Hour).UnixMilli(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli(), nil
	}
	return 0, fmt.Errorf("invalid timestamp %q: want unix ms, YYYY-MM-DD or RFC 3339", s)
}

// formatDay renders ts as a day in loc.
func formatDay(ts int64, loc *time.Location) string {
	return time.UnixMilli(ts).In(loc).Format(dayLayout)
}
