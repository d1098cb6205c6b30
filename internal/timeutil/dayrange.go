package timeutil

import (
	"strings"
	"time"
)

// All calendar-day math runs in a fixed UTC+8 offset so that one family's
// "today" stays stable no matter where the server process happens to run.
var FixedZone = time.FixedZone("UTC+8", 8*60*60)

const dateLayout = "2006-01-02"

type DayRange struct {
	Start time.Time
	End   time.Time
}

// DayRangeFor returns the absolute UTC range [start, end] of the UTC+8
// calendar day containing t. End is the last representable millisecond of
// that day, so End-Start is always 24h minus 1ms.
func DayRangeFor(t time.Time) DayRange {
	local := t.In(FixedZone)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, FixedZone).UTC()
	return DayRange{
		Start: start,
		End:   start.Add(24*time.Hour - time.Millisecond),
	}
}

// DayRangeForDate resolves a "YYYY-MM-DD" string to its UTC+8 day range.
// A blank date means today.
func DayRangeForDate(date string, now time.Time) (DayRange, error) {
	trimmed := strings.TrimSpace(date)
	if trimmed == "" {
		return DayRangeFor(now), nil
	}
	parsed, err := time.ParseInLocation(dateLayout, trimmed, FixedZone)
	if err != nil {
		return DayRange{}, err
	}
	return DayRangeFor(parsed), nil
}

// ParseDate parses "YYYY-MM-DD" as midnight of that UTC+8 day.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, strings.TrimSpace(value), FixedZone)
}

// LocalDateKey formats an instant as its UTC+8 calendar date, the grouping
// key used by report buckets and by-day queries.
func LocalDateKey(t time.Time) string {
	return t.In(FixedZone).Format(dateLayout)
}

// ResolveRecordTime turns a parser-produced record time into an absolute
// instant. "HH:MM" is resolved against base's UTC+8 day; full timestamps are
// accepted as RFC 3339; anything else falls back to base itself.
func ResolveRecordTime(value string, base time.Time) time.Time {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return base
	}
	if t, err := time.ParseInLocation("15:04", trimmed, FixedZone); err == nil {
		local := base.In(FixedZone)
		return time.Date(local.Year(), local.Month(), local.Day(), t.Hour(), t.Minute(), 0, 0, FixedZone).UTC()
	}
	if t, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return t.UTC()
	}
	return base
}
