package parser

import (
	"fmt"
	"regexp"
	"strconv"
)

// Clock-time cues in priority order. Explicit H:MM / H点MM expressions win
// over period-qualified ones; within the list the first match is taken and
// later cues in the same fragment are ignored.
var timePatterns = []struct {
	re         *regexp.Regexp
	hourOffset int
}{
	{regexp.MustCompile(`(\d{1,2})[:：点时](\d{1,2})?`), 0},
	{regexp.MustCompile(`早上(\d{1,2})[:点时]?(\d{1,2})?`), 0},
	{regexp.MustCompile(`上午(\d{1,2})[:点时]?(\d{1,2})?`), 0},
	{regexp.MustCompile(`中午(\d{1,2})[:点时]?(\d{1,2})?`), 0},
	{regexp.MustCompile(`下午(\d{1,2})[:点时]?(\d{1,2})?`), 12},
	{regexp.MustCompile(`傍晚(\d{1,2})[:点时]?(\d{1,2})?`), 18},
	{regexp.MustCompile(`晚上(\d{1,2})[:点时]?(\d{1,2})?`), 18},
}

// ResolveTimeExpression scans a fragment for a clock-time cue and returns it
// as zero-padded "HH:MM", or "" when no cue is present. Hours past midnight
// after the period offset wrap around; out-of-range minutes are clamped.
func ResolveTimeExpression(text string) string {
	for _, pattern := range timePatterns {
		match := pattern.re.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		hour, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		minute := 0
		if match[2] != "" {
			minute, _ = strconv.Atoi(match[2])
		}

		hour += pattern.hourOffset
		if hour >= 24 {
			hour -= 24
		}
		if hour < 0 || hour > 23 {
			hour = 23
		}
		if minute < 0 {
			minute = 0
		}
		if minute > 59 {
			minute = 59
		}
		return fmt.Sprintf("%02d:%02d", hour, minute)
	}
	return ""
}
