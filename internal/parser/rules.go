package parser

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	fragmentSplitRe = regexp.MustCompile(`[，,、；;。]`)
	quantityRe      = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(ml|毫升|ML|g|克)?`)
	durationRe      = regexp.MustCompile(`(\d+)\s*(?:分钟|min)`)
)

// Numbers directly followed by one of these are clock times or durations,
// never quantities.
var nonQuantitySuffixes = []string{"点", "时", ":", "：", "分", "min", "小时"}

// ExtractEvents is the deterministic fallback classifier. It splits the input
// on sentence punctuation and classifies each fragment by keyword, always
// flagging the result for human confirmation. When nothing at all can be
// split out, a single low-confidence "other" event wraps the whole input so
// the caller never receives an empty list.
func ExtractEvents(text string) []ParsedEvent {
	events := make([]ParsedEvent, 0, 4)
	for _, fragment := range fragmentSplitRe.Split(text, -1) {
		fragment = strings.TrimSpace(fragment)
		if fragment == "" {
			continue
		}
		events = append(events, classifyFragment(fragment))
	}

	if len(events) == 0 {
		return []ParsedEvent{{
			Type:        TypeOther,
			Note:        strings.TrimSpace(text),
			Confidence:  0.3,
			NeedConfirm: true,
		}}
	}
	return events
}

func classifyFragment(fragment string) ParsedEvent {
	event := ParsedEvent{
		Type:        TypeBottle,
		Confidence:  0.5,
		NeedConfirm: true,
	}

	event.RecordTime = ResolveTimeExpression(fragment)

	amount, unit := extractQuantity(fragment)
	event.Amount = amount
	if amount != nil && (unit == "g" || unit == "克") {
		event.Type = TypeFood
	}

	switch {
	case strings.Contains(fragment, "左"):
		event.Side = SideLeft
	case strings.Contains(fragment, "右"):
		event.Side = SideRight
	case strings.Contains(fragment, "双"):
		event.Side = SideBoth
	}

	switch {
	case strings.Contains(fragment, "奶粉"):
		event.FeedingType = FeedingFormula
	case strings.Contains(fragment, "母乳"):
		event.FeedingType = FeedingBreastmilk
	case strings.Contains(fragment, "水"):
		event.FeedingType = FeedingWater
	case strings.Contains(fragment, "补剂"):
		event.FeedingType = FeedingSupplement
	}

	switch {
	case strings.Contains(fragment, "亲喂") || (strings.Contains(fragment, "喂") && event.Amount == nil):
		event.Type = TypeBreastfeeding
		if event.Side == "" {
			event.Side = SideBoth
		}
		event.FeedingType = ""
		event.Amount = nil
		event.Duration = extractDuration(fragment)
	case strings.Contains(fragment, "游泳"):
		event.Type = TypeSwimming
		event.Amount = nil
		event.FeedingType = ""
		event.Duration = extractDuration(fragment)
	case strings.Contains(fragment, "尿布") || strings.Contains(fragment, "屎") || strings.Contains(fragment, "拉"):
		event.Type = TypeDiaper
		event.Amount = nil
		event.FeedingType = ""
	case strings.Contains(fragment, "睡") || strings.Contains(fragment, "觉"):
		event.Type = TypeSleep
		event.Amount = nil
		event.FeedingType = ""
		event.Duration = extractDuration(fragment)
	}

	// An unmarked bottle feed defaults to formula.
	if event.Type == TypeBottle && event.Amount != nil && event.FeedingType == "" {
		event.FeedingType = FeedingFormula
	}

	if event.Type != TypeDiaper && event.Type != TypeSleep {
		event.Note = fragment
	}
	return event
}

// extractQuantity returns the first number in the fragment that is not part
// of a clock-time or duration expression, together with its unit when one
// was written.
func extractQuantity(fragment string) (*float64, string) {
	for _, match := range quantityRe.FindAllStringSubmatchIndex(fragment, -1) {
		number := fragment[match[2]:match[3]]
		rest := fragment[match[3]:]
		if isTimeOrDuration(rest) {
			continue
		}
		value, err := strconv.ParseFloat(number, 64)
		if err != nil {
			continue
		}
		unit := ""
		if match[4] >= 0 {
			unit = fragment[match[4]:match[5]]
		}
		return &value, unit
	}
	return nil, ""
}

func isTimeOrDuration(rest string) bool {
	rest = strings.TrimLeft(rest, " \t")
	for _, suffix := range nonQuantitySuffixes {
		if strings.HasPrefix(rest, suffix) {
			return true
		}
	}
	return false
}

func extractDuration(fragment string) *int {
	match := durationRe.FindStringSubmatch(fragment)
	if match == nil {
		return nil
	}
	minutes, err := strconv.Atoi(match[1])
	if err != nil {
		return nil
	}
	return &minutes
}
