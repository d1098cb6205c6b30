package parser

import (
	"strconv"
	"strings"
)

const (
	TypeBreastfeeding = "breastfeeding"
	TypeBottle        = "bottle"
	TypeFood          = "food"
	TypeSwimming      = "swimming"
	TypeDiaper        = "diaper"
	TypeSleep         = "sleep"
	TypeOther         = "other"
)

const (
	SideLeft  = "left"
	SideRight = "right"
	SideBoth  = "both"
)

const (
	FeedingFormula    = "formula"
	FeedingBreastmilk = "breastmilk"
	FeedingWater      = "water"
	FeedingSupplement = "supplement"
)

// ParsedEvent is one extracted care record, not yet persisted. Amount is ml
// for bottle feeds and grams for food; Duration is minutes. A nil Amount or
// Duration means the field does not apply to the event type.
type ParsedEvent struct {
	Type        string   `json:"type"`
	Amount      *float64 `json:"amount"`
	Side        string   `json:"side,omitempty"`
	FeedingType string   `json:"feedingType,omitempty"`
	Duration    *int     `json:"duration"`
	Note        string   `json:"note"`
	RecordTime  string   `json:"recordTime,omitempty"`
	Confidence  float64  `json:"confidence"`
	NeedConfirm bool     `json:"needConfirm"`
}

var validEventTypes = map[string]struct{}{
	TypeBreastfeeding: {},
	TypeBottle:        {},
	TypeFood:          {},
	TypeSwimming:      {},
	TypeDiaper:        {},
	TypeSleep:         {},
	TypeOther:         {},
}

// NormalizeType maps a raw model value onto the known event types. Anything
// unrecognized degrades to "other" and reports ok=false so the caller can
// force confirmation.
func NormalizeType(raw string) (string, bool) {
	eventType := strings.ToLower(strings.TrimSpace(raw))
	if _, ok := validEventTypes[eventType]; ok {
		return eventType, true
	}
	return TypeOther, false
}

// NormalizeSide accepts the model's Chinese side markers as well as the
// canonical English values.
func NormalizeSide(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "左", "左侧", "left":
		return SideLeft
	case "右", "右侧", "right":
		return SideRight
	case "双", "双侧", "both":
		return SideBoth
	default:
		return ""
	}
}

// NormalizeFeedingType accepts the model's Chinese sub-kind markers as well
// as the canonical English values.
func NormalizeFeedingType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "奶粉", "formula":
		return FeedingFormula
	case "母乳", "breastmilk", "breast_milk":
		return FeedingBreastmilk
	case "水", "water":
		return FeedingWater
	case "补剂", "supplement":
		return FeedingSupplement
	default:
		return ""
	}
}

// DecodeEvents turns loosely shaped model output into typed events. Numeric
// fields arriving as strings are coerced; uncoercible values become nil, not
// errors. Unknown event types are kept as "other" with confirmation forced.
func DecodeEvents(rawList []map[string]any) []ParsedEvent {
	events := make([]ParsedEvent, 0, len(rawList))
	for _, raw := range rawList {
		if raw == nil {
			continue
		}
		eventType, known := NormalizeType(toString(raw["type"]))
		event := ParsedEvent{
			Type:        eventType,
			Amount:      coerceFloat(raw["amount"]),
			Side:        NormalizeSide(toString(raw["side"])),
			FeedingType: NormalizeFeedingType(toString(raw["feedingType"])),
			Duration:    coerceInt(raw["duration"]),
			Note:        strings.TrimSpace(toString(raw["note"])),
			RecordTime:  strings.TrimSpace(toString(raw["recordTime"])),
			Confidence:  clampConfidence(raw["confidence"]),
			NeedConfirm: toBool(raw["needConfirm"]) || !known,
		}
		events = append(events, event)
	}
	return events
}

func coerceFloat(value any) *float64 {
	switch v := value.(type) {
	case float64:
		if v < 0 {
			return nil
		}
		return &v
	case int:
		f := float64(v)
		if f < 0 {
			return nil
		}
		return &f
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || parsed < 0 {
			return nil
		}
		return &parsed
	default:
		return nil
	}
}

func coerceInt(value any) *int {
	f := coerceFloat(value)
	if f == nil {
		return nil
	}
	n := int(*f)
	return &n
}

func clampConfidence(value any) float64 {
	f := coerceFloat(value)
	if f == nil {
		return 0
	}
	if *f > 1 {
		return 1
	}
	return *f
}

func toBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && parsed
	default:
		return false
	}
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}
