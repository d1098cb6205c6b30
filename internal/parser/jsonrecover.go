package parser

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	braceSpanRe = regexp.MustCompile(`(?s)\{.*\}`)
)

// RecoverEventList digs an event array out of arbitrary model output. Models
// asked for JSON still wrap it in prose or code fences often enough that a
// strict single decode would throw away usable answers, so several shapes are
// tried in order. Returns nil when nothing parseable is found; the caller
// then falls back to rule-based extraction.
func RecoverEventList(content string) []map[string]any {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil
	}

	if list := decodeList(trimmed); list != nil {
		return list
	}

	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		if list := decodeList(trimmed); list != nil {
			return list
		}
	}
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		if list := decodeList(trimmed); list != nil {
			return list
		}
	}

	if match := codeBlockRe.FindStringSubmatch(trimmed); match != nil {
		if list := decodeList(strings.TrimSpace(match[1])); list != nil {
			return list
		}
	}

	if span := braceSpanRe.FindString(trimmed); span != "" {
		if list := decodeList(span); list != nil {
			return list
		}
	}

	return nil
}

// decodeList parses raw JSON into a list of objects, wrapping a lone object
// into a one-element list. Non-object array members are dropped.
func decodeList(raw string) []map[string]any {
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil
	}
	switch v := parsed.(type) {
	case []any:
		list := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if obj, ok := item.(map[string]any); ok {
				list = append(list, obj)
			}
		}
		if len(list) == 0 {
			return nil
		}
		return list
	case map[string]any:
		return []map[string]any{v}
	default:
		return nil
	}
}
