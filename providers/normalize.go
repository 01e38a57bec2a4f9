package providers

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-contact-sync/core"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// StringProp reads a scalar property as a trimmed string. Missing, null and
// blank values are nil.
func StringProp(props map[string]any, key string) *string {
	if props == nil {
		return nil
	}
	return core.StringPtr(scalarString(props[key]))
}

// IDString renders an id that may arrive as a string or a JSON number.
func IDString(value any) string {
	return strings.TrimSpace(scalarString(value))
}

// FirstListValue reads field from the first element of a list property,
// such as emails[0].value.
func FirstListValue(props map[string]any, key string, field string) *string {
	if props == nil {
		return nil
	}
	list, ok := props[key].([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	entry, ok := list[0].(map[string]any)
	if !ok {
		return core.StringPtr(scalarString(list[0]))
	}
	return core.StringPtr(scalarString(entry[field]))
}

// TimeProp parses a timestamp property. Epoch milliseconds are accepted.
func TimeProp(props map[string]any, key string) *time.Time {
	if props == nil {
		return nil
	}
	return ParseTime(props[key])
}

func ParseTime(value any) *time.Time {
	text := strings.TrimSpace(scalarString(value))
	if text == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, text); err == nil {
			parsed = parsed.UTC()
			return &parsed
		}
	}
	if millis, err := strconv.ParseInt(text, 10, 64); err == nil && millis > 0 {
		parsed := time.UnixMilli(millis).UTC()
		return &parsed
	}
	return nil
}

// CloneProps copies the top level of a property map.
func CloneProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for key, value := range props {
		out[key] = value
	}
	return out
}

func scalarString(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case json.Number:
		return typed.String()
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return ""
	}
}
