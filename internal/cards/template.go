package cards

import (
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^}]+)\s*\}\}`)

// Interpolate replaces every {{ expr }} placeholder in str with the
// resolved value. Unresolved and null values become empty text.
func (s Scope) Interpolate(str string) string {
	if !strings.Contains(str, "{{") {
		return str
	}
	return placeholderPattern.ReplaceAllStringFunc(str, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		if len(sub) < 2 {
			return ""
		}
		return displayString(s.Resolve(strings.TrimSpace(sub[1])))
	})
}

// Apply interpolates strings and returns any other value unchanged
func (s Scope) Apply(v any) any {
	if str, ok := v.(string); ok {
		return s.Interpolate(str)
	}
	return v
}
