package cards

import (
	"sort"
	"strings"
)

// ThemePrefix starts every theme custom property
const ThemePrefix = "--gp-"

// Theme maps custom property names to values
type Theme map[string]string

// Property is one theme custom property
type Property struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FlattenTheme turns nested theme tokens into custom properties. Nested
// object keys are joined with "-", and arrays and scalars are leaves.
func FlattenTheme(tokens map[string]any) Theme {
	theme := Theme{}
	flattenTokens(theme, tokens, "")
	return theme
}

func flattenTokens(theme Theme, tokens map[string]any, prefix string) {
	for key, value := range tokens {
		path := key
		if prefix != "" {
			path = prefix + "-" + key
		}
		if nested, ok := value.(map[string]any); ok {
			flattenTokens(theme, nested, path)
			continue
		}
		theme[ThemePrefix+path] = Stringify(value)
	}
}

// Properties returns the theme sorted by property name
func (t Theme) Properties() []Property {
	props := make([]Property, 0, len(t))
	for name, value := range t {
		props = append(props, Property{Name: name, Value: value})
	}
	sort.Slice(props, func(i, j int) bool { return props[i].Name < props[j].Name })
	return props
}

// Style renders the theme as an inline style declaration list
func (t Theme) Style() string {
	var b strings.Builder
	for i, p := range t.Properties() {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p.Name)
		b.WriteString(": ")
		b.WriteString(p.Value)
		b.WriteByte(';')
	}
	return b.String()
}
