package cards

import (
	"testing"
)

// TestFlattenTheme tests token flattening into custom properties
func TestFlattenTheme(t *testing.T) {
	tokens := map[string]any{
		"colors": map[string]any{
			"primary": "#336699",
			"text": map[string]any{
				"muted": "#999",
			},
		},
		"radius":  float64(4),
		"fonts":   []any{"Inter", "sans-serif"},
		"spacing": map[string]any{},
	}

	theme := FlattenTheme(tokens)

	want := map[string]string{
		"--gp-colors-primary":    "#336699",
		"--gp-colors-text-muted": "#999",
		"--gp-radius":            "4",
		"--gp-fonts":             "Inter,sans-serif",
	}
	if len(theme) != len(want) {
		t.Errorf("Expected %d properties, got %d: %v", len(want), len(theme), theme)
	}
	for name, value := range want {
		if theme[name] != value {
			t.Errorf("Expected %s = '%s', got '%s'", name, value, theme[name])
		}
	}
}

// TestThemeStyle tests the sorted inline style rendering
func TestThemeStyle(t *testing.T) {
	theme := FlattenTheme(map[string]any{"b": "2", "a": "1"})

	if got := theme.Style(); got != "--gp-a: 1; --gp-b: 2;" {
		t.Errorf("Unexpected style: '%s'", got)
	}
	if got := FlattenTheme(nil).Style(); got != "" {
		t.Errorf("Expected empty style, got '%s'", got)
	}
}
