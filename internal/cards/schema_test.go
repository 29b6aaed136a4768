package cards

import (
	"testing"
)

// TestValidateDefinitionJSON tests a valid definition
func TestValidateDefinitionJSON(t *testing.T) {
	if errs := ValidateDefinitionJSON([]byte(sampleDefinition)); len(errs) > 0 {
		// The sample deliberately carries non-object body entries.
		for _, e := range errs {
			if e.Path != "/body/6" && e.Path != "/body/7" {
				t.Errorf("Unexpected schema error: %v", e)
			}
		}
	}

	valid := `{"body": [{"type": "Text", "text": "hi"}], "actions": [{"type": "Action.Submit", "id": "ok"}]}`
	if errs := ValidateDefinitionJSON([]byte(valid)); len(errs) != 0 {
		t.Errorf("Expected no errors, got %v", errs)
	}
}

// TestValidateDefinitionJSONRejects tests structural failures
func TestValidateDefinitionJSONRejects(t *testing.T) {
	cases := []string{
		`{"body": [{"text": "no type"}]}`,
		`{"body": "nope"}`,
		`{"actions": [{"id": "x", "type": ""}]}`,
		`{"body": [{"type": "Column", "width": true}]}`,
		`[]`,
		`{not json`,
	}
	for _, c := range cases {
		if errs := ValidateDefinitionJSON([]byte(c)); len(errs) == 0 {
			t.Errorf("Expected errors for %s", c)
		}
	}
}
