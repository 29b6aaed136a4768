package cards

import (
	"encoding/json"
	"testing"
)

const sampleDefinition = `{
  "body": [
    {"type": "Text", "id": "greeting", "text": "Hello {{name}}"},
    {"type": "Text", "id": "vip", "text": "VIP", "when": {"state": "tier", "equals": "gold"}},
    {"type": "Text", "id": "secret", "text": "hidden", "isVisible": false},
    {"type": "Image", "url": "https://img/{{name}}.png", "alt": "{{name}}"},
    {"type": "ColumnSet", "id": "cols", "columns": [
      {"type": "Column", "width": 2, "items": [{"type": "Input.Text", "id": "nick", "placeholder": "Nick for {{name}}"}]},
      {"type": "Column", "width": "auto", "items": [{"type": "Input.Number", "id": "age", "min": 0, "max": 120}]},
      {"type": "Column", "items": [{"type": "Input.ChoiceSet", "id": "color", "choices": [{"title": "Red", "value": "r"}, {"title": "Blue"}]}]}
    ]},
    {"type": "Hologram", "id": "future"},
    "not an element",
    null
  ],
  "actions": [
    {"id": "go", "type": "Action.Submit", "title": "Go {{name}}"},
    {"id": "more", "type": "Action.OpenUrl", "url": "https://x/{{name}}"},
    {"type": "Action.Submit"}
  ]
}`

func decodeSample(t *testing.T) *Definition {
	t.Helper()
	var def Definition
	if err := json.Unmarshal([]byte(sampleDefinition), &def); err != nil {
		t.Fatalf("Failed to decode definition: %v", err)
	}
	return &def
}

// TestDecodeDefinition tests element decoding by type tag
func TestDecodeDefinition(t *testing.T) {
	def := decodeSample(t)

	if len(def.Body) != 6 {
		t.Fatalf("Expected 6 elements, got %d", len(def.Body))
	}
	if _, ok := def.Body[0].(*TextElement); !ok {
		t.Errorf("Expected first element to be text, got %T", def.Body[0])
	}
	unknown, ok := def.Body[5].(*UnknownElement)
	if !ok {
		t.Fatalf("Expected unknown element, got %T", def.Body[5])
	}
	if unknown.Kind() != "Hologram" {
		t.Errorf("Expected kind Hologram, got %s", unknown.Kind())
	}
	if len(def.Actions) != 3 {
		t.Errorf("Expected 3 actions, got %d", len(def.Actions))
	}
}

// TestDecodeNonArrayBody tests that a malformed body becomes empty
func TestDecodeNonArrayBody(t *testing.T) {
	var def Definition
	if err := json.Unmarshal([]byte(`{"body": "nope", "actions": {}}`), &def); err != nil {
		t.Fatalf("Expected lenient decode, got %v", err)
	}
	if !def.IsEmpty() {
		t.Error("Expected empty definition")
	}
}

// TestRender tests rendering of a full definition
func TestRender(t *testing.T) {
	def := decodeSample(t)
	scope := Scope{
		Data:  map[string]any{"name": "Ada"},
		State: map[string]any{"tier": "silver"},
	}

	out := Render(def, scope)

	if len(out.Body) != 3 {
		t.Fatalf("Expected 3 rendered nodes, got %d", len(out.Body))
	}
	if out.Body[0].Text != "Hello Ada" {
		t.Errorf("Expected 'Hello Ada', got '%s'", out.Body[0].Text)
	}
	if out.Body[0].ElementID != "greeting" {
		t.Errorf("Expected element id 'greeting', got '%s'", out.Body[0].ElementID)
	}
	if out.Find("vip") != nil {
		t.Error("Expected vip text to be hidden for silver tier")
	}
	if out.Find("secret") != nil {
		t.Error("Expected secret text to be hidden")
	}

	img := out.Body[1]
	if img.Kind != NodeImage || img.URL != "https://img/Ada.png" || img.Alt != "Ada" {
		t.Errorf("Unexpected image node: %+v", img)
	}

	cols := out.Find("cols")
	if cols == nil || len(cols.Children) != 3 {
		t.Fatal("Expected column set with 3 columns")
	}
	wantFlex := []string{"2 1 0%", "0 0 auto", "1 1 0%"}
	for i, col := range cols.Children {
		if col.Flex == nil || col.Flex.String() != wantFlex[i] {
			t.Errorf("Expected column %d flex '%s', got %+v", i, wantFlex[i], col.Flex)
		}
	}

	inputs := out.Inputs()
	if len(inputs) != 3 {
		t.Fatalf("Expected 3 inputs, got %d", len(inputs))
	}
	if inputs[0].Placeholder != "Nick for Ada" {
		t.Errorf("Expected templated placeholder, got '%s'", inputs[0].Placeholder)
	}
	if inputs[1].Min == nil || *inputs[1].Min != 0 || inputs[1].Max == nil || *inputs[1].Max != 120 {
		t.Errorf("Expected number bounds 0..120, got %v..%v", inputs[1].Min, inputs[1].Max)
	}
	opts := inputs[2].Options
	if len(opts) != 2 || opts[0].Value != "r" || opts[0].Title != "Red" || opts[1].Value != "Blue" {
		t.Errorf("Unexpected options: %+v", opts)
	}
}

// TestRenderActions tests action labels and templating
func TestRenderActions(t *testing.T) {
	def := decodeSample(t)
	out := Render(def, Scope{Data: map[string]any{"name": "Ada"}})

	wantTitles := []string{"Go Ada", "more", "Action"}
	for i, a := range out.Actions {
		if a.Title != wantTitles[i] {
			t.Errorf("Expected action %d title '%s', got '%s'", i, wantTitles[i], a.Title)
		}
	}
	if out.Actions[1].URL != "https://x/Ada" {
		t.Errorf("Expected templated url, got '%s'", out.Actions[1].URL)
	}
}

// TestRenderActionData tests that action data reaches the output
func TestRenderActionData(t *testing.T) {
	var def Definition
	raw := `{"actions": [
		{"id": "pick", "type": "Action.Submit", "data": {"choice": "yes"}},
		{"id": "say", "type": "Action.Submit", "data": "hi {{name}}"}
	]}`
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		t.Fatalf("Failed to decode definition: %v", err)
	}

	out := Render(&def, Scope{Data: map[string]any{"name": "Ada"}})
	if data, _ := out.Actions[0].Data.(map[string]any); data["choice"] != "yes" {
		t.Errorf("Expected choice data, got %v", out.Actions[0].Data)
	}
	if out.Actions[1].Data != "hi Ada" {
		t.Errorf("Expected templated data, got %v", out.Actions[1].Data)
	}
}

// TestRenderDoesNotMutateScope tests that rendering is read-only
func TestRenderDoesNotMutateScope(t *testing.T) {
	def := decodeSample(t)
	scope := Scope{Data: map[string]any{"name": "Ada"}, State: map[string]any{}}

	Render(def, scope)
	Render(def, scope)

	if len(scope.Data) != 1 || len(scope.State) != 0 {
		t.Error("Expected scope to be unchanged after rendering")
	}
}

// TestColumnFlex tests width to flex mapping
func TestColumnFlex(t *testing.T) {
	cases := []struct {
		width any
		want  string
	}{
		{float64(3), "3 1 0%"},
		{float64(0.5), "0.5 1 0%"},
		{"auto", "0 0 auto"},
		{"stretch", "1 1 0%"},
		{nil, "1 1 0%"},
	}
	for _, c := range cases {
		if got := ColumnFlex(c.width).String(); got != c.want {
			t.Errorf("Expected width %v to give '%s', got '%s'", c.width, c.want, got)
		}
	}
}

// TestRenderNilDefinition tests rendering nothing
func TestRenderNilDefinition(t *testing.T) {
	out := Render(nil, Scope{})
	if len(out.Body) != 0 || len(out.Actions) != 0 {
		t.Error("Expected empty output")
	}
}
