package cards

import (
	"bytes"
	"strings"
	"testing"
)

// TestWriteHTML tests the HTML rendering of an output
func TestWriteHTML(t *testing.T) {
	def := decodeSample(t)
	out := Render(def, Scope{Data: map[string]any{"name": "<Ada>"}})
	out.Find("greeting").Hidden = true
	out.Find("cols").Children[0].Hidden = true

	var buf bytes.Buffer
	if err := WriteHTML(&buf, out, FlattenTheme(map[string]any{"color": "red"})); err != nil {
		t.Fatalf("WriteHTML failed: %v", err)
	}
	html := buf.String()

	for _, want := range []string{
		`class="gp-card"`,
		`style="--gp-color: red;"`,
		`data-element-id="greeting"`,
		`data-element-id="greeting" style="display: none;"`,
		`style="flex: 2 1 0%; display: none;"`,
		`Hello &lt;Ada&gt;`,
		`data-input-id="nick"`,
		`<option value="r">Red</option>`,
		`data-action-id="go"`,
	} {
		if !strings.Contains(html, want) {
			t.Errorf("Expected HTML to contain %q:\n%s", want, html)
		}
	}
}

// TestWriteMessageHTML tests standalone messages
func TestWriteMessageHTML(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessageHTML(&buf, MessageAck, "Response saved!"); err != nil {
		t.Fatalf("WriteMessageHTML failed: %v", err)
	}
	if buf.String() != `<div class="gp-card-thanks">Response saved!</div>` {
		t.Errorf("Unexpected message HTML: %s", buf.String())
	}
}
