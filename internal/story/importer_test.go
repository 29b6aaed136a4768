package story

import (
	"strings"
	"testing"

	"github.com/qninhdt/gamepatch/internal/cards"
)

const sampleDialogue = `
name: Gate
description: A guard blocks the gate.
npcs:
  - name: Guard
    role: gatekeeper
dialogue:
  - CardNo: 1
    Speaker: Guard
    Text: Halt! Who goes there?
    Choices:
      - Choice: A friend
        LeadsTo: 2
        Effects:
          - op: set_flag
            key: friendly
      - Choice: Pay the toll
        LeadsTo: 2
        Condition: currency.gold >= 5
        Effects:
          - op: spend_currency
            key: gold
            amount: 5
  - CardNo: 2
    Text: Pass.
    ending: true
`

// TestParseMapping tests parsing of a full dialogue document
func TestParseMapping(t *testing.T) {
	doc, err := Parse([]byte(sampleDialogue))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if doc.Name != "Gate" {
		t.Errorf("Expected name 'Gate', got '%s'", doc.Name)
	}
	if len(doc.Dialogue) != 2 {
		t.Fatalf("Expected 2 cards, got %d", len(doc.Dialogue))
	}
	if len(doc.NPCs) != 1 || doc.NPCs[0].Role != "gatekeeper" {
		t.Errorf("Unexpected NPCs: %+v", doc.NPCs)
	}
	effects := doc.Dialogue[0].Choices[1].Effects
	if len(effects) != 1 || effects[0].Op != "spend_currency" || effects[0].Amount != 5 {
		t.Errorf("Unexpected effects: %+v", effects)
	}
}

// TestParseBareListJSON tests that JSON lists are accepted
func TestParseBareListJSON(t *testing.T) {
	doc, err := Parse([]byte(`[{"CardNo": 1, "Text": "Hi", "ending": true}]`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(doc.Dialogue) != 1 || !doc.Dialogue[0].Ending {
		t.Errorf("Unexpected dialogue: %+v", doc.Dialogue)
	}
}

// TestParseRejects tests unusable documents
func TestParseRejects(t *testing.T) {
	for _, src := range []string{"", "just a string", "dialogue: []", "{bad: [yaml"} {
		if _, err := Parse([]byte(src)); err == nil {
			t.Errorf("Expected parse error for %q", src)
		}
	}
}

// TestImportPartialFailure tests that bad nodes do not block good ones
func TestImportPartialFailure(t *testing.T) {
	one, two, three := 1, 2, 3
	doc := &Document{Dialogue: []ImportNode{
		{CardNo: &one, Choices: []ImportChoice{{Choice: "a", LeadsTo: &two}}},
		{CardNo: &three, Ending: true},
	}}

	g, result := Import(doc)

	if result.SuccessCount != 1 || result.ErrorCount != 1 {
		t.Fatalf("Expected 1 success and 1 error, got %d and %d", result.SuccessCount, result.ErrorCount)
	}
	nodeErr := result.Errors[0]
	if nodeErr.Index != 0 || nodeErr.CardNo == nil || *nodeErr.CardNo != 1 {
		t.Errorf("Expected error for index 0 card 1, got %+v", nodeErr)
	}
	if !strings.Contains(nodeErr.Error, "leads to missing card 2") {
		t.Errorf("Expected dangling edge error, got '%s'", nodeErr.Error)
	}
	if g.Node(3) == nil {
		t.Error("Expected card 3 to be imported")
	}
	if g.Node(1) != nil {
		t.Error("Expected card 1 not to be imported")
	}
}

// TestImportRejectsEdgesToRejectedCards tests that rejection spreads to
// nodes pointing at rejected nodes
func TestImportRejectsEdgesToRejectedCards(t *testing.T) {
	one, two, three, four := 1, 2, 3, 4
	doc := &Document{Dialogue: []ImportNode{
		{CardNo: &one, Choices: []ImportChoice{{Choice: "go", LeadsTo: &two}, {Choice: "end", LeadsTo: &four}}},
		{CardNo: &two, Choices: []ImportChoice{{Choice: "on", LeadsTo: &three}}},
		{CardNo: &three, Text: "dead end"},
		{CardNo: &four, Ending: true},
	}}

	g, result := Import(doc)

	if result.SuccessCount != 1 || result.ErrorCount != 3 {
		t.Fatalf("Expected 1 success and 3 errors, got %d and %d: %+v", result.SuccessCount, result.ErrorCount, result.Errors)
	}
	for i, e := range result.Errors {
		if e.Index != i {
			t.Errorf("Expected errors in document order, got index %d at %d", e.Index, i)
		}
	}
	if !strings.Contains(result.Errors[0].Error, "leads to rejected card 2") {
		t.Errorf("Expected card 1 rejected for card 2, got '%s'", result.Errors[0].Error)
	}
	if !strings.Contains(result.Errors[1].Error, "leads to rejected card 3") {
		t.Errorf("Expected card 2 rejected for card 3, got '%s'", result.Errors[1].Error)
	}
	if g.Node(1) != nil || g.Node(2) != nil || g.Node(4) == nil {
		t.Errorf("Expected only card 4 imported, got %v", g.Nodes())
	}
	for _, p := range g.Validate() {
		if strings.Contains(p.Error(), "leads to missing card") {
			t.Errorf("Expected no dangling edge, got %s", p.Error())
		}
	}
}

// TestImportNodeChecks tests each per-node rejection
func TestImportNodeChecks(t *testing.T) {
	one, two := 1, 2
	doc := &Document{Dialogue: []ImportNode{
		{Text: "no number", Ending: true},
		{CardNo: &one, Text: "dead end"},
		{CardNo: &two, Ending: true, Choices: []ImportChoice{{Choice: "x", LeadsTo: &one}}},
		{CardNo: &two, Choices: []ImportChoice{{Choice: "", LeadsTo: &one}}},
		{CardNo: &two, Choices: []ImportChoice{{Choice: "x"}}},
		{CardNo: &two, Choices: []ImportChoice{{Choice: "x", LeadsTo: &one}, {Choice: "x", LeadsTo: &one}}},
		{CardNo: &two, Choices: []ImportChoice{{Choice: "x", LeadsTo: &one, Condition: "=="}}},
		{CardNo: &two, Ending: true},
		{CardNo: &two, Ending: true},
	}}

	_, result := Import(doc)

	if result.SuccessCount != 1 {
		t.Errorf("Expected 1 success, got %d", result.SuccessCount)
	}
	if result.ErrorCount != 8 {
		t.Fatalf("Expected 8 errors, got %d: %+v", result.ErrorCount, result.Errors)
	}
	wants := []string{
		"missing CardNo",
		"dead end",
		"ending card must not offer choices",
		"has no label",
		"has no LeadsTo",
		"duplicate choice label",
		"invalid condition",
		"duplicate CardNo 2",
	}
	for i, want := range wants {
		if !strings.Contains(result.Errors[i].Error, want) {
			t.Errorf("Expected error %d to mention %q, got '%s'", i, want, result.Errors[i].Error)
		}
	}
	if result.Total() != 9 {
		t.Errorf("Expected 9 records, got %d", result.Total())
	}
}

// TestImportThenValidate tests that a clean import publishes
func TestImportThenValidate(t *testing.T) {
	doc, err := Parse([]byte(sampleDialogue))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	g, result := Import(doc)
	if result.ErrorCount != 0 {
		t.Fatalf("Expected clean import, got %+v", result.Errors)
	}
	if g.Entry != 1 {
		t.Errorf("Expected entry 1, got %d", g.Entry)
	}
	if errs := g.Validate(); len(errs) != 0 {
		t.Errorf("Expected valid graph, got %v", errs)
	}
}

// TestNodeCard tests the card generated for a node
func TestNodeCard(t *testing.T) {
	g := createTestGraph(t)

	def := NodeCard("intro", "1", g.Node(1))

	if def.UID != "intro-1" {
		t.Errorf("Expected uid 'intro-1', got '%s'", def.UID)
	}
	if len(def.Definition.Body) != 1 {
		t.Errorf("Expected one text element, got %d", len(def.Definition.Body))
	}
	if len(def.Definition.Actions) != 2 {
		t.Fatalf("Expected 2 actions, got %d", len(def.Definition.Actions))
	}
	a := def.Definition.Actions[0]
	if a.Type != cards.ActionSubmit || a.Title != "yes" {
		t.Errorf("Unexpected action: %+v", a)
	}
	if label := ChoiceLabel(cards.ActionRef{ID: a.ID, Data: a.Data}, &def.Definition); label != "yes" {
		t.Errorf("Expected label 'yes', got '%s'", label)
	}
	if label := ChoiceLabel(cards.ActionRef{ID: "choice-2"}, &def.Definition); label != "no" {
		t.Errorf("Expected title fallback 'no', got '%s'", label)
	}

	all := NodeCards("intro", "1", g)
	if len(all) != 3 || all[2].UID != "intro-3" {
		t.Errorf("Unexpected node cards: %d", len(all))
	}
}

// TestFilterOffered tests hiding choices whose guards fail
func TestFilterOffered(t *testing.T) {
	g := createTestGraph(t)
	def := NodeCard("intro", "1", g.Node(1))

	filtered := FilterOffered(def.Definition, []Choice{{Label: "no"}})

	if len(filtered.Actions) != 1 || filtered.Actions[0].Title != "no" {
		t.Errorf("Expected only 'no', got %+v", filtered.Actions)
	}
	if len(def.Definition.Actions) != 2 {
		t.Error("Expected original definition to be untouched")
	}
}
