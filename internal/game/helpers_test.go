package game

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

// testDialogue is A(1) -> {yes: B(2), no: C(3)}, B ending, C -> {back: A, bribe: B}
const testDialogue = `
name: Agreement
description: A short yes or no.
npcs:
  - name: Clerk
    role: host
dialogue:
  - CardNo: 1
    Speaker: Clerk
    Text: "Do you agree?"
    OnEnter:
      - op: reach_milestone
        key: met_clerk
    Choices:
      - Choice: "yes"
        LeadsTo: 2
        Effects:
          - op: set_flag
            key: agreed
      - Choice: "no"
        LeadsTo: 3
        Effects:
          - op: add_item
            key: doubt
  - CardNo: 2
    Text: Great.
    ending: true
  - CardNo: 3
    Text: "Think again. Doubts: {{ state.items.doubt }}"
    Choices:
      - Choice: back
        LeadsTo: 1
      - Choice: bribe
        LeadsTo: 2
        Condition: currency.gold >= 5
        Effects:
          - op: spend_currency
            key: gold
            amount: 5
`

// testLogger discards log output
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// publishTestScenario imports and publishes testDialogue under uid "agree"
func publishTestScenario(t *testing.T, store Store) *ScenarioDefinition {
	t.Helper()
	ctx := context.Background()
	svc := NewScenarios(store, testLogger())

	outcome, err := svc.Import(ctx, "agree.yaml", []byte(testDialogue), ImportOptions{UID: "agree"})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if outcome.Result.ErrorCount != 0 {
		t.Fatalf("Expected clean import, got %+v", outcome.Result.Errors)
	}

	problems, err := svc.Publish(ctx, "agree")
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if len(problems) != 0 {
		t.Fatalf("Expected publishable scenario, got %v", problems)
	}

	def, err := store.GetScenario(ctx, "agree")
	if err != nil {
		t.Fatalf("GetScenario failed: %v", err)
	}
	return def
}

// newTestDesk builds a desk over a fresh memory store
func newTestDesk(t *testing.T) (*CardDesk, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	runner := NewRunner(store, NewLockManager(), testLogger())
	return NewCardDesk(store, runner, testLogger(), "greeter"), store
}
