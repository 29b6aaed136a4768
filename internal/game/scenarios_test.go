package game

import (
	"context"
	"errors"
	"testing"
)

// TestScenarioImportAndPublish tests the import then publish flow
func TestScenarioImportAndPublish(t *testing.T) {
	store := NewMemoryStore()
	def := publishTestScenario(t, store)
	ctx := context.Background()

	if !def.Active {
		t.Error("Expected published scenario to be active")
	}
	if def.EntryCardUID != "agree-1" {
		t.Errorf("Expected entry card agree-1, got %s", def.EntryCardUID)
	}
	if def.Name != "Agreement" || def.Version != "1" {
		t.Errorf("Unexpected name or version: %s %s", def.Name, def.Version)
	}

	for _, uid := range []string{"agree-1", "agree-2", "agree-3"} {
		if _, err := store.GetCardDefinition(ctx, uid); err != nil {
			t.Errorf("Expected node card %s, got %v", uid, err)
		}
	}

	logs, _ := store.ListImportLogs(ctx, 0)
	if len(logs) != 1 || logs[0].Status != ImportCompleted || logs[0].SuccessCount != 3 {
		t.Errorf("Unexpected import log: %+v", logs)
	}

	svc := NewScenarios(store, testLogger())
	_, npcs, err := svc.Get(ctx, "agree")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(npcs) != 1 || npcs[0].Name != "Clerk" || npcs[0].ScenarioUID != "agree" {
		t.Errorf("Unexpected NPCs: %+v", npcs)
	}

	problems, err := svc.Publish(ctx, "agree")
	if err != nil || problems != nil {
		t.Errorf("Expected republish to be a no-op, got %v %v", problems, err)
	}
}

// TestScenarioPartialImport tests that bad nodes are skipped and logged
func TestScenarioPartialImport(t *testing.T) {
	store := NewMemoryStore()
	svc := NewScenarios(store, testLogger())
	ctx := context.Background()

	doc := `
dialogue:
  - CardNo: 1
    Text: Start
    Choices:
      - Choice: go
        LeadsTo: 2
      - Choice: leave
        LeadsTo: 3
  - CardNo: 2
    Text: Broken dead end
  - CardNo: 3
    Text: Bye
    ending: true
`
	outcome, err := svc.Import(ctx, "broken.yaml", []byte(doc), ImportOptions{UID: "broken"})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if outcome.Result.SuccessCount != 1 || outcome.Result.ErrorCount != 2 {
		t.Errorf("Expected 1 success and 1 error, got %+v", outcome.Result)
	}
	if outcome.Log.Status != ImportPartial {
		t.Errorf("Expected partial status, got %s", outcome.Log.Status)
	}
	if outcome.Scenario == nil || outcome.Scenario.Active {
		t.Fatal("Expected an inactive scenario to be saved")
	}

	problems, err := svc.Publish(ctx, "broken")
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if len(problems) == 0 {
		t.Error("Expected validation problems for the missing entry card")
	}
	def, _ := store.GetScenario(ctx, "broken")
	if def.Active {
		t.Error("Expected invalid scenario to stay inactive")
	}
	if _, err := store.GetCardDefinition(ctx, "broken-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected no node cards, got %v", err)
	}
}

// TestScenarioImportFailures tests unparseable documents
func TestScenarioImportFailures(t *testing.T) {
	store := NewMemoryStore()
	svc := NewScenarios(store, testLogger())
	ctx := context.Background()

	_, err := svc.Import(ctx, "empty.yaml", []byte(""), ImportOptions{})
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("Expected ErrInvalid, got %v", err)
	}

	logs, _ := store.ListImportLogs(ctx, 0)
	if len(logs) != 1 || logs[0].Status != ImportFailed {
		t.Errorf("Expected failed import to be logged, got %+v", logs)
	}

	outcome, err := svc.Import(ctx, "bad.yaml", []byte("- Text: no number\n"), ImportOptions{})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if outcome.Scenario != nil || outcome.Log.Status != ImportFailed {
		t.Errorf("Expected nothing saved, got %+v", outcome.Log)
	}

	recent, err := svc.ImportLogs(ctx, 1)
	if err != nil {
		t.Fatalf("ImportLogs failed: %v", err)
	}
	if len(recent) != 1 || recent[0].SourceName != "bad.yaml" {
		t.Errorf("Expected newest import first, got %+v", recent)
	}

	if _, err := svc.Publish(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
