package game

import (
	"strings"
	"testing"
	"time"

	"github.com/qninhdt/gamepatch/internal/story"
)

// TestExecuteAll tests applying a batch of effects
func TestExecuteAll(t *testing.T) {
	state := NewRunState()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	exec := NewEffectExecutor(state, func() time.Time { return at })

	result, err := exec.ExecuteAll([]story.Effect{
		{Op: OpAddItem, Key: "key"},
		{Op: OpAddItem, Key: "key", Amount: 2},
		{Op: OpRemoveItem, Key: "key"},
		{Op: OpAddCurrency, Key: "gold", Amount: 10},
		{Op: OpSpendCurrency, Key: "gold", Amount: 3},
		{Op: OpSetFlag, Key: "met"},
		{Op: OpReachMilestone, Key: "gate"},
		{Op: OpSetVariable, Key: "mood", Value: "calm"},
		{Op: OpRemember, Key: "last", Value: "hello"},
		{Op: "teleport", Key: "moon"},
	})
	if err != nil {
		t.Fatalf("ExecuteAll failed: %v", err)
	}

	if state.GetItem("key") != 2 {
		t.Errorf("Expected 2 keys, got %v", state.GetItem("key"))
	}
	if state.GetCurrency("gold") != 7 {
		t.Errorf("Expected 7 gold, got %v", state.GetCurrency("gold"))
	}
	if !state.HasFlag("met") {
		t.Error("Expected met flag")
	}
	if !state.Quest.Milestones["gate"].Equal(at) {
		t.Errorf("Expected milestone at %v, got %v", at, state.Quest.Milestones["gate"])
	}
	if state.Variables["mood"] != "calm" || state.Memory["last"] != "hello" {
		t.Error("Expected variable and memory to be set")
	}

	if result.ItemChanges["key"] != 2 {
		t.Errorf("Expected item change 2, got %v", result.ItemChanges["key"])
	}
	if result.CurrencyChanges["gold"] != 7 {
		t.Errorf("Expected currency change 7, got %v", result.CurrencyChanges["gold"])
	}
	if len(result.FlagsSet) != 1 {
		t.Errorf("Expected one flag set, got %v", result.FlagsSet)
	}
}

// TestExecuteErrors tests effect validation
func TestExecuteErrors(t *testing.T) {
	cases := []struct {
		effect story.Effect
		want   string
	}{
		{story.Effect{Op: OpAddItem}, "add_item: missing key"},
		{story.Effect{Op: OpAddItem, Key: "x", Amount: -1}, "amount out of range"},
		{story.Effect{Op: OpRemoveItem, Key: "x"}, "remove_item: not enough x"},
		{story.Effect{Op: OpAddCurrency, Key: "gold"}, "amount out of range"},
		{story.Effect{Op: OpSpendCurrency, Key: "gold", Amount: 1}, "spend_currency: not enough gold"},
		{story.Effect{Op: OpSetFlag}, "set_flag: missing key"},
		{story.Effect{Op: OpClearFlag}, "clear_flag: missing key"},
		{story.Effect{Op: OpReachMilestone}, "reach_milestone: missing key"},
		{story.Effect{Op: OpSetVariable}, "set_variable: missing key"},
		{story.Effect{Op: OpRemember}, "remember: missing key"},
	}

	for _, c := range cases {
		exec := NewEffectExecutor(NewRunState(), nil)
		_, err := exec.Execute(c.effect)
		if err == nil {
			t.Errorf("Expected error for %+v", c.effect)
			continue
		}
		if !strings.Contains(err.Error(), c.want) {
			t.Errorf("Expected error containing '%s', got '%v'", c.want, err)
		}
	}
}
