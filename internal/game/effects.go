package game

import (
	"fmt"
	"time"

	"github.com/qninhdt/gamepatch/internal/story"
)

// Effect operations
const (
	OpAddItem        = "add_item"
	OpRemoveItem     = "remove_item"
	OpAddCurrency    = "add_currency"
	OpSpendCurrency  = "spend_currency"
	OpSetFlag        = "set_flag"
	OpClearFlag      = "clear_flag"
	OpReachMilestone = "reach_milestone"
	OpSetVariable    = "set_variable"
	OpRemember       = "remember"
)

// maxEffectAmount caps a single item or currency change
const maxEffectAmount = 1_000_000

// EffectResult summarizes what a batch of effects changed
type EffectResult struct {
	ItemChanges     map[string]float64
	CurrencyChanges map[string]float64
	FlagsSet        []string
}

func newEffectResult() *EffectResult {
	return &EffectResult{
		ItemChanges:     make(map[string]float64),
		CurrencyChanges: make(map[string]float64),
	}
}

// EffectExecutor applies dialogue effects to a run state
type EffectExecutor struct {
	state *RunState
	now   func() time.Time
}

// NewEffectExecutor creates a new executor
func NewEffectExecutor(state *RunState, now func() time.Time) *EffectExecutor {
	if now == nil {
		now = time.Now
	}
	return &EffectExecutor{state: state, now: now}
}

// Execute applies one effect
func (e *EffectExecutor) Execute(effect story.Effect) (*EffectResult, error) {
	result := newEffectResult()
	if err := e.apply(effect, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ExecuteAll applies effects in order and stops at the first failure.
// Callers run it against a clone so a failure leaves no partial change.
func (e *EffectExecutor) ExecuteAll(effects []story.Effect) (*EffectResult, error) {
	result := newEffectResult()
	for _, effect := range effects {
		if err := e.apply(effect, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (e *EffectExecutor) apply(effect story.Effect, result *EffectResult) error {
	switch effect.Op {
	case OpAddItem:
		return e.addItem(effect, result)
	case OpRemoveItem:
		return e.removeItem(effect, result)
	case OpAddCurrency:
		return e.addCurrency(effect, result)
	case OpSpendCurrency:
		return e.spendCurrency(effect, result)
	case OpSetFlag:
		return e.setFlag(effect, result)
	case OpClearFlag:
		return e.clearFlag(effect)
	case OpReachMilestone:
		return e.reachMilestone(effect)
	case OpSetVariable:
		return e.setVariable(effect)
	case OpRemember:
		return e.remember(effect)
	default:
		// Unknown operations are ignored so newer documents still run
		return nil
	}
}

func effectCount(effect story.Effect) (float64, error) {
	n := effect.Amount
	if n == 0 {
		n = 1
	}
	if n < 0 || n > maxEffectAmount {
		return 0, fmt.Errorf("%s: amount out of range: %v", effect.Op, effect.Amount)
	}
	return n, nil
}

func effectAmount(effect story.Effect) (float64, error) {
	if effect.Amount <= 0 || effect.Amount > maxEffectAmount {
		return 0, fmt.Errorf("%s: amount out of range: %v", effect.Op, effect.Amount)
	}
	return effect.Amount, nil
}

func (e *EffectExecutor) addItem(effect story.Effect, result *EffectResult) error {
	if effect.Key == "" {
		return fmt.Errorf("add_item: missing key")
	}
	n, err := effectCount(effect)
	if err != nil {
		return err
	}
	e.state.AddItem(effect.Key, n)
	result.ItemChanges[effect.Key] += n
	return nil
}

func (e *EffectExecutor) removeItem(effect story.Effect, result *EffectResult) error {
	if effect.Key == "" {
		return fmt.Errorf("remove_item: missing key")
	}
	n, err := effectCount(effect)
	if err != nil {
		return err
	}
	if err := e.state.RemoveItem(effect.Key, n); err != nil {
		return fmt.Errorf("remove_item: %w", err)
	}
	result.ItemChanges[effect.Key] -= n
	return nil
}

func (e *EffectExecutor) addCurrency(effect story.Effect, result *EffectResult) error {
	if effect.Key == "" {
		return fmt.Errorf("add_currency: missing key")
	}
	amount, err := effectAmount(effect)
	if err != nil {
		return err
	}
	e.state.AddCurrency(effect.Key, amount)
	result.CurrencyChanges[effect.Key] += amount
	return nil
}

func (e *EffectExecutor) spendCurrency(effect story.Effect, result *EffectResult) error {
	if effect.Key == "" {
		return fmt.Errorf("spend_currency: missing key")
	}
	amount, err := effectAmount(effect)
	if err != nil {
		return err
	}
	if err := e.state.SpendCurrency(effect.Key, amount); err != nil {
		return fmt.Errorf("spend_currency: %w", err)
	}
	result.CurrencyChanges[effect.Key] -= amount
	return nil
}

func (e *EffectExecutor) setFlag(effect story.Effect, result *EffectResult) error {
	if effect.Key == "" {
		return fmt.Errorf("set_flag: missing key")
	}
	e.state.SetFlag(effect.Key)
	result.FlagsSet = append(result.FlagsSet, effect.Key)
	return nil
}

func (e *EffectExecutor) clearFlag(effect story.Effect) error {
	if effect.Key == "" {
		return fmt.Errorf("clear_flag: missing key")
	}
	e.state.ClearFlag(effect.Key)
	return nil
}

func (e *EffectExecutor) reachMilestone(effect story.Effect) error {
	if effect.Key == "" {
		return fmt.Errorf("reach_milestone: missing key")
	}
	e.state.ReachMilestone(effect.Key, e.now())
	return nil
}

func (e *EffectExecutor) setVariable(effect story.Effect) error {
	if effect.Key == "" {
		return fmt.Errorf("set_variable: missing key")
	}
	e.state.SetVariable(effect.Key, effect.Value)
	return nil
}

func (e *EffectExecutor) remember(effect story.Effect) error {
	if effect.Key == "" {
		return fmt.Errorf("remember: missing key")
	}
	e.state.Remember(effect.Key, effect.Value)
	return nil
}
