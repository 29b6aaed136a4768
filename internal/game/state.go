package game

import (
	"encoding/json"
	"fmt"
	"time"
)

// HistoryEntry records one transition of a scenario run
type HistoryEntry struct {
	CardNo  int       `json:"cardNo"`
	CardUID string    `json:"cardUid"`
	Choice  string    `json:"choice"`
	LeadsTo int       `json:"leadsTo"`
	At      time.Time `json:"at"`
}

// Inventory holds items and currencies collected during a run
type Inventory struct {
	Items    map[string]float64 `json:"items"`
	Currency map[string]float64 `json:"currency"`
}

// QuestFlags holds boolean flags and reached milestones
type QuestFlags struct {
	Flags      map[string]bool      `json:"flags"`
	Milestones map[string]time.Time `json:"milestones"`
}

// RunState is everything a scenario run remembers
type RunState struct {
	Memory    map[string]any `json:"memory"`    // free-form notes kept by effects
	Variables map[string]any `json:"variables"` // author variables read by templates and guards
	History   []HistoryEntry `json:"history"`   // one entry per transition

	Inventory Inventory  `json:"inventory"`
	Quest     QuestFlags `json:"quest"`
}

// NewRunState creates an empty run state
func NewRunState() *RunState {
	return &RunState{
		Memory:    make(map[string]any),
		Variables: make(map[string]any),
		History:   make([]HistoryEntry, 0),
		Inventory: Inventory{
			Items:    make(map[string]float64),
			Currency: make(map[string]float64),
		},
		Quest: QuestFlags{
			Flags:      make(map[string]bool),
			Milestones: make(map[string]time.Time),
		},
	}
}

// ensure fills nil maps left by decoding partial state
func (s *RunState) ensure() {
	if s.Memory == nil {
		s.Memory = make(map[string]any)
	}
	if s.Variables == nil {
		s.Variables = make(map[string]any)
	}
	if s.History == nil {
		s.History = make([]HistoryEntry, 0)
	}
	if s.Inventory.Items == nil {
		s.Inventory.Items = make(map[string]float64)
	}
	if s.Inventory.Currency == nil {
		s.Inventory.Currency = make(map[string]float64)
	}
	if s.Quest.Flags == nil {
		s.Quest.Flags = make(map[string]bool)
	}
	if s.Quest.Milestones == nil {
		s.Quest.Milestones = make(map[string]time.Time)
	}
}

// Clone returns a copy that can be changed without touching s
func (s *RunState) Clone() *RunState {
	c := NewRunState()
	for k, v := range s.Memory {
		c.Memory[k] = v
	}
	for k, v := range s.Variables {
		c.Variables[k] = v
	}
	c.History = append(c.History, s.History...)
	for k, v := range s.Inventory.Items {
		c.Inventory.Items[k] = v
	}
	for k, v := range s.Inventory.Currency {
		c.Inventory.Currency[k] = v
	}
	for k, v := range s.Quest.Flags {
		c.Quest.Flags[k] = v
	}
	for k, v := range s.Quest.Milestones {
		c.Quest.Milestones[k] = v
	}
	return c
}

// GetItem returns the count of an item
func (s *RunState) GetItem(key string) float64 {
	return s.Inventory.Items[key]
}

// AddItem adds n of an item
func (s *RunState) AddItem(key string, n float64) {
	s.Inventory.Items[key] += n
}

// RemoveItem removes n of an item. Removing more than is held fails.
func (s *RunState) RemoveItem(key string, n float64) error {
	have := s.Inventory.Items[key]
	if have < n {
		return fmt.Errorf("not enough %s: have %g, need %g", key, have, n)
	}
	if have == n {
		delete(s.Inventory.Items, key)
		return nil
	}
	s.Inventory.Items[key] = have - n
	return nil
}

// GetCurrency returns a currency balance
func (s *RunState) GetCurrency(key string) float64 {
	return s.Inventory.Currency[key]
}

// AddCurrency credits a currency
func (s *RunState) AddCurrency(key string, amount float64) {
	s.Inventory.Currency[key] += amount
}

// SpendCurrency debits a currency. Overspending fails.
func (s *RunState) SpendCurrency(key string, amount float64) error {
	have := s.Inventory.Currency[key]
	if have < amount {
		return fmt.Errorf("not enough %s: have %g, need %g", key, have, amount)
	}
	s.Inventory.Currency[key] = have - amount
	return nil
}

// HasFlag checks a quest flag
func (s *RunState) HasFlag(key string) bool {
	return s.Quest.Flags[key]
}

// SetFlag sets a quest flag
func (s *RunState) SetFlag(key string) {
	s.Quest.Flags[key] = true
}

// ClearFlag clears a quest flag
func (s *RunState) ClearFlag(key string) {
	delete(s.Quest.Flags, key)
}

// ReachMilestone records the first time a milestone is reached
func (s *RunState) ReachMilestone(key string, at time.Time) {
	if _, ok := s.Quest.Milestones[key]; ok {
		return
	}
	s.Quest.Milestones[key] = at
}

// SetVariable sets an author variable
func (s *RunState) SetVariable(key string, value any) {
	s.Variables[key] = value
}

// Remember stores a memory note
func (s *RunState) Remember(key string, value any) {
	s.Memory[key] = value
}

// AppendHistory records a transition
func (s *RunState) AppendHistory(entry HistoryEntry) {
	s.History = append(s.History, entry)
}

// ConditionEnv is the environment choice guards are evaluated against
func (s *RunState) ConditionEnv() map[string]interface{} {
	milestones := make(map[string]interface{}, len(s.Quest.Milestones))
	for k := range s.Quest.Milestones {
		milestones[k] = true
	}
	flags := make(map[string]interface{}, len(s.Quest.Flags))
	for k, v := range s.Quest.Flags {
		flags[k] = v
	}
	items := make(map[string]interface{}, len(s.Inventory.Items))
	for k, v := range s.Inventory.Items {
		items[k] = v
	}
	currency := make(map[string]interface{}, len(s.Inventory.Currency))
	for k, v := range s.Inventory.Currency {
		currency[k] = v
	}

	return map[string]interface{}{
		"vars":       s.Variables,
		"memory":     s.Memory,
		"flags":      flags,
		"milestones": milestones,
		"items":      items,
		"currency":   currency,
		"steps":      len(s.History),
	}
}

// TemplateState is the card state a run exposes to its node cards. The
// variables sit at the top level so {{ state.name }} works; the rest is
// nested under fixed keys.
func (s *RunState) TemplateState() map[string]any {
	out := make(map[string]any, len(s.Variables)+5)
	for k, v := range s.Variables {
		out[k] = v
	}
	env := s.ConditionEnv()
	for _, key := range []string{"memory", "flags", "milestones", "items", "currency"} {
		out[key] = env[key]
	}
	out["steps"] = float64(len(s.History))
	return out
}

// Serialize converts state to JSON
func (s *RunState) Serialize() ([]byte, error) {
	return json.Marshal(s)
}

// DeserializeRunState restores state from JSON
func DeserializeRunState(data []byte) (*RunState, error) {
	s := NewRunState()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	s.ensure()
	return s, nil
}
