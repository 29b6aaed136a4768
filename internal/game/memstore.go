package game

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/qninhdt/gamepatch/internal/cards"
)

// MemoryStore is a Store kept in process memory. Records are copied in
// and out so callers never share state with the store.
type MemoryStore struct {
	mu sync.RWMutex

	cardDefs   map[string]*cards.CardDefinition
	themes     map[string]*ThemePack
	bots       map[string]*Bot
	instances  map[string]*CardInstance
	responses  map[string][]*CardResponse
	scenarios  map[string]*ScenarioDefinition
	npcs       map[string][]*NpcProfile
	runs       map[string]*ScenarioRun
	importLogs []*ImportLog

	nextID int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cardDefs:  make(map[string]*cards.CardDefinition),
		themes:    make(map[string]*ThemePack),
		bots:      make(map[string]*Bot),
		instances: make(map[string]*CardInstance),
		responses: make(map[string][]*CardResponse),
		scenarios: make(map[string]*ScenarioDefinition),
		npcs:      make(map[string][]*NpcProfile),
		runs:      make(map[string]*ScenarioRun),
	}
}

func cloneJSON[T any](v *T) *T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("clone %T: %v", v, err))
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("clone %T: %v", v, err))
	}
	return out
}

func cloneRun(run *ScenarioRun) *ScenarioRun {
	c := *run
	if run.State != nil {
		c.State = run.State.Clone()
	}
	if run.CompletedAt != nil {
		t := *run.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// SaveCardDefinition stores a new card. Existing uids are never replaced.
func (m *MemoryStore) SaveCardDefinition(ctx context.Context, def *cards.CardDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.cardDefs[def.UID]; exists {
		return fmt.Errorf("card %s: %w", def.UID, ErrConflict)
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now()
	}
	m.cardDefs[def.UID] = cloneJSON(def)
	return nil
}

// GetCardDefinition loads a card by uid
func (m *MemoryStore) GetCardDefinition(ctx context.Context, uid string) (*cards.CardDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	def, ok := m.cardDefs[uid]
	if !ok {
		return nil, fmt.Errorf("card %s: %w", uid, ErrNotFound)
	}
	return cloneJSON(def), nil
}

// SaveThemePack creates or replaces a theme pack by slug
func (m *MemoryStore) SaveThemePack(ctx context.Context, pack *ThemePack) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.themes[pack.Slug]; ok {
		pack.CreatedAt = existing.CreatedAt
	} else if pack.CreatedAt.IsZero() {
		pack.CreatedAt = time.Now()
	}
	m.themes[pack.Slug] = cloneJSON(pack)
	return nil
}

// GetThemePack loads a theme pack by slug
func (m *MemoryStore) GetThemePack(ctx context.Context, slug string) (*ThemePack, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pack, ok := m.themes[slug]
	if !ok {
		return nil, fmt.Errorf("theme %s: %w", slug, ErrNotFound)
	}
	return cloneJSON(pack), nil
}

// SaveBot creates or replaces a bot. Names are unique.
func (m *MemoryStore) SaveBot(ctx context.Context, bot *Bot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, other := range m.bots {
		if other.Name == bot.Name && id != bot.ID {
			return fmt.Errorf("bot name %s: %w", bot.Name, ErrConflict)
		}
	}
	if bot.CreatedAt.IsZero() {
		bot.CreatedAt = time.Now()
	}
	m.bots[bot.ID] = cloneJSON(bot)
	return nil
}

// GetBot loads a bot by id
func (m *MemoryStore) GetBot(ctx context.Context, id string) (*Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bot, ok := m.bots[id]
	if !ok {
		return nil, fmt.Errorf("bot %s: %w", id, ErrNotFound)
	}
	return cloneJSON(bot), nil
}

// GetBotByName loads a bot by name
func (m *MemoryStore) GetBotByName(ctx context.Context, name string) (*Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, bot := range m.bots {
		if bot.Name == name {
			return cloneJSON(bot), nil
		}
	}
	return nil, fmt.Errorf("bot %s: %w", name, ErrNotFound)
}

// CreateInstance stores a new instance at version 1
func (m *MemoryStore) CreateInstance(ctx context.Context, inst *CardInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.instances[inst.ID]; exists {
		return fmt.Errorf("instance %s: %w", inst.ID, ErrConflict)
	}
	now := time.Now()
	inst.Version = 1
	inst.CreatedAt = now
	inst.UpdatedAt = now
	m.instances[inst.ID] = cloneJSON(inst)
	return nil
}

// GetInstance loads an instance by id
func (m *MemoryStore) GetInstance(ctx context.Context, id string) (*CardInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[id]
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	return cloneJSON(inst), nil
}

// UpdateInstance writes an instance if its version is current
func (m *MemoryStore) UpdateInstance(ctx context.Context, inst *CardInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.instances[inst.ID]
	if !ok {
		return fmt.Errorf("instance %s: %w", inst.ID, ErrNotFound)
	}
	if stored.Version != inst.Version {
		return fmt.Errorf("instance %s version %d: %w", inst.ID, inst.Version, ErrConflict)
	}
	inst.Version++
	inst.UpdatedAt = time.Now()
	m.instances[inst.ID] = cloneJSON(inst)
	return nil
}

// AppendResponse records a response
func (m *MemoryStore) AppendResponse(ctx context.Context, resp *CardResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.instances[resp.CardInstanceID]; !ok {
		return fmt.Errorf("instance %s: %w", resp.CardInstanceID, ErrNotFound)
	}
	m.nextID++
	resp.ID = m.nextID
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now()
	}
	m.responses[resp.CardInstanceID] = append(m.responses[resp.CardInstanceID], cloneJSON(resp))
	return nil
}

// ListResponses returns the responses of an instance, oldest first
func (m *MemoryStore) ListResponses(ctx context.Context, instanceID string) ([]*CardResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*CardResponse, 0, len(m.responses[instanceID]))
	for _, r := range m.responses[instanceID] {
		out = append(out, cloneJSON(r))
	}
	return out, nil
}

// SaveScenario stores a new scenario with its NPCs
func (m *MemoryStore) SaveScenario(ctx context.Context, def *ScenarioDefinition, npcs []*NpcProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.scenarios[def.UID]; exists {
		return fmt.Errorf("scenario %s: %w", def.UID, ErrConflict)
	}
	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now
	c := *def
	m.scenarios[def.UID] = &c

	stored := make([]*NpcProfile, 0, len(npcs))
	for _, npc := range npcs {
		m.nextID++
		npc.ID = m.nextID
		npc.ScenarioUID = def.UID
		stored = append(stored, cloneJSON(npc))
	}
	m.npcs[def.UID] = stored
	return nil
}

// GetScenario loads a scenario. The graph is shared and must be treated
// as read-only.
func (m *MemoryStore) GetScenario(ctx context.Context, uid string) (*ScenarioDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	def, ok := m.scenarios[uid]
	if !ok {
		return nil, fmt.Errorf("scenario %s: %w", uid, ErrNotFound)
	}
	c := *def
	return &c, nil
}

// ActivateScenario stores the node cards and marks the scenario active
// in one step
func (m *MemoryStore) ActivateScenario(ctx context.Context, uid string, nodeCards []cards.CardDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	def, ok := m.scenarios[uid]
	if !ok {
		return fmt.Errorf("scenario %s: %w", uid, ErrNotFound)
	}
	for i := range nodeCards {
		if _, exists := m.cardDefs[nodeCards[i].UID]; exists {
			return fmt.Errorf("card %s: %w", nodeCards[i].UID, ErrConflict)
		}
	}

	now := time.Now()
	for i := range nodeCards {
		card := nodeCards[i]
		card.CreatedAt = now
		m.cardDefs[card.UID] = cloneJSON(&card)
	}
	def.Active = true
	def.UpdatedAt = now
	return nil
}

// ListNpcProfiles returns the NPCs of a scenario
func (m *MemoryStore) ListNpcProfiles(ctx context.Context, scenarioUID string) ([]*NpcProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*NpcProfile, 0, len(m.npcs[scenarioUID]))
	for _, npc := range m.npcs[scenarioUID] {
		out = append(out, cloneJSON(npc))
	}
	return out, nil
}

// CreateRun stores a new run at version 1
func (m *MemoryStore) CreateRun(ctx context.Context, run *ScenarioRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[run.ID]; exists {
		return fmt.Errorf("run %s: %w", run.ID, ErrConflict)
	}
	run.Version = 1
	run.UpdatedAt = time.Now()
	m.runs[run.ID] = cloneRun(run)
	return nil
}

// GetRun loads a run by id
func (m *MemoryStore) GetRun(ctx context.Context, id string) (*ScenarioRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return cloneRun(run), nil
}

// GetRunByInstance loads the most recent run bound to a card instance
func (m *MemoryStore) GetRunByInstance(ctx context.Context, instanceID string) (*ScenarioRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *ScenarioRun
	for _, run := range m.runs {
		if run.CardInstanceID != instanceID {
			continue
		}
		if latest == nil || run.StartedAt.After(latest.StartedAt) {
			latest = run
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("run for instance %s: %w", instanceID, ErrNotFound)
	}
	return cloneRun(latest), nil
}

// UpdateRun writes a run if its version is current
func (m *MemoryStore) UpdateRun(ctx context.Context, run *ScenarioRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.runs[run.ID]
	if !ok {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	if stored.Version != run.Version {
		return fmt.Errorf("run %s version %d: %w", run.ID, run.Version, ErrConflict)
	}
	run.Version++
	run.UpdatedAt = time.Now()
	m.runs[run.ID] = cloneRun(run)
	return nil
}

// SaveImportLog records an import
func (m *MemoryStore) SaveImportLog(ctx context.Context, log *ImportLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	log.ID = m.nextID
	m.importLogs = append(m.importLogs, cloneJSON(log))
	return nil
}

// ListImportLogs returns recorded imports, newest first
func (m *MemoryStore) ListImportLogs(ctx context.Context, limit int) ([]*ImportLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*ImportLog, 0, len(m.importLogs))
	for i := len(m.importLogs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, cloneJSON(m.importLogs[i]))
	}
	return out, nil
}
