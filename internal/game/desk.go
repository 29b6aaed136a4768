package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/qninhdt/gamepatch/internal/cards"
	"github.com/qninhdt/gamepatch/internal/story"
)

// User-facing messages for rejected actions
const (
	msgChoiceUnavailable = "That choice is not available."
	msgStaleCard         = "This card is no longer current."
	msgEnded             = "This conversation has ended."
	msgNoChoice          = "Choose one of the options."
)

// Hints pick the bot and instance a card is served for
type Hints struct {
	BotID      string
	BotName    string
	InstanceID string
}

// CardDesk serves cards, creates instances and handles responses
type CardDesk struct {
	store      Store
	runner     *Runner
	locks      *LockManager
	logger     *slog.Logger
	defaultBot string
}

// NewCardDesk creates a card desk. defaultBot names the bot used when a
// request gives none.
func NewCardDesk(store Store, runner *Runner, logger *slog.Logger, defaultBot string) *CardDesk {
	if logger == nil {
		logger = slog.Default()
	}
	return &CardDesk{
		store:      store,
		runner:     runner,
		locks:      runner.locks,
		logger:     logger,
		defaultBot: defaultBot,
	}
}

func instanceLockKey(id string) string { return "instance:" + id }

// PublishCard validates and stores a new card definition. Schema problems
// are returned without error and nothing is stored.
func (d *CardDesk) PublishCard(ctx context.Context, raw []byte) (*cards.CardDefinition, []*cards.SchemaError, error) {
	var in struct {
		UID           string          `json:"uid"`
		SchemaVersion string          `json:"schemaVersion"`
		CardVersion   string          `json:"cardVersion"`
		Definition    json.RawMessage `json:"definition"`
		Metadata      map[string]any  `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, nil, fmt.Errorf("decode card: %v: %w", err, ErrInvalid)
	}
	if in.UID == "" {
		return nil, nil, fmt.Errorf("card uid is required: %w", ErrInvalid)
	}
	if len(in.Definition) == 0 || string(in.Definition) == "null" {
		in.Definition = json.RawMessage(`{"body":[],"actions":[]}`)
	}

	if errs := cards.ValidateDefinitionJSON(in.Definition); len(errs) > 0 {
		return nil, errs, nil
	}

	var def cards.Definition
	if err := json.Unmarshal(in.Definition, &def); err != nil {
		return nil, nil, fmt.Errorf("decode definition: %v: %w", err, ErrInvalid)
	}
	compiled, err := json.Marshal(&def)
	if err != nil {
		return nil, nil, fmt.Errorf("encode definition: %w", err)
	}

	card := &cards.CardDefinition{
		UID:           in.UID,
		SchemaVersion: in.SchemaVersion,
		CardVersion:   in.CardVersion,
		Definition:    def,
		Compiled:      compiled,
		Metadata:      in.Metadata,
	}
	if card.SchemaVersion == "" {
		card.SchemaVersion = "1.0"
	}
	if card.CardVersion == "" {
		card.CardVersion = "1"
	}

	if err := d.store.SaveCardDefinition(ctx, card); err != nil {
		return nil, nil, err
	}
	d.logger.Info("card published", "uid", card.UID, "version", card.CardVersion)
	return card, nil, nil
}

// SaveTheme creates or replaces a theme pack
func (d *CardDesk) SaveTheme(ctx context.Context, pack *ThemePack) error {
	if pack.Tokens == nil {
		pack.Tokens = map[string]any{}
	}
	return d.store.SaveThemePack(ctx, pack)
}

// RegisterBot creates or updates a bot. A referenced theme must exist.
func (d *CardDesk) RegisterBot(ctx context.Context, bot *Bot) error {
	if bot.ThemeSlug != "" {
		if _, err := d.store.GetThemePack(ctx, bot.ThemeSlug); err != nil {
			return err
		}
	}
	if bot.ID == "" {
		if existing, err := d.store.GetBotByName(ctx, bot.Name); err == nil {
			bot.ID = existing.ID
			bot.CreatedAt = existing.CreatedAt
		} else {
			bot.ID = uuid.NewString()
		}
	}
	return d.store.SaveBot(ctx, bot)
}

// Fetch returns the payload for a card. When hints name an instance of
// this card, the payload carries that instance's id, context and state.
func (d *CardDesk) Fetch(ctx context.Context, uid string, hints Hints) (*cards.Payload, error) {
	def, err := d.store.GetCardDefinition(ctx, uid)
	if err != nil {
		return nil, err
	}
	bot := d.resolveBot(ctx, hints)

	var (
		inst *CardInstance
		run  *ScenarioRun
	)
	if hints.InstanceID != "" {
		if found, err := d.store.GetInstance(ctx, hints.InstanceID); err == nil && found.CardUID == uid {
			inst = found
		}
	}
	if inst != nil && def.MetaString(story.MetaScenario) != "" {
		if found, err := d.store.GetRunByInstance(ctx, inst.ID); err == nil {
			run = found
		}
	}

	return d.payload(ctx, def, bot, inst, run), nil
}

// CreateInstance starts a new instance of a card. Instances of a
// scenario's entry card also start a run.
func (d *CardDesk) CreateInstance(ctx context.Context, uid, accountID string, hints Hints) (*CardInstance, error) {
	def, err := d.store.GetCardDefinition(ctx, uid)
	if err != nil {
		return nil, err
	}

	inst := &CardInstance{
		ID:      uuid.NewString(),
		CardUID: uid,
		State:   map[string]any{},
		Context: map[string]any{},
		Status:  StatusActive,
	}
	if bot := d.resolveBot(ctx, hints); bot != nil {
		inst.BotID = bot.ID
	}
	if err := d.store.CreateInstance(ctx, inst); err != nil {
		return nil, err
	}

	if scenarioUID := def.MetaString(story.MetaScenario); scenarioUID != "" {
		scenario, err := d.store.GetScenario(ctx, scenarioUID)
		if err == nil && scenario.EntryCardUID == uid {
			if _, err := d.runner.Start(ctx, scenarioUID, accountID, inst.BotID, inst.ID); err != nil {
				return nil, err
			}
		}
	}

	d.logger.Info("card instance created", "instance_id", inst.ID, "card", uid, "bot", inst.BotID)
	return inst, nil
}

// Respond records a response and decides what the client shows next.
// Rejections the user can act on come back as a result with Error set;
// returned errors are request or storage failures.
func (d *CardDesk) Respond(ctx context.Context, uid string, req cards.RespondRequest, accountID string) (*cards.RespondResult, error) {
	if req.CardInstanceID == "" {
		return nil, fmt.Errorf("cardInstanceId is required: %w", ErrInvalid)
	}

	unlock := d.locks.Lock(instanceLockKey(req.CardInstanceID))
	defer unlock()

	inst, err := d.store.GetInstance(ctx, req.CardInstanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != StatusActive {
		return &cards.RespondResult{Error: msgEnded, InstanceStatus: string(inst.Status)}, nil
	}
	if cardID := req.ResponsePayload.CardID; cardID != "" && cardID != inst.CardUID {
		d.logger.Warn("stale card response", "instance_id", inst.ID, "card", cardID, "current", inst.CardUID)
		return &cards.RespondResult{Error: msgStaleCard, InstanceStatus: string(inst.Status)}, nil
	}

	def, err := d.store.GetCardDefinition(ctx, inst.CardUID)
	if err != nil {
		return nil, err
	}

	resp := &CardResponse{
		CardInstanceID: inst.ID,
		CardUID:        inst.CardUID,
		AccountID:      accountID,
		ActionID:       req.ResponsePayload.Action.ID,
		ActionType:     req.ResponsePayload.Action.Type,
		Payload:        toMap(req.ResponsePayload),
		Inputs:         req.ResponsePayload.Inputs,
		Context:        req.ResponsePayload.Context,
	}
	if err := d.store.AppendResponse(ctx, resp); err != nil {
		return nil, err
	}

	d.logger.Info("card response recorded",
		"instance_id", inst.ID,
		"card", inst.CardUID,
		"requested_card", uid,
		"action", resp.ActionID,
	)

	if scenarioUID := def.MetaString(story.MetaScenario); scenarioUID != "" {
		return d.respondScenario(ctx, scenarioUID, inst, def, req, accountID)
	}
	return d.respondPlain(ctx, inst, req)
}

func (d *CardDesk) respondScenario(ctx context.Context, scenarioUID string, inst *CardInstance, def *cards.CardDefinition, req cards.RespondRequest, accountID string) (*cards.RespondResult, error) {
	label := story.ChoiceLabel(req.ResponsePayload.Action, &def.Definition)
	if label == "" {
		return &cards.RespondResult{Error: msgNoChoice, InstanceStatus: string(inst.Status)}, nil
	}

	run, err := d.store.GetRunByInstance(ctx, inst.ID)
	if errors.Is(err, ErrNotFound) {
		run, err = d.runner.Start(ctx, scenarioUID, accountID, inst.BotID, inst.ID)
	}
	if err != nil {
		if msg, ok := actionMessage(err); ok {
			return &cards.RespondResult{Error: msg, InstanceStatus: string(inst.Status)}, nil
		}
		return nil, err
	}

	tr, err := d.runner.Choose(ctx, run.ID, inst.CardUID, label)
	if err != nil {
		if msg, ok := actionMessage(err); ok {
			d.logger.Info("choice rejected", "run_id", run.ID, "choice", label, "error", err)
			return &cards.RespondResult{Error: msg, InstanceStatus: string(inst.Status)}, nil
		}
		return nil, err
	}

	next, err := d.store.GetCardDefinition(ctx, tr.Run.CurrentCardUID)
	if err != nil {
		return nil, err
	}

	inst.CardUID = next.UID
	if tr.Completed {
		inst.Status = StatusCompleted
	}
	if err := d.store.UpdateInstance(ctx, inst); err != nil {
		return nil, err
	}

	bot := d.botByID(ctx, inst.BotID)
	return &cards.RespondResult{
		NextCard:       d.payload(ctx, next, bot, inst, tr.Run),
		InstanceStatus: string(inst.Status),
	}, nil
}

// respondPlain applies the directives a bot author put in the action data:
// setState, nextCard, showCard, execute, openUrl, toggleVisibility and
// complete.
func (d *CardDesk) respondPlain(ctx context.Context, inst *CardInstance, req cards.RespondRequest) (*cards.RespondResult, error) {
	data, _ := req.ResponsePayload.Action.Data.(map[string]any)
	result := &cards.RespondResult{}
	changed := false

	if patch, ok := data["setState"].(map[string]any); ok {
		if inst.State == nil {
			inst.State = map[string]any{}
		}
		for k, v := range patch {
			inst.State[k] = v
		}
		changed = true
	}
	if cards.Truthy(data["complete"], data["complete"] != nil) {
		inst.Status = StatusCompleted
		changed = true
	}

	bot := d.botByID(ctx, inst.BotID)

	if uid, _ := data["nextCard"].(string); uid != "" {
		next, err := d.store.GetCardDefinition(ctx, uid)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return &cards.RespondResult{Error: fmt.Sprintf("Card %s is not available.", uid), InstanceStatus: string(inst.Status)}, nil
			}
			return nil, err
		}
		inst.CardUID = next.UID
		changed = true
		result.NextCard = d.payload(ctx, next, bot, inst, nil)
	} else if uid, _ := data["showCard"].(string); uid != "" {
		show, err := d.store.GetCardDefinition(ctx, uid)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return &cards.RespondResult{Error: fmt.Sprintf("Card %s is not available.", uid), InstanceStatus: string(inst.Status)}, nil
			}
			return nil, err
		}
		result.ShowCard = d.payload(ctx, show, bot, nil, nil)
	}

	if v, ok := data["execute"]; ok && v != nil {
		result.Execute = v
	}
	if url, _ := data["openUrl"].(string); url != "" {
		result.OpenURL = url
	}
	if v, ok := data["toggleVisibility"]; ok && v != nil {
		result.ToggleVisibility = v
	}

	if changed {
		if err := d.store.UpdateInstance(ctx, inst); err != nil {
			return nil, err
		}
		if result.NextCard != nil {
			result.NextCard.State = inst.State
		}
	}
	result.InstanceStatus = string(inst.Status)
	return result, nil
}

// AbandonInstance ends an active instance and any run bound to it
func (d *CardDesk) AbandonInstance(ctx context.Context, id string) (*CardInstance, error) {
	unlock := d.locks.Lock(instanceLockKey(id))
	defer unlock()

	inst, err := d.store.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inst.Status.CanTransition(StatusAbandoned) {
		return nil, fmt.Errorf("instance %s is %s: %w", id, inst.Status, ErrInactive)
	}

	if run, err := d.store.GetRunByInstance(ctx, id); err == nil && run.Status == StatusActive {
		if _, err := d.runner.Abandon(ctx, run.ID); err != nil && !errors.Is(err, ErrInactive) {
			return nil, err
		}
	}

	inst.Status = StatusAbandoned
	if err := d.store.UpdateInstance(ctx, inst); err != nil {
		return nil, err
	}
	d.logger.Info("card instance abandoned", "instance_id", id)
	return inst, nil
}

// ChooseRun takes a choice on a run outside the card protocol. A run
// bound to a card instance is advanced under that instance's lock and
// the instance moves to the run's new card.
func (d *CardDesk) ChooseRun(ctx context.Context, runID, expectedCardUID, label string) (*Transition, error) {
	var tr *Transition
	err := d.withRunInstance(ctx, runID, func(instanceID string) error {
		var err error
		tr, err = d.runner.Choose(ctx, runID, expectedCardUID, label)
		if err != nil {
			return err
		}
		return d.follow(ctx, instanceID, tr.Run)
	})
	if err != nil {
		return nil, err
	}
	return tr, nil
}

// AbandonRun ends a run and the card instance bound to it
func (d *CardDesk) AbandonRun(ctx context.Context, runID string) (*ScenarioRun, error) {
	var run *ScenarioRun
	err := d.withRunInstance(ctx, runID, func(instanceID string) error {
		var err error
		run, err = d.runner.Abandon(ctx, runID)
		if err != nil {
			return err
		}
		return d.follow(ctx, instanceID, run)
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// withRunInstance runs fn holding the lock of the instance bound to the
// run, if any. Instance locks are taken before run locks.
func (d *CardDesk) withRunInstance(ctx context.Context, runID string, fn func(instanceID string) error) error {
	run, err := d.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.CardInstanceID == "" {
		return fn("")
	}
	return d.locks.ExecuteWithLock(instanceLockKey(run.CardInstanceID), func() error {
		return fn(run.CardInstanceID)
	})
}

// follow points an active instance at the run's current card and closes
// it when the run has ended. Callers hold the instance lock.
func (d *CardDesk) follow(ctx context.Context, instanceID string, run *ScenarioRun) error {
	if instanceID == "" {
		return nil
	}
	inst, err := d.store.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.Status != StatusActive {
		return nil
	}
	inst.CardUID = run.CurrentCardUID
	if run.Status != StatusActive {
		inst.Status = run.Status
	}
	if err := d.store.UpdateInstance(ctx, inst); err != nil {
		return err
	}
	d.logger.Info("card instance follows run", "instance_id", inst.ID, "run_id", run.ID, "card", inst.CardUID, "status", inst.Status)
	return nil
}

// Responses lists what was submitted on an instance
func (d *CardDesk) Responses(ctx context.Context, instanceID string) ([]*CardResponse, error) {
	if _, err := d.store.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	return d.store.ListResponses(ctx, instanceID)
}

func (d *CardDesk) payload(ctx context.Context, def *cards.CardDefinition, bot *Bot, inst *CardInstance, run *ScenarioRun) *cards.Payload {
	p := &cards.Payload{
		UID:     def.UID,
		Data:    map[string]any{},
		Context: map[string]any{},
		State:   map[string]any{},
	}
	if data, ok := def.Metadata["data"].(map[string]any); ok {
		p.Data = data
	}
	if inst != nil {
		p.CardInstanceID = inst.ID
		if inst.Context != nil {
			p.Context = inst.Context
		}
		for k, v := range inst.State {
			p.State[k] = v
		}
	}
	if run != nil && run.State != nil {
		for k, v := range run.State.TemplateState() {
			p.State[k] = v
		}
	}
	if theme := d.theme(ctx, bot); theme != nil {
		p.HostConfig = theme
	}

	if def.Definition.IsEmpty() {
		p.FallbackText = def.MetaString("fallbackText")
		if p.FallbackText == "" {
			p.FallbackText = def.UID
		}
		return p
	}

	definition := def.Definition
	if scenarioUID := def.MetaString(story.MetaScenario); scenarioUID != "" {
		if offered, ok := d.offered(ctx, scenarioUID, def, run); ok {
			definition = story.FilterOffered(definition, offered)
		}
	}
	p.Definition = &definition
	return p
}

// offered lists the open choices for a node card. Without a run the
// node is judged against a fresh state.
func (d *CardDesk) offered(ctx context.Context, scenarioUID string, def *cards.CardDefinition, run *ScenarioRun) ([]story.Choice, bool) {
	scenario, err := d.store.GetScenario(ctx, scenarioUID)
	if err != nil {
		return nil, false
	}
	state := NewRunState()
	no := 0
	if run != nil && run.State != nil {
		state = run.State
		no = run.CurrentCardNo
	} else {
		for _, node := range scenario.Graph.Nodes() {
			if story.NodeCardUID(scenarioUID, node.No) == def.UID {
				no = node.No
				break
			}
		}
	}
	offered, err := scenario.Graph.Offered(no, state.ConditionEnv())
	if err != nil {
		return nil, false
	}
	return offered, true
}

func (d *CardDesk) resolveBot(ctx context.Context, hints Hints) *Bot {
	if hints.BotID != "" {
		if bot := d.botByID(ctx, hints.BotID); bot != nil {
			return bot
		}
	}
	name := hints.BotName
	if name == "" {
		name = d.defaultBot
	}
	if name == "" {
		return nil
	}
	bot, err := d.store.GetBotByName(ctx, name)
	if err != nil {
		return nil
	}
	return bot
}

func (d *CardDesk) botByID(ctx context.Context, id string) *Bot {
	if id == "" {
		return d.resolveBot(ctx, Hints{})
	}
	bot, err := d.store.GetBot(ctx, id)
	if err != nil {
		return nil
	}
	return bot
}

func (d *CardDesk) theme(ctx context.Context, bot *Bot) map[string]any {
	if bot == nil || bot.ThemeSlug == "" {
		return nil
	}
	pack, err := d.store.GetThemePack(ctx, bot.ThemeSlug)
	if err != nil || !pack.Active {
		return nil
	}
	return pack.Tokens
}

func actionMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrInvalidChoice):
		return msgChoiceUnavailable, true
	case errors.Is(err, ErrConflict):
		return msgStaleCard, true
	case errors.Is(err, ErrInactive):
		return msgEnded, true
	}
	return "", false
}

func toMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{}
	}
	return out
}
