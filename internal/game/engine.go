package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/qninhdt/gamepatch/internal/story"
)

// Transition is the outcome of taking a choice
type Transition struct {
	Run       *ScenarioRun  `json:"run"`
	From      int           `json:"from"`
	Choice    string        `json:"choice"`
	To        int           `json:"to"`
	Effects   *EffectResult `json:"-"`
	Completed bool          `json:"completed"`
}

// Runner drives scenario runs through their dialogue graphs. Changes to
// one run are serialized by a per-run lock and guarded again by the
// store's version check.
type Runner struct {
	store  Store
	locks  *LockManager
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner creates a runner over a store
func NewRunner(store Store, locks *LockManager, logger *slog.Logger) *Runner {
	if locks == nil {
		locks = NewLockManager()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{store: store, locks: locks, logger: logger, now: time.Now}
}

func runLockKey(id string) string { return "run:" + id }

// Start begins a run at the scenario's entry node. The entry node's
// enter effects are applied; history stays empty.
func (r *Runner) Start(ctx context.Context, scenarioUID, accountID, botID, instanceID string) (*ScenarioRun, error) {
	def, err := r.store.GetScenario(ctx, scenarioUID)
	if err != nil {
		return nil, err
	}
	if !def.Active {
		return nil, fmt.Errorf("scenario %s is not published: %w", scenarioUID, ErrInactive)
	}

	entry := def.Graph.Node(def.Graph.Entry)
	if entry == nil {
		return nil, fmt.Errorf("scenario %s has no entry card: %w", scenarioUID, ErrNotFound)
	}

	state := NewRunState()
	if _, err := NewEffectExecutor(state, r.now).ExecuteAll(entry.OnEnter); err != nil {
		return nil, fmt.Errorf("enter card %d: %w", entry.No, err)
	}

	now := r.now()
	run := &ScenarioRun{
		ID:             uuid.NewString(),
		ScenarioUID:    scenarioUID,
		AccountID:      accountID,
		BotID:          botID,
		CardInstanceID: instanceID,
		Status:         StatusActive,
		CurrentCardNo:  entry.No,
		CurrentCardUID: story.NodeCardUID(scenarioUID, entry.No),
		State:          state,
		StartedAt:      now,
	}
	if entry.Ending {
		run.Status = StatusCompleted
		run.CompletedAt = &now
	}

	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	r.logger.Info("scenario run started",
		"run_id", run.ID,
		"scenario", scenarioUID,
		"account", accountID,
		"card", run.CurrentCardUID,
	)
	return run, nil
}

// Get loads a run
func (r *Runner) Get(ctx context.Context, runID string) (*ScenarioRun, error) {
	return r.store.GetRun(ctx, runID)
}

// Offered returns the choices currently open to a run
func (r *Runner) Offered(ctx context.Context, run *ScenarioRun) ([]story.Choice, error) {
	def, err := r.store.GetScenario(ctx, run.ScenarioUID)
	if err != nil {
		return nil, err
	}
	return def.Graph.Offered(run.CurrentCardNo, run.State.ConditionEnv())
}

// Choose takes a labeled choice from the run's current node. When
// expectedCardUID is set it must match the run's current card, which
// rejects submissions made from a card the run has already left. The
// choice's effects are applied, then the target's enter effects; if any
// fails nothing changes. Entering an ending completes the run.
func (r *Runner) Choose(ctx context.Context, runID, expectedCardUID, label string) (*Transition, error) {
	unlock := r.locks.Lock(runLockKey(runID))
	defer unlock()

	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != StatusActive {
		return nil, fmt.Errorf("run %s is %s: %w", runID, run.Status, ErrInactive)
	}
	if expectedCardUID != "" && expectedCardUID != run.CurrentCardUID {
		return nil, fmt.Errorf("card %s is no longer current: %w", expectedCardUID, ErrConflict)
	}

	def, err := r.store.GetScenario(ctx, run.ScenarioUID)
	if err != nil {
		return nil, err
	}

	choice, target, err := def.Graph.Take(run.CurrentCardNo, label, run.State.ConditionEnv())
	if err != nil {
		if errors.Is(err, story.ErrNoSuchChoice) {
			return nil, fmt.Errorf("%v: %w", err, ErrInvalidChoice)
		}
		return nil, err
	}

	state := run.State.Clone()
	exec := NewEffectExecutor(state, r.now)
	effects, err := exec.ExecuteAll(choice.Effects)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidChoice)
	}
	if _, err := exec.ExecuteAll(target.OnEnter); err != nil {
		return nil, fmt.Errorf("enter card %d: %v: %w", target.No, err, ErrInvalidChoice)
	}

	now := r.now()
	from := run.CurrentCardNo
	state.AppendHistory(HistoryEntry{
		CardNo:  from,
		CardUID: run.CurrentCardUID,
		Choice:  choice.Label,
		LeadsTo: target.No,
		At:      now,
	})

	run.State = state
	run.CurrentCardNo = target.No
	run.CurrentCardUID = story.NodeCardUID(run.ScenarioUID, target.No)
	if target.Ending {
		run.Status = StatusCompleted
		run.CompletedAt = &now
	}

	if err := r.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}

	r.logger.Info("scenario choice taken",
		"run_id", run.ID,
		"from", from,
		"choice", choice.Label,
		"to", target.No,
		"completed", target.Ending,
	)

	return &Transition{
		Run:       run,
		From:      from,
		Choice:    choice.Label,
		To:        target.No,
		Effects:   effects,
		Completed: target.Ending,
	}, nil
}

// Abandon ends an active run without completing it
func (r *Runner) Abandon(ctx context.Context, runID string) (*ScenarioRun, error) {
	unlock := r.locks.Lock(runLockKey(runID))
	defer unlock()

	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !run.Status.CanTransition(StatusAbandoned) {
		return nil, fmt.Errorf("run %s is %s: %w", runID, run.Status, ErrInactive)
	}

	now := r.now()
	run.Status = StatusAbandoned
	run.CompletedAt = &now
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}

	r.logger.Info("scenario run abandoned", "run_id", run.ID)
	return run, nil
}
