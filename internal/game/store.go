package game

import (
	"context"

	"github.com/qninhdt/gamepatch/internal/cards"
)

// Store persists cards, instances, scenarios and runs. Updates of
// instances and runs are optimistic: they succeed only when the stored
// version matches the caller's, and bump it. A lost race returns
// ErrConflict; a missing record returns ErrNotFound.
type Store interface {
	SaveCardDefinition(ctx context.Context, def *cards.CardDefinition) error
	GetCardDefinition(ctx context.Context, uid string) (*cards.CardDefinition, error)

	SaveThemePack(ctx context.Context, pack *ThemePack) error
	GetThemePack(ctx context.Context, slug string) (*ThemePack, error)
	SaveBot(ctx context.Context, bot *Bot) error
	GetBot(ctx context.Context, id string) (*Bot, error)
	GetBotByName(ctx context.Context, name string) (*Bot, error)

	CreateInstance(ctx context.Context, inst *CardInstance) error
	GetInstance(ctx context.Context, id string) (*CardInstance, error)
	UpdateInstance(ctx context.Context, inst *CardInstance) error
	AppendResponse(ctx context.Context, resp *CardResponse) error
	ListResponses(ctx context.Context, instanceID string) ([]*CardResponse, error)

	SaveScenario(ctx context.Context, def *ScenarioDefinition, npcs []*NpcProfile) error
	GetScenario(ctx context.Context, uid string) (*ScenarioDefinition, error)
	ActivateScenario(ctx context.Context, uid string, nodeCards []cards.CardDefinition) error
	ListNpcProfiles(ctx context.Context, scenarioUID string) ([]*NpcProfile, error)

	CreateRun(ctx context.Context, run *ScenarioRun) error
	GetRun(ctx context.Context, id string) (*ScenarioRun, error)
	GetRunByInstance(ctx context.Context, instanceID string) (*ScenarioRun, error)
	UpdateRun(ctx context.Context, run *ScenarioRun) error

	SaveImportLog(ctx context.Context, log *ImportLog) error
	ListImportLogs(ctx context.Context, limit int) ([]*ImportLog, error)
}
