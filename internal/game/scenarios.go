package game

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/qninhdt/gamepatch/internal/story"
)

const maxImportLogs = 100

// ImportOptions names and versions an imported scenario
type ImportOptions struct {
	UID         string
	Name        string
	Version     string
	InitiatedBy string
}

// ImportOutcome is the result of importing a dialogue. Scenario is nil
// when no node could be imported.
type ImportOutcome struct {
	Scenario *ScenarioDefinition `json:"scenario,omitempty"`
	Result   *story.ImportResult `json:"result"`
	Log      *ImportLog          `json:"log"`
}

// Scenarios imports, publishes and loads dialogue scenarios
type Scenarios struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewScenarios creates a scenario service
func NewScenarios(store Store, logger *slog.Logger) *Scenarios {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scenarios{store: store, logger: logger, now: time.Now}
}

// Import parses a dialogue document and stores the nodes that pass
// per-node checks as an unpublished scenario. Every import is logged,
// including ones that fail to parse.
func (s *Scenarios) Import(ctx context.Context, source string, data []byte, opts ImportOptions) (*ImportOutcome, error) {
	started := s.now()
	log := &ImportLog{
		ImportType:  "dialogue",
		SourceName:  source,
		InitiatedBy: opts.InitiatedBy,
		Errors:      []story.NodeError{},
		StartedAt:   started,
	}

	doc, err := story.Parse(data)
	if err != nil {
		log.Status = ImportFailed
		log.ErrorCount = 1
		log.Errors = append(log.Errors, story.NodeError{Index: -1, Error: err.Error()})
		log.CompletedAt = s.now()
		if saveErr := s.store.SaveImportLog(ctx, log); saveErr != nil {
			s.logger.Error("failed to save import log", "source", source, "error", saveErr)
		}
		return nil, fmt.Errorf("%v: %w", err, ErrInvalid)
	}

	graph, result := story.Import(doc)
	log.TotalRecords = result.Total()
	log.SuccessCount = result.SuccessCount
	log.ErrorCount = result.ErrorCount
	log.Errors = result.Errors

	outcome := &ImportOutcome{Result: result, Log: log}

	switch {
	case result.SuccessCount == 0:
		log.Status = ImportFailed
	case result.ErrorCount > 0:
		log.Status = ImportPartial
	default:
		log.Status = ImportCompleted
	}

	if result.SuccessCount > 0 {
		def := s.newDefinition(doc, graph, opts)
		npcs := make([]*NpcProfile, 0, len(doc.NPCs))
		for _, n := range doc.NPCs {
			npcs = append(npcs, &NpcProfile{
				Name:        n.Name,
				Role:        n.Role,
				Description: n.Description,
				Data:        n.Data,
			})
		}
		if err := s.store.SaveScenario(ctx, def, npcs); err != nil {
			return nil, fmt.Errorf("save scenario: %w", err)
		}
		log.ScenarioUID = def.UID
		outcome.Scenario = def
	}

	log.CompletedAt = s.now()
	if err := s.store.SaveImportLog(ctx, log); err != nil {
		return nil, fmt.Errorf("save import log: %w", err)
	}

	s.logger.Info("dialogue imported",
		"source", source,
		"scenario", log.ScenarioUID,
		"success", result.SuccessCount,
		"errors", result.ErrorCount,
		"status", log.Status,
	)
	return outcome, nil
}

func (s *Scenarios) newDefinition(doc *story.Document, graph *story.Graph, opts ImportOptions) *ScenarioDefinition {
	uid := opts.UID
	if uid == "" {
		uid = uuid.NewString()
	}
	name := opts.Name
	if name == "" {
		name = doc.Name
	}
	if name == "" {
		name = uid
	}
	version := opts.Version
	if version == "" {
		version = "1"
	}
	return &ScenarioDefinition{
		UID:          uid,
		Name:         name,
		Version:      version,
		Description:  doc.Description,
		EntryCardUID: story.NodeCardUID(uid, graph.Entry),
		Graph:        graph,
		Metadata:     map[string]any{"cardCount": graph.Len()},
		Active:       false,
	}
}

// Publish validates the whole graph and, if it is sound, creates the
// node cards and activates the scenario. Validation problems are
// returned without error; nothing is stored in that case. Publishing an
// active scenario is a no-op.
func (s *Scenarios) Publish(ctx context.Context, uid string) ([]*story.ValidationError, error) {
	def, err := s.store.GetScenario(ctx, uid)
	if err != nil {
		return nil, err
	}
	if def.Active {
		return nil, nil
	}

	if errs := def.Graph.Validate(); len(errs) > 0 {
		s.logger.Warn("scenario failed validation", "scenario", uid, "problems", len(errs))
		return errs, nil
	}

	nodeCards := story.NodeCards(uid, def.Version, def.Graph)
	if err := s.store.ActivateScenario(ctx, uid, nodeCards); err != nil {
		return nil, fmt.Errorf("activate scenario: %w", err)
	}

	s.logger.Info("scenario published", "scenario", uid, "cards", len(nodeCards))
	return nil, nil
}

// Get loads a scenario with its NPC profiles
func (s *Scenarios) Get(ctx context.Context, uid string) (*ScenarioDefinition, []*NpcProfile, error) {
	def, err := s.store.GetScenario(ctx, uid)
	if err != nil {
		return nil, nil, err
	}
	npcs, err := s.store.ListNpcProfiles(ctx, uid)
	if err != nil {
		return nil, nil, err
	}
	return def, npcs, nil
}

// ImportLogs lists recent imports, newest first
func (s *Scenarios) ImportLogs(ctx context.Context, limit int) ([]*ImportLog, error) {
	if limit <= 0 || limit > maxImportLogs {
		limit = maxImportLogs
	}
	return s.store.ListImportLogs(ctx, limit)
}
