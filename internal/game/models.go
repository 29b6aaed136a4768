package game

import (
	"errors"
	"time"

	"github.com/qninhdt/gamepatch/internal/story"
)

var (
	// ErrNotFound means the requested record does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict means a concurrent or stale write lost
	ErrConflict = errors.New("conflict")
	// ErrInactive means the instance, run or scenario no longer accepts changes
	ErrInactive = errors.New("inactive")
	// ErrInvalidChoice means the choice is not offered or its effects failed
	ErrInvalidChoice = errors.New("invalid choice")
	// ErrInvalid means the request itself is malformed
	ErrInvalid = errors.New("invalid request")
)

// Status is the lifecycle state of an instance or run
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// CanTransition reports whether a status may move to next. Completed and
// abandoned are terminal.
func (s Status) CanTransition(next Status) bool {
	return s == StatusActive && (next == StatusCompleted || next == StatusAbandoned)
}

// ThemePack is a named set of theme tokens
type ThemePack struct {
	Slug      string         `json:"slug"`
	Name      string         `json:"name"`
	Tokens    map[string]any `json:"tokens"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Active    bool           `json:"active"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Bot is the conversational agent a card is shown through
type Bot struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	BotType   string         `json:"botType"`
	ThemeSlug string         `json:"themeSlug,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
	Active    bool           `json:"active"`
	CreatedAt time.Time      `json:"createdAt"`
}

// CardInstance is one live use of a card definition
type CardInstance struct {
	ID        string         `json:"id"`
	CardUID   string         `json:"cardUid"`
	BotID     string         `json:"botId,omitempty"`
	State     map[string]any `json:"state"`
	Context   map[string]any `json:"context"`
	Status    Status         `json:"status"`
	Version   int            `json:"version"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// CardResponse is a recorded user action on an instance
type CardResponse struct {
	ID             int64          `json:"id"`
	CardInstanceID string         `json:"cardInstanceId"`
	CardUID        string         `json:"cardUid"`
	AccountID      string         `json:"accountId,omitempty"`
	ActionID       string         `json:"actionId,omitempty"`
	ActionType     string         `json:"actionType,omitempty"`
	Payload        map[string]any `json:"responsePayload"`
	Inputs         map[string]any `json:"inputs"`
	Context        map[string]any `json:"context"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// ScenarioDefinition is an imported dialogue. It serves runs only once
// published.
type ScenarioDefinition struct {
	UID          string         `json:"uid"`
	Name         string         `json:"name"`
	Version      string         `json:"version"`
	Description  string         `json:"description,omitempty"`
	EntryCardUID string         `json:"entryCardUid"`
	Graph        *story.Graph   `json:"graph"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Active       bool           `json:"active"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// NpcProfile is a character shipped with a scenario
type NpcProfile struct {
	ID          int64          `json:"id"`
	ScenarioUID string         `json:"scenarioUid"`
	Name        string         `json:"name"`
	Role        string         `json:"role,omitempty"`
	Description string         `json:"description,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// ScenarioRun is one traversal of a scenario by an account
type ScenarioRun struct {
	ID             string     `json:"id"`
	ScenarioUID    string     `json:"scenarioUid"`
	AccountID      string     `json:"accountId,omitempty"`
	BotID          string     `json:"botId,omitempty"`
	CardInstanceID string     `json:"cardInstanceId,omitempty"`
	Status         Status     `json:"status"`
	CurrentCardNo  int        `json:"currentCardNo"`
	CurrentCardUID string     `json:"currentCardUid"`
	State          *RunState  `json:"state"`
	Version        int        `json:"version"`
	StartedAt      time.Time  `json:"startedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Import log statuses
const (
	ImportCompleted = "completed"
	ImportPartial   = "partial"
	ImportFailed    = "failed"
)

// ImportLog records one dialogue import
type ImportLog struct {
	ID           int64             `json:"id"`
	ImportType   string            `json:"importType"`
	SourceName   string            `json:"sourceName"`
	ScenarioUID  string            `json:"scenarioUid,omitempty"`
	TotalRecords int               `json:"totalRecords"`
	SuccessCount int               `json:"successCount"`
	ErrorCount   int               `json:"errorCount"`
	Errors       []story.NodeError `json:"errors"`
	Status       string            `json:"status"`
	InitiatedBy  string            `json:"initiatedBy,omitempty"`
	StartedAt    time.Time         `json:"startedAt"`
	CompletedAt  time.Time         `json:"completedAt"`
}
