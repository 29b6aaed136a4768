package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/qninhdt/gamepatch/internal/cards"
	"github.com/qninhdt/gamepatch/internal/game"
	"github.com/qninhdt/gamepatch/internal/story"
)

// timeLayout is fixed-width so stored timestamps sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DB is a game.Store backed by SQLite
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

var _ game.Store = (*DB)(nil)

// NewDB opens (or creates) the database at dbPath and migrates it
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS card_definitions (
		uid TEXT PRIMARY KEY,
		schema_version TEXT NOT NULL,
		card_version TEXT NOT NULL,
		definition_json TEXT NOT NULL,
		compiled_json TEXT,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS theme_packs (
		slug TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		tokens_json TEXT NOT NULL,
		metadata_json TEXT,
		active INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bots (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		bot_type TEXT NOT NULL,
		theme_slug TEXT,
		config_json TEXT,
		active INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS card_instances (
		id TEXT PRIMARY KEY,
		card_uid TEXT NOT NULL,
		bot_id TEXT,
		state_json TEXT NOT NULL,
		context_json TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS card_responses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		card_instance_id TEXT NOT NULL,
		card_uid TEXT NOT NULL,
		account_id TEXT,
		action_id TEXT,
		action_type TEXT,
		payload_json TEXT NOT NULL,
		inputs_json TEXT,
		context_json TEXT,
		created_at TEXT NOT NULL,
		FOREIGN KEY (card_instance_id) REFERENCES card_instances(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS scenario_definitions (
		uid TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		description TEXT,
		entry_card_uid TEXT NOT NULL,
		graph_json TEXT NOT NULL,
		metadata_json TEXT,
		active INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS npc_profiles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scenario_uid TEXT NOT NULL,
		name TEXT NOT NULL,
		role TEXT,
		description TEXT,
		data_json TEXT,
		FOREIGN KEY (scenario_uid) REFERENCES scenario_definitions(uid) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS scenario_runs (
		id TEXT PRIMARY KEY,
		scenario_uid TEXT NOT NULL,
		account_id TEXT,
		bot_id TEXT,
		card_instance_id TEXT,
		status TEXT NOT NULL,
		current_card_no INTEGER NOT NULL,
		current_card_uid TEXT NOT NULL,
		version INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (scenario_uid) REFERENCES scenario_definitions(uid)
	);

	CREATE TABLE IF NOT EXISTS scenario_states (
		run_id TEXT PRIMARY KEY,
		memory_json TEXT NOT NULL,
		variables_json TEXT NOT NULL,
		history_json TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES scenario_runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS inventories (
		run_id TEXT PRIMARY KEY,
		items_json TEXT NOT NULL,
		currency_json TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES scenario_runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS quest_flags (
		run_id TEXT PRIMARY KEY,
		flags_json TEXT NOT NULL,
		milestones_json TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES scenario_runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS import_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		import_type TEXT NOT NULL,
		source_name TEXT NOT NULL,
		scenario_uid TEXT,
		total_records INTEGER NOT NULL,
		success_count INTEGER NOT NULL,
		error_count INTEGER NOT NULL,
		errors_json TEXT NOT NULL,
		status TEXT NOT NULL,
		initiated_by TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_card_responses_instance ON card_responses(card_instance_id);
	CREATE INDEX IF NOT EXISTS idx_npc_profiles_scenario ON npc_profiles(scenario_uid);
	CREATE INDEX IF NOT EXISTS idx_scenario_runs_instance ON scenario_runs(card_instance_id);
	CREATE INDEX IF NOT EXISTS idx_scenario_runs_account ON scenario_runs(account_id);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// SaveCardDefinition stores a new card. Existing uids are never replaced.
func (db *DB) SaveCardDefinition(ctx context.Context, def *cards.CardDefinition) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO card_definitions (
			uid, schema_version, card_version, definition_json, compiled_json, metadata_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, def.UID, def.SchemaVersion, def.CardVersion, mustJSON(&def.Definition), nullRaw(def.Compiled),
		mustJSON(def.Metadata), formatTime(def.CreatedAt))
	if isConstraint(err) {
		return fmt.Errorf("card %s: %w", def.UID, game.ErrConflict)
	}
	return err
}

// GetCardDefinition loads a card by uid
func (db *DB) GetCardDefinition(ctx context.Context, uid string) (*cards.CardDefinition, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var (
		def                        cards.CardDefinition
		definitionJSON, createdAt  string
		compiledJSON, metadataJSON sql.NullString
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT uid, schema_version, card_version, definition_json, compiled_json, metadata_json, created_at
		FROM card_definitions WHERE uid = ?
	`, uid).Scan(&def.UID, &def.SchemaVersion, &def.CardVersion, &definitionJSON, &compiledJSON, &metadataJSON, &createdAt)
	if err != nil {
		return nil, notFound(err, "card", uid)
	}

	if err := json.Unmarshal([]byte(definitionJSON), &def.Definition); err != nil {
		return nil, fmt.Errorf("decode card %s: %w", uid, err)
	}
	if compiledJSON.Valid {
		def.Compiled = json.RawMessage(compiledJSON.String)
	}
	if err := unmarshalNull(metadataJSON, &def.Metadata); err != nil {
		return nil, err
	}
	def.CreatedAt = parseTime(createdAt)
	return &def, nil
}

// SaveThemePack creates or replaces a theme pack by slug
func (db *DB) SaveThemePack(ctx context.Context, pack *game.ThemePack) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if pack.CreatedAt.IsZero() {
		pack.CreatedAt = time.Now()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO theme_packs (slug, name, tokens_json, metadata_json, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			name = excluded.name,
			tokens_json = excluded.tokens_json,
			metadata_json = excluded.metadata_json,
			active = excluded.active
	`, pack.Slug, pack.Name, mustJSON(pack.Tokens), mustJSON(pack.Metadata), boolToInt(pack.Active), formatTime(pack.CreatedAt))
	return err
}

// GetThemePack loads a theme pack by slug
func (db *DB) GetThemePack(ctx context.Context, slug string) (*game.ThemePack, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var (
		pack                game.ThemePack
		tokensJSON, created string
		metadataJSON        sql.NullString
		active              int
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT slug, name, tokens_json, metadata_json, active, created_at
		FROM theme_packs WHERE slug = ?
	`, slug).Scan(&pack.Slug, &pack.Name, &tokensJSON, &metadataJSON, &active, &created)
	if err != nil {
		return nil, notFound(err, "theme", slug)
	}

	if err := json.Unmarshal([]byte(tokensJSON), &pack.Tokens); err != nil {
		return nil, fmt.Errorf("decode theme %s: %w", slug, err)
	}
	if err := unmarshalNull(metadataJSON, &pack.Metadata); err != nil {
		return nil, err
	}
	pack.Active = intToBool(active)
	pack.CreatedAt = parseTime(created)
	return &pack, nil
}

// SaveBot creates or replaces a bot. Names are unique.
func (db *DB) SaveBot(ctx context.Context, bot *game.Bot) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if bot.CreatedAt.IsZero() {
		bot.CreatedAt = time.Now()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO bots (id, name, bot_type, theme_slug, config_json, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			bot_type = excluded.bot_type,
			theme_slug = excluded.theme_slug,
			config_json = excluded.config_json,
			active = excluded.active
	`, bot.ID, bot.Name, bot.BotType, bot.ThemeSlug, mustJSON(bot.Config), boolToInt(bot.Active), formatTime(bot.CreatedAt))
	if isConstraint(err) {
		return fmt.Errorf("bot name %s: %w", bot.Name, game.ErrConflict)
	}
	return err
}

// GetBot loads a bot by id
func (db *DB) GetBot(ctx context.Context, id string) (*game.Bot, error) {
	return db.getBot(ctx, "id", id)
}

// GetBotByName loads a bot by name
func (db *DB) GetBotByName(ctx context.Context, name string) (*game.Bot, error) {
	return db.getBot(ctx, "name", name)
}

func (db *DB) getBot(ctx context.Context, column, value string) (*game.Bot, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var (
		bot                   game.Bot
		themeSlug, configJSON sql.NullString
		active                int
		created               string
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, name, bot_type, theme_slug, config_json, active, created_at
		FROM bots WHERE `+column+` = ?
	`, value).Scan(&bot.ID, &bot.Name, &bot.BotType, &themeSlug, &configJSON, &active, &created)
	if err != nil {
		return nil, notFound(err, "bot", value)
	}

	bot.ThemeSlug = themeSlug.String
	if err := unmarshalNull(configJSON, &bot.Config); err != nil {
		return nil, err
	}
	bot.Active = intToBool(active)
	bot.CreatedAt = parseTime(created)
	return &bot, nil
}

// CreateInstance stores a new instance at version 1
func (db *DB) CreateInstance(ctx context.Context, inst *game.CardInstance) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	now := time.Now()
	inst.Version = 1
	inst.CreatedAt = now
	inst.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO card_instances (
			id, card_uid, bot_id, state_json, context_json, status, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inst.ID, inst.CardUID, inst.BotID, mustJSON(orEmpty(inst.State)), mustJSON(orEmpty(inst.Context)),
		string(inst.Status), inst.Version, formatTime(now), formatTime(now))
	if isConstraint(err) {
		return fmt.Errorf("instance %s: %w", inst.ID, game.ErrConflict)
	}
	return err
}

// GetInstance loads an instance by id
func (db *DB) GetInstance(ctx context.Context, id string) (*game.CardInstance, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var (
		inst                         game.CardInstance
		botID                        sql.NullString
		stateJSON, contextJSON       string
		status, createdAt, updatedAt string
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, card_uid, bot_id, state_json, context_json, status, version, created_at, updated_at
		FROM card_instances WHERE id = ?
	`, id).Scan(&inst.ID, &inst.CardUID, &botID, &stateJSON, &contextJSON, &status, &inst.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, notFound(err, "instance", id)
	}

	inst.BotID = botID.String
	if err := json.Unmarshal([]byte(stateJSON), &inst.State); err != nil {
		return nil, fmt.Errorf("decode instance %s state: %w", id, err)
	}
	if err := json.Unmarshal([]byte(contextJSON), &inst.Context); err != nil {
		return nil, fmt.Errorf("decode instance %s context: %w", id, err)
	}
	inst.Status = game.Status(status)
	inst.CreatedAt = parseTime(createdAt)
	inst.UpdatedAt = parseTime(updatedAt)
	return &inst, nil
}

// UpdateInstance writes an instance if its version is current
func (db *DB) UpdateInstance(ctx context.Context, inst *game.CardInstance) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	now := time.Now()
	res, err := db.conn.ExecContext(ctx, `
		UPDATE card_instances
		SET card_uid = ?, bot_id = ?, state_json = ?, context_json = ?, status = ?,
		    version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, inst.CardUID, inst.BotID, mustJSON(orEmpty(inst.State)), mustJSON(orEmpty(inst.Context)),
		string(inst.Status), formatTime(now), inst.ID, inst.Version)
	if err != nil {
		return err
	}
	if err := checkVersioned(ctx, db.conn, res, "card_instances", "instance", inst.ID, inst.Version); err != nil {
		return err
	}
	inst.Version++
	inst.UpdatedAt = now
	return nil
}

// AppendResponse records a response
func (db *DB) AppendResponse(ctx context.Context, resp *game.CardResponse) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now()
	}
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO card_responses (
			card_instance_id, card_uid, account_id, action_id, action_type,
			payload_json, inputs_json, context_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, resp.CardInstanceID, resp.CardUID, resp.AccountID, resp.ActionID, resp.ActionType,
		mustJSON(orEmpty(resp.Payload)), mustJSON(resp.Inputs), mustJSON(resp.Context), formatTime(resp.CreatedAt))
	if isConstraint(err) {
		return fmt.Errorf("instance %s: %w", resp.CardInstanceID, game.ErrNotFound)
	}
	if err != nil {
		return err
	}
	resp.ID, err = res.LastInsertId()
	return err
}

// ListResponses returns the responses of an instance, oldest first
func (db *DB) ListResponses(ctx context.Context, instanceID string) ([]*game.CardResponse, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, card_instance_id, card_uid, account_id, action_id, action_type,
		       payload_json, inputs_json, context_json, created_at
		FROM card_responses WHERE card_instance_id = ? ORDER BY id
	`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	responses := make([]*game.CardResponse, 0)
	for rows.Next() {
		var (
			resp                            game.CardResponse
			accountID, actionID, actionType sql.NullString
			payloadJSON, createdAt          string
			inputsJSON, contextJSON         sql.NullString
		)
		if err := rows.Scan(&resp.ID, &resp.CardInstanceID, &resp.CardUID, &accountID, &actionID, &actionType,
			&payloadJSON, &inputsJSON, &contextJSON, &createdAt); err != nil {
			return nil, err
		}
		resp.AccountID = accountID.String
		resp.ActionID = actionID.String
		resp.ActionType = actionType.String
		if err := json.Unmarshal([]byte(payloadJSON), &resp.Payload); err != nil {
			return nil, fmt.Errorf("decode response %d: %w", resp.ID, err)
		}
		if err := unmarshalNull(inputsJSON, &resp.Inputs); err != nil {
			return nil, err
		}
		if err := unmarshalNull(contextJSON, &resp.Context); err != nil {
			return nil, err
		}
		resp.CreatedAt = parseTime(createdAt)
		responses = append(responses, &resp)
	}
	return responses, rows.Err()
}

// SaveScenario stores a new scenario with its NPCs
func (db *DB) SaveScenario(ctx context.Context, def *game.ScenarioDefinition, npcs []*game.NpcProfile) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	graphJSON, err := json.Marshal(def.Graph)
	if err != nil {
		return fmt.Errorf("encode graph: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO scenario_definitions (
			uid, name, version, description, entry_card_uid, graph_json, metadata_json, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, def.UID, def.Name, def.Version, def.Description, def.EntryCardUID, string(graphJSON),
		mustJSON(def.Metadata), boolToInt(def.Active), formatTime(now), formatTime(now))
	if isConstraint(err) {
		return fmt.Errorf("scenario %s: %w", def.UID, game.ErrConflict)
	}
	if err != nil {
		return err
	}

	for _, npc := range npcs {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO npc_profiles (scenario_uid, name, role, description, data_json)
			VALUES (?, ?, ?, ?, ?)
		`, def.UID, npc.Name, npc.Role, npc.Description, mustJSON(npc.Data))
		if err != nil {
			return err
		}
		if npc.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		npc.ScenarioUID = def.UID
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	def.CreatedAt = now
	def.UpdatedAt = now
	return nil
}

// GetScenario loads a scenario and rebuilds its graph
func (db *DB) GetScenario(ctx context.Context, uid string) (*game.ScenarioDefinition, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var (
		def                             game.ScenarioDefinition
		description, metadataJSON       sql.NullString
		graphJSON, createdAt, updatedAt string
		active                          int
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT uid, name, version, description, entry_card_uid, graph_json, metadata_json, active, created_at, updated_at
		FROM scenario_definitions WHERE uid = ?
	`, uid).Scan(&def.UID, &def.Name, &def.Version, &description, &def.EntryCardUID, &graphJSON,
		&metadataJSON, &active, &createdAt, &updatedAt)
	if err != nil {
		return nil, notFound(err, "scenario", uid)
	}

	def.Description = description.String
	def.Graph = story.NewGraph(0)
	if err := json.Unmarshal([]byte(graphJSON), def.Graph); err != nil {
		return nil, fmt.Errorf("decode scenario %s graph: %w", uid, err)
	}
	if err := unmarshalNull(metadataJSON, &def.Metadata); err != nil {
		return nil, err
	}
	def.Active = intToBool(active)
	def.CreatedAt = parseTime(createdAt)
	def.UpdatedAt = parseTime(updatedAt)
	return &def, nil
}

// ActivateScenario stores the node cards and marks the scenario active
// in one transaction
func (db *DB) ActivateScenario(ctx context.Context, uid string, nodeCards []cards.CardDefinition) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	res, err := tx.ExecContext(ctx, `
		UPDATE scenario_definitions SET active = 1, updated_at = ? WHERE uid = ?
	`, now, uid)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("scenario %s: %w", uid, game.ErrNotFound)
	}

	for i := range nodeCards {
		card := &nodeCards[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO card_definitions (
				uid, schema_version, card_version, definition_json, compiled_json, metadata_json, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`, card.UID, card.SchemaVersion, card.CardVersion, mustJSON(&card.Definition), nullRaw(card.Compiled),
			mustJSON(card.Metadata), now)
		if isConstraint(err) {
			return fmt.Errorf("card %s: %w", card.UID, game.ErrConflict)
		}
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListNpcProfiles returns the NPCs of a scenario
func (db *DB) ListNpcProfiles(ctx context.Context, scenarioUID string) ([]*game.NpcProfile, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, scenario_uid, name, role, description, data_json
		FROM npc_profiles WHERE scenario_uid = ? ORDER BY id
	`, scenarioUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	npcs := make([]*game.NpcProfile, 0)
	for rows.Next() {
		var (
			npc                         game.NpcProfile
			role, description, dataJSON sql.NullString
		)
		if err := rows.Scan(&npc.ID, &npc.ScenarioUID, &npc.Name, &role, &description, &dataJSON); err != nil {
			return nil, err
		}
		npc.Role = role.String
		npc.Description = description.String
		if err := unmarshalNull(dataJSON, &npc.Data); err != nil {
			return nil, err
		}
		npcs = append(npcs, &npc)
	}
	return npcs, rows.Err()
}

// CreateRun stores a new run at version 1 with its state rows
func (db *DB) CreateRun(ctx context.Context, run *game.ScenarioRun) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if run.State == nil {
		run.State = game.NewRunState()
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO scenario_runs (
			id, scenario_uid, account_id, bot_id, card_instance_id, status, current_card_no,
			current_card_uid, version, started_at, completed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
	`, run.ID, run.ScenarioUID, run.AccountID, run.BotID, run.CardInstanceID, string(run.Status),
		run.CurrentCardNo, run.CurrentCardUID, formatTime(run.StartedAt), nullTime(run.CompletedAt), formatTime(now))
	if isConstraint(err) {
		return fmt.Errorf("run %s: %w", run.ID, game.ErrConflict)
	}
	if err != nil {
		return err
	}
	if err := writeRunState(ctx, tx, run.ID, run.State); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	run.Version = 1
	run.UpdatedAt = now
	return nil
}

// GetRun loads a run by id
func (db *DB) GetRun(ctx context.Context, id string) (*game.ScenarioRun, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.queryRun(ctx, `WHERE r.id = ?`, id)
}

// GetRunByInstance loads the most recent run bound to a card instance
func (db *DB) GetRunByInstance(ctx context.Context, instanceID string) (*game.ScenarioRun, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.queryRun(ctx, `WHERE r.card_instance_id = ? ORDER BY r.started_at DESC LIMIT 1`, instanceID)
}

func (db *DB) queryRun(ctx context.Context, where string, arg string) (*game.ScenarioRun, error) {
	var (
		run                                       game.ScenarioRun
		accountID, botID, instanceID, completedAt sql.NullString
		status, startedAt, updatedAt              string
		memoryJSON, variablesJSON, historyJSON    string
		itemsJSON, currencyJSON                   string
		flagsJSON, milestonesJSON                 string
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT r.id, r.scenario_uid, r.account_id, r.bot_id, r.card_instance_id, r.status,
		       r.current_card_no, r.current_card_uid, r.version, r.started_at, r.completed_at, r.updated_at,
		       s.memory_json, s.variables_json, s.history_json,
		       i.items_json, i.currency_json,
		       q.flags_json, q.milestones_json
		FROM scenario_runs r
		JOIN scenario_states s ON s.run_id = r.id
		JOIN inventories i ON i.run_id = r.id
		JOIN quest_flags q ON q.run_id = r.id
		`+where, arg).Scan(
		&run.ID, &run.ScenarioUID, &accountID, &botID, &instanceID, &status,
		&run.CurrentCardNo, &run.CurrentCardUID, &run.Version, &startedAt, &completedAt, &updatedAt,
		&memoryJSON, &variablesJSON, &historyJSON,
		&itemsJSON, &currencyJSON,
		&flagsJSON, &milestonesJSON,
	)
	if err != nil {
		return nil, notFound(err, "run", arg)
	}

	run.AccountID = accountID.String
	run.BotID = botID.String
	run.CardInstanceID = instanceID.String
	run.Status = game.Status(status)
	run.StartedAt = parseTime(startedAt)
	run.UpdatedAt = parseTime(updatedAt)
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		run.CompletedAt = &t
	}

	state := game.NewRunState()
	for _, field := range []struct {
		data string
		dst  any
	}{
		{memoryJSON, &state.Memory},
		{variablesJSON, &state.Variables},
		{historyJSON, &state.History},
		{itemsJSON, &state.Inventory.Items},
		{currencyJSON, &state.Inventory.Currency},
		{flagsJSON, &state.Quest.Flags},
		{milestonesJSON, &state.Quest.Milestones},
	} {
		if err := json.Unmarshal([]byte(field.data), field.dst); err != nil {
			return nil, fmt.Errorf("decode run %s state: %w", run.ID, err)
		}
	}
	// Round-trip through the state codec so nil maps are filled
	data, err := state.Serialize()
	if err != nil {
		return nil, err
	}
	if run.State, err = game.DeserializeRunState(data); err != nil {
		return nil, err
	}
	return &run, nil
}

// UpdateRun writes a run and its state in one transaction if its
// version is current
func (db *DB) UpdateRun(ctx context.Context, run *game.ScenarioRun) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		UPDATE scenario_runs
		SET status = ?, current_card_no = ?, current_card_uid = ?, completed_at = ?,
		    version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, string(run.Status), run.CurrentCardNo, run.CurrentCardUID, nullTime(run.CompletedAt),
		formatTime(now), run.ID, run.Version)
	if err != nil {
		return err
	}
	if err := checkVersioned(ctx, tx, res, "scenario_runs", "run", run.ID, run.Version); err != nil {
		return err
	}
	if run.State != nil {
		if err := writeRunState(ctx, tx, run.ID, run.State); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	run.Version++
	run.UpdatedAt = now
	return nil
}

// SaveImportLog records an import
func (db *DB) SaveImportLog(ctx context.Context, log *game.ImportLog) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO import_logs (
			import_type, source_name, scenario_uid, total_records, success_count, error_count,
			errors_json, status, initiated_by, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, log.ImportType, log.SourceName, log.ScenarioUID, log.TotalRecords, log.SuccessCount, log.ErrorCount,
		mustJSON(log.Errors), log.Status, log.InitiatedBy, formatTime(log.StartedAt), formatTime(log.CompletedAt))
	if err != nil {
		return err
	}
	log.ID, err = res.LastInsertId()
	return err
}

// ListImportLogs returns recorded imports, newest first
func (db *DB) ListImportLogs(ctx context.Context, limit int) ([]*game.ImportLog, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, import_type, source_name, scenario_uid, total_records, success_count, error_count,
		       errors_json, status, initiated_by, started_at, completed_at
		FROM import_logs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]*game.ImportLog, 0)
	for rows.Next() {
		var (
			log                        game.ImportLog
			scenarioUID, initiatedBy   sql.NullString
			errorsJSON, started, ended string
		)
		if err := rows.Scan(&log.ID, &log.ImportType, &log.SourceName, &scenarioUID, &log.TotalRecords,
			&log.SuccessCount, &log.ErrorCount, &errorsJSON, &log.Status, &initiatedBy, &started, &ended); err != nil {
			return nil, err
		}
		log.ScenarioUID = scenarioUID.String
		log.InitiatedBy = initiatedBy.String
		if err := json.Unmarshal([]byte(errorsJSON), &log.Errors); err != nil {
			return nil, fmt.Errorf("decode import log %d: %w", log.ID, err)
		}
		log.StartedAt = parseTime(started)
		log.CompletedAt = parseTime(ended)
		logs = append(logs, &log)
	}
	return logs, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func writeRunState(ctx context.Context, tx execer, runID string, state *game.RunState) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO scenario_states (run_id, memory_json, variables_json, history_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			memory_json = excluded.memory_json,
			variables_json = excluded.variables_json,
			history_json = excluded.history_json
	`, runID, mustJSON(state.Memory), mustJSON(state.Variables), mustJSON(state.History)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO inventories (run_id, items_json, currency_json)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			items_json = excluded.items_json,
			currency_json = excluded.currency_json
	`, runID, mustJSON(state.Inventory.Items), mustJSON(state.Inventory.Currency)); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO quest_flags (run_id, flags_json, milestones_json)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			flags_json = excluded.flags_json,
			milestones_json = excluded.milestones_json
	`, runID, mustJSON(state.Quest.Flags), mustJSON(state.Quest.Milestones))
	return err
}

// checkVersioned turns a zero-row optimistic update into ErrNotFound or
// ErrConflict
func checkVersioned(ctx context.Context, q execer, res sql.Result, table, kind, id string, version int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = q.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, game.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%s %s version %d: %w", kind, id, version, game.ErrConflict)
}

// Helper functions
func notFound(err error, kind, key string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, key, game.ErrNotFound)
	}
	return err
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("encode %T: %v", v, err))
	}
	return string(data)
}

func nullRaw(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func unmarshalNull[T any](s sql.NullString, dst *T) error {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(s.String), dst); err != nil {
		return fmt.Errorf("decode %T: %w", dst, err)
	}
	return nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}
