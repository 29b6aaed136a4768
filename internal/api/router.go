package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/qninhdt/gamepatch/internal/cards"
	"github.com/qninhdt/gamepatch/internal/config"
	"github.com/qninhdt/gamepatch/internal/game"
	mw "github.com/qninhdt/gamepatch/internal/middleware"
	"github.com/qninhdt/gamepatch/internal/validation"
)

// BasePath prefixes every route
const BasePath = "/gamepatch/api"

// Server handles HTTP requests
type Server struct {
	router      chi.Router
	desk        *game.CardDesk
	runner      *game.Runner
	scenarios   *game.Scenarios
	auth        *mw.Auth
	rateLimiter *mw.RateLimiter
	logger      *slog.Logger
	maxBody     int64
	origins     []string
}

// NewServer creates a new API server over a store
func NewServer(store game.Store, cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	runner := game.NewRunner(store, game.NewLockManager(), logger)
	s := &Server{
		router:      chi.NewRouter(),
		desk:        game.NewCardDesk(store, runner, logger, cfg.DefaultBot),
		runner:      runner,
		scenarios:   game.NewScenarios(store, logger),
		auth:        mw.NewAuth(cfg.JWTSecret),
		rateLimiter: mw.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		logger:      logger,
		maxBody:     cfg.MaxBodyBytes,
		origins:     cfg.AllowedOrigins,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.SetHeader("Content-Type", "application/json"))
	s.router.Use(s.rateLimiter.Middleware)
	s.router.Use(mw.SecurityHeaders)
	s.router.Use(mw.CORS(s.origins))
	s.router.Use(mw.MaxBodySize(s.maxBody))
	s.router.Use(s.auth.Authenticate)

	s.router.Route(BasePath, func(r chi.Router) {
		// Card protocol, open to any host surface
		r.Get("/cards/{uid}", s.getCard)
		r.Get("/cards/{uid}/html", s.getCardHTML)
		r.Post("/cards/{uid}/instances", s.createInstance)
		r.Post("/cards/{uid}/respond", s.respond)

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireAccount)
			r.Post("/cards", s.publishCard)
			r.Put("/themes/{slug}", s.saveTheme)
			r.Post("/bots", s.registerBot)
			r.Post("/instances/{id}/abandon", s.abandonInstance)
			r.Get("/instances/{id}/responses", s.listResponses)

			r.Post("/scenarios/import", s.importScenario)
			r.Get("/imports", s.listImports)
			r.Get("/scenarios/{uid}", s.getScenario)
			r.Get("/scenarios/{uid}/graph", s.getScenarioGraph)
			r.Post("/scenarios/{uid}/publish", s.publishScenario)
			r.Post("/scenarios/{uid}/runs", s.startRun)
			r.Get("/runs/{id}", s.getRun)
			r.Get("/runs/{id}/choices", s.getChoices)
			r.Post("/runs/{id}/choose", s.choose)
			r.Post("/runs/{id}/abandon", s.abandonRun)
		})
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response wraps admin API responses
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response (sanitized)
func writeError(w http.ResponseWriter, status int, message string) {
	if status >= 500 {
		message = "Internal server error"
	}
	writeJSON(w, status, Response{
		Success: false,
		Error:   message,
	})
}

// writeCardError writes a card protocol error, which is a bare {"error"}
func writeCardError(w http.ResponseWriter, status int, message string) {
	if status >= 500 {
		message = "Internal server error"
	}
	writeJSON(w, status, cards.RespondResult{Error: message})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, game.ErrConflict), errors.Is(err, game.ErrInactive):
		return http.StatusConflict
	case errors.Is(err, game.ErrInvalid), errors.Is(err, game.ErrInvalidChoice):
		return http.StatusBadRequest
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

// fail logs server faults and writes err in the admin envelope
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	writeError(w, status, err.Error())
}

// failCard is fail for card protocol routes
func (s *Server) failCard(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("card request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	writeCardError(w, status, err.Error())
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		return game.ErrInvalid
	}
	return nil
}

func hintsFrom(r *http.Request) game.Hints {
	q := r.URL.Query()
	return game.Hints{
		BotID:      q.Get("bot_id"),
		BotName:    q.Get("bot_name"),
		InstanceID: q.Get("card_instance_id"),
	}
}

func uidParam(w http.ResponseWriter, r *http.Request, card bool) (string, bool) {
	uid := chi.URLParam(r, "uid")
	if err := validation.ValidateUID(uid); err != nil {
		if card {
			writeCardError(w, http.StatusBadRequest, "Invalid card uid")
		} else {
			writeError(w, http.StatusBadRequest, "Invalid uid")
		}
		return "", false
	}
	return uid, true
}

func idParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := validation.ValidateInstanceID(id); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return "", false
	}
	return id, true
}

// getCard returns a card payload
func (s *Server) getCard(w http.ResponseWriter, r *http.Request) {
	uid, ok := uidParam(w, r, true)
	if !ok {
		return
	}

	payload, err := s.desk.Fetch(r.Context(), uid, hintsFrom(r))
	if err != nil {
		s.failCard(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// getCardHTML renders a card payload as an HTML fragment
func (s *Server) getCardHTML(w http.ResponseWriter, r *http.Request) {
	uid, ok := uidParam(w, r, true)
	if !ok {
		return
	}

	payload, err := s.desk.Fetch(r.Context(), uid, hintsFrom(r))
	if err != nil {
		s.failCard(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if payload.Definition == nil {
		err = cards.WriteMessageHTML(w, cards.MessageFallback, payload.FallbackText)
	} else {
		scope := cards.Scope{Data: payload.Data, Context: payload.Context, State: payload.State}
		err = cards.WriteHTML(w, cards.Render(payload.Definition, scope), cards.FlattenTheme(payload.HostConfig))
	}
	if err != nil {
		s.logger.Error("render card html", "card", uid, "error", err)
	}
}

// createInstance starts a new card instance
func (s *Server) createInstance(w http.ResponseWriter, r *http.Request) {
	uid, ok := uidParam(w, r, true)
	if !ok {
		return
	}

	var req struct {
		BotID   string `json:"botId"`
		BotName string `json:"botName"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.failCard(w, r, err)
		return
	}
	hints := hintsFrom(r)
	if req.BotID != "" {
		hints.BotID = req.BotID
	}
	if req.BotName != "" {
		hints.BotName = req.BotName
	}

	inst, err := s.desk.CreateInstance(r.Context(), uid, mw.AccountFromContext(r.Context()), hints)
	if err != nil {
		s.failCard(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cards.InstanceCreated{CardInstanceID: inst.ID})
}

// respond records an action on an instance
func (s *Server) respond(w http.ResponseWriter, r *http.Request) {
	uid, ok := uidParam(w, r, true)
	if !ok {
		return
	}

	var req cards.RespondRequest
	if err := decodeBody(r, &req); err != nil {
		s.failCard(w, r, err)
		return
	}
	if err := validation.ValidateInstanceID(req.CardInstanceID); err != nil {
		writeCardError(w, http.StatusBadRequest, "Invalid cardInstanceId")
		return
	}

	result, err := s.desk.Respond(r.Context(), uid, req, mw.AccountFromContext(r.Context()))
	if err != nil {
		s.failCard(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// publishCard stores a new card definition
func (s *Server) publishCard(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	card, problems, err := s.desk.PublishCard(r.Context(), raw)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(problems) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, Response{
			Success: false,
			Error:   "Card definition failed validation",
			Data:    problems,
		})
		return
	}
	writeJSON(w, http.StatusCreated, Response{
		Success: true,
		Data:    card,
	})
}

// saveTheme creates or replaces a theme pack
func (s *Server) saveTheme(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if err := validation.ValidateSlug(slug); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Name     string         `json:"name"`
		Tokens   map[string]any `json:"tokens"`
		Metadata map[string]any `json:"metadata"`
		Active   *bool          `json:"active"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	pack := &game.ThemePack{
		Slug:     slug,
		Name:     req.Name,
		Tokens:   req.Tokens,
		Metadata: req.Metadata,
		Active:   req.Active == nil || *req.Active,
	}
	if pack.Name == "" {
		pack.Name = slug
	}
	if err := s.desk.SaveTheme(r.Context(), pack); err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"theme":      pack,
			"properties": cards.FlattenTheme(pack.Tokens).Properties(),
		},
	})
}

// registerBot creates or updates a bot by name
func (s *Server) registerBot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string         `json:"name"`
		BotType   string         `json:"botType"`
		ThemeSlug string         `json:"themeSlug"`
		Config    map[string]any `json:"config"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := validation.ValidateName(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bot := &game.Bot{
		Name:      req.Name,
		BotType:   req.BotType,
		ThemeSlug: req.ThemeSlug,
		Config:    req.Config,
		Active:    true,
	}
	if bot.BotType == "" {
		bot.BotType = "card"
	}
	if err := s.desk.RegisterBot(r.Context(), bot); err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    bot,
	})
}

// abandonInstance ends an instance from outside the card
func (s *Server) abandonInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	inst, err := s.desk.AbandonInstance(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    inst,
	})
}

// listResponses returns the responses recorded on an instance
func (s *Server) listResponses(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	responses, err := s.desk.Responses(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    responses,
	})
}

// importScenario imports a YAML or JSON dialogue document
func (s *Server) importScenario(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := game.ImportOptions{
		UID:         q.Get("uid"),
		Name:        q.Get("name"),
		Version:     q.Get("version"),
		InitiatedBy: mw.AccountFromContext(r.Context()),
	}
	if opts.UID != "" {
		if err := validation.ValidateUID(opts.UID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	source := q.Get("source")
	if source == "" {
		source = "upload"
	}
	outcome, err := s.scenarios.Import(r.Context(), source, data, opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	status := http.StatusCreated
	if outcome.Scenario == nil {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, Response{
		Success: outcome.Scenario != nil,
		Data:    outcome,
	})
}

// listImports returns recent import logs, newest first
func (s *Server) listImports(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	logs, err := s.scenarios.ImportLogs(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    logs,
	})
}

// getScenario returns a scenario with its NPCs
func (s *Server) getScenario(w http.ResponseWriter, r *http.Request) {
	uid, ok := uidParam(w, r, false)
	if !ok {
		return
	}

	def, npcs, err := s.scenarios.Get(r.Context(), uid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"scenario": def,
			"npcs":     npcs,
			"endings":  def.Graph.Endings(),
		},
	})
}

// getScenarioGraph returns the dialogue graph for visualization
func (s *Server) getScenarioGraph(w http.ResponseWriter, r *http.Request) {
	uid, ok := uidParam(w, r, false)
	if !ok {
		return
	}

	def, _, err := s.scenarios.Get(r.Context(), uid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    def.Graph.VisualGraph(),
	})
}

// publishScenario validates and activates a scenario
func (s *Server) publishScenario(w http.ResponseWriter, r *http.Request) {
	uid, ok := uidParam(w, r, false)
	if !ok {
		return
	}

	problems, err := s.scenarios.Publish(r.Context(), uid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(problems) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, Response{
			Success: false,
			Error:   "Scenario failed validation",
			Data:    problems,
		})
		return
	}

	def, _, err := s.scenarios.Get(r.Context(), uid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    def,
	})
}

// startRun starts a run of a published scenario for the caller
func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	uid, ok := uidParam(w, r, false)
	if !ok {
		return
	}

	var req struct {
		BotID string `json:"botId"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	// runs bound to a card instance are started by the card desk
	run, err := s.runner.Start(r.Context(), uid, mw.AccountFromContext(r.Context()), req.BotID, "")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{
		Success: true,
		Data:    run,
	})
}

// getRun returns a run with its state
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	run, err := s.runner.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    run,
	})
}

// getChoices lists the choices open to a run
func (s *Server) getChoices(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	run, err := s.runner.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offered, err := s.runner.Offered(r.Context(), run)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	labels := make([]string, 0, len(offered))
	for _, c := range offered {
		labels = append(labels, c.Label)
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"cardNo":  run.CurrentCardNo,
			"cardUid": run.CurrentCardUID,
			"choices": labels,
		},
	})
}

// choose takes a choice on a run
func (s *Server) choose(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	var req struct {
		Choice          string `json:"choice"`
		ExpectedCardUID string `json:"expectedCardUid"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := validation.ValidateChoiceLabel(req.Choice); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tr, err := s.desk.ChooseRun(r.Context(), id, req.ExpectedCardUID, req.Choice)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    tr,
	})
}

// abandonRun ends a run without completing it
func (s *Server) abandonRun(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	run, err := s.desk.AbandonRun(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    run,
	})
}
