package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/qninhdt/gamepatch/internal/api"
	"github.com/qninhdt/gamepatch/internal/config"
	"github.com/qninhdt/gamepatch/internal/db"
	"github.com/qninhdt/gamepatch/internal/game"
	"github.com/qninhdt/gamepatch/internal/middleware"
	"github.com/qninhdt/gamepatch/internal/story"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gamepatch",
	Short: "Interactive card and dialogue server",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("db") {
			loaded.DBPath, _ = cmd.Flags().GetString("db")
		}
		cfg = loaded
		logger = config.NewLogger(cfg, os.Stderr)
		slog.SetDefault(logger)
		story.ConditionTimeout = cfg.ConditionTimeout
		return nil
	},
	SilenceUsage: true,
}

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("addr") {
		cfg.Addr, _ = cmd.Flags().GetString("addr")
	}
	memory, _ := cmd.Flags().GetBool("memory")

	var store game.Store
	if memory {
		store = game.NewMemoryStore()
		logger.Warn("using in-memory store, data is lost on exit")
	} else {
		database, err := db.NewDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer database.Close()
		store = database
	}
	if cfg.JWTSecret == "" {
		logger.Warn("GAMEPATCH_JWT_SECRET is empty, every request acts as the local account")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.NewServer(store, cfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Addr, "db", cfg.DBPath, "memory", memory)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import [dialogue.yaml]",
	Short: "Import a dialogue file as a scenario",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	database, err := db.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	name, _ := cmd.Flags().GetString("name")
	uid, _ := cmd.Flags().GetString("uid")
	version, _ := cmd.Flags().GetString("version")
	publish, _ := cmd.Flags().GetBool("publish")

	svc := game.NewScenarios(database, logger)
	outcome, err := svc.Import(cmd.Context(), filepath.Base(path), data, game.ImportOptions{
		UID:         uid,
		Name:        name,
		Version:     version,
		InitiatedBy: "cli",
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Imported %d node(s), %d error(s): %s\n",
		outcome.Result.SuccessCount, outcome.Result.ErrorCount, outcome.Log.Status)
	for _, e := range outcome.Result.Errors {
		fmt.Fprintf(out, "  node %d: %s\n", e.Index, e.Error)
	}
	if outcome.Scenario == nil {
		return fmt.Errorf("nothing imported from %s", path)
	}
	fmt.Fprintf(out, "Scenario %s (%s)\n", outcome.Scenario.UID, outcome.Scenario.Name)

	if !publish {
		return nil
	}
	problems, err := svc.Publish(cmd.Context(), outcome.Scenario.UID)
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		printProblems(cmd, problems)
		return fmt.Errorf("scenario %s not published", outcome.Scenario.UID)
	}
	fmt.Fprintf(out, "Published %s\n", outcome.Scenario.UID)
	return nil
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [dialogue.yaml]",
	Short: "Check a dialogue file without storing it",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	doc, err := story.Parse(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}
	graph, result := story.Import(doc)

	out := cmd.OutOrStdout()
	for _, e := range result.Errors {
		fmt.Fprintf(out, "  node %d: %s\n", e.Index, e.Error)
	}
	problems := graph.Validate()
	printProblems(cmd, problems)

	if result.ErrorCount > 0 || len(problems) > 0 {
		return fmt.Errorf("validation failed: %d node error(s), %d graph problem(s)", result.ErrorCount, len(problems))
	}
	fmt.Fprintf(out, "✓ %d node(s), endings %v\n", graph.Len(), graph.Endings())
	return nil
}

func printProblems(cmd *cobra.Command, problems []*story.ValidationError) {
	for i, p := range problems {
		fmt.Fprintf(cmd.ErrOrStderr(), "  %d. %s\n", i+1, p.Error())
	}
}

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token [account]",
	Short: "Sign an access token for the admin endpoints",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")
		token, err := middleware.NewAuth(cfg.JWTSecret).Sign(strings.TrimSpace(args[0]), ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (overrides GAMEPATCH_DB_PATH)")

	serveCmd.Flags().String("addr", "", "listen address (overrides GAMEPATCH_ADDR)")
	serveCmd.Flags().Bool("memory", false, "keep everything in memory")

	importCmd.Flags().String("name", "", "scenario name")
	importCmd.Flags().String("uid", "", "scenario uid (generated when empty)")
	importCmd.Flags().String("version", "", "scenario version")
	importCmd.Flags().Bool("publish", false, "publish after import")

	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")

	rootCmd.AddCommand(serveCmd, importCmd, validateCmd, tokenCmd)
}
