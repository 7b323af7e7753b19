// Package main provides a CLI tool for schema migrations of the postgres and
// sqlite storage backends.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/session-workflow-engine/internal/config"
	"github.com/helixir/session-workflow-engine/internal/database"
	"github.com/helixir/session-workflow-engine/internal/observability"
	"github.com/helixir/session-workflow-engine/internal/sqlitedb"
)

// action is the single migration operation requested on the command line.
type action struct {
	up      bool
	down    bool
	steps   int
	version bool
	force   int
	path    string
	backend string
}

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// parseAction parses args and checks that exactly one action was requested.
func parseAction(args []string, output io.Writer) (action, error) {
	var a action
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.BoolVar(&a.up, "up", false, "Run all pending migrations")
	fs.BoolVar(&a.down, "down", false, "Roll back all migrations (postgres only)")
	fs.IntVar(&a.steps, "steps", 0, "Run N migration steps, positive=up, negative=down (postgres only)")
	fs.BoolVar(&a.version, "version", false, "Print the current migration version")
	fs.IntVar(&a.force, "force", -1, "Force set migration version to recover from a failed migration (postgres only)")
	fs.StringVar(&a.path, "path", "", "Override the postgres migrations directory path")
	fs.StringVar(&a.backend, "backend", "", "Override the configured storage backend (postgres or sqlite)")
	if err := fs.Parse(args); err != nil {
		return action{}, err
	}

	count := 0
	for _, set := range []bool{a.up, a.down, a.steps != 0, a.version, a.force >= 0} {
		if set {
			count++
		}
	}
	switch {
	case count == 0:
		fs.Usage()
		return action{}, fmt.Errorf("no action specified, use one of -up, -down, -steps N, -version, -force V")
	case count > 1:
		return action{}, fmt.Errorf("specify only one action at a time")
	}
	return a, nil
}

func run(args []string, output io.Writer) error {
	a, err := parseAction(args, output)
	if err != nil {
		return err
	}

	// Load configuration (database settings from env/config file).
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.backend != "" {
		cfg.Storage.Backend = a.backend
	}

	// Set up structured logging with console output for the CLI tool.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	})
	logger = logger.With().Str("component", "migrate").Logger()

	switch cfg.Storage.Backend {
	case config.StorageSQLite:
		return migrateSQLite(a, cfg.Storage.SQLitePath, logger)
	case config.StoragePostgres:
		return migratePostgres(a, cfg, logger)
	default:
		return fmt.Errorf("storage backend %q has no schema to migrate", cfg.Storage.Backend)
	}
}

// migrateSQLite applies the embedded schema. SQLite migrations only move
// forward, so -up and -version are the supported actions.
func migrateSQLite(a action, path string, logger zerolog.Logger) error {
	if !a.up && !a.version {
		return fmt.Errorf("the sqlite backend supports only -up and -version")
	}
	db, err := sqlitedb.Open(path, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	var v int64
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v); err != nil {
		return fmt.Errorf("read sqlite schema version: %w", err)
	}
	logger.Info().Int64("version", v).Str("path", path).Msg("current migration version")
	return nil
}

func migratePostgres(a action, cfg *config.Config, logger zerolog.Logger) error {
	migrationDir := cfg.Database.MigrationPath
	if a.path != "" {
		migrationDir = a.path
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	migrator, err := database.NewMigrator(db, migrationDir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	switch {
	case a.up:
		logger.Info().Msg("running all pending migrations")
		if err := migrator.Up(); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	case a.down:
		logger.Warn().Msg("rolling back all migrations")
		if err := migrator.Down(); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
	case a.steps != 0:
		logger.Info().Int("steps", a.steps).Msg("running migration steps")
		if err := migrator.Steps(a.steps); err != nil {
			return fmt.Errorf("migrate steps: %w", err)
		}
	case a.force >= 0:
		logger.Warn().Int("version", a.force).Msg("forcing migration version")
		if err := migrator.Force(a.force); err != nil {
			return fmt.Errorf("force version: %w", err)
		}
	}

	printVersion(migrator, logger)
	return nil
}

// printVersion logs the current migration version.
func printVersion(migrator *database.Migrator, logger zerolog.Logger) {
	v, dirty, err := migrator.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	logger.Info().
		Uint("version", v).
		Bool("dirty", dirty).
		Msg("current migration version")
}
