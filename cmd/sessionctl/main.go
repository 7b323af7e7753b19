// Package main implements sessionctl, an offline inspector for the session
// event log and artifact store. It reads storage directly, so it works while
// the server is down.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/session-workflow-engine/internal/artifact"
	"github.com/helixir/session-workflow-engine/internal/config"
	"github.com/helixir/session-workflow-engine/internal/database"
	"github.com/helixir/session-workflow-engine/internal/eventlog"
	"github.com/helixir/session-workflow-engine/internal/observability"
	"github.com/helixir/session-workflow-engine/internal/sqlitedb"
)

var (
	// backend overrides the configured storage backend.
	backend string
	// sqlitePath overrides the configured sqlite database file.
	sqlitePath string
	// outputJSON switches every command to JSON output.
	outputJSON bool
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sessionctl",
	Short: "Inspect session workflow engine storage",
	Long: `sessionctl reads the event log and artifact store of a session workflow
engine deployment. Projections are rebuilt locally by replaying events, so the
output matches what the server would report after a restart.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "Storage backend to read (sqlite or postgres, defaults to config)")
	rootCmd.PersistentFlags().StringVar(&sqlitePath, "sqlite-path", "", "SQLite database file (defaults to config)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results as JSON")
}

// stores is the read side of a storage backend.
type stores struct {
	log       eventlog.Log
	artifacts artifact.Store
	close     func()
}

// openStores opens the configured backend for reading.
func openStores(ctx context.Context) (*stores, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if backend != "" {
		cfg.Storage.Backend = backend
	}
	if sqlitePath != "" {
		cfg.Storage.SQLitePath = sqlitePath
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "warn",
		Format:     "console",
		Output:     "stderr",
		TimeFormat: time.RFC3339,
	}).With().Str("component", "sessionctl").Logger()

	return openBackend(ctx, cfg, logger)
}

func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	switch cfg.Storage.Backend {
	case config.StorageSQLite:
		if _, err := os.Stat(cfg.Storage.SQLitePath); err != nil {
			return nil, fmt.Errorf("sqlite database %s: %w", cfg.Storage.SQLitePath, err)
		}
		db, err := sqlitedb.Open(cfg.Storage.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return &stores{
			log:       eventlog.NewSQLiteLog(db),
			artifacts: artifact.NewSQLiteStore(db),
			close:     func() { _ = db.Close() },
		}, nil

	case config.StoragePostgres:
		db, err := database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		return &stores{
			log:       eventlog.NewPgLog(db),
			artifacts: artifact.NewPgStore(db),
			close:     db.Close,
		}, nil

	default:
		return nil, fmt.Errorf("backend %q has no persistent storage to inspect", cfg.Storage.Backend)
	}
}

// withStores opens storage for the duration of fn.
func withStores(cmd *cobra.Command, fn func(ctx context.Context, s *stores) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(ctx, s)
}
