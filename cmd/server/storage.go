package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/helixir/session-workflow-engine/internal/artifact"
	"github.com/helixir/session-workflow-engine/internal/config"
	"github.com/helixir/session-workflow-engine/internal/database"
	"github.com/helixir/session-workflow-engine/internal/eventlog"
	"github.com/helixir/session-workflow-engine/internal/graph"
	"github.com/helixir/session-workflow-engine/internal/literature"
	httpserver "github.com/helixir/session-workflow-engine/internal/server/http"
	"github.com/helixir/session-workflow-engine/internal/sqlitedb"
)

// storage bundles the stores selected by the configured backend.
type storage struct {
	log        eventlog.Log
	artifacts  artifact.Store
	literature literature.Store
	graphs     graph.Store
	ready      httpserver.ReadinessCheck
	close      func()
}

// openStorage opens the configured backend. The sqlite backend keeps
// literature and graphs in memory; only postgres persists them.
func openStorage(ctx context.Context, cfg *config.Config, litOpts literature.Options, logger zerolog.Logger) (*storage, error) {
	switch cfg.Storage.Backend {
	case config.StorageMemory:
		logger.Warn().Msg("using in-memory storage, sessions will not survive a restart")
		return &storage{
			log:        eventlog.NewMemoryLog(),
			artifacts:  artifact.NewMemoryStore(),
			literature: literature.NewMemoryStore(litOpts),
			graphs:     graph.NewMemoryStore(),
			close:      func() {},
		}, nil

	case config.StorageSQLite:
		db, err := sqlitedb.Open(cfg.Storage.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return &storage{
			log:        eventlog.NewSQLiteLog(db),
			artifacts:  artifact.NewSQLiteStore(db),
			literature: literature.NewMemoryStore(litOpts),
			graphs:     graph.NewMemoryStore(),
			ready:      db.PingContext,
			close: func() {
				if err := db.Close(); err != nil {
					logger.Error().Err(err).Msg("failed to close sqlite database")
				}
			},
		}, nil

	case config.StoragePostgres:
		db, err := database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		logger.Info().Msg("database connection established")

		if cfg.Database.MigrationAutoRun {
			if err := database.RunMigrations(db, cfg.Database.MigrationPath, logger); err != nil {
				db.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}

		return &storage{
			log:        eventlog.NewPgLog(db),
			artifacts:  artifact.NewPgStore(db),
			literature: literature.NewPgStore(db, litOpts),
			graphs:     graph.NewPgStore(db),
			ready:      db.Ping,
			close:      db.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}
