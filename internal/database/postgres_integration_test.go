//go:build integration

package database_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/helixir/session-workflow-engine/internal/artifact"
	"github.com/helixir/session-workflow-engine/internal/database"
	"github.com/helixir/session-workflow-engine/internal/domain"
	"github.com/helixir/session-workflow-engine/internal/eventlog"
	"github.com/helixir/session-workflow-engine/internal/graph"
	"github.com/helixir/session-workflow-engine/internal/literature"
)

// startPostgres runs a disposable postgres container with the schema applied.
func startPostgres(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("sessionwf_test"),
		tcpostgres.WithUsername("sessionwf"),
		tcpostgres.WithPassword("testpassword"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	pool, err := pgxpool.New(connectCtx, dsn)
	require.NoError(t, err)

	db := database.NewFromPool(pool, zerolog.Nop())
	t.Cleanup(db.Close)

	require.NoError(t, database.RunMigrations(db, "../../migrations", zerolog.Nop()))
	return db
}

func TestPostgresStores_Integration(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()

	t.Run("event log assigns gap-free sequences under concurrency", func(t *testing.T) {
		log := eventlog.NewPgLog(db)

		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				e := domain.NewEvent("s-concurrent", domain.SessionRenamedPayload{Title: "t"})
				errs <- log.Append(ctx, &e)
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		events, err := log.List(ctx, "s-concurrent")
		require.NoError(t, err)
		require.Len(t, events, 20)
		for i, e := range events {
			assert.Equal(t, int64(i+1), e.Seq)
		}
	})

	t.Run("event log rejects duplicate ids", func(t *testing.T) {
		log := eventlog.NewPgLog(db)
		e := domain.NewEvent("s-dup", domain.SessionRenamedPayload{Title: "t"})
		require.NoError(t, log.Append(ctx, &e))

		again := e
		again.Seq = 0
		err := log.Append(ctx, &again)
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})

	t.Run("artifact versions", func(t *testing.T) {
		store := artifact.NewPgStore(db)
		for v := 1; v <= 2; v++ {
			data, err := json.Marshal(domain.CollectionData{Items: []string{"doi:10.1/a"}})
			require.NoError(t, err)
			require.NoError(t, store.Put(ctx, domain.Artifact{
				Kind: domain.ArtifactKindCollection, Key: "s-art", Version: v, Data: data,
			}))
		}

		latest, err := store.Latest(ctx, domain.ArtifactKindCollection, "s-art")
		require.NoError(t, err)
		assert.Equal(t, 2, latest.Version)

		err = store.Put(ctx, domain.Artifact{
			Kind: domain.ArtifactKindCollection, Key: "s-art", Version: 2, Data: json.RawMessage(`{"items":[]}`),
		})
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})

	t.Run("literature import and removal", func(t *testing.T) {
		store := literature.NewPgStore(db, literature.Options{Logger: zerolog.Nop()})
		opts := domain.ImportOptions{CollectionID: "col-int", Source: "test"}

		result, err := store.BatchImport(ctx, []string{"doi:10.1/a", "arxiv:2401.00001", "nonsense"}, opts)
		require.NoError(t, err)
		assert.Equal(t, []string{"doi:10.1/a", "arxiv:2401.00001"}, result.Successful)
		assert.Equal(t, []string{"nonsense"}, result.Failed)

		require.NoError(t, store.RemoveFromCollection(ctx, "col-int", []string{"doi:10.1/a"}))
		col, err := store.GetCollection(ctx, "col-int")
		require.NoError(t, err)
		assert.Equal(t, []string{"arxiv:2401.00001"}, col.PaperIDs)
	})

	t.Run("graph nodes and edges", func(t *testing.T) {
		store := graph.NewPgStore(db)
		id, err := store.CreateGraph(ctx, domain.GraphSpec{SessionID: "s-graph", CollectionID: "col-int", Name: "citations:col-int"})
		require.NoError(t, err)

		require.NoError(t, store.AddNode(ctx, id, domain.GraphNode{ID: "doi:10.1/a", Label: "A"}))
		require.NoError(t, store.AddNode(ctx, id, domain.GraphNode{ID: "doi:10.1/b", Label: "B"}))
		require.NoError(t, store.AddEdge(ctx, id, domain.GraphEdge{Source: "doi:10.1/a", Target: "doi:10.1/b"}))

		g, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Len(t, g.Nodes, 2)
		assert.Len(t, g.Edges, 1)

		graphs, err := store.List(ctx, "s-graph")
		require.NoError(t, err)
		require.Len(t, graphs, 1)
		assert.Equal(t, id, graphs[0].ID)
	})
}
