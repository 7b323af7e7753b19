package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("builds a graph", func(t *testing.T) {
		store := NewMemoryStore()
		id, err := store.CreateGraph(ctx, domain.GraphSpec{SessionID: "s1", CollectionID: "c1", Name: "citations:c1"})
		require.NoError(t, err)

		require.NoError(t, store.AddNode(ctx, id, domain.GraphNode{ID: "doi:10.1/a", Label: "A", Year: 2019}))
		require.NoError(t, store.AddNode(ctx, id, domain.GraphNode{ID: "doi:10.1/b", Label: "B"}))
		require.NoError(t, store.AddNode(ctx, id, domain.GraphNode{ID: "doi:10.1/b", Label: "B (updated)", Year: 2021}))
		require.NoError(t, store.AddEdge(ctx, id, domain.GraphEdge{Source: "doi:10.1/a", Target: "doi:10.1/b"}))
		require.NoError(t, store.AddEdge(ctx, id, domain.GraphEdge{Source: "doi:10.1/a", Target: "doi:10.1/b", Kind: domain.EdgeCites}))

		g, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "s1", g.SessionID)
		assert.Equal(t, "citations:c1", g.Name)
		require.Len(t, g.Nodes, 2)
		assert.Equal(t, "B (updated)", g.Nodes[1].Label)
		assert.Equal(t, []domain.GraphEdge{{Source: "doi:10.1/a", Target: "doi:10.1/b", Kind: domain.EdgeCites}}, g.Edges)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.CreateGraph(ctx, domain.GraphSpec{CollectionID: "c1"})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		id, err := store.CreateGraph(ctx, domain.GraphSpec{SessionID: "s1", CollectionID: "c1"})
		require.NoError(t, err)
		require.NoError(t, store.AddNode(ctx, id, domain.GraphNode{ID: "a"}))

		assert.ErrorIs(t, store.AddNode(ctx, id, domain.GraphNode{}), domain.ErrInvalidInput)
		assert.ErrorIs(t, store.AddEdge(ctx, id, domain.GraphEdge{Source: "a", Target: "a"}), domain.ErrInvalidInput)
		assert.ErrorIs(t, store.AddEdge(ctx, id, domain.GraphEdge{Source: "a", Target: "zzz"}), domain.ErrInvalidInput)
		assert.ErrorIs(t, store.AddNode(ctx, "missing", domain.GraphNode{ID: "a"}), domain.ErrNotFound)
		assert.ErrorIs(t, store.AddEdge(ctx, "missing", domain.GraphEdge{Source: "a", Target: "b"}), domain.ErrNotFound)
		_, err = store.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("lists a session's graphs in creation order", func(t *testing.T) {
		store := NewMemoryStore()
		first, err := store.CreateGraph(ctx, domain.GraphSpec{SessionID: "s1", CollectionID: "c1"})
		require.NoError(t, err)
		_, err = store.CreateGraph(ctx, domain.GraphSpec{SessionID: "s2", CollectionID: "c2"})
		require.NoError(t, err)
		second, err := store.CreateGraph(ctx, domain.GraphSpec{SessionID: "s1", CollectionID: "c1"})
		require.NoError(t, err)
		require.NoError(t, store.AddNode(ctx, first, domain.GraphNode{ID: "a"}))

		graphs, err := store.List(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, graphs, 2)
		assert.Equal(t, first, graphs[0].ID)
		assert.Equal(t, second, graphs[1].ID)
		assert.Nil(t, graphs[0].Nodes)
	})
}
