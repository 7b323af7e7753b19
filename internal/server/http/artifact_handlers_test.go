package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

func putCollection(t *testing.T, f *testFixture, key string, version int, items ...string) domain.Artifact {
	t.Helper()
	data, err := json.Marshal(domain.CollectionData{Items: items})
	require.NoError(t, err)
	a := domain.Artifact{Kind: domain.ArtifactKindCollection, Key: key, Version: version, Data: data}
	require.NoError(t, f.artifacts.Put(context.Background(), a))
	latest, err := f.artifacts.Latest(context.Background(), domain.ArtifactKindCollection, key)
	require.NoError(t, err)
	return latest
}

func TestListArtifacts(t *testing.T) {
	f := newTestFixture(t)
	putCollection(t, f, "s-1", 1, "doi:10.1/a")
	putCollection(t, f, "s-1", 2, "doi:10.1/a", "doi:10.1/b")
	putCollection(t, f, "s-2", 1, "arxiv:2401.00001")

	t.Run("by kind", func(t *testing.T) {
		rr := serveHTTP(f.server, httptest.NewRequest(http.MethodGet, "/api/v1/artifacts?kind=collection", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		resp := decodeBody[listArtifactsResponse](t, rr)
		assert.Len(t, resp.Artifacts, 3)
		assert.NotContains(t, rr.Body.String(), "doi:10.1/a")
	})

	t.Run("by kind and key", func(t *testing.T) {
		rr := serveHTTP(f.server, httptest.NewRequest(http.MethodGet, "/api/v1/artifacts?kind=collection&key=s-1", nil))
		resp := decodeBody[listArtifactsResponse](t, rr)
		require.Len(t, resp.Artifacts, 2)
		assert.Equal(t, 1, resp.Artifacts[0].Version)
		assert.Equal(t, 2, resp.Artifacts[1].Version)
	})

	t.Run("unknown kind is empty", func(t *testing.T) {
		rr := serveHTTP(f.server, httptest.NewRequest(http.MethodGet, "/api/v1/artifacts?kind=report", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, decodeBody[listArtifactsResponse](t, rr).Artifacts)
	})
}

func TestGetArtifact(t *testing.T) {
	f := newTestFixture(t)
	stored := putCollection(t, f, "s-1", 1, "doi:10.1/a", "pubmed:123")

	t.Run("returns data", func(t *testing.T) {
		rr := serveHTTP(f.server, httptest.NewRequest(http.MethodGet, "/api/v1/artifacts/"+stored.ID, nil))
		require.Equal(t, http.StatusOK, rr.Code)

		a := decodeBody[domain.Artifact](t, rr)
		assert.Equal(t, stored.ID, a.ID)

		var data domain.CollectionData
		require.NoError(t, json.Unmarshal(a.Data, &data))
		assert.Equal(t, []string{"doi:10.1/a", "pubmed:123"}, data.Items)
	})

	t.Run("missing artifact", func(t *testing.T) {
		rr := serveHTTP(f.server, httptest.NewRequest(http.MethodGet, "/api/v1/artifacts/deadbeef", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestGraphEndpoints(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	graphID, err := f.graphs.CreateGraph(ctx, domain.GraphSpec{SessionID: "s-1", CollectionID: "col-1", Name: "citations:col-1"})
	require.NoError(t, err)
	require.NoError(t, f.graphs.AddNode(ctx, graphID, domain.GraphNode{ID: "doi:10.1/a", Label: "A"}))
	require.NoError(t, f.graphs.AddNode(ctx, graphID, domain.GraphNode{ID: "doi:10.1/b", Label: "B"}))
	require.NoError(t, f.graphs.AddEdge(ctx, graphID, domain.GraphEdge{Source: "doi:10.1/a", Target: "doi:10.1/b"}))

	t.Run("list session graphs", func(t *testing.T) {
		rr := serveHTTP(f.server, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s-1/graphs", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		resp := decodeBody[listGraphsResponse](t, rr)
		require.Len(t, resp.Graphs, 1)
		assert.Equal(t, graphID, resp.Graphs[0].ID)
		assert.Equal(t, "citations:col-1", resp.Graphs[0].Name)
	})

	t.Run("get graph", func(t *testing.T) {
		rr := serveHTTP(f.server, httptest.NewRequest(http.MethodGet, "/api/v1/graphs/"+graphID, nil))
		require.Equal(t, http.StatusOK, rr.Code)

		resp := decodeBody[graphResponse](t, rr)
		assert.Len(t, resp.Nodes, 2)
		require.Len(t, resp.Edges, 1)
		assert.Equal(t, domain.EdgeCites, resp.Edges[0].Kind)
	})

	t.Run("missing graph", func(t *testing.T) {
		rr := serveHTTP(f.server, httptest.NewRequest(http.MethodGet, "/api/v1/graphs/nope", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("graphs disabled", func(t *testing.T) {
		s := NewServer(Config{}, Dependencies{}, zerolog.Nop())
		rr := serveHTTP(s, httptest.NewRequest(http.MethodGet, "/api/v1/graphs/"+graphID, nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
