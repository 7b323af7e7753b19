package httpserver

import (
	"net/http"

	"github.com/helixir/session-workflow-engine/internal/domain"
	"github.com/helixir/session-workflow-engine/internal/observability"
)

// listArtifacts handles GET /artifacts?kind=&key=.
// Data is omitted from the listing; fetch a single artifact for it.
func (s *Server) listArtifacts(w http.ResponseWriter, r *http.Request) {
	kind := domain.ArtifactKind(r.URL.Query().Get("kind"))
	key := r.URL.Query().Get("key")

	artifacts, err := s.deps.Artifacts.List(r.Context(), kind)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	summaries := make([]artifactSummaryResponse, 0, len(artifacts))
	for _, a := range artifacts {
		if key != "" && a.Key != key {
			continue
		}
		summaries = append(summaries, artifactToSummary(a))
	}

	writeJSON(w, http.StatusOK, listArtifactsResponse{Artifacts: summaries})
}

// getArtifact handles GET /artifacts/{artifactID}.
func (s *Server) getArtifact(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "artifactID")
	if id == "" {
		writeError(w, http.StatusBadRequest, "artifact_id is required")
		return
	}

	a, err := s.deps.Artifacts.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// listSessionGraphs handles GET /sessions/{sessionID}/graphs.
func (s *Server) listSessionGraphs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Graphs == nil {
		writeError(w, http.StatusNotFound, "graphs are not enabled")
		return
	}
	ctx := r.Context()

	graphs, err := s.deps.Graphs.List(ctx, observability.SessionIDFromContext(ctx))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	summaries := make([]graphSummaryResponse, len(graphs))
	for i, g := range graphs {
		summaries[i] = graphToSummary(g)
	}
	writeJSON(w, http.StatusOK, listGraphsResponse{Graphs: summaries})
}

// getGraph handles GET /graphs/{graphID}.
func (s *Server) getGraph(w http.ResponseWriter, r *http.Request) {
	if s.deps.Graphs == nil {
		writeError(w, http.StatusNotFound, "graphs are not enabled")
		return
	}

	g, err := s.deps.Graphs.Get(r.Context(), pathParam(r, "graphID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, graphToResponse(g))
}
