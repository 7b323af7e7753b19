package httpserver

import (
	"encoding/json"
	"time"

	"github.com/helixir/session-workflow-engine/internal/domain"
	"github.com/helixir/session-workflow-engine/internal/projection"
)

// submitCommandRequest is the JSON request body for POST /commands.
type submitCommandRequest struct {
	Type   domain.CommandType `json:"type"`
	Params json.RawMessage    `json:"params,omitempty"`
}

type submitCommandResponse struct {
	CommandID string    `json:"command_id"`
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Accepted  time.Time `json:"accepted_at"`
}

type listSessionsResponse struct {
	Sessions      []projection.Session `json:"sessions"`
	NextPageToken string               `json:"next_page_token,omitempty"`
	TotalCount    int                  `json:"total_count"`
}

type listEventsResponse struct {
	Events []domain.Event `json:"events"`
	// NextAfterSeq is the cursor for the next page; zero when exhausted.
	NextAfterSeq int64 `json:"next_after_seq,omitempty"`
}

type artifactSummaryResponse struct {
	ID        string              `json:"id"`
	Kind      domain.ArtifactKind `json:"kind"`
	Key       string              `json:"key"`
	Version   int                 `json:"version"`
	CreatedAt time.Time           `json:"created_at"`
	Meta      map[string]string   `json:"meta,omitempty"`
	Size      int                 `json:"size"`
}

type listArtifactsResponse struct {
	Artifacts []artifactSummaryResponse `json:"artifacts"`
}

type graphSummaryResponse struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	CollectionID string    `json:"collection_id"`
	Name         string    `json:"name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type listGraphsResponse struct {
	Graphs []graphSummaryResponse `json:"graphs"`
}

type graphResponse struct {
	graphSummaryResponse
	Nodes []domain.GraphNode `json:"nodes"`
	Edges []domain.GraphEdge `json:"edges"`
}

// Converter functions

func commandToResponse(cmd domain.Command) submitCommandResponse {
	return submitCommandResponse{
		CommandID: cmd.ID.String(),
		Type:      string(cmd.Type),
		SessionID: cmd.SessionID,
		Accepted:  cmd.Timestamp,
	}
}

func artifactToSummary(a domain.Artifact) artifactSummaryResponse {
	return artifactSummaryResponse{
		ID:        a.ID,
		Kind:      a.Kind,
		Key:       a.Key,
		Version:   a.Version,
		CreatedAt: a.CreatedAt,
		Meta:      a.Meta,
		Size:      len(a.Data),
	}
}

func graphToSummary(g domain.Graph) graphSummaryResponse {
	return graphSummaryResponse{
		ID:           g.ID,
		SessionID:    g.SessionID,
		CollectionID: g.CollectionID,
		Name:         g.Name,
		CreatedAt:    g.CreatedAt,
	}
}

func graphToResponse(g domain.Graph) graphResponse {
	nodes := g.Nodes
	if nodes == nil {
		nodes = []domain.GraphNode{}
	}
	edges := g.Edges
	if edges == nil {
		edges = []domain.GraphEdge{}
	}
	return graphResponse{graphSummaryResponse: graphToSummary(g), Nodes: nodes, Edges: edges}
}
