// Package graph persists the citation graphs built from session collections.
package graph

import (
	"context"
	"strings"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

// Store creates and reads citation graphs.
type Store interface {
	CreateGraph(ctx context.Context, spec domain.GraphSpec) (string, error)
	AddNode(ctx context.Context, graphID string, node domain.GraphNode) error
	AddEdge(ctx context.Context, graphID string, edge domain.GraphEdge) error

	// Get returns the graph with its nodes and edges.
	Get(ctx context.Context, graphID string) (domain.Graph, error)
	// List returns a session's graphs, oldest first, without nodes or edges.
	List(ctx context.Context, sessionID string) ([]domain.Graph, error)
}

func validateSpec(spec domain.GraphSpec) error {
	if strings.TrimSpace(spec.SessionID) == "" {
		return domain.NewValidationError("session_id", "is required")
	}
	if strings.TrimSpace(spec.CollectionID) == "" {
		return domain.NewValidationError("collection_id", "is required")
	}
	return nil
}

func validateNode(node domain.GraphNode) error {
	if strings.TrimSpace(node.ID) == "" {
		return domain.NewValidationError("node.id", "is required")
	}
	return nil
}

// normalizeEdge defaults the kind to cites and rejects self loops.
func normalizeEdge(edge domain.GraphEdge) (domain.GraphEdge, error) {
	if edge.Source == "" || edge.Target == "" {
		return edge, domain.NewValidationError("edge", "source and target are required")
	}
	if edge.Source == edge.Target {
		return edge, domain.NewValidationError("edge", "self loops are not allowed")
	}
	if edge.Kind == "" {
		edge.Kind = domain.EdgeCites
	}
	return edge, nil
}
