package orchestrator

import (
	"context"

	"github.com/helixir/session-workflow-engine/internal/domain"
	"github.com/helixir/session-workflow-engine/internal/projection"
)

// QueryGenerator plans the next search query from the session direction and
// recently ingested papers.
type QueryGenerator interface {
	Generate(ctx context.Context, direction domain.Direction, briefs []domain.Brief, round int) (domain.GeneratedQuery, error)
}

// WebSearch finds candidate papers for a query.
type WebSearch interface {
	Search(ctx context.Context, query string, limit int) ([]domain.Candidate, error)
}

// LiteratureStore owns paper metadata and collection membership.
type LiteratureStore interface {
	BatchImport(ctx context.Context, identifiers []string, opts domain.ImportOptions) (domain.ImportResult, error)
	GetCollection(ctx context.Context, id string) (domain.Collection, error)
	GetPapers(ctx context.Context, identifiers []string) ([]domain.PaperRecord, error)
	RemoveFromCollection(ctx context.Context, collectionID string, identifiers []string) error
}

// GraphStore persists citation graphs.
type GraphStore interface {
	CreateGraph(ctx context.Context, spec domain.GraphSpec) (string, error)
	AddNode(ctx context.Context, graphID string, node domain.GraphNode) error
	AddEdge(ctx context.Context, graphID string, edge domain.GraphEdge) error
}

// CitationSource lists the identifiers a paper references.
type CitationSource interface {
	References(ctx context.Context, identifier string) ([]string, error)
}

// EventEmitter appends and publishes events. *eventlog.Emitter implements it.
type EventEmitter interface {
	Emit(ctx context.Context, sessionID string, payload domain.EventPayload) (domain.Event, error)
}

// ProjectionReader reads projected session state.
// *projection.Service implements it.
type ProjectionReader interface {
	Session(ctx context.Context, id string) (projection.Session, error)
	Sessions(ctx context.Context) ([]projection.Session, error)
}
