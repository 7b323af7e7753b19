// Package papersources searches scholarly APIs for papers and adapts their
// results into search candidates and citation lookups for expansion rounds.
//
// Each API (Semantic Scholar, OpenAlex) implements PaperSource. A Registry
// fans a query out to every enabled source, and WebSearch merges the
// per-source hits into ranked, deduplicated candidates.
package papersources

import (
	"context"
	"time"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

// SearchParams describes a single search request.
type SearchParams struct {
	// Query is the free-text search string.
	Query string

	// MaxResults caps the hits per source. Zero uses the source default.
	MaxResults int

	// Offset is the pagination start.
	Offset int

	// YearFrom and YearTo bound the publication year when non-zero.
	YearFrom int
	YearTo   int
}

// SearchResult is one source's answer to a search.
type SearchResult struct {
	Papers         []*domain.Paper
	TotalResults   int
	HasMore        bool
	NextOffset     int
	Source         domain.SourceType
	SearchDuration time.Duration
}

// PaperSource is implemented by every scholarly API client.
type PaperSource interface {
	// Search returns papers matching params, in the source's relevance order.
	Search(ctx context.Context, params SearchParams) (*SearchResult, error)

	// GetByID resolves a prefixed identifier such as "doi:10.1/x".
	// Returns a *domain.NotFoundError when the source does not know the paper
	// or cannot look up that identifier scheme.
	GetByID(ctx context.Context, id string) (*domain.Paper, error)

	SourceType() domain.SourceType
	Name() string
	IsEnabled() bool
}
