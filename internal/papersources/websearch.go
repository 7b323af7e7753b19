package papersources

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

const (
	defaultSearchLimit = 20
	snippetLength      = 280
	minConfidence      = 0.05
)

// WebSearch turns registry searches into ranked candidates for an expansion
// round. Hits from different sources are interleaved by rank and deduplicated
// on their best identifier.
type WebSearch struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewWebSearch creates a WebSearch over the enabled sources of registry.
func NewWebSearch(registry *Registry, logger zerolog.Logger) *WebSearch {
	return &WebSearch{
		registry: registry,
		logger:   logger.With().Str("component", "websearch").Logger(),
	}
}

// Search runs query against every enabled source and returns at most limit
// candidates. A failing source is logged and skipped; Search only fails when
// every source fails.
func (w *WebSearch) Search(ctx context.Context, query string, limit int) ([]domain.Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.NewValidationError("query", "must not be empty")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	results := w.registry.SearchAll(ctx, SearchParams{Query: query, MaxResults: limit})
	if len(results) == 0 {
		return nil, fmt.Errorf("search %q: no paper sources enabled: %w", query, domain.ErrServiceUnavailable)
	}

	var errs []error
	ranked := make([][]*domain.Paper, 0, len(results))
	for _, r := range results {
		if r.Error != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Source, r.Error))
			w.logger.Warn().Err(r.Error).Str("source", string(r.Source)).Str("query", query).Msg("paper source search failed")
			continue
		}
		if r.Result != nil {
			ranked = append(ranked, r.Result.Papers)
		}
	}
	if len(errs) == len(results) {
		return nil, fmt.Errorf("search %q: %w", query, errors.Join(errs...))
	}

	candidates := mergeRanked(ranked, limit)
	w.logger.Debug().Str("query", query).Int("candidates", len(candidates)).Int("sources", len(ranked)).Msg("search completed")
	return candidates, nil
}

// mergeRanked interleaves per-source result lists by rank. A paper seen in
// more than one source keeps its highest confidence.
func mergeRanked(lists [][]*domain.Paper, limit int) []domain.Candidate {
	longest := 0
	for _, l := range lists {
		if len(l) > longest {
			longest = len(l)
		}
	}

	index := make(map[string]int)
	var out []domain.Candidate
	for rank := 0; rank < longest; rank++ {
		for _, l := range lists {
			if rank >= len(l) || l[rank] == nil {
				continue
			}
			paper := l[rank]
			best := paper.BestIdentifier()
			if best == "" {
				continue
			}
			conf := rankConfidence(rank, len(l))
			if i, seen := index[best]; seen {
				if conf > out[i].Confidence {
					out[i].Confidence = conf
				}
				continue
			}
			if len(out) == limit {
				continue
			}
			index[best] = len(out)
			out = append(out, toCandidate(paper, best, conf))
		}
	}
	return out
}

func rankConfidence(rank, n int) float64 {
	if n <= 1 {
		return 1
	}
	c := 1 - float64(rank)/float64(n)
	if c < minConfidence {
		return minConfidence
	}
	return c
}

func toCandidate(p *domain.Paper, best string, confidence float64) domain.Candidate {
	return domain.Candidate{
		ID:             nativeID(p, best),
		Title:          p.Title,
		Snippet:        truncate(strings.Join(strings.Fields(p.Abstract), " "), snippetLength),
		SourceURL:      sourceURL(p),
		BestIdentifier: best,
		Confidence:     confidence,
	}
}

// nativeID is the id the paper has in the source that returned it.
func nativeID(p *domain.Paper, fallback string) string {
	switch p.Source {
	case domain.SourceTypeSemanticScholar:
		if p.Identifiers.SemanticScholarID != "" {
			return "s2:" + p.Identifiers.SemanticScholarID
		}
	case domain.SourceTypeOpenAlex:
		if p.Identifiers.OpenAlexID != "" {
			return "openalex:" + p.Identifiers.OpenAlexID
		}
	}
	return fallback
}

func sourceURL(p *domain.Paper) string {
	switch {
	case p.URL != "":
		return p.URL
	case p.Identifiers.DOI != "":
		return "https://doi.org/" + p.Identifiers.DOI
	case p.Identifiers.ArXivID != "":
		return "https://arxiv.org/abs/" + p.Identifiers.ArXivID
	default:
		return ""
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + "…"
}
