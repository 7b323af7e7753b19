package papersources

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

// SourceResult pairs one source's search outcome with the source type.
type SourceResult struct {
	Source domain.SourceType
	Result *SearchResult
	Error  error
}

// Registry holds the configured paper sources. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[domain.SourceType]PaperSource
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[domain.SourceType]PaperSource),
	}
}

// Register adds a source, replacing any source of the same type.
func (r *Registry) Register(source PaperSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[source.SourceType()] = source
}

// Get returns the source of the given type, or nil.
func (r *Registry) Get(sourceType domain.SourceType) PaperSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[sourceType]
}

// AllSources returns a snapshot of every registered source ordered by type.
func (r *Registry) AllSources() []PaperSource {
	return r.snapshot(false)
}

// EnabledSources returns a snapshot of the enabled sources ordered by type.
func (r *Registry) EnabledSources() []PaperSource {
	return r.snapshot(true)
}

func (r *Registry) snapshot(enabledOnly bool) []PaperSource {
	r.mu.RLock()
	sources := make([]PaperSource, 0, len(r.sources))
	for _, source := range r.sources {
		if enabledOnly && !source.IsEnabled() {
			continue
		}
		sources = append(sources, source)
	}
	r.mu.RUnlock()

	sort.Slice(sources, func(i, j int) bool {
		return sources[i].SourceType() < sources[j].SourceType()
	})
	return sources
}

// SearchAll searches every enabled source concurrently. Results come back in
// source order, one entry per source, with per-source errors left in place.
func (r *Registry) SearchAll(ctx context.Context, params SearchParams) []SourceResult {
	sources := r.EnabledSources()
	if len(sources) == 0 {
		return nil
	}

	results := make([]SourceResult, len(sources))
	var wg sync.WaitGroup
	for i, source := range sources {
		wg.Add(1)
		go func(i int, s PaperSource) {
			defer wg.Done()
			result, err := s.Search(ctx, params)
			results[i] = SourceResult{Source: s.SourceType(), Result: result, Error: err}
		}(i, source)
	}
	wg.Wait()

	return results
}

// Resolve looks a prefixed identifier up in each enabled source in turn and
// returns the first match. It returns a *domain.NotFoundError when no source
// knows the paper, or the last source error when every lookup failed.
func (r *Registry) Resolve(ctx context.Context, identifier string) (*domain.Paper, error) {
	sources := r.EnabledSources()
	if len(sources) == 0 {
		return nil, fmt.Errorf("resolve %s: no paper sources enabled: %w", identifier, domain.ErrServiceUnavailable)
	}

	var lastErr error
	for _, source := range sources {
		paper, err := source.GetByID(ctx, identifier)
		if err == nil {
			return paper, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		lastErr = fmt.Errorf("%s: %w", source.Name(), err)
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, domain.NewNotFoundError("paper", identifier)
}
