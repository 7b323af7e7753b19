package papersources

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

// stubSource is a configurable PaperSource.
type stubSource struct {
	sourceType domain.SourceType
	enabled    bool

	searchFunc  func(ctx context.Context, params SearchParams) (*SearchResult, error)
	getByIDFunc func(ctx context.Context, id string) (*domain.Paper, error)

	searchCalls atomic.Int32
	lookups     atomic.Int32
}

func newStubSource(sourceType domain.SourceType, enabled bool) *stubSource {
	return &stubSource{sourceType: sourceType, enabled: enabled}
}

func (s *stubSource) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	s.searchCalls.Add(1)
	if s.searchFunc != nil {
		return s.searchFunc(ctx, params)
	}
	return &SearchResult{Source: s.sourceType}, nil
}

func (s *stubSource) GetByID(ctx context.Context, id string) (*domain.Paper, error) {
	s.lookups.Add(1)
	if s.getByIDFunc != nil {
		return s.getByIDFunc(ctx, id)
	}
	return nil, domain.NewNotFoundError("paper", id)
}

func (s *stubSource) SourceType() domain.SourceType { return s.sourceType }
func (s *stubSource) Name() string                  { return string(s.sourceType) }
func (s *stubSource) IsEnabled() bool               { return s.enabled }

func TestRegistry_Sources(t *testing.T) {
	t.Run("register replaces same type", func(t *testing.T) {
		r := NewRegistry()
		first := newStubSource(domain.SourceTypeOpenAlex, true)
		second := newStubSource(domain.SourceTypeOpenAlex, false)
		r.Register(first)
		r.Register(second)

		assert.Same(t, second, r.Get(domain.SourceTypeOpenAlex))
		assert.Len(t, r.AllSources(), 1)
		assert.Nil(t, r.Get(domain.SourceTypeSemanticScholar))
	})

	t.Run("snapshots are ordered and filtered", func(t *testing.T) {
		r := NewRegistry()
		r.Register(newStubSource(domain.SourceTypeSemanticScholar, true))
		r.Register(newStubSource(domain.SourceTypeOpenAlex, false))

		all := r.AllSources()
		require.Len(t, all, 2)
		assert.Equal(t, domain.SourceTypeOpenAlex, all[0].SourceType())
		assert.Equal(t, domain.SourceTypeSemanticScholar, all[1].SourceType())

		enabled := r.EnabledSources()
		require.Len(t, enabled, 1)
		assert.Equal(t, domain.SourceTypeSemanticScholar, enabled[0].SourceType())
	})

	t.Run("concurrent registration is safe", func(t *testing.T) {
		r := NewRegistry()
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				st := domain.SourceTypeOpenAlex
				if i%2 == 0 {
					st = domain.SourceTypeSemanticScholar
				}
				r.Register(newStubSource(st, true))
				_ = r.EnabledSources()
			}(i)
		}
		wg.Wait()
		assert.Len(t, r.AllSources(), 2)
	})
}

func TestRegistry_SearchAll(t *testing.T) {
	t.Run("returns one result per enabled source in order", func(t *testing.T) {
		r := NewRegistry()
		s2 := newStubSource(domain.SourceTypeSemanticScholar, true)
		oa := newStubSource(domain.SourceTypeOpenAlex, true)
		oa.searchFunc = func(ctx context.Context, params SearchParams) (*SearchResult, error) {
			return nil, errors.New("boom")
		}
		off := newStubSource("disabled", false)
		r.Register(s2)
		r.Register(oa)
		r.Register(off)

		results := r.SearchAll(context.Background(), SearchParams{Query: "x"})
		require.Len(t, results, 2)
		assert.Equal(t, domain.SourceTypeOpenAlex, results[0].Source)
		assert.EqualError(t, results[0].Error, "boom")
		assert.Equal(t, domain.SourceTypeSemanticScholar, results[1].Source)
		assert.NoError(t, results[1].Error)
		assert.Equal(t, int32(0), off.searchCalls.Load())
	})

	t.Run("searches run concurrently", func(t *testing.T) {
		r := NewRegistry()
		slow := func(ctx context.Context, params SearchParams) (*SearchResult, error) {
			time.Sleep(80 * time.Millisecond)
			return &SearchResult{}, nil
		}
		for _, st := range []domain.SourceType{domain.SourceTypeOpenAlex, domain.SourceTypeSemanticScholar} {
			s := newStubSource(st, true)
			s.searchFunc = slow
			r.Register(s)
		}

		start := time.Now()
		r.SearchAll(context.Background(), SearchParams{Query: "x"})
		assert.Less(t, time.Since(start), 150*time.Millisecond)
	})

	t.Run("empty registry", func(t *testing.T) {
		assert.Nil(t, NewRegistry().SearchAll(context.Background(), SearchParams{Query: "x"}))
	})
}

func TestRegistry_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("first source that knows the paper wins", func(t *testing.T) {
		r := NewRegistry()
		oa := newStubSource(domain.SourceTypeOpenAlex, true)
		s2 := newStubSource(domain.SourceTypeSemanticScholar, true)
		s2.getByIDFunc = func(ctx context.Context, id string) (*domain.Paper, error) {
			return &domain.Paper{Title: "found", Identifiers: domain.PaperIdentifiers{DOI: "10.1/x"}}, nil
		}
		r.Register(oa)
		r.Register(s2)

		paper, err := r.Resolve(ctx, "doi:10.1/x")
		require.NoError(t, err)
		assert.Equal(t, "found", paper.Title)
		assert.Equal(t, int32(1), oa.lookups.Load())
	})

	t.Run("not found everywhere", func(t *testing.T) {
		r := NewRegistry()
		r.Register(newStubSource(domain.SourceTypeOpenAlex, true))

		_, err := r.Resolve(ctx, "doi:10.1/missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("source failure is reported", func(t *testing.T) {
		r := NewRegistry()
		oa := newStubSource(domain.SourceTypeOpenAlex, true)
		oa.getByIDFunc = func(ctx context.Context, id string) (*domain.Paper, error) {
			return nil, domain.NewExternalAPIError("OpenAlex", 500, "down", nil)
		}
		r.Register(oa)

		_, err := r.Resolve(ctx, "doi:10.1/x")
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrNotFound)
		assert.Contains(t, err.Error(), "openalex")
	})

	t.Run("no enabled sources", func(t *testing.T) {
		_, err := NewRegistry().Resolve(ctx, "doi:10.1/x")
		assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	})
}
