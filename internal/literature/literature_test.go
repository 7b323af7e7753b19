package literature

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

// fakeResolver knows a fixed set of papers.
type fakeResolver struct {
	mu     sync.Mutex
	papers map[string]*domain.Paper
	fail   map[string]error
	calls  atomic.Int32
	seen   []string
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{papers: map[string]*domain.Paper{}, fail: map[string]error{}}
}

func (r *fakeResolver) add(id, title string, year, citations int) {
	_, value, _ := domain.SplitIdentifier(id)
	r.papers[id] = &domain.Paper{
		Identifiers:     domain.PaperIdentifiers{DOI: value},
		Title:           title,
		PublicationYear: year,
		CitationCount:   citations,
		Source:          domain.SourceTypeOpenAlex,
	}
}

func (r *fakeResolver) Resolve(ctx context.Context, id string) (*domain.Paper, error) {
	r.calls.Add(1)
	r.mu.Lock()
	r.seen = append(r.seen, id)
	r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := r.fail[id]; ok {
		return nil, err
	}
	if p, ok := r.papers[id]; ok {
		return p, nil
	}
	return nil, domain.NewNotFoundError("paper", id)
}

func TestNormalize(t *testing.T) {
	valid, malformed := normalize([]string{" doi:10.1/a ", "doi:10.1/a", "", "nonsense", "s2:xyz", "doi:"})
	assert.Equal(t, []string{"doi:10.1/a", "s2:xyz"}, valid)
	assert.Equal(t, []string{"nonsense", "doi:"}, malformed)
}

func TestRecordFromPaper(t *testing.T) {
	rec := recordFromPaper("s2:abc", &domain.Paper{
		Identifiers:     domain.PaperIdentifiers{DOI: "10.1/X", SemanticScholarID: "abc"},
		Title:           "T",
		PublicationYear: 2020,
		CitationCount:   7,
		Source:          domain.SourceTypeSemanticScholar,
	})
	assert.Equal(t, "s2:abc", rec.ID)
	assert.Equal(t, "doi:10.1/x", rec.Identifier)
	assert.Equal(t, 2020, rec.Year)
	assert.Equal(t, "semantic_scholar", rec.Source)
}

func TestMemoryStore_BatchImport(t *testing.T) {
	ctx := context.Background()

	t.Run("imports resolvable identifiers into the collection", func(t *testing.T) {
		resolver := newFakeResolver()
		resolver.add("doi:10.1/a", "Alpha", 2019, 10)
		resolver.add("doi:10.1/b", "Beta", 2021, 3)
		store := NewMemoryStore(Options{Resolver: resolver, Logger: zerolog.Nop()})

		res, err := store.BatchImport(ctx, []string{"doi:10.1/a", "doi:10.1/missing", "doi:10.1/b", "junk"}, domain.ImportOptions{CollectionID: "c1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"doi:10.1/a", "doi:10.1/b"}, res.Successful)
		assert.Equal(t, []string{"junk", "doi:10.1/missing"}, res.Failed)

		coll, err := store.GetCollection(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, []string{"doi:10.1/a", "doi:10.1/b"}, coll.PaperIDs)

		papers, err := store.GetPapers(ctx, []string{"doi:10.1/b", "doi:10.1/missing", "doi:10.1/a"})
		require.NoError(t, err)
		require.Len(t, papers, 2)
		assert.Equal(t, "Beta", papers[0].Title)
		assert.Equal(t, 10, papers[1].CitationCount)
	})

	t.Run("known papers are not resolved again", func(t *testing.T) {
		resolver := newFakeResolver()
		resolver.add("doi:10.1/a", "Alpha", 2019, 10)
		store := NewMemoryStore(Options{Resolver: resolver})

		_, err := store.BatchImport(ctx, []string{"doi:10.1/a"}, domain.ImportOptions{CollectionID: "c1"})
		require.NoError(t, err)
		res, err := store.BatchImport(ctx, []string{"doi:10.1/a"}, domain.ImportOptions{CollectionID: "c2"})
		require.NoError(t, err)

		assert.Equal(t, []string{"doi:10.1/a"}, res.Successful)
		assert.Equal(t, int32(1), resolver.calls.Load())

		coll, err := store.GetCollection(ctx, "c1")
		require.NoError(t, err)
		assert.Len(t, coll.PaperIDs, 1)
	})

	t.Run("without a resolver identifiers are stored bare", func(t *testing.T) {
		store := NewMemoryStore(Options{})
		res, err := store.BatchImport(ctx, []string{"arxiv:2101.00001"}, domain.ImportOptions{CollectionID: "c1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"arxiv:2101.00001"}, res.Successful)

		papers, err := store.GetPapers(ctx, res.Successful)
		require.NoError(t, err)
		require.Len(t, papers, 1)
		assert.Equal(t, "arxiv:2101.00001", papers[0].Identifier)
		assert.Empty(t, papers[0].Title)
	})

	t.Run("source errors fail only that identifier", func(t *testing.T) {
		resolver := newFakeResolver()
		resolver.add("doi:10.1/a", "Alpha", 2019, 10)
		resolver.fail["doi:10.1/b"] = errors.New("upstream 500")
		store := NewMemoryStore(Options{Resolver: resolver, Concurrency: 1})

		res, err := store.BatchImport(ctx, []string{"doi:10.1/b", "doi:10.1/a"}, domain.ImportOptions{CollectionID: "c1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"doi:10.1/a"}, res.Successful)
		assert.Equal(t, []string{"doi:10.1/b"}, res.Failed)
	})

	t.Run("cancellation aborts the import", func(t *testing.T) {
		resolver := newFakeResolver()
		resolver.add("doi:10.1/a", "Alpha", 2019, 10)
		store := NewMemoryStore(Options{Resolver: resolver})
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := store.BatchImport(cctx, []string{"doi:10.1/a"}, domain.ImportOptions{CollectionID: "c1"})
		assert.ErrorIs(t, err, context.Canceled)
		_, err = store.GetCollection(ctx, "c1")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("collection id is required", func(t *testing.T) {
		_, err := NewMemoryStore(Options{}).BatchImport(ctx, []string{"doi:10.1/a"}, domain.ImportOptions{})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("empty import still creates the collection", func(t *testing.T) {
		store := NewMemoryStore(Options{})
		res, err := store.BatchImport(ctx, nil, domain.ImportOptions{CollectionID: "c1"})
		require.NoError(t, err)
		assert.Empty(t, res.Successful)

		coll, err := store.GetCollection(ctx, "c1")
		require.NoError(t, err)
		assert.NotNil(t, coll.PaperIDs)
		assert.Empty(t, coll.PaperIDs)
	})
}

func TestMemoryStore_RemoveFromCollection(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(Options{})
	_, err := store.BatchImport(ctx, []string{"s2:1", "s2:2", "s2:3"}, domain.ImportOptions{CollectionID: "c1"})
	require.NoError(t, err)

	require.NoError(t, store.RemoveFromCollection(ctx, "c1", []string{"s2:2", "s2:9"}))
	coll, err := store.GetCollection(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s2:1", "s2:3"}, coll.PaperIDs)

	papers, err := store.GetPapers(ctx, []string{"s2:2"})
	require.NoError(t, err)
	assert.Len(t, papers, 1, "removal keeps paper metadata")

	assert.ErrorIs(t, store.RemoveFromCollection(ctx, "nope", []string{"s2:1"}), domain.ErrNotFound)
}
