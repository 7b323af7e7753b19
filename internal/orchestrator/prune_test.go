package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

func TestSelectForRemoval(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}
	papers := []domain.PaperRecord{
		{Identifier: "a", Year: 2020, CitationCount: 50},
		{Identifier: "b", Year: 2001, CitationCount: 5},
		{Identifier: "c", Year: 2015, CitationCount: 5},
		{Identifier: "d", Year: 1999, CitationCount: 300},
		// e has no metadata.
	}

	t.Run("lowest citation first", func(t *testing.T) {
		got := selectForRemoval(items, papers, 2, domain.PruneLowestCitationFirst)
		assert.Equal(t, []string{"e", "b", "c"}, got)
	})

	t.Run("oldest first", func(t *testing.T) {
		got := selectForRemoval(items, papers, 3, domain.PruneOldestFirst)
		assert.Equal(t, []string{"e", "d"}, got)
	})

	t.Run("nothing to remove under target", func(t *testing.T) {
		assert.Empty(t, selectForRemoval(items, papers, 5, domain.PruneOldestFirst))
		assert.Empty(t, selectForRemoval(items, papers, 10, domain.PruneLowestCitationFirst))
	})

	t.Run("input is not reordered", func(t *testing.T) {
		selectForRemoval(items, papers, 1, domain.PruneLowestCitationFirst)
		assert.Equal(t, []string{"a", "b", "c", "d", "e"}, items)
	})
}

func TestWithout(t *testing.T) {
	assert.Equal(t, []string{"a", "c"}, without([]string{"a", "b", "c"}, []string{"b", "x"}))
	assert.Equal(t, []string{}, without(nil, []string{"b"}))
}

func TestImportable(t *testing.T) {
	ids, briefs := importable([]domain.Candidate{
		{ID: "1", Title: "One", BestIdentifier: "doi:10.1/one"},
		{ID: "2", Title: "No identifier"},
		{ID: "3", Title: "One again", BestIdentifier: " doi:10.1/one "},
		{ID: "4", Title: "Two", Snippet: "s", BestIdentifier: "arxiv:2101.00001"},
	})

	assert.Equal(t, []string{"doi:10.1/one", "arxiv:2101.00001"}, ids)
	assert.Equal(t, domain.Brief{ID: "doi:10.1/one", Title: "One"}, briefs["doi:10.1/one"])
	assert.Equal(t, domain.Brief{ID: "arxiv:2101.00001", Title: "Two", Snippet: "s"}, briefs["arxiv:2101.00001"])
}
