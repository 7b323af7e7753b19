package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

func TestHeuristicQuery(t *testing.T) {
	direction := domain.Direction{Topic: "Protein Folding", Keywords: []string{"AlphaFold", "protein"}}
	briefs := []domain.Brief{
		{Title: "Accurate structure prediction with deep learning"},
		{Title: "Highly accurate protein structure prediction for the human proteome"},
		{Title: "Contact maps and coevolution"},
	}

	t.Run("first round uses topic and keywords", func(t *testing.T) {
		q := HeuristicQuery(direction, briefs, 1)
		assert.Equal(t, "protein folding alphafold", q.Query)
		assert.Equal(t, "topic and keywords", q.Reasoning)
	})

	t.Run("later rounds add mined terms", func(t *testing.T) {
		q := HeuristicQuery(direction, briefs, 2)
		assert.Equal(t, "protein folding alphafold accurate structure prediction", q.Query)
		assert.Contains(t, q.Reasoning, "recent papers")
	})

	t.Run("window rotates between rounds", func(t *testing.T) {
		q2 := HeuristicQuery(direction, briefs, 2)
		q3 := HeuristicQuery(direction, briefs, 3)
		assert.NotEqual(t, q2.Query, q3.Query)
		assert.True(t, strings.HasPrefix(q3.Query, "protein folding alphafold "))
	})

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, HeuristicQuery(direction, briefs, 3), HeuristicQuery(direction, briefs, 3))
	})

	t.Run("no briefs keeps the base query", func(t *testing.T) {
		q := HeuristicQuery(direction, nil, 4)
		assert.Equal(t, "protein folding alphafold", q.Query)
	})

	t.Run("term count is bounded", func(t *testing.T) {
		long := domain.Direction{Topic: strings.Repeat("alpha beta gamma delta epsilon ", 4) + "zeta eta theta iota kappa lambda mu"}
		q := HeuristicQuery(long, nil, 1)
		assert.LessOrEqual(t, len(strings.Fields(q.Query)), maxHeuristicTerms)
	})
}

func TestMineTerms(t *testing.T) {
	briefs := []domain.Brief{
		{Title: "The role of co-evolution in folding"},
		{Title: "Folding, the sequel: a note"},
	}
	got := mineTerms(briefs, map[string]bool{"note": true})
	assert.Equal(t, []string{"role", "co-evolution", "folding", "sequel"}, got)
}
