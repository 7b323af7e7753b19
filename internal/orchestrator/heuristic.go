package orchestrator

import (
	"strings"
	"unicode"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

// maxHeuristicTerms bounds the number of words in a fallback query.
const maxHeuristicTerms = 12

// stopWords are dropped when mining brief titles for query terms.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"by": true, "for": true, "from": true, "in": true, "is": true, "of": true,
	"on": true, "or": true, "the": true, "to": true, "via": true, "with": true,
	"towards": true, "using": true, "its": true, "into": true, "we": true,
}

// HeuristicQuery builds a deterministic query when no generator is available
// or it fails. Round 1 uses the topic and keywords; later rounds add a
// rotating window of terms mined from the recent brief titles so successive
// rounds explore different neighbourhoods.
func HeuristicQuery(direction domain.Direction, briefs []domain.Brief, round int) domain.GeneratedQuery {
	terms := make([]string, 0, maxHeuristicTerms)
	seen := make(map[string]bool)
	add := func(w string) bool {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" || seen[w] || len(terms) >= maxHeuristicTerms {
			return false
		}
		seen[w] = true
		terms = append(terms, w)
		return true
	}

	for _, w := range strings.Fields(direction.Topic) {
		add(w)
	}
	for _, kw := range direction.Keywords {
		add(kw)
	}

	reasoning := "topic and keywords"
	if round > 1 {
		mined := mineTerms(briefs, seen)
		if len(mined) > 0 {
			start := ((round - 2) * 3) % len(mined)
			for i := 0; i < len(mined) && i < 3; i++ {
				add(mined[(start+i)%len(mined)])
			}
			reasoning = "topic and keywords with terms from recent papers"
		}
	}

	return domain.GeneratedQuery{
		Query:     strings.Join(terms, " "),
		Reasoning: reasoning,
	}
}

// mineTerms extracts distinct content words from brief titles, in order.
func mineTerms(briefs []domain.Brief, exclude map[string]bool) []string {
	var out []string
	seen := make(map[string]bool)
	for _, b := range briefs {
		words := strings.FieldsFunc(strings.ToLower(b.Title), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
		})
		for _, w := range words {
			if len(w) < 4 || stopWords[w] || exclude[w] || seen[w] {
				continue
			}
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}
