package domain

import (
	"strings"
)

// SourceType identifies the search API that produced a paper.
type SourceType string

const (
	SourceTypeSemanticScholar SourceType = "semantic_scholar"
	SourceTypeOpenAlex        SourceType = "openalex"
)

// IsValidSourceType reports whether s is a supported source.
func IsValidSourceType(s SourceType) bool {
	return s == SourceTypeSemanticScholar || s == SourceTypeOpenAlex
}

// PaperIdentifiers holds all possible identifiers for an academic paper.
type PaperIdentifiers struct {
	DOI               string
	ArXivID           string
	PubMedID          string
	SemanticScholarID string
	OpenAlexID        string
}

// BestIdentifier returns the most stable prefixed identifier available.
// Priority order: DOI > arXiv > PubMed > Semantic Scholar > OpenAlex.
// Returns empty string if no identifiers are available.
func BestIdentifier(ids PaperIdentifiers) string {
	if doi := strings.TrimSpace(ids.DOI); doi != "" {
		return "doi:" + strings.ToLower(doi)
	}
	if arxiv := strings.TrimSpace(ids.ArXivID); arxiv != "" {
		return "arxiv:" + arxiv
	}
	if pubmed := strings.TrimSpace(ids.PubMedID); pubmed != "" {
		return "pubmed:" + pubmed
	}
	if s2 := strings.TrimSpace(ids.SemanticScholarID); s2 != "" {
		return "s2:" + s2
	}
	if oa := strings.TrimSpace(ids.OpenAlexID); oa != "" {
		return "openalex:" + oa
	}
	return ""
}

// SplitIdentifier splits a prefixed identifier such as "doi:10.1/x" into its scheme and value.
func SplitIdentifier(id string) (scheme, value string, ok bool) {
	scheme, value, ok = strings.Cut(id, ":")
	if !ok || scheme == "" || value == "" {
		return "", "", false
	}
	return scheme, value, true
}

// Author represents a paper author.
type Author struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
}

// Paper is the metadata a paper source returns for a single work.
type Paper struct {
	Identifiers     PaperIdentifiers
	Title           string
	Abstract        string
	Authors         []Author
	PublicationYear int
	Venue           string
	CitationCount   int
	ReferenceCount  int
	URL             string
	Source          SourceType
}

// BestIdentifier returns the paper's preferred prefixed identifier.
func (p *Paper) BestIdentifier() string {
	return BestIdentifier(p.Identifiers)
}

// Direction describes what a session's expansion is looking for.
type Direction struct {
	Topic    string   `json:"topic" validate:"required,max=500"`
	Keywords []string `json:"keywords,omitempty" validate:"max=50,dive,max=200"`
	Notes    string   `json:"notes,omitempty" validate:"max=4000"`
}

// Brief is a compact description of an ingested paper used for query planning.
type Brief struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
}

// Candidate is a search hit that may be ingested into the collection.
type Candidate struct {
	ID             string  `json:"id"`
	Title          string  `json:"title,omitempty"`
	Snippet        string  `json:"snippet,omitempty"`
	SourceURL      string  `json:"source_url"`
	BestIdentifier string  `json:"best_identifier,omitempty"`
	Confidence     float64 `json:"confidence"`
}

// Brief returns the candidate's brief form.
func (c Candidate) Brief() Brief {
	return Brief{ID: c.BestIdentifier, Title: c.Title, Snippet: c.Snippet}
}
