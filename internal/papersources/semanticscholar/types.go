// Package semanticscholar is a PaperSource and CitationSource backed by the
// Semantic Scholar Graph API (https://api.semanticscholar.org/api-docs/).
package semanticscholar

// SearchResponse is the body of GET /paper/search.
type SearchResponse struct {
	Total  int           `json:"total"`
	Offset int           `json:"offset"`
	Next   int           `json:"next"`
	Data   []PaperResult `json:"data"`
}

// PaperResult is a paper as the Graph API returns it.
type PaperResult struct {
	PaperID        string       `json:"paperId"`
	Title          string       `json:"title"`
	Abstract       string       `json:"abstract"`
	Year           int          `json:"year"`
	Venue          string       `json:"venue"`
	URL            string       `json:"url"`
	Authors        []Author     `json:"authors"`
	CitationCount  int          `json:"citationCount"`
	ReferenceCount int          `json:"referenceCount"`
	ExternalIDs    *ExternalIDs `json:"externalIds,omitempty"`
}

// ExternalIDs are identifiers the paper has outside Semantic Scholar.
type ExternalIDs struct {
	DOI    string `json:"DOI,omitempty"`
	ArXiv  string `json:"ArXiv,omitempty"`
	PubMed string `json:"PubMed,omitempty"`
}

// Author is a paper author.
type Author struct {
	AuthorID string `json:"authorId,omitempty"`
	Name     string `json:"name"`
}

// ReferencesResponse is the body of GET /paper/{id}/references.
type ReferencesResponse struct {
	Offset int         `json:"offset"`
	Next   int         `json:"next"`
	Data   []Reference `json:"data"`
}

// Reference wraps one cited paper.
type Reference struct {
	CitedPaper PaperResult `json:"citedPaper"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}
