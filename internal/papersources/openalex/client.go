package openalex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/session-workflow-engine/internal/domain"
	"github.com/helixir/session-workflow-engine/internal/observability"
	"github.com/helixir/session-workflow-engine/internal/papersources"
)

const (
	DefaultBaseURL = "https://api.openalex.org"

	// DefaultRateLimit is the polite pool rate available when Email is set.
	DefaultRateLimit  = 10.0
	DefaultBurstSize  = 10
	DefaultTimeout    = 30 * time.Second
	DefaultMaxResults = 25

	maxPerPage       = 200
	maxAbstractWords = 100_000
	maxBodyBytes     = 10 << 20

	doiPrefix      = "https://doi.org/"
	openAlexPrefix = "https://openalex.org/"
	pubmedPrefix   = "https://pubmed.ncbi.nlm.nih.gov/"
)

// Config configures the client.
type Config struct {
	BaseURL string

	// Email joins the polite pool, which has higher rate limits.
	Email string

	Timeout    time.Duration
	RateLimit  float64
	BurstSize  int
	MaxResults int
	Enabled    bool
	Metrics    *observability.Metrics
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
}

// Client talks to OpenAlex.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
}

var _ papersources.PaperSource = (*Client)(nil)

// New creates a client with its own rate-limited HTTP client.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	userAgent := "Helixir-SessionWorkflow/1.0"
	if cfg.Email != "" {
		userAgent += " (mailto:" + cfg.Email + ")"
	}
	return &Client{
		config: cfg,
		httpClient: papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Source:    string(domain.SourceTypeOpenAlex),
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
			BurstSize: cfg.BurstSize,
			UserAgent: userAgent,
			Metrics:   cfg.Metrics,
		}),
	}
}

// NewWithHTTPClient creates a client that sends through httpClient.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{config: cfg, httpClient: httpClient}
}

// Search queries /works.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	start := time.Now()

	perPage := params.MaxResults
	if perPage <= 0 {
		perPage = c.config.MaxResults
	}
	perPage = min(perPage, maxPerPage)

	q := c.baseQuery()
	q.Set("search", params.Query)
	q.Set("per_page", strconv.Itoa(perPage))
	if params.Offset > 0 {
		q.Set("page", strconv.Itoa(params.Offset/perPage+1))
	}
	var filters []string
	if params.YearFrom > 0 {
		filters = append(filters, fmt.Sprintf("from_publication_date:%d-01-01", params.YearFrom))
	}
	if params.YearTo > 0 {
		filters = append(filters, fmt.Sprintf("to_publication_date:%d-12-31", params.YearTo))
	}
	if len(filters) > 0 {
		q.Set("filter", strings.Join(filters, ","))
	}

	var resp SearchResponse
	if err := c.getJSON(ctx, c.config.BaseURL+"/works?"+q.Encode(), "search", &resp); err != nil {
		return nil, err
	}

	papers := make([]*domain.Paper, 0, len(resp.Results))
	for i := range resp.Results {
		if p := toPaper(&resp.Results[i]); p != nil {
			papers = append(papers, p)
		}
	}

	nextOffset := params.Offset + len(resp.Results)
	return &papersources.SearchResult{
		Papers:         papers,
		TotalResults:   resp.Meta.Count,
		HasMore:        nextOffset < resp.Meta.Count,
		NextOffset:     nextOffset,
		Source:         domain.SourceTypeOpenAlex,
		SearchDuration: time.Since(start),
	}, nil
}

// GetByID fetches a work by prefixed identifier. DOI, PubMed and OpenAlex ids
// are supported; other schemes report not found without a request.
func (c *Client) GetByID(ctx context.Context, id string) (*domain.Paper, error) {
	workID, ok := workRef(id)
	if !ok {
		return nil, domain.NewNotFoundError("paper", id)
	}

	u := c.config.BaseURL + "/works/" + workID
	if q := c.baseQuery(); len(q) > 0 {
		u += "?" + q.Encode()
	}

	var work Work
	if err := c.getJSON(ctx, u, "work", &work); err != nil {
		if isNotFound(err) {
			return nil, domain.NewNotFoundError("paper", id)
		}
		return nil, err
	}

	paper := toPaper(&work)
	if paper == nil {
		return nil, domain.NewNotFoundError("paper", id)
	}
	return paper, nil
}

func (c *Client) SourceType() domain.SourceType { return domain.SourceTypeOpenAlex }
func (c *Client) Name() string                  { return "OpenAlex" }
func (c *Client) IsEnabled() bool               { return c.config.Enabled }

func (c *Client) baseQuery() url.Values {
	q := url.Values{}
	if c.config.Email != "" {
		q.Set("mailto", c.config.Email)
	}
	return q
}

func (c *Client) getJSON(ctx context.Context, u, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req, endpoint)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return domain.NewExternalAPIError("OpenAlex", resp.StatusCode, string(body), nil)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr *domain.ExternalAPIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// workRef maps a prefixed identifier to an OpenAlex works path segment.
func workRef(id string) (string, bool) {
	scheme, value, ok := domain.SplitIdentifier(strings.TrimSpace(id))
	if !ok {
		return "", false
	}
	switch strings.ToLower(scheme) {
	case "doi":
		return doiPrefix + value, true
	case "pubmed":
		return "pmid:" + value, true
	case "openalex":
		return strings.TrimPrefix(value, openAlexPrefix), true
	default:
		return "", false
	}
}

// toPaper returns nil for works with no usable identifier.
func toPaper(work *Work) *domain.Paper {
	ids := domain.PaperIdentifiers{
		DOI:        normalizeDOI(firstNonEmpty(work.DOI, work.IDs.DOI)),
		PubMedID:   strings.TrimSpace(strings.TrimPrefix(work.IDs.PMID, pubmedPrefix)),
		OpenAlexID: strings.TrimSpace(strings.TrimPrefix(firstNonEmpty(work.ID, work.IDs.OpenAlex), openAlexPrefix)),
	}
	if domain.BestIdentifier(ids) == "" {
		return nil
	}

	authors := make([]domain.Author, 0, len(work.Authorships))
	for _, a := range work.Authorships {
		author := domain.Author{Name: a.Author.DisplayName}
		if len(a.Institutions) > 0 {
			author.Affiliation = a.Institutions[0].DisplayName
		}
		authors = append(authors, author)
	}

	var venue, landing string
	if loc := work.PrimaryLocation; loc != nil {
		landing = loc.LandingPageURL
		if loc.Source != nil {
			venue = loc.Source.DisplayName
		}
	}

	return &domain.Paper{
		Identifiers:     ids,
		Title:           firstNonEmpty(work.DisplayName, work.Title),
		Abstract:        reconstructAbstract(work.AbstractInvertedIndex),
		Authors:         authors,
		PublicationYear: work.PublicationYear,
		Venue:           venue,
		CitationCount:   work.CitedByCount,
		ReferenceCount:  len(work.ReferencedWorks),
		URL:             firstNonEmpty(landing, work.ID),
		Source:          domain.SourceTypeOpenAlex,
	}
}

func normalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	doi = strings.TrimPrefix(doi, doiPrefix)
	doi = strings.TrimPrefix(doi, "http://doi.org/")
	doi = strings.TrimPrefix(doi, "doi:")
	return strings.ToLower(strings.TrimSpace(doi))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// reconstructAbstract rebuilds abstract text from OpenAlex's inverted index.
func reconstructAbstract(index map[string][]int) string {
	total := 0
	for _, positions := range index {
		total += len(positions)
	}
	if total == 0 || total > maxAbstractWords {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	pairs := make([]posWord, 0, total)
	for word, positions := range index {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].pos < pairs[j].pos })

	var b strings.Builder
	b.Grow(total * 7)
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p.word)
	}
	return b.String()
}
