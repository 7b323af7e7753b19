package semanticscholar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/session-workflow-engine/internal/domain"
	"github.com/helixir/session-workflow-engine/internal/observability"
	"github.com/helixir/session-workflow-engine/internal/papersources"
)

const (
	DefaultBaseURL = "https://api.semanticscholar.org/graph/v1"

	// DefaultRateLimit suits unauthenticated access; an API key allows more.
	DefaultRateLimit     = 1.0
	DefaultBurstSize     = 1
	DefaultTimeout       = 30 * time.Second
	DefaultMaxResults    = 100
	DefaultMaxReferences = 500

	apiKeyHeader = "x-api-key"
	paperFields  = "paperId,externalIds,title,abstract,year,venue,url,authors,citationCount,referenceCount"
	refFields    = "paperId,externalIds"
	sourceName   = "Semantic Scholar"
	maxBodyBytes = 10 << 20
)

// Config configures the client.
type Config struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	RateLimit     float64
	BurstSize     int
	MaxResults    int
	MaxReferences int
	Enabled       bool
	Metrics       *observability.Metrics
}

// Client talks to the Graph API.
type Client struct {
	httpClient *papersources.HTTPClient
	config     Config
}

var _ papersources.PaperSource = (*Client)(nil)

// NewClient creates a client. If httpClient is nil one is built from cfg.
func NewClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = DefaultBurstSize
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.MaxReferences == 0 {
		cfg.MaxReferences = DefaultMaxReferences
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if httpClient == nil {
		httpClient = papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Source:       string(domain.SourceTypeSemanticScholar),
			Timeout:      cfg.Timeout,
			RateLimit:    cfg.RateLimit,
			BurstSize:    cfg.BurstSize,
			APIKey:       cfg.APIKey,
			APIKeyHeader: apiKeyHeader,
			Metrics:      cfg.Metrics,
		})
	}

	return &Client{httpClient: httpClient, config: cfg}
}

// Search queries /paper/search.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	start := time.Now()

	var searchResp SearchResponse
	if err := c.getJSON(ctx, c.searchURL(params), "search", &searchResp); err != nil {
		return nil, err
	}

	papers := make([]*domain.Paper, 0, len(searchResp.Data))
	for _, r := range searchResp.Data {
		papers = append(papers, toPaper(r))
	}

	return &papersources.SearchResult{
		Papers:         papers,
		TotalResults:   searchResp.Total,
		HasMore:        searchResp.Next > 0,
		NextOffset:     searchResp.Next,
		Source:         domain.SourceTypeSemanticScholar,
		SearchDuration: time.Since(start),
	}, nil
}

// GetByID fetches a paper by prefixed identifier. OpenAlex ids are not
// understood by Semantic Scholar and report not found without a request.
func (c *Client) GetByID(ctx context.Context, id string) (*domain.Paper, error) {
	ref, ok := paperRef(id)
	if !ok {
		return nil, domain.NewNotFoundError("paper", id)
	}

	u := fmt.Sprintf("%s/paper/%s?fields=%s", c.config.BaseURL, url.PathEscape(ref), paperFields)
	var result PaperResult
	if err := c.getJSON(ctx, u, "paper", &result); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, domain.NewNotFoundError("paper", id)
		}
		return nil, err
	}
	return toPaper(result), nil
}

// References returns the best identifiers of the papers that identifier
// cites. Cited papers without any usable identifier are skipped.
func (c *Client) References(ctx context.Context, identifier string) ([]string, error) {
	ref, ok := paperRef(identifier)
	if !ok {
		return nil, domain.NewNotFoundError("paper", identifier)
	}

	var ids []string
	offset := 0
	for len(ids) < c.config.MaxReferences {
		limit := min(c.config.MaxReferences-len(ids), 1000)
		u := fmt.Sprintf("%s/paper/%s/references?fields=%s&limit=%d&offset=%d",
			c.config.BaseURL, url.PathEscape(ref), refFields, limit, offset)

		var page ReferencesResponse
		if err := c.getJSON(ctx, u, "references", &page); err != nil {
			if isStatus(err, http.StatusNotFound) {
				return nil, domain.NewNotFoundError("paper", identifier)
			}
			return nil, err
		}
		for _, r := range page.Data {
			if best := domain.BestIdentifier(identifiers(r.CitedPaper)); best != "" {
				ids = append(ids, best)
			}
		}
		if page.Next <= offset || len(page.Data) == 0 {
			break
		}
		offset = page.Next
	}
	return ids, nil
}

func (c *Client) SourceType() domain.SourceType { return domain.SourceTypeSemanticScholar }
func (c *Client) Name() string                  { return sourceName }
func (c *Client) IsEnabled() bool               { return c.config.Enabled }

func (c *Client) searchURL(params papersources.SearchParams) string {
	q := url.Values{}
	q.Set("query", params.Query)
	q.Set("fields", paperFields)

	limit := params.MaxResults
	if limit <= 0 || limit > c.config.MaxResults {
		limit = c.config.MaxResults
	}
	q.Set("limit", strconv.Itoa(limit))
	if params.Offset > 0 {
		q.Set("offset", strconv.Itoa(params.Offset))
	}

	switch {
	case params.YearFrom > 0 && params.YearTo > 0:
		q.Set("year", fmt.Sprintf("%d-%d", params.YearFrom, params.YearTo))
	case params.YearFrom > 0:
		q.Set("year", fmt.Sprintf("%d-", params.YearFrom))
	case params.YearTo > 0:
		q.Set("year", fmt.Sprintf("-%d", params.YearTo))
	}

	return c.config.BaseURL + "/paper/search?" + q.Encode()
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

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorFromResponse(resp)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func errorFromResponse(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.NewExternalAPIError(sourceName, resp.StatusCode, "failed to read error response", err)
	}

	message := string(body)
	var errResp ErrorResponse
	if json.Unmarshal(body, &errResp) == nil {
		if errResp.Error != "" {
			message = errResp.Error
		} else if errResp.Message != "" {
			message = errResp.Message
		}
	}
	return domain.NewExternalAPIError(sourceName, resp.StatusCode, message, nil)
}

func isStatus(err error, status int) bool {
	var apiErr *domain.ExternalAPIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// paperRef maps a prefixed identifier to the Graph API's paper id syntax.
func paperRef(id string) (string, bool) {
	scheme, value, ok := domain.SplitIdentifier(strings.TrimSpace(id))
	if !ok {
		return "", false
	}
	switch strings.ToLower(scheme) {
	case "doi":
		return "DOI:" + value, true
	case "arxiv":
		return "ARXIV:" + value, true
	case "pubmed":
		return "PMID:" + value, true
	case "s2":
		return value, true
	default:
		return "", false
	}
}

func identifiers(r PaperResult) domain.PaperIdentifiers {
	ids := domain.PaperIdentifiers{SemanticScholarID: r.PaperID}
	if r.ExternalIDs != nil {
		ids.DOI = r.ExternalIDs.DOI
		ids.ArXivID = r.ExternalIDs.ArXiv
		ids.PubMedID = r.ExternalIDs.PubMed
	}
	return ids
}

func toPaper(r PaperResult) *domain.Paper {
	authors := make([]domain.Author, 0, len(r.Authors))
	for _, a := range r.Authors {
		if a.Name != "" {
			authors = append(authors, domain.Author{Name: a.Name})
		}
	}
	return &domain.Paper{
		Identifiers:     identifiers(r),
		Title:           r.Title,
		Abstract:        r.Abstract,
		Authors:         authors,
		PublicationYear: r.Year,
		Venue:           r.Venue,
		CitationCount:   r.CitationCount,
		ReferenceCount:  r.ReferenceCount,
		URL:             r.URL,
		Source:          domain.SourceTypeSemanticScholar,
	}
}
