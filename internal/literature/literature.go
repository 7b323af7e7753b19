// Package literature stores paper metadata and collection membership for
// expansion sessions. Imports resolve identifiers through a Resolver (the
// paper-source registry in production) and cache the result, so a paper is
// looked up once no matter how many rounds or sessions reference it.
package literature

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

// DefaultConcurrency bounds parallel identifier lookups during an import.
const DefaultConcurrency = 4

// Resolver looks up metadata for a prefixed identifier.
// *papersources.Registry implements it.
type Resolver interface {
	Resolve(ctx context.Context, identifier string) (*domain.Paper, error)
}

// Store is the literature store used by the orchestrator.
type Store interface {
	BatchImport(ctx context.Context, identifiers []string, opts domain.ImportOptions) (domain.ImportResult, error)
	GetCollection(ctx context.Context, id string) (domain.Collection, error)
	GetPapers(ctx context.Context, identifiers []string) ([]domain.PaperRecord, error)
	RemoveFromCollection(ctx context.Context, collectionID string, identifiers []string) error
}

// Options configures identifier resolution.
type Options struct {
	// Resolver is optional. Without one, unknown identifiers are stored with
	// no metadata beyond the identifier itself.
	Resolver    Resolver
	Concurrency int
	Logger      zerolog.Logger
}

func (o *Options) applyDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
}

// normalize trims and dedups identifiers, keeping first-seen order. Malformed
// identifiers are returned separately.
func normalize(identifiers []string) (valid, malformed []string) {
	seen := make(map[string]struct{}, len(identifiers))
	for _, raw := range identifiers {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, _, ok := domain.SplitIdentifier(id); !ok {
			malformed = append(malformed, id)
			continue
		}
		valid = append(valid, id)
	}
	return valid, malformed
}

// resolveMissing looks up every identifier in missing. Identifiers that cannot
// be resolved are returned as failed; only cancellation aborts the batch.
func resolveMissing(ctx context.Context, opts Options, missing []string) (map[string]domain.PaperRecord, []string, error) {
	resolved := make(map[string]domain.PaperRecord, len(missing))
	if opts.Resolver == nil {
		for _, id := range missing {
			resolved[id] = domain.PaperRecord{ID: id, Identifier: id}
		}
		return resolved, nil, nil
	}

	var (
		mu     sync.Mutex
		failed = make(map[string]struct{})
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, id := range missing {
		g.Go(func() error {
			paper, err := opts.Resolver.Resolve(gctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				ev := opts.Logger.Warn()
				if errors.Is(err, domain.ErrNotFound) {
					ev = opts.Logger.Debug()
				}
				ev.Err(err).Str("identifier", id).Msg("identifier could not be resolved")
				mu.Lock()
				failed[id] = struct{}{}
				mu.Unlock()
				return nil
			}
			mu.Lock()
			resolved[id] = recordFromPaper(id, paper)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var failedOrdered []string
	for _, id := range missing {
		if _, ok := failed[id]; ok {
			failedOrdered = append(failedOrdered, id)
		}
	}
	return resolved, failedOrdered, nil
}

func recordFromPaper(id string, p *domain.Paper) domain.PaperRecord {
	rec := domain.PaperRecord{ID: id, Identifier: id}
	if p == nil {
		return rec
	}
	if best := p.BestIdentifier(); best != "" {
		rec.Identifier = best
	}
	rec.Title = p.Title
	rec.Abstract = p.Abstract
	rec.Year = p.PublicationYear
	rec.CitationCount = p.CitationCount
	rec.Venue = p.Venue
	rec.URL = p.URL
	rec.Source = string(p.Source)
	return rec
}

// collect splits valid identifiers into imported and failed, preserving the
// request order in both.
func collect(valid, malformed []string, failed []string) domain.ImportResult {
	failedSet := make(map[string]struct{}, len(failed))
	for _, id := range failed {
		failedSet[id] = struct{}{}
	}
	result := domain.ImportResult{Successful: []string{}, Failed: append([]string{}, malformed...)}
	for _, id := range valid {
		if _, bad := failedSet[id]; bad {
			result.Failed = append(result.Failed, id)
			continue
		}
		result.Successful = append(result.Successful, id)
	}
	return result
}

func validateCollectionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.NewValidationError("collection_id", "is required")
	}
	return nil
}
