package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/helixir/session-workflow-engine/internal/artifact"
	"github.com/helixir/session-workflow-engine/internal/domain"
	"github.com/helixir/session-workflow-engine/internal/observability"
)

func (o *Orchestrator) pruneCollection(ctx context.Context, sessionID string, p domain.PruneCollectionParams) error {
	if !o.spawnJob(ctx, sessionID, JobPrune, func(jobCtx context.Context) {
		o.runPrune(jobCtx, sessionID, p)
	}) {
		o.logger.Debug().Str("session_id", sessionID).Msg("prune already running, command ignored")
	}
	return nil
}

// runPrune shrinks the collection to the target size, stores the pruned
// version and chains graph construction.
func (o *Orchestrator) runPrune(ctx context.Context, sessionID string, p domain.PruneCollectionParams) {
	logger := observability.WithSessionContext(o.logger, sessionID)
	fail := func(err error) {
		if ctx.Err() != nil {
			return
		}
		o.stageFailed(ctx, sessionID, domain.StagePrune, 0, err)
	}

	prev, err := o.deps.Artifacts.Latest(ctx, domain.ArtifactKindCollection, sessionID)
	if err != nil {
		fail(fmt.Errorf("load collection: %w", err))
		return
	}
	data, err := artifact.DecodeCollection(prev)
	if err != nil {
		fail(err)
		return
	}

	if err := o.emit(ctx, sessionID, domain.PruneStartedPayload{
		TargetMax: p.TargetMax,
		Criterion: p.Criterion,
		Total:     len(data.Items),
	}); err != nil {
		return
	}

	collectionID := o.collectionFor(ctx, sessionID, "")
	pruned := domain.CollectionPrunedPayload{
		Removed:    []string{},
		Remaining:  len(data.Items),
		ArtifactID: prev.ID,
		Version:    prev.Version,
	}

	if len(data.Items) > p.TargetMax {
		var papers []domain.PaperRecord
		err := o.call(ctx, "literature_papers", func(cctx context.Context) error {
			var err error
			papers, err = o.deps.Literature.GetPapers(cctx, data.Items)
			return err
		})
		if err != nil {
			fail(fmt.Errorf("load paper metadata: %w", err))
			return
		}

		removed := selectForRemoval(data.Items, papers, p.TargetMax, p.Criterion)
		err = o.call(ctx, "literature_remove", func(cctx context.Context) error {
			return o.deps.Literature.RemoveFromCollection(cctx, collectionID, removed)
		})
		if err != nil {
			fail(fmt.Errorf("remove papers from collection %s: %w", collectionID, err))
			return
		}

		remaining := without(data.Items, removed)
		next, err := artifact.ReplaceCollection(prev, remaining, map[string]string{
			artifact.MetaPruned: "true",
			"removed":           strconv.Itoa(len(removed)),
			"criterion":         string(p.Criterion),
		})
		if err != nil {
			fail(err)
			return
		}
		if err := o.deps.Artifacts.Put(ctx, next); err != nil {
			fail(fmt.Errorf("store pruned collection: %w", err))
			return
		}

		pruned = domain.CollectionPrunedPayload{
			Removed:    removed,
			Remaining:  len(remaining),
			ArtifactID: next.ID,
			Version:    next.Version,
		}
	}

	if err := o.emit(ctx, sessionID, pruned); err != nil {
		return
	}
	logger.Info().
		Int("removed", len(pruned.Removed)).
		Int("remaining", pruned.Remaining).
		Str("criterion", string(p.Criterion)).
		Msg("collection pruned")

	o.dispatch(ctx, sessionID, domain.BuildGraphParams{CollectionID: collectionID})
}

// selectForRemoval orders items by the criterion and returns the first ones
// beyond what fits in targetMax. Items without metadata sort first.
func selectForRemoval(items []string, papers []domain.PaperRecord, targetMax int, criterion domain.PruneCriterion) []string {
	excess := len(items) - targetMax
	if excess <= 0 {
		return nil
	}

	byID := make(map[string]domain.PaperRecord, len(papers))
	for _, p := range papers {
		byID[p.Identifier] = p
	}

	ordered := append([]string(nil), items...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := byID[ordered[i]], byID[ordered[j]]
		if criterion == domain.PruneOldestFirst {
			if a.Year != b.Year {
				return a.Year < b.Year
			}
			if a.CitationCount != b.CitationCount {
				return a.CitationCount < b.CitationCount
			}
			return ordered[i] < ordered[j]
		}
		if a.CitationCount != b.CitationCount {
			return a.CitationCount < b.CitationCount
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return ordered[i] < ordered[j]
	})
	return ordered[:excess]
}

// without returns items minus removed, keeping order.
func without(items, removed []string) []string {
	drop := make(map[string]struct{}, len(removed))
	for _, id := range removed {
		drop[id] = struct{}{}
	}
	out := make([]string, 0, len(items))
	for _, id := range items {
		if _, ok := drop[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// collectionFor resolves the literature collection of a session: the
// explicit id, then the linked collection, then the session id itself.
func (o *Orchestrator) collectionFor(ctx context.Context, sessionID, explicit string) string {
	if explicit != "" {
		return explicit
	}
	sess, err := o.deps.Projections.Session(ctx, sessionID)
	if err == nil && sess.LinkedCollectionID != "" {
		return sess.LinkedCollectionID
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		o.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to read session projection")
	}
	return sessionID
}
