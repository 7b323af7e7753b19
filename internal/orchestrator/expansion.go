package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/session-workflow-engine/internal/artifact"
	"github.com/helixir/session-workflow-engine/internal/domain"
	"github.com/helixir/session-workflow-engine/internal/observability"
	"github.com/helixir/session-workflow-engine/internal/projection"
)

const (
	plannerGenerator = "generator"
	plannerHeuristic = "heuristic"

	importSource = "expansion"
)

// Round outcome labels for metrics.
const (
	outcomeContinue  = "continue"
	outcomeSaturated = "saturated"
	outcomeFailed    = "failed"
)

// errRunInterrupted ends a round whose run was stopped or shut down.
var errRunInterrupted = errors.New("run interrupted")

func (o *Orchestrator) startExpansion(ctx context.Context, sessionID string, p domain.StartExpansionParams) error {
	sess, err := o.deps.Projections.Session(ctx, sessionID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		sess = projection.New(sessionID)
	case err != nil:
		return fmt.Errorf("read session %s: %w", sessionID, err)
	}

	collectionID := sess.LinkedCollectionID
	if collectionID == "" {
		collectionID = sessionID
	}

	run := newRun(sessionID, collectionID, p.Direction)
	resumed := sess.Phase == domain.PhaseExpanding && sess.Round > 0
	if resumed {
		run.round = sess.Round
		run.total = sess.Total
		run.lastAdded = sess.LastAdded
		run.zeroAddStreak = sess.ZeroAddStreak
	}

	registered, added := o.registry.Add(run)
	if !added {
		if !registered.tryResume() {
			o.logger.Debug().Str("session_id", sessionID).Msg("expansion already active, start ignored")
			return nil
		}
		// A run halted by a stage failure picks up where it stopped, under
		// the direction of the command that resumed it.
		run, resumed = registered, true
		run.machine.rewind()
		run.redirect(p.Direction)
	} else if _, err := run.machine.Fire(SignalStart, false); err != nil {
		o.registry.Remove(run)
		return err
	}
	o.metrics.SetRunsActive(o.registry.Len())

	snap := run.Snapshot()
	if err := o.emit(ctx, sessionID, domain.ExpansionStartedPayload{
		Direction:    run.Direction,
		CollectionID: run.CollectionID,
		StartRound:   snap.Round + 1,
		Resumed:      resumed,
	}); err != nil {
		if o.registry.Remove(run) {
			o.metrics.SetRunsActive(o.registry.Len())
		}
		return err
	}

	sessLogger := observability.WithSessionContext(o.logger, sessionID)
	sessLogger.Info().
		Str("collection_id", run.CollectionID).
		Int("start_round", snap.Round+1).
		Bool("resumed", resumed).
		Msg("expansion started")

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run.arm(cancel)
	o.wg.Add(1)
	go o.loop(runCtx, cancel, run)
	return nil
}

func (o *Orchestrator) stopExpansion(ctx context.Context, sessionID string, p domain.StopExpansionParams) error {
	run, ok := o.registry.Get(sessionID)
	if !ok {
		o.logger.Debug().Str("session_id", sessionID).Msg("no active expansion to stop")
		return nil
	}
	if _, err := run.machine.Fire(SignalStop, false); err != nil {
		// The run finished on its own in the meantime.
		return nil
	}
	o.registry.Remove(run)
	run.interrupt()
	o.metrics.SetRunsActive(o.registry.Len())

	reason := p.Reason
	if reason == "" {
		reason = "requested"
	}
	snap := run.Snapshot()
	sessLogger := observability.WithSessionContext(o.logger, sessionID)
	sessLogger.Info().
		Str("reason", reason).
		Int("round", snap.Round).
		Msg("expansion stopped")

	return o.emit(ctx, sessionID, domain.ExpansionStoppedPayload{Reason: reason, Round: snap.Round})
}

// loop drives a run until it finishes, is stopped, or halts on a stage failure.
func (o *Orchestrator) loop(ctx context.Context, cancel context.CancelFunc, run *Run) {
	defer o.wg.Done()
	defer cancel()

	for {
		if ctx.Err() != nil || !o.registry.IsLive(run) {
			return
		}

		round := run.Snapshot().Round + 1
		d, err := o.executeRound(ctx, run, round)
		if err != nil {
			if ctx.Err() == nil && o.registry.IsLive(run) {
				run.halt()
			}
			return
		}
		if d.action == actionFinish {
			return
		}
		if !o.pause(ctx, run) {
			return
		}
	}
}

// pause waits out the inter-round delay. It returns false if the run was
// interrupted while waiting.
func (o *Orchestrator) pause(ctx context.Context, run *Run) bool {
	if o.cfg.RoundDelay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(o.cfg.RoundDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-run.wake:
		return false
	case <-ctx.Done():
		return false
	}
}

// executeRound runs one plan/discover/ingest/merge/evaluate cycle. A
// returned error means the round was abandoned; stage failures have already
// been emitted.
func (o *Orchestrator) executeRound(ctx context.Context, run *Run, round int) (decision, error) {
	start := time.Now()
	logger := observability.WithRoundContext(observability.WithSessionContext(o.logger, run.SessionID), round)

	query, planner := o.plan(ctx, run, round, logger)
	if err := o.emit(ctx, run.SessionID, domain.SearchRoundPlannedPayload{
		Round:     round,
		Query:     query.Query,
		Reasoning: query.Reasoning,
		Planner:   planner,
	}); err != nil {
		return decision{}, err
	}

	var candidates []domain.Candidate
	err := o.call(ctx, "web_search", func(cctx context.Context) error {
		var err error
		candidates, err = o.deps.Search.Search(cctx, query.Query, o.cfg.RoundSize)
		return err
	})
	if err != nil {
		return decision{}, o.failRound(ctx, run, domain.StageCandidates, round, err)
	}
	if err := o.emit(ctx, run.SessionID, domain.CandidatesReadyPayload{
		Round:      round,
		Query:      query.Query,
		Candidates: candidates,
	}); err != nil {
		return decision{}, err
	}

	identifiers, briefs := importable(candidates)
	var result domain.ImportResult
	if len(identifiers) > 0 {
		err = o.call(ctx, "literature_import", func(cctx context.Context) error {
			var err error
			result, err = o.deps.Literature.BatchImport(cctx, identifiers, domain.ImportOptions{
				CollectionID: run.CollectionID,
				Source:       importSource,
			})
			return err
		})
		if err != nil {
			return decision{}, o.failRound(ctx, run, domain.StageExecute, round, err)
		}
	}

	ingested := make([]domain.Brief, 0, len(result.Successful))
	for _, id := range result.Successful {
		if b, ok := briefs[id]; ok {
			ingested = append(ingested, b)
		}
	}
	if err := o.emit(ctx, run.SessionID, domain.IngestionProgressPayload{
		Round:      round,
		Successful: result.Successful,
		Failed:     result.Failed,
		Briefs:     ingested,
	}); err != nil {
		return decision{}, err
	}

	merged, err := o.mergeRound(ctx, run.SessionID, result.Successful)
	if err != nil {
		return decision{}, o.failRound(ctx, run, domain.StageExecute, round, err)
	}

	if _, err := run.machine.Fire(SignalExecuted, false); err != nil {
		return decision{}, errRunInterrupted
	}

	growth := recentGrowth(merged.added, merged.total)
	if err := o.emit(ctx, run.SessionID, domain.RoundCompletedPayload{
		Round:        round,
		Added:        merged.added,
		Total:        merged.total,
		RecentGrowth: growth,
		ArtifactID:   merged.artifactID,
		Version:      merged.version,
	}); err != nil {
		return decision{}, err
	}

	run.mu.Lock()
	d := decide(o.cfg, round, merged.added, merged.total, growth, run.zeroAddStreak)
	run.round = round
	run.lastAdded = merged.added
	run.total = merged.total
	run.zeroAddStreak = d.streak
	run.mu.Unlock()

	logger.Info().
		Int("added", merged.added).
		Int("total", merged.total).
		Float64("recent_growth", growth).
		Str("planner", planner).
		Msg("round completed")

	if d.noNew {
		if err := o.emit(ctx, run.SessionID, domain.NoNewResultsPayload{Round: round, Streak: d.streak}); err != nil {
			return decision{}, err
		}
	}

	proceed := d.action == actionContinue
	if _, err := run.machine.Fire(SignalEvaluated, proceed); err != nil {
		return decision{}, errRunInterrupted
	}

	if proceed {
		o.metrics.RecordRound(outcomeContinue, merged.added, time.Since(start).Seconds())
		return d, nil
	}
	o.metrics.RecordRound(outcomeSaturated, merged.added, time.Since(start).Seconds())
	o.saturate(ctx, run, round, merged.total, d)
	return d, nil
}

// failRound emits the stage failure unless the run was interrupted, in
// which case the failure is a consequence of the interruption.
func (o *Orchestrator) failRound(ctx context.Context, run *Run, stage domain.Stage, round int, cause error) error {
	if ctx.Err() != nil || !o.registry.IsLive(run) {
		return errRunInterrupted
	}
	o.metrics.RecordRound(outcomeFailed, 0, 0)
	o.stageFailed(ctx, run.SessionID, stage, round, cause)
	return domain.NewStageError(stage, cause)
}

// saturate ends the run and chains the next stage.
func (o *Orchestrator) saturate(ctx context.Context, run *Run, round, total int, d decision) {
	o.registry.Remove(run)
	o.metrics.SetRunsActive(o.registry.Len())
	o.metrics.RecordSaturation(string(d.reason))

	payload := domain.ExpansionSaturatedPayload{
		Reason:        d.reason,
		Round:         round,
		Total:         total,
		PruneRequired: d.prune,
	}
	if d.prune {
		payload.TargetMax = o.cfg.PruneTarget
	}
	if err := o.emit(ctx, run.SessionID, payload); err != nil {
		return
	}

	sessLogger := observability.WithSessionContext(o.logger, run.SessionID)
	sessLogger.Info().
		Str("reason", string(d.reason)).
		Int("round", round).
		Int("total", total).
		Bool("prune_required", d.prune).
		Msg("expansion saturated")

	if d.prune {
		o.dispatch(ctx, run.SessionID, domain.PruneCollectionParams{
			TargetMax: o.cfg.PruneTarget,
			Criterion: o.cfg.PruneCriterion,
		})
		return
	}
	o.dispatch(ctx, run.SessionID, domain.BuildGraphParams{CollectionID: run.CollectionID})
}

// plan produces the round's query, falling back to the heuristic when the
// generator is absent, fails, or returns nothing.
func (o *Orchestrator) plan(ctx context.Context, run *Run, round int, logger zerolog.Logger) (domain.GeneratedQuery, string) {
	var briefs []domain.Brief
	if sess, err := o.deps.Projections.Session(ctx, run.SessionID); err == nil {
		briefs = sess.Briefs(o.cfg.BriefWindow)
	}

	if o.deps.Generator != nil {
		var q domain.GeneratedQuery
		err := o.call(ctx, "query_generator", func(cctx context.Context) error {
			var err error
			q, err = o.deps.Generator.Generate(cctx, run.Direction, briefs, round)
			return err
		})
		if err == nil && strings.TrimSpace(q.Query) != "" {
			q.Query = strings.TrimSpace(q.Query)
			return q, plannerGenerator
		}
		o.metrics.RecordQueryFallback()
		logger.Warn().Err(err).Msg("query generation unavailable, using heuristic query")
	}
	return HeuristicQuery(run.Direction, briefs, round), plannerHeuristic
}

// importable returns the distinct best identifiers of the candidates and
// their briefs keyed by identifier.
func importable(candidates []domain.Candidate) ([]string, map[string]domain.Brief) {
	ids := make([]string, 0, len(candidates))
	briefs := make(map[string]domain.Brief, len(candidates))
	for _, c := range candidates {
		id := strings.TrimSpace(c.BestIdentifier)
		if id == "" {
			continue
		}
		if _, dup := briefs[id]; dup {
			continue
		}
		b := c.Brief()
		b.ID = id
		briefs[id] = b
		ids = append(ids, id)
	}
	return ids, briefs
}

type mergeOutcome struct {
	artifactID string
	version    int
	added      int
	total      int
}

// mergeRound folds imported identifiers into the session's collection. When
// nothing new arrives the current version is kept.
func (o *Orchestrator) mergeRound(ctx context.Context, sessionID string, imported []string) (mergeOutcome, error) {
	var prev *domain.Artifact
	latest, err := o.deps.Artifacts.Latest(ctx, domain.ArtifactKindCollection, sessionID)
	switch {
	case err == nil:
		prev = &latest
	case !errors.Is(err, domain.ErrNotFound):
		return mergeOutcome{}, fmt.Errorf("load collection: %w", err)
	}

	res, err := artifact.MergeCollection(sessionID, prev, imported)
	if err != nil {
		return mergeOutcome{}, err
	}

	if len(res.Added) == 0 {
		if prev == nil {
			return mergeOutcome{}, nil
		}
		data, err := artifact.DecodeCollection(*prev)
		if err != nil {
			return mergeOutcome{}, err
		}
		return mergeOutcome{artifactID: prev.ID, version: prev.Version, total: len(data.Items)}, nil
	}

	if err := o.deps.Artifacts.Put(ctx, res.Artifact); err != nil {
		return mergeOutcome{}, fmt.Errorf("store collection: %w", err)
	}
	return mergeOutcome{
		artifactID: res.Artifact.ID,
		version:    res.Artifact.Version,
		added:      len(res.Added),
		total:      res.Total(),
	}, nil
}
