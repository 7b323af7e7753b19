package orchestrator

import (
	"context"
	"fmt"

	"github.com/helixir/session-workflow-engine/internal/domain"
	"github.com/helixir/session-workflow-engine/internal/projection"
)

// Recover resumes workflow chains interrupted by a restart. Sessions whose
// projection is still expanding without a live run restart expansion from
// the projected round; sessions stuck pruning or building a graph get that
// stage re-requested. Sessions halted by a stage failure are left for an
// explicit command. It returns the number of sessions resumed.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	sessions, err := o.deps.Projections.Sessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover: %w", err)
	}

	resumed := 0
	for _, s := range sessions {
		if haltedByFailure(s) {
			o.logger.Info().
				Str("session_id", s.SessionID).
				Str("phase", string(s.Phase)).
				Str("failed_stage", string(s.LastFailure.Stage)).
				Msg("skipping recovery of failed workflow")
			continue
		}

		var params domain.CommandParams
		switch s.Phase {
		case domain.PhaseExpanding:
			if _, live := o.registry.Get(s.SessionID); live || s.Direction == nil {
				continue
			}
			params = domain.StartExpansionParams{Direction: *s.Direction}
		case domain.PhasePruning:
			target := s.PruneTarget
			if target <= 0 {
				target = o.cfg.PruneTarget
			}
			params = domain.PruneCollectionParams{TargetMax: target, Criterion: o.cfg.PruneCriterion}
		case domain.PhaseGraphBuilding:
			params = domain.BuildGraphParams{CollectionID: s.LinkedCollectionID}
		default:
			continue
		}

		o.logger.Info().
			Str("session_id", s.SessionID).
			Str("phase", string(s.Phase)).
			Int("round", s.Round).
			Msg("resuming interrupted workflow")
		o.dispatch(ctx, s.SessionID, params)
		resumed++
	}
	return resumed, nil
}

// haltedByFailure reports whether the stage a session would resume is the
// one that last failed.
func haltedByFailure(s projection.Session) bool {
	f := s.LastFailure
	if f == nil {
		return false
	}
	switch s.Phase {
	case domain.PhaseExpanding:
		return (f.Stage == domain.StageCandidates || f.Stage == domain.StageExecute) && f.Round > s.Round
	case domain.PhasePruning:
		return f.Stage == domain.StagePrune
	case domain.PhaseGraphBuilding:
		return f.Stage == domain.StageGraph
	}
	return false
}
