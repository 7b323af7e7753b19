// Package projection folds a session's event stream into read-optimised state.
//
// Apply is a pure function of its inputs: it never reads the clock or any
// external state, so replaying the same events from an empty Session always
// yields the same result.
package projection

import (
	"time"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

// MaxBriefs bounds the number of recent briefs kept on a session.
const MaxBriefs = 24

// Failure records the most recent stage failure.
type Failure struct {
	Stage domain.Stage `json:"stage"`
	Round int          `json:"round,omitempty"`
	Error string       `json:"error"`
}

// Session is the projected state of one session.
type Session struct {
	SessionID          string                  `json:"session_id"`
	Title              string                  `json:"title,omitempty"`
	LinkedCollectionID string                  `json:"linked_collection_id,omitempty"`
	GraphID            string                  `json:"graph_id,omitempty"`
	Phase              domain.WorkflowPhase    `json:"phase"`
	Direction          *domain.Direction       `json:"direction,omitempty"`
	Round              int                     `json:"round"`
	Total              int                     `json:"total"`
	LastAdded          int                     `json:"last_added"`
	RecentGrowth       float64                 `json:"recent_growth"`
	ZeroAddStreak      int                     `json:"zero_add_streak"`
	LastQuery          string                  `json:"last_query,omitempty"`
	LastSaturation     domain.SaturationReason `json:"last_saturation,omitempty"`
	PruneTarget        int                     `json:"prune_target,omitempty"`
	ArtifactID         string                  `json:"artifact_id,omitempty"`
	ArtifactVersion    int                     `json:"artifact_version,omitempty"`
	RecentBriefs       []domain.Brief          `json:"recent_briefs,omitempty"`
	LastFailure        *Failure                `json:"last_failure,omitempty"`
	LastSeq            int64                   `json:"last_seq"`
	EventCount         int                     `json:"event_count"`
	UpdatedAt          time.Time               `json:"updated_at"`
}

// New returns the empty projection for a session.
func New(sessionID string) Session {
	return Session{SessionID: sessionID, Phase: domain.PhaseIdle}
}

// Briefs returns up to n of the most recent briefs, oldest first.
func (s Session) Briefs(n int) []domain.Brief {
	if n <= 0 || len(s.RecentBriefs) == 0 {
		return nil
	}
	if n > len(s.RecentBriefs) {
		n = len(s.RecentBriefs)
	}
	out := make([]domain.Brief, n)
	copy(out, s.RecentBriefs[len(s.RecentBriefs)-n:])
	return out
}

// Replay folds events into a fresh projection. The session id is taken from
// the first event.
func Replay(events []domain.Event) Session {
	if len(events) == 0 {
		return Session{Phase: domain.PhaseIdle}
	}
	s := New(events[0].SessionID)
	for _, e := range events {
		s = Apply(s, e)
	}
	return s
}

// Apply returns the projection after event. The input is not modified.
func Apply(s Session, event domain.Event) Session {
	if s.SessionID == "" {
		s.SessionID = event.SessionID
	}
	if s.Phase == "" {
		s.Phase = domain.PhaseIdle
	}
	s.RecentBriefs = append([]domain.Brief(nil), s.RecentBriefs...)
	if s.LastFailure != nil {
		f := *s.LastFailure
		s.LastFailure = &f
	}

	switch p := event.Payload.(type) {
	case domain.SessionRenamedPayload:
		s.Title = p.Title

	case domain.CollectionBoundPayload:
		s.LinkedCollectionID = p.CollectionID

	case domain.ExpansionStartedPayload:
		d := p.Direction
		d.Keywords = append([]string(nil), p.Direction.Keywords...)
		s.Direction = &d
		s.Phase = domain.PhaseExpanding
		if p.CollectionID != "" {
			s.LinkedCollectionID = p.CollectionID
		}
		if !p.Resumed {
			s.ZeroAddStreak = 0
			s.LastSaturation = ""
			s.PruneTarget = 0
			s.LastFailure = nil
		}

	case domain.SearchRoundPlannedPayload:
		s.LastQuery = p.Query

	case domain.CandidatesReadyPayload:
		// Candidates only become part of the session once ingested.

	case domain.IngestionProgressPayload:
		s.RecentBriefs = append(s.RecentBriefs, p.Briefs...)
		if over := len(s.RecentBriefs) - MaxBriefs; over > 0 {
			s.RecentBriefs = s.RecentBriefs[over:]
		}

	case domain.RoundCompletedPayload:
		s.Round = p.Round
		s.Total = p.Total
		s.LastAdded = p.Added
		s.RecentGrowth = p.RecentGrowth
		if p.ArtifactID != "" {
			s.ArtifactID = p.ArtifactID
			s.ArtifactVersion = p.Version
		}
		if p.Added > 0 {
			s.ZeroAddStreak = 0
		}

	case domain.NoNewResultsPayload:
		s.ZeroAddStreak = p.Streak

	case domain.ExpansionSaturatedPayload:
		s.LastSaturation = p.Reason
		if p.PruneRequired {
			s.Phase = domain.PhasePruning
			s.PruneTarget = p.TargetMax
		} else {
			s.Phase = domain.PhaseGraphBuilding
		}

	case domain.ExpansionStoppedPayload:
		s.Phase = domain.PhaseStopped

	case domain.StageFailedPayload:
		s.LastFailure = &Failure{Stage: p.Stage, Round: p.Round, Error: p.Error}

	case domain.PruneStartedPayload:
		s.Phase = domain.PhasePruning
		s.PruneTarget = p.TargetMax

	case domain.CollectionPrunedPayload:
		s.Total = p.Remaining
		if p.ArtifactID != "" {
			s.ArtifactID = p.ArtifactID
			s.ArtifactVersion = p.Version
		}
		s.Phase = domain.PhaseGraphBuilding

	case domain.GraphBuildStartedPayload:
		s.Phase = domain.PhaseGraphBuilding

	case domain.GraphBuiltPayload:
		s.GraphID = p.GraphID
		s.Phase = domain.PhaseDone
		s.LastFailure = nil
	}

	if event.Seq > s.LastSeq {
		s.LastSeq = event.Seq
	}
	s.EventCount++
	if event.Timestamp.After(s.UpdatedAt) {
		s.UpdatedAt = event.Timestamp
	}
	return s
}
