package domain

// WorkflowPhase is the coarse stage of a session's expand/prune/build chain.
// It is derived from the event log and drives crash recovery.
type WorkflowPhase string

const (
	PhaseIdle          WorkflowPhase = "idle"
	PhaseExpanding     WorkflowPhase = "expanding"
	PhasePruning       WorkflowPhase = "pruning"
	PhaseGraphBuilding WorkflowPhase = "graph_building"
	PhaseDone          WorkflowPhase = "done"
	PhaseStopped       WorkflowPhase = "stopped"
)

// IsTerminal reports whether no further work is pending for the phase.
func (p WorkflowPhase) IsTerminal() bool {
	return p == PhaseDone || p == PhaseStopped
}

// IsValid reports whether p is one of the known phases.
func (p WorkflowPhase) IsValid() bool {
	switch p {
	case PhaseIdle, PhaseExpanding, PhasePruning, PhaseGraphBuilding, PhaseDone, PhaseStopped:
		return true
	}
	return false
}

// Stage tags a failure with the part of the workflow that aborted.
type Stage string

const (
	StageCandidates Stage = "candidates"
	StageExecute    Stage = "execute"
	StagePrune      Stage = "prune"
	StageGraph      Stage = "graph"
)

// SaturationReason explains why an expansion stopped issuing rounds.
type SaturationReason string

const (
	// SaturationNoNew means consecutive rounds added nothing new.
	SaturationNoNew SaturationReason = "no_new"
	// SaturationMaxRounds covers both the round cap and the collection size cap.
	SaturationMaxRounds SaturationReason = "max_rounds"
	// SaturationLowGrowth means the round yield fell to or below the growth threshold.
	SaturationLowGrowth SaturationReason = "low_growth"
)

// PruneCriterion selects which papers are dropped first when pruning.
type PruneCriterion string

const (
	PruneLowestCitationFirst PruneCriterion = "remove-lowest-citation-first"
	PruneOldestFirst         PruneCriterion = "remove-oldest-first"
)

// IsValid reports whether c is a supported criterion.
func (c PruneCriterion) IsValid() bool {
	return c == PruneLowestCitationFirst || c == PruneOldestFirst
}
