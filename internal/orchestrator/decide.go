package orchestrator

import "github.com/helixir/session-workflow-engine/internal/domain"

type action int

const (
	actionContinue action = iota
	actionFinish
)

// decision is the outcome of evaluating a round.
type decision struct {
	action action
	reason domain.SaturationReason
	prune  bool
	// noNew is set when the round added nothing; streak is the zero-add
	// streak after the round.
	noNew  bool
	streak int
}

// decide applies the saturation rules in order; the first match wins.
func decide(cfg Config, round, added, total int, recentGrowth float64, streak int) decision {
	if added == 0 {
		d := decision{noNew: true, streak: streak + 1}
		switch {
		case d.streak > cfg.ZeroAddTolerance:
			d.action, d.reason = actionFinish, domain.SaturationNoNew
		case round >= cfg.MaxRounds:
			d.action, d.reason = actionFinish, domain.SaturationMaxRounds
		}
		return d
	}

	var d decision
	switch {
	case total > cfg.UpperBound:
		d.action, d.reason, d.prune = actionFinish, domain.SaturationMaxRounds, true
	case round >= cfg.MaxRounds:
		d.action, d.reason = actionFinish, domain.SaturationMaxRounds
	case recentGrowth <= cfg.GrowthThreshold:
		d.action, d.reason = actionFinish, domain.SaturationLowGrowth
	}
	return d
}

// recentGrowth is the share of the collection added by the latest round.
func recentGrowth(added, total int) float64 {
	return float64(added) / float64(max(1, total))
}
