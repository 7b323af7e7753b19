package orchestrator

import (
	"time"

	"github.com/helixir/session-workflow-engine/internal/config"
	"github.com/helixir/session-workflow-engine/internal/domain"
)

// Config holds the expansion tuning knobs.
type Config struct {
	GrowthThreshold     float64
	RoundSize           int
	BriefWindow         int
	MaxRounds           int
	UpperBound          int
	PruneTarget         int
	PruneCriterion      domain.PruneCriterion
	ZeroAddTolerance    int
	RoundDelay          time.Duration
	CollaboratorTimeout time.Duration
}

// DefaultConfig returns the standard expansion settings.
func DefaultConfig() Config {
	return Config{
		GrowthThreshold:     0.02,
		RoundSize:           8,
		BriefWindow:         6,
		MaxRounds:           4,
		UpperBound:          80,
		PruneTarget:         60,
		PruneCriterion:      domain.PruneLowestCitationFirst,
		ZeroAddTolerance:    0,
		RoundDelay:          1500 * time.Millisecond,
		CollaboratorTimeout: 30 * time.Second,
	}
}

// ConfigFromEngine maps the engine section of the service configuration.
// Unset values keep their defaults.
func ConfigFromEngine(ec config.EngineConfig) Config {
	cfg := DefaultConfig()
	if ec.GrowthThreshold > 0 {
		cfg.GrowthThreshold = ec.GrowthThreshold
	}
	if ec.RoundSize > 0 {
		cfg.RoundSize = ec.RoundSize
	}
	if ec.BriefWindow > 0 {
		cfg.BriefWindow = ec.BriefWindow
	}
	if ec.MaxRounds > 0 {
		cfg.MaxRounds = ec.MaxRounds
	}
	if ec.UpperBound > 0 {
		cfg.UpperBound = ec.UpperBound
	}
	if ec.PruneTarget > 0 {
		cfg.PruneTarget = ec.PruneTarget
	}
	if c := domain.PruneCriterion(ec.PruneCriterion); c.IsValid() {
		cfg.PruneCriterion = c
	}
	if ec.ZeroAddTolerance > 0 {
		cfg.ZeroAddTolerance = ec.ZeroAddTolerance
	}
	if ec.RoundDelay > 0 {
		cfg.RoundDelay = ec.RoundDelay
	}
	if ec.CollaboratorTimeout > 0 {
		cfg.CollaboratorTimeout = ec.CollaboratorTimeout
	}
	return cfg
}
