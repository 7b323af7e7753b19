// Package orchestrator drives per-session literature expansion.
//
// The Orchestrator is a command handler. StartExpansion registers a run and
// starts a goroutine that repeatedly plans a query, searches for candidates,
// imports them, merges them into the session's collection artifact and
// decides whether to continue. When expansion saturates the next stage
// (pruning or graph construction) is requested through the command bus, so
// every stage can also be triggered and retried on its own.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/session-workflow-engine/internal/artifact"
	"github.com/helixir/session-workflow-engine/internal/commandbus"
	"github.com/helixir/session-workflow-engine/internal/domain"
	"github.com/helixir/session-workflow-engine/internal/observability"
)

// HandlerName is the name the orchestrator registers on the command bus under.
const HandlerName = "orchestrator"

// Deps are the orchestrator's collaborators. Generator and Citations are
// optional: without a generator every query is planned heuristically, and
// without a citation source graphs have no edges.
type Deps struct {
	Emitter     EventEmitter
	Projections ProjectionReader
	Artifacts   artifact.Store
	Commands    commandbus.Dispatcher
	Generator   QueryGenerator
	Search      WebSearch
	Literature  LiteratureStore
	Graphs      GraphStore
	Citations   CitationSource
	// Registry defaults to a fresh registry.
	Registry *Registry
}

// Orchestrator implements commandbus.Handler for every session command.
type Orchestrator struct {
	deps     Deps
	cfg      Config
	registry *Registry
	logger   zerolog.Logger
	metrics  *observability.Metrics

	wg sync.WaitGroup
}

var _ commandbus.Handler = (*Orchestrator)(nil)

// New creates an Orchestrator.
func New(deps Deps, cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Orchestrator {
	registry := deps.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	return &Orchestrator{
		deps:     deps,
		cfg:      cfg,
		registry: registry,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
		metrics:  metrics,
	}
}

// Name implements commandbus.Handler.
func (o *Orchestrator) Name() string { return HandlerName }

// Handle implements commandbus.Handler.
func (o *Orchestrator) Handle(ctx context.Context, cmd domain.Command) error {
	switch p := cmd.Params.(type) {
	case domain.RenameSessionParams:
		return o.renameSession(ctx, cmd.SessionID, p)
	case domain.BindCollectionParams:
		return o.bindCollection(ctx, cmd.SessionID, p)
	case domain.StartExpansionParams:
		return o.startExpansion(ctx, cmd.SessionID, p)
	case domain.StopExpansionParams:
		return o.stopExpansion(ctx, cmd.SessionID, p)
	case domain.PruneCollectionParams:
		return o.pruneCollection(ctx, cmd.SessionID, p)
	case domain.BuildGraphParams:
		return o.buildGraph(ctx, cmd.SessionID, p)
	}
	return nil
}

// Registry returns the run registry.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Wait blocks until every run goroutine and stage job has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown interrupts all runs and jobs and waits for them to return. Runs
// are left registered and their sessions stay in the expanding phase, so
// Recover resumes them on the next start.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.registry.interruptAll()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator shutdown: %w", ctx.Err())
	}
}

// call runs fn under the collaborator timeout and records its outcome.
func (o *Orchestrator) call(ctx context.Context, collaborator string, fn func(ctx context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, o.cfg.CollaboratorTimeout)
	defer cancel()

	start := time.Now()
	err := fn(cctx)
	o.metrics.RecordCollaboratorCall(collaborator, err, time.Since(start).Seconds())

	if err != nil && ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s: %w", collaborator, o.cfg.CollaboratorTimeout, err)
	}
	return err
}

// emit appends and publishes an event for the session.
func (o *Orchestrator) emit(ctx context.Context, sessionID string, payload domain.EventPayload) error {
	if _, err := o.deps.Emitter.Emit(ctx, sessionID, payload); err != nil {
		o.logger.Error().
			Err(err).
			Str("session_id", sessionID).
			Str("event_type", string(payload.EventType())).
			Msg("failed to emit event")
		return err
	}
	return nil
}

// stageFailed records a stage failure as an event.
func (o *Orchestrator) stageFailed(ctx context.Context, sessionID string, stage domain.Stage, round int, cause error) {
	o.metrics.RecordStageFailure(string(stage))
	o.logger.Warn().
		Err(cause).
		Str("session_id", sessionID).
		Str("stage", string(stage)).
		Int("round", round).
		Msg("stage failed")
	_ = o.emit(ctx, sessionID, domain.StageFailedPayload{
		Stage: stage,
		Round: round,
		Error: cause.Error(),
	})
}

// dispatch chains a follow-up command through the command bus.
func (o *Orchestrator) dispatch(ctx context.Context, sessionID string, params domain.CommandParams) {
	cmd := domain.NewCommand(sessionID, params)
	if err := o.deps.Commands.Dispatch(ctx, cmd); err != nil {
		cmdLogger := observability.WithCommandContext(o.logger, cmd.ID.String(), string(cmd.Type))
		cmdLogger.Error().
			Err(err).
			Str("session_id", sessionID).
			Msg("failed to dispatch follow-up command")
	}
}

// spawnJob runs fn in the background unless a job of the same kind is
// already running for the session. The job context keeps ctx's values but
// not its cancellation.
func (o *Orchestrator) spawnJob(ctx context.Context, sessionID string, kind JobKind, fn func(ctx context.Context)) bool {
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if !o.registry.BeginJob(sessionID, kind, cancel) {
		cancel()
		return false
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		defer o.registry.EndJob(sessionID, kind)
		fn(jobCtx)
	}()
	return true
}
