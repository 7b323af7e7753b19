package eventlog

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/helixir/session-workflow-engine/internal/domain"
	"github.com/helixir/session-workflow-engine/internal/observability"
)

// Publisher fans an event out to subscribers. *eventbus.Bus implements it.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event)
}

// IdentityResolver supplies the acting user for events whose producer did
// not set one. An empty id with a nil error means there is no user.
type IdentityResolver interface {
	ResolveUserID(ctx context.Context) (string, error)
}

// IdentityFunc adapts a function to IdentityResolver.
type IdentityFunc func(ctx context.Context) (string, error)

// ResolveUserID implements IdentityResolver.
func (f IdentityFunc) ResolveUserID(ctx context.Context) (string, error) { return f(ctx) }

// ContextIdentity resolves the user recorded with observability.WithUserID.
var ContextIdentity = IdentityFunc(func(ctx context.Context) (string, error) {
	return observability.UserIDFromContext(ctx), nil
})

// Emitter is the only path by which events enter the system: it enriches,
// appends and then publishes.
type Emitter struct {
	log       Log
	publisher Publisher
	identity  IdentityResolver
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// NewEmitter creates an Emitter. identity may be nil.
func NewEmitter(log Log, publisher Publisher, identity IdentityResolver, logger zerolog.Logger, metrics *observability.Metrics) *Emitter {
	return &Emitter{
		log:       log,
		publisher: publisher,
		identity:  identity,
		logger:    logger.With().Str("component", "event_emitter").Logger(),
		metrics:   metrics,
	}
}

// Emit builds an event for the session with auto QoS and emits it.
func (e *Emitter) Emit(ctx context.Context, sessionID string, payload domain.EventPayload) (domain.Event, error) {
	return e.EmitEvent(ctx, domain.NewEvent(sessionID, payload))
}

// EmitEvent appends a prepared event and, once it is durable, publishes it.
// If the append fails nothing is published.
func (e *Emitter) EmitEvent(ctx context.Context, event domain.Event) (domain.Event, error) {
	e.enrich(ctx, &event)

	if err := e.log.Append(ctx, &event); err != nil {
		return event, fmt.Errorf("append %s: %w", event.Type, err)
	}
	e.metrics.RecordEventAppended(string(event.Type))

	evtLogger := observability.WithEventContext(e.logger, event.ID.String(), string(event.Type), event.Seq)
	evtLogger.Debug().
		Str("session_id", event.SessionID).
		Msg("event appended")

	if e.publisher != nil {
		e.publisher.Publish(ctx, event)
	}
	return event, nil
}

// enrich stamps the user id on a best-effort basis. A resolver failure is
// logged and the event proceeds without a user.
func (e *Emitter) enrich(ctx context.Context, event *domain.Event) {
	if event.UserID != "" || e.identity == nil {
		return
	}
	userID, err := e.identity.ResolveUserID(ctx)
	if err != nil {
		e.metrics.RecordIdentityResolutionFailure()
		e.logger.Warn().
			Err(err).
			Str("session_id", event.SessionID).
			Str("event_type", string(event.Type)).
			Msg("identity resolution failed, emitting event without user")
		return
	}
	event.UserID = userID
}

// Log returns the underlying log.
func (e *Emitter) Log() Log {
	return e.log
}
