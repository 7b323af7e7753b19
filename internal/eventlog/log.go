// Package eventlog is the durable, append-only record of session events.
//
// Every event is appended before it is published on the event bus, so a
// session's state can always be rebuilt from the log alone. Each session has
// its own sequence: Seq is 1 for the first event of a session and grows by
// one per append. List returns events in append order.
//
// Three backends are provided: MemoryLog for tests and ephemeral runs,
// SQLiteLog for single-process durability and PgLog for server deployments.
package eventlog

import (
	"context"

	"github.com/google/uuid"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

// Log persists events.
type Log interface {
	// Append durably stores the event and assigns its Seq. Appending an
	// event id twice returns an AlreadyExistsError.
	Append(ctx context.Context, event *domain.Event) error
	// List returns the session's events in append order. An empty session id
	// lists every event in global append order.
	List(ctx context.Context, sessionID string) ([]domain.Event, error)
	// Sessions returns the ids of all sessions with at least one event,
	// ordered by first appearance.
	Sessions(ctx context.Context) ([]string, error)
}

// prepare validates an event before it is stored.
func prepare(event *domain.Event) error {
	if event == nil {
		return domain.NewValidationError("event", "is required")
	}
	if event.SessionID == "" {
		return domain.NewValidationError("session_id", "is required")
	}
	if event.Payload == nil {
		return domain.NewValidationError("payload", "is required")
	}
	if event.Type != event.Payload.EventType() {
		return domain.NewValidationError("type", "does not match payload "+string(event.Payload.EventType()))
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.QoS == "" {
		event.QoS = domain.QoSAuto
	}
	return nil
}
