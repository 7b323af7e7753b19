package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies an event. Like CommandType the set is closed.
type EventType string

const (
	EventSessionRenamed     EventType = "session.renamed"
	EventCollectionBound    EventType = "session.collection_bound"
	EventExpansionStarted   EventType = "expansion.started"
	EventSearchRoundPlanned EventType = "expansion.round_planned"
	EventCandidatesReady    EventType = "expansion.candidates_ready"
	EventIngestionProgress  EventType = "expansion.ingestion_progress"
	EventRoundCompleted     EventType = "expansion.round_completed"
	EventNoNewResults       EventType = "expansion.no_new_results"
	EventExpansionSaturated EventType = "expansion.saturated"
	EventExpansionStopped   EventType = "expansion.stopped"
	EventStageFailed        EventType = "workflow.stage_failed"
	EventPruneStarted       EventType = "collection.prune_started"
	EventCollectionPruned   EventType = "collection.pruned"
	EventGraphBuildStarted  EventType = "graph.build_started"
	EventGraphBuilt         EventType = "graph.built"
)

// QoS is the delivery policy the event bus applies to an event.
type QoS string

const (
	// QoSSync makes publish wait for every subscriber.
	QoSSync QoS = "sync"
	// QoSAsync schedules each subscriber on its own goroutine.
	QoSAsync QoS = "async"
	// QoSAuto picks sync or async from the event type.
	QoSAuto QoS = "auto"
)

// nonBlockingEvents are progress broadcasts that must never stall a producer.
var nonBlockingEvents = map[EventType]bool{
	EventSessionRenamed:     true,
	EventSearchRoundPlanned: true,
	EventCandidatesReady:    true,
	EventIngestionProgress:  true,
}

// IsNonBlocking reports whether auto QoS resolves the type to async delivery.
func (t EventType) IsNonBlocking() bool {
	return nonBlockingEvents[t]
}

// EffectiveQoS resolves the delivery policy for an event. An unset QoS is async;
// auto is classified by event type.
func (e *Event) EffectiveQoS() QoS {
	switch e.QoS {
	case QoSSync:
		return QoSSync
	case QoSAuto:
		if e.Type.IsNonBlocking() {
			return QoSAsync
		}
		return QoSSync
	default:
		return QoSAsync
	}
}

// EventPayload is implemented only by the payload structs in this package.
type EventPayload interface {
	EventType() EventType
	isEventPayload()
}

// SessionRenamedPayload is the payload for session.renamed.
type SessionRenamedPayload struct {
	Title string `json:"title"`
}

// CollectionBoundPayload is the payload for session.collection_bound.
type CollectionBoundPayload struct {
	CollectionID string `json:"collection_id"`
}

// ExpansionStartedPayload is the payload for expansion.started.
type ExpansionStartedPayload struct {
	Direction    Direction `json:"direction"`
	CollectionID string    `json:"collection_id"`
	StartRound   int       `json:"start_round"`
	Resumed      bool      `json:"resumed,omitempty"`
}

// SearchRoundPlannedPayload is the payload for expansion.round_planned.
type SearchRoundPlannedPayload struct {
	Round     int    `json:"round"`
	Query     string `json:"query"`
	Reasoning string `json:"reasoning,omitempty"`
	// Planner is "generator" or "heuristic".
	Planner string `json:"planner"`
}

// CandidatesReadyPayload is the payload for expansion.candidates_ready.
type CandidatesReadyPayload struct {
	Round      int         `json:"round"`
	Query      string      `json:"query"`
	Candidates []Candidate `json:"candidates"`
}

// IngestionProgressPayload is the payload for expansion.ingestion_progress.
type IngestionProgressPayload struct {
	Round      int      `json:"round"`
	Successful []string `json:"successful"`
	Failed     []string `json:"failed,omitempty"`
	Briefs     []Brief  `json:"briefs,omitempty"`
}

// RoundCompletedPayload is the payload for expansion.round_completed.
type RoundCompletedPayload struct {
	Round        int     `json:"round"`
	Added        int     `json:"added"`
	Total        int     `json:"total"`
	RecentGrowth float64 `json:"recent_growth"`
	ArtifactID   string  `json:"artifact_id"`
	Version      int     `json:"version"`
}

// NoNewResultsPayload is the payload for expansion.no_new_results.
type NoNewResultsPayload struct {
	Round  int `json:"round"`
	Streak int `json:"streak"`
}

// ExpansionSaturatedPayload is the payload for expansion.saturated.
type ExpansionSaturatedPayload struct {
	Reason        SaturationReason `json:"reason"`
	Round         int              `json:"round"`
	Total         int              `json:"total"`
	PruneRequired bool             `json:"prune_required,omitempty"`
	TargetMax     int              `json:"target_max,omitempty"`
}

// ExpansionStoppedPayload is the payload for expansion.stopped.
type ExpansionStoppedPayload struct {
	Reason string `json:"reason,omitempty"`
	Round  int    `json:"round"`
}

// StageFailedPayload is the payload for workflow.stage_failed.
type StageFailedPayload struct {
	Stage Stage  `json:"stage"`
	Round int    `json:"round,omitempty"`
	Error string `json:"error"`
}

// PruneStartedPayload is the payload for collection.prune_started.
type PruneStartedPayload struct {
	TargetMax int            `json:"target_max"`
	Criterion PruneCriterion `json:"criterion"`
	Total     int            `json:"total"`
}

// CollectionPrunedPayload is the payload for collection.pruned.
type CollectionPrunedPayload struct {
	Removed    []string `json:"removed"`
	Remaining  int      `json:"remaining"`
	ArtifactID string   `json:"artifact_id,omitempty"`
	Version    int      `json:"version,omitempty"`
}

// GraphBuildStartedPayload is the payload for graph.build_started.
type GraphBuildStartedPayload struct {
	CollectionID string `json:"collection_id"`
	Papers       int    `json:"papers"`
}

// GraphBuiltPayload is the payload for graph.built.
type GraphBuiltPayload struct {
	GraphID string `json:"graph_id"`
	Nodes   int    `json:"nodes"`
	Edges   int    `json:"edges"`
}

func (SessionRenamedPayload) EventType() EventType     { return EventSessionRenamed }
func (CollectionBoundPayload) EventType() EventType    { return EventCollectionBound }
func (ExpansionStartedPayload) EventType() EventType   { return EventExpansionStarted }
func (SearchRoundPlannedPayload) EventType() EventType { return EventSearchRoundPlanned }
func (CandidatesReadyPayload) EventType() EventType    { return EventCandidatesReady }
func (IngestionProgressPayload) EventType() EventType  { return EventIngestionProgress }
func (RoundCompletedPayload) EventType() EventType     { return EventRoundCompleted }
func (NoNewResultsPayload) EventType() EventType       { return EventNoNewResults }
func (ExpansionSaturatedPayload) EventType() EventType { return EventExpansionSaturated }
func (ExpansionStoppedPayload) EventType() EventType   { return EventExpansionStopped }
func (StageFailedPayload) EventType() EventType        { return EventStageFailed }
func (PruneStartedPayload) EventType() EventType       { return EventPruneStarted }
func (CollectionPrunedPayload) EventType() EventType   { return EventCollectionPruned }
func (GraphBuildStartedPayload) EventType() EventType  { return EventGraphBuildStarted }
func (GraphBuiltPayload) EventType() EventType         { return EventGraphBuilt }

func (SessionRenamedPayload) isEventPayload()     {}
func (CollectionBoundPayload) isEventPayload()    {}
func (ExpansionStartedPayload) isEventPayload()   {}
func (SearchRoundPlannedPayload) isEventPayload() {}
func (CandidatesReadyPayload) isEventPayload()    {}
func (IngestionProgressPayload) isEventPayload()  {}
func (RoundCompletedPayload) isEventPayload()     {}
func (NoNewResultsPayload) isEventPayload()       {}
func (ExpansionSaturatedPayload) isEventPayload() {}
func (ExpansionStoppedPayload) isEventPayload()   {}
func (StageFailedPayload) isEventPayload()        {}
func (PruneStartedPayload) isEventPayload()       {}
func (CollectionPrunedPayload) isEventPayload()   {}
func (GraphBuildStartedPayload) isEventPayload()  {}
func (GraphBuiltPayload) isEventPayload()         {}

// Event is an immutable fact about one session. Seq is the session-scoped log
// position and is assigned on append.
type Event struct {
	ID        uuid.UUID
	Type      EventType
	Timestamp time.Time
	SessionID string
	UserID    string
	Seq       int64
	QoS       QoS
	Payload   EventPayload
}

// NewEvent creates an unsaved event for a session.
func NewEvent(sessionID string, payload EventPayload) Event {
	return Event{
		ID:        uuid.New(),
		Type:      payload.EventType(),
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		QoS:       QoSAuto,
		Payload:   payload,
	}
}

// WithQoS returns a copy of the event with an explicit delivery policy.
func (e Event) WithQoS(q QoS) Event {
	e.QoS = q
	return e
}

// EncodePayload returns the JSON form of the payload.
func (e *Event) EncodePayload() ([]byte, error) {
	if e.Payload == nil {
		return nil, NewValidationError("payload", "is required")
	}
	b, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Type, err)
	}
	return b, nil
}

type eventEnvelope struct {
	ID        uuid.UUID       `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"ts"`
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id,omitempty"`
	Seq       int64           `json:"seq"`
	QoS       QoS             `json:"qos,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	payload, err := e.EncodePayload()
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventEnvelope{
		ID:        e.ID,
		Type:      e.Type,
		Timestamp: e.Timestamp,
		SessionID: e.SessionID,
		UserID:    e.UserID,
		Seq:       e.Seq,
		QoS:       e.QoS,
		Payload:   payload,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	payload, err := DecodeEventPayload(env.Type, env.Payload)
	if err != nil {
		return err
	}
	*e = Event{
		ID:        env.ID,
		Type:      env.Type,
		Timestamp: env.Timestamp,
		SessionID: env.SessionID,
		UserID:    env.UserID,
		Seq:       env.Seq,
		QoS:       env.QoS,
		Payload:   payload,
	}
	return nil
}

// DecodeEventPayload decodes a stored payload for the given event type.
func DecodeEventPayload(t EventType, raw []byte) (EventPayload, error) {
	switch t {
	case EventSessionRenamed:
		return decodePayload[SessionRenamedPayload](t, raw)
	case EventCollectionBound:
		return decodePayload[CollectionBoundPayload](t, raw)
	case EventExpansionStarted:
		return decodePayload[ExpansionStartedPayload](t, raw)
	case EventSearchRoundPlanned:
		return decodePayload[SearchRoundPlannedPayload](t, raw)
	case EventCandidatesReady:
		return decodePayload[CandidatesReadyPayload](t, raw)
	case EventIngestionProgress:
		return decodePayload[IngestionProgressPayload](t, raw)
	case EventRoundCompleted:
		return decodePayload[RoundCompletedPayload](t, raw)
	case EventNoNewResults:
		return decodePayload[NoNewResultsPayload](t, raw)
	case EventExpansionSaturated:
		return decodePayload[ExpansionSaturatedPayload](t, raw)
	case EventExpansionStopped:
		return decodePayload[ExpansionStoppedPayload](t, raw)
	case EventStageFailed:
		return decodePayload[StageFailedPayload](t, raw)
	case EventPruneStarted:
		return decodePayload[PruneStartedPayload](t, raw)
	case EventCollectionPruned:
		return decodePayload[CollectionPrunedPayload](t, raw)
	case EventGraphBuildStarted:
		return decodePayload[GraphBuildStartedPayload](t, raw)
	case EventGraphBuilt:
		return decodePayload[GraphBuiltPayload](t, raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, t)
	}
}

func decodePayload[P EventPayload](t EventType, raw []byte) (EventPayload, error) {
	var p P
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}
