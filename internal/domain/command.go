package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// CommandType identifies a command. The set is closed: DecodeCommandParams
// rejects anything not listed here.
type CommandType string

const (
	CommandRenameSession   CommandType = "session.rename"
	CommandBindCollection  CommandType = "session.bind_collection"
	CommandStartExpansion  CommandType = "expansion.start"
	CommandStopExpansion   CommandType = "expansion.stop"
	CommandPruneCollection CommandType = "collection.prune"
	CommandBuildGraph      CommandType = "graph.build"
)

// AllCommandTypes lists every command type in declaration order.
var AllCommandTypes = []CommandType{
	CommandRenameSession,
	CommandBindCollection,
	CommandStartExpansion,
	CommandStopExpansion,
	CommandPruneCollection,
	CommandBuildGraph,
}

// CommandParams is implemented only by the parameter structs in this package.
type CommandParams interface {
	CommandType() CommandType
	isCommandParams()
}

// RenameSessionParams renames a session.
type RenameSessionParams struct {
	Title string `json:"title" validate:"required,max=300"`
}

// BindCollectionParams links a literature collection to a session.
type BindCollectionParams struct {
	CollectionID string `json:"collection_id" validate:"required,max=200"`
}

// StartExpansionParams starts iterative expansion of the linked collection.
type StartExpansionParams struct {
	Direction Direction `json:"direction"`
}

// StopExpansionParams cancels the active expansion run.
type StopExpansionParams struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// PruneCollectionParams shrinks the collection to at most TargetMax papers.
type PruneCollectionParams struct {
	TargetMax int            `json:"target_max" validate:"required,min=1,max=100000"`
	Criterion PruneCriterion `json:"criterion" validate:"required,oneof=remove-lowest-citation-first remove-oldest-first"`
}

// BuildGraphParams builds a citation graph from the session's collection.
type BuildGraphParams struct {
	CollectionID string `json:"collection_id,omitempty" validate:"max=200"`
}

func (RenameSessionParams) CommandType() CommandType   { return CommandRenameSession }
func (BindCollectionParams) CommandType() CommandType  { return CommandBindCollection }
func (StartExpansionParams) CommandType() CommandType  { return CommandStartExpansion }
func (StopExpansionParams) CommandType() CommandType   { return CommandStopExpansion }
func (PruneCollectionParams) CommandType() CommandType { return CommandPruneCollection }
func (BuildGraphParams) CommandType() CommandType      { return CommandBuildGraph }

func (RenameSessionParams) isCommandParams()   {}
func (BindCollectionParams) isCommandParams()  {}
func (StartExpansionParams) isCommandParams()  {}
func (StopExpansionParams) isCommandParams()   {}
func (PruneCollectionParams) isCommandParams() {}
func (BuildGraphParams) isCommandParams()      {}

// Command is an intent addressed to one session. Commands are never persisted;
// only the events their handlers emit are.
type Command struct {
	ID        uuid.UUID
	Type      CommandType
	Timestamp time.Time
	SessionID string
	Params    CommandParams
}

// NewCommand creates a command for a session with a fresh id.
func NewCommand(sessionID string, params CommandParams) Command {
	return Command{
		ID:        uuid.New(),
		Type:      params.CommandType(),
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Params:    params,
	}
}

type commandEnvelope struct {
	ID        uuid.UUID       `json:"id"`
	Type      CommandType     `json:"type"`
	Timestamp time.Time       `json:"ts"`
	SessionID string          `json:"session_id"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c Command) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	if c.Params != nil {
		b, err := json.Marshal(c.Params)
		if err != nil {
			return nil, fmt.Errorf("marshal %s params: %w", c.Type, err)
		}
		raw = b
	}
	return json.Marshal(commandEnvelope{
		ID:        c.ID,
		Type:      c.Type,
		Timestamp: c.Timestamp,
		SessionID: c.SessionID,
		Params:    raw,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Command) UnmarshalJSON(data []byte) error {
	var env commandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	params, err := DecodeCommandParams(env.Type, env.Params)
	if err != nil {
		return err
	}
	*c = Command{
		ID:        env.ID,
		Type:      env.Type,
		Timestamp: env.Timestamp,
		SessionID: env.SessionID,
		Params:    params,
	}
	return nil
}

// DecodeCommandParams decodes raw JSON params for the given command type.
// An empty payload decodes to the zero value of the params struct.
func DecodeCommandParams(t CommandType, raw json.RawMessage) (CommandParams, error) {
	switch t {
	case CommandRenameSession:
		return decodeParams[RenameSessionParams](t, raw)
	case CommandBindCollection:
		return decodeParams[BindCollectionParams](t, raw)
	case CommandStartExpansion:
		return decodeParams[StartExpansionParams](t, raw)
	case CommandStopExpansion:
		return decodeParams[StopExpansionParams](t, raw)
	case CommandPruneCollection:
		return decodeParams[PruneCollectionParams](t, raw)
	case CommandBuildGraph:
		return decodeParams[BuildGraphParams](t, raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, t)
	}
}

func decodeParams[P CommandParams](t CommandType, raw json.RawMessage) (CommandParams, error) {
	var p P
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, NewValidationError("params", fmt.Sprintf("invalid %s params: %v", t, err))
	}
	return p, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the command envelope and its params.
func (c Command) Validate() error {
	if strings.TrimSpace(c.SessionID) == "" {
		return NewValidationError("session_id", "is required")
	}
	if len(c.SessionID) > 200 {
		return NewValidationError("session_id", "must be at most 200 characters")
	}
	if c.Params == nil {
		return NewValidationError("params", "are required")
	}
	if c.Params.CommandType() != c.Type {
		return NewValidationError("type", fmt.Sprintf("params are for %s, not %s", c.Params.CommandType(), c.Type))
	}
	return validateStruct(c.Params)
}

// validateStruct runs struct-tag validation and converts the first failure
// into a ValidationError.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return NewValidationError(strings.ToLower(fe.Field()), describeTag(fe))
	}
	return NewValidationError("params", err.Error())
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
