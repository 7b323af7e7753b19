package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/session-workflow-engine/internal/commandbus"
	"github.com/helixir/session-workflow-engine/internal/domain"
	"github.com/helixir/session-workflow-engine/internal/observability"
)

// ListenerConfig holds configuration for the command listener.
type ListenerConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic carries JSON command envelopes.
	Topic string
	// GroupID is the consumer group ID.
	GroupID string
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// CommandListener consumes command envelopes from Kafka and dispatches
// them on the command bus.
type CommandListener struct {
	reader     messageReader
	dispatcher commandbus.Dispatcher
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// NewCommandListener creates a listener reading cfg.Topic.
func NewCommandListener(cfg ListenerConfig, dispatcher commandbus.Dispatcher, logger zerolog.Logger, metrics *observability.Metrics) *CommandListener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})
	return newCommandListener(reader, dispatcher, logger, metrics)
}

func newCommandListener(reader messageReader, dispatcher commandbus.Dispatcher, logger zerolog.Logger, metrics *observability.Metrics) *CommandListener {
	return &CommandListener{
		reader:     reader,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "command_listener").Logger(),
		metrics:    metrics,
	}
}

// Run starts the listener loop. Blocks until context is cancelled.
func (l *CommandListener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting command listener")

	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("command listener stopped via context cancellation")
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}

		l.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("received command")

		if err := l.handleMessage(ctx, msg); err != nil {
			l.metrics.RecordRelayFailure("kafka_commands")
			l.logger.Error().Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("rejected command")
		}
	}
}

// handleMessage decodes one envelope. The message key stands in for a
// missing session id; id and timestamp are filled when absent.
func (l *CommandListener) handleMessage(ctx context.Context, msg kafka.Message) error {
	var cmd domain.Command
	if err := json.Unmarshal(msg.Value, &cmd); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}
	if cmd.SessionID == "" {
		cmd.SessionID = string(msg.Key)
	}
	if cmd.ID == uuid.Nil {
		cmd.ID = uuid.New()
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now().UTC()
	}

	for _, h := range msg.Headers {
		if h.Key == "correlation_id" && len(h.Value) > 0 {
			ctx = observability.WithCorrelationID(ctx, string(h.Value))
		}
	}
	ctx = observability.WithSessionID(ctx, cmd.SessionID)

	return l.dispatcher.Dispatch(ctx, cmd)
}

// Close closes the Kafka reader.
func (l *CommandListener) Close() error {
	l.logger.Info().Msg("closing command listener")
	return l.reader.Close()
}
