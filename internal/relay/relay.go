// Package relay forwards session events to external brokers and feeds
// commands from a broker topic into the command bus.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/session-workflow-engine/internal/domain"
	"github.com/helixir/session-workflow-engine/internal/eventbus"
	"github.com/helixir/session-workflow-engine/internal/observability"
)

const (
	// DefaultQueueSize is the number of events a Forwarder buffers before
	// dropping.
	DefaultQueueSize = 1024

	drainTimeout = 5 * time.Second
)

// Sink delivers a single event to an external broker.
type Sink interface {
	Name() string
	Send(ctx context.Context, event domain.Event) error
	Close() error
}

// Forwarder decouples bus publishing from broker latency. The bus handler
// only enqueues; Run performs the sends.
type Forwarder struct {
	sink    Sink
	queue   chan domain.Event
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewForwarder creates a Forwarder for sink.
func NewForwarder(sink Sink, queueSize int, logger zerolog.Logger, metrics *observability.Metrics) *Forwarder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Forwarder{
		sink:    sink,
		queue:   make(chan domain.Event, queueSize),
		logger:  logger.With().Str("component", "relay").Str("sink", sink.Name()).Logger(),
		metrics: metrics,
	}
}

// Attach subscribes the forwarder to bus and returns the unsubscribe func.
func (f *Forwarder) Attach(bus *eventbus.Bus) func() {
	return bus.Subscribe("relay."+f.sink.Name(), f.Handle)
}

// Handle is an eventbus.Handler. It never waits on the broker; a full
// queue drops the event and reports the drop as a handler failure.
func (f *Forwarder) Handle(_ context.Context, event domain.Event) error {
	select {
	case f.queue <- event:
		return nil
	default:
		f.metrics.RecordRelayFailure(f.sink.Name())
		return fmt.Errorf("%s relay queue full, dropped %s (seq %d)", f.sink.Name(), event.Type, event.Seq)
	}
}

// Run sends queued events until ctx is cancelled, then drains whatever is
// already queued within a bounded grace period.
func (f *Forwarder) Run(ctx context.Context) error {
	f.logger.Info().Msg("starting event relay")

	for {
		select {
		case event := <-f.queue:
			f.forward(ctx, event)
		case <-ctx.Done():
			f.drain()
			f.logger.Info().Msg("event relay stopped")
			return ctx.Err()
		}
	}
}

func (f *Forwarder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case event := <-f.queue:
			f.forward(ctx, event)
		default:
			return
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, event domain.Event) {
	if err := f.sink.Send(ctx, event); err != nil {
		f.metrics.RecordRelayFailure(f.sink.Name())
		evtLogger := observability.WithEventContext(f.logger, event.ID.String(), string(event.Type), event.Seq)
		evtLogger.Error().
			Err(err).
			Str("session_id", event.SessionID).
			Msg("failed to relay event")
		return
	}
	f.metrics.RecordRelayPublished(f.sink.Name())
}

// Pending returns the number of queued events.
func (f *Forwarder) Pending() int {
	return len(f.queue)
}
