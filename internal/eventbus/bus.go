// Package eventbus fans events out to in-process subscribers under a
// per-event delivery policy.
package eventbus

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"

	"github.com/helixir/session-workflow-engine/internal/domain"
	"github.com/helixir/session-workflow-engine/internal/observability"
)

// DefaultErrorBuffer is the capacity of the supervisory error channel.
const DefaultErrorBuffer = 256

// Handler consumes a published event. A returned error or a panic is
// recorded but never reaches the publisher.
type Handler func(ctx context.Context, event domain.Event) error

// HandlerError describes a failed delivery.
type HandlerError struct {
	Subscriber string
	Event      domain.Event
	QoS        domain.QoS
	Err        error
}

// Error implements the error interface.
func (e HandlerError) Error() string {
	return fmt.Sprintf("subscriber %s failed on %s (seq %d): %v", e.Subscriber, e.Event.Type, e.Event.Seq, e.Err)
}

// Config holds bus settings.
type Config struct {
	// ErrorBuffer is the capacity of the async failure channel.
	ErrorBuffer int
}

type subscription struct {
	id      uint64
	name    string
	handler Handler
}

// Bus is an in-memory publish/subscribe fan-out.
type Bus struct {
	mu     sync.Mutex
	subs   []subscription
	nextID uint64

	errs     chan HandlerError
	inflight sync.WaitGroup

	logger  zerolog.Logger
	metrics *observability.Metrics
}

// New creates a Bus.
func New(cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Bus {
	if cfg.ErrorBuffer <= 0 {
		cfg.ErrorBuffer = DefaultErrorBuffer
	}
	return &Bus{
		errs:    make(chan HandlerError, cfg.ErrorBuffer),
		logger:  logger.With().Str("component", "event_bus").Logger(),
		metrics: metrics,
	}
}

// Subscribe registers a handler and returns a function that removes it.
// Sync deliveries run handlers in subscription order.
func (b *Bus) Subscribe(name string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	// Copy on write so Publish can iterate a snapshot without holding the lock.
	next := make([]subscription, len(b.subs), len(b.subs)+1)
	copy(next, b.subs)
	b.subs = append(next, subscription{id: id, name: name, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.id != id {
			next = append(next, s)
		}
	}
	b.subs = next
}

func (b *Bus) snapshot() []subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs
}

// Publish delivers the event according to its effective QoS. Callers must
// have durably appended the event first.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	subs := b.snapshot()
	qos := event.EffectiveQoS()

	if qos == domain.QoSSync {
		for _, s := range subs {
			if err := b.deliver(ctx, s, event); err != nil {
				b.logFailure(HandlerError{Subscriber: s.name, Event: event, QoS: qos, Err: err})
			}
		}
		return
	}

	// Async deliveries outlive the publisher's context.
	detached := context.WithoutCancel(ctx)
	for _, s := range subs {
		b.inflight.Add(1)
		go func(s subscription) {
			defer b.inflight.Done()
			if err := b.deliver(detached, s, event); err != nil {
				b.report(HandlerError{Subscriber: s.name, Event: event, QoS: qos, Err: err})
			}
		}(s)
	}
}

func (b *Bus) deliver(ctx context.Context, s subscription, event domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	b.metrics.RecordEventDelivery(string(event.EffectiveQoS()))
	return s.handler(ctx, event)
}

// report hands an async failure to the supervisor, logging inline if the
// channel is full.
func (b *Bus) report(he HandlerError) {
	select {
	case b.errs <- he:
	default:
		b.logFailure(he)
	}
}

func (b *Bus) logFailure(he HandlerError) {
	b.metrics.RecordEventHandlerFailure(string(he.QoS), string(he.Event.Type))
	evtLogger := observability.WithEventContext(b.logger, he.Event.ID.String(), string(he.Event.Type), he.Event.Seq)
	evtLogger.Error().
		Err(he.Err).
		Str("subscriber", he.Subscriber).
		Str("session_id", he.Event.SessionID).
		Str("qos", string(he.QoS)).
		Msg("event handler failed")
}

// Errors exposes async delivery failures. Supervise is the usual consumer;
// reading it directly is intended for tests.
func (b *Bus) Errors() <-chan HandlerError {
	return b.errs
}

// Supervise logs async delivery failures until ctx is cancelled.
func (b *Bus) Supervise(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case he := <-b.errs:
			b.logFailure(he)
		}
	}
}

// Wait blocks until every in-flight async delivery has returned.
func (b *Bus) Wait() {
	b.inflight.Wait()
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	return len(b.snapshot())
}
