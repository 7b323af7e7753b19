package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/session-workflow-engine/internal/domain"
	"github.com/helixir/session-workflow-engine/internal/eventbus"
	"github.com/helixir/session-workflow-engine/internal/observability"
)

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
	fail   error
	closed bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func (s *recordingSink) sent() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.events...)
}

func testEvent(sessionID string, seq int64) domain.Event {
	ev := domain.NewEvent(sessionID, domain.SessionRenamedPayload{Title: "t"})
	ev.Seq = seq
	return ev
}

func TestForwarder(t *testing.T) {
	t.Run("forwards queued events in order", func(t *testing.T) {
		sink := &recordingSink{}
		metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "test")
		f := NewForwarder(sink, 8, zerolog.Nop(), metrics)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- f.Run(ctx) }()

		for seq := int64(1); seq <= 3; seq++ {
			require.NoError(t, f.Handle(context.Background(), testEvent("s-1", seq)))
		}

		require.Eventually(t, func() bool { return len(sink.sent()) == 3 }, time.Second, 5*time.Millisecond)
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)

		sent := sink.sent()
		for i, ev := range sent {
			assert.Equal(t, int64(i+1), ev.Seq)
		}
		assert.Equal(t, float64(3), testutil.ToFloat64(metrics.RelayPublished.WithLabelValues("recording")))
	})

	t.Run("full queue drops the event", func(t *testing.T) {
		sink := &recordingSink{}
		metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "test")
		f := NewForwarder(sink, 1, zerolog.Nop(), metrics)

		require.NoError(t, f.Handle(context.Background(), testEvent("s-1", 1)))
		err := f.Handle(context.Background(), testEvent("s-1", 2))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "queue full")
		assert.Equal(t, 1, f.Pending())
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RelayFailures.WithLabelValues("recording")))
	})

	t.Run("drains queued events on shutdown", func(t *testing.T) {
		sink := &recordingSink{}
		f := NewForwarder(sink, 4, zerolog.Nop(), nil)

		require.NoError(t, f.Handle(context.Background(), testEvent("s-1", 1)))
		require.NoError(t, f.Handle(context.Background(), testEvent("s-1", 2)))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_ = f.Run(ctx)

		// select may pick either ready case first; both paths end with an empty queue.
		assert.Len(t, sink.sent(), 2)
		assert.Equal(t, 0, f.Pending())
	})

	t.Run("send failures are counted", func(t *testing.T) {
		sink := &recordingSink{fail: errors.New("broker down")}
		metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "test")
		f := NewForwarder(sink, 4, zerolog.Nop(), metrics)

		require.NoError(t, f.Handle(context.Background(), testEvent("s-1", 1)))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_ = f.Run(ctx)

		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RelayFailures.WithLabelValues("recording")))
		assert.Equal(t, float64(0), testutil.ToFloat64(metrics.RelayPublished.WithLabelValues("recording")))
	})

	t.Run("attach subscribes to the bus", func(t *testing.T) {
		bus := eventbus.New(eventbus.Config{}, zerolog.Nop(), nil)
		f := NewForwarder(&recordingSink{}, 4, zerolog.Nop(), nil)

		unsubscribe := f.Attach(bus)
		assert.Equal(t, 1, bus.Len())

		bus.Publish(context.Background(), testEvent("s-1", 1).WithQoS(domain.QoSSync))
		assert.Equal(t, 1, f.Pending())

		unsubscribe()
		assert.Equal(t, 0, bus.Len())
	})
}
