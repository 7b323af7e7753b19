package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

func newTestBus() *Bus {
	return New(Config{ErrorBuffer: 8}, zerolog.Nop(), nil)
}

func blockingEvent() domain.Event {
	return domain.NewEvent("s-1", domain.CollectionBoundPayload{CollectionID: "c-1"})
}

func nonBlockingEvent() domain.Event {
	return domain.NewEvent("s-1", domain.CandidatesReadyPayload{Round: 1})
}

func TestPublishSync(t *testing.T) {
	t.Run("runs handlers in subscription order before returning", func(t *testing.T) {
		bus := newTestBus()
		var mu sync.Mutex
		var order []string

		for _, name := range []string{"first", "second", "third"} {
			name := name
			bus.Subscribe(name, func(ctx context.Context, e domain.Event) error {
				mu.Lock()
				defer mu.Unlock()
				order = append(order, name)
				return nil
			})
		}

		bus.Publish(context.Background(), blockingEvent().WithQoS(domain.QoSSync))

		assert.Equal(t, []string{"first", "second", "third"}, order)
	})

	t.Run("failing and panicking handlers do not stop the rest", func(t *testing.T) {
		bus := newTestBus()
		var ran []string

		bus.Subscribe("fails", func(ctx context.Context, e domain.Event) error {
			ran = append(ran, "fails")
			return errors.New("boom")
		})
		bus.Subscribe("panics", func(ctx context.Context, e domain.Event) error {
			ran = append(ran, "panics")
			panic("handler exploded")
		})
		bus.Subscribe("healthy", func(ctx context.Context, e domain.Event) error {
			ran = append(ran, "healthy")
			return nil
		})

		assert.NotPanics(t, func() {
			bus.Publish(context.Background(), blockingEvent().WithQoS(domain.QoSSync))
		})
		assert.Equal(t, []string{"fails", "panics", "healthy"}, ran)
	})
}

func TestPublishAsync(t *testing.T) {
	t.Run("returns before a slow handler finishes", func(t *testing.T) {
		bus := newTestBus()
		release := make(chan struct{})
		done := make(chan struct{})

		bus.Subscribe("slow", func(ctx context.Context, e domain.Event) error {
			<-release
			close(done)
			return nil
		})

		returned := make(chan struct{})
		go func() {
			bus.Publish(context.Background(), blockingEvent().WithQoS(domain.QoSAsync))
			close(returned)
		}()

		select {
		case <-returned:
		case <-time.After(time.Second):
			t.Fatal("async publish blocked on a slow subscriber")
		}

		close(release)
		bus.Wait()
		<-done
	})

	t.Run("unset qos defaults to async", func(t *testing.T) {
		bus := newTestBus()
		release := make(chan struct{})
		bus.Subscribe("slow", func(ctx context.Context, e domain.Event) error {
			<-release
			return nil
		})

		e := blockingEvent()
		e.QoS = ""

		returned := make(chan struct{})
		go func() {
			bus.Publish(context.Background(), e)
			close(returned)
		}()

		select {
		case <-returned:
		case <-time.After(time.Second):
			t.Fatal("default qos should not block")
		}
		close(release)
		bus.Wait()
	})

	t.Run("reports failures on the error channel", func(t *testing.T) {
		bus := newTestBus()
		bus.Subscribe("broken", func(ctx context.Context, e domain.Event) error {
			return errors.New("sink offline")
		})

		e := blockingEvent().WithQoS(domain.QoSAsync)
		bus.Publish(context.Background(), e)
		bus.Wait()

		select {
		case he := <-bus.Errors():
			assert.Equal(t, "broken", he.Subscriber)
			assert.Equal(t, e.ID, he.Event.ID)
			assert.Equal(t, domain.QoSAsync, he.QoS)
			assert.EqualError(t, he.Err, "sink offline")
		case <-time.After(time.Second):
			t.Fatal("expected a handler error")
		}
	})

	t.Run("async handlers are not cancelled with the publisher context", func(t *testing.T) {
		bus := newTestBus()
		var handlerErr error
		bus.Subscribe("ctx", func(ctx context.Context, e domain.Event) error {
			time.Sleep(10 * time.Millisecond)
			handlerErr = ctx.Err()
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		bus.Publish(ctx, blockingEvent().WithQoS(domain.QoSAsync))
		cancel()
		bus.Wait()

		assert.NoError(t, handlerErr)
	})
}

func TestPublishAutoClassification(t *testing.T) {
	t.Run("non-blocking type returns before the subscriber completes", func(t *testing.T) {
		bus := newTestBus()
		release := make(chan struct{})
		bus.Subscribe("slow", func(ctx context.Context, e domain.Event) error {
			<-release
			return nil
		})

		returned := make(chan struct{})
		go func() {
			bus.Publish(context.Background(), nonBlockingEvent())
			close(returned)
		}()

		select {
		case <-returned:
		case <-time.After(time.Second):
			t.Fatal("non-blocking event waited for subscriber")
		}
		close(release)
		bus.Wait()
	})

	t.Run("blocking type waits for the subscriber", func(t *testing.T) {
		bus := newTestBus()
		var finished bool
		bus.Subscribe("slow", func(ctx context.Context, e domain.Event) error {
			time.Sleep(20 * time.Millisecond)
			finished = true
			return nil
		})

		e := blockingEvent()
		require.Equal(t, domain.QoSAuto, e.QoS)
		bus.Publish(context.Background(), e)

		assert.True(t, finished)
	})
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus()
	calls := 0
	unsubscribe := bus.Subscribe("counter", func(ctx context.Context, e domain.Event) error {
		calls++
		return nil
	})
	require.Equal(t, 1, bus.Len())

	bus.Publish(context.Background(), blockingEvent().WithQoS(domain.QoSSync))
	unsubscribe()
	unsubscribe()
	bus.Publish(context.Background(), blockingEvent().WithQoS(domain.QoSSync))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.Len())
}

func TestSupervise(t *testing.T) {
	bus := newTestBus()
	bus.Subscribe("broken", func(ctx context.Context, e domain.Event) error {
		return errors.New("nope")
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		bus.Supervise(ctx)
		close(stopped)
	}()

	bus.Publish(context.Background(), blockingEvent().WithQoS(domain.QoSAsync))
	bus.Wait()

	assert.Eventually(t, func() bool { return len(bus.Errors()) == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop")
	}
}
