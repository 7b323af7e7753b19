// Package commandbus dispatches commands to every registered handler.
package commandbus

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"

	"github.com/helixir/session-workflow-engine/internal/domain"
	"github.com/helixir/session-workflow-engine/internal/observability"
)

// Handler reacts to a command. Handlers must ignore command types they do
// not own.
type Handler interface {
	Name() string
	Handle(ctx context.Context, cmd domain.Command) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	HandlerName string
	Fn          func(ctx context.Context, cmd domain.Command) error
}

// Name implements Handler.
func (h HandlerFunc) Name() string { return h.HandlerName }

// Handle implements Handler.
func (h HandlerFunc) Handle(ctx context.Context, cmd domain.Command) error { return h.Fn(ctx, cmd) }

// Dispatcher is the narrow view of the bus that handlers use to chain
// follow-up commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd domain.Command) error
}

type registration struct {
	id      uint64
	handler Handler
}

// Bus is an in-memory multi-handler command dispatcher.
type Bus struct {
	mu       sync.Mutex
	handlers []registration
	nextID   uint64

	logger  zerolog.Logger
	metrics *observability.Metrics
}

var _ Dispatcher = (*Bus)(nil)

// New creates a Bus.
func New(logger zerolog.Logger, metrics *observability.Metrics) *Bus {
	return &Bus{
		logger:  logger.With().Str("component", "command_bus").Logger(),
		metrics: metrics,
	}
}

// Register adds a handler and returns a function that removes it.
func (b *Bus) Register(h Handler) (unregister func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	next := make([]registration, len(b.handlers), len(b.handlers)+1)
	copy(next, b.handlers)
	b.handlers = append(next, registration{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			kept := make([]registration, 0, len(b.handlers))
			for _, r := range b.handlers {
				if r.id != id {
					kept = append(kept, r)
				}
			}
			b.handlers = kept
		})
	}
}

// Dispatch validates the command and invokes every registered handler.
// Handler failures are logged and counted; only an invalid command is
// returned to the caller.
func (b *Bus) Dispatch(ctx context.Context, cmd domain.Command) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("dispatch %s: %w", cmd.Type, err)
	}

	b.mu.Lock()
	handlers := b.handlers
	b.mu.Unlock()

	b.metrics.RecordCommandDispatched(string(cmd.Type))
	logger := observability.WithCommandContext(b.logger, cmd.ID.String(), string(cmd.Type))
	logger.Debug().
		Str("session_id", cmd.SessionID).
		Int("handlers", len(handlers)).
		Msg("dispatching command")

	for _, r := range handlers {
		if err := invoke(ctx, r.handler, cmd); err != nil {
			b.metrics.RecordCommandHandlerFailure(string(cmd.Type))
			logger.Error().
				Err(err).
				Str("handler", r.handler.Name()).
				Str("session_id", cmd.SessionID).
				Msg("command handler failed")
		}
	}
	return nil
}

func invoke(ctx context.Context, h Handler, cmd domain.Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return h.Handle(ctx, cmd)
}

// Len returns the number of registered handlers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}
