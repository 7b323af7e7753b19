package eventlog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

// MemoryLog keeps events in process memory.
type MemoryLog struct {
	mu       sync.RWMutex
	events   []domain.Event
	seqs     map[string]int64
	ids      map[uuid.UUID]struct{}
	sessions []string
}

var _ Log = (*MemoryLog)(nil)

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		seqs: make(map[string]int64),
		ids:  make(map[uuid.UUID]struct{}),
	}
}

// Append implements Log.
func (l *MemoryLog) Append(ctx context.Context, event *domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := prepare(event); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.ids[event.ID]; dup {
		return domain.NewAlreadyExistsError("event", event.ID.String())
	}
	if _, seen := l.seqs[event.SessionID]; !seen {
		l.sessions = append(l.sessions, event.SessionID)
	}
	l.seqs[event.SessionID]++
	event.Seq = l.seqs[event.SessionID]
	l.ids[event.ID] = struct{}{}
	l.events = append(l.events, *event)
	return nil
}

// List implements Log.
func (l *MemoryLog) List(ctx context.Context, sessionID string) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Event, 0, len(l.events))
	for _, e := range l.events {
		if sessionID == "" || e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Sessions implements Log.
func (l *MemoryLog) Sessions(ctx context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.sessions...), nil
}
