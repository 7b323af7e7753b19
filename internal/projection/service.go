package projection

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/helixir/session-workflow-engine/internal/domain"
	"github.com/helixir/session-workflow-engine/internal/eventlog"
)

// watchBuffer is the per-watcher channel capacity. A watcher that falls
// further behind than this misses intermediate snapshots; the next update it
// receives is still complete.
const watchBuffer = 16

// Service keeps a live projection per session. It is fed by the event bus
// through Handle and falls back to the event log for sessions it has not
// seen or whose stream arrived with a gap.
type Service struct {
	log    eventlog.Log
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]Session
	watchers map[string]map[uint64]chan Session
	nextID   uint64
}

// NewService creates a projection service reading from log.
func NewService(log eventlog.Log, logger zerolog.Logger) *Service {
	return &Service{
		log:      log,
		logger:   logger.With().Str("component", "projection").Logger(),
		sessions: make(map[string]Session),
		watchers: make(map[string]map[uint64]chan Session),
	}
}

// Handle folds a published event into the cached projection. Events are
// applied in sequence order: duplicates and late arrivals already covered by
// a rebuild are ignored, and a gap triggers a rebuild from the log.
func (s *Service) Handle(ctx context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, cached := s.sessions[event.SessionID]
	switch {
	case cached && event.Seq != 0 && event.Seq <= current.LastSeq:
		return nil
	case cached && event.Seq == current.LastSeq+1:
		current = Apply(current, event)
	default:
		rebuilt, err := s.rebuildLocked(ctx, event.SessionID)
		if err != nil {
			return err
		}
		current = rebuilt
	}

	s.sessions[event.SessionID] = current
	s.notifyLocked(current)
	return nil
}

// Session returns the projection for id, rebuilding it from the log when it
// is not cached. A session without events is a NotFoundError.
func (s *Service) Session(ctx context.Context, id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	sess, err := s.rebuildLocked(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if sess.EventCount == 0 {
		return Session{}, domain.NewNotFoundError("session", id)
	}
	s.sessions[id] = sess
	return sess, nil
}

// Sessions returns the projection of every session in the log, in order of
// first appearance.
func (s *Service) Sessions(ctx context.Context) ([]Session, error) {
	ids, err := s.log.Sessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Session(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// Rebuild discards the cached projection for id and replays its log.
func (s *Service) Rebuild(ctx context.Context, id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.rebuildLocked(ctx, id)
	if err != nil {
		return Session{}, err
	}
	s.sessions[id] = sess
	return sess, nil
}

// Watch returns a channel receiving every new projection of the session and a
// function that stops the watch and closes the channel.
func (s *Service) Watch(id string) (<-chan Session, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	wid := s.nextID
	ch := make(chan Session, watchBuffer)
	if s.watchers[id] == nil {
		s.watchers[id] = make(map[uint64]chan Session)
	}
	s.watchers[id][wid] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.watchers[id], wid)
			if len(s.watchers[id]) == 0 {
				delete(s.watchers, id)
			}
			close(ch)
		})
	}
}

func (s *Service) rebuildLocked(ctx context.Context, id string) (Session, error) {
	events, err := s.log.List(ctx, id)
	if err != nil {
		return Session{}, fmt.Errorf("replay session %s: %w", id, err)
	}
	sess := Replay(events)
	sess.SessionID = id
	s.logger.Debug().
		Str("session_id", id).
		Int("events", len(events)).
		Msg("projection rebuilt from log")
	return sess, nil
}

func (s *Service) notifyLocked(sess Session) {
	for _, ch := range s.watchers[sess.SessionID] {
		select {
		case ch <- sess:
		default:
			s.logger.Debug().Str("session_id", sess.SessionID).Msg("watcher behind, snapshot dropped")
		}
	}
}
