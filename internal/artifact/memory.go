package artifact

import (
	"context"
	"sync"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

// MemoryStore keeps artifacts in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]domain.Artifact
	order    []string
	versions map[versionKey]struct{}
}

type versionKey struct {
	kind    domain.ArtifactKind
	key     string
	version int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]domain.Artifact),
		versions: make(map[versionKey]struct{}),
	}
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, a domain.Artifact) error {
	if err := prepare(&a); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[a.ID]; ok {
		return domain.NewAlreadyExistsError("artifact", a.ID)
	}
	vk := versionKey{kind: a.Kind, key: a.Key, version: a.Version}
	if _, ok := s.versions[vk]; ok {
		return domain.NewAlreadyExistsError("artifact version", a.Key)
	}

	a.Data = append([]byte(nil), a.Data...)
	s.byID[a.ID] = a
	s.versions[vk] = struct{}{}
	s.order = append(s.order, a.ID)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (domain.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		return domain.Artifact{}, domain.NewNotFoundError("artifact", id)
	}
	return a, nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, kind domain.ArtifactKind) ([]domain.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Artifact, 0, len(s.order))
	for _, id := range s.order {
		if a := s.byID[id]; kind == "" || a.Kind == kind {
			out = append(out, a)
		}
	}
	return out, nil
}

// Latest implements Store.
func (s *MemoryStore) Latest(ctx context.Context, kind domain.ArtifactKind, key string) (domain.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		latest domain.Artifact
		found  bool
	)
	for _, a := range s.byID {
		if a.Kind == kind && a.Key == key && (!found || a.Version > latest.Version) {
			latest, found = a, true
		}
	}
	if !found {
		return domain.Artifact{}, domain.NewNotFoundError(string(kind), key)
	}
	return latest, nil
}
