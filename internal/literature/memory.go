package literature

import (
	"context"
	"sync"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

// MemoryStore keeps papers and collections in process memory.
type MemoryStore struct {
	opts Options

	mu          sync.RWMutex
	papers      map[string]domain.PaperRecord
	collections map[string][]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts Options) *MemoryStore {
	opts.applyDefaults()
	return &MemoryStore{
		opts:        opts,
		papers:      make(map[string]domain.PaperRecord),
		collections: make(map[string][]string),
	}
}

// BatchImport implements Store. Already-known papers are not resolved again.
func (s *MemoryStore) BatchImport(ctx context.Context, identifiers []string, opts domain.ImportOptions) (domain.ImportResult, error) {
	if err := validateCollectionID(opts.CollectionID); err != nil {
		return domain.ImportResult{}, err
	}
	valid, malformed := normalize(identifiers)

	s.mu.RLock()
	var missing []string
	for _, id := range valid {
		if _, ok := s.papers[id]; !ok {
			missing = append(missing, id)
		}
	}
	s.mu.RUnlock()

	resolved, failed, err := resolveMissing(ctx, s.opts, missing)
	if err != nil {
		return domain.ImportResult{}, err
	}
	result := collect(valid, malformed, failed)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range resolved {
		s.papers[id] = rec
	}
	members := s.collections[opts.CollectionID]
	present := make(map[string]struct{}, len(members))
	for _, id := range members {
		present[id] = struct{}{}
	}
	for _, id := range result.Successful {
		if _, ok := present[id]; !ok {
			members = append(members, id)
		}
	}
	if members == nil {
		members = []string{}
	}
	s.collections[opts.CollectionID] = members

	return result, nil
}

// GetCollection implements Store.
func (s *MemoryStore) GetCollection(_ context.Context, id string) (domain.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members, ok := s.collections[id]
	if !ok {
		return domain.Collection{}, domain.NewNotFoundError("collection", id)
	}
	return domain.Collection{ID: id, PaperIDs: append([]string{}, members...)}, nil
}

// GetPapers implements Store. Unknown identifiers are skipped.
func (s *MemoryStore) GetPapers(_ context.Context, identifiers []string) ([]domain.PaperRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PaperRecord, 0, len(identifiers))
	for _, id := range identifiers {
		if rec, ok := s.papers[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// RemoveFromCollection implements Store. Identifiers that are not members are
// ignored.
func (s *MemoryStore) RemoveFromCollection(_ context.Context, collectionID string, identifiers []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.collections[collectionID]
	if !ok {
		return domain.NewNotFoundError("collection", collectionID)
	}
	drop := make(map[string]struct{}, len(identifiers))
	for _, id := range identifiers {
		drop[id] = struct{}{}
	}
	kept := members[:0:0]
	for _, id := range members {
		if _, gone := drop[id]; !gone {
			kept = append(kept, id)
		}
	}
	s.collections[collectionID] = kept
	return nil
}
