// Package artifact stores immutable, versioned, content-addressed snapshots.
//
// The expansion loop keeps one collection artifact per session. Every round
// that merges candidates produces a new version whose items are a superset of
// the previous version's items. Pruning also produces a new version, marked
// with meta["pruned"]="true".
package artifact

import (
	"context"
	"time"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

// Store persists artifacts.
type Store interface {
	// Put stores a new artifact. An empty ID is filled with the content
	// address. Storing an existing id, or a second artifact for the same
	// kind, key and version, returns an AlreadyExistsError.
	Put(ctx context.Context, a domain.Artifact) error
	// Get returns the artifact with the given id.
	Get(ctx context.Context, id string) (domain.Artifact, error)
	// List returns all artifacts of a kind, oldest first. An empty kind lists
	// every artifact.
	List(ctx context.Context, kind domain.ArtifactKind) ([]domain.Artifact, error)
	// Latest returns the highest version for kind and key, or a NotFoundError.
	Latest(ctx context.Context, kind domain.ArtifactKind, key string) (domain.Artifact, error)
}

// prepare validates an artifact and fills its id and creation time.
func prepare(a *domain.Artifact) error {
	if a.Kind == "" {
		return domain.NewValidationError("kind", "is required")
	}
	if a.Key == "" {
		return domain.NewValidationError("key", "is required")
	}
	if a.Version < 1 {
		return domain.NewValidationError("version", "must be at least 1")
	}
	if len(a.Data) == 0 {
		return domain.NewValidationError("data", "is required")
	}

	addr := domain.ContentAddress(a.Kind, a.Key, a.Version, a.Data)
	if a.ID == "" {
		a.ID = addr
	} else if a.ID != addr {
		return domain.NewValidationError("id", "does not match content address")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return nil
}
