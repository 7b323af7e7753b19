package artifact

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

// MetaPruned marks a collection version produced by pruning.
const MetaPruned = "pruned"

// MergeResult is the outcome of folding a batch into a collection.
type MergeResult struct {
	Artifact domain.Artifact
	// Added holds the net-new ids in batch order.
	Added []string
}

// Total returns the number of items in the merged collection.
func (r MergeResult) Total() int {
	var data domain.CollectionData
	_ = json.Unmarshal(r.Artifact.Data, &data)
	return len(data.Items)
}

// DecodeCollection returns the items of a collection artifact.
func DecodeCollection(a domain.Artifact) (domain.CollectionData, error) {
	if a.Kind != domain.ArtifactKindCollection {
		return domain.CollectionData{}, domain.NewValidationError("kind", "expected collection, got "+string(a.Kind))
	}
	var data domain.CollectionData
	if err := json.Unmarshal(a.Data, &data); err != nil {
		return domain.CollectionData{}, fmt.Errorf("decode collection %s: %w", a.ID, err)
	}
	return data, nil
}

// MergeCollection folds batch into prev. Items already present, empty ids and
// duplicates inside batch are skipped, so the result always contains prev's
// items in their original order followed by the new ones. A nil prev starts a
// new collection for key at version 1.
func MergeCollection(key string, prev *domain.Artifact, batch []string) (MergeResult, error) {
	var (
		items   []string
		version = 1
	)
	if prev != nil {
		data, err := DecodeCollection(*prev)
		if err != nil {
			return MergeResult{}, err
		}
		items = data.Items
		version = prev.Version + 1
		key = prev.Key
	}

	seen := make(map[string]struct{}, len(items)+len(batch))
	for _, id := range items {
		seen[id] = struct{}{}
	}

	merged := make([]string, len(items), len(items)+len(batch))
	copy(merged, items)
	var added []string
	for _, id := range batch {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
		added = append(added, id)
	}

	a, err := newCollection(key, version, merged, map[string]string{
		"added": strconv.Itoa(len(added)),
	})
	if err != nil {
		return MergeResult{}, err
	}
	return MergeResult{Artifact: a, Added: added}, nil
}

// ReplaceCollection creates the successor of prev holding exactly items. It
// is used by pruning, where the next version is a subset.
func ReplaceCollection(prev domain.Artifact, items []string, meta map[string]string) (domain.Artifact, error) {
	if prev.Kind != domain.ArtifactKindCollection {
		return domain.Artifact{}, domain.NewValidationError("kind", "expected collection, got "+string(prev.Kind))
	}
	return newCollection(prev.Key, prev.Version+1, items, meta)
}

func newCollection(key string, version int, items []string, meta map[string]string) (domain.Artifact, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(domain.CollectionData{Items: items})
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("encode collection: %w", err)
	}
	return domain.Artifact{
		ID:        domain.ContentAddress(domain.ArtifactKindCollection, key, version, data),
		Kind:      domain.ArtifactKindCollection,
		Key:       key,
		Version:   version,
		Data:      data,
		CreatedAt: time.Now().UTC(),
		Meta:      meta,
	}, nil
}
