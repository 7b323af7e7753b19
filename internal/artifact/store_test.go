package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/session-workflow-engine/internal/domain"
	"github.com/helixir/session-workflow-engine/internal/sqlitedb"
)

func stores() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			db, err := sqlitedb.Open(filepath.Join(t.TempDir(), "artifacts.db"), zerolog.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { db.Close() })
			return NewSQLiteStore(db)
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			t.Run("put then get round trips", func(t *testing.T) {
				store := newStore(t)
				ctx := context.Background()

				res, err := MergeCollection("s-1", nil, []string{"a", "b"})
				require.NoError(t, err)
				require.NoError(t, store.Put(ctx, res.Artifact))

				got, err := store.Get(ctx, res.Artifact.ID)
				require.NoError(t, err)
				assert.Equal(t, res.Artifact.ID, got.ID)
				assert.Equal(t, 1, got.Version)
				assert.Equal(t, []string{"a", "b"}, items(t, got))
				assert.Equal(t, "2", got.Meta["added"])
			})

			t.Run("fills the content address when id is empty", func(t *testing.T) {
				store := newStore(t)
				ctx := context.Background()

				data := json.RawMessage(`{"items":["x"]}`)
				require.NoError(t, store.Put(ctx, domain.Artifact{
					Kind: domain.ArtifactKindCollection, Key: "s-2", Version: 1, Data: data,
				}))

				got, err := store.Get(ctx, domain.ContentAddress(domain.ArtifactKindCollection, "s-2", 1, data))
				require.NoError(t, err)
				assert.Equal(t, "s-2", got.Key)
				assert.Nil(t, got.Meta)
			})

			t.Run("rejects a duplicate id and a duplicate version", func(t *testing.T) {
				store := newStore(t)
				ctx := context.Background()

				res, err := MergeCollection("s-1", nil, []string{"a"})
				require.NoError(t, err)
				require.NoError(t, store.Put(ctx, res.Artifact))
				assert.True(t, errors.Is(store.Put(ctx, res.Artifact), domain.ErrAlreadyExists))

				other, err := MergeCollection("s-1", nil, []string{"z"})
				require.NoError(t, err)
				assert.True(t, errors.Is(store.Put(ctx, other.Artifact), domain.ErrAlreadyExists))
			})

			t.Run("rejects a mismatched id", func(t *testing.T) {
				res, err := MergeCollection("s-1", nil, []string{"a"})
				require.NoError(t, err)
				res.Artifact.ID = "forged"

				err = newStore(t).Put(context.Background(), res.Artifact)
				assert.True(t, errors.Is(err, domain.ErrInvalidInput))
			})

			t.Run("latest follows the version chain", func(t *testing.T) {
				store := newStore(t)
				ctx := context.Background()

				_, err := store.Latest(ctx, domain.ArtifactKindCollection, "s-1")
				assert.True(t, errors.Is(err, domain.ErrNotFound))

				v1, err := MergeCollection("s-1", nil, []string{"a"})
				require.NoError(t, err)
				require.NoError(t, store.Put(ctx, v1.Artifact))
				v2, err := MergeCollection("s-1", &v1.Artifact, []string{"b"})
				require.NoError(t, err)
				require.NoError(t, store.Put(ctx, v2.Artifact))
				unrelated, err := MergeCollection("s-9", nil, []string{"q", "r", "s"})
				require.NoError(t, err)
				require.NoError(t, store.Put(ctx, unrelated.Artifact))

				latest, err := store.Latest(ctx, domain.ArtifactKindCollection, "s-1")
				require.NoError(t, err)
				assert.Equal(t, v2.Artifact.ID, latest.ID)
				assert.Equal(t, []string{"a", "b"}, items(t, latest))
			})

			t.Run("list filters by kind", func(t *testing.T) {
				store := newStore(t)
				ctx := context.Background()

				col, err := MergeCollection("s-1", nil, []string{"a"})
				require.NoError(t, err)
				require.NoError(t, store.Put(ctx, col.Artifact))
				require.NoError(t, store.Put(ctx, domain.Artifact{
					Kind: "note", Key: "s-1", Version: 1, Data: json.RawMessage(`{"text":"hi"}`),
				}))

				collections, err := store.List(ctx, domain.ArtifactKindCollection)
				require.NoError(t, err)
				require.Len(t, collections, 1)
				assert.Equal(t, col.Artifact.ID, collections[0].ID)

				all, err := store.List(ctx, "")
				require.NoError(t, err)
				assert.Len(t, all, 2)
			})

			t.Run("get of an unknown id is not found", func(t *testing.T) {
				_, err := newStore(t).Get(context.Background(), "nope")
				assert.True(t, errors.Is(err, domain.ErrNotFound))
			})
		})
	}
}
