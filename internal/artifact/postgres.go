package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/helixir/session-workflow-engine/internal/database"
	"github.com/helixir/session-workflow-engine/internal/domain"
)

// PgStore stores artifacts in PostgreSQL. Data is kept as JSONB, so the bytes
// read back are the normalized form of what was written.
type PgStore struct {
	db database.DBTX
}

var _ Store = (*PgStore)(nil)

// NewPgStore creates a store backed by db.
func NewPgStore(db database.DBTX) *PgStore {
	return &PgStore{db: db}
}

const pgColumns = `SELECT id, kind, key, version, data, meta, created_at FROM artifacts`

// Put implements Store.
func (s *PgStore) Put(ctx context.Context, a domain.Artifact) error {
	if err := prepare(&a); err != nil {
		return err
	}
	meta, err := encodeMeta(a.Meta)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO artifacts (id, kind, key, version, data, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, string(a.Kind), a.Key, a.Version, []byte(a.Data), meta, a.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.NewAlreadyExistsError("artifact", a.ID)
		}
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PgStore) Get(ctx context.Context, id string) (domain.Artifact, error) {
	a, err := scanPg(s.db.QueryRow(ctx, pgColumns+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Artifact{}, domain.NewNotFoundError("artifact", id)
	}
	return a, err
}

// List implements Store.
func (s *PgStore) List(ctx context.Context, kind domain.ArtifactKind) ([]domain.Artifact, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if kind == "" {
		rows, err = s.db.Query(ctx, pgColumns+` ORDER BY created_at, key, version`)
	} else {
		rows, err = s.db.Query(ctx, pgColumns+` WHERE kind = $1 ORDER BY created_at, key, version`, string(kind))
	}
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []domain.Artifact
	for rows.Next() {
		a, err := scanPg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return out, nil
}

// Latest implements Store.
func (s *PgStore) Latest(ctx context.Context, kind domain.ArtifactKind, key string) (domain.Artifact, error) {
	a, err := scanPg(s.db.QueryRow(ctx,
		pgColumns+` WHERE kind = $1 AND key = $2 ORDER BY version DESC LIMIT 1`,
		string(kind), key))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Artifact{}, domain.NewNotFoundError(string(kind), key)
	}
	return a, err
}

func scanPg(row pgx.Row) (domain.Artifact, error) {
	var (
		a          domain.Artifact
		kind       string
		data, meta []byte
	)
	if err := row.Scan(&a.ID, &kind, &a.Key, &a.Version, &data, &meta, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("scan artifact: %w", err)
	}
	a.Kind = domain.ArtifactKind(kind)
	a.Data = json.RawMessage(data)
	a.CreatedAt = a.CreatedAt.UTC()

	var err error
	if a.Meta, err = decodeMeta(meta); err != nil {
		return a, err
	}
	return a, nil
}
