package artifact

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/helixir/session-workflow-engine/internal/domain"
	"github.com/helixir/session-workflow-engine/internal/sqlitedb"
)

// SQLiteStore stores artifacts in an embedded database opened by sqlitedb.Open.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a store backed by db.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const sqliteColumns = `SELECT id, kind, key, version, data, meta, created_at FROM artifacts`

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, a domain.Artifact) error {
	if err := prepare(&a); err != nil {
		return err
	}
	meta, err := encodeMeta(a.Meta)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, kind, key, version, data, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Kind), a.Key, a.Version, string(a.Data), string(meta),
		a.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if sqlitedb.IsConstraintViolation(err) {
			return domain.NewAlreadyExistsError("artifact", a.ID)
		}
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (domain.Artifact, error) {
	a, err := scanSQLite(s.db.QueryRowContext(ctx, sqliteColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Artifact{}, domain.NewNotFoundError("artifact", id)
	}
	return a, err
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, kind domain.ArtifactKind) ([]domain.Artifact, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if kind == "" {
		rows, err = s.db.QueryContext(ctx, sqliteColumns+` ORDER BY rowid`)
	} else {
		rows, err = s.db.QueryContext(ctx, sqliteColumns+` WHERE kind = ? ORDER BY rowid`, string(kind))
	}
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []domain.Artifact
	for rows.Next() {
		a, err := scanSQLite(rows)
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
func (s *SQLiteStore) Latest(ctx context.Context, kind domain.ArtifactKind, key string) (domain.Artifact, error) {
	a, err := scanSQLite(s.db.QueryRowContext(ctx,
		sqliteColumns+` WHERE kind = ? AND key = ? ORDER BY version DESC LIMIT 1`,
		string(kind), key))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Artifact{}, domain.NewNotFoundError(string(kind), key)
	}
	return a, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (domain.Artifact, error) {
	var (
		a                    domain.Artifact
		kind, data, meta, ts string
	)
	if err := row.Scan(&a.ID, &kind, &a.Key, &a.Version, &data, &meta, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("scan artifact: %w", err)
	}
	created, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return a, fmt.Errorf("parse artifact time %q: %w", ts, err)
	}
	a.Kind = domain.ArtifactKind(kind)
	a.Data = json.RawMessage(data)
	a.CreatedAt = created
	if a.Meta, err = decodeMeta([]byte(meta)); err != nil {
		return a, err
	}
	return a, nil
}

func encodeMeta(meta map[string]string) ([]byte, error) {
	if len(meta) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode artifact meta: %w", err)
	}
	return b, nil
}

func decodeMeta(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var meta map[string]string
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode artifact meta: %w", err)
	}
	if len(meta) == 0 {
		return nil, nil
	}
	return meta, nil
}
