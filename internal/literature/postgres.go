package literature

import (
	"context"
	"fmt"

	"github.com/helixir/session-workflow-engine/internal/database"
	"github.com/helixir/session-workflow-engine/internal/domain"
)

// PgStore keeps papers and collections in PostgreSQL.
type PgStore struct {
	db   database.DBTX
	opts Options
}

var _ Store = (*PgStore)(nil)

// NewPgStore creates a store backed by db.
func NewPgStore(db database.DBTX, opts Options) *PgStore {
	opts.applyDefaults()
	return &PgStore{db: db, opts: opts}
}

const upsertPaperSQL = `
	INSERT INTO papers (id, identifier, title, abstract, publication_year, venue, citation_count, url, source)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO UPDATE SET
		identifier = EXCLUDED.identifier,
		title = COALESCE(NULLIF(EXCLUDED.title, ''), papers.title),
		abstract = COALESCE(NULLIF(EXCLUDED.abstract, ''), papers.abstract),
		publication_year = GREATEST(EXCLUDED.publication_year, papers.publication_year),
		venue = COALESCE(NULLIF(EXCLUDED.venue, ''), papers.venue),
		citation_count = GREATEST(EXCLUDED.citation_count, papers.citation_count),
		url = COALESCE(NULLIF(EXCLUDED.url, ''), papers.url),
		source = COALESCE(NULLIF(EXCLUDED.source, ''), papers.source),
		updated_at = NOW()`

// BatchImport implements Store. Resolution happens outside the transaction;
// the paper upserts and membership insert are committed together.
func (s *PgStore) BatchImport(ctx context.Context, identifiers []string, opts domain.ImportOptions) (domain.ImportResult, error) {
	if err := validateCollectionID(opts.CollectionID); err != nil {
		return domain.ImportResult{}, err
	}
	valid, malformed := normalize(identifiers)

	known, err := s.knownIDs(ctx, valid)
	if err != nil {
		return domain.ImportResult{}, err
	}
	var missing []string
	for _, id := range valid {
		if _, ok := known[id]; !ok {
			missing = append(missing, id)
		}
	}

	resolved, failed, err := resolveMissing(ctx, s.opts, missing)
	if err != nil {
		return domain.ImportResult{}, err
	}
	result := collect(valid, malformed, failed)

	write := func(db database.DBTX) error {
		for _, id := range missing {
			rec, ok := resolved[id]
			if !ok {
				continue
			}
			if _, err := db.Exec(ctx, upsertPaperSQL,
				rec.ID, rec.Identifier, rec.Title, rec.Abstract, rec.Year, rec.Venue, rec.CitationCount, rec.URL, rec.Source,
			); err != nil {
				return fmt.Errorf("upsert paper %s: %w", rec.ID, err)
			}
		}
		if _, err := db.Exec(ctx, `INSERT INTO collections (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, opts.CollectionID); err != nil {
			return fmt.Errorf("ensure collection: %w", err)
		}
		if len(result.Successful) > 0 {
			if _, err := db.Exec(ctx, `
				INSERT INTO collection_papers (collection_id, paper_id)
				SELECT $1, unnest($2::text[])
				ON CONFLICT (collection_id, paper_id) DO NOTHING`,
				opts.CollectionID, result.Successful,
			); err != nil {
				return fmt.Errorf("add collection papers: %w", err)
			}
		}
		return nil
	}

	if err := s.inTx(ctx, write); err != nil {
		return domain.ImportResult{}, err
	}
	return result, nil
}

// GetCollection implements Store. Members are ordered by insertion.
func (s *PgStore) GetCollection(ctx context.Context, id string) (domain.Collection, error) {
	if err := s.mustExist(ctx, id); err != nil {
		return domain.Collection{}, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT paper_id FROM collection_papers
		WHERE collection_id = $1
		ORDER BY added_at, paper_id`, id)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("list collection papers: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var pid string
		if err := rows.Scan(&pid); err != nil {
			return domain.Collection{}, fmt.Errorf("scan collection paper: %w", err)
		}
		ids = append(ids, pid)
	}
	if err := rows.Err(); err != nil {
		return domain.Collection{}, fmt.Errorf("iterate collection papers: %w", err)
	}
	return domain.Collection{ID: id, PaperIDs: ids}, nil
}

// GetPapers implements Store. Results follow the request order; unknown
// identifiers are skipped.
func (s *PgStore) GetPapers(ctx context.Context, identifiers []string) ([]domain.PaperRecord, error) {
	if len(identifiers) == 0 {
		return []domain.PaperRecord{}, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, identifier, title, abstract, publication_year, citation_count, venue, url, source
		FROM papers WHERE id = ANY($1)`, identifiers)
	if err != nil {
		return nil, fmt.Errorf("get papers: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]domain.PaperRecord, len(identifiers))
	for rows.Next() {
		var r domain.PaperRecord
		if err := rows.Scan(&r.ID, &r.Identifier, &r.Title, &r.Abstract, &r.Year, &r.CitationCount, &r.Venue, &r.URL, &r.Source); err != nil {
			return nil, fmt.Errorf("scan paper: %w", err)
		}
		byID[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate papers: %w", err)
	}

	out := make([]domain.PaperRecord, 0, len(byID))
	for _, id := range identifiers {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// RemoveFromCollection implements Store.
func (s *PgStore) RemoveFromCollection(ctx context.Context, collectionID string, identifiers []string) error {
	if err := s.mustExist(ctx, collectionID); err != nil {
		return err
	}
	if len(identifiers) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, `
		DELETE FROM collection_papers
		WHERE collection_id = $1 AND paper_id = ANY($2)`, collectionID, identifiers); err != nil {
		return fmt.Errorf("remove collection papers: %w", err)
	}
	return nil
}

func (s *PgStore) mustExist(ctx context.Context, collectionID string) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM collections WHERE id = $1)`, collectionID).Scan(&exists); err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if !exists {
		return domain.NewNotFoundError("collection", collectionID)
	}
	return nil
}

func (s *PgStore) knownIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	known := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return known, nil
	}
	rows, err := s.db.Query(ctx, `SELECT id FROM papers WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup papers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan paper id: %w", err)
		}
		known[id] = struct{}{}
	}
	return known, rows.Err()
}

func (s *PgStore) inTx(ctx context.Context, fn func(database.DBTX) error) error {
	beginner, ok := s.db.(database.TxBeginner)
	if !ok {
		return fn(s.db)
	}
	tx, err := beginner.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}
