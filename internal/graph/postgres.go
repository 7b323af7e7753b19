package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/session-workflow-engine/internal/database"
	"github.com/helixir/session-workflow-engine/internal/domain"
)

// PgStore keeps graphs in PostgreSQL.
type PgStore struct {
	db database.DBTX
}

var _ Store = (*PgStore)(nil)

func NewPgStore(db database.DBTX) *PgStore {
	return &PgStore{db: db}
}

// CreateGraph implements Store.
func (s *PgStore) CreateGraph(ctx context.Context, spec domain.GraphSpec) (string, error) {
	if err := validateSpec(spec); err != nil {
		return "", err
	}
	id := uuid.New()
	if _, err := s.db.Exec(ctx, `
		INSERT INTO graphs (id, session_id, collection_id, name)
		VALUES ($1, $2, $3, $4)`,
		id, spec.SessionID, spec.CollectionID, spec.Name,
	); err != nil {
		return "", fmt.Errorf("create graph: %w", err)
	}
	return id.String(), nil
}

// AddNode implements Store.
func (s *PgStore) AddNode(ctx context.Context, graphID string, node domain.GraphNode) error {
	if err := validateNode(node); err != nil {
		return err
	}
	gid, err := parseGraphID(graphID)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO graph_nodes (graph_id, node_id, label, year)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (graph_id, node_id) DO UPDATE SET label = EXCLUDED.label, year = EXCLUDED.year`,
		gid, node.ID, node.Label, node.Year,
	)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return domain.NewNotFoundError("graph", graphID)
		}
		return fmt.Errorf("add node: %w", err)
	}
	return nil
}

// AddEdge implements Store. Both endpoints must already be nodes.
func (s *PgStore) AddEdge(ctx context.Context, graphID string, edge domain.GraphEdge) error {
	edge, err := normalizeEdge(edge)
	if err != nil {
		return err
	}
	gid, err := parseGraphID(graphID)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO graph_edges (graph_id, source, target, kind)
		SELECT $1, $2, $3, $4
		WHERE (SELECT COUNT(*) FROM graph_nodes WHERE graph_id = $1 AND node_id IN ($2, $3)) = 2
		ON CONFLICT (graph_id, source, target, kind) DO NOTHING`,
		gid, edge.Source, edge.Target, edge.Kind,
	)
	if err != nil {
		return fmt.Errorf("add edge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainSkippedEdge(ctx, gid, graphID, edge)
	}
	return nil
}

// explainSkippedEdge distinguishes a duplicate edge (fine) from a missing
// graph or node.
func (s *PgStore) explainSkippedEdge(ctx context.Context, gid uuid.UUID, graphID string, edge domain.GraphEdge) error {
	var nodes int
	if err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM graph_nodes WHERE graph_id = $1 AND node_id IN ($2, $3)`,
		gid, edge.Source, edge.Target,
	).Scan(&nodes); err != nil {
		return fmt.Errorf("check edge nodes: %w", err)
	}
	if nodes == 2 {
		return nil
	}
	if _, err := s.header(ctx, gid, graphID); err != nil {
		return err
	}
	return domain.NewValidationError("edge", "source and target must be nodes of the graph")
}

// Get implements Store.
func (s *PgStore) Get(ctx context.Context, graphID string) (domain.Graph, error) {
	gid, err := parseGraphID(graphID)
	if err != nil {
		return domain.Graph{}, err
	}
	g, err := s.header(ctx, gid, graphID)
	if err != nil {
		return domain.Graph{}, err
	}

	nodeRows, err := s.db.Query(ctx, `SELECT node_id, label, year FROM graph_nodes WHERE graph_id = $1 ORDER BY node_id`, gid)
	if err != nil {
		return domain.Graph{}, fmt.Errorf("list nodes: %w", err)
	}
	g.Nodes, err = pgx.CollectRows(nodeRows, func(row pgx.CollectableRow) (domain.GraphNode, error) {
		var n domain.GraphNode
		err := row.Scan(&n.ID, &n.Label, &n.Year)
		return n, err
	})
	if err != nil {
		return domain.Graph{}, fmt.Errorf("scan nodes: %w", err)
	}

	edgeRows, err := s.db.Query(ctx, `SELECT source, target, kind FROM graph_edges WHERE graph_id = $1 ORDER BY source, target`, gid)
	if err != nil {
		return domain.Graph{}, fmt.Errorf("list edges: %w", err)
	}
	g.Edges, err = pgx.CollectRows(edgeRows, func(row pgx.CollectableRow) (domain.GraphEdge, error) {
		var e domain.GraphEdge
		err := row.Scan(&e.Source, &e.Target, &e.Kind)
		return e, err
	})
	if err != nil {
		return domain.Graph{}, fmt.Errorf("scan edges: %w", err)
	}
	return g, nil
}

// List implements Store.
func (s *PgStore) List(ctx context.Context, sessionID string) ([]domain.Graph, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, collection_id, name, created_at
		FROM graphs WHERE session_id = $1
		ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list graphs: %w", err)
	}
	graphs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Graph, error) { return scanGraph(row) })
	if err != nil {
		return nil, fmt.Errorf("scan graphs: %w", err)
	}
	return graphs, nil
}

func (s *PgStore) header(ctx context.Context, gid uuid.UUID, graphID string) (domain.Graph, error) {
	row := s.db.QueryRow(ctx, `SELECT id, session_id, collection_id, name, created_at FROM graphs WHERE id = $1`, gid)
	g, err := scanGraph(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Graph{}, domain.NewNotFoundError("graph", graphID)
	}
	if err != nil {
		return domain.Graph{}, fmt.Errorf("get graph: %w", err)
	}
	return g, nil
}

func scanGraph(row pgx.Row) (domain.Graph, error) {
	var (
		g       domain.Graph
		id      uuid.UUID
		created time.Time
	)
	if err := row.Scan(&id, &g.SessionID, &g.CollectionID, &g.Name, &created); err != nil {
		return domain.Graph{}, err
	}
	g.ID = id.String()
	g.CreatedAt = created.UTC()
	return g, nil
}

func parseGraphID(graphID string) (uuid.UUID, error) {
	id, err := uuid.Parse(graphID)
	if err != nil {
		return uuid.Nil, domain.NewNotFoundError("graph", graphID)
	}
	return id, nil
}
