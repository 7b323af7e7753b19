package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

type memGraph struct {
	graph  domain.Graph
	nodes  map[string]int
	edges  map[domain.GraphEdge]struct{}
	serial int
}

// MemoryStore keeps graphs in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	graphs map[string]*memGraph
	serial int
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{graphs: make(map[string]*memGraph), now: time.Now}
}

// CreateGraph implements Store.
func (s *MemoryStore) CreateGraph(_ context.Context, spec domain.GraphSpec) (string, error) {
	if err := validateSpec(spec); err != nil {
		return "", err
	}
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.serial++
	s.graphs[id] = &memGraph{
		graph: domain.Graph{
			ID:           id,
			SessionID:    spec.SessionID,
			CollectionID: spec.CollectionID,
			Name:         spec.Name,
			CreatedAt:    s.now().UTC(),
		},
		nodes:  make(map[string]int),
		edges:  make(map[domain.GraphEdge]struct{}),
		serial: s.serial,
	}
	return id, nil
}

// AddNode implements Store. Adding an existing node updates its label and year.
func (s *MemoryStore) AddNode(_ context.Context, graphID string, node domain.GraphNode) error {
	if err := validateNode(node); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.graphs[graphID]
	if !ok {
		return domain.NewNotFoundError("graph", graphID)
	}
	if i, exists := g.nodes[node.ID]; exists {
		g.graph.Nodes[i] = node
		return nil
	}
	g.nodes[node.ID] = len(g.graph.Nodes)
	g.graph.Nodes = append(g.graph.Nodes, node)
	return nil
}

// AddEdge implements Store. Both endpoints must already be nodes; duplicate
// edges are ignored.
func (s *MemoryStore) AddEdge(_ context.Context, graphID string, edge domain.GraphEdge) error {
	edge, err := normalizeEdge(edge)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.graphs[graphID]
	if !ok {
		return domain.NewNotFoundError("graph", graphID)
	}
	for _, end := range []string{edge.Source, edge.Target} {
		if _, ok := g.nodes[end]; !ok {
			return domain.NewValidationError("edge", fmt.Sprintf("unknown node %q", end))
		}
	}
	if _, dup := g.edges[edge]; dup {
		return nil
	}
	g.edges[edge] = struct{}{}
	g.graph.Edges = append(g.graph.Edges, edge)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, graphID string) (domain.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graphs[graphID]
	if !ok {
		return domain.Graph{}, domain.NewNotFoundError("graph", graphID)
	}
	out := g.graph
	out.Nodes = append([]domain.GraphNode{}, g.graph.Nodes...)
	out.Edges = append([]domain.GraphEdge{}, g.graph.Edges...)
	return out, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, sessionID string) ([]domain.Graph, error) {
	s.mu.RLock()
	var found []*memGraph
	for _, g := range s.graphs {
		if g.graph.SessionID == sessionID {
			found = append(found, g)
		}
	}
	s.mu.RUnlock()

	sort.Slice(found, func(i, j int) bool { return found[i].serial < found[j].serial })
	out := make([]domain.Graph, 0, len(found))
	for _, g := range found {
		summary := g.graph
		summary.Nodes, summary.Edges = nil, nil
		out = append(out, summary)
	}
	return out, nil
}
