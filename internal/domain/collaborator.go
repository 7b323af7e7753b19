package domain

import "time"

// GeneratedQuery is a search query planned for an expansion round.
type GeneratedQuery struct {
	Query     string `json:"query"`
	Reasoning string `json:"reasoning,omitempty"`
}

// ImportOptions controls a literature batch import.
type ImportOptions struct {
	// CollectionID is the collection the imported papers are added to.
	CollectionID string
	// Source tags where the identifiers came from.
	Source string
}

// ImportResult lists which identifiers were imported and which failed.
type ImportResult struct {
	Successful []string
	Failed     []string
}

// Collection is a named set of papers in the literature store.
type Collection struct {
	ID       string
	PaperIDs []string
}

// PaperRecord is the stored metadata of a paper, keyed by its identifier.
type PaperRecord struct {
	ID            string
	Identifier    string
	Title         string
	Abstract      string
	Year          int
	CitationCount int
	Venue         string
	URL           string
	Source        string
}

// GraphSpec describes a graph to create.
type GraphSpec struct {
	SessionID    string
	CollectionID string
	Name         string
}

// GraphNode is a paper in a citation graph.
type GraphNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Year  int    `json:"year,omitempty"`
}

// EdgeCites marks an edge from a citing paper to a cited one.
const EdgeCites = "cites"

// GraphEdge is a directed relation between two nodes.
type GraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Kind   string `json:"kind"`
}

// Graph is a stored citation graph.
type Graph struct {
	ID           string      `json:"id"`
	SessionID    string      `json:"session_id"`
	CollectionID string      `json:"collection_id"`
	Name         string      `json:"name"`
	CreatedAt    time.Time   `json:"created_at"`
	Nodes        []GraphNode `json:"nodes,omitempty"`
	Edges        []GraphEdge `json:"edges,omitempty"`
}
