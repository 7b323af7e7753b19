package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/helixir/session-workflow-engine/internal/artifact"
	"github.com/helixir/session-workflow-engine/internal/domain"
	"github.com/helixir/session-workflow-engine/internal/observability"
)

func (o *Orchestrator) buildGraph(ctx context.Context, sessionID string, p domain.BuildGraphParams) error {
	if !o.spawnJob(ctx, sessionID, JobGraph, func(jobCtx context.Context) {
		o.runGraphBuild(jobCtx, sessionID, p)
	}) {
		o.logger.Debug().Str("session_id", sessionID).Msg("graph build already running, command ignored")
	}
	return nil
}

// runGraphBuild creates a graph whose nodes are the collection's papers and
// whose edges are citations between them.
func (o *Orchestrator) runGraphBuild(ctx context.Context, sessionID string, p domain.BuildGraphParams) {
	logger := observability.WithSessionContext(o.logger, sessionID)
	fail := func(err error) {
		if ctx.Err() != nil {
			return
		}
		o.stageFailed(ctx, sessionID, domain.StageGraph, 0, err)
	}

	collectionID := o.collectionFor(ctx, sessionID, p.CollectionID)
	members, err := o.graphMembers(ctx, sessionID, collectionID)
	if err != nil {
		fail(err)
		return
	}

	if err := o.emit(ctx, sessionID, domain.GraphBuildStartedPayload{
		CollectionID: collectionID,
		Papers:       len(members),
	}); err != nil {
		return
	}

	var papers []domain.PaperRecord
	if len(members) > 0 {
		err = o.call(ctx, "literature_papers", func(cctx context.Context) error {
			var err error
			papers, err = o.deps.Literature.GetPapers(cctx, members)
			return err
		})
		if err != nil {
			fail(fmt.Errorf("load paper metadata: %w", err))
			return
		}
	}
	byID := make(map[string]domain.PaperRecord, len(papers))
	for _, paper := range papers {
		byID[paper.Identifier] = paper
	}

	var graphID string
	err = o.call(ctx, "graph_create", func(cctx context.Context) error {
		var err error
		graphID, err = o.deps.Graphs.CreateGraph(cctx, domain.GraphSpec{
			SessionID:    sessionID,
			CollectionID: collectionID,
			Name:         "citations:" + collectionID,
		})
		return err
	})
	if err != nil {
		fail(fmt.Errorf("create graph: %w", err))
		return
	}

	inGraph := make(map[string]bool, len(members))
	for _, id := range members {
		node := domain.GraphNode{ID: id, Label: id}
		if paper, ok := byID[id]; ok {
			if paper.Title != "" {
				node.Label = paper.Title
			}
			node.Year = paper.Year
		}
		err := o.call(ctx, "graph_node", func(cctx context.Context) error {
			return o.deps.Graphs.AddNode(cctx, graphID, node)
		})
		if err != nil {
			fail(fmt.Errorf("add node %s: %w", id, err))
			return
		}
		inGraph[id] = true
	}

	edges := 0
	if o.deps.Citations != nil {
		for _, id := range members {
			var refs []string
			err := o.call(ctx, "citations", func(cctx context.Context) error {
				var err error
				refs, err = o.deps.Citations.References(cctx, id)
				return err
			})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// Missing references for one paper leave its out-edges empty.
				logger.Warn().Err(err).Str("identifier", id).Msg("failed to load references")
				continue
			}
			linked := make(map[string]bool, len(refs))
			for _, ref := range refs {
				if ref == id || !inGraph[ref] || linked[ref] {
					continue
				}
				linked[ref] = true
				edge := domain.GraphEdge{Source: id, Target: ref, Kind: domain.EdgeCites}
				err := o.call(ctx, "graph_edge", func(cctx context.Context) error {
					return o.deps.Graphs.AddEdge(cctx, graphID, edge)
				})
				if err != nil {
					fail(fmt.Errorf("add edge %s -> %s: %w", id, ref, err))
					return
				}
				edges++
			}
		}
	}

	if err := o.emit(ctx, sessionID, domain.GraphBuiltPayload{
		GraphID: graphID,
		Nodes:   len(members),
		Edges:   edges,
	}); err != nil {
		return
	}
	logger.Info().
		Str("graph_id", graphID).
		Int("nodes", len(members)).
		Int("edges", edges).
		Msg("graph built")
}

// graphMembers returns the papers of the session's collection artifact, or
// of the literature collection when the session has no artifact yet.
func (o *Orchestrator) graphMembers(ctx context.Context, sessionID, collectionID string) ([]string, error) {
	latest, err := o.deps.Artifacts.Latest(ctx, domain.ArtifactKindCollection, sessionID)
	if err == nil {
		data, err := artifact.DecodeCollection(latest)
		if err != nil {
			return nil, err
		}
		return data.Items, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load collection: %w", err)
	}

	var col domain.Collection
	err = o.call(ctx, "literature_collection", func(cctx context.Context) error {
		var err error
		col, err = o.deps.Literature.GetCollection(cctx, collectionID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load collection %s: %w", collectionID, err)
	}
	return col.PaperIDs, nil
}
