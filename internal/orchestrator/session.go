package orchestrator

import (
	"context"
	"strings"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

func (o *Orchestrator) renameSession(ctx context.Context, sessionID string, p domain.RenameSessionParams) error {
	return o.emit(ctx, sessionID, domain.SessionRenamedPayload{Title: strings.TrimSpace(p.Title)})
}

func (o *Orchestrator) bindCollection(ctx context.Context, sessionID string, p domain.BindCollectionParams) error {
	return o.emit(ctx, sessionID, domain.CollectionBoundPayload{CollectionID: strings.TrimSpace(p.CollectionID)})
}
