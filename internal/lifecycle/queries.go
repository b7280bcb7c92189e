package lifecycle

import (
	"context"

	"github.com/rpattn/lexsign/internal/domain"

	"github.com/google/uuid"
)

// DefaultPageSize applies to listings that name no limit.
const DefaultPageSize = 10

const maxPageSize = 100

// Get returns a document the actor participates in. Notaries may also read unassigned
// documents waiting in the notary queue.
func (e *Engine) Get(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Document, error) {
	if err := requireActor(actor); err != nil {
		return domain.Document{}, err
	}
	doc, err := e.store.Documents().GetByID(ctx, id)
	if err != nil {
		return domain.Document{}, err
	}
	if !canRead(doc, actor) {
		return domain.Document{}, domain.Reject(domain.ErrAuthorization, "access denied")
	}
	return doc, nil
}

// List pages through the actor's documents, newest first.
func (e *Engine) List(ctx context.Context, actor domain.Actor, status *domain.DocumentStatus, limit, offset int) (domain.DocumentPage, error) {
	if err := requireActor(actor); err != nil {
		return domain.DocumentPage{}, err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	docs, total, err := e.store.Documents().List(ctx, domain.DocumentFilter{
		Participant: actor.ID,
		Status:      status,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		return domain.DocumentPage{}, err
	}
	return domain.DocumentPage{Documents: docs, Total: total, Limit: limit, Offset: offset}, nil
}

// Signatures lists a document's signatures in capture order.
func (e *Engine) Signatures(ctx context.Context, actor domain.Actor, id uuid.UUID) ([]domain.Signature, error) {
	if _, err := e.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return e.store.Signatures().ListFor(ctx, id)
}

// AuditTrail lists a document's audit entries in commit order.
func (e *Engine) AuditTrail(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Document, []domain.AuditEntry, error) {
	doc, err := e.Get(ctx, actor, id)
	if err != nil {
		return domain.Document{}, nil, err
	}
	entries, err := e.store.Audit().ListFor(ctx, id)
	if err != nil {
		return domain.Document{}, nil, err
	}
	return doc, entries, nil
}

// PendingForNotary lists documents waiting for this notary or for any notary.
func (e *Engine) PendingForNotary(ctx context.Context, actor domain.Actor) ([]domain.Document, error) {
	if err := requireNotary(actor); err != nil {
		return nil, err
	}
	return e.store.Documents().ListPendingForNotary(ctx, actor.ID)
}

// NotaryStats summarises the notary's queue.
func (e *Engine) NotaryStats(ctx context.Context, actor domain.Actor) (domain.NotaryStats, error) {
	if err := requireNotary(actor); err != nil {
		return domain.NotaryStats{}, err
	}
	return e.store.Documents().NotaryStats(ctx, actor.ID)
}

func canRead(doc domain.Document, actor domain.Actor) bool {
	if doc.IsParticipant(actor.ID) {
		return true
	}
	return actor.IsNotary() && doc.Status == domain.StatusPendingNotary && !doc.Notary.IsAssigned()
}

func requireNotary(actor domain.Actor) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !actor.IsNotary() {
		return domain.Reject(domain.ErrAuthorization, "notary role required")
	}
	return nil
}
