// Package audit reads and appends the append-only audit trail outside of lifecycle
// transitions, and renders it for download.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/lexsign/internal/domain"
	"github.com/rpattn/lexsign/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultRejectionLimit = 50

// Trail appends entries that are not tied to a state change, such as rejected webhooks.
type Trail struct {
	repo   repository.AuditRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewTrail builds a Trail over repo.
func NewTrail(repo repository.AuditRepository, logger *zap.Logger) *Trail {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trail{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Record appends a single entry. Storage failures are returned to the caller.
func (t *Trail) Record(ctx context.Context, action domain.AuditAction, documentID uuid.UUID, actor domain.Actor, metadata map[string]any) (domain.AuditEntry, error) {
	entry := domain.NewAuditEntry(action, documentID, actor, t.now(), metadata)
	if err := t.repo.Append(ctx, entry); err != nil {
		t.logger.Error("failed to append audit entry", zap.String("action", string(action)), zap.Error(err))
		return domain.AuditEntry{}, fmt.Errorf("append audit entry: %w", err)
	}
	return entry, nil
}

// For lists a document's entries in commit order.
func (t *Trail) For(ctx context.Context, documentID uuid.UUID) ([]domain.AuditEntry, error) {
	return t.repo.ListFor(ctx, documentID)
}

// Rejections lists the most recent rejected webhook deliveries, oldest first.
func (t *Trail) Rejections(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = defaultRejectionLimit
	}
	return t.repo.ListUnscoped(ctx, domain.ActionWebhookRejected, limit)
}
