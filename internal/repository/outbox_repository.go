package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rpattn/lexsign/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// outboxRepository implements OutboxRepository
type outboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository creates a new notification outbox repository
func NewOutboxRepository(pool *pgxpool.Pool) OutboxRepository {
	return &outboxRepository{pool: pool}
}

// ListPending returns undelivered intents, oldest first
func (r *outboxRepository) ListPending(ctx context.Context, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
SELECT id, document_id, kind, recipient, context, created_at, dispatched_at
FROM notification_outbox
WHERE dispatched_at IS NULL
ORDER BY created_at ASC
LIMIT $1`, limit)
	if err != nil {
		return nil, classify("list pending notifications", err)
	}
	defer rows.Close()

	notifications := []domain.Notification{}
	for rows.Next() {
		var (
			n    domain.Notification
			kind string
			raw  []byte
		)
		if err := rows.Scan(&n.ID, &n.DocumentID, &kind, &n.Recipient, &raw, &n.CreatedAt, &n.DispatchedAt); err != nil {
			return nil, classify("scan notification", err)
		}
		n.Kind = domain.NotificationKind(kind)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &n.Context); err != nil {
				return nil, fmt.Errorf("failed to decode notification %s: %w", n.ID, err)
			}
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate notifications", err)
	}
	return notifications, nil
}

// MarkDispatched records delivery. Marking twice keeps the first delivery time.
func (r *outboxRepository) MarkDispatched(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notification_outbox SET dispatched_at = NOW() WHERE id = $1 AND dispatched_at IS NULL`, id)
	return classify("mark notification dispatched", err)
}

func enqueueNotifications(ctx context.Context, tx pgx.Tx, notifications []domain.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, n := range notifications {
		payload := n.Context
		if payload == nil {
			payload = map[string]any{}
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal notification context: %w", err)
		}
		batch.Queue(`
INSERT INTO notification_outbox (id, document_id, kind, recipient, context, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`, n.ID, n.DocumentID, string(n.Kind), n.Recipient, raw, n.CreatedAt)
	}
	results := tx.SendBatch(ctx, batch)
	for range notifications {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return classify("enqueue notification", err)
		}
	}
	return classify("enqueue notifications", results.Close())
}
