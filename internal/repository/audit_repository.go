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

const auditColumns = `id, document_id, actor_id, action, occurred_at, source_ip, user_agent, metadata`

// auditRepository implements AuditRepository. Rows are insert-only; a trigger rejects
// updates and deletes.
type auditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(pool *pgxpool.Pool) AuditRepository {
	return &auditRepository{pool: pool}
}

// Append writes an entry outside any document transition
func (r *auditRepository) Append(ctx context.Context, entry domain.AuditEntry) error {
	return appendAudit(ctx, r.pool, entry)
}

// ListFor returns the document's trail in commit order
func (r *auditRepository) ListFor(ctx context.Context, documentID uuid.UUID) ([]domain.AuditEntry, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+auditColumns+`
FROM audit_entries
WHERE document_id = $1
ORDER BY occurred_at ASC, seq ASC`, documentID)
	if err != nil {
		return nil, classify("list audit entries", err)
	}
	return collectAudit(rows)
}

// ListUnscoped returns the newest entries not tied to a document, oldest first
func (r *auditRepository) ListUnscoped(ctx context.Context, action domain.AuditAction, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
SELECT * FROM (
  SELECT `+auditColumns+`, seq
  FROM audit_entries
  WHERE document_id IS NULL AND ($1 = '' OR action = $1)
  ORDER BY occurred_at DESC, seq DESC
  LIMIT $2
) recent
ORDER BY occurred_at ASC, seq ASC`, string(action), limit)
	if err != nil {
		return nil, classify("list audit entries", err)
	}
	defer rows.Close()

	entries := []domain.AuditEntry{}
	for rows.Next() {
		var seq int64
		entry, err := scanAudit(rows, &seq)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate audit entries", err)
	}
	return entries, nil
}

func appendAudit(ctx context.Context, q querier, entry domain.AuditEntry) error {
	if !entry.Action.Valid() {
		return fmt.Errorf("%w: unknown audit action %q", domain.ErrValidation, entry.Action)
	}
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal audit metadata: %w", err)
	}
	_, err = q.Exec(ctx, `
INSERT INTO audit_entries (id, document_id, actor_id, action, schema_version, occurred_at, source_ip, user_agent, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.DocumentID, entry.ActorID, string(entry.Action), entry.Action.Since(),
		entry.Timestamp, entry.SourceIP, entry.UserAgent, raw,
	)
	return classify("append audit entry", err)
}

func collectAudit(rows pgx.Rows) ([]domain.AuditEntry, error) {
	defer rows.Close()
	entries := []domain.AuditEntry{}
	for rows.Next() {
		entry, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate audit entries", err)
	}
	return entries, nil
}

func scanAudit(row pgx.Row, extra ...any) (domain.AuditEntry, error) {
	var (
		entry    domain.AuditEntry
		action   string
		metadata []byte
	)
	dest := append([]any{
		&entry.ID, &entry.DocumentID, &entry.ActorID, &action, &entry.Timestamp,
		&entry.SourceIP, &entry.UserAgent, &metadata,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return domain.AuditEntry{}, classify("scan audit entry", err)
	}
	entry.Action = domain.AuditAction(action)
	entry.Timestamp = entry.Timestamp.UTC()
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return domain.AuditEntry{}, fmt.Errorf("failed to decode audit metadata for %s: %w", entry.ID, err)
		}
	}
	if len(entry.Metadata) == 0 {
		entry.Metadata = nil
	}
	return entry, nil
}
