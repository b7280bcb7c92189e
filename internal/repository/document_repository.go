package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/lexsign/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const documentColumns = `id, title, document_type, template_fields, field_values, status,
	party_a_id, party_b_id, notary_id,
	party_a_signed_at, party_b_signed_at, notarized_at, completed_at, cancelled_at,
	external_submission_id, external_submitters, version, revision, created_at, updated_at`

// documentRepository implements DocumentRepository against Postgres
type documentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(pool *pgxpool.Pool) DocumentRepository {
	return &documentRepository{pool: pool}
}

// GetByID retrieves a document by ID
func (r *documentRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Document, error) {
	return getDocument(ctx, r.pool, id)
}

// GetBySubmission retrieves the document linked to a provider submission
func (r *documentRepository) GetBySubmission(ctx context.Context, submissionID string) (domain.Document, error) {
	return getDocumentBySubmission(ctx, r.pool, submissionID)
}

// List retrieves documents visible to a participant, newest first
func (r *documentRepository) List(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var status any
	if filter.Status != nil {
		status = string(*filter.Status)
	}

	rows, err := r.pool.Query(ctx, `
SELECT `+documentColumns+`, COUNT(*) OVER() AS total_count
FROM documents
WHERE ($1 = party_a_id OR $1 = party_b_id OR $1 = notary_id)
  AND ($2::text IS NULL OR status = $2::text)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4`, filter.Participant, status, limit, offset)
	if err != nil {
		return nil, 0, classify("list documents", err)
	}
	defer rows.Close()

	documents := []domain.Document{}
	total := 0
	for rows.Next() {
		var count int64
		doc, err := scanDocument(rows, &count)
		if err != nil {
			return nil, 0, err
		}
		total = int(count)
		documents = append(documents, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify("iterate documents", err)
	}
	return documents, total, nil
}

// ListPendingForNotary returns documents awaiting this notary or any notary
func (r *documentRepository) ListPendingForNotary(ctx context.Context, notaryID uuid.UUID) ([]domain.Document, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE status = 'PENDING_NOTARY'
  AND (notary_id = $1 OR notary_id IS NULL)
ORDER BY updated_at DESC`, notaryID)
	if err != nil {
		return nil, classify("list notary queue", err)
	}
	defer rows.Close()

	documents := []domain.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		documents = append(documents, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate notary queue", err)
	}
	return documents, nil
}

// NotaryStats counts the notary's pending, completed and total documents
func (r *documentRepository) NotaryStats(ctx context.Context, notaryID uuid.UUID) (domain.NotaryStats, error) {
	var stats domain.NotaryStats
	err := r.pool.QueryRow(ctx, `
SELECT
  COUNT(*) FILTER (WHERE status = 'PENDING_NOTARY' AND (notary_id = $1 OR notary_id IS NULL)),
  COUNT(*) FILTER (WHERE status = 'COMPLETED' AND notary_id = $1),
  COUNT(*) FILTER (WHERE notary_id = $1 OR (status = 'PENDING_NOTARY' AND notary_id IS NULL))
FROM documents`, notaryID).Scan(&stats.Pending, &stats.Completed, &stats.Total)
	if err != nil {
		return domain.NotaryStats{}, classify("count notary documents", err)
	}
	return stats, nil
}

func getDocument(ctx context.Context, q querier, id uuid.UUID) (domain.Document, error) {
	doc, err := scanDocument(q.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if err != nil {
		return domain.Document{}, fmt.Errorf("document %s: %w", id, err)
	}
	return doc, nil
}

func getDocumentBySubmission(ctx context.Context, q querier, submissionID string) (domain.Document, error) {
	doc, err := scanDocument(q.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE external_submission_id = $1`,
		strings.TrimSpace(submissionID),
	))
	if err != nil {
		return domain.Document{}, fmt.Errorf("submission %s: %w", submissionID, err)
	}
	return doc, nil
}

func insertDocument(ctx context.Context, q querier, doc domain.Document) error {
	submitters, err := marshalSubmitters(doc.ExternalSubmitters)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
INSERT INTO documents (`+documentColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, 1, $18, $19)`,
		doc.ID, doc.Title, doc.DocumentType, nullableJSON(doc.TemplateFields), nullableJSON(doc.FieldValues), string(doc.Status),
		doc.PartyAID, doc.PartyBID, doc.Notary.Ptr(),
		doc.PartyASignedAt, doc.PartyBSignedAt, doc.NotarizedAt, doc.CompletedAt, doc.CancelledAt,
		doc.ExternalSubmissionID, submitters, doc.Version, doc.CreatedAt, doc.UpdatedAt,
	)
	return classify("insert document", err)
}

// updateDocument is a conditional write: it only succeeds when the row still carries the
// revision the caller read.
func updateDocument(ctx context.Context, q querier, doc domain.Document) (domain.Document, error) {
	submitters, err := marshalSubmitters(doc.ExternalSubmitters)
	if err != nil {
		return domain.Document{}, err
	}
	tag, err := q.Exec(ctx, `
UPDATE documents SET
  title = $3, template_fields = $4, field_values = $5, status = $6,
  party_b_id = $7, notary_id = $8,
  party_a_signed_at = $9, party_b_signed_at = $10, notarized_at = $11, completed_at = $12, cancelled_at = $13,
  external_submission_id = $14, external_submitters = $15, version = $16,
  revision = revision + 1, updated_at = $17
WHERE id = $1 AND revision = $2`,
		doc.ID, doc.Revision,
		doc.Title, nullableJSON(doc.TemplateFields), nullableJSON(doc.FieldValues), string(doc.Status),
		doc.PartyBID, doc.Notary.Ptr(),
		doc.PartyASignedAt, doc.PartyBSignedAt, doc.NotarizedAt, doc.CompletedAt, doc.CancelledAt,
		doc.ExternalSubmissionID, submitters, doc.Version, doc.UpdatedAt,
	)
	if err != nil {
		return domain.Document{}, classify("update document", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Document{}, fmt.Errorf("%w: document %s changed since it was read", domain.ErrConflict, doc.ID)
	}
	doc.Revision++
	return doc, nil
}

func deleteDocument(ctx context.Context, q querier, doc domain.Document) error {
	tag, err := q.Exec(ctx, `DELETE FROM documents WHERE id = $1 AND revision = $2`, doc.ID, doc.Revision)
	if err != nil {
		return classify("delete document", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: document %s changed since it was read", domain.ErrConflict, doc.ID)
	}
	return nil
}

func scanDocument(row pgx.Row, extra ...any) (domain.Document, error) {
	var (
		doc            domain.Document
		status         string
		templateFields []byte
		fieldValues    []byte
		notaryID       *uuid.UUID
		submitters     []byte
	)
	dest := []any{
		&doc.ID, &doc.Title, &doc.DocumentType, &templateFields, &fieldValues, &status,
		&doc.PartyAID, &doc.PartyBID, &notaryID,
		&doc.PartyASignedAt, &doc.PartyBSignedAt, &doc.NotarizedAt, &doc.CompletedAt, &doc.CancelledAt,
		&doc.ExternalSubmissionID, &submitters, &doc.Version, &doc.Revision, &doc.CreatedAt, &doc.UpdatedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return domain.Document{}, classify("scan document", err)
	}

	parsed, err := domain.ParseDocumentStatus(status)
	if err != nil {
		return domain.Document{}, fmt.Errorf("failed to decode document %s: %w", doc.ID, err)
	}
	doc.Status = parsed
	doc.Notary = domain.NotaryFromPtr(notaryID)
	if len(templateFields) > 0 {
		doc.TemplateFields = json.RawMessage(templateFields)
	}
	if len(fieldValues) > 0 {
		doc.FieldValues = json.RawMessage(fieldValues)
	}
	if len(submitters) > 0 {
		if err := json.Unmarshal(submitters, &doc.ExternalSubmitters); err != nil {
			return domain.Document{}, fmt.Errorf("failed to decode submitters for %s: %w", doc.ID, err)
		}
	}
	for _, ts := range []**time.Time{&doc.PartyASignedAt, &doc.PartyBSignedAt, &doc.NotarizedAt, &doc.CompletedAt, &doc.CancelledAt} {
		if *ts != nil {
			utc := (*ts).UTC()
			*ts = &utc
		}
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	return doc, nil
}

func marshalSubmitters(submitters map[domain.SignerRole]domain.SubmitterRef) ([]byte, error) {
	if len(submitters) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(submitters)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal submitters: %w", err)
	}
	return raw, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
