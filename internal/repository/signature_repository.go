package repository

import (
	"context"

	"github.com/rpattn/lexsign/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const signatureColumns = `id, document_id, signer_id, method, payload, captured_at, source_ip, source_agent`

// signatureRepository implements SignatureRepository
type signatureRepository struct {
	pool *pgxpool.Pool
}

// NewSignatureRepository creates a new signature repository
func NewSignatureRepository(pool *pgxpool.Pool) SignatureRepository {
	return &signatureRepository{pool: pool}
}

// ListFor returns the document's signatures ordered by capture time
func (r *signatureRepository) ListFor(ctx context.Context, documentID uuid.UUID) ([]domain.Signature, error) {
	return listSignatures(ctx, r.pool, documentID)
}

// ListForDocuments loads signatures for several documents in one round trip
func (r *signatureRepository) ListForDocuments(ctx context.Context, documentIDs []uuid.UUID) (map[uuid.UUID][]domain.Signature, error) {
	out := make(map[uuid.UUID][]domain.Signature, len(documentIDs))
	if len(documentIDs) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `
SELECT `+signatureColumns+`
FROM signatures
WHERE document_id = ANY($1)
ORDER BY captured_at ASC, id ASC`, documentIDs)
	if err != nil {
		return nil, classify("list signatures", err)
	}
	defer rows.Close()

	for rows.Next() {
		sig, err := scanSignature(rows)
		if err != nil {
			return nil, err
		}
		out[sig.DocumentID] = append(out[sig.DocumentID], sig)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate signatures", err)
	}
	return out, nil
}

func recordSignature(ctx context.Context, q querier, sig domain.Signature) (domain.Signature, error) {
	if len(sig.Payload) == 0 {
		return domain.Signature{}, domain.ErrEmptyPayload
	}
	_, err := q.Exec(ctx, `
INSERT INTO signatures (`+signatureColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sig.ID, sig.DocumentID, sig.SignerID, string(sig.Method), sig.Payload,
		sig.CapturedAt, sig.SourceIP, sig.SourceAgent,
	)
	if err != nil {
		return domain.Signature{}, classify("record signature", err)
	}
	return sig, nil
}

func listSignatures(ctx context.Context, q querier, documentID uuid.UUID) ([]domain.Signature, error) {
	rows, err := q.Query(ctx, `
SELECT `+signatureColumns+`
FROM signatures
WHERE document_id = $1
ORDER BY captured_at ASC, id ASC`, documentID)
	if err != nil {
		return nil, classify("list signatures", err)
	}
	defer rows.Close()

	signatures := []domain.Signature{}
	for rows.Next() {
		sig, err := scanSignature(rows)
		if err != nil {
			return nil, err
		}
		signatures = append(signatures, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate signatures", err)
	}
	return signatures, nil
}

func scanSignature(row pgx.Row) (domain.Signature, error) {
	var (
		sig    domain.Signature
		method string
	)
	if err := row.Scan(&sig.ID, &sig.DocumentID, &sig.SignerID, &method, &sig.Payload,
		&sig.CapturedAt, &sig.SourceIP, &sig.SourceAgent); err != nil {
		return domain.Signature{}, classify("scan signature", err)
	}
	sig.Method = domain.SignatureMethod(method)
	sig.CapturedAt = sig.CapturedAt.UTC()
	return sig, nil
}
