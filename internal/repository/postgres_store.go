package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/lexsign/internal/db"
	"github.com/rpattn/lexsign/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PostgresStore implements Store on top of a pgx connection pool.
type PostgresStore struct {
	conn       *db.Connection
	documents  DocumentRepository
	signatures SignatureRepository
	audit      AuditRepository
	outbox     OutboxRepository
}

// NewPostgresStore wires the Postgres repositories around conn.
func NewPostgresStore(conn *db.Connection) *PostgresStore {
	return &PostgresStore{
		conn:       conn,
		documents:  NewDocumentRepository(conn.Pool),
		signatures: NewSignatureRepository(conn.Pool),
		audit:      NewAuditRepository(conn.Pool),
		outbox:     NewOutboxRepository(conn.Pool),
	}
}

// WithinTx runs fn inside a read committed transaction. Document writes are conditional on
// the revision read earlier, so a concurrent commit surfaces as domain.ErrConflict.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &postgresTx{tx: tx})
	})
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	return classify("run transaction", err)
}

func (s *PostgresStore) Documents() DocumentRepository   { return s.documents }
func (s *PostgresStore) Signatures() SignatureRepository { return s.signatures }
func (s *PostgresStore) Audit() AuditRepository          { return s.audit }
func (s *PostgresStore) Outbox() OutboxRepository        { return s.outbox }

// Ping checks that the pool can reach the database.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.conn.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) GetDocument(ctx context.Context, id uuid.UUID) (domain.Document, error) {
	return getDocument(ctx, t.tx, id)
}

func (t *postgresTx) GetDocumentBySubmission(ctx context.Context, submissionID string) (domain.Document, error) {
	return getDocumentBySubmission(ctx, t.tx, submissionID)
}

func (t *postgresTx) InsertDocument(ctx context.Context, doc domain.Document) error {
	return insertDocument(ctx, t.tx, doc)
}

func (t *postgresTx) UpdateDocument(ctx context.Context, doc domain.Document) (domain.Document, error) {
	return updateDocument(ctx, t.tx, doc)
}

func (t *postgresTx) DeleteDocument(ctx context.Context, doc domain.Document) error {
	return deleteDocument(ctx, t.tx, doc)
}

func (t *postgresTx) RecordSignature(ctx context.Context, sig domain.Signature) (domain.Signature, error) {
	return recordSignature(ctx, t.tx, sig)
}

func (t *postgresTx) ListSignatures(ctx context.Context, documentID uuid.UUID) ([]domain.Signature, error) {
	return listSignatures(ctx, t.tx, documentID)
}

func (t *postgresTx) AppendAudit(ctx context.Context, entry domain.AuditEntry) error {
	return appendAudit(ctx, t.tx, entry)
}

func (t *postgresTx) EnqueueNotifications(ctx context.Context, notifications []domain.Notification) error {
	return enqueueNotifications(ctx, t.tx, notifications)
}

// isDomainError reports whether err is already part of the domain taxonomy.
func isDomainError(err error) bool {
	for _, kind := range []error{
		domain.ErrValidation,
		domain.ErrPreconditionFailed,
		domain.ErrAuthorization,
		domain.ErrConflict,
		domain.ErrWebhookAuthenticity,
		domain.ErrExternalProvider,
		domain.ErrStorageUnavailable,
		domain.ErrNotFound,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
