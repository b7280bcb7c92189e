package repository

import (
	"context"

	"github.com/rpattn/lexsign/internal/domain"

	"github.com/google/uuid"
)

// Store opens atomic units of work over documents, signatures, audit entries and the
// notification outbox. Everything written through one Tx commits or rolls back together.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Documents() DocumentRepository
	Signatures() SignatureRepository
	Audit() AuditRepository
	Outbox() OutboxRepository
	Ping(ctx context.Context) error
}

// Tx is the read-modify-write view a transition runs against.
type Tx interface {
	GetDocument(ctx context.Context, id uuid.UUID) (domain.Document, error)
	GetDocumentBySubmission(ctx context.Context, submissionID string) (domain.Document, error)
	InsertDocument(ctx context.Context, doc domain.Document) error
	// UpdateDocument writes doc only if the stored revision still equals doc.Revision and
	// returns the document with its new revision. A mismatch yields domain.ErrConflict.
	UpdateDocument(ctx context.Context, doc domain.Document) (domain.Document, error)
	// DeleteDocument removes the row under the same revision check as UpdateDocument.
	DeleteDocument(ctx context.Context, doc domain.Document) error

	// RecordSignature fails with domain.ErrDuplicateSignature when the signer already signed.
	RecordSignature(ctx context.Context, sig domain.Signature) (domain.Signature, error)
	ListSignatures(ctx context.Context, documentID uuid.UUID) ([]domain.Signature, error)

	AppendAudit(ctx context.Context, entry domain.AuditEntry) error
	EnqueueNotifications(ctx context.Context, notifications []domain.Notification) error
}

// DocumentRepository serves committed reads outside transitions.
type DocumentRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.Document, error)
	GetBySubmission(ctx context.Context, submissionID string) (domain.Document, error)
	List(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, int, error)
	ListPendingForNotary(ctx context.Context, notaryID uuid.UUID) ([]domain.Document, error)
	NotaryStats(ctx context.Context, notaryID uuid.UUID) (domain.NotaryStats, error)
}

// SignatureRepository lists recorded signatures.
type SignatureRepository interface {
	ListFor(ctx context.Context, documentID uuid.UUID) ([]domain.Signature, error)
	ListForDocuments(ctx context.Context, documentIDs []uuid.UUID) (map[uuid.UUID][]domain.Signature, error)
}

// AuditRepository appends entries that are not part of a transition, and reads the trail.
type AuditRepository interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
	ListFor(ctx context.Context, documentID uuid.UUID) ([]domain.AuditEntry, error)
	ListUnscoped(ctx context.Context, action domain.AuditAction, limit int) ([]domain.AuditEntry, error)
}

// OutboxRepository tracks delivery of notification intents.
type OutboxRepository interface {
	ListPending(ctx context.Context, limit int) ([]domain.Notification, error)
	MarkDispatched(ctx context.Context, id uuid.UUID) error
}

// IdentityRepository reads the user directory owned by the authentication system.
type IdentityRepository interface {
	Lookup(ctx context.Context, id uuid.UUID) (domain.Identity, error)
	LookupByEmail(ctx context.Context, email string) (domain.Identity, error)
}
