package domain

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// AuditAction is a stored, versioned action code. Existing values never change meaning.
type AuditAction string

const (
	ActionCreated                 AuditAction = "created"
	ActionUpdated                 AuditAction = "updated"
	ActionSentToPartyB            AuditAction = "sent-to-party-b"
	ActionSentToNotary            AuditAction = "sent-to-notary"
	ActionSignatureAdded          AuditAction = "signature-added"
	ActionNotarized               AuditAction = "notarized"
	ActionWebhookRejected         AuditAction = "webhook-rejected"
	ActionDeleted                 AuditAction = "deleted"
	ActionCancelled               AuditAction = "cancelled"
	ActionSubmissionCreated       AuditAction = "submission-created"
	ActionExternalSignerCompleted AuditAction = "external-signer-completed"
	ActionExternalSyncCompleted   AuditAction = "external-sync-completed"
)

// auditActionVersions records the schema version each action was introduced in.
var auditActionVersions = map[AuditAction]int{
	ActionCreated:                 1,
	ActionUpdated:                 1,
	ActionSentToPartyB:            1,
	ActionSentToNotary:            1,
	ActionSignatureAdded:          1,
	ActionNotarized:               1,
	ActionWebhookRejected:         1,
	ActionDeleted:                 2,
	ActionCancelled:               2,
	ActionSubmissionCreated:       2,
	ActionExternalSignerCompleted: 2,
	ActionExternalSyncCompleted:   2,
}

// AuditSchemaVersion is the newest action version this build writes.
const AuditSchemaVersion = 2

// Valid reports whether the action is part of the closed set.
func (a AuditAction) Valid() bool {
	_, ok := auditActionVersions[a]
	return ok
}

// Since returns the schema version that introduced the action.
func (a AuditAction) Since() int {
	return auditActionVersions[a]
}

// AuditEntry is an append-only record of a state affecting event.
type AuditEntry struct {
	ID         string         `json:"id"`
	DocumentID *uuid.UUID     `json:"documentId,omitempty"`
	ActorID    *uuid.UUID     `json:"actorId,omitempty"`
	Action     AuditAction    `json:"action"`
	Timestamp  time.Time      `json:"timestamp"`
	SourceIP   string         `json:"sourceIp"`
	UserAgent  string         `json:"userAgent,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewAuditID returns a lexicographically sortable id. Ids created later in the
// same process always sort after earlier ones.
func NewAuditID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}

// NewAuditEntry builds an entry for a document scoped action.
func NewAuditEntry(action AuditAction, documentID uuid.UUID, actor Actor, at time.Time, metadata map[string]any) AuditEntry {
	entry := AuditEntry{
		ID:        NewAuditID(at),
		Action:    action,
		Timestamp: at,
		SourceIP:  actor.SourceIP,
		UserAgent: actor.UserAgent,
		Metadata:  metadata,
	}
	if documentID != uuid.Nil {
		id := documentID
		entry.DocumentID = &id
	}
	if actor.ID != uuid.Nil {
		id := actor.ID
		entry.ActorID = &id
	}
	if entry.SourceIP == "" {
		entry.SourceIP = "unknown"
	}
	return entry
}
