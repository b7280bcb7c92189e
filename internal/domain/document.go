package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DocumentStatus is the lifecycle state of a document.
type DocumentStatus string

const (
	StatusDraft         DocumentStatus = "DRAFT"
	StatusPendingPartyB DocumentStatus = "PENDING_PARTY_B"
	StatusPendingNotary DocumentStatus = "PENDING_NOTARY"
	StatusCompleted     DocumentStatus = "COMPLETED"
	StatusCancelled     DocumentStatus = "CANCELLED"
)

// statusRank orders the forward path. CANCELLED sits outside the ordering.
var statusRank = map[DocumentStatus]int{
	StatusDraft:         0,
	StatusPendingPartyB: 1,
	StatusPendingNotary: 2,
	StatusCompleted:     3,
}

// ParseDocumentStatus validates a stored or user supplied status value.
func ParseDocumentStatus(value string) (DocumentStatus, error) {
	status := DocumentStatus(strings.ToUpper(strings.TrimSpace(value)))
	if status == StatusCancelled {
		return status, nil
	}
	if _, ok := statusRank[status]; !ok {
		return "", fmt.Errorf("%w: unknown document status %q", ErrValidation, value)
	}
	return status, nil
}

// IsTerminal reports whether no further transitions are possible.
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Reached reports whether s is at or beyond target on the forward path.
// A cancelled document has reached every target since nothing can be applied to it.
func (s DocumentStatus) Reached(target DocumentStatus) bool {
	if s == StatusCancelled {
		return true
	}
	if target == StatusCancelled {
		return false
	}
	return statusRank[s] >= statusRank[target]
}

// CanTransitionTo reports whether the edge s -> next exists in the lifecycle graph: one step
// forward along the signing path, or to CANCELLED from any non-terminal status.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	current, ok := statusRank[s]
	if !ok {
		return false
	}
	target, ok := statusRank[next]
	if !ok {
		return false
	}
	return target == current+1
}

// SignerRole names a signer slot on a document.
type SignerRole string

const (
	RolePartyA SignerRole = "partyA"
	RolePartyB SignerRole = "partyB"
	RoleNotary SignerRole = "notary"
)

// ParseSignerRole accepts both the canonical keys and the provider's display names.
func ParseSignerRole(value string) (SignerRole, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(normalized)
	switch normalized {
	case "partya":
		return RolePartyA, true
	case "partyb":
		return RolePartyB, true
	case "notary":
		return RoleNotary, true
	}
	return "", false
}

// SubmitterRef correlates a signer slot with the provider's submitter.
type SubmitterRef struct {
	Slug        string `json:"slug"`
	SubmitterID int64  `json:"submitterId,omitempty"`
}

// Document is the aggregate root of the lifecycle.
type Document struct {
	ID             uuid.UUID       `json:"id"`
	Title          string          `json:"title"`
	DocumentType   string          `json:"documentType"`
	TemplateFields json.RawMessage `json:"templateFields,omitempty"`
	FieldValues    json.RawMessage `json:"fieldValues,omitempty"`
	Status         DocumentStatus  `json:"status"`

	PartyAID uuid.UUID        `json:"partyAId"`
	PartyBID *uuid.UUID       `json:"partyBId,omitempty"`
	Notary   NotaryAssignment `json:"notary"`

	PartyASignedAt *time.Time `json:"partyASignedAt,omitempty"`
	PartyBSignedAt *time.Time `json:"partyBSignedAt,omitempty"`
	NotarizedAt    *time.Time `json:"notarizedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	CancelledAt    *time.Time `json:"cancelledAt,omitempty"`

	ExternalSubmissionID *string                     `json:"externalSubmissionId,omitempty"`
	ExternalSubmitters   map[SignerRole]SubmitterRef `json:"externalSubmitters,omitempty"`

	// Version counts content edits made while in DRAFT.
	Version int64 `json:"version"`
	// Revision guards every write to the row; conditional updates compare it.
	Revision int64 `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewDocument creates a draft owned by partyA.
func NewDocument(partyA uuid.UUID, title, documentType string, templateFields, fieldValues json.RawMessage, now time.Time) Document {
	if strings.TrimSpace(documentType) == "" {
		documentType = "PRENUPTIAL_AGREEMENT"
	}
	return Document{
		ID:             uuid.New(),
		Title:          strings.TrimSpace(title),
		DocumentType:   documentType,
		TemplateFields: templateFields,
		FieldValues:    fieldValues,
		Status:         StatusDraft,
		PartyAID:       partyA,
		Notary:         Unassigned(),
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// RoleOf returns the signer slot actorID occupies on the document.
func (d Document) RoleOf(actorID uuid.UUID) (SignerRole, bool) {
	switch {
	case actorID == uuid.Nil:
		return "", false
	case d.PartyAID == actorID:
		return RolePartyA, true
	case d.PartyBID != nil && *d.PartyBID == actorID:
		return RolePartyB, true
	case d.Notary.Is(actorID):
		return RoleNotary, true
	}
	return "", false
}

// IsParticipant reports whether actorID may read the document.
func (d Document) IsParticipant(actorID uuid.UUID) bool {
	_, ok := d.RoleOf(actorID)
	return ok
}

// BothPartiesSigned reports whether both party timestamps are set.
func (d Document) BothPartiesSigned() bool {
	return d.PartyASignedAt != nil && d.PartyBSignedAt != nil
}

// SignedAt returns the signature timestamp recorded for a slot.
func (d Document) SignedAt(role SignerRole) *time.Time {
	switch role {
	case RolePartyA:
		return d.PartyASignedAt
	case RolePartyB:
		return d.PartyBSignedAt
	case RoleNotary:
		return d.NotarizedAt
	}
	return nil
}

// HasSubmission reports whether the document is linked to a provider submission.
func (d Document) HasSubmission() bool {
	return d.ExternalSubmissionID != nil && strings.TrimSpace(*d.ExternalSubmissionID) != ""
}

// RoleForSlug maps a provider submitter slug back to the signer slot.
func (d Document) RoleForSlug(slug string) (SignerRole, bool) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return "", false
	}
	for role, ref := range d.ExternalSubmitters {
		if ref.Slug == slug {
			return role, true
		}
	}
	return "", false
}

// RoleForSubmitterID maps a provider submitter id back to the signer slot.
func (d Document) RoleForSubmitterID(id int64) (SignerRole, bool) {
	if id == 0 {
		return "", false
	}
	for role, ref := range d.ExternalSubmitters {
		if ref.SubmitterID == id {
			return role, true
		}
	}
	return "", false
}

// Participants lists every assigned identity on the document.
func (d Document) Participants() []uuid.UUID {
	ids := []uuid.UUID{d.PartyAID}
	if d.PartyBID != nil {
		ids = append(ids, *d.PartyBID)
	}
	if id, ok := d.Notary.Get(); ok {
		ids = append(ids, id)
	}
	return ids
}

// CheckInvariants verifies the timestamp relationships every persisted record must satisfy.
func (d Document) CheckInvariants() error {
	if d.Status == StatusCompleted {
		if d.PartyASignedAt == nil || d.PartyBSignedAt == nil || d.NotarizedAt == nil || d.CompletedAt == nil {
			return fmt.Errorf("completed document %s is missing signature timestamps", d.ID)
		}
		if d.PartyASignedAt.After(*d.NotarizedAt) || d.PartyBSignedAt.After(*d.NotarizedAt) {
			return fmt.Errorf("document %s notarized before a party signed", d.ID)
		}
		if !d.NotarizedAt.Equal(*d.CompletedAt) {
			return fmt.Errorf("document %s completedAt differs from notarizedAt", d.ID)
		}
	}
	for _, ts := range []*time.Time{d.PartyASignedAt, d.PartyBSignedAt, d.NotarizedAt, d.CompletedAt, d.CancelledAt} {
		if ts != nil && ts.Before(d.CreatedAt) {
			return fmt.Errorf("document %s has a timestamp before creation", d.ID)
		}
	}
	return nil
}

// DocumentFilter narrows listings.
type DocumentFilter struct {
	Participant uuid.UUID
	Status      *DocumentStatus
	Limit       int
	Offset      int
}

// DocumentPage is a paginated listing.
type DocumentPage struct {
	Documents []Document `json:"documents"`
	Total     int        `json:"total"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}

// NotaryStats summarises a notary's queue.
type NotaryStats struct {
	Pending   int64 `json:"pending"`
	Completed int64 `json:"completed"`
	Total     int64 `json:"total"`
}
