package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind is the template a dispatcher renders.
type NotificationKind string

const (
	NotifyDocumentInvitation NotificationKind = "document-invitation"
	NotifyReadyForNotary     NotificationKind = "ready-for-notary"
	NotifyDocumentCompleted  NotificationKind = "document-completed"
	NotifyStatusUpdate       NotificationKind = "status-update"
)

// Notification is an intent recorded with a committed transition and delivered afterwards.
type Notification struct {
	ID           uuid.UUID        `json:"id"`
	DocumentID   uuid.UUID        `json:"documentId"`
	Kind         NotificationKind `json:"kind"`
	Recipient    string           `json:"recipient"`
	Context      map[string]any   `json:"context,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	DispatchedAt *time.Time       `json:"dispatchedAt,omitempty"`
}

// NewNotification builds an undelivered intent.
func NewNotification(documentID uuid.UUID, kind NotificationKind, recipient string, ctx map[string]any, now time.Time) Notification {
	return Notification{
		ID:         uuid.New(),
		DocumentID: documentID,
		Kind:       kind,
		Recipient:  recipient,
		Context:    ctx,
		CreatedAt:  now,
	}
}

// StatusChannel is the real-time channel for a document's status updates.
func StatusChannel(documentID uuid.UUID) string {
	return "document-" + documentID.String()
}
