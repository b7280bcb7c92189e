package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/lexsign/internal/domain"
	"github.com/rpattn/lexsign/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateInput describes a new draft.
type CreateInput struct {
	Title          string
	DocumentType   string
	TemplateFields json.RawMessage
	FieldValues    json.RawMessage
}

// EditInput changes draft content. Nil fields are left untouched.
type EditInput struct {
	Title          *string
	TemplateFields json.RawMessage
	FieldValues    json.RawMessage
}

// PartyRef names an identity by id or by email.
type PartyRef struct {
	ID    *uuid.UUID
	Email string
}

// SignatureInput is a captured signature.
type SignatureInput struct {
	Method  domain.SignatureMethod
	Payload []byte
}

// NotarizeInput carries the notary's signature and the mandatory verification checks.
type NotarizeInput struct {
	Signature           SignatureInput
	IDVerified          bool
	AddressVerified     bool
	WillingnessVerified bool
	Notes               string
}

// Create starts a draft owned by the actor.
func (e *Engine) Create(ctx context.Context, actor domain.Actor, in CreateInput) (domain.Document, error) {
	if err := requireActor(actor); err != nil {
		return domain.Document{}, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return domain.Document{}, domain.Reject(domain.ErrValidation, "title is required")
	}
	if err := validBlob("templateFields", in.TemplateFields); err != nil {
		return domain.Document{}, err
	}
	if err := validBlob("fieldValues", in.FieldValues); err != nil {
		return domain.Document{}, err
	}

	now := e.now()
	doc := domain.NewDocument(actor.ID, in.Title, in.DocumentType, in.TemplateFields, in.FieldValues, now)
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.InsertDocument(ctx, doc); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, domain.NewAuditEntry(domain.ActionCreated, doc.ID, actor, now, map[string]any{
			"title":        doc.Title,
			"documentType": doc.DocumentType,
		}))
	})
	if err != nil {
		return domain.Document{}, err
	}
	doc.Revision = 1
	e.logger.Info("document created", zap.String("document_id", doc.ID.String()), zap.String("party_a", actor.ID.String()))
	return doc, nil
}

// Edit updates draft content and bumps the content version.
func (e *Engine) Edit(ctx context.Context, actor domain.Actor, id uuid.UUID, in EditInput) (domain.Document, error) {
	if err := requireActor(actor); err != nil {
		return domain.Document{}, err
	}
	if in.Title == nil && in.TemplateFields == nil && in.FieldValues == nil {
		return domain.Document{}, domain.Reject(domain.ErrValidation, "nothing to update")
	}
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return domain.Document{}, domain.Reject(domain.ErrValidation, "title cannot be empty")
	}
	if err := validBlob("templateFields", in.TemplateFields); err != nil {
		return domain.Document{}, err
	}
	if err := validBlob("fieldValues", in.FieldValues); err != nil {
		return domain.Document{}, err
	}

	return e.run(ctx, "edit", byID(id), func(ctx context.Context, tx repository.Tx, doc domain.Document) (outcome, error) {
		if doc.PartyAID != actor.ID {
			return outcome{}, domain.Reject(domain.ErrAuthorization, "only party A can edit the document")
		}
		if doc.Status != domain.StatusDraft {
			return outcome{}, domain.Reject(domain.ErrPreconditionFailed, "document can only be edited in DRAFT, it is %s", doc.Status)
		}

		changed := []string{}
		if in.Title != nil {
			doc.Title = strings.TrimSpace(*in.Title)
			changed = append(changed, "title")
		}
		if in.TemplateFields != nil {
			doc.TemplateFields = in.TemplateFields
			changed = append(changed, "templateFields")
		}
		if in.FieldValues != nil {
			doc.FieldValues = in.FieldValues
			changed = append(changed, "fieldValues")
		}
		doc.Version++

		saved, err := e.save(ctx, tx, doc, domain.ActionUpdated, actor, e.now(), map[string]any{
			"version": doc.Version,
			"fields":  changed,
		})
		return outcome{doc: saved}, err
	})
}

// SendToPartyB routes a draft that party A has signed to the counter-party.
func (e *Engine) SendToPartyB(ctx context.Context, actor domain.Actor, id uuid.UUID, ref PartyRef) (domain.Document, error) {
	if err := requireActor(actor); err != nil {
		return domain.Document{}, err
	}
	partyB, err := e.resolve(ctx, ref)
	if err != nil {
		return domain.Document{}, err
	}
	if partyB.ID == actor.ID {
		return domain.Document{}, domain.Reject(domain.ErrValidation, "party B must be a different person")
	}

	return e.run(ctx, "send-to-party-b", byID(id), func(ctx context.Context, tx repository.Tx, doc domain.Document) (outcome, error) {
		if doc.PartyAID != actor.ID {
			return outcome{}, domain.Reject(domain.ErrAuthorization, "only party A can send the document")
		}
		if doc.Status != domain.StatusDraft {
			return outcome{}, domain.Reject(domain.ErrPreconditionFailed, "document must be in DRAFT to send, it is %s", doc.Status)
		}
		if doc.PartyASignedAt == nil {
			return outcome{}, domain.Reject(domain.ErrPreconditionFailed, "party A must sign before sending")
		}
		if doc.PartyBID != nil && *doc.PartyBID != partyB.ID {
			return outcome{}, domain.Reject(domain.ErrPreconditionFailed, "party B is already assigned")
		}

		previous := doc.Status
		now := e.now()
		doc.PartyBID = &partyB.ID
		if err := advance(&doc, domain.StatusPendingPartyB); err != nil {
			return outcome{}, err
		}
		saved, err := e.save(ctx, tx, doc, domain.ActionSentToPartyB, actor, now, map[string]any{
			"partyBId": partyB.ID.String(),
		})
		if err != nil {
			return outcome{}, err
		}
		return outcome{doc: saved, notify: []domain.Notification{
			statusUpdate(saved, previous, now),
			domain.NewNotification(saved.ID, domain.NotifyDocumentInvitation, recipient(partyB), map[string]any{
				"title":  saved.Title,
				"partyA": actor.ID.String(),
				"partyB": partyB.ID.String(),
			}, now),
		}}, nil
	})
}

// AddSignature records a party's signature and advances to PENDING_NOTARY once both
// parties have signed.
func (e *Engine) AddSignature(ctx context.Context, actor domain.Actor, id uuid.UUID, in SignatureInput) (domain.Signature, domain.Document, error) {
	if err := requireActor(actor); err != nil {
		return domain.Signature{}, domain.Document{}, err
	}
	method, err := domain.ParseSignatureMethod(string(in.Method))
	if err != nil {
		return domain.Signature{}, domain.Document{}, err
	}
	if len(in.Payload) == 0 {
		return domain.Signature{}, domain.Document{}, domain.ErrEmptyPayload
	}

	var recorded domain.Signature
	doc, err := e.run(ctx, "add-signature", byID(id), func(ctx context.Context, tx repository.Tx, doc domain.Document) (outcome, error) {
		role, ok := doc.RoleOf(actor.ID)
		if !ok {
			return outcome{}, domain.Reject(domain.ErrAuthorization, "actor is not a signer on this document")
		}
		if doc.Status.IsTerminal() {
			return outcome{}, domain.Reject(domain.ErrPreconditionFailed, "document is %s", doc.Status)
		}

		now := e.now()
		switch role {
		case domain.RolePartyA:
			if doc.PartyASignedAt != nil {
				return outcome{}, domain.ErrDuplicateSignature
			}
			doc.PartyASignedAt = timePtr(now)
		case domain.RolePartyB:
			if doc.Status != domain.StatusPendingPartyB {
				return outcome{}, domain.Reject(domain.ErrPreconditionFailed, "party B can only sign while PENDING_PARTY_B, document is %s", doc.Status)
			}
			if doc.PartyBSignedAt != nil {
				return outcome{}, domain.ErrDuplicateSignature
			}
			doc.PartyBSignedAt = timePtr(now)
		default:
			return outcome{}, domain.Reject(domain.ErrPreconditionFailed, "the notary signs by notarizing")
		}

		sig, err := domain.NewSignature(doc.ID, actor.ID, method, in.Payload, actor.SourceIP, actor.UserAgent, now)
		if err != nil {
			return outcome{}, err
		}

		previous := doc.Status
		if doc.BothPartiesSigned() && doc.Status == domain.StatusPendingPartyB {
			if err := advance(&doc, domain.StatusPendingNotary); err != nil {
				return outcome{}, err
			}
		}

		saved, err := e.save(ctx, tx, doc, domain.ActionSignatureAdded, actor, now, map[string]any{
			"signatureId": sig.ID.String(),
			"role":        string(role),
			"method":      string(method),
			"status":      string(doc.Status),
		})
		if err != nil {
			return outcome{}, err
		}
		if recorded, err = tx.RecordSignature(ctx, sig); err != nil {
			return outcome{}, err
		}

		var notify []domain.Notification
		if saved.Status != previous {
			notify = append(notify, statusUpdate(saved, previous, now))
			if saved.Status == domain.StatusPendingNotary {
				notify = append(notify, readyForNotary(saved, "", now))
			}
		}
		return outcome{doc: saved, notify: notify}, nil
	})
	if err != nil {
		return domain.Signature{}, domain.Document{}, err
	}
	return recorded, doc, nil
}

// SendToNotary invites a notary to a document both parties have signed. Repeating the call
// with the same notary changes nothing.
func (e *Engine) SendToNotary(ctx context.Context, actor domain.Actor, id uuid.UUID, ref PartyRef) (domain.Document, error) {
	if err := requireActor(actor); err != nil {
		return domain.Document{}, err
	}
	notary, err := e.resolve(ctx, ref)
	if err != nil {
		return domain.Document{}, err
	}
	if e.directory != nil && notary.Role != domain.AccountNotary {
		return domain.Document{}, domain.Reject(domain.ErrValidation, "%s is not a notary", notary.ID)
	}

	return e.run(ctx, "send-to-notary", byID(id), func(ctx context.Context, tx repository.Tx, doc domain.Document) (outcome, error) {
		role, ok := doc.RoleOf(actor.ID)
		if !ok || (role != domain.RolePartyA && role != domain.RolePartyB) {
			return outcome{}, domain.Reject(domain.ErrAuthorization, "only the parties can send the document to a notary")
		}
		if notary.ID == doc.PartyAID || (doc.PartyBID != nil && *doc.PartyBID == notary.ID) {
			return outcome{}, domain.Reject(domain.ErrValidation, "a party cannot notarize their own document")
		}
		if doc.Status != domain.StatusPendingPartyB && doc.Status != domain.StatusPendingNotary {
			return outcome{}, domain.Reject(domain.ErrPreconditionFailed, "document cannot be sent to a notary while %s", doc.Status)
		}
		if !doc.BothPartiesSigned() {
			return outcome{}, domain.Reject(domain.ErrPreconditionFailed, "both parties must sign before notarization")
		}
		if assigned, ok := doc.Notary.Get(); ok {
			if assigned != notary.ID {
				return outcome{}, domain.Reject(domain.ErrPreconditionFailed, "document is already assigned to another notary")
			}
			if doc.Status == domain.StatusPendingNotary {
				return outcome{doc: doc}, nil
			}
		}

		previous := doc.Status
		now := e.now()
		doc.Notary = domain.AssignedTo(notary.ID)
		if err := advance(&doc, domain.StatusPendingNotary); err != nil {
			return outcome{}, err
		}
		saved, err := e.save(ctx, tx, doc, domain.ActionSentToNotary, actor, now, map[string]any{
			"notaryId": notary.ID.String(),
		})
		if err != nil {
			return outcome{}, err
		}
		notify := []domain.Notification{readyForNotary(saved, recipient(notary), now)}
		if saved.Status != previous {
			notify = append(notify, statusUpdate(saved, previous, now))
		}
		return outcome{doc: saved, notify: notify}, nil
	})
}

// Notarize completes a document. An unassigned document is claimed by the calling notary;
// a document assigned to someone else is refused.
func (e *Engine) Notarize(ctx context.Context, actor domain.Actor, id uuid.UUID, in NotarizeInput) (domain.Document, error) {
	if err := requireActor(actor); err != nil {
		return domain.Document{}, err
	}
	if !actor.IsNotary() {
		return domain.Document{}, domain.Reject(domain.ErrAuthorization, "only notaries can notarize documents")
	}
	method, err := domain.ParseSignatureMethod(string(in.Signature.Method))
	if err != nil {
		return domain.Document{}, err
	}
	if len(in.Signature.Payload) == 0 {
		return domain.Document{}, domain.ErrEmptyPayload
	}

	sawUnassigned := false
	return e.run(ctx, "notarize", byID(id), func(ctx context.Context, tx repository.Tx, doc domain.Document) (outcome, error) {
		claimed, claim := doc.Notary.Claim(actor.ID)
		switch claim {
		case domain.ClaimRefused:
			if sawUnassigned {
				return outcome{}, settled{domain.Reject(domain.ErrConflict, "document %s was claimed by another notary", doc.ID)}
			}
			return outcome{}, domain.Reject(domain.ErrAuthorization, "document is assigned to another notary")
		case domain.ClaimTaken:
			sawUnassigned = true
		}

		if doc.Status != domain.StatusPendingNotary {
			return outcome{}, domain.Reject(domain.ErrPreconditionFailed, "document must be PENDING_NOTARY to notarize, it is %s", doc.Status)
		}
		if !doc.BothPartiesSigned() {
			return outcome{}, domain.Reject(domain.ErrPreconditionFailed, "both parties must sign before notarization")
		}
		if !in.IDVerified || !in.AddressVerified || !in.WillingnessVerified {
			return outcome{}, domain.Reject(domain.ErrValidation, "all verification steps must be completed")
		}

		previous := doc.Status
		now := e.now()
		sig, err := domain.NewSignature(doc.ID, actor.ID, method, in.Signature.Payload, actor.SourceIP, actor.UserAgent, now)
		if err != nil {
			return outcome{}, err
		}
		doc.Notary = claimed
		doc.NotarizedAt = timePtr(now)
		doc.CompletedAt = timePtr(now)
		if err := advance(&doc, domain.StatusCompleted); err != nil {
			return outcome{}, err
		}

		metadata := map[string]any{
			"signatureId":         sig.ID.String(),
			"claimed":             claim == domain.ClaimTaken,
			"idVerified":          in.IDVerified,
			"addressVerified":     in.AddressVerified,
			"willingnessVerified": in.WillingnessVerified,
		}
		if notes := strings.TrimSpace(in.Notes); notes != "" {
			metadata["notes"] = notes
		}
		saved, err := e.save(ctx, tx, doc, domain.ActionNotarized, actor, now, metadata)
		if err != nil {
			return outcome{}, err
		}
		if _, err := tx.RecordSignature(ctx, sig); err != nil {
			return outcome{}, err
		}
		return outcome{doc: saved, notify: completedNotifications(saved, previous, now)}, nil
	})
}

// Delete removes a draft.
func (e *Engine) Delete(ctx context.Context, actor domain.Actor, id uuid.UUID) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	_, err := e.run(ctx, "delete", byID(id), func(ctx context.Context, tx repository.Tx, doc domain.Document) (outcome, error) {
		if doc.PartyAID != actor.ID {
			return outcome{}, domain.Reject(domain.ErrAuthorization, "only party A can delete the document")
		}
		if doc.Status != domain.StatusDraft {
			return outcome{}, domain.Reject(domain.ErrPreconditionFailed, "only drafts can be deleted, document is %s", doc.Status)
		}
		if err := tx.DeleteDocument(ctx, doc); err != nil {
			return outcome{}, err
		}
		err := tx.AppendAudit(ctx, domain.NewAuditEntry(domain.ActionDeleted, doc.ID, actor, e.now(), map[string]any{
			"title":   doc.Title,
			"version": doc.Version,
		}))
		return outcome{doc: doc}, err
	})
	return err
}

// Cancel abandons a document that has not reached a terminal state.
func (e *Engine) Cancel(ctx context.Context, actor domain.Actor, id uuid.UUID, reason string) (domain.Document, error) {
	if err := requireActor(actor); err != nil {
		return domain.Document{}, err
	}
	return e.run(ctx, "cancel", byID(id), func(ctx context.Context, tx repository.Tx, doc domain.Document) (outcome, error) {
		role, ok := doc.RoleOf(actor.ID)
		if !ok || (role != domain.RolePartyA && role != domain.RolePartyB) {
			return outcome{}, domain.Reject(domain.ErrAuthorization, "only the parties can cancel the document")
		}
		if doc.Status.IsTerminal() {
			return outcome{}, domain.Reject(domain.ErrPreconditionFailed, "document is already %s", doc.Status)
		}
		return e.cancel(ctx, tx, doc, actor, map[string]any{"role": string(role), "reason": strings.TrimSpace(reason)})
	})
}

func (e *Engine) cancel(ctx context.Context, tx repository.Tx, doc domain.Document, actor domain.Actor, metadata map[string]any) (outcome, error) {
	previous := doc.Status
	now := e.now()
	doc.CancelledAt = timePtr(now)
	if err := advance(&doc, domain.StatusCancelled); err != nil {
		return outcome{}, err
	}
	metadata["previousStatus"] = string(previous)
	saved, err := e.save(ctx, tx, doc, domain.ActionCancelled, actor, now, metadata)
	if err != nil {
		return outcome{}, err
	}
	return outcome{doc: saved, notify: []domain.Notification{statusUpdate(saved, previous, now)}}, nil
}

// resolve looks up an identity by id or email. Without a directory only ids are accepted.
func (e *Engine) resolve(ctx context.Context, ref PartyRef) (domain.Identity, error) {
	email := strings.TrimSpace(ref.Email)
	if ref.ID == nil && email == "" {
		return domain.Identity{}, domain.Reject(domain.ErrValidation, "an id or email is required")
	}
	if e.directory == nil {
		if ref.ID == nil || *ref.ID == uuid.Nil {
			return domain.Identity{}, domain.Reject(domain.ErrValidation, "an id is required")
		}
		return domain.Identity{ID: *ref.ID, Email: email}, nil
	}

	var (
		identity domain.Identity
		err      error
	)
	if ref.ID != nil {
		identity, err = e.directory.Lookup(ctx, *ref.ID)
	} else {
		identity, err = e.directory.LookupByEmail(ctx, email)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Identity{}, fmt.Errorf("%w: unknown identity: %v", domain.ErrValidation, err)
	}
	if err != nil {
		return domain.Identity{}, err
	}
	return identity, nil
}

func recipient(identity domain.Identity) string {
	if identity.Email != "" {
		return identity.Email
	}
	return identity.ID.String()
}

func readyForNotary(doc domain.Document, to string, at time.Time) domain.Notification {
	if to == "" {
		if id, ok := doc.Notary.Get(); ok {
			to = id.String()
		} else {
			to = "notary-pool"
		}
	}
	return domain.NewNotification(doc.ID, domain.NotifyReadyForNotary, to, map[string]any{
		"title": doc.Title,
	}, at)
}

func validBlob(name string, raw json.RawMessage) error {
	if raw == nil {
		return nil
	}
	if !json.Valid(raw) {
		return domain.Reject(domain.ErrValidation, "%s must be valid JSON", name)
	}
	return nil
}
