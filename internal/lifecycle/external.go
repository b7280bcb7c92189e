package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/lexsign/internal/domain"
	"github.com/rpattn/lexsign/internal/provider"
	"github.com/rpattn/lexsign/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubmissionInput asks the provider for a new signing session.
type SubmissionInput struct {
	TemplateID int64
	SendEmail  bool
}

// EmbedInfo tells a signer where their provider form lives.
type EmbedInfo struct {
	Role        domain.SignerRole `json:"role"`
	Slug        string            `json:"slug"`
	EmbedURL    string            `json:"embedUrl"`
	FormBaseURL string            `json:"formBaseUrl"`
}

// SubmissionView is the provider status alongside the local record.
type SubmissionView struct {
	Submission provider.SubmissionStatus `json:"submission"`
	Document   domain.Document           `json:"document"`
}

// ExternalSync applies a provider report that every submitter has completed. Gaps in the
// local timestamps are backfilled with the sync time. A document that already reached
// COMPLETED (or was cancelled) is left as it is.
func (e *Engine) ExternalSync(ctx context.Context, actor domain.Actor, submissionID string) (domain.Document, error) {
	return e.run(ctx, "external-sync", bySubmission(submissionID), func(ctx context.Context, tx repository.Tx, doc domain.Document) (outcome, error) {
		if doc.Status.Reached(domain.StatusCompleted) {
			return outcome{doc: doc}, nil
		}

		previous := doc.Status
		now := e.now()
		backfilled := []string{}
		if doc.PartyASignedAt == nil {
			doc.PartyASignedAt = timePtr(now)
			backfilled = append(backfilled, "partyASignedAt")
		}
		if doc.PartyBSignedAt == nil {
			doc.PartyBSignedAt = timePtr(now)
			backfilled = append(backfilled, "partyBSignedAt")
		}
		doc.NotarizedAt = timePtr(now)
		doc.CompletedAt = timePtr(now)
		backfilled = append(backfilled, "notarizedAt", "completedAt")
		if err := forceComplete(&doc); err != nil {
			return outcome{}, err
		}

		saved, err := e.save(ctx, tx, doc, domain.ActionExternalSyncCompleted, actor, now, map[string]any{
			"submissionId":   submissionID,
			"previousStatus": string(previous),
			"backfilled":     backfilled,
		})
		if err != nil {
			return outcome{}, err
		}
		return outcome{doc: saved, notify: completedNotifications(saved, previous, now)}, nil
	})
}

// ApplyExternalSigner records that the provider reports role as signed. Reports for a
// signer already recorded, or implying a status the document has already passed, are
// ignored so replays and late deliveries never move the document backwards.
func (e *Engine) ApplyExternalSigner(ctx context.Context, actor domain.Actor, submissionID string, role domain.SignerRole, signedAt *time.Time) (domain.Document, error) {
	return e.run(ctx, "external-signer", bySubmission(submissionID), func(ctx context.Context, tx repository.Tx, doc domain.Document) (outcome, error) {
		if doc.Status.IsTerminal() {
			return outcome{doc: doc}, nil
		}

		previous := doc.Status
		now := e.now()
		switch role {
		case domain.RolePartyA:
			if doc.PartyASignedAt != nil {
				return outcome{doc: doc}, nil
			}
			doc.PartyASignedAt = timePtr(now)
		case domain.RolePartyB:
			if doc.PartyBSignedAt != nil || doc.Status.Reached(domain.StatusPendingNotary) {
				return outcome{doc: doc}, nil
			}
			if doc.Status != domain.StatusPendingPartyB || doc.PartyBID == nil {
				e.logger.Warn("party B signed at provider before being invited, ignoring",
					zap.String("document_id", doc.ID.String()),
					zap.String("submission_id", submissionID),
					zap.String("status", string(doc.Status)),
				)
				return outcome{doc: doc}, nil
			}
			doc.PartyBSignedAt = timePtr(now)
		case domain.RoleNotary:
			if !doc.BothPartiesSigned() || doc.Status != domain.StatusPendingNotary {
				e.logger.Info("notary signed at provider before the document awaited notarization, waiting for completion event",
					zap.String("document_id", doc.ID.String()),
					zap.String("submission_id", submissionID),
				)
				return outcome{doc: doc}, nil
			}
			doc.NotarizedAt = timePtr(now)
			doc.CompletedAt = timePtr(now)
		default:
			return outcome{}, domain.Reject(domain.ErrValidation, "unknown signer role %q", role)
		}

		if role == domain.RoleNotary {
			if err := advance(&doc, domain.StatusCompleted); err != nil {
				return outcome{}, err
			}
		} else if doc.BothPartiesSigned() && doc.Status == domain.StatusPendingPartyB {
			if err := advance(&doc, domain.StatusPendingNotary); err != nil {
				return outcome{}, err
			}
		}

		metadata := map[string]any{
			"submissionId": submissionID,
			"role":         string(role),
			"status":       string(doc.Status),
		}
		if signedAt != nil {
			metadata["reportedSignedAt"] = signedAt.UTC().Format(time.RFC3339)
		}
		saved, err := e.save(ctx, tx, doc, domain.ActionExternalSignerCompleted, actor, now, metadata)
		if err != nil {
			return outcome{}, err
		}

		var notify []domain.Notification
		switch {
		case saved.Status == previous:
		case saved.Status == domain.StatusCompleted:
			notify = completedNotifications(saved, previous, now)
		case saved.Status == domain.StatusPendingNotary:
			notify = []domain.Notification{statusUpdate(saved, previous, now), readyForNotary(saved, "", now)}
		default:
			notify = []domain.Notification{statusUpdate(saved, previous, now)}
		}
		return outcome{doc: saved, notify: notify}, nil
	})
}

// ExternalCancel cancels a document whose provider submission was declined or expired.
func (e *Engine) ExternalCancel(ctx context.Context, actor domain.Actor, submissionID, reason string) (domain.Document, error) {
	return e.run(ctx, "external-cancel", bySubmission(submissionID), func(ctx context.Context, tx repository.Tx, doc domain.Document) (outcome, error) {
		if doc.Status.IsTerminal() {
			return outcome{doc: doc}, nil
		}
		return e.cancel(ctx, tx, doc, actor, map[string]any{
			"submissionId": submissionID,
			"reason":       reason,
			"source":       "provider",
		})
	})
}

// CreateSubmission opens a provider submission for the document. The provider is called
// outside any transaction; the correlation ids are written afterwards with a conditional
// write that fails if another submission was linked in the meantime.
func (e *Engine) CreateSubmission(ctx context.Context, actor domain.Actor, id uuid.UUID, in SubmissionInput) (domain.Document, error) {
	if err := requireActor(actor); err != nil {
		return domain.Document{}, err
	}
	if e.provider == nil {
		return domain.Document{}, fmt.Errorf("%w: signing provider is not configured", domain.ErrExternalProvider)
	}

	doc, err := e.store.Documents().GetByID(ctx, id)
	if err != nil {
		return domain.Document{}, err
	}
	if err := submissionAllowed(doc, actor); err != nil {
		return domain.Document{}, err
	}

	submitters, err := e.submitters(ctx, doc)
	if err != nil {
		return domain.Document{}, err
	}
	created, err := e.provider.CreateSubmission(ctx, provider.SubmissionRequest{
		TemplateID: in.TemplateID,
		Name:       doc.Title,
		Submitters: submitters,
		SendEmail:  in.SendEmail,
	})
	if err != nil {
		return domain.Document{}, err
	}

	saved, err := e.run(ctx, "create-submission", byID(id), func(ctx context.Context, tx repository.Tx, doc domain.Document) (outcome, error) {
		if doc.HasSubmission() {
			return outcome{}, settled{domain.Reject(domain.ErrConflict, "document was linked to submission %s concurrently", *doc.ExternalSubmissionID)}
		}
		if err := submissionAllowed(doc, actor); err != nil {
			return outcome{}, err
		}
		submissionID := created.ID
		doc.ExternalSubmissionID = &submissionID
		doc.ExternalSubmitters = created.Submitters

		slugs := make(map[string]any, len(created.Submitters))
		for role, ref := range created.Submitters {
			slugs[string(role)] = ref.Slug
		}
		saved, err := e.save(ctx, tx, doc, domain.ActionSubmissionCreated, actor, e.now(), map[string]any{
			"submissionId": created.ID,
			"submitters":   slugs,
		})
		return outcome{doc: saved}, err
	})
	if err != nil {
		e.logger.Warn("provider submission created but not linked",
			zap.String("document_id", id.String()),
			zap.String("submission_id", created.ID),
			zap.Error(err),
		)
		return domain.Document{}, err
	}
	return saved, nil
}

// SubmissionStatus queries the provider and syncs a completed submission locally.
func (e *Engine) SubmissionStatus(ctx context.Context, actor domain.Actor, id uuid.UUID) (SubmissionView, error) {
	doc, err := e.linkedDocument(ctx, actor, id)
	if err != nil {
		return SubmissionView{}, err
	}
	status, err := e.provider.GetSubmission(ctx, *doc.ExternalSubmissionID)
	if err != nil {
		return SubmissionView{}, err
	}
	if status.Completed() {
		if doc, err = e.ExternalSync(ctx, actor, *doc.ExternalSubmissionID); err != nil {
			return SubmissionView{}, err
		}
	}
	return SubmissionView{Submission: status, Document: doc}, nil
}

// EmbedInfo returns the caller's signing form on the provider.
func (e *Engine) EmbedInfo(ctx context.Context, actor domain.Actor, id uuid.UUID) (EmbedInfo, error) {
	doc, err := e.linkedDocument(ctx, actor, id)
	if err != nil {
		return EmbedInfo{}, err
	}
	role, _ := doc.RoleOf(actor.ID)
	ref, ok := doc.ExternalSubmitters[role]
	if !ok || ref.Slug == "" {
		return EmbedInfo{}, domain.Reject(domain.ErrAuthorization, "you are not a signer on this submission")
	}
	return EmbedInfo{
		Role:        role,
		Slug:        ref.Slug,
		EmbedURL:    e.provider.EmbedURL(ref.Slug),
		FormBaseURL: e.provider.FormBaseURL(),
	}, nil
}

// SignedDocuments lists the provider's merged signed artefacts.
func (e *Engine) SignedDocuments(ctx context.Context, actor domain.Actor, id uuid.UUID) ([]provider.SignedDocument, error) {
	doc, err := e.linkedDocument(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return e.provider.GetSubmissionDocuments(ctx, *doc.ExternalSubmissionID, true)
}

func (e *Engine) linkedDocument(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Document, error) {
	if e.provider == nil {
		return domain.Document{}, fmt.Errorf("%w: signing provider is not configured", domain.ErrExternalProvider)
	}
	doc, err := e.Get(ctx, actor, id)
	if err != nil {
		return domain.Document{}, err
	}
	if !doc.HasSubmission() {
		return domain.Document{}, fmt.Errorf("submission for document %s: %w", id, domain.ErrNotFound)
	}
	return doc, nil
}

func submissionAllowed(doc domain.Document, actor domain.Actor) error {
	if doc.PartyAID != actor.ID {
		return domain.Reject(domain.ErrAuthorization, "only party A can create a provider submission")
	}
	if doc.HasSubmission() {
		return domain.Reject(domain.ErrPreconditionFailed, "document already has a provider submission")
	}
	if doc.Status != domain.StatusDraft && doc.Status != domain.StatusPendingPartyB {
		return domain.Reject(domain.ErrPreconditionFailed, "submissions can only be created for DRAFT or PENDING_PARTY_B documents")
	}
	return nil
}

// submitters lists the assigned signers in signing order.
func (e *Engine) submitters(ctx context.Context, doc domain.Document) ([]provider.Submitter, error) {
	slots := []struct {
		role domain.SignerRole
		id   uuid.UUID
	}{
		{domain.RolePartyA, doc.PartyAID},
		{domain.RolePartyB, derefID(doc.PartyBID)},
	}
	if id, ok := doc.Notary.Get(); ok {
		slots = append(slots, struct {
			role domain.SignerRole
			id   uuid.UUID
		}{domain.RoleNotary, id})
	}

	out := make([]provider.Submitter, 0, len(slots))
	for _, slot := range slots {
		if slot.id == uuid.Nil {
			continue
		}
		submitter := provider.Submitter{Role: slot.role, Order: len(out), Email: slot.id.String()}
		if e.directory != nil {
			identity, err := e.directory.Lookup(ctx, slot.id)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve %s: %w", slot.role, err)
			}
			submitter.Email = identity.Email
			submitter.Name = identity.Name
		}
		out = append(out, submitter)
	}
	return out, nil
}
