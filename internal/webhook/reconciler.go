package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/lexsign/internal/domain"
	"github.com/rpattn/lexsign/internal/provider"

	"go.uber.org/zap"
)

// Event types understood by the reconciler.
const (
	EventFormCompleted       = "form.completed"
	EventSubmissionSigned    = "submission.signed"
	EventSubmissionCompleted = "submission.completed"
	EventFormDeclined        = "form.declined"
	EventSubmissionExpired   = "submission.expired"
)

// Outcome describes what a delivery did.
type Outcome string

const (
	OutcomeApplied           Outcome = "applied"
	OutcomeUnknownSubmission Outcome = "unknown-submission"
	OutcomeUnknownSigner     Outcome = "unknown-signer"
	OutcomeUnknownEvent      Outcome = "ignored-event"
	OutcomeNotCompleted      Outcome = "not-completed"
)

// ExternalID accepts provider identifiers sent either as JSON numbers or strings.
type ExternalID string

func (id *ExternalID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ExternalID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*id = ExternalID(n.String())
	return nil
}

// Int parses the identifier as a provider submitter id.
func (id ExternalID) Int() int64 {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Event is a provider callback body.
type Event struct {
	EventType string    `json:"event_type"`
	Event     string    `json:"event"`
	Timestamp string    `json:"timestamp"`
	Data      EventData `json:"data"`
}

// EventData holds the fields the provider sends for submitter and submission events.
type EventData struct {
	ID             ExternalID `json:"id"`
	SubmissionID   ExternalID `json:"submission_id"`
	SubmitterID    ExternalID `json:"submitter_id"`
	Slug           string     `json:"slug"`
	Role           string     `json:"role"`
	SubmitterOrder *int       `json:"submitter_order"`
	Status         string     `json:"status"`
	SignedAt       string     `json:"signed_at"`
	CompletedAt    string     `json:"completed_at"`
	IPAddress      string     `json:"ip_address"`
	DeclineReason  string     `json:"decline_reason"`
	Submission     *struct {
		ID ExternalID `json:"id"`
	} `json:"submission"`
}

// Type returns the event name regardless of which key carried it.
func (e Event) Type() string {
	if e.EventType != "" {
		return strings.TrimSpace(e.EventType)
	}
	return strings.TrimSpace(e.Event)
}

func (e Event) submissionEvent() bool {
	return strings.HasPrefix(e.Type(), "submission.")
}

// SubmissionID finds the submission the event refers to.
func (e Event) SubmissionID() string {
	switch {
	case e.Data.SubmissionID != "":
		return string(e.Data.SubmissionID)
	case e.Data.Submission != nil && e.Data.Submission.ID != "":
		return string(e.Data.Submission.ID)
	case e.submissionEvent():
		return string(e.Data.ID)
	}
	return ""
}

func (e Event) submitterID() int64 {
	if e.Data.SubmitterID != "" {
		return e.Data.SubmitterID.Int()
	}
	if !e.submissionEvent() || e.Data.Submission != nil || e.Data.SubmissionID != "" {
		return e.Data.ID.Int()
	}
	return 0
}

// signedAt returns the reported signing time, if the provider sent a parseable one.
func (e Event) signedAt() *time.Time {
	for _, raw := range []string{e.Data.SignedAt, e.Data.CompletedAt} {
		if raw = strings.TrimSpace(raw); raw == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// Engine is the subset of the lifecycle engine reconciliation drives.
type Engine interface {
	ApplyExternalSigner(ctx context.Context, actor domain.Actor, submissionID string, role domain.SignerRole, signedAt *time.Time) (domain.Document, error)
	ExternalSync(ctx context.Context, actor domain.Actor, submissionID string) (domain.Document, error)
	ExternalCancel(ctx context.Context, actor domain.Actor, submissionID, reason string) (domain.Document, error)
}

// Documents resolves submissions to local records.
type Documents interface {
	GetBySubmission(ctx context.Context, submissionID string) (domain.Document, error)
}

// StatusSource confirms completion with the provider before the document is finalised.
type StatusSource interface {
	GetSubmission(ctx context.Context, submissionID string) (provider.SubmissionStatus, error)
}

// Reconciler applies authenticated provider events to local documents.
type Reconciler struct {
	engine Engine
	docs   Documents
	status StatusSource
	logger *zap.Logger
}

// NewReconciler builds a Reconciler. status may be nil, in which case an authenticated
// completion event is trusted as is.
func NewReconciler(engine Engine, docs Documents, status StatusSource, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{engine: engine, docs: docs, status: status, logger: logger}
}

// Apply reconciles one event. Events for unknown submissions or of unknown types are
// acknowledged without error so the provider does not keep retrying them.
func (r *Reconciler) Apply(ctx context.Context, actor domain.Actor, ev Event) (Outcome, error) {
	eventType := ev.Type()
	submissionID := ev.SubmissionID()
	log := r.logger.With(
		zap.String("event", eventType),
		zap.String("submission_id", submissionID),
		zap.String("signer_ip", ev.Data.IPAddress),
	)

	switch eventType {
	case EventFormCompleted, EventSubmissionSigned, EventSubmissionCompleted, EventFormDeclined, EventSubmissionExpired:
	default:
		log.Info("ignoring unhandled provider event")
		return OutcomeUnknownEvent, nil
	}
	if submissionID == "" {
		log.Warn("provider event without submission id")
		return OutcomeUnknownSubmission, nil
	}
	doc, err := r.docs.GetBySubmission(ctx, submissionID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn("provider event for unknown submission")
		return OutcomeUnknownSubmission, nil
	}
	if err != nil {
		return "", err
	}

	switch eventType {
	case EventFormCompleted, EventSubmissionSigned:
		role, ok := r.signerRole(doc, ev)
		if !ok {
			log.Warn("provider event for unknown submitter",
				zap.String("slug", ev.Data.Slug),
				zap.String("role", ev.Data.Role),
				zap.Int64("submitter_id", ev.submitterID()),
			)
			return OutcomeUnknownSigner, nil
		}
		_, err = r.engine.ApplyExternalSigner(ctx, actor, submissionID, role, ev.signedAt())
	case EventSubmissionCompleted:
		if r.status != nil {
			status, statusErr := r.status.GetSubmission(ctx, submissionID)
			if statusErr != nil {
				return "", statusErr
			}
			if !status.Completed() {
				log.Info("provider has not confirmed completion yet", zap.String("status", status.Status))
				return OutcomeNotCompleted, nil
			}
		}
		_, err = r.engine.ExternalSync(ctx, actor, submissionID)
	case EventFormDeclined, EventSubmissionExpired:
		reason := strings.TrimSpace(ev.Data.DeclineReason)
		if reason == "" {
			reason = eventType
		}
		_, err = r.engine.ExternalCancel(ctx, actor, submissionID, reason)
	}
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn("submission was unlinked before the event was applied")
		return OutcomeUnknownSubmission, nil
	}
	if err != nil {
		return "", err
	}
	log.Info("provider event reconciled", zap.String("document_id", doc.ID.String()))
	return OutcomeApplied, nil
}

// signerRole maps the submitter named by the event to a signer slot: explicit role first,
// then slug, submitter id and finally signing order.
func (r *Reconciler) signerRole(doc domain.Document, ev Event) (domain.SignerRole, bool) {
	if role, ok := domain.ParseSignerRole(ev.Data.Role); ok {
		return role, true
	}
	if role, ok := doc.RoleForSlug(ev.Data.Slug); ok {
		return role, true
	}
	if role, ok := doc.RoleForSubmitterID(ev.submitterID()); ok {
		return role, true
	}
	if ev.Data.SubmitterOrder != nil {
		switch *ev.Data.SubmitterOrder {
		case 1:
			return domain.RolePartyA, true
		case 2:
			return domain.RolePartyB, true
		case 3:
			return domain.RoleNotary, true
		}
	}
	return "", false
}
