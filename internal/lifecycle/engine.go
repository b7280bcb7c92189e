// Package lifecycle implements the document state machine. Every transition is one
// read-evaluate-write cycle against the current record, committed together with its audit
// entry and notification intents, and retried when a concurrent commit wins.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/lexsign/internal/domain"
	"github.com/rpattn/lexsign/internal/provider"
	"github.com/rpattn/lexsign/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultConflictRetries = 3

// Notifier delivers committed notification intents without blocking the caller.
type Notifier interface {
	Deliver(ctx context.Context, notifications []domain.Notification)
}

// SigningProvider is the external e-signature service.
type SigningProvider interface {
	CreateSubmission(ctx context.Context, req provider.SubmissionRequest) (provider.Submission, error)
	GetSubmission(ctx context.Context, submissionID string) (provider.SubmissionStatus, error)
	GetSubmissionDocuments(ctx context.Context, submissionID string, merge bool) ([]provider.SignedDocument, error)
	EmbedURL(slug string) string
	FormBaseURL() string
}

// Observer is told how each transition ended.
type Observer interface {
	ObserveTransition(op string, err error)
	ObserveConflict(op string)
}

// Options tunes an Engine.
type Options struct {
	MaxConflictRetries int
	Logger             *zap.Logger
	Observer           Observer
	Now                func() time.Time
}

// Engine validates and applies lifecycle transitions.
type Engine struct {
	store      repository.Store
	directory  repository.IdentityRepository
	provider   SigningProvider
	notifier   Notifier
	logger     *zap.Logger
	observer   Observer
	maxRetries int
	now        func() time.Time
}

// NewEngine wires the engine's collaborators. directory, signer and notifier may be nil;
// operations that need a missing collaborator fail instead of guessing.
func NewEngine(store repository.Store, directory repository.IdentityRepository, signer SigningProvider, notifier Notifier, opts Options) *Engine {
	e := &Engine{
		store:      store,
		directory:  directory,
		provider:   signer,
		notifier:   notifier,
		logger:     opts.Logger,
		observer:   opts.Observer,
		maxRetries: opts.MaxConflictRetries,
		now:        opts.Now,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.maxRetries <= 0 {
		e.maxRetries = defaultConflictRetries
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.notifier == nil {
		e.notifier = discard{}
	}
	if e.observer == nil {
		e.observer = discard{}
	}
	return e
}

type discard struct{}

func (discard) Deliver(context.Context, []domain.Notification) {}
func (discard) ObserveTransition(string, error)                {}
func (discard) ObserveConflict(string)                         {}

// outcome is what a step wants committed.
type outcome struct {
	doc    domain.Document
	notify []domain.Notification
}

type loader func(ctx context.Context, tx repository.Tx) (domain.Document, error)

type step func(ctx context.Context, tx repository.Tx, doc domain.Document) (outcome, error)

// settled marks a step error that must not be retried even if it wraps ErrConflict.
type settled struct{ err error }

func (s settled) Error() string { return s.err.Error() }
func (s settled) Unwrap() error { return s.err }

func byID(id uuid.UUID) loader {
	return func(ctx context.Context, tx repository.Tx) (domain.Document, error) {
		return tx.GetDocument(ctx, id)
	}
}

func bySubmission(submissionID string) loader {
	return func(ctx context.Context, tx repository.Tx) (domain.Document, error) {
		return tx.GetDocumentBySubmission(ctx, submissionID)
	}
}

// run executes one transition. Conflicts restart the whole cycle from a fresh read, up to
// maxRetries times. Notifications go out only after the commit succeeds.
func (e *Engine) run(ctx context.Context, op string, load loader, fn step) (_ domain.Document, runErr error) {
	defer func() { e.observer.ObserveTransition(op, runErr) }()
	for attempt := 0; ; attempt++ {
		var out outcome
		err := e.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			doc, err := load(ctx, tx)
			if err != nil {
				return err
			}
			out, err = fn(ctx, tx, doc)
			if err != nil {
				return err
			}
			if len(out.notify) > 0 {
				return tx.EnqueueNotifications(ctx, out.notify)
			}
			return nil
		})
		if err == nil {
			e.notifier.Deliver(ctx, out.notify)
			return out.doc, nil
		}

		var final settled
		if errors.As(err, &final) {
			return domain.Document{}, final.err
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.Document{}, err
		}
		if attempt >= e.maxRetries {
			e.logger.Warn("transition conflict retries exhausted", zap.String("op", op), zap.Int("attempts", attempt+1), zap.Error(err))
			return domain.Document{}, err
		}
		e.observer.ObserveConflict(op)
		e.logger.Debug("transition conflict, retrying", zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))
	}
}

// save writes the new state of doc and its single audit entry in the current transaction.
func (e *Engine) save(ctx context.Context, tx repository.Tx, doc domain.Document, action domain.AuditAction, actor domain.Actor, at time.Time, metadata map[string]any) (domain.Document, error) {
	doc.UpdatedAt = at
	if err := doc.CheckInvariants(); err != nil {
		return domain.Document{}, fmt.Errorf("refusing to persist document: %w", err)
	}
	saved, err := tx.UpdateDocument(ctx, doc)
	if err != nil {
		return domain.Document{}, err
	}
	if err := tx.AppendAudit(ctx, domain.NewAuditEntry(action, doc.ID, actor, at, metadata)); err != nil {
		return domain.Document{}, err
	}
	return saved, nil
}

// advance moves doc to next, refusing edges outside the lifecycle graph.
func advance(doc *domain.Document, next domain.DocumentStatus) error {
	if doc.Status == next {
		return nil
	}
	if !doc.Status.CanTransitionTo(next) {
		return domain.Reject(domain.ErrPreconditionFailed, "cannot move document from %s to %s", doc.Status, next)
	}
	doc.Status = next
	return nil
}

// forceComplete moves any non-terminal document to COMPLETED. Only a provider report that every
// submitter finished may take this edge; callers backfill the timestamps first.
func forceComplete(doc *domain.Document) error {
	if doc.Status.IsTerminal() {
		return domain.Reject(domain.ErrPreconditionFailed, "cannot complete document in %s", doc.Status)
	}
	doc.Status = domain.StatusCompleted
	return nil
}

func statusUpdate(doc domain.Document, previous domain.DocumentStatus, at time.Time) domain.Notification {
	return domain.NewNotification(doc.ID, domain.NotifyStatusUpdate, domain.StatusChannel(doc.ID), map[string]any{
		"status":         string(doc.Status),
		"previousStatus": string(previous),
	}, at)
}

func completedNotifications(doc domain.Document, previous domain.DocumentStatus, at time.Time) []domain.Notification {
	out := []domain.Notification{statusUpdate(doc, previous, at)}
	for _, id := range []uuid.UUID{doc.PartyAID, derefID(doc.PartyBID)} {
		if id == uuid.Nil {
			continue
		}
		out = append(out, domain.NewNotification(doc.ID, domain.NotifyDocumentCompleted, id.String(), map[string]any{
			"title": doc.Title,
		}, at))
	}
	return out
}

func derefID(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func requireActor(actor domain.Actor) error {
	if actor.ID == uuid.Nil {
		return domain.Reject(domain.ErrAuthorization, "an authenticated actor is required")
	}
	return nil
}
