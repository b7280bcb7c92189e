package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rpattn/lexsign/internal/domain"
	"github.com/rpattn/lexsign/internal/provider"
	"github.com/rpattn/lexsign/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (r *recordingNotifier) Deliver(ctx context.Context, notifications []domain.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notifications...)
}

func (r *recordingNotifier) kinds() []domain.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.NotificationKind, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Kind)
	}
	return out
}

func (r *recordingNotifier) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

type fakeProvider struct {
	mu          sync.Mutex
	createErr   error
	created     []provider.SubmissionRequest
	nextID      string
	status      provider.SubmissionStatus
	statusErr   error
	documents   []provider.SignedDocument
	beforeReply func()
}

func (f *fakeProvider) CreateSubmission(ctx context.Context, req provider.SubmissionRequest) (provider.Submission, error) {
	f.mu.Lock()
	f.created = append(f.created, req)
	hook := f.beforeReply
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if f.createErr != nil {
		return provider.Submission{}, f.createErr
	}
	out := provider.Submission{ID: f.nextID, Submitters: map[domain.SignerRole]domain.SubmitterRef{}}
	for i, s := range req.Submitters {
		out.Submitters[s.Role] = domain.SubmitterRef{Slug: "slug-" + string(s.Role), SubmitterID: int64(100 + i)}
	}
	return out, nil
}

func (f *fakeProvider) GetSubmission(ctx context.Context, submissionID string) (provider.SubmissionStatus, error) {
	if f.statusErr != nil {
		return provider.SubmissionStatus{}, f.statusErr
	}
	status := f.status
	status.ID = submissionID
	return status, nil
}

func (f *fakeProvider) GetSubmissionDocuments(ctx context.Context, submissionID string, merge bool) ([]provider.SignedDocument, error) {
	if !merge {
		return nil, errors.New("expected merged documents")
	}
	return f.documents, nil
}

func (f *fakeProvider) EmbedURL(slug string) string { return "https://forms.test/s/" + slug }
func (f *fakeProvider) FormBaseURL() string         { return "https://forms.test" }

type harness struct {
	engine   *Engine
	store    *repository.MemoryStore
	dir      *repository.MemoryDirectory
	notifier *recordingNotifier
	provider *fakeProvider
	clock    *fakeClock

	partyA  domain.Actor
	partyB  domain.Actor
	notary  domain.Actor
	notary2 domain.Actor
	system  domain.Actor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    repository.NewMemoryStore(),
		notifier: &recordingNotifier{},
		provider: &fakeProvider{nextID: "501"},
		clock:    newFakeClock(),
		partyA:   domain.Actor{ID: uuid.New(), Role: domain.AccountUser, SourceIP: "10.0.0.1", UserAgent: "test"},
		partyB:   domain.Actor{ID: uuid.New(), Role: domain.AccountUser, SourceIP: "10.0.0.2", UserAgent: "test"},
		notary:   domain.Actor{ID: uuid.New(), Role: domain.AccountNotary, SourceIP: "10.0.0.3"},
		notary2:  domain.Actor{ID: uuid.New(), Role: domain.AccountNotary, SourceIP: "10.0.0.4"},
		system:   domain.SystemActor("192.0.2.1", "provider"),
	}
	h.dir = repository.NewMemoryDirectory(
		domain.Identity{ID: h.partyA.ID, Email: "a@example.com", Name: "Ann A", Role: domain.AccountUser},
		domain.Identity{ID: h.partyB.ID, Email: "b@example.com", Name: "Bob B", Role: domain.AccountUser},
		domain.Identity{ID: h.notary.ID, Email: "n1@example.com", Name: "Nora N", Role: domain.AccountNotary},
		domain.Identity{ID: h.notary2.ID, Email: "n2@example.com", Name: "Ned N", Role: domain.AccountNotary},
	)
	h.engine = NewEngine(h.store, h.dir, h.provider, h.notifier, Options{Now: h.clock.Now})
	return h
}

func (h *harness) create(t *testing.T) domain.Document {
	t.Helper()
	doc, err := h.engine.Create(context.Background(), h.partyA, CreateInput{Title: "Prenuptial Agreement"})
	require.NoError(t, err)
	return doc
}

func (h *harness) sign(t *testing.T, actor domain.Actor, id uuid.UUID) domain.Document {
	t.Helper()
	_, doc, err := h.engine.AddSignature(context.Background(), actor, id, SignatureInput{Method: domain.SignatureTyped, Payload: []byte(actor.ID.String())})
	require.NoError(t, err)
	return doc
}

func (h *harness) pendingPartyB(t *testing.T) domain.Document {
	t.Helper()
	doc := h.create(t)
	h.sign(t, h.partyA, doc.ID)
	doc, err := h.engine.SendToPartyB(context.Background(), h.partyA, doc.ID, PartyRef{ID: &h.partyB.ID})
	require.NoError(t, err)
	return doc
}

func (h *harness) pendingNotary(t *testing.T) domain.Document {
	t.Helper()
	doc := h.pendingPartyB(t)
	doc = h.sign(t, h.partyB, doc.ID)
	require.Equal(t, domain.StatusPendingNotary, doc.Status)
	return doc
}

func (h *harness) linkSubmission(t *testing.T, id uuid.UUID) string {
	t.Helper()
	doc, err := h.engine.CreateSubmission(context.Background(), h.partyA, id, SubmissionInput{TemplateID: 9})
	require.NoError(t, err)
	return *doc.ExternalSubmissionID
}

func (h *harness) stored(t *testing.T, id uuid.UUID) domain.Document {
	t.Helper()
	doc, err := h.store.Documents().GetByID(context.Background(), id)
	require.NoError(t, err)
	return doc
}

func (h *harness) audit(t *testing.T, id uuid.UUID) []domain.AuditEntry {
	t.Helper()
	entries, err := h.store.Audit().ListFor(context.Background(), id)
	require.NoError(t, err)
	return entries
}

func actions(entries []domain.AuditEntry) []domain.AuditAction {
	out := make([]domain.AuditAction, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func notarizeInput(actor domain.Actor) NotarizeInput {
	return NotarizeInput{
		Signature:           SignatureInput{Method: domain.SignatureDrawn, Payload: []byte("seal-" + actor.ID.String())},
		IDVerified:          true,
		AddressVerified:     true,
		WillingnessVerified: true,
	}
}
