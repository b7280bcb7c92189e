package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rpattn/lexsign/internal/audit"
	"github.com/rpattn/lexsign/internal/domain"
	"github.com/rpattn/lexsign/internal/lifecycle"
	"github.com/rpattn/lexsign/internal/provider"
	"github.com/rpattn/lexsign/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

type stubStatus struct {
	status provider.SubmissionStatus
	err    error
	calls  int
}

func (s *stubStatus) GetSubmission(ctx context.Context, submissionID string) (provider.SubmissionStatus, error) {
	s.calls++
	if s.err != nil {
		return provider.SubmissionStatus{}, s.err
	}
	out := s.status
	out.ID = submissionID
	return out, nil
}

type fixture struct {
	store   *repository.MemoryStore
	status  *stubStatus
	handler *Handler
	doc     domain.Document
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	engine := lifecycle.NewEngine(store, nil, nil, nil, lifecycle.Options{})
	status := &stubStatus{status: provider.SubmissionStatus{Status: "completed"}}
	reconciler := NewReconciler(engine, store.Documents(), status, nil)
	if cfg.Secret == "" {
		cfg.Secret = testSecret
	}
	f := &fixture{
		store:   store,
		status:  status,
		handler: NewHandler(reconciler, audit.NewTrail(store.Audit(), nil), cfg, nil),
	}
	f.doc = f.seed(t, "4242")
	return f
}

// seed stores a document waiting for party B with a linked provider submission.
func (f *fixture) seed(t *testing.T, submissionID string) domain.Document {
	t.Helper()
	created := time.Now().UTC().Add(-time.Hour)
	doc := domain.NewDocument(uuid.New(), "Agreement", "prenup", nil, nil, created)
	partyB := uuid.New()
	signed := created.Add(time.Minute)
	doc.PartyBID = &partyB
	doc.PartyASignedAt = &signed
	doc.Status = domain.StatusPendingPartyB
	doc.ExternalSubmissionID = &submissionID
	doc.ExternalSubmitters = map[domain.SignerRole]domain.SubmitterRef{
		domain.RolePartyA: {Slug: "slug-a", SubmitterID: 11},
		domain.RolePartyB: {Slug: "slug-b", SubmitterID: 12},
	}
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertDocument(ctx, doc)
	}))
	stored, err := f.store.Documents().GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	return stored
}

func (f *fixture) deliver(t *testing.T, body string, header string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/signing-provider", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	if header != "" {
		req.Header.Set(SignatureHeader, header)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) signed(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	return f.deliver(t, body, Sign(testSecret, []byte(body)))
}

func (f *fixture) current(t *testing.T) domain.Document {
	t.Helper()
	doc, err := f.store.Documents().GetByID(context.Background(), f.doc.ID)
	require.NoError(t, err)
	return doc
}

func (f *fixture) auditCount(t *testing.T) int {
	t.Helper()
	entries, err := f.store.Audit().ListFor(context.Background(), f.doc.ID)
	require.NoError(t, err)
	return len(entries)
}

func (f *fixture) rejections(t *testing.T) []domain.AuditEntry {
	t.Helper()
	entries, err := f.store.Audit().ListUnscoped(context.Background(), domain.ActionWebhookRejected, 0)
	require.NoError(t, err)
	return entries
}

func decodeOutcome(t *testing.T, rec *httptest.ResponseRecorder) Outcome {
	t.Helper()
	var body struct {
		Success bool    `json:"success"`
		Outcome Outcome `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	return body.Outcome
}

func signerEvent(submissionID, slug string) string {
	return fmt.Sprintf(`{"event_type":"form.completed","timestamp":"2026-03-01T10:00:00Z","data":{"id":12,"submission_id":%s,"slug":%q,"completed_at":"2026-03-01T09:59:00Z"}}`, submissionID, slug)
}

func TestWrongSignatureIsRejectedAndAudited(t *testing.T) {
	f := newFixture(t, Config{})
	before := f.current(t)

	rec := f.deliver(t, signerEvent("4242", "slug-b"), "sha256="+strings.Repeat("0f", 32))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotContains(t, rec.Body.String(), ReasonMismatch)

	after := f.current(t)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Revision, after.Revision)
	assert.Nil(t, after.PartyBSignedAt)

	rejected := f.rejections(t)
	require.Len(t, rejected, 1)
	assert.Equal(t, ReasonMismatch, rejected[0].Metadata["reason"])
	assert.Equal(t, "203.0.113.9", rejected[0].SourceIP)
	assert.Nil(t, rejected[0].DocumentID)
}

func TestMissingSignatureIsRejected(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.deliver(t, signerEvent("4242", "slug-b"), "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rejected := f.rejections(t)
	require.Len(t, rejected, 1)
	assert.Equal(t, ReasonMissing, rejected[0].Metadata["reason"])
	assert.Equal(t, false, rejected[0].Metadata["headerPresent"])
}

func TestVerboseRejectionExplainsReason(t *testing.T) {
	f := newFixture(t, Config{VerboseErrors: true})

	rec := f.deliver(t, signerEvent("4242", "slug-b"), "abc")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "WEBHOOK_AUTHENTICITY_ERROR", body.Error.Code)
	assert.Equal(t, ReasonMalformed, body.Error.Details["reason"])
}

func TestRejectionFailsClosedWhenAuditUnavailable(t *testing.T) {
	f := newFixture(t, Config{})
	f.store.SetUnavailable(true)

	rec := f.deliver(t, signerEvent("4242", "slug-b"), "sha256=00")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSignerEventAdvancesAndReplaysAreIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	body := signerEvent("4242", "slug-b")

	rec := f.signed(t, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, OutcomeApplied, decodeOutcome(t, rec))

	doc := f.current(t)
	assert.Equal(t, domain.StatusPendingNotary, doc.Status)
	require.NotNil(t, doc.PartyBSignedAt)
	count := f.auditCount(t)

	for i := 0; i < 3; i++ {
		rec := f.signed(t, body)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	replayed := f.current(t)
	assert.Equal(t, doc.Revision, replayed.Revision)
	assert.Equal(t, count, f.auditCount(t))
}

func TestSignerMatchedBySubmitterIDAndOrder(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.signed(t, `{"event":"submission.signed","data":{"submission_id":"4242","submitter_id":"12"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusPendingNotary, f.current(t).Status)

	other := f.seed(t, "77")
	rec = f.signed(t, `{"event":"submission.signed","data":{"submission_id":77,"submitter_order":2}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	doc, err := f.store.Documents().GetByID(context.Background(), other.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingNotary, doc.Status)
}

func TestUnknownSignerIsAcknowledged(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.signed(t, signerEvent("4242", "slug-unknown"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, OutcomeUnknownSigner, decodeOutcome(t, rec))
	assert.Equal(t, domain.StatusPendingPartyB, f.current(t).Status)
}

func TestCompletedThenLateSignerNeverRegresses(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.signed(t, `{"event_type":"submission.completed","data":{"id":4242,"status":"completed"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.status.calls)
	completed := f.current(t)
	require.Equal(t, domain.StatusCompleted, completed.Status)
	require.NoError(t, completed.CheckInvariants())
	count := f.auditCount(t)

	rec = f.signed(t, signerEvent("4242", "slug-b"))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.signed(t, `{"event_type":"submission.completed","data":{"id":4242}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	after := f.current(t)
	assert.Equal(t, domain.StatusCompleted, after.Status)
	assert.Equal(t, completed.Revision, after.Revision)
	assert.Equal(t, count, f.auditCount(t))
}

func TestCompletedEventWaitsForProviderConfirmation(t *testing.T) {
	f := newFixture(t, Config{})
	f.status.status = provider.SubmissionStatus{Status: "pending"}

	rec := f.signed(t, `{"event_type":"submission.completed","data":{"id":4242}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, OutcomeNotCompleted, decodeOutcome(t, rec))
	assert.Equal(t, domain.StatusPendingPartyB, f.current(t).Status)
}

func TestCompletedEventProviderFailureIsRetryable(t *testing.T) {
	f := newFixture(t, Config{})
	f.status.err = fmt.Errorf("%w: status 503", domain.ErrExternalProvider)

	rec := f.signed(t, `{"event_type":"submission.completed","data":{"id":4242}}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, domain.StatusPendingPartyB, f.current(t).Status)
}

func TestDeclinedEventCancels(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.signed(t, `{"event_type":"form.declined","data":{"id":12,"submission_id":4242,"decline_reason":"wrong name"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	doc := f.current(t)
	assert.Equal(t, domain.StatusCancelled, doc.Status)
	require.NotNil(t, doc.CancelledAt)
}

func TestUnknownSubmissionAndEventAreAcknowledged(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.signed(t, signerEvent("999", "slug-b"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, OutcomeUnknownSubmission, decodeOutcome(t, rec))

	rec = f.signed(t, `{"event_type":"template.created","data":{"id":1}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, OutcomeUnknownEvent, decodeOutcome(t, rec))
}

func TestVerifiedGarbageIsBadRequest(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.signed(t, `{"event_type":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOversizedBody(t *testing.T) {
	f := newFixture(t, Config{MaxBodyBytes: 64})
	body := bytes.Repeat([]byte("x"), 128)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/signing-provider", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

type countingObserver struct {
	outcomes   []string
	rejections []string
}

func (c *countingObserver) ObserveWebhook(outcome string)         { c.outcomes = append(c.outcomes, outcome) }
func (c *countingObserver) ObserveWebhookRejection(reason string) { c.rejections = append(c.rejections, reason) }

func TestObserverCountsOutcomesAndRejections(t *testing.T) {
	obs := &countingObserver{}
	f := newFixture(t, Config{Observer: obs})

	require.Equal(t, http.StatusOK, f.signed(t, signerEvent("4242", "slug-b")).Code)
	require.Equal(t, http.StatusOK, f.signed(t, signerEvent("9999", "slug-b")).Code)
	require.Equal(t, http.StatusUnauthorized, f.deliver(t, signerEvent("4242", "slug-b"), "").Code)

	assert.Equal(t, []string{string(OutcomeApplied), string(OutcomeUnknownSubmission)}, obs.outcomes)
	assert.Equal(t, []string{ReasonMissing}, obs.rejections)
}

func TestPartyBEventOnDraftDoesNotSkipInvitation(t *testing.T) {
	f := newFixture(t, Config{})
	created := time.Now().UTC().Add(-time.Hour)
	signed := created.Add(time.Minute)
	submissionID := "6161"
	draft := domain.NewDocument(uuid.New(), "Agreement", "prenup", nil, nil, created)
	draft.PartyASignedAt = &signed
	draft.ExternalSubmissionID = &submissionID
	draft.ExternalSubmitters = map[domain.SignerRole]domain.SubmitterRef{
		domain.RolePartyA: {Slug: "draft-a", SubmitterID: 21},
	}
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertDocument(ctx, draft)
	}))

	for _, body := range []string{
		`{"event_type":"form.completed","data":{"id":99,"submission_id":6161,"role":"Party B"}}`,
		`{"event_type":"form.completed","data":{"id":98,"submission_id":6161,"submitter_order":2}}`,
		`{"event_type":"form.completed","data":{"id":97,"submission_id":6161,"role":"Notary"}}`,
	} {
		rec := f.signed(t, body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	stored, err := f.store.Documents().GetByID(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, stored.Status)
	assert.Nil(t, stored.PartyBID)
	assert.Nil(t, stored.PartyBSignedAt)
	assert.Nil(t, stored.NotarizedAt)
}
