package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rpattn/lexsign/internal/domain"
	"github.com/rpattn/lexsign/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSubmissionLinksDocument(t *testing.T) {
	h := newHarness(t)
	doc := h.pendingPartyB(t)

	submissionID := h.linkSubmission(t, doc.ID)
	assert.Equal(t, "501", submissionID)

	stored := h.stored(t, doc.ID)
	require.True(t, stored.HasSubmission())
	assert.Equal(t, "slug-partyB", stored.ExternalSubmitters[domain.RolePartyB].Slug)
	assert.Equal(t, domain.StatusPendingPartyB, stored.Status)

	require.Len(t, h.provider.created, 1)
	req := h.provider.created[0]
	assert.EqualValues(t, 9, req.TemplateID)
	require.Len(t, req.Submitters, 2)
	assert.Equal(t, "a@example.com", req.Submitters[0].Email)
	assert.Equal(t, "b@example.com", req.Submitters[1].Email)
	assert.Equal(t, 1, req.Submitters[1].Order)

	entries := h.audit(t, doc.ID)
	assert.Equal(t, domain.ActionSubmissionCreated, entries[len(entries)-1].Action)

	_, err := h.engine.CreateSubmission(context.Background(), h.partyA, doc.ID, SubmissionInput{TemplateID: 9})
	require.ErrorIs(t, err, domain.ErrPreconditionFailed)
}

func TestCreateSubmissionProviderFailureChangesNothing(t *testing.T) {
	h := newHarness(t)
	doc := h.pendingPartyB(t)
	before := h.audit(t, doc.ID)
	h.provider.createErr = fmt.Errorf("%w: status 500", domain.ErrExternalProvider)

	_, err := h.engine.CreateSubmission(context.Background(), h.partyA, doc.ID, SubmissionInput{TemplateID: 9})
	require.ErrorIs(t, err, domain.ErrExternalProvider)

	assert.False(t, h.stored(t, doc.ID).HasSubmission())
	assert.Len(t, h.audit(t, doc.ID), len(before))
}

func TestCreateSubmissionRequiresPartyA(t *testing.T) {
	h := newHarness(t)
	doc := h.pendingPartyB(t)

	_, err := h.engine.CreateSubmission(context.Background(), h.partyB, doc.ID, SubmissionInput{TemplateID: 9})
	require.ErrorIs(t, err, domain.ErrAuthorization)
	assert.Empty(t, h.provider.created)
}

func TestCreateSubmissionLosesToConcurrentLink(t *testing.T) {
	h := newHarness(t)
	doc := h.pendingPartyB(t)

	var once sync.Once
	h.provider.beforeReply = func() {
		once.Do(func() {
			_, err := h.engine.CreateSubmission(context.Background(), h.partyA, doc.ID, SubmissionInput{TemplateID: 9})
			assert.NoError(t, err)
		})
	}

	_, err := h.engine.CreateSubmission(context.Background(), h.partyA, doc.ID, SubmissionInput{TemplateID: 9})
	require.ErrorIs(t, err, domain.ErrConflict)

	linked := 0
	for _, entry := range h.audit(t, doc.ID) {
		if entry.Action == domain.ActionSubmissionCreated {
			linked++
		}
	}
	assert.Equal(t, 1, linked)
	assert.True(t, h.stored(t, doc.ID).HasSubmission())
}

func TestExternalSignerAdvancesAndIgnoresReplays(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.pendingPartyB(t)
	submissionID := h.linkSubmission(t, doc.ID)
	signedAt := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	updated, err := h.engine.ApplyExternalSigner(ctx, h.system, submissionID, domain.RolePartyB, &signedAt)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingNotary, updated.Status)
	require.NotNil(t, updated.PartyBSignedAt)
	count := len(h.audit(t, doc.ID))

	for i := 0; i < 3; i++ {
		again, err := h.engine.ApplyExternalSigner(ctx, h.system, submissionID, domain.RolePartyB, &signedAt)
		require.NoError(t, err)
		assert.Equal(t, updated.Revision, again.Revision)
	}
	_, err = h.engine.ApplyExternalSigner(ctx, h.system, submissionID, domain.RolePartyA, nil)
	require.NoError(t, err)
	assert.Len(t, h.audit(t, doc.ID), count)

	entries := h.audit(t, doc.ID)
	last := entries[len(entries)-1]
	assert.Equal(t, domain.ActionExternalSignerCompleted, last.Action)
	assert.Equal(t, "2026-03-01T08:00:00Z", last.Metadata["reportedSignedAt"])
	assert.Nil(t, last.ActorID)
}

func TestExternalNotaryWaitsForParties(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.pendingPartyB(t)
	submissionID := h.linkSubmission(t, doc.ID)

	early, err := h.engine.ApplyExternalSigner(ctx, h.system, submissionID, domain.RoleNotary, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingPartyB, early.Status)
	assert.Nil(t, early.NotarizedAt)

	_, err = h.engine.ApplyExternalSigner(ctx, h.system, submissionID, domain.RolePartyB, nil)
	require.NoError(t, err)
	done, err := h.engine.ApplyExternalSigner(ctx, h.system, submissionID, domain.RoleNotary, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	require.NoError(t, done.CheckInvariants())
}

func TestExternalEventsOutOfOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.pendingPartyB(t)
	submissionID := h.linkSubmission(t, doc.ID)

	completed, err := h.engine.ExternalSync(ctx, h.system, submissionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, completed.Status)
	require.NotNil(t, completed.PartyBSignedAt)
	assert.True(t, completed.NotarizedAt.Equal(*completed.CompletedAt))
	count := len(h.audit(t, doc.ID))

	late, err := h.engine.ApplyExternalSigner(ctx, h.system, submissionID, domain.RolePartyB, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, late.Status)

	again, err := h.engine.ExternalSync(ctx, h.system, submissionID)
	require.NoError(t, err)
	assert.Equal(t, completed.Revision, again.Revision)
	assert.Len(t, h.audit(t, doc.ID), count)

	_, err = h.engine.ExternalCancel(ctx, h.system, submissionID, "expired")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, h.stored(t, doc.ID).Status)
}

func TestExternalCancel(t *testing.T) {
	h := newHarness(t)
	doc := h.pendingPartyB(t)
	submissionID := h.linkSubmission(t, doc.ID)

	cancelled, err := h.engine.ExternalCancel(context.Background(), h.system, submissionID, "declined")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)

	entries := h.audit(t, doc.ID)
	last := entries[len(entries)-1]
	assert.Equal(t, domain.ActionCancelled, last.Action)
	assert.Equal(t, "provider", last.Metadata["source"])
	assert.Equal(t, string(domain.StatusPendingPartyB), last.Metadata["previousStatus"])
}

func TestExternalEventForUnknownSubmission(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.ApplyExternalSigner(context.Background(), h.system, "999", domain.RolePartyA, nil)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubmissionStatusSyncsCompleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.pendingPartyB(t)
	h.linkSubmission(t, doc.ID)

	h.provider.status = provider.SubmissionStatus{Status: "pending"}
	view, err := h.engine.SubmissionStatus(ctx, h.partyA, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "501", view.Submission.ID)
	assert.Equal(t, domain.StatusPendingPartyB, view.Document.Status)

	h.provider.status = provider.SubmissionStatus{Submitters: []provider.SubmitterStatus{
		{Slug: "slug-partyA", Status: "completed"},
		{Slug: "slug-partyB", Status: "completed"},
	}}
	view, err = h.engine.SubmissionStatus(ctx, h.partyB, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, view.Document.Status)

	h.provider.statusErr = fmt.Errorf("%w: timeout", domain.ErrExternalProvider)
	_, err = h.engine.SubmissionStatus(ctx, h.partyA, doc.ID)
	require.ErrorIs(t, err, domain.ErrExternalProvider)
}

func TestEmbedInfo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.pendingPartyB(t)

	_, err := h.engine.EmbedInfo(ctx, h.partyB, doc.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	h.linkSubmission(t, doc.ID)
	info, err := h.engine.EmbedInfo(ctx, h.partyB, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RolePartyB, info.Role)
	assert.Equal(t, "https://forms.test/s/slug-partyB", info.EmbedURL)
	assert.Equal(t, "https://forms.test", info.FormBaseURL)

	_, err = h.engine.EmbedInfo(ctx, h.notary, doc.ID)
	require.ErrorIs(t, err, domain.ErrAuthorization)
}

func TestSignedDocumentsAreMerged(t *testing.T) {
	h := newHarness(t)
	doc := h.pendingPartyB(t)
	h.linkSubmission(t, doc.ID)
	h.provider.documents = []provider.SignedDocument{{Name: "agreement.pdf", URL: "https://files.test/agreement.pdf"}}

	docs, err := h.engine.SignedDocuments(context.Background(), h.partyA, doc.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "agreement.pdf", docs[0].Name)
}

func TestExternalPartyBIgnoredBeforeInvitation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.create(t)
	h.sign(t, h.partyA, doc.ID)
	submissionID := h.linkSubmission(t, doc.ID)
	count := len(h.audit(t, doc.ID))

	got, err := h.engine.ApplyExternalSigner(ctx, h.system, submissionID, domain.RolePartyB, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, got.Status)
	assert.Nil(t, got.PartyBID)
	assert.Nil(t, got.PartyBSignedAt)

	got, err = h.engine.ApplyExternalSigner(ctx, h.system, submissionID, domain.RoleNotary, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, got.Status)
	assert.Nil(t, got.NotarizedAt)
	assert.Len(t, h.audit(t, doc.ID), count)

	stored := h.stored(t, doc.ID)
	assert.Equal(t, domain.StatusDraft, stored.Status)
	require.NoError(t, stored.CheckInvariants())
}

func TestExternalSyncCompletesFromDraft(t *testing.T) {
	h := newHarness(t)
	doc := h.create(t)
	submissionID := h.linkSubmission(t, doc.ID)

	completed, err := h.engine.ExternalSync(context.Background(), h.system, submissionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, completed.Status)
	require.NoError(t, completed.CheckInvariants())
}
