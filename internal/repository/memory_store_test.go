package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rpattn/lexsign/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDocument(t *testing.T, store *MemoryStore) domain.Document {
	t.Helper()
	doc := domain.NewDocument(uuid.New(), "Agreement", "", nil, nil, time.Now().UTC())
	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.InsertDocument(ctx, doc)
	}))
	stored, err := store.Documents().GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	return stored
}

func TestMemoryStoreRejectsStaleRevision(t *testing.T) {
	store := NewMemoryStore()
	doc := seedDocument(t, store)
	require.EqualValues(t, 1, doc.Revision)

	first := doc
	first.Title = "first"
	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		_, err := tx.UpdateDocument(ctx, first)
		return err
	}))

	second := doc
	second.Title = "second"
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		_, err := tx.UpdateDocument(ctx, second)
		return err
	})
	require.ErrorIs(t, err, domain.ErrConflict)

	stored, err := store.Documents().GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", stored.Title)
	assert.EqualValues(t, 2, stored.Revision)
}

func TestMemoryStoreRollsBackOnError(t *testing.T) {
	store := NewMemoryStore()
	doc := seedDocument(t, store)
	boom := errors.New("boom")

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		doc.Title = "changed"
		if _, err := tx.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, domain.NewAuditEntry(domain.ActionUpdated, doc.ID, domain.Actor{}, time.Now(), nil)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	stored, err := store.Documents().GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Agreement", stored.Title)
	entries, err := store.Audit().ListFor(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryStoreDuplicateSignature(t *testing.T) {
	store := NewMemoryStore()
	doc := seedDocument(t, store)
	now := time.Now().UTC()

	sig, err := domain.NewSignature(doc.ID, doc.PartyAID, domain.SignatureTyped, []byte("A"), "", "", now)
	require.NoError(t, err)
	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		_, err := tx.RecordSignature(ctx, sig)
		return err
	}))

	again, err := domain.NewSignature(doc.ID, doc.PartyAID, domain.SignatureDrawn, []byte("B"), "", "", now)
	require.NoError(t, err)
	err = store.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		_, err := tx.RecordSignature(ctx, again)
		return err
	})
	require.ErrorIs(t, err, domain.ErrDuplicateSignature)
	require.ErrorIs(t, err, domain.ErrPreconditionFailed)

	sigs, err := store.Signatures().ListFor(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, []byte("A"), sigs[0].Payload)
}

func TestMemoryStoreUnavailable(t *testing.T) {
	store := NewMemoryStore()
	store.SetUnavailable(true)

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error { return nil })
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
	_, err = store.Documents().GetByID(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
	require.ErrorIs(t, store.Ping(context.Background()), domain.ErrStorageUnavailable)
}

func TestMemoryStoreSubmissionLookup(t *testing.T) {
	store := NewMemoryStore()
	doc := seedDocument(t, store)
	submission := "sub-42"
	doc.ExternalSubmissionID = &submission

	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		_, err := tx.UpdateDocument(ctx, doc)
		return err
	}))

	found, err := store.Documents().GetBySubmission(context.Background(), " sub-42 ")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, found.ID)

	_, err = store.Documents().GetBySubmission(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStoreListPaginates(t *testing.T) {
	store := NewMemoryStore()
	owner := uuid.New()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		doc := domain.NewDocument(owner, "doc", "", nil, nil, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
			return tx.InsertDocument(ctx, doc)
		}))
	}
	seedDocument(t, store)

	page, total, err := store.Documents().List(context.Background(), domain.DocumentFilter{Participant: owner, Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))
}

func TestMemoryDirectoryLookupByEmail(t *testing.T) {
	id := uuid.New()
	dir := NewMemoryDirectory(domain.Identity{ID: id, Email: "Bob@Example.com", Role: domain.AccountUser})

	identity, err := dir.LookupByEmail(context.Background(), " bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, identity.ID)

	_, err = dir.Lookup(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}
