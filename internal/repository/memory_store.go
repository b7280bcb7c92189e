package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rpattn/lexsign/internal/domain"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store with optimistic commit validation. Each Tx buffers its
// writes and validates document revisions and signature uniqueness when it commits, so two
// transactions that read the same revision cannot both commit.
type MemoryStore struct {
	mu          sync.RWMutex
	documents   map[uuid.UUID]domain.Document
	submissions map[string]uuid.UUID
	signatures  map[uuid.UUID][]domain.Signature
	audit       []domain.AuditEntry
	outbox      []domain.Notification

	unavailable atomic.Bool
	commitHook  func()
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents:   make(map[uuid.UUID]domain.Document),
		submissions: make(map[string]uuid.UUID),
		signatures:  make(map[uuid.UUID][]domain.Signature),
	}
}

// SetUnavailable makes every operation fail with domain.ErrStorageUnavailable.
func (s *MemoryStore) SetUnavailable(down bool) {
	s.unavailable.Store(down)
}

// SetCommitHook installs fn to run before each commit acquires the write lock.
func (s *MemoryStore) SetCommitHook(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitHook = fn
}

func (s *MemoryStore) check() error {
	if s.unavailable.Load() {
		return fmt.Errorf("%w: memory store offline", domain.ErrStorageUnavailable)
	}
	return nil
}

// Ping reports store availability.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return s.check()
}

// WithinTx runs fn against a buffered transaction and commits it if fn succeeds.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := s.check(); err != nil {
		return err
	}
	tx := &memoryTx{
		store: s,
		docs:  make(map[uuid.UUID]*pendingDocument),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}
	return s.commit(tx)
}

func (s *MemoryStore) commit(tx *memoryTx) error {
	s.mu.RLock()
	hook := s.commitHook
	s.mu.RUnlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return err
	}

	for id, pending := range tx.docs {
		current, exists := s.documents[id]
		switch {
		case pending.inserted && exists:
			return fmt.Errorf("%w: document %s already exists", domain.ErrConflict, id)
		case !pending.inserted && !exists:
			return fmt.Errorf("%w: document %s was removed", domain.ErrConflict, id)
		case !pending.inserted && current.Revision != pending.expectedRevision:
			return fmt.Errorf("%w: document %s changed since it was read", domain.ErrConflict, id)
		}
		if !pending.deleted && pending.doc.HasSubmission() {
			owner, taken := s.submissions[*pending.doc.ExternalSubmissionID]
			if taken && owner != id {
				return fmt.Errorf("%w: submission already linked to another document", domain.ErrConflict)
			}
		}
	}
	for _, sig := range tx.signatures {
		for _, existing := range s.signatures[sig.DocumentID] {
			if existing.SignerID == sig.SignerID {
				return domain.ErrDuplicateSignature
			}
		}
	}

	for id, pending := range tx.docs {
		if previous, ok := s.documents[id]; ok && previous.HasSubmission() {
			delete(s.submissions, *previous.ExternalSubmissionID)
		}
		if pending.deleted {
			delete(s.documents, id)
			continue
		}
		s.documents[id] = cloneDocument(pending.doc)
		if pending.doc.HasSubmission() {
			s.submissions[*pending.doc.ExternalSubmissionID] = id
		}
	}
	for _, sig := range tx.signatures {
		s.signatures[sig.DocumentID] = append(s.signatures[sig.DocumentID], sig)
	}
	s.audit = append(s.audit, tx.audit...)
	s.outbox = append(s.outbox, tx.notifications...)
	return nil
}

func (s *MemoryStore) Documents() DocumentRepository   { return memoryDocuments{s} }
func (s *MemoryStore) Signatures() SignatureRepository { return memorySignatures{s} }
func (s *MemoryStore) Audit() AuditRepository          { return memoryAudit{s} }
func (s *MemoryStore) Outbox() OutboxRepository        { return memoryOutbox{s} }

type pendingDocument struct {
	doc              domain.Document
	expectedRevision int64
	inserted         bool
	deleted          bool
}

type memoryTx struct {
	store         *MemoryStore
	docs          map[uuid.UUID]*pendingDocument
	signatures    []domain.Signature
	audit         []domain.AuditEntry
	notifications []domain.Notification
}

func (t *memoryTx) GetDocument(ctx context.Context, id uuid.UUID) (domain.Document, error) {
	if pending, ok := t.docs[id]; ok {
		if pending.deleted {
			return domain.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
		}
		return cloneDocument(pending.doc), nil
	}
	return t.store.getDocument(id)
}

func (t *memoryTx) GetDocumentBySubmission(ctx context.Context, submissionID string) (domain.Document, error) {
	for _, pending := range t.docs {
		if !pending.deleted && pending.doc.HasSubmission() && *pending.doc.ExternalSubmissionID == submissionID {
			return cloneDocument(pending.doc), nil
		}
	}
	return t.store.getDocumentBySubmission(submissionID)
}

func (t *memoryTx) InsertDocument(ctx context.Context, doc domain.Document) error {
	if _, ok := t.docs[doc.ID]; ok {
		return fmt.Errorf("%w: document %s already written in this transaction", domain.ErrConflict, doc.ID)
	}
	doc.Revision = 1
	t.docs[doc.ID] = &pendingDocument{doc: cloneDocument(doc), inserted: true}
	return nil
}

func (t *memoryTx) UpdateDocument(ctx context.Context, doc domain.Document) (domain.Document, error) {
	pending, ok := t.docs[doc.ID]
	if !ok {
		pending = &pendingDocument{expectedRevision: doc.Revision}
		t.docs[doc.ID] = pending
	} else if pending.doc.Revision != doc.Revision {
		return domain.Document{}, fmt.Errorf("%w: stale document in transaction", domain.ErrConflict)
	}
	doc.Revision++
	pending.doc = cloneDocument(doc)
	return cloneDocument(doc), nil
}

func (t *memoryTx) DeleteDocument(ctx context.Context, doc domain.Document) error {
	pending, ok := t.docs[doc.ID]
	if !ok {
		pending = &pendingDocument{expectedRevision: doc.Revision}
		t.docs[doc.ID] = pending
	}
	pending.doc = cloneDocument(doc)
	pending.deleted = true
	return nil
}

func (t *memoryTx) RecordSignature(ctx context.Context, sig domain.Signature) (domain.Signature, error) {
	if len(sig.Payload) == 0 {
		return domain.Signature{}, domain.ErrEmptyPayload
	}
	existing, err := t.ListSignatures(ctx, sig.DocumentID)
	if err != nil {
		return domain.Signature{}, err
	}
	for _, s := range existing {
		if s.SignerID == sig.SignerID {
			return domain.Signature{}, domain.ErrDuplicateSignature
		}
	}
	t.signatures = append(t.signatures, sig)
	return sig, nil
}

func (t *memoryTx) ListSignatures(ctx context.Context, documentID uuid.UUID) ([]domain.Signature, error) {
	committed, err := t.store.listSignatures(documentID)
	if err != nil {
		return nil, err
	}
	for _, sig := range t.signatures {
		if sig.DocumentID == documentID {
			committed = append(committed, sig)
		}
	}
	sortSignatures(committed)
	return committed, nil
}

func (t *memoryTx) AppendAudit(ctx context.Context, entry domain.AuditEntry) error {
	if !entry.Action.Valid() {
		return fmt.Errorf("%w: unknown audit action %q", domain.ErrValidation, entry.Action)
	}
	t.audit = append(t.audit, entry)
	return nil
}

func (t *memoryTx) EnqueueNotifications(ctx context.Context, notifications []domain.Notification) error {
	t.notifications = append(t.notifications, notifications...)
	return nil
}

func (s *MemoryStore) getDocument(id uuid.UUID) (domain.Document, error) {
	if err := s.check(); err != nil {
		return domain.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return domain.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return cloneDocument(doc), nil
}

func (s *MemoryStore) getDocumentBySubmission(submissionID string) (domain.Document, error) {
	if err := s.check(); err != nil {
		return domain.Document{}, err
	}
	s.mu.RLock()
	id, ok := s.submissions[strings.TrimSpace(submissionID)]
	s.mu.RUnlock()
	if !ok {
		return domain.Document{}, fmt.Errorf("submission %s: %w", submissionID, domain.ErrNotFound)
	}
	return s.getDocument(id)
}

func (s *MemoryStore) listSignatures(documentID uuid.UUID) ([]domain.Signature, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]domain.Signature(nil), s.signatures[documentID]...)
	sortSignatures(out)
	return out, nil
}

type memoryDocuments struct{ s *MemoryStore }

func (r memoryDocuments) GetByID(ctx context.Context, id uuid.UUID) (domain.Document, error) {
	return r.s.getDocument(id)
}

func (r memoryDocuments) GetBySubmission(ctx context.Context, submissionID string) (domain.Document, error) {
	return r.s.getDocumentBySubmission(submissionID)
}

func (r memoryDocuments) List(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, int, error) {
	if err := r.s.check(); err != nil {
		return nil, 0, err
	}
	r.s.mu.RLock()
	matched := []domain.Document{}
	for _, doc := range r.s.documents {
		if filter.Participant != uuid.Nil && !doc.IsParticipant(filter.Participant) {
			continue
		}
		if filter.Status != nil && doc.Status != *filter.Status {
			continue
		}
		matched = append(matched, cloneDocument(doc))
	}
	r.s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	start := filter.Offset
	if start > total {
		start = total
	}
	end := total
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return matched[start:end], total, nil
}

func (r memoryDocuments) ListPendingForNotary(ctx context.Context, notaryID uuid.UUID) ([]domain.Document, error) {
	if err := r.s.check(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []domain.Document{}
	for _, doc := range r.s.documents {
		if doc.Status != domain.StatusPendingNotary {
			continue
		}
		if doc.Notary.IsAssigned() && !doc.Notary.Is(notaryID) {
			continue
		}
		out = append(out, cloneDocument(doc))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (r memoryDocuments) NotaryStats(ctx context.Context, notaryID uuid.UUID) (domain.NotaryStats, error) {
	if err := r.s.check(); err != nil {
		return domain.NotaryStats{}, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var stats domain.NotaryStats
	for _, doc := range r.s.documents {
		open := doc.Status == domain.StatusPendingNotary && (!doc.Notary.IsAssigned() || doc.Notary.Is(notaryID))
		if open {
			stats.Pending++
		}
		if doc.Notary.Is(notaryID) && doc.Status == domain.StatusCompleted {
			stats.Completed++
		}
		if doc.Notary.Is(notaryID) || (doc.Status == domain.StatusPendingNotary && !doc.Notary.IsAssigned()) {
			stats.Total++
		}
	}
	return stats, nil
}

type memorySignatures struct{ s *MemoryStore }

func (r memorySignatures) ListFor(ctx context.Context, documentID uuid.UUID) ([]domain.Signature, error) {
	return r.s.listSignatures(documentID)
}

func (r memorySignatures) ListForDocuments(ctx context.Context, documentIDs []uuid.UUID) (map[uuid.UUID][]domain.Signature, error) {
	out := make(map[uuid.UUID][]domain.Signature, len(documentIDs))
	for _, id := range documentIDs {
		sigs, err := r.s.listSignatures(id)
		if err != nil {
			return nil, err
		}
		out[id] = sigs
	}
	return out, nil
}

type memoryAudit struct{ s *MemoryStore }

func (r memoryAudit) Append(ctx context.Context, entry domain.AuditEntry) error {
	if err := r.s.check(); err != nil {
		return err
	}
	if !entry.Action.Valid() {
		return fmt.Errorf("%w: unknown audit action %q", domain.ErrValidation, entry.Action)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.audit = append(r.s.audit, entry)
	return nil
}

func (r memoryAudit) ListFor(ctx context.Context, documentID uuid.UUID) ([]domain.AuditEntry, error) {
	if err := r.s.check(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []domain.AuditEntry{}
	for _, entry := range r.s.audit {
		if entry.DocumentID != nil && *entry.DocumentID == documentID {
			out = append(out, entry)
		}
	}
	sortAudit(out)
	return out, nil
}

func (r memoryAudit) ListUnscoped(ctx context.Context, action domain.AuditAction, limit int) ([]domain.AuditEntry, error) {
	if err := r.s.check(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []domain.AuditEntry{}
	for _, entry := range r.s.audit {
		if entry.DocumentID == nil && (action == "" || entry.Action == action) {
			out = append(out, entry)
		}
	}
	sortAudit(out)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type memoryOutbox struct{ s *MemoryStore }

func (r memoryOutbox) ListPending(ctx context.Context, limit int) ([]domain.Notification, error) {
	if err := r.s.check(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []domain.Notification{}
	for _, n := range r.s.outbox {
		if n.DispatchedAt == nil {
			out = append(out, n)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r memoryOutbox) MarkDispatched(ctx context.Context, id uuid.UUID) error {
	if err := r.s.check(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.outbox {
		if r.s.outbox[i].ID == id && r.s.outbox[i].DispatchedAt == nil {
			now := time.Now().UTC()
			r.s.outbox[i].DispatchedAt = &now
		}
	}
	return nil
}

func sortSignatures(sigs []domain.Signature) {
	sort.SliceStable(sigs, func(i, j int) bool {
		return sigs[i].CapturedAt.Before(sigs[j].CapturedAt)
	})
}

func sortAudit(entries []domain.AuditEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		}
		return entries[i].ID < entries[j].ID
	})
}

// cloneDocument copies the mutable reference fields so stored records cannot be aliased.
func cloneDocument(doc domain.Document) domain.Document {
	out := doc
	if doc.PartyBID != nil {
		id := *doc.PartyBID
		out.PartyBID = &id
	}
	out.PartyASignedAt = cloneTime(doc.PartyASignedAt)
	out.PartyBSignedAt = cloneTime(doc.PartyBSignedAt)
	out.NotarizedAt = cloneTime(doc.NotarizedAt)
	out.CompletedAt = cloneTime(doc.CompletedAt)
	out.CancelledAt = cloneTime(doc.CancelledAt)
	if doc.ExternalSubmissionID != nil {
		id := *doc.ExternalSubmissionID
		out.ExternalSubmissionID = &id
	}
	if doc.ExternalSubmitters != nil {
		out.ExternalSubmitters = make(map[domain.SignerRole]domain.SubmitterRef, len(doc.ExternalSubmitters))
		for role, ref := range doc.ExternalSubmitters {
			out.ExternalSubmitters[role] = ref
		}
	}
	out.TemplateFields = append([]byte(nil), doc.TemplateFields...)
	out.FieldValues = append([]byte(nil), doc.FieldValues...)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
