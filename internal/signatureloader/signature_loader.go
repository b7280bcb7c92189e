// Package signatureloader batches signature reads for document listings.
package signatureloader

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/lexsign/internal/domain"
	"github.com/rpattn/lexsign/internal/repository"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"
)

// SignatureLoader resolves document ids to their signatures, one repository query per batch.
type SignatureLoader struct {
	Loader *dataloader.Loader
}

func NewSignatureLoader(repo repository.SignatureRepository) *SignatureLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := make([]uuid.UUID, len(keys))
		for i, k := range keys {
			id, err := uuid.Parse(k.String())
			if err != nil {
				return failAll(len(keys), fmt.Errorf("invalid document id %q: %w", k.String(), err))
			}
			ids[i] = id
		}

		byDocument, err := repo.ListForDocuments(ctx, ids)
		if err != nil {
			return failAll(len(keys), err)
		}

		// Results must line up with keys.
		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			sigs := byDocument[id]
			if sigs == nil {
				sigs = []domain.Signature{}
			}
			results[i] = &dataloader.Result{Data: sigs}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond))

	return &SignatureLoader{Loader: loader}
}

// Load returns the signatures of one document.
func (l *SignatureLoader) Load(ctx context.Context, documentID uuid.UUID) ([]domain.Signature, error) {
	value, err := l.Loader.Load(ctx, dataloader.StringKey(documentID.String()))()
	if err != nil {
		return nil, err
	}
	sigs, ok := value.([]domain.Signature)
	if !ok {
		return nil, fmt.Errorf("unexpected loader result %T", value)
	}
	return sigs, nil
}

// LoadMany returns signatures for each document, in the order given.
func (l *SignatureLoader) LoadMany(ctx context.Context, documentIDs []uuid.UUID) ([][]domain.Signature, error) {
	thunks := make([]dataloader.Thunk, len(documentIDs))
	for i, id := range documentIDs {
		thunks[i] = l.Loader.Load(ctx, dataloader.StringKey(id.String()))
	}
	out := make([][]domain.Signature, len(documentIDs))
	for i, thunk := range thunks {
		value, err := thunk()
		if err != nil {
			return nil, err
		}
		sigs, ok := value.([]domain.Signature)
		if !ok {
			return nil, fmt.Errorf("unexpected loader result %T", value)
		}
		out[i] = sigs
	}
	return out, nil
}

func failAll(n int, err error) []*dataloader.Result {
	results := make([]*dataloader.Result, n)
	for i := range results {
		results[i] = &dataloader.Result{Error: err}
	}
	return results
}
