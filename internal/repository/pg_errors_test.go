package repository

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/rpattn/lexsign/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	cases := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, domain.ErrNotFound},
		{"duplicate signature", &pgconn.PgError{Code: "23505", ConstraintName: signatureUniqueConstraint}, domain.ErrDuplicateSignature},
		{"other unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "documents_external_submission_id_key"}, domain.ErrConflict},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, domain.ErrConflict},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, domain.ErrConflict},
		{"connection failure", &pgconn.PgError{Code: "08006"}, domain.ErrStorageUnavailable},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, domain.ErrStorageUnavailable},
		{"too many connections", &pgconn.PgError{Code: "53300"}, domain.ErrStorageUnavailable},
		{"dial error", fmt.Errorf("acquire: %w", dialErr), domain.ErrStorageUnavailable},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), domain.ErrStorageUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify("load document", tc.err)
			require.Error(t, got)
			assert.ErrorIs(t, got, tc.want)
		})
	}

	assert.NoError(t, classify("load document", nil))
	assert.ErrorIs(t, classify("insert signature", &pgconn.PgError{Code: "23505", ConstraintName: signatureUniqueConstraint}), domain.ErrPreconditionFailed)
}

func TestClassifyPassesThroughUnknownAndCancelled(t *testing.T) {
	cancelled := classify("list documents", fmt.Errorf("query: %w", context.Canceled))
	assert.ErrorIs(t, cancelled, context.Canceled)
	assert.NotErrorIs(t, cancelled, domain.ErrStorageUnavailable)

	invalid := &pgconn.PgError{Code: "22P02", Message: "invalid input syntax"}
	got := classify("load document", invalid)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, got, &pgErr)
	assert.Equal(t, "22P02", pgErr.Code)
	for _, kind := range []error{domain.ErrConflict, domain.ErrStorageUnavailable, domain.ErrNotFound} {
		assert.NotErrorIs(t, got, kind)
	}
}
