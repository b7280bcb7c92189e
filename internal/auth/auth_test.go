package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rpattn/lexsign/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActorContextRoundTrip(t *testing.T) {
	_, ok := ActorFromContext(context.Background())
	assert.False(t, ok)

	_, err := RequireActor(context.Background())
	require.ErrorIs(t, err, domain.ErrAuthorization)

	actor := domain.Actor{ID: uuid.New(), Role: domain.AccountNotary}
	got, ok := ActorFromContext(ContextWithActor(context.Background(), actor))
	require.True(t, ok)
	assert.Equal(t, actor, got)

	_, ok = ActorFromContext(ContextWithActor(context.Background(), domain.Actor{}))
	assert.False(t, ok, "nil ids are not authenticated")
}

func TestVerifierParsesIssuedToken(t *testing.T) {
	v, err := NewVerifier("secret", "lexsign-auth")
	require.NoError(t, err)

	id := uuid.New()
	token, err := v.Issue(id, domain.AccountNotary, "n@example.com", time.Minute)
	require.NoError(t, err)

	gotID, role, err := v.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, domain.AccountNotary, role)
}

func TestVerifierRejectsBadTokens(t *testing.T) {
	v, err := NewVerifier("secret", "lexsign-auth")
	require.NoError(t, err)
	other, err := NewVerifier("other-secret", "lexsign-auth")
	require.NoError(t, err)
	foreign, err := NewVerifier("secret", "someone-else")
	require.NoError(t, err)

	wrongKey, err := other.Issue(uuid.New(), domain.AccountUser, "", time.Minute)
	require.NoError(t, err)
	expired, err := v.Issue(uuid.New(), domain.AccountUser, "", -time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := foreign.Issue(uuid.New(), domain.AccountUser, "", time.Minute)
	require.NoError(t, err)
	system, err := v.Issue(uuid.New(), domain.AccountSystem, "", time.Minute)
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "lexsign-auth", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"wrong key":    wrongKey,
		"expired":      expired,
		"wrong issuer": wrongIssuer,
		"system role":  system,
		"no subject":   noSubject,
		"garbage":      "not.a.token",
	} {
		_, _, err := v.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}

	_, err = NewVerifier(" ", "")
	require.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	v, err := NewVerifier("secret", "")
	require.NoError(t, err)
	id := uuid.New()
	token, err := v.Issue(id, domain.AccountUser, "", time.Minute)
	require.NoError(t, err)

	var seen domain.Actor
	handler := Middleware(v, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"invalid", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/documents", nil)
			req.RemoteAddr = "192.0.2.10:5555"
			req.Header.Set("User-Agent", "agent/1.0")
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
	assert.Equal(t, id, seen.ID)
	assert.Equal(t, "192.0.2.10", seen.SourceIP)
	assert.Equal(t, "agent/1.0", seen.UserAgent)
}
