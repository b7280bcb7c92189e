package auth

import (
	"net/http"
	"strings"

	"github.com/rpattn/lexsign/internal/domain"
	"github.com/rpattn/lexsign/pkg/httpx"

	"go.uber.org/zap"
)

// Middleware authenticates "Authorization: Bearer <token>" and stores the actor, with the
// request's source address and user agent, in the request context.
func Middleware(verifier *Verifier, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" {
				httpx.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing authorization", nil)
				return
			}
			parts := strings.Fields(header)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				httpx.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid authorization header", nil)
				return
			}

			id, role, err := verifier.Parse(parts[1])
			if err != nil {
				logger.Debug("rejected bearer token", zap.String("path", r.URL.Path), zap.Error(err))
				httpx.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token", nil)
				return
			}

			actor := domain.Actor{
				ID:        id,
				Role:      role,
				SourceIP:  httpx.ClientIP(r),
				UserAgent: r.UserAgent(),
			}
			next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
		})
	}
}
