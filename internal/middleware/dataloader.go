package middleware

import (
	"context"
	"net/http"

	"github.com/rpattn/lexsign/internal/repository"
	"github.com/rpattn/lexsign/internal/signatureloader"
)

type ctxKey string

const signatureLoaderKey ctxKey = "signatureLoader"

// DataLoaderMiddleware attaches a fresh signature loader to each request so batching never
// leaks cached rows across requests.
func DataLoaderMiddleware(repo repository.SignatureRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := signatureloader.NewSignatureLoader(repo)
			ctx := context.WithValue(r.Context(), signatureLoaderKey, loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SignatureLoaderFromContext retrieves the request's loader, or nil outside the middleware.
func SignatureLoaderFromContext(ctx context.Context) *signatureloader.SignatureLoader {
	if l, ok := ctx.Value(signatureLoaderKey).(*signatureloader.SignatureLoader); ok {
		return l
	}
	return nil
}
