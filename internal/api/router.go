// Package api exposes the document lifecycle over REST.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rpattn/lexsign/internal/auth"
	"github.com/rpattn/lexsign/internal/lifecycle"
	"github.com/rpattn/lexsign/internal/metrics"
	lexmw "github.com/rpattn/lexsign/internal/middleware"
	"github.com/rpattn/lexsign/internal/repository"
	"github.com/rpattn/lexsign/pkg/httpx"
	"github.com/rpattn/lexsign/pkg/validator"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Pinger reports whether storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the router serves.
type Deps struct {
	Engine            *lifecycle.Engine
	Signatures        repository.SignatureRepository
	Webhook           http.Handler
	Verifier          *auth.Verifier
	Health            Pinger
	Metrics           *metrics.Metrics
	DefaultTemplateID int64
	Logger            *zap.Logger
}

// Server holds the handlers behind the router.
type Server struct {
	engine            *lifecycle.Engine
	content           *validator.ContentValidator
	health            Pinger
	defaultTemplateID int64
	logger            *zap.Logger
}

// NewRouter builds the HTTP surface. Document and notary routes require a bearer token; the
// provider webhook authenticates by signature instead.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:            deps.Engine,
		content:           validator.NewContentValidator(),
		health:            deps.Health,
		defaultTemplateID: deps.DefaultTemplateID,
		logger:            logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(lexmw.LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(deps.Metrics.Middleware)

	r.Get("/healthz", s.healthz)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}
	if deps.Webhook != nil {
		r.Method(http.MethodPost, "/webhooks/signing-provider", deps.Webhook)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(auth.Middleware(deps.Verifier, logger))
		r.Use(lexmw.DataLoaderMiddleware(deps.Signatures))

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", s.createDocument)
			r.Get("/", s.listDocuments)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getDocument)
				r.Patch("/", s.editDocument)
				r.Delete("/", s.deleteDocument)

				r.Post("/send-to-party-b", s.sendToPartyB)
				r.Post("/send-to-notary", s.sendToNotary)
				r.Post("/signatures", s.addSignature)
				r.Get("/signatures", s.listSignatures)
				r.Post("/notarize", s.notarize)
				r.Post("/cancel", s.cancel)

				r.Get("/audit", s.auditTrail)
				r.Get("/audit.xlsx", s.auditTrailXLSX)

				r.Post("/submission", s.createSubmission)
				r.Get("/submission/status", s.submissionStatus)
				r.Get("/submission/embed", s.embedInfo)
				r.Get("/submission/documents", s.signedDocuments)
			})
		})

		r.Route("/notary", func(r chi.Router) {
			r.Get("/pending", s.pendingForNotary)
			r.Get("/stats", s.notaryStats)
		})
	})

	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
