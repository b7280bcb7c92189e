package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rpattn/lexsign/internal/domain"
	"github.com/rpattn/lexsign/pkg/httpx"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultMaxBodyBytes = 1 << 20

// Applier reconciles verified events.
type Applier interface {
	Apply(ctx context.Context, actor domain.Actor, ev Event) (Outcome, error)
}

// Recorder appends audit entries that are not tied to a document transition.
type Recorder interface {
	Record(ctx context.Context, action domain.AuditAction, documentID uuid.UUID, actor domain.Actor, metadata map[string]any) (domain.AuditEntry, error)
}

// Observer counts callback outcomes.
type Observer interface {
	ObserveWebhook(outcome string)
	ObserveWebhookRejection(reason string)
}

// Config controls webhook authentication.
type Config struct {
	Secret       string
	MaxBodyBytes int64
	// VerboseErrors exposes the rejection reason in responses. Development only.
	VerboseErrors bool
	Observer      Observer
}

// Handler serves the provider callback endpoint.
type Handler struct {
	applier  Applier
	recorder Recorder
	cfg      Config
	logger   *zap.Logger
}

// NewHandler builds the callback handler.
func NewHandler(applier Applier, recorder Recorder, cfg Config, logger *zap.Logger) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{applier: applier, recorder: recorder, cfg: cfg, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httpx.WriteError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "payload too large", nil)
			return
		}
		httpx.WriteError(w, http.StatusBadRequest, "BAD_BODY", "could not read body", nil)
		return
	}

	actor := domain.SystemActor(httpx.ClientIP(r), r.UserAgent())
	header := r.Header.Get(SignatureHeader)
	if err := Verify(h.cfg.Secret, body, header); err != nil {
		h.reject(w, r, actor, header, err)
		return
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		h.logger.Warn("verified webhook with unparseable body", zap.Error(err))
		httpx.WriteError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid payload", nil)
		return
	}

	outcome, err := h.applier.Apply(r.Context(), actor, ev)
	if err != nil {
		status := statusFor(err)
		h.logger.Error("webhook processing failed",
			zap.String("event", ev.Type()),
			zap.String("submission_id", ev.SubmissionID()),
			zap.Int("status", status),
			zap.Error(err),
		)
		httpx.WriteError(w, status, domain.ErrorCode(err), "webhook processing failed", nil)
		return
	}
	if h.cfg.Observer != nil {
		h.cfg.Observer.ObserveWebhook(string(outcome))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "outcome": outcome})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request, actor domain.Actor, header string, err error) {
	reason := err.Error()
	var verr *VerificationError
	if errors.As(err, &verr) {
		reason = verr.Reason
	}
	h.logger.Warn("webhook signature verification failed",
		zap.String("reason", reason),
		zap.Bool("header_present", header != ""),
		zap.String("source_ip", actor.SourceIP),
		zap.String("path", r.URL.Path),
	)
	if h.cfg.Observer != nil {
		h.cfg.Observer.ObserveWebhookRejection(reason)
	}

	if _, recErr := h.recorder.Record(r.Context(), domain.ActionWebhookRejected, uuid.Nil, actor, map[string]any{
		"reason":        reason,
		"headerPresent": header != "",
		"path":          r.URL.Path,
	}); recErr != nil {
		h.logger.Error("failed to audit rejected webhook", zap.Error(recErr))
		httpx.WriteError(w, http.StatusServiceUnavailable, domain.ErrorCode(recErr), "service unavailable", nil)
		return
	}

	if h.cfg.VerboseErrors {
		httpx.WriteError(w, http.StatusUnauthorized, domain.ErrorCode(err), "webhook signature verification failed", map[string]any{
			"reason":         reason,
			"expectedFormat": "sha256=<64 hex characters>",
			"header":         SignatureHeader,
		})
		return
	}
	httpx.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid webhook signature", nil)
}

// statusFor keeps transient failures retryable by the provider.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrExternalProvider):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
