package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rpattn/lexsign/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionAndWebhookCounters(t *testing.T) {
	m := New()
	m.ObserveTransition("notarize", nil)
	m.ObserveTransition("notarize", domain.ErrConflict)
	m.ObserveTransition("notarize", errors.New("boom"))
	m.ObserveConflict("notarize")
	m.ObserveWebhook("applied")
	m.ObserveWebhookRejection("mismatch")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("notarize", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("notarize", "CONFLICT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("notarize", "INTERNAL_ERROR")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts.WithLabelValues("notarize")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookEvents.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookRejections.WithLabelValues("mismatch")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTransition("edit", nil)
	m.ObserveConflict("edit")
	m.ObserveWebhook("applied")
	m.ObserveWebhookRejection("missing")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	assert.NotNil(t, m.Middleware(next))
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", m.Handler())

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/documents/"+id, nil))
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues(http.MethodGet, "/documents/{id}", "404")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "lexsign_http_requests_total"))
}
