package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/warc-langfilter/internal/dispatcher"
)

type fixedSnapshots struct {
	snap dispatcher.Snapshot
}

func (f fixedSnapshots) Snapshot() dispatcher.Snapshot { return f.snap }

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServerHealthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(nil, nil, nil, zap.NewNop()), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServerReadyzReportsFailedChecks(t *testing.T) {
	t.Parallel()

	checks := map[string]ReadinessCheck{
		"ledger": func(context.Context) error { return errors.New("connection refused") },
		"disk":   func(context.Context) error { return nil },
	}
	rec := serve(t, NewServer(nil, nil, checks, zap.NewNop()), "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
	assert.NotContains(t, rec.Body.String(), "disk")

	rec = serve(t, NewServer(nil, nil, nil, zap.NewNop()), "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServerProgressSnapshot(t *testing.T) {
	t.Parallel()

	snap := dispatcher.Snapshot{Running: true, BatchesTotal: 4, BatchesDone: 1, Succeeded: 5, Failed: 1}
	rec := serve(t, NewServer(fixedSnapshots{snap: snap}, nil, nil, zap.NewNop()), "/v1/progress")
	require.Equal(t, http.StatusOK, rec.Code)

	var got dispatcher.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 4, got.BatchesTotal)
	assert.Equal(t, 5, got.Succeeded)
	assert.True(t, got.Running)

	rec = serve(t, NewServer(nil, nil, nil, zap.NewNop()), "/v1/progress")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerMetrics(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, nil, nil, zap.NewNop())
	serve(t, s, "/healthz")
	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "langfilter_http_requests_total")
}

func TestServerRecoversPanics(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, nil, nil, zap.NewNop())
	s.router.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })
	rec := serve(t, s, "/boom")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
