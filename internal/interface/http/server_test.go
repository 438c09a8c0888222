package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estudia/material-bot/internal/infrastructure/external/telegram"
	"github.com/estudia/material-bot/internal/interface/http/handlers"
)

type recordingDispatcher struct {
	mu      sync.Mutex
	updates []*telegram.Update
}

func (d *recordingDispatcher) Dispatch(u *telegram.Update) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = append(d.updates, u)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func newTestServer(t *testing.T, dbErr error) (*Server, *recordingDispatcher) {
	t.Helper()
	health := handlers.NewCompositeHealthChecker("test")
	health.AddCheck("postgres", handlers.NewPingCheck(pinger{err: dbErr}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "turns_total", Help: "turns"}))

	cfg := DefaultConfig()
	cfg.WebhookSecret = "s3cret"
	d := &recordingDispatcher{}
	return NewServer(cfg, Dependencies{
		HealthChecker: health,
		Metrics:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Updates:       d,
	}), d
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"postgres"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	down, _ := newTestServer(t, errors.New("pool closed"))
	rec = do(t, down.Handler(), http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "turns_total")
}

func TestServer_Webhook(t *testing.T) {
	s, d := newTestServer(t, nil)
	h := s.Handler()
	update := `{"update_id":10,"callback_query":{"id":"cb","from":{"id":5},"data":"SetCurso:MA101"}}`

	rec := do(t, h, http.MethodPost, "/webhook/telegram", update, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/webhook/telegram", "{", map[string]string{secretTokenHeader: "s3cret"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/webhook/telegram", update, map[string]string{secretTokenHeader: "s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, d.updates, 1)
	assert.Equal(t, int64(10), d.updates[0].UpdateID)
	assert.Equal(t, "SetCurso:MA101", d.updates[0].CallbackQuery.Data)
}
