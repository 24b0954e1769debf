package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ai-digest/internal/pipeline"
	"github.com/JakeFAU/ai-digest/internal/post"
)

type fakeRunner struct {
	mu     sync.Mutex
	got    []pipeline.Request
	report pipeline.Report
	err    error
	last   *pipeline.Report
	panics bool
}

func (f *fakeRunner) Run(ctx context.Context, req pipeline.Request) (pipeline.Report, error) {
	if f.panics {
		panic("runner exploded")
	}
	if ctx.Err() != nil {
		return pipeline.Report{}, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, req)
	return f.report, f.err
}

func (f *fakeRunner) Last() (pipeline.Report, bool) {
	if f.last == nil {
		return pipeline.Report{}, false
	}
	return *f.last, true
}

func newTestServer(runner *fakeRunner, cfg Config) *Server {
	if cfg.Accounts == nil {
		cfg.Accounts = []post.AccountTarget{{Handle: "OpenAI"}, {Handle: "AnthropicAI"}}
	}
	if cfg.Window == 0 {
		cfg.Window = 24 * time.Hour
	}
	return NewServer(runner, cfg, nil)
}

func serve(s *Server, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(&fakeRunner{}, Config{}), http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsExposesCollectors(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeRunner{}, Config{})
	serve(s, http.MethodGet, "/healthz", "", nil)
	rec := serve(s, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "digest_http_requests_total")
}

func TestStartRunUsesDefaults(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{report: pipeline.Report{RunID: "r-1", Status: pipeline.StatusDelivered}}
	s := newTestServer(runner, Config{})

	rec := serve(s, http.MethodPost, "/v1/runs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got pipeline.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "r-1", got.RunID)
	require.Len(t, runner.got, 1)
	assert.Equal(t, []string{"OpenAI", "AnthropicAI"}, post.Handles(runner.got[0].Accounts))
	assert.Equal(t, 24*time.Hour, runner.got[0].Window)
}

func TestStartRunOverrides(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	s := newTestServer(runner, Config{})

	rec := serve(s, http.MethodPost, "/v1/runs", `{"accounts":["@GoogleAI","googleai","MistralAI"],"window_hours":120}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, runner.got, 1)
	assert.Equal(t, []string{"GoogleAI", "MistralAI"}, post.Handles(runner.got[0].Accounts))
	assert.Equal(t, 120*time.Hour, runner.got[0].Window)
}

func TestStartRunRejectsBadInput(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeRunner{}, Config{})
	cases := map[string]string{
		"malformed":      `{"accounts":`,
		"unknown field":  `{"acounts":["x"]}`,
		"blank accounts": `{"accounts":[" ", "@"]}`,
		"zero window":    `{"window_hours":0}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			rec := serve(s, http.MethodPost, "/v1/runs", body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestStartRunMapsErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		code int
	}{
		{name: "busy", err: pipeline.ErrBusy, code: http.StatusConflict},
		{name: "invalid", err: pipeline.ErrInvalidRequest, code: http.StatusBadRequest},
		{name: "crash", err: errors.New("pipeline panic: boom"), code: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			runner := &fakeRunner{err: tt.err, report: pipeline.Report{RunID: "r-9", Status: pipeline.StatusFailed}}
			rec := serve(newTestServer(runner, Config{}), http.MethodPost, "/v1/runs", "", nil)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestStartRunIgnoresClientCancellation(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{report: pipeline.Report{RunID: "r-2"}}
	s := newTestServer(runner, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, runner.got, 1)
}

func TestLatestRun(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	s := newTestServer(runner, Config{})
	rec := serve(s, http.MethodGet, "/v1/runs/latest", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	runner.last = &pipeline.Report{RunID: "r-3", Status: pipeline.StatusDeliveryFailed}
	rec = serve(s, http.MethodGet, "/v1/runs/latest", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"delivery_failed"`)
}

func TestAPIKeyGuardsV1Only(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeRunner{}, Config{APIKey: "secret"})

	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(s, http.MethodPost, "/v1/runs", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		serve(s, http.MethodPost, "/v1/runs", "", map[string]string{"X-API-Key": "wrong"}).Code)
	assert.Equal(t, http.StatusOK,
		serve(s, http.MethodPost, "/v1/runs", "", map[string]string{"X-API-Key": "secret"}).Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(&fakeRunner{panics: true}, Config{}), http.MethodPost, "/v1/runs", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestRequestIDPropagates(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(&fakeRunner{}, Config{}), http.MethodGet, "/healthz", "",
		map[string]string{"X-Request-ID": "abc-123"})
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}
