package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidyback/templatestore/internal/config"
	"github.com/vidyback/templatestore/internal/github"
	"github.com/vidyback/templatestore/internal/http/middleware"
	"github.com/vidyback/templatestore/internal/jobs"
	"github.com/vidyback/templatestore/internal/store"
	"github.com/vidyback/templatestore/internal/templates"
)

type fakePusher struct {
	pushed []store.Document
	res    *github.CommitResult
	err    error
}

func (f *fakePusher) Push(_ context.Context, doc store.Document) (*github.CommitResult, error) {
	f.pushed = append(f.pushed, doc)
	return f.res, f.err
}

type fakeQueue struct {
	calls int
	err   error
}

func (f *fakeQueue) EnqueuePush(_ context.Context) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls++
	return &asynq.TaskInfo{ID: "task-1", Queue: "sync"}, nil
}

func testConfig() config.Config {
	return config.Config{
		HTTP: config.HTTPConfig{
			CacheControl:    "public, max-age=3600",
			ResponseHeaders: map[string]string{"abc": "XYZ123"},
			ETag:            true,
		},
	}
}

type testServer struct {
	*Server
	backend *store.MemoryBackend
}

func newTestServer(t *testing.T, seed store.Document, opts ServerOptions) *testServer {
	t.Helper()
	backend := store.NewMemory(seed)
	n := 0
	opts.Templates = templates.New(backend, templates.WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("gen-%d", n)
	}))
	if opts.Cfg.HTTP.CacheControl == "" {
		opts.Cfg = testConfig()
	}
	opts.Logger = zerolog.Nop()
	return &testServer{Server: New(opts), backend: backend}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.Router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthzAndHeaders(t *testing.T) {
	ts := newTestServer(t, nil, ServerOptions{})

	rec := ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "XYZ123", rec.Header().Get("abc"))
}

func TestAddTemplate(t *testing.T) {
	ts := newTestServer(t, store.Document{"Onboarding": {{"id": "old"}}}, ServerOptions{})

	rec := ts.do(t, http.MethodPost, "/add-template", `{"template":{"name":"Welcome","category":["onboarding"]}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode(t, rec)
	assert.Equal(t, "Template added to category 'Onboarding'.", out["message"])
	tmpl := out["template"].(map[string]any)
	assert.Equal(t, "gen-1", tmpl["id"])
	assert.Equal(t, "gen-1", tmpl["templateId"])

	doc, err := ts.backend.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, doc["Onboarding"], 2)
	assert.Equal(t, "gen-1", doc["Onboarding"][0]["id"])
}

func TestAddTemplateValidation(t *testing.T) {
	ts := newTestServer(t, nil, ServerOptions{})

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"no body", "", "Template body cannot be empty"},
		{"no template", `{}`, "Template body cannot be empty"},
		{"empty template", `{"template":{}}`, "Template body cannot be empty"},
		{"no category", `{"template":{"name":"x"}}`, "Template must have a 'category' field"},
		{"template not an object", `{"template":"x"}`, "Request body must be a JSON object"},
		{"broken json", `{"template":`, "Request body must be a JSON object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/add-template", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantErr, decode(t, rec)["error"])
		})
	}
}

func TestUpdateTemplate(t *testing.T) {
	ts := newTestServer(t, store.Document{"Onboarding": {{"id": "a", "name": "v1"}}}, ServerOptions{})

	rec := ts.do(t, http.MethodPut, "/update-template", `{"template":{"id":"a","name":"v2"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Template updated in category 'Onboarding'.", decode(t, rec)["message"])

	rec = ts.do(t, http.MethodPut, "/update-template", `{"template":{"id":"missing"}}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPut, "/update-template", `{"template":{"name":"no id"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenericCategoryRoutes(t *testing.T) {
	ts := newTestServer(t, nil, ServerOptions{})

	rec := ts.do(t, http.MethodPost, "/posts", `{"id":1,"title":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":1,"title":"hello"}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/posts", `{"id":2,"title":"second"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/posts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":1,"title":"hello"},{"id":2,"title":"second"}]`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/posts/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":2,"title":"second"}`, rec.Body.String())

	rec = ts.do(t, http.MethodPatch, "/posts/2", `{"draft":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":2,"title":"second","draft":true}`, rec.Body.String())

	rec = ts.do(t, http.MethodPut, "/posts/1", `{"title":"replaced"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":1,"title":"replaced"}`, rec.Body.String())

	rec = ts.do(t, http.MethodDelete, "/posts/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/posts/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(t, http.MethodGet, "/comments", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/posts", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/db", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"posts":[{"id":2,"title":"second","draft":true}]}`, rec.Body.String())
}

func TestConditionalGet(t *testing.T) {
	ts := newTestServer(t, store.Document{"Hooks": {{"id": "1"}}}, ServerOptions{})

	rec := ts.do(t, http.MethodGet, "/db", "")
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.True(t, strings.HasPrefix(etag, `W/"`), etag)
	assert.Equal(t, middleware.WeakETag(rec.Body.Bytes()), etag)

	req := httptest.NewRequest(http.MethodGet, "/db", nil)
	req.Header.Set("If-None-Match", etag)
	cached := httptest.NewRecorder()
	ts.Router.ServeHTTP(cached, req)
	assert.Equal(t, http.StatusNotModified, cached.Code)
	assert.Empty(t, cached.Body.String())

	// a write changes the body, so the old tag no longer matches
	ts.do(t, http.MethodPost, "/Hooks", `{"id":"2"}`)
	req = httptest.NewRequest(http.MethodGet, "/db", nil)
	req.Header.Set("If-None-Match", etag)
	fresh := httptest.NewRecorder()
	ts.Router.ServeHTTP(fresh, req)
	assert.Equal(t, http.StatusOK, fresh.Code)
	assert.NotEqual(t, etag, fresh.Header().Get("ETag"))
}

func TestPushToGitHub(t *testing.T) {
	pusher := &fakePusher{res: &github.CommitResult{SHA: "c1", Commit: json.RawMessage(`{"sha":"c1"}`)}}
	ts := newTestServer(t, store.Document{"Hooks": {{"id": "1"}}}, ServerOptions{Remote: pusher})

	rec := ts.do(t, http.MethodPost, "/push-to-github", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"message":"db.json successfully pushed to GitHub.","commit":{"sha":"c1"}}`, rec.Body.String())
	require.Len(t, pusher.pushed, 1)
	assert.Equal(t, "1", pusher.pushed[0]["Hooks"][0]["id"])
}

func TestPushToGitHubFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantBody string
	}{
		{
			"no sha",
			fmt.Errorf("%w: %w", github.ErrNoSHA, &github.StatusError{StatusCode: http.StatusNotFound}),
			`{"error":"Failed to get file SHA from GitHub"}`,
		},
		{
			"commit failed",
			&github.CommitError{StatusCode: http.StatusConflict, Response: json.RawMessage(`{"message":"conflict"}`)},
			`{"error":"GitHub commit failed","commitResponse":{"message":"conflict"}}`,
		},
		{
			"transport",
			errors.New("dial tcp: connection refused"),
			`{"error":"Internal Server Error"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil, ServerOptions{Remote: &fakePusher{err: tt.err}})
			rec := ts.do(t, http.MethodPost, "/push-to-github", "")
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestPushNotConfigured(t *testing.T) {
	ts := newTestServer(t, nil, ServerOptions{})
	rec := ts.do(t, http.MethodPost, "/push-to-github", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPushAsync(t *testing.T) {
	queue := &fakeQueue{}
	pusher := &fakePusher{}
	ts := newTestServer(t, nil, ServerOptions{Remote: pusher, Queue: queue})

	rec := ts.do(t, http.MethodPost, "/push-to-github?async=true", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "task-1", decode(t, rec)["task_id"])
	assert.Equal(t, 1, queue.calls)
	assert.Empty(t, pusher.pushed, "async pushes do not call GitHub inline")

	dup := newTestServer(t, nil, ServerOptions{Queue: &fakeQueue{err: fmt.Errorf("%w: %w", jobs.ErrAlreadyQueued, asynq.ErrDuplicateTask)}})
	rec = dup.do(t, http.MethodPost, "/push-to-github?async=1", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "Push already queued.", decode(t, rec)["message"])
}

func TestPushAgainstFakeGitHub(t *testing.T) {
	var putBody map[string]any
	gh := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"sha":"abc123","content":""}`))
		case http.MethodPut:
			_ = json.NewDecoder(r.Body).Decode(&putBody)
			_, _ = w.Write([]byte(`{"commit":{"sha":"def456"}}`))
		}
	}))
	defer gh.Close()

	client, err := github.New("tok", "VidyBack/PostRequestVercel", github.WithBaseURL(gh.URL), github.WithBranch("master"))
	require.NoError(t, err)
	ts := newTestServer(t, nil, ServerOptions{Remote: github.NewSyncer(client, "db.json", "Updated db.json via API")})

	rec := ts.do(t, http.MethodPost, "/add-template", `{"template":{"category":["Hooks"]}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/push-to-github", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"message":"db.json successfully pushed to GitHub.","commit":{"sha":"def456"}}`, rec.Body.String())
	assert.Equal(t, "abc123", putBody["sha"])
	assert.Equal(t, "master", putBody["branch"])
	assert.Equal(t, "Updated db.json via API", putBody["message"])
}

func TestRateLimitAndMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.RateLimitRPS = 0.001
	cfg.HTTP.RateLimitBurst = 1
	ts := newTestServer(t, nil, ServerOptions{Cfg: cfg, Metrics: middleware.NewMetrics("templatestore")})

	rec := ts.do(t, http.MethodGet, "/db", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/db", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimitIgnoresForwardedHeaders(t *testing.T) {
	limited := func(trustProxy bool) []int {
		cfg := testConfig()
		cfg.HTTP.RateLimitRPS = 0.001
		cfg.HTTP.RateLimitBurst = 1
		cfg.HTTP.TrustProxy = trustProxy
		ts := newTestServer(t, nil, ServerOptions{Cfg: cfg})

		codes := make([]int, 0, 5)
		for i := 0; i < 5; i++ {
			req := httptest.NewRequest(http.MethodGet, "/db", nil)
			req.RemoteAddr = "10.0.0.1:4321"
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("1.2.3.%d", i))
			req.Header.Set("X-Real-IP", fmt.Sprintf("5.6.7.%d", i))
			rec := httptest.NewRecorder()
			ts.Router.ServeHTTP(rec, req)
			codes = append(codes, rec.Code)
		}
		return codes
	}

	assert.Equal(t, []int{200, 429, 429, 429, 429}, limited(false))
	// behind a trusted proxy every forwarded address is its own client
	assert.Equal(t, []int{200, 200, 200, 200, 200}, limited(true))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil, ServerOptions{Metrics: middleware.NewMetrics("templatestore")})

	ts.do(t, http.MethodGet, "/db", "")
	rec := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `templatestore_http_requests_total{method="GET",route="/db",status="200"} 1`)
}
