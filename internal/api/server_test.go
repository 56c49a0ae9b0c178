package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/sift/internal/generation"
	"github.com/MikeSquared-Agency/sift/internal/observability"
	"github.com/MikeSquared-Agency/sift/internal/opstate"
	"github.com/MikeSquared-Agency/sift/internal/processor"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingRunner struct {
	name string
	mu   sync.Mutex
	seen []generation.Request
}

func (r *recordingRunner) Name() string { return r.name }

func (r *recordingRunner) Run(_ context.Context, req generation.Request) generation.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, req)
	return generation.Report{Service: r.name, Outcome: generation.OutcomeDone, Results: 2}
}

func (r *recordingRunner) requests() []generation.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]generation.Request(nil), r.seen...)
}

type testServer struct {
	srv     *Server
	states  *opstate.Memory
	proc    *processor.Processor
	profile *recordingRunner
	fb      *recordingRunner
}

func newTestServer(t *testing.T, token string) *testServer {
	t.Helper()
	profile, fb := &recordingRunner{name: "profile_generation"}, &recordingRunner{name: "feedback_generation"}
	proc := processor.New([]generation.Runner{profile, fb}, processor.Options{Logger: discardLogger()})
	states := opstate.NewMemory()
	srv := NewServer(8760, Deps{
		States:    states,
		Processor: proc,
		Metrics:   observability.NewMetrics("sift_test").Handler(),
		Token:     token,
		Logger:    discardLogger(),
	})
	return &testServer{srv: srv, states: states, proc: proc, profile: profile, fb: fb}
}

func (ts *testServer) do(method, target, body, token string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, "")
	w := ts.do("GET", "/health", "", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, "secret")
	w := ts.do("GET", "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code, "metrics are not behind auth")
}

func TestNotFoundEndpoint(t *testing.T) {
	ts := newTestServer(t, "")
	w := ts.do("GET", "/nonexistent", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBearerAuth(t *testing.T) {
	ts := newTestServer(t, "secret")

	assert.Equal(t, http.StatusUnauthorized, ts.do("GET", "/api/v1/generation/status", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do("GET", "/api/v1/generation/status", "", "wrong").Code)
	assert.Equal(t, http.StatusOK, ts.do("GET", "/api/v1/generation/status", "", "secret").Code)
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t, "")
	ctx := context.Background()
	require.NoError(t, ts.states.SetBookmark(ctx, "profile_generation", "acme/u1", "prefs",
		opstate.Bookmark{LastProcessedAt: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), LastRequestID: "r1"}))
	require.NoError(t, ts.states.SetBookmark(ctx, "feedback_generation", "acme/v1", "tone", opstate.Bookmark{LastRequestID: "r2"}))

	w := ts.do("GET", "/api/v1/generation/status?service=profile_generation", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body statusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, []string{"profile_generation", "feedback_generation"}, body.Services)
	require.Len(t, body.States, 1)
	assert.Equal(t, "acme/u1", body.States[0].ScopeID)
	assert.Equal(t, "r1", body.States[0].Bookmark("prefs").LastRequestID)
}

func TestRerun_Async(t *testing.T) {
	ts := newTestServer(t, "")

	w := ts.do("POST", "/api/v1/generation/rerun", `{"org_id":"acme","user_id":"u1","services":["profile_generation"]}`, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	require.NoError(t, ts.proc.Shutdown(context.Background()))

	assert.Equal(t, []generation.Request{{OrgID: "acme", UserID: "u1", Rerun: true}}, ts.profile.requests())
	assert.Empty(t, ts.fb.requests())
}

func TestRerun_Wait(t *testing.T) {
	ts := newTestServer(t, "")

	w := ts.do("POST", "/api/v1/generation/rerun", `{"org_id":"acme","agent_version":"v2","wait":true}`, "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Reports []generation.Report `json:"reports"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body.Reports, 2)
	assert.Equal(t, generation.OutcomeDone, body.Reports[1].Outcome)

	seen := ts.fb.requests()
	require.Len(t, seen, 1)
	assert.Empty(t, seen[0].Source, "reruns carry no triggering source")
	assert.True(t, seen[0].Rerun)
}

func TestRerun_BadRequests(t *testing.T) {
	ts := newTestServer(t, "")

	assert.Equal(t, http.StatusBadRequest, ts.do("POST", "/api/v1/generation/rerun", `{not json`, "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do("POST", "/api/v1/generation/rerun", `{"user_id":"u1"}`, "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do("POST", "/api/v1/generation/rerun", `{"org_id":"acme","services":["nope"]}`, "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do("POST", "/api/v1/generation/rerun", `{"org_id":"acme","services":["nope"],"wait":true}`, "").Code)

	require.NoError(t, ts.proc.Shutdown(context.Background()))
	w := ts.do("POST", "/api/v1/generation/rerun", `{"org_id":"acme"}`, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDeleteState(t *testing.T) {
	ts := newTestServer(t, "")
	ctx := context.Background()
	require.NoError(t, ts.states.SetBookmark(ctx, "profile_generation", "acme/u1", "prefs", opstate.Bookmark{LastRequestID: "r1"}))

	w := ts.do("DELETE", "/api/v1/generation/state?service=profile_generation&scope=acme/u1", "", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	_, err := ts.states.Get(ctx, "profile_generation", "acme/u1")
	assert.ErrorIs(t, err, opstate.ErrNotFound)

	w = ts.do("DELETE", "/api/v1/generation/state?service=profile_generation&scope=acme/u1", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do("DELETE", "/api/v1/generation/state?service=profile_generation", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRun_ShutsDownWithContext(t *testing.T) {
	ts := newTestServer(t, "")
	ts.srv.port = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.srv.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

