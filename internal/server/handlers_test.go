package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"altlens/internal/jobs"
	"altlens/internal/logger"
	"altlens/internal/server/middleware"
	"altlens/internal/session"
	"altlens/pkg/api"
)

const fakeAnalyzer = `#!/bin/sh
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    --output-dir) out="$2"; shift 2 ;;
    *) shift ;;
  esac
done
echo described > "$out/report.json"
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	handlers *Handlers
	sessions *session.Registry
	registry *jobs.Registry
}

func newTestEnv(t *testing.T, script string, maxConcurrent int) *testEnv {
	t.Helper()

	scriptPath := filepath.Join(t.TempDir(), "analyzer.sh")
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	sessions, err := session.NewRegistry(filepath.Join(t.TempDir(), "sessions"), discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	registry := jobs.NewRegistry(time.Minute)
	runner := jobs.NewRunner(registry, sessions, jobs.RunnerConfig{
		Command:       []string{scriptPath},
		PageTimeout:   10 * time.Second,
		BatchTimeout:  10 * time.Second,
		PollInterval:  20 * time.Millisecond,
		MaxConcurrent: maxConcurrent,
	}, discardLogger())

	return &testEnv{
		handlers: NewHandlers(runner, registry, sessions, discardLogger()),
		sessions: sessions,
		registry: registry,
	}
}

func (e *testEnv) newSession(t *testing.T) string {
	t.Helper()

	id, err := e.sessions.ResolveOrCreate("")
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func withSession(r *http.Request, sessionID string) *http.Request {
	return r.WithContext(logger.WithSessionID(r.Context(), sessionID))
}

func TestSubmitAnalysis(t *testing.T) {
	validBody, _ := json.Marshal(api.SubmitAnalysisRequest{URL: "https://example.com"})

	tests := []struct {
		name           string
		body           []byte
		session        bool
		expectedStatus int
		expectedInBody string
	}{
		{
			name:           "Success",
			body:           validBody,
			session:        true,
			expectedStatus: http.StatusAccepted,
			expectedInBody: "job_id",
		},
		{
			name:           "Invalid JSON",
			body:           []byte(`{not-json`),
			session:        true,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "invalid request body",
		},
		{
			name:           "Invalid URL",
			body:           []byte(`{"url": "gopher://example.com"}`),
			session:        true,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "invalid url",
		},
		{
			name:           "Invalid Mode",
			body:           []byte(`{"url": "https://example.com", "mode": "everything"}`),
			session:        true,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "invalid mode",
		},
		{
			name:           "No Session",
			body:           validBody,
			session:        false,
			expectedStatus: http.StatusUnauthorized,
			expectedInBody: "no session",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, fakeAnalyzer, 4)

			req := httptest.NewRequest(http.MethodPost, "/analyses", bytes.NewReader(tt.body))
			if tt.session {
				req = withSession(req, env.newSession(t))
			}

			rr := httptest.NewRecorder()
			env.handlers.SubmitAnalysis(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
			if !strings.Contains(rr.Body.String(), tt.expectedInBody) {
				t.Errorf("expected body to contain %q, got %s", tt.expectedInBody, rr.Body.String())
			}
		})
	}
}

func TestSubmitAnalysisAdmissionLimit(t *testing.T) {
	slowAnalyzer := fakeAnalyzer + "sleep 2\n"
	env := newTestEnv(t, slowAnalyzer, 1)
	sid := env.newSession(t)

	body, _ := json.Marshal(api.SubmitAnalysisRequest{URL: "https://example.com"})

	submit := func() *httptest.ResponseRecorder {
		req := withSession(httptest.NewRequest(http.MethodPost, "/analyses", bytes.NewReader(body)), sid)
		rr := httptest.NewRecorder()
		env.handlers.SubmitAnalysis(rr, req)
		return rr
	}

	if rr := submit(); rr.Code != http.StatusAccepted {
		t.Fatalf("expected first submission accepted, got %d", rr.Code)
	}
	if rr := submit(); rr.Code != http.StatusTooManyRequests {
		t.Errorf("expected second submission rejected with 429, got %d", rr.Code)
	}
}

func TestGetAnalysisNotFound(t *testing.T) {
	env := newTestEnv(t, fakeAnalyzer, 4)

	req := httptest.NewRequest(http.MethodGet, "/analyses/unknown", nil)
	req.SetPathValue("id", "unknown")

	rr := httptest.NewRecorder()
	env.handlers.GetAnalysis(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown job, got %d", rr.Code)
	}
}

func TestSubmitThenPollUntilComplete(t *testing.T) {
	env := newTestEnv(t, fakeAnalyzer, 4)
	sid := env.newSession(t)

	body, _ := json.Marshal(api.SubmitAnalysisRequest{URL: "https://example.com"})
	req := withSession(httptest.NewRequest(http.MethodPost, "/analyses", bytes.NewReader(body)), sid)
	rr := httptest.NewRecorder()
	env.handlers.SubmitAnalysis(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}

	var submitted api.SubmitAnalysisResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &submitted); err != nil {
		t.Fatal(err)
	}
	if submitted.Status != "started" {
		t.Errorf("expected status started, got %q", submitted.Status)
	}

	deadline := time.After(10 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("job never completed")
		case <-time.After(20 * time.Millisecond):
		}

		pollReq := httptest.NewRequest(http.MethodGet, "/analyses/"+submitted.JobID, nil)
		pollReq.SetPathValue("id", submitted.JobID)
		pollRR := httptest.NewRecorder()
		env.handlers.GetAnalysis(pollRR, pollReq)

		if pollRR.Code != http.StatusOK {
			t.Fatalf("expected 200 while polling, got %d", pollRR.Code)
		}

		var status api.JobStatusResponse
		if err := json.Unmarshal(pollRR.Body.Bytes(), &status); err != nil {
			t.Fatal(err)
		}

		switch status.Status {
		case "complete":
			if status.Result == nil || len(status.Result.Artifacts) == 0 {
				t.Errorf("expected a result with artifacts, got %+v", status.Result)
			}
			return
		case "error":
			t.Fatalf("job failed: %s", status.Error)
		}
	}
}

func TestGetSession(t *testing.T) {
	env := newTestEnv(t, fakeAnalyzer, 4)
	sid := env.newSession(t)

	req := withSession(httptest.NewRequest(http.MethodGet, "/session", nil), sid)
	rr := httptest.NewRecorder()
	env.handlers.GetSession(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp api.SessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.SessionID != sid {
		t.Errorf("expected session %s, got %s", sid, resp.SessionID)
	}
}

func TestClearSession(t *testing.T) {
	env := newTestEnv(t, fakeAnalyzer, 4)
	sid := env.newSession(t)

	// Without a cookie the caller has no session to clear.
	rr := httptest.NewRecorder()
	env.handlers.ClearSession(rr, httptest.NewRequest(http.MethodDelete, "/session", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a cookie, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodDelete, "/session", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: sid})
	rr = httptest.NewRecorder()
	env.handlers.ClearSession(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rr.Code)
	}
	if _, err := env.sessions.Directories(sid); err == nil {
		t.Error("expected the session to be destroyed")
	}

	// Clearing again is a 404: the caller must re-establish a session.
	req = httptest.NewRequest(http.MethodDelete, "/session", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: sid})
	rr = httptest.NewRecorder()
	env.handlers.ClearSession(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 after clearing, got %d", rr.Code)
	}
}

func TestClearSessionRejectsPathLikeTokens(t *testing.T) {
	env := newTestEnv(t, fakeAnalyzer, 4)
	sid := env.newSession(t)

	// "." and "../x" are valid cookie octets but must never reach the
	// filesystem as paths.
	for _, token := range []string{".", "..", "../../data", "not-a-session"} {
		req := httptest.NewRequest(http.MethodDelete, "/session", nil)
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: token})
		rr := httptest.NewRecorder()
		env.handlers.ClearSession(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("token %q: expected 404, got %d", token, rr.Code)
		}
	}

	if _, err := env.sessions.Directories(sid); err != nil {
		t.Errorf("expected existing sessions to be untouched: %v", err)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, fakeAnalyzer, 4)

	rr := httptest.NewRecorder()
	env.handlers.Health(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}
