package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const testAPIKey = "test-secret-key-12345"

// mockHandler is a simple handler that records if it was called
func mockHandler() (http.Handler, *bool) {
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}), &called
}

// captureLogs installs a JSON slog default for the duration of the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(old) })
	return &buf
}

// --- AuthMiddleware Tests ---

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantCalled bool
		wantCode   int
	}{
		{"valid token", "Bearer " + testAPIKey, true, http.StatusOK},
		{"missing header", "", false, http.StatusUnauthorized},
		{"wrong token", "Bearer wrong-token", false, http.StatusUnauthorized},
		{"no bearer prefix", testAPIKey, false, http.StatusUnauthorized},
		{"empty token", "Bearer ", false, http.StatusUnauthorized},
		{"whitespace token", "Bearer    ", false, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			captureLogs(t)
			handler, called := mockHandler()
			mw := AuthMiddleware(testAPIKey)(handler)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/projects/p1/issues", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			mw.ServeHTTP(w, req)

			if *called != tt.wantCalled {
				t.Errorf("handler called = %v, want %v", *called, tt.wantCalled)
			}
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
		})
	}
}

func TestAuthMiddleware_ProblemResponse_NoKeyLeak(t *testing.T) {
	captureLogs(t)
	handler, _ := mockHandler()
	mw := AuthMiddleware(testAPIKey)(handler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/integrations", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	w := httptest.NewRecorder()

	mw.ServeHTTP(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %v, want application/problem+json", ct)
	}
	var p Problem
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal response as RFC 7807: %v", err)
	}
	if p.Type != "https://issuesync.dev/errors/unauthorized" || p.Status != 401 {
		t.Errorf("problem = %+v", p)
	}
	if p.Instance != "/api/v1/integrations" {
		t.Errorf("instance = %v", p.Instance)
	}
	if strings.Contains(w.Body.String(), testAPIKey) {
		t.Error("response body contains the expected API key")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected string
	}{
		{"valid token", "Bearer abc123", "abc123"},
		{"missing header", "", ""},
		{"lowercase bearer", "bearer abc123", ""},
		{"basic auth", "Basic abc123", ""},
		{"token with spaces trimmed", "Bearer  abc123 ", "abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := extractBearerToken(req); got != tt.expected {
				t.Errorf("extractBearerToken() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !constantTimeEqual("abc123", "abc123") {
		t.Error("equal strings compared unequal")
	}
	if constantTimeEqual("abc", "abcdef") || constantTimeEqual("abc123", "xyz789") {
		t.Error("different strings compared equal")
	}
}

func TestHealthBypassesAuth_ViaRoutes(t *testing.T) {
	captureLogs(t)
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(testAPIKey))
			r.Post("/projects/{projectID}/sync", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
		})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health without auth: status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/projects/p1/sync", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("sync without auth: status = %d", w.Code)
	}
}

// --- Logging Tests ---

func TestLogLevelForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   slog.Level
	}{
		{200, slog.LevelInfo},
		{204, slog.LevelInfo},
		{304, slog.LevelInfo},
		{400, slog.LevelWarn},
		{403, slog.LevelWarn},
		{429, slog.LevelWarn},
		{500, slog.LevelError},
		{502, slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			if got := logLevelForStatus(tt.status); got != tt.want {
				t.Errorf("logLevelForStatus(%d) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestLoggingMiddleware_Fields(t *testing.T) {
	logBuf := captureLogs(t)

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(LoggingMiddleware)
	router.Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "192.168.1.100:54321"
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	router.ServeHTTP(httptest.NewRecorder(), req)

	if strings.Contains(logBuf.String(), testAPIKey) {
		t.Error("log output contains the API key")
	}

	var entry map[string]any
	if err := json.Unmarshal(logBuf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log as JSON: %v", err)
	}
	if entry["msg"] != "request completed" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR for 502", entry["level"])
	}
	if entry["remote_addr"] != "192.168.1.100:54321" {
		t.Errorf("remote_addr = %v", entry["remote_addr"])
	}
	for _, field := range []string{"request_id", "method", "path", "status", "duration_ms"} {
		if _, ok := entry[field]; !ok {
			t.Errorf("missing expected field: %s", field)
		}
	}
	if id, _ := entry["request_id"].(string); id == "" {
		t.Error("request_id is empty")
	}
}

func TestGetRequestID_NoContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if got := GetRequestID(req.Context()); got != "" {
		t.Errorf("GetRequestID without middleware = %q, want empty", got)
	}
}

// --- RecoveryMiddleware Tests ---

func TestRecoveryMiddleware_PanicNoLeak(t *testing.T) {
	logBuf := captureLogs(t)

	secretMessage := "super-secret-database-password-12345"
	mw := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(secretMessage)
	}))

	w := httptest.NewRecorder()
	mw.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/issues/ABC-1", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), secretMessage) {
		t.Error("response body contains panic message")
	}
	var p Problem
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if p.Detail != "Internal Server Error" || p.Type != "https://issuesync.dev/errors/internal-error" {
		t.Errorf("problem = %+v", p)
	}
	if !strings.Contains(logBuf.String(), "panic recovered") || !strings.Contains(logBuf.String(), secretMessage) {
		t.Error("expected panic details in log output")
	}
}

// --- TrackerRateLimiter Tests ---

func TestTrackerRateLimiter_BurstThenReject(t *testing.T) {
	// Given: a limiter with burst 2 and a slow refill
	limiter := NewTrackerRateLimiter(2, time.Hour)
	handler, _ := mockHandler()
	mw := limiter.Middleware(handler)

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		mw.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/projects/p1/sync", nil))
		codes[i] = w.Code

		// Then: the rejected request carries a Retry-After hint
		if w.Code == http.StatusTooManyRequests && w.Header().Get("Retry-After") == "" {
			t.Error("429 response missing Retry-After")
		}
	}

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d status = %d, want %d", i, codes[i], want[i])
		}
	}
}
