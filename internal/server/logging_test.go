package server

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(previous) })
	return &buf
}

func loggedRouter(status int) chi.Router {
	r := chi.NewRouter()
	r.Use(slogMiddleware)
	handler := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(status) }
	r.Get("/api/progress", handler)
	r.Get("/api/health", handler)
	r.Get("/metrics", handler)
	return r
}

func TestSlogMiddleware_LogsRequest(t *testing.T) {
	buf := captureLogs(t)

	req := httptest.NewRequest(http.MethodGet, "/api/progress?lessonId=l-1", nil)
	loggedRouter(http.StatusOK).ServeHTTP(httptest.NewRecorder(), req)

	output := buf.String()
	for _, field := range []string{
		"level=INFO",
		`msg="server: http request"`,
		"method=GET",
		"path=/api/progress",
		"status=200",
		"route=/api/progress",
		"remote_addr=",
		"duration_ms=",
	} {
		if !strings.Contains(output, field) {
			t.Errorf("expected log to contain %q, got: %s", field, output)
		}
	}
	if strings.Contains(output, "lessonId") {
		t.Errorf("query strings should not be logged, got: %s", output)
	}
}

func TestSlogMiddleware_ServerErrorsLogAtWarn(t *testing.T) {
	buf := captureLogs(t)

	req := httptest.NewRequest(http.MethodGet, "/api/progress", nil)
	loggedRouter(http.StatusServiceUnavailable).ServeHTTP(httptest.NewRecorder(), req)

	output := buf.String()
	if !strings.Contains(output, "level=WARN") || !strings.Contains(output, "status=503") {
		t.Errorf("expected a warn line with status=503, got: %s", output)
	}
}

func TestSlogMiddleware_SkipsProbes(t *testing.T) {
	for _, path := range []string{"/api/health", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			buf := captureLogs(t)
			rec := httptest.NewRecorder()
			loggedRouter(http.StatusOK).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

			if rec.Code != http.StatusOK {
				t.Errorf("expected status 200, got %d", rec.Code)
			}
			if buf.Len() != 0 {
				t.Errorf("expected no log output for %s, got: %s", path, buf.String())
			}
		})
	}
}
