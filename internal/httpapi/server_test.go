package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHealthzReturnsOK(t *testing.T) {
	srv := NewServer("127.0.0.1:0", Config{
		WSHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestUnknownRouteReturnsNotFound(t *testing.T) {
	srv := NewServer("127.0.0.1:0", Config{
		WSHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsRouteDelegatesToHandler(t *testing.T) {
	called := false
	srv := NewServer("127.0.0.1:0", Config{
		WSHandler:      http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }),
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	srv.router.ServeHTTP(rec, req)

	require.True(t, called)
}

func TestCORSAllowsConfiguredOriginOnly(t *testing.T) {
	srv := NewServer("127.0.0.1:0", Config{
		WSHandler:      http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
		TrustedOrigins: []string{"https://allowed.example"},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	srv.router.ServeHTTP(rec, req)

	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req2.Header.Set("Origin", "https://allowed.example")
	srv.router.ServeHTTP(rec2, req2)

	require.Equal(t, "https://allowed.example", rec2.Header().Get("Access-Control-Allow-Origin"))
}
