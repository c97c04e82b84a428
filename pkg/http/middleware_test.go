package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/dvrsync/pkg/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCommonMiddlewareCORS(t *testing.T) {
	h := CommonMiddleware(okHandler(), []string{"https://ui.example.net"}, logger.NewTestLogger())

	t.Run("allowed origin echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/servers", http.NoBody)
		req.Header.Set("Origin", "https://ui.example.net")
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		assert.Equal(t, "https://ui.example.net", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("unknown origin gets no CORS headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/servers", http.NoBody)
		req.Header.Set("Origin", "https://evil.example.net")
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight short-circuits", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/servers", http.NoBody)
		req.Header.Set("Origin", "https://ui.example.net")
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCommonMiddlewareWildcard(t *testing.T) {
	h := CommonMiddleware(okHandler(), []string{"*"}, logger.NewTestLogger())

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Origin", "https://anything.example.net")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"),
		"wildcard must not allow credentials")
}

func TestOriginAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	assert.True(t, OriginAllowed(req, nil), "non-browser clients have no origin")

	req.Header.Set("Origin", "https://ui.example.net")
	assert.False(t, OriginAllowed(req, nil))
	assert.True(t, OriginAllowed(req, []string{"https://ui.example.net"}))
	assert.True(t, OriginAllowed(req, []string{"*"}))
}

func TestBasicAuthMiddleware(t *testing.T) {
	hash, err := HashCredentials("operator", "watchtower")
	require.NoError(t, err)

	protected := BasicAuthMiddleware(hash, logger.NewTestLogger())(okHandler())

	t.Run("valid credentials pass", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/servers", http.NoBody)
		req.SetBasicAuth("operator", "watchtower")
		rec := httptest.NewRecorder()

		protected.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/servers", http.NoBody)
		req.SetBasicAuth("operator", "wrong")
		rec := httptest.NewRecorder()

		protected.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
	})

	t.Run("missing header rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/servers", http.NoBody)
		rec := httptest.NewRecorder()

		protected.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("empty hash disables auth", func(t *testing.T) {
		open := BasicAuthMiddleware("", logger.NewTestLogger())(okHandler())
		req := httptest.NewRequest(http.MethodGet, "/api/servers", http.NoBody)
		rec := httptest.NewRecorder()

		open.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
