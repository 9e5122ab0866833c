package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/Rain1971/V2C-trydant/internal/config"
)

func TestSecurityMiddlewareHeaders(t *testing.T) {
	s := &Server{}

	handler := s.securityMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/chargers", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	tests := []struct {
		header string
		want   string
	}{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"X-XSS-Protection", "1; mode=block"},
		{"Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'"},
		{"Strict-Transport-Security", "max-age=63072000; includeSubDomains"},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, rec.Header().Get(tt.header))
		})
	}

	// The wrapped handler's response passes through untouched.
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestMiddlewareChainWithAuth(t *testing.T) {
	// Compose the chain the way Start does: auth outermost, then the
	// security headers, then the routes.
	s := NewServer(nil, zap.NewNop(), ":8080", config.AuthConfig{
		Enabled:  true,
		Username: "admin",
		Password: "secret",
	})

	var reached bool
	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})
	handler = s.securityMiddleware(handler)
	handler = s.basicAuthMiddleware(handler)

	t.Run("rejected without credentials", func(t *testing.T) {
		reached = false
		req := httptest.NewRequest(http.MethodGet, "/api/chargers", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, `Basic realm="Restricted"`, rec.Header().Get("WWW-Authenticate"))
		assert.False(t, reached)
	})

	t.Run("authorized request gets security headers", func(t *testing.T) {
		reached = false
		req := httptest.NewRequest(http.MethodGet, "/api/chargers", nil)
		req.SetBasicAuth("admin", "secret")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		assert.True(t, reached)
	})
}
