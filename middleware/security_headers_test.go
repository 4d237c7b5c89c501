package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mnehpets/rescdash/endpoint"
	"github.com/stretchr/testify/require"
)

func serveWith(p *SecurityHeadersProcessor) http.Header {
	h := endpoint.HandleFunc(func(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
		return &endpoint.NoContentRenderer{}, nil
	}, p)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w.Result().Header
}

func TestSecurityHeadersProcessor_Pages(t *testing.T) {
	h := serveWith(NewSecurityHeadersProcessor())
	require.Equal(t, "max-age=31536000; includeSubDomains", h.Get("Strict-Transport-Security"))
	require.Equal(t, "strict-origin-when-cross-origin", h.Get("Referrer-Policy"))
	require.Equal(t, "DENY", h.Get("X-Frame-Options"))
	require.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
	require.Equal(t, DashboardCSP, h.Get("Content-Security-Policy"))
	require.Equal(t, "same-origin", h.Get("Cross-Origin-Opener-Policy"))
	require.Empty(t, h.Get("Cache-Control"))
}

func TestSecurityHeadersProcessor_API(t *testing.T) {
	h := serveWith(NewAPISecurityHeadersProcessor())
	require.Equal(t, APICSP, h.Get("Content-Security-Policy"))
	require.Equal(t, "no-referrer", h.Get("Referrer-Policy"))
	require.Equal(t, "no-store", h.Get("Cache-Control"))
}

func TestSecurityHeadersProcessor_Options(t *testing.T) {
	h := serveWith(NewSecurityHeadersProcessor(
		WithHSTS(0),
		WithCSP("default-src 'self'"),
		WithReferrerPolicy(""),
	))
	require.Empty(t, h.Get("Strict-Transport-Security"))
	require.Empty(t, h.Get("Referrer-Policy"))
	require.Equal(t, "default-src 'self'", h.Get("Content-Security-Policy"))
}
