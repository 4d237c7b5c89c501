package middleware

import (
	"net/http"
	"strconv"

	"github.com/mnehpets/rescdash/endpoint"
)

// DashboardCSP allows the single-page app's own scripts and the inline styles
// its component library injects. Everything the app fetches goes through the
// gateway, so connect-src stays 'self'.
const DashboardCSP = "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; " +
	"img-src 'self' data:; font-src 'self' data:; connect-src 'self'; " +
	"base-uri 'self'; form-action 'self'; frame-ancestors 'none'"

// APICSP is the policy for JSON and proxied API responses.
const APICSP = "default-src 'none'; frame-ancestors 'none'"

// SecurityHeadersProcessor sets response security headers before the
// endpoint runs. Empty fields are not sent.
type SecurityHeadersProcessor struct {
	// HSTS is the Strict-Transport-Security max age; zero disables it. Only
	// meaningful when the gateway is served over https.
	HSTSMaxAge                int
	ReferrerPolicy            string
	FrameOptions              string
	ContentSecurityPolicy     string
	CrossOriginOpenerPolicy   string
	CrossOriginResourcePolicy string
	// CacheControl is set on API responses so tokens and user data are not
	// cached by intermediaries.
	CacheControl string
}

// SecurityHeadersOption is a functional option for SecurityHeadersProcessor.
type SecurityHeadersOption func(*SecurityHeadersProcessor)

// NewSecurityHeadersProcessor returns the headers for dashboard pages.
func NewSecurityHeadersProcessor(opts ...SecurityHeadersOption) *SecurityHeadersProcessor {
	p := &SecurityHeadersProcessor{
		HSTSMaxAge:                31536000,
		ReferrerPolicy:            "strict-origin-when-cross-origin",
		FrameOptions:              "DENY",
		ContentSecurityPolicy:     DashboardCSP,
		CrossOriginOpenerPolicy:   "same-origin",
		CrossOriginResourcePolicy: "same-origin",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewAPISecurityHeadersProcessor returns the headers for /api responses.
func NewAPISecurityHeadersProcessor(opts ...SecurityHeadersOption) *SecurityHeadersProcessor {
	p := &SecurityHeadersProcessor{
		HSTSMaxAge:                31536000,
		ReferrerPolicy:            "no-referrer",
		FrameOptions:              "DENY",
		ContentSecurityPolicy:     APICSP,
		CrossOriginOpenerPolicy:   "same-origin",
		CrossOriginResourcePolicy: "same-origin",
		CacheControl:              "no-store",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithHSTS sets the HSTS max age in seconds; zero disables the header.
func WithHSTS(maxAge int) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) {
		p.HSTSMaxAge = maxAge
	}
}

// WithCSP replaces the Content-Security-Policy.
func WithCSP(policy string) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) {
		p.ContentSecurityPolicy = policy
	}
}

// WithReferrerPolicy replaces the Referrer-Policy. The route guard reads the
// Referer to record the source route, so pages keep an origin-preserving
// policy.
func WithReferrerPolicy(policy string) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) {
		p.ReferrerPolicy = policy
	}
}

// Process implements endpoint.Processor.
func (p *SecurityHeadersProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	h := w.Header()
	if p.HSTSMaxAge > 0 {
		h.Set("Strict-Transport-Security", "max-age="+strconv.Itoa(p.HSTSMaxAge)+"; includeSubDomains")
	}
	set := func(name, value string) {
		if value != "" {
			h.Set(name, value)
		}
	}
	set("Referrer-Policy", p.ReferrerPolicy)
	set("X-Frame-Options", p.FrameOptions)
	set("Content-Security-Policy", p.ContentSecurityPolicy)
	set("Cross-Origin-Opener-Policy", p.CrossOriginOpenerPolicy)
	set("Cross-Origin-Resource-Policy", p.CrossOriginResourcePolicy)
	set("Cache-Control", p.CacheControl)
	h.Set("X-Content-Type-Options", "nosniff")
	return next(w, r)
}

var _ endpoint.Processor = (*SecurityHeadersProcessor)(nil)
