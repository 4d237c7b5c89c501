package endpoint

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// ProxyRenderer forwards the incoming request to an upstream service.
type ProxyRenderer struct {
	// Proxy must be non-nil.
	Proxy *httputil.ReverseProxy
}

// NewProxyRenderer creates a ProxyRenderer forwarding to targetURL.
//
// stripPrefix is removed from the incoming path before it is joined onto the
// target path, so "/api/v1/findings" with stripPrefix "/api/v1" and target
// "https://backend/v1" becomes "https://backend/v1/findings".
//
// transport carries the outgoing request; pass nil for http.DefaultTransport.
// Errors returned by the transport become 502 responses, except cancelled
// requests which become 401.
//
// targetURL must be trusted: the transport may attach credentials.
func NewProxyRenderer(targetURL, stripPrefix string, transport http.RoundTripper) (*ProxyRenderer, error) {
	if targetURL == "" {
		return nil, errors.New("endpoint: target URL is required")
	}
	target, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("endpoint: invalid target URL: %w", err)
	}
	if !target.IsAbs() {
		return nil, errors.New("endpoint: target URL must be absolute")
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = strings.TrimPrefix(pr.In.URL.Path, stripPrefix)
			pr.Out.URL.RawPath = ""
			pr.SetURL(target)
			pr.Out.Host = target.Host
			// Browser credentials stay at the gateway.
			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Del("Authorization")
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			status := http.StatusBadGateway
			if errors.Is(err, ErrUpstreamCancelled) {
				status = http.StatusUnauthorized
			}
			log.Warn().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("proxy request failed")
			http.Error(w, http.StatusText(status), status)
		},
	}
	return &ProxyRenderer{Proxy: proxy}, nil
}

// ErrUpstreamCancelled may be wrapped by a transport to mark a request it
// refused to send on behalf of the user.
var ErrUpstreamCancelled = errors.New("endpoint: upstream request cancelled")

// Render delegates to the underlying Proxy.
func (p *ProxyRenderer) Render(w http.ResponseWriter, r *http.Request) error {
	if p.Proxy == nil {
		return errors.New("endpoint: ProxyRenderer.Proxy is nil")
	}
	p.Proxy.ServeHTTP(w, r)
	return nil
}
