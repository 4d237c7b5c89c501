// Package server assembles the dashboard gateway: the single-page app behind
// the route guard, the login flow, and the authenticated proxy to the RESC
// web service.
package server

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"

	"github.com/mnehpets/rescdash/auth"
	"github.com/mnehpets/rescdash/config"
	"github.com/mnehpets/rescdash/endpoint"
	"github.com/mnehpets/rescdash/middleware"
	"github.com/mnehpets/rescdash/notify"
	"github.com/mnehpets/rescdash/router"
	"github.com/mnehpets/rescdash/session"
	"github.com/rs/zerolog"
)

// APIPrefix is the path below which requests are forwarded to the web
// service's /v1 API.
const APIPrefix = "/api/v1"

// Deps are the collaborators of the gateway.
type Deps struct {
	Config   *config.Config
	Store    session.Store
	Queue    *notify.Queue
	Auth     *auth.Service
	Sessions *middleware.SessionProcessor
	// Transport carries proxied API requests. It attaches the session's
	// access token.
	Transport http.RoundTripper
	// Static holds the built dashboard: index.html and assets/.
	Static fs.FS
	// HTTPS enables HSTS.
	HTTPS bool
	Log   zerolog.Logger
}

// proxiedMethods are registered one by one so they do not conflict with the
// "GET /" page route.
var proxiedMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete,
}

type Server struct {
	mux    *http.ServeMux
	deps   Deps
	guard  *router.Guard
	assets *endpoint.Assets
	log    zerolog.Logger
}

// New builds the gateway's routes. The authentication flag is read once, so
// the login routes exist only when authentication was required at start.
func New(d Deps) (*Server, error) {
	if d.Config == nil || d.Store == nil || d.Queue == nil || d.Auth == nil || d.Sessions == nil {
		return nil, errors.New("server: missing dependency")
	}
	authRequired, err := d.Config.AuthenticationRequired()
	if err != nil {
		return nil, err
	}
	rescURL, err := d.Config.Value(config.RescWebServiceURL)
	if err != nil {
		return nil, err
	}
	proxy, err := endpoint.NewProxyRenderer(strings.TrimSuffix(rescURL, "/")+"/v1", APIPrefix, d.Transport)
	if err != nil {
		return nil, err
	}

	s := &Server{
		mux:    http.NewServeMux(),
		deps:   d,
		guard:  router.NewGuard(d.Config, d.Store, d.Auth, d.Log),
		assets: &endpoint.Assets{FS: d.Static},
		log:    d.Log.With().Str("component", "server").Logger(),
	}

	var hsts []middleware.SecurityHeadersOption
	if !d.HTTPS {
		hsts = append(hsts, middleware.WithHSTS(0))
	}
	pages := []endpoint.Processor{middleware.NewSecurityHeadersProcessor(hsts...), d.Sessions}
	api := []endpoint.Processor{middleware.NewAPISecurityHeadersProcessor(hsts...), d.Sessions}

	s.mux.HandleFunc("GET /", endpoint.HandleFunc(s.index, append(pages, s.guard)...))
	s.mux.HandleFunc("GET /assets/{path...}", endpoint.HandleFunc(s.assets.Endpoint, pages[0]))
	s.mux.HandleFunc("GET /healthz", endpoint.HandleFunc(healthz))

	s.mux.HandleFunc("GET /api/ui-config", endpoint.HandleFunc(s.uiConfig, api...))
	s.mux.HandleFunc("GET /api/session", endpoint.HandleFunc(s.getSession, api...))
	s.mux.HandleFunc("PUT /api/session", endpoint.HandleFunc(s.putSession, api...))
	s.mux.HandleFunc("POST /api/navigation", endpoint.HandleFunc(s.navigate, api...))
	s.mux.HandleFunc("GET /api/notifications", endpoint.HandleFunc(s.notifications, api...))
	forward := endpoint.HandleFunc(func(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
		return proxy, nil
	}, api...)
	for _, method := range proxiedMethods {
		s.mux.HandleFunc(method+" "+APIPrefix+"/", forward)
	}

	if authRequired {
		h := auth.NewHandler(d.Auth, d.Config,
			auth.WithProcessors(pages...),
			auth.WithNotifier(d.Queue),
			auth.WithHandlerLogger(d.Log.With().Str("component", "auth").Logger()),
		)
		for _, route := range []string{auth.LoginRoute, auth.LoginSSORoute, auth.CallbackRoute, auth.LogoutRoute} {
			s.mux.Handle("GET "+route, h)
		}
	}
	s.log.Info().Bool("authentication_required", authRequired).Str("backend", rescURL).Msg("routes registered")
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) index(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	return s.assets.Index()
}

func healthz(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	return &endpoint.StringRenderer{Body: "ok"}, nil
}

func (s *Server) uiConfig(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	ui, err := s.deps.Config.UIConfig()
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "invalid configuration", err)
	}
	return &endpoint.JSONRenderer{Value: ui}, nil
}

// SessionView is the browser's view of its session. Tokens are never
// included; AccessTokenValid reports whether the access token still verifies
// against the access-token key set.
type SessionView struct {
	Authenticated      bool                 `json:"authenticated"`
	AccessTokenValid   bool                 `json:"accessTokenValid"`
	User               *session.UserDetails `json:"user"`
	SourceRoute        string               `json:"sourceRoute"`
	DestinationRoute   string               `json:"destinationRoute"`
	PreviousRouteState json.RawMessage      `json:"previousRouteState"`
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	id, err := session.RequireID(r.Context())
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "no session", err)
	}
	sess, err := s.deps.Store.Get(r.Context(), id)
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "failed to load session", err)
	}
	view := SessionView{
		Authenticated:      s.deps.Auth.IsUserAuthenticated(r.Context()),
		AccessTokenValid:   s.deps.Auth.IsAccessTokenValid(r.Context()),
		User:               sess.UserDetails(),
		SourceRoute:        sess.SourceRoute,
		DestinationRoute:   sess.DestinationRoute,
		PreviousRouteState: sess.PreviousRouteState,
	}
	if len(view.PreviousRouteState) == 0 {
		view.PreviousRouteState = json.RawMessage("null")
	}
	return &endpoint.JSONRenderer{Value: view}, nil
}

// SessionUpdate is the body of PUT /api/session.
type SessionUpdate struct {
	Body struct {
		PreviousRouteState json.RawMessage `json:"previousRouteState"`
	} `body:"json"`
}

func (s *Server) putSession(w http.ResponseWriter, r *http.Request, params SessionUpdate) (endpoint.Renderer, error) {
	id, err := session.RequireID(r.Context())
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "no session", err)
	}
	err = s.deps.Store.Update(r.Context(), id, func(sess *session.Session) error {
		sess.UpdatePreviousRouteState(params.Body.PreviousRouteState)
		return nil
	})
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "failed to update session", err)
	}
	return &endpoint.NoContentRenderer{}, nil
}

// NavigationParams describe a client-side navigation for the route guard.
type NavigationParams struct {
	Body struct {
		From string `json:"from"`
		To   string `json:"to"`
	} `body:"json"`
}

func (s *Server) navigate(w http.ResponseWriter, r *http.Request, params NavigationParams) (endpoint.Renderer, error) {
	if !strings.HasPrefix(params.Body.To, "/") {
		return nil, endpoint.Error(http.StatusBadRequest, "navigation target must be a path", nil)
	}
	decision, err := s.guard.Check(r.Context(), params.Body.From, params.Body.To)
	if err != nil {
		return nil, router.CheckError(err)
	}
	return &endpoint.JSONRenderer{Value: decision}, nil
}

func (s *Server) notifications(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	id, err := session.RequireID(r.Context())
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "no session", err)
	}
	n, err := s.deps.Queue.Drain(r.Context(), id)
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "failed to read notifications", err)
	}
	return &endpoint.JSONRenderer{Value: n}, nil
}
