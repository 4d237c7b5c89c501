package router

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/mnehpets/rescdash/auth"
	"github.com/mnehpets/rescdash/config"
	"github.com/mnehpets/rescdash/endpoint"
	"github.com/mnehpets/rescdash/session"
	"github.com/rs/zerolog"
)

// Authenticator reports whether the request's browser session is logged in.
type Authenticator interface {
	IsUserAuthenticated(ctx context.Context) bool
}

// Decision is the outcome of a navigation check. A zero Redirect allows the
// navigation.
type Decision struct {
	Redirect string `json:"redirect,omitempty"`
}

// Allowed reports whether the navigation may proceed.
func (d Decision) Allowed() bool {
	return d.Redirect == ""
}

// Guard checks navigations against the authentication mode and records the
// source and destination routes in the session.
type Guard struct {
	cfg   *config.Config
	store session.Store
	auth  Authenticator
	log   zerolog.Logger
}

func NewGuard(cfg *config.Config, store session.Store, authenticator Authenticator, log zerolog.Logger) *Guard {
	return &Guard{
		cfg:   cfg,
		store: store,
		auth:  authenticator,
		log:   log.With().Str("component", "guard").Logger(),
	}
}

// Check decides a navigation from one route to another, both given as path
// plus optional query.
//
// With authentication disabled every navigation is allowed, any tokens are
// cleared and the routes are recorded. With it enabled, NoAuth routes are
// allowed outright; other routes are allowed only for an authenticated
// session, and redirect to the login page otherwise. A malformed
// authentication flag is an error, never a decision.
func (g *Guard) Check(ctx context.Context, from, to string) (Decision, error) {
	authRequired, err := g.cfg.AuthenticationRequired()
	if err != nil {
		return Decision{}, err
	}
	match, ok := MatchRoute(Routes(authRequired), to)
	if !ok {
		return Decision{Redirect: FallbackRoute}, nil
	}
	id, err := session.RequireID(ctx)
	if err != nil {
		return Decision{}, err
	}

	if !authRequired {
		return Decision{}, g.record(ctx, id, from, to, true)
	}
	if match.Route.NoAuth {
		return Decision{}, nil
	}

	authenticated := g.auth.IsUserAuthenticated(ctx)
	if err := g.record(ctx, id, from, to, !authenticated); err != nil {
		return Decision{}, err
	}
	if !authenticated {
		g.log.Debug().Str("session", id).Str("to", to).Msg("not authenticated")
		return Decision{Redirect: auth.LoginRoute}, nil
	}
	return Decision{}, nil
}

func (g *Guard) record(ctx context.Context, id, from, to string, clear bool) error {
	return g.store.Update(ctx, id, func(s *session.Session) error {
		s.UpdateSourceRoute(from)
		s.UpdateDestinationRoute(to)
		if clear {
			s.UpdateAuthTokens(nil)
			s.UpdateUserDetails(nil)
		}
		return nil
	})
}

// Process implements endpoint.Processor for full page loads. The source
// route is the path of a same-origin Referer, else "/".
func (g *Guard) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	decision, err := g.Check(r.Context(), refererRoute(r), r.URL.RequestURI())
	if err != nil {
		return CheckError(err)
	}
	if !decision.Allowed() {
		return endpoint.Interrupt(&endpoint.RedirectRenderer{URL: decision.Redirect})
	}
	return next(w, r)
}

// CheckError maps an error from Check to an endpoint error. Only a malformed
// authentication flag is reported as a configuration problem.
func CheckError(err error) error {
	if errors.Is(err, config.ErrInvalidAuthFlag) {
		return endpoint.Error(http.StatusInternalServerError, "invalid authentication configuration", err)
	}
	return endpoint.Error(http.StatusInternalServerError, "failed to check navigation", err)
}

func refererRoute(r *http.Request) string {
	ref, err := url.Parse(r.Referer())
	if err != nil || ref.Host != r.Host || ref.Path == "" {
		return FallbackRoute
	}
	return ref.RequestURI()
}

var _ endpoint.Processor = (*Guard)(nil)
