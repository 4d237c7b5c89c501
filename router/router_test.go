package router_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mnehpets/rescdash/config"
	"github.com/mnehpets/rescdash/endpoint"
	"github.com/mnehpets/rescdash/router"
	"github.com/mnehpets/rescdash/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const sessionID = "b1"

type fakeAuth struct {
	authenticated bool
	calls         int
}

func (f *fakeAuth) IsUserAuthenticated(context.Context) bool {
	f.calls++
	return f.authenticated
}

type fixture struct {
	ctx   context.Context
	store *session.MemoryStore
	auth  *fakeAuth
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   session.WithID(context.Background(), sessionID),
		store: session.NewMemoryStore(),
		auth:  &fakeAuth{},
	}
	require.NoError(t, f.store.Update(f.ctx, sessionID, func(s *session.Session) error {
		s.UpdateAuthTokens(&session.TokenData{IDToken: "id", AccessToken: "access"})
		s.UpdateUserDetails(&session.UserDetails{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"})
		return nil
	}))
	return f
}

func (f *fixture) guard(flag string) *router.Guard {
	cfg := config.New(nil).With(config.AuthenticationRequired, flag)
	return router.NewGuard(cfg, f.store, f.auth, zerolog.Nop())
}

func (f *fixture) session(t *testing.T) *session.Session {
	t.Helper()
	s, err := f.store.Get(f.ctx, sessionID)
	require.NoError(t, err)
	return s
}

func TestMatchRoute(t *testing.T) {
	tests := []struct {
		path         string
		authRequired bool
		want         string
		params       map[string]string
	}{
		{path: "/", want: "Analytics"},
		{path: "/repositories/", want: "Repositories"},
		{path: "/rulepacks?page=2", want: "RulePacks"},
		{path: "/findings/42", want: "ScanFindings", params: map[string]string{"scanId": "42"}},
		{path: "/metrics/audit-metrics", want: "AuditMetrics"},
		{path: "/login", authRequired: true, want: "Login"},
		{path: "/callback", authRequired: true, want: "LoginCallback"},
		{path: "/login"},
		{path: "/findings"},
		{path: "/nope"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			m, ok := router.MatchRoute(router.Routes(tt.authRequired), tt.path)
			if tt.want == "" {
				require.False(t, ok)
				return
			}
			require.True(t, ok)
			require.Equal(t, tt.want, m.Route.Name)
			require.Equal(t, tt.params, m.Params)
		})
	}
}

func TestGuard_AuthenticationDisabled(t *testing.T) {
	f := newFixture(t)
	d, err := f.guard("false").Check(f.ctx, "/a", "/repositories")
	require.NoError(t, err)
	require.True(t, d.Allowed())
	require.Zero(t, f.auth.calls)

	s := f.session(t)
	require.Equal(t, "/a", s.SourceRoute)
	require.Equal(t, "/repositories", s.DestinationRoute)
	require.False(t, s.HasTokens())
	require.Nil(t, s.UserDetails())
}

func TestGuard_NoAuthRoute(t *testing.T) {
	f := newFixture(t)
	d, err := f.guard("true").Check(f.ctx, "/", "/callback?code=c1")
	require.NoError(t, err)
	require.True(t, d.Allowed())
	require.Zero(t, f.auth.calls)

	s := f.session(t)
	require.Empty(t, s.DestinationRoute)
	require.True(t, s.HasTokens())
}

func TestGuard_Authenticated(t *testing.T) {
	f := newFixture(t)
	f.auth.authenticated = true
	d, err := f.guard("true").Check(f.ctx, "/", "/findings/7")
	require.NoError(t, err)
	require.True(t, d.Allowed())
	require.Equal(t, 1, f.auth.calls)

	s := f.session(t)
	require.Equal(t, "/", s.SourceRoute)
	require.Equal(t, "/findings/7", s.DestinationRoute)
	require.True(t, s.HasTokens())
}

func TestGuard_NotAuthenticated(t *testing.T) {
	f := newFixture(t)
	d, err := f.guard("true").Check(f.ctx, "/", "/rule-analysis")
	require.NoError(t, err)
	require.Equal(t, "/login", d.Redirect)

	s := f.session(t)
	require.Equal(t, "/rule-analysis", s.DestinationRoute)
	require.False(t, s.HasTokens())
	require.Nil(t, s.UserDetails())
}

func TestGuard_UnmatchedRoute(t *testing.T) {
	f := newFixture(t)
	d, err := f.guard("true").Check(f.ctx, "/", "/missing")
	require.NoError(t, err)
	require.Equal(t, "/", d.Redirect)
	require.Zero(t, f.auth.calls)
}

func TestGuard_InvalidFlag(t *testing.T) {
	f := newFixture(t)
	_, err := f.guard("yes").Check(f.ctx, "/", "/")
	require.ErrorIs(t, err, config.ErrInvalidAuthFlag)
	require.True(t, f.session(t).HasTokens())
}

func TestGuard_Process(t *testing.T) {
	f := newFixture(t)
	g := f.guard("true")
	h := endpoint.HandleFunc(func(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
		return &endpoint.StringRenderer{Body: "index"}, nil
	}, g)

	newRequest := func(target string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, target, nil)
		r.Header.Set("Referer", "http://example.com/repositories")
		return r.WithContext(f.ctx)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, newRequest("/rulepacks"))
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "/login", w.Header().Get("Location"))
	require.Equal(t, "/repositories", f.session(t).SourceRoute)

	f.auth.authenticated = true
	w = httptest.NewRecorder()
	h.ServeHTTP(w, newRequest("/rulepacks"))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "index", w.Body.String())
}

func TestGuard_ProcessInvalidFlag(t *testing.T) {
	f := newFixture(t)
	h := endpoint.HandleFunc(func(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
		return &endpoint.NoContentRenderer{}, nil
	}, f.guard("maybe"))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(f.ctx)
	r.Header.Set("Accept", "application/json")
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.JSONEq(t, `{"detail":"invalid authentication configuration"}`, w.Body.String())
}

func TestGuard_ProcessWithoutSession(t *testing.T) {
	f := newFixture(t)
	h := endpoint.HandleFunc(func(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
		return &endpoint.NoContentRenderer{}, nil
	}, f.guard("true"))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/rulepacks", nil)
	r.Header.Set("Accept", "application/json")
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.JSONEq(t, `{"detail":"failed to check navigation"}`, w.Body.String())
}

func TestCheckError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
	}{
		{name: "invalid flag", err: fmt.Errorf("%w: %q", config.ErrInvalidAuthFlag, "yes"), message: "invalid authentication configuration"},
		{name: "missing session", err: session.ErrNoSessionID, message: "failed to check navigation"},
		{name: "store failure", err: errors.New("disk full"), message: "failed to check navigation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var eerr *endpoint.EndpointError
			require.ErrorAs(t, router.CheckError(tt.err), &eerr)
			require.Equal(t, http.StatusInternalServerError, eerr.Status)
			require.Equal(t, tt.message, eerr.Message)
			require.ErrorIs(t, eerr, tt.err)
		})
	}
}
