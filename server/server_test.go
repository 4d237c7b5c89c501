package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mnehpets/rescdash/auth"
	"github.com/mnehpets/rescdash/config"
	"github.com/mnehpets/rescdash/httpclient"
	"github.com/mnehpets/rescdash/middleware"
	"github.com/mnehpets/rescdash/notify"
	"github.com/mnehpets/rescdash/server"
	"github.com/mnehpets/rescdash/session"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

// recordingStore remembers the last session id written, so tests can reach
// the server-side state of the cookie-bound browser session.
type recordingStore struct {
	*session.MemoryStore
	mu   sync.Mutex
	last string
}

func (s *recordingStore) Update(ctx context.Context, id string, fn func(*session.Session) error) error {
	s.mu.Lock()
	s.last = id
	s.mu.Unlock()
	return s.MemoryStore.Update(ctx, id, fn)
}

func (s *recordingStore) lastID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

type backendRequest struct {
	Path          string
	Query         string
	Authorization string
	Cookie        string
}

type fixture struct {
	t       *testing.T
	store   *recordingStore
	queue   *notify.Queue
	gateway *httptest.Server
	client  *http.Client

	mu       sync.Mutex
	received []backendRequest
}

func newFixture(t *testing.T, authRequired string) *fixture {
	t.Helper()
	f := &fixture{t: t, store: &recordingStore{MemoryStore: session.NewMemoryStore()}}

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.received = append(f.received, backendRequest{
			Path:          r.URL.Path,
			Query:         r.URL.RawQuery,
			Authorization: r.Header.Get("Authorization"),
			Cookie:        r.Header.Get("Cookie"),
		})
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[]}`)
	}))
	t.Cleanup(backend.Close)

	env := viper.New()
	env.Set("RESC_WEB_SERVICE_URL", backend.URL)
	env.Set("RESC_SSO_LOGIN_PAGE_MESSAGE", "Use your corporate account")
	cfg := config.New(env).With(config.AuthenticationRequired, authRequired)

	f.queue = notify.NewQueue(f.store, zerolog.Nop())
	scheduler := httpclient.NewScheduler(f.store, time.Hour, zerolog.Nop())
	t.Cleanup(scheduler.Stop)
	transport := httpclient.NewTransport(f.store, f.queue, scheduler, httpclient.WithBase(http.DefaultTransport))
	service := auth.NewService(cfg, f.store, httpclient.NewClient(backend.URL, transport))

	sessions, err := middleware.NewSessionProcessor("k1", map[string][]byte{"k1": make([]byte, middleware.KeySize)}, f.store,
		middleware.WithCookieOptions(middleware.WithSecure(false)))
	require.NoError(t, err)

	srv, err := server.New(server.Deps{
		Config:    cfg,
		Store:     f.store,
		Queue:     f.queue,
		Auth:      service,
		Sessions:  sessions,
		Transport: transport,
		Static: fstest.MapFS{
			"index.html":    {Data: []byte("<html>dashboard</html>")},
			"assets/app.js": {Data: []byte("console.log(1)")},
		},
		Log: zerolog.Nop(),
	})
	require.NoError(t, err)
	f.gateway = httptest.NewServer(srv)
	t.Cleanup(f.gateway.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	f.client = &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return f
}

func (f *fixture) do(method, path, body string) *http.Response {
	f.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.gateway.URL+path, r)
	require.NoError(f.t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.client.Do(req)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *fixture) body(resp *http.Response) string {
	f.t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(f.t, err)
	return string(b)
}

// sessionID binds the cookie jar to a browser session and returns its id.
func (f *fixture) sessionID() string {
	f.t.Helper()
	resp := f.do(http.MethodPut, "/api/session", `{"previousRouteState":{"page":1}}`)
	require.Equal(f.t, http.StatusNoContent, resp.StatusCode)
	id := f.store.lastID()
	require.NotEmpty(f.t, id)
	return id
}

func (f *fixture) setAccessToken(id string, exp time.Time) string {
	f.t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("secret"))
	require.NoError(f.t, err)
	require.NoError(f.t, f.store.Update(context.Background(), id, func(s *session.Session) error {
		s.UpdateAuthTokens(&session.TokenData{IDToken: token, AccessToken: token})
		return nil
	}))
	return token
}

func TestServer_Healthz(t *testing.T) {
	f := newFixture(t, "false")
	resp := f.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", f.body(resp))
}

func TestServer_PagesWithoutAuthentication(t *testing.T) {
	f := newFixture(t, "false")

	resp := f.do(http.MethodGet, "/findings/12", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<html>dashboard</html>", f.body(resp))
	require.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	require.Equal(t, middleware.DashboardCSP, resp.Header.Get("Content-Security-Policy"))
	require.Empty(t, resp.Header.Get("Strict-Transport-Security"))

	resp = f.do(http.MethodGet, "/login", "")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get("Location"))
}

func TestServer_PagesRequireLogin(t *testing.T) {
	f := newFixture(t, "true")

	resp := f.do(http.MethodGet, "/repositories", "")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/login", resp.Header.Get("Location"))

	resp = f.do(http.MethodGet, "/login", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, f.body(resp), "Use your corporate account")

	resp = f.do(http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view server.SessionView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	require.False(t, view.Authenticated)
	require.Equal(t, "/repositories", view.DestinationRoute)
}

func TestServer_UnknownPageRedirectsHome(t *testing.T) {
	f := newFixture(t, "true")
	resp := f.do(http.MethodGet, "/does/not/exist", "")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get("Location"))
}

func TestServer_Assets(t *testing.T) {
	f := newFixture(t, "true")
	resp := f.do(http.MethodGet, "/assets/app.js", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "console.log(1)", f.body(resp))
	require.Contains(t, resp.Header.Get("Cache-Control"), "immutable")

	resp = f.do(http.MethodGet, "/assets/missing.js", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_UIConfig(t *testing.T) {
	f := newFixture(t, "false")
	resp := f.do(http.MethodGet, "/api/ui-config", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	var ui config.UIConfig
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ui))
	require.False(t, ui.AuthenticationRequired)
	require.Equal(t, 100, ui.DefaultPageSize)
}

func TestServer_SessionRouteState(t *testing.T) {
	f := newFixture(t, "false")
	f.sessionID()

	resp := f.do(http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view server.SessionView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	require.JSONEq(t, `{"page":1}`, string(view.PreviousRouteState))
	require.Nil(t, view.User)
	require.False(t, view.AccessTokenValid)

	resp = f.do(http.MethodPut, "/api/session", `{"previousRouteState":null}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = f.do(http.MethodGet, "/api/session", "")
	require.Contains(t, f.body(resp), `"previousRouteState":null`)
}

func TestServer_SessionUnverifiableAccessToken(t *testing.T) {
	f := newFixture(t, "true")
	id := f.sessionID()
	f.setAccessToken(id, time.Now().Add(time.Hour))

	resp := f.do(http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view server.SessionView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	require.False(t, view.Authenticated)
	require.False(t, view.AccessTokenValid)
}

func TestServer_Navigation(t *testing.T) {
	f := newFixture(t, "true")

	resp := f.do(http.MethodPost, "/api/navigation", `{"from":"/","to":"/rulepacks"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"redirect":"/login"}`, f.body(resp))

	resp = f.do(http.MethodPost, "/api/navigation", `{"from":"/","to":"/callback"}`)
	require.JSONEq(t, `{}`, f.body(resp))

	resp = f.do(http.MethodPost, "/api/navigation", `{"from":"/","to":"rulepacks"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.JSONEq(t, `{"detail":"navigation target must be a path"}`, f.body(resp))
}

func TestServer_ProxyAttachesAccessToken(t *testing.T) {
	f := newFixture(t, "true")
	token := f.setAccessToken(f.sessionID(), time.Now().Add(time.Hour))

	resp := f.do(http.MethodGet, "/api/v1/findings?skip=0&limit=100", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"data":[]}`, f.body(resp))

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.received, 1)
	got := f.received[0]
	require.Equal(t, "/v1/findings", got.Path)
	require.Equal(t, "skip=0&limit=100", got.Query)
	require.Equal(t, "Bearer "+token, got.Authorization)
	require.Empty(t, got.Cookie)
}

func TestServer_ProxyExpiredToken(t *testing.T) {
	f := newFixture(t, "true")
	f.setAccessToken(f.sessionID(), time.Now().Add(-time.Minute))

	resp := f.do(http.MethodPost, "/api/v1/findings", `{"status":"TRUE_POSITIVE"}`)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	f.mu.Lock()
	require.Empty(t, f.received)
	f.mu.Unlock()

	resp = f.do(http.MethodGet, "/api/notifications", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var n []notify.Notification
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&n))
	require.Len(t, n, 1)
	require.Equal(t, "Session Expired", n[0].Title)
	require.Equal(t, notify.Danger, n[0].Variant)

	resp = f.do(http.MethodGet, "/api/notifications", "")
	require.JSONEq(t, `[]`, f.body(resp))
}

func TestNew_InvalidAuthFlag(t *testing.T) {
	cfg := config.New(viper.New()).With(config.AuthenticationRequired, "yes")
	store := session.NewMemoryStore()
	sessions, err := middleware.NewSessionProcessor("k1", map[string][]byte{"k1": make([]byte, middleware.KeySize)}, store)
	require.NoError(t, err)

	_, err = server.New(server.Deps{
		Config:   cfg,
		Store:    store,
		Queue:    notify.NewQueue(store, zerolog.Nop()),
		Auth:     auth.NewService(cfg, store, nil),
		Sessions: sessions,
	})
	require.ErrorIs(t, err, config.ErrInvalidAuthFlag)
}
