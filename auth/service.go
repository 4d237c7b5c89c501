// Package auth implements the dashboard's login flow: an OAuth2
// authorization-code flow with PKCE against the configured identity
// provider, validation of the resulting tokens against remote key sets, an
// authorization check against the RESC web service, and logout.
//
// The Service holds the flow's logic and is driven by the Handler's
// endpoints and by the route guard.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/mnehpets/rescdash/authutil"
	"github.com/mnehpets/rescdash/config"
	"github.com/mnehpets/rescdash/httpclient"
	"github.com/mnehpets/rescdash/session"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// ErrMissingCodeOrVerifier is returned by DoLogin when the callback carries
// no authorization code or no code verifier was stored for the session.
var ErrMissingCodeOrVerifier = errors.New("authCode && codeVerifier are null!")

// ErrNoIDToken is returned when the token response carries no ID token.
var ErrNoIDToken = errors.New("auth: token response has no id_token")

// ErrInvalidIDToken is returned by DoLogin when the exchanged ID token does
// not verify against the ID-token key set.
var ErrInvalidIDToken = errors.New("auth: id_token failed validation")

// ProviderError is an error reported by the identity provider on the
// callback.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("provider error: %s (description: %s)", e.Code, e.Description)
	}
	return fmt.Sprintf("provider error: %s", e.Code)
}

// OAuthToken is the token endpoint's response.
type OAuthToken struct {
	IDToken     string
	AccessToken string
	TokenType   string
	Expiry      time.Time
}

// LoginResult is the outcome of a completed callback.
type LoginResult struct {
	// Authorized is false when the web service rejected the user; the
	// session has been logged out.
	Authorized bool
	// Redirect is where the browser goes next.
	Redirect string
	User     *session.UserDetails
}

// Service runs the login flow for the browser session found in the request
// context.
type Service struct {
	cfg   *config.Config
	store session.Store
	// api calls the web service through the intercepting transport.
	api *httpclient.Client
	// idpClient talks to the identity provider: token and JWKS endpoints.
	idpClient *http.Client
	now       func() time.Time
	log       zerolog.Logger

	mu      sync.Mutex
	keySets map[string]*oidc.RemoteKeySet
}

// Option configures a Service.
type Option func(*Service)

// WithIdentityProviderClient sets the HTTP client used for the token and
// JWKS endpoints. It defaults to one retrying transport-level failures.
func WithIdentityProviderClient(c *http.Client) Option {
	return func(s *Service) {
		s.idpClient = c
	}
}

// WithClock sets the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger sets the service logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) {
		s.log = log
	}
}

func NewService(cfg *config.Config, store session.Store, api *httpclient.Client, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		store:   store,
		api:     api,
		now:     time.Now,
		log:     zerolog.Nop(),
		keySets: map[string]*oidc.RemoteKeySet{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.idpClient == nil {
		s.idpClient = &http.Client{
			Transport: httpclient.NewRetryTransport(http.DefaultTransport, httpclient.DefaultRetries),
			Timeout:   30 * time.Second,
		}
	}
	s.log = s.log.With().Str("component", "auth").Logger()
	return s
}

// RequestLoginPage starts a login attempt: it stores a fresh code verifier
// for the session and returns the identity provider's authorization URL
// carrying the derived challenge. The caller redirects the browser there.
func (s *Service) RequestLoginPage(ctx context.Context) (string, error) {
	id, err := session.RequireID(ctx)
	if err != nil {
		return "", err
	}
	conf, err := s.oauth2Config()
	if err != nil {
		return "", err
	}
	values, err := s.values(config.SSOResponseType, config.SSOCodeChallengeMethod)
	if err != nil {
		return "", err
	}

	verifier, err := authutil.GenerateCodeVerifier()
	if err != nil {
		return "", err
	}
	if err := s.store.SetItem(ctx, id, session.CodeVerifierKey, verifier); err != nil {
		return "", fmt.Errorf("auth: failed to store code verifier: %w", err)
	}

	// The verifier bound to the browser session takes the place of state.
	authURL := conf.AuthCodeURL("",
		oauth2.SetAuthURLParam("response_type", values[0]),
		oauth2.SetAuthURLParam("code_challenge_method", values[1]),
		oauth2.SetAuthURLParam("code_challenge", authutil.GenerateCodeChallenge(verifier)),
	)
	s.log.Debug().Str("session", id).Msg("login attempt started")
	return authURL, nil
}

// DoLogin completes a login attempt from the callback query. Once the code
// and the stored verifier are both present, the verifier is removed exactly
// once whatever the outcome.
//
// The exchanged ID token is verified against the ID-token key set, then the
// tokens are committed to the session before the authorization check is
// sent. An authorized user gets their details stored and is sent to the
// recorded destination route; an unauthorized one is logged out and sent to
// the login page. Any other failure logs the session out and returns the
// error.
func (s *Service) DoLogin(ctx context.Context, query url.Values) (*LoginResult, error) {
	id, err := session.RequireID(ctx)
	if err != nil {
		return nil, err
	}

	code := query.Get("code")
	verifier, ok, err := s.store.GetItem(ctx, id, session.CodeVerifierKey)
	if err != nil {
		return nil, err
	}
	if code == "" || !ok || verifier == "" {
		if e := query.Get("error"); e != "" {
			return nil, fmt.Errorf("%w: %w", ErrMissingCodeOrVerifier, &ProviderError{Code: e, Description: query.Get("error_description")})
		}
		return nil, ErrMissingCodeOrVerifier
	}
	defer func() {
		if err := s.store.RemoveItem(ctx, id, session.CodeVerifierKey); err != nil {
			s.log.Error().Err(err).Str("session", id).Msg("failed to remove code verifier")
		}
	}()

	tokens, err := s.GetAuthTokens(ctx, code, verifier)
	if err != nil {
		s.logOut(ctx, id)
		return nil, fmt.Errorf("auth: token exchange failed: %w", err)
	}
	values, err := s.values(config.SSOIDTokenJWKSURL, config.SSOIDTokenIssuerURL)
	if err != nil {
		s.logOut(ctx, id)
		return nil, err
	}
	if !s.IsValidJWTToken(ctx, tokens.IDToken, values[0], values[1]) {
		s.logOut(ctx, id)
		return nil, ErrInvalidIDToken
	}
	if err := s.store.Update(ctx, id, func(sess *session.Session) error {
		sess.UpdateAuthTokens(&session.TokenData{IDToken: tokens.IDToken, AccessToken: tokens.AccessToken})
		return nil
	}); err != nil {
		s.logOut(ctx, id)
		return nil, err
	}

	if !s.IsUserAuthorized(ctx) {
		s.log.Info().Str("session", id).Msg("user is not authorized")
		s.logOut(ctx, id)
		return &LoginResult{Redirect: LoginRoute}, nil
	}

	if err := s.UpdateUserDetailsInStore(ctx); err != nil {
		s.logOut(ctx, id)
		return nil, err
	}
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		s.logOut(ctx, id)
		return nil, err
	}
	s.log.Info().
		Str("session", id).
		Str("email", sess.Email).
		Dur("expires_in", tokenLifetime(tokens.Expiry, s.now())).
		Msg("user logged in")
	return &LoginResult{
		Authorized: true,
		Redirect:   LocalRoute(sess.DestinationRoute),
		User:       sess.UserDetails(),
	}, nil
}

// GetAuthTokens exchanges an authorization code and its verifier at the
// token endpoint. The form carries grant_type, client_id, code, redirect_uri
// and code_verifier.
func (s *Service) GetAuthTokens(ctx context.Context, code, verifier string) (*OAuthToken, error) {
	conf, err := s.oauth2Config()
	if err != nil {
		return nil, err
	}
	grantType, err := s.cfg.Value(config.SSOGrantType)
	if err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.idpClient)
	token, err := conf.Exchange(ctx, code,
		oauth2.SetAuthURLParam("grant_type", grantType),
		oauth2.VerifierOption(verifier),
	)
	if err != nil {
		return nil, err
	}
	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		return nil, ErrNoIDToken
	}
	return &OAuthToken{
		IDToken:     idToken,
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		Expiry:      token.Expiry,
	}, nil
}

// IsValidJWTToken verifies token's signature against the key set at
// jwksURL, its expiry, its audience (the client id) and its signing
// algorithm, and its issuer when issuerURL is not empty. Failures are
// logged with their diagnostic and reported as false.
func (s *Service) IsValidJWTToken(ctx context.Context, token, jwksURL, issuerURL string) bool {
	return s.verify(ctx, token, jwksURL, verifierOptions{issuer: issuerURL, checkAudience: true})
}

func (s *Service) verify(ctx context.Context, token, jwksURL string, opts verifierOptions) bool {
	verifier, err := s.newVerifier(jwksURL, opts)
	if err != nil {
		s.log.Error().Err(err).Msg("token verifier unavailable")
		return false
	}
	if _, err := verifier.Verify(ctx, token); err != nil {
		code := authutil.ErrorCode(err)
		s.log.Warn().
			Err(err).
			Str("code", code).
			Str("jwks", jwksURL).
			Msg(authutil.ParseJWTTokenErrors(code).Error())
		return false
	}
	return true
}

// IsUserAuthenticated reports whether the session holds an ID token that is
// unexpired and valid against the ID-token key set.
func (s *Service) IsUserAuthenticated(ctx context.Context) bool {
	sess, ok := s.current(ctx)
	if !ok || sess.IDToken == "" {
		return false
	}
	if s.IsTokenExpired(sess.IDToken) {
		return false
	}
	values, err := s.values(config.SSOIDTokenJWKSURL, config.SSOIDTokenIssuerURL)
	if err != nil {
		s.log.Error().Err(err).Msg("cannot validate ID token")
		return false
	}
	return s.IsValidJWTToken(ctx, sess.IDToken, values[0], values[1])
}

// IsAccessTokenValid reports whether the session's access token verifies
// against the access-token key set. Access tokens are issued for the web
// service, so their audience is not checked.
func (s *Service) IsAccessTokenValid(ctx context.Context) bool {
	sess, ok := s.current(ctx)
	if !ok || sess.AccessToken == "" || s.IsTokenExpired(sess.AccessToken) {
		return false
	}
	values, err := s.values(config.SSOAccessTokenJWKSURL, config.SSOIDTokenIssuerURL)
	if err != nil {
		s.log.Error().Err(err).Msg("cannot validate access token")
		return false
	}
	return s.verify(ctx, sess.AccessToken, values[0], verifierOptions{issuer: values[1]})
}

// IsUserAuthorized asks the web service's auth-check endpoint whether the
// session's user may use the dashboard. Only a 200 response authorizes.
func (s *Service) IsUserAuthorized(ctx context.Context) bool {
	resp, err := s.api.Get(ctx, "auth-check")
	if err != nil {
		httpclient.HandleError(s.log, err)
		return false
	}
	return resp.StatusCode == http.StatusOK
}

// IsTokenExpired decodes token locally and reports whether it is expired.
// Undecodable tokens and tokens without exp count as expired.
func (s *Service) IsTokenExpired(token string) bool {
	return authutil.IsTokenExpired(token, s.now())
}

// GetLoggedInUserDetails decodes the user details from the session's ID
// token. It returns nil without error when there is no ID token.
func (s *Service) GetLoggedInUserDetails(ctx context.Context) (*session.UserDetails, error) {
	id, err := session.RequireID(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.IDToken == "" {
		return nil, nil
	}
	claims, err := authutil.DecodeClaims(sess.IDToken)
	if err != nil {
		return nil, err
	}
	return &session.UserDetails{
		FirstName: claims.GivenName,
		LastName:  claims.FamilyName,
		Email:     claims.Email,
	}, nil
}

// UpdateUserDetailsInStore stores the details decoded from the ID token.
func (s *Service) UpdateUserDetailsInStore(ctx context.Context) error {
	details, err := s.GetLoggedInUserDetails(ctx)
	if err != nil {
		return err
	}
	id, _ := session.IDFromContext(ctx)
	return s.store.Update(ctx, id, func(sess *session.Session) error {
		sess.UpdateUserDetails(details)
		return nil
	})
}

// DoLogOut clears the session and its code verifier and returns the login
// route. It is safe to call in any state.
func (s *Service) DoLogOut(ctx context.Context) (string, error) {
	id, err := session.RequireID(ctx)
	if err != nil {
		return "", err
	}
	if err := session.LogOut(ctx, s.store, id); err != nil {
		return "", err
	}
	s.log.Info().Str("session", id).Msg("user logged out")
	return LoginRoute, nil
}

func (s *Service) logOut(ctx context.Context, id string) {
	if err := session.LogOut(ctx, s.store, id); err != nil {
		s.log.Error().Err(err).Str("session", id).Msg("logout failed")
	}
}

func (s *Service) current(ctx context.Context) (*session.Session, bool) {
	id, ok := session.IDFromContext(ctx)
	if !ok {
		return nil, false
	}
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		s.log.Error().Err(err).Str("session", id).Msg("failed to load session")
		return nil, false
	}
	return sess, true
}
