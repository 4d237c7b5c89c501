package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/mnehpets/rescdash/config"
	"golang.org/x/oauth2"
)

// oauth2Config builds the OAuth2 client configuration of the identity
// provider. It is rebuilt on every call so configuration placeholders are
// resolved on each lookup.
func (s *Service) oauth2Config() (*oauth2.Config, error) {
	values, err := s.values(
		config.SSOClientID,
		config.SSOAuthorizationURL,
		config.SSOTokenEndpointURL,
		config.SSORedirectURI,
		config.SSOScope,
	)
	if err != nil {
		return nil, err
	}
	return &oauth2.Config{
		ClientID: values[0],
		Endpoint: oauth2.Endpoint{
			AuthURL:  values[1],
			TokenURL: values[2],
			// Public client: client_id travels in the form body, no secret.
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: values[3],
		Scopes:      strings.Fields(values[4]),
	}, nil
}

// values resolves keys in order, failing on the first missing one.
func (s *Service) values(keys ...config.Key) ([]string, error) {
	out := make([]string, len(keys))
	for i, key := range keys {
		v, err := s.cfg.Value(key)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// keySet returns the cached remote key set of jwksURL. Key sets outlive the
// request that created them, so they fetch with a background context.
func (s *Service) keySet(jwksURL string) *oidc.RemoteKeySet {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ks, ok := s.keySets[jwksURL]; ok {
		return ks
	}
	ctx := oidc.ClientContext(context.Background(), s.idpClient)
	ks := oidc.NewRemoteKeySet(ctx, jwksURL)
	s.keySets[jwksURL] = ks
	return ks
}

// verifierOptions selects the checks a token verifier applies.
type verifierOptions struct {
	issuer        string
	checkAudience bool
}

// newVerifier builds a verifier over the key set of jwksURL accepting only
// the configured signing algorithm. An empty issuer disables the issuer
// check.
func (s *Service) newVerifier(jwksURL string, opts verifierOptions) (*oidc.IDTokenVerifier, error) {
	values, err := s.values(config.SSOClientID, config.SSOJWTSigningAlgorithm)
	if err != nil {
		return nil, err
	}
	cfg := &oidc.Config{
		ClientID:             values[0],
		SupportedSigningAlgs: []string{values[1]},
		SkipClientIDCheck:    !opts.checkAudience,
		SkipIssuerCheck:      opts.issuer == "",
		Now:                  s.now,
	}
	if jwksURL == "" {
		return nil, fmt.Errorf("auth: JWKS URL is required")
	}
	return oidc.NewVerifier(opts.issuer, s.keySet(jwksURL), cfg), nil
}

// tokenLifetime reports the remaining validity of a token, for logging.
func tokenLifetime(expiry, now time.Time) time.Duration {
	if expiry.IsZero() {
		return 0
	}
	return expiry.Sub(now).Round(time.Second)
}
