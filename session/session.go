// Package session holds the server-side state of a browser session: the
// token pair, the user details decoded from the ID token, and the navigation
// targets recorded around a login. Browsers only hold a sealed session id;
// everything else lives in a Store.
package session

import (
	"bytes"
	"encoding/json"
)

// Local-storage keys used by the login flow.
const (
	CodeVerifierKey  = "code_verifier"
	NotificationsKey = "notifications"
)

// Session is the state of one browser session. An empty string stands for
// an absent value.
type Session struct {
	ID                 string          `cbor:"1,keysasint" json:"-"`
	IDToken            string          `cbor:"2,keysasint,omitempty" json:"-"`
	AccessToken        string          `cbor:"3,keysasint,omitempty" json:"-"`
	FirstName          string          `cbor:"4,keysasint,omitempty" json:"firstName,omitempty"`
	LastName           string          `cbor:"5,keysasint,omitempty" json:"lastName,omitempty"`
	Email              string          `cbor:"6,keysasint,omitempty" json:"email,omitempty"`
	SourceRoute        string          `cbor:"7,keysasint,omitempty" json:"sourceRoute,omitempty"`
	DestinationRoute   string          `cbor:"8,keysasint,omitempty" json:"destinationRoute,omitempty"`
	PreviousRouteState json.RawMessage `cbor:"9,keysasint,omitempty" json:"previousRouteState,omitempty"`
}

// TokenData is the token pair returned by the token endpoint.
type TokenData struct {
	IDToken     string `json:"id_token"`
	AccessToken string `json:"access_token"`
}

// UserDetails are the profile fields decoded from the ID token.
type UserDetails struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// UpdateAuthTokens sets both tokens, or clears both when tokens is nil.
func (s *Session) UpdateAuthTokens(tokens *TokenData) {
	if tokens == nil {
		s.IDToken, s.AccessToken = "", ""
		return
	}
	s.IDToken, s.AccessToken = tokens.IDToken, tokens.AccessToken
}

// UpdateUserDetails sets the profile fields, or clears them when details is nil.
func (s *Session) UpdateUserDetails(details *UserDetails) {
	if details == nil {
		s.FirstName, s.LastName, s.Email = "", "", ""
		return
	}
	s.FirstName, s.LastName, s.Email = details.FirstName, details.LastName, details.Email
}

func (s *Session) UpdateSourceRoute(route string) {
	s.SourceRoute = route
}

func (s *Session) UpdateDestinationRoute(route string) {
	s.DestinationRoute = route
}

// UpdatePreviousRouteState stores an opaque state blob owned by the SPA. A
// JSON null clears it.
func (s *Session) UpdatePreviousRouteState(state json.RawMessage) {
	if len(state) == 0 || bytes.Equal(bytes.TrimSpace(state), []byte("null")) {
		s.PreviousRouteState = nil
		return
	}
	s.PreviousRouteState = append(json.RawMessage(nil), state...)
}

// Clear resets every field except the id.
func (s *Session) Clear() {
	*s = Session{ID: s.ID}
}

// HasTokens reports whether the token pair is present.
func (s *Session) HasTokens() bool {
	return s.IDToken != "" && s.AccessToken != ""
}

// UserDetails returns the stored profile fields, or nil when none are set.
func (s *Session) UserDetails() *UserDetails {
	if s.FirstName == "" && s.LastName == "" && s.Email == "" {
		return nil
	}
	return &UserDetails{FirstName: s.FirstName, LastName: s.LastName, Email: s.Email}
}

// clone returns a deep copy of s.
func (s *Session) clone() Session {
	c := *s
	if c.PreviousRouteState != nil {
		c.PreviousRouteState = append(json.RawMessage(nil), c.PreviousRouteState...)
	}
	return c
}
