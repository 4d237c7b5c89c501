package middleware

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCookieFormat  = errors.New("invalid session cookie format")
	ErrCookieInvalid = errors.New("invalid session cookie")
	ErrCookieConfig  = errors.New("invalid secure cookie configuration")
)

// maxCookieLen bounds how much of a cookie value is decoded.
const maxCookieLen = 4096

// KeySize is the key length expected by the default AEAD.
const KeySize = chacha20poly1305.KeySize

// Sealer encrypts and authenticates cookie payloads. The sealed form is
// "<keyID>.<base64url(nonce || ciphertext)>"; keys holds every accepted key
// and keyID selects the one used for sealing.
type Sealer struct {
	keyID   string
	keys    map[string][]byte
	newAEAD func(key []byte) (cipher.AEAD, error)
}

// NewSealer validates the key set. A nil newAEAD selects XChaCha20-Poly1305.
func NewSealer(keyID string, keys map[string][]byte, newAEAD func(key []byte) (cipher.AEAD, error)) (*Sealer, error) {
	if newAEAD == nil {
		newAEAD = chacha20poly1305.NewX
	}
	if _, ok := keys[keyID]; !ok {
		return nil, fmt.Errorf("%w: key %q not found", ErrCookieConfig, keyID)
	}
	for id, k := range keys {
		if _, err := newAEAD(k); err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrCookieConfig, id, err)
		}
	}
	return &Sealer{keyID: keyID, keys: keys, newAEAD: newAEAD}, nil
}

// Seal encrypts plain, binding it to aad.
func (s *Sealer) Seal(plain, aad []byte) (string, error) {
	aead, err := s.newAEAD(s.keys[s.keyID])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plain, aad)
	return s.keyID + "." + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Values sealed under any accepted key are opened.
func (s *Sealer) Open(value string, aad []byte) ([]byte, error) {
	if value == "" || len(value) > maxCookieLen {
		return nil, ErrCookieFormat
	}
	keyID, enc, ok := strings.Cut(value, ".")
	if !ok || keyID == "" || enc == "" {
		return nil, ErrCookieFormat
	}
	key, ok := s.keys[keyID]
	if !ok {
		return nil, ErrCookieInvalid
	}
	sealed, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return nil, ErrCookieFormat
	}
	aead, err := s.newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrCookieFormat
	}
	plain, err := aead.Open(nil, sealed[:aead.NonceSize()], sealed[aead.NonceSize():], aad)
	if err != nil {
		return nil, ErrCookieInvalid
	}
	return plain, nil
}

// SecureCookie is an HttpOnly cookie whose value is a CBOR payload sealed by
// a Sealer. The cookie's name, path and Secure flag are bound into the
// ciphertext, so a value cannot be replayed under other attributes.
type SecureCookie struct {
	name     string
	path     string
	secure   bool
	sameSite http.SameSite
	newAEAD  func([]byte) (cipher.AEAD, error)
	sealer   *Sealer
}

// CookieOption configures a SecureCookie.
type CookieOption func(*SecureCookie)

// WithPath sets the cookie path. Default "/".
func WithPath(path string) CookieOption {
	return func(c *SecureCookie) {
		c.path = path
	}
}

// WithSecure sets the Secure attribute. Default true.
func WithSecure(secure bool) CookieOption {
	return func(c *SecureCookie) {
		c.secure = secure
	}
}

// WithSameSite sets the SameSite attribute. Default Lax, which the login
// redirect back from the identity provider needs.
func WithSameSite(sameSite http.SameSite) CookieOption {
	return func(c *SecureCookie) {
		c.sameSite = sameSite
	}
}

// WithAEAD replaces the AEAD constructor, e.g. with AES-GCM.
func WithAEAD(f func([]byte) (cipher.AEAD, error)) CookieOption {
	return func(c *SecureCookie) {
		c.newAEAD = f
	}
}

func NewSecureCookie(name, keyID string, keys map[string][]byte, opts ...CookieOption) (*SecureCookie, error) {
	c := &SecureCookie{
		name:     name,
		path:     "/",
		secure:   true,
		sameSite: http.SameSiteLaxMode,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.name == "" {
		return nil, fmt.Errorf("%w: empty cookie name", ErrCookieConfig)
	}
	if c.path == "" {
		c.path = "/"
	}
	sealer, err := NewSealer(keyID, keys, c.newAEAD)
	if err != nil {
		return nil, err
	}
	c.sealer = sealer
	return c, nil
}

func (c *SecureCookie) Name() string {
	return c.name
}

func (c *SecureCookie) aad() []byte {
	secure := "f"
	if c.secure {
		secure = "t"
	}
	return []byte(c.name + ":" + c.path + ":" + secure)
}

// Encode seals v into a cookie living maxAge.
func (c *SecureCookie) Encode(v any, maxAge time.Duration) (*http.Cookie, error) {
	seconds := int(maxAge.Seconds())
	if seconds <= 0 {
		return nil, ErrCookieInvalid
	}
	plain, err := cbor.Marshal(v)
	if err != nil {
		return nil, err
	}
	value, err := c.sealer.Seal(plain, c.aad())
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     c.name,
		Value:    value,
		Path:     c.path,
		MaxAge:   seconds,
		Expires:  time.Now().Add(maxAge),
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: c.sameSite,
	}, nil
}

// Decode opens cookie into v.
func (c *SecureCookie) Decode(cookie *http.Cookie, v any) error {
	if cookie == nil {
		return ErrCookieFormat
	}
	plain, err := c.sealer.Open(cookie.Value, c.aad())
	if err != nil {
		return err
	}
	if err := cbor.Unmarshal(plain, v); err != nil {
		return fmt.Errorf("%w: %v", ErrCookieFormat, err)
	}
	return nil
}

// Clear returns a cookie that removes this cookie from the browser.
func (c *SecureCookie) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     c.name,
		Path:     c.path,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: c.sameSite,
	}
}
