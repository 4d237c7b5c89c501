// Package authutil holds the stateless helpers of the login flow: PKCE
// verifier and challenge generation, local (unverified) JWT decoding, and
// the translation of token verification failures into diagnostics.
package authutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// verifierBytes is the number of random bytes in a code verifier. 60 bytes
// encode to 80 base64url characters, inside the 43..128 range of RFC 7636.
const verifierBytes = 60

// GenerateCodeVerifier returns a new PKCE code verifier: 60 bytes from
// crypto/rand, base64url-encoded without padding.
func GenerateCodeVerifier() (string, error) {
	b := make([]byte, verifierBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateCodeChallenge derives the S256 challenge for verifier:
// base64url(SHA-256(verifier)) without padding, always 43 characters.
func GenerateCodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
