package authutil

import (
	"context"
	"errors"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Codes of token verification failures.
const (
	CodeJWTInvalid               = "ERR_JWT_INVALID"
	CodeJWTExpired               = "ERR_JWT_EXPIRED"
	CodeJWTClaimValidationFailed = "ERR_JWT_CLAIM_VALIDATION_FAILED"
	CodeJWSSignatureVerification = "ERR_JWS_SIGNATURE_VERIFICATION_FAILED"
	CodeJWSInvalid               = "ERR_JWS_INVALID"
	CodeJWKSTimeout              = "ERR_JWKS_TIMEOUT"
	CodeJWKSNoMatchingKey        = "ERR_JWKS_NO_MATCHING_KEY"
	CodeJWKSMultipleMatchingKeys = "ERR_JWKS_MULTIPLE_MATCHING_KEYS"
	CodeJWKSInvalid              = "ERR_JWKS_INVALID"
	CodeJWKInvalid               = "ERR_JWK_INVALID"
	CodeJWEInvalid               = "ERR_JWE_INVALID"
	CodeJWEDecryptionFailed      = "ERR_JWE_DECRYPTION_FAILED"
	CodeJOSENotSupported         = "ERR_JOSE_NOT_SUPPORTED"
	CodeJOSEAlgNotAllowed        = "ERR_JOSE_ALG_NOT_ALLOWED"
	CodeJOSEGeneric              = "ERR_JOSE_GENERIC"
)

var jwtErrorMessages = map[string]string{
	CodeJWTInvalid:               "JWT is invalid",
	CodeJWTExpired:               "JWT has expired",
	CodeJWTClaimValidationFailed: "JWT claim validation failed",
	CodeJWSSignatureVerification: "JWS signature verification failed",
	CodeJWSInvalid:               "JWS is invalid",
	CodeJWKSTimeout:              "Timeout was reached when retrieving the JWKS response",
	CodeJWKSNoMatchingKey:        "No applicable key found in the JSON Web Key Set",
	CodeJWKSMultipleMatchingKeys: "Multiple matching keys found in the JSON Web Key Set",
	CodeJWKSInvalid:              "JWKS is invalid",
	CodeJWKInvalid:               "JWK is invalid",
	CodeJWEInvalid:               "JWE is invalid",
	CodeJWEDecryptionFailed:      "JWE ciphertext decryption failed",
	CodeJOSENotSupported:         "Algorithm is not supported",
	CodeJOSEAlgNotAllowed:        "Algorithm is not allowed",
	CodeJOSEGeneric:              "An error occurred",
}

// UnexpectedErrorMessage is the message for codes outside the known set.
const UnexpectedErrorMessage = "An unexpected error occurred"

// TokenError is a token verification failure with its diagnostic message.
type TokenError struct {
	Code    string
	Message string
}

func (e *TokenError) Error() string {
	return e.Message
}

// ParseJWTTokenErrors maps code to its diagnostic. It always returns a
// non-nil *TokenError; unknown codes carry UnexpectedErrorMessage.
func ParseJWTTokenErrors(code string) error {
	if msg, ok := jwtErrorMessages[code]; ok {
		return &TokenError{Code: code, Message: msg}
	}
	return &TokenError{Code: code, Message: UnexpectedErrorMessage}
}

// ErrorCode classifies an error returned by oidc.IDTokenVerifier.Verify into
// one of the codes above. go-oidc reports most failures as formatted strings,
// so classification falls back to matching their stable prefixes. An error
// that matches nothing yields "".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var expired *oidc.TokenExpiredError
	if errors.As(err, &expired) {
		return CodeJWTExpired
	}
	var te *TokenError
	if errors.As(err, &te) {
		return te.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeJWKSTimeout
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "Client.Timeout"):
		return CodeJWKSTimeout
	case strings.Contains(msg, "fetching keys"):
		return CodeJWKSInvalid
	case strings.Contains(msg, "failed to verify id token signature"),
		strings.Contains(msg, "failed to verify signature"):
		return CodeJWSSignatureVerification
	case strings.Contains(msg, "unsupported algorithm"):
		return CodeJOSEAlgNotAllowed
	case strings.Contains(msg, "malformed jwt"):
		return CodeJWSInvalid
	case strings.Contains(msg, "failed to unmarshal claims"):
		return CodeJWTInvalid
	case strings.Contains(msg, "expected audience"),
		strings.Contains(msg, "issued by a different provider"),
		strings.Contains(msg, "before the nbf"),
		strings.Contains(msg, "issued in the future"):
		return CodeJWTClaimValidationFailed
	}
	return ""
}
