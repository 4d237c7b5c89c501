// Package config resolves the dashboard's named configuration values.
//
// Each key maps either to a literal or to an environment placeholder of the
// form "$RESC_NAME". Placeholders are looked up on every call, through viper,
// so a value can come from the process environment, a .env file or an
// optional rescdash.yml.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Key names a configuration value.
type Key string

const (
	AuthenticationRequired Key = "authenticationRequired"
	RescWebServiceURL      Key = "rescWebServiceUrl"
	SSORedirectURI         Key = "ssoRedirectUri"
	SSOIDTokenIssuerURL    Key = "ssoIdTokenIssuerUrl"
	SSOAuthorizationURL    Key = "ssoAuthorizationUrl"
	SSOTokenEndpointURL    Key = "ssoTokenEndPointUrl"
	SSOIDTokenJWKSURL      Key = "ssoIdTokenJwksUrl"
	SSOAccessTokenJWKSURL  Key = "ssoAccessTokenJwksUrl"
	SSOGrantType           Key = "ssoGrantType"
	SSOResponseType        Key = "ssoResponseType"
	SSOScope               Key = "ssoScope"
	SSOClientID            Key = "ssoClientId"
	SSOCodeChallengeMethod Key = "ssoCodeChallengeMethod"
	SSOJWTSigningAlgorithm Key = "ssoJwtSigningAlgorithm"
	SSOLoginPageMessage    Key = "ssoLoginPageMessage"
	DefaultPageSize        Key = "defaultPageSize"
	SkipRecords            Key = "skipRecords"
	LimitRecords           Key = "limitRecords"

	AzureDevOpsVal    Key = "azureDevOpsVal"
	AzureDevOpsLabel  Key = "azureDevOpsLabel"
	BitbucketVal      Key = "bitbucketVal"
	BitbucketLabel    Key = "bitbucketLabel"
	GithubPublicVal   Key = "githubPublicVal"
	GithubPublicLabel Key = "githubPublicLabel"

	NotAnalyzedStatusVal             Key = "notAnalyzedStatusVal"
	NotAnalyzedStatusLabel           Key = "notAnalyzedStatusLabel"
	UnderReviewStatusVal             Key = "underReviewStatusVal"
	UnderReviewStatusLabel           Key = "underReviewStatusLabel"
	ClarificationRequiredStatusVal   Key = "clarificationRequiredStatusVal"
	ClarificationRequiredStatusLabel Key = "clarificationRequiredStatusLabel"
	TruePositiveStatusVal            Key = "truePositiveStatusVal"
	TruePositiveStatusLabel          Key = "truePositiveStatusLabel"
	FalsePositiveStatusVal           Key = "falsePositiveStatusVal"
	FalsePositiveStatusLabel         Key = "falsePositiveStatusLabel"
)

// placeholderPrefix marks a value that must be read from the environment.
const placeholderPrefix = "$RESC_"

// defaults is the static key map. Placeholders name the environment variable
// without the leading "$".
var defaults = map[Key]string{
	AuthenticationRequired: "$RESC_AUTHENTICATION_REQUIRED",
	RescWebServiceURL:      "$RESC_WEB_SERVICE_URL",
	SSORedirectURI:         "$RESC_SSO_REDIRECT_URI",
	SSOIDTokenIssuerURL:    "$RESC_SSO_ID_TOKEN_ISSUER_URL",
	SSOAuthorizationURL:    "$RESC_SSO_AUTHORIZATION_URL",
	SSOTokenEndpointURL:    "$RESC_SSO_TOKEN_ENDPOINT_URL",
	SSOIDTokenJWKSURL:      "$RESC_SSO_ID_TOKEN_JWKS_URL",
	SSOAccessTokenJWKSURL:  "$RESC_SSO_ACCESS_TOKEN_JWKS_URL",
	SSOGrantType:           "authorization_code",
	SSOResponseType:        "code",
	SSOScope:               "openid profile email",
	SSOClientID:            "RESC",
	SSOCodeChallengeMethod: "$RESC_SSO_CODE_CHALLENGE_METHOD",
	SSOJWTSigningAlgorithm: "$RESC_SSO_JWT_SIGNING_ALGORITHM",
	SSOLoginPageMessage:    "$RESC_SSO_LOGIN_PAGE_MESSAGE",
	DefaultPageSize:        "100",
	SkipRecords:            "0",
	LimitRecords:           "100",

	AzureDevOpsVal:    "AZURE_DEVOPS",
	AzureDevOpsLabel:  "Azure DevOps",
	BitbucketVal:      "BITBUCKET",
	BitbucketLabel:    "Bitbucket",
	GithubPublicVal:   "GITHUB_PUBLIC",
	GithubPublicLabel: "GitHub Public",

	NotAnalyzedStatusVal:             "NOT_ANALYZED",
	NotAnalyzedStatusLabel:           "Not Analyzed",
	UnderReviewStatusVal:             "UNDER_REVIEW",
	UnderReviewStatusLabel:           "Under Review",
	ClarificationRequiredStatusVal:   "CLARIFICATION_REQUIRED",
	ClarificationRequiredStatusLabel: "Clarification Required",
	TruePositiveStatusVal:            "TRUE_POSITIVE",
	TruePositiveStatusLabel:          "True Positive",
	FalsePositiveStatusVal:           "FALSE_POSITIVE",
	FalsePositiveStatusLabel:         "False Positive",
}

var (
	ErrUnknownKey      = errors.New("configuration: unknown key")
	ErrUndefinedValue  = errors.New("configuration: value not defined")
	ErrUndefinedEnv    = errors.New("configuration: environment variable not defined")
	ErrInvalidAuthFlag = errors.New("invalid value provided for RESC_AUTHENTICATION_REQUIRED env variable")
)

// Config resolves keys against a static map and an environment source.
type Config struct {
	values map[Key]string
	env    *viper.Viper
}

// New returns a Config over the default key map, resolving placeholders
// through env. A nil env reads the process environment.
func New(env *viper.Viper) *Config {
	if env == nil {
		env = viper.New()
		env.AutomaticEnv()
	}
	values := make(map[Key]string, len(defaults))
	for k, v := range defaults {
		values[k] = v
	}
	return &Config{values: values, env: env}
}

// With returns a copy of c with key overridden by a literal or placeholder.
func (c *Config) With(key Key, value string) *Config {
	values := make(map[Key]string, len(c.values))
	for k, v := range c.values {
		values[k] = v
	}
	values[key] = value
	return &Config{values: values, env: c.env}
}

// Value returns the literal for key, resolving an environment placeholder if
// needed. Missing keys and unresolvable placeholders are errors, never
// defaulted.
func (c *Config) Value(key Key) (string, error) {
	value, ok := c.values[key]
	if !ok {
		return "", fmt.Errorf("%w: there is no key named %q", ErrUnknownKey, key)
	}
	if value == "" {
		return "", fmt.Errorf("%w: value for %q is not defined", ErrUndefinedValue, key)
	}
	if !strings.HasPrefix(value, placeholderPrefix) {
		return value, nil
	}

	envName := value[1:]
	envValue := c.env.GetString(envName)
	if envValue == "" {
		return "", fmt.Errorf("%w: environment variable %q is not defined", ErrUndefinedEnv, envName)
	}
	return envValue, nil
}

// AuthenticationRequired parses the authentication flag. Only "true" and
// "false" are accepted.
func (c *Config) AuthenticationRequired() (bool, error) {
	v, err := c.Value(AuthenticationRequired)
	if err != nil {
		return false, err
	}
	return ParseAuthFlag(v)
}

// ParseAuthFlag accepts exactly "true" or "false".
func ParseAuthFlag(v string) (bool, error) {
	switch v {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidAuthFlag, v)
	}
}
