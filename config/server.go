package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Server holds process-level settings of the gateway itself, as opposed to
// the dashboard keys resolved by Config.
type Server struct {
	ListenAddr string
	// PublicURL is the externally visible origin, e.g. "https://resc.example.com".
	PublicURL string
	// SessionKeyID selects the key used to seal new browser-session cookies.
	SessionKeyID string
	SessionKeys  map[string][]byte
	// SecureCookies sets the Secure attribute; disable only for plain-http development.
	SecureCookies bool
	DatabasePath  string
	StaticDir     string
	LogLevel      string
	LogFormat     string
	LogFile       string
	// LogoutDelay is how long a forced logout waits so its notification stays visible.
	LogoutDelay time.Duration
	// HTTPRetries is the number of retries for transient transport failures.
	HTTPRetries int
	// GeneratedSessionKey is true when no key was configured and a random one
	// was generated for this process.
	GeneratedSessionKey bool
}

const sessionKeyBytes = 32

// Load reads envFile (if present) into the process environment, then an
// optional rescdash.yml from the working directory, and returns the viper
// instance used to resolve dashboard placeholders together with the server
// settings.
func Load(envFile string) (*viper.Viper, *Server, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetConfigName("rescdash")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("failed to read rescdash.yml: %w", err)
		}
	}
	v.AutomaticEnv()

	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("PUBLIC_URL", "http://localhost:8080")
	v.SetDefault("SESSION_KEY_ID", "k1")
	v.SetDefault("SECURE_COOKIES", true)
	v.SetDefault("DATABASE_PATH", "rescdash.db")
	v.SetDefault("STATIC_DIR", "./dist")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOGOUT_DELAY", "5s")
	v.SetDefault("HTTP_RETRIES", 3)

	s, err := serverFrom(v)
	if err != nil {
		return nil, nil, err
	}
	return v, s, nil
}

func serverFrom(v *viper.Viper) (*Server, error) {
	s := &Server{
		ListenAddr:    v.GetString("LISTEN_ADDR"),
		PublicURL:     v.GetString("PUBLIC_URL"),
		SessionKeyID:  v.GetString("SESSION_KEY_ID"),
		SecureCookies: v.GetBool("SECURE_COOKIES"),
		DatabasePath:  v.GetString("DATABASE_PATH"),
		StaticDir:     v.GetString("STATIC_DIR"),
		LogLevel:      v.GetString("LOG_LEVEL"),
		LogFormat:     v.GetString("LOG_FORMAT"),
		LogFile:       v.GetString("LOG_FILE"),
		LogoutDelay:   v.GetDuration("LOGOUT_DELAY"),
		HTTPRetries:   v.GetInt("HTTP_RETRIES"),
	}
	if s.HTTPRetries < 0 {
		return nil, fmt.Errorf("HTTP_RETRIES must not be negative, got %d", s.HTTPRetries)
	}

	key, generated, err := sessionKey(v.GetString("SESSION_KEY"))
	if err != nil {
		return nil, err
	}
	s.SessionKeys = map[string][]byte{s.SessionKeyID: key}
	s.GeneratedSessionKey = generated

	// A previous key stays accepted for decoding during rotation.
	if prevID := v.GetString("SESSION_KEY_PREVIOUS_ID"); prevID != "" && prevID != s.SessionKeyID {
		prev, _, err := sessionKey(v.GetString("SESSION_KEY_PREVIOUS"))
		if err != nil {
			return nil, err
		}
		s.SessionKeys[prevID] = prev
	}
	return s, nil
}

// sessionKey decodes a base64 key, or generates one when encoded is empty.
func sessionKey(encoded string) ([]byte, bool, error) {
	if encoded == "" {
		b := make([]byte, sessionKeyBytes)
		if _, err := rand.Read(b); err != nil {
			return nil, false, err
		}
		return b, true, nil
	}
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false, fmt.Errorf("SESSION_KEY is not valid base64: %w", err)
	}
	if len(b) != sessionKeyBytes {
		return nil, false, fmt.Errorf("SESSION_KEY must decode to %d bytes, got %d", sessionKeyBytes, len(b))
	}
	return b, false, nil
}
