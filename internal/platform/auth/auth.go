package auth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/mlpipe/internal/platform/env"
)

// DefaultScope is the management scope requested for platform calls.
const DefaultScope = "ml.manage"

var ErrNoCredential = errors.New("no credential source configured")

// Config selects the credential sources tried by AcquireCredential.
type Config struct {
	StaticToken string

	IssuerURL    string
	ClientID     string
	ClientSecret string
	Scopes       []string

	Interactive   bool
	DeviceTimeout time.Duration
	ProbeTimeout  time.Duration

	// Prompt shows the device code to the user. Nil prints to stderr.
	Prompt DevicePrompt
}

func ConfigFromEnv() (Config, error) {
	interactive, err := env.Bool("ML_AUTH_INTERACTIVE", true)
	if err != nil {
		return Config{}, err
	}
	deviceTimeout, err := env.Duration("ML_AUTH_DEVICE_TIMEOUT", 10*time.Minute)
	if err != nil {
		return Config{}, err
	}
	probeTimeout, err := env.Duration("ML_AUTH_PROBE_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		StaticToken:   env.String("ML_ACCESS_TOKEN", ""),
		IssuerURL:     env.String("ML_AUTH_ISSUER_URL", ""),
		ClientID:      env.String("ML_AUTH_CLIENT_ID", ""),
		ClientSecret:  env.String("ML_AUTH_CLIENT_SECRET", ""),
		Scopes:        parseScopes(env.String("ML_AUTH_SCOPES", DefaultScope)),
		Interactive:   interactive,
		DeviceTimeout: deviceTimeout,
		ProbeTimeout:  probeTimeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.IssuerURL != "" {
		u, err := url.Parse(c.IssuerURL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("ML_AUTH_ISSUER_URL must be an absolute URL (got %q)", c.IssuerURL)
		}
	}
	if c.ClientSecret != "" && strings.TrimSpace(c.ClientID) == "" {
		return errors.New("ML_AUTH_CLIENT_ID is required when ML_AUTH_CLIENT_SECRET is set")
	}
	if c.DeviceTimeout <= 0 {
		return errors.New("ML_AUTH_DEVICE_TIMEOUT must be positive")
	}
	if c.ProbeTimeout <= 0 {
		return errors.New("ML_AUTH_PROBE_TIMEOUT must be positive")
	}
	return nil
}

func (c Config) clientCredentialsEnabled() bool {
	return c.IssuerURL != "" && c.ClientID != "" && c.ClientSecret != ""
}

func (c Config) deviceFlowEnabled() bool {
	return c.Interactive && c.IssuerURL != "" && c.ClientID != ""
}

func parseScopes(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) == 0 {
		return []string{DefaultScope}
	}
	return fields
}
