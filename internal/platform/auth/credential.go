package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Attempt records why one credential source was not used.
type Attempt struct {
	Source string
	Err    error
}

// AuthError is returned when every credential source failed.
type AuthError struct {
	Attempts []Attempt
}

func (e *AuthError) Error() string {
	if len(e.Attempts) == 0 {
		return "acquire credential: no sources tried"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Source, a.Err))
	}
	return "acquire credential: " + strings.Join(parts, "; ")
}

func (e *AuthError) Unwrap() []error {
	out := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		out = append(out, a.Err)
	}
	return out
}

// DevicePrompt tells the user where to enter the device code.
type DevicePrompt func(ctx context.Context, resp *oauth2.DeviceAuthResponse) error

// PromptTo returns a DevicePrompt writing instructions to w.
func PromptTo(w io.Writer) DevicePrompt {
	return func(_ context.Context, resp *oauth2.DeviceAuthResponse) error {
		uri := resp.VerificationURIComplete
		if uri == "" {
			uri = resp.VerificationURI
		}
		_, err := fmt.Fprintf(w, "To sign in, open %s and enter the code %s\n", uri, resp.UserCode)
		return err
	}
}

// AcquireCredential walks the ambient sources (static token, then client
// credentials) and falls back to the interactive device flow. A static token
// is trusted as given; every other source is accepted only once it has
// produced a token. The returned source refreshes independently of ctx.
func AcquireCredential(ctx context.Context, cfg Config, logger *slog.Logger) (oauth2.TokenSource, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := cfg.Validate(); err != nil {
		return nil, &AuthError{Attempts: []Attempt{{Source: "config", Err: err}}}
	}

	var attempts []Attempt
	if cfg.StaticToken != "" {
		logger.Debug("using static access token", "source", "ML_ACCESS_TOKEN")
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.StaticToken, TokenType: "Bearer"}), nil
	}

	var provider *oidc.Provider
	if cfg.clientCredentialsEnabled() || cfg.deviceFlowEnabled() {
		var err error
		provider, err = discover(ctx, cfg)
		if err != nil {
			return nil, &AuthError{Attempts: []Attempt{{Source: "oidc discovery", Err: err}}}
		}
	}

	if cfg.clientCredentialsEnabled() {
		ts, err := clientCredentials(ctx, cfg, provider)
		if err == nil {
			logger.Debug("using client credentials", "client_id", cfg.ClientID)
			return ts, nil
		}
		logger.Debug("client credentials unavailable", "error", err)
		attempts = append(attempts, Attempt{Source: "client credentials", Err: err})
	}

	if cfg.deviceFlowEnabled() {
		ts, err := deviceFlow(ctx, cfg, provider)
		if err == nil {
			logger.Debug("using device flow token", "client_id", cfg.ClientID)
			return ts, nil
		}
		attempts = append(attempts, Attempt{Source: "device flow", Err: err})
	}

	if len(attempts) == 0 {
		attempts = append(attempts, Attempt{Source: "ambient", Err: ErrNoCredential})
	}
	return nil, &AuthError{Attempts: attempts}
}

func discover(ctx context.Context, cfg Config) (*oidc.Provider, error) {
	probeCtx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
	defer cancel()
	provider, err := oidc.NewProvider(probeCtx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	return provider, nil
}

func clientCredentials(ctx context.Context, cfg Config, provider *oidc.Provider) (oauth2.TokenSource, error) {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     provider.Endpoint().TokenURL,
		Scopes:       cfg.Scopes,
	}
	probeCtx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
	defer cancel()
	tok, err := cc.Token(probeCtx)
	if err != nil {
		return nil, err
	}
	return oauth2.ReuseTokenSource(tok, cc.TokenSource(context.WithoutCancel(ctx))), nil
}

func deviceFlow(ctx context.Context, cfg Config, provider *oidc.Provider) (oauth2.TokenSource, error) {
	endpoint := provider.Endpoint()
	if endpoint.DeviceAuthURL == "" {
		var claims struct {
			DeviceAuthURL string `json:"device_authorization_endpoint"`
		}
		if err := provider.Claims(&claims); err != nil {
			return nil, err
		}
		endpoint.DeviceAuthURL = claims.DeviceAuthURL
	}
	if endpoint.DeviceAuthURL == "" {
		return nil, errors.New("issuer does not advertise a device authorization endpoint")
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       cfg.Scopes,
	}
	flowCtx, cancel := context.WithTimeout(ctx, cfg.DeviceTimeout)
	defer cancel()

	resp, err := oauthCfg.DeviceAuth(flowCtx)
	if err != nil {
		return nil, fmt.Errorf("device authorization: %w", err)
	}
	prompt := cfg.Prompt
	if prompt == nil {
		prompt = PromptTo(os.Stderr)
	}
	if err := prompt(flowCtx, resp); err != nil {
		return nil, err
	}
	tok, err := oauthCfg.DeviceAccessToken(flowCtx, resp)
	if err != nil {
		return nil, fmt.Errorf("device token: %w", err)
	}
	return oauthCfg.TokenSource(context.WithoutCancel(ctx), tok), nil
}
