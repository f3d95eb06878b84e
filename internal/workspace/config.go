package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/animus-labs/mlpipe/internal/platform/env"
)

// ErrConfiguration marks missing or malformed workspace settings. It is
// reported before any network call is made.
var ErrConfiguration = errors.New("workspace configuration")

const DefaultEndpoint = "https://management.mlplatform.example.com"

// ConfigFileNames are probed in each directory while searching upward.
var ConfigFileNames = []string{"config.json", filepath.Join(".mlpipe", "config.json")}

// Config identifies the workspace every platform call is scoped to.
type Config struct {
	SubscriptionID string `json:"subscription_id"`
	ResourceGroup  string `json:"resource_group"`
	WorkspaceName  string `json:"workspace_name"`
	Endpoint       string `json:"endpoint,omitempty"`

	// Source is the config file the values were read from, if any.
	Source string `json:"-"`
}

// Load reads the nearest config file at or above dir, then applies
// ML_SUBSCRIPTION_ID, ML_RESOURCE_GROUP, ML_WORKSPACE_NAME and ML_API_ENDPOINT.
// A missing file is not an error as long as the environment fills the gaps.
func Load(dir string) (Config, error) {
	cfg := Config{}
	path, err := FindConfigFile(dir)
	switch {
	case err == nil:
		cfg, err = ReadConfigFile(path)
		if err != nil {
			return Config{}, err
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	cfg = cfg.withEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ConfigFromEnv builds a Config from environment variables only.
func ConfigFromEnv() (Config, error) {
	cfg := Config{}.withEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) withEnv() Config {
	c.SubscriptionID = env.String("ML_SUBSCRIPTION_ID", c.SubscriptionID)
	c.ResourceGroup = env.String("ML_RESOURCE_GROUP", c.ResourceGroup)
	c.WorkspaceName = env.String("ML_WORKSPACE_NAME", c.WorkspaceName)
	c.Endpoint = env.String("ML_API_ENDPOINT", c.Endpoint)
	if strings.TrimSpace(c.Endpoint) == "" {
		c.Endpoint = DefaultEndpoint
	}
	return c
}

func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.SubscriptionID) == "" {
		missing = append(missing, "subscription_id (ML_SUBSCRIPTION_ID)")
	}
	if strings.TrimSpace(c.ResourceGroup) == "" {
		missing = append(missing, "resource_group (ML_RESOURCE_GROUP)")
	}
	if strings.TrimSpace(c.WorkspaceName) == "" {
		missing = append(missing, "workspace_name (ML_WORKSPACE_NAME)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrConfiguration, strings.Join(missing, ", "))
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: endpoint %q must be an absolute http(s) URL", ErrConfiguration, c.Endpoint)
	}
	return nil
}

// Scope returns a copy of the config pointing at another workspace in the same
// resource group.
func (c Config) Scope(workspaceName string) Config {
	c.WorkspaceName = workspaceName
	return c
}

// FindConfigFile walks from dir to the filesystem root and returns the first
// file named in ConfigFileNames.
func FindConfigFile(dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = wd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		for _, name := range ConfigFileNames {
			candidate := filepath.Join(dir, name)
			info, err := os.Stat(candidate)
			if err == nil && !info.IsDir() {
				return candidate, nil
			}
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return "", err
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s found: %w", strings.Join(ConfigFileNames, " or "), fs.ErrNotExist)
		}
		dir = parent
	}
}

func ReadConfigFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read %s: %v", ErrConfiguration, path, err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse %s: %v", ErrConfiguration, path, err)
	}
	cfg.Source = path
	return cfg, nil
}
