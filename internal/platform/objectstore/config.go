package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/mlpipe/internal/platform/env"
)

// Config describes the artifact store that receives code snapshots. An empty
// endpoint disables snapshot uploads.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("ML_ARTIFACT_USE_SSL", true)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("ML_ARTIFACT_ENDPOINT", ""),
		AccessKey: env.String("ML_ARTIFACT_ACCESS_KEY", ""),
		SecretKey: env.String("ML_ARTIFACT_SECRET_KEY", ""),
		Region:    env.String("ML_ARTIFACT_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("ML_ARTIFACT_BUCKET", "code-snapshots"),
	}
	if !cfg.Enabled() {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("ML_ARTIFACT_ENDPOINT is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("ML_ARTIFACT_ENDPOINT must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("ML_ARTIFACT_ACCESS_KEY is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("ML_ARTIFACT_SECRET_KEY is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("ML_ARTIFACT_REGION is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("ML_ARTIFACT_BUCKET is required")
	}
	return nil
}
