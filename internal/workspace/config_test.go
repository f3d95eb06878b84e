package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"ML_SUBSCRIPTION_ID", "ML_RESOURCE_GROUP", "ML_WORKSPACE_NAME", "ML_API_ENDPOINT"} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestLoad_SearchesUpward(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".mlpipe", "config.json"),
		`{"subscription_id":"sub-1","resource_group":"rg-1","workspace_name":"ws-1"}`)
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cfg, err := Load(nested)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if cfg.SubscriptionID != "sub-1" || cfg.ResourceGroup != "rg-1" || cfg.WorkspaceName != "ws-1" {
		t.Fatalf("Load()=%+v", cfg)
	}
	if cfg.Endpoint != DefaultEndpoint {
		t.Fatalf("Endpoint=%q, want default", cfg.Endpoint)
	}
	if cfg.Source != filepath.Join(root, ".mlpipe", "config.json") {
		t.Fatalf("Source=%q", cfg.Source)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config.json"),
		`{"subscription_id":"sub-1","resource_group":"rg-1","workspace_name":"ws-1"}`)
	t.Setenv("ML_WORKSPACE_NAME", "ws-override")
	t.Setenv("ML_API_ENDPOINT", "http://127.0.0.1:8080")

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if cfg.WorkspaceName != "ws-override" || cfg.Endpoint != "http://127.0.0.1:8080" {
		t.Fatalf("Load()=%+v", cfg)
	}
}

func TestLoad_EnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("ML_SUBSCRIPTION_ID", "sub")
	t.Setenv("ML_RESOURCE_GROUP", "rg")
	t.Setenv("ML_WORKSPACE_NAME", "ws")

	if _, err := Load(t.TempDir()); err != nil {
		t.Fatalf("Load() err=%v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	t.Run("missing values", func(t *testing.T) {
		_, err := Load(t.TempDir())
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("err=%v, want ErrConfiguration", err)
		}
	})

	t.Run("malformed file", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, "config.json"), `{"subscription_id":`)
		_, err := Load(root)
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("err=%v, want ErrConfiguration", err)
		}
	})

	t.Run("bad endpoint", func(t *testing.T) {
		t.Setenv("ML_SUBSCRIPTION_ID", "sub")
		t.Setenv("ML_RESOURCE_GROUP", "rg")
		t.Setenv("ML_WORKSPACE_NAME", "ws")
		t.Setenv("ML_API_ENDPOINT", "not a url")
		_, err := ConfigFromEnv()
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("err=%v, want ErrConfiguration", err)
		}
	})
}
