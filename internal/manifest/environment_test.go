package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/samples"
)

func TestParseSampleEnvironment(t *testing.T) {
	data, err := samples.Get("nyc-taxi", "environment.yaml")
	if err != nil {
		t.Fatalf("samples.Get() err=%v", err)
	}
	got, err := ParseEnvironment(data, "environment.yaml", nil)
	if err != nil {
		t.Fatalf("ParseEnvironment() err=%v", err)
	}
	want := domain.EnvironmentDescriptor{
		Name:                   "nyc-taxi-regression-env",
		Version:                "1.0",
		BaseImage:              "mcr.microsoft.com/azureml/openmpi3.1.2-ubuntu18.04:latest",
		DependencyManifestPath: "dependencies/conda.yml",
		Description:            "Custom environment for nyc taxi fare regression",
		Tags:                   map[string]string{"scikit-learn": "0.24.2"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("descriptor mismatch (-want +got):\n%s", diff)
	}
}

func TestParseEnvironmentHCL(t *testing.T) {
	doc := `
environment "pytorch-env" {
  version    = "1"
  image      = "pytorch/pytorch:${env.TORCH_TAG}"
  conda_file = "pytorch-env.yml"
}
`
	got, err := ParseEnvironment([]byte(doc), "env.hcl", map[string]string{"TORCH_TAG": "latest"})
	if err != nil {
		t.Fatalf("ParseEnvironment() err=%v", err)
	}
	if got.Name != "pytorch-env" || got.BaseImage != "pytorch/pytorch:latest" || got.DependencyManifestPath != "pytorch-env.yml" {
		t.Fatalf("unexpected descriptor %+v", got)
	}
}

func TestParseEnvironmentErrors(t *testing.T) {
	if _, err := ParseEnvironment([]byte("kind: Pipeline\nname: x\n"), "env.yaml", nil); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("expected ErrWrongKind, got %v", err)
	}
	if _, err := ParseEnvironment([]byte("name: x\nversion: '1'\nimage: i\n"), "env.yaml", nil); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("missing kind: expected ErrWrongKind, got %v", err)
	}

	_, err := ParseEnvironment([]byte("kind: Environment\nname: x\n"), "env.yaml", nil)
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Issues) != 1 {
		t.Fatalf("expected one validation issue, got %v", err)
	}

	_, err = ParseEnvironment([]byte(`environment "a" {
  version = "1"
  image   = "i"
}
environment "b" {
  version = "1"
  image   = "i"
}`), "env.hcl", nil)
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError for two blocks, got %v", err)
	}
}

func TestLoadEnvironmentFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "environment.yml")
	content := "kind: Environment\nname: pytorch-env\nversion: '1'\nimage: pytorch/pytorch:latest\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := LoadEnvironment(path)
	if err != nil {
		t.Fatalf("LoadEnvironment() err=%v", err)
	}
	if got.Ref().String() != "pytorch-env:1" {
		t.Fatalf("ref=%s", got.Ref())
	}
	if _, err := LoadEnvironment(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}
