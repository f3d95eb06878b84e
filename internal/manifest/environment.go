package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/animus-labs/mlpipe/internal/domain"
)

// LoadEnvironment reads a standalone environment manifest. The conda file path
// is returned as written; callers resolve it against the manifest directory.
func LoadEnvironment(path string) (domain.EnvironmentDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.EnvironmentDescriptor{}, fmt.Errorf("read environment manifest: %w", err)
	}
	return ParseEnvironment(data, path, processEnv())
}

// ParseEnvironment decodes a YAML document with kind Environment, or an HCL
// file holding a single environment block.
func ParseEnvironment(data []byte, filename string, env map[string]string) (domain.EnvironmentDescriptor, error) {
	format, err := FormatFor(filename)
	if err != nil {
		return domain.EnvironmentDescriptor{}, err
	}
	source := filepath.Base(filename)
	verr := &ValidationError{Source: source}

	var desc domain.EnvironmentDescriptor
	switch format {
	case FormatHCL:
		var doc struct {
			Environments []hclEnvironment `hcl:"environment,block"`
		}
		file, diags := hclparse.NewParser().ParseHCL(data, filename)
		if !diags.HasErrors() {
			diags = append(diags, gohcl.DecodeBody(file.Body, baseEvalContext(env), &doc)...)
		}
		if diags.HasErrors() {
			verr.AddDiagnostics(diags)
			return domain.EnvironmentDescriptor{}, verr
		}
		if len(doc.Environments) != 1 {
			verr.Add(fmt.Sprintf("expected exactly one environment block, found %d", len(doc.Environments)))
			return domain.EnvironmentDescriptor{}, verr
		}
		desc = doc.Environments[0].descriptor()
	default:
		var doc yamlEnvironment
		if err := decodeYAML(data, &doc); err != nil {
			verr.Add(err.Error())
			return domain.EnvironmentDescriptor{}, verr
		}
		if doc.Kind != kindEnvironment {
			return domain.EnvironmentDescriptor{}, fmt.Errorf("%w: %s is %q, want %q", ErrWrongKind, source, doc.Kind, kindEnvironment)
		}
		desc = doc.descriptor()
	}

	if err := desc.Validate(); err != nil {
		verr.Add(err.Error())
	}
	if err := verr.OrNil(); err != nil {
		return domain.EnvironmentDescriptor{}, err
	}
	return desc, nil
}
