// Package manifest loads pipeline and environment descriptions from YAML and
// HCL files and turns them into graph builders.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/execution/pipeline"
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatHCL  Format = "hcl"
)

// FormatFor picks the manifest format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".hcl":
		return FormatHCL, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Ref names a step output as "<step>.outputs.<output>".
type Ref struct {
	Step   string
	Output string
}

func (r Ref) String() string {
	return r.Step + "." + string(domain.PortOutput) + "." + r.Output
}

func (r Ref) IsZero() bool {
	return r.Step == "" && r.Output == ""
}

// ParseRef parses "<step>.outputs.<output>".
func ParseRef(raw string) (Ref, error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 3 || parts[1] != string(domain.PortOutput) || parts[0] == "" || parts[2] == "" {
		return Ref{}, fmt.Errorf("reference %q must have the form <step>.outputs.<name>", raw)
	}
	return Ref{Step: parts[0], Output: parts[2]}, nil
}

// Step is a step descriptor plus how each of its inputs is supplied.
type Step struct {
	Descriptor domain.StepDescriptor
	From       map[string]Ref
	Values     map[string]string
}

type Output struct {
	Name string
	From Ref
}

// Pipeline is a parsed manifest. Dir is the directory the manifest was read
// from; relative code and dependency paths resolve against it.
type Pipeline struct {
	Name             string
	Description      string
	Tags             map[string]string
	Compute          string
	DefaultDatastore string
	Environments     []domain.EnvironmentDescriptor
	Steps            []Step
	Outputs          []Output
	Dir              string
}

// Load reads and validates the manifest at path. HCL manifests see the process
// environment as env.<NAME>.
func Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data, path, processEnv())
}

// Parse decodes a manifest whose format is chosen by filename.
func Parse(data []byte, filename string, env map[string]string) (*Pipeline, error) {
	format, err := FormatFor(filename)
	if err != nil {
		return nil, err
	}
	var p *Pipeline
	switch format {
	case FormatHCL:
		p, err = parseHCL(data, filename, env)
	default:
		p, err = parseYAML(data, filename)
	}
	if err != nil {
		return nil, err
	}
	p.Dir = filepath.Dir(filename)
	return p, nil
}

// Build adds every step, then wires inputs in step order and input name order,
// then registers pipeline outputs.
func (p *Pipeline) Build() (*pipeline.Builder, error) {
	b := pipeline.New(pipeline.Metadata{Name: p.Name, Description: p.Description, Tags: p.Tags})
	for _, step := range p.Steps {
		if err := b.AddStep(step.Descriptor); err != nil {
			return nil, err
		}
	}
	for _, step := range p.Steps {
		name := step.Descriptor.Name
		for _, input := range step.Descriptor.InputNames() {
			if ref, ok := step.From[input]; ok {
				if err := b.Connect(ref.Step, ref.Output, name, input); err != nil {
					return nil, err
				}
				continue
			}
			if value, ok := step.Values[input]; ok {
				if err := b.Bind(name, input, value); err != nil {
					return nil, err
				}
			}
		}
	}
	for _, out := range p.Outputs {
		if err := b.AddOutput(out.Name, out.From.Step, out.From.Output); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Request builds and validates the graph. A non-empty compute overrides the
// manifest setting.
func (p *Pipeline) Request(compute string) (domain.ExecutionRequest, error) {
	b, err := p.Build()
	if err != nil {
		return domain.ExecutionRequest{}, err
	}
	if strings.TrimSpace(compute) == "" {
		compute = p.Compute
	}
	return b.ToExecutionRequest(compute, p.DefaultDatastore)
}

// validate checks what can be checked before the builder sees the steps.
func (p *Pipeline) validate(verr *ValidationError) {
	if strings.TrimSpace(p.Name) == "" {
		verr.Add("pipeline name is required")
	}
	envs := make(map[string]struct{}, len(p.Environments))
	for _, env := range p.Environments {
		if err := env.Validate(); err != nil {
			verr.Add(err.Error())
			continue
		}
		key := env.Ref().String()
		if _, dup := envs[key]; dup {
			verr.Add(fmt.Sprintf("environment %s is declared twice", key))
		}
		envs[key] = struct{}{}
	}

	steps := make(map[string]domain.StepDescriptor, len(p.Steps))
	for i, step := range p.Steps {
		desc, err := domain.NewStep(step.Descriptor)
		if err != nil {
			verr.Add(err.Error())
			continue
		}
		if _, dup := steps[desc.Name]; dup {
			verr.Add(fmt.Sprintf("step[%s] is declared twice", desc.Name))
			continue
		}
		steps[desc.Name] = desc
		p.Steps[i].Descriptor.Name = desc.Name
	}

	for _, step := range p.Steps {
		name := step.Descriptor.Name
		for _, input := range sortedKeys(step.From) {
			ref := step.From[input]
			if _, ok := step.Descriptor.Inputs[input]; !ok {
				verr.Add(fmt.Sprintf("step[%s] wires undeclared input %q", name, input))
			}
			if _, ok := step.Values[input]; ok {
				verr.Add(fmt.Sprintf("step[%s] input %q sets both from and value", name, input))
			}
			checkRef(verr, steps, fmt.Sprintf("step[%s] input %q", name, input), ref)
		}
		for _, input := range sortedKeys(step.Values) {
			if _, ok := step.Descriptor.Inputs[input]; !ok {
				verr.Add(fmt.Sprintf("step[%s] binds undeclared input %q", name, input))
			}
			if strings.TrimSpace(step.Values[input]) == "" {
				verr.Add(fmt.Sprintf("step[%s] input %q value is empty", name, input))
			}
		}
	}

	seen := make(map[string]struct{}, len(p.Outputs))
	for _, out := range p.Outputs {
		if strings.TrimSpace(out.Name) == "" {
			verr.Add("pipeline output name is required")
			continue
		}
		if _, dup := seen[out.Name]; dup {
			verr.Add(fmt.Sprintf("output[%s] is declared twice", out.Name))
		}
		seen[out.Name] = struct{}{}
		checkRef(verr, steps, fmt.Sprintf("output[%s]", out.Name), out.From)
	}
}

func checkRef(verr *ValidationError, steps map[string]domain.StepDescriptor, subject string, ref Ref) {
	producer, ok := steps[ref.Step]
	if !ok {
		verr.Add(fmt.Sprintf("%s references unknown step %q", subject, ref.Step))
		return
	}
	if _, ok := producer.Outputs[ref.Output]; !ok {
		verr.Add(fmt.Sprintf("%s references unknown output %s", subject, ref))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func processEnv() map[string]string {
	vars := os.Environ()
	out := make(map[string]string, len(vars))
	for _, kv := range vars {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			out[k] = v
		}
	}
	return out
}
