package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/mlpipe/internal/domain"
)

const (
	kindPipeline    = "Pipeline"
	kindEnvironment = "Environment"
)

type yamlPipeline struct {
	Kind         string            `yaml:"kind"`
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	Tags         map[string]string `yaml:"tags"`
	Settings     yamlSettings      `yaml:"settings"`
	Environments []yamlEnvironment `yaml:"environments"`
	Steps        []yamlStep        `yaml:"steps"`
	Outputs      yamlOutputs       `yaml:"outputs"`
}

type yamlSettings struct {
	Compute          string `yaml:"compute"`
	DefaultDatastore string `yaml:"default_datastore"`
}

type yamlEnvironment struct {
	Kind        string            `yaml:"kind"`
	Name        string            `yaml:"name"`
	Version     string            `yaml:"version"`
	Image       string            `yaml:"image"`
	CondaFile   string            `yaml:"conda_file"`
	Description string            `yaml:"description"`
	Tags        map[string]string `yaml:"tags"`
}

type yamlStep struct {
	Name          string                `yaml:"name"`
	DisplayName   string                `yaml:"display_name"`
	Description   string                `yaml:"description"`
	Version       string                `yaml:"version"`
	Code          string                `yaml:"code"`
	Environment   string                `yaml:"environment"`
	Deterministic bool                  `yaml:"deterministic"`
	Command       string                `yaml:"command"`
	Inputs        map[string]yamlInput  `yaml:"inputs"`
	Outputs       map[string]yamlOutput `yaml:"outputs"`
}

type yamlInput struct {
	Type        string `yaml:"type"`
	Mode        string `yaml:"mode"`
	Default     string `yaml:"default"`
	Optional    bool   `yaml:"optional"`
	Description string `yaml:"description"`
	From        string `yaml:"from"`
	Value       string `yaml:"value"`
}

type yamlOutput struct {
	Type        string `yaml:"type"`
	Mode        string `yaml:"mode"`
	Path        string `yaml:"path"`
	Description string `yaml:"description"`
}

// yamlOutputs keeps pipeline outputs in document order.
type yamlOutputs []Output

func (o *yamlOutputs) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: outputs must be a mapping of name to <step>.outputs.<name>", node.Line)
	}
	out := make(yamlOutputs, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		var raw string
		if err := value.Decode(&raw); err != nil {
			return fmt.Errorf("line %d: output %q: %w", value.Line, key.Value, err)
		}
		ref, err := ParseRef(raw)
		if err != nil {
			return fmt.Errorf("line %d: output %q: %w", value.Line, key.Value, err)
		}
		out = append(out, Output{Name: key.Value, From: ref})
	}
	*o = out
	return nil
}

func decodeYAML(data []byte, target any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("manifest is empty")
		}
		return err
	}
	return nil
}

func parseYAML(data []byte, filename string) (*Pipeline, error) {
	source := filepath.Base(filename)
	var doc yamlPipeline
	if err := decodeYAML(data, &doc); err != nil {
		return nil, &ValidationError{Source: source, Issues: []string{err.Error()}}
	}
	verr := &ValidationError{Source: source}
	if doc.Kind != "" && doc.Kind != kindPipeline {
		return nil, fmt.Errorf("%w: %s is %q, want %q", ErrWrongKind, source, doc.Kind, kindPipeline)
	}

	p := &Pipeline{
		Name:             doc.Name,
		Description:      doc.Description,
		Tags:             doc.Tags,
		Compute:          doc.Settings.Compute,
		DefaultDatastore: doc.Settings.DefaultDatastore,
		Outputs:          []Output(doc.Outputs),
	}
	for _, env := range doc.Environments {
		p.Environments = append(p.Environments, env.descriptor())
	}
	for _, raw := range doc.Steps {
		p.Steps = append(p.Steps, raw.step(verr))
	}
	p.validate(verr)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return p, nil
}

func (e yamlEnvironment) descriptor() domain.EnvironmentDescriptor {
	return domain.EnvironmentDescriptor{
		Name:                   e.Name,
		Version:                e.Version,
		BaseImage:              e.Image,
		DependencyManifestPath: e.CondaFile,
		Description:            e.Description,
		Tags:                   e.Tags,
	}
}

func (s yamlStep) step(verr *ValidationError) Step {
	desc := domain.StepDescriptor{
		Name:          s.Name,
		DisplayName:   s.DisplayName,
		Description:   s.Description,
		Version:       s.Version,
		Command:       strings.TrimSpace(s.Command),
		Deterministic: s.Deterministic,
		CodeDir:       s.Code,
		Inputs:        make(map[string]domain.InputPort, len(s.Inputs)),
		Outputs:       make(map[string]domain.OutputPort, len(s.Outputs)),
	}
	if s.Environment != "" {
		ref, err := domain.ParseEnvironmentRef(s.Environment)
		if err != nil {
			verr.Add(fmt.Sprintf("step[%s] %v", s.Name, err))
		}
		desc.Environment = ref
	}
	step := Step{Descriptor: desc, From: map[string]Ref{}, Values: map[string]string{}}
	for _, name := range sortedKeys(s.Inputs) {
		in := s.Inputs[name]
		desc.Inputs[name] = domain.InputPort{
			Type:        domain.TypeTag(in.Type),
			Mode:        domain.InputMode(in.Mode),
			Default:     in.Default,
			Optional:    in.Optional,
			Description: in.Description,
		}
		if in.From != "" {
			ref, err := ParseRef(in.From)
			if err != nil {
				verr.Add(fmt.Sprintf("step[%s] input %q: %v", s.Name, name, err))
			} else {
				step.From[name] = ref
			}
		}
		if in.Value != "" {
			step.Values[name] = in.Value
		}
	}
	for name, out := range s.Outputs {
		desc.Outputs[name] = domain.OutputPort{
			Type:        domain.TypeTag(out.Type),
			Mode:        domain.OutputMode(out.Mode),
			Path:        out.Path,
			Description: out.Description,
		}
	}
	return step
}
