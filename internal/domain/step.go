package domain

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// TypeTag names the data type carried by a step port.
type TypeTag string

const (
	TypeURIFile     TypeTag = "uri_file"
	TypeURIFolder   TypeTag = "uri_folder"
	TypeMLTable     TypeTag = "mltable"
	TypeMLflowModel TypeTag = "mlflow_model"
	TypeCustomModel TypeTag = "custom_model"
	TypeTritonModel TypeTag = "triton_model"
	TypeString      TypeTag = "string"
	TypeInteger     TypeTag = "integer"
	TypeNumber      TypeTag = "number"
	TypeBoolean     TypeTag = "boolean"
)

func (t TypeTag) Valid() bool {
	switch t {
	case TypeURIFile, TypeURIFolder, TypeMLTable, TypeMLflowModel, TypeCustomModel, TypeTritonModel,
		TypeString, TypeInteger, TypeNumber, TypeBoolean:
		return true
	default:
		return false
	}
}

// Primitive reports whether values of this type are literals rather than data paths.
func (t TypeTag) Primitive() bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean:
		return true
	default:
		return false
	}
}

type InputMode string

const (
	InputModeReadOnlyMount InputMode = "ro_mount"
	InputModeDownload      InputMode = "download"
	InputModeDirect        InputMode = "direct"
	InputModeEvalMount     InputMode = "eval_mount"
	InputModeEvalDownload  InputMode = "eval_download"
)

func (m InputMode) Valid() bool {
	switch m {
	case InputModeReadOnlyMount, InputModeDownload, InputModeDirect, InputModeEvalMount, InputModeEvalDownload:
		return true
	default:
		return false
	}
}

// OutputMode is the write mode of a step output.
type OutputMode string

const (
	OutputModeReadWriteMount OutputMode = "rw_mount"
	OutputModeUpload         OutputMode = "upload"
	OutputModeDirect         OutputMode = "direct"
)

func (m OutputMode) Valid() bool {
	switch m {
	case OutputModeReadWriteMount, OutputModeUpload, OutputModeDirect:
		return true
	default:
		return false
	}
}

type InputPort struct {
	Type        TypeTag
	Default     string
	Mode        InputMode
	Optional    bool
	Description string
}

type OutputPort struct {
	Type        TypeTag
	Mode        OutputMode
	Path        string
	Description string
}

// StepDescriptor is a single unit of work in a pipeline.
type StepDescriptor struct {
	Name          string
	DisplayName   string
	Description   string
	Version       string
	Inputs        map[string]InputPort
	Outputs       map[string]OutputPort
	Command       string
	Environment   EnvironmentRef
	Deterministic bool
	CodeDir       string
}

// PortKind distinguishes the two placeholder namespaces.
type PortKind string

const (
	PortInput  PortKind = "inputs"
	PortOutput PortKind = "outputs"
)

// Placeholder is one ${{inputs.x}} or ${{outputs.y}} reference in a command.
type Placeholder struct {
	Kind PortKind
	Name string
	Raw  string
}

var (
	ErrInvalidStep         = errors.New("invalid step")
	ErrDanglingPlaceholder = errors.New("dangling placeholder")
)

var (
	placeholderPattern = regexp.MustCompile(`\$\{\{(.*?)\}\}`)
	portRefPattern     = regexp.MustCompile(`^\s*(inputs|outputs)\.([A-Za-z_][A-Za-z0-9_\-]*)\s*$`)
	portNamePattern    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*$`)
)

// PlaceholderFor renders the command placeholder for a port.
func PlaceholderFor(kind PortKind, name string) string {
	return "${{" + string(kind) + "." + name + "}}"
}

// NewStep validates a descriptor, fills defaults and returns a copy that shares
// no maps with the argument.
func NewStep(desc StepDescriptor) (StepDescriptor, error) {
	step := desc.Clone()
	step.Name = strings.TrimSpace(step.Name)
	if step.Name == "" {
		return StepDescriptor{}, fmt.Errorf("%w: name is required", ErrInvalidStep)
	}
	if strings.TrimSpace(step.Command) == "" {
		return StepDescriptor{}, fmt.Errorf("%w: step %q command is required", ErrInvalidStep, step.Name)
	}
	if step.DisplayName == "" {
		step.DisplayName = step.Name
	}
	if step.Environment.Name != "" && step.Environment.Version == "" {
		step.Environment.Version = LatestVersion
	}

	for name, in := range step.Inputs {
		if !portNamePattern.MatchString(name) {
			return StepDescriptor{}, fmt.Errorf("%w: step %q input name %q is invalid", ErrInvalidStep, step.Name, name)
		}
		if !in.Type.Valid() {
			return StepDescriptor{}, fmt.Errorf("%w: step %q input %q has unknown type %q", ErrInvalidStep, step.Name, name, in.Type)
		}
		if in.Mode == "" && !in.Type.Primitive() {
			in.Mode = InputModeReadOnlyMount
		}
		if in.Mode != "" && !in.Mode.Valid() {
			return StepDescriptor{}, fmt.Errorf("%w: step %q input %q has unknown mode %q", ErrInvalidStep, step.Name, name, in.Mode)
		}
		step.Inputs[name] = in
	}
	for name, out := range step.Outputs {
		if !portNamePattern.MatchString(name) {
			return StepDescriptor{}, fmt.Errorf("%w: step %q output name %q is invalid", ErrInvalidStep, step.Name, name)
		}
		if _, clash := step.Inputs[name]; clash {
			return StepDescriptor{}, fmt.Errorf("%w: step %q declares %q as both input and output", ErrInvalidStep, step.Name, name)
		}
		if !out.Type.Valid() {
			return StepDescriptor{}, fmt.Errorf("%w: step %q output %q has unknown type %q", ErrInvalidStep, step.Name, name, out.Type)
		}
		if out.Mode == "" {
			out.Mode = OutputModeReadWriteMount
		}
		if !out.Mode.Valid() {
			return StepDescriptor{}, fmt.Errorf("%w: step %q output %q has unknown mode %q", ErrInvalidStep, step.Name, name, out.Mode)
		}
		step.Outputs[name] = out
	}

	placeholders, err := ParsePlaceholders(step.Command)
	if err != nil {
		return StepDescriptor{}, fmt.Errorf("step %q: %w", step.Name, err)
	}
	for _, ph := range placeholders {
		if !step.HasPort(ph.Kind, ph.Name) {
			return StepDescriptor{}, fmt.Errorf("step %q: %w %s references undeclared %s %q", step.Name, ErrDanglingPlaceholder, ph.Raw, strings.TrimSuffix(string(ph.Kind), "s"), ph.Name)
		}
	}
	return step, nil
}

// ParsePlaceholders returns the port references of a command template in order.
func ParsePlaceholders(command string) ([]Placeholder, error) {
	matches := placeholderPattern.FindAllStringSubmatch(command, -1)
	out := make([]Placeholder, 0, len(matches))
	for _, m := range matches {
		ref := portRefPattern.FindStringSubmatch(m[1])
		if ref == nil {
			return nil, fmt.Errorf("%w %s is not an inputs or outputs reference", ErrDanglingPlaceholder, m[0])
		}
		out = append(out, Placeholder{Kind: PortKind(ref[1]), Name: ref[2], Raw: m[0]})
	}
	rest := placeholderPattern.ReplaceAllString(command, "")
	if i := strings.Index(rest, "${{"); i >= 0 {
		return nil, fmt.Errorf("%w %s is not closed", ErrDanglingPlaceholder, rest[i:])
	}
	return out, nil
}

func (s StepDescriptor) HasPort(kind PortKind, name string) bool {
	switch kind {
	case PortInput:
		_, ok := s.Inputs[name]
		return ok
	case PortOutput:
		_, ok := s.Outputs[name]
		return ok
	default:
		return false
	}
}

// Placeholders lists the port references of the command template.
func (s StepDescriptor) Placeholders() []Placeholder {
	out, _ := ParsePlaceholders(s.Command)
	return out
}

// RenderCommand substitutes every placeholder with its value from values, keyed
// by "inputs.<name>" or "outputs.<name>". Unknown keys are left untouched.
func (s StepDescriptor) RenderCommand(values map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(s.Command, func(raw string) string {
		inner := placeholderPattern.FindStringSubmatch(raw)[1]
		ref := portRefPattern.FindStringSubmatch(inner)
		if ref == nil {
			return raw
		}
		if v, ok := values[ref[1]+"."+ref[2]]; ok {
			return v
		}
		return raw
	})
}

// InputNames returns input names sorted.
func (s StepDescriptor) InputNames() []string {
	names := make([]string, 0, len(s.Inputs))
	for name := range s.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OutputNames returns output names sorted.
func (s StepDescriptor) OutputNames() []string {
	names := make([]string, 0, len(s.Outputs))
	for name := range s.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone deep-copies the descriptor.
func (s StepDescriptor) Clone() StepDescriptor {
	out := s
	out.Inputs = make(map[string]InputPort, len(s.Inputs))
	for k, v := range s.Inputs {
		out.Inputs[k] = v
	}
	out.Outputs = make(map[string]OutputPort, len(s.Outputs))
	for k, v := range s.Outputs {
		out.Outputs[k] = v
	}
	return out
}
