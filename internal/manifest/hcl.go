package manifest

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/animus-labs/mlpipe/internal/domain"
)

type hclFile struct {
	Pipeline     *hclPipeline     `hcl:"pipeline,block"`
	Environments []hclEnvironment `hcl:"environment,block"`
	Steps        []hclStep        `hcl:"step,block"`
	Outputs      []hclOutputRef   `hcl:"output,block"`
}

type hclPipeline struct {
	Name             string            `hcl:"name,label"`
	Description      string            `hcl:"description,optional"`
	Compute          string            `hcl:"compute,optional"`
	DefaultDatastore string            `hcl:"default_datastore,optional"`
	Tags             map[string]string `hcl:"tags,optional"`
}

type hclEnvironment struct {
	Name        string            `hcl:"name,label"`
	Version     string            `hcl:"version"`
	Image       string            `hcl:"image"`
	CondaFile   string            `hcl:"conda_file,optional"`
	Description string            `hcl:"description,optional"`
	Tags        map[string]string `hcl:"tags,optional"`
}

type hclStep struct {
	Name          string         `hcl:"name,label"`
	DisplayName   string         `hcl:"display_name,optional"`
	Description   string         `hcl:"description,optional"`
	Version       string         `hcl:"version,optional"`
	Code          string         `hcl:"code,optional"`
	Environment   string         `hcl:"environment,optional"`
	Deterministic bool           `hcl:"deterministic,optional"`
	Command       hcl.Expression `hcl:"command"`
	Inputs        []hclInput     `hcl:"input,block"`
	Outputs       []hclOutput    `hcl:"output,block"`
}

type hclInput struct {
	Name        string         `hcl:"name,label"`
	Type        string         `hcl:"type"`
	Mode        string         `hcl:"mode,optional"`
	Default     string         `hcl:"default,optional"`
	Optional    bool           `hcl:"optional,optional"`
	Description string         `hcl:"description,optional"`
	Value       *string        `hcl:"value,optional"`
	From        hcl.Expression `hcl:"from,optional"`
}

type hclOutput struct {
	Name        string `hcl:"name,label"`
	Type        string `hcl:"type"`
	Mode        string `hcl:"mode,optional"`
	Path        string `hcl:"path,optional"`
	Description string `hcl:"description,optional"`
}

type hclOutputRef struct {
	Name string         `hcl:"name,label"`
	From hcl.Expression `hcl:"from"`
}

func parseHCL(data []byte, filename string, env map[string]string) (*Pipeline, error) {
	verr := &ValidationError{Source: filepath.Base(filename)}
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		verr.AddDiagnostics(diags)
		return nil, verr
	}

	ctx := baseEvalContext(env)
	var doc hclFile
	if diags := gohcl.DecodeBody(file.Body, ctx, &doc); diags.HasErrors() {
		verr.AddDiagnostics(diags)
		return nil, verr
	}
	if doc.Pipeline == nil {
		verr.Add(`a pipeline "<name>" block is required`)
		return nil, verr
	}

	p := &Pipeline{
		Name:             doc.Pipeline.Name,
		Description:      doc.Pipeline.Description,
		Tags:             doc.Pipeline.Tags,
		Compute:          doc.Pipeline.Compute,
		DefaultDatastore: doc.Pipeline.DefaultDatastore,
	}
	for _, env := range doc.Environments {
		p.Environments = append(p.Environments, env.descriptor())
	}
	for _, raw := range doc.Steps {
		p.Steps = append(p.Steps, raw.step(ctx, verr))
	}
	for _, raw := range doc.Outputs {
		ref, ok := refFromExpr(raw.From, fmt.Sprintf("output[%s]", raw.Name), verr)
		if !ok {
			continue
		}
		if ref.IsZero() {
			verr.Add(fmt.Sprintf("output[%s] from is required", raw.Name))
			continue
		}
		p.Outputs = append(p.Outputs, Output{Name: raw.Name, From: ref})
	}
	p.validate(verr)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return p, nil
}

// baseEvalContext exposes the environment variables given as env.<NAME>.
func baseEvalContext(env map[string]string) *hcl.EvalContext {
	vars := make(map[string]cty.Value, len(env))
	for k, v := range env {
		vars[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(vars)},
	}
}

func (e hclEnvironment) descriptor() domain.EnvironmentDescriptor {
	return domain.EnvironmentDescriptor{
		Name:                   e.Name,
		Version:                e.Version,
		BaseImage:              e.Image,
		DependencyManifestPath: e.CondaFile,
		Description:            e.Description,
		Tags:                   e.Tags,
	}
}

func (s hclStep) step(parent *hcl.EvalContext, verr *ValidationError) Step {
	desc := domain.StepDescriptor{
		Name:          s.Name,
		DisplayName:   s.DisplayName,
		Description:   s.Description,
		Version:       s.Version,
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
	from := map[string]Ref{}
	values := map[string]string{}

	inputVars := make(map[string]cty.Value, len(s.Inputs))
	for _, in := range s.Inputs {
		if _, dup := desc.Inputs[in.Name]; dup {
			verr.Add(fmt.Sprintf("step[%s] input %q is declared twice", s.Name, in.Name))
			continue
		}
		desc.Inputs[in.Name] = domain.InputPort{
			Type:        domain.TypeTag(in.Type),
			Mode:        domain.InputMode(in.Mode),
			Default:     in.Default,
			Optional:    in.Optional,
			Description: in.Description,
		}
		inputVars[in.Name] = cty.StringVal(domain.PlaceholderFor(domain.PortInput, in.Name))
		if in.Value != nil {
			values[in.Name] = *in.Value
		}
		ref, ok := refFromExpr(in.From, fmt.Sprintf("step[%s] input %q", s.Name, in.Name), verr)
		if ok && !ref.IsZero() {
			from[in.Name] = ref
		}
	}
	outputVars := make(map[string]cty.Value, len(s.Outputs))
	for _, out := range s.Outputs {
		if _, dup := desc.Outputs[out.Name]; dup {
			verr.Add(fmt.Sprintf("step[%s] output %q is declared twice", s.Name, out.Name))
			continue
		}
		desc.Outputs[out.Name] = domain.OutputPort{
			Type:        domain.TypeTag(out.Type),
			Mode:        domain.OutputMode(out.Mode),
			Path:        out.Path,
			Description: out.Description,
		}
		outputVars[out.Name] = cty.StringVal(domain.PlaceholderFor(domain.PortOutput, out.Name))
	}

	ctx := parent.NewChild()
	ctx.Variables = map[string]cty.Value{
		string(domain.PortInput):  cty.ObjectVal(inputVars),
		string(domain.PortOutput): cty.ObjectVal(outputVars),
	}
	desc.Command = evalCommand(s.Command, ctx, s.Name, verr)
	return Step{Descriptor: desc, From: from, Values: values}
}

func evalCommand(expr hcl.Expression, ctx *hcl.EvalContext, step string, verr *ValidationError) string {
	val, diags := expr.Value(ctx)
	if diags.HasErrors() {
		verr.AddDiagnostics(diags)
		return ""
	}
	if val.IsNull() || !val.IsKnown() {
		verr.Add(fmt.Sprintf("step[%s] command is required", step))
		return ""
	}
	str, err := convert.Convert(val, cty.String)
	if err != nil {
		verr.Add(fmt.Sprintf("step[%s] command must be a string: %v", step, err))
		return ""
	}
	return strings.TrimSpace(str.AsString())
}

// refFromExpr accepts either a bare traversal (prep.outputs.data) or a string.
// A missing attribute yields a zero Ref.
func refFromExpr(expr hcl.Expression, subject string, verr *ValidationError) (Ref, bool) {
	if expr == nil {
		return Ref{}, true
	}
	if traversal, diags := hcl.AbsTraversalForExpr(expr); !diags.HasErrors() {
		parts := []string{traversal.RootName()}
		for _, tr := range traversal[1:] {
			attr, ok := tr.(hcl.TraverseAttr)
			if !ok {
				verr.Add(fmt.Sprintf("%s reference must use attribute access only", subject))
				return Ref{}, false
			}
			parts = append(parts, attr.Name)
		}
		ref, err := ParseRef(strings.Join(parts, "."))
		if err != nil {
			verr.Add(fmt.Sprintf("%s: %v", subject, err))
			return Ref{}, false
		}
		return ref, true
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		verr.AddDiagnostics(diags)
		return Ref{}, false
	}
	if val.IsNull() {
		return Ref{}, true
	}
	str, err := convert.Convert(val, cty.String)
	if err != nil || !str.IsKnown() {
		verr.Add(fmt.Sprintf("%s from must be a reference or string", subject))
		return Ref{}, false
	}
	ref, err := ParseRef(str.AsString())
	if err != nil {
		verr.Add(fmt.Sprintf("%s: %v", subject, err))
		return Ref{}, false
	}
	return ref, true
}
