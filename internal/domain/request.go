package domain

// ExecutionRequest is the serialised form of a validated pipeline graph, ready
// to be handed to the execution platform. Builders return copies; nothing
// retains a reference to a request after producing it.
type ExecutionRequest struct {
	Name                 string
	Description          string
	ComputeTarget        string
	DefaultArtifactStore string
	Tags                 map[string]string
	Steps                []RequestStep
	Edges                []RequestEdge
	Outputs              []RequestOutput
}

// RequestStep is a step in dependency order with its inputs resolved.
type RequestStep struct {
	Name          string
	DisplayName   string
	Description   string
	Version       string
	Command       string
	Environment   EnvironmentRef
	Deterministic bool
	CodeDir       string
	CodeURI       string
	Inputs        []RequestInput
	Outputs       []RequestOutputPort
}

// RequestInput is bound either to a producer output (FromStep/FromOutput) or to
// a literal value or path.
type RequestInput struct {
	Name       string
	Type       TypeTag
	Mode       InputMode
	FromStep   string
	FromOutput string
	Value      string
	Optional   bool
}

func (in RequestInput) Bound() bool {
	return in.FromStep != "" || in.Value != ""
}

type RequestOutputPort struct {
	Name string
	Type TypeTag
	Mode OutputMode
	Path string
}

// RequestEdge is a port-level data dependency.
type RequestEdge struct {
	FromStep   string
	FromOutput string
	ToStep     string
	ToInput    string
}

// RequestOutput exposes a step output as a pipeline-level output.
type RequestOutput struct {
	Name       string
	FromStep   string
	FromOutput string
}

// StepNames returns the step names in request order.
func (r ExecutionRequest) StepNames() []string {
	names := make([]string, 0, len(r.Steps))
	for _, step := range r.Steps {
		names = append(names, step.Name)
	}
	return names
}

// Clone deep-copies the request.
func (r ExecutionRequest) Clone() ExecutionRequest {
	out := r
	if r.Tags != nil {
		out.Tags = make(map[string]string, len(r.Tags))
		for k, v := range r.Tags {
			out.Tags[k] = v
		}
	}
	out.Steps = make([]RequestStep, len(r.Steps))
	for i, step := range r.Steps {
		cp := step
		cp.Inputs = append([]RequestInput(nil), step.Inputs...)
		cp.Outputs = append([]RequestOutputPort(nil), step.Outputs...)
		out.Steps[i] = cp
	}
	out.Edges = append([]RequestEdge(nil), r.Edges...)
	out.Outputs = append([]RequestOutput(nil), r.Outputs...)
	return out
}
