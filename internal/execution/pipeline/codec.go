package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/animus-labs/mlpipe/internal/domain"
)

// MarshalExecutionRequest serializes a request with stable field names.
func MarshalExecutionRequest(req domain.ExecutionRequest) ([]byte, error) {
	return json.Marshal(requestPayloadFromDomain(req))
}

// MarshalExecutionRequestIndent is MarshalExecutionRequest for humans.
func MarshalExecutionRequestIndent(req domain.ExecutionRequest) ([]byte, error) {
	return json.MarshalIndent(requestPayloadFromDomain(req), "", "  ")
}

// UnmarshalExecutionRequest parses a serialized request.
func UnmarshalExecutionRequest(raw []byte) (domain.ExecutionRequest, error) {
	var payload requestPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.ExecutionRequest{}, err
	}
	req := domain.ExecutionRequest{
		Name:                 payload.Name,
		Description:          payload.Description,
		ComputeTarget:        payload.Settings.Compute,
		DefaultArtifactStore: payload.Settings.DefaultDatastore,
		Tags:                 payload.Tags,
		Steps:                make([]domain.RequestStep, 0, len(payload.Jobs)),
		Edges:                make([]domain.RequestEdge, 0, len(payload.Edges)),
		Outputs:              make([]domain.RequestOutput, 0, len(payload.Outputs)),
	}
	for _, job := range payload.Jobs {
		env, err := parseEnvironmentPayload(job.Environment)
		if err != nil {
			return domain.ExecutionRequest{}, err
		}
		step := domain.RequestStep{
			Name:          job.Name,
			DisplayName:   job.DisplayName,
			Description:   job.Description,
			Version:       job.Version,
			Command:       job.Command,
			Environment:   env,
			Deterministic: job.IsDeterministic,
			CodeDir:       job.CodeDir,
			CodeURI:       job.Code,
			Inputs:        make([]domain.RequestInput, 0, len(job.Inputs)),
			Outputs:       make([]domain.RequestOutputPort, 0, len(job.Outputs)),
		}
		for _, in := range job.Inputs {
			ri := domain.RequestInput{
				Name:     in.Name,
				Type:     domain.TypeTag(in.Type),
				Mode:     domain.InputMode(in.Mode),
				Value:    in.Value,
				Optional: in.Optional,
			}
			if in.From != nil {
				ri.FromStep, ri.FromOutput = in.From.Job, in.From.Output
			}
			step.Inputs = append(step.Inputs, ri)
		}
		for _, out := range job.Outputs {
			step.Outputs = append(step.Outputs, domain.RequestOutputPort{
				Name: out.Name,
				Type: domain.TypeTag(out.Type),
				Mode: domain.OutputMode(out.Mode),
				Path: out.Path,
			})
		}
		req.Steps = append(req.Steps, step)
	}
	for _, edge := range payload.Edges {
		req.Edges = append(req.Edges, domain.RequestEdge{
			FromStep:   edge.From.Job,
			FromOutput: edge.From.Output,
			ToStep:     edge.To.Job,
			ToInput:    edge.To.Input,
		})
	}
	for _, out := range payload.Outputs {
		req.Outputs = append(req.Outputs, domain.RequestOutput{Name: out.Name, FromStep: out.From.Job, FromOutput: out.From.Output})
	}
	return req, nil
}

// RequestHash is the hex sha256 of the marshalled request.
func RequestHash(req domain.ExecutionRequest) (string, error) {
	raw, err := MarshalExecutionRequest(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

type requestPayload struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Settings    settingsPayload   `json:"settings"`
	Jobs        []jobPayload      `json:"jobs"`
	Edges       []edgePayload     `json:"edges"`
	Outputs     []outputPayload   `json:"outputs"`
}

type settingsPayload struct {
	Compute          string `json:"compute"`
	DefaultDatastore string `json:"defaultDatastore,omitempty"`
}

type jobPayload struct {
	Name            string              `json:"name"`
	DisplayName     string              `json:"displayName,omitempty"`
	Description     string              `json:"description,omitempty"`
	Version         string              `json:"version,omitempty"`
	Command         string              `json:"command"`
	Environment     string              `json:"environment,omitempty"`
	IsDeterministic bool                `json:"isDeterministic"`
	CodeDir         string              `json:"codeDir,omitempty"`
	Code            string              `json:"code,omitempty"`
	Inputs          []inputPayload      `json:"inputs"`
	Outputs         []outputPortPayload `json:"outputs"`
}

type portRefPayload struct {
	Job    string `json:"job"`
	Output string `json:"output,omitempty"`
	Input  string `json:"input,omitempty"`
}

type inputPayload struct {
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Mode     string          `json:"mode,omitempty"`
	From     *portRefPayload `json:"from,omitempty"`
	Value    string          `json:"value,omitempty"`
	Optional bool            `json:"optional,omitempty"`
}

type outputPortPayload struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Mode string `json:"mode,omitempty"`
	Path string `json:"path,omitempty"`
}

type edgePayload struct {
	From portRefPayload `json:"from"`
	To   portRefPayload `json:"to"`
}

type outputPayload struct {
	Name string         `json:"name"`
	From portRefPayload `json:"from"`
}

func requestPayloadFromDomain(req domain.ExecutionRequest) requestPayload {
	payload := requestPayload{
		Name:        req.Name,
		Description: req.Description,
		Tags:        req.Tags,
		Settings: settingsPayload{
			Compute:          req.ComputeTarget,
			DefaultDatastore: req.DefaultArtifactStore,
		},
		Jobs:    make([]jobPayload, 0, len(req.Steps)),
		Edges:   make([]edgePayload, 0, len(req.Edges)),
		Outputs: make([]outputPayload, 0, len(req.Outputs)),
	}
	for _, step := range req.Steps {
		job := jobPayload{
			Name:            step.Name,
			DisplayName:     step.DisplayName,
			Description:     step.Description,
			Version:         step.Version,
			Command:         step.Command,
			Environment:     step.Environment.String(),
			IsDeterministic: step.Deterministic,
			CodeDir:         step.CodeDir,
			Code:            step.CodeURI,
			Inputs:          make([]inputPayload, 0, len(step.Inputs)),
			Outputs:         make([]outputPortPayload, 0, len(step.Outputs)),
		}
		for _, in := range step.Inputs {
			ip := inputPayload{
				Name:     in.Name,
				Type:     string(in.Type),
				Mode:     string(in.Mode),
				Value:    in.Value,
				Optional: in.Optional,
			}
			if in.FromStep != "" {
				ip.From = &portRefPayload{Job: in.FromStep, Output: in.FromOutput}
			}
			job.Inputs = append(job.Inputs, ip)
		}
		for _, out := range step.Outputs {
			job.Outputs = append(job.Outputs, outputPortPayload{
				Name: out.Name,
				Type: string(out.Type),
				Mode: string(out.Mode),
				Path: out.Path,
			})
		}
		payload.Jobs = append(payload.Jobs, job)
	}
	for _, edge := range req.Edges {
		payload.Edges = append(payload.Edges, edgePayload{
			From: portRefPayload{Job: edge.FromStep, Output: edge.FromOutput},
			To:   portRefPayload{Job: edge.ToStep, Input: edge.ToInput},
		})
	}
	for _, out := range req.Outputs {
		payload.Outputs = append(payload.Outputs, outputPayload{
			Name: out.Name,
			From: portRefPayload{Job: out.FromStep, Output: out.FromOutput},
		})
	}
	return payload
}

func parseEnvironmentPayload(raw string) (domain.EnvironmentRef, error) {
	if raw == "" {
		return domain.EnvironmentRef{}, nil
	}
	return domain.ParseEnvironmentRef(raw)
}
