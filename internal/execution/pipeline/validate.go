package pipeline

import (
	"errors"
	"sort"
	"strings"

	"github.com/animus-labs/mlpipe/internal/domain"
)

// Validate checks that every required input is supplied externally or by
// exactly one producer edge and returns the steps in topological order. Ties
// are broken by declaration order.
func (b *Builder) Validate() ([]string, error) {
	if len(b.order) == 0 {
		return nil, buildErr("validate", ErrEmptyPipeline, "", "", b.meta.Name)
	}
	for _, name := range b.order {
		step := b.steps[name]
		for _, input := range step.InputNames() {
			if b.inputSatisfied(name, input, step.Inputs[input]) {
				continue
			}
			return nil, buildErr("validate", ErrUnboundInput, name, input, "no producer edge or external value")
		}
	}
	return b.topoOrder()
}

func (b *Builder) inputSatisfied(step, input string, port domain.InputPort) bool {
	key := portKey{step: step, port: input}
	if _, ok := b.inbound[key]; ok {
		return true
	}
	if _, ok := b.bindings[key]; ok {
		return true
	}
	return port.Optional || strings.TrimSpace(port.Default) != ""
}

func (b *Builder) topoOrder() ([]string, error) {
	predecessors, err := b.dag.PredecessorMap()
	if err != nil {
		return nil, buildErr("validate", err, "", "", "")
	}
	adjacency, err := b.dag.AdjacencyMap()
	if err != nil {
		return nil, buildErr("validate", err, "", "", "")
	}

	inDegree := make(map[string]int, len(b.order))
	ready := make([]string, 0, len(b.order))
	for _, name := range b.order {
		inDegree[name] = len(predecessors[name])
		if inDegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	ordered := make([]string, 0, len(b.order))
	for len(ready) > 0 {
		// ready is kept sorted by declaration index.
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, name)
		for next := range adjacency[name] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
		sort.Slice(ready, func(i, j int) bool { return b.index[ready[i]] < b.index[ready[j]] })
	}

	if len(ordered) != len(b.order) {
		// PreventCycles makes this unreachable unless the graph was corrupted.
		return nil, buildErr("validate", ErrCycleDetected, "", "", "dependency graph contains a cycle")
	}
	return ordered, nil
}

// ToExecutionRequest validates the graph and returns a request whose steps are
// in dependency order. The builder is not modified and the request shares no
// memory with it.
func (b *Builder) ToExecutionRequest(computeTarget, defaultArtifactStore string) (domain.ExecutionRequest, error) {
	computeTarget = strings.TrimSpace(computeTarget)
	if computeTarget == "" {
		return domain.ExecutionRequest{}, buildErr("to execution request", ErrMissingComputeTarget, "", "", "")
	}
	ordered, err := b.Validate()
	if err != nil {
		return domain.ExecutionRequest{}, err
	}
	position := make(map[string]int, len(ordered))
	for i, name := range ordered {
		position[name] = i
	}

	req := domain.ExecutionRequest{
		Name:                 b.meta.Name,
		Description:          b.meta.Description,
		ComputeTarget:        computeTarget,
		DefaultArtifactStore: strings.TrimSpace(defaultArtifactStore),
		Steps:                make([]domain.RequestStep, 0, len(ordered)),
		Edges:                make([]domain.RequestEdge, 0, len(b.edges)),
		Outputs:              append([]domain.RequestOutput{}, b.outputs...),
	}
	if len(b.meta.Tags) > 0 {
		req.Tags = make(map[string]string, len(b.meta.Tags))
		for k, v := range b.meta.Tags {
			req.Tags[k] = v
		}
	}

	for _, name := range ordered {
		step := b.steps[name]
		rs := domain.RequestStep{
			Name:          step.Name,
			DisplayName:   step.DisplayName,
			Description:   step.Description,
			Version:       step.Version,
			Command:       step.Command,
			Environment:   step.Environment,
			Deterministic: step.Deterministic,
			CodeDir:       step.CodeDir,
			Inputs:        make([]domain.RequestInput, 0, len(step.Inputs)),
			Outputs:       make([]domain.RequestOutputPort, 0, len(step.Outputs)),
		}
		for _, input := range step.InputNames() {
			port := step.Inputs[input]
			ri := domain.RequestInput{Name: input, Type: port.Type, Mode: port.Mode, Optional: port.Optional}
			key := portKey{step: name, port: input}
			if edge, ok := b.inbound[key]; ok {
				ri.FromStep, ri.FromOutput = edge.FromStep, edge.FromOutput
			} else if value, ok := b.bindings[key]; ok {
				ri.Value = value
			} else {
				ri.Value = port.Default
			}
			rs.Inputs = append(rs.Inputs, ri)
		}
		for _, output := range step.OutputNames() {
			port := step.Outputs[output]
			rs.Outputs = append(rs.Outputs, domain.RequestOutputPort{Name: output, Type: port.Type, Mode: port.Mode, Path: port.Path})
		}
		req.Steps = append(req.Steps, rs)
	}

	req.Edges = append(req.Edges, b.edges...)
	sort.SliceStable(req.Edges, func(i, j int) bool {
		a, c := req.Edges[i], req.Edges[j]
		if position[a.ToStep] != position[c.ToStep] {
			return position[a.ToStep] < position[c.ToStep]
		}
		return a.ToInput < c.ToInput
	})
	return req, nil
}

// IsBuildError reports whether err came from graph construction or validation.
func IsBuildError(err error) bool {
	var be *BuildError
	return errors.As(err, &be)
}
