package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dominikbraun/graph"

	"github.com/animus-labs/mlpipe/internal/domain"
)

// Metadata names and describes the pipeline a Builder produces.
type Metadata struct {
	Name        string
	Description string
	Tags        map[string]string
}

type portKey struct {
	step string
	port string
}

// Builder composes step descriptors into a directed acyclic graph by wiring
// producer outputs to consumer inputs. A Builder is owned by one caller and is
// not safe for concurrent use. Failed operations leave it unchanged.
type Builder struct {
	meta     Metadata
	steps    map[string]domain.StepDescriptor
	index    map[string]int
	order    []string
	edges    []domain.RequestEdge
	inbound  map[portKey]domain.RequestEdge
	bindings map[portKey]string
	outputs  []domain.RequestOutput
	dag      graph.Graph[string, string]
}

func New(meta Metadata) *Builder {
	if strings.TrimSpace(meta.Name) == "" {
		meta.Name = "pipeline"
	}
	return &Builder{
		meta:     meta,
		steps:    make(map[string]domain.StepDescriptor),
		index:    make(map[string]int),
		inbound:  make(map[portKey]domain.RequestEdge),
		bindings: make(map[portKey]string),
		dag:      graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles()),
	}
}

func (b *Builder) Metadata() Metadata {
	return b.meta
}

// AddStep validates desc and appends it in declaration order.
func (b *Builder) AddStep(desc domain.StepDescriptor) error {
	step, err := domain.NewStep(desc)
	if err != nil {
		return buildErr("add step", err, strings.TrimSpace(desc.Name), "", "")
	}
	if _, exists := b.steps[step.Name]; exists {
		return buildErr("add step", ErrDuplicateStepName, step.Name, "", "")
	}
	label := step.DisplayName
	if err := b.dag.AddVertex(step.Name, graph.VertexAttribute("label", label)); err != nil {
		if errors.Is(err, graph.ErrVertexAlreadyExists) {
			return buildErr("add step", ErrDuplicateStepName, step.Name, "", "")
		}
		return buildErr("add step", err, step.Name, "", "")
	}
	b.index[step.Name] = len(b.order)
	b.order = append(b.order, step.Name)
	b.steps[step.Name] = step
	return nil
}

// Step returns a copy of the named descriptor.
func (b *Builder) Step(name string) (domain.StepDescriptor, bool) {
	step, ok := b.steps[name]
	if !ok {
		return domain.StepDescriptor{}, false
	}
	return step.Clone(), true
}

// StepNames returns step names in declaration order.
func (b *Builder) StepNames() []string {
	return append([]string(nil), b.order...)
}

// Edges returns the port-level edges in insertion order.
func (b *Builder) Edges() []domain.RequestEdge {
	return append([]domain.RequestEdge(nil), b.edges...)
}

// Connect wires producer's output to consumer's input.
func (b *Builder) Connect(producer, output, consumer, input string) error {
	const op = "connect"
	detail := fmt.Sprintf("%s.%s -> %s.%s", producer, output, consumer, input)

	from, ok := b.steps[producer]
	if !ok {
		return buildErr(op, ErrUnknownStep, producer, "", detail)
	}
	to, ok := b.steps[consumer]
	if !ok {
		return buildErr(op, ErrUnknownStep, consumer, "", detail)
	}
	out, ok := from.Outputs[output]
	if !ok {
		return buildErr(op, ErrUnknownOutput, producer, output, detail)
	}
	in, ok := to.Inputs[input]
	if !ok {
		return buildErr(op, ErrUnknownInput, consumer, input, detail)
	}
	if out.Type != in.Type {
		return buildErr(op, ErrTypeMismatch, consumer, input, fmt.Sprintf("%s: output type %q, input type %q", detail, out.Type, in.Type))
	}
	key := portKey{step: consumer, port: input}
	if err := b.checkUnbound(key); err != nil {
		return buildErr(op, err, consumer, input, detail)
	}
	if producer == consumer {
		return buildErr(op, ErrCycleDetected, consumer, input, detail)
	}

	if _, err := b.dag.Edge(producer, consumer); err != nil {
		if !errors.Is(err, graph.ErrEdgeNotFound) {
			return buildErr(op, err, consumer, input, detail)
		}
		// PreventCycles checks reachability from consumer back to producer
		// before inserting, so a rejected edge leaves the graph untouched.
		if err := b.dag.AddEdge(producer, consumer); err != nil {
			if errors.Is(err, graph.ErrEdgeCreatesCycle) {
				return buildErr(op, ErrCycleDetected, consumer, input, detail)
			}
			return buildErr(op, err, consumer, input, detail)
		}
	}

	edge := domain.RequestEdge{FromStep: producer, FromOutput: output, ToStep: consumer, ToInput: input}
	b.edges = append(b.edges, edge)
	b.inbound[key] = edge
	return nil
}

// Disconnect removes the producer edge feeding consumer's input.
func (b *Builder) Disconnect(consumer, input string) error {
	key := portKey{step: consumer, port: input}
	edge, ok := b.inbound[key]
	if !ok {
		if _, exists := b.steps[consumer]; !exists {
			return buildErr("disconnect", ErrUnknownStep, consumer, "", "")
		}
		return buildErr("disconnect", ErrUnknownInput, consumer, input, "no producer edge")
	}
	delete(b.inbound, key)
	for i, e := range b.edges {
		if e == edge {
			b.edges = append(b.edges[:i], b.edges[i+1:]...)
			break
		}
	}
	for _, e := range b.edges {
		if e.FromStep == edge.FromStep && e.ToStep == edge.ToStep {
			return nil
		}
	}
	if err := b.dag.RemoveEdge(edge.FromStep, edge.ToStep); err != nil {
		return buildErr("disconnect", err, consumer, input, "")
	}
	return nil
}

// Bind supplies consumer's input from outside the graph, overriding any port
// default.
func (b *Builder) Bind(step, input, value string) error {
	const op = "bind"
	desc, ok := b.steps[step]
	if !ok {
		return buildErr(op, ErrUnknownStep, step, "", "")
	}
	if _, ok := desc.Inputs[input]; !ok {
		return buildErr(op, ErrUnknownInput, step, input, "")
	}
	if strings.TrimSpace(value) == "" {
		return buildErr(op, ErrUnboundInput, step, input, "empty value")
	}
	key := portKey{step: step, port: input}
	if err := b.checkUnbound(key); err != nil {
		return buildErr(op, err, step, input, "")
	}
	b.bindings[key] = value
	return nil
}

// AddOutput exposes a step output as a named pipeline output.
func (b *Builder) AddOutput(name, step, output string) error {
	const op = "add output"
	desc, ok := b.steps[step]
	if !ok {
		return buildErr(op, ErrUnknownStep, step, "", "")
	}
	if _, ok := desc.Outputs[output]; !ok {
		return buildErr(op, ErrUnknownOutput, step, output, "")
	}
	for _, existing := range b.outputs {
		if existing.Name == name {
			return buildErr(op, ErrDuplicateOutput, step, output, name)
		}
	}
	b.outputs = append(b.outputs, domain.RequestOutput{Name: name, FromStep: step, FromOutput: output})
	return nil
}

func (b *Builder) checkUnbound(key portKey) error {
	if existing, ok := b.inbound[key]; ok {
		return fmt.Errorf("%w by %s.%s", ErrInputAlreadyBound, existing.FromStep, existing.FromOutput)
	}
	if _, ok := b.bindings[key]; ok {
		return fmt.Errorf("%w externally", ErrInputAlreadyBound)
	}
	return nil
}
