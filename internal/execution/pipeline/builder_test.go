package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/animus-labs/mlpipe/internal/domain"
)

const sklearnEnv = "AzureML-sklearn-0.24-ubuntu18.04-py37-cpu@latest"

func folderIn() domain.InputPort { return domain.InputPort{Type: domain.TypeURIFolder} }
func folderOut() domain.OutputPort { return domain.OutputPort{Type: domain.TypeURIFolder} }
func modelIn() domain.InputPort { return domain.InputPort{Type: domain.TypeMLflowModel} }
func modelOut() domain.OutputPort { return domain.OutputPort{Type: domain.TypeMLflowModel} }
func env(t *testing.T) domain.EnvironmentRef {
	t.Helper()
	ref, err := domain.ParseEnvironmentRef(sklearnEnv)
	if err != nil {
		t.Fatalf("ParseEnvironmentRef: %v", err)
	}
	return ref
}

func taxiSteps(t *testing.T) []domain.StepDescriptor {
	t.Helper()
	raw := folderIn()
	raw.Default = "azureml://datastores/blob_example/paths/nyctaxiexample"
	return []domain.StepDescriptor{
		{
			Name:        "prep",
			DisplayName: "Data preparation (prepare_taxi_data)",
			Inputs:      map[string]domain.InputPort{"raw_data": raw},
			Outputs:     map[string]domain.OutputPort{"prep_data": folderOut()},
			Command:     "python prep.py --raw_data ${{inputs.raw_data}} --prep_data ${{outputs.prep_data}}",
			Environment: env(t),
			CodeDir:     "./prep_src",
		},
		{
			Name:        "transform",
			Inputs:      map[string]domain.InputPort{"clean_data": folderIn()},
			Outputs:     map[string]domain.OutputPort{"transformed_data": folderOut()},
			Command:     "python transform.py --clean_data ${{inputs.clean_data}} --transformed_data ${{outputs.transformed_data}}",
			Environment: env(t),
		},
		{
			Name:        "train",
			Inputs:      map[string]domain.InputPort{"training_data": folderIn()},
			Outputs:     map[string]domain.OutputPort{"model_output": modelOut(), "test_data": folderOut()},
			Command:     "python train.py --training_data ${{inputs.training_data}} --test_data ${{outputs.test_data}} --model_output ${{outputs.model_output}}",
			Environment: env(t),
		},
		{
			Name:        "predict",
			Inputs:      map[string]domain.InputPort{"test_data": folderIn(), "model_input": modelIn()},
			Outputs:     map[string]domain.OutputPort{"predictions": folderOut()},
			Command:     "python predict.py --test_data ${{inputs.test_data}} --model_input ${{inputs.model_input}} --predictions ${{outputs.predictions}}",
			Environment: env(t),
		},
		{
			Name:        "score",
			Inputs:      map[string]domain.InputPort{"predictions": folderIn(), "model": modelIn()},
			Outputs:     map[string]domain.OutputPort{"score_report": folderOut()},
			Command:     "python score.py --predictions ${{inputs.predictions}} --model ${{inputs.model}} --score_report ${{outputs.score_report}}",
			Environment: env(t),
		},
	}
}

func taxiBuilder(t *testing.T) *Builder {
	t.Helper()
	b := New(Metadata{Name: "nyc_taxi_data_regression", Description: "E2E data_perp-train pipeline"})
	for _, step := range taxiSteps(t) {
		if err := b.AddStep(step); err != nil {
			t.Fatalf("AddStep(%s): %v", step.Name, err)
		}
	}
	edges := [][4]string{
		{"prep", "prep_data", "transform", "clean_data"},
		{"transform", "transformed_data", "train", "training_data"},
		{"train", "model_output", "predict", "model_input"},
		{"train", "test_data", "predict", "test_data"},
		{"predict", "predictions", "score", "predictions"},
		{"train", "model_output", "score", "model"},
	}
	for _, e := range edges {
		if err := b.Connect(e[0], e[1], e[2], e[3]); err != nil {
			t.Fatalf("Connect(%v): %v", e, err)
		}
	}
	return b
}

func TestValidateSamplePipeline(t *testing.T) {
	b := taxiBuilder(t)
	order, err := b.Validate()
	if err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	want := []string{"prep", "transform", "train", "predict", "score"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateMissingModelEdge(t *testing.T) {
	b := taxiBuilder(t)
	if err := b.Disconnect("predict", "model_input"); err != nil {
		t.Fatalf("Disconnect() err=%v", err)
	}
	_, err := b.Validate()
	if !errors.Is(err, ErrUnboundInput) {
		t.Fatalf("expected ErrUnboundInput, got %v", err)
	}
	var be *BuildError
	if !errors.As(err, &be) || be.Step != "predict" || be.Port != "model_input" {
		t.Fatalf("expected predict.model_input in error, got %v", err)
	}
}

func TestDisconnectKeepsSharedStepEdge(t *testing.T) {
	b := taxiBuilder(t)
	if err := b.Disconnect("predict", "model_input"); err != nil {
		t.Fatalf("Disconnect() err=%v", err)
	}
	// train still feeds predict.test_data, so train must stay ahead of predict.
	if err := b.Bind("predict", "model_input", "azureml:taxi-model:1"); err != nil {
		t.Fatalf("Bind() err=%v", err)
	}
	order, err := b.Validate()
	if err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	if diff := cmp.Diff([]string{"prep", "transform", "train", "predict", "score"}, order); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if err := b.Disconnect("predict", "model_input"); !errors.Is(err, ErrUnknownInput) {
		t.Fatalf("expected ErrUnknownInput for missing edge, got %v", err)
	}
}

func TestAddStepDuplicateName(t *testing.T) {
	b := New(Metadata{Name: "dup"})
	step := taxiSteps(t)[0]
	if err := b.AddStep(step); err != nil {
		t.Fatalf("first AddStep: %v", err)
	}
	err := b.AddStep(step)
	if !errors.Is(err, ErrDuplicateStepName) {
		t.Fatalf("expected ErrDuplicateStepName, got %v", err)
	}
	if got := b.StepNames(); len(got) != 1 {
		t.Fatalf("StepNames()=%v, want one step", got)
	}
}

func TestAddStepRejectsDanglingPlaceholder(t *testing.T) {
	b := New(Metadata{Name: "bad"})
	step := taxiSteps(t)[0]
	step.Command = "python prep.py ${{inputs.nope}}"
	if err := b.AddStep(step); !errors.Is(err, domain.ErrDanglingPlaceholder) {
		t.Fatalf("expected ErrDanglingPlaceholder, got %v", err)
	}
	if len(b.StepNames()) != 0 {
		t.Fatalf("rejected step was added")
	}
}

func TestConnectFailuresDoNotMutate(t *testing.T) {
	tests := []struct {
		name    string
		edge    [4]string
		wantErr error
	}{
		{name: "unknown producer", edge: [4]string{"nope", "out", "score", "model"}, wantErr: ErrUnknownStep},
		{name: "unknown consumer", edge: [4]string{"prep", "prep_data", "nope", "in"}, wantErr: ErrUnknownStep},
		{name: "unknown output", edge: [4]string{"prep", "missing", "transform", "clean_data"}, wantErr: ErrUnknownOutput},
		{name: "unknown input", edge: [4]string{"prep", "prep_data", "transform", "missing"}, wantErr: ErrUnknownInput},
		{name: "type mismatch", edge: [4]string{"prep", "prep_data", "score", "model"}, wantErr: ErrTypeMismatch},
		{name: "already bound", edge: [4]string{"prep", "prep_data", "train", "training_data"}, wantErr: ErrInputAlreadyBound},
		{name: "bound input checked before cycle", edge: [4]string{"score", "score_report", "transform", "clean_data"}, wantErr: ErrInputAlreadyBound},
	}
	for _, tt := range tests {
		b := taxiBuilder(t)
		before := b.Edges()
		err := b.Connect(tt.edge[0], tt.edge[1], tt.edge[2], tt.edge[3])
		if !errors.Is(err, tt.wantErr) {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.wantErr, err)
		}
		if diff := cmp.Diff(before, b.Edges()); diff != "" {
			t.Fatalf("%s: edges changed (-before +after):\n%s", tt.name, diff)
		}
		if _, err := b.Validate(); err != nil {
			t.Fatalf("%s: graph no longer valid: %v", tt.name, err)
		}
	}
}

func TestConnectCycleDetected(t *testing.T) {
	b := New(Metadata{Name: "cycle"})
	for _, name := range []string{"a", "b", "c"} {
		step := domain.StepDescriptor{
			Name:    name,
			Command: "run ${{inputs.in}} ${{inputs.back}} ${{outputs.out}}",
			Inputs: map[string]domain.InputPort{
				"in":   {Type: domain.TypeURIFolder, Default: "azureml://seed"},
				"back": {Type: domain.TypeURIFolder, Optional: true},
			},
			Outputs: map[string]domain.OutputPort{"out": folderOut()},
		}
		if err := b.AddStep(step); err != nil {
			t.Fatalf("AddStep(%s): %v", name, err)
		}
	}
	if err := b.Connect("a", "out", "b", "in"); err != nil {
		t.Fatalf("a->b: %v", err)
	}
	if err := b.Connect("b", "out", "c", "in"); err != nil {
		t.Fatalf("b->c: %v", err)
	}
	before := b.Edges()

	if err := b.Connect("c", "out", "a", "back"); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("c->a: expected ErrCycleDetected, got %v", err)
	}
	if err := b.Connect("a", "out", "a", "back"); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("a->a: expected ErrCycleDetected, got %v", err)
	}
	if diff := cmp.Diff(before, b.Edges()); diff != "" {
		t.Fatalf("edges changed after rejected cycle (-before +after):\n%s", diff)
	}
	order, err := b.Validate()
	if err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, order); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	// The rejected edge must not linger in the step graph either.
	if err := b.Connect("c", "out", "b", "back"); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("c->b: expected ErrCycleDetected, got %v", err)
	}
}

func chainStep(name, in, out string) domain.StepDescriptor {
	step := domain.StepDescriptor{
		Name:    name,
		Command: "run",
		Inputs:  map[string]domain.InputPort{},
		Outputs: map[string]domain.OutputPort{out: folderOut()},
	}
	step.Command += " ${{outputs." + out + "}}"
	if in != "" {
		step.Inputs[in] = folderIn()
		step.Command += " ${{inputs." + in + "}}"
	}
	return step
}

func TestExecutionRequestDependencyOrder(t *testing.T) {
	for _, declared := range [][]string{{"A", "B", "C"}, {"C", "B", "A"}, {"B", "C", "A"}} {
		steps := map[string]domain.StepDescriptor{
			"A": chainStep("A", "", "out"),
			"B": chainStep("B", "in", "out2"),
			"C": chainStep("C", "in2", "out3"),
		}
		b := New(Metadata{Name: "abc"})
		for _, name := range declared {
			if err := b.AddStep(steps[name]); err != nil {
				t.Fatalf("AddStep(%s): %v", name, err)
			}
		}
		if err := b.Connect("A", "out", "B", "in"); err != nil {
			t.Fatalf("A->B: %v", err)
		}
		if err := b.Connect("B", "out2", "C", "in2"); err != nil {
			t.Fatalf("B->C: %v", err)
		}
		req, err := b.ToExecutionRequest("cpu-cluster", "blob_example")
		if err != nil {
			t.Fatalf("ToExecutionRequest() err=%v", err)
		}
		if diff := cmp.Diff([]string{"A", "B", "C"}, req.StepNames()); diff != "" {
			t.Fatalf("declared %v: steps mismatch (-want +got):\n%s", declared, diff)
		}
		if req.Steps[1].Inputs[0].FromStep != "A" || req.Steps[1].Inputs[0].FromOutput != "out" {
			t.Fatalf("B input not wired to A.out: %+v", req.Steps[1].Inputs[0])
		}
	}
}

func TestValidateStableTieBreak(t *testing.T) {
	b := New(Metadata{Name: "ties"})
	// z and y are independent roots; x depends on y; w is independent and declared last.
	for _, step := range []domain.StepDescriptor{
		chainStep("z", "", "out"),
		chainStep("y", "", "out"),
		chainStep("x", "in", "out"),
		chainStep("w", "", "out"),
	} {
		if err := b.AddStep(step); err != nil {
			t.Fatalf("AddStep: %v", err)
		}
	}
	if err := b.Connect("y", "out", "x", "in"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	order, err := b.Validate()
	if err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	if diff := cmp.Diff([]string{"z", "y", "x", "w"}, order); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateRandomDAGsRespectProducers(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		n := 2 + rng.Intn(9)
		perm := rng.Perm(n)
		b := New(Metadata{Name: fmt.Sprintf("random-%d", round)})
		for i := 0; i < n; i++ {
			step := domain.StepDescriptor{
				Name:    fmt.Sprintf("s%d", i),
				Command: "run ${{outputs.out}}",
				Inputs:  map[string]domain.InputPort{},
				Outputs: map[string]domain.OutputPort{"out": folderOut()},
			}
			for j := 0; j < n; j++ {
				step.Inputs[fmt.Sprintf("in%d", j)] = domain.InputPort{Type: domain.TypeURIFolder, Optional: true}
			}
			if err := b.AddStep(step); err != nil {
				t.Fatalf("AddStep: %v", err)
			}
		}
		// Edges only go forward in perm, so the graph is acyclic.
		producers := map[string][]string{}
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if rng.Intn(3) != 0 {
					continue
				}
				from, to := fmt.Sprintf("s%d", perm[i]), fmt.Sprintf("s%d", perm[j])
				if err := b.Connect(from, "out", to, fmt.Sprintf("in%d", perm[i])); err != nil {
					t.Fatalf("Connect(%s,%s): %v", from, to, err)
				}
				producers[to] = append(producers[to], from)
			}
		}
		order, err := b.Validate()
		if err != nil {
			t.Fatalf("round %d: Validate() err=%v", round, err)
		}
		if len(order) != n {
			t.Fatalf("round %d: order has %d steps, want %d", round, len(order), n)
		}
		pos := map[string]int{}
		for i, name := range order {
			pos[name] = i
		}
		for consumer, froms := range producers {
			for _, from := range froms {
				if pos[from] >= pos[consumer] {
					t.Fatalf("round %d: %s ordered before its producer %s: %v", round, consumer, from, order)
				}
			}
		}
	}
}

func TestBindAndDefaults(t *testing.T) {
	b := New(Metadata{Name: "bind"})
	step := chainStep("solo", "data", "out")
	if err := b.AddStep(step); err != nil {
		t.Fatalf("AddStep: %v", err)
	}
	if _, err := b.Validate(); !errors.Is(err, ErrUnboundInput) {
		t.Fatalf("expected ErrUnboundInput, got %v", err)
	}
	if err := b.Bind("solo", "missing", "x"); !errors.Is(err, ErrUnknownInput) {
		t.Fatalf("expected ErrUnknownInput, got %v", err)
	}
	if err := b.Bind("solo", "data", "azureml://datastores/blob/paths/data"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := b.Bind("solo", "data", "other"); !errors.Is(err, ErrInputAlreadyBound) {
		t.Fatalf("expected ErrInputAlreadyBound, got %v", err)
	}
	req, err := b.ToExecutionRequest("cpu-cluster", "")
	if err != nil {
		t.Fatalf("ToExecutionRequest: %v", err)
	}
	if got := req.Steps[0].Inputs[0].Value; got != "azureml://datastores/blob/paths/data" {
		t.Fatalf("bound value=%q", got)
	}
}

func TestToExecutionRequestIsSideEffectFree(t *testing.T) {
	b := taxiBuilder(t)
	if err := b.AddOutput("pipeline_job_trained_model", "train", "model_output"); err != nil {
		t.Fatalf("AddOutput: %v", err)
	}
	edgesBefore := b.Edges()
	first, err := b.ToExecutionRequest("cpu-cluster", "blob_example")
	if err != nil {
		t.Fatalf("ToExecutionRequest: %v", err)
	}
	first.Steps[0].Inputs[0].Value = "mutated"
	first.Outputs[0].Name = "mutated"

	second, err := b.ToExecutionRequest("cpu-cluster", "blob_example")
	if err != nil {
		t.Fatalf("ToExecutionRequest: %v", err)
	}
	if second.Steps[0].Inputs[0].Value != "azureml://datastores/blob_example/paths/nyctaxiexample" {
		t.Fatalf("request shares memory with builder: %q", second.Steps[0].Inputs[0].Value)
	}
	if second.Outputs[0].Name != "pipeline_job_trained_model" {
		t.Fatalf("outputs share memory with builder")
	}
	if diff := cmp.Diff(edgesBefore, b.Edges()); diff != "" {
		t.Fatalf("builder edges changed (-before +after):\n%s", diff)
	}
	third, _ := b.ToExecutionRequest("cpu-cluster", "blob_example")
	if diff := cmp.Diff(second, third); diff != "" {
		t.Fatalf("repeated requests differ:\n%s", diff)
	}
}

func TestToExecutionRequestRequiresComputeAndSteps(t *testing.T) {
	if _, err := taxiBuilder(t).ToExecutionRequest(" ", "blob"); !errors.Is(err, ErrMissingComputeTarget) {
		t.Fatalf("expected ErrMissingComputeTarget, got %v", err)
	}
	if _, err := New(Metadata{}).ToExecutionRequest("cpu", ""); !errors.Is(err, ErrEmptyPipeline) {
		t.Fatalf("expected ErrEmptyPipeline, got %v", err)
	}
}

func TestAddOutputErrors(t *testing.T) {
	b := taxiBuilder(t)
	if err := b.AddOutput("scores", "score", "score_report"); err != nil {
		t.Fatalf("AddOutput: %v", err)
	}
	if err := b.AddOutput("scores", "score", "score_report"); !errors.Is(err, ErrDuplicateOutput) {
		t.Fatalf("expected ErrDuplicateOutput, got %v", err)
	}
	if err := b.AddOutput("x", "score", "nope"); !errors.Is(err, ErrUnknownOutput) {
		t.Fatalf("expected ErrUnknownOutput, got %v", err)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	b := taxiBuilder(t)
	if err := b.AddOutput("pipeline_job_score_report", "score", "score_report"); err != nil {
		t.Fatalf("AddOutput: %v", err)
	}
	req, err := b.ToExecutionRequest("cpu-cluster", "blob_example")
	if err != nil {
		t.Fatalf("ToExecutionRequest: %v", err)
	}
	raw, err := MarshalExecutionRequest(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalExecutionRequest(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff(req, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	h1, err := RequestHash(req)
	if err != nil {
		t.Fatalf("RequestHash: %v", err)
	}
	h2, _ := RequestHash(got)
	if h1 != h2 || len(h1) != 64 {
		t.Fatalf("unstable hash %q vs %q", h1, h2)
	}
}

func TestWriteDOT(t *testing.T) {
	var buf bytes.Buffer
	if err := taxiBuilder(t).WriteDOT(&buf); err != nil {
		t.Fatalf("WriteDOT: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"prep" -> "transform"`, `"train" -> "score"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("DOT output missing %s:\n%s", want, out)
		}
	}
}
