package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"github.com/animus-labs/mlpipe/internal/execution/pipeline"
	"github.com/animus-labs/mlpipe/internal/manifest"
	"github.com/animus-labs/mlpipe/internal/platform/mlapi"
	"github.com/animus-labs/mlpipe/internal/platform/requestid"
	"github.com/animus-labs/mlpipe/internal/submission"
	"github.com/animus-labs/mlpipe/internal/workspace"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func extractSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if code, _, stderr := runCLI(t, "sample", "nyc-taxi", "--out", dir); code != exitOK {
		t.Fatalf("sample extract exit=%d stderr=%s", code, stderr)
	}
	return dir
}

func TestSampleList(t *testing.T) {
	code, stdout, _ := runCLI(t, "sample")
	if code != exitOK {
		t.Fatalf("exit=%d", code)
	}
	if stdout != "nyc-taxi\npytorch-job\n" {
		t.Fatalf("stdout=%q", stdout)
	}
}

func TestSampleUnknown(t *testing.T) {
	code, _, stderr := runCLI(t, "sample", "nope")
	if code != exitConfig || !strings.Contains(stderr, "unknown sample") {
		t.Fatalf("exit=%d stderr=%s", code, stderr)
	}
}

func TestPipelineValidateSample(t *testing.T) {
	dir := extractSample(t)
	for _, file := range []string{"pipeline.yaml", "pipeline.hcl"} {
		code, stdout, stderr := runCLI(t, "pipeline", "validate", filepath.Join(dir, file))
		if code != exitOK {
			t.Fatalf("%s: exit=%d stderr=%s", file, code, stderr)
		}
		if !strings.Contains(stdout, "prep -> transform -> train -> predict -> score") {
			t.Fatalf("%s: stdout=%q", file, stdout)
		}
	}
}

func TestPipelineRenderSample(t *testing.T) {
	dir := extractSample(t)
	code, stdout, stderr := runCLI(t, "pipeline", "render", "--compute", "gpu-cluster", filepath.Join(dir, "pipeline.hcl"))
	if code != exitOK {
		t.Fatalf("exit=%d stderr=%s", code, stderr)
	}
	req, err := pipeline.UnmarshalExecutionRequest([]byte(stdout))
	if err != nil {
		t.Fatalf("UnmarshalExecutionRequest() err=%v", err)
	}
	if req.ComputeTarget != "gpu-cluster" {
		t.Fatalf("compute=%q", req.ComputeTarget)
	}
	if diff := cmp.Diff([]string{"prep", "transform", "train", "predict", "score"}, req.StepNames()); diff != "" {
		t.Fatalf("steps mismatch (-want +got):\n%s", diff)
	}
}

func TestPipelineGraphSample(t *testing.T) {
	dir := extractSample(t)
	code, stdout, stderr := runCLI(t, "pipeline", "graph", filepath.Join(dir, "pipeline.yaml"))
	if code != exitOK {
		t.Fatalf("exit=%d stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "digraph") || !strings.Contains(stdout, "predict") {
		t.Fatalf("stdout=%q", stdout)
	}
}

func TestPipelineValidateReportsIssues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	doc := "name: bad\nsteps:\n  - name: a\n    command: run ${{inputs.x}}\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	code, _, stderr := runCLI(t, "pipeline", "validate", path)
	if code != exitConfig {
		t.Fatalf("exit=%d, want %d", code, exitConfig)
	}
	if !strings.Contains(stderr, "manifest bad.yaml validation failed") {
		t.Fatalf("stderr=%s", stderr)
	}
}

func TestSubmitRequiresExperiment(t *testing.T) {
	dir := extractSample(t)
	code, _, stderr := runCLI(t, "pipeline", "submit", filepath.Join(dir, "pipeline.yaml"))
	if code != exitConfig || !strings.Contains(stderr, "--experiment is required") {
		t.Fatalf("exit=%d stderr=%s", code, stderr)
	}
}

func TestWorkspaceShowWithoutConfig(t *testing.T) {
	for _, key := range []string{"ML_SUBSCRIPTION_ID", "ML_RESOURCE_GROUP", "ML_WORKSPACE_NAME", "ML_API_ENDPOINT"} {
		t.Setenv(key, "")
	}
	code, _, stderr := runCLI(t, "-C", t.TempDir(), "workspace", "show")
	if code != exitConfig || !strings.Contains(stderr, "subscription_id") {
		t.Fatalf("exit=%d stderr=%s", code, stderr)
	}
}

func TestJobRunRejectsDanglingPlaceholder(t *testing.T) {
	code, _, stderr := runCLI(t, "job", "run",
		"--experiment", "day1", "--compute", "cpu-cluster",
		"--input", "data_path=./data",
		"--command", "python train.py --data ${{inputs.nope}}")
	if code != exitConfig || !strings.Contains(stderr, "dangling placeholder") {
		t.Fatalf("exit=%d stderr=%s", code, stderr)
	}
}

func TestCommandJobRequest(t *testing.T) {
	job := commandJob{
		step:        "main",
		displayName: "day1-experiment-data",
		command:     "python train_pytorch_own_data.py --data_path ${{inputs.data_path}} --epochs ${{inputs.epochs}}",
		code:        "./src",
		environment: "pytorch-env@latest",
		inputs:      []string{"data_path=./data"},
		params:      []string{"epochs=3"},
	}
	req, err := job.request("cpu-cluster")
	if err != nil {
		t.Fatalf("request() err=%v", err)
	}
	if req.Name != "day1-experiment-data" || len(req.Steps) != 1 {
		t.Fatalf("unexpected request %+v", req)
	}
	step := req.Steps[0]
	got := map[string]string{}
	for _, in := range step.Inputs {
		got[in.Name] = string(in.Type) + "=" + in.Value
	}
	want := map[string]string{"data_path": "uri_folder=./data", "epochs": "string=3"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("inputs mismatch (-want +got):\n%s", diff)
	}
	if step.Environment.String() != "pytorch-env@latest" || step.CodeDir != "./src" {
		t.Fatalf("unexpected step %+v", step)
	}

	if _, err := job.request(""); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error without compute, got %v", err)
	}
}

func TestLogFlags(t *testing.T) {
	if code, _, _ := runCLI(t, "--log-format", "xml", "sample"); code != exitConfig {
		t.Fatalf("bad format exit=%d", code)
	}
	if code, _, _ := runCLI(t, "--log-level", "loud", "sample"); code != exitConfig {
		t.Fatalf("bad level exit=%d", code)
	}
	if code, _, _ := runCLI(t, "--log-format", "text", "--log-level", "debug", "sample"); code != exitOK {
		t.Fatalf("text/debug exit=%d", code)
	}
}

func TestRootAttachesRequestID(t *testing.T) {
	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout, &stderr)
	var ids []string
	capture := &cobra.Command{
		Use: "capture",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ids = append(ids, requestid.FromContext(ctx), requestid.FromContext(ctx))
			return nil
		},
	}
	root.AddCommand(capture)
	root.SetArgs([]string{"--log-format", "text", "capture"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if len(ids) != 2 || ids[0] == "" || ids[0] != ids[1] {
		t.Fatalf("request ids=%v, want one shared id", ids)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: exitOK},
		{name: "usage", err: usageErr("bad"), want: exitConfig},
		{name: "config", err: configErr("ledger", errors.New("bad url")), want: exitConfig},
		{name: "workspace", err: fmt.Errorf("load: %w", workspace.ErrConfiguration), want: exitConfig},
		{name: "manifest", err: &manifest.ValidationError{Issues: []string{"x"}}, want: exitConfig},
		{name: "build", err: &pipeline.BuildError{Op: "validate", Err: pipeline.ErrUnboundInput}, want: exitConfig},
		{name: "invalid request", err: fmt.Errorf("%w: no steps", submission.ErrInvalidRequest), want: exitConfig},
		{name: "submission", err: &submission.SubmissionError{JobName: "j", Err: mlapi.ErrUnauthorized}, want: exitFailed},
		{name: "platform", err: fmt.Errorf("get job: %w", mlapi.ErrNotFound), want: exitFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Fatalf("exitCode(%v)=%d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
