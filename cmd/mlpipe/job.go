package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/execution/pipeline"
	"github.com/animus-labs/mlpipe/internal/manifest"
	"github.com/animus-labs/mlpipe/internal/repo"
	"github.com/animus-labs/mlpipe/internal/submission"
)

func newJobCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Run single commands and track submitted jobs",
	}
	cmd.AddCommand(newJobRunCmd(a), newJobStatusCmd(a), newJobHistoryCmd(a))
	return cmd
}

type commandJob struct {
	step        string
	displayName string
	command     string
	code        string
	environment string
	envFile     string
	inputs      []string
	params      []string
}

// request wraps the command in a one-step pipeline.
func (j commandJob) request(compute string) (domain.ExecutionRequest, error) {
	if strings.TrimSpace(j.command) == "" {
		return domain.ExecutionRequest{}, usageErr("--command is required")
	}
	if strings.TrimSpace(compute) == "" {
		return domain.ExecutionRequest{}, usageErr("--compute is required")
	}
	inputs, err := parsePairs("input", j.inputs)
	if err != nil {
		return domain.ExecutionRequest{}, err
	}
	params, err := parsePairs("param", j.params)
	if err != nil {
		return domain.ExecutionRequest{}, err
	}

	desc := domain.StepDescriptor{
		Name:        j.step,
		DisplayName: j.displayName,
		Command:     j.command,
		CodeDir:     j.code,
		Inputs:      make(map[string]domain.InputPort, len(inputs)+len(params)),
	}
	if j.environment != "" {
		ref, err := domain.ParseEnvironmentRef(j.environment)
		if err != nil {
			return domain.ExecutionRequest{}, usageErr("--environment: %v", err)
		}
		desc.Environment = ref
	}
	for name := range inputs {
		desc.Inputs[name] = domain.InputPort{Type: domain.TypeURIFolder}
	}
	for name := range params {
		if _, dup := desc.Inputs[name]; dup {
			return domain.ExecutionRequest{}, usageErr("%q is given as both --input and --param", name)
		}
		desc.Inputs[name] = domain.InputPort{Type: domain.TypeString}
	}

	name := j.displayName
	if name == "" {
		name = j.step
	}
	b := pipeline.New(pipeline.Metadata{Name: name})
	if err := b.AddStep(desc); err != nil {
		return domain.ExecutionRequest{}, err
	}
	for _, values := range []map[string]string{inputs, params} {
		for input, value := range values {
			if err := b.Bind(j.step, input, value); err != nil {
				return domain.ExecutionRequest{}, err
			}
		}
	}
	return b.ToExecutionRequest(compute, "")
}

func newJobRunCmd(a *app) *cobra.Command {
	var (
		job  commandJob
		opts submitOptions
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a single command as a one-step job",
		Example: `  mlpipe job run --experiment day1 --compute cpu-cluster \
    --code ./src --env-file environment.yaml \
    --input data_path=./data \
    --command 'python train_pytorch_own_data.py --data_path ${{inputs.data_path}}'`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(opts.experiment) == "" {
				return usageErr("--experiment is required")
			}
			ctx := cmd.Context()
			var env *domain.EnvironmentDescriptor
			if job.envFile != "" {
				desc, err := manifest.LoadEnvironment(job.envFile)
				if err != nil {
					return err
				}
				env = &desc
				if job.environment == "" {
					job.environment = desc.Name + "@" + domain.LatestVersion
				}
			}
			req, err := job.request(opts.compute)
			if err != nil {
				return err
			}
			if env != nil {
				if _, err := a.registerEnvironments(ctx, filepath.Dir(job.envFile), []domain.EnvironmentDescriptor{*env}); err != nil {
					return err
				}
			}
			return a.submit(ctx, req, ".", opts)
		},
	}
	opts.register(cmd)
	flags := cmd.Flags()
	flags.StringVar(&job.step, "step", "main", "step name")
	flags.StringVar(&job.displayName, "display-name", "", "job display name")
	flags.StringVar(&job.command, "command", "", "command template; reference inputs as ${{inputs.<name>}}")
	flags.StringVar(&job.code, "code", "", "code directory to ship with the job")
	flags.StringVar(&job.environment, "environment", "", "environment as name@latest or name:version")
	flags.StringVar(&job.envFile, "env-file", "", "environment manifest to register before submitting")
	flags.StringArrayVar(&job.inputs, "input", nil, "folder input as name=path (repeatable)")
	flags.StringArrayVar(&job.params, "param", nil, "string input as name=value (repeatable)")
	return cmd
}

func newJobStatusCmd(a *app) *cobra.Command {
	var (
		wait bool
		poll time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status NAME",
		Short: "Show the status of a submitted job",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, l, err := a.submissionClient(ctx, ".")
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			handle, err := client.Attach(ctx, args[0])
			if err != nil {
				return fmt.Errorf("job %s: %w", args[0], err)
			}
			if err := printFields(a.stdout, [][2]string{
				{"job_name", handle.Name()},
				{"experiment", handle.Experiment()},
				{"status", string(handle.LastStatus())},
				{"monitor_url", handle.MonitorURL()},
			}); err != nil {
				return err
			}
			if !wait || handle.LastStatus().Terminal() {
				return nil
			}
			return a.waitFor(ctx, handle, poll)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the job to finish")
	cmd.Flags().DurationVar(&poll, "poll", submission.DefaultPollInterval, "initial status poll interval with --wait")
	return cmd
}

func newJobHistoryCmd(a *app) *cobra.Command {
	var filter repo.SubmissionFilter
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List submissions recorded in the ledger",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if filter.Limit < 0 {
				return usageErr("--limit must not be negative")
			}
			ctx := cmd.Context()
			l, err := a.openLedger(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()
			if l.db == nil {
				a.logger.Warn("ML_LEDGER_DATABASE_URL is not set, history is empty")
			}

			subs, err := l.submissions.ListSubmissions(ctx, filter)
			if err != nil {
				return fmt.Errorf("list submissions: %w", err)
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tEXPERIMENT\tPIPELINE\tSTATUS\tSUBMITTED")
			for _, s := range subs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.JobName, s.Experiment, s.PipelineName, s.Status, s.SubmittedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&filter.Experiment, "experiment", "", "only show this experiment")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "maximum rows")
	return cmd
}
