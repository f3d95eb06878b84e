package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/execution/pipeline"
	"github.com/animus-labs/mlpipe/internal/manifest"
	"github.com/animus-labs/mlpipe/internal/submission"
)

func newPipelineCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Validate, render and submit pipeline manifests",
	}
	cmd.AddCommand(
		newPipelineValidateCmd(a),
		newPipelineGraphCmd(a),
		newPipelineRenderCmd(a),
		newPipelineSubmitCmd(a),
	)
	return cmd
}

func newPipelineValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a manifest and print the execution order",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := manifest.Load(args[0])
			if err != nil {
				return err
			}
			b, err := p.Build()
			if err != nil {
				return err
			}
			order, err := b.Validate()
			if err != nil {
				return err
			}
			a.logger.Debug("pipeline valid", "pipeline", p.Name, "steps", len(order))
			fmt.Fprintf(a.stdout, "pipeline %s is valid (%d steps)\n", p.Name, len(order))
			fmt.Fprintln(a.stdout, strings.Join(order, " -> "))
			return nil
		},
	}
}

func newPipelineGraphCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "graph FILE",
		Short: "Print the step graph in Graphviz DOT format",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := manifest.Load(args[0])
			if err != nil {
				return err
			}
			b, err := p.Build()
			if err != nil {
				return err
			}
			return b.WriteDOT(a.stdout)
		},
	}
}

func newPipelineRenderCmd(a *app) *cobra.Command {
	var compute string
	cmd := &cobra.Command{
		Use:   "render FILE",
		Short: "Print the execution request a submission would send",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := manifest.Load(args[0])
			if err != nil {
				return err
			}
			req, err := p.Request(compute)
			if err != nil {
				return err
			}
			raw, err := pipeline.MarshalExecutionRequestIndent(req)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.stdout, string(raw))
			return err
		},
	}
	cmd.Flags().StringVar(&compute, "compute", "", "compute target, overriding the manifest")
	return cmd
}

type submitOptions struct {
	experiment string
	compute    string
	wait       bool
	poll       time.Duration
}

func (o *submitOptions) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&o.experiment, "experiment", "", "experiment to file the job under (required)")
	flags.StringVar(&o.compute, "compute", "", "compute target, overriding the manifest")
	flags.BoolVar(&o.wait, "wait", false, "wait for the job to finish")
	flags.DurationVar(&o.poll, "poll", submission.DefaultPollInterval, "initial status poll interval with --wait")
}

func newPipelineSubmitCmd(a *app) *cobra.Command {
	var (
		opts         submitOptions
		registerEnvs bool
	)
	cmd := &cobra.Command{
		Use:   "submit FILE",
		Short: "Submit a pipeline manifest as a job",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(opts.experiment) == "" {
				return usageErr("--experiment is required")
			}
			p, err := manifest.Load(args[0])
			if err != nil {
				return err
			}
			req, err := p.Request(opts.compute)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if registerEnvs && len(p.Environments) > 0 {
				if _, err := a.registerEnvironments(ctx, p.Dir, p.Environments); err != nil {
					return err
				}
			}
			return a.submit(ctx, req, p.Dir, opts)
		},
	}
	opts.register(cmd)
	cmd.Flags().BoolVar(&registerEnvs, "register-envs", true, "register environments declared in the manifest first")
	return cmd
}

// submit uploads code snapshots when an artifact store is configured, submits
// req and optionally waits for a terminal status.
func (a *app) submit(ctx context.Context, req domain.ExecutionRequest, baseDir string, opts submitOptions) error {
	client, l, err := a.submissionClient(ctx, baseDir)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	handle, err := client.Submit(ctx, req, opts.experiment)
	if err != nil {
		return err
	}
	if err := printFields(a.stdout, [][2]string{
		{"job_name", handle.Name()},
		{"experiment", handle.Experiment()},
		{"status", string(handle.LastStatus())},
		{"monitor_url", handle.MonitorURL()},
	}); err != nil {
		return err
	}
	if !opts.wait {
		return nil
	}
	return a.waitFor(ctx, handle, opts.poll)
}

func (a *app) submissionClient(ctx context.Context, baseDir string) (*submission.Client, *ledger, error) {
	platform, err := a.platform(ctx)
	if err != nil {
		return nil, nil, err
	}
	l, err := a.openLedger(ctx)
	if err != nil {
		return nil, nil, err
	}
	clientOpts := []submission.Option{
		submission.WithLedger(l.submissions),
		submission.WithLogger(a.logger),
	}
	snap, err := a.snapshotter(ctx)
	if err != nil {
		_ = l.Close()
		return nil, nil, err
	}
	if snap != nil {
		clientOpts = append(clientOpts, submission.WithSnapshotter(snap, baseDir))
	}
	client, err := submission.NewClient(platform, clientOpts...)
	if err != nil {
		_ = l.Close()
		return nil, nil, err
	}
	return client, l, nil
}

func (a *app) waitFor(ctx context.Context, handle *submission.JobHandle, poll time.Duration) error {
	status, err := handle.Wait(ctx, poll)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "job %s finished: %s\n", handle.Name(), status)
	if status != domain.JobStatusCompleted {
		return fmt.Errorf("job %s ended with status %s", handle.Name(), status)
	}
	return nil
}
