package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/animus-labs/mlpipe/internal/platform/requestid"
)

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "mlpipe",
		Short:         "Describe, validate and submit ML pipelines",
		Long:          `mlpipe turns pipeline manifests into execution requests and submits them to a managed ML workspace.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.init(); err != nil {
				return err
			}
			// One id per invocation, shared by every platform call it makes.
			id := requestid.New()
			a.logger = a.logger.With("request_id", id)
			cmd.SetContext(requestid.WithContext(cmd.Context(), id))
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})

	flags := root.PersistentFlags()
	flags.StringVarP(&a.dir, "dir", "C", ".", "directory to search for the workspace config file")
	flags.StringVar(&a.logFormat, "log-format", "json", "log format: json or text")
	flags.StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn or error")

	root.AddCommand(
		newWorkspaceCmd(a),
		newComputeCmd(a),
		newEnvCmd(a),
		newPipelineCmd(a),
		newJobCmd(a),
		newSampleCmd(a),
	)
	return root
}

// exactArgs is cobra.ExactArgs with a usage-classified error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		return nil
	}
}

func rangeArgs(lo, hi int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.RangeArgs(lo, hi)(cmd, args); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		return nil
	}
}

// printFields writes aligned "key: value" rows, skipping empty values.
func printFields(w io.Writer, rows [][2]string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', 0)
	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		fmt.Fprintf(tw, "%s:\t%s\n", row[0], row[1])
	}
	return tw.Flush()
}

func formatTags(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+tags[k])
	}
	return strings.Join(parts, ",")
}

// parsePairs parses repeated key=value flags.
func parsePairs(flag string, values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for _, raw := range values {
		k, v, ok := strings.Cut(raw, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, usageErr("--%s %q must be key=value", flag, raw)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}
