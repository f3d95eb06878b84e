package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/environments"
	"github.com/animus-labs/mlpipe/internal/manifest"
)

func newEnvCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Manage execution environments",
	}
	cmd.AddCommand(newEnvRegisterCmd(a))
	return cmd
}

func newEnvRegisterCmd(a *app) *cobra.Command {
	var (
		flagDesc domain.EnvironmentDescriptor
		tags     []string
	)
	cmd := &cobra.Command{
		Use:   "register [FILE]",
		Short: "Register an environment from a manifest or flags",
		Long: `Register an environment once per name and version. Re-registering the same
content is a no-op; changing the content of a registered version is rejected.`,
		Args: rangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc := flagDesc
			baseDir := "."
			if len(args) == 1 {
				loaded, err := manifest.LoadEnvironment(args[0])
				if err != nil {
					return err
				}
				desc = loaded
				baseDir = filepath.Dir(args[0])
			} else {
				tagMap, err := parsePairs("tag", tags)
				if err != nil {
					return err
				}
				desc.Tags = tagMap
				if err := desc.Validate(); err != nil {
					return usageErr("%v", err)
				}
			}

			ctx := cmd.Context()
			id, err := a.registerEnvironments(ctx, baseDir, []domain.EnvironmentDescriptor{desc})
			if err != nil {
				return err
			}
			return printFields(a.stdout, [][2]string{
				{"name", id[0].Name},
				{"version", id[0].Version},
				{"id", id[0].ID},
				{"digest", id[0].Digest},
				{"registered_at", id[0].RegisteredAt.Format(time.RFC3339)},
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&flagDesc.Name, "name", "", "environment name")
	flags.StringVar(&flagDesc.Version, "version", "", "environment version")
	flags.StringVar(&flagDesc.BaseImage, "image", "", "base container image")
	flags.StringVar(&flagDesc.DependencyManifestPath, "conda-file", "", "conda dependency file")
	flags.StringVar(&flagDesc.Description, "description", "", "environment description")
	flags.StringArrayVar(&tags, "tag", nil, "tag as key=value (repeatable)")
	return cmd
}

// registerEnvironments registers descs in order against the platform, with
// dependency manifests resolved against baseDir.
func (a *app) registerEnvironments(ctx context.Context, baseDir string, descs []domain.EnvironmentDescriptor) ([]domain.EnvironmentIdentity, error) {
	if len(descs) == 0 {
		return nil, nil
	}
	client, err := a.platform(ctx)
	if err != nil {
		return nil, err
	}
	l, err := a.openLedger(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = l.Close() }()

	registry, err := environments.NewRegistry(l.environments, client,
		environments.WithBaseDir(baseDir),
		environments.WithLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}
	out := make([]domain.EnvironmentIdentity, 0, len(descs))
	for _, desc := range descs {
		id, err := registry.Register(ctx, desc)
		if err != nil {
			return nil, fmt.Errorf("environment %s: %w", desc.Ref(), err)
		}
		out = append(out, id)
	}
	return out, nil
}
