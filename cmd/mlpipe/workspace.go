package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/animus-labs/mlpipe/internal/domain"
)

func newWorkspaceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Inspect or create workspaces",
	}
	cmd.AddCommand(newWorkspaceShowCmd(a), newWorkspaceCreateCmd(a))
	return cmd
}

func newWorkspaceShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the configured workspace",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.platform(cmd.Context())
			if err != nil {
				return err
			}
			ws, err := client.GetWorkspace(cmd.Context())
			if err != nil {
				return fmt.Errorf("get workspace: %w", err)
			}
			return printWorkspace(a, ws)
		},
	}
}

func newWorkspaceCreateCmd(a *app) *cobra.Command {
	var (
		location    string
		displayName string
		description string
		tags        []string
	)
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a workspace in the configured resource group",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if location == "" {
				return usageErr("--location is required")
			}
			tagMap, err := parsePairs("tag", tags)
			if err != nil {
				return err
			}
			client, err := a.platform(cmd.Context())
			if err != nil {
				return err
			}
			ws, err := client.CreateWorkspace(cmd.Context(), domain.Workspace{
				Name:        args[0],
				Location:    location,
				DisplayName: displayName,
				Description: description,
				Tags:        tagMap,
			})
			if err != nil {
				return fmt.Errorf("create workspace %s: %w", args[0], err)
			}
			a.logger.Info("workspace created", "workspace", ws.Name, "location", ws.Location)
			return printWorkspace(a, ws)
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "region to create the workspace in")
	cmd.Flags().StringVar(&displayName, "display-name", "", "friendly name")
	cmd.Flags().StringVar(&description, "description", "", "workspace description")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag as key=value (repeatable)")
	return cmd
}

func printWorkspace(a *app, ws domain.Workspace) error {
	return printFields(a.stdout, [][2]string{
		{"name", ws.Name},
		{"display_name", ws.DisplayName},
		{"description", ws.Description},
		{"location", ws.Location},
		{"resource_group", ws.ResourceGroup},
		{"subscription_id", ws.SubscriptionID},
		{"discovery_url", ws.DiscoveryURL},
		{"tags", formatTags(ws.Tags)},
	})
}

func newComputeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Inspect compute targets",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show NAME",
		Short: "Show an attached compute target",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.platform(cmd.Context())
			if err != nil {
				return err
			}
			c, err := client.GetCompute(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get compute %s: %w", args[0], err)
			}
			rows := [][2]string{
				{"name", c.Name},
				{"type", c.Type},
				{"state", c.State},
				{"size", c.Size},
				{"min_nodes", strconv.Itoa(c.MinNodes)},
				{"max_nodes", strconv.Itoa(c.MaxNodes)},
			}
			if !c.ProvisionedAt.IsZero() {
				rows = append(rows, [2]string{"provisioned_at", c.ProvisionedAt.Format(time.RFC3339)})
			}
			return printFields(a.stdout, rows)
		},
	})
	return cmd
}
