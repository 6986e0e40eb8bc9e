package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/EternisAI/silo-fleet/internal/fleet"
)

// runFleet connects, runs op and renders its report. The returned error is
// the report's *fleet.FleetError when any agent did not converge.
func (a *app) runFleet(cmd *cobra.Command, op func(ctx context.Context, r *fleet.Reconciler) *fleet.Report) error {
	ctx := cmd.Context()

	client, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	prober, err := a.prober()
	if err != nil {
		return err
	}

	report := op(ctx, fleet.New(client.Daemon, a.cfg, prober))
	report.Warnings = append(clientWarnings(client), report.Warnings...)

	if err := fleet.Render(cmd.OutOrStdout(), report, a.output); err != nil {
		return err
	}
	return report.Err()
}

func newStartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Reconcile the fleet to the configured size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runFleet(cmd, func(ctx context.Context, r *fleet.Reconciler) *fleet.Report {
				return r.Start(ctx)
			})
		},
	}
}

func newStopCmd(a *app) *cobra.Command {
	var removeNetwork bool
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop and remove every agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runFleet(cmd, func(ctx context.Context, r *fleet.Reconciler) *fleet.Report {
				return r.Stop(ctx, removeNetwork)
			})
		},
	}
	cmd.Flags().BoolVar(&removeNetwork, "remove-network", false, "also remove the fleet network")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report every agent without changing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runFleet(cmd, func(ctx context.Context, r *fleet.Reconciler) *fleet.Report {
				return r.Status(ctx)
			})
		},
	}
}

func newRestartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Stop the fleet, then start it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runFleet(cmd, func(ctx context.Context, r *fleet.Reconciler) *fleet.Report {
				return r.Restart(ctx)
			})
		},
	}
}

func newBuildCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Build the agent image on the daemon from BUILD_CONTEXT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			if err := fleet.New(client.Daemon, a.cfg, nil).Build(cmd.Context()); err != nil {
				return fmt.Errorf("failed to build %s: %w", a.cfg.Fleet.Image, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Built %s from %s\n", a.cfg.Fleet.Image, a.cfg.Fleet.BuildContext)
			return nil
		},
	}
}
