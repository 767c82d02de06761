package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/clinicbilling/internal/scheduler"
	"github.com/smallbiznis/clinicbilling/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "clinicbilling",
		Short:         "Automated billing and dunning for clinic tenants",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newRunCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the billing jobs on their cron schedules and serve health and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(appOptions(server.Module, scheduler.Cron))
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

var runTargets = map[string]string{
	"billing":   scheduler.JobBilling,
	"dunning":   scheduler.JobDunning,
	"reconcile": scheduler.JobReconcile,
	"all":       "",
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "run <billing|dunning|reconcile|all>",
		Short:     "Run one job immediately and exit",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"billing", "dunning", "reconcile", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			job, ok := runTargets[strings.ToLower(args[0])]
			if !ok {
				return fmt.Errorf("%w: %s", scheduler.ErrUnknownJob, args[0])
			}

			var sched *scheduler.Scheduler
			app := fx.New(appOptions(fx.Populate(&sched)))
			if err := app.Err(); err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = app.Stop(context.WithoutCancel(ctx)) }()

			if job == "" {
				return sched.RunOnce(ctx)
			}
			return sched.RunJob(ctx, job)
		},
	}
}
