package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/ecs-deploy/internal/shell/deploy"
	"github.com/artpar/ecs-deploy/internal/shell/workers"
)

// deployFlags are the options shared by deploy and deploy-many.
type deployFlags struct {
	overrideFlags

	cluster            string
	timeout            int
	ignoreWarnings     bool
	diff               bool
	deregister         bool
	rollback           bool
	forceNewDeployment bool
	comment            string
	user               string
}

func (f *deployFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	f.overrideFlags.register(fs)
	fs.StringVar(&f.cluster, "cluster", "", "Name of the ECS cluster")
	fs.IntVar(&f.timeout, "timeout", int(deploy.DefaultTimeout/time.Second), "Amount of seconds to wait for deployment before command fails")
	fs.BoolVar(&f.ignoreWarnings, "ignore-warnings", false, "Do not fail deployment on warnings (port already in use or insufficient memory/CPU)")
	fs.BoolVar(&f.diff, "diff", true, "Print which values were changed in the task definition")
	fs.BoolVar(&f.deregister, "deregister", false, "Deregister the previous task definition revision after a successful deployment")
	fs.BoolVar(&f.rollback, "rollback", false, "Roll back to the previous revision if the deployment fails")
	fs.BoolVar(&f.forceNewDeployment, "force-new-deployment", false, "Recycle containers")
	fs.StringVar(&f.comment, "comment", "", "Description/comment for recording the deployment")
	fs.StringVar(&f.user, "user", "", "User who executes the deployment (used for recording)")
	_ = cmd.MarkFlagRequired("cluster")
}

// request builds a deploy request for serviceName from the flags.
func (f *deployFlags) request(cmd *cobra.Command, a *app, serviceName string) (deploy.Request, error) {
	overrides, err := f.overrides()
	if err != nil {
		return deploy.Request{}, err
	}
	return deploy.Request{
		Service:            serviceName,
		Overrides:          overrides,
		Timeout:            a.timeout(cmd, f.timeout),
		IgnoreWarnings:     f.ignoreWarnings,
		ShowDiff:           f.diff,
		Deregister:         f.deregister,
		Rollback:           f.rollback,
		ForceNewDeployment: f.forceNewDeployment,
		Comment:            f.comment,
		User:               f.user,
	}, nil
}

// timeout returns the --timeout flag when given and the configured default
// otherwise.
func (a *app) timeout(cmd *cobra.Command, seconds int) time.Duration {
	if cmd.Flags().Changed("timeout") || a.cfg.Deploy.Timeout <= 0 {
		return time.Duration(seconds) * time.Second
	}
	return a.cfg.Deploy.Timeout
}

// =============================================================================
// deploy
// =============================================================================

func newDeployCmd(a *app) *cobra.Command {
	var (
		flags       deployFlags
		serviceName string
		task        string
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Redeploy or modify a service",
		Long: `Redeploy or modify a service.

When no other options are given, the task definition is not changed. The
service is redeployed with it so that all container images are pulled again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(cmd, a, serviceName)
			if err != nil {
				return err
			}
			req.TaskDefinition = task

			orch, release, err := a.orchestrator(cmd.Context(), flags.cluster)
			if err != nil {
				return err
			}
			defer release()

			outcome, err := orch.Deploy(cmd.Context(), req)
			if outcome.Status == deploy.StatusRolledBack {
				return errRolledBack
			}
			return err
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&serviceName, "service", "", "Name of the ECS service")
	cmd.Flags().StringVar(&task, "task", "", "Task definition to deploy: a task ARN or a family with optional revision")
	_ = cmd.MarkFlagRequired("service")
	return cmd
}

// =============================================================================
// deploy-many
// =============================================================================

func newDeployManyCmd(a *app) *cobra.Command {
	var (
		flags       deployFlags
		services    string
		workerCount int
	)

	cmd := &cobra.Command{
		Use:   "deploy-many",
		Short: "Redeploy or modify many services of one cluster in parallel",
		Long: `Redeploy or modify many services of one cluster in parallel.

Every service is deployed as with the deploy command. A failed service does
not stop the others and does not change the exit code.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list := workers.ParseServices(services)
			if len(list) == 0 {
				return fmt.Errorf("%w: no services given", deploy.ErrInvalidRequest)
			}
			// Validate the shared overrides once, before any worker starts.
			if _, err := flags.overrides(); err != nil {
				return err
			}

			orch, release, err := a.orchestrator(cmd.Context(), flags.cluster)
			if err != nil {
				return err
			}
			defer release()

			fanCfg := a.cfg.Deploy.FanOut()
			if cmd.Flags().Changed("worker_count") || fanCfg.Workers <= 0 {
				fanCfg.Workers = workerCount
			}

			a.printer.Printf("Deploying to cluster=%s services=%v\n", flags.cluster, list)
			fan := workers.NewFanOut(fanCfg, nil, a.logger)
			results := fan.Run(cmd.Context(), list, func(ctx context.Context, serviceName string, worker int) error {
				return a.deployOne(ctx, cmd, orch, &flags, serviceName, worker)
			})

			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
				}
			}
			a.printer.Printf("Done: %d of %d services deployed\n", len(results)-failed, len(results))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&services, "services", "", "Comma separated list of ECS services")
	cmd.Flags().IntVar(&workerCount, "worker_count", workers.DefaultFanOutConfig().Workers, "Number of services deployed concurrently")
	_ = cmd.MarkFlagRequired("services")
	return cmd
}

// deployOne is the fan-out unit of deploy-many.
func (a *app) deployOne(ctx context.Context, cmd *cobra.Command, orch *deploy.Orchestrator, flags *deployFlags, serviceName string, worker int) error {
	printer := a.printer.WithPrefix(serviceName)
	printer.Printf("Starting deploy cluster=%s service=%s worker=%d\n", flags.cluster, serviceName, worker)

	req, err := flags.request(cmd, a, serviceName)
	if err != nil {
		return err
	}

	outcome, err := orch.WithPrinter(printer).Deploy(ctx, req)
	switch {
	case outcome.Status == deploy.StatusRolledBack:
		printer.Warn(errRolledBack.Error())
	case err != nil:
		printer.Error(fmt.Sprintf("Got error `%v` for %s", err, serviceName))
	default:
		printer.Success(fmt.Sprintf("Done deploy cluster=%s service=%s worker=%d", flags.cluster, serviceName, worker))
	}
	return err
}
