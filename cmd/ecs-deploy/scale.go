package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/ecs-deploy/internal/shell/deploy"
)

func newScaleCmd(a *app) *cobra.Command {
	var (
		timeout        int
		ignoreWarnings bool
	)

	cmd := &cobra.Command{
		Use:   "scale <cluster> <service> <desired_count>",
		Short: "Scale a service up or down",
		Long: `Scale a service up or down.

CLUSTER is the name of the cluster, SERVICE the name of the service and
DESIRED_COUNT the number of tasks the service should run.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			desired, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("%w: invalid desired count %q", deploy.ErrInvalidRequest, args[2])
			}

			orch, release, err := a.orchestrator(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer release()

			_, err = orch.Scale(cmd.Context(), deploy.ScaleRequest{
				Service:        args[1],
				DesiredCount:   desired,
				Timeout:        a.timeout(cmd, timeout),
				IgnoreWarnings: ignoreWarnings,
			})
			return err
		},
	}

	cmd.Flags().IntVar(&timeout, "timeout", int(deploy.DefaultTimeout/time.Second), "Amount of seconds to wait for the service to settle before command fails")
	cmd.Flags().BoolVar(&ignoreWarnings, "ignore-warnings", false, "Do not fail on warnings (port already in use or insufficient memory/CPU)")
	return cmd
}
