package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/artpar/ecs-deploy/internal/shell/console"
	"github.com/artpar/ecs-deploy/internal/shell/deploy"
	"github.com/artpar/ecs-deploy/internal/shell/ecs"
	"github.com/artpar/ecs-deploy/internal/shell/metrics"
	"github.com/artpar/ecs-deploy/internal/shell/notify"
	"github.com/artpar/ecs-deploy/internal/shell/store"
)

var _ deploy.Gateway = (*ecs.Client)(nil)

// errRolledBack is returned by deploy after a successful rollback. The run
// still fails.
var errRolledBack = errors.New("rolled back to previous task definition")

// =============================================================================
// Application
// =============================================================================

// app holds the state shared by all commands of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	aws        AWSConfig

	cfg     *Config
	logger  *slog.Logger
	printer *console.Printer

	// newGateway is replaced in tests.
	newGateway func(ctx context.Context, cfg ecs.Config, cluster string, logger *slog.Logger) (deploy.Gateway, error)
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:  stdout,
		stderr:  stderr,
		printer: console.New(stdout),
		newGateway: func(ctx context.Context, cfg ecs.Config, cluster string, logger *slog.Logger) (deploy.Gateway, error) {
			return ecs.New(ctx, cfg, cluster, logger)
		},
	}
}

// setup loads the configuration and applies the global flags on top of it.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("region") {
		cfg.AWS.Region = a.aws.Region
	}
	if flags.Changed("profile") {
		cfg.AWS.Profile = a.aws.Profile
	}
	if flags.Changed("access-key-id") {
		cfg.AWS.AccessKeyID = a.aws.AccessKeyID
	}
	if flags.Changed("secret-access-key") {
		cfg.AWS.SecretAccessKey = a.aws.SecretAccessKey
	}

	a.cfg = cfg
	a.logger = SetupLogger(cfg, a.stderr)
	return nil
}

// orchestrator wires an orchestrator for cluster. The returned function
// releases the recorders.
func (a *app) orchestrator(ctx context.Context, cluster string) (*deploy.Orchestrator, func(), error) {
	gateway, err := a.newGateway(ctx, a.cfg.AWS.ECS(), cluster, a.logger)
	if err != nil {
		return nil, nil, err
	}

	notifier, err := notify.New(a.cfg.Slack.Notify(), a.logger)
	if err != nil {
		return nil, nil, err
	}

	recorder, release := a.recorder()
	orch := deploy.NewOrchestrator(gateway, notifier, a.printer, deploy.Options{
		PollInterval: a.cfg.Deploy.PollInterval,
		Recorder:     recorder,
	}, a.logger)
	return orch, release, nil
}

// recorder builds the configured recorders. A journal that cannot be opened
// is skipped; recording never blocks a deployment.
func (a *app) recorder() (deploy.Recorder, func()) {
	var (
		recorders deploy.MultiRecorder
		journal   *store.SQLiteJournal
	)

	if dsn := a.cfg.Journal.DSN; dsn != "" {
		j, err := store.NewSQLiteJournal(dsn)
		if err != nil {
			a.logger.Warn("journal disabled", "dsn", dsn, "error", err)
		} else {
			journal = j
			recorders = append(recorders, j)
		}
	}
	if a.cfg.Metrics.PushgatewayURL != "" {
		recorders = append(recorders, metrics.NewRecorder(a.cfg.Metrics.Recorder(), a.logger))
	}

	release := func() {
		if journal != nil {
			if err := journal.Close(); err != nil {
				a.logger.Warn("failed to close journal", "error", err)
			}
		}
	}
	return recorders, release
}

// =============================================================================
// Root Command
// =============================================================================

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "ecs",
		Short: "Deploy and scale services on Amazon ECS",
		Long: `ecs deploys new task definition revisions to Amazon ECS services,
waits for the rollout to converge and optionally rolls back on failure.`,
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Path to config file")
	pf.StringVar(&a.aws.Region, "region", "", "AWS region (e.g. eu-central-1)")
	pf.StringVar(&a.aws.Profile, "profile", "", "AWS configuration profile name")
	pf.StringVar(&a.aws.AccessKeyID, "access-key-id", "", "AWS access key id")
	pf.StringVar(&a.aws.SecretAccessKey, "secret-access-key", "", "AWS secret access key")

	root.AddCommand(
		newDeployCmd(a),
		newDeployManyCmd(a),
		newScaleCmd(a),
		newHistoryCmd(a),
	)
	return root
}

// report prints the final line for err.
func (a *app) report(err error) {
	if errors.Is(err, errRolledBack) {
		a.printer.Warn(err.Error())
		return
	}
	a.printer.Error(err.Error())
}
