// Package deploy drives a service from its current task definition to a new
// one: it mutates and registers the definition, updates the service, waits
// for convergence and rolls back on placement failures.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"

	"github.com/artpar/ecs-deploy/internal/core/service"
	"github.com/artpar/ecs-deploy/internal/core/taskdef"
	"github.com/artpar/ecs-deploy/internal/shell/console"
	"github.com/artpar/ecs-deploy/internal/shell/notify"
)

// DefaultTimeout bounds a single wait for convergence.
const DefaultTimeout = 900 * time.Second

// =============================================================================
// Requests and Outcomes
// =============================================================================

// Request describes one deployment of a service.
type Request struct {
	Service string

	// TaskDefinition is an explicit family, family:revision or ARN to deploy
	// from. Empty means the service's current definition.
	TaskDefinition string

	Overrides          taskdef.Overrides
	Timeout            time.Duration
	IgnoreWarnings     bool
	ShowDiff           bool
	Deregister         bool
	Rollback           bool
	ForceNewDeployment bool

	Comment string
	User    string
}

// ScaleRequest describes a change of a service's desired count.
type ScaleRequest struct {
	Service        string
	DesiredCount   int
	Timeout        time.Duration
	IgnoreWarnings bool
}

// Status is the final state of a run.
type Status string

const (
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// Action names the kind of run.
type Action string

const (
	ActionDeploy Action = "deploy"
	ActionScale  Action = "scale"
)

// Outcome is the result of a deploy or scale run.
type Outcome struct {
	RunID   string
	Action  Action
	Cluster string
	Service string
	Status  Status

	// Revision is the revision the service runs after the run: the new
	// revision on success, the original one after a rollback.
	Revision         int
	FamilyRevision   string
	PreviousRevision string
	DesiredCount     int
	Diff             []taskdef.Diff

	Comment string
	User    string

	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the wall time of the run.
func (o Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// =============================================================================
// Orchestrator
// =============================================================================

// Options configures an Orchestrator.
type Options struct {
	PollInterval time.Duration
	Clock        clock.Clock
	Recorder     Recorder
}

// Orchestrator runs deployments against one cluster.
type Orchestrator struct {
	gateway  Gateway
	notifier notify.Notifier
	printer  *console.Printer
	waiter   *Waiter
	recorder Recorder
	clock    clock.Clock
	interval time.Duration
	base     *slog.Logger
	logger   *slog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(gateway Gateway, notifier notify.Notifier, printer *console.Printer, opts Options, logger *slog.Logger) *Orchestrator {
	if notifier == nil {
		notifier = notify.NewNoOp()
	}
	if printer == nil {
		printer = console.Discard()
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewClock()
	}
	if opts.Recorder == nil {
		opts.Recorder = NoOpRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		gateway:  gateway,
		notifier: notifier,
		printer:  printer,
		waiter:   NewWaiter(gateway, notifier, printer, opts.Clock, opts.PollInterval, logger),
		recorder: opts.Recorder,
		clock:    opts.Clock,
		interval: opts.PollInterval,
		base:     logger,
		logger:   logger.With("component", "orchestrator"),
	}
}

// WithPrinter returns a copy of the orchestrator writing to printer.
func (o *Orchestrator) WithPrinter(printer *console.Printer) *Orchestrator {
	c := *o
	c.printer = printer
	c.waiter = NewWaiter(o.gateway, o.notifier, printer, o.clock, o.interval, o.base)
	return &c
}

// =============================================================================
// Deploy
// =============================================================================

// Deploy rolls the service out to its task definition with req.Overrides
// applied. On a placement failure with req.Rollback set, the original
// definition is redeployed and the outcome is StatusRolledBack; the returned
// error is still the placement error.
func (o *Orchestrator) Deploy(ctx context.Context, req Request) (Outcome, error) {
	out := o.begin(ActionDeploy, req.Service)
	out.Comment = req.Comment
	out.User = req.User

	err := o.deploy(ctx, req, &out)
	return o.finish(ctx, out, err), err
}

func (o *Orchestrator) deploy(ctx context.Context, req Request, out *Outcome) error {
	if req.Service == "" {
		return fmt.Errorf("%w: service is required", ErrInvalidRequest)
	}
	if req.Timeout <= 0 {
		req.Timeout = DefaultTimeout
	}

	// 1. Resolve the definition to start from
	current, err := o.resolve(ctx, req)
	if err != nil {
		return err
	}
	out.PreviousRevision = current.FamilyRevision()
	out.Revision = current.Revision
	out.FamilyRevision = current.FamilyRevision()

	// 2. Mutate a working copy; configuration errors stop here
	working := current.Clone()
	if err := working.Apply(req.Overrides); err != nil {
		return err
	}
	out.Diff = working.Diff()

	// 3. Register a new revision only when something changed
	target := current
	created := false
	if len(out.Diff) > 0 {
		if req.ShowDiff {
			o.printDiff(out.Diff)
		}
		o.printer.Println("Creating new task definition revision")
		target, err = o.gateway.SubmitSpec(ctx, working)
		if err != nil {
			return err
		}
		o.printer.Success(fmt.Sprintf("Successfully created revision: %d\n", target.Revision))
		created = true
	}
	out.Revision = target.Revision
	out.FamilyRevision = target.FamilyRevision()

	o.logger.Info("deploying task definition",
		"cluster", o.gateway.Cluster(),
		"service", req.Service,
		"task_definition", target.FamilyRevision(),
		"changes", len(out.Diff),
	)

	// 4. Roll out and wait
	p := phase{
		service:        req.Service,
		target:         target,
		force:          req.ForceNewDeployment || !created,
		timeout:        req.Timeout,
		ignoreWarnings: req.IgnoreWarnings,
		title:          "Deploying new task definition",
		success:        "Deployment successful",
		failure:        "Deployment failed",
	}
	if req.Deregister && created {
		p.superseded = current
	}

	err = o.rollout(ctx, p)
	if err == nil || !IsPlacementError(err) || !req.Rollback {
		return err
	}

	// 5. Roll back to the original definition
	o.printer.Error(err.Error() + "\n")
	if rbErr := o.rollback(ctx, req, current, target); rbErr != nil {
		return fmt.Errorf("rollback to %s failed: %w", current.FamilyRevision(), rbErr)
	}
	out.Status = StatusRolledBack
	out.Revision = current.Revision
	out.FamilyRevision = current.FamilyRevision()
	return err
}

func (o *Orchestrator) resolve(ctx context.Context, req Request) (*taskdef.TaskDefinition, error) {
	var (
		td  *taskdef.TaskDefinition
		err error
	)
	label := req.TaskDefinition
	if req.TaskDefinition != "" {
		td, err = o.gateway.FetchSpec(ctx, req.TaskDefinition)
	} else {
		td, err = o.gateway.FetchCurrentSpec(ctx, req.Service)
		if td != nil {
			label = td.FamilyRevision()
		}
	}
	if err != nil {
		return nil, err
	}
	o.printer.Printf("Deploying based on task definition: %s\n", label)
	return td, nil
}

// rollback redeploys original after failed did not converge. It never
// triggers another rollback and always deregisters the failed revision when
// that is a distinct registered definition.
func (o *Orchestrator) rollback(ctx context.Context, req Request, original, failed *taskdef.TaskDefinition) error {
	o.printer.Warn(fmt.Sprintf("Rolling back to task definition: %s\n", original.FamilyRevision()))
	o.logger.Warn("rolling back",
		"service", req.Service,
		"failed", failed.FamilyRevision(),
		"target", original.FamilyRevision(),
	)

	p := phase{
		service: req.Service,
		target:  original,
		timeout: req.Timeout,
		title:   "Deploying previous task definition",
		success: "Rollback successful",
		failure: "Rollback failed. Please check ECS Console",
	}
	if failed.ARN != original.ARN && failed.Registered() {
		p.superseded = failed
	}

	if err := o.rollout(ctx, p); err != nil {
		return err
	}
	o.printer.Warn(fmt.Sprintf("Deployment failed, but service has been rolled back to previous task definition: %s\n",
		original.FamilyRevision()))
	return nil
}

// phase is one rollout of a task definition to a service.
type phase struct {
	service string
	target  *taskdef.TaskDefinition

	// superseded is deregistered after a successful rollout; nil keeps it.
	superseded *taskdef.TaskDefinition

	force          bool
	timeout        time.Duration
	ignoreWarnings bool

	title   string
	success string
	failure string
}

func (o *Orchestrator) rollout(ctx context.Context, p phase) error {
	o.printer.Println("Updating service")
	o.notifyStarted(ctx, service.Snapshot{Cluster: o.gateway.Cluster(), Name: p.service}, p.target)

	if err := o.gateway.Deploy(ctx, p.service, p.target, p.force); err != nil {
		return err
	}
	o.printer.Success(fmt.Sprintf("Successfully changed task definition to: %s\n", p.target.FamilyRevision()))

	snap, err := o.waiter.Wait(ctx, WaitOptions{
		Service:        p.service,
		Timeout:        p.timeout,
		Title:          p.title,
		SuccessMessage: p.success,
		FailureMessage: p.failure,
		IgnoreWarnings: p.ignoreWarnings,
		TaskDefinition: p.target,
	})
	if err != nil {
		return err
	}

	o.notifyFinished(ctx, snap, p.target)

	if p.superseded != nil {
		o.printer.Println("Deregister task definition revision")
		if err := o.gateway.DeregisterSpec(ctx, p.superseded); err != nil {
			return err
		}
		o.printer.Success(fmt.Sprintf("Successfully deregistered revision: %d\n", p.superseded.Revision))
	}
	return nil
}

func (o *Orchestrator) printDiff(diff []taskdef.Diff) {
	o.printer.Println("Updating task definition")
	for _, d := range diff {
		o.printer.Diff(d.String())
	}
	o.printer.Println("")
}

// =============================================================================
// Scale
// =============================================================================

// Scale changes the desired count of a service and waits for it to settle.
func (o *Orchestrator) Scale(ctx context.Context, req ScaleRequest) (Outcome, error) {
	out := o.begin(ActionScale, req.Service)
	out.DesiredCount = req.DesiredCount

	err := o.scale(ctx, req)
	return o.finish(ctx, out, err), err
}

func (o *Orchestrator) scale(ctx context.Context, req ScaleRequest) error {
	if req.Service == "" {
		return fmt.Errorf("%w: service is required", ErrInvalidRequest)
	}
	if req.DesiredCount < 0 {
		return fmt.Errorf("%w: desired count must not be negative", ErrInvalidRequest)
	}
	if req.Timeout <= 0 {
		req.Timeout = DefaultTimeout
	}

	o.printer.Println("Updating service")
	if err := o.gateway.Scale(ctx, req.Service, req.DesiredCount); err != nil {
		return err
	}
	o.printer.Success(fmt.Sprintf("Successfully changed desired count to: %d\n", req.DesiredCount))

	_, err := o.waiter.Wait(ctx, WaitOptions{
		Service:        req.Service,
		Timeout:        req.Timeout,
		Title:          "Scaling service",
		SuccessMessage: "Scaling successful",
		FailureMessage: "Scaling failed",
		IgnoreWarnings: req.IgnoreWarnings,
	})
	return err
}

// =============================================================================
// Helpers
// =============================================================================

func (o *Orchestrator) begin(action Action, serviceName string) Outcome {
	return Outcome{
		RunID:     uuid.NewString(),
		Action:    action,
		Cluster:   o.gateway.Cluster(),
		Service:   serviceName,
		StartedAt: o.clock.Now(),
	}
}

func (o *Orchestrator) finish(ctx context.Context, out Outcome, err error) Outcome {
	out.FinishedAt = o.clock.Now()
	out.Err = err
	switch {
	case out.Status == StatusRolledBack:
	case err != nil:
		out.Status = StatusFailed
	default:
		out.Status = StatusSucceeded
	}

	o.logger.Info("run finished",
		"run_id", out.RunID,
		"action", out.Action,
		"cluster", out.Cluster,
		"service", out.Service,
		"status", out.Status,
		"task_definition", out.FamilyRevision,
		"duration", out.Duration(),
	)

	// Recording must not change the result of the run.
	recordCtx := context.WithoutCancel(ctx)
	if rerr := o.recorder.Record(recordCtx, out); rerr != nil {
		o.logger.Warn("failed to record outcome", "run_id", out.RunID, "error", rerr)
	}
	return out
}

func (o *Orchestrator) notifyStarted(ctx context.Context, snap service.Snapshot, td *taskdef.TaskDefinition) {
	if err := o.notifier.DeployStarted(ctx, snap, td); err != nil {
		o.logger.Warn("failed to send start notification", "service", snap.Name, "error", err)
	}
}

func (o *Orchestrator) notifyFinished(ctx context.Context, snap service.Snapshot, td *taskdef.TaskDefinition) {
	if err := o.notifier.DeployFinished(ctx, snap, td); err != nil {
		o.logger.Warn("failed to send finish notification", "service", snap.Name, "error", err)
	}
}

// IsConfigurationError reports whether err was caused by invalid overrides or
// an invalid request.
func IsConfigurationError(err error) bool {
	var ce *taskdef.ConfigurationError
	return errors.As(err, &ce) || errors.Is(err, ErrInvalidRequest)
}
