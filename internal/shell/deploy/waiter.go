package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/artpar/ecs-deploy/internal/core/service"
	"github.com/artpar/ecs-deploy/internal/core/taskdef"
	"github.com/artpar/ecs-deploy/internal/shell/console"
	"github.com/artpar/ecs-deploy/internal/shell/notify"
)

// DefaultPollInterval is the time between two service reads.
const DefaultPollInterval = 30 * time.Second

const eventTimeLayout = "2006-01-02 15:04:05"

// WaitOptions describes one wait for convergence.
type WaitOptions struct {
	Service        string
	Timeout        time.Duration
	Title          string
	SuccessMessage string
	FailureMessage string
	IgnoreWarnings bool

	// TaskDefinition is reported in progress notifications; may be nil.
	TaskDefinition *taskdef.TaskDefinition
}

// Waiter polls a service until it converges, fails or times out.
type Waiter struct {
	gateway  Gateway
	notifier notify.Notifier
	printer  *console.Printer
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger
}

// NewWaiter creates a waiter. Zero interval means DefaultPollInterval.
func NewWaiter(gateway Gateway, notifier notify.Notifier, printer *console.Printer, clk clock.Clock, interval time.Duration, logger *slog.Logger) *Waiter {
	if notifier == nil {
		notifier = notify.NewNoOp()
	}
	if printer == nil {
		printer = console.Discard()
	}
	if clk == nil {
		clk = clock.NewClock()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Waiter{
		gateway:  gateway,
		notifier: notifier,
		printer:  printer,
		clock:    clk,
		interval: interval,
		logger:   logger.With("component", "waiter"),
	}
}

// Wait blocks until the service has converged. It returns the last snapshot
// read and a *PlacementError when warnings were raised or the deadline
// passed first. Remote failures and context cancellation are returned as is,
// and a snapshot without a PRIMARY deployment fails with
// service.ErrNoPrimaryDeployment.
func (w *Waiter) Wait(ctx context.Context, opts WaitOptions) (service.Snapshot, error) {
	w.printer.Print(opts.Title)
	deadline := w.clock.Now().Add(opts.Timeout)

	snap, err := w.fetch(ctx, opts.Service)
	if err != nil {
		return snap, err
	}

	var cursor time.Time
	ref := w.progress(ctx, snap, opts.TaskDefinition, nil)
	polls := 0
	waiting := true

	for waiting && w.clock.Now().Before(deadline) {
		w.printer.Dot()
		polls++

		snap, err = w.fetch(ctx, opts.Service)
		if err != nil {
			return snap, err
		}

		cursor, err = w.inspect(snap, opts, cursor, false)
		if err != nil {
			w.logger.Info("placement failure", "service", opts.Service, "polls", polls)
			return snap, err
		}

		ref = w.progress(ctx, snap, opts.TaskDefinition, ref)

		deployed, err := w.gateway.IsDeployed(ctx, snap)
		if err != nil {
			return snap, err
		}
		waiting = !deployed
		if !waiting {
			break
		}

		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-w.clock.After(w.interval):
		}
	}

	if waiting {
		w.logger.Info("wait timed out", "service", opts.Service, "polls", polls, "timeout", opts.Timeout)
		_, err := w.inspect(snap, opts, cursor, true)
		return snap, err
	}

	w.logger.Debug("service converged", "service", opts.Service, "polls", polls)
	w.printer.Success("\n" + opts.SuccessMessage + "\n")
	return snap, nil
}

// fetch reads the service. A service without a PRIMARY deployment can never
// converge, so it ends the wait instead of running into the timeout.
func (w *Waiter) fetch(ctx context.Context, serviceName string) (service.Snapshot, error) {
	snap, err := w.gateway.FetchService(ctx, serviceName)
	if err != nil {
		return snap, err
	}
	if _, err := snap.Primary(); err != nil {
		w.logger.Warn("service has no primary deployment", "service", serviceName, "deployments", len(snap.Deployments))
		return snap, fmt.Errorf("service %s: %w", serviceName, err)
	}
	return snap, nil
}

// inspect prints warnings raised after since and returns the new cursor.
// With IgnoreWarnings the cursor moves past every printed warning; otherwise
// any warning fails the wait. timedOut always fails.
func (w *Waiter) inspect(snap service.Snapshot, opts WaitOptions, since time.Time, timedOut bool) (time.Time, error) {
	failed := timedOut
	cursor := since

	for _, e := range w.gateway.Warnings(snap, since) {
		w.printer.Println("")
		ts := e.CreatedAt.Format(eventTimeLayout)
		if opts.IgnoreWarnings {
			cursor = e.CreatedAt
			w.printer.Warn(fmt.Sprintf("%s\nWARNING: %s", ts, e.Message))
			w.printer.Print("Continuing.")
			continue
		}
		w.printer.Error(fmt.Sprintf("%s\nERROR: %s\n", ts, e.Message))
		failed = true
	}

	if older := w.gateway.OlderErrors(snap); len(older) > 0 {
		w.printer.Println("")
		w.printer.Println("Older errors")
		for _, e := range older {
			w.printer.Println(fmt.Sprintf("%s\n%s\n", e.CreatedAt.Format(eventTimeLayout), e.Message))
		}
	}

	if timedOut {
		w.printer.Println("")
	}
	if failed {
		return since, &PlacementError{Message: opts.FailureMessage, Timeout: timedOut}
	}
	return cursor, nil
}

// progress reports snap to the notifier. A failed notification keeps the
// previous handle.
func (w *Waiter) progress(ctx context.Context, snap service.Snapshot, td *taskdef.TaskDefinition, prior *notify.Ref) *notify.Ref {
	ref, err := w.notifier.DeployProgress(ctx, snap, td, prior)
	if err != nil {
		w.logger.Warn("failed to send progress notification", "service", snap.Name, "error", err)
		return prior
	}
	return ref
}
