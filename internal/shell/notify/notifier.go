// Package notify posts deployment lifecycle messages to chat.
// Delivery failures are returned to the caller, who logs and ignores them;
// a notification must never abort a deployment.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/artpar/ecs-deploy/internal/core/service"
	"github.com/artpar/ecs-deploy/internal/core/taskdef"
)

// =============================================================================
// Notifier Interface
// =============================================================================

// Ref identifies a posted message so that progress updates can edit it in
// place instead of appending new messages.
type Ref struct {
	Channel string
	TS      string
}

// Notifier receives deployment lifecycle events.
type Notifier interface {
	// DeployStarted announces a rollout of td to the service.
	DeployStarted(ctx context.Context, snap service.Snapshot, td *taskdef.TaskDefinition) error

	// DeployProgress posts (prior == nil) or edits the progress message.
	// It may return a nil Ref, e.g. when the desired count is zero.
	DeployProgress(ctx context.Context, snap service.Snapshot, td *taskdef.TaskDefinition, prior *Ref) (*Ref, error)

	// DeployFinished announces a converged rollout.
	DeployFinished(ctx context.Context, snap service.Snapshot, td *taskdef.TaskDefinition) error
}

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotConfigured is returned when notifications are enabled without a
	// token or webhook endpoint.
	ErrNotConfigured = errors.New("SLACK_TOKEN or SLACK_WEBHOOK_ENDPOINT must be set")

	ErrDeliveryFailed = errors.New("notification delivery failed")
)

// NotifierError wraps a failed notification.
type NotifierError struct {
	Op  string
	Err error
}

func (e *NotifierError) Error() string {
	return fmt.Sprintf("notify %s: %v", e.Op, e.Err)
}

func (e *NotifierError) Unwrap() error {
	return e.Err
}

// =============================================================================
// No-Op Notifier
// =============================================================================

// NoOp is a notifier that does nothing (muted or not configured).
type NoOp struct{}

// NewNoOp creates a no-op notifier.
func NewNoOp() *NoOp {
	return &NoOp{}
}

// DeployStarted does nothing.
func (NoOp) DeployStarted(ctx context.Context, snap service.Snapshot, td *taskdef.TaskDefinition) error {
	return nil
}

// DeployProgress does nothing.
func (NoOp) DeployProgress(ctx context.Context, snap service.Snapshot, td *taskdef.TaskDefinition, prior *Ref) (*Ref, error) {
	return prior, nil
}

// DeployFinished does nothing.
func (NoOp) DeployFinished(ctx context.Context, snap service.Snapshot, td *taskdef.TaskDefinition) error {
	return nil
}
