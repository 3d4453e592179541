package store

import (
	"context"
	"time"

	"github.com/artpar/ecs-deploy/internal/core/taskdef"
	"github.com/artpar/ecs-deploy/internal/shell/deploy"
)

// =============================================================================
// Journal Interface
// =============================================================================

// Journal records the outcome of every deploy and scale run.
// It satisfies deploy.Recorder.
type Journal interface {
	Record(ctx context.Context, outcome deploy.Outcome) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter, opts ListOptions) ([]Run, error)

	// Lifecycle
	Close() error
}

var _ deploy.Recorder = Journal(nil)

// Run is one journal entry.
type Run struct {
	RunID            string
	Action           deploy.Action
	Cluster          string
	Service          string
	Status           deploy.Status
	Revision         int
	FamilyRevision   string
	PreviousRevision string
	DesiredCount     int
	Changes          []taskdef.Diff
	Comment          string
	User             string
	Error            string
	StartedAt        time.Time
	FinishedAt       time.Time
}

// RunFilter narrows ListRuns. Empty fields match everything.
type RunFilter struct {
	Cluster string
	Service string
	Status  deploy.Status
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  20,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
