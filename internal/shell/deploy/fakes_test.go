package deploy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/ecs-deploy/internal/core/service"
	"github.com/artpar/ecs-deploy/internal/core/taskdef"
	"github.com/artpar/ecs-deploy/internal/shell/console"
	"github.com/artpar/ecs-deploy/internal/shell/notify"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPrinter() (*console.Printer, *bytes.Buffer) {
	var buf bytes.Buffer
	return console.New(&buf), &buf
}

// =============================================================================
// Snapshot Builders
// =============================================================================

// rolling is a service with a new PRIMARY deployment still starting while the
// previous one drains.
func rolling(created time.Time) service.Snapshot {
	return service.NewSnapshot(service.Snapshot{
		Cluster:      "prod",
		Name:         "web",
		DesiredCount: 2,
		Deployments: []service.Deployment{
			{ID: "d-new", Status: service.StatusPrimary, DesiredCount: 2, RunningCount: 1, PendingCount: 1, CreatedAt: created, UpdatedAt: created},
			{ID: "d-old", Status: service.StatusActive, DesiredCount: 2, RunningCount: 1},
		},
		FetchedAt: created.Add(10 * time.Minute),
	})
}

// converged is a service with a single healthy PRIMARY deployment.
func converged(created time.Time) service.Snapshot {
	return service.NewSnapshot(service.Snapshot{
		Cluster:      "prod",
		Name:         "web",
		DesiredCount: 2,
		Deployments: []service.Deployment{
			{ID: "d-new", Status: service.StatusPrimary, DesiredCount: 2, RunningCount: 2, CreatedAt: created, UpdatedAt: created},
		},
		FetchedAt: created.Add(10 * time.Minute),
	})
}

func withEvents(s service.Snapshot, events ...service.Event) service.Snapshot {
	s.Events = append(append([]service.Event(nil), s.Events...), events...)
	return service.NewSnapshot(s)
}

func placementEvent(at time.Time, id string) service.Event {
	return service.Event{
		ID:        id,
		CreatedAt: at,
		Message:   "(service web) was unable to place a task because no container instance met all of its requirements.",
	}
}

func webTaskDefinition(revision int) *taskdef.TaskDefinition {
	return &taskdef.TaskDefinition{
		Family:   "web",
		Revision: revision,
		ARN:      fmt.Sprintf("arn:aws:ecs:us-west-2:123456789012:task-definition/web:%d", revision),
		Containers: []taskdef.Container{
			{Name: "app", Image: "registry.example.com/web:v1", Command: []string{"serve"}},
			{Name: "sidecar", Image: "registry.example.com/proxy:v1"},
		},
	}
}

// =============================================================================
// Fake Gateway
// =============================================================================

type deployCall struct {
	Service string
	ARN     string
	Force   bool
}

// fakeGateway serves scripted snapshots: every FetchService returns the next
// one and the last one repeats.
type fakeGateway struct {
	mu sync.Mutex

	current   *taskdef.TaskDefinition
	snapshots []service.Snapshot
	fetches   int
	nextRev   int

	submitted    []*taskdef.TaskDefinition
	deployed     []deployCall
	deregistered []string
	scaled       []int

	fetchErr    error
	deployErr   error
	submitErr   error
	isDeployErr error
}

func newFakeGateway(current *taskdef.TaskDefinition, snapshots ...service.Snapshot) *fakeGateway {
	return &fakeGateway{current: current, snapshots: snapshots, nextRev: current.Revision + 1}
}

var _ Gateway = (*fakeGateway)(nil)

func (g *fakeGateway) Cluster() string { return "prod" }

func (g *fakeGateway) FetchSpec(ctx context.Context, id string) (*taskdef.TaskDefinition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	return g.current.Clone(), nil
}

func (g *fakeGateway) FetchCurrentSpec(ctx context.Context, serviceName string) (*taskdef.TaskDefinition, error) {
	return g.FetchSpec(ctx, serviceName)
}

func (g *fakeGateway) SubmitSpec(ctx context.Context, td *taskdef.TaskDefinition) (*taskdef.TaskDefinition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return nil, g.submitErr
	}
	registered := td.Clone()
	registered.Revision = g.nextRev
	registered.ARN = fmt.Sprintf("arn:aws:ecs:us-west-2:123456789012:task-definition/%s:%d", td.Family, g.nextRev)
	g.nextRev++
	g.submitted = append(g.submitted, registered)
	return registered, nil
}

func (g *fakeGateway) DeregisterSpec(ctx context.Context, td *taskdef.TaskDefinition) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deregistered = append(g.deregistered, td.FamilyRevision())
	return nil
}

func (g *fakeGateway) Deploy(ctx context.Context, serviceName string, td *taskdef.TaskDefinition, force bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deployErr != nil {
		return g.deployErr
	}
	g.deployed = append(g.deployed, deployCall{Service: serviceName, ARN: td.ARN, Force: force})
	return nil
}

func (g *fakeGateway) Scale(ctx context.Context, serviceName string, desiredCount int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scaled = append(g.scaled, desiredCount)
	return nil
}

func (g *fakeGateway) FetchService(ctx context.Context, serviceName string) (service.Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := min(g.fetches, len(g.snapshots)-1)
	g.fetches++
	return g.snapshots[i], nil
}

func (g *fakeGateway) IsDeployed(ctx context.Context, snap service.Snapshot) (bool, error) {
	if g.isDeployErr != nil {
		return false, g.isDeployErr
	}
	return snap.IsConverged(), nil
}

func (g *fakeGateway) Warnings(snap service.Snapshot, since time.Time) []service.Event {
	return snap.Warnings(since)
}

func (g *fakeGateway) OlderErrors(snap service.Snapshot) []service.Event {
	return snap.OlderErrors()
}

func (g *fakeGateway) fetchCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetches
}

// =============================================================================
// Fake Notifier
// =============================================================================

type fakeNotifier struct {
	mu       sync.Mutex
	started  int
	finished int
	priors   []*notify.Ref
	err      error
}

var _ notify.Notifier = (*fakeNotifier)(nil)

func (n *fakeNotifier) DeployStarted(ctx context.Context, snap service.Snapshot, td *taskdef.TaskDefinition) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started++
	return n.err
}

func (n *fakeNotifier) DeployProgress(ctx context.Context, snap service.Snapshot, td *taskdef.TaskDefinition, prior *notify.Ref) (*notify.Ref, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.priors = append(n.priors, prior)
	if n.err != nil {
		return nil, n.err
	}
	return &notify.Ref{Channel: "C1", TS: fmt.Sprintf("%d", len(n.priors))}, nil
}

func (n *fakeNotifier) DeployFinished(ctx context.Context, snap service.Snapshot, td *taskdef.TaskDefinition) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished++
	return n.err
}

// =============================================================================
// Fake Recorder
// =============================================================================

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
	err      error
}

func (r *fakeRecorder) Record(ctx context.Context, outcome Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
	return r.err
}
