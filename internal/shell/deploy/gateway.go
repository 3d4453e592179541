package deploy

import (
	"context"
	"time"

	"github.com/artpar/ecs-deploy/internal/core/service"
	"github.com/artpar/ecs-deploy/internal/core/taskdef"
)

// Gateway is the set of remote operations a deployment needs. It is scoped
// to one cluster and must be safe for concurrent use.
type Gateway interface {
	Cluster() string

	FetchSpec(ctx context.Context, id string) (*taskdef.TaskDefinition, error)
	FetchCurrentSpec(ctx context.Context, serviceName string) (*taskdef.TaskDefinition, error)
	SubmitSpec(ctx context.Context, td *taskdef.TaskDefinition) (*taskdef.TaskDefinition, error)
	DeregisterSpec(ctx context.Context, td *taskdef.TaskDefinition) error

	Deploy(ctx context.Context, serviceName string, td *taskdef.TaskDefinition, force bool) error
	Scale(ctx context.Context, serviceName string, desiredCount int) error

	FetchService(ctx context.Context, serviceName string) (service.Snapshot, error)
	IsDeployed(ctx context.Context, snap service.Snapshot) (bool, error)
	Warnings(snap service.Snapshot, since time.Time) []service.Event
	OlderErrors(snap service.Snapshot) []service.Event
}
