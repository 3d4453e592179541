// Package ecs implements the remote gateway to Amazon ECS.
// This is part of the Imperative Shell - handles I/O with the ECS API.
package ecs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"golang.org/x/time/rate"

	"github.com/artpar/ecs-deploy/internal/core/service"
	"github.com/artpar/ecs-deploy/internal/core/taskdef"
)

// describeTasksBatch is the maximum number of tasks DescribeTasks accepts.
const describeTasksBatch = 100

// API is the subset of the ECS client used by Client.
type API interface {
	DescribeTaskDefinition(ctx context.Context, in *ecs.DescribeTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTaskDefinitionOutput, error)
	RegisterTaskDefinition(ctx context.Context, in *ecs.RegisterTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.RegisterTaskDefinitionOutput, error)
	DeregisterTaskDefinition(ctx context.Context, in *ecs.DeregisterTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.DeregisterTaskDefinitionOutput, error)
	DescribeServices(ctx context.Context, in *ecs.DescribeServicesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error)
	UpdateService(ctx context.Context, in *ecs.UpdateServiceInput, optFns ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error)
	ListTasks(ctx context.Context, in *ecs.ListTasksInput, optFns ...func(*ecs.Options)) (*ecs.ListTasksOutput, error)
	DescribeTasks(ctx context.Context, in *ecs.DescribeTasksInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error)
}

// Config holds AWS access configuration.
type Config struct {
	Region          string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string

	// RateLimit is the sustained number of API calls per second shared by all
	// users of one Client. Zero disables pacing.
	RateLimit float64
	Burst     int
}

// Client is a cluster-scoped ECS gateway. It is safe for concurrent use; the
// fan-out workers share one instance.
type Client struct {
	api     API
	cluster string
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Client for cluster, resolving credentials the way the AWS CLI
// does unless static keys are given.
func New(ctx context.Context, cfg Config, cluster string, logger *slog.Logger) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, NewRemoteError("LoadConfig", fmt.Errorf("failed to load AWS configuration: %w", err))
	}

	return NewWithAPI(ecs.NewFromConfig(awsCfg), cluster, newLimiter(cfg), logger), nil
}

// NewWithAPI creates a Client on top of an existing ECS API implementation.
// limiter may be nil.
func NewWithAPI(api API, cluster string, limiter *rate.Limiter, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:     api,
		cluster: cluster,
		limiter: limiter,
		logger:  logger.With("component", "ecs", "cluster", cluster),
		now:     time.Now,
	}
}

func newLimiter(cfg Config) *rate.Limiter {
	if cfg.RateLimit <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
}

// Cluster returns the cluster this client is bound to.
func (c *Client) Cluster() string {
	return c.cluster
}

func (c *Client) wait(ctx context.Context, op string) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return NewRemoteError(op, err)
	}
	return nil
}

// =============================================================================
// Task Definitions
// =============================================================================

// FetchSpec returns a task definition by ARN or family[:revision].
func (c *Client) FetchSpec(ctx context.Context, id string) (*taskdef.TaskDefinition, error) {
	out, err := c.describeTaskDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	return toTaskDefinition(out.TaskDefinition), nil
}

// FetchCurrentSpec returns the task definition the service currently runs.
func (c *Client) FetchCurrentSpec(ctx context.Context, serviceName string) (*taskdef.TaskDefinition, error) {
	svc, err := c.describeService(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	return c.FetchSpec(ctx, aws.ToString(svc.TaskDefinition))
}

// SubmitSpec registers td as a new revision of its family. Fields not modelled
// by taskdef (cpu, memory, volumes, ...) are copied from the revision td was
// derived from.
func (c *Client) SubmitSpec(ctx context.Context, td *taskdef.TaskDefinition) (*taskdef.TaskDefinition, error) {
	base, err := c.describeTaskDefinition(ctx, td.ARN)
	if err != nil {
		return nil, err
	}

	in := registerInput(base.TaskDefinition, base.Tags, td)
	if err := c.wait(ctx, "RegisterTaskDefinition"); err != nil {
		return nil, err
	}
	out, err := c.api.RegisterTaskDefinition(ctx, in)
	if err != nil {
		return nil, NewRemoteError("RegisterTaskDefinition", err)
	}

	created := toTaskDefinition(out.TaskDefinition)
	c.logger.Info("registered task definition", "task_definition", created.FamilyRevision())
	return created, nil
}

// DeregisterSpec marks td as INACTIVE.
func (c *Client) DeregisterSpec(ctx context.Context, td *taskdef.TaskDefinition) error {
	if err := c.wait(ctx, "DeregisterTaskDefinition"); err != nil {
		return err
	}
	_, err := c.api.DeregisterTaskDefinition(ctx, &ecs.DeregisterTaskDefinitionInput{
		TaskDefinition: aws.String(td.ARN),
	})
	if err != nil {
		return NewRemoteError("DeregisterTaskDefinition", err)
	}
	c.logger.Info("deregistered task definition", "task_definition", td.FamilyRevision())
	return nil
}

func (c *Client) describeTaskDefinition(ctx context.Context, id string) (*ecs.DescribeTaskDefinitionOutput, error) {
	if err := c.wait(ctx, "DescribeTaskDefinition"); err != nil {
		return nil, err
	}
	out, err := c.api.DescribeTaskDefinition(ctx, &ecs.DescribeTaskDefinitionInput{
		TaskDefinition: aws.String(id),
		Include:        []ecstypes.TaskDefinitionField{ecstypes.TaskDefinitionFieldTags},
	})
	if err != nil {
		return nil, NewRemoteError("DescribeTaskDefinition", err)
	}
	if out.TaskDefinition == nil {
		return nil, notFound("DescribeTaskDefinition", fmt.Sprintf("task definition %s not found", id))
	}
	return out, nil
}

// =============================================================================
// Services
// =============================================================================

// Deploy points the service at td. force recycles running tasks even when the
// task definition is unchanged.
func (c *Client) Deploy(ctx context.Context, serviceName string, td *taskdef.TaskDefinition, force bool) error {
	if err := c.wait(ctx, "UpdateService"); err != nil {
		return err
	}
	_, err := c.api.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:            aws.String(c.cluster),
		Service:            aws.String(serviceName),
		TaskDefinition:     aws.String(td.ARN),
		ForceNewDeployment: force,
	})
	if err != nil {
		return NewRemoteError("UpdateService", err)
	}
	c.logger.Debug("updated service", "service", serviceName, "task_definition", td.FamilyRevision(), "force", force)
	return nil
}

// Scale changes the desired count of the service.
func (c *Client) Scale(ctx context.Context, serviceName string, desiredCount int) error {
	if err := c.wait(ctx, "UpdateService"); err != nil {
		return err
	}
	_, err := c.api.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:      aws.String(c.cluster),
		Service:      aws.String(serviceName),
		DesiredCount: aws.Int32(int32(desiredCount)),
	})
	if err != nil {
		return NewRemoteError("UpdateService", err)
	}
	c.logger.Debug("scaled service", "service", serviceName, "desired_count", desiredCount)
	return nil
}

// FetchService takes a snapshot of the service.
func (c *Client) FetchService(ctx context.Context, serviceName string) (service.Snapshot, error) {
	svc, err := c.describeService(ctx, serviceName)
	if err != nil {
		return service.Snapshot{}, err
	}
	return toSnapshot(c.cluster, svc, c.now()), nil
}

// IsDeployed reports whether the PRIMARY deployment has converged and the
// expected number of tasks of its task definition are actually RUNNING.
func (c *Client) IsDeployed(ctx context.Context, snap service.Snapshot) (bool, error) {
	if !snap.IsConverged() {
		return false, nil
	}

	arns, err := c.listRunningTasks(ctx, snap.Name)
	if err != nil {
		return false, err
	}
	if len(arns) == 0 {
		return snap.DesiredCount == 0, nil
	}

	running := 0
	for start := 0; start < len(arns); start += describeTasksBatch {
		end := min(start+describeTasksBatch, len(arns))
		if err := c.wait(ctx, "DescribeTasks"); err != nil {
			return false, err
		}
		out, err := c.api.DescribeTasks(ctx, &ecs.DescribeTasksInput{
			Cluster: aws.String(c.cluster),
			Tasks:   arns[start:end],
		})
		if err != nil {
			return false, NewRemoteError("DescribeTasks", err)
		}
		for _, task := range out.Tasks {
			if aws.ToString(task.TaskDefinitionArn) == snap.TaskDefinitionARN &&
				aws.ToString(task.LastStatus) == "RUNNING" {
				running++
			}
		}
	}
	return running == snap.DesiredCount, nil
}

// Warnings returns placement warnings newer than since.
func (c *Client) Warnings(snap service.Snapshot, since time.Time) []service.Event {
	return snap.Warnings(since)
}

// OlderErrors returns placement warnings raised before the last update of the
// PRIMARY deployment.
func (c *Client) OlderErrors(snap service.Snapshot) []service.Event {
	return snap.OlderErrors()
}

func (c *Client) describeService(ctx context.Context, serviceName string) (*ecstypes.Service, error) {
	if err := c.wait(ctx, "DescribeServices"); err != nil {
		return nil, err
	}
	out, err := c.api.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(c.cluster),
		Services: []string{serviceName},
	})
	if err != nil {
		return nil, NewRemoteError("DescribeServices", err)
	}
	if len(out.Failures) > 0 {
		f := out.Failures[0]
		return nil, notFound("DescribeServices", fmt.Sprintf("service %s in cluster %s: %s",
			serviceName, c.cluster, aws.ToString(f.Reason)))
	}
	if len(out.Services) == 0 {
		return nil, notFound("DescribeServices", fmt.Sprintf("service %s not found in cluster %s", serviceName, c.cluster))
	}
	return &out.Services[0], nil
}

func (c *Client) listRunningTasks(ctx context.Context, serviceName string) ([]string, error) {
	paginator := ecs.NewListTasksPaginator(c.api, &ecs.ListTasksInput{
		Cluster:       aws.String(c.cluster),
		ServiceName:   aws.String(serviceName),
		DesiredStatus: ecstypes.DesiredStatusRunning,
	})

	var arns []string
	for paginator.HasMorePages() {
		if err := c.wait(ctx, "ListTasks"); err != nil {
			return nil, err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, NewRemoteError("ListTasks", err)
		}
		arns = append(arns, page.TaskArns...)
	}
	return arns, nil
}
