package ecs

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"github.com/artpar/ecs-deploy/internal/core/service"
	"github.com/artpar/ecs-deploy/internal/core/taskdef"
)

// =============================================================================
// ECS -> core
// =============================================================================

func toTaskDefinition(in *ecstypes.TaskDefinition) *taskdef.TaskDefinition {
	td := &taskdef.TaskDefinition{
		Family:      aws.ToString(in.Family),
		Revision:    int(in.Revision),
		ARN:         aws.ToString(in.TaskDefinitionArn),
		TaskRoleARN: aws.ToString(in.TaskRoleArn),
	}
	for _, cd := range in.ContainerDefinitions {
		c := taskdef.Container{
			Name:    aws.ToString(cd.Name),
			Image:   aws.ToString(cd.Image),
			Command: cd.Command,
		}
		for _, kv := range cd.Environment {
			c.Environment = append(c.Environment, taskdef.EnvVar{
				Name:  aws.ToString(kv.Name),
				Value: aws.ToString(kv.Value),
			})
		}
		td.Containers = append(td.Containers, c)
	}
	return td
}

func toSnapshot(cluster string, svc *ecstypes.Service, fetchedAt time.Time) service.Snapshot {
	snap := service.Snapshot{
		Cluster:           cluster,
		Name:              aws.ToString(svc.ServiceName),
		Status:            aws.ToString(svc.Status),
		TaskDefinitionARN: aws.ToString(svc.TaskDefinition),
		DesiredCount:      int(svc.DesiredCount),
		FetchedAt:         fetchedAt,
	}
	for _, d := range svc.Deployments {
		snap.Deployments = append(snap.Deployments, service.Deployment{
			ID:                aws.ToString(d.Id),
			Status:            service.DeploymentStatus(aws.ToString(d.Status)),
			TaskDefinitionARN: aws.ToString(d.TaskDefinition),
			DesiredCount:      int(d.DesiredCount),
			RunningCount:      int(d.RunningCount),
			PendingCount:      int(d.PendingCount),
			CreatedAt:         aws.ToTime(d.CreatedAt),
			UpdatedAt:         aws.ToTime(d.UpdatedAt),
		})
	}
	for _, e := range svc.Events {
		snap.Events = append(snap.Events, service.Event{
			ID:        aws.ToString(e.Id),
			CreatedAt: aws.ToTime(e.CreatedAt),
			Message:   aws.ToString(e.Message),
		})
	}
	return service.NewSnapshot(snap)
}

// =============================================================================
// core -> ECS
// =============================================================================

// registerInput copies base and overlays the fields modelled by taskdef.
func registerInput(base *ecstypes.TaskDefinition, tags []ecstypes.Tag, td *taskdef.TaskDefinition) *ecs.RegisterTaskDefinitionInput {
	in := &ecs.RegisterTaskDefinitionInput{
		Family:                  base.Family,
		Cpu:                     base.Cpu,
		Memory:                  base.Memory,
		NetworkMode:             base.NetworkMode,
		ExecutionRoleArn:        base.ExecutionRoleArn,
		Volumes:                 base.Volumes,
		PlacementConstraints:    base.PlacementConstraints,
		RequiresCompatibilities: base.RequiresCompatibilities,
		PidMode:                 base.PidMode,
		IpcMode:                 base.IpcMode,
		ProxyConfiguration:      base.ProxyConfiguration,
		InferenceAccelerators:   base.InferenceAccelerators,
		EphemeralStorage:        base.EphemeralStorage,
		RuntimePlatform:         base.RuntimePlatform,
		TaskRoleArn:             base.TaskRoleArn,
	}
	if len(tags) > 0 {
		in.Tags = tags
	}
	if td.TaskRoleARN != "" {
		in.TaskRoleArn = aws.String(td.TaskRoleARN)
	}

	for _, cd := range base.ContainerDefinitions {
		for _, c := range td.Containers {
			if c.Name != aws.ToString(cd.Name) {
				continue
			}
			cd.Image = aws.String(c.Image)
			cd.Command = c.Command
			cd.Environment = toKeyValuePairs(c.Environment)
		}
		in.ContainerDefinitions = append(in.ContainerDefinitions, cd)
	}
	return in
}

func toKeyValuePairs(env []taskdef.EnvVar) []ecstypes.KeyValuePair {
	if len(env) == 0 {
		return nil
	}
	out := make([]ecstypes.KeyValuePair, 0, len(env))
	for _, e := range env {
		out = append(out, ecstypes.KeyValuePair{Name: aws.String(e.Name), Value: aws.String(e.Value)})
	}
	return out
}
