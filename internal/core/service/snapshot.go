// Package service contains the pure model of an observed ECS service.
// This is part of the Functional Core - all functions are pure with no I/O.
package service

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// Snapshot Types
// =============================================================================

// DeploymentStatus is the ECS status of a deployment record.
type DeploymentStatus string

const (
	StatusPrimary  DeploymentStatus = "PRIMARY"
	StatusActive   DeploymentStatus = "ACTIVE"
	StatusInactive DeploymentStatus = "INACTIVE"
)

// ErrNoPrimaryDeployment is returned when a snapshot has no PRIMARY record.
var ErrNoPrimaryDeployment = errors.New("service has no PRIMARY deployment")

// Snapshot is a point-in-time read of a service. Every poll produces a new
// Snapshot; existing ones are never modified.
type Snapshot struct {
	Cluster           string
	Name              string
	Status            string
	TaskDefinitionARN string
	DesiredCount      int
	Deployments       []Deployment
	Events            []Event // ascending by CreatedAt
	FetchedAt         time.Time
}

// Deployment is one deployment record of a service.
type Deployment struct {
	ID                string
	Status            DeploymentStatus
	TaskDefinitionARN string
	DesiredCount      int
	RunningCount      int
	PendingCount      int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Event is a service event message.
type Event struct {
	ID        string
	CreatedAt time.Time
	Message   string
}

// NewSnapshot builds a snapshot with events sorted by time.
func NewSnapshot(s Snapshot) Snapshot {
	events := make([]Event, len(s.Events))
	copy(events, s.Events)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	s.Events = events
	return s
}

// =============================================================================
// Queries
// =============================================================================

// Primary returns the PRIMARY deployment record.
func (s Snapshot) Primary() (Deployment, error) {
	for _, d := range s.Deployments {
		if d.Status == StatusPrimary {
			return d, nil
		}
	}
	return Deployment{}, ErrNoPrimaryDeployment
}

// Active returns the ACTIVE records that are still being drained.
func (s Snapshot) Active() []Deployment {
	var out []Deployment
	for _, d := range s.Deployments {
		if d.Status == StatusActive {
			out = append(out, d)
		}
	}
	return out
}

// IsConverged reports whether the PRIMARY deployment is the only one left and
// all of its desired tasks are running.
func (s Snapshot) IsConverged() bool {
	if len(s.Deployments) != 1 {
		return false
	}
	primary, err := s.Primary()
	if err != nil {
		return false
	}
	return primary.RunningCount == primary.DesiredCount && primary.PendingCount == 0
}

// Warnings returns placement warnings strictly after since and before the
// time the snapshot was taken. A zero since means the creation of the
// PRIMARY deployment.
func (s Snapshot) Warnings(since time.Time) []Event {
	if since.IsZero() {
		primary, _ := s.Primary()
		since = primary.CreatedAt
	}
	until := s.FetchedAt
	if until.IsZero() {
		until = time.Now()
	}
	return s.warningsBetween(since, until)
}

// OlderErrors returns warnings raised between creation and the last update of
// the PRIMARY deployment.
func (s Snapshot) OlderErrors() []Event {
	primary, err := s.Primary()
	if err != nil {
		return nil
	}
	return s.warningsBetween(primary.CreatedAt, primary.UpdatedAt)
}

func (s Snapshot) warningsBetween(since, until time.Time) []Event {
	var out []Event
	for _, e := range s.Events {
		if !IsPlacementWarning(e.Message) {
			continue
		}
		if e.CreatedAt.After(since) && e.CreatedAt.Before(until) {
			out = append(out, e)
		}
	}
	return out
}

// IsPlacementWarning reports whether an event message describes a failure
// to place or start tasks ("was unable to place a task ...").
func IsPlacementWarning(message string) bool {
	return strings.Contains(message, "unable")
}
