package taskdef

import (
	"fmt"
	"strings"

	"github.com/mitchellh/copystructure"
)

// =============================================================================
// Task Definition Types
// =============================================================================

// TaskDefinition is one revision of an ECS task definition family.
// Revision is assigned by ECS on registration; zero means "not registered".
type TaskDefinition struct {
	Family      string
	Revision    int
	ARN         string
	TaskRoleARN string
	Containers  []Container

	diff []Diff
}

// Container is a single container definition.
type Container struct {
	Name        string
	Image       string
	Command     []string
	Environment []EnvVar
}

// EnvVar is a container environment variable.
type EnvVar struct {
	Name  string
	Value string
}

// FamilyRevision returns the "family:revision" identifier.
func (td *TaskDefinition) FamilyRevision() string {
	return fmt.Sprintf("%s:%d", td.Family, td.Revision)
}

// Registered reports whether ECS has assigned a revision.
func (td *TaskDefinition) Registered() bool {
	return td.Revision > 0
}

// Images returns the container images in definition order.
func (td *TaskDefinition) Images() []string {
	images := make([]string, 0, len(td.Containers))
	for _, c := range td.Containers {
		images = append(images, c.Image)
	}
	return images
}

// Diff returns a copy of the changes applied to this definition so far.
func (td *TaskDefinition) Diff() []Diff {
	out := make([]Diff, len(td.diff))
	copy(out, td.diff)
	return out
}

// Clone returns a deep copy with an empty diff, suitable as a working copy.
func (td *TaskDefinition) Clone() *TaskDefinition {
	c, err := copystructure.Copy(td)
	if err != nil {
		// Only exported plain values live in TaskDefinition; Copy cannot fail on them.
		panic(fmt.Sprintf("taskdef: copy task definition: %v", err))
	}
	clone := c.(*TaskDefinition)
	clone.diff = nil
	return clone
}

// String returns the family:revision identifier.
func (td *TaskDefinition) String() string {
	return td.FamilyRevision()
}

func (td *TaskDefinition) container(name string) *Container {
	for i := range td.Containers {
		if td.Containers[i].Name == name {
			return &td.Containers[i]
		}
	}
	return nil
}

func (td *TaskDefinition) record(d Diff) {
	td.diff = append(td.diff, d)
}

// CommandString renders a command argv as a single line.
func CommandString(argv []string) string {
	return strings.Join(argv, " ")
}
