package taskdef

import "fmt"

// Field names used in Diff entries.
const (
	FieldImage       = "image"
	FieldCommand     = "command"
	FieldEnvironment = "environment"
	FieldTaskRoleARN = "task_role_arn"
)

// Diff is a single changed field of a task definition.
type Diff struct {
	Container string // empty for task-level fields
	Field     string
	Key       string // environment variable name
	OldValue  string
	NewValue  string
}

// Path returns the field path, e.g. "containers[app].image".
func (d Diff) Path() string {
	if d.Container == "" {
		return d.Field
	}
	if d.Key != "" {
		return fmt.Sprintf("containers[%s].%s[%s]", d.Container, d.Field, d.Key)
	}
	return fmt.Sprintf("containers[%s].%s", d.Container, d.Field)
}

func (d Diff) String() string {
	return fmt.Sprintf("Changed %s to: %q (was: %q)", d.Path(), d.NewValue, d.OldValue)
}
