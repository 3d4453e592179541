// Package taskdef provides the pure task definition model and its mutation/diff API.
//
// This package is part of the Functional Core: no I/O, no side effects. The
// imperative shell (internal/shell/ecs) converts ECS task definitions to and
// from these values; internal/shell/deploy mutates a working copy and decides
// whether a new revision has to be registered.
//
// # Mutations
//
//   - SetImages: rewrite image tags or replace images per container
//   - SetCommands: replace container commands
//   - SetEnvironment: upsert environment variables
//   - SetTaskRoleARN: replace the task role
//   - Apply: all of the above from one Overrides value
//
// Every mutation appends one Diff per changed field. An empty diff means the
// definition is redeployed unchanged.
//
// # Usage
//
//	working := current.Clone()
//	if err := working.Apply(overrides); err != nil {
//		return err // *ConfigurationError, nothing was sent to ECS yet
//	}
//	if len(working.Diff()) > 0 {
//		// register working as a new revision
//	}
package taskdef
