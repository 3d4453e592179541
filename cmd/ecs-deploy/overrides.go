package main

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/artpar/ecs-deploy/internal/core/taskdef"
	"github.com/artpar/ecs-deploy/internal/shell/deploy"
)

// overrideFlags are the task definition mutations shared by deploy and
// deploy-many.
type overrideFlags struct {
	tag         string
	images      []string
	commands    []string
	env         []string
	taskRoleARN string
}

func (f *overrideFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.tag, "tag", "t", "", "Changes the tag for ALL container images")
	fs.StringArrayVarP(&f.images, "image", "i", nil, "Overwrites the image for a container: <container>=<image> (repeatable)")
	fs.StringArrayVarP(&f.commands, "command", "c", nil, "Overwrites the command in a container: <container>=<command> (repeatable)")
	fs.StringArrayVarP(&f.env, "env", "e", nil, "Adds or changes an environment variable: <container>=<name>=<value> (repeatable)")
	fs.StringVarP(&f.taskRoleARN, "role", "r", "", "Sets the task's role ARN: <task role ARN>")
}

// overrides converts the flags to taskdef overrides.
func (f *overrideFlags) overrides() (taskdef.Overrides, error) {
	o := taskdef.Overrides{
		Tag:         f.tag,
		TaskRoleARN: f.taskRoleARN,
	}

	var err error
	if o.Images, err = parsePairs("image", f.images); err != nil {
		return taskdef.Overrides{}, err
	}
	if o.Commands, err = parsePairs("command", f.commands); err != nil {
		return taskdef.Overrides{}, err
	}
	for _, raw := range f.env {
		e, err := parseEnv(raw)
		if err != nil {
			return taskdef.Overrides{}, err
		}
		o.Environment = append(o.Environment, e)
	}
	return o, nil
}

// parsePairs parses container=value arguments. A later value for the same
// container replaces an earlier one.
func parsePairs(flag string, args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	pairs := make(map[string]string, len(args))
	for _, raw := range args {
		container, value, ok := strings.Cut(raw, "=")
		container = strings.TrimSpace(container)
		if !ok || container == "" {
			return nil, fmt.Errorf("%w: invalid --%s %q, expected <container>=<value>", deploy.ErrInvalidRequest, flag, raw)
		}
		pairs[container] = value
	}
	return pairs, nil
}

// parseEnv parses a container=NAME=value argument. The value may itself
// contain '='.
func parseEnv(raw string) (taskdef.EnvOverride, error) {
	container, rest, ok := strings.Cut(raw, "=")
	name, value, ok2 := strings.Cut(rest, "=")
	container = strings.TrimSpace(container)
	name = strings.TrimSpace(name)
	if !ok || !ok2 || container == "" || name == "" {
		return taskdef.EnvOverride{}, fmt.Errorf("%w: invalid --env %q, expected <container>=<name>=<value>", deploy.ErrInvalidRequest, raw)
	}
	return taskdef.EnvOverride{Container: container, Name: name, Value: value}, nil
}
