package taskdef

import (
	"slices"
	"sort"
	"strings"

	"github.com/distribution/reference"
	"github.com/mattn/go-shellwords"
)

// =============================================================================
// Overrides
// =============================================================================

// Overrides enumerates every mutation a deployment may request.
type Overrides struct {
	Tag         string            // new tag for every container image
	Images      map[string]string // container name -> full image
	Commands    map[string]string // container name -> command line
	Environment []EnvOverride
	TaskRoleARN string
}

// EnvOverride sets one environment variable in one container.
type EnvOverride struct {
	Container string
	Name      string
	Value     string
}

// IsEmpty reports whether no mutation was requested.
func (o Overrides) IsEmpty() bool {
	return o.Tag == "" && len(o.Images) == 0 && len(o.Commands) == 0 &&
		len(o.Environment) == 0 && o.TaskRoleARN == ""
}

// Apply applies all overrides in a fixed order: images, commands,
// environment, task role. It stops at the first configuration error.
func (td *TaskDefinition) Apply(o Overrides) error {
	if err := td.SetImages(o.Tag, o.Images); err != nil {
		return err
	}
	if err := td.SetCommands(o.Commands); err != nil {
		return err
	}
	if err := td.SetEnvironment(o.Environment); err != nil {
		return err
	}
	td.SetTaskRoleARN(o.TaskRoleARN)
	return nil
}

// =============================================================================
// Setters
// =============================================================================

// SetImages rewrites the tag of every image when tag is non-empty. Explicit
// per-container images take precedence over the tag and replace the whole
// image string.
func (td *TaskDefinition) SetImages(tag string, images map[string]string) error {
	if err := td.checkContainers(FieldImage, keys(images)); err != nil {
		return err
	}
	if tag != "" {
		if err := validateTag(tag); err != nil {
			return NewConfigurationError("tag", "", err.Error(), ErrInvalidTag)
		}
	}

	for i := range td.Containers {
		c := &td.Containers[i]
		image, ok := images[c.Name]
		if !ok {
			if tag == "" {
				continue
			}
			image = retag(c.Image, tag)
		}
		if image == c.Image {
			continue
		}
		td.record(Diff{Container: c.Name, Field: FieldImage, OldValue: c.Image, NewValue: image})
		c.Image = image
	}
	return nil
}

// SetCommands replaces the command of the named containers. Command lines are
// split into argv using shell quoting rules.
func (td *TaskDefinition) SetCommands(commands map[string]string) error {
	names := keys(commands)
	if err := td.checkContainers(FieldCommand, names); err != nil {
		return err
	}

	parsed := make(map[string][]string, len(commands))
	for _, name := range names {
		argv, err := shellwords.Parse(commands[name])
		if err != nil {
			return NewConfigurationError(FieldCommand, name, err.Error(), ErrInvalidCommand)
		}
		parsed[name] = argv
	}

	for i := range td.Containers {
		c := &td.Containers[i]
		argv, ok := parsed[c.Name]
		if !ok || slices.Equal(argv, c.Command) {
			continue
		}
		td.record(Diff{
			Container: c.Name,
			Field:     FieldCommand,
			OldValue:  CommandString(c.Command),
			NewValue:  CommandString(argv),
		})
		c.Command = argv
	}
	return nil
}

// SetEnvironment upserts environment variables. Existing names keep their
// position; new names are appended in the order given.
func (td *TaskDefinition) SetEnvironment(entries []EnvOverride) error {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Container)
	}
	if err := td.checkContainers(FieldEnvironment, names); err != nil {
		return err
	}

	for _, e := range entries {
		c := td.container(e.Container)
		idx := slices.IndexFunc(c.Environment, func(v EnvVar) bool { return v.Name == e.Name })
		if idx < 0 {
			c.Environment = append(c.Environment, EnvVar{Name: e.Name, Value: e.Value})
			td.record(Diff{Container: c.Name, Field: FieldEnvironment, Key: e.Name, NewValue: e.Value})
			continue
		}
		old := c.Environment[idx].Value
		if old == e.Value {
			continue
		}
		c.Environment[idx].Value = e.Value
		td.record(Diff{Container: c.Name, Field: FieldEnvironment, Key: e.Name, OldValue: old, NewValue: e.Value})
	}
	return nil
}

// SetTaskRoleARN replaces the task role when arn is non-empty.
func (td *TaskDefinition) SetTaskRoleARN(arn string) {
	if arn == "" || arn == td.TaskRoleARN {
		return
	}
	td.record(Diff{Field: FieldTaskRoleARN, OldValue: td.TaskRoleARN, NewValue: arn})
	td.TaskRoleARN = arn
}

// =============================================================================
// Helpers
// =============================================================================

// checkContainers fails on the first name that is not a container of td.
// Names are checked before anything is modified.
func (td *TaskDefinition) checkContainers(field string, names []string) error {
	for _, name := range names {
		if td.container(name) == nil {
			return unknownContainer(field, name)
		}
	}
	return nil
}

// tagCheckName is only used to validate tags with the reference grammar.
var tagCheckName, _ = reference.ParseNormalizedNamed("tag-check")

func validateTag(tag string) error {
	_, err := reference.WithTag(tagCheckName, tag)
	return err
}

// retag replaces the tag (and drops any digest) of image, keeping the
// repository spelled exactly as it was.
func retag(image, tag string) string {
	return Repository(image) + ":" + tag
}

// Repository returns image without its tag and digest.
func Repository(image string) string {
	named, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		// Not a valid reference; fall back to cutting at the last colon
		// that is not part of a registry host:port.
		if i := strings.LastIndex(image, ":"); i >= 0 && !strings.Contains(image[i:], "/") {
			return image[:i]
		}
		return image
	}

	repo := image
	if d, ok := named.(reference.Digested); ok {
		repo = strings.TrimSuffix(repo, "@"+d.Digest().String())
	}
	if t, ok := named.(reference.Tagged); ok {
		repo = strings.TrimSuffix(repo, ":"+t.Tag())
	}
	return repo
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
