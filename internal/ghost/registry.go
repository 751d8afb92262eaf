package ghost

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/ghostline/internal/activity"
	"github.com/danmuck/ghostline/internal/activity/command"
	"github.com/danmuck/ghostline/internal/activity/curl"
	"github.com/danmuck/ghostline/internal/activity/launch"
	"github.com/danmuck/ghostline/internal/activity/ssh"
	"github.com/danmuck/ghostline/internal/timeline"
)

var ErrUnknownBuiltinKind = errors.New("ghost: no builtin runner for activity kind")

// builtinSpecs lists every runner the agent ships with.
func builtinSpecs(sshCfg ssh.Config) []activity.Spec {
	specs := []activity.Spec{
		command.Spec(timeline.KindCommand),
		command.Spec(timeline.KindBash),
		command.Spec(timeline.KindPowerShell),
		curl.Spec(),
		ssh.Spec(sshCfg),
	}
	for _, app := range launch.Apps() {
		specs = append(specs, launch.Spec(app))
	}
	return specs
}

// buildBuiltinRegistry registers the named kinds, or every builtin when
// kinds is empty.
func buildBuiltinRegistry(kinds []string, sshCfg ssh.Config) (*activity.Registry, error) {
	specs := builtinSpecs(sshCfg)
	byKind := make(map[timeline.ActivityKind]activity.Spec, len(specs))
	for _, spec := range specs {
		byKind[spec.Kind] = spec
	}

	reg := activity.NewRegistry()
	selected := make([]activity.Spec, 0, len(specs))
	if len(kinds) == 0 {
		selected = specs
	}
	seen := make(map[timeline.ActivityKind]struct{})
	for _, raw := range kinds {
		raw = strings.TrimSpace(raw)
		if raw == "" || raw == "none" {
			continue
		}
		kind, err := timeline.ParseActivityKind(raw)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[kind]; ok {
			continue
		}
		seen[kind] = struct{}{}
		spec, ok := byKind[kind]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownBuiltinKind, kind)
		}
		selected = append(selected, spec)
	}
	for _, spec := range selected {
		if err := reg.Register(spec); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
