package activity

import (
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/danmuck/ghostline/internal/timeline"
)

var (
	ErrKindExists  = errors.New("activity: kind already registered")
	ErrFactoryNil  = errors.New("activity: factory is nil")
	ErrInvalidSpec = errors.New("activity: invalid spec")
)

// Registry stores activity specs by kind.
type Registry struct {
	items map[timeline.ActivityKind]Spec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[timeline.ActivityKind]Spec)}
}

// ValidateSpec checks the kind is a member of the enumeration and the spec is
// constructible.
func ValidateSpec(spec Spec) error {
	if _, err := timeline.ParseActivityKind(string(spec.Kind)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	if spec.Factory == nil {
		return ErrFactoryNil
	}
	if spec.InstanceLimit < 0 {
		return fmt.Errorf("%w: negative instance limit for %s", ErrInvalidSpec, spec.Kind)
	}
	return nil
}

// Register adds spec. An unset InstanceLimit defaults to 1.
func (r *Registry) Register(spec Spec) error {
	if err := ValidateSpec(spec); err != nil {
		return err
	}
	if _, ok := r.items[spec.Kind]; ok {
		return fmt.Errorf("%w: %s", ErrKindExists, spec.Kind)
	}
	if spec.InstanceLimit == 0 {
		spec.InstanceLimit = 1
	}
	spec.ProcessName = strings.TrimSpace(spec.ProcessName)
	r.items[spec.Kind] = spec
	return nil
}

// Resolve returns the spec for kind.
func (r *Registry) Resolve(kind timeline.ActivityKind) (Spec, bool) {
	spec, ok := r.items[kind]
	return spec, ok
}

// List returns specs ordered by kind.
func (r *Registry) List() []Spec {
	list := make([]Spec, 0, len(r.items))
	for _, spec := range r.items {
		list = append(list, spec)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Kind < list[j].Kind
	})
	return list
}

// Kinds returns the registered kinds ordered by name.
func (r *Registry) Kinds() []timeline.ActivityKind {
	specs := r.List()
	out := make([]timeline.ActivityKind, 0, len(specs))
	for _, spec := range specs {
		out = append(out, spec.Kind)
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.items)
}

// LookPathProbe is satisfied when any of names resolves on PATH.
func LookPathProbe(names ...string) Probe {
	return func() bool {
		for _, name := range names {
			if _, err := exec.LookPath(name); err == nil {
				return true
			}
		}
		return false
	}
}
