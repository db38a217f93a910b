// Package jobclass provides the Registry AccessPoints uses to resolve
// a Job's jobClassName to the interfaces.JobClass that validates its
// parameters.
package jobclass

import (
	"sort"
	"sync"

	"github.com/slamd-project/slamd/internal/interfaces"
)

// Registry is the stand-in loader for JobClass plugins. Real plugin
// discovery from a configured class directory is a deployment concern;
// callers Register the classes they ship with at startup.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]interfaces.JobClass
}

func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]interfaces.JobClass)}
}

var _ interfaces.JobClassRegistry = (*Registry)(nil)

func (r *Registry) Register(class interfaces.JobClass) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes[class.Name()] = class
}

func (r *Registry) Lookup(name string) (interfaces.JobClass, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[name]
	return c, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.classes))
	for name := range r.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
