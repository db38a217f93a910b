package optimizer

import (
	"sort"
	"sync"

	"github.com/slamd-project/slamd/internal/interfaces"
)

// Registry resolves an OptimizingJob's optimizationAlgorithmName to the
// interfaces.OptimizationAlgorithm value that scores its iterations.
// Algorithm plug-in discovery belongs to the deployment that loads
// them; this is the stand-in loader, sufficient for the core's own
// needs and for tests.
type Registry struct {
	mu         sync.RWMutex
	algorithms map[string]interfaces.OptimizationAlgorithm
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{algorithms: make(map[string]interfaces.OptimizationAlgorithm)}
}

var _ interfaces.OptimizationAlgorithmRegistry = (*Registry)(nil)

func (r *Registry) Register(algorithm interfaces.OptimizationAlgorithm) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.algorithms[algorithm.Name()] = algorithm
}

func (r *Registry) Lookup(name string) (interfaces.OptimizationAlgorithm, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.algorithms[name]
	return a, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.algorithms))
	for name := range r.algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
