// Package idalloc issues unique IDs for Jobs, OptimizingJobs and client
// connections.
package idalloc

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/slamd-project/slamd/internal/interfaces"
)

// counterStore is the narrow persistence contract Allocator needs; the
// concrete implementation is storage/badger.CounterStore.
type counterStore interface {
	Get(key string) (int64, error)
	Set(key string, value int64) error
}

const (
	jobCounterKey           = "id_counter_job"
	optimizingJobCounterKey = "id_counter_optimizing_job"
	clientCounterKey        = "id_counter_client"

	// batchSize is how many counter values Allocator reserves from the
	// store per flush, so a burst of Submit calls doesn't hit disk once
	// per ID. On restart any unused tail of the last batch is discarded
	// — IDs are unique, never densely packed.
	batchSize = 100
)

// Allocator issues prefix+epoch+counter IDs, persisting the counter
// boundary so a restart never reissues one already handed out.
//
// Format: "<prefix>-<epoch8>-<counter10>-<uuid-suffix>". The epoch and
// counter make IDs sort roughly by creation order; the uuid suffix
// keeps them globally unique even if the counter store is ever lost.
type Allocator struct {
	mu      sync.Mutex
	store   counterStore
	logger  arbor.ILogger
	next    map[string]int64
	ceiling map[string]int64
}

// New wraps a counter store. The store may be storage/badger's
// CounterStore, or any type satisfying Get/Set for tests.
func New(store counterStore, logger arbor.ILogger) *Allocator {
	return &Allocator{
		store:   store,
		logger:  logger,
		next:    make(map[string]int64),
		ceiling: make(map[string]int64),
	}
}

var _ interfaces.IdAllocator = (*Allocator)(nil)

func (a *Allocator) NextJobID() (string, error) {
	return a.next2("job", jobCounterKey)
}

func (a *Allocator) NextOptimizingJobID() (string, error) {
	return a.next2("opt", optimizingJobCounterKey)
}

func (a *Allocator) NextClientID() (string, error) {
	return a.next2("client", clientCounterKey)
}

func (a *Allocator) next2(prefix, key string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.next[key] >= a.ceiling[key] {
		persisted, err := a.store.Get(key)
		if err != nil {
			return "", fmt.Errorf("idalloc: load counter %s: %w", key, err)
		}
		newCeiling := persisted + batchSize
		if err := a.store.Set(key, newCeiling); err != nil {
			return "", fmt.Errorf("idalloc: reserve batch for %s: %w", key, err)
		}
		a.next[key] = persisted
		a.ceiling[key] = newCeiling
		a.logger.Debug().Str("counter", key).Int64("ceiling", newCeiling).Msg("idalloc: reserved counter batch")
	}

	n := a.next[key]
	a.next[key]++

	epoch := time.Now().Unix() % 1e8
	return fmt.Sprintf("%s-%08d-%010d-%s", prefix, epoch, n, uuid.New().String()[:8]), nil
}
