package idalloc

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

type fakeCounterStore struct {
	mu     sync.Mutex
	values map[string]int64
}

func newFakeCounterStore() *fakeCounterStore {
	return &fakeCounterStore{values: make(map[string]int64)}
}

func (f *fakeCounterStore) Get(key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[key], nil
}

func (f *fakeCounterStore) Set(key string, value int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

func TestAllocator_NextJobID_UniqueAndPrefixed(t *testing.T) {
	a := New(newFakeCounterStore(), arbor.NewLogger())

	seen := make(map[string]struct{})
	for i := 0; i < 250; i++ {
		id, err := a.NextJobID()
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(id, "job-"))
		_, dup := seen[id]
		assert.False(t, dup, "id %s generated twice", id)
		seen[id] = struct{}{}
	}
}

func TestAllocator_SurvivesRestart(t *testing.T) {
	store := newFakeCounterStore()

	a1 := New(store, arbor.NewLogger())
	first, err := a1.NextJobID()
	require.NoError(t, err)

	// Simulate a restart: a fresh Allocator over the same persisted store
	// must never reissue an ID within the batch a1 already reserved.
	a2 := New(store, arbor.NewLogger())
	second, err := a2.NextJobID()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestAllocator_DistinctKinds(t *testing.T) {
	a := New(newFakeCounterStore(), arbor.NewLogger())

	jobID, err := a.NextJobID()
	require.NoError(t, err)
	optID, err := a.NextOptimizingJobID()
	require.NoError(t, err)
	clientID, err := a.NextClientID()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(jobID, "job-"))
	assert.True(t, strings.HasPrefix(optID, "opt-"))
	assert.True(t, strings.HasPrefix(clientID, "client-"))
}
