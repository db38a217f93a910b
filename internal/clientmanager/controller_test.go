package clientmanager

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/slamd-project/slamd/internal/models"
	"github.com/slamd-project/slamd/internal/registry"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	started map[string]int
	failAll bool
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{started: make(map[string]int)}
}

func (f *fakeDispatcher) StartClients(_ context.Context, managerClientID string, n int) error {
	if f.failAll {
		return assert.AnError
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started[managerClientID] += n
	return nil
}

func (f *fakeDispatcher) StopClients(_ context.Context, managerClientID string, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started[managerClientID] -= n
	return nil
}

func newTestController(reg *registry.Registry, d Dispatcher) *Controller {
	return New(reg, d, arbor.NewLogger(), rate.Inf, 1)
}

func TestController_EnsureCapacity_DispatchesPlan(t *testing.T) {
	reg := registry.New(arbor.NewLogger())
	require.NoError(t, reg.Register(&models.ClientEntry{
		ClientID: "mgr1", Kind: models.ClientKindClientManager, MaxClients: 10,
	}))

	dispatcher := newFakeDispatcher()
	c := newTestController(reg, dispatcher)

	err := c.EnsureCapacity(context.Background(), 4, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 4, dispatcher.started["mgr1"])
}

func TestController_EnsureCapacity_NoManagersRejectsLoadRequest(t *testing.T) {
	reg := registry.New(arbor.NewLogger())
	c := newTestController(reg, newFakeDispatcher())

	err := c.EnsureCapacity(context.Background(), 2, 0, false)
	require.Error(t, err)
	assert.Equal(t, models.ErrorKindManagerUnreachable, models.KindOf(err))
}

func TestController_EnsureCapacity_MonitorShortfallIgnoredWhenOptional(t *testing.T) {
	reg := registry.New(arbor.NewLogger())
	require.NoError(t, reg.Register(&models.ClientEntry{
		ClientID: "mgr1", Kind: models.ClientKindClientManager, MaxClients: 1,
	}))

	c := newTestController(reg, newFakeDispatcher())

	// First call consumes the only slot for load clients.
	require.NoError(t, c.EnsureCapacity(context.Background(), 1, 0, false))

	entry, _ := reg.Get("mgr1")
	entry.StartedClients = 1 // simulate the manager reporting it is now full

	err := c.EnsureCapacity(context.Background(), 0, 1, true)
	assert.NoError(t, err)
}

func TestController_StopClients_GroupsByManager(t *testing.T) {
	reg := registry.New(arbor.NewLogger())
	require.NoError(t, reg.Register(&models.ClientEntry{ClientID: "c1", Kind: models.ClientKindLoad, ManagerID: "mgr1"}))
	require.NoError(t, reg.Register(&models.ClientEntry{ClientID: "c2", Kind: models.ClientKindLoad, ManagerID: "mgr1"}))

	dispatcher := newFakeDispatcher()
	dispatcher.started["mgr1"] = 2
	c := newTestController(reg, dispatcher)

	err := c.StopClients(context.Background(), []string{"c1", "c2"})
	require.NoError(t, err)
	assert.Equal(t, 0, dispatcher.started["mgr1"])
}
