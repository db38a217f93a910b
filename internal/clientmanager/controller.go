// Package clientmanager drives the fleet's client-manager connections
// to start and stop Load/ResourceMonitor client processes ahead of a
// Job's scheduled start.
package clientmanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/slamd-project/slamd/internal/models"
	"github.com/slamd-project/slamd/internal/registry"
)

// Dispatcher delivers a start/stop command to one client-manager
// connection and waits for its synchronous accept/reject. The
// resulting client registrations arrive later, asynchronously, through
// the ClientRegistry. Implemented by internal/transport/ws against the
// live websocket connection.
type Dispatcher interface {
	StartClients(ctx context.Context, managerClientID string, n int) error
	StopClients(ctx context.Context, managerClientID string, n int) error
}

// Controller enforces per-manager capacity caps and fleet-wide
// planning before handing individual start/stop commands to a
// Dispatcher. Commands are rate-limited per manager rather than
// retried, so a slow-to-acknowledge manager cannot be flooded with
// repeats.
type Controller struct {
	mu         sync.Mutex
	registry   *registry.Registry
	dispatch   Dispatcher
	logger     arbor.ILogger
	limiters   map[string]*rate.Limiter
	limiterRPS rate.Limit
	burst      int
}

// New wires a Controller over the shared ClientRegistry. rps/burst
// bound how often any single manager is sent start/stop commands.
func New(reg *registry.Registry, dispatch Dispatcher, logger arbor.ILogger, rps rate.Limit, burst int) *Controller {
	return &Controller{
		registry:   reg,
		dispatch:   dispatch,
		logger:     logger,
		limiters:   make(map[string]*rate.Limiter),
		limiterRPS: rps,
		burst:      burst,
	}
}

func (c *Controller) limiterFor(managerID string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[managerID]
	if !ok {
		l = rate.NewLimiter(c.limiterRPS, c.burst)
		c.limiters[managerID] = l
	}
	return l
}

// EnsureCapacity plans and dispatches start commands across every
// registered ClientManager until the fleet can field numLoadClients
// Load clients and, if requested, numMonitorClients ResourceMonitor
// clients. Workers already connected and idle count toward the target
// — managers are only asked to make up the shortfall, so a fleet of
// directly-connected clients needs no managers at all.
// monitorIfAvailable downgrades a monitor shortfall from an error to a
// logged warning, matching a Job's monitorClientsIfAvailable flag.
func (c *Controller) EnsureCapacity(ctx context.Context, numLoadClients, numMonitorClients int, monitorIfAvailable bool) error {
	needLoad := numLoadClients - c.idleCount(models.ClientKindLoad)
	needMonitors := numMonitorClients - c.idleCount(models.ClientKindResourceMonitor)
	if needLoad <= 0 && needMonitors <= 0 {
		return nil
	}

	if len(c.registry.ListByKind(models.ClientKindClientManager)) == 0 {
		if needLoad > 0 {
			return models.NewError(models.ErrorKindManagerUnreachable, "no client managers registered")
		}
		if monitorIfAvailable {
			c.logger.Warn().Msg("clientmanager: resource monitors unavailable, continuing without them")
			return nil
		}
		return models.NewError(models.ErrorKindManagerUnreachable, "no client managers registered")
	}

	if err := c.dispatchPlan(ctx, c.managerCaps(), needLoad); err != nil {
		return err
	}

	if needMonitors > 0 {
		// Caps are re-read so monitor allocation sees whatever the load
		// plan already consumed.
		if err := c.dispatchPlan(ctx, c.managerCaps(), needMonitors); err != nil {
			if monitorIfAvailable {
				c.logger.Warn().Err(err).Msg("clientmanager: resource monitors unavailable, continuing without them")
				return nil
			}
			return err
		}
	}
	return nil
}

func (c *Controller) idleCount(kind models.ClientKind) int {
	n := 0
	for _, entry := range c.registry.ListByKind(kind) {
		if entry.IsIdle() {
			n++
		}
	}
	return n
}

func (c *Controller) managerCaps() []registry.ManagerCapacity {
	managers := c.registry.ListByKind(models.ClientKindClientManager)
	caps := make([]registry.ManagerCapacity, len(managers))
	for i, m := range managers {
		caps[i] = registry.ManagerCapacity{
			ClientID:       m.ClientID,
			StartedClients: m.StartedClients,
			MaxClients:     m.MaxClients,
		}
	}
	return caps
}

func (c *Controller) dispatchPlan(ctx context.Context, caps []registry.ManagerCapacity, total int) error {
	if total <= 0 {
		return nil
	}

	allocations, shortfall := registry.Plan(caps, total)
	for _, a := range allocations {
		limiter := c.limiterFor(a.ClientID)
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("clientmanager: rate limit wait for %s: %w", a.ClientID, err)
		}
		if err := c.dispatch.StartClients(ctx, a.ClientID, a.Count); err != nil {
			return models.WrapError(models.ErrorKindManagerUnreachable,
				fmt.Sprintf("start %d clients on %s", a.Count, a.ClientID), err)
		}
	}

	if shortfall > 0 {
		c.logger.Warn().Int("shortfall", shortfall).Msg("clientmanager: fleet capacity exhausted")
		return models.NewError(models.ErrorKindCapacityExceeded,
			fmt.Sprintf("%d client(s) could not be started: fleet at capacity", shortfall))
	}
	return nil
}

// StopClients asks each owning client manager to stop the given
// clients once their Job has finished, grouping by ClientEntry.ManagerID
// so each manager gets a single batched command.
func (c *Controller) StopClients(ctx context.Context, clientIDs []string) error {
	byManager := make(map[string]int)
	for _, id := range clientIDs {
		entry, ok := c.registry.Get(id)
		if !ok || entry.ManagerID == "" {
			continue
		}
		byManager[entry.ManagerID]++
	}

	for managerID, n := range byManager {
		limiter := c.limiterFor(managerID)
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("clientmanager: rate limit wait for %s: %w", managerID, err)
		}
		if err := c.dispatch.StopClients(ctx, managerID, n); err != nil {
			return models.WrapError(models.ErrorKindManagerUnreachable,
				fmt.Sprintf("stop %d clients on %s", n, managerID), err)
		}
	}
	return nil
}
