// Package registry tracks every connected worker client across the
// three kinds the scheduling core recognizes: Load, ResourceMonitor and
// ClientManager.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/slamd-project/slamd/internal/models"
)

// Registry is a single mutex-guarded table of live ClientEntry values.
// There is nothing here for a ConfigStore to persist: a restart simply
// waits for clients to reconnect and re-register.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*models.ClientEntry
	logger  arbor.ILogger
}

// New creates an empty Registry.
func New(logger arbor.ILogger) *Registry {
	return &Registry{
		clients: make(map[string]*models.ClientEntry),
		logger:  logger,
	}
}

func (r *Registry) Register(entry *models.ClientEntry) error {
	if entry.ClientID == "" {
		return models.NewError(models.ErrorKindInvalidValue, "client ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[entry.ClientID]; exists {
		return models.NewError(models.ErrorKindDuplicateClient, entry.ClientID)
	}
	if entry.Status == "" {
		entry.Status = models.ClientStatusIdle
	}
	if entry.EstablishedAt.IsZero() {
		entry.EstablishedAt = time.Now()
	}
	entry.IdleSince = entry.EstablishedAt
	if entry.JobIDsInProgress == nil {
		entry.JobIDsInProgress = make(map[string]struct{})
	}
	r.clients[entry.ClientID] = entry

	r.logger.Info().Str("client_id", entry.ClientID).Str("kind", string(entry.Kind)).Msg("client registered")
	return nil
}

func (r *Registry) Unregister(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, clientID)
	r.logger.Info().Str("client_id", clientID).Msg("client unregistered")
}

func (r *Registry) Get(clientID string) (*models.ClientEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.clients[clientID]
	return entry, ok
}

// ListByKind returns every entry of kind in a deterministic order —
// address first, establishment time as the tie-break — so status
// listings are stable across calls.
func (r *Registry) ListByKind(kind models.ClientKind) []*models.ClientEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.ClientEntry, 0)
	for _, entry := range r.clients {
		if entry.Kind == kind {
			result = append(result, entry)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Address != result[j].Address {
			return result[i].Address < result[j].Address
		}
		return result[i].EstablishedAt.Before(result[j].EstablishedAt)
	})
	return result
}

// PickIdle selects n idle clients of kind, honoring requested IDs
// first. Returns ErrorKindRequestedClientUnavailable if a requested ID
// is not idle, and ErrorKindInsufficientClients if fewer than n are
// available once requested IDs are honored.
func (r *Registry) PickIdle(kind models.ClientKind, n int, requested []string) ([]*models.ClientEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pickIdleLocked(kind, n, requested, nil)
}

// PickIdleExcluding is PickIdle without the requested-ID preference,
// skipping every ID in exclude. The scheduler uses it to find a
// replacement for a lost client without handing the Job back one of
// its own workers.
func (r *Registry) PickIdleExcluding(kind models.ClientKind, n int, exclude []string) ([]*models.ClientEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pickIdleLocked(kind, n, nil, exclude)
}

func (r *Registry) pickIdleLocked(kind models.ClientKind, n int, requested, exclude []string) ([]*models.ClientEntry, error) {
	picked := make([]*models.ClientEntry, 0, n)
	seen := make(map[string]struct{})
	for _, id := range exclude {
		seen[id] = struct{}{}
	}

	for _, id := range requested {
		entry, ok := r.clients[id]
		if !ok || entry.Kind != kind || !entry.IsIdle() {
			return nil, models.NewError(models.ErrorKindRequestedClientUnavailable, id)
		}
		picked = append(picked, entry)
		seen[id] = struct{}{}
	}

	if len(picked) >= n {
		return picked[:n], nil
	}

	// Fill-in candidates go longest-idle first so load spreads across
	// the fleet instead of hammering whichever client settled last.
	candidates := make([]*models.ClientEntry, 0, len(r.clients))
	for _, entry := range r.clients {
		if _, skip := seen[entry.ClientID]; skip {
			continue
		}
		if entry.Kind == kind && entry.IsIdle() {
			candidates = append(candidates, entry)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].IdleSince.Equal(candidates[j].IdleSince) {
			return candidates[i].IdleSince.Before(candidates[j].IdleSince)
		}
		return candidates[i].ClientID < candidates[j].ClientID
	})
	for _, entry := range candidates {
		if len(picked) >= n {
			break
		}
		picked = append(picked, entry)
	}

	if len(picked) < n {
		return nil, models.NewError(models.ErrorKindInsufficientClients,
			"not enough idle clients to satisfy request")
	}
	return picked, nil
}

func (r *Registry) MarkAssigned(clientID, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.clients[clientID]
	if !ok {
		return models.NewError(models.ErrorKindNotFound, clientID)
	}
	entry.Status = models.ClientStatusAssigned
	entry.AssignedJobID = jobID
	if entry.Kind == models.ClientKindResourceMonitor {
		entry.JobIDsInProgress[jobID] = struct{}{}
	}
	return nil
}

func (r *Registry) MarkIdle(clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.clients[clientID]
	if !ok {
		return models.NewError(models.ErrorKindNotFound, clientID)
	}
	if entry.Kind == models.ClientKindResourceMonitor {
		delete(entry.JobIDsInProgress, entry.AssignedJobID)
		if len(entry.JobIDsInProgress) > 0 {
			return nil
		}
	}
	entry.Status = models.ClientStatusIdle
	entry.AssignedJobID = ""
	entry.IdleSince = time.Now()
	return nil
}

func (r *Registry) RequestDisconnect(clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.clients[clientID]
	if !ok {
		return models.NewError(models.ErrorKindNotFound, clientID)
	}
	entry.Status = models.ClientStatusDisconnecting
	return nil
}

func (r *Registry) ForceDisconnect(clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[clientID]; !ok {
		return models.NewError(models.ErrorKindNotFound, clientID)
	}
	delete(r.clients, clientID)
	return nil
}
