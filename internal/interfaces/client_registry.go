package interfaces

import "github.com/slamd-project/slamd/internal/models"

// ClientRegistry tracks every connected worker across the three client
// kinds. Implemented by internal/registry against an in-memory,
// mutex-guarded table — there is nothing here for a ConfigStore to
// persist, since a restart simply waits for clients to reconnect.
type ClientRegistry interface {
	Register(entry *models.ClientEntry) error
	Unregister(clientID string)

	Get(clientID string) (*models.ClientEntry, bool)

	// ListByKind returns kind's entries ordered by address then
	// establishment time, a stable ordering for status display.
	ListByKind(kind models.ClientKind) []*models.ClientEntry

	// PickIdle selects exactly n idle Load or ResourceMonitor clients,
	// requested IDs first, or returns an error when fewer than n are idle.
	PickIdle(kind models.ClientKind, n int, requested []string) ([]*models.ClientEntry, error)

	MarkAssigned(clientID, jobID string) error
	MarkIdle(clientID string) error

	// RequestDisconnect marks a client Disconnecting; ForceDisconnect
	// removes its entry. Neither touches the network connection.
	RequestDisconnect(clientID string) error
	ForceDisconnect(clientID string) error
}
