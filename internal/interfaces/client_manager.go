package interfaces

import "context"

// ClientManagerController drives the fleet's client-manager connections
// to bring up or tear down Load/ResourceMonitor client processes ahead
// of a Job's scheduled start. Implemented by internal/clientmanager.
type ClientManagerController interface {
	// EnsureCapacity asks the fleet's client managers to start enough
	// Load and ResourceMonitor clients to satisfy a pending Job,
	// spreading the allocation round-robin and skipping managers at
	// capacity.
	EnsureCapacity(ctx context.Context, numLoadClients, numMonitorClients int, monitorIfAvailable bool) error

	// StopClients asks the owning client managers to stop the given
	// clients once their Job has finished.
	StopClients(ctx context.Context, clientIDs []string) error
}
