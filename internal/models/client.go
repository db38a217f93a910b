package models

import "time"

// ClientKind distinguishes the three worker connection classes the
// ClientRegistry tracks.
type ClientKind string

const (
	ClientKindLoad            ClientKind = "Load"
	ClientKindResourceMonitor ClientKind = "ResourceMonitor"
	ClientKindClientManager   ClientKind = "ClientManager"
)

// ClientStatus is the in-memory lifecycle state of a connected worker.
type ClientStatus string

const (
	ClientStatusIdle          ClientStatus = "Idle"
	ClientStatusAssigned      ClientStatus = "Assigned"
	ClientStatusRunning       ClientStatus = "Running"
	ClientStatusReporting     ClientStatus = "Reporting"
	ClientStatusDisconnecting ClientStatus = "Disconnecting"
)

// ClientEntry is in-memory only — it is never persisted to the
// ConfigStore, it is rebuilt from live connections on every restart.
type ClientEntry struct {
	ClientID      string
	Kind          ClientKind
	Address       string
	EstablishedAt time.Time
	Status        ClientStatus

	// IdleSince is when the entry last entered Idle; the registry
	// hands out longest-idle clients first when filling a Job's
	// worker set.
	IdleSince time.Time

	// AssignedJobID is set while Status is Assigned/Running/Reporting.
	AssignedJobID string

	// ManagerID is the ClientID of the client-manager connection that
	// started this client. Empty for ClientManager entries themselves.
	ManagerID string

	// JobIDsInProgress applies to resource-monitor clients only, which
	// may shadow more than one load-generation Job at once.
	JobIDsInProgress map[string]struct{}

	// StartedClients/MaxClients apply to client-manager entries only.
	// MaxClients == 0 means unlimited.
	StartedClients int
	MaxClients     int
}

// IsIdle reports whether the entry is eligible to be picked for a Job.
func (c *ClientEntry) IsIdle() bool {
	return c.Status == ClientStatusIdle
}
