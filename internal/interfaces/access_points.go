package interfaces

import "github.com/slamd-project/slamd/internal/models"

// ConnectRequest describes an inbound client connection's self-reported
// identity, before it is admitted into the ClientRegistry.
type ConnectRequest struct {
	ClientID string `validate:"required"`
	Kind     string `validate:"required,oneof=Load ResourceMonitor ClientManager"`
	Address  string `validate:"required"`
	MaxClients int
}

// AccessPoints is the single façade every external surface (HTTP
// handler, CLI, test harness) calls through — nothing outside
// internal/access reaches the Scheduler, registry or optimizer
// controllers directly.
type AccessPoints interface {
	ScheduleJob(job *models.Job) (string, error)
	ScheduleOptimizingJob(job *models.OptimizingJob) (string, error)

	CancelJob(jobID, reason string) error
	CancelOptimizingJob(jobID, reason string) error

	PauseOptimizingJob(jobID string) error
	UnpauseOptimizingJob(jobID string) error

	MoveJob(jobID, folder string) error
	MoveOptimizingJob(jobID, folder string, includeIterations bool) error

	RemoveJob(jobID string) error
	RemoveOptimizingJob(jobID string, includeIterations bool) error

	GetJob(jobID string) (*models.Job, error)
	GetOptimizingJob(jobID string) (*models.OptimizingJob, error)
	ListJobs(folder string) ([]*models.Job, error)
	ListOptimizingJobs(folder string) ([]*models.OptimizingJob, error)

	ConnectClient(req ConnectRequest) error
	DisconnectClient(clientID string) error
}
