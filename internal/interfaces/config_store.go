package interfaces

import "github.com/slamd-project/slamd/internal/models"

// ConfigStore is the durable storage collaborator for Jobs,
// OptimizingJobs and JobFolders. Implemented
// by internal/storage/badger against BadgerDB+badgerhold; every method
// is safe for concurrent use.
type ConfigStore interface {
	SaveJob(job *models.Job) error
	GetJob(id string) (*models.Job, error)
	DeleteJob(id string) error
	ListJobs(folder string) ([]*models.Job, error)

	SaveOptimizingJob(job *models.OptimizingJob) error
	GetOptimizingJob(id string) (*models.OptimizingJob, error)
	DeleteOptimizingJob(id string) error
	ListOptimizingJobs(folder string) ([]*models.OptimizingJob, error)

	SaveFolder(folder *models.JobFolder) error
	GetFolder(name string) (*models.JobFolder, error)
	DeleteFolder(name string) error
	ListFolders() ([]*models.JobFolder, error)

	Close() error
}
