package badger

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/slamd-project/slamd/internal/interfaces"
	"github.com/slamd-project/slamd/internal/models"
)

// ConfigStore implements interfaces.ConfigStore against BadgerDB. It is
// the sole owner of Job/OptimizingJob/JobFolder persistence — the
// Scheduler and registry hold their working copies in memory and call
// through here only to make a transition durable.
type ConfigStore struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewConfigStore wraps an already-open BadgerDB.
func NewConfigStore(db *BadgerDB, logger arbor.ILogger) interfaces.ConfigStore {
	return &ConfigStore{db: db, logger: logger}
}

func (s *ConfigStore) SaveJob(job *models.Job) error {
	if job.ID == "" {
		return models.NewError(models.ErrorKindInvalidValue, "job ID is required")
	}
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return models.WrapError(models.ErrorKindConfigStoreIO, "save job", err)
	}
	return nil
}

func (s *ConfigStore) GetJob(id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.NewError(models.ErrorKindNotFound, fmt.Sprintf("job %s", id))
		}
		return nil, models.WrapError(models.ErrorKindConfigStoreIO, "get job", err)
	}
	return &job, nil
}

func (s *ConfigStore) DeleteJob(id string) error {
	if err := s.db.Store().Delete(id, &models.Job{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return models.WrapError(models.ErrorKindConfigStoreIO, "delete job", err)
	}
	return nil
}

func (s *ConfigStore) ListJobs(folder string) ([]*models.Job, error) {
	var jobs []models.Job
	query := badgerhold.Where("ID").Ne("")
	if folder != "" {
		query = badgerhold.Where("FolderName").Eq(folder)
	}
	if err := s.db.Store().Find(&jobs, query.SortBy("CreatedAt")); err != nil {
		return nil, models.WrapError(models.ErrorKindConfigStoreIO, "list jobs", err)
	}
	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *ConfigStore) SaveOptimizingJob(job *models.OptimizingJob) error {
	if job.ID == "" {
		return models.NewError(models.ErrorKindInvalidValue, "optimizing job ID is required")
	}
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return models.WrapError(models.ErrorKindConfigStoreIO, "save optimizing job", err)
	}
	return nil
}

func (s *ConfigStore) GetOptimizingJob(id string) (*models.OptimizingJob, error) {
	var job models.OptimizingJob
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.NewError(models.ErrorKindNotFound, fmt.Sprintf("optimizing job %s", id))
		}
		return nil, models.WrapError(models.ErrorKindConfigStoreIO, "get optimizing job", err)
	}
	return &job, nil
}

func (s *ConfigStore) DeleteOptimizingJob(id string) error {
	if err := s.db.Store().Delete(id, &models.OptimizingJob{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return models.WrapError(models.ErrorKindConfigStoreIO, "delete optimizing job", err)
	}
	return nil
}

func (s *ConfigStore) ListOptimizingJobs(folder string) ([]*models.OptimizingJob, error) {
	var jobs []models.OptimizingJob
	query := badgerhold.Where("ID").Ne("")
	if folder != "" {
		query = badgerhold.Where("FolderName").Eq(folder)
	}
	if err := s.db.Store().Find(&jobs, query.SortBy("CreatedAt")); err != nil {
		return nil, models.WrapError(models.ErrorKindConfigStoreIO, "list optimizing jobs", err)
	}
	result := make([]*models.OptimizingJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *ConfigStore) SaveFolder(folder *models.JobFolder) error {
	if folder.Name == "" {
		return models.NewError(models.ErrorKindInvalidValue, "folder name is required")
	}
	if err := s.db.Store().Upsert(folder.Name, folder); err != nil {
		return models.WrapError(models.ErrorKindConfigStoreIO, "save folder", err)
	}
	return nil
}

func (s *ConfigStore) GetFolder(name string) (*models.JobFolder, error) {
	var folder models.JobFolder
	if err := s.db.Store().Get(name, &folder); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.NewError(models.ErrorKindUnknownFolder, name)
		}
		return nil, models.WrapError(models.ErrorKindConfigStoreIO, "get folder", err)
	}
	return &folder, nil
}

func (s *ConfigStore) DeleteFolder(name string) error {
	if err := s.db.Store().Delete(name, &models.JobFolder{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return models.WrapError(models.ErrorKindConfigStoreIO, "delete folder", err)
	}
	return nil
}

func (s *ConfigStore) ListFolders() ([]*models.JobFolder, error) {
	var folders []models.JobFolder
	if err := s.db.Store().Find(&folders, badgerhold.Where("Name").Ne("").SortBy("Name")); err != nil {
		return nil, models.WrapError(models.ErrorKindConfigStoreIO, "list folders", err)
	}
	result := make([]*models.JobFolder, len(folders))
	for i := range folders {
		result[i] = &folders[i]
	}
	return result, nil
}

func (s *ConfigStore) Close() error {
	return s.db.Close()
}
