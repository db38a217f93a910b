// Package access is the single façade every external surface calls
// through — nothing outside this package reaches the Scheduler,
// ClientRegistry or optimizer controllers directly.
package access

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/slamd-project/slamd/internal/clientmanager"
	"github.com/slamd-project/slamd/internal/interfaces"
	"github.com/slamd-project/slamd/internal/models"
	"github.com/slamd-project/slamd/internal/optimizer"
	"github.com/slamd-project/slamd/internal/registry"
)

// AccessPoints wires the scheduling core's collaborators behind the
// interfaces.AccessPoints contract: request validation, JobClass and
// OptimizationAlgorithm resolution, client-manager capacity planning,
// and OptimizingJobController lifecycle, before anything reaches the
// Scheduler.
type AccessPoints struct {
	scheduler  interfaces.Scheduler
	store      interfaces.ConfigStore
	ids        interfaces.IdAllocator
	registry   *registry.Registry
	clientMgr  *clientmanager.Controller
	jobClasses interfaces.JobClassRegistry
	algorithms interfaces.OptimizationAlgorithmRegistry
	reports    interfaces.ReportSink
	validate   *validator.Validate
	logger     arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	optimizers map[string]*optimizer.Controller
}

// New wires an AccessPoints over its collaborators. reports is the
// same ReportSink the transport layer delivers client reports to
// (internal/scheduler.Scheduler); DisconnectClient uses it to settle a
// Job's awaiting clients when a connection drops mid-run instead of
// gracefully finishing. Call Close when the server shuts down to stop
// any live OptimizingJobController goroutines.
func New(
	scheduler interfaces.Scheduler,
	store interfaces.ConfigStore,
	ids interfaces.IdAllocator,
	reg *registry.Registry,
	clientMgr *clientmanager.Controller,
	jobClasses interfaces.JobClassRegistry,
	algorithms interfaces.OptimizationAlgorithmRegistry,
	reports interfaces.ReportSink,
	logger arbor.ILogger,
) *AccessPoints {
	ctx, cancel := context.WithCancel(context.Background())
	return &AccessPoints{
		scheduler:  scheduler,
		store:      store,
		ids:        ids,
		registry:   reg,
		clientMgr:  clientMgr,
		jobClasses: jobClasses,
		algorithms: algorithms,
		reports:    reports,
		validate:   validator.New(),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		optimizers: make(map[string]*optimizer.Controller),
	}
}

var _ interfaces.AccessPoints = (*AccessPoints)(nil)

// Close cancels every live OptimizingJobController. It does not wait
// for them to settle; callers that need that should Cancel each
// OptimizingJob first and poll GetOptimizingJob for a terminal state.
func (a *AccessPoints) Close() {
	a.cancel()
}

// ScheduleJob validates job against its JobClass and dependency graph,
// ensures the fleet has capacity, then hands it to the Scheduler.
func (a *AccessPoints) ScheduleJob(job *models.Job) (string, error) {
	id, err := a.ids.NextJobID()
	if err != nil {
		return "", err
	}
	job.ID = id

	if err := a.validate.Struct(job); err != nil {
		return "", models.WrapError(models.ErrorKindInvalidJobConfig, "job template", err)
	}
	if len(job.RequestedClients) > job.NumClients {
		return "", models.NewError(models.ErrorKindInvalidJobConfig,
			"requestedClients cannot name more clients than numClients")
	}
	if err := a.validateJobClassAndGraph(job.JobClassName, job.FolderName, job.Parameters, job.ID, job.Dependencies); err != nil {
		return "", err
	}

	if err := a.clientMgr.EnsureCapacity(a.ctx, job.NumClients, len(job.ResourceMonitorClients), job.MonitorClientsIfAvailable); err != nil {
		return "", err
	}

	if err := a.scheduler.Submit(job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// ScheduleOptimizingJob validates the template, then starts one
// OptimizingJobController goroutine that drives its iteration search.
func (a *AccessPoints) ScheduleOptimizingJob(job *models.OptimizingJob) (string, error) {
	id, err := a.ids.NextOptimizingJobID()
	if err != nil {
		return "", err
	}
	job.ID = id

	if err := a.validate.Struct(job); err != nil {
		return "", models.WrapError(models.ErrorKindInvalidJobConfig, "optimizing job template", err)
	}
	if len(job.RequestedClients) > job.NumClients {
		return "", models.NewError(models.ErrorKindInvalidJobConfig,
			"requestedClients cannot name more clients than numClients")
	}
	if err := a.validateJobClassAndGraph(job.JobClassName, job.FolderName, job.Parameters, job.ID, job.Dependencies); err != nil {
		return "", err
	}

	algorithm, ok := a.algorithms.Lookup(job.OptimizationAlgorithmName)
	if !ok {
		return "", models.NewError(models.ErrorKindUnknownOptimizationAlgorithm, job.OptimizationAlgorithmName)
	}
	if !algorithm.AvailableWithJobClass(job.JobClassName) {
		return "", models.NewError(models.ErrorKindInvalidJobConfig,
			fmt.Sprintf("algorithm %s is not available with job class %s", job.OptimizationAlgorithmName, job.JobClassName))
	}
	if err := algorithm.Initialize(job, job.AlgorithmParameters); err != nil {
		return "", err
	}

	if err := a.clientMgr.EnsureCapacity(a.ctx, job.NumClients, len(job.ResourceMonitorClients), job.MonitorClientsIfAvailable); err != nil {
		return "", err
	}

	job.State = models.JobStateNotYetStarted
	if err := a.store.SaveOptimizingJob(job); err != nil {
		return "", err
	}

	controller := optimizer.New(job, a.scheduler, a.store, a.ids, algorithm, a.logger)

	a.mu.Lock()
	a.optimizers[job.ID] = controller
	a.mu.Unlock()

	go func() {
		controller.Run(a.ctx)
		a.mu.Lock()
		delete(a.optimizers, job.ID)
		a.mu.Unlock()
	}()

	return job.ID, nil
}

// validateJobClassAndGraph runs the checks go-playground/validator's
// struct tags cannot express: JobClass/Parameters validity, the
// target folder's existence, and the dependency graph.
func (a *AccessPoints) validateJobClassAndGraph(jobClassName, folder string, parameters map[string]string,
	selfID string, dependencies []string) error {

	class, ok := a.jobClasses.Lookup(jobClassName)
	if !ok {
		return models.NewError(models.ErrorKindUnknownJobClass, jobClassName)
	}
	if err := class.Validate(parameters); err != nil {
		return err
	}

	if folder != "" {
		if _, err := a.store.GetFolder(folder); err != nil {
			return models.NewError(models.ErrorKindUnknownFolder, folder)
		}
	}

	return a.checkDependencyCycle(selfID, dependencies)
}

// checkDependencyCycle walks the persisted dependency graph starting
// from selfID's own dependencies, failing if it ever reaches back to
// selfID (DuplicateDependencyCycle) or names an entity that exists in
// neither ID namespace (InvalidDependency). A dependency may be a Job
// or an OptimizingJob; both namespaces participate in the walk.
func (a *AccessPoints) checkDependencyCycle(selfID string, dependencies []string) error {
	if len(dependencies) == 0 {
		return nil
	}

	jobs, err := a.store.ListJobs("")
	if err != nil {
		return err
	}
	optJobs, err := a.store.ListOptimizingJobs("")
	if err != nil {
		return err
	}
	depsByID := make(map[string][]string, len(jobs)+len(optJobs))
	for _, job := range jobs {
		depsByID[job.ID] = job.Dependencies
	}
	for _, job := range optJobs {
		depsByID[job.ID] = job.Dependencies
	}

	visited := make(map[string]bool)
	var walk func(id string) error
	walk = func(id string) error {
		if id == selfID {
			return models.NewError(models.ErrorKindDuplicateDependencyCycle, selfID)
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		deps, ok := depsByID[id]
		if !ok {
			return models.NewError(models.ErrorKindInvalidDependency, id)
		}
		for _, dep := range deps {
			if err := walk(dep); err != nil {
				return err
			}
		}
		return nil
	}

	for _, dep := range dependencies {
		if err := walk(dep); err != nil {
			return err
		}
	}
	return nil
}

func (a *AccessPoints) CancelJob(jobID, reason string) error {
	return a.scheduler.Cancel(jobID, reason)
}

func (a *AccessPoints) CancelOptimizingJob(jobID, reason string) error {
	controller, err := a.runningOptimizer(jobID)
	if err != nil {
		return err
	}
	controller.Cancel()
	return nil
}

func (a *AccessPoints) PauseOptimizingJob(jobID string) error {
	controller, err := a.runningOptimizer(jobID)
	if err != nil {
		return err
	}
	controller.Pause()
	return nil
}

func (a *AccessPoints) UnpauseOptimizingJob(jobID string) error {
	controller, err := a.runningOptimizer(jobID)
	if err != nil {
		return err
	}
	controller.Unpause()
	return nil
}

func (a *AccessPoints) runningOptimizer(jobID string) (*optimizer.Controller, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	controller, ok := a.optimizers[jobID]
	if !ok {
		return nil, models.NewError(models.ErrorKindNotFound, jobID)
	}
	return controller, nil
}

func (a *AccessPoints) MoveJob(jobID, folder string) error {
	if _, err := a.store.GetFolder(folder); err != nil {
		return models.NewError(models.ErrorKindUnknownFolder, folder)
	}
	return a.scheduler.Move(jobID, folder)
}

// MoveOptimizingJob moves job, and — when includeIterations is set —
// every one of its child iterations, into folder. The move is
// all-or-nothing: iterations are moved first, and if any of them fails
// the ones already moved are rolled back to job's previous folder
// before the error is returned, so the parent's folder is only ever
// written once every iteration has landed in the new folder.
func (a *AccessPoints) MoveOptimizingJob(jobID, folder string, includeIterations bool) error {
	if _, err := a.store.GetFolder(folder); err != nil {
		return models.NewError(models.ErrorKindUnknownFolder, folder)
	}

	job, err := a.store.GetOptimizingJob(jobID)
	if err != nil {
		return models.NewError(models.ErrorKindNotFound, jobID)
	}
	previousFolder := job.FolderName

	moved := make([]string, 0, len(job.Iterations))
	if includeIterations {
		for _, iterationID := range job.Iterations {
			if err := a.scheduler.Move(iterationID, folder); err != nil {
				a.rollbackIterationMoves(moved, previousFolder)
				return fmt.Errorf("access: move iteration %s: %w", iterationID, err)
			}
			moved = append(moved, iterationID)
		}
	}

	job.FolderName = folder
	if err := a.store.SaveOptimizingJob(job); err != nil {
		a.rollbackIterationMoves(moved, previousFolder)
		return err
	}
	return nil
}

func (a *AccessPoints) rollbackIterationMoves(moved []string, previousFolder string) {
	for _, iterationID := range moved {
		if err := a.scheduler.Move(iterationID, previousFolder); err != nil {
			a.logger.Error().Err(err).Str("job_id", iterationID).Msg("access: rollback of iteration move failed, state may be inconsistent")
		}
	}
}

func (a *AccessPoints) RemoveJob(jobID string) error {
	return a.scheduler.Remove(jobID)
}

// RemoveOptimizingJob removes job, and — when includeIterations is set
// — every iteration Job it produced. If any iteration fails to remove,
// the parent is left in place rather than deleted out from under
// iterations that are still live.
func (a *AccessPoints) RemoveOptimizingJob(jobID string, includeIterations bool) error {
	a.mu.Lock()
	if _, stillRunning := a.optimizers[jobID]; stillRunning {
		a.mu.Unlock()
		return models.NewError(models.ErrorKindNotCancellable, fmt.Sprintf("%s: cancel before removing", jobID))
	}
	a.mu.Unlock()

	job, err := a.store.GetOptimizingJob(jobID)
	if err != nil {
		return models.NewError(models.ErrorKindNotFound, jobID)
	}

	if includeIterations {
		for _, iterationID := range job.Iterations {
			if err := a.scheduler.Remove(iterationID); err != nil {
				return fmt.Errorf("access: remove iteration %s: %w", iterationID, err)
			}
		}
	}
	return a.store.DeleteOptimizingJob(jobID)
}

func (a *AccessPoints) GetJob(jobID string) (*models.Job, error) {
	return a.scheduler.Get(jobID)
}

func (a *AccessPoints) GetOptimizingJob(jobID string) (*models.OptimizingJob, error) {
	return a.store.GetOptimizingJob(jobID)
}

// ListJobs reads the ConfigStore rather than the scheduler's in-memory
// collections: the recently-completed ring is bounded, but a listing
// must cover every persisted Job.
func (a *AccessPoints) ListJobs(folder string) ([]*models.Job, error) {
	return a.store.ListJobs(folder)
}

func (a *AccessPoints) ListOptimizingJobs(folder string) ([]*models.OptimizingJob, error) {
	return a.store.ListOptimizingJobs(folder)
}

// ConnectClient admits req into the ClientRegistry after validating
// its self-reported identity.
func (a *AccessPoints) ConnectClient(req interfaces.ConnectRequest) error {
	if err := a.validate.Struct(req); err != nil {
		return models.WrapError(models.ErrorKindInvalidValue, "connect request", err)
	}

	entry := &models.ClientEntry{
		ClientID:   req.ClientID,
		Kind:       models.ClientKind(req.Kind),
		Address:    req.Address,
		MaxClients: req.MaxClients,
	}
	return a.registry.Register(entry)
}

// DisconnectClient removes clientID from the ClientRegistry. The
// connection is already gone by the time transport calls this (see
// internal/transport/ws.Hub's close handler), so a client with
// in-flight work is reported to the Scheduler as lost — settling its
// Job's wait for that client instead of leaving it blocked forever —
// before the entry is removed.
func (a *AccessPoints) DisconnectClient(clientID string) error {
	entry, ok := a.registry.Get(clientID)
	if !ok {
		return models.NewError(models.ErrorKindNotFound, clientID)
	}
	if entry.Status != models.ClientStatusIdle && entry.AssignedJobID != "" && a.reports != nil {
		a.reports.Report(interfaces.ClientReport{
			JobID:    entry.AssignedJobID,
			ClientID: clientID,
			Kind:     interfaces.ClientReportDisconnected,
		})
	}
	a.registry.Unregister(clientID)
	return nil
}
