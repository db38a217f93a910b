// Package scheduler owns the pending/running/recentlyCompleted
// collections and drives every Job state transition.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	plog "github.com/phuslu/log"
	"github.com/ternarybob/arbor"

	"github.com/slamd-project/slamd/internal/common"
	"github.com/slamd-project/slamd/internal/interfaces"
	"github.com/slamd-project/slamd/internal/models"
	"github.com/slamd-project/slamd/internal/registry"
)

// recentlyCompletedCapacity is the ring-buffer size for finished Jobs
// kept around for status display.
const recentlyCompletedCapacity = 10

// Scheduler implements interfaces.Scheduler. A single mutex guards the
// three collections; the tick loop runs in its own goroutine and takes
// the same lock, so Submit/Cancel/Get etc. never race with a
// state-transition pass.
type Scheduler struct {
	mu                sync.Mutex
	pending           []*models.Job
	running           map[string]*models.Job
	assignments       map[string][]string      // jobID -> clientIDs
	awaitingReport    map[string]map[string]struct{} // jobID -> clientIDs not yet terminal
	sawError          map[string]bool                // jobID -> any client reported Error
	stopRequested     map[string]models.JobState      // jobID -> terminal state once clients settle
	recentlyCompleted []*models.Job

	store      interfaces.ConfigStore
	registry   *registry.Registry
	dispatcher interfaces.JobDispatcher
	bus        interfaces.EventBus
	logger     arbor.ILogger

	tickInterval  time.Duration
	maxClientWait time.Duration

	inbox    chan interfaces.ClientReport
	shutdown chan struct{}
	stopped  chan struct{}
	now      func() time.Time
}

// Config bundles the Scheduler's tunables.
type Config struct {
	TickInterval  time.Duration
	MaxClientWait time.Duration
}

// New wires a Scheduler and starts its tick loop goroutine.
func New(cfg Config, store interfaces.ConfigStore, reg *registry.Registry, dispatcher interfaces.JobDispatcher, bus interfaces.EventBus, logger arbor.ILogger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.MaxClientWait <= 0 {
		cfg.MaxClientWait = 5 * time.Minute
	}

	s := &Scheduler{
		running:        make(map[string]*models.Job),
		assignments:    make(map[string][]string),
		awaitingReport: make(map[string]map[string]struct{}),
		sawError:       make(map[string]bool),
		stopRequested:  make(map[string]models.JobState),
		store:         store,
		registry:      reg,
		dispatcher:    dispatcher,
		bus:           bus,
		logger:        logger,
		tickInterval:  cfg.TickInterval,
		maxClientWait: cfg.MaxClientWait,
		inbox:         make(chan interfaces.ClientReport, 256),
		shutdown:      make(chan struct{}),
		stopped:       make(chan struct{}),
		now:           time.Now,
	}

	common.SafeGo(logger, "scheduler.loop", s.loop)
	return s
}

var _ interfaces.Scheduler = (*Scheduler)(nil)

func (s *Scheduler) Now() time.Time {
	return s.now()
}

// Report delivers an asynchronous client report into the scheduler's
// inbox. Safe to call from any transport goroutine; never blocks on
// scheduler-internal locks.
func (s *Scheduler) Report(report interfaces.ClientReport) {
	select {
	case s.inbox <- report:
	case <-s.shutdown:
	}
}

func (s *Scheduler) Submit(job *models.Job) error {
	if job.ID == "" {
		return models.NewError(models.ErrorKindInvalidValue, "job ID is required")
	}
	if job.State == "" {
		job.State = models.JobStateNotYetStarted
	}
	now := s.now()
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := s.store.SaveJob(job); err != nil {
		return err
	}

	s.mu.Lock()
	s.pending = append(s.pending, job)
	s.sortPendingLocked()
	s.mu.Unlock()

	return nil
}

func (s *Scheduler) Cancel(jobID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, job := s.findPendingLocked(jobID); job != nil {
		s.transitionLocked(job, models.JobStateCancelled, reason)
		s.pending = append(s.pending[:idx], s.pending[idx+1:]...)
		s.moveToRecentlyCompletedLocked(job)
		return nil
	}

	if job, ok := s.running[jobID]; ok {
		clientIDs := s.assignments[jobID]
		if err := s.dispatcher.DispatchStop(jobID, clientIDs); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("scheduler: dispatch stop failed during cancel")
		}
		job.StopReason = reason
		s.stopRequested[jobID] = models.JobStateStoppedByUser
		return nil // terminal transition happens once clients settle, via Report
	}

	return models.NewError(models.ErrorKindNotCancellable, jobID)
}

// Fail force-settles a running Job into StoppedDueToError without
// waiting for its clients to acknowledge. The watchdog uses it for
// Jobs whose clients stopped reporting; unsettled workers are told to
// stop and released by the settlement itself.
func (s *Scheduler) Fail(jobID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.running[jobID]
	if !ok {
		return models.NewError(models.ErrorKindNotFound, jobID)
	}
	s.finishRunningLocked(job, models.JobStateStoppedDueToError, reason)
	return nil
}

func (s *Scheduler) Disable(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, job := s.findPendingLocked(jobID)
	if job == nil {
		return models.NewError(models.ErrorKindNotPausable, jobID)
	}
	if job.State != models.JobStateNotYetStarted && job.State != models.JobStateDisabled {
		return models.NewError(models.ErrorKindNotPausable, jobID)
	}
	s.transitionLocked(job, models.JobStateDisabled, "")
	return nil
}

func (s *Scheduler) Enable(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, job := s.findPendingLocked(jobID)
	if job == nil {
		return models.NewError(models.ErrorKindNotPausable, jobID)
	}
	if job.State != models.JobStateDisabled {
		return models.NewError(models.ErrorKindNotPausable, jobID)
	}
	s.transitionLocked(job, models.JobStateNotYetStarted, "")
	return nil
}

func (s *Scheduler) Remove(jobID string) error {
	s.mu.Lock()
	if idx, job := s.findPendingLocked(jobID); job != nil {
		s.pending = append(s.pending[:idx], s.pending[idx+1:]...)
		s.mu.Unlock()
		return s.store.DeleteJob(jobID)
	}
	if _, ok := s.running[jobID]; ok {
		s.mu.Unlock()
		return models.NewError(models.ErrorKindNotCancellable, "cannot remove a running job, cancel it first")
	}
	for i, job := range s.recentlyCompleted {
		if job.ID == jobID {
			s.recentlyCompleted = append(s.recentlyCompleted[:i], s.recentlyCompleted[i+1:]...)
			s.mu.Unlock()
			return s.store.DeleteJob(jobID)
		}
	}
	s.mu.Unlock()

	// Terminal Jobs that aged out of the ring are still persisted.
	if _, err := s.store.GetJob(jobID); err != nil {
		return models.NewError(models.ErrorKindNotFound, jobID)
	}
	return s.store.DeleteJob(jobID)
}

func (s *Scheduler) Move(jobID, folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Terminal Jobs stay movable for as long as they are persisted, so
	// the lookup falls through to the ConfigStore once the in-memory
	// collections come up empty.
	job, err := s.lookupAnyLocked(jobID)
	if err != nil || job == nil {
		return models.NewError(models.ErrorKindNotFound, jobID)
	}
	job.FolderName = folder
	job.UpdatedAt = s.now()
	return s.store.SaveJob(job)
}

func (s *Scheduler) Get(jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, job := s.findPendingLocked(jobID); job != nil {
		return job, nil
	}
	if job, ok := s.running[jobID]; ok {
		return job, nil
	}
	for _, job := range s.recentlyCompleted {
		if job.ID == jobID {
			return job, nil
		}
	}
	return s.store.GetJob(jobID)
}

func (s *Scheduler) List(folder string) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*models.Job, 0, len(s.pending)+len(s.running)+len(s.recentlyCompleted))
	for _, job := range s.pending {
		if folder == "" || job.FolderName == folder {
			result = append(result, job)
		}
	}
	for _, job := range s.running {
		if folder == "" || job.FolderName == folder {
			result = append(result, job)
		}
	}
	for _, job := range s.recentlyCompleted {
		if folder == "" || job.FolderName == folder {
			result = append(result, job)
		}
	}
	return result, nil
}

func (s *Scheduler) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) string {
	return s.bus.Subscribe(eventType, handler)
}

func (s *Scheduler) Unsubscribe(subscriptionID string) {
	s.bus.Unsubscribe(subscriptionID)
}

// Shutdown stops the tick loop, giving running Jobs up to grace to
// reach a terminal state before forcing StoppedByShutdown.
func (s *Scheduler) Shutdown(grace time.Duration) {
	s.mu.Lock()
	for jobID, job := range s.running {
		clientIDs := s.assignments[jobID]
		if err := s.dispatcher.DispatchStop(jobID, clientIDs); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("scheduler: dispatch stop failed during shutdown")
		}
		job.StopReason = "shutdown"
		s.stopRequested[jobID] = models.JobStateStoppedByShutdown
	}
	s.mu.Unlock()

	deadline := time.After(grace)
	for {
		s.mu.Lock()
		remaining := len(s.running)
		s.mu.Unlock()
		if remaining == 0 {
			break
		}
		select {
		case <-deadline:
			s.forceShutdownRemaining()
			close(s.shutdown)
			<-s.stopped
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	close(s.shutdown)
	<-s.stopped
}

func (s *Scheduler) forceShutdownRemaining() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for jobID, job := range s.running {
		s.transitionLocked(job, models.JobStateStoppedByShutdown, "shutdown grace period elapsed")
		delete(s.running, jobID)
		delete(s.assignments, jobID)
		s.moveToRecentlyCompletedLocked(job)
	}
}

func (s *Scheduler) sortPendingLocked() {
	sort.SliceStable(s.pending, func(i, j int) bool {
		return s.pending[i].StartTime.Before(s.pending[j].StartTime)
	})
}

func (s *Scheduler) findPendingLocked(jobID string) (int, *models.Job) {
	for i, job := range s.pending {
		if job.ID == jobID {
			return i, job
		}
	}
	return -1, nil
}

func (s *Scheduler) transitionLocked(job *models.Job, newState models.JobState, reason string) {
	previous := job.State
	job.State = newState
	job.UpdatedAt = s.now()
	if reason != "" {
		job.StopReason = reason
	}
	if err := s.store.SaveJob(job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("scheduler: persist state transition failed")
	}
	if s.bus != nil {
		s.bus.Publish(context.Background(), interfaces.Event{
			Type: interfaces.EventJobStateChanged,
			Payload: interfaces.JobStateChangedEvent{
				JobID:    job.ID,
				Previous: string(previous),
				Current:  string(newState),
				Reason:   reason,
			},
		})
	}
}

func (s *Scheduler) moveToRecentlyCompletedLocked(job *models.Job) {
	s.recentlyCompleted = append(s.recentlyCompleted, job)
	if len(s.recentlyCompleted) > recentlyCompletedCapacity {
		s.recentlyCompleted = s.recentlyCompleted[len(s.recentlyCompleted)-recentlyCompletedCapacity:]
	}
}

func (s *Scheduler) loop() {
	defer close(s.stopped)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case report := <-s.inbox:
			s.handleReport(report)
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	var stillPending []*models.Job
	for _, job := range s.pending {
		if job.State == models.JobStateDisabled {
			stillPending = append(stillPending, job)
			continue
		}
		if job.StartTime.After(now) {
			stillPending = append(stillPending, job)
			continue
		}
		if !s.dependenciesTerminalLocked(job) {
			stillPending = append(stillPending, job)
			continue
		}

		clients, err := s.registry.PickIdle(models.ClientKindLoad, job.NumClients, job.RequestedClients)
		if err != nil {
			if models.KindOf(err) == models.ErrorKindRequestedClientUnavailable && now.Sub(job.StartTime) > s.maxClientWait {
				s.transitionLocked(job, models.JobStateStoppedDueToError, "requested client unavailable past maxClientWait")
				s.moveToRecentlyCompletedLocked(job)
				continue
			}
			stillPending = append(stillPending, job)
			continue
		}

		clientIDs := make([]string, len(clients))
		for i, c := range clients {
			clientIDs[i] = c.ClientID
			_ = s.registry.MarkAssigned(c.ClientID, job.ID)
		}

		if err := s.dispatcher.DispatchStart(job, clientIDs); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("scheduler: dispatch start failed")
			for _, id := range clientIDs {
				_ = s.registry.MarkIdle(id)
			}
			stillPending = append(stillPending, job)
			continue
		}

		startedAt := now
		job.ActualStartTime = &startedAt
		job.AssignedClients = clientIDs
		s.assignments[job.ID] = clientIDs
		awaiting := make(map[string]struct{}, len(clientIDs))
		for _, id := range clientIDs {
			awaiting[id] = struct{}{}
		}
		s.awaitingReport[job.ID] = awaiting
		s.transitionLocked(job, models.JobStateRunning, "")
		s.running[job.ID] = job
	}
	s.pending = stillPending

	for jobID, job := range s.running {
		// Runs once per tick per running Job, potentially thousands of
		// times a minute under load: phuslu/log's zero-allocation
		// writer is cheap enough for that rate where arbor's richer
		// builder stack is not.
		if job.ActualStartTime != nil {
			plog.Debug().Str("job_id", jobID).Dur("running_for", now.Sub(*job.ActualStartTime)).Msg("scheduler: tick scan")
		}

		if !job.HasDuration() || job.ActualStartTime == nil {
			continue
		}
		if _, alreadyStopping := s.stopRequested[jobID]; alreadyStopping {
			continue
		}
		if now.Sub(*job.ActualStartTime) >= job.Duration() {
			clientIDs := s.assignments[jobID]
			if err := s.dispatcher.DispatchStop(jobID, clientIDs); err != nil {
				s.logger.Warn().Err(err).Str("job_id", jobID).Msg("scheduler: dispatch stop for duration expiry failed")
			}
			job.StopReason = "duration elapsed"
			s.stopRequested[jobID] = models.JobStateStoppedDueToDuration
		}
	}
}

func (s *Scheduler) dependenciesTerminalLocked(job *models.Job) bool {
	for _, depID := range job.Dependencies {
		// The ID prefix minted by the allocator tells the two
		// namespaces apart: an opt- dependency is an OptimizingJob and
		// lives only in the ConfigStore, never in this scheduler's
		// collections.
		if strings.HasPrefix(depID, "opt-") {
			dep, err := s.store.GetOptimizingJob(depID)
			if err != nil || !dep.State.IsTerminal() {
				return false
			}
			continue
		}
		dep, err := s.lookupAnyLocked(depID)
		if err != nil || dep == nil || !dep.State.IsTerminal() {
			return false
		}
	}
	return true
}

func (s *Scheduler) lookupAnyLocked(jobID string) (*models.Job, error) {
	if _, job := s.findPendingLocked(jobID); job != nil {
		return job, nil
	}
	if job, ok := s.running[jobID]; ok {
		return job, nil
	}
	for _, job := range s.recentlyCompleted {
		if job.ID == jobID {
			return job, nil
		}
	}
	return s.store.GetJob(jobID)
}

// handleReport applies one asynchronous client report to the running
// Job it concerns.
func (s *Scheduler) handleReport(report interfaces.ClientReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.running[report.JobID]
	if !ok {
		return
	}

	switch report.Kind {
	case interfaces.ClientReportCompleted:
		_ = s.registry.MarkIdle(report.ClientID)
		delete(s.awaitingReport[job.ID], report.ClientID)

	case interfaces.ClientReportError:
		s.sawError[job.ID] = true
		_ = s.registry.MarkIdle(report.ClientID)
		delete(s.awaitingReport[job.ID], report.ClientID)

	case interfaces.ClientReportDisconnected:
		delete(s.awaitingReport[job.ID], report.ClientID)
		if _, stopping := s.stopRequested[job.ID]; stopping {
			// Already on its way to a terminal state; treat the
			// disconnect as a settlement, not a failure to replace.
			break
		}
		// A client that already worked this Job (it may have settled
		// and gone back to Idle) cannot stand in for the lost one, so
		// the replacement pick excludes the whole assignment set.
		replacement, err := s.registry.PickIdleExcluding(models.ClientKindLoad, 1, s.assignments[job.ID])
		if err != nil {
			s.finishRunningLocked(job, models.JobStateStoppedDueToError,
				fmt.Sprintf("client %s disconnected, no replacement available", report.ClientID))
			return
		}
		newID := replacement[0].ClientID
		if err := s.dispatcher.DispatchStart(job, []string{newID}); err != nil {
			s.finishRunningLocked(job, models.JobStateStoppedDueToError,
				fmt.Sprintf("client %s disconnected, dispatch to replacement %s failed", report.ClientID, newID))
			return
		}
		s.swapAssignedClientLocked(job, report.ClientID, newID)
		return
	}

	if len(report.Stats) > 0 {
		job.Stats = append(job.Stats, report.Stats...)
		job.HasStats = true
	}

	if len(s.awaitingReport[job.ID]) > 0 {
		return
	}

	if desired, stopping := s.stopRequested[job.ID]; stopping {
		s.finishRunningLocked(job, desired, job.StopReason)
		return
	}

	finalState := models.JobStateCompletedSuccessfully
	if s.sawError[job.ID] {
		finalState = models.JobStateCompletedWithErrors
	}
	s.finishRunningLocked(job, finalState, "")
}

func (s *Scheduler) swapAssignedClientLocked(job *models.Job, oldClientID, newClientID string) {
	clientIDs := s.assignments[job.ID]
	for i, id := range clientIDs {
		if id == oldClientID {
			clientIDs[i] = newClientID
		}
	}
	s.assignments[job.ID] = clientIDs
	job.AssignedClients = clientIDs
	_ = s.registry.MarkAssigned(newClientID, job.ID)

	awaiting := s.awaitingReport[job.ID]
	delete(awaiting, oldClientID)
	awaiting[newClientID] = struct{}{}
}

func (s *Scheduler) finishRunningLocked(job *models.Job, state models.JobState, reason string) {
	if awaiting := s.awaitingReport[job.ID]; len(awaiting) > 0 {
		// Clients that never settled are told to stop and released, so
		// a Job forced terminal does not strand its workers Assigned.
		ids := make([]string, 0, len(awaiting))
		for id := range awaiting {
			ids = append(ids, id)
		}
		if err := s.dispatcher.DispatchStop(job.ID, ids); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("scheduler: dispatch stop to unsettled clients failed")
		}
		for _, id := range ids {
			_ = s.registry.MarkIdle(id)
		}
	}
	delete(s.running, job.ID)
	delete(s.assignments, job.ID)
	delete(s.awaitingReport, job.ID)
	delete(s.sawError, job.ID)
	delete(s.stopRequested, job.ID)
	now := s.now()
	job.ActualStopTime = &now
	s.transitionLocked(job, state, reason)
	s.moveToRecentlyCompletedLocked(job)
}
