// Package optimizer runs an OptimizingJob's thread-count search as one
// cooperative goroutine per live OptimizingJob, suspending on child-Job
// completion events published by the Scheduler rather than polling.
package optimizer

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/slamd-project/slamd/internal/interfaces"
	"github.com/slamd-project/slamd/internal/models"
)

// shouldStopper is satisfied by an OptimizationAlgorithm that also
// implements the optional early-termination hook; algorithms that
// don't need it simply don't implement it.
type shouldStopper interface {
	ShouldStop() bool
}

var errCancelled = fmt.Errorf("optimizer: optimizing job cancelled")

// Controller drives one OptimizingJob's iteration loop: schedule a
// child at the current thread count, wait for it to settle, score it,
// decide whether to climb or stop. Construct one per live
// OptimizingJob and run it in its own goroutine via Run.
type Controller struct {
	mu     sync.Mutex
	job    *models.OptimizingJob
	paused bool
	unpause chan struct{}

	cancelOnce      sync.Once
	cancelRequested chan struct{}
	doneOnce        sync.Once
	done            chan struct{}

	scheduler interfaces.Scheduler
	store     interfaces.ConfigStore
	ids       interfaces.IdAllocator
	algorithm interfaces.OptimizationAlgorithm
	logger    arbor.ILogger

	// StrictSourceParity: when true, a zero reRunDurationSeconds is
	// also treated as "use the template duration" rather than as an
	// explicit zero-length re-run, matching the historical behavior
	// some deployments rely on. Default false.
	StrictSourceParity bool
}

// New wires a Controller for job. job.State should be NotYetStarted;
// Run transitions it to Running on entry.
func New(job *models.OptimizingJob, scheduler interfaces.Scheduler, store interfaces.ConfigStore, ids interfaces.IdAllocator, algorithm interfaces.OptimizationAlgorithm, logger arbor.ILogger) *Controller {
	return &Controller{
		job:             job,
		unpause:         make(chan struct{}),
		cancelRequested: make(chan struct{}),
		done:            make(chan struct{}),
		scheduler:       scheduler,
		store:           store,
		ids:             ids,
		algorithm:       algorithm,
		logger:          logger,
	}
}

// Done returns a channel closed once Run has reached a terminal state.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Job returns a snapshot of the controller's OptimizingJob record.
func (c *Controller) Job() *models.OptimizingJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := *c.job
	return &snapshot
}

// Cancel requests the running search stop at its next suspension
// point; the loop settles with State Cancelled.
func (c *Controller) Cancel() {
	c.cancelOnce.Do(func() { close(c.cancelRequested) })
}

// Pause requests that the next scheduled iteration be created Disabled
// and held there until Unpause is called.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
	c.job.PauseRequested = true
}

// Unpause releases a child iteration currently held Disabled by Pause.
func (c *Controller) Unpause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	c.job.PauseRequested = false
	close(c.unpause)
	c.unpause = make(chan struct{})
}

// Run executes the iteration loop until termination, persisting the
// OptimizingJob record after every state change. It returns once the
// OptimizingJob has reached a terminal state; callers typically invoke
// it as `go controller.Run(ctx)`.
func (c *Controller) Run(ctx context.Context) {
	defer c.doneOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	c.job.State = models.JobStateRunning
	started := c.scheduler.Now()
	c.job.ActualStartTime = &started
	c.mu.Unlock()
	c.persist()

	t := c.job.MinThreads
	var previousChildID string
	var bestValue float64
	haveBest := false
	nonImproving := 0
	anySucceeded := false
	anyErrored := false

	finalState := models.JobStateCompletedSuccessfully
	finalReason := ""

loop:
	for {
		select {
		case <-c.cancelRequested:
			finalState, finalReason = models.JobStateCancelled, "cancelled"
			break loop
		case <-ctx.Done():
			finalState, finalReason = models.JobStateCancelled, "context cancelled"
			break loop
		default:
		}

		child, err := c.scheduleChild(ctx, t, previousChildID)
		if err != nil {
			finalState, finalReason = models.JobStateStoppedDueToError, err.Error()
			break loop
		}
		previousChildID = child.ID

		final, err := c.waitForTerminal(ctx, child.ID)
		if err != nil {
			finalState, finalReason = models.JobStateCancelled, "cancelled while waiting for iteration"
			break loop
		}

		if final.State == models.JobStateCompletedSuccessfully || final.State == models.JobStateCompletedWithErrors {
			anySucceeded = true
		} else {
			anyErrored = true
		}

		value, scoreErr := c.algorithm.Score(final)
		improved := false
		if scoreErr != nil {
			c.logger.Warn().Err(scoreErr).Str("job_id", final.ID).Msg("optimizer: iteration not scorable, treating as non-improving")
		} else if !haveBest || c.algorithm.IsImprovement(value, bestValue) {
			improved = true
		}

		if improved {
			bestValue, haveBest = value, true
			c.mu.Lock()
			c.job.OptimalThreadCount = t
			c.job.OptimalValue = value
			c.job.OptimalJobID = final.ID
			c.mu.Unlock()
			nonImproving = 0
		} else {
			nonImproving++
		}
		c.persist()

		stop := nonImproving > c.job.MaxConsecutiveNonImproving
		if c.job.MaxThreads != nil && t+c.job.ThreadIncrement > *c.job.MaxThreads {
			stop = true
		}
		if stopper, ok := c.algorithm.(shouldStopper); ok && stopper.ShouldStop() {
			stop = true
		}
		if stop {
			break loop
		}
		t += c.job.ThreadIncrement
	}

	if finalState != models.JobStateCancelled && c.job.ReRunBestIteration && haveBest {
		if err := c.scheduleRerun(ctx); err != nil {
			c.logger.Warn().Err(err).Str("optimizing_job_id", c.job.ID).Msg("optimizer: re-run iteration failed")
		}
	}

	if finalState == models.JobStateCompletedSuccessfully && anyErrored && !anySucceeded {
		finalState = models.JobStateCompletedWithErrors
	}

	c.mu.Lock()
	c.job.State = finalState
	c.job.StopReason = finalReason
	stopped := c.scheduler.Now()
	c.job.ActualStopTime = &stopped
	c.mu.Unlock()
	c.persist()
}

func (c *Controller) scheduleChild(ctx context.Context, threads int, previousChildID string) (*models.Job, error) {
	id, err := c.ids.NextJobID()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	startTime := c.scheduler.Now()
	if previousChildID != "" {
		startTime = startTime.Add(c.job.DelayBetweenIterations)
	}
	description := c.job.Description
	if c.job.IncludeThreadsInDescription {
		description = fmt.Sprintf("%s (%d threads)", description, threads)
	}
	var deps []string
	if previousChildID != "" {
		deps = []string{previousChildID}
	}
	child := &models.Job{
		ID:                        id,
		Name:                      fmt.Sprintf("%s-iter-%d", c.job.Name, threads),
		Record:                    models.Record{FolderName: c.job.FolderName},
		JobClassName:              c.job.JobClassName,
		JobGroup:                  c.job.JobGroup,
		Description:               description,
		Comments:                  c.job.Comments,
		StartTime:                 startTime,
		DurationSeconds:           c.job.DurationSeconds,
		NumClients:                c.job.NumClients,
		RequestedClients:          c.job.RequestedClients,
		ResourceMonitorClients:    c.job.ResourceMonitorClients,
		MonitorClientsIfAvailable: c.job.MonitorClientsIfAvailable,
		ThreadsPerClient:          threads,
		ThreadStartupDelayMs:      c.job.ThreadStartupDelayMs,
		CollectionIntervalSeconds: c.job.CollectionIntervalSeconds,
		Dependencies:              deps,
		Parameters:                c.job.Parameters,
		ParentOptimizingJobID:     c.job.ID,
	}
	paused := c.paused
	if paused {
		// Created Disabled, not merely disabled after the fact — the
		// scheduler must never get a tick's chance to dispatch a child
		// whose parent search is paused.
		child.State = models.JobStateDisabled
	}
	c.mu.Unlock()

	if err := c.scheduler.Submit(child); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.job.Iterations = append(c.job.Iterations, child.ID)
	c.mu.Unlock()
	c.persist()

	if paused {
		if err := c.awaitUnpause(ctx); err != nil {
			return child, err
		}
		if err := c.scheduler.Enable(child.ID); err != nil {
			return child, err
		}
	}

	return child, nil
}

func (c *Controller) awaitUnpause(ctx context.Context) error {
	c.mu.Lock()
	if !c.paused {
		// Unpause won the race between the child's submission and this
		// wait; the channel captured below would never close.
		c.mu.Unlock()
		return nil
	}
	ch := c.unpause
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.cancelRequested:
		return errCancelled
	}
}

// waitForTerminal suspends until childID reaches a terminal state,
// woken by the Scheduler's event bus rather than polling.
func (c *Controller) waitForTerminal(ctx context.Context, childID string) (*models.Job, error) {
	if job, err := c.scheduler.Get(childID); err == nil && job.State.IsTerminal() {
		return job, nil
	}

	notify := make(chan struct{}, 1)
	subID := c.scheduler.Subscribe(interfaces.EventJobStateChanged, func(_ context.Context, event interfaces.Event) {
		payload, ok := event.Payload.(interfaces.JobStateChangedEvent)
		if !ok || payload.JobID != childID || !models.JobState(payload.Current).IsTerminal() {
			return
		}
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	defer c.scheduler.Unsubscribe(subID)

	// Close the race between the terminal-state check above and the
	// subscription taking effect.
	if job, err := c.scheduler.Get(childID); err == nil && job.State.IsTerminal() {
		return job, nil
	}

	select {
	case <-notify:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.cancelRequested:
		return nil, errCancelled
	}
	return c.scheduler.Get(childID)
}

func (c *Controller) scheduleRerun(ctx context.Context) error {
	id, err := c.ids.NextJobID()
	if err != nil {
		return err
	}

	c.mu.Lock()
	duration := c.job.ReRunDuration()
	if c.StrictSourceParity && duration != nil && *duration == 0 {
		duration = c.job.DurationSeconds
	}
	child := &models.Job{
		ID:                        id,
		Name:                      fmt.Sprintf("%s-rerun", c.job.Name),
		Record:                    models.Record{FolderName: c.job.FolderName},
		JobClassName:              c.job.JobClassName,
		JobGroup:                  c.job.JobGroup,
		Description:               c.job.Description,
		Comments:                  c.job.Comments,
		StartTime:                 c.scheduler.Now(),
		DurationSeconds:           duration,
		NumClients:                c.job.NumClients,
		RequestedClients:          c.job.RequestedClients,
		ResourceMonitorClients:    c.job.ResourceMonitorClients,
		MonitorClientsIfAvailable: c.job.MonitorClientsIfAvailable,
		ThreadsPerClient:          c.job.OptimalThreadCount,
		ThreadStartupDelayMs:      c.job.ThreadStartupDelayMs,
		CollectionIntervalSeconds: c.job.CollectionIntervalSeconds,
		Parameters:                c.job.Parameters,
		ParentOptimizingJobID:     c.job.ID,
	}
	c.mu.Unlock()

	if err := c.scheduler.Submit(child); err != nil {
		return err
	}

	c.mu.Lock()
	c.job.ReRunIteration = child.ID
	c.mu.Unlock()
	c.persist()

	_, err = c.waitForTerminal(ctx, child.ID)
	return err
}

func (c *Controller) persist() {
	c.mu.Lock()
	snapshot := *c.job
	c.mu.Unlock()
	if err := c.store.SaveOptimizingJob(&snapshot); err != nil {
		c.logger.Error().Err(err).Str("optimizing_job_id", c.job.ID).Msg("optimizer: persist failed")
	}
}
