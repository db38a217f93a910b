package interfaces

import (
	"time"

	"github.com/slamd-project/slamd/internal/models"
)

// Scheduler owns the pending/running/recentlyCompleted collections and
// the single tick loop that moves Jobs between them. AccessPoints and
// the OptimizingJobController only ever reach the scheduler through
// this interface — nothing outside internal/scheduler mutates a Job's
// State directly.
type Scheduler interface {
	// Submit enqueues job into pending. job.State must be
	// Uninitialized, NotYetStarted or Disabled, and job.ID must
	// already be set — minting IDs (via IdAllocator) is the caller's
	// job, not the scheduler's.
	Submit(job *models.Job) error

	// Cancel requests job stop immediately. Returns
	// ErrorKindNotCancellable if the job is already terminal.
	Cancel(jobID string, reason string) error

	// Fail force-settles a running Job into StoppedDueToError without
	// waiting for client acknowledgements. Used by the watchdog when a
	// Job's clients stopped reporting.
	Fail(jobID string, reason string) error

	// Disable/Enable implement OptimizingJob pause/unpause by toggling
	// a pending Job's Disabled state without removing it from pending.
	Disable(jobID string) error
	Enable(jobID string) error

	// Remove deletes a terminal or not-yet-started Job from every
	// collection and from the ConfigStore.
	Remove(jobID string) error

	// Move reassigns job to a different folder. Folder must exist.
	Move(jobID, folder string) error

	Get(jobID string) (*models.Job, error)
	List(folder string) ([]*models.Job, error)

	// Subscribe registers handler for job-lifecycle events; see
	// EventBus for the event types published.
	Subscribe(eventType EventType, handler EventHandler) string
	Unsubscribe(subscriptionID string)

	// Now lets tests and the watchdog reason about elapsed durations
	// without reaching for time.Now directly.
	Now() time.Time

	// Shutdown stops the tick loop, giving running Jobs up to grace to
	// reach a terminal state before forcing StoppedByShutdown.
	Shutdown(grace time.Duration)
}
