// Package models holds the entities the scheduling core persists and
// operates on: Job, OptimizingJob, JobFolder and the in-memory
// ClientEntry.
package models

import "time"

// JobState is the closed set of states a Job can occupy. All
// Completed*/Stopped*/Cancelled states are terminal.
type JobState string

const (
	JobStateUninitialized         JobState = "Uninitialized"
	JobStateNotYetStarted         JobState = "NotYetStarted"
	JobStateDisabled              JobState = "Disabled"
	JobStateRunning                JobState = "Running"
	JobStateCompletedSuccessfully  JobState = "CompletedSuccessfully"
	JobStateCompletedWithErrors    JobState = "CompletedWithErrors"
	JobStateStoppedByUser          JobState = "StoppedByUser"
	JobStateStoppedByShutdown      JobState = "StoppedByShutdown"
	JobStateStoppedDueToError      JobState = "StoppedDueToError"
	JobStateStoppedDueToDuration    JobState = "StoppedDueToDuration"
	JobStateStoppedDueToStopTime   JobState = "StoppedDueToStopTime"
	JobStateCancelled               JobState = "Cancelled"
)

// IsTerminal reports whether no further transitions are legal from s.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompletedSuccessfully, JobStateCompletedWithErrors,
		JobStateStoppedByUser, JobStateStoppedByShutdown,
		JobStateStoppedDueToError, JobStateStoppedDueToDuration,
		JobStateStoppedDueToStopTime, JobStateCancelled:
		return true
	default:
		return false
	}
}

// Record is the shared header embedded by both Job and OptimizingJob,
// factoring out the fields folder-move and listing code needs
// regardless of entity kind.
type Record struct {
	FolderName string    `json:"folderName,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Job is a single load-generation run.
type Job struct {
	Record

	ID   string `json:"id" badgerholdKey:"ID"`
	Name string `json:"name" validate:"required"`

	// Classification
	JobClassName string `json:"jobClassName" validate:"required"`
	JobGroup     string `json:"jobGroup,omitempty"`
	Description  string `json:"description,omitempty"`
	Comments     string `json:"comments,omitempty"`

	// Schedule
	StartTime                 time.Time `json:"startTime"`
	DurationSeconds            *int64    `json:"durationSeconds,omitempty" validate:"omitempty,gt=0"`
	NumClients                 int       `json:"numClients" validate:"gte=1"`
	RequestedClients            []string  `json:"requestedClients,omitempty"`
	ResourceMonitorClients       []string  `json:"resourceMonitorClients,omitempty"`
	MonitorClientsIfAvailable    bool      `json:"monitorClientsIfAvailable"`
	ThreadsPerClient             int       `json:"threadsPerClient" validate:"gte=1"`
	ThreadStartupDelayMs          int       `json:"threadStartupDelayMs" validate:"gte=0"`
	CollectionIntervalSeconds      int       `json:"collectionIntervalSeconds" validate:"gte=1"`
	Dependencies                  []string  `json:"dependencies,omitempty"`

	// Parameters carries the JobClass-specific payload dispatched to
	// clients alongside the Job; opaque to the scheduling core beyond
	// JobClass.Validate at schedule time.
	Parameters map[string]string `json:"parameters,omitempty"`

	// State
	State JobState `json:"state"`

	// Execution record
	ActualStartTime *time.Time `json:"actualStartTime,omitempty"`
	ActualStopTime  *time.Time `json:"actualStopTime,omitempty"`
	StopReason      string     `json:"stopReason,omitempty"`
	HasStats        bool       `json:"hasStats"`
	Stats           []byte     `json:"stats,omitempty"` // opaque to the core
	Notifications   []string   `json:"notifications,omitempty"`

	// ParentOptimizingJobID is set when this Job is an iteration owned
	// by an OptimizingJob. A Job is owned by at most one OptimizingJob.
	ParentOptimizingJobID string `json:"parentOptimizingJobId,omitempty"`

	// AssignedClients is the set of ClientIDs currently executing this
	// Job. Maintained by the scheduler, never persisted as source of
	// truth (the registry owns live assignment), but snapshotted here
	// for status display and crash recovery hints.
	AssignedClients []string `json:"assignedClients,omitempty"`
}

// Duration returns the configured run duration, or 0 if the Job runs
// until explicitly stopped.
func (j *Job) Duration() time.Duration {
	if j.DurationSeconds == nil {
		return 0
	}
	return time.Duration(*j.DurationSeconds) * time.Second
}

// HasDuration reports whether the Job has a bounded run length.
func (j *Job) HasDuration() bool {
	return j.DurationSeconds != nil
}
