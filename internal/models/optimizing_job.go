package models

import "time"

// OptimizingJob is a search driver that schedules a sequence of child
// Jobs ("iterations") at increasing thread counts to optimize a scalar
// objective.
type OptimizingJob struct {
	Record

	ID   string `json:"id" badgerholdKey:"ID"`
	Name string `json:"name" validate:"required"`

	JobClassName string `json:"jobClassName" validate:"required"`
	JobGroup     string `json:"jobGroup,omitempty"`
	Description  string `json:"description,omitempty"`
	Comments     string `json:"comments,omitempty"`

	// Schedule template: all of Job's schedule fields except
	// ThreadsPerClient, which the search itself varies.
	StartTime               time.Time `json:"startTime"`
	DurationSeconds           *int64    `json:"durationSeconds,omitempty" validate:"omitempty,gt=0"`
	NumClients                int       `json:"numClients" validate:"gte=1"`
	RequestedClients           []string  `json:"requestedClients,omitempty"`
	ResourceMonitorClients      []string  `json:"resourceMonitorClients,omitempty"`
	MonitorClientsIfAvailable   bool      `json:"monitorClientsIfAvailable"`
	ThreadStartupDelayMs         int       `json:"threadStartupDelayMs" validate:"gte=0"`
	CollectionIntervalSeconds     int       `json:"collectionIntervalSeconds" validate:"gte=1"`
	Dependencies                  []string  `json:"dependencies,omitempty"`

	// Parameters carries the JobClass-specific payload copied onto
	// every iteration Job this OptimizingJob produces (see Job.Parameters).
	Parameters map[string]string `json:"parameters,omitempty"`

	// Search parameters
	MinThreads                 int           `json:"minThreads" validate:"gte=1"`
	MaxThreads                  *int          `json:"maxThreads,omitempty" validate:"omitempty,gtfield=MinThreads"`
	ThreadIncrement              int           `json:"threadIncrement" validate:"gte=1"`
	DelayBetweenIterations        time.Duration `json:"delayBetweenIterations"`
	MaxConsecutiveNonImproving     int           `json:"maxConsecutiveNonImproving" validate:"gte=0"`
	IncludeThreadsInDescription    bool          `json:"includeThreadsInDescription"`

	// Objective
	OptimizationAlgorithmName string                 `json:"optimizationAlgorithmName" validate:"required"`
	AlgorithmParameters         map[string]string      `json:"algorithmParameters,omitempty"`
	ReRunBestIteration           bool                   `json:"reRunBestIteration"`
	ReRunDurationSeconds          *int64                 `json:"reRunDurationSeconds,omitempty"`

	// State
	State JobState `json:"state"`

	// Execution record
	Iterations       []string `json:"iterations"` // JobIDs, in creation order
	ReRunIteration    string   `json:"reRunIteration,omitempty"`
	OptimalThreadCount int      `json:"optimalThreadCount,omitempty"`
	OptimalValue       float64  `json:"optimalValue,omitempty"`
	OptimalJobID        string   `json:"optimalJobId,omitempty"`
	PauseRequested       bool     `json:"pauseRequested"`

	ActualStartTime *time.Time `json:"actualStartTime,omitempty"`
	ActualStopTime  *time.Time `json:"actualStopTime,omitempty"`
	StopReason      string     `json:"stopReason,omitempty"`
}

// ExpectedThreadsForIteration returns the thread count iteration i must
// run at: MinThreads + i*ThreadIncrement.
func (o *OptimizingJob) ExpectedThreadsForIteration(i int) int {
	return o.MinThreads + i*o.ThreadIncrement
}

// ReRunDuration resolves the re-run iteration's duration:
// ReRunDurationSeconds if set, else the template duration.
func (o *OptimizingJob) ReRunDuration() *int64 {
	if o.ReRunDurationSeconds != nil {
		return o.ReRunDurationSeconds
	}
	return o.DurationSeconds
}
