package watchdog

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/slamd-project/slamd/internal/interfaces"
	"github.com/slamd-project/slamd/internal/models"
)

// fakeScheduler is a minimal interfaces.Scheduler stand-in scoped to
// what the Watchdog exercises: List, Get, Fail, Now.
type fakeScheduler struct {
	mu     sync.Mutex
	jobs   map[string]*models.Job
	failed map[string]string
	now    time.Time
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		jobs:   make(map[string]*models.Job),
		failed: make(map[string]string),
		now:    time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeScheduler) Submit(job *models.Job) error { return nil }

func (f *fakeScheduler) Cancel(jobID string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return models.NewError(models.ErrorKindNotFound, jobID)
	}
	if job.State.IsTerminal() {
		return models.NewError(models.ErrorKindNotCancellable, jobID)
	}
	job.State = models.JobStateCancelled
	return nil
}

func (f *fakeScheduler) Fail(jobID string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok || job.State != models.JobStateRunning {
		return models.NewError(models.ErrorKindNotFound, jobID)
	}
	job.State = models.JobStateStoppedDueToError
	f.failed[jobID] = reason
	return nil
}

func (f *fakeScheduler) Disable(jobID string) error      { return nil }
func (f *fakeScheduler) Enable(jobID string) error       { return nil }
func (f *fakeScheduler) Remove(jobID string) error       { return nil }
func (f *fakeScheduler) Move(jobID, folder string) error { return nil }

func (f *fakeScheduler) Get(jobID string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, models.NewError(models.ErrorKindNotFound, jobID)
	}
	return job, nil
}

func (f *fakeScheduler) List(folder string) ([]*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]*models.Job, 0, len(f.jobs))
	for _, job := range f.jobs {
		result = append(result, job)
	}
	return result, nil
}

func (f *fakeScheduler) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) string {
	return ""
}
func (f *fakeScheduler) Unsubscribe(subscriptionID string) {}

func (f *fakeScheduler) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeScheduler) Shutdown(grace time.Duration) {}

func (f *fakeScheduler) put(job *models.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
}

var _ interfaces.Scheduler = (*fakeScheduler)(nil)

func durationSeconds(n int64) *int64 { return &n }

func TestWatchdog_ReapStuckJobs_FailsRunningJobPastDurationAndGrace(t *testing.T) {
	sched := newFakeScheduler()
	w := New(Config{StuckGrace: time.Minute}, sched, arbor.NewLogger())

	started := sched.Now().Add(-10 * time.Minute)
	sched.put(&models.Job{
		ID:              "job-stuck",
		State:           models.JobStateRunning,
		DurationSeconds: durationSeconds(60),
		ActualStartTime: &started,
	})

	w.Sweep()

	job, err := sched.Get("job-stuck")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateStoppedDueToError, job.State,
		"a job whose clients stopped acknowledging is an error, not a user stop")
	assert.Contains(t, sched.failed["job-stuck"], "stuck")
}

func TestWatchdog_ReapStuckJobs_LeavesRunningJobWithinGraceAlone(t *testing.T) {
	sched := newFakeScheduler()
	w := New(Config{StuckGrace: time.Minute}, sched, arbor.NewLogger())

	started := sched.Now().Add(-30 * time.Second)
	sched.put(&models.Job{
		ID:              "job-fresh",
		State:           models.JobStateRunning,
		DurationSeconds: durationSeconds(60),
		ActualStartTime: &started,
	})

	w.Sweep()

	job, err := sched.Get("job-fresh")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateRunning, job.State)
	assert.Empty(t, sched.failed)
}

func TestWatchdog_ReapStuckJobs_IgnoresUnboundedDurationJobs(t *testing.T) {
	sched := newFakeScheduler()
	w := New(Config{StuckGrace: time.Minute}, sched, arbor.NewLogger())

	started := sched.Now().Add(-24 * time.Hour)
	sched.put(&models.Job{
		ID:              "job-unbounded",
		State:           models.JobStateRunning,
		ActualStartTime: &started,
	})

	w.Sweep()

	job, err := sched.Get("job-unbounded")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateRunning, job.State)
}

func TestWatchdog_StartStop_RegistersAndStopsCronEntry(t *testing.T) {
	sched := newFakeScheduler()
	w := New(Config{Interval: time.Hour}, sched, arbor.NewLogger())

	require.NoError(t, w.Start())
	w.Stop()
}
