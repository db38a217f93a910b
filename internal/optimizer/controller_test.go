package optimizer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/slamd-project/slamd/internal/events"
	"github.com/slamd-project/slamd/internal/interfaces"
	"github.com/slamd-project/slamd/internal/models"
)

// fakeScheduler is a minimal interfaces.Scheduler driven directly by
// the test: onSubmit, if set, runs synchronously inside Submit and
// decides how (and whether) the child eventually settles.
type fakeScheduler struct {
	mu       sync.Mutex
	jobs     map[string]*models.Job
	bus      *events.Bus
	onSubmit func(job *models.Job)
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: make(map[string]*models.Job), bus: events.NewBus(arbor.NewLogger())}
}

func (f *fakeScheduler) Submit(job *models.Job) error {
	if job.State == "" {
		job.State = models.JobStateNotYetStarted
	}
	f.mu.Lock()
	f.jobs[job.ID] = job
	f.mu.Unlock()
	if f.onSubmit != nil {
		f.onSubmit(job)
	}
	return nil
}

func (f *fakeScheduler) Cancel(jobID, reason string) error {
	return f.setState(jobID, models.JobStateCancelled, reason)
}

func (f *fakeScheduler) Fail(jobID, reason string) error {
	return f.setState(jobID, models.JobStateStoppedDueToError, reason)
}

func (f *fakeScheduler) Disable(jobID string) error {
	return f.setState(jobID, models.JobStateDisabled, "")
}

func (f *fakeScheduler) Enable(jobID string) error {
	return f.setState(jobID, models.JobStateNotYetStarted, "")
}

func (f *fakeScheduler) setState(jobID string, state models.JobState, reason string) error {
	f.mu.Lock()
	job, ok := f.jobs[jobID]
	if !ok {
		f.mu.Unlock()
		return models.NewError(models.ErrorKindNotFound, jobID)
	}
	previous := job.State
	job.State = state
	f.mu.Unlock()

	f.bus.Publish(context.Background(), interfaces.Event{
		Type: interfaces.EventJobStateChanged,
		Payload: interfaces.JobStateChangedEvent{
			JobID: jobID, Previous: string(previous), Current: string(state), Reason: reason,
		},
	})
	return nil
}

func (f *fakeScheduler) Remove(jobID string) error { return nil }
func (f *fakeScheduler) Move(jobID, folder string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[jobID]; ok {
		job.FolderName = folder
	}
	return nil
}

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
	return f.bus.Subscribe(eventType, handler)
}
func (f *fakeScheduler) Unsubscribe(id string) { f.bus.Unsubscribe(id) }
func (f *fakeScheduler) Now() time.Time        { return time.Now() }
func (f *fakeScheduler) Shutdown(time.Duration) {}

// complete marks jobID terminal with state and stats, publishing the
// same event the real Scheduler would once all of a Job's clients
// settle.
func (f *fakeScheduler) complete(jobID string, state models.JobState, stats string) {
	f.mu.Lock()
	job := f.jobs[jobID]
	previous := job.State
	job.State = state
	if stats != "" {
		job.Stats = []byte(stats)
		job.HasStats = true
	}
	f.mu.Unlock()

	f.bus.Publish(context.Background(), interfaces.Event{
		Type: interfaces.EventJobStateChanged,
		Payload: interfaces.JobStateChangedEvent{
			JobID: jobID, Previous: string(previous), Current: string(state),
		},
	})
}

var _ interfaces.Scheduler = (*fakeScheduler)(nil)

type fakeIDAllocator struct {
	mu sync.Mutex
	n  int
}

func (a *fakeIDAllocator) NextJobID() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.n++
	return fmt.Sprintf("job-%d", a.n), nil
}
func (a *fakeIDAllocator) NextOptimizingJobID() (string, error) { return "", nil }
func (a *fakeIDAllocator) NextClientID() (string, error)        { return "", nil }

var _ interfaces.IdAllocator = (*fakeIDAllocator)(nil)

// fakeConfigStore only needs to absorb SaveOptimizingJob calls; every
// other ConfigStore method is unreachable from the optimizer.
type fakeConfigStore struct {
	mu   sync.Mutex
	saved []*models.OptimizingJob
}

func (f *fakeConfigStore) SaveOptimizingJob(job *models.OptimizingJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := *job
	f.saved = append(f.saved, &snapshot)
	return nil
}
func (f *fakeConfigStore) GetOptimizingJob(string) (*models.OptimizingJob, error) {
	return nil, models.NewError(models.ErrorKindNotFound, "")
}
func (f *fakeConfigStore) DeleteOptimizingJob(string) error                        { return nil }
func (f *fakeConfigStore) ListOptimizingJobs(string) ([]*models.OptimizingJob, error) { return nil, nil }
func (f *fakeConfigStore) SaveJob(*models.Job) error                               { return nil }
func (f *fakeConfigStore) GetJob(string) (*models.Job, error) {
	return nil, models.NewError(models.ErrorKindNotFound, "")
}
func (f *fakeConfigStore) DeleteJob(string) error                    { return nil }
func (f *fakeConfigStore) ListJobs(string) ([]*models.Job, error)    { return nil, nil }
func (f *fakeConfigStore) SaveFolder(*models.JobFolder) error        { return nil }
func (f *fakeConfigStore) GetFolder(string) (*models.JobFolder, error) {
	return nil, models.NewError(models.ErrorKindNotFound, "")
}
func (f *fakeConfigStore) DeleteFolder(string) error                { return nil }
func (f *fakeConfigStore) ListFolders() ([]*models.JobFolder, error) { return nil, nil }
func (f *fakeConfigStore) Close() error                              { return nil }

var _ interfaces.ConfigStore = (*fakeConfigStore)(nil)

// scriptedAlgorithm returns a fixed sequence of scores, one per call,
// and treats "higher is better".
type scriptedAlgorithm struct {
	mu     sync.Mutex
	values []float64
	i      int
}

func (a *scriptedAlgorithm) Name() string                                   { return "scripted" }
func (a *scriptedAlgorithm) AvailableWithJobClass(string) bool              { return true }
func (a *scriptedAlgorithm) ParameterStubs() []interfaces.ParameterStub    { return nil }
func (a *scriptedAlgorithm) Initialize(*models.OptimizingJob, map[string]string) error { return nil }
func (a *scriptedAlgorithm) Score(job *models.Job) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v := a.values[a.i]
	a.i++
	return v, nil
}
func (a *scriptedAlgorithm) IsImprovement(candidate, currentBest float64) bool {
	return candidate > currentBest
}

// autoCompleteOnSubmit wires f so every submitted child settles
// asynchronously, forcing the controller's wait to go through the
// Subscribe path rather than the Get-before-subscribe fast path.
func autoCompleteOnSubmit(f *fakeScheduler) {
	f.onSubmit = func(job *models.Job) {
		go func() {
			time.Sleep(2 * time.Millisecond)
			f.complete(job.ID, models.JobStateCompletedSuccessfully, "1")
		}()
	}
}

func TestController_Run_StopsOnFirstNonImprovingIteration(t *testing.T) {
	sched := newFakeScheduler()
	autoCompleteOnSubmit(sched)
	store := &fakeConfigStore{}
	algorithm := &scriptedAlgorithm{values: []float64{10, 20, 15}}

	job := &models.OptimizingJob{
		ID: "opt-1", Name: "search", MinThreads: 1, ThreadIncrement: 1,
		MaxConsecutiveNonImproving: 0,
	}
	c := New(job, sched, store, &fakeIDAllocator{}, algorithm, arbor.NewLogger())

	c.Run(context.Background())

	assert.Equal(t, models.JobStateCompletedSuccessfully, job.State)
	assert.Len(t, job.Iterations, 3)
	assert.Equal(t, 2, job.OptimalThreadCount)
	assert.Equal(t, 20.0, job.OptimalValue)
}

func TestController_Run_StopsAtMaxThreads(t *testing.T) {
	sched := newFakeScheduler()
	autoCompleteOnSubmit(sched)
	store := &fakeConfigStore{}
	maxThreads := 2
	algorithm := &scriptedAlgorithm{values: []float64{5, 6, 7, 8}}

	job := &models.OptimizingJob{
		ID: "opt-1", Name: "search", MinThreads: 1, ThreadIncrement: 1,
		MaxThreads: &maxThreads, MaxConsecutiveNonImproving: 100,
	}
	c := New(job, sched, store, &fakeIDAllocator{}, algorithm, arbor.NewLogger())

	c.Run(context.Background())

	assert.Equal(t, models.JobStateCompletedSuccessfully, job.State)
	assert.Len(t, job.Iterations, 2, "stops once t+increment exceeds maxThreads")
}

func TestController_Run_PauseHoldsChildDisabledUntilUnpause(t *testing.T) {
	sched := newFakeScheduler()
	store := &fakeConfigStore{}
	maxThreads := 4
	algorithm := &scriptedAlgorithm{values: []float64{5}}

	job := &models.OptimizingJob{
		ID: "opt-1", Name: "search", MinThreads: 4, ThreadIncrement: 1,
		MaxThreads: &maxThreads, MaxConsecutiveNonImproving: 100,
	}
	c := New(job, sched, store, &fakeIDAllocator{}, algorithm, arbor.NewLogger())
	c.Pause()

	go c.Run(context.Background())

	require.Eventually(t, func() bool {
		sched.mu.Lock()
		defer sched.mu.Unlock()
		j, ok := sched.jobs["job-1"]
		return ok && j.State == models.JobStateDisabled
	}, time.Second, time.Millisecond, "child should be created Disabled while paused")

	c.Unpause()

	require.Eventually(t, func() bool {
		sched.mu.Lock()
		defer sched.mu.Unlock()
		j, ok := sched.jobs["job-1"]
		return ok && j.State != models.JobStateDisabled
	}, time.Second, time.Millisecond, "child should leave Disabled once Enable runs")

	sched.complete("job-1", models.JobStateCompletedSuccessfully, "5")

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("controller did not finish after unpause")
	}

	assert.Equal(t, models.JobStateCompletedSuccessfully, job.State)
	assert.Len(t, job.Iterations, 1)
}

func TestController_Cancel_SettlesAsCancelled(t *testing.T) {
	sched := newFakeScheduler()
	store := &fakeConfigStore{}
	algorithm := &scriptedAlgorithm{values: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}}

	job := &models.OptimizingJob{
		ID: "opt-1", Name: "search", MinThreads: 1, ThreadIncrement: 1,
		MaxConsecutiveNonImproving: 1000,
	}
	c := New(job, sched, store, &fakeIDAllocator{}, algorithm, arbor.NewLogger())

	go c.Run(context.Background())

	require.Eventually(t, func() bool {
		_, err := sched.Get("job-1")
		return err == nil
	}, time.Second, time.Millisecond)

	c.Cancel()

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("controller did not finish after cancel")
	}

	assert.Equal(t, models.JobStateCancelled, job.State)
}

func TestController_Run_ReRunsBestIteration(t *testing.T) {
	sched := newFakeScheduler()
	autoCompleteOnSubmit(sched)
	store := &fakeConfigStore{}
	maxThreads := 2
	algorithm := &scriptedAlgorithm{values: []float64{10, 5, 99}}

	durationSeconds := int64(30)
	job := &models.OptimizingJob{
		ID: "opt-1", Name: "search", MinThreads: 1, ThreadIncrement: 1,
		MaxThreads: &maxThreads, MaxConsecutiveNonImproving: 100,
		ReRunBestIteration: true, DurationSeconds: &durationSeconds,
	}
	c := New(job, sched, store, &fakeIDAllocator{}, algorithm, arbor.NewLogger())

	c.Run(context.Background())

	assert.Equal(t, models.JobStateCompletedSuccessfully, job.State)
	assert.Len(t, job.Iterations, 2)
	require.NotEmpty(t, job.ReRunIteration)
	assert.NotContains(t, job.Iterations, job.ReRunIteration, "rerun is tracked separately from the search iterations")
}
