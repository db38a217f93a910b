package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/slamd-project/slamd/internal/interfaces"
	"github.com/slamd-project/slamd/internal/models"
	"github.com/slamd-project/slamd/internal/registry"
)

// fakeConfigStore is an in-memory stand-in for the badger-backed
// ConfigStore, scoped to exactly what the Scheduler exercises.
type fakeConfigStore struct {
	mu      sync.Mutex
	jobs    map[string]*models.Job
	optJobs map[string]*models.OptimizingJob
}

func newFakeConfigStore() *fakeConfigStore {
	return &fakeConfigStore{
		jobs:    make(map[string]*models.Job),
		optJobs: make(map[string]*models.OptimizingJob),
	}
}

func (f *fakeConfigStore) SaveJob(job *models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeConfigStore) GetJob(id string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, models.NewError(models.ErrorKindNotFound, id)
	}
	return job, nil
}

func (f *fakeConfigStore) DeleteJob(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, id)
	return nil
}

func (f *fakeConfigStore) ListJobs(folder string) ([]*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]*models.Job, 0)
	for _, job := range f.jobs {
		if folder == "" || job.FolderName == folder {
			result = append(result, job)
		}
	}
	return result, nil
}

func (f *fakeConfigStore) SaveOptimizingJob(job *models.OptimizingJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.optJobs[job.ID] = job
	return nil
}
func (f *fakeConfigStore) GetOptimizingJob(id string) (*models.OptimizingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.optJobs[id]
	if !ok {
		return nil, models.NewError(models.ErrorKindNotFound, id)
	}
	return job, nil
}
func (f *fakeConfigStore) DeleteOptimizingJob(string) error                        { return nil }
func (f *fakeConfigStore) ListOptimizingJobs(string) ([]*models.OptimizingJob, error) { return nil, nil }
func (f *fakeConfigStore) SaveFolder(*models.JobFolder) error                      { return nil }
func (f *fakeConfigStore) GetFolder(string) (*models.JobFolder, error) {
	return nil, models.NewError(models.ErrorKindNotFound, "")
}
func (f *fakeConfigStore) DeleteFolder(string) error              { return nil }
func (f *fakeConfigStore) ListFolders() ([]*models.JobFolder, error) { return nil, nil }
func (f *fakeConfigStore) Close() error                           { return nil }

var _ interfaces.ConfigStore = (*fakeConfigStore)(nil)

// fakeDispatcher records DispatchStart/DispatchStop calls; it never
// fails unless startErr is set.
type fakeDispatcher struct {
	mu       sync.Mutex
	started  map[string][]string // jobID -> clientIDs
	stopped  map[string][]string
	startErr error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{started: make(map[string][]string), stopped: make(map[string][]string)}
}

func (f *fakeDispatcher) DispatchStart(job *models.Job, clientIDs []string) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started[job.ID] = append([]string{}, clientIDs...)
	return nil
}

func (f *fakeDispatcher) DispatchStop(jobID string, clientIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped[jobID] = append([]string{}, clientIDs...)
	return nil
}

var _ interfaces.JobDispatcher = (*fakeDispatcher)(nil)

// newTestScheduler builds a Scheduler whose internal ticker never fires
// during the test; tests call tick()/handleReport() directly instead,
// so state transitions stay deterministic.
func newTestScheduler(t *testing.T, reg *registry.Registry, dispatcher interfaces.JobDispatcher) (*Scheduler, *fakeConfigStore) {
	t.Helper()
	store := newFakeConfigStore()
	s := New(Config{TickInterval: time.Hour, MaxClientWait: time.Minute}, store, reg, dispatcher, nil, arbor.NewLogger())
	t.Cleanup(func() { close(s.shutdown) })
	return s, store
}

func registerLoadClients(t *testing.T, reg *registry.Registry, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, reg.Register(&models.ClientEntry{ClientID: id, Kind: models.ClientKindLoad}))
	}
}

func TestScheduler_Tick_DispatchesPendingJobWhenClientsAvailable(t *testing.T) {
	reg := registry.New(arbor.NewLogger())
	registerLoadClients(t, reg, "c1", "c2")
	dispatcher := newFakeDispatcher()
	s, _ := newTestScheduler(t, reg, dispatcher)

	job := &models.Job{ID: "job-1", NumClients: 2, StartTime: s.Now().Add(-time.Second)}
	require.NoError(t, s.Submit(job))

	s.tick()

	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateRunning, got.State)
	assert.ElementsMatch(t, []string{"c1", "c2"}, got.AssignedClients)
	assert.Len(t, dispatcher.started["job-1"], 2)
}

func TestScheduler_Tick_FutureStartTimeStaysPending(t *testing.T) {
	reg := registry.New(arbor.NewLogger())
	registerLoadClients(t, reg, "c1")
	s, _ := newTestScheduler(t, reg, newFakeDispatcher())

	job := &models.Job{ID: "job-1", NumClients: 1, StartTime: s.Now().Add(time.Hour)}
	require.NoError(t, s.Submit(job))

	s.tick()

	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateNotYetStarted, got.State)
}

func TestScheduler_Tick_DependencyGatesDispatch(t *testing.T) {
	reg := registry.New(arbor.NewLogger())
	registerLoadClients(t, reg, "c1")
	s, _ := newTestScheduler(t, reg, newFakeDispatcher())

	dep := &models.Job{ID: "dep-1", NumClients: 1, StartTime: s.Now().Add(-time.Second)}
	job := &models.Job{ID: "job-1", NumClients: 1, StartTime: s.Now().Add(-time.Second), Dependencies: []string{"dep-1"}}
	require.NoError(t, s.Submit(dep))
	require.NoError(t, s.Submit(job))

	s.tick() // starts dep-1, consumes the only idle client; job-1 stays pending either way

	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateNotYetStarted, got.State, "dependency is not yet terminal")
}

func TestScheduler_Tick_OptimizingJobDependencyGatesDispatch(t *testing.T) {
	reg := registry.New(arbor.NewLogger())
	registerLoadClients(t, reg, "c1")
	s, store := newTestScheduler(t, reg, newFakeDispatcher())

	parent := &models.OptimizingJob{ID: "opt-1", State: models.JobStateRunning}
	require.NoError(t, store.SaveOptimizingJob(parent))

	job := &models.Job{ID: "job-1", NumClients: 1, StartTime: s.Now().Add(-time.Second), Dependencies: []string{"opt-1"}}
	require.NoError(t, s.Submit(job))

	s.tick()
	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateNotYetStarted, got.State, "an opt- dependency that is still running gates dispatch")

	parent.State = models.JobStateCompletedSuccessfully
	require.NoError(t, store.SaveOptimizingJob(parent))

	s.tick()
	got, err = s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateRunning, got.State)
}

func TestScheduler_DurationExpiry_StopsAndSettlesAsStoppedDueToDuration(t *testing.T) {
	reg := registry.New(arbor.NewLogger())
	registerLoadClients(t, reg, "c1")
	dispatcher := newFakeDispatcher()
	s, _ := newTestScheduler(t, reg, dispatcher)

	durationSeconds := int64(1)
	job := &models.Job{ID: "job-1", NumClients: 1, StartTime: s.Now().Add(-time.Second), DurationSeconds: &durationSeconds}
	require.NoError(t, s.Submit(job))
	s.tick() // dispatch

	started := time.Now().Add(-2 * time.Second)
	s.mu.Lock()
	job.ActualStartTime = &started
	s.mu.Unlock()

	s.tick() // duration elapsed, dispatches stop

	assert.Len(t, dispatcher.stopped["job-1"], 1)

	s.handleReport(interfaces.ClientReport{JobID: "job-1", ClientID: "c1", Kind: interfaces.ClientReportCompleted})

	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateStoppedDueToDuration, got.State)
}

func TestScheduler_Cancel_PendingJobIsCancelledImmediately(t *testing.T) {
	reg := registry.New(arbor.NewLogger())
	s, _ := newTestScheduler(t, reg, newFakeDispatcher())

	job := &models.Job{ID: "job-1", NumClients: 1, StartTime: s.Now().Add(time.Hour)}
	require.NoError(t, s.Submit(job))

	require.NoError(t, s.Cancel("job-1", "operator requested"))

	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCancelled, got.State)
}

func TestScheduler_Cancel_RunningJobWaitsForClientsThenStopsByUser(t *testing.T) {
	reg := registry.New(arbor.NewLogger())
	registerLoadClients(t, reg, "c1")
	dispatcher := newFakeDispatcher()
	s, _ := newTestScheduler(t, reg, dispatcher)

	job := &models.Job{ID: "job-1", NumClients: 1, StartTime: s.Now().Add(-time.Second)}
	require.NoError(t, s.Submit(job))
	s.tick()

	require.NoError(t, s.Cancel("job-1", "operator requested"))

	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateRunning, got.State, "stays Running until the client settles")
	assert.Len(t, dispatcher.stopped["job-1"], 1)

	s.handleReport(interfaces.ClientReport{JobID: "job-1", ClientID: "c1", Kind: interfaces.ClientReportCompleted})

	got, err = s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateStoppedByUser, got.State)
}

func TestScheduler_Fail_ForcesRunningJobToErrorAndReleasesClients(t *testing.T) {
	reg := registry.New(arbor.NewLogger())
	registerLoadClients(t, reg, "c1")
	dispatcher := newFakeDispatcher()
	s, _ := newTestScheduler(t, reg, dispatcher)

	job := &models.Job{ID: "job-1", NumClients: 1, StartTime: s.Now().Add(-time.Second)}
	require.NoError(t, s.Submit(job))
	s.tick()

	require.NoError(t, s.Fail("job-1", "clients stopped acknowledging"))

	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateStoppedDueToError, got.State)
	assert.Len(t, dispatcher.stopped["job-1"], 1, "the unsettled client is told to stop")

	entry, ok := reg.Get("c1")
	require.True(t, ok)
	assert.True(t, entry.IsIdle())
}

func TestScheduler_ClientDisconnect_ReplacedWhenReplacementAvailable(t *testing.T) {
	reg := registry.New(arbor.NewLogger())
	registerLoadClients(t, reg, "c1", "c2")
	s, _ := newTestScheduler(t, reg, newFakeDispatcher())

	job := &models.Job{ID: "job-1", NumClients: 1, StartTime: s.Now().Add(-time.Second), RequestedClients: []string{"c1"}}
	require.NoError(t, s.Submit(job))
	s.tick()

	s.handleReport(interfaces.ClientReport{JobID: "job-1", ClientID: "c1", Kind: interfaces.ClientReportDisconnected})

	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateRunning, got.State)
	assert.Equal(t, []string{"c2"}, got.AssignedClients)

	s.handleReport(interfaces.ClientReport{JobID: "job-1", ClientID: "c2", Kind: interfaces.ClientReportCompleted})

	got, err = s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompletedSuccessfully, got.State)
}

func TestScheduler_ClientDisconnect_NoReplacementStopsDueToError(t *testing.T) {
	reg := registry.New(arbor.NewLogger())
	registerLoadClients(t, reg, "c1")
	s, _ := newTestScheduler(t, reg, newFakeDispatcher())

	job := &models.Job{ID: "job-1", NumClients: 1, StartTime: s.Now().Add(-time.Second)}
	require.NoError(t, s.Submit(job))
	s.tick()

	s.handleReport(interfaces.ClientReport{JobID: "job-1", ClientID: "c1", Kind: interfaces.ClientReportDisconnected})

	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateStoppedDueToError, got.State)
}

func TestScheduler_MultiClientJob_ErrorFromOneClientYieldsCompletedWithErrors(t *testing.T) {
	reg := registry.New(arbor.NewLogger())
	registerLoadClients(t, reg, "c1", "c2")
	s, _ := newTestScheduler(t, reg, newFakeDispatcher())

	job := &models.Job{ID: "job-1", NumClients: 2, StartTime: s.Now().Add(-time.Second)}
	require.NoError(t, s.Submit(job))
	s.tick()

	s.handleReport(interfaces.ClientReport{JobID: "job-1", ClientID: "c1", Kind: interfaces.ClientReportError})

	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateRunning, got.State, "still waiting on c2")

	s.handleReport(interfaces.ClientReport{JobID: "job-1", ClientID: "c2", Kind: interfaces.ClientReportCompleted})

	got, err = s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompletedWithErrors, got.State)
}

func TestScheduler_RecentlyCompleted_RingBufferCappedAtCapacity(t *testing.T) {
	reg := registry.New(arbor.NewLogger())
	s, _ := newTestScheduler(t, reg, newFakeDispatcher())

	for i := 0; i < recentlyCompletedCapacity+5; i++ {
		job := &models.Job{ID: string(rune('a' + i)), NumClients: 0, StartTime: s.Now().Add(time.Hour)}
		require.NoError(t, s.Submit(job))
		require.NoError(t, s.Cancel(job.ID, "cleanup"))
	}

	jobs, err := s.List("")
	require.NoError(t, err)
	assert.Len(t, jobs, recentlyCompletedCapacity)
}

func TestScheduler_Disable_OnlyLegalFromNotYetStartedOrDisabled(t *testing.T) {
	reg := registry.New(arbor.NewLogger())
	registerLoadClients(t, reg, "c1")
	s, _ := newTestScheduler(t, reg, newFakeDispatcher())

	job := &models.Job{ID: "job-1", NumClients: 1, StartTime: s.Now().Add(-time.Second)}
	require.NoError(t, s.Submit(job))
	s.tick() // transitions to Running

	err := s.Disable("job-1")
	require.Error(t, err)
	assert.Equal(t, models.ErrorKindNotPausable, models.KindOf(err))
}

func TestScheduler_Disable_SkipsDispatchUntilEnabled(t *testing.T) {
	reg := registry.New(arbor.NewLogger())
	registerLoadClients(t, reg, "c1")
	s, _ := newTestScheduler(t, reg, newFakeDispatcher())

	job := &models.Job{ID: "job-1", NumClients: 1, StartTime: s.Now().Add(-time.Second)}
	require.NoError(t, s.Submit(job))
	require.NoError(t, s.Disable("job-1"))

	s.tick()
	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateDisabled, got.State)

	require.NoError(t, s.Enable("job-1"))
	s.tick()
	got, err = s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateRunning, got.State)
}
