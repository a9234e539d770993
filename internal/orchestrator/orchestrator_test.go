package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trendmind/trendmind/internal/db"
	"github.com/trendmind/trendmind/internal/db/dbtest"
	"github.com/trendmind/trendmind/internal/models"
)

const waitFor = 5 * time.Second

func newOrchestrator(t *testing.T, opts Options, kinds ...Kind) (*Orchestrator, *db.Store) {
	t.Helper()
	store := dbtest.NewStore(t)
	return newOrchestratorOn(t, store.Jobs, opts, kinds...), store
}

func newOrchestratorOn(t *testing.T, jobs JobStore, opts Options, kinds ...Kind) *Orchestrator {
	t.Helper()
	o, err := New(jobs, kinds, opts, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = o.Stop(ctx)
	})
	return o
}

// flakyJobs fails the next failures terminal status writes.
type flakyJobs struct {
	*db.JobRepository
	failures atomic.Int32
}

func (f *flakyJobs) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errMsg string) (*models.SearchJob, error) {
	if status != models.JobRunning && f.failures.Add(-1) >= 0 {
		return nil, fmt.Errorf("update job: %w: connection reset", db.ErrPersistence)
	}
	return f.JobRepository.UpdateJobStatus(ctx, jobID, status, errMsg)
}

func hasStatus(store *db.Store, id string, want models.JobStatus) func() bool {
	return func() bool {
		job, err := store.Jobs.GetJob(context.Background(), id)
		return err == nil && job != nil && job.Status == want
	}
}

func ownedJobs(o *Orchestrator) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// blockingHandler reports each start on started and returns once release is closed.
func blockingHandler(started chan<- string, release <-chan struct{}) Handler {
	return func(ctx context.Context, job *models.SearchJob) error {
		started <- job.JobID
		<-release
		return nil
	}
}

func jobStatus(t *testing.T, store *db.Store, id string) models.JobStatus {
	t.Helper()
	job, err := store.Jobs.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job.Status
}

func TestTriggerCoalescesSameKind(t *testing.T) {
	ctx := context.Background()
	started := make(chan string, 4)
	release := make(chan struct{})

	o, store := newOrchestrator(t, Options{Workers: 2, RetryDelay: time.Millisecond},
		Kind{Kind: models.JobTopicSearch, ManualPrefix: "manual_search", Handler: blockingHandler(started, release)},
		Kind{Kind: models.JobCleanup, Handler: blockingHandler(started, release)},
	)
	require.NoError(t, o.Start(ctx))

	searchID, err := o.Trigger(ctx, models.JobTopicSearch)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(searchID, "manual_search_"))

	_, err = o.Trigger(ctx, models.JobTopicSearch)
	require.ErrorIs(t, err, ErrJobInFlight)
	require.False(t, o.TriggerManualSearch(ctx))

	cleanupID, err := o.Trigger(ctx, models.JobCleanup)
	require.NoError(t, err)

	running := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-started:
			running[id] = true
		case <-time.After(waitFor):
			t.Fatal("jobs of different kinds did not run concurrently")
		}
	}
	require.True(t, running[searchID])
	require.True(t, running[cleanupID])
	require.Equal(t, models.JobRunning, jobStatus(t, store, searchID))

	close(release)
	stopCtx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()
	require.NoError(t, o.Stop(stopCtx))

	require.Equal(t, models.JobCompleted, jobStatus(t, store, searchID))
	require.Equal(t, models.JobCompleted, jobStatus(t, store, cleanupID))
}

func TestTriggerRequiresRunning(t *testing.T) {
	ctx := context.Background()
	o, _ := newOrchestrator(t, DefaultOptions(),
		Kind{Kind: models.JobAIGeneration, Handler: func(context.Context, *models.SearchJob) error { return nil }},
	)

	_, err := o.Trigger(ctx, models.JobAIGeneration)
	require.ErrorIs(t, err, ErrNotRunning)
	require.False(t, o.TriggerManualGeneration(ctx))

	require.NoError(t, o.Start(ctx))
	_, err = o.Trigger(ctx, models.JobAggregation)
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestRetriesStopAtMaxRetries(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	o, store := newOrchestrator(t, Options{Workers: 1, MaxRetries: 3, RetryDelay: time.Millisecond},
		Kind{Kind: models.JobTopicSearch, Handler: func(context.Context, *models.SearchJob) error {
			calls.Add(1)
			return errors.New("persistence failure: disk full")
		}},
	)
	require.NoError(t, o.Start(ctx))

	first, err := o.Trigger(ctx, models.JobTopicSearch)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		jobs, err := store.Jobs.RecentJobs(ctx, 10)
		if err != nil || len(jobs) != 4 {
			return false
		}
		for _, j := range jobs {
			if j.Status != models.JobFailed {
				return false
			}
		}
		return true
	}, waitFor, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(4), calls.Load())

	jobs, err := store.Jobs.RecentJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 4)

	last := jobs[0]
	require.Equal(t, models.TriggerRetry, last.Trigger)
	require.Equal(t, 3, last.RetryCount)
	require.Equal(t, "persistence failure: disk full", last.ErrorMessage)
	require.Equal(t, first, jobs[3].JobID)
	require.Equal(t, jobs[1].JobID, last.ParentJobID)
}

func TestExhaustedJobIsNotRetried(t *testing.T) {
	ctx := context.Background()
	o, store := newOrchestrator(t, Options{Workers: 1, MaxRetries: 3, RetryDelay: time.Millisecond},
		Kind{Kind: models.JobCleanup, Handler: func(context.Context, *models.SearchJob) error { return nil }},
	)
	require.NoError(t, o.Start(ctx))

	failed := &models.SearchJob{
		JobID: "retry_x", JobType: models.JobCleanup, Status: models.JobFailed,
		RetryCount: 3, MaxRetries: 3, ErrorMessage: "boom",
	}
	o.scheduleRetry(ctx, o.logger, failed)

	jobs, err := store.Jobs.RecentJobs(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestPanicFailsJob(t *testing.T) {
	ctx := context.Background()
	o, store := newOrchestrator(t, Options{Workers: 1, MaxRetries: 0},
		Kind{Kind: models.JobAggregation, Handler: func(context.Context, *models.SearchJob) error {
			var m map[string]int
			m["boom"]++
			return nil
		}},
	)
	require.NoError(t, o.Start(ctx))

	id, err := o.Trigger(ctx, models.JobAggregation)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := store.Jobs.GetJob(ctx, id)
		return err == nil && job != nil && job.Status == models.JobFailed
	}, waitFor, 5*time.Millisecond)

	job, err := store.Jobs.GetJob(ctx, id)
	require.NoError(t, err)
	require.Contains(t, job.ErrorMessage, "panic:")
}

func TestStopDrainsInFlightJobs(t *testing.T) {
	ctx := context.Background()
	started := make(chan string, 1)
	release := make(chan struct{})
	o, store := newOrchestrator(t, Options{Workers: 1},
		Kind{Kind: models.JobTopicSearch, Handler: blockingHandler(started, release)},
	)
	require.NoError(t, o.Start(ctx))

	id, err := o.Trigger(ctx, models.JobTopicSearch)
	require.NoError(t, err)
	<-started

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, o.Stop(short), context.DeadlineExceeded)
	require.False(t, o.Running())

	stopped := make(chan error, 1)
	go func() { stopped <- o.Stop(ctx) }()

	close(release)
	require.Eventually(t, hasStatus(store, id, models.JobCompleted), waitFor, 5*time.Millisecond)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Stop did not return after the job finished")
	}
}

func TestStartReconcilesAndRearmsRetries(t *testing.T) {
	ctx := context.Background()
	ran := make(chan *models.SearchJob, 1)
	o, store := newOrchestrator(t, Options{Workers: 1, MaxRetries: 3},
		Kind{Kind: models.JobTopicSearch, Handler: func(_ context.Context, job *models.SearchJob) error {
			ran <- job
			return nil
		}},
	)

	stale := &models.SearchJob{JobID: "topic_search_old", JobType: models.JobCleanup, MaxRetries: 3}
	require.NoError(t, store.Jobs.ClaimJob(ctx, stale))
	_, err := store.Jobs.UpdateJobStatus(ctx, stale.JobID, models.JobRunning, "")
	require.NoError(t, err)

	due := time.Now().UTC().Add(-time.Minute)
	retry := &models.SearchJob{
		JobID: "retry_old", JobType: models.JobTopicSearch, Trigger: models.TriggerRetry,
		RetryCount: 1, MaxRetries: 3, RunAfter: &due,
	}
	require.NoError(t, store.Jobs.ClaimJob(ctx, retry))

	require.NoError(t, o.Start(ctx))

	select {
	case job := <-ran:
		require.Equal(t, "retry_old", job.JobID)
		require.Equal(t, 1, job.RetryCount)
	case <-time.After(waitFor):
		t.Fatal("pending retry was not re-armed")
	}

	interrupted, err := store.Jobs.GetJob(ctx, stale.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobFailed, interrupted.Status)
	require.Equal(t, db.InterruptedMessage, interrupted.ErrorMessage)
}

func TestScheduledFiresAndStatus(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	o, _ := newOrchestrator(t, Options{Workers: 2, MaxRetries: 3, RetryDelay: 5 * time.Minute, Reported: map[string]interface{}{"search_interval_hours": 4}},
		Kind{Kind: models.JobTopicSearch, Name: "Trending topic search", Interval: 20 * time.Millisecond, Handler: func(context.Context, *models.SearchJob) error {
			calls.Add(1)
			return nil
		}},
		Kind{Kind: models.JobCleanup, Interval: time.Hour, Handler: func(context.Context, *models.SearchJob) error { return nil }},
	)

	st, err := o.Status(ctx)
	require.NoError(t, err)
	require.False(t, st.Running)
	require.Nil(t, st.Jobs[0].NextRunTime)

	require.NoError(t, o.Start(ctx))
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, waitFor, 5*time.Millisecond)

	st, err = o.Status(ctx)
	require.NoError(t, err)
	require.True(t, st.Running)
	require.Len(t, st.Jobs, 2)
	require.Equal(t, "Trending topic search", st.Jobs[0].Name)
	require.NotNil(t, st.Jobs[0].NextRunTime)
	require.Equal(t, "1h0m0s", st.Jobs[1].Interval)
	require.Equal(t, 4, st.Config["search_interval_hours"])
	require.Equal(t, 3, st.Config["max_retries"])
	require.NotEmpty(t, st.RecentJobs)
	require.True(t, strings.HasPrefix(st.RecentJobs[0].JobID, "topic_search_"))
}

func TestTerminalStatusWriteIsRetried(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewStore(t)
	jobs := &flakyJobs{JobRepository: store.Jobs}
	jobs.failures.Store(1)

	o := newOrchestratorOn(t, jobs, Options{Workers: 1},
		Kind{Kind: models.JobTopicSearch, Handler: func(context.Context, *models.SearchJob) error { return nil }},
	)
	require.NoError(t, o.Start(ctx))

	id, err := o.Trigger(ctx, models.JobTopicSearch)
	require.NoError(t, err)
	require.Eventually(t, hasStatus(store, id, models.JobCompleted), waitFor, 10*time.Millisecond)
	require.Equal(t, int32(-1), jobs.failures.Load())

	for i := 0; i < 3; i++ {
		next, err := o.Trigger(ctx, models.JobTopicSearch)
		require.NoError(t, err)
		require.Eventually(t, hasStatus(store, next, models.JobCompleted), waitFor, 10*time.Millisecond)
	}
}

func TestStaleRunningJobIsFailedOnDispatch(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewStore(t)
	jobs := &flakyJobs{JobRepository: store.Jobs}
	jobs.failures.Store(statusWriteAttempts)

	started := make(chan string, 4)
	release := make(chan struct{})
	close(release)
	o := newOrchestratorOn(t, jobs, Options{Workers: 1, StaleAfter: 20 * time.Millisecond},
		Kind{Kind: models.JobTopicSearch, Handler: blockingHandler(started, release)},
	)
	require.NoError(t, o.Start(ctx))

	lost, err := o.Trigger(ctx, models.JobTopicSearch)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ownedJobs(o) == 0 }, waitFor, 10*time.Millisecond)
	require.Equal(t, models.JobRunning, jobStatus(t, store, lost))

	time.Sleep(40 * time.Millisecond)
	next, err := o.Trigger(ctx, models.JobTopicSearch)
	require.NoError(t, err)

	failed, err := store.Jobs.GetJob(ctx, lost)
	require.NoError(t, err)
	require.Equal(t, models.JobFailed, failed.Status)
	require.Equal(t, db.StaleMessage, failed.ErrorMessage)

	require.Eventually(t, hasStatus(store, next, models.JobCompleted), waitFor, 10*time.Millisecond)
}

func TestOwnedRunningJobIsNotStale(t *testing.T) {
	ctx := context.Background()
	started := make(chan string, 1)
	release := make(chan struct{})

	o, store := newOrchestrator(t, Options{Workers: 1, StaleAfter: time.Millisecond},
		Kind{Kind: models.JobTopicSearch, Handler: blockingHandler(started, release)},
	)
	require.NoError(t, o.Start(ctx))

	id, err := o.Trigger(ctx, models.JobTopicSearch)
	require.NoError(t, err)
	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("job did not start")
	}
	time.Sleep(20 * time.Millisecond)

	_, err = o.Trigger(ctx, models.JobTopicSearch)
	require.ErrorIs(t, err, ErrJobInFlight)
	require.Equal(t, models.JobRunning, jobStatus(t, store, id))

	close(release)
	require.Eventually(t, hasStatus(store, id, models.JobCompleted), waitFor, 10*time.Millisecond)
}
