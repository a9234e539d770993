package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trendmind/trendmind/internal/db"
	"github.com/trendmind/trendmind/internal/events"
	"github.com/trendmind/trendmind/internal/models"
	"github.com/trendmind/trendmind/pkg/logging"
	"github.com/trendmind/trendmind/pkg/telemetry"
)

var (
	// ErrNotRunning is returned by triggers while the orchestrator is stopped.
	ErrNotRunning = errors.New("orchestrator is not running")
	// ErrUnknownKind is returned for a job kind that was never registered.
	ErrUnknownKind = errors.New("unknown job kind")
	// ErrJobInFlight is returned when a job of the same kind is pending or running.
	ErrJobInFlight = db.ErrJobInFlight
)

const (
	recentJobsLimit = 20

	// Terminal status writes are retried with doubling backoff.
	statusWriteAttempts = 4
	statusWriteBackoff  = 50 * time.Millisecond
	statusWriteTimeout  = 5 * time.Second
)

// Handler executes one job. A returned error fails the job.
type Handler func(ctx context.Context, job *models.SearchJob) error

// JobStore persists job records. The persisted record alone decides whether
// a kind is in flight.
type JobStore interface {
	ClaimJob(ctx context.Context, job *models.SearchJob) error
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errMsg string) (*models.SearchJob, error)
	GetJob(ctx context.Context, jobID string) (*models.SearchJob, error)
	RecentJobs(ctx context.Context, limit int) ([]models.SearchJob, error)
	ActiveJob(ctx context.Context, kind models.JobKind) (*models.SearchJob, error)
	ReconcileInterrupted(ctx context.Context) (int64, []models.SearchJob, error)
}

// Kind registers one periodic job kind.
type Kind struct {
	Kind     models.JobKind
	Name     string
	Interval time.Duration
	// ScheduledPrefix and ManualPrefix build job ids for each trigger.
	ScheduledPrefix string
	ManualPrefix    string
	Handler         Handler
}

// Options configures the orchestrator.
type Options struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
	// StaleAfter is how long a running record this process does not own may
	// block its kind before a dispatch fails it. It must exceed the longest
	// job of any process sharing the store.
	StaleAfter time.Duration
	// Reported is merged into the config section of Status.
	Reported map[string]interface{}
}

// DefaultOptions returns the standard worker and retry settings.
func DefaultOptions() Options {
	return Options{Workers: 4, MaxRetries: models.DefaultMaxRetries, RetryDelay: 5 * time.Minute, StaleAfter: 2 * time.Hour}
}

// Orchestrator owns periodic and on-demand job execution. Each kind has at
// most one pending or running job; fires that find the kind busy are
// coalesced. Failed jobs are retried after a fixed delay until their retry
// budget is spent.
type Orchestrator struct {
	store   JobStore
	kinds   map[models.JobKind]*Kind
	order   []models.JobKind
	opts    Options
	metrics *telemetry.JobMetrics
	events  *events.Publisher
	logger  *zap.Logger
	now     func() time.Time

	dispatchMu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	jobCtx  context.Context
	nextRun map[models.JobKind]time.Time
	timers  map[string]*time.Timer
	active  map[string]struct{}
	sem     chan struct{}
	wg      sync.WaitGroup
}

// New builds an orchestrator. metrics and pub may be nil.
func New(store JobStore, kinds []Kind, opts Options, metrics *telemetry.JobMetrics, pub *events.Publisher) (*Orchestrator, error) {
	if opts.Workers <= 0 {
		opts.Workers = DefaultOptions().Workers
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultOptions().StaleAfter
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative")
	}

	o := &Orchestrator{
		store:   store,
		kinds:   make(map[models.JobKind]*Kind, len(kinds)),
		opts:    opts,
		metrics: metrics,
		events:  pub,
		logger:  logging.WithComponent("orchestrator"),
		now:     func() time.Time { return time.Now().UTC() },
		nextRun: make(map[models.JobKind]time.Time),
		timers:  make(map[string]*time.Timer),
		active:  make(map[string]struct{}),
		sem:     make(chan struct{}, opts.Workers),
	}
	for i := range kinds {
		k := kinds[i]
		if k.Handler == nil {
			return nil, fmt.Errorf("job kind %s has no handler", k.Kind)
		}
		if _, dup := o.kinds[k.Kind]; dup {
			return nil, fmt.Errorf("job kind %s registered twice", k.Kind)
		}
		if k.Name == "" {
			k.Name = string(k.Kind)
		}
		if k.ScheduledPrefix == "" {
			k.ScheduledPrefix = string(k.Kind)
		}
		if k.ManualPrefix == "" {
			k.ManualPrefix = "manual_" + string(k.Kind)
		}
		o.kinds[k.Kind] = &k
		o.order = append(o.order, k.Kind)
	}
	return o, nil
}

// SetClock overrides the clock used for ids and retry due times.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = func() time.Time { return now().UTC() }
}

// Start reconciles jobs left unfinished by a previous process, re-arms
// pending retries and starts one ticker per kind. Tickers stop when ctx is
// cancelled or Stop is called; jobs already dispatched are not cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.mu.Unlock()

	failed, retries, err := o.store.ReconcileInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("reconcile interrupted jobs: %w", err)
	}
	if failed > 0 {
		o.logger.Warn("Marked interrupted jobs as failed", zap.Int64("count", failed))
	}

	o.mu.Lock()
	loopCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.jobCtx = context.WithoutCancel(ctx)
	o.running = true
	now := o.now()
	for _, kind := range o.order {
		k := o.kinds[kind]
		if k.Interval <= 0 {
			continue
		}
		o.nextRun[kind] = now.Add(k.Interval)
		o.wg.Add(1)
		go o.loop(loopCtx, k)
	}
	o.mu.Unlock()

	for i := range retries {
		o.armRetry(&retries[i])
	}

	o.logger.Info("Orchestrator started",
		zap.Int("kinds", len(o.order)),
		zap.Int("workers", o.opts.Workers),
		zap.Int("rearmed_retries", len(retries)))
	return nil
}

// Stop halts the tickers and retry timers, then waits for in-flight jobs to
// finish or ctx to expire. Calling it again keeps waiting on the same jobs.
// Pending retries stay persisted and are re-armed by the next Start.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.running = false
		o.cancel()
		for id, t := range o.timers {
			t.Stop()
			delete(o.timers, id)
		}
		o.nextRun = make(map[models.JobKind]time.Time)
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("Orchestrator stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight jobs: %w", ctx.Err())
	}
}

// Running reports whether Start has been called without a matching Stop.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) loop(ctx context.Context, k *Kind) {
	defer o.wg.Done()

	ticker := time.NewTicker(k.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.mu.Lock()
			o.nextRun[k.Kind] = o.now().Add(k.Interval)
			o.mu.Unlock()

			if _, err := o.dispatch(ctx, k, models.TriggerScheduled); err != nil && !errors.Is(err, ErrJobInFlight) && !errors.Is(err, ErrNotRunning) {
				o.logger.Error("Scheduled dispatch failed", zap.String("kind", string(k.Kind)), zap.Error(err))
			}
		}
	}
}

// Trigger enqueues a one-shot manual job of kind and returns its id. It
// fails with ErrJobInFlight while a job of the same kind is pending or running.
func (o *Orchestrator) Trigger(ctx context.Context, kind models.JobKind) (string, error) {
	k, ok := o.kinds[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return o.dispatch(ctx, k, models.TriggerManual)
}

// TriggerManualSearch enqueues a collection run. It returns false when the
// orchestrator is stopped or a collection is already in flight.
func (o *Orchestrator) TriggerManualSearch(ctx context.Context) bool {
	_, err := o.Trigger(ctx, models.JobTopicSearch)
	return err == nil
}

// TriggerManualGeneration enqueues a suggestion batch. It returns false when
// the orchestrator is stopped or a batch is already in flight.
func (o *Orchestrator) TriggerManualGeneration(ctx context.Context) bool {
	_, err := o.Trigger(ctx, models.JobAIGeneration)
	return err == nil
}

func (o *Orchestrator) dispatch(ctx context.Context, k *Kind, trigger models.JobTrigger) (string, error) {
	if !o.Running() {
		return "", ErrNotRunning
	}

	prefix := k.ScheduledPrefix
	if trigger == models.TriggerManual {
		prefix = k.ManualPrefix
	}
	job := &models.SearchJob{
		JobID:      models.NewID(prefix, o.now()),
		JobType:    k.Kind,
		Status:     models.JobPending,
		Trigger:    trigger,
		MaxRetries: o.opts.MaxRetries,
	}

	o.dispatchMu.Lock()
	defer o.dispatchMu.Unlock()

	err := o.store.ClaimJob(ctx, job)
	if errors.Is(err, ErrJobInFlight) && o.failStale(ctx, k.Kind) {
		err = o.store.ClaimJob(ctx, job)
	}
	if err != nil {
		if errors.Is(err, ErrJobInFlight) {
			o.metrics.Coalesced(ctx, string(k.Kind))
			o.logger.Info("Job of this kind already in flight, trigger coalesced",
				zap.String("kind", string(k.Kind)),
				zap.String("trigger", string(trigger)))
		}
		return "", err
	}

	if !o.launch(job) {
		// Stopped between claim and launch; the pending row is reconciled on
		// the next start.
		return "", ErrNotRunning
	}
	return job.JobID, nil
}

// failStale fails the in-flight record of kind when it is running, older
// than StaleAfter and not owned by this process. It reports whether the kind
// was freed.
func (o *Orchestrator) failStale(ctx context.Context, kind models.JobKind) bool {
	job, err := o.store.ActiveJob(ctx, kind)
	if err != nil {
		o.logger.Warn("Failed to look up in-flight job", zap.String("kind", string(kind)), zap.Error(err))
		return false
	}
	if job == nil || job.Status != models.JobRunning || job.StartedAt == nil {
		return false
	}
	if age := o.now().Sub(*job.StartedAt); age < o.opts.StaleAfter {
		return false
	}

	o.mu.Lock()
	_, owned := o.active[job.JobID]
	o.mu.Unlock()
	if owned {
		return false
	}

	if _, err := o.store.UpdateJobStatus(ctx, job.JobID, models.JobFailed, db.StaleMessage); err != nil {
		o.logger.Error("Failed to fail stale job", zap.String("job_id", job.JobID), zap.Error(err))
		return false
	}
	o.logger.Warn("Failed stale running job",
		zap.String("job_id", job.JobID),
		zap.String("kind", string(kind)),
		zap.Time("started_at", *job.StartedAt))
	return true
}

// launch runs a claimed job on a worker.
func (o *Orchestrator) launch(job *models.SearchJob) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return false
	}
	o.active[job.JobID] = struct{}{}
	o.wg.Add(1)
	go o.run(o.jobCtx, job)
	return true
}

func (o *Orchestrator) run(ctx context.Context, job *models.SearchJob) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		delete(o.active, job.JobID)
		o.mu.Unlock()
	}()

	o.sem <- struct{}{}
	defer func() { <-o.sem }()

	k := o.kinds[job.JobType]
	logger := logging.WithJob("orchestrator", job.JobID, string(job.JobType))

	ctx, span := telemetry.StartSpan(ctx, "job."+string(job.JobType))
	span.SetAttributes(telemetry.KindAttr(string(job.JobType)))

	start := time.Now()
	var runErr error
	if k == nil {
		runErr = fmt.Errorf("%w: %s", ErrUnknownKind, job.JobType)
	} else if _, err := o.store.UpdateJobStatus(ctx, job.JobID, models.JobRunning, ""); err != nil {
		runErr = fmt.Errorf("mark running: %w", err)
	} else {
		o.metrics.Started(ctx, string(job.JobType))
		logger.Info("Job started", zap.String("trigger", string(job.Trigger)), zap.Int("retry_count", job.RetryCount))
		runErr = o.invoke(ctx, k.Handler, job)
	}
	telemetry.EndSpan(span, runErr)

	o.finish(ctx, logger, job, runErr, time.Since(start))
}

func (o *Orchestrator) invoke(ctx context.Context, h Handler, job *models.SearchJob) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h(ctx, job)
}

func (o *Orchestrator) finish(ctx context.Context, logger *zap.Logger, job *models.SearchJob, runErr error, took time.Duration) {
	status, msg := models.JobCompleted, ""
	if runErr != nil {
		status, msg = models.JobFailed, runErr.Error()
	}

	recorded := o.recordStatus(ctx, logger, job.JobID, status, msg)
	o.metrics.Finished(ctx, string(job.JobType), string(status), took)

	if runErr == nil {
		logger.Info("Job completed", zap.Duration("took", took))
		return
	}

	logger.Error("Job failed", zap.Duration("took", took), zap.Error(runErr))
	if errors.Is(runErr, ErrUnknownKind) {
		return
	}
	if !recorded {
		// The record still reads running; a later dispatch fails it as stale.
		return
	}
	job.Status = models.JobFailed
	job.ErrorMessage = msg
	o.scheduleRetry(ctx, logger, job)
}

// recordStatus writes the terminal status of a job, retrying transient
// store errors on a context detached from the job.
func (o *Orchestrator) recordStatus(ctx context.Context, logger *zap.Logger, jobID string, status models.JobStatus, msg string) bool {
	backoff := statusWriteBackoff
	for attempt := 1; ; attempt++ {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
		_, err := o.store.UpdateJobStatus(writeCtx, jobID, status, msg)
		cancel()
		if err == nil {
			return true
		}
		if errors.Is(err, db.ErrInvalidTransition) || errors.Is(err, db.ErrJobNotFound) || attempt == statusWriteAttempts {
			logger.Error("Failed to record job status",
				zap.String("status", string(status)),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return false
		}
		logger.Warn("Retrying job status write", zap.String("status", string(status)), zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(backoff)
		backoff *= 2
	}
}

// scheduleRetry persists the next attempt of a failed job as a pending
// record due after the retry delay, or reports the job as exhausted.
func (o *Orchestrator) scheduleRetry(ctx context.Context, logger *zap.Logger, failed *models.SearchJob) {
	if !failed.CanRetry() {
		logger.Error("Retries exhausted",
			zap.Int("retry_count", failed.RetryCount),
			zap.Int("max_retries", failed.MaxRetries))
		_ = o.events.Publish(ctx, events.RetryExhausted, events.RetryExhaustedEvent{
			JobID:      failed.JobID,
			Kind:       string(failed.JobType),
			RetryCount: failed.RetryCount,
			MaxRetries: failed.MaxRetries,
			Error:      failed.ErrorMessage,
			FailedAt:   o.now(),
		})
		return
	}

	now := o.now()
	due := now.Add(o.opts.RetryDelay)
	retry := &models.SearchJob{
		JobID:       models.NewID("retry", now),
		JobType:     failed.JobType,
		Status:      models.JobPending,
		Trigger:     models.TriggerRetry,
		ParentJobID: failed.JobID,
		RetryCount:  failed.RetryCount + 1,
		MaxRetries:  failed.MaxRetries,
		RunAfter:    &due,
	}

	o.dispatchMu.Lock()
	err := o.store.ClaimJob(ctx, retry)
	o.dispatchMu.Unlock()
	if errors.Is(err, ErrJobInFlight) {
		logger.Info("Retry superseded by a newer job of the same kind")
		return
	}
	if err != nil {
		logger.Error("Failed to persist retry", zap.Error(err))
		return
	}

	logger.Info("Retry scheduled",
		zap.String("retry_job_id", retry.JobID),
		zap.Int("retry_count", retry.RetryCount),
		zap.Time("run_after", due))
	o.armRetry(retry)
}

// armRetry starts a persisted pending retry once it is due.
func (o *Orchestrator) armRetry(job *models.SearchJob) {
	delay := time.Duration(0)
	if job.RunAfter != nil {
		if d := job.RunAfter.Sub(o.now()); d > 0 {
			delay = d
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}
	o.timers[job.JobID] = time.AfterFunc(delay, func() {
		o.mu.Lock()
		delete(o.timers, job.JobID)
		o.mu.Unlock()
		if !o.launch(job) {
			o.logger.Info("Retry left pending for next start", zap.String("job_id", job.JobID))
		}
	})
}

// JobInfo describes one registered kind.
type JobInfo struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Kind        string     `json:"kind"`
	Interval    string     `json:"interval"`
	NextRunTime *time.Time `json:"next_run_time"`
}

// Status is the dashboard view of the orchestrator.
type Status struct {
	Running        bool                   `json:"running"`
	Jobs           []JobInfo              `json:"jobs"`
	Config         map[string]interface{} `json:"config"`
	RecentJobs     []models.SearchJob     `json:"recent_jobs"`
	PendingRetries []string               `json:"pending_retries"`
}

// Status reports registered kinds with their next fire time, the effective
// configuration and the latest persisted jobs including their errors.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		Config:         map[string]interface{}{},
		Jobs:           make([]JobInfo, 0, len(o.order)),
		PendingRetries: []string{},
	}

	o.mu.Lock()
	st.Running = o.running
	for _, kind := range o.order {
		k := o.kinds[kind]
		info := JobInfo{ID: string(kind), Name: k.Name, Kind: string(kind), Interval: k.Interval.String()}
		if next, ok := o.nextRun[kind]; ok && o.running {
			info.NextRunTime = &next
		}
		st.Jobs = append(st.Jobs, info)
	}
	for id := range o.timers {
		st.PendingRetries = append(st.PendingRetries, id)
	}
	o.mu.Unlock()
	sort.Strings(st.PendingRetries)

	st.Config["workers"] = o.opts.Workers
	st.Config["max_retries"] = o.opts.MaxRetries
	st.Config["retry_delay_minutes"] = o.opts.RetryDelay.Minutes()
	st.Config["stale_job_minutes"] = o.opts.StaleAfter.Minutes()
	for k, v := range o.opts.Reported {
		st.Config[k] = v
	}

	recent, err := o.store.RecentJobs(ctx, recentJobsLimit)
	if err != nil {
		return nil, fmt.Errorf("recent jobs: %w", err)
	}
	st.RecentJobs = recent
	return st, nil
}

// Job returns one persisted job record, or nil when unknown.
func (o *Orchestrator) Job(ctx context.Context, jobID string) (*models.SearchJob, error) {
	return o.store.GetJob(ctx, jobID)
}
