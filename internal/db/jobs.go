package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/trendmind/trendmind/internal/models"
)

// InterruptedMessage is recorded on jobs found unfinished at startup.
const InterruptedMessage = "interrupted: process restarted before the job finished"

// StaleMessage is recorded on running jobs that no process finished in time.
const StaleMessage = "stale: job stopped reporting before it finished"

// JobRepository provides search job bookkeeping
type JobRepository struct {
	*Repository
}

// NewJobRepository creates a new job repository
func NewJobRepository(repo *Repository) *JobRepository {
	return &JobRepository{Repository: repo}
}

func (r *JobRepository) prepare(job *models.SearchJob) {
	if job.Status == "" {
		job.Status = models.JobPending
	}
	if job.Trigger == "" {
		job.Trigger = models.TriggerScheduled
	}
}

// CreateJob inserts a job record unconditionally.
func (r *JobRepository) CreateJob(ctx context.Context, job *models.SearchJob) error {
	r.prepare(job)
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return persistErr("create job", err)
	}
	return nil
}

// ClaimJob inserts job as pending unless another job of the same kind is
// pending or running, in which case ErrJobInFlight is returned.
func (r *JobRepository) ClaimJob(ctx context.Context, job *models.SearchJob) error {
	r.prepare(job)
	err := r.transaction(ctx, func(tx *gorm.DB) error {
		var active int64
		err := tx.Model(&models.SearchJob{}).
			Where("job_type = ? AND status IN ?", job.JobType, []models.JobStatus{models.JobPending, models.JobRunning}).
			Count(&active).Error
		if err != nil {
			return err
		}
		if active > 0 {
			return ErrJobInFlight
		}
		return tx.Create(job).Error
	})
	if errors.Is(err, ErrJobInFlight) {
		return err
	}
	if err != nil {
		return persistErr("claim job", err)
	}
	return nil
}

// UpdateJobStatus moves a job along pending -> running -> completed|failed.
// started_at is stamped on running and completed_at on terminal states.
func (r *JobRepository) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errMsg string) (*models.SearchJob, error) {
	var job models.SearchJob
	err := r.transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", jobID).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
			}
			return err
		}
		if !job.Status.CanTransition(status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, status)
		}

		now := r.now()
		updates := map[string]interface{}{"status": status}
		switch {
		case status == models.JobRunning:
			updates["started_at"] = now
			job.StartedAt = &now
		case status.Terminal():
			updates["completed_at"] = now
			job.CompletedAt = &now
		}
		if errMsg != "" {
			updates["error_message"] = errMsg
			job.ErrorMessage = errMsg
		}
		job.Status = status
		return tx.Model(&models.SearchJob{}).Where("id = ?", job.ID).Updates(updates).Error
	})
	if errors.Is(err, ErrJobNotFound) || errors.Is(err, ErrInvalidTransition) {
		return nil, err
	}
	if err != nil {
		return nil, persistErr("update job status", err)
	}
	return &job, nil
}

// IncrementRetryCount bumps the retry counter of a job.
func (r *JobRepository) IncrementRetryCount(ctx context.Context, jobID string) error {
	err := r.db.WithContext(ctx).Model(&models.SearchJob{}).
		Where("job_id = ?", jobID).
		UpdateColumn("retry_count", gorm.Expr("retry_count + ?", 1)).Error
	return persistErr("increment retry count", err)
}

// GetJob retrieves a job by its job id
func (r *JobRepository) GetJob(ctx context.Context, jobID string) (*models.SearchJob, error) {
	var job models.SearchJob
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// ActiveJob returns the pending or running job of a kind, if any.
func (r *JobRepository) ActiveJob(ctx context.Context, kind models.JobKind) (*models.SearchJob, error) {
	var job models.SearchJob
	err := r.db.WithContext(ctx).
		Where("job_type = ? AND status IN ?", kind, []models.JobStatus{models.JobPending, models.JobRunning}).
		Order("id DESC").First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// GetPendingJobs returns pending jobs, oldest first.
func (r *JobRepository) GetPendingJobs(ctx context.Context) ([]models.SearchJob, error) {
	jobs := []models.SearchJob{}
	err := r.db.WithContext(ctx).Where("status = ?", models.JobPending).Order("created_at ASC").Order("id ASC").Find(&jobs).Error
	return jobs, err
}

// GetFailedJobsForRetry returns failed jobs that have retries left.
func (r *JobRepository) GetFailedJobsForRetry(ctx context.Context) ([]models.SearchJob, error) {
	jobs := []models.SearchJob{}
	err := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < max_retries", models.JobFailed).
		Order("created_at ASC").Find(&jobs).Error
	return jobs, err
}

// RecentJobs returns the latest job records, newest first.
func (r *JobRepository) RecentJobs(ctx context.Context, limit int) ([]models.SearchJob, error) {
	jobs := []models.SearchJob{}
	err := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(limit).Find(&jobs).Error
	return jobs, err
}

// ReconcileInterrupted fails jobs a previous process left running, and
// pending jobs that were not retries. Pending retries are returned so the
// caller can re-arm them.
func (r *JobRepository) ReconcileInterrupted(ctx context.Context) (int64, []models.SearchJob, error) {
	var failed int64
	var retries []models.SearchJob
	err := r.transaction(ctx, func(tx *gorm.DB) error {
		now := r.now()
		res := tx.Model(&models.SearchJob{}).
			Where("status = ? OR (status = ? AND trigger_type <> ?)", models.JobRunning, models.JobPending, models.TriggerRetry).
			Updates(map[string]interface{}{
				"status":        models.JobFailed,
				"error_message": InterruptedMessage,
				"completed_at":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		failed = res.RowsAffected
		return tx.Where("status = ? AND trigger_type = ?", models.JobPending, models.TriggerRetry).
			Order("id ASC").Find(&retries).Error
	})
	if err != nil {
		return 0, nil, persistErr("reconcile jobs", err)
	}
	return failed, retries, nil
}
