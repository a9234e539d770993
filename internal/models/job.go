package models

import "time"

// JobKind identifies a class of orchestrated work. At most one job of a kind
// is in flight at a time.
type JobKind string

const (
	JobTopicSearch  JobKind = "topic_search"
	JobCleanup      JobKind = "cleanup"
	JobAIGeneration JobKind = "ai_generation"
	JobAggregation  JobKind = "aggregation"
)

// JobStatus is a SearchJob state: pending -> running -> completed | failed
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition reports whether from -> to is a legal state change.
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobPending:
		return to == JobRunning || to == JobFailed
	case JobRunning:
		return to == JobCompleted || to == JobFailed
	}
	return false
}

// JobTrigger records why a job was created
type JobTrigger string

const (
	TriggerScheduled JobTrigger = "scheduled"
	TriggerManual    JobTrigger = "manual"
	TriggerRetry     JobTrigger = "retry"
)

// DefaultMaxRetries is the retry limit when none is configured.
const DefaultMaxRetries = 3

// SearchJob is the persisted orchestration record and the single source of
// truth for whether a job kind is in flight.
type SearchJob struct {
	ID           int64      `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	JobID        string     `gorm:"type:varchar(100);not null;uniqueIndex;column:job_id" json:"job_id"`
	JobType      JobKind    `gorm:"type:varchar(50);not null;index:idx_job_type_status,priority:1;column:job_type" json:"job_type"`
	Status       JobStatus  `gorm:"type:varchar(20);not null;default:'pending';index:idx_job_type_status,priority:2;column:status" json:"status"`
	Trigger      JobTrigger `gorm:"type:varchar(20);not null;default:'scheduled';column:trigger_type" json:"trigger"`
	ParentJobID  string     `gorm:"type:varchar(100);column:parent_job_id" json:"parent_job_id,omitempty"`
	RunAfter     *time.Time `gorm:"column:run_after" json:"run_after,omitempty"`
	StartedAt    *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	ErrorMessage string     `gorm:"type:text;column:error_message" json:"error_message,omitempty"`
	RetryCount   int        `gorm:"not null;default:0;column:retry_count" json:"retry_count"`
	MaxRetries   int        `gorm:"not null;default:0;column:max_retries" json:"max_retries"`
	CreatedAt    time.Time  `gorm:"not null;column:created_at" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null;column:updated_at" json:"updated_at"`
}

// TableName specifies the table name for SearchJob
func (SearchJob) TableName() string {
	return "search_jobs"
}

// CanRetry reports whether a failed job may produce another attempt.
func (j *SearchJob) CanRetry() bool {
	return j.Status == JobFailed && j.RetryCount < j.MaxRetries
}
