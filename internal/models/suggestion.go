package models

import (
	"time"

	"gorm.io/datatypes"
)

// BatchStatus is the state of one suggestion generation run
type BatchStatus string

const (
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// AISuggestion is one ranked topic proposal from a provider. Expired or
// superseded rows are deactivated, never deleted.
type AISuggestion struct {
	ID              int64                       `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Topic           string                      `gorm:"type:varchar(500);not null;column:topic" json:"topic"`
	TopicKey        string                      `gorm:"type:varchar(500);not null;index;column:topic_key" json:"-"`
	Category        string                      `gorm:"type:varchar(100);not null;index;column:category" json:"category"`
	ConfidenceScore float64                     `gorm:"not null;column:confidence_score" json:"confidence_score"`
	RankingScore    float64                     `gorm:"not null;index;column:ranking_score" json:"ranking_score"`
	Source          string                      `gorm:"type:varchar(50);not null;index;column:source" json:"source"`
	Reasoning       string                      `gorm:"type:text;column:reasoning" json:"reasoning"`
	TrendData       datatypes.JSON              `gorm:"column:trend_data" json:"trend_data,omitempty"`
	RelatedTopics   datatypes.JSONSlice[string] `gorm:"column:related_topics" json:"related_topics"`
	BatchID         string                      `gorm:"type:varchar(100);not null;index;column:batch_id" json:"batch_id"`
	IsActive        bool                        `gorm:"not null;index:idx_suggestion_active,priority:1;column:is_active" json:"is_active"`
	CreatedAt       time.Time                   `gorm:"not null;column:created_at" json:"created_at"`
	ExpiresAt       time.Time                   `gorm:"not null;index:idx_suggestion_active,priority:2;column:expires_at" json:"expires_at"`
}

// TableName specifies the table name for AISuggestion
func (AISuggestion) TableName() string {
	return "ai_suggestions"
}

// AISuggestionBatch tracks one generation run across providers
type AISuggestionBatch struct {
	ID               int64                              `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	BatchID          string                             `gorm:"type:varchar(100);not null;uniqueIndex;column:batch_id" json:"batch_id"`
	JobID            string                             `gorm:"type:varchar(100);column:job_id" json:"job_id,omitempty"`
	Status           BatchStatus                        `gorm:"type:varchar(20);not null;column:status" json:"status"`
	SourcesUsed      datatypes.JSONSlice[string]        `gorm:"column:sources_used" json:"sources_used"`
	TotalSuggestions int                                `gorm:"not null;default:0;column:total_suggestions" json:"total_suggestions"`
	ProviderCounts   datatypes.JSONType[map[string]int] `gorm:"column:provider_counts" json:"provider_counts"`
	ErrorMessage     string                             `gorm:"type:text;column:error_message" json:"error_message,omitempty"`
	StartedAt        time.Time                          `gorm:"not null;column:started_at" json:"started_at"`
	CompletedAt      *time.Time                         `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

// TableName specifies the table name for AISuggestionBatch
func (AISuggestionBatch) TableName() string {
	return "ai_suggestion_batches"
}

// All lists every persisted model, in migration order.
func All() []interface{} {
	return []interface{}{
		&TopicRecord{},
		&EngagementMetric{},
		&EngagementSummary{},
		&SearchJob{},
		&AISuggestion{},
		&AISuggestionBatch{},
	}
}
