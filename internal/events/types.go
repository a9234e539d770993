package events

import "time"

// TopicSummary is the per-topic payload of a TopicsDetected event.
type TopicSummary struct {
	Topic     string  `json:"topic"`
	Category  string  `json:"category"`
	Score     float64 `json:"score"`
	Direction string  `json:"direction"`
}

// TopicsDetectedEvent is published after a collection job commits.
type TopicsDetectedEvent struct {
	JobID      string         `json:"job_id"`
	Count      int            `json:"count"`
	Top        []TopicSummary `json:"top"`
	ObservedAt time.Time      `json:"observed_at"`
}

// SuggestionsGeneratedEvent is published after a generation batch closes.
type SuggestionsGeneratedEvent struct {
	BatchID        string         `json:"batch_id"`
	JobID          string         `json:"job_id"`
	Total          int            `json:"total"`
	ProviderCounts map[string]int `json:"provider_counts"`
}

// RetryExhaustedEvent is published when a failed job has no retries left.
type RetryExhaustedEvent struct {
	JobID      string    `json:"job_id"`
	Kind       string    `json:"kind"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
	Error      string    `json:"error"`
	FailedAt   time.Time `json:"failed_at"`
}
