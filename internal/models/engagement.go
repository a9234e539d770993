package models

import "time"

// MetricType is one engagement counter kind
type MetricType string

const (
	MetricLikes    MetricType = "likes"
	MetricShares   MetricType = "shares"
	MetricComments MetricType = "comments"
)

// MetricTypes lists every counter kind in storage order.
var MetricTypes = []MetricType{MetricLikes, MetricShares, MetricComments}

// Period is a rollup granularity
type Period string

const (
	PeriodHourly  Period = "hourly"
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"
)

// Valid reports whether p is a known period.
func (p Period) Valid() bool {
	switch p {
	case PeriodHourly, PeriodDaily, PeriodMonthly, PeriodYearly:
		return true
	}
	return false
}

// EngagementMetric is a single typed count tied to a TopicRecord. Append only.
type EngagementMetric struct {
	ID         int64      `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	TopicID    int64      `gorm:"not null;index:idx_metric_topic_type_time,priority:1;column:topic_id" json:"topic_id"`
	MetricType MetricType `gorm:"type:varchar(20);not null;index:idx_metric_topic_type_time,priority:2;column:metric_type" json:"metric_type"`
	Count      int64      `gorm:"not null;default:0;column:count" json:"count"`
	Period     Period     `gorm:"type:varchar(20);not null;index:idx_metric_period_time,priority:1;column:period" json:"period"`
	RecordedAt time.Time  `gorm:"not null;index:idx_metric_topic_type_time,priority:3;index:idx_metric_period_time,priority:2;index;column:recorded_at" json:"recorded_at"`
	CreatedAt  time.Time  `gorm:"not null;column:created_at" json:"created_at"`
}

// TableName specifies the table name for EngagementMetric
func (EngagementMetric) TableName() string {
	return "engagement_metrics"
}

// EngagementSummary is a pre-computed rollup, one row per
// (topic, period, period_start).
type EngagementSummary struct {
	ID                 int64      `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Topic              string     `gorm:"type:varchar(500);not null;uniqueIndex:idx_summary_topic_period,priority:1;column:topic" json:"topic"`
	Category           string     `gorm:"type:varchar(100);not null;index;column:category" json:"category"`
	Period             Period     `gorm:"type:varchar(20);not null;uniqueIndex:idx_summary_topic_period,priority:2;column:period" json:"period"`
	PeriodStart        time.Time  `gorm:"not null;uniqueIndex:idx_summary_topic_period,priority:3;column:period_start" json:"period_start"`
	PeriodEnd          time.Time  `gorm:"not null;column:period_end" json:"period_end"`
	TotalLikes         int64      `gorm:"not null;default:0;column:total_likes" json:"total_likes"`
	TotalShares        int64      `gorm:"not null;default:0;column:total_shares" json:"total_shares"`
	TotalComments      int64      `gorm:"not null;default:0;column:total_comments" json:"total_comments"`
	AvgEngagementScore float64    `gorm:"not null;default:0;column:avg_engagement_score" json:"avg_engagement_score"`
	PeakEngagementTime *time.Time `gorm:"column:peak_engagement_time" json:"peak_engagement_time,omitempty"`
	CreatedAt          time.Time  `gorm:"not null;column:created_at" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"not null;column:updated_at" json:"updated_at"`
}

// TableName specifies the table name for EngagementSummary
func (EngagementSummary) TableName() string {
	return "engagement_summaries"
}

// Total returns the summed counters.
func (s EngagementSummary) Total() int64 {
	return s.TotalLikes + s.TotalShares + s.TotalComments
}
