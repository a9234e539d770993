package models

import (
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
)

// MaxTopicLength bounds the stored topic text.
const MaxTopicLength = 500

// DefaultSource is recorded when a candidate does not name its source.
const DefaultSource = "x.com"

// TrendDirection labels how a topic's engagement moved inside one run
type TrendDirection string

const (
	TrendRising  TrendDirection = "rising"
	TrendStable  TrendDirection = "stable"
	TrendFalling TrendDirection = "falling"
)

// TopicRecord is one scored observation of a topic. Scores are never
// rewritten; only the rollup counters are updated after insert.
type TopicRecord struct {
	ID              int64                       `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	JobID           string                      `gorm:"type:varchar(100);not null;uniqueIndex:idx_topic_job_key,priority:1;column:job_id" json:"job_id"`
	TopicKey        string                      `gorm:"type:varchar(500);not null;uniqueIndex:idx_topic_job_key,priority:2;index;column:topic_key" json:"-"`
	Topic           string                      `gorm:"type:varchar(500);not null;column:topic" json:"topic"`
	Category        string                      `gorm:"type:varchar(100);not null;index;column:category" json:"category"`
	Score           float64                     `gorm:"not null;default:0;index;column:score" json:"score"`
	EngagementScore float64                     `gorm:"not null;default:0;column:engagement_score" json:"engagement_score"`
	LikesCount      int64                       `gorm:"not null;default:0;column:likes_count" json:"likes_count"`
	SharesCount     int64                       `gorm:"not null;default:0;column:shares_count" json:"shares_count"`
	CommentsCount   int64                       `gorm:"not null;default:0;column:comments_count" json:"comments_count"`
	DailyLikes      int64                       `gorm:"not null;default:0;column:daily_likes" json:"daily_likes"`
	DailyShares     int64                       `gorm:"not null;default:0;column:daily_shares" json:"daily_shares"`
	DailyComments   int64                       `gorm:"not null;default:0;column:daily_comments" json:"daily_comments"`
	MonthlyLikes    int64                       `gorm:"not null;default:0;column:monthly_likes" json:"monthly_likes"`
	MonthlyShares   int64                       `gorm:"not null;default:0;column:monthly_shares" json:"monthly_shares"`
	MonthlyComments int64                       `gorm:"not null;default:0;column:monthly_comments" json:"monthly_comments"`
	YearlyLikes     int64                       `gorm:"not null;default:0;column:yearly_likes" json:"yearly_likes"`
	YearlyShares    int64                       `gorm:"not null;default:0;column:yearly_shares" json:"yearly_shares"`
	YearlyComments  int64                       `gorm:"not null;default:0;column:yearly_comments" json:"yearly_comments"`
	Frequency       int                         `gorm:"not null;default:0;column:frequency" json:"frequency"`
	EngagementTrend TrendDirection              `gorm:"type:varchar(20);not null;default:'stable';column:engagement_trend" json:"engagement_trend"`
	TimeAnalysis    datatypes.JSON              `gorm:"column:time_analysis" json:"time_analysis,omitempty"`
	RelatedTopics   datatypes.JSONSlice[string] `gorm:"column:related_topics" json:"related_topics"`
	Source          string                      `gorm:"type:varchar(100);not null;default:'x.com';column:source" json:"source"`
	ObservedAt      time.Time                   `gorm:"not null;index;column:observed_at" json:"observed_at"`
	CreatedAt       time.Time                   `gorm:"not null;column:created_at" json:"created_at"`
}

// TableName specifies the table name for TopicRecord
func (TopicRecord) TableName() string {
	return "topic_search_results"
}

// NormalizeTopic case-folds and collapses whitespace. Two candidates with the
// same normalized text are the same topic.
func NormalizeTopic(topic string) string {
	return strings.Join(strings.Fields(strings.ToLower(topic)), " ")
}

// TruncateTopic trims topic text to MaxTopicLength bytes on a rune boundary.
func TruncateTopic(topic string) string {
	topic = strings.TrimSpace(topic)
	if len(topic) <= MaxTopicLength {
		return topic
	}
	cut := MaxTopicLength
	for cut > 0 && !utf8.RuneStart(topic[cut]) {
		cut--
	}
	return topic[:cut]
}

// Candidate is a raw topic observation returned by a collector.
type Candidate struct {
	Topic      string    `json:"topic"`
	Engagement float64   `json:"engagement"`
	Frequency  int       `json:"frequency"`
	Category   string    `json:"category,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source"`
	Likes      int64     `json:"likes,omitempty"`
	Shares     int64     `json:"shares,omitempty"`
	Comments   int64     `json:"comments,omitempty"`
}
