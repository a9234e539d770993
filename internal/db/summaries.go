package db

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"github.com/trendmind/trendmind/internal/models"
)

// SummaryRepository provides engagement summary operations
type SummaryRepository struct {
	*Repository
}

// NewSummaryRepository creates a new summary repository
func NewSummaryRepository(repo *Repository) *SummaryRepository {
	return &SummaryRepository{Repository: repo}
}

// UpsertSummaries writes summaries keyed by (topic, period, period_start),
// replacing the totals of an existing row.
func (r *SummaryRepository) UpsertSummaries(ctx context.Context, summaries []models.EngagementSummary) error {
	if len(summaries) == 0 {
		return nil
	}
	now := r.now()
	for i := range summaries {
		summaries[i].PeriodStart = summaries[i].PeriodStart.UTC()
		summaries[i].PeriodEnd = summaries[i].PeriodEnd.UTC()
		summaries[i].UpdatedAt = now
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "topic"}, {Name: "period"}, {Name: "period_start"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"category", "period_end", "total_likes", "total_shares", "total_comments",
			"avg_engagement_score", "peak_engagement_time", "updated_at",
		}),
	}).Create(&summaries).Error
	if err != nil {
		return persistErr("upsert summaries", err)
	}
	return nil
}

// GetSummaries returns summaries of one period, newest window first. An empty
// category returns every category.
func (r *SummaryRepository) GetSummaries(ctx context.Context, period models.Period, category string, limit int) ([]models.EngagementSummary, error) {
	q := r.db.WithContext(ctx).Where("period = ?", period)
	if category != "" {
		q = q.Where("category = ?", category)
	}
	out := []models.EngagementSummary{}
	err := q.Order("period_start DESC").
		Order("(total_likes + total_shares + total_comments) DESC").
		Order("topic ASC").
		Limit(limit).Find(&out).Error
	return out, err
}

// GetSummariesAt returns every summary of period whose window starts at start.
func (r *SummaryRepository) GetSummariesAt(ctx context.Context, period models.Period, start time.Time) ([]models.EngagementSummary, error) {
	out := []models.EngagementSummary{}
	err := r.db.WithContext(ctx).
		Where("period = ? AND period_start = ?", period, start.UTC()).
		Order("(total_likes + total_shares + total_comments) DESC").
		Order("topic ASC").
		Find(&out).Error
	return out, err
}

// GetSummariesBetween returns summaries of period whose window starts in
// [start, end), oldest first. An empty category returns every category.
func (r *SummaryRepository) GetSummariesBetween(ctx context.Context, period models.Period, category string, start, end time.Time) ([]models.EngagementSummary, error) {
	q := r.db.WithContext(ctx).
		Where("period = ? AND period_start >= ? AND period_start < ?", period, start.UTC(), end.UTC())
	if category != "" {
		q = q.Where("category = ?", category)
	}
	out := []models.EngagementSummary{}
	err := q.Order("period_start ASC").Order("topic ASC").Find(&out).Error
	return out, err
}
