package db

import (
	"context"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"gorm.io/gorm"

	"github.com/trendmind/trendmind/internal/models"
)

// MetricTotal is the summed count of one metric type for one topic record.
type MetricTotal struct {
	TopicID    int64             `gorm:"column:topic_id"`
	MetricType models.MetricType `gorm:"column:metric_type"`
	Total      int64             `gorm:"column:total"`
}

// PeriodCounters holds the three counters written onto a topic for one period.
type PeriodCounters struct {
	Likes    int64
	Shares   int64
	Comments int64
}

// Add folds one metric total into the counters.
func (c *PeriodCounters) Add(metric models.MetricType, n int64) {
	switch metric {
	case models.MetricLikes:
		c.Likes += n
	case models.MetricShares:
		c.Shares += n
	case models.MetricComments:
		c.Comments += n
	}
}

// Total returns the sum of all three counters.
func (c PeriodCounters) Total() int64 {
	return c.Likes + c.Shares + c.Comments
}

// EngagementRepository provides engagement event operations
type EngagementRepository struct {
	*Repository
}

// NewEngagementRepository creates a new engagement repository
func NewEngagementRepository(repo *Repository) *EngagementRepository {
	return &EngagementRepository{Repository: repo}
}

// SaveEvents appends engagement events.
func (r *EngagementRepository) SaveEvents(ctx context.Context, events []models.EngagementMetric) error {
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		events[i].RecordedAt = events[i].RecordedAt.UTC()
	}
	if err := r.db.WithContext(ctx).Create(&events).Error; err != nil {
		return persistErr("save events", err)
	}
	return nil
}

// GetMetricsByTopic returns the events of one topic record, newest first.
// An empty metricType returns every type.
func (r *EngagementRepository) GetMetricsByTopic(ctx context.Context, topicID int64, metricType models.MetricType, limit int) ([]models.EngagementMetric, error) {
	q := r.db.WithContext(ctx).Where("topic_id = ?", topicID)
	if metricType != "" {
		q = q.Where("metric_type = ?", metricType)
	}
	events := []models.EngagementMetric{}
	err := q.Order("recorded_at DESC").Order("id DESC").Limit(limit).Find(&events).Error
	return events, err
}

// sumEventsQuery builds the per-topic, per-type sum over [start, end).
func sumEventsQuery(start, end time.Time) (string, []interface{}, error) {
	return sq.Select("topic_id", "metric_type", "SUM(count) AS total").
		From(models.EngagementMetric{}.TableName()).
		Where(sq.GtOrEq{"recorded_at": start.UTC()}).
		Where(sq.Lt{"recorded_at": end.UTC()}).
		GroupBy("topic_id", "metric_type").
		OrderBy("topic_id", "metric_type").
		ToSql()
}

// SumEvents groups every event recorded in [start, end) by (topic, metric type).
func (r *EngagementRepository) SumEvents(ctx context.Context, start, end time.Time) ([]MetricTotal, error) {
	query, args, err := sumEventsQuery(start, end)
	if err != nil {
		return nil, fmt.Errorf("build sum query: %w", err)
	}
	var totals []MetricTotal
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&totals).Error; err != nil {
		return nil, err
	}
	return totals, nil
}

// ApplyPeriodCounters overwrites the period-scoped counters of each topic in
// counters. Each topic row is updated under its lock.
func (r *EngagementRepository) ApplyPeriodCounters(ctx context.Context, period models.Period, counters map[int64]PeriodCounters) (int, error) {
	prefix, err := counterPrefix(period)
	if err != nil {
		return 0, err
	}

	ids := make([]int64, 0, len(counters))
	for id := range counters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	updated := 0
	for _, id := range ids {
		c := counters[id]
		err := func() error {
			unlock := r.locks.Lock(id)
			defer unlock()
			return r.transaction(ctx, func(tx *gorm.DB) error {
				return tx.Model(&models.TopicRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
					prefix + "_likes":    c.Likes,
					prefix + "_shares":   c.Shares,
					prefix + "_comments": c.Comments,
				}).Error
			})
		}()
		if err != nil {
			return updated, persistErr(fmt.Sprintf("apply %s counters to topic %d", period, id), err)
		}
		updated++
	}
	return updated, nil
}

func counterPrefix(period models.Period) (string, error) {
	switch period {
	case models.PeriodDaily, models.PeriodMonthly, models.PeriodYearly:
		return string(period), nil
	default:
		return "", fmt.Errorf("no topic counters for period %q", period)
	}
}

// TopEngaged returns the records with the highest period counters.
func (r *EngagementRepository) TopEngaged(ctx context.Context, period models.Period, limit int) ([]models.TopicRecord, error) {
	prefix, err := counterPrefix(period)
	if err != nil {
		return nil, err
	}
	total := fmt.Sprintf("(%[1]s_likes + %[1]s_shares + %[1]s_comments)", prefix)

	recs := []models.TopicRecord{}
	err = r.db.WithContext(ctx).
		Where(total+" > 0").
		Order(total + " DESC").Order("observed_at DESC").
		Limit(limit).Find(&recs).Error
	return recs, err
}
