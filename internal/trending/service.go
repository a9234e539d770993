package trending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/trendmind/trendmind/internal/cache"
	"github.com/trendmind/trendmind/internal/collector"
	"github.com/trendmind/trendmind/internal/db"
	"github.com/trendmind/trendmind/internal/events"
	"github.com/trendmind/trendmind/internal/models"
	"github.com/trendmind/trendmind/internal/scoring"
	"github.com/trendmind/trendmind/pkg/logging"
	"github.com/trendmind/trendmind/pkg/telemetry"
)

const (
	cachePrefix    = "trending:"
	// trendingBucket coarsens the window end baked into top trending keys,
	// so a cached ranking never outlives the minute it was computed in.
	trendingBucket = time.Minute
	maxQueryLimit  = 100
	eventTopN      = 5
	sourceLabelMax = 100
)

var (
	// ErrAllCollectorsFailed fails a collection run in which no source answered.
	ErrAllCollectorsFailed = errors.New("all collectors failed")
	// ErrInvalidPeriod is returned for an unknown rollup period.
	ErrInvalidPeriod = errors.New("invalid period")
	// ErrTopicNotFound is returned when a topic id does not exist.
	ErrTopicNotFound = errors.New("topic not found")
)

// Options tunes collection and queries.
type Options struct {
	MaxResults  int
	WindowHours int
	CleanupDays int
}

// CollectResult summarizes one collection run.
type CollectResult struct {
	JobID         string    `json:"job_id"`
	Candidates    int       `json:"candidates"`
	Topics        int       `json:"topics"`
	FailedSources []string  `json:"failed_sources,omitempty"`
	ObservedAt    time.Time `json:"observed_at"`
}

// Service runs collection jobs and answers dashboard-facing topic queries.
// Queries read scored topics and summaries only.
type Service struct {
	collectors *collector.Registry
	engine     *scoring.Engine
	store      *db.Store
	cache      *cache.Cache
	events     *events.Publisher
	opts       Options
	logger     *zap.Logger
}

// NewService wires a trending service. cache and publisher may be nil.
func NewService(store *db.Store, collectors *collector.Registry, engine *scoring.Engine, c *cache.Cache, pub *events.Publisher, opts Options) *Service {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 50
	}
	if opts.WindowHours <= 0 {
		opts.WindowHours = 24
	}
	if opts.CleanupDays <= 0 {
		opts.CleanupDays = 30
	}
	return &Service{
		collectors: collectors,
		engine:     engine,
		store:      store,
		cache:      c,
		events:     pub,
		opts:       opts,
		logger:     logging.WithComponent("trending"),
	}
}

// Collect gathers candidates from every source, scores them and persists one
// topic record per group together with its engagement events. Individual
// source failures are tolerated; the run fails only when every source fails
// or the write fails.
func (s *Service) Collect(ctx context.Context, jobID string) (res *CollectResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, "trending.collect")
	defer func() { telemetry.EndSpan(span, err) }()

	logger := s.logger.With(zap.String("job_id", jobID))

	cands, failed, err := s.collectors.Gather(ctx, s.opts.MaxResults)
	if err != nil {
		return nil, err
	}
	res = &CollectResult{JobID: jobID, Candidates: len(cands)}
	for _, f := range failed {
		res.FailedSources = append(res.FailedSources, f.Source)
	}
	if len(failed) > 0 && len(failed) == s.collectors.Len() {
		errs := make([]error, 0, len(failed))
		for _, f := range failed {
			errs = append(errs, f)
		}
		return nil, fmt.Errorf("%w: %w", ErrAllCollectorsFailed, errors.Join(errs...))
	}

	res.ObservedAt = s.store.Now()
	scored := s.engine.Score(cands, res.ObservedAt)

	obs, err := observations(scored)
	if err != nil {
		return nil, err
	}
	res.Topics, err = s.store.Topics.SaveObservations(ctx, jobID, obs)
	if err != nil {
		return nil, err
	}

	if _, err := s.cache.DeletePrefix(ctx, cachePrefix); err != nil && !errors.Is(err, cache.ErrCacheDisabled) {
		logger.Warn("Failed to invalidate trending cache", zap.Error(err))
	}

	if res.Topics > 0 {
		_ = s.events.Publish(ctx, events.TopicsDetected, detectedEvent(jobID, scored, res.ObservedAt))
	}

	logger.Info("Collected topics",
		zap.Int("candidates", res.Candidates),
		zap.Int("topics", res.Topics),
		zap.Strings("failed_sources", res.FailedSources))
	return res, nil
}

func observations(scored []scoring.Scored) ([]db.Observation, error) {
	out := make([]db.Observation, 0, len(scored))
	for _, sc := range scored {
		analysis, err := json.Marshal(sc.TimeAnalysis)
		if err != nil {
			return nil, fmt.Errorf("encode time analysis for %q: %w", sc.Topic, err)
		}
		rec := &models.TopicRecord{
			TopicKey:        sc.Key,
			Topic:           models.TruncateTopic(sc.Topic),
			Category:        sc.Category,
			Score:           sc.Score,
			EngagementScore: sc.EngagementScore,
			Frequency:       sc.Frequency,
			EngagementTrend: sc.Trend,
			TimeAnalysis:    datatypes.JSON(analysis),
			RelatedTopics:   datatypes.JSONSlice[string](sc.RelatedTopics),
			Source:          scoring.SourceLabel(sc.Sources, sourceLabelMax),
			ObservedAt:      sc.ObservedAt,
			LikesCount:      sc.Likes,
			SharesCount:     sc.Shares,
			CommentsCount:   sc.Comments,
		}

		var evs []models.EngagementMetric
		for _, m := range []struct {
			kind  models.MetricType
			count int64
		}{
			{models.MetricLikes, sc.Likes},
			{models.MetricShares, sc.Shares},
			{models.MetricComments, sc.Comments},
		} {
			if m.count == 0 {
				continue
			}
			evs = append(evs, models.EngagementMetric{
				MetricType: m.kind,
				Count:      m.count,
				Period:     models.PeriodDaily,
				RecordedAt: sc.ObservedAt,
			})
		}
		out = append(out, db.Observation{Record: rec, Events: evs})
	}
	return out, nil
}

func detectedEvent(jobID string, scored []scoring.Scored, at time.Time) events.TopicsDetectedEvent {
	ev := events.TopicsDetectedEvent{JobID: jobID, Count: len(scored), ObservedAt: at}
	for i, sc := range scored {
		if i == eventTopN {
			break
		}
		ev.Top = append(ev.Top, events.TopicSummary{
			Topic:     sc.Topic,
			Category:  sc.Category,
			Score:     sc.Score,
			Direction: string(sc.Trend),
		})
	}
	return ev
}

// CleanupResult reports what a retention sweep removed.
type CleanupResult struct {
	TopicsDeleted          int64 `json:"topics_deleted"`
	SuggestionsDeactivated int64 `json:"suggestions_deactivated"`
}

// Cleanup deletes topics older than the retention window and deactivates
// expired suggestions.
func (s *Service) Cleanup(ctx context.Context) (*CleanupResult, error) {
	deleted, err := s.store.Topics.CleanupOlderThan(ctx, s.opts.CleanupDays)
	if err != nil {
		return nil, err
	}
	deactivated, err := s.store.Suggestions.DeactivateExpired(ctx)
	if err != nil {
		return nil, err
	}
	if deleted > 0 {
		if _, err := s.cache.DeletePrefix(ctx, cachePrefix); err != nil && !errors.Is(err, cache.ErrCacheDisabled) {
			s.logger.Warn("Failed to invalidate trending cache", zap.Error(err))
		}
	}

	s.logger.Info("Retention sweep finished",
		zap.Int("days", s.opts.CleanupDays),
		zap.Int64("topics_deleted", deleted),
		zap.Int64("suggestions_deactivated", deactivated))
	return &CleanupResult{TopicsDeleted: deleted, SuggestionsDeactivated: deactivated}, nil
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

// TopTrending returns the best record per topic inside the window, served
// from redis when available. No data yields an empty slice.
func (s *Service) TopTrending(ctx context.Context, limit, windowHours int) ([]models.TopicRecord, error) {
	limit = clampLimit(limit, 10)
	if windowHours <= 0 {
		windowHours = s.opts.WindowHours
	}

	key := topTrendingKey(limit, windowHours, s.store.Now())
	var cached []models.TopicRecord
	switch err := s.cache.GetJSON(ctx, key, &cached); {
	case err == nil:
		return cached, nil
	case !errors.Is(err, cache.ErrCacheDisabled) && !errors.Is(err, cache.ErrCacheMiss):
		s.logger.Warn("Trending cache read failed", zap.Error(err))
	}

	recs, err := s.store.Topics.GetTopTrending(ctx, limit, windowHours)
	if err != nil {
		return nil, fmt.Errorf("top trending: %w", err)
	}
	if err := s.cache.SetJSON(ctx, key, recs); err != nil && !errors.Is(err, cache.ErrCacheDisabled) {
		s.logger.Warn("Trending cache write failed", zap.Error(err))
	}
	return recs, nil
}

func topTrendingKey(limit, windowHours int, now time.Time) string {
	bucket := now.UTC().Truncate(trendingBucket).Unix()
	return cachePrefix + cache.HashKey(strconv.Itoa(limit), strconv.Itoa(windowHours), strconv.FormatInt(bucket, 10))
}

// Summaries returns rollup summaries of a period, optionally for one category.
func (s *Service) Summaries(ctx context.Context, period models.Period, category string, limit int) ([]models.EngagementSummary, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
	return s.store.Summaries.GetSummaries(ctx, period, category, clampLimit(limit, 50))
}

// TopicMetrics is a topic record with its most recent engagement events.
type TopicMetrics struct {
	Topic   *models.TopicRecord       `json:"topic"`
	Metrics []models.EngagementMetric `json:"metrics"`
}

// TopicMetrics returns the events recorded for one topic record.
func (s *Service) TopicMetrics(ctx context.Context, topicID int64, metricType models.MetricType, limit int) (*TopicMetrics, error) {
	rec, err := s.store.Topics.GetByID(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %d", ErrTopicNotFound, topicID)
	}
	metrics, err := s.store.Engagement.GetMetricsByTopic(ctx, topicID, metricType, clampLimit(limit, 50))
	if err != nil {
		return nil, err
	}
	return &TopicMetrics{Topic: rec, Metrics: metrics}, nil
}

// TopEngaged returns the topics with the highest rolled-up counters of a period.
func (s *Service) TopEngaged(ctx context.Context, period models.Period, limit int) ([]models.TopicRecord, error) {
	if period != models.PeriodDaily && period != models.PeriodMonthly && period != models.PeriodYearly {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
	return s.store.Engagement.TopEngaged(ctx, period, clampLimit(limit, 10))
}

// TrendPoint is the engagement of one category over one period window.
type TrendPoint struct {
	Date               string  `json:"date"`
	TotalLikes         int64   `json:"total_likes"`
	TotalShares        int64   `json:"total_shares"`
	TotalComments      int64   `json:"total_comments"`
	AvgEngagementScore float64 `json:"avg_engagement_score"`
	TopicCount         int     `json:"topic_count"`
}

// CategoryTrends folds the summaries of the last days into one point per
// period window. An empty category covers every category.
func (s *Service) CategoryTrends(ctx context.Context, category string, period models.Period, days int) ([]TrendPoint, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
	if days <= 0 {
		days = 30
	}
	end := s.store.Now()
	start := end.AddDate(0, 0, -days)

	summaries, err := s.store.Summaries.GetSummariesBetween(ctx, period, category, start, end)
	if err != nil {
		return nil, err
	}

	points := []TrendPoint{}
	index := map[string]int{}
	for _, sum := range summaries {
		date := sum.PeriodStart.UTC().Format("2006-01-02")
		i, ok := index[date]
		if !ok {
			i = len(points)
			index[date] = i
			points = append(points, TrendPoint{Date: date})
		}
		p := &points[i]
		p.TotalLikes += sum.TotalLikes
		p.TotalShares += sum.TotalShares
		p.TotalComments += sum.TotalComments
		p.AvgEngagementScore += sum.AvgEngagementScore
		p.TopicCount++
	}
	for i := range points {
		points[i].AvgEngagementScore /= float64(points[i].TopicCount)
	}
	return points, nil
}
