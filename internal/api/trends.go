package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/trendmind/trendmind/internal/aggregation"
	"github.com/trendmind/trendmind/internal/models"
	"github.com/trendmind/trendmind/internal/trending"
)

// TrendQueries answers topic and engagement reads.
type TrendQueries interface {
	TopTrending(ctx context.Context, limit, windowHours int) ([]models.TopicRecord, error)
	Summaries(ctx context.Context, period models.Period, category string, limit int) ([]models.EngagementSummary, error)
	TopicMetrics(ctx context.Context, topicID int64, metricType models.MetricType, limit int) (*trending.TopicMetrics, error)
	TopEngaged(ctx context.Context, period models.Period, limit int) ([]models.TopicRecord, error)
	CategoryTrends(ctx context.Context, category string, period models.Period, days int) ([]trending.TrendPoint, error)
}

// Aggregator runs rollups on demand.
type Aggregator interface {
	RunDaily(ctx context.Context, date time.Time) (*aggregation.Result, error)
	RunMonthly(ctx context.Context, year int, month time.Month) (*aggregation.Result, error)
	RunYearly(ctx context.Context, year int) (*aggregation.Result, error)
	RunBatch(ctx context.Context, period models.Period, start, end time.Time) ([]aggregation.Result, error)
}

// TrendsAPI serves the trends.* and engagement.* methods.
type TrendsAPI struct {
	queries    TrendQueries
	aggregator Aggregator
}

// NewTrendsAPI creates the trend methods. aggregator may be nil, which
// disables engagement.aggregate.
func NewTrendsAPI(queries TrendQueries, aggregator Aggregator) *TrendsAPI {
	return &TrendsAPI{queries: queries, aggregator: aggregator}
}

// GetTopTrending handles trends.get_top_trending
func (a *TrendsAPI) GetTopTrending(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		Limit int `json:"limit"`
		Hours int `json:"hours"`
	}
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if p.Limit < 0 || p.Hours < 0 {
		return nil, InvalidParams("limit and hours must not be negative")
	}
	return a.queries.TopTrending(c.Request.Context(), p.Limit, p.Hours)
}

// GetSummaries handles trends.get_summaries
func (a *TrendsAPI) GetSummaries(c *gin.Context, params json.RawMessage) (interface{}, error) {
	p := struct {
		Period   models.Period `json:"period"`
		Category string        `json:"category"`
		Limit    int           `json:"limit"`
	}{Period: models.PeriodDaily}
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	return a.queries.Summaries(c.Request.Context(), p.Period, p.Category, p.Limit)
}

// GetTopicMetrics handles engagement.get_topic_metrics
func (a *TrendsAPI) GetTopicMetrics(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		TopicID    int64             `json:"topic_id"`
		MetricType models.MetricType `json:"metric_type"`
		Limit      int               `json:"limit"`
	}
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if p.TopicID <= 0 {
		return nil, InvalidParams("missing required parameter: topic_id")
	}
	if p.MetricType != "" && !validMetric(p.MetricType) {
		return nil, InvalidParams("unknown metric_type %q", p.MetricType)
	}
	return a.queries.TopicMetrics(c.Request.Context(), p.TopicID, p.MetricType, p.Limit)
}

func validMetric(m models.MetricType) bool {
	for _, known := range models.MetricTypes {
		if m == known {
			return true
		}
	}
	return false
}

// GetTopTopics handles engagement.get_top_topics
func (a *TrendsAPI) GetTopTopics(c *gin.Context, params json.RawMessage) (interface{}, error) {
	p := struct {
		Period models.Period `json:"period"`
		Limit  int           `json:"limit"`
	}{Period: models.PeriodDaily}
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	return a.queries.TopEngaged(c.Request.Context(), p.Period, p.Limit)
}

// GetCategoryTrends handles engagement.get_category_trends
func (a *TrendsAPI) GetCategoryTrends(c *gin.Context, params json.RawMessage) (interface{}, error) {
	p := struct {
		Category string        `json:"category"`
		Period   models.Period `json:"period"`
		Days     int           `json:"days"`
	}{Period: models.PeriodDaily, Days: 30}
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if p.Days <= 0 || p.Days > 366 {
		return nil, InvalidParams("days must be between 1 and 366")
	}
	return a.queries.CategoryTrends(c.Request.Context(), p.Category, p.Period, p.Days)
}

// Aggregate handles engagement.aggregate. With from and to it refreshes every
// bucket in between; otherwise it rolls up the single window containing date.
func (a *TrendsAPI) Aggregate(c *gin.Context, params json.RawMessage) (interface{}, error) {
	if a.aggregator == nil {
		return nil, NewError(ErrServerError, "aggregation is not available")
	}
	var p struct {
		Period models.Period `json:"period"`
		Date   string        `json:"date"`
		From   string        `json:"from"`
		To     string        `json:"to"`
	}
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if p.Period == "" {
		p.Period = models.PeriodDaily
	}
	ctx := c.Request.Context()

	if p.From != "" || p.To != "" {
		from, err := parseDate("from", p.From)
		if err != nil {
			return nil, err
		}
		to, err := parseDate("to", p.To)
		if err != nil {
			return nil, err
		}
		if !p.Period.Valid() || p.Period == models.PeriodHourly {
			return nil, InvalidParams("unsupported period %q", p.Period)
		}
		if !to.After(from) {
			return nil, InvalidParams("to must be after from")
		}
		return a.aggregator.RunBatch(ctx, p.Period, from, to)
	}

	date := time.Now().UTC()
	if p.Date != "" {
		d, err := parseDate("date", p.Date)
		if err != nil {
			return nil, err
		}
		date = d
	}
	switch p.Period {
	case models.PeriodDaily:
		return a.aggregator.RunDaily(ctx, date)
	case models.PeriodMonthly:
		return a.aggregator.RunMonthly(ctx, date.Year(), date.Month())
	case models.PeriodYearly:
		return a.aggregator.RunYearly(ctx, date.Year())
	}
	return nil, InvalidParams("unsupported period %q", p.Period)
}

func parseDate(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, InvalidParams("missing required parameter: %s", name)
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, InvalidParams("%s must be YYYY-MM-DD", name)
	}
	return t.UTC(), nil
}
