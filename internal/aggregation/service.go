package aggregation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trendmind/trendmind/internal/db"
	"github.com/trendmind/trendmind/internal/models"
	"github.com/trendmind/trendmind/pkg/logging"
	"github.com/trendmind/trendmind/pkg/telemetry"
)

// Result describes one rolled-up window.
type Result struct {
	Period        models.Period `json:"period"`
	Start         time.Time     `json:"start"`
	End           time.Time     `json:"end"`
	TopicsUpdated int           `json:"topics_updated"`
	Summaries     int           `json:"summaries"`
	Likes         int64         `json:"likes"`
	Shares        int64         `json:"shares"`
	Comments      int64         `json:"comments"`
}

// Service folds engagement events into topic counters and summaries.
// Re-running a window overwrites the previous results.
type Service struct {
	topics     *db.TopicRepository
	engagement *db.EngagementRepository
	summaries  *db.SummaryRepository
	logger     *zap.Logger
}

// NewService creates a rollup service over store.
func NewService(store *db.Store) *Service {
	return &Service{
		topics:     store.Topics,
		engagement: store.Engagement,
		summaries:  store.Summaries,
		logger:     logging.WithComponent("aggregation"),
	}
}

// Bounds returns the [start, end) window of period containing t, in UTC.
func Bounds(period models.Period, t time.Time) (time.Time, time.Time, error) {
	t = t.UTC()
	switch period {
	case models.PeriodHourly:
		start := t.Truncate(time.Hour)
		return start, start.Add(time.Hour), nil
	case models.PeriodDaily:
		start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1), nil
	case models.PeriodMonthly:
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0), nil
	case models.PeriodYearly:
		start := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(1, 0, 0), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown period %q", period)
	}
}

// RunDaily rolls up the UTC day containing date.
func (s *Service) RunDaily(ctx context.Context, date time.Time) (*Result, error) {
	start, end, _ := Bounds(models.PeriodDaily, date)
	return s.runWindow(ctx, models.PeriodDaily, start, end)
}

// RunMonthly rolls up one calendar month.
func (s *Service) RunMonthly(ctx context.Context, year int, month time.Month) (*Result, error) {
	start, end, _ := Bounds(models.PeriodMonthly, time.Date(year, month, 1, 0, 0, 0, 0, time.UTC))
	return s.runWindow(ctx, models.PeriodMonthly, start, end)
}

// RunYearly rolls up one calendar year.
func (s *Service) RunYearly(ctx context.Context, year int) (*Result, error) {
	start, end, _ := Bounds(models.PeriodYearly, time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC))
	return s.runWindow(ctx, models.PeriodYearly, start, end)
}

// RunBatch rolls up every period bucket overlapping [start, end), so every
// topic with an event inside the window is refreshed. Buckets are always
// whole periods, which keeps the output identical to the periodic runs.
func (s *Service) RunBatch(ctx context.Context, period models.Period, start, end time.Time) ([]Result, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("empty window: %s >= %s", start, end)
	}
	bucket, _, err := Bounds(period, start)
	if err != nil {
		return nil, err
	}

	var results []Result
	for bucket.Before(end) {
		_, next, _ := Bounds(period, bucket)
		res, err := s.runWindow(ctx, period, bucket, next)
		if err != nil {
			return results, err
		}
		results = append(results, *res)
		bucket = next
	}
	return results, nil
}

// RollupNow refreshes the current day, the previous day, the current month
// and the current year.
func (s *Service) RollupNow(ctx context.Context, now time.Time) ([]Result, error) {
	now = now.UTC()
	var results []Result
	steps := []func() (*Result, error){
		func() (*Result, error) { return s.RunDaily(ctx, now.AddDate(0, 0, -1)) },
		func() (*Result, error) { return s.RunDaily(ctx, now) },
		func() (*Result, error) { return s.RunMonthly(ctx, now.Year(), now.Month()) },
		func() (*Result, error) { return s.RunYearly(ctx, now.Year()) },
	}
	for _, step := range steps {
		res, err := step()
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}

func (s *Service) runWindow(ctx context.Context, period models.Period, start, end time.Time) (res *Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, "aggregation."+string(period))
	defer func() { telemetry.EndSpan(span, err) }()

	res = &Result{Period: period, Start: start, End: end}

	totals, err := s.engagement.SumEvents(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("sum %s events: %w", period, err)
	}

	counters := make(map[int64]db.PeriodCounters)
	for _, t := range totals {
		c := counters[t.TopicID]
		c.Add(t.MetricType, t.Total)
		counters[t.TopicID] = c
	}
	for _, c := range counters {
		res.Likes += c.Likes
		res.Shares += c.Shares
		res.Comments += c.Comments
	}
	if len(counters) == 0 {
		s.logger.Debug("No engagement events in window",
			zap.String("period", string(period)), zap.Time("start", start))
		return res, nil
	}

	if period != models.PeriodHourly {
		res.TopicsUpdated, err = s.engagement.ApplyPeriodCounters(ctx, period, counters)
		if err != nil {
			return nil, err
		}
	}

	ids := make([]int64, 0, len(counters))
	for id := range counters {
		ids = append(ids, id)
	}
	recs, err := s.topics.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load topics: %w", err)
	}

	summaries := buildSummaries(period, start, end, recs, counters)
	if err := s.summaries.UpsertSummaries(ctx, summaries); err != nil {
		return nil, err
	}
	res.Summaries = len(summaries)

	s.logger.Info("Rolled up engagement",
		zap.String("period", string(period)),
		zap.Time("start", start),
		zap.Int("topics", res.TopicsUpdated),
		zap.Int("summaries", res.Summaries))
	return res, nil
}

type summaryAcc struct {
	summary   models.EngagementSummary
	latest    time.Time
	scoreSum  float64
	records   int
	peakTotal int64
}

// buildSummaries merges records of the same normalized topic into one
// summary per window.
func buildSummaries(period models.Period, start, end time.Time, recs []models.TopicRecord, counters map[int64]db.PeriodCounters) []models.EngagementSummary {
	accs := make(map[string]*summaryAcc)
	var order []string
	for _, rec := range recs {
		key := rec.TopicKey
		if key == "" {
			key = models.NormalizeTopic(rec.Topic)
		}
		acc, ok := accs[key]
		if !ok {
			acc = &summaryAcc{summary: models.EngagementSummary{
				Topic:       key,
				Period:      period,
				PeriodStart: start,
				PeriodEnd:   end,
			}}
			accs[key] = acc
			order = append(order, key)
		}

		c := counters[rec.ID]
		acc.summary.TotalLikes += c.Likes
		acc.summary.TotalShares += c.Shares
		acc.summary.TotalComments += c.Comments
		acc.scoreSum += rec.EngagementScore
		acc.records++

		if !rec.ObservedAt.Before(acc.latest) {
			acc.latest = rec.ObservedAt
			acc.summary.Category = rec.Category
		}
		if total := c.Total(); acc.summary.PeakEngagementTime == nil || total > acc.peakTotal ||
			(total == acc.peakTotal && rec.ObservedAt.After(*acc.summary.PeakEngagementTime)) {
			at := rec.ObservedAt.UTC()
			acc.summary.PeakEngagementTime = &at
			acc.peakTotal = total
		}
	}

	out := make([]models.EngagementSummary, 0, len(order))
	for _, key := range order {
		acc := accs[key]
		acc.summary.AvgEngagementScore = acc.scoreSum / float64(acc.records)
		out = append(out, acc.summary)
	}
	return out
}
