package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/trendmind/trendmind/internal/aggregation"
	"github.com/trendmind/trendmind/internal/cache"
	"github.com/trendmind/trendmind/internal/models"
	"github.com/trendmind/trendmind/internal/orchestrator"
	"github.com/trendmind/trendmind/internal/trending"
)

type fakeTrends struct {
	limit, hours int
	period       models.Period
	days         int
}

func (f *fakeTrends) TopTrending(_ context.Context, limit, windowHours int) ([]models.TopicRecord, error) {
	f.limit, f.hours = limit, windowHours
	return []models.TopicRecord{{ID: 1, Topic: "AI Coding", Score: 0.74}}, nil
}

func (f *fakeTrends) Summaries(_ context.Context, period models.Period, _ string, _ int) ([]models.EngagementSummary, error) {
	if !period.Valid() {
		return nil, trending.ErrInvalidPeriod
	}
	f.period = period
	return []models.EngagementSummary{}, nil
}

func (f *fakeTrends) TopicMetrics(_ context.Context, topicID int64, _ models.MetricType, _ int) (*trending.TopicMetrics, error) {
	if topicID != 1 {
		return nil, trending.ErrTopicNotFound
	}
	return &trending.TopicMetrics{Topic: &models.TopicRecord{ID: 1}}, nil
}

func (f *fakeTrends) TopEngaged(_ context.Context, period models.Period, _ int) ([]models.TopicRecord, error) {
	f.period = period
	return []models.TopicRecord{}, nil
}

func (f *fakeTrends) CategoryTrends(_ context.Context, _ string, period models.Period, days int) ([]trending.TrendPoint, error) {
	f.period, f.days = period, days
	return []trending.TrendPoint{{Date: "2026-10-15", TopicCount: 2}}, nil
}

type fakeAggregator struct {
	called string
	start  time.Time
	end    time.Time
}

func (f *fakeAggregator) RunDaily(_ context.Context, date time.Time) (*aggregation.Result, error) {
	f.called, f.start = "daily", date
	return &aggregation.Result{Period: models.PeriodDaily}, nil
}

func (f *fakeAggregator) RunMonthly(_ context.Context, year int, month time.Month) (*aggregation.Result, error) {
	f.called, f.start = "monthly", time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return &aggregation.Result{Period: models.PeriodMonthly}, nil
}

func (f *fakeAggregator) RunYearly(_ context.Context, year int) (*aggregation.Result, error) {
	f.called, f.start = "yearly", time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return &aggregation.Result{Period: models.PeriodYearly}, nil
}

func (f *fakeAggregator) RunBatch(_ context.Context, period models.Period, start, end time.Time) ([]aggregation.Result, error) {
	f.called, f.start, f.end = "batch", start, end
	return []aggregation.Result{{Period: period}}, nil
}

type fakeSuggestions struct {
	minConfidence float64
}

func (f *fakeSuggestions) ActiveSuggestions(_ context.Context, _ int, _ string, minConfidence float64) ([]models.AISuggestion, error) {
	f.minConfidence = minConfidence
	return []models.AISuggestion{{Topic: "Rust in the kernel", Source: "openai"}}, nil
}

func (f *fakeSuggestions) BySource(context.Context, string, int) ([]models.AISuggestion, error) {
	return []models.AISuggestion{}, nil
}

func (f *fakeSuggestions) RecentBatches(context.Context, int) ([]models.AISuggestionBatch, error) {
	return []models.AISuggestionBatch{}, nil
}

type fakeScheduler struct {
	running bool
	busy    map[models.JobKind]bool
}

func (f *fakeScheduler) Status(context.Context) (*orchestrator.Status, error) {
	return &orchestrator.Status{Running: f.running, Config: map[string]interface{}{"max_retries": 3}}, nil
}

func (f *fakeScheduler) Trigger(_ context.Context, kind models.JobKind) (string, error) {
	switch {
	case !f.running:
		return "", orchestrator.ErrNotRunning
	case kind != models.JobTopicSearch && kind != models.JobAIGeneration:
		return "", orchestrator.ErrUnknownKind
	case f.busy[kind]:
		return "", orchestrator.ErrJobInFlight
	}
	f.busy[kind] = true
	return "manual_" + string(kind) + "_20261015_120000_abcd1234", nil
}

func (f *fakeScheduler) Job(_ context.Context, jobID string) (*models.SearchJob, error) {
	if jobID == "known" {
		return &models.SearchJob{JobID: jobID, Status: models.JobCompleted}, nil
	}
	return nil, nil
}

type fixture struct {
	engine      *gin.Engine
	trends      *fakeTrends
	aggregator  *fakeAggregator
	suggestions *fakeSuggestions
	scheduler   *fakeScheduler
}

func newFixture(t *testing.T, checks map[string]HealthCheck) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		trends:      &fakeTrends{},
		aggregator:  &fakeAggregator{},
		suggestions: &fakeSuggestions{},
		scheduler:   &fakeScheduler{running: true, busy: map[models.JobKind]bool{}},
	}
	f.engine = gin.New()
	NewRouter(Deps{
		Trends:      f.trends,
		Aggregator:  f.aggregator,
		Suggestions: f.suggestions,
		Scheduler:   f.scheduler,
		Checks:      checks,
	}).SetupRoutes(f.engine)
	return f
}

type rpcResponse struct {
	ID     interface{}     `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *JSONRPCError   `json:"error"`
}

func (f *fixture) call(t *testing.T, method string, params interface{}) rpcResponse {
	t.Helper()
	body := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		body["params"] = params
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return f.post(t, raw)
}

func (f *fixture) post(t *testing.T, raw []byte) rpcResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestProtocolErrors(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{"jsonrpc":`, ErrParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"trends.get_top_trending"}`, ErrInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"bridge.get_post"}`, ErrMethodNotFound},
		{"unknown param", `{"jsonrpc":"2.0","id":1,"method":"trends.get_top_trending","params":{"bogus":1}}`, ErrInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.post(t, []byte(tt.body))
			require.NotNil(t, resp.Error)
			require.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestTrendMethods(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.call(t, "trends.get_top_trending", map[string]int{"limit": 5, "hours": 48})
	require.Nil(t, resp.Error)
	var recs []models.TopicRecord
	require.NoError(t, json.Unmarshal(resp.Result, &recs))
	require.Len(t, recs, 1)
	require.Equal(t, 5, f.trends.limit)
	require.Equal(t, 48, f.trends.hours)

	resp = f.call(t, "engagement.get_category_trends", map[string]string{"category": "technology"})
	require.Nil(t, resp.Error)
	require.Equal(t, models.PeriodDaily, f.trends.period)
	require.Equal(t, 30, f.trends.days)

	resp = f.call(t, "engagement.get_top_topics", map[string]string{"period": "monthly"})
	require.Nil(t, resp.Error)
	require.Equal(t, models.PeriodMonthly, f.trends.period)
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		method string
		params interface{}
		code   int
	}{
		{"invalid period", "trends.get_summaries", map[string]string{"period": "weekly"}, ErrInvalidParams},
		{"missing topic id", "engagement.get_topic_metrics", nil, ErrInvalidParams},
		{"bad metric type", "engagement.get_topic_metrics", map[string]interface{}{"topic_id": 1, "metric_type": "views"}, ErrInvalidParams},
		{"unknown topic", "engagement.get_topic_metrics", map[string]int{"topic_id": 99}, ErrNotFound},
		{"negative limit", "trends.get_top_trending", map[string]int{"limit": -1}, ErrInvalidParams},
		{"confidence out of range", "suggestions.get_active", map[string]float64{"min_confidence": 1.5}, ErrInvalidParams},
		{"missing source", "suggestions.get_by_source", nil, ErrInvalidParams},
		{"unknown job", "scheduler.get_job", map[string]string{"job_id": "nope"}, ErrNotFound},
		{"unknown kind", "scheduler.trigger", map[string]string{"kind": "reindex"}, ErrInvalidParams},
		{"bad date", "engagement.aggregate", map[string]string{"date": "15/10/2026"}, ErrInvalidParams},
		{"reversed window", "engagement.aggregate", map[string]string{"from": "2026-10-15", "to": "2026-10-01"}, ErrInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.call(t, tt.method, tt.params)
			require.NotNil(t, resp.Error)
			require.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestActiveSuggestionsThreshold(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.call(t, "suggestions.get_active", nil)
	require.Nil(t, resp.Error)
	require.Equal(t, -1.0, f.suggestions.minConfidence)

	resp = f.call(t, "suggestions.get_active", map[string]float64{"min_confidence": 0})
	require.Nil(t, resp.Error)
	require.Equal(t, 0.0, f.suggestions.minConfidence)
}

func TestSchedulerTriggers(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.call(t, "scheduler.trigger_search", nil)
	require.Nil(t, resp.Error)
	var ack TriggerResult
	require.NoError(t, json.Unmarshal(resp.Result, &ack))
	require.Equal(t, "topic_search", ack.Kind)
	require.NotEmpty(t, ack.JobID)

	resp = f.call(t, "scheduler.trigger_search", nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, ErrJobInFlight, resp.Error.Code)

	resp = f.call(t, "scheduler.trigger_generation", nil)
	require.Nil(t, resp.Error)

	f.scheduler.running = false
	resp = f.call(t, "scheduler.trigger", map[string]string{"kind": "ai_generation"})
	require.NotNil(t, resp.Error)
	require.Equal(t, ErrSchedulerIdle, resp.Error.Code)

	resp = f.call(t, "scheduler.get_status", nil)
	require.Nil(t, resp.Error)
	var st orchestrator.Status
	require.NoError(t, json.Unmarshal(resp.Result, &st))
	require.False(t, st.Running)
}

func TestAggregate(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		params map[string]string
		called string
		start  time.Time
	}{
		{"daily", map[string]string{"date": "2026-10-14"}, "daily", time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)},
		{"monthly", map[string]string{"period": "monthly", "date": "2026-10-14"}, "monthly", time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)},
		{"yearly", map[string]string{"period": "yearly", "date": "2026-10-14"}, "yearly", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"batch", map[string]string{"from": "2026-10-01", "to": "2026-10-15"}, "batch", time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.call(t, "engagement.aggregate", tt.params)
			require.Nil(t, resp.Error)
			require.Equal(t, tt.called, f.aggregator.called)
			require.True(t, tt.start.Equal(f.aggregator.start))
		})
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]HealthCheck
		code   int
		redis  string
	}{
		{
			name: "healthy with cache disabled",
			checks: map[string]HealthCheck{
				"database": func(context.Context) error { return nil },
				"redis":    func(context.Context) error { return cache.ErrCacheDisabled },
			},
			code:  http.StatusOK,
			redis: "disabled",
		},
		{
			name: "redis down",
			checks: map[string]HealthCheck{
				"database": func(context.Context) error { return nil },
				"redis":    func(context.Context) error { return errors.New("connection refused") },
			},
			code:  http.StatusServiceUnavailable,
			redis: "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.checks)
			rec := httptest.NewRecorder()
			f.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tt.code, rec.Code)

			var body struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, "ok", body.Checks["database"])
			require.Equal(t, tt.redis, body.Checks["redis"])
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
