package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trendmind/trendmind/internal/db"
	"github.com/trendmind/trendmind/internal/db/dbtest"
	"github.com/trendmind/trendmind/internal/models"
)

var baseTime = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *db.Store {
	store := dbtest.NewStore(t)
	store.SetClock(func() time.Time { return baseTime })
	return store
}

func observation(topic string, score float64, at time.Time, likes int64) db.Observation {
	rec := &models.TopicRecord{
		Topic:           topic,
		TopicKey:        models.NormalizeTopic(topic),
		Category:        "ai_coding",
		Score:           score,
		EngagementScore: score,
		Frequency:       10,
		EngagementTrend: models.TrendStable,
		Source:          "test",
		ObservedAt:      at,
		LikesCount:      likes,
	}
	var events []models.EngagementMetric
	if likes > 0 {
		events = append(events, models.EngagementMetric{
			MetricType: models.MetricLikes,
			Count:      likes,
			Period:     models.PeriodDaily,
		})
	}
	return db.Observation{Record: rec, Events: events}
}

func TestSaveObservationsCommitsTopicWithEvents(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	n, err := store.Topics.SaveObservations(ctx, "job-1", []db.Observation{
		observation("AI Coding", 0.7, baseTime, 120),
		observation("Rust", 0.4, baseTime, 0),
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	recs, err := store.Topics.GetByJob(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)

	events, err := store.Engagement.GetMetricsByTopic(ctx, recs[0].ID, "", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, int64(120), events[0].Count)
	require.True(t, events[0].RecordedAt.Equal(baseTime))
}

func TestSaveObservationsOverwritesWithinJob(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	_, err := store.Topics.SaveObservations(ctx, "job-1", []db.Observation{observation("AI Coding", 0.5, baseTime, 10)})
	require.NoError(t, err)
	_, err = store.Topics.SaveObservations(ctx, "job-1", []db.Observation{observation("ai  coding", 0.9, baseTime, 30)})
	require.NoError(t, err)
	_, err = store.Topics.SaveObservations(ctx, "job-2", []db.Observation{observation("AI Coding", 0.6, baseTime, 5)})
	require.NoError(t, err)

	recs, err := store.Topics.GetByJob(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.InDelta(t, 0.9, recs[0].Score, 1e-9)

	events, err := store.Engagement.GetMetricsByTopic(ctx, recs[0].ID, models.MetricLikes, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, int64(30), events[0].Count)

	other, err := store.Topics.GetByJob(ctx, "job-2")
	require.NoError(t, err)
	require.Len(t, other, 1)
}

func TestGetTopTrending(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	empty, err := store.Topics.GetTopTrending(ctx, 10, 24)
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)

	_, err = store.Topics.SaveObservations(ctx, "job-1", []db.Observation{
		observation("Go", 0.3, baseTime.Add(-2*time.Hour), 0),
		observation("Rust", 0.8, baseTime.Add(-2*time.Hour), 0),
		observation("Old", 0.99, baseTime.Add(-48*time.Hour), 0),
	})
	require.NoError(t, err)
	_, err = store.Topics.SaveObservations(ctx, "job-2", []db.Observation{
		observation("go", 0.6, baseTime.Add(-time.Hour), 0),
	})
	require.NoError(t, err)

	top, err := store.Topics.GetTopTrending(ctx, 10, 24)
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.Equal(t, "Rust", top[0].Topic)
	require.Equal(t, "go", top[1].Topic)
	require.InDelta(t, 0.6, top[1].Score, 1e-9)

	limited, err := store.Topics.GetTopTrending(ctx, 1, 24)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestCleanupOlderThan(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	_, err := store.Topics.SaveObservations(ctx, "job-1", []db.Observation{
		observation("stale", 0.5, baseTime.Add(-31*24*time.Hour), 7),
		observation("fresh", 0.5, baseTime.Add(-29*24*time.Hour), 9),
	})
	require.NoError(t, err)

	deleted, err := store.Topics.CleanupOlderThan(ctx, 30)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	recs, err := store.Topics.GetRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "fresh", recs[0].Topic)

	totals, err := store.Engagement.SumEvents(ctx, baseTime.AddDate(-1, 0, 0), baseTime)
	require.NoError(t, err)
	require.Len(t, totals, 1)
	require.Equal(t, recs[0].ID, totals[0].TopicID)
}

func TestClaimJobEnforcesOneInFlightPerKind(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	first := &models.SearchJob{JobID: "topic_search_1", JobType: models.JobTopicSearch}
	require.NoError(t, store.Jobs.ClaimJob(ctx, first))
	require.Equal(t, models.JobPending, first.Status)
	require.Equal(t, models.TriggerScheduled, first.Trigger)

	second := &models.SearchJob{JobID: "manual_search_1", JobType: models.JobTopicSearch, Trigger: models.TriggerManual}
	require.ErrorIs(t, store.Jobs.ClaimJob(ctx, second), db.ErrJobInFlight)

	other := &models.SearchJob{JobID: "cleanup_1", JobType: models.JobCleanup}
	require.NoError(t, store.Jobs.ClaimJob(ctx, other))

	_, err := store.Jobs.UpdateJobStatus(ctx, first.JobID, models.JobRunning, "")
	require.NoError(t, err)
	require.ErrorIs(t, store.Jobs.ClaimJob(ctx, second), db.ErrJobInFlight)

	_, err = store.Jobs.UpdateJobStatus(ctx, first.JobID, models.JobCompleted, "")
	require.NoError(t, err)
	require.NoError(t, store.Jobs.ClaimJob(ctx, second))
}

func TestUpdateJobStatus(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	job := &models.SearchJob{JobID: "topic_search_1", JobType: models.JobTopicSearch, MaxRetries: models.DefaultMaxRetries}
	require.NoError(t, store.Jobs.CreateJob(ctx, job))

	_, err := store.Jobs.UpdateJobStatus(ctx, job.JobID, models.JobCompleted, "")
	require.ErrorIs(t, err, db.ErrInvalidTransition)

	running, err := store.Jobs.UpdateJobStatus(ctx, job.JobID, models.JobRunning, "")
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)
	require.Nil(t, running.CompletedAt)

	failed, err := store.Jobs.UpdateJobStatus(ctx, job.JobID, models.JobFailed, "db down")
	require.NoError(t, err)
	require.NotNil(t, failed.CompletedAt)

	stored, err := store.Jobs.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobFailed, stored.Status)
	require.Equal(t, "db down", stored.ErrorMessage)
	require.True(t, stored.CanRetry())

	retryable, err := store.Jobs.GetFailedJobsForRetry(ctx)
	require.NoError(t, err)
	require.Len(t, retryable, 1)

	require.NoError(t, store.Jobs.IncrementRetryCount(ctx, job.JobID))
	stored, err = store.Jobs.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.RetryCount)

	_, err = store.Jobs.UpdateJobStatus(ctx, "missing", models.JobRunning, "")
	require.ErrorIs(t, err, db.ErrJobNotFound)

	missing, err := store.Jobs.GetJob(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestReconcileInterrupted(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	running := &models.SearchJob{JobID: "a", JobType: models.JobTopicSearch}
	require.NoError(t, store.Jobs.CreateJob(ctx, running))
	_, err := store.Jobs.UpdateJobStatus(ctx, "a", models.JobRunning, "")
	require.NoError(t, err)

	require.NoError(t, store.Jobs.CreateJob(ctx, &models.SearchJob{JobID: "b", JobType: models.JobCleanup}))
	due := baseTime.Add(time.Minute)
	require.NoError(t, store.Jobs.CreateJob(ctx, &models.SearchJob{
		JobID: "c", JobType: models.JobAIGeneration, Trigger: models.TriggerRetry, RetryCount: 1, RunAfter: &due,
	}))

	failed, retries, err := store.Jobs.ReconcileInterrupted(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), failed)
	require.Len(t, retries, 1)
	require.Equal(t, "c", retries[0].JobID)

	for _, id := range []string{"a", "b"} {
		job, err := store.Jobs.GetJob(ctx, id)
		require.NoError(t, err)
		require.Equal(t, models.JobFailed, job.Status)
		require.Equal(t, db.InterruptedMessage, job.ErrorMessage)
	}
}

func suggestion(topic string, confidence float64, expires time.Time) models.AISuggestion {
	return models.AISuggestion{
		Topic:           topic,
		Category:        "ai_coding",
		ConfidenceScore: confidence,
		RankingScore:    confidence,
		Source:          "openai",
		ExpiresAt:       expires,
	}
}

func TestSuggestions(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.Suggestions.CreateBatch(ctx, &models.AISuggestionBatch{BatchID: "b1"}))
	_, err := store.Suggestions.SaveSuggestions(ctx, "b1", []models.AISuggestion{
		suggestion("Agents", 0.9, baseTime.Add(time.Hour)),
		suggestion("Expired", 0.95, baseTime.Add(-time.Minute)),
		suggestion("Weak", 0.72, baseTime.Add(time.Hour)),
	})
	require.NoError(t, err)

	active, err := store.Suggestions.GetActiveSuggestions(ctx, 10, "", 0.8)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "Agents", active[0].Topic)

	all, err := store.Suggestions.GetActiveSuggestions(ctx, 10, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, s := range all {
		require.True(t, s.ExpiresAt.After(baseTime))
	}

	n, err := store.Suggestions.DeactivateExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = store.Suggestions.SaveSuggestions(ctx, "b2", []models.AISuggestion{
		suggestion("agents", 0.85, baseTime.Add(2*time.Hour)),
	})
	require.NoError(t, err)

	active, err = store.Suggestions.GetActiveSuggestions(ctx, 10, "", 0.8)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "b2", active[0].BatchID)

	require.NoError(t, store.Suggestions.FinishBatch(ctx, "b1", models.BatchCompleted, map[string]int{"openai": 3, "gemini": 0}, ""))
	batches, err := store.Suggestions.RecentBatches(ctx, 5)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, models.BatchCompleted, batches[0].Status)
	require.Equal(t, 3, batches[0].TotalSuggestions)
	require.Equal(t, 3, batches[0].ProviderCounts.Data()["openai"])
}

func TestUpsertSummariesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	start := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	row := func(likes int64) []models.EngagementSummary {
		return []models.EngagementSummary{{
			Topic: "ai coding", Category: "ai_coding", Period: models.PeriodDaily,
			PeriodStart: start, PeriodEnd: start.AddDate(0, 0, 1), TotalLikes: likes,
		}}
	}

	require.NoError(t, store.Summaries.UpsertSummaries(ctx, row(10)))
	require.NoError(t, store.Summaries.UpsertSummaries(ctx, row(10)))
	require.NoError(t, store.Summaries.UpsertSummaries(ctx, row(25)))

	got, err := store.Summaries.GetSummaries(ctx, models.PeriodDaily, "", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(25), got[0].TotalLikes)

	none, err := store.Summaries.GetSummaries(ctx, models.PeriodDaily, "devops", 10)
	require.NoError(t, err)
	require.Empty(t, none)
}
