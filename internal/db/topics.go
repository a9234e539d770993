package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/trendmind/trendmind/internal/models"
)

// Observation is a topic record together with the engagement events that
// must be committed with it.
type Observation struct {
	Record *models.TopicRecord
	Events []models.EngagementMetric
}

// TopicRepository provides topic-related database operations
type TopicRepository struct {
	*Repository
}

// NewTopicRepository creates a new topic repository
func NewTopicRepository(repo *Repository) *TopicRepository {
	return &TopicRepository{Repository: repo}
}

// SaveObservations persists records and their events for one job run in a
// single transaction. A record whose topic key was already written by the same
// job replaces the earlier row and its events.
func (r *TopicRepository) SaveObservations(ctx context.Context, jobID string, obs []Observation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(obs))
	for _, o := range obs {
		rec := o.Record
		rec.JobID = jobID
		if rec.TopicKey == "" {
			rec.TopicKey = models.NormalizeTopic(rec.Topic)
		}
		if rec.ObservedAt.IsZero() {
			rec.ObservedAt = r.now()
		}
		rec.ObservedAt = rec.ObservedAt.UTC()
		keys = append(keys, rec.TopicKey)
	}

	// Lock order matches ApplyPeriodCounters: stripes, then the transaction.
	var overwritten []int64
	if err := r.db.WithContext(ctx).Model(&models.TopicRecord{}).
		Where("job_id = ? AND topic_key IN ?", jobID, keys).
		Pluck("id", &overwritten).Error; err != nil {
		return 0, persistErr("save observations", err)
	}
	unlock := r.locks.Lock(overwritten...)
	defer unlock()

	saved := 0
	err := r.transaction(ctx, func(tx *gorm.DB) error {
		for _, o := range obs {
			rec := o.Record
			if err := r.upsertRecord(tx, rec); err != nil {
				return err
			}

			if len(o.Events) > 0 {
				events := make([]models.EngagementMetric, len(o.Events))
				for i, ev := range o.Events {
					ev.ID = 0
					ev.TopicID = rec.ID
					if ev.RecordedAt.IsZero() {
						ev.RecordedAt = rec.ObservedAt
					}
					ev.RecordedAt = ev.RecordedAt.UTC()
					events[i] = ev
				}
				if err := tx.Create(&events).Error; err != nil {
					return fmt.Errorf("insert events for %q: %w", rec.Topic, err)
				}
			}
			saved++
		}
		return nil
	})
	if err != nil {
		return 0, persistErr("save observations", err)
	}
	return saved, nil
}

func (r *TopicRepository) upsertRecord(tx *gorm.DB, rec *models.TopicRecord) error {
	var existing models.TopicRecord
	err := tx.Where("job_id = ? AND topic_key = ?", rec.JobID, rec.TopicKey).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		rec.ID = 0
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("insert topic %q: %w", rec.Topic, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("lookup topic %q: %w", rec.Topic, err)
	}

	rec.ID = existing.ID
	rec.CreatedAt = existing.CreatedAt
	if err := tx.Where("topic_id = ?", existing.ID).Delete(&models.EngagementMetric{}).Error; err != nil {
		return fmt.Errorf("replace events for %q: %w", rec.Topic, err)
	}
	if err := tx.Save(rec).Error; err != nil {
		return fmt.Errorf("replace topic %q: %w", rec.Topic, err)
	}
	return nil
}

// SaveTopics persists records without events.
func (r *TopicRepository) SaveTopics(ctx context.Context, jobID string, records []*models.TopicRecord) (int, error) {
	obs := make([]Observation, len(records))
	for i, rec := range records {
		obs[i] = Observation{Record: rec}
	}
	return r.SaveObservations(ctx, jobID, obs)
}

// GetByID retrieves a topic record by ID
func (r *TopicRepository) GetByID(ctx context.Context, id int64) (*models.TopicRecord, error) {
	var rec models.TopicRecord
	if err := r.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// GetByIDs loads the records with the given ids.
func (r *TopicRepository) GetByIDs(ctx context.Context, ids []int64) ([]models.TopicRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var recs []models.TopicRecord
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&recs).Error
	return recs, err
}

// GetTopTrending returns the best-scored record per topic observed within the
// last windowHours, highest score first. An empty window yields an empty slice.
func (r *TopicRepository) GetTopTrending(ctx context.Context, limit, windowHours int) ([]models.TopicRecord, error) {
	if limit <= 0 {
		return []models.TopicRecord{}, nil
	}
	since := r.now().Add(-time.Duration(windowHours) * time.Hour)

	var recs []models.TopicRecord
	err := r.db.WithContext(ctx).
		Where("observed_at >= ?", since).
		Order("score DESC").Order("observed_at DESC").Order("id DESC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	out := make([]models.TopicRecord, 0, limit)
	seen := make(map[string]struct{}, len(recs))
	for _, rec := range recs {
		if _, ok := seen[rec.TopicKey]; ok {
			continue
		}
		seen[rec.TopicKey] = struct{}{}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetRecent returns the most recently observed records.
func (r *TopicRepository) GetRecent(ctx context.Context, limit int) ([]models.TopicRecord, error) {
	recs := []models.TopicRecord{}
	err := r.db.WithContext(ctx).Order("observed_at DESC").Order("id DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// GetByCategory returns recent records in one category, best score first.
func (r *TopicRepository) GetByCategory(ctx context.Context, category string, limit int) ([]models.TopicRecord, error) {
	recs := []models.TopicRecord{}
	err := r.db.WithContext(ctx).
		Where("category = ?", category).
		Order("score DESC").Order("observed_at DESC").
		Limit(limit).Find(&recs).Error
	return recs, err
}

// GetByJob returns every record written by one job run.
func (r *TopicRepository) GetByJob(ctx context.Context, jobID string) ([]models.TopicRecord, error) {
	recs := []models.TopicRecord{}
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Order("score DESC").Find(&recs).Error
	return recs, err
}

// GetInCategorySince returns records of a category observed at or after since, oldest first.
func (r *TopicRepository) GetInCategorySince(ctx context.Context, category string, since time.Time) ([]models.TopicRecord, error) {
	recs := []models.TopicRecord{}
	err := r.db.WithContext(ctx).
		Where("category = ? AND observed_at >= ?", category, since.UTC()).
		Order("observed_at ASC").Find(&recs).Error
	return recs, err
}

// CleanupOlderThan deletes records observed more than days ago together with
// their engagement events, returning the number of records removed.
func (r *TopicRepository) CleanupOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := r.now().Add(-time.Duration(days) * 24 * time.Hour)

	var deleted int64
	err := r.transaction(ctx, func(tx *gorm.DB) error {
		stale := tx.Model(&models.TopicRecord{}).Select("id").Where("observed_at < ?", cutoff)
		if err := tx.Where("topic_id IN (?)", stale).Delete(&models.EngagementMetric{}).Error; err != nil {
			return fmt.Errorf("delete events: %w", err)
		}
		res := tx.Where("observed_at < ?", cutoff).Delete(&models.TopicRecord{})
		if res.Error != nil {
			return fmt.Errorf("delete topics: %w", res.Error)
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, persistErr("cleanup", err)
	}
	return deleted, nil
}
