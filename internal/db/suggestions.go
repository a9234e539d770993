package db

import (
	"context"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/trendmind/trendmind/internal/models"
)

// SuggestionRepository provides AI suggestion and batch operations
type SuggestionRepository struct {
	*Repository
}

// NewSuggestionRepository creates a new suggestion repository
func NewSuggestionRepository(repo *Repository) *SuggestionRepository {
	return &SuggestionRepository{Repository: repo}
}

// CreateBatch records the start of a generation run.
func (r *SuggestionRepository) CreateBatch(ctx context.Context, batch *models.AISuggestionBatch) error {
	if batch.Status == "" {
		batch.Status = models.BatchRunning
	}
	if batch.StartedAt.IsZero() {
		batch.StartedAt = r.now()
	}
	if err := r.db.WithContext(ctx).Create(batch).Error; err != nil {
		return persistErr("create batch", err)
	}
	return nil
}

// FinishBatch stamps a batch with its final status and per-provider counts.
func (r *SuggestionRepository) FinishBatch(ctx context.Context, batchID string, status models.BatchStatus, counts map[string]int, errMsg string) error {
	total := 0
	for _, n := range counts {
		total += n
	}
	err := r.db.WithContext(ctx).Model(&models.AISuggestionBatch{}).
		Where("batch_id = ?", batchID).
		Updates(map[string]interface{}{
			"status":            status,
			"provider_counts":   datatypes.NewJSONType(counts),
			"total_suggestions": total,
			"error_message":     errMsg,
			"completed_at":      r.now(),
		}).Error
	return persistErr("finish batch", err)
}

// SaveSuggestions inserts a ranked set for one batch. Active suggestions for
// the same topics from earlier batches are deactivated as superseded.
func (r *SuggestionRepository) SaveSuggestions(ctx context.Context, batchID string, suggestions []models.AISuggestion) (int, error) {
	if len(suggestions) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(suggestions))
	for i := range suggestions {
		s := &suggestions[i]
		s.ID = 0
		s.BatchID = batchID
		s.IsActive = true
		if s.TopicKey == "" {
			s.TopicKey = models.NormalizeTopic(s.Topic)
		}
		s.ExpiresAt = s.ExpiresAt.UTC()
		keys = append(keys, s.TopicKey)
	}

	err := r.transaction(ctx, func(tx *gorm.DB) error {
		err := tx.Model(&models.AISuggestion{}).
			Where("is_active = ? AND batch_id <> ? AND topic_key IN ?", true, batchID, keys).
			Update("is_active", false).Error
		if err != nil {
			return fmt.Errorf("deactivate superseded: %w", err)
		}
		return tx.Create(&suggestions).Error
	})
	if err != nil {
		return 0, persistErr("save suggestions", err)
	}
	return len(suggestions), nil
}

// GetActiveSuggestions returns active, unexpired suggestions with confidence
// at least minConfidence, best ranked first. An empty category returns all.
func (r *SuggestionRepository) GetActiveSuggestions(ctx context.Context, limit int, category string, minConfidence float64) ([]models.AISuggestion, error) {
	q := r.db.WithContext(ctx).
		Where("is_active = ? AND expires_at > ? AND confidence_score >= ?", true, r.now(), minConfidence)
	if category != "" {
		q = q.Where("category = ?", category)
	}
	out := []models.AISuggestion{}
	err := q.Order("ranking_score DESC").Order("created_at DESC").Order("id ASC").Limit(limit).Find(&out).Error
	return out, err
}

// GetBySource returns active, unexpired suggestions from one provider.
func (r *SuggestionRepository) GetBySource(ctx context.Context, source string, limit int) ([]models.AISuggestion, error) {
	out := []models.AISuggestion{}
	err := r.db.WithContext(ctx).
		Where("source = ? AND is_active = ? AND expires_at > ?", source, true, r.now()).
		Order("ranking_score DESC").Limit(limit).Find(&out).Error
	return out, err
}

// DeactivateExpired marks every active suggestion past its expiry inactive.
func (r *SuggestionRepository) DeactivateExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.AISuggestion{}).
		Where("is_active = ? AND expires_at <= ?", true, r.now()).
		Update("is_active", false)
	if res.Error != nil {
		return 0, persistErr("deactivate expired", res.Error)
	}
	return res.RowsAffected, nil
}

// RecentBatches returns the latest generation runs.
func (r *SuggestionRepository) RecentBatches(ctx context.Context, limit int) ([]models.AISuggestionBatch, error) {
	out := []models.AISuggestionBatch{}
	err := r.db.WithContext(ctx).Order("started_at DESC").Order("id DESC").Limit(limit).Find(&out).Error
	return out, err
}
