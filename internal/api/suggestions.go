package api

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/trendmind/trendmind/internal/models"
)

// SuggestionQueries answers AI suggestion reads.
type SuggestionQueries interface {
	ActiveSuggestions(ctx context.Context, limit int, category string, minConfidence float64) ([]models.AISuggestion, error)
	BySource(ctx context.Context, source string, limit int) ([]models.AISuggestion, error)
	RecentBatches(ctx context.Context, limit int) ([]models.AISuggestionBatch, error)
}

// SuggestionsAPI serves the suggestions.* methods.
type SuggestionsAPI struct {
	queries SuggestionQueries
}

// NewSuggestionsAPI creates the suggestion methods.
func NewSuggestionsAPI(queries SuggestionQueries) *SuggestionsAPI {
	return &SuggestionsAPI{queries: queries}
}

// GetActive handles suggestions.get_active. Omitting min_confidence applies
// the configured threshold.
func (a *SuggestionsAPI) GetActive(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		Limit         int      `json:"limit"`
		Category      string   `json:"category"`
		MinConfidence *float64 `json:"min_confidence"`
	}
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if p.Limit < 0 || p.Limit > 100 {
		return nil, InvalidParams("limit must be between 0 and 100")
	}
	minConfidence := -1.0
	if p.MinConfidence != nil {
		if *p.MinConfidence < 0 || *p.MinConfidence > 1 {
			return nil, InvalidParams("min_confidence must be within [0, 1]")
		}
		minConfidence = *p.MinConfidence
	}
	return a.queries.ActiveSuggestions(c.Request.Context(), p.Limit, p.Category, minConfidence)
}

// GetBySource handles suggestions.get_by_source
func (a *SuggestionsAPI) GetBySource(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		Source string `json:"source"`
		Limit  int    `json:"limit"`
	}
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if p.Source == "" {
		return nil, InvalidParams("missing required parameter: source")
	}
	return a.queries.BySource(c.Request.Context(), p.Source, p.Limit)
}

// GetBatches handles suggestions.get_batches
func (a *SuggestionsAPI) GetBatches(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		Limit int `json:"limit"`
	}
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	return a.queries.RecentBatches(c.Request.Context(), p.Limit)
}
