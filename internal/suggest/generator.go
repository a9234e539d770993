package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/trendmind/trendmind/internal/ai"
	"github.com/trendmind/trendmind/internal/db"
	"github.com/trendmind/trendmind/internal/events"
	"github.com/trendmind/trendmind/internal/models"
	"github.com/trendmind/trendmind/internal/ranker"
	"github.com/trendmind/trendmind/pkg/logging"
	"github.com/trendmind/trendmind/pkg/telemetry"
)

const hintLimit = 10

var (
	// ErrNoProviders is returned when no AI provider is configured.
	ErrNoProviders = errors.New("no AI providers configured")
	// ErrAllProvidersFailed is returned when every provider call errored.
	ErrAllProvidersFailed = errors.New("all AI providers failed")
)

// Options tunes a generation batch.
type Options struct {
	Ranking        ranker.Options
	MaxPerProvider int
	WindowHours    int
}

// Result summarizes one generation batch.
type Result struct {
	BatchID        string         `json:"batch_id"`
	Total          int            `json:"total"`
	ProviderCounts map[string]int `json:"provider_counts"`
	ParseFailures  []string       `json:"parse_failures,omitempty"`
	ProviderErrors []string       `json:"provider_errors,omitempty"`
}

// Generator runs the AI suggestion pipeline: one batch asks every provider
// concurrently, ranks the merged output and stores it.
type Generator struct {
	store     *db.Store
	providers []ai.Provider
	events    *events.Publisher
	opts      Options
	logger    *zap.Logger
}

// NewGenerator wires a generator. The publisher may be nil.
func NewGenerator(store *db.Store, providers []ai.Provider, pub *events.Publisher, opts Options) *Generator {
	if opts.Ranking == (ranker.Options{}) {
		opts.Ranking = ranker.DefaultOptions()
	}
	if opts.MaxPerProvider <= 0 {
		opts.MaxPerProvider = ranker.DefaultMaxPerSource
	}
	if opts.WindowHours <= 0 {
		opts.WindowHours = 24
	}
	return &Generator{
		store:     store,
		providers: providers,
		events:    pub,
		opts:      opts,
		logger:    logging.WithComponent("suggest"),
	}
}

type providerOutcome struct {
	suggestions []ranker.Suggestion
	callErr     error
	parseErr    error
}

// Generate runs one batch for jobID. A provider whose output does not parse
// contributes nothing and the batch continues. The batch fails when every
// provider call errors or the suggestions cannot be stored.
func (g *Generator) Generate(ctx context.Context, jobID string) (res *Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, "suggest.generate")
	defer func() { telemetry.EndSpan(span, err) }()

	now := g.store.Now()
	names := make([]string, len(g.providers))
	for i, p := range g.providers {
		names[i] = p.Name()
	}

	batch := &models.AISuggestionBatch{
		BatchID:     models.NewID("batch", now),
		JobID:       jobID,
		SourcesUsed: datatypes.JSONSlice[string](names),
		StartedAt:   now,
	}
	if err := g.store.Suggestions.CreateBatch(ctx, batch); err != nil {
		return nil, err
	}
	logger := g.logger.With(zap.String("batch_id", batch.BatchID), zap.String("job_id", jobID))
	res = &Result{BatchID: batch.BatchID, ProviderCounts: map[string]int{}}

	fail := func(cause error) (*Result, error) {
		if ferr := g.store.Suggestions.FinishBatch(ctx, batch.BatchID, models.BatchFailed, res.ProviderCounts, cause.Error()); ferr != nil {
			logger.Error("Failed to close batch", zap.Error(ferr))
		}
		return nil, cause
	}

	if len(g.providers) == 0 {
		return fail(ErrNoProviders)
	}

	hints, trendData, err := g.hints(ctx)
	if err != nil {
		return fail(err)
	}
	prompt := ranker.BuildPrompt(hints, g.opts.MaxPerProvider)

	outcomes := make([]providerOutcome, len(g.providers))
	var eg errgroup.Group
	for i, p := range g.providers {
		eg.Go(func() error {
			text, err := p.Generate(ctx, prompt)
			if err != nil {
				outcomes[i].callErr = err
				return nil
			}
			outcomes[i].suggestions, outcomes[i].parseErr = ranker.Parse(p.Name(), text, g.opts.MaxPerProvider)
			return nil
		})
	}
	_ = eg.Wait()

	var merged []ranker.Suggestion
	callFailures := 0
	for i, out := range outcomes {
		name := names[i]
		res.ProviderCounts[name] = 0
		switch {
		case out.callErr != nil:
			callFailures++
			res.ProviderErrors = append(res.ProviderErrors, name)
			logger.Warn("Provider call failed", zap.String("provider", name), zap.Error(out.callErr))
		case out.parseErr != nil:
			res.ParseFailures = append(res.ParseFailures, name)
			logger.Warn("Provider output did not parse", zap.String("provider", name), zap.Error(out.parseErr))
		default:
			merged = append(merged, out.suggestions...)
		}
	}
	if callFailures == len(g.providers) {
		errs := make([]error, 0, len(outcomes))
		for _, out := range outcomes {
			errs = append(errs, out.callErr)
		}
		return fail(fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(errs...)))
	}

	ranked := ranker.Rank(merged, g.opts.Ranking, now)
	for i := range ranked {
		ranked[i].TrendData = trendData
		res.ProviderCounts[ranked[i].Source]++
	}

	if res.Total, err = g.store.Suggestions.SaveSuggestions(ctx, batch.BatchID, ranked); err != nil {
		res.ProviderCounts = map[string]int{}
		return fail(err)
	}
	if err := g.store.Suggestions.FinishBatch(ctx, batch.BatchID, models.BatchCompleted, res.ProviderCounts, ""); err != nil {
		return nil, err
	}

	_ = g.events.Publish(ctx, events.SuggestionsGenerated, events.SuggestionsGeneratedEvent{
		BatchID:        batch.BatchID,
		JobID:          jobID,
		Total:          res.Total,
		ProviderCounts: res.ProviderCounts,
	})

	logger.Info("Generated suggestions",
		zap.Int("total", res.Total),
		zap.Any("provider_counts", res.ProviderCounts),
		zap.Strings("parse_failures", res.ParseFailures))
	return res, nil
}

func (g *Generator) hints(ctx context.Context) ([]ranker.TrendHint, datatypes.JSON, error) {
	recs, err := g.store.Topics.GetTopTrending(ctx, hintLimit, g.opts.WindowHours)
	if err != nil {
		return nil, nil, fmt.Errorf("load trending topics: %w", err)
	}
	hints := make([]ranker.TrendHint, 0, len(recs))
	topics := make([]string, 0, len(recs))
	for _, r := range recs {
		hints = append(hints, ranker.TrendHint{
			Topic:    r.Topic,
			Category: r.Category,
			Score:    r.Score,
			Trend:    string(r.EngagementTrend),
		})
		topics = append(topics, r.Topic)
	}
	raw, err := json.Marshal(map[string]interface{}{"trending_topics": topics})
	if err != nil {
		return nil, nil, err
	}
	return hints, datatypes.JSON(raw), nil
}

// ActiveSuggestions returns unexpired suggestions at or above minConfidence.
// A negative minConfidence uses the configured threshold.
func (g *Generator) ActiveSuggestions(ctx context.Context, limit int, category string, minConfidence float64) ([]models.AISuggestion, error) {
	if limit <= 0 {
		limit = g.opts.Ranking.MaxSuggestions
	}
	if minConfidence < 0 {
		minConfidence = g.opts.Ranking.ConfidenceThreshold
	}
	return g.store.Suggestions.GetActiveSuggestions(ctx, limit, category, minConfidence)
}

// BySource returns the active suggestions of one provider.
func (g *Generator) BySource(ctx context.Context, source string, limit int) ([]models.AISuggestion, error) {
	if limit <= 0 {
		limit = g.opts.Ranking.MaxSuggestions
	}
	return g.store.Suggestions.GetBySource(ctx, source, limit)
}

// RecentBatches returns the latest generation runs.
func (g *Generator) RecentBatches(ctx context.Context, limit int) ([]models.AISuggestionBatch, error) {
	if limit <= 0 {
		limit = 10
	}
	return g.store.Suggestions.RecentBatches(ctx, limit)
}
