package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/trendmind/trendmind/internal/cache"
	"github.com/trendmind/trendmind/pkg/logging"
	"github.com/trendmind/trendmind/pkg/telemetry"
)

const healthTimeout = 2 * time.Second

// HealthCheck probes one backing service.
type HealthCheck func(ctx context.Context) error

// Deps are the services behind the API. Any of them may be nil, in which case
// its methods are not registered.
type Deps struct {
	Trends      TrendQueries
	Aggregator  Aggregator
	Suggestions SuggestionQueries
	Scheduler   Scheduler
	// Checks are reported by /health. A check returning
	// cache.ErrCacheDisabled is reported as disabled, not failing.
	Checks map[string]HealthCheck
}

// Router sets up API routes
type Router struct {
	handler *JSONRPCHandler
	deps    Deps
	logger  *zap.Logger
}

// NewRouter creates a new API router
func NewRouter(deps Deps) *Router {
	router := &Router{
		handler: NewJSONRPCHandler(),
		deps:    deps,
		logger:  logging.WithComponent("api-router"),
	}
	router.registerMethods()
	return router
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)
	engine.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	engine.POST("/", r.handler.Handle)
	engine.POST("/rpc", r.handler.Handle)
}

// registerMethods registers all API methods
func (r *Router) registerMethods() {
	if r.deps.Trends != nil {
		trends := NewTrendsAPI(r.deps.Trends, r.deps.Aggregator)

		r.handler.RegisterMethod("trends.get_top_trending", trends.GetTopTrending)
		r.handler.RegisterMethod("trends.get_summaries", trends.GetSummaries)

		r.handler.RegisterMethod("engagement.get_topic_metrics", trends.GetTopicMetrics)
		r.handler.RegisterMethod("engagement.get_top_topics", trends.GetTopTopics)
		r.handler.RegisterMethod("engagement.get_category_trends", trends.GetCategoryTrends)
		if r.deps.Aggregator != nil {
			r.handler.RegisterMethod("engagement.aggregate", trends.Aggregate)
		}
	}

	if r.deps.Suggestions != nil {
		suggestions := NewSuggestionsAPI(r.deps.Suggestions)

		r.handler.RegisterMethod("suggestions.get_active", suggestions.GetActive)
		r.handler.RegisterMethod("suggestions.get_by_source", suggestions.GetBySource)
		r.handler.RegisterMethod("suggestions.get_batches", suggestions.GetBatches)
	}

	if r.deps.Scheduler != nil {
		scheduler := NewSchedulerAPI(r.deps.Scheduler)

		r.handler.RegisterMethod("scheduler.get_status", scheduler.GetStatus)
		r.handler.RegisterMethod("scheduler.get_job", scheduler.GetJob)
		r.handler.RegisterMethod("scheduler.trigger", scheduler.TriggerJob)
		r.handler.RegisterMethod("scheduler.trigger_search", scheduler.TriggerSearch)
		r.handler.RegisterMethod("scheduler.trigger_generation", scheduler.TriggerGeneration)
	}

	r.logger.Debug("Registered JSON-RPC methods", zap.Int("count", r.handler.Methods()))
}

// healthHandler handles health check requests
func (r *Router) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	names := make([]string, 0, len(r.deps.Checks))
	for name := range r.deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	checks := gin.H{}
	for _, name := range names {
		switch err := r.deps.Checks[name](ctx); {
		case err == nil:
			checks[name] = "ok"
		case errors.Is(err, cache.ErrCacheDisabled):
			checks[name] = "disabled"
		default:
			r.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	overall := "OK"
	if status != http.StatusOK {
		overall = "DEGRADED"
	}
	c.JSON(status, gin.H{
		"status":  overall,
		"service": "trendmind-api",
		"checks":  checks,
	})
}
