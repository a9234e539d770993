package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/trendmind/trendmind/internal/aggregation"
	"github.com/trendmind/trendmind/internal/ai"
	"github.com/trendmind/trendmind/internal/api"
	"github.com/trendmind/trendmind/internal/cache"
	"github.com/trendmind/trendmind/internal/collector"
	"github.com/trendmind/trendmind/internal/db"
	"github.com/trendmind/trendmind/internal/events"
	"github.com/trendmind/trendmind/internal/models"
	"github.com/trendmind/trendmind/internal/orchestrator"
	"github.com/trendmind/trendmind/internal/ranker"
	"github.com/trendmind/trendmind/internal/scoring"
	"github.com/trendmind/trendmind/internal/suggest"
	"github.com/trendmind/trendmind/internal/trending"
	"github.com/trendmind/trendmind/pkg/config"
	"github.com/trendmind/trendmind/pkg/logging"
	"github.com/trendmind/trendmind/pkg/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "trendmind: %v\n", err)
		os.Exit(1)
	}
}

// run serves until SIGINT or SIGTERM. Errors are returned so deferred
// cleanup runs before the process exits.
func run() error {
	// A missing .env is fine; the environment may already carry everything.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer logging.Sync()

	logger.Info("Starting trendmind server")

	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer telemetryShutdown()

	database, err := db.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(context.Background()); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	store := db.NewStore(database.DB)

	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, continuing without cache", zap.Error(err))
		redisCache = nil
	}
	defer redisCache.Close()

	publisher, err := events.Connect(&cfg.NATS)
	if err != nil {
		logger.Warn("NATS unavailable, continuing without events", zap.Error(err))
		publisher = nil
	}
	defer publisher.Close()

	categories := scoring.DefaultCategories()
	if cfg.Scoring.CategoriesFile != "" {
		categories, err = scoring.LoadCategoriesFile(cfg.Scoring.CategoriesFile)
		if err != nil {
			return fmt.Errorf("load categories from %s: %w", cfg.Scoring.CategoriesFile, err)
		}
	}

	registry := collector.NewRegistry(cfg.Collectors.Timeout())
	httpClient := &http.Client{Timeout: cfg.Collectors.Timeout()}
	for _, src := range cfg.Collectors.HTMLSources {
		registry.Register(collector.NewHTMLCollector(src, cfg.Collectors.UserAgent, httpClient))
	}
	if registry.Len() == 0 {
		logger.Warn("No collectors configured; topic searches will fail until sources are added")
	}

	providers := ai.Providers(&cfg.AI)
	if len(providers) == 0 {
		logger.Warn("No AI providers configured; suggestion batches will fail")
	}

	trends := trending.NewService(store, registry, scoring.NewEngine(categories), redisCache, publisher, trending.Options{
		MaxResults:  cfg.Scheduler.MaxResultsPerSearch,
		WindowHours: cfg.Scoring.WindowHours,
		CleanupDays: cfg.Scheduler.CleanupDays,
	})
	generator := suggest.NewGenerator(store, providers, publisher, suggest.Options{
		Ranking: ranker.Options{
			ConfidenceThreshold: cfg.Suggestions.ConfidenceThreshold,
			MaxSuggestions:      cfg.Suggestions.MaxSuggestions,
			Expiry:              time.Duration(cfg.Suggestions.ExpiryHours) * time.Hour,
		},
		MaxPerProvider: cfg.Suggestions.MaxSuggestionsPerSource,
		WindowHours:    cfg.Scoring.WindowHours,
	})
	rollups := aggregation.NewService(store)

	metrics, err := telemetry.NewJobMetrics()
	if err != nil {
		logger.Warn("Job metrics unavailable", zap.Error(err))
		metrics = nil
	}

	orch, err := orchestrator.New(store.Jobs, jobKinds(cfg, trends, generator, rollups), orchestrator.Options{
		Workers:    cfg.Scheduler.Workers,
		MaxRetries: cfg.Scheduler.MaxRetries,
		RetryDelay: cfg.Scheduler.RetryDelay(),
		StaleAfter: cfg.Scheduler.StaleAfter(),
		Reported: map[string]interface{}{
			"search_interval_hours":        cfg.Scheduler.SearchIntervalHours,
			"ai_generation_interval_hours": cfg.Scheduler.AIGenerationIntervalHours,
			"cleanup_interval_hours":       cfg.Scheduler.CleanupIntervalHours,
			"aggregation_interval_hours":   cfg.Scheduler.AggregationIntervalHours,
			"cleanup_days":                 cfg.Scheduler.CleanupDays,
			"max_results_per_search":       cfg.Scheduler.MaxResultsPerSearch,
			"confidence_threshold":         cfg.Suggestions.ConfidenceThreshold,
			"suggestion_expiry_hours":      cfg.Suggestions.ExpiryHours,
			"collectors":                   registry.Names(),
			"ai_providers":                 len(providers),
		},
	}, metrics, publisher)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Server.RunScheduler {
		if err := orch.Start(ctx); err != nil {
			return fmt.Errorf("start orchestrator: %w", err)
		}
	} else {
		logger.Info("Scheduler disabled; serving queries only")
	}

	if cfg.Logging.Level == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	api.NewRouter(api.Deps{
		Trends:      trends,
		Aggregator:  rollups,
		Suggestions: generator,
		Scheduler:   orch,
		Checks: map[string]api.HealthCheck{
			"database": database.Health,
			"redis":    redisCache.Health,
		},
	}).SetupRoutes(engine)

	var handler http.Handler = engine
	if len(cfg.Server.AllowedOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}).Handler(engine)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down server...")
	case err := <-serveErr:
		logger.Error("Server failed to start", zap.Error(err))
		runErr = fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := orch.Stop(shutdownCtx); err != nil {
		logger.Error("Jobs still running at shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
	return runErr
}

// jobKinds registers the periodic work of the server.
func jobKinds(cfg *config.Config, trends *trending.Service, generator *suggest.Generator, rollups *aggregation.Service) []orchestrator.Kind {
	return []orchestrator.Kind{
		{
			Kind:            models.JobTopicSearch,
			Name:            "Topic Search",
			Interval:        cfg.Scheduler.SearchInterval(),
			ScheduledPrefix: "topic_search",
			ManualPrefix:    "manual_search",
			Handler: func(ctx context.Context, job *models.SearchJob) error {
				_, err := trends.Collect(ctx, job.JobID)
				return err
			},
		},
		{
			Kind:            models.JobCleanup,
			Name:            "Data Cleanup",
			Interval:        cfg.Scheduler.CleanupInterval(),
			ScheduledPrefix: "cleanup",
			ManualPrefix:    "manual_cleanup",
			Handler: func(ctx context.Context, _ *models.SearchJob) error {
				_, err := trends.Cleanup(ctx)
				return err
			},
		},
		{
			Kind:            models.JobAIGeneration,
			Name:            "AI Suggestion Generation",
			Interval:        cfg.Scheduler.AIGenerationInterval(),
			ScheduledPrefix: "ai_batch",
			ManualPrefix:    "manual_ai",
			Handler: func(ctx context.Context, job *models.SearchJob) error {
				_, err := generator.Generate(ctx, job.JobID)
				return err
			},
		},
		{
			Kind:            models.JobAggregation,
			Name:            "Engagement Rollup",
			Interval:        cfg.Scheduler.AggregationInterval(),
			ScheduledPrefix: "aggregation",
			ManualPrefix:    "manual_aggregation",
			Handler: func(ctx context.Context, _ *models.SearchJob) error {
				_, err := rollups.RollupNow(ctx, time.Now())
				return err
			},
		},
	}
}
