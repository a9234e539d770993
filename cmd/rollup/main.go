package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/trendmind/trendmind/internal/aggregation"
	"github.com/trendmind/trendmind/internal/db"
	"github.com/trendmind/trendmind/internal/models"
	"github.com/trendmind/trendmind/pkg/config"
	"github.com/trendmind/trendmind/pkg/logging"
)

const dateLayout = "2006-01-02"

func main() {
	period := flag.String("period", "daily", "rollup period: daily, monthly or yearly")
	date := flag.String("date", "", "roll up the single window containing this date (YYYY-MM-DD, default today)")
	from := flag.String("from", "", "backfill start date, inclusive (YYYY-MM-DD)")
	to := flag.String("to", "", "backfill end date, exclusive (YYYY-MM-DD)")
	flag.Parse()

	if err := run(*period, *date, *from, *to); err != nil {
		fmt.Fprintf(os.Stderr, "rollup: %v\n", err)
		os.Exit(1)
	}
}

func run(period, date, from, to string) error {
	p := models.Period(period)
	if p != models.PeriodDaily && p != models.PeriodMonthly && p != models.PeriodYearly {
		return fmt.Errorf("unsupported period %q", period)
	}

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

	database, err := db.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	svc := aggregation.NewService(db.NewStore(database.DB))

	results, err := rollup(ctx, svc, p, date, from, to)
	for _, res := range results {
		logger.Info("Rolled up window",
			zap.String("period", string(res.Period)),
			zap.Time("start", res.Start),
			zap.Int("topics_updated", res.TopicsUpdated),
			zap.Int("summaries", res.Summaries))
	}
	if err != nil {
		logger.Error("Rollup failed", zap.Error(err))
		return err
	}
	logger.Info("Rollup finished", zap.Int("windows", len(results)))
	return nil
}

func rollup(ctx context.Context, svc *aggregation.Service, period models.Period, date, from, to string) ([]aggregation.Result, error) {
	if from != "" || to != "" {
		start, err := time.Parse(dateLayout, from)
		if err != nil {
			return nil, fmt.Errorf("invalid -from: %w", err)
		}
		end, err := time.Parse(dateLayout, to)
		if err != nil {
			return nil, fmt.Errorf("invalid -to: %w", err)
		}
		return svc.RunBatch(ctx, period, start, end)
	}

	day := time.Now().UTC()
	if date != "" {
		d, err := time.Parse(dateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("invalid -date: %w", err)
		}
		day = d
	}

	var (
		res *aggregation.Result
		err error
	)
	switch period {
	case models.PeriodMonthly:
		res, err = svc.RunMonthly(ctx, day.Year(), day.Month())
	case models.PeriodYearly:
		res, err = svc.RunYearly(ctx, day.Year())
	default:
		res, err = svc.RunDaily(ctx, day)
	}
	if err != nil {
		return nil, err
	}
	return []aggregation.Result{*res}, nil
}
