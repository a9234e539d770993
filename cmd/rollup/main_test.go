package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trendmind/trendmind/internal/aggregation"
	"github.com/trendmind/trendmind/internal/db/dbtest"
	"github.com/trendmind/trendmind/internal/models"
)

func TestRollup(t *testing.T) {
	svc := aggregation.NewService(dbtest.NewStore(t))
	ctx := context.Background()

	tests := []struct {
		name    string
		period  models.Period
		date    string
		from    string
		to      string
		windows int
		start   time.Time
		wantErr bool
	}{
		{name: "single day", period: models.PeriodDaily, date: "2026-10-14", windows: 1, start: time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)},
		{name: "single month", period: models.PeriodMonthly, date: "2026-10-14", windows: 1, start: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)},
		{name: "backfill", period: models.PeriodDaily, from: "2026-10-01", to: "2026-10-04", windows: 3, start: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)},
		{name: "bad date", period: models.PeriodDaily, date: "yesterday", wantErr: true},
		{name: "missing to", period: models.PeriodDaily, from: "2026-10-01", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := rollup(ctx, svc, tt.period, tt.date, tt.from, tt.to)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, results, tt.windows)
			require.True(t, tt.start.Equal(results[0].Start))
		})
	}
}

func TestRunRejectsUnknownPeriod(t *testing.T) {
	for _, period := range []string{"weekly", ""} {
		t.Run(period, func(t *testing.T) {
			err := run(period, "", "", "")
			require.ErrorContains(t, err, "unsupported period")
		})
	}
}
