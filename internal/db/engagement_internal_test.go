package db

import (
	"strings"
	"testing"
	"time"

	"github.com/trendmind/trendmind/internal/models"
)

func TestSumEventsQuery(t *testing.T) {
	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	query, args, err := sumEventsQuery(start, end)
	if err != nil {
		t.Fatalf("sumEventsQuery: %v", err)
	}

	want := "SELECT topic_id, metric_type, SUM(count) AS total FROM engagement_metrics " +
		"WHERE recorded_at >= ? AND recorded_at < ? GROUP BY topic_id, metric_type ORDER BY topic_id, metric_type"
	if query != want {
		t.Errorf("query =\n%s\nwant\n%s", query, want)
	}
	if len(args) != 2 {
		t.Fatalf("args = %v", args)
	}
	if got, ok := args[0].(time.Time); !ok || !got.Equal(start) {
		t.Errorf("start arg = %v", args[0])
	}
	if got, ok := args[1].(time.Time); !ok || !got.Equal(end) {
		t.Errorf("end arg = %v", args[1])
	}
}

func TestTopicLocks(t *testing.T) {
	var locks TopicLocks

	unlock := locks.Lock(1, 65, 2)
	done := make(chan struct{})
	go func() {
		u := locks.Lock(2)
		u()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second lock acquired while stripe held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock not released")
	}
}

func TestCounterPrefix(t *testing.T) {
	for _, p := range []string{"daily", "monthly", "yearly"} {
		got, err := counterPrefix(models.Period(p))
		if err != nil || got != p {
			t.Errorf("counterPrefix(%s) = %q, %v", p, got, err)
		}
	}
	if _, err := counterPrefix("hourly"); err == nil || !strings.Contains(err.Error(), "hourly") {
		t.Errorf("expected error for hourly, got %v", err)
	}
}
