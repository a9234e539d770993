// Package dbtest opens isolated in-memory stores for tests.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/trendmind/trendmind/internal/db"
	"github.com/trendmind/trendmind/pkg/config"
)

var seq atomic.Int64

// New opens a migrated in-memory sqlite database that is closed when t ends.
func New(t testing.TB) *db.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	url := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))

	database, err := db.New(&config.DatabaseConfig{URL: url, LogLevel: "silent"})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	if err := database.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return database
}

// NewStore opens a test database and returns its repositories.
func NewStore(t testing.TB) *db.Store {
	t.Helper()
	return db.NewStore(New(t).DB)
}
