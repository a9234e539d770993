package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/trendmind/trendmind/internal/models"
	"github.com/trendmind/trendmind/pkg/logging"
	"github.com/trendmind/trendmind/pkg/telemetry"
)

// ErrCollector marks a failure of one source. It never aborts other sources.
var ErrCollector = errors.New("collector failure")

// ErrNoCollectors is returned by Gather when nothing is registered.
var ErrNoCollectors = errors.New("no collectors registered")

// Collector fetches raw topic candidates from one external source.
type Collector interface {
	Name() string
	Fetch(ctx context.Context, limit int) ([]models.Candidate, error)
}

// SourceError records the failure of a single collector.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() []error {
	return []error{ErrCollector, e.Err}
}

// Registry keeps the configured collectors and fans fetches out over them.
type Registry struct {
	mu         sync.RWMutex
	collectors map[string]Collector
	timeout    time.Duration
	logger     *zap.Logger
}

// NewRegistry builds an empty registry with a per-source timeout.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		collectors: map[string]Collector{},
		timeout:    timeout,
		logger:     logging.WithComponent("collector"),
	}
}

// Register adds or replaces a collector.
func (r *Registry) Register(c Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collectors[c.Name()] = c
}

// Names lists registered collectors in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered collectors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.collectors)
}

// Gather fetches from every collector concurrently. Each source runs under
// its own timeout; failed sources are reported in the second return value and
// the candidates of the others are still returned. Candidates are ordered by
// source name to keep runs reproducible.
func (r *Registry) Gather(ctx context.Context, limit int) ([]models.Candidate, []*SourceError, error) {
	names := r.Names()
	if len(names) == 0 {
		return nil, nil, ErrNoCollectors
	}

	r.mu.RLock()
	collectors := make([]Collector, len(names))
	for i, name := range names {
		collectors[i] = r.collectors[name]
	}
	r.mu.RUnlock()

	results := make([][]models.Candidate, len(collectors))
	failures := make([]*SourceError, len(collectors))

	var g errgroup.Group
	for i, c := range collectors {
		g.Go(func() error {
			cands, err := r.fetch(ctx, c, limit)
			if err != nil {
				failures[i] = &SourceError{Source: c.Name(), Err: err}
				r.logger.Warn("Collector failed", zap.String("source", c.Name()), zap.Error(err))
				return nil
			}
			results[i] = cands
			return nil
		})
	}
	_ = g.Wait()

	var (
		all    []models.Candidate
		failed []*SourceError
	)
	for i := range collectors {
		if failures[i] != nil {
			failed = append(failed, failures[i])
			continue
		}
		all = append(all, results[i]...)
	}
	return all, failed, nil
}

func (r *Registry) fetch(ctx context.Context, c Collector, limit int) (cands []models.Candidate, err error) {
	ctx, span := telemetry.StartSpan(ctx, "collector.fetch")
	span.SetAttributes(attribute.String("collector.source", c.Name()))
	defer func() { telemetry.EndSpan(span, err) }()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	start := time.Now()
	cands, err = c.Fetch(ctx, limit)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	for i := range cands {
		if cands[i].Source == "" {
			cands[i].Source = c.Name()
		}
	}
	r.logger.Debug("Collector fetched",
		zap.String("source", c.Name()),
		zap.Int("candidates", len(cands)),
		zap.Duration("took", time.Since(start)))
	return cands, nil
}
