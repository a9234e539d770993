package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrPersistence wraps every failed repository write.
	ErrPersistence = errors.New("persistence failure")
	// ErrJobInFlight is returned when a job of the same kind is pending or running.
	ErrJobInFlight = errors.New("job of this kind is already in flight")
	// ErrInvalidTransition is returned for an illegal job status change.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrJobNotFound is returned when a status update names an unknown job.
	ErrJobNotFound = errors.New("job not found")
)

// Repository provides database access methods. Sub-repositories embed it and
// share its clock and topic locks.
type Repository struct {
	db    *gorm.DB
	locks *TopicLocks
	now   func() time.Time
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db:    db,
		locks: &TopicLocks{},
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the wall clock used for windows and expiry.
func (r *Repository) SetClock(now func() time.Time) {
	r.now = func() time.Time { return now().UTC() }
}

// Now returns the repository clock reading.
func (r *Repository) Now() time.Time {
	return r.now()
}

// transaction runs fn inside a transaction, rolling back on error or panic.
func (r *Repository) transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to start transaction: %w", tx.Error)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func persistErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

const lockStripes = 64

// TopicLocks serializes read-modify-write sequences per topic row. Ids hash
// onto a fixed set of stripes; unrelated topics may share a stripe.
type TopicLocks struct {
	stripes [lockStripes]sync.Mutex
}

// Lock locks every stripe covering ids in a fixed order and returns the unlock func.
func (l *TopicLocks) Lock(ids ...int64) func() {
	seen := make(map[int]struct{}, len(ids))
	idx := make([]int, 0, len(ids))
	for _, id := range ids {
		i := int(uint64(id) % lockStripes)
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		idx = append(idx, i)
	}
	sort.Ints(idx)

	for _, i := range idx {
		l.stripes[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			l.stripes[idx[j]].Unlock()
		}
	}
}

// Store bundles the repositories over one connection.
type Store struct {
	*Repository
	Topics      *TopicRepository
	Engagement  *EngagementRepository
	Summaries   *SummaryRepository
	Jobs        *JobRepository
	Suggestions *SuggestionRepository
}

// NewStore creates every repository over db.
func NewStore(db *gorm.DB) *Store {
	repo := NewRepository(db)
	return &Store{
		Repository:  repo,
		Topics:      NewTopicRepository(repo),
		Engagement:  NewEngagementRepository(repo),
		Summaries:   NewSummaryRepository(repo),
		Jobs:        NewJobRepository(repo),
		Suggestions: NewSuggestionRepository(repo),
	}
}
