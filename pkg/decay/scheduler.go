// Package decay computes memory expiration instants and reclaims expired
// entries.
//
// The scheduler owns the retention policy: base windows per lifecycle class,
// the short log-entry window, and the importance multiplier. It also runs the
// cleanup routine, periodically or on demand, deleting expired records from
// the store and the vector index together.
package decay

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/memvault/memvault-go/pkg/store"
)

const msPerHour = 3600000

// Config contains retention and cleanup settings.
type Config struct {
	// Enabled toggles decay globally. When false, ComputeExpiry returns
	// nil and entries never expire.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ShortTermHours is the base retention window for short_term entries.
	// Defaults to 2.
	ShortTermHours float64 `yaml:"short_term_hours" json:"short_term_hours"`

	// LongTermHours is the base retention window for long_term entries.
	// Defaults to 168 (one week).
	LongTermHours float64 `yaml:"long_term_hours" json:"long_term_hours"`

	// LogRetentionMinutes is the retention window for log-category entries,
	// applied regardless of memory type unless the caller overrides it.
	// Defaults to 30.
	LogRetentionMinutes float64 `yaml:"log_retention_minutes" json:"log_retention_minutes"`

	// CleanupInterval is the period of the background cleanup task.
	// Defaults to 10 minutes.
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`

	// CleanupBatchSize is the number of expired records fetched per pass.
	// Defaults to 1000.
	CleanupBatchSize int `yaml:"cleanup_batch_size" json:"cleanup_batch_size"`

	// DeleteRetries is the number of delete attempts per record before the
	// record is left for the next cycle. Defaults to 3.
	DeleteRetries int `yaml:"delete_retries" json:"delete_retries"`

	// RetryBackoff is the pause between delete attempts. Defaults to 100ms.
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
}

func (c Config) withDefaults() Config {
	if c.ShortTermHours <= 0 {
		c.ShortTermHours = 2
	}
	if c.LongTermHours <= 0 {
		c.LongTermHours = 168
	}
	if c.LogRetentionMinutes <= 0 {
		c.LogRetentionMinutes = 30
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 10 * time.Minute
	}
	if c.CleanupBatchSize <= 0 {
		c.CleanupBatchSize = 1000
	}
	if c.DeleteRetries <= 0 {
		c.DeleteRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	return c
}

// Overrides are per-call retention overrides supplied at write time.
type Overrides struct {
	// RetentionHours replaces the base window (including the log window)
	// before the importance multiplier is applied.
	RetentionHours *float64

	// NoExpiry makes the entry non-expiring.
	NoExpiry bool
}

// Stats summarizes one cleanup run.
type Stats struct {
	// Scanned is the total number of records examined.
	Scanned int `json:"scanned"`

	// ExpiredFound is the number of logically expired records found.
	ExpiredFound int `json:"expired_found"`

	// Deleted is the number of records removed. Zero on dry runs.
	Deleted int `json:"deleted"`

	// Errors is the number of records whose deletion failed and was left
	// for the next cycle.
	Errors int `json:"errors"`
}

// IndexDeleter is the slice of the vector index the scheduler needs.
type IndexDeleter interface {
	Delete(id int64)
}

// Scheduler computes expiration instants and reclaims expired entries.
type Scheduler struct {
	cfg    Config
	store  store.Store
	index  IndexDeleter
	logger *zap.Logger
	now    func() time.Time
}

// New creates a scheduler. logger may be nil.
func New(st store.Store, idx IndexDeleter, cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:    cfg.withDefaults(),
		store:  st,
		index:  idx,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the scheduler's time source. Used by tests to simulate
// clock advancement.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// NowMS returns the scheduler's current instant in milliseconds since epoch.
func (s *Scheduler) NowMS() int64 {
	return s.now().UnixMilli()
}

// ComputeExpiry returns the absolute expiration instant for an entry
// created at createdAtMS, or nil for non-expiring entries.
//
// The base window comes from the lifecycle class; log-category entries use
// the short log window regardless of class. A caller-supplied override
// replaces the base window before the importance multiplier:
//
//	effective_hours = base_hours * (1 + clamp(importance, 0, +inf))
//
// so the result is monotonically non-decreasing in importance and never
// below the base window.
func (s *Scheduler) ComputeExpiry(createdAtMS int64, memoryType store.MemoryType, category store.Category, importance float64, ov *Overrides) *int64 {
	if !s.cfg.Enabled {
		return nil
	}
	if ov != nil && ov.NoExpiry {
		return nil
	}

	var baseHours float64
	switch {
	case ov != nil && ov.RetentionHours != nil:
		baseHours = *ov.RetentionHours
	case category == store.CategoryLog:
		baseHours = s.cfg.LogRetentionMinutes / 60.0
	case memoryType == store.LongTerm:
		baseHours = s.cfg.LongTermHours
	default:
		baseHours = s.cfg.ShortTermHours
	}

	if importance < 0 {
		importance = 0
	}

	effectiveHours := baseHours * (1 + importance)
	expireAt := createdAtMS + int64(effectiveHours*msPerHour)
	return &expireAt
}

// Cleanup finds logically expired records and, unless dryRun is set, deletes
// each from the store and the vector index together.
//
// Per-record deletes are retried on transient failure; a record whose delete
// keeps failing is counted in Stats.Errors and left for the next cycle. A
// failure never aborts the batch. Running Cleanup twice with no intervening
// writes deletes nothing on the second run.
func (s *Scheduler) Cleanup(ctx context.Context, dryRun bool) (*Stats, error) {
	nowMS := s.NowMS()
	stats := &Stats{}

	active, err := s.store.CountActive(ctx, nowMS)
	if err != nil {
		return stats, err
	}
	expired, err := s.store.CountExpired(ctx, nowMS)
	if err != nil {
		return stats, err
	}
	stats.Scanned = int(active + expired)
	stats.ExpiredFound = int(expired)

	if dryRun {
		return stats, nil
	}

	for {
		batch, err := s.store.ListExpired(ctx, nowMS, s.cfg.CleanupBatchSize)
		if err != nil {
			stats.Errors++
			s.logger.Warn("cleanup: listing expired records failed",
				zap.Error(err))
			return stats, nil
		}
		if len(batch) == 0 {
			return stats, nil
		}

		deletedThisPass := 0
		for _, rec := range batch {
			if ctx.Err() != nil {
				return stats, nil
			}
			if s.deleteRecord(ctx, rec.ID) {
				stats.Deleted++
				deletedThisPass++
			} else {
				stats.Errors++
			}
		}

		// Failed records would reappear in the next ListExpired call;
		// stop once a pass makes no progress.
		if deletedThisPass == 0 || len(batch) < s.cfg.CleanupBatchSize {
			return stats, nil
		}
	}
}

// deleteRecord removes one record from the store, then its index node.
// Store-first ordering keeps the bound on divergence one-sided: the index
// may briefly hold a node for a deleted row (skipped by search through the
// store lookup), but never the reverse.
func (s *Scheduler) deleteRecord(ctx context.Context, id int64) bool {
	var err error
	for attempt := 0; attempt < s.cfg.DeleteRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(s.cfg.RetryBackoff):
			}
		}

		err = s.store.Delete(ctx, id)
		if err == nil || errors.Is(err, store.ErrNotFound) {
			if s.index != nil {
				s.index.Delete(id)
			}
			return true
		}
	}

	s.logger.Warn("cleanup: delete failed, leaving record for next cycle",
		zap.Int64("id", id),
		zap.Error(err))
	return false
}

// Run executes Cleanup on the configured interval until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := s.Cleanup(ctx, false)
			if err != nil {
				s.logger.Warn("scheduled cleanup failed", zap.Error(err))
				continue
			}
			if stats.Deleted > 0 || stats.Errors > 0 {
				s.logger.Info("scheduled cleanup finished",
					zap.Int("scanned", stats.Scanned),
					zap.Int("expired_found", stats.ExpiredFound),
					zap.Int("deleted", stats.Deleted),
					zap.Int("errors", stats.Errors))
			}
		}
	}
}
