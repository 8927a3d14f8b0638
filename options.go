package syncledger

import (
	"time"

	"github.com/agentstation/utc"

	"github.com/agentstation/syncledger/pkg/conflicts"
	"github.com/agentstation/syncledger/pkg/constants"
	"github.com/agentstation/syncledger/pkg/errors"
	"github.com/agentstation/syncledger/pkg/snapshots"
)

// Option is a function that configures a Ledger.
type Option func(*config) error

type config struct {
	now              func() time.Time
	newID            func() string
	rules            *conflicts.RuleSet
	minConfidence    *int
	platformMismatch bool
	autoResolve      bool
	activitySource   snapshots.ActivitySource
	staleDays        int
	retentionMonths  int
	batchSize        int
}

func defaultConfig() *config {
	return &config{
		now:             func() time.Time { return utc.Now().Time },
		newID:           newUUID,
		staleDays:       constants.DefaultStaleConflictDays,
		retentionMonths: constants.DefaultSnapshotRetentionMonths,
		batchSize:       constants.DefaultBatchSize,
	}
}

func (l *Ledger) options(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(l.config); err != nil {
			return err
		}
	}
	return nil
}

// WithClock configures the clock every service reads.
func WithClock(now func() time.Time) Option {
	return func(c *config) error {
		if now == nil {
			return errors.NewValidationError("clock", nil, "is required")
		}
		c.now = now
		return nil
	}
}

// WithIDGenerator configures how run, conflict and canonical user ids are
// generated.
func WithIDGenerator(fn func() string) Option {
	return func(c *config) error {
		if fn == nil {
			return errors.NewValidationError("id_generator", nil, "is required")
		}
		c.newID = fn
		return nil
	}
}

// WithRules replaces the auto-resolution rule table.
func WithRules(rs conflicts.RuleSet) Option {
	return func(c *config) error {
		if err := rs.Validate(); err != nil {
			return err
		}
		c.rules = &rs
		return nil
	}
}

// WithMinConfidence sets the confidence a rule needs before it may resolve
// a conflict on its own.
func WithMinConfidence(n int) Option {
	return func(c *config) error {
		if n < 0 || n > 100 {
			return errors.NewValidationError("min_confidence", n, "must be between 0 and 100")
		}
		c.minConfidence = &n
		return nil
	}
}

// WithPlatformMismatch enables the platform mismatch check.
func WithPlatformMismatch(enabled bool) Option {
	return func(c *config) error {
		c.platformMismatch = enabled
		return nil
	}
}

// WithAutoResolve runs the auto-resolver over a run's conflicts once the
// run completes.
func WithAutoResolve(enabled bool) Option {
	return func(c *config) error {
		c.autoResolve = enabled
		return nil
	}
}

// WithActivitySource configures where monthly snapshot facts come from.
func WithActivitySource(src snapshots.ActivitySource) Option {
	return func(c *config) error {
		c.activitySource = src
		return nil
	}
}

// WithStaleConflictDays sets how long a conflict may stay pending before it
// is reported as stale.
func WithStaleConflictDays(days int) Option {
	return func(c *config) error {
		if days <= 0 {
			return errors.NewValidationError("stale_conflict_days", days, "must be positive")
		}
		c.staleDays = days
		return nil
	}
}

// WithSnapshotRetention sets how many months of snapshots cleanup keeps.
func WithSnapshotRetention(months int) Option {
	return func(c *config) error {
		if months <= 0 {
			return errors.NewValidationError("snapshot_retention_months", months, "must be positive")
		}
		c.retentionMonths = months
		return nil
	}
}

// WithBatchSize sets how many records SliceSource hands out per batch.
func WithBatchSize(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return errors.NewValidationError("batch_size", n, "must be positive")
		}
		c.batchSize = n
		return nil
	}
}
