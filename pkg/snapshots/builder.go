package snapshots

import (
	"context"
	"time"

	"github.com/agentstation/utc"

	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/constants"
	"github.com/agentstation/syncledger/pkg/errors"
	"github.com/agentstation/syncledger/pkg/logging"
)

// Builder writes snapshots and answers cohort queries.
type Builder struct {
	store  Store
	source ActivitySource
	now    func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithActivitySource sets the collaborator used by BuildMonthlySnapshots.
func WithActivitySource(src ActivitySource) Option {
	return func(b *Builder) {
		b.source = src
	}
}

// WithClock sets the clock used for timestamps and cleanup cutoffs.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBuilder creates a Builder backed by store.
func NewBuilder(store Store, opts ...Option) *Builder {
	b := &Builder{
		store: store,
		now:   func() time.Time { return utc.Now().Time },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BuildSnapshot upserts the snapshot of one user for one month and reports
// whether it was created.
func (b *Builder) BuildSnapshot(ctx context.Context, userID string, platform canonical.Platform, month time.Time, f Facts, origin Origin) (*Snapshot, bool, error) {
	s, err := New(userID, platform, month, f, origin, b.now())
	if err != nil {
		return nil, false, err
	}
	created, err := b.store.UpsertSnapshot(ctx, s)
	if err != nil {
		return nil, false, errors.WrapResource("build", "snapshot", userID, err)
	}
	return s, created, nil
}

// BuildBatch upserts snapshots for many users of one platform and month in a
// single bulk write. Invalid items are counted as errors and skipped.
func (b *Builder) BuildBatch(ctx context.Context, month time.Time, platform canonical.Platform, activities []Facts, origin Origin) (BatchResult, error) {
	if !platform.IsValid() {
		return BatchResult{}, errors.NewValidationError("platform", platform, "unknown platform")
	}

	var result BatchResult
	now := b.now()
	items := make([]*Snapshot, 0, len(activities))
	for _, f := range activities {
		s, err := New(f.UserID, platform, month, f, origin, now)
		if err != nil {
			result.fail(f.UserID, err)
			continue
		}
		items = append(items, s)
	}
	if len(items) == 0 {
		return result, nil
	}

	written, err := b.store.UpsertSnapshots(ctx, items)
	if err != nil {
		return result, errors.WrapResource("build", "snapshot", "", err)
	}
	result.Created += written.Created
	result.Updated += written.Updated
	result.Errors += written.Errors
	result.Failures = append(result.Failures, written.Failures...)

	logging.FromContext(ctx).Info().
		Str("platform", string(platform)).
		Str("month", NormalizeMonth(month).Format(constants.MonthFormat)).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("errors", result.Errors).
		Msg("Snapshot batch built")
	return result, nil
}

// MonthlyResult summarizes BuildMonthlySnapshots.
type MonthlyResult struct {
	Month     time.Time                          `json:"month" yaml:"month"`
	Processed int                                `json:"processed" yaml:"processed"`
	Created   int                                `json:"created" yaml:"created"`
	Updated   int                                `json:"updated" yaml:"updated"`
	Errors    int                                `json:"errors" yaml:"errors"`
	Platforms map[canonical.Platform]BatchResult `json:"platforms" yaml:"platforms"`
}

// BuildMonthlySnapshots builds snapshots for every user the activity source
// reports active in month, on platform or on every platform when platform is
// empty. A failure for one user is logged and counted; a failure to list a
// platform's users is counted as one error for that platform.
func (b *Builder) BuildMonthlySnapshots(ctx context.Context, month time.Time, platform canonical.Platform, origin Origin) (MonthlyResult, error) {
	ctx = logging.WithOperation(ctx, "build_monthly_snapshots")
	if b.source == nil {
		return MonthlyResult{}, errors.NewConfigError("snapshots", "no activity source configured", nil)
	}
	platforms := canonical.Platforms()
	if platform != "" {
		if !platform.IsValid() {
			return MonthlyResult{}, errors.NewValidationError("platform", platform, "unknown platform")
		}
		platforms = []canonical.Platform{platform}
	}
	if origin.Source == "" {
		origin.Source = SourceCron
	}

	month = NormalizeMonth(month)
	result := MonthlyResult{Month: month, Platforms: make(map[canonical.Platform]BatchResult)}
	logger := logging.FromContext(ctx)

	for _, p := range platforms {
		var pr BatchResult
		users, err := b.source.ActiveUsers(ctx, p, month)
		if err != nil {
			logger.Error().Err(err).Str("platform", string(p)).Msg("Listing active users failed")
			pr.fail("", err)
			result.add(p, pr)
			continue
		}

		for _, userID := range users {
			if err := ctx.Err(); err != nil {
				result.add(p, pr)
				return result, err
			}
			result.Processed++
			f, err := b.source.Facts(ctx, userID, p, month)
			if err != nil {
				logger.Warn().Err(err).Str("platform", string(p)).Str("user_id", userID).Msg("Fetching activity facts failed")
				pr.fail(userID, err)
				continue
			}
			_, created, err := b.BuildSnapshot(ctx, userID, p, month, f, origin)
			if err != nil {
				logger.Warn().Err(err).Str("platform", string(p)).Str("user_id", userID).Msg("Building snapshot failed")
				pr.fail(userID, err)
				continue
			}
			if created {
				pr.Created++
			} else {
				pr.Updated++
			}
		}
		result.add(p, pr)
	}

	logger.Info().
		Str("month", month.Format(constants.MonthFormat)).
		Int("processed", result.Processed).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("errors", result.Errors).
		Msg("Monthly snapshots built")
	return result, nil
}

func (r *MonthlyResult) add(p canonical.Platform, pr BatchResult) {
	r.Platforms[p] = pr
	r.Created += pr.Created
	r.Updated += pr.Updated
	r.Errors += pr.Errors
}

// Retention is the retention of a cohort at one milestone.
type Retention struct {
	Offset int       `json:"offset" yaml:"offset"`
	Month  time.Time `json:"month" yaml:"month"`
	Total  int       `json:"total" yaml:"total"`
	Active int       `json:"active" yaml:"active"`
	Rate   float64   `json:"rate" yaml:"rate"`
}

// CohortRetention computes, for each month offset, the share of users with a
// snapshot in cohortMonth that have an active snapshot offset months later.
// Milestones are independent of each other.
func (b *Builder) CohortRetention(ctx context.Context, cohortMonth time.Time, platform canonical.Platform, offsets ...int) ([]Retention, error) {
	if !platform.IsValid() {
		return nil, errors.NewValidationError("platform", platform, "unknown platform")
	}
	cohort := NormalizeMonth(cohortMonth)
	out := make([]Retention, 0, len(offsets))
	for _, offset := range offsets {
		if offset < 0 {
			return nil, errors.NewValidationError("offset", offset, "must not be negative")
		}
		target := cohort.AddDate(0, offset, 0)
		total, active, err := b.store.CountRetained(ctx, platform, cohort, target)
		if err != nil {
			return nil, err
		}
		out = append(out, Retention{
			Offset: offset,
			Month:  target,
			Total:  total,
			Active: active,
			Rate:   Rate(active, total),
		})
	}
	return out, nil
}

// Rate returns part/total as a percentage in [0,100], or 0 when total is 0.
func Rate(part, total int) float64 {
	if total <= 0 || part <= 0 {
		return 0
	}
	return min(float64(part)/float64(total)*100, 100)
}

// CleanupOldSnapshots deletes snapshots whose month is more than
// olderThanMonths before the current month. A non-positive value uses the
// default retention of 18 months.
func (b *Builder) CleanupOldSnapshots(ctx context.Context, olderThanMonths int) (int, error) {
	ctx = logging.WithOperation(ctx, "cleanup_snapshots")
	if olderThanMonths <= 0 {
		olderThanMonths = constants.DefaultSnapshotRetentionMonths
	}
	cutoff := NormalizeMonth(b.now()).AddDate(0, -olderThanMonths, 0)
	n, err := b.store.DeleteSnapshotsBefore(ctx, cutoff)
	if err != nil {
		return 0, errors.WrapResource("delete", "snapshot", "", err)
	}

	logging.FromContext(ctx).Info().
		Str("cutoff", cutoff.Format(constants.MonthFormat)).
		Int("deleted", n).
		Msg("Old snapshots deleted")
	return n, nil
}

// Get returns one snapshot.
func (b *Builder) Get(ctx context.Context, userID string, platform canonical.Platform, month time.Time) (*Snapshot, error) {
	return b.store.GetSnapshot(ctx, Key{UserID: userID, Platform: platform, Month: NormalizeMonth(month)})
}

// ListForUser returns a user's snapshots, oldest month first. An empty
// platform lists every platform.
func (b *Builder) ListForUser(ctx context.Context, userID string, platform canonical.Platform) ([]*Snapshot, error) {
	if userID == "" {
		return nil, errors.NewValidationError("user_id", userID, "is required")
	}
	return b.store.ListSnapshots(ctx, Filter{UserID: userID, Platform: platform})
}
