package snapshots

import (
	"context"
	"time"

	"github.com/agentstation/syncledger/pkg/canonical"
)

// ItemError records why one item of a batch was not written.
type ItemError struct {
	UserID string `json:"user_id" yaml:"user_id"`
	Error  string `json:"error" yaml:"error"`
}

// BatchResult summarizes a bulk upsert.
type BatchResult struct {
	Created  int         `json:"created" yaml:"created"`
	Updated  int         `json:"updated" yaml:"updated"`
	Errors   int         `json:"errors" yaml:"errors"`
	Failures []ItemError `json:"failures,omitempty" yaml:"failures,omitempty"`
}

func (r *BatchResult) fail(userID string, err error) {
	r.Errors++
	r.Failures = append(r.Failures, ItemError{UserID: userID, Error: err.Error()})
}

// Filter selects snapshots. Zero fields match everything. Results are
// ordered by month, oldest first.
type Filter struct {
	UserID     string
	Platform   canonical.Platform
	MonthFrom  time.Time
	MonthTo    time.Time
	ActiveOnly bool
	Limit      int
}

// MonthAggregate is the engagement of one platform in one month.
type MonthAggregate struct {
	Month           time.Time `json:"month" yaml:"month"`
	Users           int       `json:"users" yaml:"users"`
	ActiveUsers     int       `json:"active_users" yaml:"active_users"`
	AvgEngagement   float64   `json:"avg_engagement" yaml:"avg_engagement"`
	TotalLogins     int       `json:"total_logins" yaml:"total_logins"`
	TotalActivities int       `json:"total_activities" yaml:"total_activities"`
}

// Store persists snapshots. Writes are atomic upserts on the (user,
// platform, month) key; a store never holds two rows for one key.
type Store interface {
	// UpsertSnapshot inserts s or overwrites the facts of the existing row
	// with its key, reporting whether a row was created.
	UpsertSnapshot(ctx context.Context, s *Snapshot) (bool, error)

	// UpsertSnapshots upserts many snapshots in one operation. A failing
	// item is counted in the result and does not abort the others.
	UpsertSnapshots(ctx context.Context, items []*Snapshot) (BatchResult, error)

	GetSnapshot(ctx context.Context, key Key) (*Snapshot, error)
	ListSnapshots(ctx context.Context, f Filter) ([]*Snapshot, error)

	// CountRetained counts the users with a snapshot in cohort, and how many
	// of them have an active snapshot in target.
	CountRetained(ctx context.Context, platform canonical.Platform, cohort, target time.Time) (total, active int, err error)

	// AggregateMonths returns per-month engagement for months in [from, to].
	AggregateMonths(ctx context.Context, platform canonical.Platform, from, to time.Time) ([]MonthAggregate, error)

	// DeleteSnapshotsBefore removes snapshots whose month is before cutoff.
	DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ActivitySource supplies activity facts. It is implemented outside the core
// by whatever talks to the platforms.
type ActivitySource interface {
	// ActiveUsers lists users with any signal of activity on platform in month.
	ActiveUsers(ctx context.Context, platform canonical.Platform, month time.Time) ([]string, error)

	// Facts returns one user's activity facts for platform and month.
	Facts(ctx context.Context, userID string, platform canonical.Platform, month time.Time) (Facts, error)
}
