// Package snapshots materializes monthly activity snapshots: one row per
// user, platform and calendar month, used for engagement reporting and
// cohort retention.
package snapshots

import (
	"time"

	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/constants"
	"github.com/agentstation/syncledger/pkg/errors"
)

// Source says what produced a snapshot.
type Source string

// Snapshot sources.
const (
	SourceSync   Source = "SYNC"
	SourceCron   Source = "CRON"
	SourceManual Source = "MANUAL"
)

// IsValid reports whether s is a known source.
func (s Source) IsValid() bool {
	return s == SourceSync || s == SourceCron || s == SourceManual
}

// Progress is course progress for the month.
type Progress struct {
	CompletedUnits int     `json:"completed_units" yaml:"completed_units"`
	TotalUnits     int     `json:"total_units" yaml:"total_units"`
	Percentage     float64 `json:"percentage" yaml:"percentage"`
}

// Key identifies a snapshot.
type Key struct {
	UserID   string
	Platform canonical.Platform
	Month    time.Time
}

// Facts are one user's activity on a platform for a month, as supplied by an
// activity collaborator.
type Facts struct {
	UserID        string    `json:"user_id" yaml:"user_id"`
	WasActive     bool      `json:"was_active" yaml:"was_active"`
	HadLogin      bool      `json:"had_login" yaml:"had_login"`
	HadActivity   bool      `json:"had_activity" yaml:"had_activity"`
	LoginCount    int       `json:"login_count" yaml:"login_count"`
	ActivityCount int       `json:"activity_count" yaml:"activity_count"`
	Progress      *Progress `json:"progress,omitempty" yaml:"progress,omitempty"`

	// EngagementScore overrides the computed score when set.
	EngagementScore *int `json:"engagement_score,omitempty" yaml:"engagement_score,omitempty"`
}

// Snapshot is one user's activity on one platform for one calendar month.
type Snapshot struct {
	UserID          string             `json:"user_id" yaml:"user_id"`
	Platform        canonical.Platform `json:"platform" yaml:"platform"`
	Month           time.Time          `json:"month" yaml:"month"`
	WasActive       bool               `json:"was_active" yaml:"was_active"`
	HadLogin        bool               `json:"had_login" yaml:"had_login"`
	HadActivity     bool               `json:"had_activity" yaml:"had_activity"`
	LoginCount      int                `json:"login_count" yaml:"login_count"`
	ActivityCount   int                `json:"activity_count" yaml:"activity_count"`
	EngagementScore int                `json:"engagement_score" yaml:"engagement_score"`
	Progress        *Progress          `json:"progress,omitempty" yaml:"progress,omitempty"`
	Source          Source             `json:"source" yaml:"source"`
	SyncRunID       string             `json:"sync_run_id,omitempty" yaml:"sync_run_id,omitempty"`
	CreatedAt       time.Time          `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at" yaml:"updated_at"`
}

// Key returns the snapshot's identity.
func (s *Snapshot) Key() Key {
	return Key{UserID: s.UserID, Platform: s.Platform, Month: s.Month}
}

// SameFacts reports whether s and o hold the same facts, ignoring timestamps.
func (s *Snapshot) SameFacts(o *Snapshot) bool {
	if (s.Progress == nil) != (o.Progress == nil) {
		return false
	}
	if s.Progress != nil && *s.Progress != *o.Progress {
		return false
	}
	return s.UserID == o.UserID &&
		s.Platform == o.Platform &&
		s.Month.Equal(o.Month) &&
		s.WasActive == o.WasActive &&
		s.HadLogin == o.HadLogin &&
		s.HadActivity == o.HadActivity &&
		s.LoginCount == o.LoginCount &&
		s.ActivityCount == o.ActivityCount &&
		s.EngagementScore == o.EngagementScore &&
		s.Source == o.Source &&
		s.SyncRunID == o.SyncRunID
}

// NormalizeMonth returns the first instant of t's calendar month in UTC.
func NormalizeMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// ParseMonth parses a YYYY-MM month.
func ParseMonth(s string) (time.Time, error) {
	t, err := time.Parse(constants.MonthFormat, s)
	if err != nil {
		return time.Time{}, errors.NewValidationError("month", s, "must be formatted as YYYY-MM")
	}
	return NormalizeMonth(t), nil
}

// EngagementScore scores a month of activity:
// 20 for any login, 30 for any activity, 2 per login up to 20 and 3 per
// activity up to 30, clamped to [0,100].
func EngagementScore(f Facts) int {
	score := 0
	if f.HadLogin {
		score += constants.LoginPresencePoints
	}
	if f.HadActivity {
		score += constants.ActivityPresencePoints
	}
	score += min(max(f.LoginCount, 0)*constants.PointsPerLogin, constants.MaxLoginPoints)
	score += min(max(f.ActivityCount, 0)*constants.PointsPerActivity, constants.MaxActivityPoints)
	return clamp(score, 0, constants.MaxScore)
}

// Origin tags snapshots with what produced them.
type Origin struct {
	Source    Source
	SyncRunID string
}

// New builds a snapshot with its month normalized and its engagement score
// computed. It is the only way snapshots are constructed before a write.
func New(userID string, platform canonical.Platform, month time.Time, f Facts, origin Origin, now time.Time) (*Snapshot, error) {
	if userID == "" {
		return nil, errors.NewValidationError("user_id", userID, "is required")
	}
	if f.UserID != "" && f.UserID != userID {
		return nil, errors.NewValidationError("user_id", f.UserID, "facts belong to a different user")
	}
	if !platform.IsValid() {
		return nil, errors.NewValidationError("platform", platform, "unknown platform")
	}
	if month.IsZero() {
		return nil, errors.NewValidationError("month", month, "is required")
	}
	if f.LoginCount < 0 {
		return nil, errors.NewValidationError("login_count", f.LoginCount, "must not be negative")
	}
	if f.ActivityCount < 0 {
		return nil, errors.NewValidationError("activity_count", f.ActivityCount, "must not be negative")
	}
	if origin.Source == "" {
		origin.Source = SourceManual
	}
	if !origin.Source.IsValid() {
		return nil, errors.NewValidationError("source", origin.Source, "must be SYNC, CRON or MANUAL")
	}

	score := EngagementScore(f)
	if f.EngagementScore != nil {
		score = clamp(*f.EngagementScore, 0, constants.MaxScore)
	}

	progress, err := normalizeProgress(f.Progress)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		UserID:          userID,
		Platform:        platform,
		Month:           NormalizeMonth(month),
		WasActive:       f.WasActive,
		HadLogin:        f.HadLogin,
		HadActivity:     f.HadActivity,
		LoginCount:      f.LoginCount,
		ActivityCount:   f.ActivityCount,
		EngagementScore: score,
		Progress:        progress,
		Source:          origin.Source,
		SyncRunID:       origin.SyncRunID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func normalizeProgress(p *Progress) (*Progress, error) {
	if p == nil {
		return nil, nil
	}
	if p.CompletedUnits < 0 || p.TotalUnits < 0 {
		return nil, errors.NewValidationError("progress", *p, "units must not be negative")
	}
	out := *p
	if out.Percentage == 0 && out.TotalUnits > 0 {
		out.Percentage = float64(out.CompletedUnits) / float64(out.TotalUnits) * 100
	}
	out.Percentage = min(max(out.Percentage, 0), 100)
	return &out, nil
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
