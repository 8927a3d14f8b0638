package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/constants"
	"github.com/agentstation/syncledger/pkg/errors"
	"github.com/agentstation/syncledger/pkg/snapshots"
)

func cloneSnapshot(s *snapshots.Snapshot) *snapshots.Snapshot {
	out := *s
	if s.Progress != nil {
		p := *s.Progress
		out.Progress = &p
	}
	return &out
}

func keyOf(s *snapshots.Snapshot) snapshots.Key {
	return snapshots.Key{UserID: s.UserID, Platform: s.Platform, Month: snapshots.NormalizeMonth(s.Month)}
}

// UpsertSnapshot inserts or overwrites the snapshot with s's key.
func (s *Store) UpsertSnapshot(_ context.Context, snap *snapshots.Snapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(snap), nil
}

// UpsertSnapshots upserts every item under one lock acquisition.
func (s *Store) UpsertSnapshots(_ context.Context, items []*snapshots.Snapshot) (snapshots.BatchResult, error) {
	var result snapshots.BatchResult
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range items {
		if snap == nil {
			continue
		}
		if s.upsertLocked(snap) {
			result.Created++
		} else {
			result.Updated++
		}
	}
	return result, nil
}

func (s *Store) upsertLocked(snap *snapshots.Snapshot) bool {
	key := keyOf(snap)
	next := cloneSnapshot(snap)
	next.Month = key.Month
	existing, ok := s.snapshots[key]
	if ok {
		next.CreatedAt = existing.CreatedAt
	}
	s.snapshots[key] = next
	return !ok
}

// GetSnapshot returns the snapshot with key.
func (s *Store) GetSnapshot(_ context.Context, key snapshots.Key) (*snapshots.Snapshot, error) {
	key.Month = snapshots.NormalizeMonth(key.Month)
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[key]
	if !ok {
		return nil, errors.NewNotFoundError("snapshot", key.UserID+"/"+string(key.Platform)+"/"+key.Month.Format(constants.MonthFormat))
	}
	return cloneSnapshot(snap), nil
}

// ListSnapshots returns snapshots matching f, oldest month first.
func (s *Store) ListSnapshots(_ context.Context, f snapshots.Filter) ([]*snapshots.Snapshot, error) {
	s.mu.RLock()
	out := make([]*snapshots.Snapshot, 0)
	for _, snap := range s.snapshots {
		if matchSnapshot(snap, f) {
			out = append(out, cloneSnapshot(snap))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *snapshots.Snapshot) int {
		if c := a.Month.Compare(b.Month); c != 0 {
			return c
		}
		if c := strings.Compare(string(a.Platform), string(b.Platform)); c != 0 {
			return c
		}
		return strings.Compare(a.UserID, b.UserID)
	})
	return page(out, 0, f.Limit), nil
}

func matchSnapshot(snap *snapshots.Snapshot, f snapshots.Filter) bool {
	switch {
	case f.UserID != "" && snap.UserID != f.UserID:
		return false
	case f.Platform != "" && snap.Platform != f.Platform:
		return false
	case f.ActiveOnly && !snap.WasActive:
		return false
	case !f.MonthFrom.IsZero() && snap.Month.Before(snapshots.NormalizeMonth(f.MonthFrom)):
		return false
	case !f.MonthTo.IsZero() && snap.Month.After(snapshots.NormalizeMonth(f.MonthTo)):
		return false
	}
	return true
}

// CountRetained counts the cohort and its active members in target.
func (s *Store) CountRetained(_ context.Context, platform canonical.Platform, cohort, target time.Time) (int, int, error) {
	cohort, target = snapshots.NormalizeMonth(cohort), snapshots.NormalizeMonth(target)
	s.mu.RLock()
	defer s.mu.RUnlock()
	total, active := 0, 0
	for key := range s.snapshots {
		if key.Platform != platform || !key.Month.Equal(cohort) {
			continue
		}
		total++
		later, ok := s.snapshots[snapshots.Key{UserID: key.UserID, Platform: platform, Month: target}]
		if ok && later.WasActive {
			active++
		}
	}
	return total, active, nil
}

// AggregateMonths returns per-month engagement for platform.
func (s *Store) AggregateMonths(_ context.Context, platform canonical.Platform, from, to time.Time) ([]snapshots.MonthAggregate, error) {
	from, to = snapshots.NormalizeMonth(from), snapshots.NormalizeMonth(to)
	type acc struct {
		agg   snapshots.MonthAggregate
		score int
	}
	s.mu.RLock()
	months := make(map[time.Time]*acc)
	for key, snap := range s.snapshots {
		if key.Platform != platform || key.Month.Before(from) || key.Month.After(to) {
			continue
		}
		a, ok := months[key.Month]
		if !ok {
			a = &acc{agg: snapshots.MonthAggregate{Month: key.Month}}
			months[key.Month] = a
		}
		a.agg.Users++
		if snap.WasActive {
			a.agg.ActiveUsers++
		}
		a.score += snap.EngagementScore
		a.agg.TotalLogins += snap.LoginCount
		a.agg.TotalActivities += snap.ActivityCount
	}
	s.mu.RUnlock()

	out := make([]snapshots.MonthAggregate, 0, len(months))
	for _, a := range months {
		if a.agg.Users > 0 {
			a.agg.AvgEngagement = float64(a.score) / float64(a.agg.Users)
		}
		out = append(out, a.agg)
	}
	slices.SortFunc(out, func(a, b snapshots.MonthAggregate) int { return a.Month.Compare(b.Month) })
	return out, nil
}

// DeleteSnapshotsBefore removes snapshots whose month is before cutoff.
func (s *Store) DeleteSnapshotsBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.snapshots {
		if key.Month.Before(cutoff) {
			delete(s.snapshots, key)
			n++
		}
	}
	return n, nil
}
