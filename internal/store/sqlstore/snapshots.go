package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/constants"
	"github.com/agentstation/syncledger/pkg/errors"
	"github.com/agentstation/syncledger/pkg/snapshots"
)

const snapshotColumns = `user_id, platform, snapshot_month, was_active, had_login, had_activity,
	login_count, activity_count, engagement_score,
	progress_completed, progress_total, progress_percentage,
	source, sync_run_id, created_at, updated_at`

// upsertSnapshot relies on idx_snapshots_key. A fresh row has revision 1.
const upsertSnapshot = `INSERT INTO activity_snapshots (` + snapshotColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (user_id, platform, snapshot_month) DO UPDATE SET
		was_active = excluded.was_active,
		had_login = excluded.had_login,
		had_activity = excluded.had_activity,
		login_count = excluded.login_count,
		activity_count = excluded.activity_count,
		engagement_score = excluded.engagement_score,
		progress_completed = excluded.progress_completed,
		progress_total = excluded.progress_total,
		progress_percentage = excluded.progress_percentage,
		source = excluded.source,
		sync_run_id = excluded.sync_run_id,
		updated_at = excluded.updated_at,
		revision = activity_snapshots.revision + 1
	RETURNING revision`

func snapshotArgs(s *snapshots.Snapshot) []any {
	var completed, total sql.NullInt64
	var pct sql.NullFloat64
	if p := s.Progress; p != nil {
		completed = sql.NullInt64{Int64: int64(p.CompletedUnits), Valid: true}
		total = sql.NullInt64{Int64: int64(p.TotalUnits), Valid: true}
		pct = sql.NullFloat64{Float64: p.Percentage, Valid: true}
	}
	return []any{
		s.UserID, string(s.Platform), millis(snapshots.NormalizeMonth(s.Month)),
		s.WasActive, s.HadLogin, s.HadActivity,
		s.LoginCount, s.ActivityCount, s.EngagementScore,
		completed, total, pct,
		string(s.Source), s.SyncRunID, millis(s.CreatedAt), millis(s.UpdatedAt),
	}
}

func scanSnapshot(row rowScanner) (*snapshots.Snapshot, error) {
	var (
		s                   snapshots.Snapshot
		platform, source    string
		month, created, upd int64
		completed, total    sql.NullInt64
		pct                 sql.NullFloat64
	)
	err := row.Scan(&s.UserID, &platform, &month, &s.WasActive, &s.HadLogin, &s.HadActivity,
		&s.LoginCount, &s.ActivityCount, &s.EngagementScore,
		&completed, &total, &pct,
		&source, &s.SyncRunID, &created, &upd)
	if err != nil {
		return nil, err
	}
	s.Platform = canonical.Platform(platform)
	s.Month = fromMillis(month)
	s.Source = snapshots.Source(source)
	s.CreatedAt = fromMillis(created)
	s.UpdatedAt = fromMillis(upd)
	if completed.Valid {
		s.Progress = &snapshots.Progress{
			CompletedUnits: int(completed.Int64),
			TotalUnits:     int(total.Int64),
			Percentage:     pct.Float64,
		}
	}
	return &s, nil
}

// UpsertSnapshot inserts or overwrites the snapshot with snap's key.
func (s *Store) UpsertSnapshot(ctx context.Context, snap *snapshots.Snapshot) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var revision int
	err := s.queryRow(ctx, s.db, upsertSnapshot, snapshotArgs(snap)...).Scan(&revision)
	if err != nil {
		return false, errors.WrapStore("upsert", "activity_snapshots", err)
	}
	return revision == 1, nil
}

// UpsertSnapshots upserts items in one transaction. Each item runs under its
// own savepoint so a failing row is rolled back alone.
func (s *Store) UpsertSnapshots(ctx context.Context, items []*snapshots.Snapshot) (snapshots.BatchResult, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var result snapshots.BatchResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		result = snapshots.BatchResult{}
		for _, snap := range items {
			if snap == nil {
				continue
			}
			if _, err := tx.ExecContext(ctx, "SAVEPOINT snapshot_item"); err != nil {
				return errors.WrapStore("upsert", "activity_snapshots", err)
			}
			var revision int
			err := s.queryRow(ctx, tx, upsertSnapshot, snapshotArgs(snap)...).Scan(&revision)
			if err != nil {
				if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT snapshot_item"); rbErr != nil {
					return errors.WrapStore("upsert", "activity_snapshots", errors.Join(err, rbErr))
				}
				result.Errors++
				result.Failures = append(result.Failures, snapshots.ItemError{UserID: snap.UserID, Error: err.Error()})
				continue
			}
			if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT snapshot_item"); err != nil {
				return errors.WrapStore("upsert", "activity_snapshots", err)
			}
			if revision == 1 {
				result.Created++
			} else {
				result.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return snapshots.BatchResult{}, err
	}
	return result, nil
}

// GetSnapshot returns the snapshot with key.
func (s *Store) GetSnapshot(ctx context.Context, key snapshots.Key) (*snapshots.Snapshot, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	month := snapshots.NormalizeMonth(key.Month)
	snap, err := scanSnapshot(s.queryRow(ctx, s.db, `SELECT `+snapshotColumns+` FROM activity_snapshots
		WHERE user_id = ? AND platform = ? AND snapshot_month = ?`,
		key.UserID, string(key.Platform), millis(month)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("snapshot", key.UserID+"/"+string(key.Platform)+"/"+month.Format(constants.MonthFormat))
	}
	return snap, errors.WrapStore("query", "activity_snapshots", err)
}

// ListSnapshots returns snapshots matching f, oldest month first.
func (s *Store) ListSnapshots(ctx context.Context, f snapshots.Filter) ([]*snapshots.Snapshot, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var w where
	if f.UserID != "" {
		w.add("user_id = ?", f.UserID)
	}
	if f.Platform != "" {
		w.add("platform = ?", string(f.Platform))
	}
	if f.ActiveOnly {
		w.add("was_active = ?", true)
	}
	if !f.MonthFrom.IsZero() {
		w.add("snapshot_month >= ?", millis(snapshots.NormalizeMonth(f.MonthFrom)))
	}
	if !f.MonthTo.IsZero() {
		w.add("snapshot_month <= ?", millis(snapshots.NormalizeMonth(f.MonthTo)))
	}
	query, args := s.dialect.page(`SELECT `+snapshotColumns+` FROM activity_snapshots`+w.String()+`
		ORDER BY snapshot_month, platform, user_id`, w.args, f.Limit, 0)

	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, errors.WrapStore("query", "activity_snapshots", err)
	}
	out := make([]*snapshots.Snapshot, 0)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			_ = rows.Close()
			return nil, errors.WrapStore("query", "activity_snapshots", err)
		}
		out = append(out, snap)
	}
	return out, errors.WrapStore("query", "activity_snapshots", closeRows(rows))
}

// CountRetained counts the cohort and how many of its members are active in
// target.
func (s *Store) CountRetained(ctx context.Context, platform canonical.Platform, cohort, target time.Time) (int, int, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var total int
	var active sql.NullInt64
	err := s.queryRow(ctx, s.db, `SELECT COUNT(*), SUM(CASE WHEN t.was_active THEN 1 ELSE 0 END)
		FROM activity_snapshots c
		LEFT JOIN activity_snapshots t
			ON t.user_id = c.user_id AND t.platform = c.platform AND t.snapshot_month = ?
		WHERE c.platform = ? AND c.snapshot_month = ?`,
		millis(snapshots.NormalizeMonth(target)), string(platform), millis(snapshots.NormalizeMonth(cohort))).
		Scan(&total, &active)
	if err != nil {
		return 0, 0, errors.WrapStore("query", "activity_snapshots", err)
	}
	return total, int(active.Int64), nil
}

// AggregateMonths returns per-month engagement for platform in [from, to].
func (s *Store) AggregateMonths(ctx context.Context, platform canonical.Platform, from, to time.Time) ([]snapshots.MonthAggregate, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.query(ctx, s.db, `SELECT snapshot_month, COUNT(*),
			SUM(CASE WHEN was_active THEN 1 ELSE 0 END),
			AVG(engagement_score), SUM(login_count), SUM(activity_count)
		FROM activity_snapshots
		WHERE platform = ? AND snapshot_month >= ? AND snapshot_month <= ?
		GROUP BY snapshot_month
		ORDER BY snapshot_month`,
		string(platform), millis(snapshots.NormalizeMonth(from)), millis(snapshots.NormalizeMonth(to)))
	if err != nil {
		return nil, errors.WrapStore("query", "activity_snapshots", err)
	}
	out := make([]snapshots.MonthAggregate, 0)
	for rows.Next() {
		var (
			agg   snapshots.MonthAggregate
			month int64
		)
		if err := rows.Scan(&month, &agg.Users, &agg.ActiveUsers, &agg.AvgEngagement, &agg.TotalLogins, &agg.TotalActivities); err != nil {
			_ = rows.Close()
			return nil, errors.WrapStore("query", "activity_snapshots", err)
		}
		agg.Month = fromMillis(month)
		out = append(out, agg)
	}
	return out, errors.WrapStore("query", "activity_snapshots", closeRows(rows))
}

// DeleteSnapshotsBefore removes snapshots whose month is before cutoff.
func (s *Store) DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := s.exec(ctx, s.db, `DELETE FROM activity_snapshots WHERE snapshot_month < ?`, millis(cutoff))
	if err != nil {
		return 0, errors.WrapStore("delete", "activity_snapshots", err)
	}
	n, err := res.RowsAffected()
	return int(n), errors.WrapStore("delete", "activity_snapshots", err)
}
