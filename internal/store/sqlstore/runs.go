package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agentstation/syncledger/pkg/errors"
	"github.com/agentstation/syncledger/pkg/syncrun"
)

const runColumns = `id, type, trigger_kind, trigger_actor, status, started_at, completed_at,
	stats_total, stats_added, stats_updated, stats_conflicts, stats_errors,
	duration_seconds, records_per_second, avg_ms_per_record, cancel_reason`

const (
	activeRun       = `status IN ('pending', 'running')`
	accumulatingRun = `status IN ('pending', 'running', 'cancelled')`
)

// refreshMetrics re-derives throughput of a finished run from its stored
// counters. Failed runs report none.
const refreshMetrics = `UPDATE sync_runs SET
	records_per_second = CASE WHEN status = 'failed' OR duration_seconds <= 0 THEN 0
		ELSE stats_total / duration_seconds END,
	avg_ms_per_record = CASE WHEN status = 'failed' OR stats_total = 0 THEN 0
		ELSE duration_seconds * 1000.0 / stats_total END
	WHERE id = ? AND completed_at IS NOT NULL`

// CreateRun inserts a new run.
func (s *Store) CreateRun(ctx context.Context, run *syncrun.SyncRun) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.exec(ctx, s.db, `INSERT INTO sync_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runArgs(run)...)
	return errors.WrapStore("insert", "sync_runs", err)
}

func runArgs(r *syncrun.SyncRun) []any {
	var duration, rps, avg sql.NullFloat64
	if r.Metrics != nil {
		duration = sql.NullFloat64{Float64: r.Metrics.DurationSeconds, Valid: true}
		rps = sql.NullFloat64{Float64: r.Metrics.RecordsPerSecond, Valid: true}
		avg = sql.NullFloat64{Float64: r.Metrics.AvgMsPerRecord, Valid: true}
	}
	return []any{
		r.ID, string(r.Type), string(r.TriggeredBy.Kind), r.TriggeredBy.ActorID, string(r.Status),
		millis(r.StartedAt), nullMillis(r.CompletedAt),
		r.Stats.Total, r.Stats.Added, r.Stats.Updated, r.Stats.Conflicts, r.Stats.Errors,
		duration, rps, avg, r.CancelReason,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*syncrun.SyncRun, error) {
	var (
		r                  syncrun.SyncRun
		typ, kind, status  string
		startedAt          int64
		completedAt        sql.NullInt64
		duration, rps, avg sql.NullFloat64
	)
	err := row.Scan(&r.ID, &typ, &kind, &r.TriggeredBy.ActorID, &status, &startedAt, &completedAt,
		&r.Stats.Total, &r.Stats.Added, &r.Stats.Updated, &r.Stats.Conflicts, &r.Stats.Errors,
		&duration, &rps, &avg, &r.CancelReason)
	if err != nil {
		return nil, err
	}
	r.Type = syncrun.Type(typ)
	r.TriggeredBy.Kind = syncrun.TriggerKind(kind)
	r.Status = syncrun.Status(status)
	r.StartedAt = fromMillis(startedAt)
	if completedAt.Valid {
		t := fromMillis(completedAt.Int64)
		r.CompletedAt = &t
	}
	if duration.Valid {
		r.Metrics = &syncrun.Metrics{
			DurationSeconds:  duration.Float64,
			RecordsPerSecond: rps.Float64,
			AvgMsPerRecord:   avg.Float64,
		}
	}
	return &r, nil
}

// GetRun returns a run with its conflict ids and error log.
func (s *Store) GetRun(ctx context.Context, id string) (*syncrun.SyncRun, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.getRun(ctx, s.db, id)
}

func (s *Store) getRun(ctx context.Context, q queryer, id string) (*syncrun.SyncRun, error) {
	run, err := scanRun(s.queryRow(ctx, q, `SELECT `+runColumns+` FROM sync_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("sync_run", id)
	}
	if err != nil {
		return nil, errors.WrapStore("query", "sync_runs", err)
	}
	if err := s.loadRunChildren(ctx, q, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Store) loadRunChildren(ctx context.Context, q queryer, run *syncrun.SyncRun) error {
	rows, err := s.query(ctx, q, `SELECT conflict_id FROM sync_run_conflicts WHERE run_id = ? ORDER BY position`, run.ID)
	if err != nil {
		return errors.WrapStore("query", "sync_run_conflicts", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return errors.WrapStore("query", "sync_run_conflicts", err)
		}
		run.ConflictIDs = append(run.ConflictIDs, id)
	}
	if err := closeRows(rows); err != nil {
		return errors.WrapStore("query", "sync_run_conflicts", err)
	}

	rows, err = s.query(ctx, q, `SELECT occurred_at, message FROM sync_run_errors WHERE run_id = ? ORDER BY position`, run.ID)
	if err != nil {
		return errors.WrapStore("query", "sync_run_errors", err)
	}
	for rows.Next() {
		var at int64
		var msg string
		if err := rows.Scan(&at, &msg); err != nil {
			_ = rows.Close()
			return errors.WrapStore("query", "sync_run_errors", err)
		}
		run.ErrorLog = append(run.ErrorLog, syncrun.RunError{At: fromMillis(at), Message: msg})
	}
	return errors.WrapStore("query", "sync_run_errors", closeRows(rows))
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	return rows.Close()
}

// ListRuns returns runs matching f, newest first. Conflict ids and error logs
// are loaded for each run.
func (s *Store) ListRuns(ctx context.Context, f syncrun.Filter) ([]*syncrun.SyncRun, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var w where
	if f.Type != "" {
		w.add("type = ?", string(f.Type))
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if !f.StartedAfter.IsZero() {
		w.add("started_at >= ?", millis(f.StartedAfter))
	}
	if !f.StartedBefore.IsZero() {
		w.add("started_at < ?", millis(f.StartedBefore))
	}
	query, args := s.dialect.page(`SELECT `+runColumns+` FROM sync_runs`+w.String()+` ORDER BY started_at DESC, id`, w.args, f.Limit, f.Offset)

	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, errors.WrapStore("query", "sync_runs", err)
	}
	var out []*syncrun.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			_ = rows.Close()
			return nil, errors.WrapStore("query", "sync_runs", err)
		}
		out = append(out, run)
	}
	if err := closeRows(rows); err != nil {
		return nil, errors.WrapStore("query", "sync_runs", err)
	}

	for _, run := range out {
		if err := s.loadRunChildren(ctx, s.db, run); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// IncrementRunStats adds delta to a run that is still accumulating. Pending
// runs become running; cancelled runs keep their status.
func (s *Store) IncrementRunStats(ctx context.Context, id string, delta syncrun.Stats) (*syncrun.SyncRun, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var run *syncrun.SyncRun
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, `UPDATE sync_runs
			SET status = CASE WHEN status = 'cancelled' THEN status ELSE 'running' END,
			stats_total = stats_total + ?, stats_added = stats_added + ?, stats_updated = stats_updated + ?,
			stats_conflicts = stats_conflicts + ?, stats_errors = stats_errors + ?
			WHERE id = ? AND `+accumulatingRun,
			delta.Total, delta.Added, delta.Updated, delta.Conflicts, delta.Errors, id)
		if err != nil {
			return errors.WrapStore("update", "sync_runs", err)
		}
		if err := s.guardActive(ctx, tx, res, id); err != nil {
			return err
		}
		if _, err := s.exec(ctx, tx, refreshMetrics, id); err != nil {
			return errors.WrapStore("update", "sync_runs", err)
		}
		run, err = s.getRun(ctx, tx, id)
		return err
	})
	return run, err
}

// FinishRun writes a terminal run if the stored run is still active.
// Counters take the larger of the stored and supplied values and derived
// metrics are recomputed from the merged counters in the same transaction.
func (s *Store) FinishRun(ctx context.Context, run *syncrun.SyncRun) error {
	if run.CompletedAt == nil || run.Metrics == nil || !run.Status.IsTerminal() {
		return errors.NewValidationError("status", run.Status, "finish requires a terminal run with metrics")
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	g := s.dialect.greatest
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, fmt.Sprintf(`UPDATE sync_runs SET status = ?, completed_at = ?,
			stats_total = %[1]s(stats_total, ?), stats_added = %[1]s(stats_added, ?),
			stats_updated = %[1]s(stats_updated, ?), stats_conflicts = %[1]s(stats_conflicts, ?),
			stats_errors = %[1]s(stats_errors, ?),
			duration_seconds = ?, records_per_second = ?, avg_ms_per_record = ?, cancel_reason = ?
			WHERE id = ? AND `+activeRun, g),
			string(run.Status), millis(*run.CompletedAt),
			run.Stats.Total, run.Stats.Added, run.Stats.Updated, run.Stats.Conflicts, run.Stats.Errors,
			run.Metrics.DurationSeconds, run.Metrics.RecordsPerSecond, run.Metrics.AvgMsPerRecord, run.CancelReason,
			run.ID)
		if err != nil {
			return errors.WrapStore("update", "sync_runs", err)
		}
		if err := s.guardActive(ctx, tx, res, run.ID); err != nil {
			return err
		}
		if !run.Metrics.Measured {
			if _, err := s.exec(ctx, tx, refreshMetrics, run.ID); err != nil {
				return errors.WrapStore("update", "sync_runs", err)
			}
		}

		var stored int
		if err := s.queryRow(ctx, tx, `SELECT COUNT(*) FROM sync_run_errors WHERE run_id = ?`, run.ID).Scan(&stored); err != nil {
			return errors.WrapStore("query", "sync_run_errors", err)
		}
		for i := stored; i < len(run.ErrorLog); i++ {
			e := run.ErrorLog[i]
			if _, err := s.exec(ctx, tx, `INSERT INTO sync_run_errors (run_id, position, occurred_at, message) VALUES (?, ?, ?, ?)`,
				run.ID, i+1, millis(e.At), e.Message); err != nil {
				return errors.WrapStore("insert", "sync_run_errors", err)
			}
		}
		return nil
	})
}

// AttachConflict appends a conflict id to a run that is still accumulating.
func (s *Store) AttachConflict(ctx context.Context, runID, conflictID string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, `UPDATE sync_runs SET stats_conflicts = stats_conflicts + 1 WHERE id = ? AND `+accumulatingRun, runID)
		if err != nil {
			return errors.WrapStore("update", "sync_runs", err)
		}
		if err := s.guardActive(ctx, tx, res, runID); err != nil {
			return err
		}
		_, err = s.exec(ctx, tx, `INSERT INTO sync_run_conflicts (run_id, conflict_id, position)
			SELECT ?, ?, COALESCE(MAX(position), 0) + 1 FROM sync_run_conflicts WHERE run_id = ?`,
			runID, conflictID, runID)
		return errors.WrapStore("insert", "sync_run_conflicts", err)
	})
}

// guardActive turns a guarded UPDATE that touched no row into NotFound or
// syncrun.ErrNotActive.
func (s *Store) guardActive(ctx context.Context, q queryer, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.WrapStore("update", "sync_runs", err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = s.queryRow(ctx, q, `SELECT COUNT(*) FROM sync_runs WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return errors.WrapStore("query", "sync_runs", err)
	}
	if exists == 0 {
		return errors.NewNotFoundError("sync_run", id)
	}
	return syncrun.ErrNotActive
}
