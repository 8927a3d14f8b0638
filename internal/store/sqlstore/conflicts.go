package sqlstore

import (
	"context"
	"database/sql"

	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/conflicts"
	"github.com/agentstation/syncledger/pkg/errors"
)

const conflictColumns = `id, email, user_id, sync_run_id, detected_at, conflict_type, severity,
	field, existing_value, new_value, platform, context,
	suggested_action, suggested_reason, suggested_confidence,
	status, resolution_action, resolved_by, resolved_at, resolution_notes, applied_changes`

// CreateConflict inserts a conflict after validating it.
func (s *Store) CreateConflict(ctx context.Context, c *conflicts.Conflict) error {
	if err := c.Validate(); err != nil {
		return err
	}
	args, err := conflictArgs(c)
	if err != nil {
		return errors.WrapStore("insert", "conflicts", err)
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err = s.exec(ctx, s.db, `INSERT INTO conflicts (`+conflictColumns+`)
		VALUES (`+placeholders(len(args))+`)`, args...)
	return errors.WrapStore("insert", "conflicts", err)
}

func conflictArgs(c *conflicts.Conflict) ([]any, error) {
	existing, err := encodeJSON(c.Data.ExistingValue)
	if err != nil {
		return nil, err
	}
	incoming, err := encodeJSON(c.Data.NewValue)
	if err != nil {
		return nil, err
	}
	ctxJSON, err := encodeJSON(c.Data.Context)
	if err != nil {
		return nil, err
	}

	var (
		sugAction, sugReason sql.NullString
		sugConfidence        sql.NullInt64
	)
	if c.Suggested != nil {
		sugAction = sql.NullString{String: string(c.Suggested.Action), Valid: true}
		sugReason = sql.NullString{String: c.Suggested.Reason, Valid: true}
		sugConfidence = sql.NullInt64{Int64: int64(c.Suggested.Confidence), Valid: true}
	}

	args := []any{
		c.ID, c.Email, c.UserID, c.SyncRunID, millis(c.DetectedAt), string(c.Type), string(c.Severity),
		c.Data.Field, existing, incoming, string(c.Data.Platform), ctxJSON,
		sugAction, sugReason, sugConfidence,
		string(c.Status),
	}
	res, err := resolutionArgs(c.Resolution)
	if err != nil {
		return nil, err
	}
	return append(args, res...), nil
}

func resolutionArgs(r *conflicts.Resolution) ([]any, error) {
	if r == nil {
		return []any{nil, nil, nil, nil, nil}, nil
	}
	changes, err := encodeJSON(r.AppliedChanges)
	if err != nil {
		return nil, err
	}
	return []any{string(r.Action), r.ResolvedBy, millis(r.ResolvedAt), nullString(r.Notes), changes}, nil
}

func scanConflict(row rowScanner) (*conflicts.Conflict, error) {
	var (
		c                                    conflicts.Conflict
		typ, severity, platform, status      string
		detectedAt                           int64
		existing, incoming, ctxJSON          sql.NullString
		sugAction, sugReason                 sql.NullString
		sugConfidence                        sql.NullInt64
		resAction, resolvedBy, notes, change sql.NullString
		resolvedAt                           sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.Email, &c.UserID, &c.SyncRunID, &detectedAt, &typ, &severity,
		&c.Data.Field, &existing, &incoming, &platform, &ctxJSON,
		&sugAction, &sugReason, &sugConfidence,
		&status, &resAction, &resolvedBy, &resolvedAt, &notes, &change)
	if err != nil {
		return nil, err
	}
	c.DetectedAt = fromMillis(detectedAt)
	c.Type = conflicts.Type(typ)
	c.Severity = conflicts.Severity(severity)
	c.Data.Platform = canonical.Platform(platform)
	c.Status = conflicts.Status(status)

	if c.Data.ExistingValue, err = decodeJSON[any](existing); err != nil {
		return nil, err
	}
	if c.Data.NewValue, err = decodeJSON[any](incoming); err != nil {
		return nil, err
	}
	if c.Data.Context, err = decodeJSON[map[string]any](ctxJSON); err != nil {
		return nil, err
	}
	if sugAction.Valid {
		c.Suggested = &conflicts.Suggestion{
			Action:     conflicts.Action(sugAction.String),
			Reason:     sugReason.String,
			Confidence: int(sugConfidence.Int64),
		}
	}
	if resAction.Valid {
		res := &conflicts.Resolution{
			Action:     conflicts.Action(resAction.String),
			ResolvedBy: resolvedBy.String,
			ResolvedAt: fromMillis(resolvedAt.Int64),
			Notes:      notes.String,
		}
		if res.AppliedChanges, err = decodeJSON[map[string]any](change); err != nil {
			return nil, err
		}
		c.Resolution = res
	}
	return &c, nil
}

// GetConflict returns a conflict by id.
func (s *Store) GetConflict(ctx context.Context, id string) (*conflicts.Conflict, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.getConflict(ctx, s.db, id)
}

func (s *Store) getConflict(ctx context.Context, q queryer, id string) (*conflicts.Conflict, error) {
	c, err := scanConflict(s.queryRow(ctx, q, `SELECT `+conflictColumns+` FROM conflicts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("conflict", id)
	}
	return c, errors.WrapStore("query", "conflicts", err)
}

func conflictWhere(f conflicts.Filter) where {
	var w where
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.Severity != "" {
		w.add("severity = ?", string(f.Severity))
	}
	if f.Type != "" {
		w.add("conflict_type = ?", string(f.Type))
	}
	if f.Email != "" {
		w.add("email = ?", canonical.NormalizeEmail(f.Email))
	}
	if f.SyncRunID != "" {
		w.add("sync_run_id = ?", f.SyncRunID)
	}
	if !f.DetectedAfter.IsZero() {
		w.add("detected_at >= ?", millis(f.DetectedAfter))
	}
	if !f.DetectedBefore.IsZero() {
		w.add("detected_at < ?", millis(f.DetectedBefore))
	}
	return w
}

// ListConflicts returns conflicts matching f, newest first.
func (s *Store) ListConflicts(ctx context.Context, f conflicts.Filter) ([]*conflicts.Conflict, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	w := conflictWhere(f)
	query, args := s.dialect.page(`SELECT `+conflictColumns+` FROM conflicts`+w.String()+` ORDER BY detected_at DESC, id`, w.args, f.Limit, f.Offset)
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, errors.WrapStore("query", "conflicts", err)
	}
	out := make([]*conflicts.Conflict, 0)
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			_ = rows.Close()
			return nil, errors.WrapStore("query", "conflicts", err)
		}
		out = append(out, c)
	}
	return out, errors.WrapStore("query", "conflicts", closeRows(rows))
}

// ResolveConflict moves a pending conflict to status. The UPDATE is guarded
// on status = 'PENDING' so only one concurrent resolver wins.
func (s *Store) ResolveConflict(ctx context.Context, id string, status conflicts.Status, res conflicts.Resolution) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var changed bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		changed, err = s.resolve(ctx, tx, id, status, res)
		return err
	})
	return changed, err
}

// ResolveConflicts resolves every pending conflict among ids in one
// transaction. Unknown ids are skipped.
func (s *Store) ResolveConflicts(ctx context.Context, ids []string, status conflicts.Status, res conflicts.Resolution) (int, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	n := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		n = 0
		for _, id := range ids {
			changed, err := s.resolve(ctx, tx, id, status, res)
			if errors.IsNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			if changed {
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) resolve(ctx context.Context, tx *sql.Tx, id string, status conflicts.Status, res conflicts.Resolution) (bool, error) {
	current, err := s.getConflict(ctx, tx, id)
	if err != nil {
		return false, err
	}
	if current.IsTerminal() {
		return false, nil
	}
	next := *current
	next.Status = status
	next.Resolution = &res
	if err := next.Validate(); err != nil {
		return false, err
	}

	args, err := resolutionArgs(&res)
	if err != nil {
		return false, errors.WrapStore("update", "conflicts", err)
	}
	args = append([]any{string(status)}, args...)
	args = append(args, id)
	result, err := s.exec(ctx, tx, `UPDATE conflicts SET status = ?,
		resolution_action = ?, resolved_by = ?, resolved_at = ?, resolution_notes = ?, applied_changes = ?
		WHERE id = ? AND status = 'PENDING'`, args...)
	if err != nil {
		return false, errors.WrapStore("update", "conflicts", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.WrapStore("update", "conflicts", err)
	}
	return n == 1, nil
}

// CountConflicts groups conflicts matching f by status, severity and type.
func (s *Store) CountConflicts(ctx context.Context, f conflicts.Filter) ([]conflicts.GroupCount, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	w := conflictWhere(f)
	rows, err := s.query(ctx, s.db, `SELECT status, severity, conflict_type, COUNT(*) FROM conflicts`+w.String()+`
		GROUP BY status, severity, conflict_type`, w.args...)
	if err != nil {
		return nil, errors.WrapStore("query", "conflicts", err)
	}
	out := make([]conflicts.GroupCount, 0)
	for rows.Next() {
		var g conflicts.GroupCount
		var status, severity, typ string
		if err := rows.Scan(&status, &severity, &typ, &g.Count); err != nil {
			_ = rows.Close()
			return nil, errors.WrapStore("query", "conflicts", err)
		}
		g.Status = conflicts.Status(status)
		g.Severity = conflicts.Severity(severity)
		g.Type = conflicts.Type(typ)
		out = append(out, g)
	}
	return out, errors.WrapStore("query", "conflicts", closeRows(rows))
}
