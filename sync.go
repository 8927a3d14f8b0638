package syncledger

import (
	"context"
	"fmt"
	"io"

	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/errors"
	"github.com/agentstation/syncledger/pkg/logging"
	"github.com/agentstation/syncledger/pkg/syncrun"
)

// BatchSource hands out batches of normalized records. Next returns io.EOF
// once the source is exhausted.
type BatchSource interface {
	Next(ctx context.Context) ([]canonical.Record, error)
}

// SliceSource serves in-memory records in fixed-size batches.
type SliceSource struct {
	records []canonical.Record
	size    int
	pos     int
}

// NewSliceSource splits records into batches of size.
func NewSliceSource(records []canonical.Record, size int) *SliceSource {
	if size <= 0 {
		size = len(records)
	}
	return &SliceSource{records: records, size: max(size, 1)}
}

// Records returns a source over records using the configured batch size.
func (l *Ledger) Records(records []canonical.Record) *SliceSource {
	return NewSliceSource(records, l.config.batchSize)
}

// Next returns the next batch.
func (s *SliceSource) Next(ctx context.Context) ([]canonical.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	end := min(s.pos+s.size, len(s.records))
	batch := s.records[s.pos:end]
	s.pos = end
	return batch, nil
}

// Sync drives one run end to end: it starts the run, reconciles every batch
// src yields and completes the run with its accumulated stats.
//
// Cancellation, through ctx or through Runs().Cancel from elsewhere, is
// honored between batches. A batch in flight when the run is cancelled runs
// to its end and its records and conflicts are counted on the cancelled run. Failures once the run exists do not surface as
// errors: the run is moved to failed and returned. The error return is
// reserved for runs that could not be started or finalized at all.
func (l *Ledger) Sync(ctx context.Context, typ syncrun.Type, trigger syncrun.Trigger, src BatchSource) (*syncrun.SyncRun, error) {
	if src == nil {
		return nil, errors.NewValidationError("source", nil, "is required")
	}
	run, err := l.runs.Start(ctx, typ, trigger)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithSyncRun(ctx, run.ID)
	ctx = logging.WithPlatform(ctx, string(typ))
	logger := logging.FromContext(ctx)

	// stop reports whether the run was cancelled elsewhere.
	stop := func(batchNo int) (bool, error) {
		cancelled, err := l.runs.IsCancelled(ctx, run.ID)
		if err != nil {
			return false, err
		}
		if cancelled {
			logger.Info().Int("batch", batchNo).Msg("Sync run cancelled, stopping")
		}
		return cancelled, nil
	}

	var totals syncrun.Stats
	for batchNo := 1; ; batchNo++ {
		if err := ctx.Err(); err != nil {
			return l.cancelRun(ctx, run.ID, fmt.Sprintf("context done: %v", err))
		}
		cancelled, err := stop(batchNo)
		if err != nil {
			return l.failRun(ctx, run.ID, fmt.Sprintf("checking cancellation: %v", err), totals)
		}
		if cancelled {
			return l.finished(ctx, run.ID)
		}

		batch, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return l.cancelRun(ctx, run.ID, fmt.Sprintf("context done: %v", ctx.Err()))
			}
			return l.failRun(ctx, run.ID, fmt.Sprintf("fetching batch %d: %v", batchNo, err), totals)
		}
		// A batch fetched after a cancel is dropped unprocessed.
		if cancelled, err = stop(batchNo); err != nil {
			return l.failRun(ctx, run.ID, fmt.Sprintf("checking cancellation: %v", err), totals)
		}
		if cancelled {
			return l.finished(ctx, run.ID)
		}

		stats, err := l.ProcessBatch(ctx, run.ID, typ.Platform(), batch)
		totals = totals.Add(stats)
		switch {
		case errors.IsAlreadyTerminal(err):
			return l.finished(ctx, run.ID)
		case err != nil && ctx.Err() != nil:
			return l.cancelRun(ctx, run.ID, fmt.Sprintf("context done: %v", ctx.Err()))
		case err != nil:
			return l.failRun(ctx, run.ID, fmt.Sprintf("batch %d: %v", batchNo, err), totals)
		}
		logger.Debug().
			Int("batch", batchNo).
			Int("records", stats.Total).
			Int("added", stats.Added).
			Int("updated", stats.Updated).
			Int("errors", stats.Errors).
			Msg("Batch reconciled")
	}

	done, err := l.runs.Complete(ctx, run.ID, totals, nil)
	if errors.IsAlreadyTerminal(err) {
		return l.finished(ctx, run.ID)
	}
	if err != nil {
		return l.failRun(ctx, run.ID, fmt.Sprintf("completing run: %v", err), totals)
	}
	if l.config.autoResolve && len(done.ConflictIDs) > 0 {
		result, err := l.conflicts.AutoResolve(ctx, done.ConflictIDs)
		if err != nil {
			logger.Warn().Err(err).Msg("Auto-resolution after sync failed")
		} else {
			logger.Info().
				Int("resolved", result.Resolved).
				Int("skipped", result.Skipped).
				Msg("Auto-resolution after sync")
		}
	}
	l.hooks.runFinished(done)
	return done, nil
}

// ProcessBatch reconciles one batch into an active run and adds the batch's
// stats to it. Records are handled in order. A record with a blocking
// conflict is held back from the canonical store; a record that fails a
// check or validation counts as an error and processing continues. The
// returned error means the batch could not be finished, which is fatal for
// the run.
func (l *Ledger) ProcessBatch(ctx context.Context, runID string, platform canonical.Platform, batch []canonical.Record) (syncrun.Stats, error) {
	var stats syncrun.Stats
	logger := logging.FromContext(ctx)

	for i, rec := range batch {
		stats.Total++
		if rec.Platform == "" {
			rec.Platform = platform
		}

		result, err := l.detector.Detect(ctx, runID, platform, rec)
		if err != nil {
			return stats, fmt.Errorf("record %d: %w", i, err)
		}
		l.hooks.conflictDetected(result.Conflicts)
		failed := len(result.CheckErrors) > 0

		if !result.Blocking() {
			user, outcome, err := l.backend.Apply(ctx, rec, l.now(), l.config.newID)
			switch {
			case errors.IsValidationError(err):
				logger.Warn().Err(err).Int("record", i).Msg("Record rejected by canonical store")
				failed = true
			case err != nil:
				return stats, fmt.Errorf("record %d: applying: %w", i, err)
			case outcome == canonical.Added:
				stats.Added++
			case outcome == canonical.Updated:
				stats.Updated++
			}
			if err == nil {
				l.hooks.recordApplied(user, outcome)
			}
		}
		if failed {
			stats.Errors++
		}
	}

	// Conflicts were counted on the run as they were attached.
	if _, err := l.runs.RecordBatch(ctx, runID, stats); err != nil {
		return stats, err
	}
	return stats, nil
}

func (l *Ledger) failRun(ctx context.Context, id, message string, partial syncrun.Stats) (*syncrun.SyncRun, error) {
	ctx = context.WithoutCancel(ctx)
	partial.Conflicts = 0
	run, err := l.runs.Fail(ctx, id, message, &partial)
	if errors.IsAlreadyTerminal(err) {
		return l.finished(ctx, id)
	}
	if err != nil {
		return nil, errors.WrapResource("fail", "sync_run", id, err)
	}
	l.hooks.runFinished(run)
	return run, nil
}

func (l *Ledger) cancelRun(ctx context.Context, id, reason string) (*syncrun.SyncRun, error) {
	ctx = context.WithoutCancel(ctx)
	run, err := l.runs.Cancel(ctx, id, reason)
	if errors.IsAlreadyTerminal(err) {
		return l.finished(ctx, id)
	}
	if err != nil {
		return nil, errors.WrapResource("cancel", "sync_run", id, err)
	}
	l.hooks.runFinished(run)
	return run, nil
}

// finished reloads a run another writer already finalized.
func (l *Ledger) finished(ctx context.Context, id string) (*syncrun.SyncRun, error) {
	run, err := l.runs.Get(context.WithoutCancel(ctx), id)
	if err != nil {
		return nil, err
	}
	l.hooks.runFinished(run)
	return run, nil
}
