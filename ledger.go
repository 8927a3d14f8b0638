// Package syncledger reconciles user records arriving from several external
// platforms into one canonical store. A Ledger tracks every sync run, records
// the conflicts found along the way, drives their resolution and builds the
// monthly activity snapshots used for retention reporting.
package syncledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/conflicts"
	"github.com/agentstation/syncledger/pkg/detector"
	"github.com/agentstation/syncledger/pkg/errors"
	"github.com/agentstation/syncledger/pkg/report"
	"github.com/agentstation/syncledger/pkg/snapshots"
	"github.com/agentstation/syncledger/pkg/syncrun"
)

// Backend is the storage a Ledger runs on. internal/store.Open returns one.
type Backend interface {
	syncrun.Store
	conflicts.Store
	snapshots.Store
	canonical.Store
}

// Ledger wires the reconciliation services over one backend.
type Ledger struct {
	backend   Backend
	config    *config
	hooks     *hooks
	runs      *syncrun.Service
	conflicts *conflicts.Service
	detector  *detector.Detector
	snapshots *snapshots.Builder
	reports   *report.Aggregator
}

// New creates a Ledger over backend.
func New(backend Backend, opts ...Option) (*Ledger, error) {
	if backend == nil {
		return nil, errors.NewConfigError("ledger", "a backend is required", nil)
	}
	l := &Ledger{
		backend: backend,
		config:  defaultConfig(),
		hooks:   newHooks(),
	}
	if err := l.options(opts...); err != nil {
		return nil, errors.NewConfigError("ledger", "applying options", err)
	}

	cfg := l.config
	l.runs = syncrun.NewService(backend,
		syncrun.WithClock(cfg.now),
		syncrun.WithIDGenerator(cfg.newID))

	conflictOpts := []conflicts.Option{
		conflicts.WithClock(cfg.now),
		conflicts.WithIDGenerator(cfg.newID),
	}
	if cfg.rules != nil {
		conflictOpts = append(conflictOpts, conflicts.WithRules(*cfg.rules))
	}
	if cfg.minConfidence != nil {
		conflictOpts = append(conflictOpts, conflicts.WithMinConfidence(*cfg.minConfidence))
	}
	l.conflicts = conflicts.NewService(backend, conflictOpts...)

	var detectorOpts []detector.Option
	if cfg.platformMismatch {
		detectorOpts = append(detectorOpts, detector.WithPlatformMismatch())
	}
	l.detector = detector.New(backend, l.conflicts, l.runs, detectorOpts...)

	builderOpts := []snapshots.Option{snapshots.WithClock(cfg.now)}
	if cfg.activitySource != nil {
		builderOpts = append(builderOpts, snapshots.WithActivitySource(cfg.activitySource))
	}
	l.snapshots = snapshots.NewBuilder(backend, builderOpts...)

	l.reports = report.New(backend, backend, backend,
		report.WithClock(cfg.now),
		report.WithStaleDays(cfg.staleDays))
	return l, nil
}

// Runs returns the sync run service.
func (l *Ledger) Runs() *syncrun.Service { return l.runs }

// Conflicts returns the conflict resolution service.
func (l *Ledger) Conflicts() *conflicts.Service { return l.conflicts }

// Detector returns the conflict detector.
func (l *Ledger) Detector() *detector.Detector { return l.detector }

// Snapshots returns the activity snapshot builder.
func (l *Ledger) Snapshots() *snapshots.Builder { return l.snapshots }

// SnapshotsFrom returns a snapshot builder over the ledger's store that
// reads activity from src instead of the configured source.
func (l *Ledger) SnapshotsFrom(src snapshots.ActivitySource) *snapshots.Builder {
	return snapshots.NewBuilder(l.backend,
		snapshots.WithClock(l.config.now),
		snapshots.WithActivitySource(src))
}

// Reports returns the report aggregator.
func (l *Ledger) Reports() *report.Aggregator { return l.reports }

// Users returns the canonical user store.
func (l *Ledger) Users() canonical.Store { return l.backend }

// Close closes the backend if it can be closed.
func (l *Ledger) Close() error {
	if c, ok := l.backend.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// CleanupOldSnapshots deletes snapshots older than the configured retention.
func (l *Ledger) CleanupOldSnapshots(ctx context.Context) (int, error) {
	return l.snapshots.CleanupOldSnapshots(ctx, l.config.retentionMonths)
}

// StaleConflicts lists pending conflicts older than the configured age.
func (l *Ledger) StaleConflicts(ctx context.Context, limit int) ([]*conflicts.Conflict, error) {
	return l.conflicts.ListStale(ctx, l.config.staleDays, limit)
}

func newUUID() string {
	return uuid.NewString()
}

func (l *Ledger) now() time.Time {
	return l.config.now()
}
