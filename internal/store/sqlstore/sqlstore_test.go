package sqlstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/conflicts"
	"github.com/agentstation/syncledger/pkg/errors"
	"github.com/agentstation/syncledger/pkg/snapshots"
	"github.com/agentstation/syncledger/pkg/syncrun"
)

var start = time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)

// testStores returns a fresh SQLite store, plus a Postgres store when
// SYNCLEDGER_TEST_POSTGRES_DSN is set.
func testStores(t *testing.T) map[string]*Store {
	t.Helper()
	ctx := context.Background()

	lite, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lite.Close() })
	stores := map[string]*Store{"sqlite": lite}

	if dsn := strings.TrimSpace(os.Getenv("SYNCLEDGER_TEST_POSTGRES_DSN")); dsn != "" {
		pg, err := OpenPostgres(ctx, dsn)
		require.NoError(t, err)
		for _, table := range []string{"sync_runs", "sync_run_conflicts", "sync_run_errors", "conflicts", "activity_snapshots", "users", "user_identities"} {
			_, err := pg.db.ExecContext(ctx, "TRUNCATE "+table)
			require.NoError(t, err)
		}
		t.Cleanup(func() { _ = pg.Close() })
		stores["postgres"] = pg
	}
	return stores
}

func forEachStore(t *testing.T, fn func(t *testing.T, s *Store)) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) { fn(t, s) })
	}
}

func TestRebind(t *testing.T) {
	q := "SELECT a FROM t WHERE b = ? AND c IN (?, ?)"
	assert.Equal(t, q, sqliteDialect.rebind(q))
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c IN ($2, $3)", postgresDialect.rebind(q))
}

func TestPage(t *testing.T) {
	tests := []struct {
		name          string
		d             dialect
		limit, offset int
		wantQuery     string
		wantArgs      []any
	}{
		{"none", sqliteDialect, 0, 0, "Q", []any{1}},
		{"limit", sqliteDialect, 10, 0, "Q LIMIT ?", []any{1, 10}},
		{"limit and offset", postgresDialect, 10, 5, "Q LIMIT ? OFFSET ?", []any{1, 10, 5}},
		{"sqlite offset only", sqliteDialect, 0, 5, "Q LIMIT -1 OFFSET ?", []any{1, 5}},
		{"postgres offset only", postgresDialect, 0, 5, "Q LIMIT ALL OFFSET ?", []any{1, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := tt.d.page("Q", []any{1}, tt.limit, tt.offset)
			assert.Equal(t, tt.wantQuery, q)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
	assert.Equal(t, "?, ?, ?", placeholders(3))
	assert.Empty(t, placeholders(0))
}

func TestSchemaStatements(t *testing.T) {
	for _, d := range []dialect{sqliteDialect, postgresDialect} {
		stmts := schemaStatements(d)
		assert.NotEmpty(t, stmts)
		for _, stmt := range stmts {
			assert.NotContains(t, stmt, "{{")
		}
	}
}

func TestRunLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		run, err := syncrun.New("run-1", syncrun.TypeHotmart, syncrun.Trigger{Kind: syncrun.TriggerCron}, start)
		require.NoError(t, err)
		require.NoError(t, s.CreateRun(ctx, run))

		got, err := s.IncrementRunStats(ctx, "run-1", syncrun.Stats{Total: 10, Added: 6, Updated: 4})
		require.NoError(t, err)
		assert.Equal(t, syncrun.StatusRunning, got.Status)
		assert.Equal(t, 10, got.Stats.Total)

		require.NoError(t, s.AttachConflict(ctx, "run-1", "c-1"))
		require.NoError(t, s.AttachConflict(ctx, "run-1", "c-2"))

		got, err = s.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"c-1", "c-2"}, got.ConflictIDs)
		assert.Equal(t, 2, got.Stats.Conflicts)

		require.NoError(t, got.Fail(start.Add(10*time.Second), "upstream returned 503", nil))
		require.NoError(t, s.FinishRun(ctx, got))

		got, err = s.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, syncrun.StatusFailed, got.Status)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, got.CompletedAt.Equal(start.Add(10*time.Second)))
		require.NotNil(t, got.Metrics)
		assert.InDelta(t, 10.0, got.Metrics.DurationSeconds, 0.001)
		require.Len(t, got.ErrorLog, 1)
		assert.Equal(t, "upstream returned 503", got.ErrorLog[0].Message)

		// Terminal runs reject further writes.
		_, err = s.IncrementRunStats(ctx, "run-1", syncrun.Stats{Total: 1})
		assert.ErrorIs(t, err, syncrun.ErrNotActive)
		assert.ErrorIs(t, s.AttachConflict(ctx, "run-1", "c-3"), syncrun.ErrNotActive)
		assert.ErrorIs(t, s.FinishRun(ctx, got), syncrun.ErrNotActive)

		_, err = s.IncrementRunStats(ctx, "missing", syncrun.Stats{Total: 1})
		assert.True(t, errors.IsNotFound(err))
		_, err = s.GetRun(ctx, "missing")
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestFinishRunKeepsLargerCounters(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		run, err := syncrun.New("run-max", syncrun.TypeDiscord, syncrun.Trigger{Kind: syncrun.TriggerManual}, start)
		require.NoError(t, err)
		require.NoError(t, s.CreateRun(ctx, run))

		stale := *run
		require.NoError(t, s.AttachConflict(ctx, run.ID, "c-1"))
		require.NoError(t, stale.Complete(start.Add(time.Second), syncrun.Stats{Total: 5, Added: 5}, nil))
		require.NoError(t, s.FinishRun(ctx, &stale))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, syncrun.Stats{Total: 5, Added: 5, Conflicts: 1}, got.Stats)
		assert.Equal(t, []string{"c-1"}, got.ConflictIDs)
	})
}

func TestFinishRunDerivesMetricsFromMergedCounters(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		run, err := syncrun.New("run-merge", syncrun.TypeHotmart, syncrun.Trigger{Kind: syncrun.TriggerCron}, start)
		require.NoError(t, err)
		require.NoError(t, s.CreateRun(ctx, run))

		stale := *run
		_, err = s.IncrementRunStats(ctx, run.ID, syncrun.Stats{Total: 8, Added: 8})
		require.NoError(t, err)
		require.NoError(t, stale.Complete(start.Add(2*time.Second), syncrun.Stats{Total: 5, Added: 5}, nil))
		require.NoError(t, s.FinishRun(ctx, &stale))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, 8, got.Stats.Total)
		assert.InDelta(t, 4.0, got.Metrics.RecordsPerSecond, 1e-9)
		assert.InDelta(t, 250.0, got.Metrics.AvgMsPerRecord, 1e-9)
	})
}

func TestCancelledRunTakesInFlightBatch(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		run, err := syncrun.New("run-cancel", syncrun.TypeDiscord, syncrun.Trigger{Kind: syncrun.TriggerManual}, start)
		require.NoError(t, err)
		require.NoError(t, s.CreateRun(ctx, run))

		require.NoError(t, run.Cancel(start.Add(4*time.Second), "operator stop"))
		require.NoError(t, s.FinishRun(ctx, run))

		require.NoError(t, s.AttachConflict(ctx, run.ID, "c-1"))
		got, err := s.IncrementRunStats(ctx, run.ID, syncrun.Stats{Total: 8, Added: 7})
		require.NoError(t, err)
		assert.Equal(t, syncrun.StatusCancelled, got.Status)
		assert.Equal(t, syncrun.Stats{Total: 8, Added: 7, Conflicts: 1}, got.Stats)
		assert.Equal(t, []string{"c-1"}, got.ConflictIDs)
		assert.InDelta(t, 2.0, got.Metrics.RecordsPerSecond, 1e-9)
		assert.InDelta(t, 500.0, got.Metrics.AvgMsPerRecord, 1e-9)
		assert.Equal(t, "operator stop", got.CancelReason)

		assert.ErrorIs(t, s.FinishRun(ctx, run), syncrun.ErrNotActive)
	})
}

func TestListRuns(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		for i, typ := range []syncrun.Type{syncrun.TypeHotmart, syncrun.TypeCursEduca, syncrun.TypeHotmart} {
			run, err := syncrun.New(fmt.Sprintf("run-%d", i), typ, syncrun.Trigger{Kind: syncrun.TriggerCron}, start.Add(time.Duration(i)*time.Hour))
			require.NoError(t, err)
			require.NoError(t, s.CreateRun(ctx, run))
		}

		all, err := s.ListRuns(ctx, syncrun.Filter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "run-2", all[0].ID)

		hotmart, err := s.ListRuns(ctx, syncrun.Filter{Type: syncrun.TypeHotmart, Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, hotmart, 1)
		assert.Equal(t, "run-0", hotmart[0].ID)

		windowed, err := s.ListRuns(ctx, syncrun.Filter{StartedAfter: start.Add(30 * time.Minute), StartedBefore: start.Add(90 * time.Minute)})
		require.NoError(t, err)
		require.Len(t, windowed, 1)
		assert.Equal(t, "run-1", windowed[0].ID)
	})
}

func TestConflictRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		c := &conflicts.Conflict{
			ID: "c-1", Email: "a@x.com", UserID: "u-1", SyncRunID: "run-1", DetectedAt: start,
			Type: conflicts.TypeDifferentIDs, Severity: conflicts.SeverityCritical, Status: conflicts.StatusPending,
			Data: conflicts.Data{
				Field: "platform_id", ExistingValue: "hm-1", NewValue: "hm-2", Platform: canonical.PlatformHotmart,
				Context: map[string]any{"matching_users": float64(2)},
			},
			Suggested: &conflicts.Suggestion{Action: conflicts.ActionManual, Reason: "platform identifiers disagree"},
		}
		require.NoError(t, s.CreateConflict(ctx, c))

		got, err := s.GetConflict(ctx, "c-1")
		require.NoError(t, err)
		assert.Equal(t, c.Data, got.Data)
		assert.Equal(t, c.Suggested, got.Suggested)
		assert.Nil(t, got.Resolution)

		// Critical conflicts cannot be auto-resolved, even by a store write.
		auto := conflicts.Resolution{Action: conflicts.ActionManual, ResolvedBy: "system:auto-resolver", ResolvedAt: start}
		_, err = s.ResolveConflict(ctx, "c-1", conflicts.StatusAutoResolved, auto)
		assert.True(t, errors.IsValidationError(err))

		res := conflicts.Resolution{
			Action: conflicts.ActionMerged, ResolvedBy: "admin-1", ResolvedAt: start.Add(time.Hour),
			Notes: "same person", AppliedChanges: map[string]any{"platform_id": "hm-2"},
		}
		changed, err := s.ResolveConflict(ctx, "c-1", conflicts.StatusResolved, res)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = s.ResolveConflict(ctx, "c-1", conflicts.StatusIgnored, conflicts.Resolution{
			Action: conflicts.ActionIgnored, ResolvedBy: "admin-2", ResolvedAt: start.Add(2 * time.Hour),
		})
		require.NoError(t, err)
		assert.False(t, changed)

		got, err = s.GetConflict(ctx, "c-1")
		require.NoError(t, err)
		assert.Equal(t, conflicts.StatusResolved, got.Status)
		require.NotNil(t, got.Resolution)
		assert.Equal(t, "admin-1", got.Resolution.ResolvedBy)
		assert.Equal(t, map[string]any{"platform_id": "hm-2"}, got.Resolution.AppliedChanges)

		_, err = s.ResolveConflict(ctx, "missing", conflicts.StatusResolved, res)
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestConcurrentResolveSingleWinner(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		svc := conflicts.NewService(s, conflicts.WithClock(func() time.Time { return start }))
		c := &conflicts.Conflict{Email: "a@x.com", SyncRunID: "run-1", Type: conflicts.TypeInvalidData, Severity: conflicts.SeverityHigh}
		require.NoError(t, svc.Create(ctx, c))

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins, rejected := 0, 0
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Resolve(ctx, c.ID, conflicts.ResolveRequest{Action: conflicts.ActionUsedNew, ActorID: fmt.Sprintf("admin-%d", i)})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.IsAlreadyResolved(err):
					rejected++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
		assert.Equal(t, 7, rejected)
	})
}

func TestBulkResolveAndCounts(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		svc := conflicts.NewService(s, conflicts.WithClock(func() time.Time { return start }))
		var ids []string
		for _, sev := range []conflicts.Severity{conflicts.SeverityLow, conflicts.SeverityHigh, conflicts.SeverityHigh} {
			c := &conflicts.Conflict{Email: "a@x.com", SyncRunID: "run-1", Type: conflicts.TypeInvalidData, Severity: sev}
			require.NoError(t, svc.Create(ctx, c))
			ids = append(ids, c.ID)
		}

		n, err := svc.BulkResolve(ctx, []string{ids[0], ids[1], "missing"}, conflicts.ActionKeptExisting, "admin-1", "")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		counts, err := svc.Counts(ctx, conflicts.Filter{})
		require.NoError(t, err)
		assert.Equal(t, 3, counts.Total)
		assert.Equal(t, 2, counts.ByStatus[conflicts.StatusResolved])
		assert.Equal(t, 1, counts.ByStatus[conflicts.StatusPending])
		assert.Equal(t, 2, counts.BySeverity[conflicts.SeverityHigh])

		pending, err := s.ListConflicts(ctx, conflicts.Filter{Status: conflicts.StatusPending, Email: " A@X.com"})
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, ids[2], pending[0].ID)
	})
}

func TestSnapshotUpsert(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		month := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		snap, err := snapshots.New("u1", canonical.PlatformHotmart, month.Add(40*time.Hour),
			snapshots.Facts{WasActive: true, HadLogin: true, HadActivity: true, LoginCount: 3, ActivityCount: 5,
				Progress: &snapshots.Progress{CompletedUnits: 3, TotalUnits: 12}},
			snapshots.Origin{Source: snapshots.SourceSync, SyncRunID: "run-1"}, start)
		require.NoError(t, err)

		created, err := s.UpsertSnapshot(ctx, snap)
		require.NoError(t, err)
		assert.True(t, created)

		again := *snap
		again.LoginCount = 9
		again.UpdatedAt = start.Add(time.Hour)
		created, err = s.UpsertSnapshot(ctx, &again)
		require.NoError(t, err)
		assert.False(t, created)

		got, err := s.GetSnapshot(ctx, snapshots.Key{UserID: "u1", Platform: canonical.PlatformHotmart, Month: month.Add(72 * time.Hour)})
		require.NoError(t, err)
		assert.Equal(t, 9, got.LoginCount)
		assert.Equal(t, 71, got.EngagementScore)
		assert.True(t, got.Month.Equal(month))
		assert.True(t, got.CreatedAt.Equal(start))
		assert.True(t, got.UpdatedAt.Equal(start.Add(time.Hour)))
		require.NotNil(t, got.Progress)
		assert.InDelta(t, 25.0, got.Progress.Percentage, 0.001)

		all, err := s.ListSnapshots(ctx, snapshots.Filter{})
		require.NoError(t, err)
		assert.Len(t, all, 1)

		_, err = s.GetSnapshot(ctx, snapshots.Key{UserID: "u2", Platform: canonical.PlatformHotmart, Month: month})
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestConcurrentBatchesKeepOneRowPerKey(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		month := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
		b := snapshots.NewBuilder(s, snapshots.WithClock(func() time.Time { return start }))

		facts := make([]snapshots.Facts, 200)
		for i := range facts {
			facts[i] = snapshots.Facts{UserID: fmt.Sprintf("user-%03d", i), WasActive: i%2 == 0, HadLogin: true, LoginCount: i % 7}
		}

		var wg sync.WaitGroup
		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := b.BuildBatch(ctx, month, canonical.PlatformDiscord, facts, snapshots.Origin{Source: snapshots.SourceCron})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		rows, err := s.ListSnapshots(ctx, snapshots.Filter{Platform: canonical.PlatformDiscord})
		require.NoError(t, err)
		assert.Len(t, rows, 200)

		active, err := s.ListSnapshots(ctx, snapshots.Filter{Platform: canonical.PlatformDiscord, ActiveOnly: true})
		require.NoError(t, err)
		assert.Len(t, active, 100)
	})
}

func TestRetentionAggregatesAndCleanup(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		jan := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		apr := jan.AddDate(0, 3, 0)
		b := snapshots.NewBuilder(s, snapshots.WithClock(func() time.Time { return apr }))

		var cohort []snapshots.Facts
		for i := range 5 {
			cohort = append(cohort, snapshots.Facts{UserID: fmt.Sprintf("u%d", i), WasActive: true, HadLogin: true, LoginCount: 2})
		}
		_, err := b.BuildBatch(ctx, jan, canonical.PlatformHotmart, cohort, snapshots.Origin{})
		require.NoError(t, err)
		_, err = b.BuildBatch(ctx, apr, canonical.PlatformHotmart, []snapshots.Facts{
			{UserID: "u0", WasActive: true}, {UserID: "u1", WasActive: true}, {UserID: "u2", WasActive: false},
		}, snapshots.Origin{})
		require.NoError(t, err)

		total, active, err := s.CountRetained(ctx, canonical.PlatformHotmart, jan, apr)
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		assert.Equal(t, 2, active)

		aggs, err := s.AggregateMonths(ctx, canonical.PlatformHotmart, jan, apr)
		require.NoError(t, err)
		require.Len(t, aggs, 2)
		assert.True(t, aggs[0].Month.Equal(jan))
		assert.Equal(t, 5, aggs[0].Users)
		assert.Equal(t, 5, aggs[0].ActiveUsers)
		assert.Equal(t, 10, aggs[0].TotalLogins)
		assert.InDelta(t, 24.0, aggs[0].AvgEngagement, 0.001)

		deleted, err := s.DeleteSnapshotsBefore(ctx, apr)
		require.NoError(t, err)
		assert.Equal(t, 5, deleted)
	})
}

func TestUsers(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		require.NoError(t, s.AddUsers(ctx,
			&canonical.User{ID: "old", Email: "dup@x.com", Name: "Old", CreatedAt: start,
				PlatformIDs: map[canonical.Platform]string{canonical.PlatformHotmart: "hm-1"}},
			&canonical.User{ID: "new", Email: "dup@x.com", Name: "New", CreatedAt: start.Add(time.Hour)},
		))

		n, err := s.CountByEmail(ctx, "DUP@x.com")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		u, err := s.FindByEmail(ctx, "dup@x.com")
		require.NoError(t, err)
		require.NotNil(t, u)
		assert.Equal(t, "old", u.ID)
		assert.Equal(t, "hm-1", u.PlatformID(canonical.PlatformHotmart))

		none, err := s.FindByEmail(ctx, "nobody@x.com")
		require.NoError(t, err)
		assert.Nil(t, none)

		later := start.Add(2 * time.Hour)
		u, outcome, err := s.Apply(ctx, canonical.Record{Email: "fresh@x.com", Name: "Fresh", Platform: canonical.PlatformDiscord, PlatformID: "d-1"}, later, nil)
		require.NoError(t, err)
		assert.Equal(t, canonical.Added, outcome)

		_, outcome, err = s.Apply(ctx, canonical.Record{Email: "fresh@x.com", Platform: canonical.PlatformDiscord, PlatformID: "d-1"}, later, nil)
		require.NoError(t, err)
		assert.Equal(t, canonical.Unchanged, outcome)

		_, outcome, err = s.Apply(ctx, canonical.Record{Email: "fresh@x.com", Platform: canonical.PlatformDiscord, PlatformID: "d-2"}, later, nil)
		require.NoError(t, err)
		assert.Equal(t, canonical.Updated, outcome)

		got, err := s.FindByEmail(ctx, "fresh@x.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		assert.Equal(t, "d-2", got.PlatformID(canonical.PlatformDiscord))
	})
}
