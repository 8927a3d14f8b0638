package syncledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/syncledger/internal/store/memory"
	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/conflicts"
	"github.com/agentstation/syncledger/pkg/syncrun"
)

var (
	t0     = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	manual = syncrun.Trigger{Kind: syncrun.TriggerManual, ActorID: "admin-1"}
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

// Now advances one second per call so runs have a measurable duration.
func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newLedger(t *testing.T, opts ...Option) (*Ledger, *memory.Store) {
	t.Helper()
	store := memory.New()
	c := &clock{now: t0}
	l, err := New(store, append([]Option{WithClock(c.Now)}, opts...)...)
	require.NoError(t, err)
	return l, store
}

// funcSource adapts a function to BatchSource.
type funcSource func(ctx context.Context) ([]canonical.Record, error)

func (f funcSource) Next(ctx context.Context) ([]canonical.Record, error) { return f(ctx) }

func hotmart(email, name, id string) canonical.Record {
	return canonical.Record{Email: email, Name: name, Platform: canonical.PlatformHotmart, PlatformID: id}
}

func TestSyncCleanRun(t *testing.T) {
	ctx := context.Background()
	l, store := newLedger(t, WithBatchSize(2))

	var applied []canonical.Outcome
	var finished *syncrun.SyncRun
	l.OnRecordApplied(func(_ *canonical.User, o canonical.Outcome) { applied = append(applied, o) })
	l.OnRunFinished(func(r *syncrun.SyncRun) { finished = r })

	run, err := l.Sync(ctx, syncrun.TypeHotmart, manual, l.Records([]canonical.Record{
		hotmart("ana@x.com", "Ana", "h1"),
		hotmart("bia@x.com", "Bia", "h2"),
		hotmart("caio@x.com", "Caio", "h3"),
	}))
	require.NoError(t, err)

	assert.Equal(t, syncrun.StatusCompleted, run.Status)
	assert.Equal(t, syncrun.Stats{Total: 3, Added: 3}, run.Stats)
	require.NotNil(t, run.Metrics)
	assert.Greater(t, run.Metrics.DurationSeconds, 0.0)
	assert.Greater(t, run.Metrics.RecordsPerSecond, 0.0)
	assert.Len(t, applied, 3)
	require.NotNil(t, finished)
	assert.Equal(t, run.ID, finished.ID)

	n, err := store.CountByEmail(ctx, "bia@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSyncUpdatesExistingUsers(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	_, err := l.Sync(ctx, syncrun.TypeHotmart, manual, l.Records([]canonical.Record{hotmart("ana@x.com", "Ana", "h1")}))
	require.NoError(t, err)

	rec := hotmart("ana@x.com", "Ana Souza", "h1")
	run, err := l.Sync(ctx, syncrun.TypeHotmart, manual, l.Records([]canonical.Record{rec, rec}))
	require.NoError(t, err)
	assert.Equal(t, syncrun.Stats{Total: 2, Updated: 1}, run.Stats)
}

func TestSyncHoldsBackBlockingConflicts(t *testing.T) {
	ctx := context.Background()
	l, store := newLedger(t)
	require.NoError(t, store.AddUsers(ctx, &canonical.User{
		ID: "u1", Email: "a@x.com", Name: "Ana", ClassID: "2024-A", CreatedAt: t0,
		PlatformIDs: map[canonical.Platform]string{canonical.PlatformHotmart: "h-123"},
	}))

	var detected []*conflicts.Conflict
	l.OnConflictDetected(func(c *conflicts.Conflict) { detected = append(detected, c) })

	run, err := l.Sync(ctx, syncrun.TypeHotmart, manual, l.Records([]canonical.Record{
		hotmart("a@x.com", "Ana", "h-999"),
	}))
	require.NoError(t, err)

	assert.Equal(t, syncrun.StatusCompleted, run.Status)
	assert.Equal(t, syncrun.Stats{Total: 1, Conflicts: 1}, run.Stats)
	require.Len(t, detected, 1)
	assert.Equal(t, conflicts.TypeDifferentIDs, detected[0].Type)
	assert.Equal(t, []string{detected[0].ID}, run.ConflictIDs)

	u, err := store.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "h-123", u.PlatformID(canonical.PlatformHotmart), "blocked record must not be applied")
}

func TestSyncAppliesNonBlockingConflicts(t *testing.T) {
	ctx := context.Background()
	l, store := newLedger(t)
	require.NoError(t, store.AddUsers(ctx, &canonical.User{ID: "u1", Email: "a@x.com", Name: "Ana", ClassID: "2024-A", CreatedAt: t0}))

	rec := hotmart("a@x.com", "Ana", "h-1")
	rec.ClassID = "2025-B"
	run, err := l.Sync(ctx, syncrun.TypeHotmart, manual, l.Records([]canonical.Record{rec}))
	require.NoError(t, err)

	assert.Equal(t, syncrun.Stats{Total: 1, Updated: 1, Conflicts: 1}, run.Stats)
	u, err := store.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "2025-B", u.ClassID)
}

func TestSyncMissingEmail(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	run, err := l.Sync(ctx, syncrun.TypeDiscord, manual, l.Records([]canonical.Record{
		{Name: "No Mail", Platform: canonical.PlatformDiscord, PlatformID: "d1"},
	}))
	require.NoError(t, err)
	assert.Equal(t, syncrun.Stats{Total: 1, Conflicts: 1}, run.Stats)

	c, err := l.Conflicts().Get(ctx, run.ConflictIDs[0])
	require.NoError(t, err)
	assert.Equal(t, conflicts.TypeMissingData, c.Type)
	assert.Equal(t, "email", c.Data.Field)
}

func TestSyncAutoResolve(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, WithAutoResolve(true))

	run, err := l.Sync(ctx, syncrun.TypeHotmart, manual, l.Records([]canonical.Record{
		hotmart("nameless@x.com", "", "h1"),
	}))
	require.NoError(t, err)
	require.Len(t, run.ConflictIDs, 1)

	c, err := l.Conflicts().Get(ctx, run.ConflictIDs[0])
	require.NoError(t, err)
	assert.Equal(t, conflicts.StatusAutoResolved, c.Status)
}

func TestSyncSourceFailure(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	calls := 0
	src := funcSource(func(context.Context) ([]canonical.Record, error) {
		calls++
		if calls == 1 {
			return []canonical.Record{hotmart("ana@x.com", "Ana", "h1")}, nil
		}
		return nil, errors.New("upstream returned 503")
	})

	run, err := l.Sync(ctx, syncrun.TypeHotmart, manual, src)
	require.NoError(t, err)
	assert.Equal(t, syncrun.StatusFailed, run.Status)
	assert.Equal(t, 1, run.Stats.Total)
	assert.Equal(t, 1, run.Stats.Added)
	require.Len(t, run.ErrorLog, 1)
	assert.Contains(t, run.ErrorLog[0].Message, "upstream returned 503")
	assert.Zero(t, run.Metrics.RecordsPerSecond)
}

func TestSyncContextCancelled(t *testing.T) {
	l, _ := newLedger(t)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	src := funcSource(func(context.Context) ([]canonical.Record, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return []canonical.Record{hotmart("ana@x.com", "Ana", "h1")}, nil
	})

	run, err := l.Sync(ctx, syncrun.TypeHotmart, manual, src)
	require.NoError(t, err)
	assert.Equal(t, syncrun.StatusCancelled, run.Status)
	assert.Contains(t, run.CancelReason, "context canceled")
}

func TestSyncCancelledElsewhere(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	var runID string
	l.OnConflictDetected(func(c *conflicts.Conflict) { runID = c.SyncRunID })

	calls := 0
	src := funcSource(func(ctx context.Context) ([]canonical.Record, error) {
		calls++
		if calls == 1 {
			// No name: a conflict reveals the run id to the test.
			return []canonical.Record{hotmart("ana@x.com", "", "h1")}, nil
		}
		_, err := l.Runs().Cancel(ctx, runID, "operator stop")
		require.NoError(t, err)
		return []canonical.Record{hotmart("bia@x.com", "Bia", "h2")}, nil
	})

	run, err := l.Sync(ctx, syncrun.TypeHotmart, manual, src)
	require.NoError(t, err)
	assert.Equal(t, syncrun.StatusCancelled, run.Status)
	assert.Equal(t, "operator stop", run.CancelReason)
	assert.Equal(t, 1, run.Stats.Total)
}

func TestSyncCancelledMidBatchKeepsBatch(t *testing.T) {
	ctx := context.Background()
	l, store := newLedger(t, WithBatchSize(3))

	var once sync.Once
	l.OnRecordApplied(func(*canonical.User, canonical.Outcome) {
		once.Do(func() {
			runs, err := l.Runs().List(ctx, syncrun.Filter{})
			require.NoError(t, err)
			require.Len(t, runs, 1)
			_, err = l.Runs().Cancel(ctx, runs[0].ID, "operator stop")
			require.NoError(t, err)
		})
	})

	batches := 0
	records := l.Records([]canonical.Record{
		hotmart("a@x.com", "Ana", "h1"),
		hotmart("bad", "Bad", "h2"),
		hotmart("c@x.com", "Caio", "h3"),
		hotmart("d@x.com", "Davi", "h4"),
	})
	src := funcSource(func(ctx context.Context) ([]canonical.Record, error) {
		batches++
		return records.Next(ctx)
	})

	run, err := l.Sync(ctx, syncrun.TypeHotmart, manual, src)
	require.NoError(t, err)

	assert.Equal(t, syncrun.StatusCancelled, run.Status)
	assert.Equal(t, "operator stop", run.CancelReason)
	assert.Equal(t, 1, batches, "no batch is fetched after the cancel")
	assert.Equal(t, 3, run.Stats.Total)
	assert.Equal(t, 2, run.Stats.Added)
	assert.Equal(t, 1, run.Stats.Conflicts)
	require.Len(t, run.ConflictIDs, 1)

	stored, err := store.GetConflict(ctx, run.ConflictIDs[0])
	require.NoError(t, err)
	assert.Equal(t, run.ID, stored.SyncRunID)
	all, err := store.ListConflicts(ctx, conflicts.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	third, err := store.FindByEmail(ctx, "c@x.com")
	require.NoError(t, err)
	require.NotNil(t, third)
	fourth, err := store.FindByEmail(ctx, "d@x.com")
	require.NoError(t, err)
	assert.Nil(t, fourth)

	require.NotNil(t, run.Metrics)
	assert.InDelta(t, float64(run.Stats.Total)/run.Metrics.DurationSeconds, run.Metrics.RecordsPerSecond, 1e-9)
}

func TestSyncUsesIDGenerator(t *testing.T) {
	ctx := context.Background()
	n := 0
	l, store := newLedger(t, WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}))

	run, err := l.Sync(ctx, syncrun.TypeHotmart, manual, l.Records([]canonical.Record{
		hotmart("ana@x.com", "Ana", "h1"),
	}))
	require.NoError(t, err)
	assert.Equal(t, "id-1", run.ID)

	user, err := store.FindByEmail(ctx, "ana@x.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "id-2", user.ID)
}

func TestSyncRejectsBadInput(t *testing.T) {
	l, _ := newLedger(t)
	_, err := l.Sync(context.Background(), "myspace", manual, l.Records(nil))
	assert.Error(t, err)

	_, err = l.Sync(context.Background(), syncrun.TypeHotmart, manual, nil)
	assert.Error(t, err)
}

func TestSliceSource(t *testing.T) {
	ctx := context.Background()
	src := NewSliceSource([]canonical.Record{{Email: "a"}, {Email: "b"}, {Email: "c"}}, 2)

	first, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, first, 2)
	second, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, second, 1)
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	store := memory.New()
	for _, opt := range []Option{WithMinConfidence(101), WithBatchSize(0), WithStaleConflictDays(-1), WithClock(nil)} {
		_, err := New(store, opt)
		assert.Error(t, err)
	}
}
