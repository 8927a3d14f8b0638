package syncrun_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/syncledger/internal/store/memory"
	"github.com/agentstation/syncledger/pkg/errors"
	"github.com/agentstation/syncledger/pkg/syncrun"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newService(t *testing.T) (*syncrun.Service, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	return syncrun.NewService(memory.New(), syncrun.WithClock(clock.Now)), clock
}

func TestServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, clock := newService(t)

	run, err := svc.Start(ctx, syncrun.TypeCursEduca, syncrun.Trigger{Kind: syncrun.TriggerManual, ActorID: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, syncrun.StatusPending, run.Status)
	assert.NotEmpty(t, run.ID)

	run, err = svc.RecordBatch(ctx, run.ID, syncrun.Stats{Total: 30, Added: 20, Updated: 10})
	require.NoError(t, err)
	assert.Equal(t, syncrun.StatusRunning, run.Status)

	require.NoError(t, svc.AddConflict(ctx, run.ID, "conflict-1"))
	require.NoError(t, svc.AddConflict(ctx, run.ID, "conflict-2"))

	clock.Advance(15 * time.Second)
	run, err = svc.Complete(ctx, run.ID, syncrun.Stats{Total: 30, Added: 20, Updated: 10}, nil)
	require.NoError(t, err)

	assert.Equal(t, syncrun.StatusCompleted, run.Status)
	assert.Equal(t, 2, run.Stats.Conflicts)
	assert.Equal(t, []string{"conflict-1", "conflict-2"}, run.ConflictIDs)
	require.NotNil(t, run.Metrics)
	assert.Equal(t, 15.0, run.Metrics.DurationSeconds)
	assert.InDelta(t, 2.0, run.Metrics.RecordsPerSecond, 1e-9)
	assert.InDelta(t, 500.0, run.Metrics.AvgMsPerRecord, 1e-9)
}

func TestServiceSecondTerminalCallRejected(t *testing.T) {
	ctx := context.Background()
	svc, clock := newService(t)

	run, err := svc.Start(ctx, syncrun.TypeHotmart, syncrun.Trigger{Kind: syncrun.TriggerCron})
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = svc.Fail(ctx, run.ID, "boom", nil)
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = svc.Complete(ctx, run.ID, syncrun.Stats{Total: 100}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsAlreadyTerminal(err))

	_, err = svc.Cancel(ctx, run.ID, "too late")
	assert.True(t, errors.IsAlreadyTerminal(err))

	_, err = svc.RecordBatch(ctx, run.ID, syncrun.Stats{Total: 1})
	assert.True(t, errors.IsAlreadyTerminal(err))

	err = svc.AddConflict(ctx, run.ID, "late-conflict")
	assert.True(t, errors.IsAlreadyTerminal(err))

	got, err := svc.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, syncrun.StatusFailed, got.Status)
	assert.Zero(t, got.Stats.Total)
	assert.Equal(t, 1.0, got.Metrics.DurationSeconds)
	require.Len(t, got.ErrorLog, 1)
}

func TestServiceConcurrentFinishOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	run, err := svc.Start(ctx, syncrun.TypeGeneric, syncrun.Trigger{Kind: syncrun.TriggerWebhook})
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = svc.Complete(ctx, run.ID, syncrun.Stats{Total: 10}, nil)
			} else {
				_, err = svc.Cancel(ctx, run.ID, "race")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.IsAlreadyTerminal(err), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)
}

func TestServiceCancelAndIsCancelled(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	run, err := svc.Start(ctx, syncrun.TypeDiscord, syncrun.Trigger{Kind: syncrun.TriggerManual})
	require.NoError(t, err)

	cancelled, err := svc.IsCancelled(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)

	_, err = svc.Cancel(ctx, run.ID, "maintenance")
	require.NoError(t, err)

	cancelled, err = svc.IsCancelled(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestServiceCancelledRunCountsInFlightBatch(t *testing.T) {
	ctx := context.Background()
	svc, clock := newService(t)
	run, err := svc.Start(ctx, syncrun.TypeHotmart, syncrun.Trigger{Kind: syncrun.TriggerManual})
	require.NoError(t, err)

	clock.Advance(4 * time.Second)
	cancelled, err := svc.Cancel(ctx, run.ID, "operator stop")
	require.NoError(t, err)
	assert.Zero(t, cancelled.Metrics.RecordsPerSecond)

	require.NoError(t, svc.AddConflict(ctx, run.ID, "conflict-1"))
	got, err := svc.RecordBatch(ctx, run.ID, syncrun.Stats{Total: 8, Added: 7})
	require.NoError(t, err)

	assert.Equal(t, syncrun.StatusCancelled, got.Status)
	assert.Equal(t, syncrun.Stats{Total: 8, Added: 7, Conflicts: 1}, got.Stats)
	assert.Equal(t, []string{"conflict-1"}, got.ConflictIDs)
	assert.InDelta(t, 2.0, got.Metrics.RecordsPerSecond, 1e-9)

	// A cancelled run still cannot be finished again.
	_, err = svc.Complete(ctx, run.ID, got.Stats, nil)
	assert.True(t, errors.IsAlreadyTerminal(err))
}

func TestServiceList(t *testing.T) {
	ctx := context.Background()
	svc, clock := newService(t)

	var ids []string
	for _, typ := range []syncrun.Type{syncrun.TypeHotmart, syncrun.TypeDiscord, syncrun.TypeHotmart} {
		run, err := svc.Start(ctx, typ, syncrun.Trigger{Kind: syncrun.TriggerCron})
		require.NoError(t, err)
		ids = append(ids, run.ID)
		clock.Advance(time.Minute)
	}

	runs, err := svc.List(ctx, syncrun.Filter{Type: syncrun.TypeHotmart})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID, "newest first")

	runs, err = svc.List(ctx, syncrun.Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, ids[1], runs[0].ID)

	_, err = svc.List(ctx, syncrun.Filter{Status: "sleeping"})
	assert.True(t, errors.IsValidationError(err))

	_, err = svc.Get(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))
}
