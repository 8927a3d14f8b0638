package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/syncledger/pkg/syncrun"
)

var start = time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)

func newRun(t *testing.T, s *Store, id string) *syncrun.SyncRun {
	t.Helper()
	run, err := syncrun.New(id, syncrun.TypeHotmart, syncrun.Trigger{Kind: syncrun.TriggerCron}, start)
	require.NoError(t, err)
	require.NoError(t, s.CreateRun(context.Background(), run))
	return run
}

func TestFinishRunDerivesMetricsFromMergedCounters(t *testing.T) {
	ctx := context.Background()
	s := New()
	run := newRun(t, s, "run-merge")

	stale := *run
	_, err := s.IncrementRunStats(ctx, run.ID, syncrun.Stats{Total: 8, Added: 8})
	require.NoError(t, err)
	require.NoError(t, stale.Complete(start.Add(2*time.Second), syncrun.Stats{Total: 5, Added: 5}, nil))
	require.NoError(t, s.FinishRun(ctx, &stale))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, got.Stats.Total)
	assert.InDelta(t, 4.0, got.Metrics.RecordsPerSecond, 1e-9)
	assert.InDelta(t, 250.0, got.Metrics.AvgMsPerRecord, 1e-9)
}

func TestCancelledRunTakesInFlightBatch(t *testing.T) {
	ctx := context.Background()
	s := New()
	run := newRun(t, s, "run-cancel")

	require.NoError(t, run.Cancel(start.Add(4*time.Second), "operator stop"))
	require.NoError(t, s.FinishRun(ctx, run))

	require.NoError(t, s.AttachConflict(ctx, run.ID, "c-1"))
	got, err := s.IncrementRunStats(ctx, run.ID, syncrun.Stats{Total: 8, Added: 7})
	require.NoError(t, err)
	assert.Equal(t, syncrun.StatusCancelled, got.Status)
	assert.Equal(t, syncrun.Stats{Total: 8, Added: 7, Conflicts: 1}, got.Stats)
	assert.Equal(t, []string{"c-1"}, got.ConflictIDs)
	assert.InDelta(t, 2.0, got.Metrics.RecordsPerSecond, 1e-9)

	assert.ErrorIs(t, s.FinishRun(ctx, run), syncrun.ErrNotActive)
}

func TestCompletedRunRejectsWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	run := newRun(t, s, "run-done")

	require.NoError(t, run.Complete(start.Add(time.Second), syncrun.Stats{Total: 1}, nil))
	require.NoError(t, s.FinishRun(ctx, run))

	_, err := s.IncrementRunStats(ctx, run.ID, syncrun.Stats{Total: 1})
	assert.ErrorIs(t, err, syncrun.ErrNotActive)
	assert.ErrorIs(t, s.AttachConflict(ctx, run.ID, "c-1"), syncrun.ErrNotActive)
}
