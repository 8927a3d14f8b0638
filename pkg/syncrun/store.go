package syncrun

import (
	"context"
	"time"

	"github.com/agentstation/syncledger/pkg/errors"
)

// ErrNotActive is returned by a Store when a guarded write finds the run in a
// status that no longer takes it.
var ErrNotActive = errors.New("sync run is not active")

// Filter selects runs. Zero fields match everything.
type Filter struct {
	Type          Type
	Status        Status
	StartedAfter  time.Time
	StartedBefore time.Time
	Limit         int
	Offset        int
}

// Store persists sync runs. FinishRun only applies while the stored run is
// pending or running. IncrementRunStats and AttachConflict also apply to a
// cancelled run, which absorbs the batch that was in flight when it was
// cancelled.
type Store interface {
	CreateRun(ctx context.Context, run *SyncRun) error
	GetRun(ctx context.Context, id string) (*SyncRun, error)
	ListRuns(ctx context.Context, f Filter) ([]*SyncRun, error)

	// IncrementRunStats adds delta to the run's counters and marks a pending
	// run running. A cancelled run keeps its status and its metrics are
	// re-derived.
	IncrementRunStats(ctx context.Context, id string, delta Stats) (*SyncRun, error)

	// FinishRun writes a terminal run. Counters are merged with max and,
	// unless throughput was measured, metrics are derived from the merged
	// counters atomically with the write.
	FinishRun(ctx context.Context, run *SyncRun) error

	// AttachConflict appends a conflict id and increments the conflict counter.
	AttachConflict(ctx context.Context, runID, conflictID string) error
}
