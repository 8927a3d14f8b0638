package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/agentstation/syncledger/pkg/errors"
	"github.com/agentstation/syncledger/pkg/syncrun"
)

func cloneRun(r *syncrun.SyncRun) *syncrun.SyncRun {
	c := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	if r.Metrics != nil {
		m := *r.Metrics
		c.Metrics = &m
	}
	c.ConflictIDs = slices.Clone(r.ConflictIDs)
	c.ErrorLog = slices.Clone(r.ErrorLog)
	return &c
}

// CreateRun stores a new run.
func (s *Store) CreateRun(_ context.Context, run *syncrun.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.WrapStore("insert", "sync_runs", errors.ErrAlreadyExists)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

// GetRun returns a run by id.
func (s *Store) GetRun(_ context.Context, id string) (*syncrun.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, errors.NewNotFoundError("sync_run", id)
	}
	return cloneRun(run), nil
}

// ListRuns returns runs matching f, newest first.
func (s *Store) ListRuns(_ context.Context, f syncrun.Filter) ([]*syncrun.SyncRun, error) {
	s.mu.RLock()
	out := make([]*syncrun.SyncRun, 0, len(s.runs))
	for _, run := range s.runs {
		if matchRun(run, f) {
			out = append(out, cloneRun(run))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *syncrun.SyncRun) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return page(out, f.Offset, f.Limit), nil
}

func matchRun(r *syncrun.SyncRun, f syncrun.Filter) bool {
	switch {
	case f.Type != "" && r.Type != f.Type:
		return false
	case f.Status != "" && r.Status != f.Status:
		return false
	}
	return inWindow(r.StartedAt, f.StartedAfter, f.StartedBefore)
}

// IncrementRunStats adds delta to a run that is still accumulating. Pending
// runs become running; cancelled runs keep their status.
func (s *Store) IncrementRunStats(_ context.Context, id string, delta syncrun.Stats) (*syncrun.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, errors.NewNotFoundError("sync_run", id)
	}
	if !run.Status.Accumulating() {
		return nil, syncrun.ErrNotActive
	}
	if err := run.RecordBatch(delta); err != nil {
		return nil, err
	}
	return cloneRun(run), nil
}

// FinishRun writes a terminal run if the stored run is still active.
func (s *Store) FinishRun(_ context.Context, run *syncrun.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.runs[run.ID]
	if !ok {
		return errors.NewNotFoundError("sync_run", run.ID)
	}
	if stored.IsTerminal() {
		return syncrun.ErrNotActive
	}
	next := cloneRun(run)
	next.Stats = stored.Stats.Max(run.Stats)
	next.ConflictIDs = slices.Clone(stored.ConflictIDs)
	next.RefreshMetrics()
	s.runs[run.ID] = next
	return nil
}

// AttachConflict appends a conflict id to a run that is still accumulating.
func (s *Store) AttachConflict(_ context.Context, runID, conflictID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return errors.NewNotFoundError("sync_run", runID)
	}
	if !run.Status.Accumulating() {
		return syncrun.ErrNotActive
	}
	return run.AddConflict(conflictID)
}

func inWindow(t, after, before time.Time) bool {
	if !after.IsZero() && t.Before(after) {
		return false
	}
	if !before.IsZero() && !t.Before(before) {
		return false
	}
	return true
}
