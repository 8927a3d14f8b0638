package syncrun

import (
	"context"
	"time"

	"github.com/agentstation/utc"
	"github.com/google/uuid"

	"github.com/agentstation/syncledger/pkg/errors"
	"github.com/agentstation/syncledger/pkg/logging"
)

// Service drives run lifecycles against a Store.
type Service struct {
	store Store
	now   func() time.Time
	newID func() string
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator sets the generator used for run ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewService creates a Service backed by store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		now:   func() time.Time { return utc.Now().Time },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates a pending run.
func (s *Service) Start(ctx context.Context, typ Type, trigger Trigger) (*SyncRun, error) {
	run, err := New(s.newID(), typ, trigger, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, errors.WrapResource("create", "sync_run", run.ID, err)
	}

	logging.FromContext(ctx).Info().
		Str("sync_run_id", run.ID).
		Str("type", string(typ)).
		Str("trigger", string(trigger.Kind)).
		Msg("Sync run started")
	return run, nil
}

// Get returns a run by id.
func (s *Service) Get(ctx context.Context, id string) (*SyncRun, error) {
	return s.store.GetRun(ctx, id)
}

// List returns runs matching f, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]*SyncRun, error) {
	if f.Type != "" && !f.Type.IsValid() {
		return nil, errors.NewValidationError("type", f.Type, "unknown sync type")
	}
	if f.Status != "" && !f.Status.IsValid() {
		return nil, errors.NewValidationError("status", f.Status, "unknown status")
	}
	return s.store.ListRuns(ctx, f)
}

// RecordBatch adds the stats of a processed batch. A batch that was in
// flight when the run was cancelled is still counted.
func (s *Service) RecordBatch(ctx context.Context, id string, partial Stats) (*SyncRun, error) {
	if err := partial.validate(); err != nil {
		return nil, err
	}
	run, err := s.store.IncrementRunStats(ctx, id, partial)
	if errors.Is(err, ErrNotActive) {
		return nil, s.rejected(ctx, id, StatusRunning)
	}
	return run, err
}

// AddConflict attaches a conflict to a run that is active or was cancelled
// mid-batch.
func (s *Service) AddConflict(ctx context.Context, id, conflictID string) error {
	err := s.store.AttachConflict(ctx, id, conflictID)
	if errors.Is(err, ErrNotActive) {
		current, gerr := s.store.GetRun(ctx, id)
		if gerr != nil {
			return gerr
		}
		return current.transitionError(current.Status)
	}
	return err
}

// Complete finishes a run successfully.
func (s *Service) Complete(ctx context.Context, id string, final Stats, override *Metrics) (*SyncRun, error) {
	return s.finish(ctx, id, StatusCompleted, func(run *SyncRun) error {
		return run.Complete(s.now(), final, override)
	})
}

// Fail finishes a run with an error message recorded in its error log.
func (s *Service) Fail(ctx context.Context, id, message string, partial *Stats) (*SyncRun, error) {
	return s.finish(ctx, id, StatusFailed, func(run *SyncRun) error {
		return run.Fail(s.now(), message, partial)
	})
}

// Cancel finishes a run on request.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*SyncRun, error) {
	return s.finish(ctx, id, StatusCancelled, func(run *SyncRun) error {
		return run.Cancel(s.now(), reason)
	})
}

// IsCancelled reports whether the run was cancelled. The orchestrator checks
// it between batches.
func (s *Service) IsCancelled(ctx context.Context, id string) (bool, error) {
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return false, err
	}
	return run.Status == StatusCancelled, nil
}

func (s *Service) finish(ctx context.Context, id string, to Status, apply func(*SyncRun) error) (*SyncRun, error) {
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := apply(run); err != nil {
		return nil, err
	}
	if err := s.store.FinishRun(ctx, run); err != nil {
		if errors.Is(err, ErrNotActive) {
			return nil, s.rejected(ctx, id, to)
		}
		return nil, errors.WrapResource("update", "sync_run", id, err)
	}

	// Reload so counters and metrics merged by the store are reported.
	finished, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}

	event := logging.FromContext(ctx).Info()
	if to == StatusFailed {
		event = logging.FromContext(ctx).Warn()
	}
	event.
		Str("sync_run_id", finished.ID).
		Str("status", string(finished.Status)).
		Int("total", finished.Stats.Total).
		Int("conflicts", finished.Stats.Conflicts).
		Int("errors", finished.Stats.Errors).
		Float64("duration_seconds", finished.Duration().Seconds()).
		Msg("Sync run finished")
	return finished, nil
}

// rejected reloads the run after a guarded write lost the race and reports
// the transition the caller attempted.
func (s *Service) rejected(ctx context.Context, id string, to Status) error {
	current, err := s.store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	return errors.NewTransitionError("sync_run", id, string(current.Status), string(to))
}
