// Package syncrun tracks the lifecycle of batch reconciliation runs: one
// SyncRun per execution, with accumulated stats, derived throughput metrics
// and the conflicts detected while it was running.
package syncrun

import (
	"fmt"
	"strings"
	"time"

	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/errors"
)

// Type is the kind of batch a run reconciles.
type Type string

// Run types. Platform runs carry that platform's records; generic runs carry
// records from any platform.
const (
	TypeHotmart   Type = "hotmart"
	TypeCursEduca Type = "curseduca"
	TypeDiscord   Type = "discord"
	TypeGeneric   Type = "generic"
)

// IsValid reports whether t is a known run type.
func (t Type) IsValid() bool {
	switch t {
	case TypeHotmart, TypeCursEduca, TypeDiscord, TypeGeneric:
		return true
	}
	return false
}

// Platform returns the platform a run type syncs, or "" for generic runs.
func (t Type) Platform() canonical.Platform {
	if t == TypeGeneric {
		return ""
	}
	return canonical.Platform(t)
}

// ParseType parses a run type case-insensitively.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("unknown sync type %q: must be one of hotmart, curseduca, discord, generic", s)
	}
	return t, nil
}

// Status is the lifecycle state of a run.
type Status string

// Run statuses.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Accumulating reports whether a run in status s still takes batch counts and
// conflicts. A cancelled run does, so the batch in flight when it was
// cancelled is not lost.
func (s Status) Accumulating() bool {
	return s == StatusPending || s == StatusRunning || s == StatusCancelled
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// TriggerKind says what started a run.
type TriggerKind string

// Trigger kinds.
const (
	TriggerManual  TriggerKind = "MANUAL"
	TriggerCron    TriggerKind = "CRON"
	TriggerWebhook TriggerKind = "WEBHOOK"
)

// Trigger records who or what started a run.
type Trigger struct {
	Kind    TriggerKind `json:"kind" yaml:"kind"`
	ActorID string      `json:"actor_id,omitempty" yaml:"actor_id,omitempty"`
}

// Stats are the record counters of a run.
type Stats struct {
	Total     int `json:"total" yaml:"total"`
	Added     int `json:"added" yaml:"added"`
	Updated   int `json:"updated" yaml:"updated"`
	Conflicts int `json:"conflicts" yaml:"conflicts"`
	Errors    int `json:"errors" yaml:"errors"`
}

// Add returns the field-wise sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Total:     s.Total + o.Total,
		Added:     s.Added + o.Added,
		Updated:   s.Updated + o.Updated,
		Conflicts: s.Conflicts + o.Conflicts,
		Errors:    s.Errors + o.Errors,
	}
}

// Max returns the field-wise maximum of s and o. Final stats handed to
// Complete and Fail are cumulative totals, so merging by max never counts a
// record twice and never loses counts accumulated by RecordBatch.
func (s Stats) Max(o Stats) Stats {
	return Stats{
		Total:     max(s.Total, o.Total),
		Added:     max(s.Added, o.Added),
		Updated:   max(s.Updated, o.Updated),
		Conflicts: max(s.Conflicts, o.Conflicts),
		Errors:    max(s.Errors, o.Errors),
	}
}

func (s Stats) validate() error {
	if s.Total < 0 || s.Added < 0 || s.Updated < 0 || s.Conflicts < 0 || s.Errors < 0 {
		return errors.NewValidationError("stats", s, "counters must not be negative")
	}
	return nil
}

// Metrics are derived when a run reaches a terminal state.
type Metrics struct {
	DurationSeconds  float64 `json:"duration_seconds" yaml:"duration_seconds"`
	RecordsPerSecond float64 `json:"records_per_second" yaml:"records_per_second"`
	AvgMsPerRecord   float64 `json:"avg_ms_per_record" yaml:"avg_ms_per_record"`

	// Measured is set when the caller supplied throughput; stores keep it
	// instead of deriving it from merged counters.
	Measured bool `json:"-" yaml:"-"`
}

// RunError is one entry of a run's error log.
type RunError struct {
	At      time.Time `json:"at" yaml:"at"`
	Message string    `json:"message" yaml:"message"`
}

// SyncRun is one execution of a batch reconciliation.
type SyncRun struct {
	ID           string     `json:"id" yaml:"id"`
	Type         Type       `json:"type" yaml:"type"`
	TriggeredBy  Trigger    `json:"triggered_by" yaml:"triggered_by"`
	Status       Status     `json:"status" yaml:"status"`
	StartedAt    time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Stats        Stats      `json:"stats" yaml:"stats"`
	Metrics      *Metrics   `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	ConflictIDs  []string   `json:"conflict_ids,omitempty" yaml:"conflict_ids,omitempty"`
	ErrorLog     []RunError `json:"error_log,omitempty" yaml:"error_log,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty" yaml:"cancel_reason,omitempty"`
}

// New creates a pending run.
func New(id string, typ Type, trigger Trigger, now time.Time) (*SyncRun, error) {
	if !typ.IsValid() {
		return nil, errors.NewValidationError("type", typ, "unknown sync type")
	}
	switch trigger.Kind {
	case TriggerManual, TriggerCron, TriggerWebhook:
	default:
		return nil, errors.NewValidationError("triggered_by.kind", trigger.Kind, "must be MANUAL, CRON or WEBHOOK")
	}
	return &SyncRun{
		ID:          id,
		Type:        typ,
		TriggeredBy: trigger,
		Status:      StatusPending,
		StartedAt:   now,
	}, nil
}

// IsTerminal reports whether the run has completed, failed or been cancelled.
func (r *SyncRun) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// RecordBatch accumulates stats for processed records and marks a pending
// run as running. A cancelled run keeps its status and has its metrics
// re-derived from the new totals.
func (r *SyncRun) RecordBatch(partial Stats) error {
	if !r.Status.Accumulating() {
		return r.transitionError(StatusRunning)
	}
	if err := partial.validate(); err != nil {
		return err
	}
	r.Stats = r.Stats.Add(partial)
	if r.Status == StatusCancelled {
		r.RefreshMetrics()
		return nil
	}
	r.Status = StatusRunning
	return nil
}

// AddConflict attaches a conflict detected during the run.
func (r *SyncRun) AddConflict(conflictID string) error {
	if !r.Status.Accumulating() {
		return r.transitionError(r.Status)
	}
	r.ConflictIDs = append(r.ConflictIDs, conflictID)
	r.Stats.Conflicts++
	return nil
}

// RefreshMetrics re-derives the metrics of a finished run from its current
// counters. Measured throughput is kept and failed runs report none.
func (r *SyncRun) RefreshMetrics() {
	if r.CompletedAt == nil {
		return
	}
	if r.Metrics != nil && r.Metrics.Measured {
		return
	}
	r.Metrics = r.deriveMetrics(r.Status != StatusFailed)
}

// Complete finishes the run successfully. Metrics are derived from the
// elapsed time; a non-zero throughput in override replaces the derived value.
func (r *SyncRun) Complete(now time.Time, final Stats, override *Metrics) error {
	if r.IsTerminal() {
		return r.transitionError(StatusCompleted)
	}
	if err := final.validate(); err != nil {
		return err
	}
	r.finish(StatusCompleted, now, final)
	m := r.deriveMetrics(true)
	if override != nil {
		if override.RecordsPerSecond > 0 {
			m.RecordsPerSecond = override.RecordsPerSecond
		}
		if override.AvgMsPerRecord > 0 {
			m.AvgMsPerRecord = override.AvgMsPerRecord
		}
		m.Measured = override.RecordsPerSecond > 0 || override.AvgMsPerRecord > 0
	}
	r.Metrics = m
	return nil
}

// Fail finishes the run with an error. Throughput is reported as zero.
func (r *SyncRun) Fail(now time.Time, message string, partial *Stats) error {
	if r.IsTerminal() {
		return r.transitionError(StatusFailed)
	}
	final := Stats{}
	if partial != nil {
		if err := partial.validate(); err != nil {
			return err
		}
		final = *partial
	}
	r.finish(StatusFailed, now, final)
	r.ErrorLog = append(r.ErrorLog, RunError{At: now, Message: message})
	r.Metrics = r.deriveMetrics(false)
	return nil
}

// Cancel finishes the run on request, keeping the stats accumulated so far.
func (r *SyncRun) Cancel(now time.Time, reason string) error {
	if r.IsTerminal() {
		return r.transitionError(StatusCancelled)
	}
	r.finish(StatusCancelled, now, Stats{})
	r.CancelReason = reason
	r.Metrics = r.deriveMetrics(true)
	return nil
}

// Duration returns the run's elapsed time, or zero while it is active.
func (r *SyncRun) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	d := r.CompletedAt.Sub(r.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

func (r *SyncRun) finish(status Status, now time.Time, final Stats) {
	if now.Before(r.StartedAt) {
		now = r.StartedAt
	}
	completed := now
	r.CompletedAt = &completed
	r.Status = status
	r.Stats = r.Stats.Max(final)
}

func (r *SyncRun) deriveMetrics(throughput bool) *Metrics {
	seconds := r.Duration().Seconds()
	m := &Metrics{DurationSeconds: seconds}
	if !throughput {
		return m
	}
	if seconds > 0 {
		m.RecordsPerSecond = float64(r.Stats.Total) / seconds
	}
	if r.Stats.Total > 0 {
		m.AvgMsPerRecord = seconds * 1000 / float64(r.Stats.Total)
	}
	return m
}

func (r *SyncRun) transitionError(to Status) error {
	return errors.NewTransitionError("sync_run", r.ID, string(r.Status), string(to))
}
