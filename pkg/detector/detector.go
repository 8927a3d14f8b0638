// Package detector compares incoming platform records with the canonical
// user store and records the conflicts it finds.
package detector

import (
	"context"
	"fmt"

	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/conflicts"
	"github.com/agentstation/syncledger/pkg/logging"
)

// ConflictRecorder persists newly detected conflicts.
type ConflictRecorder interface {
	Create(ctx context.Context, c *conflicts.Conflict) error
}

// RunAttacher attaches conflicts to the run that detected them.
type RunAttacher interface {
	AddConflict(ctx context.Context, runID, conflictID string) error
}

// Detector runs an ordered list of checks over each record.
type Detector struct {
	users     canonical.Store
	conflicts ConflictRecorder
	runs      RunAttacher
	checks    []Check
}

// Option configures a Detector.
type Option func(*Detector)

// WithChecks replaces the checks the detector runs.
func WithChecks(checks ...Check) Option {
	return func(d *Detector) {
		d.checks = checks
	}
}

// WithPlatformMismatch adds the platform mismatch check after the others.
func WithPlatformMismatch() Option {
	return func(d *Detector) {
		d.checks = append(d.checks, PlatformMismatchCheck)
	}
}

// New creates a Detector.
func New(users canonical.Store, recorder ConflictRecorder, runs RunAttacher, opts ...Option) *Detector {
	d := &Detector{
		users:     users,
		conflicts: recorder,
		runs:      runs,
		checks:    DefaultChecks(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Checks returns the names of the configured checks, in order.
func (d *Detector) Checks() []string {
	names := make([]string, len(d.checks))
	for i, c := range d.checks {
		names[i] = c.Name
	}
	return names
}

// CheckError is a failure of one check on one record.
type CheckError struct {
	Check string
	Err   error
}

func (e CheckError) Error() string {
	return fmt.Sprintf("check %s: %v", e.Check, e.Err)
}

// Result is the outcome of detecting one record.
type Result struct {
	Existing    *canonical.User
	Conflicts   []*conflicts.Conflict
	CheckErrors []CheckError
}

// Blocking reports whether the record must be held back from the canonical
// store: some conflict has no suggestion, or suggests anything other than
// taking the new value or merging.
func (r Result) Blocking() bool {
	for _, c := range r.Conflicts {
		if c.Suggested == nil {
			return true
		}
		switch c.Suggested.Action {
		case conflicts.ActionUsedNew, conflicts.ActionMerged:
		default:
			return true
		}
	}
	return false
}

// Detect runs every check on rec. Every check runs even if an earlier one
// fails or panics; such failures are logged and returned in the result. The
// returned error is reserved for failures to read the canonical store or to
// record a conflict, which the caller treats as fatal for the run.
func (d *Detector) Detect(ctx context.Context, runID string, runPlatform canonical.Platform, rec canonical.Record) (Result, error) {
	in := Input{
		Record:      rec,
		Email:       canonical.NormalizeEmail(rec.Email),
		RunPlatform: runPlatform,
		Users:       d.users,
	}

	var result Result
	if in.Email != "" {
		existing, err := d.users.FindByEmail(ctx, in.Email)
		if err != nil {
			return result, fmt.Errorf("looking up %s: %w", in.Email, err)
		}
		in.Existing = existing
		result.Existing = existing
	}

	logger := logging.FromContext(ctx)
	for _, check := range d.checks {
		found, err := runCheck(ctx, check, in)
		if err != nil {
			logger.Warn().Err(err).Str("check", check.Name).Str("email", in.Email).Msg("Conflict check failed")
			result.CheckErrors = append(result.CheckErrors, CheckError{Check: check.Name, Err: err})
			continue
		}
		for _, c := range found {
			d.fill(c, runID, in)
			if err := d.conflicts.Create(ctx, c); err != nil {
				return result, err
			}
			if err := d.runs.AddConflict(ctx, runID, c.ID); err != nil {
				return result, err
			}
			result.Conflicts = append(result.Conflicts, c)
		}
	}
	return result, nil
}

func (d *Detector) fill(c *conflicts.Conflict, runID string, in Input) {
	c.SyncRunID = runID
	if c.Email == "" {
		c.Email = in.Email
	}
	if c.UserID == "" && in.Existing != nil {
		c.UserID = in.Existing.ID
	}
	if c.Data.Platform == "" {
		c.Data.Platform = in.Record.Platform
	}
}

func runCheck(ctx context.Context, check Check, in Input) (found []*conflicts.Conflict, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return check.Run(ctx, in)
}
