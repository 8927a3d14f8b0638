// Package conflicts holds the conflict ledger: the record of every
// disagreement found between an incoming platform record and the canonical
// user store, and the workflow that resolves them.
package conflicts

import (
	"fmt"
	"time"

	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/errors"
)

// Type classifies a conflict.
type Type string

// Conflict types.
const (
	TypeDuplicateEmail   Type = "DUPLICATE_EMAIL"
	TypeDifferentIDs     Type = "DIFFERENT_IDS"
	TypeMissingData      Type = "MISSING_DATA"
	TypeInvalidData      Type = "INVALID_DATA"
	TypePlatformMismatch Type = "PLATFORM_MISMATCH"
	TypeClassConflict    Type = "CLASS_CONFLICT"
	TypeStatusConflict   Type = "STATUS_CONFLICT"
)

// Types returns every conflict type.
func Types() []Type {
	return []Type{
		TypeDuplicateEmail, TypeDifferentIDs, TypeMissingData, TypeInvalidData,
		TypePlatformMismatch, TypeClassConflict, TypeStatusConflict,
	}
}

// IsValid reports whether t is a known type.
func (t Type) IsValid() bool {
	for _, known := range Types() {
		if t == known {
			return true
		}
	}
	return false
}

// Severity ranks how dangerous a conflict is.
type Severity string

// Severities, lowest first.
const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Severities returns every severity, lowest first.
func Severities() []Severity {
	return []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Status is the workflow state of a conflict.
type Status string

// Conflict statuses. Every status except pending is terminal.
const (
	StatusPending      Status = "PENDING"
	StatusResolved     Status = "RESOLVED"
	StatusIgnored      Status = "IGNORED"
	StatusAutoResolved Status = "AUTO_RESOLVED"
)

// Statuses returns every status.
func Statuses() []Status {
	return []Status{StatusPending, StatusResolved, StatusIgnored, StatusAutoResolved}
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusResolved, StatusIgnored, StatusAutoResolved:
		return true
	}
	return false
}

// IsTerminal reports whether s is a final state.
func (s Status) IsTerminal() bool {
	return s.IsValid() && s != StatusPending
}

// Action is what was (or should be) done about a conflict.
type Action string

// Resolution actions.
const (
	ActionMerged       Action = "MERGED"
	ActionKeptExisting Action = "KEPT_EXISTING"
	ActionUsedNew      Action = "USED_NEW"
	ActionManual       Action = "MANUAL"
	ActionIgnored      Action = "IGNORED"
)

// IsValid reports whether a is a known action.
func (a Action) IsValid() bool {
	switch a {
	case ActionMerged, ActionKeptExisting, ActionUsedNew, ActionManual, ActionIgnored:
		return true
	}
	return false
}

// ParseAction parses a resolution action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.IsValid() {
		return "", errors.NewValidationError("action", s, "must be one of MERGED, KEPT_EXISTING, USED_NEW, MANUAL, IGNORED")
	}
	return a, nil
}

// Data describes the disagreement.
type Data struct {
	Field         string             `json:"field" yaml:"field"`
	ExistingValue any                `json:"existing_value,omitempty" yaml:"existing_value,omitempty"`
	NewValue      any                `json:"new_value,omitempty" yaml:"new_value,omitempty"`
	Platform      canonical.Platform `json:"platform" yaml:"platform"`
	Context       map[string]any     `json:"context,omitempty" yaml:"context,omitempty"`
}

// Suggestion is the detector's recommended resolution.
type Suggestion struct {
	Action     Action `json:"action" yaml:"action"`
	Reason     string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Confidence int    `json:"confidence" yaml:"confidence"`
}

// Resolution records how a conflict left the pending state.
type Resolution struct {
	Action         Action         `json:"action" yaml:"action"`
	ResolvedBy     string         `json:"resolved_by" yaml:"resolved_by"`
	ResolvedAt     time.Time      `json:"resolved_at" yaml:"resolved_at"`
	Notes          string         `json:"notes,omitempty" yaml:"notes,omitempty"`
	AppliedChanges map[string]any `json:"applied_changes,omitempty" yaml:"applied_changes,omitempty"`
}

// Conflict is one entry of the conflict ledger. Conflicts are never deleted.
type Conflict struct {
	ID         string      `json:"id" yaml:"id"`
	Email      string      `json:"email" yaml:"email"`
	UserID     string      `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	SyncRunID  string      `json:"sync_run_id" yaml:"sync_run_id"`
	DetectedAt time.Time   `json:"detected_at" yaml:"detected_at"`
	Type       Type        `json:"type" yaml:"type"`
	Severity   Severity    `json:"severity" yaml:"severity"`
	Data       Data        `json:"data" yaml:"data"`
	Suggested  *Suggestion `json:"suggested,omitempty" yaml:"suggested,omitempty"`
	Status     Status      `json:"status" yaml:"status"`
	Resolution *Resolution `json:"resolution,omitempty" yaml:"resolution,omitempty"`
}

// IsTerminal reports whether the conflict has left the pending state.
func (c *Conflict) IsTerminal() bool {
	return c.Status.IsTerminal()
}

// Validate checks the conflict's invariants. Stores call it before every write.
func (c *Conflict) Validate() error {
	if c.SyncRunID == "" {
		return errors.NewValidationError("sync_run_id", c.SyncRunID, "is required")
	}
	if !c.Type.IsValid() {
		return errors.NewValidationError("type", c.Type, "unknown conflict type")
	}
	if !c.Severity.IsValid() {
		return errors.NewValidationError("severity", c.Severity, "unknown severity")
	}
	if !c.Status.IsValid() {
		return errors.NewValidationError("status", c.Status, "unknown status")
	}
	if s := c.Suggested; s != nil {
		if !s.Action.IsValid() {
			return errors.NewValidationError("suggested.action", s.Action, "unknown action")
		}
		if s.Confidence < 0 || s.Confidence > 100 {
			return errors.NewValidationError("suggested.confidence", s.Confidence, "must be between 0 and 100")
		}
	}

	if c.Status == StatusPending {
		if c.Resolution != nil {
			return errors.NewValidationError("resolution", c.Resolution, "pending conflicts carry no resolution")
		}
		return nil
	}
	if c.Resolution == nil {
		return errors.NewValidationError("resolution", nil, fmt.Sprintf("required when status is %s", c.Status))
	}
	if err := c.Resolution.validate(); err != nil {
		return err
	}
	if (c.Status == StatusIgnored) != (c.Resolution.Action == ActionIgnored) {
		return errors.NewValidationError("resolution.action", c.Resolution.Action, fmt.Sprintf("does not match status %s", c.Status))
	}
	if c.Status == StatusAutoResolved && c.Severity == SeverityCritical {
		return errors.NewValidationError("status", c.Status, "critical conflicts cannot be auto-resolved")
	}
	return nil
}

func (r *Resolution) validate() error {
	if !r.Action.IsValid() {
		return errors.NewValidationError("resolution.action", r.Action, "unknown action")
	}
	if r.ResolvedBy == "" {
		return errors.NewValidationError("resolution.resolved_by", r.ResolvedBy, "is required")
	}
	if r.ResolvedAt.IsZero() {
		return errors.NewValidationError("resolution.resolved_at", r.ResolvedAt, "is required")
	}
	return nil
}

// StatusFor returns the terminal status a manual resolution with action a
// moves a conflict to.
func StatusFor(a Action) Status {
	if a == ActionIgnored {
		return StatusIgnored
	}
	return StatusResolved
}

// transition moves a pending conflict to status with res, leaving c unchanged
// when the move is not allowed.
func (c *Conflict) transition(status Status, res Resolution) error {
	if c.IsTerminal() {
		return errors.NewTransitionError("conflict", c.ID, string(c.Status), string(status))
	}
	next := *c
	next.Status = status
	next.Resolution = &res
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}
