package detector

import (
	"context"
	"regexp"
	"strings"

	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/conflicts"
)

// Input is what a check sees for one incoming record.
type Input struct {
	Record canonical.Record

	// Email is the record's normalized email.
	Email string

	// Existing is the oldest canonical user with the same email, or nil.
	Existing *canonical.User

	// RunPlatform is the platform of the run, empty for generic runs.
	RunPlatform canonical.Platform

	// Users is the canonical store, for checks that need to query it.
	Users canonical.Store
}

// CheckFunc inspects one record and returns the conflicts it finds.
type CheckFunc func(ctx context.Context, in Input) ([]*conflicts.Conflict, error)

// Check is a named CheckFunc.
type Check struct {
	Name string
	Run  CheckFunc
}

// DefaultChecks returns the standard checks in evaluation order.
func DefaultChecks() []Check {
	return []Check{
		{Name: "duplicate_email", Run: DuplicateEmail},
		{Name: "different_ids", Run: DifferentIDs},
		{Name: "missing_data", Run: MissingData},
		{Name: "invalid_data", Run: InvalidData},
		{Name: "class_conflict", Run: ClassConflict},
	}
}

// PlatformMismatchCheck flags records whose platform differs from the run's.
// It is not part of DefaultChecks.
var PlatformMismatchCheck = Check{Name: "platform_mismatch", Run: PlatformMismatch}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether email looks like local@domain.tld.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// DuplicateEmail flags an email shared by more than one canonical user.
func DuplicateEmail(ctx context.Context, in Input) ([]*conflicts.Conflict, error) {
	if in.Email == "" || in.Users == nil {
		return nil, nil
	}
	n, err := in.Users.CountByEmail(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if n <= 1 {
		return nil, nil
	}
	return one(&conflicts.Conflict{
		Type:     conflicts.TypeDuplicateEmail,
		Severity: conflicts.SeverityHigh,
		Data: conflicts.Data{
			Field:    "email",
			NewValue: in.Email,
			Context:  map[string]any{"matching_users": n},
		},
	}), nil
}

// DifferentIDs flags an existing user whose identifier on the record's
// platform differs from the incoming one.
func DifferentIDs(_ context.Context, in Input) ([]*conflicts.Conflict, error) {
	if in.Existing == nil || in.Record.PlatformID == "" {
		return nil, nil
	}
	existing := in.Existing.PlatformID(in.Record.Platform)
	if existing == "" || existing == in.Record.PlatformID {
		return nil, nil
	}
	return one(&conflicts.Conflict{
		Type:     conflicts.TypeDifferentIDs,
		Severity: conflicts.SeverityCritical,
		Data: conflicts.Data{
			Field:         "platform_id",
			ExistingValue: existing,
			NewValue:      in.Record.PlatformID,
		},
		Suggested: &conflicts.Suggestion{
			Action:     conflicts.ActionManual,
			Reason:     "platform identifiers disagree",
			Confidence: 0,
		},
	}), nil
}

// MissingData flags a record without an email or a name.
func MissingData(_ context.Context, in Input) ([]*conflicts.Conflict, error) {
	var missing []string
	if in.Email == "" {
		missing = append(missing, "email")
	}
	if strings.TrimSpace(in.Record.Name) == "" {
		missing = append(missing, "name")
	}
	if len(missing) == 0 {
		return nil, nil
	}
	c := &conflicts.Conflict{
		Type:     conflicts.TypeMissingData,
		Severity: conflicts.SeverityMedium,
		Data: conflicts.Data{
			Field:   strings.Join(missing, ","),
			Context: map[string]any{"missing": missing},
		},
		Suggested: &conflicts.Suggestion{
			Action:     conflicts.ActionKeptExisting,
			Reason:     "incoming data incomplete",
			Confidence: 80,
		},
	}
	if in.Existing != nil {
		c.Data.ExistingValue = in.Existing.Name
	}
	return one(c), nil
}

// InvalidData flags a malformed email.
func InvalidData(_ context.Context, in Input) ([]*conflicts.Conflict, error) {
	if in.Email == "" || ValidEmail(in.Email) {
		return nil, nil
	}
	return one(&conflicts.Conflict{
		Type:     conflicts.TypeInvalidData,
		Severity: conflicts.SeverityHigh,
		Data: conflicts.Data{
			Field:    "email",
			NewValue: in.Record.Email,
		},
	}), nil
}

// ClassConflict flags a class assignment that differs from the stored one.
func ClassConflict(_ context.Context, in Input) ([]*conflicts.Conflict, error) {
	if in.Existing == nil || in.Existing.ClassID == "" || in.Record.ClassID == "" {
		return nil, nil
	}
	if in.Existing.ClassID == in.Record.ClassID {
		return nil, nil
	}
	return one(&conflicts.Conflict{
		Type:     conflicts.TypeClassConflict,
		Severity: conflicts.SeverityLow,
		Data: conflicts.Data{
			Field:         "class_id",
			ExistingValue: in.Existing.ClassID,
			NewValue:      in.Record.ClassID,
		},
		Suggested: &conflicts.Suggestion{
			Action:     conflicts.ActionUsedNew,
			Reason:     "prefer most recent sync",
			Confidence: 70,
		},
	}), nil
}

// PlatformMismatch flags a record fed to a run of another platform.
func PlatformMismatch(_ context.Context, in Input) ([]*conflicts.Conflict, error) {
	if in.RunPlatform == "" || in.Record.Platform == "" || in.Record.Platform == in.RunPlatform {
		return nil, nil
	}
	return one(&conflicts.Conflict{
		Type:     conflicts.TypePlatformMismatch,
		Severity: conflicts.SeverityLow,
		Data: conflicts.Data{
			Field:         "platform",
			ExistingValue: string(in.RunPlatform),
			NewValue:      string(in.Record.Platform),
		},
		Suggested: &conflicts.Suggestion{
			Action:     conflicts.ActionMerged,
			Reason:     "same person across platforms",
			Confidence: 90,
		},
	}), nil
}

func one(c *conflicts.Conflict) []*conflicts.Conflict {
	return []*conflicts.Conflict{c}
}
