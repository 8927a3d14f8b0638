// Package canonical defines the canonical per-user records that incoming
// platform data is reconciled into, and the store contract the reconciliation
// core needs from them.
package canonical

import (
	"context"
	"time"
)

// Record is one normalized incoming record produced by a platform fetcher.
type Record struct {
	Email      string         `json:"email" yaml:"email"`
	Name       string         `json:"name" yaml:"name"`
	Platform   Platform       `json:"platform" yaml:"platform"`
	PlatformID string         `json:"platform_id" yaml:"platform_id"`
	ClassID    string         `json:"class_id,omitempty" yaml:"class_id,omitempty"`
	Fields     map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// User is the canonical record for one person across platforms.
type User struct {
	ID          string              `json:"id" yaml:"id"`
	Email       string              `json:"email" yaml:"email"`
	Name        string              `json:"name" yaml:"name"`
	ClassID     string              `json:"class_id,omitempty" yaml:"class_id,omitempty"`
	PlatformIDs map[Platform]string `json:"platform_ids,omitempty" yaml:"platform_ids,omitempty"`
	CreatedAt   time.Time           `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at" yaml:"updated_at"`
}

// PlatformID returns the user's identifier on platform p, if any.
func (u *User) PlatformID(p Platform) string {
	if u == nil || u.PlatformIDs == nil {
		return ""
	}
	return u.PlatformIDs[p]
}

// Outcome describes what applying a record did to the canonical store.
type Outcome int

const (
	// Unchanged means the record matched the stored user.
	Unchanged Outcome = iota
	// Added means a new canonical user was created.
	Added
	// Updated means an existing canonical user was modified.
	Updated
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Added:
		return "added"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Store is the canonical user store as seen by the reconciliation core.
type Store interface {
	// CountByEmail returns how many canonical users share the email.
	CountByEmail(ctx context.Context, email string) (int, error)

	// FindByEmail returns the oldest canonical user with the email, or nil.
	FindByEmail(ctx context.Context, email string) (*User, error)

	// Apply writes the record into the canonical store, creating the user when
	// no user has the email and updating it otherwise. New users get their id
	// from newID; nil means a random UUID.
	Apply(ctx context.Context, rec Record, now time.Time, newID func() string) (*User, Outcome, error)
}
