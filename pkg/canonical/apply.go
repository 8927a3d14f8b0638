package canonical

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentstation/syncledger/pkg/errors"
)

// NormalizeEmail lower-cases and trims an email for identity comparisons.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate checks the fields the canonical store cannot do without.
func (r Record) Validate() error {
	if NormalizeEmail(r.Email) == "" {
		return errors.NewValidationError("email", r.Email, "is required to apply a record")
	}
	if r.Platform != "" && !r.Platform.IsValid() {
		return errors.NewValidationError("platform", r.Platform, "unknown platform")
	}
	return nil
}

// NewUser builds a canonical user from its first record. The id comes from
// newID, or is a random UUID when newID is nil.
func NewUser(rec Record, now time.Time, newID func() string) *User {
	if newID == nil {
		newID = uuid.NewString
	}
	u := &User{
		ID:          newID(),
		Email:       NormalizeEmail(rec.Email),
		Name:        strings.TrimSpace(rec.Name),
		ClassID:     rec.ClassID,
		PlatformIDs: make(map[Platform]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if rec.Platform != "" && rec.PlatformID != "" {
		u.PlatformIDs[rec.Platform] = rec.PlatformID
	}
	return u
}

// Merge copies the non-empty fields of rec onto u and reports whether
// anything changed. Empty incoming values never erase stored ones.
func Merge(u *User, rec Record, now time.Time) bool {
	changed := false
	if name := strings.TrimSpace(rec.Name); name != "" && name != u.Name {
		u.Name = name
		changed = true
	}
	if rec.ClassID != "" && rec.ClassID != u.ClassID {
		u.ClassID = rec.ClassID
		changed = true
	}
	if rec.Platform != "" && rec.PlatformID != "" && u.PlatformID(rec.Platform) != rec.PlatformID {
		if u.PlatformIDs == nil {
			u.PlatformIDs = make(map[Platform]string)
		}
		u.PlatformIDs[rec.Platform] = rec.PlatformID
		changed = true
	}
	if changed {
		u.UpdatedAt = now
	}
	return changed
}
