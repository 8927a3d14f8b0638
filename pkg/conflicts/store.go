package conflicts

import (
	"context"
	"time"
)

// Filter selects conflicts. Zero fields match everything. Results are
// ordered by DetectedAt, newest first.
type Filter struct {
	Status         Status
	Severity       Severity
	Type           Type
	Email          string
	SyncRunID      string
	DetectedAfter  time.Time
	DetectedBefore time.Time
	Limit          int
	Offset         int
}

// GroupCount is the number of conflicts sharing a status, severity and type.
type GroupCount struct {
	Status   Status
	Severity Severity
	Type     Type
	Count    int
}

// Store persists conflicts. Conflicts are append-only apart from the single
// pending-to-terminal transition, which stores apply as a compare-and-set on
// the pending status.
type Store interface {
	CreateConflict(ctx context.Context, c *Conflict) error
	GetConflict(ctx context.Context, id string) (*Conflict, error)
	ListConflicts(ctx context.Context, f Filter) ([]*Conflict, error)

	// ResolveConflict writes status and resolution if the conflict is still
	// pending. It reports false when the conflict had already left pending.
	ResolveConflict(ctx context.Context, id string, status Status, res Resolution) (bool, error)

	// ResolveConflicts applies ResolveConflict to every pending conflict
	// among ids in one operation and returns how many were modified.
	ResolveConflicts(ctx context.Context, ids []string, status Status, res Resolution) (int, error)

	// CountConflicts groups the conflicts matching f by status, severity and
	// type. Limit and Offset are ignored.
	CountConflicts(ctx context.Context, f Filter) ([]GroupCount, error)
}
