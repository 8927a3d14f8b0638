package memory

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/conflicts"
	"github.com/agentstation/syncledger/pkg/errors"
)

func cloneConflict(c *conflicts.Conflict) *conflicts.Conflict {
	out := *c
	out.Data.Context = maps.Clone(c.Data.Context)
	if c.Suggested != nil {
		s := *c.Suggested
		out.Suggested = &s
	}
	if c.Resolution != nil {
		r := *c.Resolution
		r.AppliedChanges = maps.Clone(c.Resolution.AppliedChanges)
		out.Resolution = &r
	}
	return &out
}

// CreateConflict stores a new conflict.
func (s *Store) CreateConflict(_ context.Context, c *conflicts.Conflict) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conflicts[c.ID]; exists {
		return errors.WrapStore("insert", "conflicts", errors.ErrAlreadyExists)
	}
	s.conflicts[c.ID] = cloneConflict(c)
	return nil
}

// GetConflict returns a conflict by id.
func (s *Store) GetConflict(_ context.Context, id string) (*conflicts.Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conflicts[id]
	if !ok {
		return nil, errors.NewNotFoundError("conflict", id)
	}
	return cloneConflict(c), nil
}

// ListConflicts returns conflicts matching f, newest first.
func (s *Store) ListConflicts(_ context.Context, f conflicts.Filter) ([]*conflicts.Conflict, error) {
	s.mu.RLock()
	out := make([]*conflicts.Conflict, 0)
	for _, c := range s.conflicts {
		if matchConflict(c, f) {
			out = append(out, cloneConflict(c))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *conflicts.Conflict) int {
		if c := b.DetectedAt.Compare(a.DetectedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return page(out, f.Offset, f.Limit), nil
}

func matchConflict(c *conflicts.Conflict, f conflicts.Filter) bool {
	switch {
	case f.Status != "" && c.Status != f.Status:
		return false
	case f.Severity != "" && c.Severity != f.Severity:
		return false
	case f.Type != "" && c.Type != f.Type:
		return false
	case f.Email != "" && c.Email != canonical.NormalizeEmail(f.Email):
		return false
	case f.SyncRunID != "" && c.SyncRunID != f.SyncRunID:
		return false
	}
	return inWindow(c.DetectedAt, f.DetectedAfter, f.DetectedBefore)
}

// ResolveConflict moves a pending conflict to status.
func (s *Store) ResolveConflict(_ context.Context, id string, status conflicts.Status, res conflicts.Resolution) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conflicts[id]
	if !ok {
		return false, errors.NewNotFoundError("conflict", id)
	}
	return s.resolveLocked(c, status, res)
}

// ResolveConflicts moves every pending conflict among ids to status.
func (s *Store) ResolveConflicts(_ context.Context, ids []string, status conflicts.Status, res conflicts.Resolution) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		c, ok := s.conflicts[id]
		if !ok {
			continue
		}
		changed, err := s.resolveLocked(c, status, res)
		if err != nil {
			return n, err
		}
		if changed {
			n++
		}
	}
	return n, nil
}

func (s *Store) resolveLocked(c *conflicts.Conflict, status conflicts.Status, res conflicts.Resolution) (bool, error) {
	if c.IsTerminal() {
		return false, nil
	}
	next := cloneConflict(c)
	next.Status = status
	next.Resolution = &res
	if err := next.Validate(); err != nil {
		return false, err
	}
	s.conflicts[c.ID] = next
	return true, nil
}

// CountConflicts groups conflicts matching f by status, severity and type.
func (s *Store) CountConflicts(_ context.Context, f conflicts.Filter) ([]conflicts.GroupCount, error) {
	type group struct {
		status   conflicts.Status
		severity conflicts.Severity
		typ      conflicts.Type
	}
	s.mu.RLock()
	counts := make(map[group]int)
	for _, c := range s.conflicts {
		if matchConflict(c, f) {
			counts[group{c.Status, c.Severity, c.Type}]++
		}
	}
	s.mu.RUnlock()

	out := make([]conflicts.GroupCount, 0, len(counts))
	for g, n := range counts {
		out = append(out, conflicts.GroupCount{Status: g.status, Severity: g.severity, Type: g.typ, Count: n})
	}
	return out, nil
}
