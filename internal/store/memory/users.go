package memory

import (
	"context"
	"maps"
	"time"

	"github.com/agentstation/syncledger/pkg/canonical"
)

func cloneUser(u *canonical.User) *canonical.User {
	out := *u
	out.PlatformIDs = maps.Clone(u.PlatformIDs)
	return &out
}

// CountByEmail returns how many users share email.
func (s *Store) CountByEmail(_ context.Context, email string) (int, error) {
	email = canonical.NormalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, u := range s.users {
		if u.Email == email {
			n++
		}
	}
	return n, nil
}

// FindByEmail returns the oldest user with email, or nil.
func (s *Store) FindByEmail(_ context.Context, email string) (*canonical.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u := s.findLocked(canonical.NormalizeEmail(email)); u != nil {
		return cloneUser(u), nil
	}
	return nil, nil
}

func (s *Store) findLocked(email string) *canonical.User {
	for _, id := range s.userOrder {
		if u := s.users[id]; u.Email == email {
			return u
		}
	}
	return nil
}

// Apply creates or updates the user with rec's email.
func (s *Store) Apply(_ context.Context, rec canonical.Record, now time.Time, newID func() string) (*canonical.User, canonical.Outcome, error) {
	if err := rec.Validate(); err != nil {
		return nil, canonical.Unchanged, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.findLocked(canonical.NormalizeEmail(rec.Email))
	if u == nil {
		u = canonical.NewUser(rec, now, newID)
		s.insertLocked(u)
		return cloneUser(u), canonical.Added, nil
	}
	if canonical.Merge(u, rec, now) {
		return cloneUser(u), canonical.Updated, nil
	}
	return cloneUser(u), canonical.Unchanged, nil
}

// AddUsers inserts users as-is, including ones sharing an email. It seeds
// legacy data that predates reconciliation.
func (s *Store) AddUsers(_ context.Context, users ...*canonical.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range users {
		s.insertLocked(cloneUser(u))
	}
	return nil
}

func (s *Store) insertLocked(u *canonical.User) {
	if _, exists := s.users[u.ID]; !exists {
		s.userOrder = append(s.userOrder, u.ID)
	}
	s.users[u.ID] = u
}
