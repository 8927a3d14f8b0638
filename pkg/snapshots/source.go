package snapshots

import (
	"context"
	"slices"
	"time"

	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/errors"
)

// StaticSource is an ActivitySource over facts known up front, for example
// an activity export loaded from a file. It serves the same facts for every
// month.
type StaticSource struct {
	facts map[canonical.Platform]map[string]Facts
}

// NewStaticSource indexes facts by platform and user. A later entry for the
// same user and platform replaces an earlier one.
func NewStaticSource(byPlatform map[canonical.Platform][]Facts) (*StaticSource, error) {
	s := &StaticSource{facts: make(map[canonical.Platform]map[string]Facts, len(byPlatform))}
	for p, list := range byPlatform {
		if !p.IsValid() {
			return nil, errors.NewValidationError("platform", p, "unknown platform")
		}
		users := make(map[string]Facts, len(list))
		for _, f := range list {
			if f.UserID == "" {
				return nil, errors.NewValidationError("user_id", f.UserID, "is required")
			}
			users[f.UserID] = f
		}
		s.facts[p] = users
	}
	return s, nil
}

// ActiveUsers returns the users with facts on platform, sorted.
func (s *StaticSource) ActiveUsers(_ context.Context, platform canonical.Platform, _ time.Time) ([]string, error) {
	users := make([]string, 0, len(s.facts[platform]))
	for id := range s.facts[platform] {
		users = append(users, id)
	}
	slices.Sort(users)
	return users, nil
}

// Facts returns one user's facts on platform.
func (s *StaticSource) Facts(_ context.Context, userID string, platform canonical.Platform, _ time.Time) (Facts, error) {
	f, ok := s.facts[platform][userID]
	if !ok {
		return Facts{}, errors.NewNotFoundError("activity", string(platform)+"/"+userID)
	}
	return f, nil
}

var _ ActivitySource = (*StaticSource)(nil)
