// Package memory is a concurrent safe, process-local implementation of every
// syncledger store. It backs tests and the memory:// DSN.
package memory

import (
	"sync"

	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/conflicts"
	"github.com/agentstation/syncledger/pkg/snapshots"
	"github.com/agentstation/syncledger/pkg/syncrun"
)

// Store holds runs, conflicts, snapshots and canonical users in maps guarded
// by a single lock. Values are copied on the way in and out.
type Store struct {
	mu        sync.RWMutex
	runs      map[string]*syncrun.SyncRun
	conflicts map[string]*conflicts.Conflict
	snapshots map[snapshots.Key]*snapshots.Snapshot
	users     map[string]*canonical.User
	userOrder []string
}

var (
	_ syncrun.Store   = (*Store)(nil)
	_ conflicts.Store = (*Store)(nil)
	_ snapshots.Store = (*Store)(nil)
	_ canonical.Store = (*Store)(nil)
)

// New creates an empty Store.
func New() *Store {
	return &Store{
		runs:      make(map[string]*syncrun.SyncRun),
		conflicts: make(map[string]*conflicts.Conflict),
		snapshots: make(map[snapshots.Key]*snapshots.Snapshot),
		users:     make(map[string]*canonical.User),
	}
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
