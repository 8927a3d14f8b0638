package syncledger

import (
	"sync"

	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/conflicts"
	"github.com/agentstation/syncledger/pkg/syncrun"
)

// Hook function types for sync events
type (
	// ConflictDetectedHook is called for every conflict a sync records
	ConflictDetectedHook func(c *conflicts.Conflict)

	// RecordAppliedHook is called when a record changed the canonical store
	RecordAppliedHook func(user *canonical.User, outcome canonical.Outcome)

	// RunFinishedHook is called once a run reaches a terminal status
	RunFinishedHook func(run *syncrun.SyncRun)
)

// hooks manages event callbacks for sync runs
type hooks struct {
	mu                 sync.RWMutex
	onConflictDetected []ConflictDetectedHook
	onRecordApplied    []RecordAppliedHook
	onRunFinished      []RunFinishedHook
}

func newHooks() *hooks {
	return &hooks{}
}

// OnConflictDetected registers a callback for newly recorded conflicts.
func (l *Ledger) OnConflictDetected(fn ConflictDetectedHook) {
	l.hooks.mu.Lock()
	defer l.hooks.mu.Unlock()
	l.hooks.onConflictDetected = append(l.hooks.onConflictDetected, fn)
}

// OnRecordApplied registers a callback for records that added or updated a
// canonical user.
func (l *Ledger) OnRecordApplied(fn RecordAppliedHook) {
	l.hooks.mu.Lock()
	defer l.hooks.mu.Unlock()
	l.hooks.onRecordApplied = append(l.hooks.onRecordApplied, fn)
}

// OnRunFinished registers a callback for runs that completed, failed or were
// cancelled.
func (l *Ledger) OnRunFinished(fn RunFinishedHook) {
	l.hooks.mu.Lock()
	defer l.hooks.mu.Unlock()
	l.hooks.onRunFinished = append(l.hooks.onRunFinished, fn)
}

func (h *hooks) conflictDetected(found []*conflicts.Conflict) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range found {
		for _, hook := range h.onConflictDetected {
			hook(c)
		}
	}
}

func (h *hooks) recordApplied(user *canonical.User, outcome canonical.Outcome) {
	if outcome == canonical.Unchanged {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, hook := range h.onRecordApplied {
		hook(user, outcome)
	}
}

func (h *hooks) runFinished(run *syncrun.SyncRun) {
	if run == nil || !run.IsTerminal() {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, hook := range h.onRunFinished {
		hook(run)
	}
}
