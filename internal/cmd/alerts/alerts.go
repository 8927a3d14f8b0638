// Package alerts turns report counters and run outcomes into short status
// notices printed beside command output.
package alerts

import (
	"fmt"
	"io"
	"strings"

	"github.com/agentstation/syncledger/pkg/report"
	"github.com/agentstation/syncledger/pkg/syncrun"
)

// Alert is one status notice.
type Alert struct {
	Level   Level
	Message string
	Details []string
}

// New creates a new alert with the given level and message.
func New(level Level, message string) *Alert {
	return &Alert{Level: level, Message: message}
}

// WithDetails adds context lines to the alert.
func (a *Alert) WithDetails(details ...string) *Alert {
	a.Details = append(a.Details, details...)
	return a
}

// String renders the alert on one line.
func (a *Alert) String() string {
	s := a.Level.Icon() + " " + a.Message
	if len(a.Details) > 0 {
		s += " (" + strings.Join(a.Details, "; ") + ")"
	}
	return s
}

// FromDashboard returns the notices an operator should act on, most severe
// first. A healthy dashboard yields none.
func FromDashboard(d *report.Dashboard) []*Alert {
	if d == nil {
		return nil
	}
	var out []*Alert
	if n := d.Alerts.CriticalPending; n > 0 {
		out = append(out, New(LevelError, plural(n, "critical conflict")+" pending review"))
	}
	if n := d.Alerts.FailedRuns; n > 0 {
		out = append(out, New(LevelError, plural(n, "sync run")+" failed").
			WithDetails(fmt.Sprintf("success rate %.1f%%", d.Runs.Rate)))
	}
	if n := d.Alerts.StalePending; n > 0 {
		out = append(out, New(LevelWarning, plural(n, "conflict")+" pending past the stale threshold"))
	}
	return out
}

// FromRun reports a run that did not complete.
func FromRun(r *syncrun.SyncRun) *Alert {
	if r == nil {
		return nil
	}
	switch r.Status {
	case syncrun.StatusFailed:
		a := New(LevelError, fmt.Sprintf("%s sync %s failed", r.Type, r.ID))
		if n := len(r.ErrorLog); n > 0 {
			a.WithDetails(r.ErrorLog[n-1].Message)
		}
		return a
	case syncrun.StatusCancelled:
		a := New(LevelWarning, fmt.Sprintf("%s sync %s cancelled", r.Type, r.ID))
		if r.CancelReason != "" {
			a.WithDetails(r.CancelReason)
		}
		return a
	case syncrun.StatusCompleted:
		if r.Stats.Conflicts > 0 {
			return New(LevelInfo, fmt.Sprintf("%s sync %s recorded %s", r.Type, r.ID, plural(r.Stats.Conflicts, "conflict")))
		}
	}
	return nil
}

// Write prints each alert on its own line.
func Write(w io.Writer, alerts ...*Alert) error {
	for _, a := range alerts {
		if a == nil {
			continue
		}
		if _, err := fmt.Fprintln(w, a.String()); err != nil {
			return err
		}
	}
	return nil
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
