// Package report aggregates sync runs, conflicts and snapshots for
// dashboards and alerts. Every query is bounded by a time window and returns
// zero values when nothing falls inside it.
package report

import (
	"context"
	"time"

	"github.com/agentstation/utc"

	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/conflicts"
	"github.com/agentstation/syncledger/pkg/constants"
	"github.com/agentstation/syncledger/pkg/errors"
	"github.com/agentstation/syncledger/pkg/snapshots"
	"github.com/agentstation/syncledger/pkg/syncrun"
)

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// LastDays returns the window covering the n days before now.
func LastDays(now time.Time, n int) Window {
	if n <= 0 {
		n = constants.DefaultReportDays
	}
	return Window{Start: now.AddDate(0, 0, -n), End: now}
}

// Validate checks that the window is bounded and ordered.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return errors.NewValidationError("window", w, "start and end are required")
	}
	if w.End.Before(w.Start) {
		return errors.NewValidationError("window", w, "end is before start")
	}
	return nil
}

// Aggregator answers read-only report queries.
type Aggregator struct {
	runs      syncrun.Store
	conflicts conflicts.Store
	snapshots snapshots.Store
	now       func() time.Time
	staleDays int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock sets the clock used for relative windows.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithStaleDays sets the age at which a pending conflict raises an alert.
func WithStaleDays(days int) Option {
	return func(a *Aggregator) {
		if days > 0 {
			a.staleDays = days
		}
	}
}

// New creates an Aggregator over the three stores.
func New(runs syncrun.Store, conflictStore conflicts.Store, snapshotStore snapshots.Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		runs:      runs,
		conflicts: conflictStore,
		snapshots: snapshotStore,
		now:       func() time.Time { return utc.Now().Time },
		staleDays: constants.DefaultStaleConflictDays,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) runsIn(ctx context.Context, w Window) ([]*syncrun.SyncRun, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return a.runs.ListRuns(ctx, syncrun.Filter{StartedAfter: w.Start, StartedBefore: w.End})
}

// SuccessRate counts runs started in a window by outcome.
type SuccessRate struct {
	Total     int     `json:"total" yaml:"total"`
	Completed int     `json:"completed" yaml:"completed"`
	Failed    int     `json:"failed" yaml:"failed"`
	Cancelled int     `json:"cancelled" yaml:"cancelled"`
	Active    int     `json:"active" yaml:"active"`
	Rate      float64 `json:"rate" yaml:"rate"`
}

// SuccessRate returns the share of runs started in w that completed.
func (a *Aggregator) SuccessRate(ctx context.Context, w Window) (SuccessRate, error) {
	runs, err := a.runsIn(ctx, w)
	if err != nil {
		return SuccessRate{}, err
	}
	var out SuccessRate
	for _, r := range runs {
		out.Total++
		switch r.Status {
		case syncrun.StatusCompleted:
			out.Completed++
		case syncrun.StatusFailed:
			out.Failed++
		case syncrun.StatusCancelled:
			out.Cancelled++
		default:
			out.Active++
		}
	}
	out.Rate = snapshots.Rate(out.Completed, out.Total)
	return out, nil
}

// TypeThroughput is the throughput of one run type.
type TypeThroughput struct {
	Runs                int     `json:"runs" yaml:"runs"`
	Records             int     `json:"records" yaml:"records"`
	AvgRecordsPerSecond float64 `json:"avg_records_per_second" yaml:"avg_records_per_second"`
	AvgDurationSeconds  float64 `json:"avg_duration_seconds" yaml:"avg_duration_seconds"`
}

// Throughput is the throughput of completed runs in a window.
type Throughput struct {
	TypeThroughput `yaml:",inline"`
	ByType         map[syncrun.Type]TypeThroughput `json:"by_type" yaml:"by_type"`
}

type throughputAcc struct {
	runs     int
	records  int
	rps      float64
	duration float64
}

func (t *throughputAcc) result() TypeThroughput {
	out := TypeThroughput{Runs: t.runs, Records: t.records}
	if t.runs > 0 {
		out.AvgRecordsPerSecond = t.rps / float64(t.runs)
		out.AvgDurationSeconds = t.duration / float64(t.runs)
	}
	return out
}

func (t *throughputAcc) add(r *syncrun.SyncRun) {
	t.runs++
	t.records += r.Stats.Total
	t.rps += r.Metrics.RecordsPerSecond
	t.duration += r.Metrics.DurationSeconds
}

// Throughput averages the metrics of runs started in w that completed.
func (a *Aggregator) Throughput(ctx context.Context, w Window) (Throughput, error) {
	runs, err := a.runsIn(ctx, w)
	if err != nil {
		return Throughput{}, err
	}
	var total throughputAcc
	byType := make(map[syncrun.Type]*throughputAcc)
	for _, r := range runs {
		if r.Status != syncrun.StatusCompleted || r.Metrics == nil {
			continue
		}
		total.add(r)
		acc, ok := byType[r.Type]
		if !ok {
			acc = &throughputAcc{}
			byType[r.Type] = acc
		}
		acc.add(r)
	}

	out := Throughput{
		TypeThroughput: total.result(),
		ByType:         make(map[syncrun.Type]TypeThroughput, len(byType)),
	}
	for typ, acc := range byType {
		out.ByType[typ] = acc.result()
	}
	return out, nil
}

// Bucket is a conflict count with its pending share.
type Bucket struct {
	Total   int `json:"total" yaml:"total"`
	Pending int `json:"pending" yaml:"pending"`
}

// ConflictSummary groups conflicts detected in a window.
type ConflictSummary struct {
	Total      int                           `json:"total" yaml:"total"`
	Pending    int                           `json:"pending" yaml:"pending"`
	ByStatus   map[conflicts.Status]int      `json:"by_status" yaml:"by_status"`
	BySeverity map[conflicts.Severity]Bucket `json:"by_severity" yaml:"by_severity"`
	ByType     map[conflicts.Type]Bucket     `json:"by_type" yaml:"by_type"`
}

// ConflictSummary counts conflicts detected in w by severity and by type,
// each with its pending sub-count.
func (a *Aggregator) ConflictSummary(ctx context.Context, w Window) (ConflictSummary, error) {
	if err := w.Validate(); err != nil {
		return ConflictSummary{}, err
	}
	groups, err := a.conflicts.CountConflicts(ctx, conflicts.Filter{DetectedAfter: w.Start, DetectedBefore: w.End})
	if err != nil {
		return ConflictSummary{}, err
	}

	tally := conflicts.Tally(groups)
	out := ConflictSummary{
		Total:      tally.Total,
		Pending:    tally.ByStatus[conflicts.StatusPending],
		ByStatus:   tally.ByStatus,
		BySeverity: make(map[conflicts.Severity]Bucket),
		ByType:     make(map[conflicts.Type]Bucket),
	}
	for _, sev := range conflicts.Severities() {
		out.BySeverity[sev] = Bucket{}
	}
	for _, typ := range conflicts.Types() {
		out.ByType[typ] = Bucket{}
	}
	for _, g := range groups {
		sev, typ := out.BySeverity[g.Severity], out.ByType[g.Type]
		sev.Total += g.Count
		typ.Total += g.Count
		if g.Status == conflicts.StatusPending {
			sev.Pending += g.Count
			typ.Pending += g.Count
		}
		out.BySeverity[g.Severity], out.ByType[g.Type] = sev, typ
	}
	return out, nil
}

// Engagement returns one aggregate per month in [from, to] for platform.
// Months without snapshots are present with zero values.
func (a *Aggregator) Engagement(ctx context.Context, platform canonical.Platform, from, to time.Time) ([]snapshots.MonthAggregate, error) {
	if !platform.IsValid() {
		return nil, errors.NewValidationError("platform", platform, "unknown platform")
	}
	from, to = snapshots.NormalizeMonth(from), snapshots.NormalizeMonth(to)
	if to.Before(from) {
		return nil, errors.NewValidationError("to", to, "is before from")
	}
	rows, err := a.snapshots.AggregateMonths(ctx, platform, from, to)
	if err != nil {
		return nil, err
	}
	byMonth := make(map[time.Time]snapshots.MonthAggregate, len(rows))
	for _, r := range rows {
		byMonth[snapshots.NormalizeMonth(r.Month)] = r
	}

	var out []snapshots.MonthAggregate
	for m := from; !m.After(to); m = m.AddDate(0, 1, 0) {
		agg, ok := byMonth[m]
		if !ok {
			agg = snapshots.MonthAggregate{Month: m}
		}
		agg.Month = m
		out = append(out, agg)
	}
	return out, nil
}

// Alerts are the counters a dashboard highlights.
type Alerts struct {
	CriticalPending int `json:"critical_pending" yaml:"critical_pending"`
	StalePending    int `json:"stale_pending" yaml:"stale_pending"`
	FailedRuns      int `json:"failed_runs" yaml:"failed_runs"`
}

// Dashboard combines every report over the last N days.
type Dashboard struct {
	Window     Window                                            `json:"window" yaml:"window"`
	Runs       SuccessRate                                       `json:"runs" yaml:"runs"`
	Throughput Throughput                                        `json:"throughput" yaml:"throughput"`
	Conflicts  ConflictSummary                                   `json:"conflicts" yaml:"conflicts"`
	Engagement map[canonical.Platform][]snapshots.MonthAggregate `json:"engagement" yaml:"engagement"`
	Alerts     Alerts                                            `json:"alerts" yaml:"alerts"`
}

// Dashboard builds every report for the last days days.
func (a *Aggregator) Dashboard(ctx context.Context, days int) (*Dashboard, error) {
	now := a.now()
	w := LastDays(now, days)
	d := &Dashboard{Window: w, Engagement: make(map[canonical.Platform][]snapshots.MonthAggregate)}

	var err error
	if d.Runs, err = a.SuccessRate(ctx, w); err != nil {
		return nil, err
	}
	if d.Throughput, err = a.Throughput(ctx, w); err != nil {
		return nil, err
	}
	if d.Conflicts, err = a.ConflictSummary(ctx, w); err != nil {
		return nil, err
	}
	for _, p := range canonical.Platforms() {
		if d.Engagement[p], err = a.Engagement(ctx, p, w.Start, w.End); err != nil {
			return nil, err
		}
	}

	critical, err := a.countConflicts(ctx, conflicts.Filter{Status: conflicts.StatusPending, Severity: conflicts.SeverityCritical})
	if err != nil {
		return nil, err
	}
	stale, err := a.countConflicts(ctx, conflicts.Filter{
		Status:         conflicts.StatusPending,
		DetectedBefore: now.AddDate(0, 0, -a.staleDays),
	})
	if err != nil {
		return nil, err
	}
	d.Alerts = Alerts{CriticalPending: critical, StalePending: stale, FailedRuns: d.Runs.Failed}
	return d, nil
}

func (a *Aggregator) countConflicts(ctx context.Context, f conflicts.Filter) (int, error) {
	groups, err := a.conflicts.CountConflicts(ctx, f)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, g := range groups {
		n += g.Count
	}
	return n, nil
}
