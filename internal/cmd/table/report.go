package table

import (
	"fmt"
	"slices"

	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/report"
	"github.com/agentstation/syncledger/pkg/syncrun"
)

// DashboardToTableData flattens a dashboard into one Section/Metric/Value table.
func DashboardToTableData(d *report.Dashboard) Data {
	var rows [][]string
	add := func(section, metric, value string) {
		rows = append(rows, []string{section, metric, value})
	}

	add("window", "from", FormatTime(d.Window.Start))
	add("window", "to", FormatTime(d.Window.End))

	add("runs", "total", FormatNumber(d.Runs.Total))
	add("runs", "completed", FormatNumber(d.Runs.Completed))
	add("runs", "failed", FormatNumber(d.Runs.Failed))
	add("runs", "cancelled", FormatNumber(d.Runs.Cancelled))
	add("runs", "active", FormatNumber(d.Runs.Active))
	add("runs", "success rate", FormatPercent(d.Runs.Rate))

	add("throughput", "records", FormatNumber(d.Throughput.Records))
	add("throughput", "avg rec/s", fmt.Sprintf("%.1f", d.Throughput.AvgRecordsPerSecond))
	types := make([]syncrun.Type, 0, len(d.Throughput.ByType))
	for t := range d.Throughput.ByType {
		types = append(types, t)
	}
	slices.Sort(types)
	for _, t := range types {
		tt := d.Throughput.ByType[t]
		add("throughput", string(t), fmt.Sprintf("%d runs, %.1f rec/s", tt.Runs, tt.AvgRecordsPerSecond))
	}

	add("conflicts", "total", FormatNumber(d.Conflicts.Total))
	add("conflicts", "pending", FormatNumber(d.Conflicts.Pending))
	for sev, b := range sortedBuckets(d.Conflicts.BySeverity) {
		add("conflicts", sev, fmt.Sprintf("%d (%d pending)", b.Total, b.Pending))
	}

	platforms := make([]canonical.Platform, 0, len(d.Engagement))
	for p := range d.Engagement {
		platforms = append(platforms, p)
	}
	slices.Sort(platforms)
	for _, p := range platforms {
		for _, m := range d.Engagement[p] {
			add("engagement", string(p)+" "+FormatMonth(m.Month),
				fmt.Sprintf("%d/%d active, avg score %.1f", m.ActiveUsers, m.Users, m.AvgEngagement))
		}
	}

	add("alerts", "critical pending", FormatNumber(d.Alerts.CriticalPending))
	add("alerts", "stale pending", FormatNumber(d.Alerts.StalePending))
	add("alerts", "failed runs", FormatNumber(d.Alerts.FailedRuns))

	return Data{
		Headers:         []string{"Section", "Metric", "Value"},
		Rows:            rows,
		ColumnAlignment: []Align{AlignLeft, AlignLeft, AlignRight},
	}
}

// sortedBuckets yields map entries ordered by key.
func sortedBuckets[K ~string](m map[K]report.Bucket) func(yield func(string, report.Bucket) bool) {
	return func(yield func(string, report.Bucket) bool) {
		keys := make([]K, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			if !yield(string(k), m[k]) {
				return
			}
		}
	}
}
