package table

import (
	"slices"
	"strconv"

	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/snapshots"
)

// BatchResultToTableData summarizes a snapshot batch build.
func BatchResultToTableData(r snapshots.BatchResult) Data {
	data := KeyValue(
		[2]string{"Created", FormatNumber(r.Created)},
		[2]string{"Updated", FormatNumber(r.Updated)},
		[2]string{"Errors", FormatNumber(r.Errors)},
	)
	for _, f := range r.Failures {
		data.Rows = append(data.Rows, []string{"Failed " + f.UserID, f.Error})
	}
	return data
}

// MonthlyResultToTableData lists a monthly build per platform.
func MonthlyResultToTableData(r snapshots.MonthlyResult) Data {
	platforms := make([]canonical.Platform, 0, len(r.Platforms))
	for p := range r.Platforms {
		platforms = append(platforms, p)
	}
	slices.Sort(platforms)

	rows := make([][]string, 0, len(platforms)+1)
	for _, p := range platforms {
		pr := r.Platforms[p]
		rows = append(rows, []string{
			string(p), FormatNumber(pr.Created), FormatNumber(pr.Updated), FormatNumber(pr.Errors),
		})
	}
	rows = append(rows, []string{
		"total", FormatNumber(r.Created), FormatNumber(r.Updated), FormatNumber(r.Errors),
	})
	return Data{
		Headers:         []string{"Platform", "Created", "Updated", "Errors"},
		Rows:            rows,
		ColumnAlignment: []Align{AlignLeft, AlignRight, AlignRight, AlignRight},
	}
}

// RetentionToTableData converts cohort retention milestones.
func RetentionToTableData(points []snapshots.Retention) Data {
	rows := make([][]string, 0, len(points))
	for _, p := range points {
		rows = append(rows, []string{
			"+" + strconv.Itoa(p.Offset),
			FormatMonth(p.Month),
			FormatNumber(p.Total),
			FormatNumber(p.Active),
			FormatPercent(p.Rate),
		})
	}
	return Data{
		Headers:         []string{"Offset", "Month", "Cohort", "Active", "Retention"},
		Rows:            rows,
		ColumnAlignment: []Align{AlignRight, AlignLeft, AlignRight, AlignRight, AlignRight},
	}
}

// SnapshotsToTableData converts snapshots to table format.
func SnapshotsToTableData(list []*snapshots.Snapshot) Data {
	rows := make([][]string, 0, len(list))
	for _, s := range list {
		progress := "-"
		if s.Progress != nil {
			progress = FormatPercent(s.Progress.Percentage)
		}
		rows = append(rows, []string{
			FormatMonth(s.Month),
			string(s.Platform),
			s.UserID,
			strconv.FormatBool(s.WasActive),
			strconv.Itoa(s.LoginCount),
			strconv.Itoa(s.ActivityCount),
			strconv.Itoa(s.EngagementScore),
			progress,
		})
	}
	return Data{
		Headers: []string{"Month", "Platform", "User", "Active", "Logins", "Activities", "Score", "Progress"},
		Rows:    rows,
	}
}
