package table

import (
	"fmt"
	"strconv"

	"github.com/agentstation/syncledger/pkg/syncrun"
)

// RunsToTableData converts sync runs to table format.
func RunsToTableData(runs []*syncrun.SyncRun) Data {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			string(r.Type),
			string(r.Status),
			FormatTime(r.StartedAt),
			FormatNumber(r.Stats.Total),
			FormatNumber(r.Stats.Added),
			FormatNumber(r.Stats.Updated),
			FormatNumber(r.Stats.Conflicts),
			FormatNumber(r.Stats.Errors),
			formatRate(r.Metrics),
		})
	}
	return Data{
		Headers: []string{"ID", "Type", "Status", "Started", "Total", "Added", "Updated", "Conflicts", "Errors", "Rec/s"},
		Rows:    rows,
		ColumnAlignment: []Align{
			AlignLeft, AlignLeft, AlignLeft, AlignLeft,
			AlignRight, AlignRight, AlignRight, AlignRight, AlignRight, AlignRight,
		},
	}
}

// RunToTableData converts one sync run to a property table.
func RunToTableData(r *syncrun.SyncRun) Data {
	pairs := [][2]string{
		{"ID", r.ID},
		{"Type", string(r.Type)},
		{"Status", string(r.Status)},
		{"Triggered By", triggerString(r.TriggeredBy)},
		{"Started", FormatTime(r.StartedAt)},
	}
	if r.CompletedAt != nil {
		pairs = append(pairs, [2]string{"Completed", FormatTime(*r.CompletedAt)})
	}
	pairs = append(pairs,
		[2]string{"Total", FormatNumber(r.Stats.Total)},
		[2]string{"Added", FormatNumber(r.Stats.Added)},
		[2]string{"Updated", FormatNumber(r.Stats.Updated)},
		[2]string{"Conflicts", FormatNumber(r.Stats.Conflicts)},
		[2]string{"Errors", FormatNumber(r.Stats.Errors)},
	)
	if m := r.Metrics; m != nil {
		pairs = append(pairs,
			[2]string{"Duration", fmt.Sprintf("%.2fs", m.DurationSeconds)},
			[2]string{"Records/s", formatRate(m)},
			[2]string{"Avg ms/record", fmt.Sprintf("%.2f", m.AvgMsPerRecord)},
		)
	}
	if r.CancelReason != "" {
		pairs = append(pairs, [2]string{"Cancel Reason", r.CancelReason})
	}
	for i, e := range r.ErrorLog {
		pairs = append(pairs, [2]string{"Error " + strconv.Itoa(i+1), e.Message})
	}
	return KeyValue(pairs...)
}

func triggerString(t syncrun.Trigger) string {
	if t.ActorID == "" {
		return string(t.Kind)
	}
	return string(t.Kind) + " (" + t.ActorID + ")"
}

func formatRate(m *syncrun.Metrics) string {
	if m == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", m.RecordsPerSecond)
}
